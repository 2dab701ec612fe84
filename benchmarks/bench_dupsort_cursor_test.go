//go:build unix

package benchmarks

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bmatsuo/lmdb-go/lmdb"
	mdbxgo "github.com/erigontech/mdbx-go/mdbx"

	"github.com/Giulio2002/mvkv"
)

// Duplicate-heavy layout: few keys, each with a nested duplicate tree.
const (
	dupKeys   = 200
	dupValues = 2000
	dupTable  = "dupsort"
)

func fillDup(i, j int, key, val []byte) {
	binary.BigEndian.PutUint64(key, uint64(i))
	binary.BigEndian.PutUint64(val, uint64(j))
}

var dupRuns atomic.Int64

// dupPath returns a fresh file path for every run of a benchmark.
func dupPath(b *testing.B, engine string) string {
	name := strings.ReplaceAll(b.Name(), "/", "_")
	return benchPath(b, fmt.Sprintf("dup_%s_%s_%d", engine, name, dupRuns.Add(1)))
}

func setupDupMvkv(b *testing.B, flags uint) (*mvkv.Env, mvkv.DBI) {
	env := openMvkv(b, dupPath(b, "mvkv"))
	b.Cleanup(func() { env.Close() })
	var dbi mvkv.DBI
	err := env.Update(func(txn *mvkv.Txn) (err error) {
		if dbi, err = txn.OpenDBISimple(dupTable, mvkv.Create|mvkv.DupSort|flags); err != nil {
			return err
		}
		key, val := make([]byte, 8), make([]byte, 8)
		for i := range dupKeys {
			for j := range dupValues {
				fillDup(i, j, key, val)
				if err := txn.Put(dbi, key, val, 0); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}
	return env, dbi
}

func setupDupMdbx(b *testing.B) (*mdbxgo.Env, mdbxgo.DBI) {
	env, err := mdbxgo.NewEnv(mdbxgo.Label("bench"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { env.Close() })
	env.SetOption(mdbxgo.OptMaxDB, 10)
	env.SetGeometry(-1, -1, 4<<30, -1, -1, 4096)
	if err := env.Open(dupPath(b, "mdbx"), mdbxgo.NoSubdir|mdbxgo.NoMetaSync, 0644); err != nil {
		b.Fatal(err)
	}
	var dbi mdbxgo.DBI
	err = env.Update(func(txn *mdbxgo.Txn) (err error) {
		if dbi, err = txn.OpenDBI(dupTable, mdbxgo.Create|mdbxgo.DupSort, nil, nil); err != nil {
			return err
		}
		key, val := make([]byte, 8), make([]byte, 8)
		for i := range dupKeys {
			for j := range dupValues {
				fillDup(i, j, key, val)
				if err := txn.Put(dbi, key, val, 0); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}
	return env, dbi
}

func setupDupLmdb(b *testing.B) (*lmdb.Env, lmdb.DBI) {
	env, err := lmdb.NewEnv()
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { env.Close() })
	env.SetMaxDBs(10)
	env.SetMapSize(4 << 30)
	if err := env.Open(dupPath(b, "lmdb"), lmdb.NoSubdir|lmdb.NoSync, 0644); err != nil {
		b.Fatal(err)
	}
	var dbi lmdb.DBI
	err = env.Update(func(txn *lmdb.Txn) (err error) {
		if dbi, err = txn.OpenDBI(dupTable, lmdb.Create|lmdb.DupSort); err != nil {
			return err
		}
		key, val := make([]byte, 8), make([]byte, 8)
		for i := range dupKeys {
			for j := range dupValues {
				fillDup(i, j, key, val)
				if err := txn.Put(dbi, key, val, 0); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}
	return env, dbi
}

// BenchmarkDupsortNextNoDup walks the distinct keys, skipping every
// duplicate tree.
func BenchmarkDupsortNextNoDup(b *testing.B) {
	b.Run("mvkv", func(b *testing.B) {
		env, dbi := setupDupMvkv(b, 0)
		txn, err := env.BeginTxn(nil, mvkv.TxnReadOnly)
		if err != nil {
			b.Fatal(err)
		}
		defer txn.Abort()
		c, err := txn.OpenCursor(dbi)
		if err != nil {
			b.Fatal(err)
		}
		defer c.Close()

		b.ResetTimer()
		count := 0
		for i := 0; i < b.N; i++ {
			_, _, err := c.Get(nil, nil, mvkv.First)
			for ; err == nil; _, _, err = c.Get(nil, nil, mvkv.NextNoDup) {
				count++
			}
			if !mvkv.IsNotFound(err) {
				b.Fatal(err)
			}
		}
		b.ReportMetric(float64(count)/float64(b.N), "keys/iter")
	})

	b.Run("mdbx", func(b *testing.B) {
		env, dbi := setupDupMdbx(b)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		txn, err := env.BeginTxn(nil, mdbxgo.Readonly)
		if err != nil {
			b.Fatal(err)
		}
		defer txn.Abort()
		c, err := txn.OpenCursor(dbi)
		if err != nil {
			b.Fatal(err)
		}
		defer c.Close()

		b.ResetTimer()
		count := 0
		for i := 0; i < b.N; i++ {
			_, _, err := c.Get(nil, nil, mdbxgo.First)
			for ; err == nil; _, _, err = c.Get(nil, nil, mdbxgo.NextNoDup) {
				count++
			}
			if !mdbxgo.IsNotFound(err) {
				b.Fatal(err)
			}
		}
		b.ReportMetric(float64(count)/float64(b.N), "keys/iter")
	})

	b.Run("lmdb", func(b *testing.B) {
		env, dbi := setupDupLmdb(b)
		count := 0
		b.ResetTimer()
		err := env.View(func(txn *lmdb.Txn) error {
			txn.RawRead = true
			c, err := txn.OpenCursor(dbi)
			if err != nil {
				return err
			}
			defer c.Close()
			for i := 0; i < b.N; i++ {
				_, _, err := c.Get(nil, nil, lmdb.First)
				for ; err == nil; _, _, err = c.Get(nil, nil, lmdb.NextNoDup) {
					count++
				}
				if !lmdb.IsNotFound(err) {
					return err
				}
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
		b.ReportMetric(float64(count)/float64(b.N), "keys/iter")
	})
}

// BenchmarkDupsortNextDup reads every value of one key at a time.
func BenchmarkDupsortNextDup(b *testing.B) {
	key := make([]byte, 8)

	b.Run("mvkv", func(b *testing.B) {
		env, dbi := setupDupMvkv(b, 0)
		txn, err := env.BeginTxn(nil, mvkv.TxnReadOnly)
		if err != nil {
			b.Fatal(err)
		}
		defer txn.Abort()
		c, err := txn.OpenCursor(dbi)
		if err != nil {
			b.Fatal(err)
		}
		defer c.Close()

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			binary.BigEndian.PutUint64(key, uint64(i%dupKeys))
			_, _, err := c.Get(key, nil, mvkv.Set)
			n := 0
			for ; err == nil; _, _, err = c.Get(nil, nil, mvkv.NextDup) {
				n++
			}
			if n != dupValues {
				b.Fatalf("key %d: %d values, want %d", i%dupKeys, n, dupValues)
			}
		}
		b.ReportMetric(float64(dupValues), "vals/iter")
	})

	b.Run("mdbx", func(b *testing.B) {
		env, dbi := setupDupMdbx(b)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		txn, err := env.BeginTxn(nil, mdbxgo.Readonly)
		if err != nil {
			b.Fatal(err)
		}
		defer txn.Abort()
		c, err := txn.OpenCursor(dbi)
		if err != nil {
			b.Fatal(err)
		}
		defer c.Close()

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			binary.BigEndian.PutUint64(key, uint64(i%dupKeys))
			_, _, err := c.Get(key, nil, mdbxgo.Set)
			n := 0
			for ; err == nil; _, _, err = c.Get(nil, nil, mdbxgo.NextDup) {
				n++
			}
			if n != dupValues {
				b.Fatalf("key %d: %d values, want %d", i%dupKeys, n, dupValues)
			}
		}
		b.ReportMetric(float64(dupValues), "vals/iter")
	})

	b.Run("lmdb", func(b *testing.B) {
		env, dbi := setupDupLmdb(b)
		b.ResetTimer()
		err := env.View(func(txn *lmdb.Txn) error {
			txn.RawRead = true
			c, err := txn.OpenCursor(dbi)
			if err != nil {
				return err
			}
			defer c.Close()
			for i := 0; i < b.N; i++ {
				binary.BigEndian.PutUint64(key, uint64(i%dupKeys))
				_, _, err := c.Get(key, nil, lmdb.Set)
				n := 0
				for ; err == nil; _, _, err = c.Get(nil, nil, lmdb.NextDup) {
					n++
				}
				if n != dupValues {
					b.Fatalf("key %d: %d values, want %d", i%dupKeys, n, dupValues)
				}
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
		b.ReportMetric(float64(dupValues), "vals/iter")
	})
}

// BenchmarkDupFixedMultiple reads fixed-size duplicates one value at a
// time and in page-sized batches.
func BenchmarkDupFixedMultiple(b *testing.B) {
	env, dbi := setupDupMvkv(b, mvkv.DupFixed)
	txn, err := env.BeginTxn(nil, mvkv.TxnReadOnly)
	if err != nil {
		b.Fatal(err)
	}
	defer txn.Abort()
	key := make([]byte, 8)

	b.Run("NextDup", func(b *testing.B) {
		c, err := txn.OpenCursor(dbi)
		if err != nil {
			b.Fatal(err)
		}
		defer c.Close()
		for i := 0; i < b.N; i++ {
			binary.BigEndian.PutUint64(key, uint64(i%dupKeys))
			_, _, err := c.Get(key, nil, mvkv.Set)
			for ; err == nil; _, _, err = c.Get(nil, nil, mvkv.NextDup) {
			}
		}
	})

	b.Run("NextMultiple", func(b *testing.B) {
		c, err := txn.OpenCursor(dbi)
		if err != nil {
			b.Fatal(err)
		}
		defer c.Close()
		for i := 0; i < b.N; i++ {
			binary.BigEndian.PutUint64(key, uint64(i%dupKeys))
			if _, _, err := c.Get(key, nil, mvkv.Set); err != nil {
				b.Fatal(err)
			}
			n := 0
			_, buf, err := c.Get(nil, nil, mvkv.GetMultiple)
			for ; err == nil; _, buf, err = c.Get(nil, nil, mvkv.NextMultiple) {
				n += mvkv.WrapMulti(buf, 8).Len()
			}
			if n != dupValues {
				b.Fatalf("key %d: %d values, want %d", i%dupKeys, n, dupValues)
			}
		}
	})
}
