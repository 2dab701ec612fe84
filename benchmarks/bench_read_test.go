//go:build unix

package benchmarks

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/bmatsuo/lmdb-go/lmdb"
	mdbxgo "github.com/erigontech/mdbx-go/mdbx"
	bolt "go.etcd.io/bbolt"

	"github.com/Giulio2002/mvkv"
	"github.com/Giulio2002/mvkv/scan"
)

var readSizes = []int{10_000, 100_000, 1_000_000}

// BenchmarkRandGet measures point lookups in random order inside one
// long read transaction.
func BenchmarkRandGet(b *testing.B) {
	for _, size := range readSizes {
		b.Run(fmt.Sprintf("%d/mvkv", size), func(b *testing.B) { benchRandGetMvkv(b, size) })
		b.Run(fmt.Sprintf("%d/mdbx", size), func(b *testing.B) { benchRandGetMdbx(b, size) })
		b.Run(fmt.Sprintf("%d/lmdb", size), func(b *testing.B) { benchRandGetLmdb(b, size) })
		b.Run(fmt.Sprintf("%d/bolt", size), func(b *testing.B) { benchRandGetBolt(b, size) })
		b.Run(fmt.Sprintf("%d/pebble", size), func(b *testing.B) { benchRandGetPebble(b, size) })
	}
}

func benchRandGetMvkv(b *testing.B, size int) {
	env, dbi := getMvkv(b, size)
	order := randomOrder(size)
	key := make([]byte, keySize)

	txn, err := env.BeginTxn(nil, mvkv.TxnReadOnly)
	if err != nil {
		b.Fatal(err)
	}
	defer txn.Abort()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		encodeKV(order[i%size], key, key)
		if _, err := txn.Get(dbi, key); err != nil {
			b.Fatal(err)
		}
	}
}

func benchRandGetMdbx(b *testing.B, size int) {
	env, dbi := getMdbx(b, size)
	order := randomOrder(size)
	key := make([]byte, keySize)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	txn, err := env.BeginTxn(nil, mdbxgo.Readonly)
	if err != nil {
		b.Fatal(err)
	}
	defer txn.Abort()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		encodeKV(order[i%size], key, key)
		if _, err := txn.Get(dbi, key); err != nil {
			b.Fatal(err)
		}
	}
}

func benchRandGetLmdb(b *testing.B, size int) {
	env, dbi := getLmdb(b, size)
	order := randomOrder(size)
	key := make([]byte, keySize)

	b.ReportAllocs()
	b.ResetTimer()
	err := env.View(func(txn *lmdb.Txn) error {
		txn.RawRead = true
		for i := 0; i < b.N; i++ {
			encodeKV(order[i%size], key, key)
			if _, err := txn.Get(dbi, key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}
}

func benchRandGetBolt(b *testing.B, size int) {
	db := getBolt(b, size)
	order := randomOrder(size)
	key := make([]byte, keySize)

	b.ReportAllocs()
	b.ResetTimer()
	err := db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(benchBucket)
		for i := 0; i < b.N; i++ {
			encodeKV(order[i%size], key, key)
			if bk.Get(key) == nil {
				return fmt.Errorf("key %x missing", key)
			}
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}
}

func benchRandGetPebble(b *testing.B, size int) {
	db := getPebble(b, size)
	order := randomOrder(size)
	key := make([]byte, keySize)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		encodeKV(order[i%size], key, key)
		_, closer, err := db.Get(key)
		if err != nil {
			b.Fatal(err)
		}
		closer.Close()
	}
}

// BenchmarkSeqRead measures cursor iteration, restarting at the first key
// once the end is reached.
func BenchmarkSeqRead(b *testing.B) {
	for _, size := range readSizes {
		b.Run(fmt.Sprintf("%d/mvkv", size), func(b *testing.B) { benchSeqReadMvkv(b, size) })
		b.Run(fmt.Sprintf("%d/mvkv-scan", size), func(b *testing.B) { benchSeqReadScan(b, size) })
		b.Run(fmt.Sprintf("%d/mdbx", size), func(b *testing.B) { benchSeqReadMdbx(b, size) })
		b.Run(fmt.Sprintf("%d/lmdb", size), func(b *testing.B) { benchSeqReadLmdb(b, size) })
		b.Run(fmt.Sprintf("%d/bolt", size), func(b *testing.B) { benchSeqReadBolt(b, size) })
		b.Run(fmt.Sprintf("%d/pebble", size), func(b *testing.B) { benchSeqReadPebble(b, size) })
	}
}

func benchSeqReadMvkv(b *testing.B, size int) {
	env, dbi := getMvkv(b, size)
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

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		op := mvkv.CursorOp(mvkv.Next)
		if i%size == 0 {
			op = mvkv.First
		}
		if _, _, err := c.Get(nil, nil, op); err != nil {
			b.Fatal(err)
		}
	}
}

func benchSeqReadScan(b *testing.B, size int) {
	env, dbi := getMvkv(b, size)
	txn, err := env.BeginTxn(nil, mvkv.TxnReadOnly)
	if err != nil {
		b.Fatal(err)
	}
	defer txn.Abort()

	b.ReportAllocs()
	b.ResetTimer()
	for n := 0; n < b.N; {
		s := scan.New(txn, dbi)
		for n < b.N && s.Scan() {
			n++
		}
		if err := s.Err(); err != nil {
			b.Fatal(err)
		}
		s.Close()
	}
}

func benchSeqReadMdbx(b *testing.B, size int) {
	env, dbi := getMdbx(b, size)
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

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var err error
		if i%size == 0 {
			_, _, err = c.Get(nil, nil, mdbxgo.First)
		} else {
			_, _, err = c.Get(nil, nil, mdbxgo.Next)
		}
		if err != nil {
			b.Fatal(err)
		}
	}
}

func benchSeqReadLmdb(b *testing.B, size int) {
	env, dbi := getLmdb(b, size)
	b.ReportAllocs()
	b.ResetTimer()
	err := env.View(func(txn *lmdb.Txn) error {
		txn.RawRead = true
		c, err := txn.OpenCursor(dbi)
		if err != nil {
			return err
		}
		defer c.Close()
		for i := 0; i < b.N; i++ {
			var err error
			if i%size == 0 {
				_, _, err = c.Get(nil, nil, lmdb.First)
			} else {
				_, _, err = c.Get(nil, nil, lmdb.Next)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}
}

func benchSeqReadBolt(b *testing.B, size int) {
	db := getBolt(b, size)
	b.ReportAllocs()
	b.ResetTimer()
	err := db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(benchBucket).Cursor()
		var k []byte
		for i := 0; i < b.N; i++ {
			if i%size == 0 {
				k, _ = c.First()
			} else {
				k, _ = c.Next()
			}
			if k == nil {
				return fmt.Errorf("cursor ended at %d", i)
			}
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}
}

func benchSeqReadPebble(b *testing.B, size int) {
	db := getPebble(b, size)
	iter, err := db.NewIter(nil)
	if err != nil {
		b.Fatal(err)
	}
	defer iter.Close()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var ok bool
		if i%size == 0 {
			ok = iter.First()
		} else {
			ok = iter.Next()
		}
		if !ok {
			b.Fatalf("iterator ended at %d", i)
		}
	}
}
