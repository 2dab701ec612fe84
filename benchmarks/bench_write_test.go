//go:build unix

package benchmarks

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/cockroachdb/pebble"
	mdbxgo "github.com/erigontech/mdbx-go/mdbx"
	bolt "go.etcd.io/bbolt"

	"github.com/Giulio2002/mvkv"
)

var writeSizes = []int{10_000, 100_000}

// putsPerTxn bounds the puts of one write transaction in the update
// benchmarks, so that b.N does not grow a single transaction without limit.
const putsPerTxn = 1000

// BenchmarkWriteOps measures overwrites of existing keys in sequential and
// random order.
func BenchmarkWriteOps(b *testing.B) {
	for _, size := range writeSizes {
		for _, random := range []bool{false, true} {
			order := "Seq"
			if random {
				order = "Rand"
			}
			b.Run(fmt.Sprintf("%sPut_%d/mvkv", order, size), func(b *testing.B) { benchPutMvkv(b, size, random) })
			b.Run(fmt.Sprintf("%sPut_%d/mdbx", order, size), func(b *testing.B) { benchPutMdbx(b, size, random) })
			b.Run(fmt.Sprintf("%sPut_%d/lmdb", order, size), func(b *testing.B) { benchPutLmdb(b, size, random) })
			b.Run(fmt.Sprintf("%sPut_%d/bolt", order, size), func(b *testing.B) { benchPutBolt(b, size, random) })
			b.Run(fmt.Sprintf("%sPut_%d/pebble", order, size), func(b *testing.B) { benchPutPebble(b, size, random) })
		}
	}
}

func keyIndexes(size int, random bool) []int {
	if random {
		return randomOrder(size)
	}
	idx := make([]int, size)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func benchPutMvkv(b *testing.B, size int, random bool) {
	env, dbi := getMvkv(b, size)
	idx := keyIndexes(size, random)
	key, val := make([]byte, keySize), make([]byte, valSize)

	b.ReportAllocs()
	b.ResetTimer()
	for done := 0; done < b.N; done += putsPerTxn {
		err := env.Update(func(txn *mvkv.Txn) error {
			for i := done; i < min(done+putsPerTxn, b.N); i++ {
				encodeKV(idx[i%size], key, val)
				if err := txn.Put(dbi, key, val, 0); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func benchPutMdbx(b *testing.B, size int, random bool) {
	env, dbi := getMdbx(b, size)
	idx := keyIndexes(size, random)
	key, val := make([]byte, keySize), make([]byte, valSize)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	b.ReportAllocs()
	b.ResetTimer()
	for done := 0; done < b.N; done += putsPerTxn {
		txn, err := env.BeginTxn(nil, 0)
		if err != nil {
			b.Fatal(err)
		}
		for i := done; i < min(done+putsPerTxn, b.N); i++ {
			encodeKV(idx[i%size], key, val)
			if err := txn.Put(dbi, key, val, mdbxgo.Upsert); err != nil {
				txn.Abort()
				b.Fatal(err)
			}
		}
		if _, err := txn.Commit(); err != nil {
			b.Fatal(err)
		}
	}
}

func benchPutLmdb(b *testing.B, size int, random bool) {
	env, dbi := getLmdb(b, size)
	idx := keyIndexes(size, random)
	key, val := make([]byte, keySize), make([]byte, valSize)

	b.ReportAllocs()
	b.ResetTimer()
	for done := 0; done < b.N; done += putsPerTxn {
		err := env.Update(func(txn *lmdb.Txn) error {
			for i := done; i < min(done+putsPerTxn, b.N); i++ {
				encodeKV(idx[i%size], key, val)
				if err := txn.Put(dbi, key, val, 0); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func benchPutBolt(b *testing.B, size int, random bool) {
	db := getBolt(b, size)
	idx := keyIndexes(size, random)
	key, val := make([]byte, keySize), make([]byte, valSize)

	b.ReportAllocs()
	b.ResetTimer()
	for done := 0; done < b.N; done += putsPerTxn {
		err := db.Update(func(tx *bolt.Tx) error {
			bk := tx.Bucket(benchBucket)
			for i := done; i < min(done+putsPerTxn, b.N); i++ {
				encodeKV(idx[i%size], key, val)
				if err := bk.Put(key, val); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func benchPutPebble(b *testing.B, size int, random bool) {
	db := getPebble(b, size)
	idx := keyIndexes(size, random)
	key, val := make([]byte, keySize), make([]byte, valSize)

	b.ReportAllocs()
	b.ResetTimer()
	for done := 0; done < b.N; done += putsPerTxn {
		batch := db.NewBatch()
		for i := done; i < min(done+putsPerTxn, b.N); i++ {
			encodeKV(idx[i%size], key, val)
			if err := batch.Set(key, val, nil); err != nil {
				b.Fatal(err)
			}
		}
		if err := batch.Commit(pebble.NoSync); err != nil {
			b.Fatal(err)
		}
		batch.Close()
	}
}

// BenchmarkInsertFresh measures building a database from empty, with and
// without the Append hint.
func BenchmarkInsertFresh(b *testing.B) {
	for _, flags := range []uint{0, mvkv.Append} {
		name := "Put"
		if flags != 0 {
			name = "Append"
		}
		b.Run(name, func(b *testing.B) {
			env := openMvkv(b, b.TempDir()+"/fresh.db")
			defer env.Close()
			dbi := openMvkvDBI(b, env, mvkv.Create)
			key, val := make([]byte, keySize), make([]byte, valSize)

			b.ReportAllocs()
			b.ResetTimer()
			for done := 0; done < b.N; done += putsPerTxn {
				err := env.Update(func(txn *mvkv.Txn) error {
					for i := done; i < min(done+putsPerTxn, b.N); i++ {
						encodeKV(i, key, val)
						if err := txn.Put(dbi, key, val, flags); err != nil {
							return err
						}
					}
					return nil
				})
				if err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
