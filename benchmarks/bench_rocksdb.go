//go:build unix && rocksdb

package benchmarks

import (
	"fmt"
	"testing"

	"github.com/tecbot/gorocksdb"
)

var rocksDBs = make(map[string]*gorocksdb.DB)

func closeRocks() {
	for _, db := range rocksDBs {
		db.Close()
	}
	rocksDBs = make(map[string]*gorocksdb.DB)
}

// getRocks returns a populated RocksDB database.
func getRocks(b *testing.B, numKeys int) *gorocksdb.DB {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	name := fmt.Sprintf("plain_%d_rocks", numKeys)
	if db, ok := rocksDBs[name]; ok {
		return db
	}
	opts := gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.SetWriteBufferSize(64 << 20)
	opts.SetMaxWriteBufferNumber(3)
	opts.SetTargetFileSizeBase(64 << 20)
	db, err := gorocksdb.OpenDb(opts, benchPath(b, name))
	if err != nil {
		b.Fatal(err)
	}

	wo := newRocksWriteOpts()
	defer wo.Destroy()
	batch := gorocksdb.NewWriteBatch()
	defer batch.Destroy()
	key, val := make([]byte, keySize), make([]byte, valSize)
	for i := range numKeys {
		encodeKV(i, key, val)
		batch.Put(key, val)
		if (i+1)%batchSize == 0 {
			if err := db.Write(wo, batch); err != nil {
				b.Fatal(err)
			}
			batch.Clear()
		}
	}
	if batch.Count() > 0 {
		if err := db.Write(wo, batch); err != nil {
			b.Fatal(err)
		}
	}
	rocksDBs[name] = db
	return db
}

func newRocksWriteOpts() *gorocksdb.WriteOptions {
	wo := gorocksdb.NewDefaultWriteOptions()
	wo.SetSync(false)
	wo.DisableWAL(true)
	return wo
}
