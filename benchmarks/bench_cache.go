//go:build unix

package benchmarks

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/bmatsuo/lmdb-go/lmdb"
	"github.com/cockroachdb/pebble"
	mdbxgo "github.com/erigontech/mdbx-go/mdbx"
	bolt "go.etcd.io/bbolt"

	"github.com/Giulio2002/mvkv"
)

const (
	benchTable = "bench"
	keySize    = 8
	valSize    = 32
	batchSize  = 100_000
)

var benchBucket = []byte(benchTable)

var (
	cacheMu   sync.Mutex
	cacheDir  string
	mvkvEnvs  = make(map[string]*mvkv.Env)
	mdbxEnvs  = make(map[string]*mdbxgo.Env)
	lmdbEnvs  = make(map[string]*lmdb.Env)
	boltDBs   = make(map[string]*bolt.DB)
	pebbleDBs = make(map[string]*pebble.DB)
)

// benchPath returns a path under the per-process cache directory.
func benchPath(b *testing.B, name string) string {
	if cacheDir == "" {
		dir, err := os.MkdirTemp("", "mvkv-bench-")
		if err != nil {
			b.Fatal(err)
		}
		cacheDir = dir
	}
	return filepath.Join(cacheDir, name)
}

func encodeKV(i int, key, val []byte) {
	binary.BigEndian.PutUint64(key, uint64(i))
	binary.BigEndian.PutUint64(val, uint64(i))
}

// getMvkv returns a populated mvkv environment with numKeys plain items.
func getMvkv(b *testing.B, numKeys int) (*mvkv.Env, mvkv.DBI) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	name := fmt.Sprintf("plain_%d_mvkv", numKeys)
	if env, ok := mvkvEnvs[name]; ok {
		return env, openMvkvDBI(b, env, 0)
	}
	env := openMvkv(b, benchPath(b, name))
	dbi := openMvkvDBI(b, env, mvkv.Create)
	populateMvkv(b, env, dbi, numKeys)
	mvkvEnvs[name] = env
	return env, dbi
}

func openMvkv(b *testing.B, path string) *mvkv.Env {
	env, err := mvkv.NewEnv(mvkv.Label("bench"))
	if err != nil {
		b.Fatal(err)
	}
	env.SetMaxDBs(10)
	env.SetMapSize(4 << 30)
	if err := env.Open(path, mvkv.NoSubdir|mvkv.NoMetaSync, 0644); err != nil {
		b.Fatal(err)
	}
	return env
}

func openMvkvDBI(b *testing.B, env *mvkv.Env, flags uint) mvkv.DBI {
	var dbi mvkv.DBI
	err := env.Update(func(txn *mvkv.Txn) (err error) {
		dbi, err = txn.OpenDBISimple(benchTable, flags)
		return err
	})
	if err != nil {
		b.Fatal(err)
	}
	return dbi
}

func populateMvkv(b *testing.B, env *mvkv.Env, dbi mvkv.DBI, numKeys int) {
	key, val := make([]byte, keySize), make([]byte, valSize)
	for start := 0; start < numKeys; start += batchSize {
		err := env.Update(func(txn *mvkv.Txn) error {
			for i := start; i < min(start+batchSize, numKeys); i++ {
				encodeKV(i, key, val)
				if err := txn.Put(dbi, key, val, mvkv.Append); err != nil {
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

// getMdbx returns a populated mdbx-go environment.
func getMdbx(b *testing.B, numKeys int) (*mdbxgo.Env, mdbxgo.DBI) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	name := fmt.Sprintf("plain_%d_mdbx", numKeys)
	env, ok := mdbxEnvs[name]
	if !ok {
		var err error
		if env, err = mdbxgo.NewEnv(mdbxgo.Label("bench")); err != nil {
			b.Fatal(err)
		}
		env.SetOption(mdbxgo.OptMaxDB, 10)
		env.SetGeometry(-1, -1, 4<<30, -1, -1, 4096)
		if err := env.Open(benchPath(b, name), mdbxgo.NoSubdir|mdbxgo.NoMetaSync, 0644); err != nil {
			b.Fatal(err)
		}
	}

	txn, err := env.BeginTxn(nil, 0)
	if err != nil {
		b.Fatal(err)
	}
	dbi, err := txn.OpenDBI(benchTable, mdbxgo.Create, nil, nil)
	if err != nil {
		b.Fatal(err)
	}
	if ok {
		txn.Abort()
		return env, dbi
	}

	key, val := make([]byte, keySize), make([]byte, valSize)
	for i := range numKeys {
		encodeKV(i, key, val)
		if err := txn.Put(dbi, key, val, mdbxgo.Append); err != nil {
			b.Fatal(err)
		}
		if (i+1)%batchSize == 0 {
			if _, err := txn.Commit(); err != nil {
				b.Fatal(err)
			}
			if txn, err = env.BeginTxn(nil, 0); err != nil {
				b.Fatal(err)
			}
		}
	}
	if _, err := txn.Commit(); err != nil {
		b.Fatal(err)
	}
	mdbxEnvs[name] = env
	return env, dbi
}

// getLmdb returns a populated LMDB environment.
func getLmdb(b *testing.B, numKeys int) (*lmdb.Env, lmdb.DBI) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	name := fmt.Sprintf("plain_%d_lmdb", numKeys)
	env, ok := lmdbEnvs[name]
	if !ok {
		var err error
		if env, err = lmdb.NewEnv(); err != nil {
			b.Fatal(err)
		}
		env.SetMaxDBs(10)
		env.SetMapSize(4 << 30)
		if err := env.Open(benchPath(b, name), lmdb.NoSubdir|lmdb.NoSync, 0644); err != nil {
			b.Fatal(err)
		}
	}

	var dbi lmdb.DBI
	err := env.Update(func(txn *lmdb.Txn) (err error) {
		dbi, err = txn.OpenDBI(benchTable, lmdb.Create)
		return err
	})
	if err != nil {
		b.Fatal(err)
	}
	if ok {
		return env, dbi
	}

	key, val := make([]byte, keySize), make([]byte, valSize)
	for start := 0; start < numKeys; start += batchSize {
		err := env.Update(func(txn *lmdb.Txn) error {
			for i := start; i < min(start+batchSize, numKeys); i++ {
				encodeKV(i, key, val)
				if err := txn.Put(dbi, key, val, lmdb.Append); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
	lmdbEnvs[name] = env
	return env, dbi
}

// getBolt returns a populated bbolt database.
func getBolt(b *testing.B, numKeys int) *bolt.DB {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	name := fmt.Sprintf("plain_%d_bolt", numKeys)
	if db, ok := boltDBs[name]; ok {
		return db
	}
	db, err := bolt.Open(benchPath(b, name), 0644, &bolt.Options{NoSync: true})
	if err != nil {
		b.Fatal(err)
	}
	key, val := make([]byte, keySize), make([]byte, valSize)
	for start := 0; start < numKeys; start += batchSize {
		err := db.Update(func(tx *bolt.Tx) error {
			bk, err := tx.CreateBucketIfNotExists(benchBucket)
			if err != nil {
				return err
			}
			bk.FillPercent = 1.0
			for i := start; i < min(start+batchSize, numKeys); i++ {
				encodeKV(i, key, val)
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
	boltDBs[name] = db
	return db
}

// getPebble returns a populated Pebble database.
func getPebble(b *testing.B, numKeys int) *pebble.DB {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	name := fmt.Sprintf("plain_%d_pebble", numKeys)
	if db, ok := pebbleDBs[name]; ok {
		return db
	}
	db, err := pebble.Open(benchPath(b, name), &pebble.Options{
		MemTableSize:                64 << 20,
		MemTableStopWritesThreshold: 4,
		L0CompactionThreshold:       4,
		L0StopWritesThreshold:       12,
	})
	if err != nil {
		b.Fatal(err)
	}
	key, val := make([]byte, keySize), make([]byte, valSize)
	batch := db.NewBatch()
	for i := range numKeys {
		encodeKV(i, key, val)
		if err := batch.Set(key, val, nil); err != nil {
			b.Fatal(err)
		}
		if (i+1)%batchSize == 0 {
			if err := batch.Commit(pebble.NoSync); err != nil {
				b.Fatal(err)
			}
			batch.Close()
			batch = db.NewBatch()
		}
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		b.Fatal(err)
	}
	batch.Close()
	pebbleDBs[name] = db
	return db
}

// randomOrder returns a fixed pseudo-random permutation of n indexes.
func randomOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	x := uint64(0x9E3779B97F4A7C15)
	for i := n - 1; i > 0; i-- {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
		j := int(x % uint64(i+1))
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// CleanupBenchCache closes every cached database and removes their files.
func CleanupBenchCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	for _, env := range mvkvEnvs {
		env.Close()
	}
	for _, env := range mdbxEnvs {
		env.Close()
	}
	for _, env := range lmdbEnvs {
		env.Close()
	}
	for _, db := range boltDBs {
		db.Close()
	}
	for _, db := range pebbleDBs {
		db.Close()
	}
	closeRocks()
	mvkvEnvs = make(map[string]*mvkv.Env)
	mdbxEnvs = make(map[string]*mdbxgo.Env)
	lmdbEnvs = make(map[string]*lmdb.Env)
	boltDBs = make(map[string]*bolt.DB)
	pebbleDBs = make(map[string]*pebble.DB)
	if cacheDir != "" {
		os.RemoveAll(cacheDir)
		cacheDir = ""
	}
}
