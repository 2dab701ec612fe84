//go:build unix

package main

import (
	"errors"

	"github.com/cockroachdb/pebble"
	bolt "go.etcd.io/bbolt"

	"github.com/Giulio2002/mvkv"
)

type mvkvEngine struct {
	env *mvkv.Env
	dbi mvkv.DBI
}

func openMvkv(dir string) (engine, error) {
	env, err := mvkv.NewEnv(mvkv.Label("bench"))
	if err != nil {
		return nil, err
	}
	if err := env.SetMapSize(64 << 30); err != nil {
		return nil, err
	}
	if err := env.SetMaxDBs(1); err != nil {
		return nil, err
	}
	if err := env.Open(dir, mvkv.NoMetaSync, 0644); err != nil {
		env.Close()
		return nil, err
	}
	e := &mvkvEngine{env: env}
	err = env.Update(func(txn *mvkv.Txn) error {
		dbi, err := txn.OpenDBISimple("bench", mvkv.Create)
		e.dbi = dbi
		return err
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	return e, nil
}

func (e *mvkvEngine) Name() string { return "mvkv" }

func (e *mvkvEngine) PutBatch(keys [][]byte, val []byte) error {
	return e.env.Update(func(txn *mvkv.Txn) error {
		for _, k := range keys {
			if err := txn.Put(e.dbi, k, val, 0); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *mvkvEngine) Get(key []byte) error {
	return e.env.View(func(txn *mvkv.Txn) error {
		_, err := txn.Get(e.dbi, key)
		return err
	})
}

func (e *mvkvEngine) Scan() (int, error) {
	n := 0
	err := e.env.View(func(txn *mvkv.Txn) error {
		c, err := txn.OpenCursor(e.dbi)
		if err != nil {
			return err
		}
		defer c.Close()
		for _, _, err = c.Get(nil, nil, mvkv.First); err == nil; _, _, err = c.Get(nil, nil, mvkv.Next) {
			n++
		}
		if mvkv.IsNotFound(err) {
			return nil
		}
		return err
	})
	return n, err
}

func (e *mvkvEngine) Close() error {
	e.env.Close()
	return nil
}

var benchBucket = []byte("bench")

type boltEngine struct {
	db *bolt.DB
}

func openBolt(dir string) (engine, error) {
	db, err := bolt.Open(dir+"/bolt.db", 0644, &bolt.Options{NoSync: true})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(benchBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &boltEngine{db: db}, nil
}

func (e *boltEngine) Name() string { return "bolt" }

func (e *boltEngine) PutBatch(keys [][]byte, val []byte) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(benchBucket)
		for _, k := range keys {
			if err := b.Put(k, val); err != nil {
				return err
			}
		}
		return nil
	})
}

var errMissing = errors.New("key missing")

func (e *boltEngine) Get(key []byte) error {
	return e.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(benchBucket).Get(key) == nil {
			return errMissing
		}
		return nil
	})
}

func (e *boltEngine) Scan() (int, error) {
	n := 0
	err := e.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(benchBucket).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (e *boltEngine) Close() error { return e.db.Close() }

type pebbleEngine struct {
	db *pebble.DB
}

func openPebble(dir string) (engine, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		MemTableSize:                16 << 20,
		MemTableStopWritesThreshold: 4,
		L0CompactionThreshold:       4,
		L0StopWritesThreshold:       12,
	})
	if err != nil {
		return nil, err
	}
	return &pebbleEngine{db: db}, nil
}

func (e *pebbleEngine) Name() string { return "pebble" }

func (e *pebbleEngine) PutBatch(keys [][]byte, val []byte) error {
	b := e.db.NewBatch()
	defer b.Close()
	for _, k := range keys {
		if err := b.Set(k, val, nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.NoSync)
}

func (e *pebbleEngine) Get(key []byte) error {
	_, closer, err := e.db.Get(key)
	if err != nil {
		return err
	}
	return closer.Close()
}

func (e *pebbleEngine) Scan() (int, error) {
	iter, err := e.db.NewIter(nil)
	if err != nil {
		return 0, err
	}
	n := 0
	for valid := iter.First(); valid; valid = iter.Next() {
		n++
	}
	return n, iter.Close()
}

func (e *pebbleEngine) Close() error { return e.db.Close() }
