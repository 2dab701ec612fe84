// Package mvkv is an embedded, memory-mapped, copy-on-write B+tree
// key-value store with MVCC snapshot isolation.
//
// An environment is one data file and one lock file. Any number of readers
// see consistent snapshots without blocking each other or the single
// writer. A write transaction copies the pages it changes and publishes
// the new roots by flipping one of two meta pages at commit, so a crash
// leaves either the old or the new state.
//
// Features:
//   - Named databases inside one environment (SetMaxDBs, OpenDBI)
//   - Sorted duplicates per key (DupSort, DupFixed, IntegerDup)
//   - Secondary indexes maintained on every primary write (OpenSecondary)
//   - Nested write transactions
//   - Page reclamation through a GC tree in FIFO or LIFO order
//   - Online copy with optional compaction, and an integrity checker
//
// Basic usage:
//
//	env, err := mvkv.NewEnv(mvkv.Default)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer env.Close()
//
//	if err := env.SetMaxDBs(4); err != nil {
//	    log.Fatal(err)
//	}
//	if err := env.Open("/path/to/db", 0, 0644); err != nil {
//	    log.Fatal(err)
//	}
//
//	err = env.Update(func(txn *mvkv.Txn) error {
//	    dbi, err := txn.OpenDBISimple("users", mvkv.Create)
//	    if err != nil {
//	        return err
//	    }
//	    return txn.Put(dbi, []byte("key"), []byte("value"), 0)
//	})
//
// Values returned by Get and cursors point into the map and are valid
// until the transaction ends or, in a write transaction, until the next
// modification.
package mvkv
