//go:build unix

package mvkv

import (
	"fmt"
	"slices"
	"testing"
)

func TestMultipleNamedDatabases(t *testing.T) {
	env, _ := openTestEnv(t, 0)
	names := []string{"users", "orders", "items", "audit"}
	dbis := make([]DBI, len(names))
	for i, name := range names {
		dbis[i] = openTestDBI(t, env, name, 0)
	}
	err := env.Update(func(txn *Txn) error {
		for i, dbi := range dbis {
			if err := txn.Put(dbi, []byte("shared"), []byte(names[i]), 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err = env.View(func(txn *Txn) error {
		for i, dbi := range dbis {
			v, err := txn.Get(dbi, []byte("shared"))
			if err != nil || string(v) != names[i] {
				t.Errorf("%s: Get = %q %v", names[i], v, err)
			}
		}
		list, err := txn.ListDBI()
		if err != nil {
			return err
		}
		want := slices.Clone(names)
		slices.Sort(want)
		if !slices.Equal(list, want) {
			t.Errorf("ListDBI = %v, want %v", list, want)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestOpenDBIErrors(t *testing.T) {
	env, _ := openTestEnv(t, 0, func(e *Env) { e.SetMaxDBs(2) })
	openTestDBI(t, env, "plain", 0)
	err := env.Update(func(txn *Txn) error {
		if _, err := txn.OpenDBISimple("missing", 0); !IsNotFound(err) {
			t.Errorf("open missing = %v, want NotFound", err)
		}
		if _, err := txn.OpenDBISimple("plain", Create|DupSort); Code(err) != ErrIncompatible {
			t.Errorf("flag mismatch = %v, want ErrIncompatible", err)
		}
		if _, err := txn.OpenDBISimple("second", Create); err != nil {
			return err
		}
		if _, err := txn.OpenDBISimple("third", Create); Code(err) != ErrDBsFull {
			t.Errorf("third database = %v, want ErrDBsFull", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	err = env.View(func(txn *Txn) error {
		if _, err := txn.OpenDBISimple("new", Create); Code(err) != ErrPermissionDenied {
			t.Errorf("create in read txn = %v, want ErrPermissionDenied", err)
		}
		if _, err := txn.Get(DBI(999), []byte("k")); Code(err) != ErrBadDBI {
			t.Errorf("unknown handle = %v, want ErrBadDBI", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestCreatedDBIClosedOnAbort(t *testing.T) {
	env, _ := openTestEnv(t, 0)
	txn, err := env.BeginTxn(nil, 0)
	if err != nil {
		t.Fatalf("BeginTxn failed: %v", err)
	}
	dbi, err := txn.OpenDBISimple("ephemeral", Create)
	if err != nil {
		t.Fatalf("OpenDBI failed: %v", err)
	}
	txn.Put(dbi, []byte("k"), []byte("v"), 0)
	txn.Abort()

	err = env.View(func(txn *Txn) error {
		if _, err := txn.Get(dbi, []byte("k")); Code(err) != ErrBadDBI {
			t.Errorf("handle of aborted database = %v, want ErrBadDBI", err)
		}
		if _, err := txn.OpenDBISimple("ephemeral", 0); !IsNotFound(err) {
			t.Errorf("aborted database exists: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestDrop(t *testing.T) {
	env, _ := openTestEnv(t, 0)
	dbi := openTestDBI(t, env, "drop", 0)
	fill := func() {
		err := env.Update(func(txn *Txn) error {
			for i := range 1000 {
				if err := txn.Put(dbi, fmt.Appendf(nil, "%05d", i), make([]byte, 100), 0); err != nil {
					return err
				}
			}
			_, err := txn.Sequence(dbi, 7)
			return err
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}
	fill()

	if err := env.Update(func(txn *Txn) error { return txn.Drop(dbi, false) }); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}
	err := env.View(func(txn *Txn) error {
		st, err := txn.Stat(dbi)
		if err != nil {
			return err
		}
		if st.Entries != 0 || st.LeafPages != 0 || st.Sequence != 7 {
			t.Errorf("after empty: %+v", st)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	fill()

	if err := env.Update(func(txn *Txn) error { return txn.Drop(dbi, true) }); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}
	err = env.View(func(txn *Txn) error {
		if _, err := txn.OpenDBISimple("drop", 0); !IsNotFound(err) {
			t.Errorf("deleted database still opens: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if rep, err := env.Check(); err != nil || !rep.OK() {
		t.Errorf("Check: %v %+v", err, rep)
	}
}

func TestRenameDBI(t *testing.T) {
	env, _ := openTestEnv(t, 0)
	dbi := openTestDBI(t, env, "before", 0)
	openTestDBI(t, env, "taken", 0)
	if err := env.Update(func(txn *Txn) error {
		return txn.Put(dbi, []byte("k"), []byte("v"), 0)
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// An aborted rename leaves the old name.
	txn, err := env.BeginTxn(nil, 0)
	if err != nil {
		t.Fatalf("BeginTxn failed: %v", err)
	}
	if err := txn.RenameDBI(dbi, "aborted"); err != nil {
		t.Fatalf("RenameDBI failed: %v", err)
	}
	txn.Abort()

	err = env.Update(func(txn *Txn) error {
		if err := txn.RenameDBI(dbi, "taken"); !IsKeyExist(err) {
			t.Errorf("rename onto existing = %v, want KeyExist", err)
		}
		return txn.RenameDBI(dbi, "after")
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err = env.View(func(txn *Txn) error {
		names, err := txn.ListDBI()
		if err != nil {
			return err
		}
		if fmt.Sprint(names) != "[after taken]" {
			t.Errorf("ListDBI = %v", names)
		}
		renamed, err := txn.OpenDBISimple("after", 0)
		if err != nil {
			return err
		}
		if renamed != dbi {
			t.Errorf("handle changed from %d to %d", dbi, renamed)
		}
		v, err := txn.Get(renamed, []byte("k"))
		if err != nil || string(v) != "v" {
			t.Errorf("Get = %q %v", v, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestSequence(t *testing.T) {
	env, _ := openTestEnv(t, 0)
	dbi := openTestDBI(t, env, "seq", 0)
	err := env.Update(func(txn *Txn) error {
		for i := range 5 {
			cur, err := txn.Sequence(dbi, 10)
			if err != nil {
				return err
			}
			if cur != uint64(i*10) {
				t.Errorf("Sequence #%d = %d", i, cur)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	err = env.View(func(txn *Txn) error {
		cur, err := txn.Sequence(dbi, 0)
		if err != nil || cur != 50 {
			t.Errorf("Sequence = %d %v", cur, err)
		}
		if _, err := txn.Sequence(dbi, 1); Code(err) != ErrPermissionDenied {
			t.Errorf("increment in read txn = %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestDatabaseStat(t *testing.T) {
	env, _ := openTestEnv(t, 0)
	dbi := openTestDBI(t, env, "stat", 0)
	err := env.Update(func(txn *Txn) error {
		for i := range 10000 {
			if err := txn.Put(dbi, fmt.Appendf(nil, "%08d", i), make([]byte, 64), 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	err = env.View(func(txn *Txn) error {
		st, err := txn.Stat(dbi)
		if err != nil {
			return err
		}
		if st.Entries != 10000 || st.Depth < 2 || st.BranchPages == 0 || st.LeafPages < 100 {
			t.Errorf("unexpected stat %+v", st)
		}
		flags, err := txn.Flags(dbi)
		if err != nil || flags != 0 {
			t.Errorf("Flags = %x %v", flags, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if st, err := env.Stat(); err != nil || st.PageSize != env.PageSize() {
		t.Errorf("env Stat = %+v %v", st, err)
	}
}
