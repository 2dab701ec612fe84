//go:build unix

package mvkv

import (
	"fmt"
	"testing"
)

// churn overwrites the same keys in rounds transactions.
func churn(t *testing.T, env *Env, dbi DBI, rounds int) {
	t.Helper()
	for r := range rounds {
		err := env.Update(func(txn *Txn) error {
			for i := range 200 {
				val := fmt.Appendf(nil, "%0500d", r*1000+i)
				if err := txn.Put(dbi, fmt.Appendf(nil, "key-%03d", i), val, 0); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("round %d: %v", r, err)
		}
	}
}

func lastPgno(t *testing.T, env *Env) int64 {
	t.Helper()
	info, err := env.Info(nil)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	return info.LastPgNo
}

func TestGCReuse(t *testing.T) {
	for _, tc := range []struct {
		name  string
		flags uint
	}{
		{"fifo", 0},
		{"lifo", LifoReclaim},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env, _ := openTestEnv(t, tc.flags)
			dbi := openTestDBI(t, env, "churn", 0)

			churn(t, env, dbi, 10)
			settled := lastPgno(t, env)
			churn(t, env, dbi, 50)
			grown := lastPgno(t, env) - settled
			// Without reuse every round would add about 30 pages.
			if grown > 40 {
				t.Errorf("file grew by %d pages over 50 rounds", grown)
			}

			rep, err := env.Check()
			if err != nil {
				t.Fatalf("Check failed: %v", err)
			}
			if !rep.OK() {
				t.Errorf("check problems: %v (leaked %d)", rep.Problems, rep.LeakedPages)
			}
			if rep.FreePages == 0 {
				t.Error("expected free pages after churn")
			}
		})
	}
}

func TestReaderPinsPages(t *testing.T) {
	env, _ := openTestEnv(t, 0)
	dbi := openTestDBI(t, env, "pinned", 0)
	churn(t, env, dbi, 10)

	reader, err := env.BeginTxn(nil, TxnReadOnly)
	if err != nil {
		t.Fatalf("BeginTxn failed: %v", err)
	}
	pinned := reader.ID()
	before := lastPgno(t, env)
	churn(t, env, dbi, 20)
	withReader := lastPgno(t, env) - before

	// Records newer than the reader's snapshot stay in the GC tree.
	var newer int
	err = env.View(func(txn *Txn) error {
		return txn.FreeList(func(id uint64, pages []uint32) error {
			if id > pinned {
				newer++
			}
			if len(pages) == 0 {
				t.Errorf("empty GC record %d", id)
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("FreeList failed: %v", err)
	}
	if newer == 0 {
		t.Error("no GC records newer than the pinned reader")
	}

	if v, err := reader.Get(dbi, []byte("key-000")); err != nil || len(v) != 500 {
		t.Errorf("pinned snapshot read = %d bytes, %v", len(v), err)
	}
	reader.Abort()

	before = lastPgno(t, env)
	churn(t, env, dbi, 20)
	without := lastPgno(t, env) - before
	if without >= withReader {
		t.Errorf("growth without reader %d, with reader %d", without, withReader)
	}
}

func TestFreeListOrder(t *testing.T) {
	env, _ := openTestEnv(t, 0)
	dbi := openTestDBI(t, env, "order", 0)
	reader, err := env.BeginTxn(nil, TxnReadOnly)
	if err != nil {
		t.Fatalf("BeginTxn failed: %v", err)
	}
	defer reader.Abort()
	churn(t, env, dbi, 5)

	var last uint64
	err = env.View(func(txn *Txn) error {
		return txn.FreeList(func(id uint64, pages []uint32) error {
			if id < last {
				t.Errorf("record %d after %d", id, last)
			}
			last = id
			return nil
		})
	})
	if err != nil {
		t.Fatalf("FreeList failed: %v", err)
	}
	if last == 0 {
		t.Error("no GC records")
	}
}

func TestGCSteadyState(t *testing.T) {
	for _, tc := range []struct {
		name  string
		flags uint
	}{
		{"fifo", 0},
		{"lifo", LifoReclaim},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env, _ := openTestEnv(t, tc.flags|SafeNoSync, func(env *Env) {
				env.SetMapSize(1 << 20)
			})
			dbi := openTestDBI(t, env, "steady", 0)

			var settled int64
			for i := range 3000 {
				if i == 20 {
					settled = lastPgno(t, env)
				}
				err := env.Update(func(txn *Txn) error {
					return txn.Put(dbi, []byte("k"), fmt.Appendf(nil, "%08d", i), 0)
				})
				if err != nil {
					t.Fatalf("commit %d failed: %v", i, err)
				}
			}
			if grown := lastPgno(t, env) - settled; grown > 4 {
				t.Errorf("one-key database grew by %d pages over 3000 commits", grown)
			}

			rep, err := env.Check()
			if err != nil {
				t.Fatalf("Check failed: %v", err)
			}
			if !rep.OK() {
				t.Errorf("check problems: %v (leaked %d)", rep.Problems, rep.LeakedPages)
			}
		})
	}
}
