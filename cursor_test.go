//go:build unix

package mvkv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"
)

// collectKeys walks dbi from First with Next.
func collectKeys(txn *Txn, dbi DBI) ([][]byte, error) {
	c, err := txn.OpenCursor(dbi)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	var keys [][]byte
	k, _, err := c.Get(nil, nil, First)
	for ; err == nil; k, _, err = c.Get(nil, nil, Next) {
		keys = append(keys, bytes.Clone(k))
	}
	if !IsNotFound(err) {
		return nil, err
	}
	return keys, nil
}

func TestCursorOrdering(t *testing.T) {
	env, _ := openTestEnv(t, 0)
	fwd := openTestDBI(t, env, "forward", 0)
	rev := openTestDBI(t, env, "reverse", ReverseKey)

	rng := rand.New(rand.NewPCG(1, 2))
	err := env.Update(func(txn *Txn) error {
		for range 3000 {
			key := fmt.Appendf(nil, "%08x", rng.Uint32())
			if err := txn.Put(fwd, key, key, 0); err != nil {
				return err
			}
			if err := txn.Put(rev, key, key, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	var keys, rkeys [][]byte
	err = env.View(func(txn *Txn) (err error) {
		if keys, err = collectKeys(txn, fwd); err != nil {
			return err
		}
		rkeys, err = collectKeys(txn, rev)
		return err
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}

	if len(keys) < 2900 {
		t.Fatalf("only %d keys", len(keys))
	}
	for i := 1; i < len(keys); i++ {
		if bytes.Compare(keys[i-1], keys[i]) >= 0 {
			t.Fatalf("keys %d and %d out of order: %q %q", i-1, i, keys[i-1], keys[i])
		}
	}
	if len(rkeys) != len(keys) {
		t.Fatalf("reverse has %d keys, want %d", len(rkeys), len(keys))
	}
	for i := 1; i < len(rkeys); i++ {
		if bytes.Compare(rkeys[i-1], rkeys[i]) <= 0 {
			t.Fatalf("reverse keys %d and %d not descending: %q %q", i-1, i, rkeys[i-1], rkeys[i])
		}
	}
	slices.Reverse(rkeys)
	if !slices.EqualFunc(keys, rkeys, bytes.Equal) {
		t.Error("reverse database holds different keys")
	}
}

func TestCursorPositioning(t *testing.T) {
	env, _ := openTestEnv(t, 0)
	dbi := openTestDBI(t, env, "pos", 0)
	err := env.Update(func(txn *Txn) error {
		for i := 0; i < 100; i += 2 {
			if err := txn.Put(dbi, fmt.Appendf(nil, "k%03d", i), fmt.Appendf(nil, "v%d", i), 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err = env.View(func(txn *Txn) error {
		c, err := txn.OpenCursor(dbi)
		if err != nil {
			return err
		}
		defer c.Close()

		tests := []struct {
			op      CursorOp
			key     string
			wantKey string
			missing bool
		}{
			{op: First, wantKey: "k000"},
			{op: Last, wantKey: "k098"},
			{op: Set, key: "k050", wantKey: "k050"},
			{op: Set, key: "k051", missing: true},
			{op: SetKey, key: "k010", wantKey: "k010"},
			{op: SetRange, key: "k051", wantKey: "k052"},
			{op: SetRange, key: "k099", missing: true},
			{op: SetRange, key: "", wantKey: "k000"},
		}
		for _, tt := range tests {
			k, _, err := c.Get([]byte(tt.key), nil, tt.op)
			if tt.missing {
				if !IsNotFound(err) {
					t.Errorf("op %d key %q: got %q, %v, want NotFound", tt.op, tt.key, k, err)
				}
				continue
			}
			if err != nil || string(k) != tt.wantKey {
				t.Errorf("op %d key %q: got %q, %v, want %q", tt.op, tt.key, k, err, tt.wantKey)
			}
		}

		if _, _, err := c.Get([]byte("k020"), nil, Set); err != nil {
			return err
		}
		k, v, err := c.Get(nil, nil, GetCurrent)
		if err != nil || string(k) != "k020" || string(v) != "v20" {
			t.Errorf("GetCurrent = %q %q %v", k, v, err)
		}
		if k, _, err = c.Get(nil, nil, Prev); err != nil || string(k) != "k018" {
			t.Errorf("Prev = %q %v", k, err)
		}
		if k, _, err = c.Get(nil, nil, Next); err != nil || string(k) != "k020" {
			t.Errorf("Next = %q %v", k, err)
		}

		if _, _, err := c.Get(nil, nil, Last); err != nil {
			return err
		}
		if _, _, err := c.Get(nil, nil, Next); !IsNotFound(err) {
			t.Errorf("Next past end = %v", err)
		}
		if k, _, err = c.Get(nil, nil, Prev); err != nil || string(k) != "k098" {
			t.Errorf("Prev after end = %q %v, want the last item", k, err)
		}
		if k, _, err = c.Get(nil, nil, Prev); err != nil || string(k) != "k096" {
			t.Errorf("second Prev after end = %q %v", k, err)
		}

		k, v, err = txn.GetEqualOrGreater(dbi, []byte("k033"))
		if err != nil || string(k) != "k034" || string(v) != "v34" {
			t.Errorf("GetEqualOrGreater = %q %q %v", k, v, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestCursorDelete(t *testing.T) {
	env, _ := openTestEnv(t, 0)
	dbi := openTestDBI(t, env, "cdel", 0)
	err := env.Update(func(txn *Txn) error {
		for i := range 2000 {
			if err := txn.Put(dbi, binary.BigEndian.AppendUint32(nil, uint32(i)), make([]byte, 50), 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// Delete every odd key while iterating.
	err = env.Update(func(txn *Txn) error {
		c, err := txn.OpenCursor(dbi)
		if err != nil {
			return err
		}
		defer c.Close()
		k, _, err := c.Get(nil, nil, First)
		for ; err == nil; k, _, err = c.Get(nil, nil, Next) {
			if binary.BigEndian.Uint32(k)%2 == 1 {
				if err := c.Del(0); err != nil {
					return err
				}
			}
		}
		if !IsNotFound(err) {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	var keys [][]byte
	err = env.View(func(txn *Txn) (err error) {
		keys, err = collectKeys(txn, dbi)
		return err
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if len(keys) != 1000 {
		t.Fatalf("%d keys left, want 1000", len(keys))
	}
	for i, k := range keys {
		if got := binary.BigEndian.Uint32(k); got != uint32(2*i) {
			t.Fatalf("key %d = %d, want %d", i, got, 2*i)
		}
	}
	if rep, err := env.Check(); err != nil || !rep.OK() {
		t.Errorf("Check: %v %+v", err, rep)
	}
}

func TestCursorDeleteRepeated(t *testing.T) {
	env, _ := openTestEnv(t, 0)
	plain := openTestDBI(t, env, "repeat", 0)
	dups := openTestDBI(t, env, "repeat-dups", DupSort)

	err := env.Update(func(txn *Txn) error {
		for i := range 10 {
			if err := txn.Put(plain, fmt.Appendf(nil, "k%d", i), []byte("v"), 0); err != nil {
				return err
			}
			for _, key := range []string{"a", "b"} {
				if err := txn.Put(dups, []byte(key), fmt.Appendf(nil, "%d", i), 0); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err = env.Update(func(txn *Txn) error {
		c, err := txn.OpenCursor(plain)
		if err != nil {
			return err
		}
		defer c.Close()
		if _, _, err := c.Get([]byte("k3"), nil, Set); err != nil {
			return err
		}
		if err := c.Del(0); err != nil {
			return err
		}
		k, _, err := c.Get(nil, nil, GetCurrent)
		if err != nil || string(k) != "k4" {
			return fmt.Errorf("GetCurrent after Del = %q, %v", k, err)
		}
		if err := c.Del(0); err != nil {
			return fmt.Errorf("Del at the successor: %w", err)
		}
		if k, _, err := c.Get(nil, nil, Next); err != nil || string(k) != "k5" {
			return fmt.Errorf("Next after two deletes = %q, %v", k, err)
		}

		if _, _, err := c.Get(nil, nil, First); err != nil {
			return err
		}
		n := 0
		for ; c.Del(0) == nil; n++ {
		}
		if n != 8 {
			return fmt.Errorf("delete loop removed %d items, want 8", n)
		}

		dc, err := txn.OpenCursor(dups)
		if err != nil {
			return err
		}
		defer dc.Close()
		if _, _, err := dc.Get([]byte("a"), []byte("7"), GetBoth); err != nil {
			return err
		}
		n = 0
		for ; dc.Del(0) == nil; n++ {
		}
		// The last three values of "a" and all of "b".
		if n != 13 {
			return fmt.Errorf("dup delete loop removed %d items, want 13", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err = env.View(func(txn *Txn) error {
		st, err := txn.Stat(plain)
		if err != nil {
			return err
		}
		if st.Entries != 0 {
			t.Errorf("plain database has %d entries, want 0", st.Entries)
		}
		if st, err = txn.Stat(dups); err != nil {
			return err
		}
		if st.Entries != 7 {
			t.Errorf("dup database has %d entries, want 7", st.Entries)
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

func TestCursorPutCurrent(t *testing.T) {
	env, _ := openTestEnv(t, 0)
	err := env.Update(func(txn *Txn) error {
		c, err := txn.OpenCursor(MainDBI)
		if err != nil {
			return err
		}
		defer c.Close()
		if err := c.Put([]byte("a"), []byte("1"), 0); err != nil {
			return err
		}
		if err := c.Put([]byte("b"), []byte("2"), 0); err != nil {
			return err
		}
		if _, _, err := c.Get([]byte("a"), nil, Set); err != nil {
			return err
		}
		if err := c.Put([]byte("a"), []byte("one"), Current); err != nil {
			return err
		}
		if err := c.Put([]byte("z"), []byte("x"), Current); Code(err) != ErrKeyMismatch {
			t.Errorf("Current with another key = %v, want ErrKeyMismatch", err)
		}
		v, err := txn.Get(MainDBI, []byte("a"))
		if err != nil || string(v) != "one" {
			t.Errorf("Get a = %q %v", v, err)
		}
		buf, err := c.PutReserve([]byte("r"), 4, 0)
		if err != nil {
			return err
		}
		copy(buf, "resv")
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	err = env.View(func(txn *Txn) error {
		v, err := txn.Get(MainDBI, []byte("r"))
		if err != nil || string(v) != "resv" {
			t.Errorf("reserved value = %q %v", v, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestPutAppend(t *testing.T) {
	env, _ := openTestEnv(t, 0)
	dbi := openTestDBI(t, env, "append", 0)
	err := env.Update(func(txn *Txn) error {
		for i := range 5000 {
			if err := txn.Put(dbi, binary.BigEndian.AppendUint64(nil, uint64(i)), []byte("v"), Append); err != nil {
				return err
			}
		}
		if err := txn.Put(dbi, binary.BigEndian.AppendUint64(nil, 10), []byte("v"), Append); Code(err) != ErrKeyMismatch {
			t.Errorf("out-of-order Append = %v, want ErrKeyMismatch", err)
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
		if st.Entries != 5000 {
			t.Errorf("Entries = %d", st.Entries)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestIntegerKey(t *testing.T) {
	env, _ := openTestEnv(t, 0)
	dbi := openTestDBI(t, env, "ints", IntegerKey)
	vals := []uint64{1 << 40, 3, 255, 256, 1, 1 << 20}
	err := env.Update(func(txn *Txn) error {
		for _, v := range vals {
			if err := txn.Put(dbi, binary.NativeEndian.AppendUint64(nil, v), []byte("v"), 0); err != nil {
				return err
			}
		}
		if err := txn.Put(dbi, []byte{1, 2, 3}, []byte("v"), 0); Code(err) != ErrBadValSize {
			t.Errorf("3-byte integer key = %v, want ErrBadValSize", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	var keys [][]byte
	err = env.View(func(txn *Txn) (err error) {
		keys, err = collectKeys(txn, dbi)
		return err
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	var got []uint64
	for _, k := range keys {
		got = append(got, binary.NativeEndian.Uint64(k))
	}
	want := slices.Clone(vals)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestCursorPool(t *testing.T) {
	env, _ := openTestEnv(t, 0)
	if err := env.Update(func(txn *Txn) error {
		return txn.Put(MainDBI, []byte("k"), []byte("v"), 0)
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	c := CursorFromPool()
	for range 2 {
		err := env.View(func(txn *Txn) error {
			if err := c.Bind(txn, MainDBI); err != nil {
				return err
			}
			k, _, err := c.Get(nil, nil, First)
			if err != nil || string(k) != "k" {
				t.Errorf("First = %q %v", k, err)
			}
			return c.Unbind()
		})
		if err != nil {
			t.Fatalf("View failed: %v", err)
		}
	}
	CursorToPool(c)
}
