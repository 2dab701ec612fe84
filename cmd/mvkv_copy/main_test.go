//go:build unix

package main

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/Giulio2002/mvkv"
)

func TestCopyEnv(t *testing.T) {
	src := t.TempDir()
	env, err := mvkv.NewEnv(mvkv.Default)
	if err != nil {
		t.Fatalf("NewEnv failed: %v", err)
	}
	if err := env.Open(src, 0, 0644); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	err = env.Update(func(txn *mvkv.Txn) error {
		for i := range 500 {
			if err := txn.Put(mvkv.MainDBI, fmt.Appendf(nil, "%05d", i), []byte("value"), 0); err != nil {
				return err
			}
		}
		return nil
	})
	env.Close()
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	for _, compact := range []bool{false, true} {
		dst := filepath.Join(t.TempDir(), "copy")
		if err := copyEnv(src, &Options{Compact: compact, Dst: dst}); err != nil {
			t.Fatalf("copyEnv(compact=%v) failed: %v", compact, err)
		}
		cp, err := mvkv.NewEnv(mvkv.Default)
		if err != nil {
			t.Fatalf("NewEnv failed: %v", err)
		}
		if err := cp.Open(dst, mvkv.ReadOnly, 0644); err != nil {
			t.Fatalf("Open copy failed: %v", err)
		}
		st, err := cp.Stat()
		if err != nil {
			t.Fatalf("Stat failed: %v", err)
		}
		if st.Entries != 500 {
			t.Errorf("compact=%v: copy has %d entries, want 500", compact, st.Entries)
		}
		cp.Close()
	}
}
