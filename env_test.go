//go:build unix

package mvkv

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// openTestEnv opens a fresh environment in a temporary directory.
func openTestEnv(t testing.TB, flags uint, setup ...func(*Env)) (*Env, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	env, err := NewEnv(Default)
	if err != nil {
		t.Fatalf("NewEnv failed: %v", err)
	}
	env.SetMaxDBs(16)
	for _, fn := range setup {
		fn(env)
	}
	if err := env.Open(path, NoSubdir|flags, 0644); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(env.Close)
	return env, path
}

// openTestDBI opens or creates a named database in its own transaction.
func openTestDBI(t testing.TB, env *Env, name string, flags uint) DBI {
	t.Helper()
	var dbi DBI
	err := env.Update(func(txn *Txn) (err error) {
		dbi, err = txn.OpenDBISimple(name, flags|Create)
		return err
	})
	if err != nil {
		t.Fatalf("OpenDBI %q failed: %v", name, err)
	}
	return dbi
}

func TestNewEnv(t *testing.T) {
	env, err := NewEnv(Default)
	if err != nil {
		t.Fatalf("NewEnv failed: %v", err)
	}
	if !env.valid() {
		t.Fatal("environment is not valid")
	}
	if env.MaxDBs() != DefaultMaxDBs {
		t.Errorf("MaxDBs = %d, want %d", env.MaxDBs(), DefaultMaxDBs)
	}
	if env.MapSize() != DefaultMapSize {
		t.Errorf("MapSize = %d, want %d", env.MapSize(), DefaultMapSize)
	}
}

func TestOpenClose(t *testing.T) {
	env, path := openTestEnv(t, 0)
	if env.Path() != path {
		t.Errorf("Path mismatch: got %q, want %q", env.Path(), path)
	}
	if env.PageSize() != DefaultPageSize {
		t.Errorf("PageSize = %d, want %d", env.PageSize(), DefaultPageSize)
	}
	if err := env.Open(path, NoSubdir, 0644); err == nil {
		t.Error("second Open should fail")
	}
}

func TestOpenDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	env, err := NewEnv(Default)
	if err != nil {
		t.Fatalf("NewEnv failed: %v", err)
	}
	if err := env.Open(dir, 0, 0644); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer env.Close()

	fd, err := env.FD()
	if err != nil || fd == 0 {
		t.Fatalf("FD = %d, %v", fd, err)
	}
	if err := env.Update(func(txn *Txn) error {
		return txn.Put(MainDBI, []byte("k"), []byte("v"), 0)
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func TestReopenPersistence(t *testing.T) {
	env, path := openTestEnv(t, 0)
	dbi := openTestDBI(t, env, "persist", 0)
	err := env.Update(func(txn *Txn) error {
		for i := range 1000 {
			key := fmt.Appendf(nil, "key-%05d", i)
			if err := txn.Put(dbi, key, bytes.Repeat(key, 3), 0); err != nil {
				return err
			}
		}
		_, err := txn.Sequence(dbi, 42)
		return err
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	env.Close()

	env2, err := NewEnv(Default)
	if err != nil {
		t.Fatalf("NewEnv failed: %v", err)
	}
	env2.SetMaxDBs(16)
	if err := env2.Open(path, NoSubdir, 0644); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer env2.Close()

	err = env2.View(func(txn *Txn) error {
		dbi, err := txn.OpenDBISimple("persist", 0)
		if err != nil {
			return err
		}
		st, err := txn.Stat(dbi)
		if err != nil {
			return err
		}
		if st.Entries != 1000 {
			t.Errorf("Entries = %d, want 1000", st.Entries)
		}
		if st.Sequence != 42 {
			t.Errorf("Sequence = %d, want 42", st.Sequence)
		}
		v, err := txn.Get(dbi, []byte("key-00777"))
		if err != nil {
			return err
		}
		if want := bytes.Repeat([]byte("key-00777"), 3); !bytes.Equal(v, want) {
			t.Errorf("Get = %q, want %q", v, want)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestReadOnlyEnvironment(t *testing.T) {
	env, path := openTestEnv(t, 0)
	if err := env.Update(func(txn *Txn) error {
		return txn.Put(MainDBI, []byte("k"), []byte("v"), 0)
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	env.Close()

	ro, err := NewEnv(Default)
	if err != nil {
		t.Fatalf("NewEnv failed: %v", err)
	}
	if err := ro.Open(path, NoSubdir|ReadOnly, 0644); err != nil {
		t.Fatalf("read-only Open failed: %v", err)
	}
	defer ro.Close()

	err = ro.View(func(txn *Txn) error {
		v, err := txn.Get(MainDBI, []byte("k"))
		if err != nil {
			return err
		}
		if string(v) != "v" {
			t.Errorf("Get = %q, want v", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if _, err := ro.BeginTxn(nil, TxnReadWrite); err == nil {
		t.Error("write transaction on a read-only environment should fail")
	}
}

func TestEnvInfo(t *testing.T) {
	env, _ := openTestEnv(t, 0)
	for i := range 3 {
		if err := env.Update(func(txn *Txn) error {
			return txn.Put(MainDBI, []byte{byte(i)}, []byte("v"), 0)
		}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}
	info, err := env.Info(nil)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.LastTxnID < 3 {
		t.Errorf("LastTxnID = %d, want >= 3", info.LastTxnID)
	}
	if info.MetaTxnIDs[info.LastTxnID%2] != info.LastTxnID {
		t.Errorf("meta slot %d holds txnid %d, want %d", info.LastTxnID%2, info.MetaTxnIDs[info.LastTxnID%2], info.LastTxnID)
	}
	if info.PageSize != env.PageSize() || info.LastPgNo < numMetas {
		t.Errorf("unexpected info %+v", info)
	}

	txn, err := env.BeginTxn(nil, TxnReadOnly)
	if err != nil {
		t.Fatalf("BeginTxn failed: %v", err)
	}
	defer txn.Abort()
	readers := 0
	err = env.ReaderList(func(ri ReaderInfo) error {
		if ri.TxnID == txn.ID() && !ri.Parked {
			readers++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ReaderList failed: %v", err)
	}
	if readers != 1 {
		t.Errorf("found %d reader slots for txn %d, want 1", readers, txn.ID())
	}
	if info, err = env.Info(txn); err != nil || info.NumReaders != 1 {
		t.Errorf("NumReaders = %d, %v", info.NumReaders, err)
	}
}

func TestInfoWhileCommitting(t *testing.T) {
	env, _ := openTestEnv(t, SafeNoSync, func(env *Env) {
		env.SetGrowStep(64 << 10)
	})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		var last uint64
		for {
			select {
			case <-stop:
				return
			default:
			}
			info, err := env.Info(nil)
			if err != nil {
				t.Errorf("Info failed: %v", err)
				return
			}
			if info.Geo.Current < last {
				t.Errorf("file size went back from %d to %d", last, info.Geo.Current)
			}
			last = info.Geo.Current
		}
	}()

	for i := range 200 {
		err := env.Update(func(txn *Txn) error {
			return txn.Put(MainDBI, fmt.Appendf(nil, "%05d", i), make([]byte, 2000), 0)
		})
		if err != nil {
			t.Fatalf("Update %d failed: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()

	info, err := env.Info(nil)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if need := uint64(info.LastPgNo+1) * uint64(info.PageSize); info.Geo.Current < need {
		t.Errorf("file size %d below the %d bytes in use", info.Geo.Current, need)
	}
}

func TestSetMapSizeBusy(t *testing.T) {
	env, _ := openTestEnv(t, 0)
	txn, err := env.BeginTxn(nil, TxnReadOnly)
	if err != nil {
		t.Fatalf("BeginTxn failed: %v", err)
	}
	if err := env.SetMapSize(64 << 20); Code(err) != ErrBusy {
		t.Errorf("SetMapSize with active txn = %v, want ErrBusy", err)
	}
	txn.Abort()
	if err := env.SetMapSize(64 << 20); err != nil {
		t.Fatalf("SetMapSize failed: %v", err)
	}
	if env.MapSize() != 64<<20 {
		t.Errorf("MapSize = %d", env.MapSize())
	}
}

func TestMaxKeySize(t *testing.T) {
	env, _ := openTestEnv(t, 0)
	limit := env.MaxKeySize()
	if limit <= 0 || limit > int(env.PageSize()) {
		t.Fatalf("MaxKeySize = %d", limit)
	}
	err := env.Update(func(txn *Txn) error {
		if err := txn.Put(MainDBI, make([]byte, limit), []byte("v"), 0); err != nil {
			return err
		}
		if err := txn.Put(MainDBI, make([]byte, limit+1), []byte("v"), 0); Code(err) != ErrBadValSize {
			t.Errorf("oversized key: %v, want ErrBadValSize", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func TestErrorCodes(t *testing.T) {
	wrapped := fmt.Errorf("lookup: %w", WrapError(ErrNotFound, errors.New("cause")))
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound should see through wrapping")
	}
	if !errors.Is(wrapped, ErrNotFoundError) {
		t.Error("errors.Is should match by code")
	}
	if Code(errors.New("other")) != ErrProblem {
		t.Error("foreign errors should map to ErrProblem")
	}
	if !IsResourceExhausted(NewError(ErrMapFull)) || IsResourceExhausted(nil) {
		t.Error("IsResourceExhausted mismatch")
	}
	if msg := NewError(ErrMapFull).Error(); !strings.Contains(msg, "mapsize") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestDebugLogging(t *testing.T) {
	var buf bytes.Buffer
	env, _ := openTestEnv(t, 0, func(e *Env) {
		e.SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	})
	openTestDBI(t, env, "logged", 0)
	if !strings.Contains(buf.String(), "database created") || !strings.Contains(buf.String(), "name=logged") {
		t.Errorf("missing debug record in %q", buf.String())
	}
}

func TestVersion(t *testing.T) {
	v := GetVersionInfo()
	if !strings.Contains(Version(), fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)) {
		t.Errorf("Version() = %q does not match %+v", Version(), v)
	}
	if v.DataFileName != DataFileName {
		t.Errorf("DataFileName = %q", v.DataFileName)
	}
}
