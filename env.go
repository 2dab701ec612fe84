//go:build unix

package mvkv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Giulio2002/mvkv/internal/fastmap"
	"github.com/Giulio2002/mvkv/mmap"
)

// sysPageSize is the system's memory page size.
var sysPageSize = int64(os.Getpagesize())

// envSignature is the magic number for valid environments
const envSignature uint32 = 0x4D564B45 // "MVKE"

// Label identifies an environment in log records.
type Label string

// Default is the label used when none is given.
const Default Label = "default"

// Env represents a database environment: one data file, one lock file.
type Env struct {
	signature uint32
	flags     uint
	path      string
	label     Label
	logger    *slog.Logger

	// mu guards open/close, the mapping and activeTxns.
	mu         sync.Mutex
	activeTxns int
	txnWg      sync.WaitGroup

	dataFile *os.File
	dataMap  *mmap.Map
	lockFile *lockFile

	// writeMu serializes writers inside this process; the flock on the
	// lock file serializes them across processes.
	writeMu sync.Mutex

	pageSize   uint32
	mapSize    int64
	mapSizeSet bool
	growStep   int64
	fileSize   int64 // written by the writer under mu
	maxReaders uint32
	maxDBs     uint32

	dbis   []*dbiInfo
	dbisMu sync.RWMutex

	userCtx any
}

// dbiInfo holds information about an open database handle.
type dbiInfo struct {
	name  string
	flags uint
	cmp   CmpFunc
	dcmp  CmpFunc

	// Secondary index association, see secondary.go.
	primary     DBI
	isSecondary bool
	keyCreator  KeyCreator
	secondaries []DBI

	dropped bool // deleted by a transaction that has not committed yet
}

// NewEnv creates a new environment handle.
// The environment must be opened with Open before use.
func NewEnv(label Label) (*Env, error) {
	e := &Env{
		signature:  envSignature,
		label:      label,
		logger:     defaultLogger(),
		maxReaders: DefaultMaxReaders,
		maxDBs:     DefaultMaxDBs,
		pageSize:   DefaultPageSize,
		mapSize:    DefaultMapSize,
		growStep:   DefaultGrowStep,
	}
	return e, nil
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// valid returns true if the environment is valid.
func (e *Env) valid() bool {
	return e != nil && e.signature == envSignature
}

// SetLogger replaces the logger. A nil logger discards all records.
func (e *Env) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e.logger = logger
}

// Logger returns the environment logger.
func (e *Env) Logger() *slog.Logger {
	return e.logger
}

func (e *Env) debug(msg string, args ...any) {
	if e.logger.Enabled(context.Background(), slog.LevelDebug) {
		e.logger.Debug(msg, append([]any{slog.String("env", string(e.label))}, args...)...)
	}
}

// Open opens the environment at the given path.
func (e *Env) Open(path string, flags uint, mode os.FileMode) error {
	if !e.valid() {
		return NewError(ErrInvalid)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dataFile != nil {
		return NewError(ErrInvalid) // Already open
	}

	e.flags = flags
	e.path = path
	readOnly := flags&ReadOnly != 0

	var dataPath, lockPath string
	if flags&NoSubdir != 0 {
		dataPath = path
		lockPath = path + LockSuffix
	} else {
		if !readOnly {
			if err := os.MkdirAll(path, mode|0700); err != nil {
				return WrapError(ErrInvalid, err)
			}
		}
		dataPath = filepath.Join(path, DataFileName)
		lockPath = filepath.Join(path, LockFileName)
	}

	fileFlags := os.O_RDWR | os.O_CREATE
	if readOnly {
		fileFlags = os.O_RDONLY
	}
	dataFile, err := os.OpenFile(dataPath, fileFlags, mode)
	if err != nil {
		if os.IsPermission(err) {
			return WrapError(ErrPermissionDenied, err)
		}
		return WrapError(ErrInvalid, err)
	}
	e.dataFile = dataFile

	// Readers register in the lock file too, so it is created even for a
	// read-only open unless the directory forbids it.
	lf, err := openLockFile(lockPath, int(e.maxReaders), true)
	if err != nil && readOnly && errors.Is(err, os.ErrPermission) {
		lf, err = openLockFile(lockPath, int(e.maxReaders), false)
	}
	if err != nil {
		e.closeFiles()
		return WrapError(ErrInvalid, err)
	}
	e.lockFile = lf

	fi, err := dataFile.Stat()
	if err != nil {
		e.closeFiles()
		return WrapError(ErrInvalid, err)
	}
	if fi.Size() == 0 {
		if readOnly {
			e.closeFiles()
			return NewError(ErrInvalid)
		}
		if err := e.initNewDB(); err != nil {
			e.closeFiles()
			return err
		}
		if fi, err = dataFile.Stat(); err != nil {
			e.closeFiles()
			return WrapError(ErrInvalid, err)
		}
	}
	e.fileSize = fi.Size()

	m, err := e.probeMeta()
	if err != nil {
		e.closeFiles()
		return err
	}
	e.pageSize = m.pageSize

	// The configured size wins unless the file already says more.
	mapSize := e.mapSize
	if !e.mapSizeSet || int64(m.mapSize) > mapSize {
		mapSize = int64(m.mapSize)
	}
	mapSize = max(alignUp(mapSize, int64(e.pageSize)), alignUp(e.fileSize, sysPageSize))
	e.mapSize = mapSize

	dm, err := mmap.New(int(dataFile.Fd()), mapSize, false)
	if err != nil {
		e.closeFiles()
		return WrapError(ErrUnableExtendMapsize, err)
	}
	dm.AdviseRandom()
	e.dataMap = dm

	if _, err := e.readMeta(dm.Data()); err != nil {
		e.closeFiles()
		return err
	}

	e.dbis = make([]*dbiInfo, CoreDBs, CoreDBs+int(e.maxDBs))
	e.dbis[FreeDBI] = &dbiInfo{name: "@gc", flags: 0, cmp: cmpGCKey, dcmp: cmpGCKey}
	e.dbis[MainDBI] = &dbiInfo{name: "", flags: uint(m.main.flags), cmp: keyComparator(uint(m.main.flags)), dcmp: dupComparator(uint(m.main.flags))}

	e.debug("environment opened",
		slog.String("path", path),
		slog.Uint64("txnid", uint64(m.txnid)),
		slog.Uint64("pagesize", uint64(e.pageSize)),
		slog.Int64("mapsize", e.mapSize),
		slog.Int64("filesize", e.fileSize))
	return nil
}

// initNewDB writes the two initial meta pages of an empty data file.
func (e *Env) initNewDB() error {
	if err := e.lockFile.lockWriter(); err != nil {
		return WrapError(ErrBusy, err)
	}
	defer e.lockFile.unlockWriter()

	fi, err := e.dataFile.Stat()
	if err != nil {
		return WrapError(ErrInvalid, err)
	}
	if fi.Size() != 0 {
		return nil
	}

	buf := make(page, e.pageSize)
	for i := 0; i < numMetas; i++ {
		m := initMeta(e.pageSize, uint64(e.mapSize))
		m.txnid = txnid(i)
		m.encode(buf)
		if _, err := e.dataFile.WriteAt(buf, int64(i)*int64(e.pageSize)); err != nil {
			return WrapError(ErrInvalid, err)
		}
	}
	size := alignUp(max(int64(numMetas)*int64(e.pageSize), min(e.growStep, e.mapSize)), sysPageSize)
	if err := e.dataFile.Truncate(size); err != nil {
		return WrapError(ErrInvalid, err)
	}
	return e.dataFile.Sync()
}

// probeMeta reads the meta pages with positioned reads to learn the page
// size before anything is mapped.
func (e *Env) probeMeta() (*meta, error) {
	buf := make(page, MinPageSize)
	var pages [numMetas]page
	var ps uint32

	if _, err := e.dataFile.ReadAt(buf, 0); err != nil {
		return nil, WrapError(ErrInvalid, err)
	}
	if m, err := decodeMeta(buf); err == nil {
		ps = m.pageSize
	} else {
		// Meta 0 is damaged; look for meta 1 at every legal page size.
		for size := uint32(MinPageSize); size <= MaxPageSize; size <<= 1 {
			if _, err := e.dataFile.ReadAt(buf, int64(size)); err != nil {
				break
			}
			if m, err := decodeMeta(buf); err == nil && m.pageSize == size {
				ps = size
				break
			}
		}
		if ps == 0 {
			return nil, err
		}
	}

	for i := range pages {
		pages[i] = make(page, pageHeaderSize+metaBodySize)
		if _, err := e.dataFile.ReadAt(pages[i], int64(i)*int64(ps)); err != nil {
			return nil, WrapError(ErrCorrupted, err)
		}
	}
	return pickMeta(pages)
}

// readMeta returns the current meta as seen through data.
func (e *Env) readMeta(data []byte) (*meta, error) {
	ps := int(e.pageSize)
	if len(data) < ps*numMetas {
		return nil, NewError(ErrCorrupted)
	}
	return pickMeta([numMetas]page{page(data[:ps]), page(data[ps : 2*ps])})
}

// closeFiles closes all open files.
func (e *Env) closeFiles() {
	if e.dataMap != nil {
		e.dataMap.Close()
		e.dataMap = nil
	}
	if e.lockFile != nil {
		e.lockFile.close()
		e.lockFile = nil
	}
	if e.dataFile != nil {
		e.dataFile.Close()
		e.dataFile = nil
	}
}

// Close closes the environment. It waits for open transactions to end.
func (e *Env) Close() {
	e.CloseEx(false)
}

// CloseEx closes the environment, optionally skipping the final sync.
func (e *Env) CloseEx(dontSync bool) {
	if !e.valid() {
		return
	}
	e.txnWg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dataFile == nil {
		return
	}
	if !dontSync && e.flags&ReadOnly == 0 {
		if err := fdatasync(e.dataFile); err != nil {
			e.logger.Warn("sync on close failed", slog.String("env", string(e.label)), slog.Any("err", err))
		}
	}
	e.closeFiles()
	e.dbis = nil
	e.debug("environment closed", slog.String("path", e.path))
}

// Sync flushes data written by NoSync or NoMetaSync commits.
func (e *Env) Sync(force bool, nonblock bool) error {
	if !e.valid() || e.dataFile == nil {
		return NewError(ErrInvalid)
	}
	if e.flags&ReadOnly != 0 {
		return nil
	}
	if !force && e.flags&UtterlyNoSync == UtterlyNoSync {
		return nil
	}
	if err := fdatasync(e.dataFile); err != nil {
		return WrapError(ErrProblem, err)
	}
	return nil
}

// SetMapSize sets the upper bound of the data file. Before Open it only
// records the size; afterwards it remaps, which requires that no
// transaction of this environment is active.
func (e *Env) SetMapSize(size int64) error {
	if !e.valid() || size <= 0 {
		return NewError(ErrInvalid)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dataMap == nil {
		e.mapSize = size
		e.mapSizeSet = true
		return nil
	}
	if e.activeTxns > 0 {
		return NewError(ErrBusy)
	}
	size = max(alignUp(size, int64(e.pageSize)), alignUp(e.fileSize, sysPageSize))
	if err := e.dataMap.Remap(size); err != nil {
		return WrapError(ErrUnableExtendMapsize, err)
	}
	e.mapSize = size
	e.mapSizeSet = true
	e.debug("map resized", slog.Int64("mapsize", size))
	return nil
}

// MapSize returns the current map size in bytes.
func (e *Env) MapSize() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mapSize
}

// geometry returns the map size and the data file size.
func (e *Env) geometry() (mapSize, fileSize int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mapSize, e.fileSize
}

// SetGrowStep sets the data file growth increment.
func (e *Env) SetGrowStep(step int64) error {
	if step <= 0 {
		return NewError(ErrInvalid)
	}
	e.growStep = alignUp(step, sysPageSize)
	return nil
}

// SetMaxDBs sets the maximum number of named databases.
// Must be called before Open.
func (e *Env) SetMaxDBs(dbs uint32) error {
	if e.dataFile != nil {
		return NewError(ErrBusy)
	}
	if dbs > MaxDBI-CoreDBs {
		return NewError(ErrInvalid)
	}
	e.maxDBs = dbs
	return nil
}

// SetMaxReaders sets the number of reader slots of a new lock file.
// Must be called before Open.
func (e *Env) SetMaxReaders(readers uint32) error {
	if e.dataFile != nil {
		return NewError(ErrBusy)
	}
	if readers == 0 {
		return NewError(ErrInvalid)
	}
	e.maxReaders = readers
	return nil
}

// SetPageSize sets the page size of a new database.
// Must be called before Open; existing files keep their page size.
func (e *Env) SetPageSize(size uint32) error {
	if e.dataFile != nil {
		return NewError(ErrBusy)
	}
	if !validPageSize(size) {
		return NewError(ErrInvalid)
	}
	e.pageSize = size
	return nil
}

// Path returns the path the environment was opened with.
func (e *Env) Path() string {
	return e.path
}

// Flags returns the environment flags.
func (e *Env) Flags() (uint, error) {
	if !e.valid() {
		return 0, NewError(ErrInvalid)
	}
	return e.flags, nil
}

// SetFlags enables runtime-changeable flags (durability and reclaim order).
func (e *Env) SetFlags(flags uint) error {
	return e.SetEnvFlags(flags, true)
}

// UnsetFlags disables runtime-changeable flags.
func (e *Env) UnsetFlags(flags uint) error {
	return e.SetEnvFlags(flags, false)
}

// SetEnvFlags sets or clears runtime-changeable flags.
func (e *Env) SetEnvFlags(flags uint, enable bool) error {
	const mutable = NoMetaSync | UtterlyNoSync | LifoReclaim
	if flags&^uint(mutable) != 0 {
		return NewError(ErrInvalid)
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if enable {
		e.flags |= flags
	} else {
		e.flags &^= flags
	}
	return nil
}

// Label returns the environment label.
func (e *Env) Label() Label {
	return e.label
}

// MaxDBs returns the maximum number of named databases.
func (e *Env) MaxDBs() uint32 {
	return e.maxDBs
}

// MaxReaders returns the number of reader slots.
func (e *Env) MaxReaders() uint32 {
	if e.lockFile != nil {
		return uint32(len(e.lockFile.slots))
	}
	return e.maxReaders
}

// PageSize returns the database page size.
func (e *Env) PageSize() uint32 {
	return e.pageSize
}

// nodeMax is the largest node that may be stored on a page.
func nodeMax(pageSize uint32) int {
	return (int(pageSize)-pageHeaderSize)/2 - 2
}

// MaxKeySize returns the maximum key size for plain databases.
func (e *Env) MaxKeySize() int {
	return maxKeySize(e.pageSize, 0)
}

// MaxKeySizeFor returns the maximum key size for a database with flags.
func (e *Env) MaxKeySizeFor(flags uint) int {
	return maxKeySize(e.pageSize, flags)
}

// MaxValSize returns the maximum value size for plain databases.
// Duplicates in DupSort databases are limited to MaxKeySizeFor(DupSort).
func (e *Env) MaxValSize() int {
	return maxValSize
}

func maxKeySize(pageSize uint32, flags uint) int {
	if flags&DupSort != 0 {
		return (nodeMax(pageSize) - nodeHeaderSize - treeRecordSize) / 2
	}
	return nodeMax(pageSize) - nodeHeaderSize - 4
}

const maxValSize = 1<<31 - 1

// SetUserCtx attaches an arbitrary value to the environment.
func (e *Env) SetUserCtx(ctx any) {
	e.userCtx = ctx
}

// UserCtx returns the value set by SetUserCtx.
func (e *Env) UserCtx() any {
	return e.userCtx
}

// BeginTxn starts a transaction. A non-nil parent starts a nested write
// transaction.
func (e *Env) BeginTxn(parent *Txn, flags uint) (*Txn, error) {
	if !e.valid() {
		return nil, NewError(ErrInvalid)
	}
	if parent != nil {
		return parent.beginChild(flags)
	}
	if flags&TxnReadOnly != 0 {
		return e.beginReadTxn(flags)
	}
	return e.beginWriteTxn(flags)
}

// enterTxn registers an active transaction and returns the mapping it
// may use until exitTxn.
func (e *Env) enterTxn() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dataMap == nil {
		return nil, NewError(ErrInvalid)
	}
	e.activeTxns++
	e.txnWg.Add(1)
	return e.dataMap.Data(), nil
}

func (e *Env) exitTxn() {
	e.mu.Lock()
	e.activeTxns--
	e.mu.Unlock()
	e.txnWg.Done()
}

// ensureMapped remaps when another process grew the database beyond the
// local mapping. It only succeeds while the caller is the sole active
// transaction.
func (e *Env) ensureMapped(m *meta) ([]byte, error) {
	need := int64(m.nextPgno) * int64(m.pageSize)
	e.mu.Lock()
	defer e.mu.Unlock()
	if need <= e.dataMap.Size() {
		return e.dataMap.Data(), nil
	}
	if e.activeTxns > 1 {
		return nil, WrapError(ErrUnableExtendMapsize, fmt.Errorf("database needs %d bytes, %d mapped", need, e.dataMap.Size()))
	}
	size := max(int64(m.mapSize), alignUp(need, sysPageSize))
	if err := e.dataMap.Remap(size); err != nil {
		return nil, WrapError(ErrUnableExtendMapsize, err)
	}
	e.mapSize = size
	e.debug("map resized", slog.Int64("mapsize", size))
	return e.dataMap.Data(), nil
}

// beginReadTxn starts a read-only transaction.
func (e *Env) beginReadTxn(flags uint) (*Txn, error) {
	data, err := e.enterTxn()
	if err != nil {
		return nil, err
	}

	slot, err := e.lockFile.acquireReaderSlot(0)
	if err != nil {
		e.exitTxn()
		return nil, WrapError(ErrReadersFull, err)
	}

	txn := &Txn{
		signature: txnSignature,
		env:       e,
		flags:     flags | TxnReadOnly,
		slot:      slot,
		pageSize:  e.pageSize,
	}
	if err := txn.pin(data); err != nil {
		e.lockFile.releaseReaderSlot(slot)
		e.exitTxn()
		return nil, err
	}
	return txn, nil
}

// beginWriteTxn starts a top-level write transaction.
func (e *Env) beginWriteTxn(flags uint) (*Txn, error) {
	if e.flags&ReadOnly != 0 {
		return nil, NewError(ErrPermissionDenied)
	}

	if flags&TxnTry != 0 {
		if !e.writeMu.TryLock() {
			return nil, NewError(ErrBusy)
		}
	} else {
		e.writeMu.Lock()
	}

	data, err := e.enterTxn()
	if err != nil {
		e.writeMu.Unlock()
		return nil, err
	}

	if flags&TxnTry != 0 {
		ok, err := e.lockFile.tryLockWriter()
		if err == nil && !ok {
			err = NewError(ErrBusy)
		}
		if err != nil {
			e.exitTxn()
			e.writeMu.Unlock()
			return nil, WrapError(ErrBusy, err)
		}
	} else if err := e.lockFile.lockWriter(); err != nil {
		e.exitTxn()
		e.writeMu.Unlock()
		return nil, WrapError(ErrBusy, err)
	}

	fail := func(err error) (*Txn, error) {
		e.lockFile.unlockWriter()
		e.exitTxn()
		e.writeMu.Unlock()
		return nil, err
	}

	m, err := e.readMeta(data)
	if err != nil {
		return fail(err)
	}
	if data, err = e.ensureMapped(m); err != nil {
		return fail(err)
	}
	e.mu.Lock()
	if fi, err := e.dataFile.Stat(); err == nil {
		e.fileSize = fi.Size()
	}
	// Another process may have grown the map.
	if int64(m.mapSize) > e.mapSize {
		e.mapSize = int64(m.mapSize)
	}
	mapSize := e.mapSize
	e.mu.Unlock()

	txn := &Txn{
		signature: txnSignature,
		env:       e,
		flags:     flags &^ TxnTry,
		slot:      -1,
		id:        m.txnid + 1,
		meta:      m,
		data:      data,
		pageSize:  e.pageSize,
		dirty:     &fastmap.Uint32Map[page]{},
		nextPgno:  m.nextPgno,
		consumed:  make(map[gcKey]struct{}),
	}
	txn.maxPgno = pgno(min(mapSize/int64(e.pageSize), int64(invalidPgno)))
	txn.initDBs()
	return txn, nil
}

// Stat returns statistics of the main database.
func (e *Env) Stat() (*Stat, error) {
	if !e.valid() || e.dataMap == nil {
		return nil, NewError(ErrInvalid)
	}
	txn, err := e.BeginTxn(nil, TxnReadOnly)
	if err != nil {
		return nil, err
	}
	defer txn.Abort()
	return txn.Stat(MainDBI)
}

// EnvInfoGeo describes the data file geometry in bytes.
type EnvInfoGeo struct {
	Lower   uint64 // Size of the two meta pages
	Upper   uint64 // Map size
	Current uint64 // Current data file size
	Grow    uint64 // Growth step
}

// EnvInfo holds environment information.
type EnvInfo struct {
	Geo               EnvInfoGeo
	MapSize           int64
	LastPgNo          int64
	LastTxnID         uint64
	LatterReaderTxnID uint64
	MetaTxnIDs        [numMetas]uint64
	MaxReaders        uint32
	NumReaders        uint32
	PageSize          uint32
	SystemPageSize    uint32
	Flags             uint32
}

// Info returns environment information. If txn is non-nil its snapshot is
// reported; otherwise the latest committed state.
func (e *Env) Info(txn *Txn) (*EnvInfo, error) {
	if !e.valid() || e.dataMap == nil {
		return nil, NewError(ErrInvalid)
	}

	var m *meta
	if txn != nil && txn.meta != nil {
		m = txn.meta
	} else {
		e.mu.Lock()
		cur, err := e.readMeta(e.dataMap.Data())
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
		m = cur
	}

	mapSize, fileSize := e.geometry()
	info := &EnvInfo{
		Geo: EnvInfoGeo{
			Lower:   uint64(numMetas) * uint64(e.pageSize),
			Upper:   uint64(mapSize),
			Current: uint64(fileSize),
			Grow:    uint64(e.growStep),
		},
		MapSize:        mapSize,
		LastPgNo:       int64(m.nextPgno) - 1,
		LastTxnID:      uint64(m.txnid),
		MaxReaders:     e.MaxReaders(),
		NumReaders:     uint32(e.lockFile.numActiveReaders()),
		PageSize:       e.pageSize,
		SystemPageSize: uint32(sysPageSize),
		Flags:          uint32(e.flags),
	}

	oldest := e.lockFile.oldestReader()
	if oldest == txnid(slotParked) {
		oldest = m.txnid
	}
	info.LatterReaderTxnID = uint64(oldest)

	data := e.dataMap.Data()
	ps := int(e.pageSize)
	for i := 0; i < numMetas; i++ {
		if mm, err := decodeMeta(page(data[i*ps : (i+1)*ps])); err == nil {
			info.MetaTxnIDs[i] = uint64(mm.txnid)
		}
	}
	return info, nil
}

// ReaderInfo describes one occupied reader slot.
type ReaderInfo struct {
	Slot   int
	TxnID  uint64
	PID    int
	Thread uint64
	Parked bool
}

// ReaderList calls fn for every occupied reader slot.
func (e *Env) ReaderList(fn func(info ReaderInfo) error) error {
	if !e.valid() || e.lockFile == nil {
		return NewError(ErrInvalid)
	}
	for i := range e.lockFile.slots {
		s := &e.lockFile.slots[i]
		id := s.txnid.Load()
		if id == 0 {
			continue
		}
		info := ReaderInfo{
			Slot:   i,
			TxnID:  id,
			PID:    int(s.pid.Load()),
			Thread: s.tid.Load(),
			Parked: id == slotParked,
		}
		if info.Parked {
			info.TxnID = 0
		}
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

// ReaderCheck clears reader slots owned by dead processes and returns the
// number of slots cleared.
func (e *Env) ReaderCheck() (int, error) {
	if !e.valid() || e.lockFile == nil {
		return 0, NewError(ErrInvalid)
	}
	n := e.lockFile.cleanupStaleReaders()
	if n > 0 {
		e.logger.Warn("cleared stale readers", slog.String("env", string(e.label)), slog.Int("count", n))
	}
	return n, nil
}

// FD returns the data file descriptor.
func (e *Env) FD() (uintptr, error) {
	if !e.valid() || e.dataFile == nil {
		return 0, NewError(ErrInvalid)
	}
	return e.dataFile.Fd(), nil
}

// CloseDBI releases a database handle. Handles of secondary indexes keep
// their association until the handle is closed.
func (e *Env) CloseDBI(db DBI) {
	if db < CoreDBs {
		return
	}
	e.dbisMu.Lock()
	defer e.dbisMu.Unlock()
	e.closeDBILocked(db)
}

func (e *Env) closeDBILocked(db DBI) {
	if int(db) >= len(e.dbis) || e.dbis[db] == nil {
		return
	}
	info := e.dbis[db]
	if info.isSecondary {
		if p := e.dbis[info.primary]; p != nil {
			p.secondaries = removeDBI(p.secondaries, db)
		}
	}
	for _, s := range info.secondaries {
		if si := e.dbis[s]; si != nil {
			si.isSecondary = false
			si.keyCreator = nil
		}
	}
	e.dbis[db] = nil
}

func removeDBI(list []DBI, db DBI) []DBI {
	for i, d := range list {
		if d == db {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// dbiInfo returns the handle record, or nil if the handle is not open.
func (e *Env) dbiInfo(db DBI) *dbiInfo {
	e.dbisMu.RLock()
	defer e.dbisMu.RUnlock()
	if int(db) >= len(e.dbis) {
		return nil
	}
	return e.dbis[db]
}

func alignUp(v, align int64) int64 {
	return (v + align - 1) / align * align
}
