//go:build unix

package mvkv

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Giulio2002/mvkv/mmap"
)

// cachedPID is the process ID, cached at init.
var cachedPID = uint32(os.Getpid())

const (
	lockMagic   uint64 = 0x4D564B564C434B01
	lockVersion uint32 = 1

	// readerSlotSize is the size of each reader slot.
	readerSlotSize = 32

	// lockHeaderSize is the size of the lock file header.
	lockHeaderSize = 64

	// slotParked marks a claimed slot that pins nothing.
	slotParked = ^uint64(0)
)

// readerSlot is one reader entry in the shared lock file.
//
//	Offset  Size  Field
//	0       8     txnid: 0 free, ^0 claimed but not pinning
//	8       8     tid
//	16      4     pid
//	20      12    reserved
type readerSlot struct {
	txnid atomic.Uint64
	tid   atomic.Uint64
	pid   atomic.Uint32
	_     [12]byte
}

// lockHeader is the lock file header.
type lockHeader struct {
	magic      uint64
	version    uint32
	maxReaders uint32
	_          [48]byte
}

// lockFile manages the lock file and reader slots.
type lockFile struct {
	file       *os.File
	m          *mmap.Map
	header     *lockHeader
	slots      []readerSlot
	writerLock bool

	// LIFO stack of slot indices this process released.
	freeSlots []int32
	freeMu    sync.Mutex
}

// openLockFile opens or creates the lock file at path. An empty file is
// initialized under an exclusive flock.
func openLockFile(path string, maxReaders int, create bool) (*lockFile, error) {
	if maxReaders <= 0 {
		maxReaders = DefaultMaxReaders
	}
	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, &lockError{"open", err}
	}
	lf := &lockFile{file: f}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &lockError{"stat", err}
	}
	if fi.Size() < lockHeaderSize {
		if err := lf.initialize(maxReaders); err != nil {
			f.Close()
			return nil, err
		}
	}
	if err := lf.mmap(); err != nil {
		f.Close()
		return nil, err
	}
	if lf.header.magic != lockMagic || lf.header.version != lockVersion {
		lf.close()
		return nil, errLockInvalidFile
	}
	return lf, nil
}

// initialize sizes a new lock file and writes its header.
func (lf *lockFile) initialize(maxReaders int) error {
	fd := int(lf.file.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return &lockError{"init lock", err}
	}
	defer unix.Flock(fd, unix.LOCK_UN)

	// Another process may have won the race.
	fi, err := lf.file.Stat()
	if err != nil {
		return &lockError{"stat", err}
	}
	if fi.Size() >= lockHeaderSize {
		return nil
	}

	size := int64(lockHeaderSize + maxReaders*readerSlotSize)
	if err := lf.file.Truncate(size); err != nil {
		return &lockError{"truncate", err}
	}
	var hdr [lockHeaderSize]byte
	le.PutUint64(hdr[0:], lockMagic)
	le.PutUint32(hdr[8:], lockVersion)
	le.PutUint32(hdr[12:], uint32(maxReaders))
	if _, err := lf.file.WriteAt(hdr[:], 0); err != nil {
		return &lockError{"write header", err}
	}
	return nil
}

// mmap maps the lock file and carves out the reader slots.
func (lf *lockFile) mmap() error {
	fi, err := lf.file.Stat()
	if err != nil {
		return &lockError{"stat", err}
	}
	m, err := mmap.New(int(lf.file.Fd()), fi.Size(), true)
	if err != nil {
		return &lockError{"mmap", err}
	}
	data := m.Data()
	lf.m = m
	lf.header = (*lockHeader)(unsafe.Pointer(&data[0]))

	n := min(int(lf.header.maxReaders), (len(data)-lockHeaderSize)/readerSlotSize)
	if n > 0 {
		lf.slots = unsafe.Slice((*readerSlot)(unsafe.Pointer(&data[lockHeaderSize])), n)
	}
	return nil
}

func (lf *lockFile) close() error {
	if lf.writerLock {
		lf.unlockWriter()
	}
	if lf.m != nil {
		lf.m.Close()
		lf.m = nil
		lf.slots = nil
		lf.header = nil
	}
	return lf.file.Close()
}

// lockWriter acquires the cross-process writer lock.
func (lf *lockFile) lockWriter() error {
	if err := unix.Flock(int(lf.file.Fd()), unix.LOCK_EX); err != nil {
		return &lockError{"acquire writer lock", err}
	}
	lf.writerLock = true
	return nil
}

// tryLockWriter attempts to acquire the writer lock without blocking.
func (lf *lockFile) tryLockWriter() (bool, error) {
	err := unix.Flock(int(lf.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return false, nil
		}
		return false, &lockError{"try writer lock", err}
	}
	lf.writerLock = true
	return true, nil
}

func (lf *lockFile) unlockWriter() error {
	if !lf.writerLock {
		return nil
	}
	if err := unix.Flock(int(lf.file.Fd()), unix.LOCK_UN); err != nil {
		return &lockError{"release writer lock", err}
	}
	lf.writerLock = false
	return nil
}

// acquireReaderSlot claims a free slot. The slot starts parked.
func (lf *lockFile) acquireReaderSlot(tid uint64) (int, error) {
	lf.freeMu.Lock()
	for len(lf.freeSlots) > 0 {
		idx := lf.freeSlots[len(lf.freeSlots)-1]
		lf.freeSlots = lf.freeSlots[:len(lf.freeSlots)-1]
		if lf.claim(int(idx), tid) {
			lf.freeMu.Unlock()
			return int(idx), nil
		}
	}
	lf.freeMu.Unlock()

	for i := range lf.slots {
		if lf.slots[i].txnid.Load() == 0 && lf.claim(i, tid) {
			return i, nil
		}
	}
	return -1, errLockReadersFull
}

func (lf *lockFile) claim(idx int, tid uint64) bool {
	s := &lf.slots[idx]
	if !s.txnid.CompareAndSwap(0, slotParked) {
		return false
	}
	s.pid.Store(cachedPID)
	s.tid.Store(tid)
	return true
}

// releaseReaderSlot frees a slot and remembers it for fast reuse.
func (lf *lockFile) releaseReaderSlot(idx int) {
	s := &lf.slots[idx]
	s.tid.Store(0)
	s.pid.Store(0)
	s.txnid.Store(0)

	lf.freeMu.Lock()
	lf.freeSlots = append(lf.freeSlots, int32(idx))
	lf.freeMu.Unlock()
}

func (lf *lockFile) setReaderTxnid(idx int, id txnid) {
	lf.slots[idx].txnid.Store(uint64(id))
}

// oldestReader returns the smallest pinned txnid, or ^0 if none.
func (lf *lockFile) oldestReader() txnid {
	oldest := ^uint64(0)
	for i := range lf.slots {
		id := lf.slots[i].txnid.Load()
		if id != 0 && id != slotParked && id < oldest {
			oldest = id
		}
	}
	return txnid(oldest)
}

// numActiveReaders counts slots that pin a snapshot.
func (lf *lockFile) numActiveReaders() int {
	n := 0
	for i := range lf.slots {
		id := lf.slots[i].txnid.Load()
		if id != 0 && id != slotParked {
			n++
		}
	}
	return n
}

// cleanupStaleReaders frees slots owned by processes that no longer exist.
func (lf *lockFile) cleanupStaleReaders() int {
	cleaned := 0
	for i := range lf.slots {
		s := &lf.slots[i]
		id := s.txnid.Load()
		if id == 0 {
			continue
		}
		pid := s.pid.Load()
		if pid == 0 || pid == cachedPID {
			continue
		}
		if !processExists(int(pid)) && s.txnid.CompareAndSwap(id, 0) {
			s.pid.Store(0)
			s.tid.Store(0)
			cleaned++
		}
	}
	return cleaned
}

// processExists checks if a process exists.
func processExists(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Lock file errors
var (
	errLockInvalidFile = &lockError{"invalid lock file", nil}
	errLockReadersFull = &lockError{"reader slots full", nil}
)

type lockError struct {
	op  string
	err error
}

func (e *lockError) Error() string {
	if e.err != nil {
		return "lock: " + e.op + ": " + e.err.Error()
	}
	return "lock: " + e.op
}

func (e *lockError) Unwrap() error {
	return e.err
}
