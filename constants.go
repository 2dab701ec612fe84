package mvkv

// Page geometry
const (
	// DefaultPageSize is the default database page size.
	DefaultPageSize = 4096

	// MinPageSize is the minimum allowed page size.
	MinPageSize = 256

	// MaxPageSize is the maximum allowed page size.
	MaxPageSize = 65536

	// pageHeaderSize is the size of the page header in bytes.
	pageHeaderSize = 24

	// nodeHeaderSize is the size of a node header in bytes.
	nodeHeaderSize = 8

	// numMetas is the number of meta pages at the start of the file.
	numMetas = 2

	// CursorStackSize is the maximum tree depth a cursor can track.
	CursorStackSize = 32
)

// Geometry defaults
const (
	// DefaultMapSize is the default upper bound of the data file.
	DefaultMapSize = 1 << 30

	// DefaultGrowStep is the default data file growth increment.
	DefaultGrowStep = 1 << 20

	// DefaultMaxReaders is the default number of reader slots.
	DefaultMaxReaders = 126

	// DefaultMaxDBs is the default number of named databases.
	DefaultMaxDBs = 16

	// MaxDBI is the hard limit on open database handles.
	MaxDBI = 32765

	// maxDirtyPages caps the number of pages a write transaction may dirty.
	maxDirtyPages = 1 << 18
)

// Tuning
const (
	// fillThreshold is the fill percentage below which a page is rebalanced.
	fillThreshold = 25

	// dupSubPageDivisor bounds inline duplicate sets to payload/divisor bytes.
	dupSubPageDivisor = 4

	// gcChunkDivisor bounds a single GC record to payload/divisor bytes.
	gcChunkDivisor = 4

	// gcReuseRounds is how many GC rewrite rounds may take recycled pages
	// before the rewrite only extends the file.
	gcReuseRounds = 8
)

// DBI is a database handle.
type DBI uint32

// Core database handles
const (
	// FreeDBI is the free-list (GC) database.
	FreeDBI DBI = 0

	// MainDBI is the main database that also catalogs named databases.
	MainDBI DBI = 1

	// CoreDBs is the number of core databases.
	CoreDBs = 2
)

// Environment flags
const (
	// EnvDefaults is the default environment configuration.
	EnvDefaults = 0

	// NoSubdir treats the path as the data file rather than a directory.
	NoSubdir = 0x4000

	// ReadOnly opens the environment in read-only mode.
	ReadOnly = 0x20000

	// NoMetaSync skips the fsync after writing the meta page.
	NoMetaSync = 0x40000

	// SafeNoSync skips every fsync on commit; Env.Sync flushes later.
	SafeNoSync = 0x10000

	// UtterlyNoSync is SafeNoSync without any later guarantee.
	UtterlyNoSync = SafeNoSync | 0x100000

	// LifoReclaim reuses the most recently freed pages first.
	LifoReclaim = 0x4000000

	// Durable syncs data and meta pages on every commit.
	Durable = 0
)

// Transaction flags
const (
	// TxnReadWrite begins a read-write transaction.
	TxnReadWrite = 0

	// TxnReadOnly begins a read-only transaction.
	TxnReadOnly = 0x20000

	// Readonly is an alias for TxnReadOnly.
	Readonly = TxnReadOnly

	// TxnTry fails with ErrBusy instead of waiting for the writer lock.
	TxnTry = 0x10000000

	// TxnNoSync skips all fsyncs for this commit.
	TxnNoSync = 0x10000

	// TxnNoMetaSync skips the meta fsync for this commit.
	TxnNoMetaSync = 0x40000
)

// Database flags
const (
	// DBDefaults is the default database configuration.
	DBDefaults = 0

	// ReverseKey sorts keys in descending byte order.
	ReverseKey = 0x02

	// DupSort allows sorted duplicate values per key.
	DupSort = 0x04

	// IntegerKey compares keys as native unsigned 32 or 64 bit integers.
	IntegerKey = 0x08

	// DupFixed marks duplicates as fixed size (requires DupSort).
	DupFixed = 0x10

	// IntegerDup compares duplicates as native unsigned integers.
	IntegerDup = 0x20

	// ReverseDup sorts duplicates in descending byte order.
	ReverseDup = 0x40

	// Create creates the database if it does not exist.
	Create = 0x40000

	// Populate fills a newly created secondary from its primary.
	Populate = 0x100000

	// persistentDBFlags are the flags stored in the tree record.
	persistentDBFlags = ReverseKey | DupSort | IntegerKey | DupFixed | IntegerDup | ReverseDup
)

// Put flags
const (
	// Upsert inserts or replaces.
	Upsert = 0

	// NoOverwrite fails if the key already exists.
	NoOverwrite = 0x10

	// NoDupData fails if the key/value pair already exists.
	NoDupData = 0x20

	// Current replaces the item at the cursor position.
	Current = 0x40

	// AllDups replaces all duplicates of the key.
	AllDups = 0x80

	// Reserve reserves space for the value and returns it.
	Reserve = 0x10000

	// Append appends at the end of the database.
	Append = 0x20000

	// AppendDup appends at the end of the duplicate set.
	AppendDup = 0x40000
)

// Copy flags
const (
	// CopyDefaults copies pages as they are.
	CopyDefaults = 0

	// CopyCompact rewrites the trees and omits free pages.
	CopyCompact = 0x01
)

// Cursor operations
const (
	First = iota
	FirstDup
	GetBoth
	GetBothRange
	GetCurrent
	GetMultiple
	Last
	LastDup
	Next
	NextDup
	NextMultiple
	NextNoDup
	Prev
	PrevDup
	PrevNoDup
	Set
	SetKey
	SetRange
	SetLowerbound
)

// File names
const (
	// DataFileName is the data file inside an environment directory.
	DataFileName = "mvkv.dat"

	// LockFileName is the lock file inside an environment directory.
	LockFileName = "mvkv.lck"

	// LockSuffix is appended to the data path with NoSubdir.
	LockSuffix = "-lck"
)
