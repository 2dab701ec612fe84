//go:build unix

package mvkv

import (
	"bytes"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/Giulio2002/mvkv/internal/fastmap"
)

// txnSignature is the magic number for valid transactions
const txnSignature uint32 = 0x4D564B54 // "MVKT"

type txnState uint8

const (
	txnActive txnState = iota
	txnReset
	txnCommitted
	txnAborted
)

// Per-transaction database state
const (
	dbDirty uint8 = 1 << iota
	dbCreated
	dbDeleted
)

// txnDB is a transaction's view of one database.
type txnDB struct {
	tree  tree
	name  string
	state uint8
}

// writeBatchSize bounds a single positioned write at commit.
const writeBatchSize = 4 << 20

// Txn is a read-only or read-write transaction.
type Txn struct {
	signature uint32
	env       *Env
	parent    *Txn
	child     *Txn
	flags     uint
	state     txnState
	id        txnid
	meta      *meta
	data      []byte
	pageSize  uint32
	entered   bool // counted in env.activeTxns

	// err poisons a write transaction after a fatal failure.
	err error

	dbs         []*txnDB
	createdDBIs []DBI
	droppedDBIs []DBI
	renames     []dbiRename
	cursors     []*Cursor
	gen         uint64

	// Read transaction state
	slot int

	// Write transaction state, see alloc.go and freelist.go.
	dirty     *fastmap.Uint32Map[page]
	nextPgno  pgno
	maxPgno   pgno
	loose     []pgno
	freed     []pgno
	reclaimed []pgno
	consumed  map[gcKey]struct{}
	gcPhase   bool
	gcExtend  bool
	gcDrained bool

	userCtx any
}

// valid returns true if the transaction is valid.
func (txn *Txn) valid() bool {
	return txn != nil && txn.signature == txnSignature
}

// check validates that the transaction may be used, for writing if write.
func (txn *Txn) check(write bool) error {
	if !txn.valid() {
		return NewError(ErrBadTxn)
	}
	switch txn.state {
	case txnActive:
	case txnReset:
		return NewError(ErrTxnReset)
	default:
		return NewError(ErrBadTxn)
	}
	if txn.child != nil {
		return NewError(ErrBadTxn)
	}
	if write {
		if txn.IsReadOnly() {
			return NewError(ErrPermissionDenied)
		}
		if txn.err != nil {
			return WrapError(ErrBadTxn, txn.err)
		}
	}
	return nil
}

// fail records a fatal error so that Commit refuses the transaction.
func (txn *Txn) fail(err error) error {
	if err != nil && !txn.IsReadOnly() && txn.err == nil && fatal(err) {
		txn.err = err
		txn.env.debug("transaction failed", slog.Uint64("txnid", uint64(txn.id)), slog.Any("err", err))
	}
	return err
}

// Env returns the transaction's environment.
func (txn *Txn) Env() *Env {
	return txn.env
}

// ID returns the transaction ID. A write transaction reports the id it
// will commit as; a reader reports the snapshot it sees.
func (txn *Txn) ID() uint64 {
	return uint64(txn.id)
}

// IsReadOnly returns true if this is a read-only transaction.
func (txn *Txn) IsReadOnly() bool {
	return txn.flags&TxnReadOnly != 0
}

// Parent returns the parent of a nested transaction.
func (txn *Txn) Parent() *Txn {
	return txn.parent
}

// pin publishes the current meta in the reader slot and re-checks it, so
// that a writer scanning the slots either sees the pin or has not yet
// retired anything the snapshot can reach.
func (txn *Txn) pin(data []byte) error {
	e := txn.env
	for {
		m, err := e.readMeta(data)
		if err != nil {
			return err
		}
		e.lockFile.setReaderTxnid(txn.slot, m.txnid)
		cur, err := e.readMeta(data)
		if err != nil {
			return err
		}
		if cur.txnid != m.txnid {
			continue
		}
		if int64(m.nextPgno)*int64(m.pageSize) > int64(len(data)) {
			if data, err = e.ensureMapped(m); err != nil {
				e.lockFile.setReaderTxnid(txn.slot, txnid(slotParked))
				return err
			}
		}
		txn.meta = m
		txn.id = m.txnid
		txn.data = data
		txn.state = txnActive
		txn.entered = true
		txn.initDBs()
		return nil
	}
}

// initDBs resets the database views to the pinned meta.
func (txn *Txn) initDBs() {
	txn.dbs = append(txn.dbs[:0],
		&txnDB{tree: txn.meta.gc, name: "@gc"},
		&txnDB{tree: txn.meta.main})
}

// beginChild starts a nested write transaction.
func (txn *Txn) beginChild(flags uint) (*Txn, error) {
	if err := txn.check(true); err != nil {
		return nil, err
	}
	if flags&TxnReadOnly != 0 {
		return nil, NewError(ErrIncompatible)
	}

	child := &Txn{
		signature: txnSignature,
		env:       txn.env,
		parent:    txn,
		flags:     txn.flags | flags&^TxnTry,
		id:        txn.id,
		meta:      txn.meta,
		data:      txn.data,
		pageSize:  txn.pageSize,
		slot:      -1,
		dirty:     &fastmap.Uint32Map[page]{},
		nextPgno:  txn.nextPgno,
		maxPgno:   txn.maxPgno,
		loose:     slices.Clone(txn.loose),
		freed:     slices.Clone(txn.freed),
		reclaimed: slices.Clone(txn.reclaimed),
		consumed:  maps.Clone(txn.consumed),
		gcDrained: txn.gcDrained,
	}
	child.dbs = make([]*txnDB, len(txn.dbs))
	for i, d := range txn.dbs {
		if d != nil {
			cp := *d
			child.dbs[i] = &cp
		}
	}
	txn.child = child
	return child, nil
}

// lookupDB reads a named database record from MAIN.
func (txn *Txn) lookupDB(name string) (tree, error) {
	main := txn.dbs[MainDBI]
	n, err := txn.findNode(&main.tree, txn.env.dbis[MainDBI].cmp, []byte(name))
	if err != nil {
		return tree{}, err
	}
	if !n.isSubDB() {
		return tree{}, NewError(ErrIncompatible)
	}
	return decodeTree(n.data())
}

// db returns the transaction's view of dbi, loading it on first use.
func (txn *Txn) db(dbi DBI) (*txnDB, *dbiInfo, error) {
	info := txn.env.dbiInfo(dbi)
	if info == nil {
		return nil, nil, NewError(ErrBadDBI)
	}
	for int(dbi) >= len(txn.dbs) {
		txn.dbs = append(txn.dbs, nil)
	}
	d := txn.dbs[dbi]
	if d != nil && dbi >= CoreDBs && d.name != info.name {
		// The handle was closed and reused for another database.
		d = nil
	}
	if d == nil {
		tr, err := txn.lookupDB(info.name)
		if err != nil {
			if IsNotFound(err) {
				return nil, nil, NewError(ErrBadDBI)
			}
			return nil, nil, err
		}
		d = &txnDB{tree: tr, name: info.name}
		txn.dbs[dbi] = d
	}
	if d.state&dbDeleted != 0 {
		return nil, nil, NewError(ErrBadDBI)
	}
	return d, info, nil
}

// getPage resolves a page through the dirty tables of this transaction
// and its ancestors, then the map.
func (txn *Txn) getPage(pg pgno) (page, error) {
	if txn.dirty != nil {
		for t := txn; t != nil; t = t.parent {
			if p, ok := t.dirty.Get(uint32(pg)); ok {
				return p, nil
			}
		}
	}
	if pg >= txn.meta.nextPgno || pg < numMetas {
		return nil, NewError(ErrPageNotFound)
	}
	ps := int(txn.pageSize)
	off := int(pg) * ps
	if off+ps > len(txn.data) {
		return nil, NewError(ErrPageNotFound)
	}
	p := page(txn.data[off : off+ps])
	if err := p.check(pg); err != nil {
		return nil, err
	}
	if p.isOverflow() {
		n := p.overflowPages()
		if n < 1 || off+n*ps > len(txn.data) || pg+pgno(n) > txn.meta.nextPgno {
			return nil, NewError(ErrCorrupted)
		}
		p = page(txn.data[off : off+n*ps])
	}
	return p, nil
}

// findNode descends tr to the leaf node holding key.
func (txn *Txn) findNode(tr *tree, cmp CmpFunc, key []byte) (node, error) {
	if tr.isEmpty() {
		return nil, ErrNotFoundError
	}
	p, err := txn.getPage(tr.root)
	if err != nil {
		return nil, err
	}
	for depth := 0; p.isBranch(); depth++ {
		if depth >= CursorStackSize {
			return nil, NewError(ErrCursorFull)
		}
		i := p.searchBranch(key, cmp)
		if p, err = txn.getPage(p.node(i).child()); err != nil {
			return nil, err
		}
	}
	i, ok := p.searchLeaf(key, cmp)
	if !ok {
		return nil, ErrNotFoundError
	}
	return p.node(i), nil
}

// nodeData returns the value of a leaf node, following overflow pages.
func (txn *Txn) nodeData(n node) ([]byte, error) {
	if !n.isBig() {
		return n.data(), nil
	}
	p, err := txn.getPage(n.bigPgno())
	if err != nil {
		return nil, err
	}
	if !p.isOverflow() || pageHeaderSize+n.dsize() > len(p) {
		return nil, NewError(ErrCorrupted)
	}
	return p.overflowData(n.dsize()), nil
}

// CommitLatency reports the time spent in each commit stage.
type CommitLatency struct {
	Preparation time.Duration
	GCWallClock time.Duration
	Write       time.Duration
	Sync        time.Duration
	Ending      time.Duration
	Whole       time.Duration
}

// Commit commits the transaction and returns latency information.
// A pending child is committed first.
func (txn *Txn) Commit() (CommitLatency, error) {
	var lat CommitLatency
	if !txn.valid() {
		return lat, NewError(ErrBadTxn)
	}
	start := time.Now()

	if txn.child != nil {
		if _, err := txn.child.Commit(); err != nil {
			txn.Abort()
			return lat, err
		}
	}
	if txn.state != txnActive && txn.state != txnReset {
		return lat, NewError(ErrBadTxn)
	}

	if txn.IsReadOnly() {
		txn.end(txnCommitted)
		return lat, nil
	}
	if txn.err != nil {
		err := WrapError(ErrBadTxn, txn.err)
		txn.Abort()
		return lat, err
	}

	var err error
	if txn.parent != nil {
		txn.commitChild()
	} else if err = txn.commitTop(&lat); err == nil {
		txn.closeDropped()
	}
	if err != nil {
		txn.Abort()
		return lat, err
	}

	ending := time.Now()
	txn.end(txnCommitted)
	lat.Ending = time.Since(ending)
	lat.Whole = time.Since(start)
	return lat, nil
}

// commitChild merges a nested transaction into its parent.
func (txn *Txn) commitChild() {
	p := txn.parent
	txn.dirty.ForEach(func(pg uint32, buf page) {
		p.dirty.Set(pg, buf)
	})
	for _, pg := range txn.loose {
		p.dirty.Delete(uint32(pg))
	}
	p.nextPgno = txn.nextPgno
	p.loose = txn.loose
	p.freed = txn.freed
	p.reclaimed = txn.reclaimed
	p.consumed = txn.consumed
	p.gcDrained = txn.gcDrained

	for i, d := range txn.dbs {
		for i >= len(p.dbs) {
			p.dbs = append(p.dbs, nil)
		}
		switch {
		case d == nil:
		case p.dbs[i] != nil:
			*p.dbs[i] = *d
		default:
			p.dbs[i] = d
		}
	}
	p.createdDBIs = append(p.createdDBIs, txn.createdDBIs...)
	p.droppedDBIs = append(p.droppedDBIs, txn.droppedDBIs...)
	p.renames = append(p.renames, txn.renames...)
	txn.createdDBIs = nil
	txn.droppedDBIs = nil
	txn.renames = nil
}

// commitTop runs the commit pipeline of a top-level write transaction.
func (txn *Txn) commitTop(lat *CommitLatency) error {
	e := txn.env
	start := time.Now()

	txn.closeCursors()
	if err := txn.flushDBRecords(); err != nil {
		return err
	}
	lat.Preparation = time.Since(start)

	gcStart := time.Now()
	if err := txn.updateGC(); err != nil {
		return err
	}
	lat.GCWallClock = time.Since(gcStart)

	if txn.dirty.Len() == 0 && txn.dbs[MainDBI].state&dbDirty == 0 && txn.dbs[FreeDBI].state&dbDirty == 0 {
		return nil
	}

	writeStart := time.Now()
	ps := int64(txn.pageSize)
	mapSize, fileSize := e.geometry()
	if need := int64(txn.nextPgno) * ps; need > fileSize {
		size := max(min(alignUp(need, e.growStep), mapSize), need)
		if err := e.dataFile.Truncate(size); err != nil {
			return WrapError(ErrProblem, err)
		}
		e.mu.Lock()
		e.fileSize = size
		e.mu.Unlock()
	}
	if err := txn.writeDirtyPages(); err != nil {
		return err
	}
	lat.Write = time.Since(writeStart)

	syncStart := time.Now()
	noSync := e.flags&SafeNoSync != 0 || txn.flags&TxnNoSync != 0
	noMetaSync := noSync || e.flags&NoMetaSync != 0 || txn.flags&TxnNoMetaSync != 0
	if !noSync {
		if err := fdatasync(e.dataFile); err != nil {
			return WrapError(ErrProblem, err)
		}
	}

	m := &meta{
		txnid:    txn.id,
		pageSize: txn.pageSize,
		mapSize:  uint64(mapSize),
		nextPgno: txn.nextPgno,
		gc:       txn.dbs[FreeDBI].tree,
		main:     txn.dbs[MainDBI].tree,
	}
	buf := make(page, txn.pageSize)
	m.encode(buf)
	if _, err := e.dataFile.WriteAt(buf, int64(metaSlot(txn.id))*ps); err != nil {
		return WrapError(ErrProblem, err)
	}
	if !noMetaSync {
		if err := fdatasync(e.dataFile); err != nil {
			return WrapError(ErrProblem, err)
		}
	}
	lat.Sync = time.Since(syncStart)

	e.debug("commit",
		slog.Uint64("txnid", uint64(txn.id)),
		slog.Int("dirty", txn.dirty.Len()),
		slog.Int("retired", len(txn.freed)),
		slog.Uint64("next_pgno", uint64(txn.nextPgno)))
	return nil
}

// flushDBRecords stores the records of modified named databases in MAIN.
func (txn *Txn) flushDBRecords() error {
	for i := CoreDBs; i < len(txn.dbs); i++ {
		d := txn.dbs[i]
		if d == nil || d.state&dbDirty == 0 || d.state&dbDeleted != 0 {
			continue
		}
		if err := txn.putDBRecord(d); err != nil {
			return err
		}
		d.state &^= dbDirty
	}
	return nil
}

func (txn *Txn) putDBRecord(d *txnDB) error {
	c, err := txn.newCursor(MainDBI)
	if err != nil {
		return err
	}
	d.tree.modTxnid = txn.id
	_, err = c.put([]byte(d.name), d.tree.bytes(), subDBRecord)
	return err
}

// writeDirtyPages writes every dirty page in pgno order, coalescing
// adjacent pages into larger writes.
func (txn *Txn) writeDirtyPages() error {
	f := txn.env.dataFile
	ps := int64(txn.pageSize)
	keys := txn.dirty.Keys()
	slices.Sort(keys)

	batch := make([]byte, 0, min(writeBatchSize, len(keys)*int(ps)))
	var batchOff int64
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := f.WriteAt(batch, batchOff); err != nil {
			return WrapError(ErrProblem, err)
		}
		batch = batch[:0]
		return nil
	}

	for _, k := range keys {
		p, _ := txn.dirty.Get(k)
		p.setTxnid(txn.id)
		off := int64(k) * ps
		if len(batch) > 0 && off == batchOff+int64(len(batch)) && len(batch)+len(p) <= writeBatchSize {
			batch = append(batch, p...)
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		if len(p) >= writeBatchSize {
			if _, err := f.WriteAt(p, off); err != nil {
				return WrapError(ErrProblem, err)
			}
			continue
		}
		batchOff = off
		batch = append(batch, p...)
	}
	return flush()
}

// Abort discards the transaction. Aborting a parent aborts its child.
func (txn *Txn) Abort() {
	if !txn.valid() || txn.state == txnCommitted || txn.state == txnAborted {
		return
	}
	if txn.child != nil {
		txn.child.Abort()
	}
	if !txn.IsReadOnly() {
		txn.undoDrops()
		txn.undoRenames()
		txn.env.dbisMu.Lock()
		for _, dbi := range txn.createdDBIs {
			txn.env.closeDBILocked(dbi)
		}
		txn.env.dbisMu.Unlock()
		txn.createdDBIs = nil
	}
	txn.end(txnAborted)
}

// end releases everything the transaction holds.
func (txn *Txn) end(state txnState) {
	txn.closeCursors()
	e := txn.env
	if txn.parent != nil {
		txn.parent.child = nil
		txn.parent.gen++
	} else if txn.IsReadOnly() {
		if txn.slot >= 0 {
			e.lockFile.releaseReaderSlot(txn.slot)
			txn.slot = -1
		}
	} else {
		e.lockFile.unlockWriter()
		e.writeMu.Unlock()
	}
	if txn.parent == nil && (txn.entered || !txn.IsReadOnly()) {
		e.exitTxn()
	}
	txn.entered = false
	txn.state = state
	txn.signature = 0
	txn.dirty = nil
	txn.data = nil
}

// Reset releases the snapshot of a read-only transaction while keeping
// the handle and its reader slot for Renew.
func (txn *Txn) Reset() {
	if !txn.valid() || !txn.IsReadOnly() || txn.state != txnActive {
		return
	}
	txn.env.lockFile.setReaderTxnid(txn.slot, txnid(slotParked))
	txn.state = txnReset
	txn.data = nil
	txn.gen++
	if txn.entered {
		txn.entered = false
		txn.env.exitTxn()
	}
}

// Renew pins the latest snapshot on a reset read-only transaction.
func (txn *Txn) Renew() error {
	if !txn.valid() || !txn.IsReadOnly() {
		return NewError(ErrBadTxn)
	}
	if txn.state != txnReset {
		return NewError(ErrBadTxn)
	}
	data, err := txn.env.enterTxn()
	if err != nil {
		return err
	}
	if err := txn.pin(data); err != nil {
		txn.env.exitTxn()
		return err
	}
	txn.gen++
	return nil
}

// closeCursors unbinds every cursor opened in this transaction.
func (txn *Txn) closeCursors() {
	for _, c := range txn.cursors {
		c.txn = nil
		c.top = -1
	}
	txn.cursors = txn.cursors[:0]
}

func (txn *Txn) removeCursor(c *Cursor) {
	for i, x := range txn.cursors {
		if x == c {
			txn.cursors = append(txn.cursors[:i], txn.cursors[i+1:]...)
			return
		}
	}
}

// SetUserCtx attaches an arbitrary value to the transaction.
func (txn *Txn) SetUserCtx(ctx any) {
	txn.userCtx = ctx
}

// UserCtx returns the value set by SetUserCtx.
func (txn *Txn) UserCtx() any {
	return txn.userCtx
}

// Sub runs fn in a nested transaction that is committed if fn returns nil
// and aborted otherwise.
func (txn *Txn) Sub(fn TxnOp) error {
	child, err := txn.env.BeginTxn(txn, 0)
	if err != nil {
		return err
	}
	return child.RunOp(fn, true)
}

// RunOp runs fn and, if terminate is set, commits or aborts afterwards.
// A terminated transaction is also aborted when fn panics or exits the
// goroutine.
func (txn *Txn) RunOp(fn TxnOp, terminate bool) error {
	if terminate {
		defer txn.Abort()
	}
	err := fn(txn)
	if !terminate {
		return err
	}
	if err != nil {
		txn.Abort()
		return err
	}
	_, err = txn.Commit()
	return err
}

// TxInfo describes a transaction's space usage.
type TxInfo struct {
	ID           uint64
	ReadLag      uint64 // committed transactions since the snapshot
	SpaceUsed    uint64 // bytes up to the first unallocated page
	SpaceLimit   uint64 // map size
	SpaceRetired uint64 // bytes retired by this write transaction
	SpaceDirty   uint64 // bytes held in dirty pages
}

// Info returns space usage of the transaction.
func (txn *Txn) Info() (*TxInfo, error) {
	if err := txn.check(false); err != nil {
		return nil, err
	}
	ps := uint64(txn.pageSize)
	info := &TxInfo{
		ID:         uint64(txn.id),
		SpaceUsed:  uint64(txn.meta.nextPgno) * ps,
		SpaceLimit: uint64(txn.env.MapSize()),
	}
	if txn.IsReadOnly() {
		if cur, err := txn.env.readMeta(txn.data); err == nil {
			info.ReadLag = uint64(cur.txnid - txn.id)
		}
		return info, nil
	}
	info.SpaceUsed = uint64(txn.nextPgno) * ps
	info.SpaceRetired = uint64(len(txn.freed)) * ps
	for t := txn; t != nil; t = t.parent {
		info.SpaceDirty += uint64(t.dirty.Len()) * ps
	}
	return info, nil
}

// Get returns the value stored under key. In DupSort databases it returns
// the first duplicate. The slice is valid until the transaction ends or
// the next update.
func (txn *Txn) Get(dbi DBI, key []byte) ([]byte, error) {
	if err := txn.check(false); err != nil {
		return nil, err
	}
	d, info, err := txn.db(dbi)
	if err != nil {
		return nil, err
	}
	n, err := txn.findNode(&d.tree, info.cmp, key)
	if err != nil {
		return nil, err
	}
	if info.flags&DupSort == 0 {
		return txn.nodeData(n)
	}
	return txn.firstDup(n, d.tree.flags)
}

// firstDup returns the smallest duplicate stored in a DupSort leaf node.
func (txn *Txn) firstDup(n node, flags uint16) ([]byte, error) {
	switch {
	case n.isDup():
		sp := page(n.data())
		if sp.numKeys() == 0 {
			return nil, NewError(ErrCorrupted)
		}
		return sp.nodeKey(0), nil
	case n.isTree():
		sub, err := decodeTree(n.data())
		if err != nil {
			return nil, err
		}
		p, err := txn.getPage(sub.root)
		if err != nil {
			return nil, err
		}
		for p.isBranch() {
			if p, err = txn.getPage(p.node(0).child()); err != nil {
				return nil, err
			}
		}
		if p.numKeys() == 0 {
			return nil, NewError(ErrCorrupted)
		}
		return p.nodeKey(0), nil
	default:
		return n.data(), nil
	}
}

// GetEx returns the value stored under key and the number of duplicates.
func (txn *Txn) GetEx(dbi DBI, key []byte) ([]byte, int, error) {
	if err := txn.check(false); err != nil {
		return nil, 0, err
	}
	c, err := txn.newCursor(dbi)
	if err != nil {
		return nil, 0, err
	}
	_, v, err := c.get(key, nil, Set)
	if err != nil {
		return nil, 0, err
	}
	n, err := c.count()
	return v, int(n), err
}

// GetEqualOrGreater returns the first item whose key is >= key.
func (txn *Txn) GetEqualOrGreater(dbi DBI, key []byte) ([]byte, []byte, error) {
	if err := txn.check(false); err != nil {
		return nil, nil, err
	}
	c, err := txn.newCursor(dbi)
	if err != nil {
		return nil, nil, err
	}
	return c.get(key, nil, SetRange)
}

// Put stores a key/value pair.
func (txn *Txn) Put(dbi DBI, key, val []byte, flags uint) error {
	_, err := txn.PutEx(dbi, key, val, flags)
	return err
}

// PutEx stores a key/value pair. When NoOverwrite or NoDupData refuse the
// write it returns the existing value along with ErrKeyExist.
func (txn *Txn) PutEx(dbi DBI, key, val []byte, flags uint) ([]byte, error) {
	if flags&Current != 0 {
		return nil, NewError(ErrInvalid)
	}
	c, err := txn.writeCursor(dbi)
	if err != nil {
		return nil, err
	}
	old, err := c.putIndexed(key, val, flags)
	return old, txn.fail(err)
}

// PutReserve reserves n bytes for the value of key and returns the
// writable slice.
func (txn *Txn) PutReserve(dbi DBI, key []byte, n int, flags uint) ([]byte, error) {
	c, err := txn.writeCursor(dbi)
	if err != nil {
		return nil, err
	}
	if len(txn.env.dbiInfo(dbi).secondaries) > 0 {
		return nil, NewError(ErrIncompatible)
	}
	if n < 0 {
		return nil, NewError(ErrBadValSize)
	}
	buf, err := c.put(key, make([]byte, n), flags|Reserve)
	return buf, txn.fail(err)
}

// Replace stores val under key and returns the value it replaced, or nil
// if the key was absent. In DupSort databases all duplicates are replaced.
func (txn *Txn) Replace(dbi DBI, key, val []byte) ([]byte, error) {
	c, err := txn.writeCursor(dbi)
	if err != nil {
		return nil, err
	}
	var old []byte
	if _, v, err := c.get(key, nil, Set); err == nil {
		old = bytes.Clone(v)
	} else if !IsNotFound(err) {
		return nil, err
	}
	flags := uint(Upsert)
	if c.dupsort {
		flags |= AllDups
	}
	if _, err := c.putIndexed(key, val, flags); err != nil {
		return nil, txn.fail(err)
	}
	return old, nil
}

// Del removes key, or with a value in a DupSort database only that pair.
// A nil value in a DupSort database removes every duplicate. Absence is
// reported as found=false.
func (txn *Txn) Del(dbi DBI, key, val []byte) (bool, error) {
	c, err := txn.writeCursor(dbi)
	if err != nil {
		return false, err
	}
	op := uint(Set)
	if c.dupsort && val != nil {
		op = GetBoth
	}
	if _, _, err := c.get(key, val, op); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	var flags uint
	if c.dupsort && val == nil {
		flags = AllDups
	}
	if err := c.delIndexed(flags); err != nil {
		return false, txn.fail(err)
	}
	return true, nil
}
