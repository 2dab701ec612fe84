//go:build unix

package mvkv

import (
	"bytes"
	"slices"
)

// CursorOp is a cursor positioning operation.
type CursorOp = uint

// cursorSignature is the magic number for valid cursors
const cursorSignature uint32 = 0x4D564B43 // "MVKC"

// cursorState tracks cursor validity
type cursorState uint8

const (
	cursorUninitialized cursorState = iota
	cursorPointing                  // at a valid item
	cursorEOF                       // a Next ran off the end; still on the last item
)

// dupKind describes how the values of the current key are stored.
type dupKind uint8

const (
	dupNone   dupKind = iota // not a DupSort database
	dupSingle                // one value stored in the node
	dupInline                // sorted set in an inline sub-page
	dupTree                  // nested sub-tree
)

type cursorLevel struct {
	pg  page
	idx int
}

// Cursor provides navigation through a database.
type Cursor struct {
	signature uint32
	state     cursorState
	txn       *Txn
	dbi       DBI
	db        *txnDB
	tr        *tree
	info      *dbiInfo
	cmp       CmpFunc
	dcmp      CmpFunc
	dupsort   bool
	internal  bool // not registered with the txn, may write FreeDBI

	// Path from the root; top is -1 when unpositioned.
	stack [CursorStackSize]cursorLevel
	top   int

	// Set after Del: the cursor sits on the successor of the deleted item.
	afterDelete bool

	// Duplicate position. sub walks either the inline sub-page or the
	// nested tree described by subTree.
	dup     dupKind
	sub     *Cursor
	subTree tree
	inline  page

	// Write transactions re-seek to posKey/posVal when gen is stale.
	gen    uint64
	posKey []byte
	posVal []byte

	userCtx any
}

// OpenCursor opens a cursor on dbi.
func (txn *Txn) OpenCursor(dbi DBI) (*Cursor, error) {
	if err := txn.check(false); err != nil {
		return nil, err
	}
	c := &Cursor{}
	if err := c.bind(txn, dbi); err != nil {
		return nil, err
	}
	txn.cursors = append(txn.cursors, c)
	return c, nil
}

// newCursor opens an unregistered cursor for internal use.
func (txn *Txn) newCursor(dbi DBI) (*Cursor, error) {
	c := &Cursor{internal: true}
	if err := c.bind(txn, dbi); err != nil {
		return nil, err
	}
	return c, nil
}

// writeCursor opens an internal cursor after checking txn may write dbi.
func (txn *Txn) writeCursor(dbi DBI) (*Cursor, error) {
	if err := txn.check(true); err != nil {
		return nil, err
	}
	if dbi == FreeDBI {
		return nil, NewError(ErrPermissionDenied)
	}
	return txn.newCursor(dbi)
}

func (c *Cursor) bind(txn *Txn, dbi DBI) error {
	d, info, err := txn.db(dbi)
	if err != nil {
		return err
	}
	c.signature = cursorSignature
	c.txn = txn
	c.dbi = dbi
	c.db = d
	c.tr = &d.tree
	c.info = info
	c.cmp = info.cmp
	c.dcmp = info.dcmp
	c.dupsort = info.flags&DupSort != 0
	c.reset()
	c.gen = txn.gen
	return nil
}

// valid returns true if the cursor is valid.
func (c *Cursor) valid() bool {
	return c != nil && c.signature == cursorSignature && c.txn != nil
}

// Txn returns the cursor's transaction.
func (c *Cursor) Txn() *Txn {
	return c.txn
}

// DBI returns the cursor's database handle.
func (c *Cursor) DBI() DBI {
	return c.dbi
}

// Close closes the cursor.
func (c *Cursor) Close() {
	if c == nil || c.signature != cursorSignature {
		return
	}
	if c.txn != nil && !c.internal {
		c.txn.removeCursor(c)
	}
	c.txn = nil
	c.reset()
	c.signature = 0
}

// SetUserCtx sets user context data on the cursor.
func (c *Cursor) SetUserCtx(ctx any) {
	c.userCtx = ctx
}

// UserCtx returns the user context data.
func (c *Cursor) UserCtx() any {
	return c.userCtx
}

// EOF returns true if the last Next ran off the end of the database.
func (c *Cursor) EOF() bool {
	return c.state == cursorEOF
}

// checkRead validates the cursor and its transaction.
func (c *Cursor) checkRead() error {
	if !c.valid() {
		return NewError(ErrInvalid)
	}
	if err := c.txn.check(false); err != nil {
		return err
	}
	if c.db.state&dbDeleted != 0 {
		return NewError(ErrBadDBI)
	}
	return nil
}

// Get positions the cursor according to op and returns the item there.
// The returned slices stay valid until the transaction ends or the next
// update. Once Next has run past the last item, Prev returns the last item
// again rather than the one before it.
func (c *Cursor) Get(key, val []byte, op CursorOp) ([]byte, []byte, error) {
	if err := c.checkRead(); err != nil {
		return nil, nil, err
	}
	return c.get(key, val, op)
}

// Count returns the number of values stored under the current key.
func (c *Cursor) Count() (uint64, error) {
	if err := c.checkRead(); err != nil {
		return 0, err
	}
	if err := c.resync(); err != nil {
		return 0, err
	}
	return c.count()
}

func (c *Cursor) count() (uint64, error) {
	if c.state != cursorPointing {
		return 0, ErrNotFoundError
	}
	switch c.dup {
	case dupInline:
		return uint64(c.sub.inline.numKeys()), nil
	case dupTree:
		return c.subTree.items, nil
	}
	return 1, nil
}

// reset clears the cursor position.
func (c *Cursor) reset() {
	c.top = -1
	c.state = cursorUninitialized
	c.afterDelete = false
	c.dup = dupNone
	c.inline = nil
}

func (c *Cursor) get(key, val []byte, op CursorOp) ([]byte, []byte, error) {
	if err := c.resync(); err != nil {
		return nil, nil, err
	}

	var err error
	switch op {
	case First:
		err = c.first()
	case Last:
		err = c.last()
	case Next:
		err = c.next(false)
	case NextNoDup:
		err = c.next(true)
	case NextDup:
		err = c.nextDup()
	case Prev:
		err = c.prev(false)
	case PrevNoDup:
		err = c.prev(true)
	case PrevDup:
		err = c.prevDup()
	case FirstDup:
		err = c.edgeDup(false)
	case LastDup:
		err = c.edgeDup(true)
	case GetCurrent:
		err = c.getCurrent()
	case Set, SetKey:
		err = c.set(key)
	case SetRange:
		err = c.setRange(key)
	case GetBoth:
		err = c.getBoth(key, val, false)
	case GetBothRange:
		err = c.getBoth(key, val, true)
	case SetLowerbound:
		err = c.setLowerbound(key, val)
	case GetMultiple:
		return c.getMultiple(false)
	case NextMultiple:
		return c.getMultiple(true)
	default:
		return nil, nil, NewError(ErrInvalid)
	}
	if err != nil {
		return nil, nil, err
	}

	k, v, err := c.current()
	if err != nil {
		return nil, nil, err
	}
	c.savePos(k, v)
	return k, v, nil
}

// --- Page stack primitives, shared by outer and duplicate cursors ---

func (c *Cursor) rootPage() (page, error) {
	if c.inline != nil {
		return c.inline, nil
	}
	if c.tr.isEmpty() {
		return nil, ErrNotFoundError
	}
	return c.txn.getPage(c.tr.root)
}

func (c *Cursor) push(p page, idx int) error {
	if c.top+1 >= CursorStackSize {
		return NewError(ErrCursorFull)
	}
	c.top++
	c.stack[c.top] = cursorLevel{pg: p, idx: idx}
	return nil
}

// node returns the leaf node under the cursor.
func (c *Cursor) node() node {
	l := &c.stack[c.top]
	return l.pg.node(l.idx)
}

// descend walks from the entry at the top of the stack down to the first
// or last leaf entry below it.
func (c *Cursor) descend(last bool) error {
	for {
		l := &c.stack[c.top]
		if !l.pg.isBranch() {
			if l.pg.numKeys() == 0 {
				return NewError(ErrCorrupted)
			}
			return nil
		}
		child, err := c.txn.getPage(l.pg.node(l.idx).child())
		if err != nil {
			return err
		}
		idx := 0
		if last {
			idx = child.numKeys() - 1
		}
		if err := c.push(child, idx); err != nil {
			return err
		}
	}
}

// seekEdge positions at the first or last leaf entry.
func (c *Cursor) seekEdge(last bool) error {
	p, err := c.rootPage()
	if err != nil {
		c.top = -1
		return err
	}
	if p.numKeys() == 0 {
		c.top = -1
		return ErrNotFoundError
	}
	c.top = 0
	c.stack[0] = cursorLevel{pg: p}
	if last {
		c.stack[0].idx = p.numKeys() - 1
	}
	return c.descend(last)
}

// search descends to the leaf covering key and points at the first entry
// >= key, which may be one past the end of that leaf.
func (c *Cursor) search(key []byte) (bool, error) {
	p, err := c.rootPage()
	if err != nil {
		c.top = -1
		return false, err
	}
	c.top = 0
	c.stack[0] = cursorLevel{pg: p}
	for p.isBranch() {
		i := p.searchBranch(key, c.cmp)
		c.stack[c.top].idx = i
		if p, err = c.txn.getPage(p.node(i).child()); err != nil {
			return false, err
		}
		if err := c.push(p, 0); err != nil {
			return false, err
		}
	}
	i, exact := p.searchLeaf(key, c.cmp)
	c.stack[c.top].idx = i
	return exact, nil
}

// fixEnd moves a position one past the end of a leaf to the next entry.
// On ErrNotFound the cursor is left on the last entry.
func (c *Cursor) fixEnd() error {
	l := &c.stack[c.top]
	if l.idx < l.pg.numKeys() {
		return nil
	}
	l.idx = l.pg.numKeys() - 1
	if l.idx < 0 {
		return ErrNotFoundError
	}
	return c.nextEntry()
}

// nextEntry steps to the next leaf entry. The position is unchanged when
// there is none.
func (c *Cursor) nextEntry() error {
	l := &c.stack[c.top]
	if l.idx+1 < l.pg.numKeys() {
		l.idx++
		return nil
	}
	lvl := c.top - 1
	for lvl >= 0 && c.stack[lvl].idx+1 >= c.stack[lvl].pg.numKeys() {
		lvl--
	}
	if lvl < 0 {
		return ErrNotFoundError
	}
	c.stack[lvl].idx++
	c.top = lvl
	return c.descend(false)
}

// prevEntry steps to the previous leaf entry. The position is unchanged
// when there is none.
func (c *Cursor) prevEntry() error {
	l := &c.stack[c.top]
	if l.idx > 0 {
		l.idx--
		return nil
	}
	lvl := c.top - 1
	for lvl >= 0 && c.stack[lvl].idx == 0 {
		lvl--
	}
	if lvl < 0 {
		return ErrNotFoundError
	}
	c.stack[lvl].idx--
	c.top = lvl
	return c.descend(true)
}

// --- Duplicates ---

// subCursor returns the duplicate cursor, bound to the current key.
func (c *Cursor) subCursor() *Cursor {
	if c.sub == nil {
		c.sub = &Cursor{signature: cursorSignature, internal: true}
	}
	s := c.sub
	s.txn = c.txn
	s.dbi = c.dbi
	s.db = c.db
	s.info = c.info
	s.tr = &c.subTree
	s.cmp = c.dcmp
	s.dcmp = c.dcmp
	s.top = -1
	s.state = cursorPointing
	s.inline = nil
	return s
}

// initDup prepares the duplicate position for the node under the cursor.
func (c *Cursor) initDup(last bool) error {
	if !c.dupsort {
		c.dup = dupNone
		return nil
	}
	n := c.node()
	switch {
	case n.isDup():
		s := c.subCursor()
		s.inline = page(n.data())
		c.dup = dupInline
		return s.seekEdge(last)
	case n.isTree():
		tr, err := decodeTree(n.data())
		if err != nil {
			return err
		}
		c.subTree = tr
		s := c.subCursor()
		c.dup = dupTree
		return s.seekEdge(last)
	default:
		c.dup = dupSingle
		return nil
	}
}

// hasDups reports whether the current key keeps its values in sub.
func (c *Cursor) hasDups() bool {
	return c.dup == dupInline || c.dup == dupTree
}

// dupValues returns copies of every value of node n in order.
func (c *Cursor) dupValues(n node) ([][]byte, error) {
	switch {
	case n.isDup():
		sp := page(n.data())
		vals := make([][]byte, sp.numKeys())
		for i := range vals {
			vals[i] = bytes.Clone(sp.nodeKey(i))
		}
		return vals, nil
	case n.isTree():
		return nil, NewError(ErrProblem)
	default:
		return [][]byte{bytes.Clone(n.data())}, nil
	}
}

// current returns the item under the cursor.
func (c *Cursor) current() ([]byte, []byte, error) {
	n := c.node()
	if c.hasDups() {
		return n.key(), c.sub.node().key(), nil
	}
	v, err := c.txn.nodeData(n)
	if err != nil {
		return nil, nil, err
	}
	return n.key(), v, nil
}

// --- Operations ---

func (c *Cursor) first() error {
	c.reset()
	if err := c.seekEdge(false); err != nil {
		c.reset()
		return err
	}
	c.state = cursorPointing
	return c.initDup(false)
}

func (c *Cursor) last() error {
	c.reset()
	if err := c.seekEdge(true); err != nil {
		c.reset()
		return err
	}
	c.state = cursorPointing
	return c.initDup(true)
}

func (c *Cursor) next(nodup bool) error {
	switch c.state {
	case cursorUninitialized:
		return c.first()
	case cursorEOF:
		return ErrNotFoundError
	}
	if c.afterDelete {
		c.afterDelete = false
		return nil
	}
	if !nodup && c.hasDups() {
		err := c.sub.nextEntry()
		if !IsNotFound(err) {
			return err
		}
	}
	if err := c.nextEntry(); err != nil {
		if IsNotFound(err) {
			c.state = cursorEOF
		}
		return err
	}
	return c.initDup(false)
}

func (c *Cursor) prev(nodup bool) error {
	switch c.state {
	case cursorUninitialized:
		return c.last()
	case cursorEOF:
		c.state = cursorPointing
		c.afterDelete = false
		return nil
	}
	c.afterDelete = false
	if !nodup && c.hasDups() {
		err := c.sub.prevEntry()
		if !IsNotFound(err) {
			return err
		}
	}
	if err := c.prevEntry(); err != nil {
		return err
	}
	return c.initDup(true)
}

func (c *Cursor) nextDup() error {
	if c.state != cursorPointing {
		return ErrNotFoundError
	}
	if c.afterDelete {
		c.afterDelete = false
		if c.cmp(c.node().key(), c.posKey) == 0 {
			return nil
		}
		return ErrNotFoundError
	}
	if !c.hasDups() {
		return ErrNotFoundError
	}
	return c.sub.nextEntry()
}

func (c *Cursor) prevDup() error {
	if c.state != cursorPointing {
		return ErrNotFoundError
	}
	if c.afterDelete {
		c.afterDelete = false
		if c.cmp(c.node().key(), c.posKey) != 0 {
			return ErrNotFoundError
		}
	}
	if !c.hasDups() {
		return ErrNotFoundError
	}
	return c.sub.prevEntry()
}

func (c *Cursor) edgeDup(last bool) error {
	if c.state == cursorUninitialized {
		return NewError(ErrInvalid)
	}
	c.afterDelete = false
	if !c.hasDups() {
		return nil
	}
	return c.sub.seekEdge(last)
}

func (c *Cursor) getCurrent() error {
	if c.state != cursorPointing {
		return ErrNotFoundError
	}
	return nil
}

func (c *Cursor) set(key []byte) error {
	c.afterDelete = false
	exact, err := c.search(key)
	if err != nil || !exact {
		c.reset()
		if err == nil {
			err = ErrNotFoundError
		}
		return err
	}
	c.state = cursorPointing
	return c.initDup(false)
}

func (c *Cursor) setRange(key []byte) error {
	c.afterDelete = false
	if _, err := c.search(key); err != nil {
		c.reset()
		return err
	}
	if err := c.fixEnd(); err != nil {
		if IsNotFound(err) {
			c.state = cursorEOF
			if derr := c.initDup(true); derr != nil {
				return derr
			}
		}
		return err
	}
	c.state = cursorPointing
	return c.initDup(false)
}

// getBoth positions at key with the value val, or with rng at the first
// value >= val of that key.
func (c *Cursor) getBoth(key, val []byte, rng bool) error {
	if err := c.set(key); err != nil {
		return err
	}
	if !c.hasDups() {
		v, err := c.txn.nodeData(c.node())
		if err != nil {
			return err
		}
		r := c.dcmp(val, v)
		if r == 0 || rng && r < 0 {
			return nil
		}
		c.reset()
		return ErrNotFoundError
	}
	exact, err := c.sub.search(val)
	if err == nil && !exact {
		if rng {
			err = c.sub.fixEnd()
		} else {
			err = ErrNotFoundError
		}
	}
	if err != nil {
		c.reset()
	}
	return err
}

// setLowerbound positions at the first item >= (key, val).
func (c *Cursor) setLowerbound(key, val []byte) error {
	if _, err := c.seekPos(key, val); err != nil {
		return err
	}
	if c.state == cursorEOF {
		return ErrNotFoundError
	}
	return nil
}

// seekPos positions at the first item >= (key, val) and reports whether
// it matched exactly. With nothing at or after the position, the cursor is
// left on the last item in the EOF state.
func (c *Cursor) seekPos(key, val []byte) (bool, error) {
	c.afterDelete = false
	exact, err := c.search(key)
	if err != nil {
		c.reset()
		return false, err
	}
	if err := c.fixEnd(); err != nil {
		if !IsNotFound(err) {
			return false, err
		}
		c.state = cursorEOF
		return false, c.initDup(true)
	}
	c.state = cursorPointing
	if err := c.initDup(false); err != nil {
		return false, err
	}
	if !exact || !c.dupsort || val == nil {
		return exact, nil
	}

	if c.hasDups() {
		dexact, err := c.sub.search(val)
		if err != nil {
			return false, err
		}
		err = c.sub.fixEnd()
		if err == nil {
			return dexact, nil
		}
		if !IsNotFound(err) {
			return false, err
		}
	} else {
		r := c.dcmp(val, c.node().data())
		if r <= 0 {
			return r == 0, nil
		}
	}

	// Every value of key is below val: move to the next key.
	if err := c.nextEntry(); err != nil {
		if !IsNotFound(err) {
			return false, err
		}
		c.state = cursorEOF
		if c.hasDups() {
			return false, c.sub.seekEdge(true)
		}
		return false, nil
	}
	return false, c.initDup(false)
}

// getMultiple returns the values of the current key from the duplicate
// cursor position to the end of its page, concatenated. With next it first
// advances past the previous batch. DupFixed only.
func (c *Cursor) getMultiple(next bool) ([]byte, []byte, error) {
	if c.info.flags&DupFixed == 0 {
		return nil, nil, NewError(ErrIncompatible)
	}
	if next {
		if c.state == cursorUninitialized {
			if err := c.first(); err != nil {
				return nil, nil, err
			}
		} else {
			if c.state != cursorPointing || !c.hasDups() {
				return nil, nil, ErrNotFoundError
			}
			l := &c.sub.stack[c.sub.top]
			l.idx = l.pg.numKeys() - 1
			if err := c.sub.nextEntry(); err != nil {
				return nil, nil, err
			}
		}
	} else if c.state != cursorPointing {
		return nil, nil, ErrNotFoundError
	}

	n := c.node()
	key := n.key()
	if !c.hasDups() {
		v := slices.Clone(n.data())
		c.savePos(key, v)
		return key, v, nil
	}
	l := &c.sub.stack[c.sub.top]
	var out []byte
	for i := l.idx; i < l.pg.numKeys(); i++ {
		out = append(out, l.pg.nodeKey(i)...)
	}
	l.idx = l.pg.numKeys() - 1
	c.afterDelete = false
	c.savePos(key, l.pg.nodeKey(l.idx))
	return key, out, nil
}

// savePos records the position so the cursor can find it again after
// another cursor changed the tree.
func (c *Cursor) savePos(key, val []byte) {
	c.gen = c.txn.gen
	if c.txn.IsReadOnly() {
		return
	}
	c.posKey = append(c.posKey[:0], key...)
	if c.dupsort {
		c.posVal = append(c.posVal[:0], val...)
	} else {
		c.posVal = c.posVal[:0]
	}
}

// resync re-seeks the saved position when the transaction changed since
// the cursor last moved. A read transaction only changes on Reset/Renew,
// which leaves its cursors unpositioned.
func (c *Cursor) resync() error {
	if c.gen == c.txn.gen {
		return nil
	}
	c.gen = c.txn.gen
	if c.state == cursorUninitialized {
		return nil
	}
	if c.txn.IsReadOnly() {
		c.reset()
		return nil
	}

	wasEOF := c.state == cursorEOF
	var val []byte
	if c.dupsort {
		val = c.posVal
	}
	exact, err := c.seekPos(c.posKey, val)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	if c.state == cursorEOF {
		return nil
	}
	if !exact {
		c.afterDelete = true
	} else if wasEOF {
		c.state = cursorEOF
	}
	return nil
}
