//go:build unix

package mvkv

import (
	"bytes"
	"fmt"
	"slices"
)

// subDBRecord marks a write of a named database record into MAIN. Only the
// engine sets it; user writes never touch such records.
const subDBRecord = 1 << 30

// Put stores a key/value pair through the cursor and leaves the cursor on
// it.
func (c *Cursor) Put(key, val []byte, flags uint) error {
	if err := c.checkWrite(); err != nil {
		return err
	}
	if flags&subDBRecord != 0 {
		return NewError(ErrInvalid)
	}
	_, err := c.putIndexed(key, val, flags)
	return c.txn.fail(err)
}

// PutReserve stores a zeroed value of n bytes and returns it for the
// caller to fill before the next update.
func (c *Cursor) PutReserve(key []byte, n int, flags uint) ([]byte, error) {
	if err := c.checkWrite(); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, NewError(ErrBadValSize)
	}
	if len(c.info.secondaries) > 0 || c.info.isSecondary {
		return nil, NewError(ErrIncompatible)
	}
	buf, err := c.put(key, make([]byte, n), flags|Reserve)
	return buf, c.txn.fail(err)
}

// PutMulti stores count values of stride bytes each under key. DupFixed
// only.
func (c *Cursor) PutMulti(key []byte, vals []byte, stride int, flags uint) error {
	if err := c.checkWrite(); err != nil {
		return err
	}
	if c.info.flags&DupFixed == 0 {
		return NewError(ErrIncompatible)
	}
	if stride <= 0 || len(vals)%stride != 0 {
		return NewError(ErrBadValSize)
	}
	m := WrapMulti(vals, stride)
	for i := range m.Len() {
		if _, err := c.putIndexed(key, m.Val(i), flags); err != nil {
			return c.txn.fail(err)
		}
	}
	return nil
}

// Del deletes the item under the cursor. With AllDups or NoDupData every
// duplicate of the current key is deleted. The cursor moves to the next
// item, which the following Next returns and the following Del deletes.
func (c *Cursor) Del(flags uint) error {
	if err := c.checkWrite(); err != nil {
		return err
	}
	return c.txn.fail(c.delIndexed(flags))
}

func (c *Cursor) checkWrite() error {
	if !c.valid() {
		return NewError(ErrInvalid)
	}
	if err := c.txn.check(true); err != nil {
		return err
	}
	if c.dbi == FreeDBI && !c.internal {
		return NewError(ErrPermissionDenied)
	}
	if c.db.state&dbDeleted != 0 {
		return NewError(ErrBadDBI)
	}
	return nil
}

// checkPut validates sizes and flags of a write.
func (c *Cursor) checkPut(key, val []byte, flags uint) error {
	ps := c.txn.pageSize
	dbFlags := c.info.flags
	if len(key) > maxKeySize(ps, dbFlags) {
		return WrapError(ErrBadValSize, fmt.Errorf("key of %d bytes exceeds %d", len(key), maxKeySize(ps, dbFlags)))
	}
	if dbFlags&IntegerKey != 0 && !validIntegerSize(key) {
		return WrapError(ErrBadValSize, fmt.Errorf("integer key of %d bytes", len(key)))
	}
	if len(val) > maxValSize {
		return NewError(ErrBadValSize)
	}
	if !c.dupsort {
		return nil
	}
	if flags&Reserve != 0 {
		return NewError(ErrIncompatible)
	}
	if len(val) > maxKeySize(ps, DupSort) {
		return WrapError(ErrBadValSize, fmt.Errorf("duplicate of %d bytes exceeds %d", len(val), maxKeySize(ps, DupSort)))
	}
	if dbFlags&IntegerDup != 0 && !validIntegerSize(val) {
		return WrapError(ErrBadValSize, fmt.Errorf("integer duplicate of %d bytes", len(val)))
	}
	if dbFlags&DupFixed != 0 && c.tr.dupfixSize != 0 && len(val) != int(c.tr.dupfixSize) {
		return WrapError(ErrBadValSize, fmt.Errorf("fixed duplicate of %d bytes, want %d", len(val), c.tr.dupfixSize))
	}
	return nil
}

// put is the single write path of the B+tree. It returns the stored value
// for Reserve, or the existing value together with ErrKeyExist.
func (c *Cursor) put(key, val []byte, flags uint) ([]byte, error) {
	if err := c.resync(); err != nil {
		return nil, err
	}
	if err := c.checkPut(key, val, flags); err != nil {
		return nil, err
	}
	// The arguments may point into pages this write rearranges.
	key = bytes.Clone(key)
	if c.dupsort {
		val = bytes.Clone(val)
		if c.info.flags&DupFixed != 0 && c.tr.dupfixSize == 0 {
			c.tr.dupfixSize = uint32(len(val))
		}
	}

	if flags&Current != 0 {
		return c.putCurrent(key, val, flags)
	}

	if c.tr.isEmpty() {
		if err := c.createRoot(); err != nil {
			return nil, err
		}
		return c.insertNew(key, val, flags)
	}

	var exact bool
	if flags&Append != 0 {
		if err := c.seekEdge(true); err != nil {
			return nil, err
		}
		switch r := c.cmp(key, c.node().key()); {
		case r < 0, r == 0 && !c.dupsort:
			return nil, NewError(ErrKeyMismatch)
		case r == 0:
			exact = true
		default:
			c.stack[c.top].idx++
		}
	} else {
		var err error
		if exact, err = c.search(key); err != nil {
			return nil, err
		}
	}
	if !exact {
		return c.insertNew(key, val, flags)
	}

	n := c.node()
	if n.isSubDB() != (flags&subDBRecord != 0) {
		return nil, NewError(ErrIncompatible)
	}
	if flags&NoOverwrite != 0 {
		old, err := c.firstValue(n)
		if err != nil {
			return nil, err
		}
		return old, ErrKeyExistError
	}
	if !c.dupsort {
		return c.replaceValue(key, val, flags)
	}
	if flags&AllDups != 0 {
		if err := c.delNode(); err != nil {
			return nil, err
		}
		c.txn.gen++
		c.gen = c.txn.gen
		return c.put(key, val, flags&^AllDups)
	}
	return c.putDup(key, val, flags)
}

// firstValue returns the value, or the first duplicate, of node n.
func (c *Cursor) firstValue(n node) ([]byte, error) {
	if c.dupsort {
		return c.txn.firstDup(n, c.tr.flags)
	}
	return c.txn.nodeData(n)
}

// createRoot starts an empty tree with a single leaf.
func (c *Cursor) createRoot() error {
	p, err := c.txn.newPage(pageLeaf, 1)
	if err != nil {
		return err
	}
	c.tr.root = p.pgno()
	c.tr.height = 1
	c.tr.countPage(pageLeaf, 1)
	c.top = 0
	c.stack[0] = cursorLevel{pg: p}
	c.markDirty()
	return nil
}

// insertNew adds a key that is not yet present at the current position.
func (c *Cursor) insertNew(key, val []byte, flags uint) ([]byte, error) {
	if err := c.touch(); err != nil {
		return nil, err
	}
	n, err := c.leafNode(key, val, flags)
	if err != nil {
		return nil, err
	}
	if err := c.insertNode(c.top, c.stack[c.top].idx, n); err != nil {
		return nil, err
	}
	c.tr.items++
	return c.settle(key, val)
}

// leafNode builds the node for key and val, moving large values to
// overflow pages.
func (c *Cursor) leafNode(key, val []byte, flags uint) (node, error) {
	if leafNodeSize(key, val) <= nodeMax(c.txn.pageSize) {
		return newLeafNode(key, val, nodeFlagsFor(flags)), nil
	}
	n := overflowPagesFor(len(val), c.txn.pageSize)
	p, err := c.txn.newPage(pageOverflow, n)
	if err != nil {
		return nil, err
	}
	copy(p.overflowData(len(val)), val)
	c.tr.countPage(pageOverflow, n)
	return newBigNode(key, len(val), p.pgno()), nil
}

// replaceValue overwrites the value of the existing key under the cursor.
func (c *Cursor) replaceValue(key, val []byte, flags uint) ([]byte, error) {
	if err := c.touch(); err != nil {
		return nil, err
	}
	l := c.stack[c.top]
	n := l.pg.node(l.idx)
	switch {
	case n.isBig():
		if ov, ok := c.txn.dirty.Get(uint32(n.bigPgno())); ok && n.dsize() == len(val) {
			copy(ov.overflowData(len(val)), val)
			return c.settle(key, val)
		}
		np := overflowPagesFor(n.dsize(), c.txn.pageSize)
		c.txn.freePage(n.bigPgno(), np)
		c.tr.countPage(pageOverflow, -np)
	case n.flags() == nodeFlagsFor(flags) && n.dsize() == len(val):
		copy(n.data(), val)
		return c.settle(key, val)
	}
	nn, err := c.leafNode(key, val, flags)
	if err != nil {
		return nil, err
	}
	if err := c.replaceNode(c.top, l.idx, nn); err != nil {
		return nil, err
	}
	return c.settle(key, val)
}

func nodeFlagsFor(flags uint) uint8 {
	if flags&subDBRecord != 0 {
		return nodeSubDB
	}
	return 0
}

// putCurrent replaces the item under the cursor; key must match it.
func (c *Cursor) putCurrent(key, val []byte, flags uint) ([]byte, error) {
	if c.state != cursorPointing || c.afterDelete {
		return nil, ErrNotFoundError
	}
	n := c.node()
	if c.cmp(key, n.key()) != 0 {
		return nil, NewError(ErrKeyMismatch)
	}
	if n.isSubDB() != (flags&subDBRecord != 0) {
		return nil, NewError(ErrIncompatible)
	}
	if !c.dupsort {
		return c.replaceValue(key, val, flags&^Current)
	}
	_, cur, err := c.current()
	if err != nil {
		return nil, err
	}
	if c.dcmp(val, cur) == 0 {
		return c.settle(key, val)
	}
	if err := c.del(0); err != nil {
		return nil, err
	}
	return c.put(key, val, flags&^Current)
}

// settle bumps the transaction generation and repositions the cursor on
// the item just written.
func (c *Cursor) settle(key, val []byte) ([]byte, error) {
	c.txn.gen++
	c.gen = c.txn.gen
	var dv []byte
	if c.dupsort {
		dv = val
	}
	if _, err := c.seekPos(key, dv); err != nil {
		return nil, err
	}
	k, v, err := c.current()
	if err != nil {
		return nil, err
	}
	c.savePos(k, v)
	return v, nil
}

// touch makes every page on the cursor path writable and repoints parents
// at the copies.
func (c *Cursor) touch() error {
	if c.inline != nil {
		return NewError(ErrProblem)
	}
	for i := 0; i <= c.top; i++ {
		l := &c.stack[i]
		np, err := c.txn.touchPage(l.pg)
		if err != nil {
			return err
		}
		if pg := np.pgno(); pg != l.pg.pgno() {
			if i == 0 {
				c.tr.root = pg
			} else {
				up := &c.stack[i-1]
				up.pg.node(up.idx).setChild(pg)
			}
		}
		l.pg = np
	}
	c.markDirty()
	return nil
}

func (c *Cursor) markDirty() {
	c.db.state |= dbDirty
	c.db.tree.modTxnid = c.txn.id
}

func (c *Cursor) insertNode(level, idx int, n node) error {
	if c.stack[level].pg.insert(idx, n) {
		return nil
	}
	return c.split(level, idx, n, false)
}

func (c *Cursor) replaceNode(level, idx int, n node) error {
	if c.stack[level].pg.replace(idx, n) {
		return nil
	}
	return c.split(level, idx, n, true)
}

// nodesSize is the page space ns occupy, offsets included.
func nodesSize(ns []node) int {
	size := 0
	for _, n := range ns {
		size += len(n) + 2
	}
	return size
}

// splitPoint picks where ns is divided so both halves fit in payload
// bytes and the larger half is as small as possible. appendHint keeps all
// but the last node on the left, which fills pages under sequential
// inserts.
func splitPoint(ns []node, payload int, appendHint bool) (int, bool) {
	total := nodesSize(ns)
	last := len(ns) - 1
	if appendHint && len(ns) > 1 && total-(len(ns[last])+2) <= payload {
		return last, true
	}
	best, bestMax := -1, 0
	left := 0
	for k := 1; k < len(ns); k++ {
		left += len(ns[k-1]) + 2
		right := total - left
		if left > payload || right > payload {
			continue
		}
		if m := max(left, right); best < 0 || m < bestMax {
			best, bestMax = k, m
		}
	}
	return best, best > 0
}

// split divides the page at level after inserting (or replacing) node n
// at idx and links the new right page into the parent. A root split adds
// a level.
func (c *Cursor) split(level, idx int, n node, replace bool) error {
	p := c.stack[level].pg
	ns := p.nodes()
	if replace {
		ns[idx] = n
	} else {
		ns = slices.Insert(ns, idx, n)
	}
	k, ok := splitPoint(ns, p.payloadSize(), !replace && idx == len(ns)-1)
	if !ok {
		return WrapError(ErrPageFull, fmt.Errorf("page %d: no split point for %d nodes", p.pgno(), len(ns)))
	}
	if level == 0 && int(c.tr.height) >= CursorStackSize-1 {
		return NewError(ErrCursorFull)
	}

	kind := p.flags() & (pageBranch | pageLeaf)
	rp, err := c.txn.newPage(kind, 1)
	if err != nil {
		return err
	}
	c.tr.countPage(kind, 1)

	left, right := ns[:k], ns[k:]
	sep := bytes.Clone(right[0].key())
	if kind == pageBranch {
		right[0] = right[0].withKey(nil)
	}
	if err := p.rebuild(left); err != nil {
		return err
	}
	if err := rp.rebuild(right); err != nil {
		return err
	}
	sn := newBranchNode(sep, rp.pgno())

	if level > 0 {
		return c.insertNode(level-1, c.stack[level-1].idx+1, sn)
	}
	root, err := c.txn.newPage(pageBranch, 1)
	if err != nil {
		return err
	}
	c.tr.countPage(pageBranch, 1)
	root.insert(0, newBranchNode(nil, p.pgno()))
	root.insert(1, sn)
	c.tr.root = root.pgno()
	c.tr.height++
	return nil
}

// rebalance restores the fill of the page at level after a removal by
// dropping, merging or redistributing, then continues with the parent.
func (c *Cursor) rebalance(level int) error {
	p := c.stack[level].pg
	if level == 0 {
		return c.rebalanceRoot()
	}
	minKeys := 1
	if p.isBranch() {
		minKeys = 2
	}
	if p.numKeys() >= minKeys && p.usedSpace()*100 >= p.payloadSize()*fillThreshold {
		return nil
	}

	parent := c.stack[level-1].pg
	pidx := c.stack[level-1].idx
	if p.numKeys() == 0 {
		c.txn.freePage(p.pgno(), 1)
		c.tr.countPage(p.flags(), -1)
		parent.remove(pidx)
		if pidx == 0 && parent.numKeys() > 0 {
			parent.replace(0, parent.node(0).withKey(nil))
		}
		return c.rebalance(level - 1)
	}
	if parent.numKeys() < 2 {
		return c.rebalance(level - 1)
	}

	sibIdx := pidx + 1
	if pidx > 0 {
		sibIdx = pidx - 1
	}
	sib, err := c.txn.getPage(parent.node(sibIdx).child())
	if err != nil {
		return err
	}
	if sib, err = c.txn.touchPage(sib); err != nil {
		return err
	}
	parent.node(sibIdx).setChild(sib.pgno())

	left, right, rightIdx := p, sib, pidx+1
	if pidx > 0 {
		left, right, rightIdx = sib, p, pidx
	}
	ln, rn := left.nodes(), right.nodes()
	if p.isBranch() {
		rn[0] = rn[0].withKey(parent.nodeKey(rightIdx))
	}
	all := append(ln, rn...)

	if nodesSize(all) <= left.payloadSize() {
		if err := left.rebuild(all); err != nil {
			return err
		}
		c.txn.freePage(right.pgno(), 1)
		c.tr.countPage(right.flags(), -1)
		parent.remove(rightIdx)
		return c.rebalance(level - 1)
	}

	k, ok := splitPoint(all, left.payloadSize(), false)
	if !ok || k == len(ln) {
		return nil
	}
	sep := bytes.Clone(all[k].key())
	nr := slices.Clone(all[k:])
	if p.isBranch() {
		nr[0] = nr[0].withKey(nil)
	}
	if err := left.rebuild(all[:k]); err != nil {
		return err
	}
	if err := right.rebuild(nr); err != nil {
		return err
	}
	return c.replaceNode(level-1, rightIdx, newBranchNode(sep, right.pgno()))
}

// rebalanceRoot empties the tree when the root has no entries and
// collapses branch roots with a single child.
func (c *Cursor) rebalanceRoot() error {
	p := c.stack[0].pg
	for {
		switch {
		case p.numKeys() == 0:
			c.txn.freePage(p.pgno(), 1)
			c.tr.countPage(p.flags(), -1)
			c.tr.root = invalidPgno
			c.tr.height = 0
			c.top = -1
			return nil
		case p.isBranch() && p.numKeys() == 1:
			child := p.node(0).child()
			c.txn.freePage(p.pgno(), 1)
			c.tr.countPage(pageBranch, -1)
			c.tr.root = child
			c.tr.height--
			np, err := c.txn.getPage(child)
			if err != nil {
				return err
			}
			p = np
		default:
			return nil
		}
	}
}

// del removes the item under the cursor, or with AllDups/NoDupData the
// whole key, and moves to its successor. Right after a delete the cursor
// is on that successor, so a second del removes it.
func (c *Cursor) del(flags uint) error {
	if err := c.resync(); err != nil {
		return err
	}
	if c.state != cursorPointing {
		return ErrNotFoundError
	}
	n := c.node()
	if n.isSubDB() != (flags&subDBRecord != 0) {
		return NewError(ErrIncompatible)
	}
	key := bytes.Clone(n.key())
	var val []byte
	if c.dupsort {
		_, v, err := c.current()
		if err != nil {
			return err
		}
		val = bytes.Clone(v)
	}

	var err error
	if c.hasDups() && flags&(AllDups|NoDupData) == 0 {
		err = c.delDup(key)
	} else {
		err = c.delNode()
	}
	if err != nil {
		return err
	}
	c.txn.gen++
	return c.settleDeleted(key, val)
}

// delNode removes the node under the cursor with all its values.
func (c *Cursor) delNode() error {
	if err := c.touch(); err != nil {
		return err
	}
	l := c.stack[c.top]
	n := l.pg.node(l.idx)
	count := uint64(1)
	switch {
	case n.isBig():
		np := overflowPagesFor(n.dsize(), c.txn.pageSize)
		c.txn.freePage(n.bigPgno(), np)
		c.tr.countPage(pageOverflow, -np)
	case n.isTree():
		sub, err := decodeTree(n.data())
		if err != nil {
			return err
		}
		count = sub.items
		if err := c.txn.freeTree(&sub); err != nil {
			return err
		}
	case n.isDup():
		count = uint64(page(n.data()).numKeys())
	}
	l.pg.remove(l.idx)
	c.tr.items -= count
	return c.rebalance(c.top)
}

// settleDeleted leaves the cursor on the successor of the deleted item.
func (c *Cursor) settleDeleted(key, val []byte) error {
	c.gen = c.txn.gen
	c.posKey = append(c.posKey[:0], key...)
	c.posVal = append(c.posVal[:0], val...)
	if _, err := c.seekPos(key, val); err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	c.afterDelete = true
	return nil
}
