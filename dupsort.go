//go:build unix

package mvkv

import (
	"bytes"
	"slices"
)

// putDup adds val to the duplicate set of the key under the cursor.
func (c *Cursor) putDup(key, val []byte, flags uint) ([]byte, error) {
	n := c.node()
	if n.isTree() {
		return c.putDupTree(key, val, flags)
	}
	vals, err := c.dupValues(n)
	if err != nil {
		return nil, err
	}
	i, found := slices.BinarySearchFunc(vals, val, c.dcmp)
	if found {
		if flags&NoDupData != 0 {
			return vals[i], ErrKeyExistError
		}
		return c.settle(key, val)
	}
	if flags&AppendDup != 0 && i != len(vals) {
		return nil, NewError(ErrKeyMismatch)
	}
	if err := c.touch(); err != nil {
		return nil, err
	}
	if err := c.storeDups(key, slices.Insert(vals, i, val)); err != nil {
		return nil, err
	}
	c.tr.items++
	return c.settle(key, val)
}

// putDupTree adds val to a duplicate set kept in a nested tree.
func (c *Cursor) putDupTree(key, val []byte, flags uint) ([]byte, error) {
	tr, err := decodeTree(c.node().data())
	if err != nil {
		return nil, err
	}
	c.subTree = tr
	s := c.subCursor()
	if flags&AppendDup != 0 {
		if err := s.seekEdge(true); err != nil {
			return nil, err
		}
		if c.dcmp(val, s.node().key()) < 0 {
			return nil, NewError(ErrKeyMismatch)
		}
	}
	exact, err := s.search(val)
	if err != nil {
		return nil, err
	}
	if exact {
		if flags&NoDupData != 0 {
			return s.node().key(), ErrKeyExistError
		}
		return c.settle(key, val)
	}
	if err := s.insertKey(val); err != nil {
		return nil, err
	}
	if err := c.touch(); err != nil {
		return nil, err
	}
	c.writeSubTree()
	c.tr.items++
	return c.settle(key, val)
}

// delDup removes the current duplicate and keeps the rest of the set.
func (c *Cursor) delDup(key []byte) error {
	val := bytes.Clone(c.sub.node().key())
	if err := c.touch(); err != nil {
		return err
	}
	c.tr.items--

	if c.dup == dupInline {
		vals, err := c.dupValues(c.node())
		if err != nil {
			return err
		}
		i, found := slices.BinarySearchFunc(vals, val, c.dcmp)
		if !found {
			return NewError(ErrCorrupted)
		}
		return c.storeDups(key, slices.Delete(vals, i, i+1))
	}

	s := c.subCursor()
	if err := s.deleteKey(val); err != nil {
		return err
	}
	if c.subTree.items > 1 {
		c.writeSubTree()
		return nil
	}
	if err := s.seekEdge(false); err != nil {
		return err
	}
	last := bytes.Clone(s.node().key())
	if err := c.txn.freeTree(&c.subTree); err != nil {
		return err
	}
	return c.replaceNode(c.top, c.stack[c.top].idx, newLeafNode(key, last, 0))
}

// storeDups replaces the node under the touched cursor with the given
// sorted set: a plain node for one value, an inline sub-page while it is
// small, a nested tree beyond that.
func (c *Cursor) storeDups(key []byte, vals [][]byte) error {
	var nn node
	if len(vals) == 1 {
		nn = newLeafNode(key, vals[0], 0)
	} else if sp, ok := c.subPage(key, vals); ok {
		nn = newLeafNode(key, sp, nodeDup)
	} else {
		tr, err := c.buildSubTree(vals)
		if err != nil {
			return err
		}
		nn = newLeafNode(key, tr.bytes(), nodeTree)
	}
	return c.replaceNode(c.top, c.stack[c.top].idx, nn)
}

// subPage builds an inline duplicate sub-page for vals, or reports that
// the set is too large to stay inline.
func (c *Cursor) subPage(key []byte, vals [][]byte) (page, bool) {
	size := pageHeaderSize
	for _, v := range vals {
		size += 2 + nodeHeaderSize + len(v)
	}
	ps := c.txn.pageSize
	if size-pageHeaderSize > (int(ps)-pageHeaderSize)/dupSubPageDivisor || nodeHeaderSize+len(key)+size > nodeMax(ps) {
		return nil, false
	}
	sp := make(page, size)
	sp.init(0, pageLeaf|pageSub)
	for i, v := range vals {
		if !sp.insert(i, newLeafNode(v, nil, 0)) {
			return nil, false
		}
	}
	return sp, true
}

// buildSubTree moves vals into a fresh nested tree.
func (c *Cursor) buildSubTree(vals [][]byte) (tree, error) {
	c.subTree = emptyTree(0)
	s := c.subCursor()
	for _, v := range vals {
		if err := s.insertKey(v); err != nil {
			return tree{}, err
		}
	}
	c.subTree.modTxnid = c.txn.id
	return c.subTree, nil
}

// writeSubTree stores the nested tree record in the touched node.
func (c *Cursor) writeSubTree() {
	c.subTree.modTxnid = c.txn.id
	l := c.stack[c.top]
	c.subTree.encode(l.pg.node(l.idx).data())
}

// insertKey adds a value to a nested duplicate tree.
func (c *Cursor) insertKey(k []byte) error {
	if c.tr.isEmpty() {
		if err := c.createRoot(); err != nil {
			return err
		}
	} else {
		exact, err := c.search(k)
		if err != nil {
			return err
		}
		if exact {
			return ErrKeyExistError
		}
		if err := c.touch(); err != nil {
			return err
		}
	}
	if err := c.insertNode(c.top, c.stack[c.top].idx, newLeafNode(k, nil, 0)); err != nil {
		return err
	}
	c.tr.items++
	return nil
}

// deleteKey removes a value from a nested duplicate tree.
func (c *Cursor) deleteKey(k []byte) error {
	exact, err := c.search(k)
	if err != nil {
		return err
	}
	if !exact {
		return ErrNotFoundError
	}
	if err := c.touch(); err != nil {
		return err
	}
	l := c.stack[c.top]
	l.pg.remove(l.idx)
	c.tr.items--
	return c.rebalance(c.top)
}
