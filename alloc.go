//go:build unix

package mvkv

import (
	"fmt"
	"log/slog"
	"slices"
)

// allocPages returns the first of n contiguous free page numbers.
// Single pages come from the loose list, then from reclaimed GC records,
// and only then from the end of the file.
func (txn *Txn) allocPages(n int) (pgno, error) {
	if txn.dirty.Len() >= maxDirtyPages {
		return 0, NewError(ErrTxnFull)
	}

	switch {
	case txn.gcExtend:
		// The GC rewrite did not settle while reusing pages.
	case n == 1:
		if k := len(txn.loose); k > 0 {
			pg := txn.loose[k-1]
			txn.loose = txn.loose[:k-1]
			return pg, nil
		}
		for {
			if k := len(txn.reclaimed); k > 0 {
				var pg pgno
				if txn.env.flags&LifoReclaim != 0 {
					pg = txn.reclaimed[k-1]
					txn.reclaimed = txn.reclaimed[:k-1]
				} else {
					pg = txn.reclaimed[0]
					txn.reclaimed = txn.reclaimed[1:]
				}
				return pg, nil
			}
			ok, err := txn.reclaimMore()
			if err != nil {
				return 0, err
			}
			if !ok {
				break
			}
		}
	default:
		for {
			if pg, ok := txn.takeRun(n); ok {
				return pg, nil
			}
			ok, err := txn.reclaimMore()
			if err != nil {
				return 0, err
			}
			if !ok {
				break
			}
		}
	}

	if int64(txn.nextPgno)+int64(n) > int64(txn.maxPgno) {
		return 0, WrapError(ErrMapFull, fmt.Errorf("need %d pages at %d, limit %d", n, txn.nextPgno, txn.maxPgno))
	}
	pg := txn.nextPgno
	txn.nextPgno += pgno(n)
	return pg, nil
}

// takeRun removes n contiguous pages from the reclaimed list.
func (txn *Txn) takeRun(n int) (pgno, bool) {
	if len(txn.reclaimed) < n {
		return 0, false
	}
	sorted := slices.Clone(txn.reclaimed)
	slices.Sort(sorted)
	for i := 0; i+n <= len(sorted); i++ {
		if sorted[i+n-1]-sorted[i] != pgno(n-1) {
			continue
		}
		first := sorted[i]
		txn.reclaimed = slices.DeleteFunc(txn.reclaimed, func(pg pgno) bool {
			return pg >= first && pg < first+pgno(n)
		})
		return first, true
	}
	return 0, false
}

// newPage allocates n pages and registers a zeroed dirty buffer for them.
func (txn *Txn) newPage(flags uint16, n int) (page, error) {
	pg, err := txn.allocPages(n)
	if err != nil {
		return nil, err
	}
	p := make(page, n*int(txn.pageSize))
	p.init(pg, flags)
	if flags&pageOverflow != 0 {
		p.setOverflowPages(n)
	}
	txn.dirty.Set(uint32(pg), p)
	return p, nil
}

// isDirty reports whether pg was allocated by this transaction or one of
// its ancestors, i.e. is not reachable from any committed snapshot.
func (txn *Txn) isDirty(pg pgno) bool {
	for t := txn; t != nil; t = t.parent {
		if t.dirty.Has(uint32(pg)) {
			return true
		}
	}
	return false
}

// freePage retires n pages starting at pg. Pages that never left this
// transaction are reused at once; snapshot pages wait in the GC.
func (txn *Txn) freePage(pg pgno, n int) {
	if txn.isDirty(pg) {
		txn.dirty.Delete(uint32(pg))
		for i := range n {
			txn.loose = append(txn.loose, pg+pgno(i))
		}
		return
	}
	for i := range n {
		txn.freed = append(txn.freed, pg+pgno(i))
	}
}

// touchPage returns a writable version of p. A clean page is copied to a
// new page number and the old one is retired; the caller must repoint the
// parent when the number changed.
func (txn *Txn) touchPage(p page) (page, error) {
	pg := p.pgno()
	if q, ok := txn.dirty.Get(uint32(pg)); ok {
		return q, nil
	}
	ps := int(txn.pageSize)
	for t := txn.parent; t != nil; t = t.parent {
		if q, ok := t.dirty.Get(uint32(pg)); ok {
			if txn.dirty.Len() >= maxDirtyPages {
				return nil, NewError(ErrTxnFull)
			}
			np := make(page, ps)
			copy(np, q[:ps])
			txn.dirty.Set(uint32(pg), np)
			return np, nil
		}
	}

	npg, err := txn.allocPages(1)
	if err != nil {
		return nil, err
	}
	np := make(page, ps)
	copy(np, p[:ps])
	np.setPgno(npg)
	txn.dirty.Set(uint32(npg), np)
	txn.freePage(pg, 1)
	return np, nil
}

// freeTree retires every page reachable from tr, including overflow runs
// and nested duplicate trees.
func (txn *Txn) freeTree(tr *tree) error {
	if tr.isEmpty() {
		return nil
	}
	if err := txn.freeSubtree(tr.root, 0); err != nil {
		return err
	}
	txn.env.debug("tree freed",
		slog.Uint64("txnid", uint64(txn.id)),
		slog.Uint64("pages", uint64(tr.branchPages+tr.leafPages+tr.largePages)))
	return nil
}

func (txn *Txn) freeSubtree(pg pgno, depth int) error {
	if depth >= CursorStackSize {
		return NewError(ErrCursorFull)
	}
	p, err := txn.getPage(pg)
	if err != nil {
		return err
	}
	for i := range p.numKeys() {
		n := p.node(i)
		switch {
		case p.isBranch():
			if err := txn.freeSubtree(n.child(), depth+1); err != nil {
				return err
			}
		case n.isBig():
			txn.freePage(n.bigPgno(), overflowPagesFor(n.dsize(), txn.pageSize))
		case n.isTree():
			sub, err := decodeTree(n.data())
			if err != nil {
				return err
			}
			if err := txn.freeTree(&sub); err != nil {
				return err
			}
		}
	}
	txn.freePage(pg, 1)
	return nil
}
