//go:build unix

package mvkv

import (
	"fmt"
	"log/slog"

	"github.com/Giulio2002/mvkv/internal/bitmap"
)

// maxCheckProblems bounds the problems a check collects.
const maxCheckProblems = 100

// CheckReport is the result of an integrity check of one snapshot.
type CheckReport struct {
	TxnID       uint64
	NextPgno    uint64
	TreePages   uint64 // pages reachable from a tree, metas included
	FreePages   uint64 // pages listed in GC records
	LeakedPages uint64 // pages neither reachable nor free
	Databases   int
	Items       uint64
	Problems    []string
}

// OK reports whether the check found nothing wrong.
func (r *CheckReport) OK() bool {
	return len(r.Problems) == 0 && r.LeakedPages == 0
}

// Check verifies the latest snapshot.
func (e *Env) Check() (*CheckReport, error) {
	txn, err := e.BeginTxn(nil, TxnReadOnly)
	if err != nil {
		return nil, err
	}
	defer txn.Abort()
	return txn.Check()
}

// Check walks every tree of the transaction's snapshot. It verifies page
// kinds, key order and statistics, and accounts for every page below the
// first unallocated one exactly once. A write transaction is checked as of
// its base snapshot.
func (txn *Txn) Check() (*CheckReport, error) {
	if err := txn.check(false); err != nil {
		return nil, err
	}
	snap := txn
	if !txn.IsReadOnly() {
		snap = &Txn{
			signature: txnSignature,
			env:       txn.env,
			flags:     TxnReadOnly,
			state:     txnActive,
			id:        txn.meta.txnid,
			meta:      txn.meta,
			data:      txn.data,
			pageSize:  txn.pageSize,
			slot:      -1,
		}
		snap.initDBs()
	}

	w := &checker{
		txn:  snap,
		seen: bitmap.New(uint32(snap.meta.nextPgno)),
		rep: &CheckReport{
			TxnID:    uint64(snap.meta.txnid),
			NextPgno: uint64(snap.meta.nextPgno),
		},
	}
	for pg := pgno(0); pg < numMetas; pg++ {
		w.mark(pg, 1)
	}

	gc := snap.meta.gc
	if err := w.walkTree("@gc", &gc, cmpGCKey, nil, w.gcRecord); err != nil {
		return nil, err
	}
	main := snap.meta.main
	mainInfo := txn.env.dbiInfo(MainDBI)
	if err := w.walkTree("main", &main, mainInfo.cmp, mainInfo.dcmp, w.mainRecord); err != nil {
		return nil, err
	}

	w.seen.Missing(numMetas, uint32(snap.meta.nextPgno), func(n uint32) bool {
		w.rep.LeakedPages++
		if w.rep.LeakedPages <= 10 {
			w.problem("page %d is neither reachable nor free", n)
		}
		return true
	})
	txn.env.debug("check finished",
		slog.Uint64("txnid", w.rep.TxnID),
		slog.Uint64("tree_pages", w.rep.TreePages),
		slog.Uint64("free_pages", w.rep.FreePages),
		slog.Uint64("leaked", w.rep.LeakedPages),
		slog.Int("problems", len(w.rep.Problems)))
	return w.rep, nil
}

type checker struct {
	txn  *Txn
	seen *bitmap.Bitmap
	rep  *CheckReport
	free bool // marking GC record contents
}

func (w *checker) problem(format string, args ...any) {
	if len(w.rep.Problems) < maxCheckProblems {
		w.rep.Problems = append(w.rep.Problems, fmt.Sprintf(format, args...))
	}
}

// mark accounts for n pages starting at pg.
func (w *checker) mark(pg pgno, n int) {
	for i := range n {
		p := pg + pgno(i)
		if p >= w.txn.meta.nextPgno {
			w.problem("page %d beyond the last allocated page %d", p, w.txn.meta.nextPgno-1)
			continue
		}
		if w.seen.Set(uint32(p)) {
			w.problem("page %d is referenced twice", p)
			continue
		}
		if w.free {
			w.rep.FreePages++
		} else {
			w.rep.TreePages++
		}
	}
}

// treeStats accumulates what a walk actually found.
type treeStats struct {
	branch, leaf, large uint32
	items               uint64
}

// walkTree walks tr, calling leaf for every leaf node, and compares the
// result with the statistics in the record.
func (w *checker) walkTree(name string, tr *tree, cmp, dcmp CmpFunc, leaf func(name string, n node, st *treeStats, dcmp CmpFunc) error) error {
	if tr.isEmpty() {
		if tr.items != 0 || tr.height != 0 {
			w.problem("%s: empty tree claims %d items, height %d", name, tr.items, tr.height)
		}
		return nil
	}
	var st treeStats
	if err := w.walkPage(name, tr.root, 0, int(tr.height), cmp, dcmp, &st, leaf); err != nil {
		return err
	}
	if st.branch != tr.branchPages || st.leaf != tr.leafPages || st.large != tr.largePages {
		w.problem("%s: page counts %d/%d/%d, record says %d/%d/%d", name,
			st.branch, st.leaf, st.large, tr.branchPages, tr.leafPages, tr.largePages)
	}
	if st.items != tr.items {
		w.problem("%s: %d items found, record says %d", name, st.items, tr.items)
	}
	return nil
}

func (w *checker) walkPage(name string, pg pgno, depth, height int, cmp, dcmp CmpFunc, st *treeStats, leaf func(string, node, *treeStats, CmpFunc) error) error {
	if depth >= CursorStackSize {
		w.problem("%s: tree deeper than %d", name, CursorStackSize)
		return nil
	}
	p, err := w.txn.getPage(pg)
	if err != nil {
		if IsCorrupted(err) {
			w.problem("%s: page %d: %v", name, pg, err)
			return nil
		}
		return err
	}
	w.mark(pg, 1)

	last := depth == height-1
	switch {
	case last && !p.isLeaf():
		w.problem("%s: page %d at depth %d should be a leaf", name, pg, depth)
		return nil
	case !last && !p.isBranch():
		w.problem("%s: page %d at depth %d should be a branch", name, pg, depth)
		return nil
	case p.numKeys() == 0:
		w.problem("%s: page %d is empty", name, pg)
	}

	start := 0
	if p.isBranch() {
		st.branch++
		start = 1
	} else {
		st.leaf++
	}
	for i := start + 1; i < p.numKeys(); i++ {
		if cmp(p.nodeKey(i-1), p.nodeKey(i)) >= 0 {
			w.problem("%s: page %d keys %d and %d out of order", name, pg, i-1, i)
		}
	}

	for i := range p.numKeys() {
		n := p.node(i)
		if p.isBranch() {
			if err := w.walkPage(name, n.child(), depth+1, height, cmp, dcmp, st, leaf); err != nil {
				return err
			}
			continue
		}
		if n.isBig() {
			np := overflowPagesFor(n.dsize(), w.txn.pageSize)
			op, err := w.txn.getPage(n.bigPgno())
			switch {
			case err != nil && !IsCorrupted(err):
				return err
			case err != nil:
				w.problem("%s: overflow page %d: %v", name, n.bigPgno(), err)
			case !op.isOverflow() || op.overflowPages() != np:
				w.problem("%s: overflow run at %d has %d pages, want %d", name, n.bigPgno(), op.overflowPages(), np)
			default:
				w.mark(n.bigPgno(), np)
				st.large += uint32(np)
			}
		}
		if err := leaf(name, n, st, dcmp); err != nil {
			return err
		}
	}
	return nil
}

// plainLeaf counts one item per node.
func (w *checker) plainLeaf(name string, n node, st *treeStats, dcmp CmpFunc) error {
	st.items++
	return nil
}

// dupLeaf counts the values of a DupSort node and walks nested trees.
func (w *checker) dupLeaf(name string, n node, st *treeStats, dcmp CmpFunc) error {
	switch {
	case n.isDup():
		sp := page(n.data())
		if sp.flags()&pageSub == 0 {
			w.problem("%s: key %x has a malformed duplicate page", name, n.key())
			return nil
		}
		for i := 1; i < sp.numKeys(); i++ {
			if dcmp(sp.nodeKey(i-1), sp.nodeKey(i)) >= 0 {
				w.problem("%s: key %x duplicates out of order", name, n.key())
				break
			}
		}
		st.items += uint64(sp.numKeys())
	case n.isTree():
		sub, err := decodeTree(n.data())
		if err != nil {
			w.problem("%s: key %x: %v", name, n.key(), err)
			return nil
		}
		if err := w.walkTree(fmt.Sprintf("%s[%x]", name, n.key()), &sub, dcmp, nil, w.plainLeaf); err != nil {
			return err
		}
		st.items += sub.items
	default:
		st.items++
	}
	return nil
}

// gcRecord marks the pages listed in a GC record as free.
func (w *checker) gcRecord(name string, n node, st *treeStats, dcmp CmpFunc) error {
	st.items++
	v, err := w.txn.nodeData(n)
	if err != nil {
		return err
	}
	pgs, err := decodePgnos(v)
	if err != nil {
		w.problem("%s: record %x: %v", name, n.key(), err)
		return nil
	}
	w.free = true
	for _, pg := range pgs {
		w.mark(pg, 1)
	}
	w.free = false
	return nil
}

// mainRecord walks named databases stored in MAIN.
func (w *checker) mainRecord(name string, n node, st *treeStats, dcmp CmpFunc) error {
	st.items++
	if !n.isSubDB() {
		w.rep.Items++
		return nil
	}
	tr, err := decodeTree(n.data())
	if err != nil {
		w.problem("main: database %q: %v", n.key(), err)
		return nil
	}
	w.rep.Databases++
	w.rep.Items += tr.items

	dbName := string(n.key())
	flags := uint(tr.flags)
	cmp, dc := keyComparator(flags), dupComparator(flags)
	if dbi, ok := w.txn.env.findDBI(dbName); ok {
		if info := w.txn.env.dbiInfo(dbi); info != nil {
			cmp, dc = info.cmp, info.dcmp
		}
	}
	leaf := w.plainLeaf
	if flags&DupSort != 0 {
		leaf = w.dupLeaf
	}
	return w.walkTree(dbName, &tr, cmp, dc, leaf)
}
