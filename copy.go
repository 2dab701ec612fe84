//go:build unix

package mvkv

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Copy writes a consistent copy of the latest snapshot to path, a
// directory unless the environment was opened with NoSubdir. CopyCompact
// renumbers the pages of every tree and leaves out free pages.
func (e *Env) Copy(path string, flags uint) error {
	if !e.valid() || e.dataMap == nil {
		return NewError(ErrInvalid)
	}
	dst := path
	if e.flags&NoSubdir == 0 {
		if err := os.MkdirAll(path, 0755); err != nil {
			return WrapError(ErrInvalid, err)
		}
		dst = filepath.Join(path, DataFileName)
	}
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return WrapError(ErrInvalid, err)
	}
	if err := e.copyTo(f, flags); err != nil {
		f.Close()
		os.Remove(dst)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return WrapError(ErrProblem, err)
	}
	return f.Close()
}

// CopyFD writes a copy of the latest snapshot to an open file descriptor
// positioned at offset zero.
func (e *Env) CopyFD(fd uintptr, flags uint) error {
	if !e.valid() || e.dataMap == nil {
		return NewError(ErrInvalid)
	}
	f := os.NewFile(fd, "copy")
	if f == nil {
		return NewError(ErrInvalid)
	}
	return e.copyTo(f, flags)
}

func (e *Env) copyTo(w io.Writer, flags uint) error {
	txn, err := e.BeginTxn(nil, TxnReadOnly)
	if err != nil {
		return err
	}
	defer txn.Abort()

	bw := bufio.NewWriterSize(w, writeBatchSize)
	var m meta
	if flags&CopyCompact != 0 {
		c := &compactor{txn: txn, out: bw, next: numMetas}
		if m, err = c.run(); err != nil {
			return err
		}
	} else {
		m = *txn.meta
		ps := int(txn.pageSize)
		if err := writeMetas(bw, &m); err != nil {
			return err
		}
		if _, err := bw.Write(txn.data[numMetas*ps : int(m.nextPgno)*ps]); err != nil {
			return WrapError(ErrProblem, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return WrapError(ErrProblem, err)
	}
	e.debug("environment copied",
		slog.Uint64("txnid", uint64(m.txnid)),
		slog.Uint64("pages", uint64(m.nextPgno)),
		slog.Bool("compact", flags&CopyCompact != 0))
	return nil
}

// writeMetas writes both meta slots for m. The slot that does not hold
// m.txnid gets the same state under the previous txnid.
func writeMetas(w io.Writer, m *meta) error {
	buf := make(page, m.pageSize)
	for slot := pgno(0); slot < numMetas; slot++ {
		mm := *m
		if metaSlot(mm.txnid) != slot && mm.txnid > 0 {
			mm.txnid--
		}
		mm.encode(buf)
		if _, err := w.Write(buf); err != nil {
			return WrapError(ErrProblem, err)
		}
	}
	return nil
}

// compactor streams the reachable pages of a snapshot in depth-first
// order, assigning consecutive page numbers. A page is written after
// every page it references, so its number is known up front.
type compactor struct {
	txn  *Txn
	out  io.Writer
	next pgno
	held []page // numbered pages, in number order
}

func (c *compactor) run() (meta, error) {
	m := *c.txn.meta
	m.gc = emptyTree(m.gc.flags)
	m.gc.modTxnid = m.txnid

	var err error
	if m.main, err = c.copyTree(m.main, true); err != nil {
		return meta{}, err
	}
	m.nextPgno = c.next

	if err := writeMetas(c.out, &m); err != nil {
		return meta{}, err
	}
	for _, p := range c.held {
		if _, err := c.out.Write(p); err != nil {
			return meta{}, WrapError(ErrProblem, err)
		}
	}
	return m, nil
}

// copyTree copies tr and returns its record with the new root.
func (c *compactor) copyTree(tr tree, main bool) (tree, error) {
	if tr.isEmpty() {
		return tr, nil
	}
	root, err := c.copyPage(tr.root, 0, main)
	if err != nil {
		return tree{}, err
	}
	tr.root = root
	return tr, nil
}

func (c *compactor) copyPage(pg pgno, depth int, main bool) (pgno, error) {
	if depth >= CursorStackSize {
		return 0, NewError(ErrCursorFull)
	}
	src, err := c.txn.getPage(pg)
	if err != nil {
		return 0, err
	}
	p := make(page, len(src))
	copy(p, src)
	npg := c.alloc(p)
	p.setPgno(npg)
	if p.isOverflow() {
		return npg, nil
	}

	for i := range p.numKeys() {
		n := p.node(i)
		switch {
		case p.isBranch():
			child, err := c.copyPage(n.child(), depth+1, main)
			if err != nil {
				return 0, err
			}
			n.setChild(child)
		case n.isBig():
			ov, err := c.copyPage(n.bigPgno(), depth+1, main)
			if err != nil {
				return 0, err
			}
			le.PutUint32(n[nodeHeaderSize+n.ksize():], uint32(ov))
		case n.isTree() || main && n.isSubDB():
			sub, err := decodeTree(n.data())
			if err != nil {
				return 0, err
			}
			if sub, err = c.copyTree(sub, false); err != nil {
				return 0, fmt.Errorf("copy %q: %w", n.key(), err)
			}
			sub.encode(n.data())
		}
	}
	return npg, nil
}

// alloc numbers p. Overflow runs take as many numbers as pages.
func (c *compactor) alloc(p page) pgno {
	pg := c.next
	c.next += pgno(len(p) / int(c.txn.pageSize))
	c.held = append(c.held, p)
	return pg
}
