//go:build unix

/*
Package scan wraps an mvkv.Cursor to simplify iteration.
*/
package scan

import (
	"bytes"
	"errors"

	"github.com/Giulio2002/mvkv"
)

var errClosed = errors.New("scanner is closed")

// Scanner iterates a database inside a transaction.
type Scanner struct {
	cur    *mvkv.Cursor
	op     mvkv.CursorOp
	key    []byte
	val    []byte
	err    error
	set    bool
	prefix []byte
}

// New returns a Scanner for dbi within txn that visits every item in key
// order. Close must be called when the Scanner is no longer needed.
func New(txn *mvkv.Txn, dbi mvkv.DBI) *Scanner {
	s := &Scanner{op: mvkv.Next}
	s.cur, s.err = txn.OpenCursor(dbi)
	return s
}

// NewPrefix returns a Scanner that visits only the items whose key starts
// with prefix.
func NewPrefix(txn *mvkv.Txn, dbi mvkv.DBI, prefix []byte) *Scanner {
	s := New(txn, dbi)
	s.prefix = bytes.Clone(prefix)
	if len(prefix) > 0 {
		s.SetNext(s.prefix, nil, mvkv.SetRange, mvkv.Next)
	}
	return s
}

// Cursor returns the underlying cursor, or nil once s is closed.
func (s *Scanner) Cursor() *mvkv.Cursor {
	return s.cur
}

// Key returns the key read by the last call to Scan.
func (s *Scanner) Key() []byte {
	return s.key
}

// Val returns the value read by the last call to Scan.
func (s *Scanner) Val() []byte {
	return s.val
}

// Set positions the cursor with Get(k, v, opset). The next call to Scan
// does not move the cursor.
func (s *Scanner) Set(k, v []byte, opset mvkv.CursorOp) bool {
	if !s.checkOpen() {
		return false
	}
	s.set = true
	s.key, s.val, s.err = s.cur.Get(k, v, opset)
	return s.err == nil
}

// SetNext is Set followed by making opnext the operation of later Scans.
func (s *Scanner) SetNext(k, v []byte, opset, opnext mvkv.CursorOp) bool {
	if !s.checkOpen() {
		return false
	}
	ok := s.Set(k, v, opset)
	s.op = opnext
	return ok
}

// Scan reads the next item. It returns false when the items are exhausted
// or an error occurred.
func (s *Scanner) Scan() bool {
	if !s.checkOpen() {
		return false
	}
	if s.set {
		s.set = false
	} else {
		s.key, s.val, s.err = s.cur.Get(nil, nil, s.op)
	}
	if s.err != nil {
		return false
	}
	if s.prefix != nil && !bytes.HasPrefix(s.key, s.prefix) {
		s.err = mvkv.ErrNotFoundError
		return false
	}
	return true
}

func (s *Scanner) checkOpen() bool {
	if s.cur != nil {
		return true
	}
	if s.err == nil {
		s.err = errClosed
	}
	return false
}

// Err returns the error that ended the scan, if it was anything other than
// running out of items.
func (s *Scanner) Err() error {
	if mvkv.IsNotFound(s.err) {
		return nil
	}
	return s.err
}

// Close closes the cursor. It does not end the transaction.
func (s *Scanner) Close() {
	if s.cur != nil {
		s.cur.Close()
		s.cur = nil
	}
}
