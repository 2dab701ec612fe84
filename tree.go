package mvkv

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// CmpFunc compares two keys or two duplicate values.
type CmpFunc = func(a, b []byte) int

// treeRecordSize is the serialized size of a tree record.
const treeRecordSize = 48

// tree is the persistent descriptor of one B+tree. Layout:
//
//	Offset  Size  Field
//	0       2     flags
//	2       2     height
//	4       4     dupfix size
//	8       4     root pgno
//	12      4     branch pages
//	16      4     leaf pages
//	20      4     overflow pages
//	24      8     sequence
//	32      8     items
//	40      8     last modifying txnid
type tree struct {
	flags       uint16
	height      uint16
	dupfixSize  uint32
	root        pgno
	branchPages uint32
	leafPages   uint32
	largePages  uint32
	sequence    uint64
	items       uint64
	modTxnid    txnid
}

func emptyTree(flags uint16) tree {
	return tree{flags: flags, root: invalidPgno}
}

func (t *tree) isEmpty() bool {
	return t.root == invalidPgno
}

func (t *tree) encode(b []byte) {
	le.PutUint16(b[0:], t.flags)
	le.PutUint16(b[2:], t.height)
	le.PutUint32(b[4:], t.dupfixSize)
	le.PutUint32(b[8:], uint32(t.root))
	le.PutUint32(b[12:], t.branchPages)
	le.PutUint32(b[16:], t.leafPages)
	le.PutUint32(b[20:], t.largePages)
	le.PutUint64(b[24:], t.sequence)
	le.PutUint64(b[32:], t.items)
	le.PutUint64(b[40:], uint64(t.modTxnid))
}

func (t *tree) bytes() []byte {
	b := make([]byte, treeRecordSize)
	t.encode(b)
	return b
}

func decodeTree(b []byte) (tree, error) {
	if len(b) != treeRecordSize {
		return tree{}, WrapError(ErrCorrupted, fmt.Errorf("tree record of %d bytes", len(b)))
	}
	return tree{
		flags:       le.Uint16(b[0:]),
		height:      le.Uint16(b[2:]),
		dupfixSize:  le.Uint32(b[4:]),
		root:        pgno(le.Uint32(b[8:])),
		branchPages: le.Uint32(b[12:]),
		leafPages:   le.Uint32(b[16:]),
		largePages:  le.Uint32(b[20:]),
		sequence:    le.Uint64(b[24:]),
		items:       le.Uint64(b[32:]),
		modTxnid:    txnid(le.Uint64(b[40:])),
	}, nil
}

// countPage adjusts the page statistics for a page of the given kind.
func (t *tree) countPage(flags uint16, n int) {
	switch {
	case flags&pageBranch != 0:
		t.branchPages = uint32(int(t.branchPages) + n)
	case flags&pageLeaf != 0:
		t.leafPages = uint32(int(t.leafPages) + n)
	case flags&pageOverflow != 0:
		t.largePages = uint32(int(t.largePages) + n)
	}
}

// cmpReverse orders keys in descending byte order.
func cmpReverse(a, b []byte) int {
	return bytes.Compare(b, a)
}

// cmpInteger compares native-endian unsigned 32 or 64 bit integers.
func cmpInteger(a, b []byte) int {
	if len(a) == len(b) {
		switch len(a) {
		case 4:
			x, y := binary.NativeEndian.Uint32(a), binary.NativeEndian.Uint32(b)
			if x < y {
				return -1
			} else if x > y {
				return 1
			}
			return 0
		case 8:
			x, y := binary.NativeEndian.Uint64(a), binary.NativeEndian.Uint64(b)
			if x < y {
				return -1
			} else if x > y {
				return 1
			}
			return 0
		}
	}
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return bytes.Compare(a, b)
}

func keyComparator(flags uint) CmpFunc {
	switch {
	case flags&IntegerKey != 0:
		return cmpInteger
	case flags&ReverseKey != 0:
		return cmpReverse
	default:
		return bytes.Compare
	}
}

func dupComparator(flags uint) CmpFunc {
	switch {
	case flags&IntegerDup != 0:
		return cmpInteger
	case flags&ReverseDup != 0:
		return cmpReverse
	default:
		return bytes.Compare
	}
}

// validIntegerSize reports whether b can be an IntegerKey/IntegerDup item.
func validIntegerSize(b []byte) bool {
	return len(b) == 4 || len(b) == 8
}
