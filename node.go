package mvkv

// Node flags
const (
	nodeBig   uint8 = 0x01 // value lives in overflow pages
	nodeTree  uint8 = 0x02 // value is a nested duplicate sub-tree record
	nodeDup   uint8 = 0x04 // value is an inline duplicate sub-page
	nodeSubDB uint8 = 0x08 // value is a named database record (MAIN only)
	nodeChild uint8 = 0x80 // branch node; dsize holds the child pgno
)

// node is one entry on a page. Layout:
//
//	Offset  Size  Field
//	0       4     data size, or child pgno on branch pages
//	4       1     flags
//	5       1     reserved
//	6       2     key size
//	8       ksize key
//	...           data: inline value, 4-byte overflow pgno, sub-page or tree record
type node []byte

func (n node) dsize() int { return int(le.Uint32(n[0:])) }
func (n node) child() pgno { return pgno(le.Uint32(n[0:])) }
func (n node) flags() uint8 { return n[4] }
func (n node) ksize() int { return int(le.Uint16(n[6:])) }
func (n node) key() []byte { return n[nodeHeaderSize : nodeHeaderSize+n.ksize()] }
func (n node) isBig() bool { return n[4]&nodeBig != 0 }
func (n node) isTree() bool { return n[4]&nodeTree != 0 }
func (n node) isDup() bool { return n[4]&nodeDup != 0 }
func (n node) isSubDB() bool { return n[4]&nodeSubDB != 0 }

func (n node) setChild(pg pgno) { le.PutUint32(n[0:], uint32(pg)) }

// size returns the number of bytes the node occupies on its page.
func (n node) size() int {
	f := n.flags()
	switch {
	case f&nodeChild != 0:
		return nodeHeaderSize + n.ksize()
	case f&nodeBig != 0:
		return nodeHeaderSize + n.ksize() + 4
	default:
		return nodeHeaderSize + n.ksize() + n.dsize()
	}
}

// data returns the bytes stored in the node after the key.
func (n node) data() []byte {
	start := nodeHeaderSize + n.ksize()
	return n[start:n.size()]
}

// bigPgno returns the first overflow page of a big node.
func (n node) bigPgno() pgno {
	return pgno(le.Uint32(n[nodeHeaderSize+n.ksize():]))
}

func newBranchNode(key []byte, child pgno) node {
	n := make(node, nodeHeaderSize+len(key))
	le.PutUint32(n[0:], uint32(child))
	n[4] = nodeChild
	le.PutUint16(n[6:], uint16(len(key)))
	copy(n[nodeHeaderSize:], key)
	return n
}

func newLeafNode(key, data []byte, flags uint8) node {
	n := make(node, nodeHeaderSize+len(key)+len(data))
	le.PutUint32(n[0:], uint32(len(data)))
	n[4] = flags
	le.PutUint16(n[6:], uint16(len(key)))
	copy(n[nodeHeaderSize:], key)
	copy(n[nodeHeaderSize+len(key):], data)
	return n
}

func newBigNode(key []byte, size int, first pgno) node {
	n := make(node, nodeHeaderSize+len(key)+4)
	le.PutUint32(n[0:], uint32(size))
	n[4] = nodeBig
	le.PutUint16(n[6:], uint16(len(key)))
	copy(n[nodeHeaderSize:], key)
	le.PutUint32(n[nodeHeaderSize+len(key):], uint32(first))
	return n
}

// withKey returns a copy of a branch node carrying a different key.
func (n node) withKey(key []byte) node {
	return newBranchNode(key, n.child())
}

// leafNodeSize is the on-page size of a leaf node holding data inline.
func leafNodeSize(key, data []byte) int {
	return nodeHeaderSize + len(key) + len(data)
}
