package mvkv

import (
	"encoding/binary"
	"fmt"
)

var le = binary.LittleEndian

// pgno is a page number; the byte offset of a page is pgno * pageSize.
type pgno uint32

// txnid is a transaction id.
type txnid uint64

// invalidPgno marks an empty tree.
const invalidPgno pgno = 0xFFFFFFFF

// Page flags
const (
	pageBranch   uint16 = 0x01
	pageLeaf     uint16 = 0x02
	pageOverflow uint16 = 0x04
	pageMeta     uint16 = 0x08
	pageSub      uint16 = 0x40 // inline duplicate set inside a leaf node
)

// page is a view of one page (or of an overflow run, or of an inline
// duplicate sub-page). Header layout:
//
//	Offset  Size  Field
//	0       8     txnid of the writer
//	8       4     pgno
//	12      2     flags
//	14      2     lower: end of the offset array, relative to the payload
//	16      2     upper: start of the node area, relative to the payload
//	18      2     reserved
//	20      4     overflow page count
//
// The payload holds a sorted array of uint16 node offsets growing up and
// the node bodies growing down.
type page []byte

func (p page) txnid() txnid { return txnid(le.Uint64(p[0:])) }
func (p page) setTxnid(id txnid) { le.PutUint64(p[0:], uint64(id)) }
func (p page) pgno() pgno { return pgno(le.Uint32(p[8:])) }
func (p page) setPgno(pg pgno) { le.PutUint32(p[8:], uint32(pg)) }
func (p page) flags() uint16 { return le.Uint16(p[12:]) }
func (p page) setFlags(f uint16) { le.PutUint16(p[12:], f) }
func (p page) lower() int { return int(le.Uint16(p[14:])) }
func (p page) setLower(v int) { le.PutUint16(p[14:], uint16(v)) }
func (p page) upper() int { return int(le.Uint16(p[16:])) }
func (p page) setUpper(v int) { le.PutUint16(p[16:], uint16(v)) }
func (p page) overflowPages() int { return int(le.Uint32(p[20:])) }
func (p page) setOverflowPages(n int) {
	le.PutUint32(p[20:], uint32(n))
}

func (p page) isBranch() bool { return p.flags()&pageBranch != 0 }
func (p page) isLeaf() bool { return p.flags()&pageLeaf != 0 }
func (p page) isOverflow() bool { return p.flags()&pageOverflow != 0 }

// payloadSize is the number of bytes available for offsets and nodes.
func (p page) payloadSize() int { return len(p) - pageHeaderSize }

func (p page) numKeys() int { return p.lower() >> 1 }
func (p page) freeSpace() int { return p.upper() - p.lower() }
func (p page) usedSpace() int { return p.payloadSize() - p.freeSpace() }

// init resets p to an empty page of the given kind.
func (p page) init(pg pgno, flags uint16) {
	clear(p[:pageHeaderSize])
	p.setPgno(pg)
	p.setFlags(flags)
	p.setLower(0)
	p.setUpper(p.payloadSize())
}

func (p page) offset(i int) int {
	return int(le.Uint16(p[pageHeaderSize+2*i:]))
}

func (p page) setOffset(i, off int) {
	le.PutUint16(p[pageHeaderSize+2*i:], uint16(off))
}

// node returns node i, sliced to its exact size.
func (p page) node(i int) node {
	n := node(p[pageHeaderSize+p.offset(i):])
	return n[:n.size()]
}

// nodeKey returns the key of node i without sizing the whole node.
func (p page) nodeKey(i int) []byte {
	off := pageHeaderSize + p.offset(i)
	ks := int(le.Uint16(p[off+6:]))
	return p[off+nodeHeaderSize : off+nodeHeaderSize+ks]
}

// insert places n at index i. It returns false if n does not fit.
func (p page) insert(i int, n node) bool {
	sz := len(n)
	if p.freeSpace() < sz+2 {
		return false
	}
	num := p.numKeys()
	upper := p.upper() - sz
	copy(p[pageHeaderSize+upper:], n)
	base := pageHeaderSize
	copy(p[base+2*(i+1):base+2*(num+1)], p[base+2*i:base+2*num])
	p.setOffset(i, upper)
	p.setLower(p.lower() + 2)
	p.setUpper(upper)
	return true
}

// remove deletes node i and compacts the node area.
func (p page) remove(i int) {
	num := p.numKeys()
	off := p.offset(i)
	sz := p.node(i).size()
	upper := p.upper()
	base := pageHeaderSize

	copy(p[base+upper+sz:base+off+sz], p[base+upper:base+off])
	for j := 0; j < num; j++ {
		if j == i {
			continue
		}
		if o := p.offset(j); o < off {
			p.setOffset(j, o+sz)
		}
	}
	copy(p[base+2*i:base+2*(num-1)], p[base+2*(i+1):base+2*num])
	p.setLower(p.lower() - 2)
	p.setUpper(upper + sz)
}

// replace swaps node i for n. It returns false if n does not fit.
func (p page) replace(i int, n node) bool {
	old := p.node(i)
	if len(old) == len(n) {
		copy(old, n)
		return true
	}
	if p.freeSpace()+len(old) < len(n) {
		return false
	}
	p.remove(i)
	return p.insert(i, n)
}

// nodes returns copies of every node on the page.
func (p page) nodes() []node {
	num := p.numKeys()
	out := make([]node, num)
	for i := 0; i < num; i++ {
		out[i] = append(node(nil), p.node(i)...)
	}
	return out
}

// rebuild replaces the page contents with ns, keeping the header identity.
func (p page) rebuild(ns []node) error {
	p.setLower(0)
	p.setUpper(p.payloadSize())
	for i, n := range ns {
		if !p.insert(i, n) {
			return NewError(ErrPageFull)
		}
	}
	return nil
}

// searchLeaf returns the first index whose key is >= key.
func (p page) searchLeaf(key []byte, cmp CmpFunc) (int, bool) {
	lo, hi := 0, p.numKeys()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		c := cmp(key, p.nodeKey(mid))
		switch {
		case c > 0:
			lo = mid + 1
		case c < 0:
			hi = mid
		default:
			return mid, true
		}
	}
	return lo, false
}

// searchBranch returns the child index covering key. The key of node 0
// is never consulted.
func (p page) searchBranch(key []byte, cmp CmpFunc) int {
	lo, hi := 1, p.numKeys()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if cmp(key, p.nodeKey(mid)) >= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

// check validates the header of a page fetched as pg.
func (p page) check(pg pgno) error {
	if len(p) < pageHeaderSize {
		return WrapError(ErrCorrupted, fmt.Errorf("page %d: short page", pg))
	}
	if p.pgno() != pg {
		return WrapError(ErrCorrupted, fmt.Errorf("page %d: header claims page %d", pg, p.pgno()))
	}
	f := p.flags()
	if f&(pageBranch|pageLeaf|pageOverflow|pageMeta) == 0 {
		return WrapError(ErrCorrupted, fmt.Errorf("page %d: bad flags %#x", pg, f))
	}
	if f&pageOverflow == 0 && (p.lower() > p.upper() || p.upper() > p.payloadSize() || p.lower()&1 != 0) {
		return WrapError(ErrCorrupted, fmt.Errorf("page %d: bad bounds %d/%d", pg, p.lower(), p.upper()))
	}
	return nil
}

// overflowData returns the payload of an overflow page run.
func (p page) overflowData(size int) []byte {
	return p[pageHeaderSize : pageHeaderSize+size]
}

// overflowPagesFor returns the number of pages a value of size bytes needs.
func overflowPagesFor(size int, pageSize uint32) int {
	return (pageHeaderSize + size + int(pageSize) - 1) / int(pageSize)
}
