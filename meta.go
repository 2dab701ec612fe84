package mvkv

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	metaMagic   uint64 = 0x4D564B56A5C3E1F7
	metaVersion uint32 = 1

	// metaBodySize is the size of the meta body following the page header.
	metaBodySize = 144

	// metaSignedSize is the part of the body covered by the checksum.
	metaSignedSize = 136
)

// meta is the decoded content of a meta page. Body layout, relative to the
// end of the page header:
//
//	Offset  Size  Field
//	0       8     magic
//	8       4     format version
//	12      4     page size
//	16      8     txnid
//	24      8     map size
//	32      4     first unallocated pgno
//	36      4     reserved
//	40      48    GC tree
//	88      48    MAIN tree
//	136     8     xxhash64 of bytes [0, 136)
//
// Meta pages 0 and 1 alternate: txnid t lives in slot t%2, so a commit
// never overwrites the meta it was based on.
type meta struct {
	txnid    txnid
	pageSize uint32
	mapSize  uint64
	nextPgno pgno
	gc       tree
	main     tree
	sign     uint64
}

func metaSlot(id txnid) pgno {
	return pgno(id % numMetas)
}

// encode writes m into p, which must be at least one page long.
func (m *meta) encode(p page) {
	clear(p)
	p.init(metaSlot(m.txnid), pageMeta)
	p.setTxnid(m.txnid)

	b := p[pageHeaderSize : pageHeaderSize+metaBodySize]
	le.PutUint64(b[0:], metaMagic)
	le.PutUint32(b[8:], metaVersion)
	le.PutUint32(b[12:], m.pageSize)
	le.PutUint64(b[16:], uint64(m.txnid))
	le.PutUint64(b[24:], m.mapSize)
	le.PutUint32(b[32:], uint32(m.nextPgno))
	m.gc.encode(b[40:])
	m.main.encode(b[88:])
	m.sign = xxhash.Sum64(b[:metaSignedSize])
	le.PutUint64(b[metaSignedSize:], m.sign)
}

// decodeMeta parses and verifies a meta page.
func decodeMeta(p page) (*meta, error) {
	if len(p) < pageHeaderSize+metaBodySize {
		return nil, WrapError(ErrInvalid, fmt.Errorf("meta page too small"))
	}
	b := p[pageHeaderSize : pageHeaderSize+metaBodySize]
	if le.Uint64(b[0:]) != metaMagic {
		return nil, WrapError(ErrInvalid, fmt.Errorf("bad meta magic"))
	}
	if v := le.Uint32(b[8:]); v != metaVersion {
		return nil, WrapError(ErrVersionMismatch, fmt.Errorf("format version %d", v))
	}
	sign := le.Uint64(b[metaSignedSize:])
	if xxhash.Sum64(b[:metaSignedSize]) != sign {
		return nil, WrapError(ErrCorrupted, fmt.Errorf("meta checksum mismatch"))
	}

	m := &meta{
		pageSize: le.Uint32(b[12:]),
		txnid:    txnid(le.Uint64(b[16:])),
		mapSize:  le.Uint64(b[24:]),
		nextPgno: pgno(le.Uint32(b[32:])),
		sign:     sign,
	}
	var err error
	if m.gc, err = decodeTree(b[40:88]); err != nil {
		return nil, err
	}
	if m.main, err = decodeTree(b[88:136]); err != nil {
		return nil, err
	}
	if !validPageSize(m.pageSize) {
		return nil, WrapError(ErrCorrupted, fmt.Errorf("meta page size %d", m.pageSize))
	}
	return m, nil
}

// pickMeta returns the valid meta with the highest txnid.
func pickMeta(pages [numMetas]page) (*meta, error) {
	var best *meta
	var firstErr error
	for _, p := range pages {
		m, err := decodeMeta(p)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if best == nil || m.txnid > best.txnid {
			best = m
		}
	}
	if best == nil {
		return nil, firstErr
	}
	return best, nil
}

func validPageSize(size uint32) bool {
	return size >= MinPageSize && size <= MaxPageSize && size&(size-1) == 0
}

// initMeta returns the meta of a freshly created database.
func initMeta(pageSize uint32, mapSize uint64) *meta {
	return &meta{
		txnid:    0,
		pageSize: pageSize,
		mapSize:  mapSize,
		nextPgno: numMetas,
		gc:       emptyTree(0),
		main:     emptyTree(0),
	}
}
