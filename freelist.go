//go:build unix

package mvkv

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"maps"
	"slices"
)

// gcKeySize is the size of a GC record key: a big-endian txnid followed by
// a big-endian chunk sequence, so records sort by txnid.
const gcKeySize = 12

// gcKey identifies one GC record: the pages retired by txnid id, chunk seq.
type gcKey struct {
	id  txnid
	seq uint32
}

func (k gcKey) bytes() []byte {
	var b [gcKeySize]byte
	binary.BigEndian.PutUint64(b[0:], uint64(k.id))
	binary.BigEndian.PutUint32(b[8:], k.seq)
	return b[:]
}

func parseGCKey(b []byte) (gcKey, error) {
	if len(b) != gcKeySize {
		return gcKey{}, NewError(ErrCorrupted)
	}
	return gcKey{
		id:  txnid(binary.BigEndian.Uint64(b[0:])),
		seq: binary.BigEndian.Uint32(b[8:]),
	}, nil
}

func cmpGCKey(a, b []byte) int {
	return bytes.Compare(a, b)
}

func (k gcKey) less(o gcKey) bool {
	return k.id < o.id || k.id == o.id && k.seq < o.seq
}

// encodePgnos packs page numbers as little-endian uint32s.
func encodePgnos(pgs []pgno) []byte {
	b := make([]byte, 4*len(pgs))
	for i, pg := range pgs {
		le.PutUint32(b[4*i:], uint32(pg))
	}
	return b
}

func decodePgnos(b []byte) ([]pgno, error) {
	if len(b)%4 != 0 {
		return nil, NewError(ErrCorrupted)
	}
	out := make([]pgno, len(b)/4)
	for i := range out {
		out[i] = pgno(le.Uint32(b[4*i:]))
	}
	return out, nil
}

// gcChunkPgnos is the number of page numbers stored in one GC record.
func gcChunkPgnos(pageSize uint32) int {
	return max(1, (int(pageSize)-pageHeaderSize)/gcChunkDivisor/4)
}

// reclaimLimit returns the txnid below which GC records are safe to reuse:
// older than every pinned reader and than the writer's base snapshot.
func (txn *Txn) reclaimLimit() txnid {
	limit := txn.env.lockFile.oldestReader()
	if base := txn.id - 1; base < limit {
		limit = base
	}
	return limit
}

// reclaimMore loads one more reusable GC record into the reclaimed list.
// It returns false when no further record is reclaimable.
func (txn *Txn) reclaimMore() (bool, error) {
	if txn.gcPhase || txn.gcDrained {
		return false, nil
	}
	limit := txn.reclaimLimit()
	c, err := txn.newCursor(FreeDBI)
	if err != nil {
		return false, err
	}
	defer c.Close()

	lifo := txn.env.flags&LifoReclaim != 0
	var k, v []byte
	if lifo {
		k, v, err = c.Get(gcKey{id: limit}.bytes(), nil, SetRange)
		if IsNotFound(err) {
			k, v, err = c.Get(nil, nil, Last)
		} else if err == nil {
			k, v, err = c.Get(nil, nil, Prev)
		}
	} else {
		k, v, err = c.Get(nil, nil, First)
	}

	for err == nil {
		key, perr := parseGCKey(k)
		if perr != nil {
			return false, perr
		}
		if key.id >= limit {
			if lifo {
				k, v, err = c.Get(nil, nil, Prev)
				continue
			}
			break
		}
		if _, seen := txn.consumed[key]; !seen {
			pgs, derr := decodePgnos(v)
			if derr != nil {
				return false, derr
			}
			txn.consumed[key] = struct{}{}
			txn.reclaimed = append(txn.reclaimed, pgs...)
			txn.env.debug("gc record reclaimed",
				slog.Uint64("txnid", uint64(txn.id)),
				slog.Uint64("record", uint64(key.id)),
				slog.Int("pages", len(pgs)))
			return true, nil
		}
		if lifo {
			k, v, err = c.Get(nil, nil, Prev)
		} else {
			k, v, err = c.Get(nil, nil, Next)
		}
	}
	if err != nil && !IsNotFound(err) {
		return false, err
	}
	txn.gcDrained = true
	return false, nil
}

// updateGC removes consumed GC records and stores every page this
// transaction leaves free under its own txnid. Pages for the GC tree itself
// come from the loose and reclaimed lists first, which shrinks the set being
// written, so the rewrite repeats until the set stops changing. After
// gcReuseRounds rounds allocation only extends the file; the set can then
// only grow and the loop settles.
func (txn *Txn) updateGC() error {
	txn.gcPhase = true
	defer func() {
		txn.gcPhase = false
		txn.gcExtend = false
	}()

	c, err := txn.newCursor(FreeDBI)
	if err != nil {
		return err
	}
	defer c.Close()

	consumed := slices.SortedFunc(maps.Keys(txn.consumed), func(a, b gcKey) int {
		if a.less(b) {
			return -1
		}
		if b.less(a) {
			return 1
		}
		return 0
	})
	for _, key := range consumed {
		if _, _, err := c.Get(key.bytes(), nil, Set); err != nil {
			if IsNotFound(err) {
				continue
			}
			return err
		}
		if err := c.Del(0); err != nil {
			return err
		}
	}
	clear(txn.consumed)

	per := gcChunkPgnos(txn.pageSize)
	var written []pgno
	chunks := 0
	for round := 0; ; round++ {
		if round == gcReuseRounds {
			txn.gcExtend = true
		}
		set := slices.Concat(txn.freed, txn.reclaimed, txn.loose)
		slices.Sort(set)
		set = slices.Compact(set)
		if slices.Equal(set, written) {
			break
		}

		seq := 0
		for off := 0; off < len(set); off += per {
			chunk := set[off:min(off+per, len(set))]
			key := gcKey{id: txn.id, seq: uint32(seq)}
			if _, err := c.put(key.bytes(), encodePgnos(chunk), 0); err != nil {
				return err
			}
			seq++
		}
		for i := seq; i < chunks; i++ {
			key := gcKey{id: txn.id, seq: uint32(i)}
			if _, _, err := c.Get(key.bytes(), nil, Set); err != nil {
				return err
			}
			if err := c.Del(0); err != nil {
				return err
			}
		}
		chunks = seq
		written = set
	}

	if len(written) > 0 {
		txn.env.debug("gc updated",
			slog.Uint64("txnid", uint64(txn.id)),
			slog.Int("pages", len(written)),
			slog.Int("records", chunks))
	}
	return nil
}

// FreeList calls fn for every GC record of the snapshot with the id of the
// transaction that retired the pages.
func (txn *Txn) FreeList(fn func(txnID uint64, pages []uint32) error) error {
	if err := txn.check(false); err != nil {
		return err
	}
	c, err := txn.newCursor(FreeDBI)
	if err != nil {
		return err
	}
	k, v, err := c.get(nil, nil, First)
	for ; err == nil; k, v, err = c.get(nil, nil, Next) {
		key, kerr := parseGCKey(k)
		if kerr != nil {
			return kerr
		}
		pgs, perr := decodePgnos(v)
		if perr != nil {
			return perr
		}
		out := make([]uint32, len(pgs))
		for i, pg := range pgs {
			out[i] = uint32(pg)
		}
		if err := fn(uint64(key.id), out); err != nil {
			return err
		}
	}
	if !IsNotFound(err) {
		return err
	}
	return nil
}
