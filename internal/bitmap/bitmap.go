// Package bitmap provides a growable bitset keyed by page number.
package bitmap

import "math/bits"

// Bitmap tracks a set of page numbers using uint64 words.
type Bitmap struct {
	words []uint64
	size  uint32
}

// New creates a bitmap able to hold page numbers below size.
func New(size uint32) *Bitmap {
	return &Bitmap{
		words: make([]uint64, (size+63)/64),
		size:  size,
	}
}

// Set marks n and reports whether it was already marked. Numbers beyond
// the capacity grow the bitmap.
func (b *Bitmap) Set(n uint32) bool {
	if n >= b.size {
		b.Extend(n + 1)
	}
	w, bit := n/64, uint64(1)<<(n%64)
	was := b.words[w]&bit != 0
	b.words[w] |= bit
	return was
}

// Clear unmarks n.
func (b *Bitmap) Clear(n uint32) {
	if n >= b.size {
		return
	}
	b.words[n/64] &^= 1 << (n % 64)
}

// Has reports whether n is marked.
func (b *Bitmap) Has(n uint32) bool {
	if n >= b.size {
		return false
	}
	return b.words[n/64]&(1<<(n%64)) != 0
}

// Extend grows the capacity to size.
func (b *Bitmap) Extend(size uint32) {
	if size <= b.size {
		return
	}
	if nw := (size + 63) / 64; nw > uint32(len(b.words)) {
		words := make([]uint64, nw)
		copy(words, b.words)
		b.words = words
	}
	b.size = size
}

// Count returns the number of marked entries.
func (b *Bitmap) Count() uint32 {
	var count uint32
	for _, w := range b.words {
		count += uint32(bits.OnesCount64(w))
	}
	return count
}

// Capacity returns the number of addressable entries.
func (b *Bitmap) Capacity() uint32 {
	return b.size
}

// Missing calls fn for every unmarked number in [from, to) and stops
// early when fn returns false.
func (b *Bitmap) Missing(from, to uint32, fn func(n uint32) bool) {
	for n := from; n < to; {
		if n >= b.size {
			if !fn(n) {
				return
			}
			n++
			continue
		}
		w := b.words[n/64] >> (n % 64)
		if w == ^uint64(0)>>(n%64) && n%64 == 0 {
			n += 64
			continue
		}
		if w&1 == 0 && !fn(n) {
			return
		}
		n++
	}
}
