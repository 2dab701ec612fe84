// Package fastmap provides an open addressing hash map for page numbers.
package fastmap

// Uint32Map maps uint32 keys to values using linear probing and
// fibonacci hashing, which spreads sequential page numbers well.
type Uint32Map[V any] struct {
	buckets []bucket[V]
	count   int
	mask    uint32
}

type bucket[V any] struct {
	key   uint32
	value V
	used  bool // key 0 is valid
}

// 2^32 / golden ratio
const fibHash32 = 2654435769

func (m *Uint32Map[V]) slot(key uint32) uint32 {
	return (key * fibHash32) & m.mask
}

// Get returns the value stored for key.
func (m *Uint32Map[V]) Get(key uint32) (V, bool) {
	var zero V
	if len(m.buckets) == 0 {
		return zero, false
	}
	idx := m.slot(key)
	for {
		b := &m.buckets[idx]
		if !b.used {
			return zero, false
		}
		if b.key == key {
			return b.value, true
		}
		idx = (idx + 1) & m.mask
	}
}

// Has reports whether key is present.
func (m *Uint32Map[V]) Has(key uint32) bool {
	_, ok := m.Get(key)
	return ok
}

// Set stores value under key.
func (m *Uint32Map[V]) Set(key uint32, value V) {
	if len(m.buckets) == 0 {
		m.buckets = make([]bucket[V], 16)
		m.mask = 15
	} else if m.count >= len(m.buckets)*3/4 {
		m.grow()
	}

	idx := m.slot(key)
	for {
		b := &m.buckets[idx]
		if !b.used {
			b.key = key
			b.value = value
			b.used = true
			m.count++
			return
		}
		if b.key == key {
			b.value = value
			return
		}
		idx = (idx + 1) & m.mask
	}
}

// Delete removes key, shifting later probes back so lookups stay correct.
func (m *Uint32Map[V]) Delete(key uint32) bool {
	if len(m.buckets) == 0 {
		return false
	}
	i := m.slot(key)
	for {
		if !m.buckets[i].used {
			return false
		}
		if m.buckets[i].key == key {
			break
		}
		i = (i + 1) & m.mask
	}

	j := i
	for {
		j = (j + 1) & m.mask
		if !m.buckets[j].used {
			break
		}
		k := m.slot(m.buckets[j].key)
		// Entry at j stays if its home slot lies cyclically in (i, j].
		if i <= j {
			if i < k && k <= j {
				continue
			}
		} else if i < k || k <= j {
			continue
		}
		m.buckets[i] = m.buckets[j]
		i = j
	}
	m.buckets[i] = bucket[V]{}
	m.count--
	return true
}

func (m *Uint32Map[V]) grow() {
	old := m.buckets
	m.buckets = make([]bucket[V], len(old)*2)
	m.mask = uint32(len(m.buckets) - 1)
	m.count = 0
	for i := range old {
		if old[i].used {
			m.Set(old[i].key, old[i].value)
		}
	}
}

// ForEach calls fn for every entry in unspecified order.
func (m *Uint32Map[V]) ForEach(fn func(uint32, V)) {
	for i := range m.buckets {
		if m.buckets[i].used {
			fn(m.buckets[i].key, m.buckets[i].value)
		}
	}
}

// Keys returns all keys in unspecified order.
func (m *Uint32Map[V]) Keys() []uint32 {
	keys := make([]uint32, 0, m.count)
	for i := range m.buckets {
		if m.buckets[i].used {
			keys = append(keys, m.buckets[i].key)
		}
	}
	return keys
}

// Clear removes all entries but keeps the backing array.
func (m *Uint32Map[V]) Clear() {
	clear(m.buckets)
	m.count = 0
}

// Len returns the number of entries.
func (m *Uint32Map[V]) Len() int {
	return m.count
}
