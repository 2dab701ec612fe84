//go:build linux

package mmap

import "golang.org/x/sys/unix"

func (m *Map) tryMremap(newSize int) ([]byte, error) {
	return unix.Mremap(m.data, newSize, unix.MREMAP_MAYMOVE)
}
