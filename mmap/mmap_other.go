//go:build unix && !linux

package mmap

import "errors"

func (m *Map) tryMremap(newSize int) ([]byte, error) {
	return nil, errors.New("mremap not supported")
}
