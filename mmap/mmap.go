// Package mmap wraps shared memory mappings of database files.
package mmap

// Map is a shared mapping of a file region starting at offset 0.
// The mapping may be longer than the file; bytes past EOF must not be
// touched until the file has grown to cover them.
type Map struct {
	data     []byte
	fd       int
	size     int64
	writable bool
}

// Data returns the mapped bytes.
func (m *Map) Data() []byte {
	return m.data
}

// Size returns the mapped length.
func (m *Map) Size() int64 {
	return m.size
}

// Writable returns true if the mapping allows stores.
func (m *Map) Writable() bool {
	return m.writable
}

// Fd returns the mapped file descriptor.
func (m *Map) Fd() int {
	return m.fd
}

// Error is an mmap failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "mmap: " + e.Op + ": " + e.Err.Error()
	}
	return "mmap: " + e.Op
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	ErrInvalidSize  = &Error{Op: "invalid size"}
	ErrInvalidRange = &Error{Op: "invalid range"}
	ErrNotMapped    = &Error{Op: "not mapped"}
)
