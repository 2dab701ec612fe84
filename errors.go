package mvkv

import (
	"errors"
	"fmt"
)

// Error is an engine error carrying an MDBX-style code.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error // wrapped cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mvkv: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("mvkv: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, ErrNotFoundError) works for wrapped errors too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// ErrorCode is an MDBX-compatible error code.
type ErrorCode int

const (
	// Success indicates the operation completed successfully.
	Success ErrorCode = 0

	// ErrKeyExist: the key/value pair already exists.
	ErrKeyExist ErrorCode = -30799

	// ErrNotFound: the key/value pair was not found.
	ErrNotFound ErrorCode = -30798

	// ErrPageNotFound: a referenced page is out of bounds.
	ErrPageNotFound ErrorCode = -30797

	// ErrCorrupted: a page failed structural validation.
	ErrCorrupted ErrorCode = -30796

	// ErrPanic: a fatal environment error; the env must be reopened.
	ErrPanic ErrorCode = -30795

	// ErrVersionMismatch: the data file format version is not supported.
	ErrVersionMismatch ErrorCode = -30794

	// ErrInvalid: the file is not a database, or the call is invalid.
	ErrInvalid ErrorCode = -30793

	// ErrMapFull: the map size limit was reached.
	ErrMapFull ErrorCode = -30792

	// ErrDBsFull: the max named databases limit was reached.
	ErrDBsFull ErrorCode = -30791

	// ErrReadersFull: no free reader slot.
	ErrReadersFull ErrorCode = -30790

	// ErrTxnFull: the transaction dirtied too many pages.
	ErrTxnFull ErrorCode = -30788

	// ErrCursorFull: the cursor stack overflowed.
	ErrCursorFull ErrorCode = -30787

	// ErrPageFull: a page has no room for a node (internal).
	ErrPageFull ErrorCode = -30786

	// ErrUnableExtendMapsize: the mapping could not be resized.
	ErrUnableExtendMapsize ErrorCode = -30785

	// ErrIncompatible: flags do not match an existing database.
	ErrIncompatible ErrorCode = -30784

	// ErrBadRSlot: the reader slot is invalid.
	ErrBadRSlot ErrorCode = -30783

	// ErrBadTxn: the transaction is finished, blocked by a child, or failed.
	ErrBadTxn ErrorCode = -30782

	// ErrBadValSize: a key or value has an unsupported size.
	ErrBadValSize ErrorCode = -30781

	// ErrBadDBI: the database handle is invalid.
	ErrBadDBI ErrorCode = -30780

	// ErrProblem: an unexpected internal error.
	ErrProblem ErrorCode = -30779

	// ErrBusy: the writer lock is held or the env is in use.
	ErrBusy ErrorCode = -30778

	// ErrKeyMismatch: the key does not match the cursor position or order.
	ErrKeyMismatch ErrorCode = -30418

	// ErrThreadMismatch: an object was used outside its owner.
	ErrThreadMismatch ErrorCode = -30416

	// ErrTxnReset: the read transaction was reset and not renewed.
	ErrTxnReset ErrorCode = -30405

	// ErrPermissionDenied: a write on a read-only env or txn.
	ErrPermissionDenied ErrorCode = 13
)

var errorMessages = map[ErrorCode]string{
	Success:                "success",
	ErrKeyExist:            "key/data pair already exists",
	ErrNotFound:            "key/data pair not found",
	ErrPageNotFound:        "requested page not found",
	ErrCorrupted:           "database is corrupted",
	ErrPanic:               "fatal environment error",
	ErrVersionMismatch:     "database version mismatch",
	ErrInvalid:             "invalid argument or not a database file",
	ErrMapFull:             "environment mapsize limit reached",
	ErrDBsFull:             "environment maxdbs limit reached",
	ErrReadersFull:         "environment maxreaders limit reached",
	ErrTxnFull:             "transaction has too many dirty pages",
	ErrCursorFull:          "cursor stack overflow",
	ErrPageFull:            "page has no space",
	ErrUnableExtendMapsize: "unable to extend memory mapping",
	ErrIncompatible:        "incompatible operation or flags",
	ErrBadRSlot:            "invalid reader slot",
	ErrBadTxn:              "transaction is invalid",
	ErrBadValSize:          "invalid key or value size",
	ErrBadDBI:              "invalid DBI handle",
	ErrProblem:             "unexpected internal error",
	ErrBusy:                "environment is busy",
	ErrKeyMismatch:         "key mismatch",
	ErrThreadMismatch:      "object used outside its owner",
	ErrTxnReset:            "transaction was reset",
	ErrPermissionDenied:    "permission denied",
}

// NewError creates a new Error with the given code.
func NewError(code ErrorCode) *Error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = fmt.Sprintf("unknown error code %d", code)
	}
	return &Error{Code: code, Message: msg}
}

// WrapError creates a new Error wrapping err.
func WrapError(code ErrorCode, err error) *Error {
	e := NewError(code)
	e.Err = err
	return e
}

// Common errors
var (
	ErrKeyExistError         = NewError(ErrKeyExist)
	ErrNotFoundError         = NewError(ErrNotFound)
	ErrPageNotFoundError     = NewError(ErrPageNotFound)
	ErrCorruptedError        = NewError(ErrCorrupted)
	ErrInvalidError          = NewError(ErrInvalid)
	ErrMapFullError          = NewError(ErrMapFull)
	ErrDBsFullError          = NewError(ErrDBsFull)
	ErrReadersFullError      = NewError(ErrReadersFull)
	ErrTxnFullError          = NewError(ErrTxnFull)
	ErrCursorFullError       = NewError(ErrCursorFull)
	ErrIncompatibleError     = NewError(ErrIncompatible)
	ErrBadTxnError           = NewError(ErrBadTxn)
	ErrBadValSizeError       = NewError(ErrBadValSize)
	ErrBadDBIError           = NewError(ErrBadDBI)
	ErrBusyError             = NewError(ErrBusy)
	ErrKeyMismatchError      = NewError(ErrKeyMismatch)
	ErrTxnResetError         = NewError(ErrTxnReset)
	ErrPermissionDeniedError = NewError(ErrPermissionDenied)
)

// Code returns the code carried by err, or ErrProblem for foreign errors.
func Code(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrProblem
}

// IsNotFound returns true if err is ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Code(err) == ErrNotFound
}

// IsKeyExist returns true if err is ErrKeyExist.
func IsKeyExist(err error) bool {
	return err != nil && Code(err) == ErrKeyExist
}

// IsMapFull returns true if err is ErrMapFull.
func IsMapFull(err error) bool {
	return err != nil && Code(err) == ErrMapFull
}

// IsCorrupted returns true if err indicates a damaged database.
func IsCorrupted(err error) bool {
	c := Code(err)
	return err != nil && (c == ErrCorrupted || c == ErrPageNotFound || c == ErrVersionMismatch)
}

// IsResourceExhausted returns true for errors fixed by reconfiguration:
// map size, max dbs, max readers, or transaction size.
func IsResourceExhausted(err error) bool {
	switch Code(err) {
	case ErrMapFull, ErrDBsFull, ErrReadersFull, ErrTxnFull:
		return err != nil
	}
	return false
}

// fatal returns true if err must poison the write transaction.
func fatal(err error) bool {
	switch Code(err) {
	case Success, ErrNotFound, ErrKeyExist, ErrKeyMismatch, ErrBadValSize, ErrIncompatible, ErrBadDBI, ErrInvalid, ErrPermissionDenied:
		return false
	}
	return true
}
