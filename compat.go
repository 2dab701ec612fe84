//go:build unix

package mvkv

// TxnOp is a function that operates on a transaction.
// This is the callback type for View, Update, RunTxn and Txn.Sub.
type TxnOp func(txn *Txn) error

// View runs fn in a read-only transaction that ends when fn returns.
func (e *Env) View(fn TxnOp) error {
	return e.RunTxn(TxnReadOnly, fn)
}

// Update runs fn in a write transaction. The transaction is committed
// when fn returns nil and aborted otherwise.
func (e *Env) Update(fn TxnOp) error {
	return e.RunTxn(TxnReadWrite, fn)
}

// RunTxn runs fn in a transaction begun with flags and commits it when
// fn returns nil.
func (e *Env) RunTxn(flags uint, fn TxnOp) error {
	txn, err := e.BeginTxn(nil, flags)
	if err != nil {
		return err
	}
	return txn.RunOp(fn, true)
}

// Bind attaches the cursor to txn and dbi. An unbound cursor from
// CursorFromPool or CreateCursor must be bound before use.
func (c *Cursor) Bind(txn *Txn, dbi DBI) error {
	if c == nil {
		return NewError(ErrInvalid)
	}
	if err := txn.check(false); err != nil {
		return err
	}
	if c.txn != nil {
		c.txn.removeCursor(c)
	}
	if err := c.bind(txn, dbi); err != nil {
		return err
	}
	c.internal = false
	txn.cursors = append(txn.cursors, c)
	return nil
}

// Renew rebinds the cursor to another read-only transaction on the same
// database.
func (c *Cursor) Renew(txn *Txn) error {
	if err := txn.check(false); err != nil {
		return err
	}
	if !txn.IsReadOnly() {
		return NewError(ErrIncompatible)
	}
	return c.Bind(txn, c.dbi)
}

// Unbind detaches the cursor from its transaction. It can be bound again
// later.
func (c *Cursor) Unbind() error {
	if c == nil {
		return nil
	}
	if c.txn != nil {
		c.txn.removeCursor(c)
	}
	c.txn = nil
	c.db = nil
	c.tr = nil
	c.reset()
	return nil
}

var cursorPool = make(chan *Cursor, 128)

// CursorFromPool returns an unbound cursor, reusing a pooled one when
// available.
func CursorFromPool() *Cursor {
	select {
	case c := <-cursorPool:
		return c
	default:
		return &Cursor{}
	}
}

// CursorToPool unbinds c and keeps it for a later CursorFromPool.
func CursorToPool(c *Cursor) {
	if c == nil {
		return
	}
	c.Unbind()
	c.userCtx = nil
	select {
	case cursorPool <- c:
	default:
	}
}

// CreateCursor returns a new unbound cursor.
func CreateCursor() *Cursor {
	return &Cursor{}
}

// Multi is a batch of fixed-size values, as returned by GetMultiple and
// taken by PutMulti.
type Multi struct {
	page   []byte
	stride int
}

// WrapMulti wraps a buffer of values of stride bytes each.
func WrapMulti(page []byte, stride int) *Multi {
	return &Multi{page: page, stride: stride}
}

// Vals returns all values.
func (m *Multi) Vals() [][]byte {
	if m.stride == 0 || len(m.page) == 0 {
		return nil
	}
	vals := make([][]byte, m.Len())
	for i := range vals {
		vals[i] = m.page[i*m.stride : (i+1)*m.stride]
	}
	return vals
}

// Val returns value i.
func (m *Multi) Val(i int) []byte {
	if m.stride == 0 || i < 0 || (i+1)*m.stride > len(m.page) {
		return nil
	}
	return m.page[i*m.stride : (i+1)*m.stride]
}

// Len returns the number of values.
func (m *Multi) Len() int {
	if m.stride == 0 {
		return 0
	}
	return len(m.page) / m.stride
}

// Stride returns the value size.
func (m *Multi) Stride() int {
	return m.stride
}

// Size returns the total size in bytes.
func (m *Multi) Size() int {
	return len(m.page)
}

// Page returns the underlying buffer.
func (m *Multi) Page() []byte {
	return m.page
}
