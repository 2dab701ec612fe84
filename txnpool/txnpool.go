//go:build unix

package txnpool

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Giulio2002/mvkv"
)

// UpdateHandling selects what a TxnPool does with read-only transactions
// that are older than the last committed update.
type UpdateHandling uint

const (
	// HandleOutstanding makes Abort retire a stale transaction instead of
	// pooling it.
	HandleOutstanding UpdateHandling = 1 << iota

	// HandleRenew makes the other options renew a stale transaction and
	// pool it instead of aborting it.
	HandleRenew
)

// TxnPool reuses read-only transactions. All transactions of an
// environment should go through the pool if any do, so that it sees every
// commit.
type TxnPool struct {
	UpdateHandling UpdateHandling
	env            *mvkv.Env
	lastid         atomic.Uint64
	pool           sync.Pool
	logger         *slog.Logger
}

// New returns a pool for env.
func New(env *mvkv.Env) *TxnPool {
	return &TxnPool{
		env:    env,
		logger: env.Logger().With(slog.String("component", "txnpool")),
	}
}

// Close aborts every idle pooled transaction so the environment can be
// closed.
func (p *TxnPool) Close() {
	for {
		txn, ok := p.pool.Get().(*mvkv.Txn)
		if !ok {
			return
		}
		txn.Abort()
	}
}

// BeginTxn begins a read-only transaction, reusing a pooled one when
// possible. flags must be exactly mvkv.TxnReadOnly.
func (p *TxnPool) BeginTxn(flags uint) (*mvkv.Txn, error) {
	if flags != mvkv.TxnReadOnly {
		return nil, mvkv.NewError(mvkv.ErrIncompatible)
	}
	return p.beginReadonly()
}

func (p *TxnPool) beginReadonly() (*mvkv.Txn, error) {
	txn, ok := p.pool.Get().(*mvkv.Txn)
	if !ok {
		return p.env.BeginTxn(nil, mvkv.TxnReadOnly)
	}
	if err := txn.Renew(); err != nil {
		p.renewError(err)
		txn.Abort()
		return p.env.BeginTxn(nil, mvkv.TxnReadOnly)
	}
	return txn, nil
}

func (p *TxnPool) renewError(err error) {
	p.logger.Warn("failed to renew transaction", slog.Any("err", err))
}

func (p *TxnPool) abortReadonly(txn *mvkv.Txn) {
	if !returnTxnToPool {
		txn.Abort()
		return
	}
	if txn.ID() < p.lastid.Load() {
		ok, err := p.handleReadonly(txn, HandleOutstanding)
		if err != nil {
			p.renewError(err)
			return
		}
		if !ok {
			return
		}
	}
	txn.Reset()
	p.pool.Put(txn)
}

// handleReadonly applies the UpdateHandling for condition. It reports
// whether txn is still usable.
func (p *TxnPool) handleReadonly(txn *mvkv.Txn, condition UpdateHandling) (bool, error) {
	if p.UpdateHandling&condition == 0 {
		return true, nil
	}
	if p.UpdateHandling&HandleRenew != 0 {
		txn.Reset()
		if err := txn.Renew(); err != nil {
			txn.Abort()
			return false, err
		}
		return true, nil
	}
	txn.Abort()
	return false, nil
}

// CommitID records id as the last committed update. Pooled transactions
// older than id are treated as stale from then on.
func (p *TxnPool) CommitID(id uint64) {
	for {
		last := p.lastid.Load()
		if last >= id || p.lastid.CompareAndSwap(last, id) {
			return
		}
	}
}

// Abort ends a transaction from BeginTxn, pooling it when it is reusable.
func (p *TxnPool) Abort(txn *mvkv.Txn) {
	p.abortReadonly(txn)
}

// Update runs fn in a write transaction and records its id on commit.
func (p *TxnPool) Update(fn mvkv.TxnOp) error {
	var id uint64
	err := p.env.Update(func(txn *mvkv.Txn) error {
		if err := fn(txn); err != nil {
			return err
		}
		id = txn.ID()
		return nil
	})
	if err != nil {
		return err
	}
	p.CommitID(id)
	return nil
}

// View runs fn in a pooled read-only transaction.
func (p *TxnPool) View(fn mvkv.TxnOp) error {
	txn, err := p.beginReadonly()
	if err != nil {
		return err
	}
	defer p.abortReadonly(txn)
	return txn.RunOp(fn, false)
}
