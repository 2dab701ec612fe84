//go:build unix

/*
Package autogrow wraps an mvkv.Env so that transactions failing with a full
map are retried after the map has been enlarged.

Remapping needs every transaction of the environment to have ended. Env
serializes its transactions against SetMapSize with a RWMutex, so a
transaction run through Env must never wait on another one. An update
nested inside a view deadlocks as soon as the map fills:

	env.View(func(txn *mvkv.Txn) error {
		v, err := txn.Get(dbi, key)
		if err != nil {
			return err
		}
		return env.Update(func(txn *mvkv.Txn) error { // deadlock on ErrMapFull
			return txn.Put(dbi, key, append(v, b...), 0)
		})
	})

Read what the update needs inside the view and run the update after the view
has returned.

A TxnOp run through Env may execute more than once, so it must not change
program state it cannot repeat.
*/
package autogrow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Giulio2002/mvkv"
)

// ErrTxnRetry is returned by a Handler to have Env run the transaction
// again.
var ErrTxnRetry = errors.New("autogrow: retry failed txn")

// Env wraps an *mvkv.Env. Transactions must be run through View, Update or
// RunTxn; BeginTxn is refused.
type Env struct {
	*mvkv.Env
	Handlers HandlerChain
	ctx      context.Context
	txnlock  sync.RWMutex
}

// NewEnv wraps env, creating one with the default label when env is nil.
func NewEnv(env *mvkv.Env, h ...Handler) (*Env, error) {
	if env == nil {
		var err error
		if env, err = mvkv.NewEnv(mvkv.Default); err != nil {
			return nil, err
		}
	}
	return &Env{
		Env:      env,
		Handlers: append(HandlerChain(nil), h...),
		ctx:      context.Background(),
	}, nil
}

// SetMapSize resizes the map once no transaction run through r is active.
func (r *Env) SetMapSize(size int64) error {
	return r.setMapSize(size, 0)
}

func (r *Env) setMapSize(size int64, delay time.Duration) error {
	r.txnlock.Lock()
	defer r.txnlock.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return r.Env.SetMapSize(size)
}

// BeginTxn always fails; unmanaged transactions would bypass the resize
// lock.
func (r *Env) BeginTxn(parent *mvkv.Txn, flags uint) (*mvkv.Txn, error) {
	return nil, mvkv.WrapError(mvkv.ErrIncompatible, errors.New("autogrow: unmanaged transactions are not supported"))
}

// RunTxn runs op like mvkv.Env.RunTxn, consulting the handlers on failure.
func (r *Env) RunTxn(flags uint, op mvkv.TxnOp) error {
	return r.runHandler(func() error { return r.Env.RunTxn(flags, op) }, r.Handlers)
}

// View runs op in a read-only transaction.
func (r *Env) View(op mvkv.TxnOp) error {
	return r.runHandler(func() error { return r.Env.View(op) }, r.Handlers)
}

// Update runs op in a write transaction.
func (r *Env) Update(op mvkv.TxnOp) error {
	return r.runHandler(func() error { return r.Env.Update(op) }, r.Handlers)
}

// WithHandler returns a TxnRunner that consults r.Handlers followed by h.
func (r *Env) WithHandler(h Handler) TxnRunner {
	return &handlerRunner{env: r, h: r.Handlers.Append(h)}
}

func (r *Env) runHandler(fn func() error, h Handler) error {
	ctx := r.ctx
	for {
		err := r.run(fn)
		if err == nil {
			return nil
		}
		ctx, err = h.HandleTxnErr(ctx, r, err)
		if err != ErrTxnRetry {
			return err
		}
	}
}

func (r *Env) run(fn func() error) error {
	r.txnlock.RLock()
	defer r.txnlock.RUnlock()
	return fn()
}

// TxnRunner runs transactions. Env satisfies it.
type TxnRunner interface {
	RunTxn(flags uint, op mvkv.TxnOp) error
	View(op mvkv.TxnOp) error
	Update(op mvkv.TxnOp) error
	WithHandler(h Handler) TxnRunner
}

type handlerRunner struct {
	env *Env
	h   Handler
}

func (r *handlerRunner) WithHandler(h Handler) TxnRunner {
	return &handlerRunner{env: r.env, h: HandlerChain{r.h, h}}
}

func (r *handlerRunner) RunTxn(flags uint, op mvkv.TxnOp) error {
	return r.env.runHandler(func() error { return r.env.Env.RunTxn(flags, op) }, r.h)
}

func (r *handlerRunner) View(op mvkv.TxnOp) error {
	return r.env.runHandler(func() error { return r.env.Env.View(op) }, r.h)
}

func (r *handlerRunner) Update(op mvkv.TxnOp) error {
	return r.env.runHandler(func() error { return r.env.Env.Update(op) }, r.h)
}

func (r *Env) logger() *slog.Logger {
	return r.Env.Logger().With(slog.String("component", "autogrow"))
}
