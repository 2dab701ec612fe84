//go:build unix

package autogrow

import (
	"context"
	"log/slog"
	"time"

	"github.com/Giulio2002/mvkv"
)

// Handler intercepts the error of a transaction. Returning ErrTxnRetry
// makes Env run the transaction again. ctx carries handler state across
// retries of one call.
type Handler interface {
	HandleTxnErr(ctx context.Context, env *Env, err error) (context.Context, error)
}

// HandlerChain calls each handler in turn with the result of the previous
// one.
type HandlerChain []Handler

// HandleTxnErr implements Handler.
func (c HandlerChain) HandleTxnErr(ctx context.Context, env *Env, err error) (context.Context, error) {
	for _, h := range c {
		ctx, err = h.HandleTxnErr(ctx, env, err)
	}
	return ctx, err
}

// Append returns a new chain running h after the handlers of c.
func (c HandlerChain) Append(h ...Handler) HandlerChain {
	out := make(HandlerChain, len(c)+len(h))
	copy(out, c)
	copy(out[len(c):], h)
	return out
}

// MapFullFunc returns the map size to adopt after the map filled up at
// size. The size is applied only when ok is true.
type MapFullFunc func(size int64) (newSize int64, ok bool)

// Double doubles the map size up to limit bytes.
func Double(limit int64) MapFullFunc {
	return func(size int64) (int64, bool) {
		if size >= limit {
			return 0, false
		}
		return min(size*2, limit), true
	}
}

// MapFullHandler returns a Handler that enlarges the map according to fn
// and retries transactions that failed with ErrMapFull.
func MapFullHandler(fn MapFullFunc) Handler {
	return &mapFullHandler{fn: fn}
}

type mapFullHandler struct {
	fn MapFullFunc
}

func (h *mapFullHandler) HandleTxnErr(ctx context.Context, env *Env, err error) (context.Context, error) {
	if !mvkv.IsMapFull(err) {
		return ctx, err
	}
	size := env.MapSize()
	newSize, ok := h.fn(size)
	if !ok || newSize <= size {
		return ctx, err
	}
	if rerr := env.setMapSize(newSize, 0); rerr != nil {
		env.logger().Warn("map resize failed", slog.Int64("mapsize", newSize), slog.Any("err", rerr))
		return ctx, err
	}
	env.logger().Info("map grown", slog.Int64("from", size), slog.Int64("to", newSize))
	return ctx, ErrTxnRetry
}

// DefaultRetryResize bounds the consecutive retries of a transaction that
// keeps finding the file grown past the local map. A negative value
// retries forever.
var DefaultRetryResize = 2

// DefaultDelayRepeatResize is the pause before a repeated remap.
var DefaultDelayRepeatResize = time.Millisecond

// MapResizedHandler returns a Handler that adopts a file grown by another
// process and retries the transaction. It gives up after maxRetry
// consecutive attempts.
func MapResizedHandler(maxRetry int, repeatDelay func(retry int) time.Duration) Handler {
	return &resizedHandler{RetryResize: maxRetry, DelayRepeatResize: repeatDelay}
}

type resizeRetryKey struct{}

type resizedHandler struct {
	RetryResize       int
	DelayRepeatResize func(retry int) time.Duration
}

func (h *resizedHandler) retryResize() int {
	if h.RetryResize != 0 {
		return h.RetryResize
	}
	return DefaultRetryResize
}

func (h *resizedHandler) delay(i int) time.Duration {
	if h.DelayRepeatResize != nil {
		return h.DelayRepeatResize(i)
	}
	return DefaultDelayRepeatResize
}

func (h *resizedHandler) HandleTxnErr(ctx context.Context, env *Env, err error) (context.Context, error) {
	if mvkv.Code(err) != mvkv.ErrUnableExtendMapsize {
		return context.WithValue(ctx, resizeRetryKey{}, 0), err
	}
	n, _ := ctx.Value(resizeRetryKey{}).(int)
	if limit := h.retryResize(); limit >= 0 && n >= limit {
		return context.WithValue(ctx, resizeRetryKey{}, 0), err
	}
	var delay time.Duration
	if n > 0 {
		delay = h.delay(n)
	}
	ctx = context.WithValue(ctx, resizeRetryKey{}, n+1)
	if rerr := env.setMapSize(env.MapSize(), delay); rerr != nil {
		return ctx, rerr
	}
	return ctx, ErrTxnRetry
}
