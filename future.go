package querycache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Future is the outcome of one producer run as seen by one caller. Callers
// that joined the same in-flight fetch hold distinct futures that settle
// with the same value and error.
type Future struct {
	done chan struct{}
	val  any
	err  error
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

// failedFuture returns an already settled future.
func failedFuture(err error) *Future {
	f := newFuture()
	f.settle(nil, err)
	return f
}

// awaitFuture settles a future from a singleflight result channel.
func awaitFuture(ch <-chan singleflight.Result) *Future {
	f := newFuture()
	go func() {
		r := <-ch
		f.settle(r.Val, r.Err)
	}()
	return f
}

func (f *Future) settle(v any, err error) {
	f.val, f.err = v, err
	close(f.done)
}

// Done is closed once the fetch has settled.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the fetch settles or ctx is done. Giving up on ctx does
// not cancel the producer; other waiters still get its outcome.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking; ok is false while in flight.
func (f *Future) Result() (v any, ok bool, err error) {
	select {
	case <-f.done:
		return f.val, true, f.err
	default:
		return nil, false, nil
	}
}
