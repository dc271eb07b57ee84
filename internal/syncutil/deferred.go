// Package syncutil provides small concurrency primitives shared across the
// connection layer.
package syncutil

import (
	"context"
	"sync"
)

// Deferred is a one-shot result handle: one party awaits the value, any
// other party settles it exactly once. Resolve and Reject after the first
// settlement are no-ops, not errors — a settled Deferred cannot be
// retargeted.
type Deferred[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewDeferred creates an unsettled Deferred.
func NewDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

// Resolve settles the Deferred with a value. Only the first call to
// Resolve or Reject takes effect.
func (d *Deferred[T]) Resolve(value T) {
	d.once.Do(func() {
		d.value = value
		close(d.done)
	})
}

// Reject settles the Deferred with an error. Only the first call to
// Resolve or Reject takes effect.
func (d *Deferred[T]) Reject(err error) {
	d.once.Do(func() {
		d.err = err
		close(d.done)
	})
}

// Await blocks until the Deferred is settled or ctx is done. The waiting
// goroutine is woken by the settlement, never by polling.
func (d *Deferred[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Settled reports whether Resolve or Reject has taken effect.
func (d *Deferred[T]) Settled() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}
