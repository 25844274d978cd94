// Copyright (C) 2024 The ShardSQL Authors.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package concurrent holds the scheduling primitives shared by the
// session and job-execution packages: a cancellable, chainable future,
// a countdown barrier, a temporary-error retry loop, a manually
// ref-counted handle, and a set of named worker pools.
//
// Go has no built-in future type (goroutines and channels already
// cover most of what a Future gives other languages), so
// Future is the one primitive here that generalizes an idiom
// instead of porting a teacher type; everything else is a direct
// adaptation of a pattern already present in the pack.
package concurrent

import (
	"context"
	"sync"
)

// Future is a one-shot, chainable computation result. Unlike a plain
// channel, it remembers its outcome so late callers of Wait or
// ThenCompose observe it immediately, and it supports cancellation with
// a caller-supplied reason.
type Future[T any] struct {
	mu       sync.Mutex
	done     chan struct{}
	val      T
	err      error
	cancelFn func(reason string)
}

// NewFuture returns an incomplete future. cancelFn, if non-nil, is
// invoked at most once when Cancel is called before completion; it
// should arrange for the underlying work to stop (e.g. cancel a
// context) but must not itself call Complete/CompleteExceptionally.
func NewFuture[T any](cancelFn func(reason string)) *Future[T] {
	return &Future[T]{done: make(chan struct{}), cancelFn: cancelFn}
}

// Completed returns a future that is already resolved with val.
func Completed[T any](val T) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	f.val = val
	close(f.done)
	return f
}

// Failed returns a future that is already resolved with err.
func Failed[T any](err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	f.err = err
	close(f.done)
	return f
}

func (f *Future[T]) complete(val T, err error) bool {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		return false
	default:
	}
	f.val, f.err = val, err
	close(f.done)
	f.mu.Unlock()
	return true
}

// Complete resolves the future successfully. It is a no-op (returns
// false) if the future was already resolved, matching spec.md §7's
// "the first terminal outcome is reported; subsequent errors are
// silently absorbed".
func (f *Future[T]) Complete(val T) bool { return f.complete(val, nil) }

// CompleteExceptionally resolves the future with an error.
func (f *Future[T]) CompleteExceptionally(err error) bool {
	var zero T
	return f.complete(zero, err)
}

// Cancel resolves the future exceptionally with a cancellation reason
// and invokes the registered cancel callback, if the future has not
// already completed. It never races a concurrent Complete: whichever
// call observes the future as still pending wins.
func (f *Future[T]) Cancel(reason string) bool {
	var zero T
	ok := f.complete(zero, &cancelledError{reason: reason})
	if ok && f.cancelFn != nil {
		f.cancelFn(reason)
	}
	return ok
}

type cancelledError struct{ reason string }

func (e *cancelledError) Error() string { return "cancelled: " + e.reason }

// CancelReason extracts the reason passed to Cancel, if err came from one.
func CancelReason(err error) (string, bool) {
	c, ok := err.(*cancelledError)
	if !ok {
		return "", false
	}
	return c.reason, true
}

// Wait blocks until the future resolves or ctx is done, whichever comes
// first.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel that closes when the future resolves, for
// callers that want to select on it alongside other events.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// WhenComplete registers fn to run once the future resolves, passing
// the outcome. If the future is already resolved, fn runs synchronously
// before WhenComplete returns; otherwise it runs on a new goroutine when
// the future completes.
func (f *Future[T]) WhenComplete(fn func(T, error)) {
	select {
	case <-f.done:
		fn(f.val, f.err)
		return
	default:
	}
	go func() {
		<-f.done
		fn(f.val, f.err)
	}()
}

// ThenCompose chains fn to run after f resolves successfully, returning
// a future for fn's result. If f fails, the returned future fails with
// the same error without invoking fn. This is the primitive the session
// package uses to queue a read-path execution after the currently
// active one (spec.md §4.E: "Read-path executions chain via
// then(_ → nextExec)").
func ThenCompose[T, U any](f *Future[T], fn func(T) *Future[U]) *Future[U] {
	out := NewFuture[U](nil)
	f.WhenComplete(func(val T, err error) {
		if err != nil {
			out.CompleteExceptionally(err)
			return
		}
		next := fn(val)
		next.WhenComplete(func(v U, e error) {
			out.complete(v, e)
		})
	})
	return out
}

// ExceptionallyCompose chains fn to run only after f fails, letting the
// caller substitute a recovery future; a successful f passes its value
// through untouched.
func ExceptionallyCompose[T any](f *Future[T], fn func(error) *Future[T]) *Future[T] {
	out := NewFuture[T](nil)
	f.WhenComplete(func(val T, err error) {
		if err == nil {
			out.Complete(val)
			return
		}
		next := fn(err)
		next.WhenComplete(func(v T, e error) {
			out.complete(v, e)
		})
	})
	return out
}

// AllOf returns a future that resolves once every future in fs has
// resolved. It succeeds with nil only if every one of them succeeded;
// otherwise it fails with the first error observed in input order.
func AllOf[T any](fs ...*Future[T]) *Future[struct{}] {
	out := NewFuture[struct{}](nil)
	if len(fs) == 0 {
		out.Complete(struct{}{})
		return out
	}
	var mu sync.Mutex
	remaining := len(fs)
	errs := make([]error, len(fs))
	for i, fut := range fs {
		i := i
		fut.WhenComplete(func(_ T, err error) {
			mu.Lock()
			errs[i] = err
			remaining--
			done := remaining == 0
			mu.Unlock()
			if done {
				for _, e := range errs {
					if e != nil {
						out.CompleteExceptionally(e)
						return
					}
				}
				out.Complete(struct{}{})
			}
		})
	}
	return out
}
