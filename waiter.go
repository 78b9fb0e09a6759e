// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"context"
	"sync"
)

// waiter is a one-shot wake-up primitive.
//
// A wake before the wait is remembered, extra wakes are dropped.
type waiter struct {
	ch chan struct{}
}

func newWaiter() *waiter {
	return &waiter{ch: make(chan struct{}, 1)}
}

func (w *waiter) wake() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// wait blocks until woken or until ctx is done, in which case it returns
// [ErrTimedOut] for an expired deadline and [ErrInterrupted] otherwise.
func (w *waiter) wait(ctx context.Context) error {
	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		return ctxErr(ctx.Err())
	}
}

// waitCompletion turns a one-shot asynchronous operation into a blocking call.
//
// The start function launches the operation and arranges for complete to be
// called exactly once with the operation result. An error returned by start
// means the operation never started. The result of complete is returned.
// When ctx is done first, a later completion is dropped.
func waitCompletion(ctx context.Context, start func(complete func(error)) error) error {
	var (
		mu     sync.Mutex
		result error
	)
	w := newWaiter()
	complete := func(err error) {
		mu.Lock()
		result = err
		mu.Unlock()
		w.wake()
	}
	if err := start(complete); err != nil {
		return err
	}
	if err := w.wait(ctx); err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	return result
}
