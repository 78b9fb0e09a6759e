// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"context"
	"sync"
)

// syncOp is one blocked [*Endpoint.ReadS] or [*Endpoint.WriteS] call.
//
// The queued flag is cleared exactly once, either by the event path when
// the operation completes or by the caller when its context is done. Both
// sides test it under syncIO.mu.
type syncOp struct {
	buf    []byte
	count  int
	err    error
	link   *link[*syncOp]
	queued bool
	waiter *waiter
}

// syncIO is the handler installed by [*Endpoint.SetSync].
type syncIO struct {
	oldHandler EventHandler

	// writing serializes lower layer writes with a WriteS giving up, so
	// that the count it returns includes every byte handed down. It is
	// taken before mu and is never held by ReadS.
	writing sync.Mutex

	// mu protects the fields below. It is distinct from the endpoint
	// lock because HandleEvent runs inside a delivery.
	mu       sync.Mutex
	err      error
	readOps  list[*syncOp]
	writeOps list[*syncOp]
}

var _ EventHandler = &syncIO{}

// HandleEvent implements [EventHandler].
func (s *syncIO) HandleEvent(io *Endpoint, event Event, err error, buf []byte, auxdata []string) (int, error) {
	switch event {
	case EventRead:
		return s.handleRead(io, err, buf), nil
	case EventWriteReady:
		s.handleWriteReady(io)
		return 0, nil
	}
	if s.oldHandler == nil {
		return 0, ErrNotSupported
	}
	return s.oldHandler.HandleEvent(io, event, err, buf, auxdata)
}

func (s *syncIO) handleRead(io *Endpoint, err error, buf []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.fail(err)
		io.SetReadCallbackEnable(false)
		return 0
	}
	consumed := 0
	for consumed < len(buf) {
		e := s.readOps.front()
		if e == nil {
			break
		}
		op := e.value
		op.count = copy(op.buf, buf[consumed:])
		consumed += op.count
		s.readOps.remove(e)
		op.queued = false
		op.waiter.wake()
	}
	if s.readOps.empty() {
		io.SetReadCallbackEnable(false)
	}
	return consumed
}

// handleWriteReady hands queued data down without holding mu across the
// write, so reads keep flowing while the lower layer is busy.
func (s *syncIO) handleWriteReady(io *Endpoint) {
	s.writing.Lock()
	defer s.writing.Unlock()
	for {
		s.mu.Lock()
		e := s.writeOps.front()
		if e == nil {
			io.SetWriteCallbackEnable(false)
			s.mu.Unlock()
			return
		}
		op := e.value
		data := op.buf[op.count:]
		s.mu.Unlock()

		count, err := io.Write(data, nil)

		s.mu.Lock()
		if !op.queued {
			// failed by a read error meanwhile
			s.mu.Unlock()
			continue
		}
		if err != nil {
			s.fail(err)
			io.SetWriteCallbackEnable(false)
			s.mu.Unlock()
			return
		}
		op.count += count
		if op.count < len(op.buf) {
			s.mu.Unlock()
			return
		}
		s.writeOps.remove(e)
		op.queued = false
		op.waiter.wake()
		s.mu.Unlock()
	}
}

// fail records the first error and completes every queued operation with it.
func (s *syncIO) fail(err error) {
	if s.err == nil {
		s.err = err
	}
	for _, ops := range []*list[*syncOp]{&s.readOps, &s.writeOps} {
		for {
			op, ok := ops.popFront()
			if !ok {
				break
			}
			op.err = s.err
			op.queued = false
			op.waiter.wake()
		}
	}
}

// SetSync switches io to blocking mode.
//
// It disables read and write notifications, waits until no delivery is in
// flight and then installs a handler servicing [*Endpoint.ReadS] and
// [*Endpoint.WriteS]. Events other than reads and write-ready go to the
// previous handler. Calling SetSync twice returns [ErrInUse].
func (io *Endpoint) SetSync() error {
	io.mu.Lock()
	wrapped := io.syncio != nil
	io.mu.Unlock()
	if wrapped {
		return ErrInUse
	}

	io.SetReadCallbackEnable(false)
	io.SetWriteCallbackEnable(false)
	if err := io.WaitNoCallback(context.Background()); err != nil {
		return err
	}

	io.mu.Lock()
	defer io.mu.Unlock()
	if io.syncio != nil {
		return ErrInUse
	}
	s := &syncIO{oldHandler: io.handler}
	io.syncio = s
	io.handler = s
	return nil
}

// ClearSync restores the handler replaced by [*Endpoint.SetSync].
//
// It returns [ErrNotReady] when io is not in blocking mode and [ErrInUse]
// while blocking calls are still queued. A refused ClearSync leaves the
// queued calls running.
func (io *Endpoint) ClearSync() error {
	s := io.syncState()
	if s == nil {
		return ErrNotReady
	}
	if s.busy() {
		return ErrInUse
	}

	io.SetReadCallbackEnable(false)
	io.SetWriteCallbackEnable(false)
	if err := io.WaitNoCallback(context.Background()); err != nil {
		return err
	}

	// a call may have queued while notifications were off
	s.mu.Lock()
	busy := !s.readOps.empty() || !s.writeOps.empty()
	if busy {
		io.SetReadCallbackEnable(!s.readOps.empty())
		io.SetWriteCallbackEnable(!s.writeOps.empty())
	}
	s.mu.Unlock()
	if busy {
		return ErrInUse
	}

	io.mu.Lock()
	io.handler = s.oldHandler
	io.syncio = nil
	io.mu.Unlock()
	return nil
}

func (s *syncIO) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.readOps.empty() || !s.writeOps.empty()
}

func (io *Endpoint) syncState() *syncIO {
	io.mu.Lock()
	defer io.mu.Unlock()
	return io.syncio
}

// ReadS blocks until data is available and copies it into buf.
//
// Concurrent calls are served in FIFO order. When ctx is done first the
// call returns [ErrTimedOut] or [ErrInterrupted] unless data was copied
// before the timeout was observed, in which case the data wins. After a
// read error every call fails with that error.
func (io *Endpoint) ReadS(ctx context.Context, buf []byte) (int, error) {
	s := io.syncState()
	if s == nil {
		return 0, ErrNotReady
	}
	if len(buf) == 0 {
		return 0, nil
	}

	op := &syncOp{buf: buf, queued: true, waiter: newWaiter()}
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return 0, s.err
	}
	op.link = s.readOps.pushBack(op)
	io.SetReadCallbackEnable(true)
	s.mu.Unlock()

	werr := op.waiter.wait(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if op.queued {
		s.readOps.remove(op.link)
		op.queued = false
		if s.readOps.empty() {
			io.SetReadCallbackEnable(false)
		}
		return 0, werr
	}
	return op.count, op.err
}

// WriteS blocks until the whole of buf has been written.
//
// When ctx is done first the bytes already written are returned along
// with [ErrTimedOut] or [ErrInterrupted].
func (io *Endpoint) WriteS(ctx context.Context, buf []byte) (int, error) {
	s := io.syncState()
	if s == nil {
		return 0, ErrNotReady
	}
	if len(buf) == 0 {
		return 0, nil
	}

	op := &syncOp{buf: buf, queued: true, waiter: newWaiter()}
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return 0, s.err
	}
	op.link = s.writeOps.pushBack(op)
	io.SetWriteCallbackEnable(true)
	s.mu.Unlock()

	werr := op.waiter.wait(ctx)

	s.writing.Lock()
	defer s.writing.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if op.queued {
		s.writeOps.remove(op.link)
		op.queued = false
		if s.writeOps.empty() {
			io.SetWriteCallbackEnable(false)
		}
		return op.count, werr
	}
	return op.count, op.err
}
