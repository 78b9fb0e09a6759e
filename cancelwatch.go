// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"context"
	"net"
	"sync"
)

// NewCancelWatchFunc returns a new [*CancelWatchFunc].
func NewCancelWatchFunc() *CancelWatchFunc {
	return &CancelWatchFunc{}
}

// CancelWatchFunc ties a connection to the lifetime context of an endpoint.
//
// Transports open their connection with a context that stays alive until
// the endpoint is closed or disabled. Cancelling that context closes the
// connection, which makes any blocked read or write fail at once. This is
// how [*Endpoint.Disable] tears down a socket without waiting for I/O.
//
// Closing the returned connection unregisters the watcher, so no goroutine
// outlives the connection. Later closes return [net.ErrClosed].
type CancelWatchFunc struct{}

var _ Func[net.Conn, net.Conn] = &CancelWatchFunc{}

// Call registers the watcher and wraps conn.
func (op *CancelWatchFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	wc := &cancelWatchedConn{Conn: conn}
	wc.stop = context.AfterFunc(ctx, func() {
		wc.closeonce.Do(func() {
			wc.err = wc.Conn.Close()
		})
	})
	return wc, nil
}

type cancelWatchedConn struct {
	net.Conn
	closeonce sync.Once
	err       error
	stop      func() bool
}

// Close unregisters the watcher and closes the underlying connection.
func (c *cancelWatchedConn) Close() error {
	err := net.ErrClosed
	c.stop()
	c.closeonce.Do(func() {
		c.err = c.Conn.Close()
		err = c.err
	})
	return err
}

// Unwrap returns the wrapped connection.
func (c *cancelWatchedConn) Unwrap() net.Conn {
	return c.Conn
}
