//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/measurexlite/conn.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/conn.go
//

package gensio

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bassosimone/safeconn"
)

// NewObserveConnFunc returns a new [*ObserveConnFunc].
//
// The spanID argument is the ID of the endpoint owning the connection,
// so its I/O events can be told apart from those of other endpoints.
func NewObserveConnFunc(cfg *Config, logger SLogger, spanID string) *ObserveConnFunc {
	return &ObserveConnFunc{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		SpanID:        spanID,
		TimeNow:       cfg.TimeNow,
	}
}

// ObserveConnFunc wraps the connection of a transport to log its I/O.
//
// Reads, writes and deadline changes are logged at debug level, the close
// at info level. Closing more than once returns [net.ErrClosed].
//
// All fields are safe to modify after construction but before first use.
type ObserveConnFunc struct {
	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	Logger SLogger

	// SpanID is the ID of the endpoint owning the connection.
	SpanID string

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

var _ Func[net.Conn, net.Conn] = &ObserveConnFunc{}

// Call wraps conn.
func (op *ObserveConnFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	observed := &observedConn{
		Conn: conn,
		op:   op,
		peer: []any{
			slog.String("localAddr", safeconn.LocalAddr(conn)),
			slog.String("protocol", safeconn.Network(conn)),
			slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
			slog.String("spanID", op.SpanID),
		},
	}
	return observed, nil
}

type observedConn struct {
	net.Conn
	closeonce sync.Once
	op        *ObserveConnFunc
	peer      []any
}

// event returns the attributes of an event: the extra ones followed by
// those describing the connection.
func (c *observedConn) event(extra ...any) []any {
	return append(extra, c.peer...)
}

func (c *observedConn) done(t0 time.Time, err error, extra ...any) []any {
	return c.event(append(extra,
		slog.Any("err", err),
		slog.String("errClass", c.op.ErrClassifier.Classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", c.op.TimeNow()),
	)...)
}

// Close implements [net.Conn].
func (c *observedConn) Close() error {
	err := net.ErrClosed
	c.closeonce.Do(func() {
		t0 := c.op.TimeNow()
		c.op.Logger.Info("closeStart", c.event(slog.Time("t", t0))...)
		err = c.Conn.Close()
		c.op.Logger.Info("closeDone", c.done(t0, err)...)
	})
	return err
}

// Read implements [net.Conn].
func (c *observedConn) Read(buf []byte) (int, error) {
	t0 := c.op.TimeNow()
	c.op.Logger.Debug("readStart", c.event(slog.Int("ioBufferSize", len(buf)), slog.Time("t", t0))...)
	count, err := c.Conn.Read(buf)
	c.op.Logger.Debug("readDone", c.done(t0, err, slog.Int("ioBytesCount", count))...)
	return count, err
}

// Write implements [net.Conn].
func (c *observedConn) Write(data []byte) (int, error) {
	t0 := c.op.TimeNow()
	c.op.Logger.Debug("writeStart", c.event(slog.Int("ioBufferSize", len(data)), slog.Time("t", t0))...)
	count, err := c.Conn.Write(data)
	c.op.Logger.Debug("writeDone", c.done(t0, err, slog.Int("ioBytesCount", count))...)
	return count, err
}

// SetDeadline implements [net.Conn].
func (c *observedConn) SetDeadline(t time.Time) error {
	c.op.Logger.Debug("setDeadline", c.event(slog.Time("deadline", t), slog.Time("t", c.op.TimeNow()))...)
	return c.Conn.SetDeadline(t)
}

// SetReadDeadline implements [net.Conn].
func (c *observedConn) SetReadDeadline(t time.Time) error {
	c.op.Logger.Debug("setReadDeadline", c.event(slog.Time("deadline", t), slog.Time("t", c.op.TimeNow()))...)
	return c.Conn.SetReadDeadline(t)
}

// SetWriteDeadline implements [net.Conn].
func (c *observedConn) SetWriteDeadline(t time.Time) error {
	c.op.Logger.Debug("setWriteDeadline", c.event(slog.Time("deadline", t), slog.Time("t", c.op.TimeNow()))...)
	return c.Conn.SetWriteDeadline(t)
}

// Unwrap returns the wrapped connection.
func (c *observedConn) Unwrap() net.Conn {
	return c.Conn
}
