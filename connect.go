//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.1/internal/netxlite/dialer.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/x/netcore/dialer.go
//

package gensio

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/safeconn"
)

// Dialer abstracts the [*net.Dialer] behavior.
//
// The tcp and udp transports dial through [Config.Dialer], which allows
// unit testing and alternative dialers.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// NewConnectFunc returns a new [*ConnectFunc] dialing with [Config.Dialer].
//
// The network argument is "tcp" or "udp". The logger argument receives the
// connectStart and connectDone events of every attempt.
func NewConnectFunc(cfg *Config, network string, logger SLogger) *ConnectFunc {
	return &ConnectFunc{
		Dialer:        cfg.Dialer,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Network:       network,
		TimeNow:       cfg.TimeNow,
	}
}

// ConnectFunc connects to the first reachable address of a list.
//
// Addresses are tried in descriptor order and the first connection wins.
// When every attempt fails the error of the last one is returned. An empty
// list returns [ErrNotFound].
//
// All fields are safe to modify after construction but before first use.
type ConnectFunc struct {
	// Dialer is the [Dialer] to use.
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// LocalAddr optionally binds the local end of the connection. It is
	// honoured when Dialer is a [*net.Dialer].
	LocalAddr *Addr

	// Logger is the [SLogger] to use.
	Logger SLogger

	// Network is "tcp" or "udp".
	Network string

	// SpanID correlates the events with the endpoint dialing.
	SpanID string

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

var _ Func[[]Addr, net.Conn] = &ConnectFunc{}

// Call dials the given addresses in order.
func (op *ConnectFunc) Call(ctx context.Context, addrs []Addr) (net.Conn, error) {
	var err error = ErrNotFound
	dialer := op.dialer()
	for _, addr := range addrs {
		var conn net.Conn
		conn, err = op.connect(ctx, dialer, addr.AddrPort)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, err
}

func (op *ConnectFunc) connect(ctx context.Context, dialer Dialer, address netip.AddrPort) (net.Conn, error) {
	t0 := op.TimeNow()
	deadline, _ := ctx.Deadline()
	op.logConnectStart(address.String(), t0, deadline)
	conn, err := dialer.DialContext(ctx, op.Network, address.String())
	op.logConnectDone(address.String(), t0, deadline, conn, err)
	return conn, err
}

// dialer returns a copy of a [*net.Dialer] bound to LocalAddr.
func (op *ConnectFunc) dialer() Dialer {
	nd, ok := op.Dialer.(*net.Dialer)
	if op.LocalAddr == nil || !ok {
		return op.Dialer
	}
	bound := *nd
	switch op.Network {
	case "udp":
		bound.LocalAddr = net.UDPAddrFromAddrPort(op.LocalAddr.AddrPort)
	default:
		bound.LocalAddr = net.TCPAddrFromAddrPort(op.LocalAddr.AddrPort)
	}
	return &bound
}

func (op *ConnectFunc) logConnectStart(address string, t0 time.Time, deadline time.Time) {
	op.Logger.Info(
		"connectStart",
		slog.Time("deadline", deadline),
		slog.String("protocol", op.Network),
		slog.String("remoteAddr", address),
		slog.String("spanID", op.SpanID),
		slog.Time("t", t0),
	)
}

func (op *ConnectFunc) logConnectDone(address string, t0 time.Time, deadline time.Time, conn net.Conn, err error) {
	op.Logger.Info(
		"connectDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", op.Network),
		slog.String("remoteAddr", address),
		slog.String("spanID", op.SpanID),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)
}
