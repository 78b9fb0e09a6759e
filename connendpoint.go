// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"
	"github.com/eapache/queue"
	"go.uber.org/multierr"
)

type connState int

const (
	connClosed connState = iota
	connOpening
	connOpen
	connClosing
)

// connEndpoint turns a blocking [net.Conn] into an event driven endpoint.
//
// The opener pipeline produces the connection. Once open, a reader goroutine
// fills one buffer at a time and a dispatcher goroutine delivers [EventRead]
// and [EventWriteReady] while they are enabled. The reader does not read
// again until the handler consumed the whole buffer, so a slow handler
// pushes back on the peer. Both events are level triggered.
//
// Writes never block: WriteSG queues up to writebuf bytes for a writer
// goroutine and [EventWriteReady] fires while there is room.
type connEndpoint struct {
	cfg      *Config
	logger   SLogger
	readbuf  int
	writebuf int

	// opener creates the connection. Its context lives until the
	// endpoint is closed or disabled.
	opener Func[Unit, net.Conn]

	// afterClose runs once the goroutines have stopped, e.g. to close
	// the child of a filter.
	afterClose func() error

	// control implements type specific control options.
	control func(io *Endpoint, conn net.Conn, get bool, option ControlOption, data []byte) ([]byte, error)

	// remoteID returns a type specific remote identifier.
	remoteID func() (int, error)

	// remoteAddrString overrides the default "ip,port" formatting.
	remoteAddrString func(conn net.Conn) (string, error)

	// mu protects the fields below.
	mu           sync.Mutex
	cond         *sync.Cond
	cancel       context.CancelFunc
	closeDone    CloseDoneFunc
	conn         net.Conn
	pending      []byte
	readEnabled  bool
	readErr      error
	readReported bool
	refs         int
	state        connState
	stopped      bool
	writeEnabled bool
	writeErr     error
	writeQueue   *queue.Queue
	writeQueued  int

	// wg tracks the reader, the writer and the dispatcher.
	wg sync.WaitGroup

	// closers tracks the close and open completions in flight.
	closers sync.WaitGroup
}

var _ EndpointOps = &connEndpoint{}

func newConnEndpoint(cfg *Config) *connEndpoint {
	ce := &connEndpoint{
		cfg:      cfg,
		logger:   cfg.SLogger(),
		readbuf:  cfg.ReadBufferSize,
		refs:     1,
		writebuf: cfg.ReadBufferSize,
	}
	ce.cond = sync.NewCond(&ce.mu)
	return ce
}

// newOpenConnEndpoint wraps a connection that is already open, such as
// one returned by a listener.
func newOpenConnEndpoint(cfg *Config, cb EventHandler, conn net.Conn, typeName string) (*Endpoint, *connEndpoint) {
	ce := newConnEndpoint(cfg)
	io := NewEndpoint(cfg, cb, ce, nil, typeName, ce)
	ctx, cancel := context.WithCancel(context.Background())
	conn, _ = NewCancelWatchFunc().Call(ctx, conn)
	conn, _ = NewObserveConnFunc(cfg, ce.logger, io.ID()).Call(ctx, conn)
	ce.mu.Lock()
	ce.cancel = cancel
	ce.start(io, conn)
	ce.mu.Unlock()
	return io, ce
}

// start switches to the open state and starts the goroutines. The caller
// holds mu.
func (ce *connEndpoint) start(io *Endpoint, conn net.Conn) {
	ce.conn = conn
	ce.state = connOpen
	ce.pending = nil
	ce.readErr = nil
	ce.readReported = false
	ce.stopped = false
	ce.writeErr = nil
	ce.writeQueue = queue.New()
	ce.writeQueued = 0
	ce.wg.Add(3)
	go ce.reader(io, conn)
	go ce.writer(conn)
	go ce.dispatcher(io)
}

func (ce *connEndpoint) Open(io *Endpoint, done OpenDoneFunc) error {
	return ce.open(io, true, done)
}

func (ce *connEndpoint) OpenNoChild(io *Endpoint, done OpenDoneFunc) error {
	return ce.open(io, false, done)
}

type openChildKey struct{}

// openWithChild tells the opener of a filter whether it must open its
// child first.
func openWithChild(ctx context.Context) bool {
	value, _ := ctx.Value(openChildKey{}).(bool)
	return value
}

func (ce *connEndpoint) open(io *Endpoint, withChild bool, done OpenDoneFunc) error {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	if ce.state != connClosed {
		return ErrNotReady
	}
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), openChildKey{}, withChild))
	ce.cancel = cancel
	ce.state = connOpening
	ce.closers.Add(1)
	go ce.opening(ctx, io, done)
	return nil
}

func (ce *connEndpoint) opening(ctx context.Context, io *Endpoint, done OpenDoneFunc) {
	defer ce.closers.Done()
	t0 := ce.cfg.TimeNow()
	ce.logger.Info("openStart", slog.String("spanID", io.ID()), slog.String("type", io.typeName), slog.Time("t", t0))
	conn, err := ce.opener.Call(ctx, Unit{})
	err = ce.cfg.osErr("open", err)
	ce.logger.Info(
		"openDone",
		slog.Any("err", err),
		slog.String("errClass", ce.cfg.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.String("spanID", io.ID()),
		slog.String("type", io.typeName),
		slog.Time("t0", t0),
		slog.Time("t", ce.cfg.TimeNow()),
	)

	ce.mu.Lock()
	switch {
	case ce.state != connOpening:
		// closed or disabled while opening
		closeDone := ce.closeDone
		ce.closeDone = nil
		ce.state = connClosed
		ce.mu.Unlock()
		if conn != nil {
			ce.shutdown(conn)
		}
		if done != nil {
			done(io, ErrInterrupted)
		}
		if closeDone != nil {
			closeDone(io)
		}
		return

	case err != nil:
		ce.state = connClosed
		ce.cancel()
		ce.mu.Unlock()

	default:
		ce.start(io, conn)
		ce.mu.Unlock()
	}
	if done != nil {
		done(io, err)
	}
}

func (ce *connEndpoint) reader(io *Endpoint, conn net.Conn) {
	defer ce.wg.Done()
	buf := make([]byte, ce.readbuf)
	for {
		count, err := conn.Read(buf)

		ce.mu.Lock()
		if count > 0 {
			ce.pending = buf[:count]
		}
		if err != nil {
			ce.readErr = err
		}
		ce.cond.Broadcast()
		for len(ce.pending) > 0 && ce.state == connOpen {
			ce.cond.Wait()
		}
		stop := err != nil || ce.state != connOpen
		ce.mu.Unlock()

		if stop {
			return
		}
	}
}

// writer sends the queued chunks in order. It keeps going while closing
// so that Close flushes, and stops on the first error.
func (ce *connEndpoint) writer(conn net.Conn) {
	defer ce.wg.Done()
	ce.mu.Lock()
	defer ce.mu.Unlock()
	for {
		for ce.writeQueued == 0 && ce.writeErr == nil && !ce.stopped && ce.state != connClosed {
			ce.cond.Wait()
		}
		if ce.writeQueued == 0 || ce.writeErr != nil || ce.stopped || ce.state == connClosed {
			return
		}
		chunk := ce.writeQueue.Peek().([]byte)
		ce.mu.Unlock()
		_, err := conn.Write(chunk)
		ce.mu.Lock()
		ce.writeQueue.Remove()
		ce.writeQueued -= len(chunk)
		if err != nil {
			ce.writeErr = err
		}
		ce.cond.Broadcast()
	}
}

// writable reports whether WriteSG would accept data. The caller holds mu.
func (ce *connEndpoint) writable() bool {
	return ce.writeErr != nil || ce.writeQueued < ce.writebuf
}

// ready reports whether the dispatcher has something to deliver. The
// caller holds mu.
func (ce *connEndpoint) ready() bool {
	if ce.state != connOpen {
		return true
	}
	if ce.readEnabled && (len(ce.pending) > 0 || (ce.readErr != nil && !ce.readReported)) {
		return true
	}
	return ce.writeEnabled && ce.writable()
}

func (ce *connEndpoint) dispatcher(io *Endpoint) {
	defer ce.wg.Done()
	ce.mu.Lock()
	defer ce.mu.Unlock()
	for {
		for !ce.ready() {
			ce.cond.Wait()
		}
		if ce.state != connOpen {
			return
		}

		switch {
		case ce.readEnabled && len(ce.pending) > 0:
			data := ce.pending
			ce.mu.Unlock()
			count, _ := io.Deliver(EventRead, nil, data, nil)
			ce.mu.Lock()
			count = min(max(count, 0), len(ce.pending))
			ce.pending = ce.pending[count:]
			if len(ce.pending) == 0 {
				ce.pending = nil
				ce.cond.Broadcast()
			}

		case ce.readEnabled && ce.readErr != nil && !ce.readReported:
			ce.readReported = true
			err := ce.cfg.osErr("read", ce.readErr)
			ce.mu.Unlock()
			io.Deliver(EventRead, err, nil, nil)
			ce.mu.Lock()

		default:
			ce.mu.Unlock()
			io.Deliver(EventWriteReady, nil, nil, nil)
			ce.mu.Lock()
		}
	}
}

// WriteSG queues as much of sg as fits and returns the count accepted,
// possibly zero. A packet is accepted whole or not at all.
func (ce *connEndpoint) WriteSG(io *Endpoint, sg [][]byte, auxdata []string) (int, error) {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	if ce.state != connOpen {
		return 0, ErrNotReady
	}
	if ce.writeErr != nil {
		return 0, ce.cfg.osErr("write", ce.writeErr)
	}
	total := 0
	for _, buf := range sg {
		total += len(buf)
	}
	room := ce.writebuf - ce.writeQueued
	size := min(total, room)
	if io.IsPacket() && total > room {
		if ce.writeQueued > 0 {
			return 0, nil
		}
		size = total
	}
	if size <= 0 {
		return 0, nil
	}
	chunk := make([]byte, 0, size)
	for _, buf := range sg {
		chunk = append(chunk, buf[:min(len(buf), size-len(chunk))]...)
	}
	ce.writeQueue.Add(chunk)
	ce.writeQueued += size
	ce.cond.Broadcast()
	return size, nil
}

func (ce *connEndpoint) openConn() (net.Conn, error) {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	if ce.state != connOpen {
		return nil, ErrNotReady
	}
	return ce.conn, nil
}

func (ce *connEndpoint) RemoteAddrString(io *Endpoint) (string, error) {
	conn, err := ce.openConn()
	if err != nil {
		return "", err
	}
	if ce.remoteAddrString != nil {
		return ce.remoteAddrString(conn)
	}
	return addrString(conn.RemoteAddr())
}

func (ce *connEndpoint) RemoteAddr(io *Endpoint) (net.Addr, error) {
	conn, err := ce.openConn()
	if err != nil {
		return nil, err
	}
	return conn.RemoteAddr(), nil
}

func (ce *connEndpoint) RemoteID(io *Endpoint) (int, error) {
	if ce.remoteID == nil {
		return 0, ErrNotSupported
	}
	return ce.remoteID()
}

func (ce *connEndpoint) Close(io *Endpoint, done CloseDoneFunc) error {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	switch ce.state {
	case connOpening:
		ce.state = connClosing
		ce.closeDone = done
		ce.cancel()
		return nil

	case connOpen:
		ce.state = connClosing
		ce.closeDone = done
		ce.cond.Broadcast()
		ce.closers.Add(1)
		go ce.closing(io, ce.conn)
		return nil

	default:
		return ErrNotReady
	}
}

func (ce *connEndpoint) closing(io *Endpoint, conn net.Conn) {
	defer ce.closers.Done()
	ce.mu.Lock()
	for ce.writeQueued > 0 && ce.writeErr == nil && ce.state == connClosing {
		ce.cond.Wait()
	}
	ce.mu.Unlock()
	err := ce.shutdown(conn)
	if err != nil {
		ce.cfg.Logf(LogDebug, "%s close: %s", io.typeName, err.Error())
	}

	ce.mu.Lock()
	done := ce.closeDone
	ce.closeDone = nil
	ce.state = connClosed
	ce.conn = nil
	ce.mu.Unlock()
	if done != nil {
		done(io)
	}
}

// shutdown closes conn, waits for the goroutines and runs afterClose.
func (ce *connEndpoint) shutdown(conn net.Conn) error {
	err := conn.Close()
	ce.cancel()
	ce.mu.Lock()
	ce.stopped = true
	ce.cond.Broadcast()
	ce.mu.Unlock()
	ce.wg.Wait()
	if ce.afterClose != nil {
		err = multierr.Append(err, ce.afterClose())
	}
	return err
}

func (ce *connEndpoint) Ref(io *Endpoint) {
	ce.mu.Lock()
	ce.refs++
	ce.mu.Unlock()
}

// Free drops a reference. The last one closes the connection without
// notifying anybody and releases the chain.
func (ce *connEndpoint) Free(io *Endpoint) {
	ce.mu.Lock()
	runtimex.Assert(ce.refs > 0)
	ce.refs--
	if ce.refs > 0 {
		ce.mu.Unlock()
		return
	}
	var conn net.Conn
	switch ce.state {
	case connOpening:
		ce.cancel()
	case connOpen:
		conn = ce.conn
	}
	ce.state = connClosed
	ce.closeDone = nil
	ce.cond.Broadcast()
	ce.mu.Unlock()

	if conn != nil {
		ce.shutdown(conn)
	}
	ce.closers.Wait()
	ce.wg.Wait()
	io.WaitNoCallback(context.Background())
	if io.child != nil {
		io.child.Free()
	}
	io.FreeData()
}

// Disable drops the connection without performing I/O. Cancelling the
// lifetime context closes the socket through [CancelWatchFunc].
func (ce *connEndpoint) Disable(io *Endpoint) {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	if ce.cancel != nil {
		ce.cancel()
	}
	ce.state = connClosed
	ce.conn = nil
	ce.closeDone = nil
	ce.cond.Broadcast()
}

func (ce *connEndpoint) SetReadCallbackEnable(io *Endpoint, enabled bool) {
	ce.mu.Lock()
	ce.readEnabled = enabled
	ce.cond.Broadcast()
	ce.mu.Unlock()
}

func (ce *connEndpoint) SetWriteCallbackEnable(io *Endpoint, enabled bool) {
	ce.mu.Lock()
	ce.writeEnabled = enabled
	ce.cond.Broadcast()
	ce.mu.Unlock()
}

func (ce *connEndpoint) Control(io *Endpoint, get bool, option ControlOption, data []byte) ([]byte, error) {
	conn, err := ce.openConn()
	if ce.control != nil {
		out, cerr := ce.control(io, conn, get, option, data)
		if !errors.Is(cerr, ErrNotSupported) {
			return out, cerr
		}
	}
	switch option {
	case ControlLaddr, ControlRaddr:
		if io.child != nil {
			return nil, ErrNotSupported
		}
		if !get {
			return nil, ErrNotSupported
		}
		if err != nil {
			return nil, err
		}
		addr := conn.LocalAddr()
		if option == ControlRaddr {
			addr = conn.RemoteAddr()
		}
		str, err := addrString(addr)
		return []byte(str), err
	default:
		return nil, ErrNotSupported
	}
}

func (ce *connEndpoint) OpenChannel(io *Endpoint, args []string, cb EventHandler, done OpenDoneFunc) (*Endpoint, error) {
	return nil, ErrNotSupported
}

// addrString formats an IP address in descriptor form. Other addresses
// use their own string form.
func addrString(addr net.Addr) (string, error) {
	if addr == nil {
		return "", ErrNotReady
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return addr.String(), nil
	}
	return Addr{AddrPort: ap}.String(), nil
}

// portString returns the port of an IP address.
func portString(addr net.Addr) (string, error) {
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return "", ErrNotSupported
	}
	return strconv.Itoa(int(ap.Port())), nil
}
