// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
)

// netOptions are the arguments shared by the tcp and udp types.
type netOptions struct {
	laddr   []Addr
	nodelay bool
	readbuf uint64
}

// parseNetOptions reads the class defaults and then the arguments, which
// take precedence. Unknown arguments are invalid.
func parseNetOptions(cfg *Config, class string, proto Protocol, args []string) (*netOptions, error) {
	opts := &netOptions{readbuf: uint64(cfg.ReadBufferSize)}
	nodelay, err := cfg.Defaults.GetDefaultBool(class, "nodelay", false)
	if err != nil {
		return nil, err
	}
	opts.nodelay = nodelay
	laddr, err := GetDefaultAddr(cfg, class, "laddr", false, proto, true, false)
	switch {
	case err == nil:
		opts.laddr = laddr
	case !errors.Is(err, ErrNotSupported):
		return nil, err
	}

	for _, arg := range args {
		if found, err := CheckKeyBool(arg, "nodelay", &opts.nodelay); found {
			if err != nil {
				return nil, err
			}
			continue
		}
		if found, err := CheckKeyDS(arg, "readbuf", &opts.readbuf); found {
			if err != nil || opts.readbuf == 0 {
				return nil, ErrInvalid
			}
			continue
		}
		if found, err := CheckKeyAddrs(cfg, arg, "laddr", proto, true, false, &opts.laddr); found {
			if err != nil {
				return nil, err
			}
			continue
		}
		return nil, ErrInvalid
	}
	return opts, nil
}

// tcpEndpoint is the state of a tcp or udp client endpoint.
type tcpEndpoint struct {
	addrs []Addr
	opts  *netOptions

	// mu protects the fields below.
	mu      sync.Mutex
	nodelay bool
	raw     *net.TCPConn
}

func strToTCPEndpoint(cfg *Config, str string, args []string, cb EventHandler) (*Endpoint, error) {
	addrs, err := ScanNetAddr(cfg, str, false, ProtocolTCP)
	if err != nil {
		return nil, err
	}
	return tcpEndpointAlloc(cfg, addrs, args, cb)
}

func strToUDPEndpoint(cfg *Config, str string, args []string, cb EventHandler) (*Endpoint, error) {
	addrs, err := ScanNetAddr(cfg, str, false, ProtocolUDP)
	if err != nil {
		return nil, err
	}
	return udpEndpointAlloc(cfg, addrs, args, cb)
}

// tcpEndpointAlloc creates a closed tcp endpoint dialing addrs in order.
//
// Arguments: nodelay[=bool], laddr=<descriptor>, readbuf=<size>.
func tcpEndpointAlloc(cfg *Config, addrs []Addr, args []string, cb EventHandler) (*Endpoint, error) {
	io, _, err := netEndpointAlloc(cfg, "tcp", addrs, args, cb)
	if err != nil {
		return nil, err
	}
	io.SetIsReliable(true)
	return io, nil
}

// udpEndpointAlloc creates a closed udp endpoint. Every read delivers
// one datagram.
func udpEndpointAlloc(cfg *Config, addrs []Addr, args []string, cb EventHandler) (*Endpoint, error) {
	io, _, err := netEndpointAlloc(cfg, "udp", addrs, args, cb)
	if err != nil {
		return nil, err
	}
	io.SetIsPacket(true)
	return io, nil
}

func netEndpointAlloc(cfg *Config, network string, addrs []Addr,
	args []string, cb EventHandler) (*Endpoint, *tcpEndpoint, error) {
	proto := ProtocolTCP
	if network == "udp" {
		proto = ProtocolUDP
	}
	opts, err := parseNetOptions(cfg, network, proto, args)
	if err != nil {
		return nil, nil, err
	}
	if len(addrs) == 0 {
		return nil, nil, ErrInvalid
	}

	t := &tcpEndpoint{addrs: addrs, opts: opts, nodelay: opts.nodelay}
	ce := newConnEndpoint(cfg)
	ce.readbuf = int(opts.readbuf)
	io := NewEndpoint(cfg, cb, ce, nil, network, t)
	io.SetIsClient(true)

	connect := NewConnectFunc(cfg, network, ce.logger)
	connect.SpanID = io.ID()
	if len(opts.laddr) > 0 {
		connect.LocalAddr = &opts.laddr[0]
	}
	ce.opener = Apply(Compose4[[]Addr, net.Conn, net.Conn, net.Conn, net.Conn](
		connect,
		FuncAdapter[net.Conn, net.Conn](t.configure),
		NewCancelWatchFunc(),
		NewObserveConnFunc(cfg, ce.logger, io.ID()),
	), addrs)
	ce.control = t.control
	return io, t, nil
}

// configure applies the socket options to a fresh connection.
func (t *tcpEndpoint) configure(ctx context.Context, conn net.Conn) (net.Conn, error) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return conn, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := tc.SetNoDelay(t.nodelay); err != nil {
		conn.Close()
		return nil, err
	}
	t.raw = tc
	return conn, nil
}

func (t *tcpEndpoint) control(io *Endpoint, conn net.Conn, get bool, option ControlOption, data []byte) ([]byte, error) {
	if option != ControlNoDelay || io.typeName != "tcp" {
		return nil, ErrNotSupported
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if get {
		return []byte(strconv.FormatBool(t.nodelay)), nil
	}
	value, err := strconv.ParseBool(string(data))
	if err != nil {
		return nil, ErrInvalid
	}
	if conn != nil && t.raw != nil {
		if err := t.raw.SetNoDelay(value); err != nil {
			return nil, OSErrToErr(err)
		}
	}
	t.nodelay = value
	return nil, nil
}

// tcpAccepter listens on every address of a descriptor.
type tcpAccepter struct {
	UnsupportedAccepterOps
	addrs []Addr
	cfg   *Config
	opts  *netOptions

	// mu protects the fields below.
	mu        sync.Mutex
	cond      *sync.Cond
	enabled   bool
	group     *errgroup.Group
	listeners []net.Listener
	shutdown  bool

	// stopped holds the groups of earlier runs, which Free waits for.
	stopped []*errgroup.Group
}

func strToTCPAccepter(cfg *Config, str string, args []string, cb AccepterEventHandler) (*Accepter, error) {
	addrs, err := ScanNetAddr(cfg, str, true, ProtocolTCP)
	if err != nil {
		return nil, err
	}
	return tcpAccepterAlloc(cfg, addrs, args, cb)
}

// tcpAccepterAlloc creates a tcp accepter. Port zero picks a free port,
// which [ControlLPort] reports once started.
//
// Arguments: nodelay[=bool], readbuf=<size>.
func tcpAccepterAlloc(cfg *Config, addrs []Addr, args []string, cb AccepterEventHandler) (*Accepter, error) {
	opts, err := parseNetOptions(cfg, "tcp", ProtocolTCP, args)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, ErrInvalid
	}
	ta := &tcpAccepter{addrs: addrs, cfg: cfg, opts: opts}
	ta.cond = sync.NewCond(&ta.mu)
	acc := NewAccepter(cfg, cb, ta, nil, "tcp", ta)
	acc.SetIsReliable(true)
	return acc, nil
}

func (ta *tcpAccepter) Startup(acc *Accepter) error {
	ta.mu.Lock()
	if ta.group != nil {
		ta.mu.Unlock()
		return ErrInUse
	}

	var listeners []net.Listener
	for _, addr := range ta.addrs {
		ln, err := ta.cfg.ListenConfig.Listen(context.Background(), "tcp", addr.AddrPort.String())
		if err != nil {
			for _, ln := range listeners {
				ln.Close()
			}
			ta.mu.Unlock()
			return ta.cfg.osErr("listen", err)
		}
		listeners = append(listeners, ln)
	}

	ta.listeners = listeners
	ta.shutdown = false
	ta.enabled = true
	ta.group = &errgroup.Group{}
	for _, ln := range listeners {
		ta.group.Go(func() error {
			return ta.acceptLoop(acc, ln)
		})
	}
	ta.mu.Unlock()

	for _, ln := range listeners {
		acc.Log(LogInfo, "listening on %s", ln.Addr().String())
	}
	return nil
}

// waitEnabled blocks while accepting is disabled and reports whether the
// accepter is still running. The caller holds mu.
func (ta *tcpAccepter) waitEnabled() bool {
	for !ta.enabled && !ta.shutdown {
		ta.cond.Wait()
	}
	return !ta.shutdown
}

func (ta *tcpAccepter) acceptLoop(acc *Accepter, ln net.Listener) error {
	for {
		ta.mu.Lock()
		running := ta.waitEnabled()
		ta.mu.Unlock()
		if !running {
			return nil
		}

		conn, err := ln.Accept()
		if err != nil {
			ta.mu.Lock()
			running := !ta.shutdown
			ta.mu.Unlock()
			if !running {
				return nil
			}
			acc.Log(LogErr, "accept on %s: %s", ln.Addr().String(), err.Error())
			return ta.cfg.osErr("accept", err)
		}

		ta.mu.Lock()
		running = ta.waitEnabled()
		ta.mu.Unlock()
		if !running {
			conn.Close()
			return nil
		}
		ta.deliver(acc, conn)
	}
}

func (ta *tcpAccepter) deliver(acc *Accepter, conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(ta.opts.nodelay)
	}
	io, ce := newOpenConnEndpoint(ta.cfg, nil, conn, "tcp")
	ce.readbuf = int(ta.opts.readbuf)
	io.SetIsReliable(true)
	if err := acc.Deliver(AccEventNewConnection, io); err != nil {
		acc.Log(LogWarning, "new connection from %s refused: %s", safeRemote(conn), err.Error())
		io.Free()
	}
}

func safeRemote(conn net.Conn) string {
	str, err := addrString(conn.RemoteAddr())
	if err != nil {
		return ""
	}
	return str
}

// stop marks the accepter as shut down and closes the listeners. The
// caller holds mu.
func (ta *tcpAccepter) stop() *errgroup.Group {
	group := ta.group
	ta.shutdown = true
	ta.cond.Broadcast()
	for _, ln := range ta.listeners {
		ln.Close()
	}
	ta.listeners = nil
	ta.group = nil
	ta.stopped = append(ta.stopped, group)
	return group
}

func (ta *tcpAccepter) Shutdown(acc *Accepter, done AccepterDoneFunc) error {
	ta.mu.Lock()
	if ta.group == nil {
		ta.mu.Unlock()
		return ErrNotReady
	}
	group := ta.stop()
	ta.mu.Unlock()
	go func() {
		if err := group.Wait(); err != nil {
			ta.cfg.Logf(LogDebug, "tcp accepter: %s", err.Error())
		}
		if done != nil {
			done(acc)
		}
	}()
	return nil
}

func (ta *tcpAccepter) SetAcceptCallbackEnable(acc *Accepter, enabled bool, done AccepterDoneFunc) error {
	ta.mu.Lock()
	ta.enabled = enabled
	ta.cond.Broadcast()
	ta.mu.Unlock()
	if done != nil {
		go done(acc)
	}
	return nil
}

func (ta *tcpAccepter) Disable(acc *Accepter) {
	ta.mu.Lock()
	if ta.group != nil {
		ta.stop()
	}
	ta.mu.Unlock()
}

// Free waits for the accept loops of every run, including those already
// stopped by Shutdown or Disable, so no delivery follows it.
func (ta *tcpAccepter) Free(acc *Accepter) {
	ta.mu.Lock()
	if ta.group != nil {
		ta.stop()
	}
	stopped := ta.stopped
	ta.stopped = nil
	ta.mu.Unlock()
	for _, group := range stopped {
		group.Wait()
	}
	acc.FreeData()
}

// Control implements [ControlLPort] and [ControlLaddr]. The data of a get
// selects the listener by index, the first one by default.
func (ta *tcpAccepter) Control(acc *Accepter, get bool, option ControlOption, data []byte) ([]byte, error) {
	if option != ControlLPort && option != ControlLaddr {
		return nil, ErrNotSupported
	}
	if !get {
		return nil, ErrNotSupported
	}
	index := 0
	if len(data) > 0 {
		value, err := strconv.Atoi(string(data))
		if err != nil || value < 0 {
			return nil, ErrInvalid
		}
		index = value
	}

	ta.mu.Lock()
	defer ta.mu.Unlock()
	if ta.group == nil {
		return nil, ErrNotReady
	}
	if index >= len(ta.listeners) {
		return nil, ErrNotFound
	}
	addr := ta.listeners[index].Addr()
	var (
		str string
		err error
	)
	if option == ControlLPort {
		str, err = portString(addr)
	} else {
		str, err = addrString(addr)
	}
	return []byte(str), err
}

// StrToEndpoint creates a tcp client endpoint from "host,port".
func (ta *tcpAccepter) StrToEndpoint(acc *Accepter, str string, cb EventHandler) (*Endpoint, error) {
	return strToTCPEndpoint(ta.cfg, str, nil, cb)
}
