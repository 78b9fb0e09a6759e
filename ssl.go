// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// sslOptions are the arguments of the ssl filter.
type sslOptions struct {
	allowAuthfail bool
	ca            string
	cert          string
	clientauth    bool
	key           string
	name          string
	server        bool
}

var sslModes = []EnumValue{
	{Name: "client", Value: 0},
	{Name: "server", Value: 1},
}

// parseSSLOptions reads the "ssl" class defaults and then the arguments.
//
// Arguments: CA=<file>, cert=<file>, key=<file>, name=<server name>,
// mode=client|server, clientauth[=bool], allow-authfail[=bool].
func parseSSLOptions(cfg *Config, args []string, server bool) (*sslOptions, error) {
	opts := &sslOptions{server: server}
	for _, item := range []struct {
		name  string
		value *string
	}{
		{"CA", &opts.ca},
		{"cert", &opts.cert},
		{"key", &opts.key},
	} {
		value, found, err := cfg.Defaults.GetDefaultString("ssl", item.name, false)
		if err != nil {
			return nil, err
		}
		if found {
			*item.value = value
		}
	}
	var err error
	if opts.clientauth, err = cfg.Defaults.GetDefaultBool("ssl", "clientauth", false); err != nil {
		return nil, err
	}
	if opts.allowAuthfail, err = cfg.Defaults.GetDefaultBool("ssl", "allow-authfail", false); err != nil {
		return nil, err
	}

	for _, arg := range args {
		if parseSSLArg(arg, opts) {
			continue
		}
		mode := 0
		if opts.server {
			mode = 1
		}
		if found, err := CheckKeyEnum(arg, "mode", sslModes, &mode); found {
			if err != nil {
				return nil, err
			}
			opts.server = mode == 1
			continue
		}
		var flag bool
		if found, err := CheckKeyBool(arg, "clientauth", &flag); found {
			if err != nil {
				return nil, err
			}
			opts.clientauth = flag
			continue
		}
		if found, err := CheckKeyBool(arg, "allow-authfail", &flag); found {
			if err != nil {
				return nil, err
			}
			opts.allowAuthfail = flag
			continue
		}
		return nil, ErrInvalid
	}
	return opts, nil
}

func parseSSLArg(arg string, opts *sslOptions) bool {
	for key, target := range map[string]*string{
		"CA":   &opts.ca,
		"cert": &opts.cert,
		"key":  &opts.key,
		"name": &opts.name,
	} {
		if value, found := CheckKeyValue(arg, key); found {
			*target = value
			return true
		}
	}
	return false
}

// tlsConfig builds the [*tls.Config] described by opts. A server needs a
// certificate, and the key defaults to the certificate file.
func (opts *sslOptions) tlsConfig() (*tls.Config, error) {
	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: opts.name,
	}
	if opts.ca != "" {
		pool, err := loadCertPool(opts.ca)
		if err != nil {
			return nil, err
		}
		if opts.server {
			config.ClientCAs = pool
		} else {
			config.RootCAs = pool
		}
	}

	switch {
	case opts.cert != "":
		key := opts.key
		if key == "" {
			key = opts.cert
		}
		pair, err := tls.LoadX509KeyPair(opts.cert, key)
		if err != nil {
			return nil, certErr(err)
		}
		config.Certificates = []tls.Certificate{pair}
	case opts.server:
		return nil, ErrKeyNotFound
	}

	switch {
	case !opts.server:
		config.InsecureSkipVerify = opts.allowAuthfail
	case opts.clientauth && opts.allowAuthfail:
		config.ClientAuth = tls.RequireAnyClientCert
	case opts.clientauth:
		config.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return config, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, certErr(err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, ErrCertInvalid
	}
	return pool, nil
}

func certErr(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrCertNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrCertInvalid, err)
}

// handshakeErr maps certificate and protocol failures into the stable
// code space.
func handshakeErr(err error) error {
	var (
		code      Errno
		hostname  x509.HostnameError
		authority x509.UnknownAuthorityError
		invalid   x509.CertificateInvalidError
		alert     tls.AlertError
		record    tls.RecordHeaderError
	)
	switch {
	case errors.As(err, &code):
		return err
	case errors.As(err, &invalid) && invalid.Reason == x509.Expired:
		return fmt.Errorf("%w: %w", ErrCertExpired, err)
	case errors.As(err, &invalid), errors.As(err, &hostname), errors.As(err, &authority):
		return fmt.Errorf("%w: %w", ErrCertInvalid, err)
	case errors.As(err, &alert), errors.As(err, &record):
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	default:
		return OSErrToErr(err)
	}
}

// sslEndpoint is the state of an ssl filter endpoint.
type sslEndpoint struct {
	ce     *connEndpoint
	config *tls.Config
	io     *Endpoint
	opts   *sslOptions

	// mu protects state.
	mu    sync.Mutex
	state *tls.ConnectionState
}

// sslEndpointAlloc stacks an ssl filter on top of child.
func sslEndpointAlloc(cfg *Config, child *Endpoint, args []string, cb EventHandler) (*Endpoint, error) {
	opts, err := parseSSLOptions(cfg, args, false)
	if err != nil {
		return nil, err
	}
	return sslEndpointAllocOpts(cfg, child, opts, cb)
}

func sslEndpointAllocOpts(cfg *Config, child *Endpoint, opts *sslOptions, cb EventHandler) (*Endpoint, error) {
	config, err := opts.tlsConfig()
	if err != nil {
		return nil, err
	}
	s := &sslEndpoint{config: config, opts: opts}
	s.ce = newConnEndpoint(cfg)
	s.io = NewEndpoint(cfg, cb, s.ce, child, "ssl", s)
	s.io.SetIsClient(!opts.server)
	s.io.SetIsReliable(child.IsReliable())
	s.ce.opener = FuncAdapter[Unit, net.Conn](s.open)
	s.ce.afterClose = s.closeChild
	s.ce.control = s.control
	s.ce.remoteAddrString = func(net.Conn) (string, error) {
		return child.RemoteAddrString()
	}
	return s.io, nil
}

// open brings up the child when asked to, switches it to blocking mode
// and runs the handshake over it.
func (s *sslEndpoint) open(ctx context.Context, _ Unit) (net.Conn, error) {
	child := s.io.child
	if openWithChild(ctx) {
		if err := child.OpenS(ctx); err != nil {
			return nil, err
		}
	}
	if err := child.SetSync(); err != nil {
		s.closeChild()
		return nil, err
	}

	config := s.config.Clone()
	if !s.opts.server && config.ServerName == "" {
		if raddr, err := child.RemoteAddrString(); err == nil {
			config.ServerName = hostPart(raddr)
		}
	}
	cfg := s.io.cfg
	var handshake *TLSHandshakeFunc
	if s.opts.server {
		handshake = NewTLSServerHandshakeFunc(cfg, config, s.ce.logger)
	} else {
		handshake = NewTLSHandshakeFunc(cfg, config, s.ce.logger)
	}
	handshake.SpanID = s.io.ID()

	tconn, err := handshake.Call(ctx, newEndpointConn(ctx, child))
	if err != nil {
		s.closeChild()
		return nil, handshakeErr(err)
	}
	state := tconn.ConnectionState()
	s.mu.Lock()
	s.state = &state
	s.mu.Unlock()
	s.io.SetIsEncrypted(true)
	s.io.SetIsAuthenticated(len(state.VerifiedChains) > 0)
	return NewObserveConnFunc(cfg, s.ce.logger, s.io.ID()).Call(ctx, tconn)
}

// hostPart returns the host of an "ip,port" address.
func hostPart(addr string) string {
	if idx := strings.LastIndexByte(addr, ','); idx >= 0 {
		return addr[:idx]
	}
	return addr
}

// closeChild restores the child handler and closes the child.
func (s *sslEndpoint) closeChild() error {
	child := s.io.child
	err := child.ClearSync()
	if errors.Is(err, ErrNotReady) {
		err = nil
	}
	cerr := child.CloseS(context.Background())
	if errors.Is(cerr, ErrNotReady) {
		cerr = nil
	}
	return multierr.Combine(err, cerr)
}

// control implements [ControlGetPeerCertName], returning the common name
// of the peer certificate.
func (s *sslEndpoint) control(io *Endpoint, conn net.Conn, get bool, option ControlOption, data []byte) ([]byte, error) {
	if option != ControlGetPeerCertName {
		return nil, ErrNotSupported
	}
	if !get {
		return nil, ErrInvalid
	}
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if conn == nil || state == nil {
		return nil, ErrNotReady
	}
	if len(state.PeerCertificates) == 0 {
		return nil, ErrNoCert
	}
	return []byte(state.PeerCertificates[0].Subject.CommonName), nil
}

// endpointAddr is the address of an endpoint that is not an IP address.
type endpointAddr string

func (endpointAddr) Network() string  { return "gensio" }
func (a endpointAddr) String() string { return string(a) }

// endpointConn is a [net.Conn] over an endpoint in blocking mode.
//
// Cancelling the context, or closing the connection, interrupts pending
// reads and writes. Closing does not close the endpoint.
type endpointConn struct {
	cancel context.CancelFunc
	ctx    context.Context
	io     *Endpoint
	rdl    *connDeadline
	wdl    *connDeadline
}

var _ net.Conn = &endpointConn{}

func newEndpointConn(ctx context.Context, io *Endpoint) *endpointConn {
	ctx, cancel := context.WithCancel(ctx)
	return &endpointConn{
		cancel: cancel,
		ctx:    ctx,
		io:     io,
		rdl:    newConnDeadline(),
		wdl:    newConnDeadline(),
	}
}

// call runs fn with a context cancelled when the deadline expires.
func (c *endpointConn) call(dl *connDeadline, fn func(ctx context.Context) (int, error)) (int, error) {
	expired := dl.wait()
	ctx, cancel := context.WithCancel(c.ctx)
	go func() {
		select {
		case <-expired:
			cancel()
		case <-ctx.Done():
		}
	}()
	count, err := fn(ctx)
	cancel()
	if err == nil {
		return count, nil
	}
	select {
	case <-expired:
		return count, os.ErrDeadlineExceeded
	default:
	}
	if errors.Is(err, ErrRemoteClosed) {
		return count, io.EOF
	}
	if c.ctx.Err() != nil {
		return count, net.ErrClosed
	}
	return count, err
}

func (c *endpointConn) Read(buf []byte) (int, error) {
	return c.call(c.rdl, func(ctx context.Context) (int, error) {
		return c.io.ReadS(ctx, buf)
	})
}

func (c *endpointConn) Write(data []byte) (int, error) {
	return c.call(c.wdl, func(ctx context.Context) (int, error) {
		return c.io.WriteS(ctx, data)
	})
}

func (c *endpointConn) Close() error {
	c.cancel()
	return nil
}

func (c *endpointConn) LocalAddr() net.Addr {
	laddr, err := c.io.Control(ControlDepthFirst, true, ControlLaddr, nil)
	if err != nil {
		return endpointAddr(c.io.Type(0))
	}
	return endpointAddr(laddr)
}

func (c *endpointConn) RemoteAddr() net.Addr {
	if addr, err := c.io.RemoteAddr(); err == nil {
		return addr
	}
	return endpointAddr(c.io.Type(0))
}

func (c *endpointConn) SetDeadline(t time.Time) error {
	c.rdl.set(t)
	c.wdl.set(t)
	return nil
}

func (c *endpointConn) SetReadDeadline(t time.Time) error {
	c.rdl.set(t)
	return nil
}

func (c *endpointConn) SetWriteDeadline(t time.Time) error {
	c.wdl.set(t)
	return nil
}

// connDeadline is a deadline whose channel is closed once it expires.
type connDeadline struct {
	mu      sync.Mutex
	expired chan struct{}
	timer   *time.Timer
}

func newConnDeadline() *connDeadline {
	return &connDeadline{expired: make(chan struct{})}
}

func (d *connDeadline) set(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil && !d.timer.Stop() {
		<-d.expired // the timer fired: wait for it to close the channel
	}
	d.timer = nil

	closed := isClosedChan(d.expired)
	if t.IsZero() {
		if closed {
			d.expired = make(chan struct{})
		}
		return
	}
	if wait := time.Until(t); wait > 0 {
		if closed {
			d.expired = make(chan struct{})
		}
		expired := d.expired
		d.timer = time.AfterFunc(wait, func() {
			close(expired)
		})
		return
	}
	if !closed {
		close(d.expired)
	}
}

func (d *connDeadline) wait() chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.expired
}

func isClosedChan(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// sslAccepter runs the server side of the handshake on every connection
// of its child accepter. Connections are pending while handshaking.
type sslAccepter struct {
	UnsupportedAccepterOps
	args []string
	cfg  *Config
	opts *sslOptions
}

// sslAccepterAlloc stacks an ssl accepter on top of child, taking over
// its handler.
func sslAccepterAlloc(cfg *Config, child *Accepter, args []string, cb AccepterEventHandler) (*Accepter, error) {
	opts, err := parseSSLOptions(cfg, args, true)
	if err != nil {
		return nil, err
	}
	if _, err := opts.tlsConfig(); err != nil {
		return nil, err
	}
	sa := &sslAccepter{args: args, cfg: cfg, opts: opts}
	acc := NewAccepter(cfg, cb, sa, child, "ssl", sa)
	acc.SetIsReliable(child.IsReliable())
	child.SetCallback(AccepterEventHandlerFunc(func(_ *Accepter, event AccepterEvent, data any) error {
		return sa.childEvent(acc, event, data)
	}), nil)
	return acc, nil
}

func (sa *sslAccepter) childEvent(acc *Accepter, event AccepterEvent, data any) error {
	switch event {
	case AccEventNewConnection:
		return sa.newConnection(acc, data.(*Endpoint))
	case AccEventLog:
		info := data.(*LogMessage)
		acc.Log(info.Level, "%s", info.Message)
		return nil
	default:
		return acc.Deliver(event, data)
	}
}

// newConnection wraps child in a server ssl endpoint. From here on the
// ssl endpoint owns child, so errors are handled here.
func (sa *sslAccepter) newConnection(acc *Accepter, child *Endpoint) error {
	io, err := sslEndpointAllocOpts(sa.cfg, child, sa.opts, nil)
	if err != nil {
		return err
	}
	acc.AddPending(io)
	err = io.OpenNoChild(func(io *Endpoint, err error) {
		if !acc.RemovePending(io) {
			return // disposed of by a disable
		}
		if err != nil {
			acc.Log(LogErr, "ssl handshake: %s", err.Error())
			go io.Free()
			return
		}
		if err := acc.Deliver(AccEventNewConnection, io); err != nil {
			go io.Free()
		}
	})
	if err != nil {
		acc.RemovePending(io)
		io.Free()
	}
	return nil
}

func (sa *sslAccepter) Startup(acc *Accepter) error {
	return acc.child.Startup()
}

func (sa *sslAccepter) Shutdown(acc *Accepter, done AccepterDoneFunc) error {
	return acc.child.Shutdown(func(*Accepter) {
		if done != nil {
			done(acc)
		}
	})
}

func (sa *sslAccepter) SetAcceptCallbackEnable(acc *Accepter, enabled bool, done AccepterDoneFunc) error {
	return acc.child.SetAcceptCallbackEnableCB(enabled, func(*Accepter) {
		if done != nil {
			done(acc)
		}
	})
}

// Free frees the connections still handshaking, then the child.
func (sa *sslAccepter) Free(acc *Accepter) {
	acc.child.Free()
	acc.freePending(false)
	acc.FreeData()
}

// StrToEndpoint creates an ssl client over the child type, with the
// options of the accepter.
func (sa *sslAccepter) StrToEndpoint(acc *Accepter, str string, cb EventHandler) (*Endpoint, error) {
	child, err := acc.child.StrToEndpoint(str, nil)
	if err != nil {
		return nil, err
	}
	io, err := sslEndpointAlloc(sa.cfg, child, append(append([]string{}, sa.args...), "mode=client"), cb)
	if err != nil {
		child.Free()
		return nil, err
	}
	return io, nil
}
