// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"log/slog"
	"math/big"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
	"github.com/bassosimone/tlsstub"
	"github.com/stretchr/testify/require"
)

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var records []slog.Record
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			records = append(records, record)
			return nil
		},
	}
	return slog.New(handler), &records
}

// recordAttrs flattens the attributes of a record.
func recordAttrs(record slog.Record) map[string]any {
	attrs := map[string]any{}
	record.Attrs(func(attr slog.Attr) bool {
		attrs[attr.Key] = attr.Value.Any()
		return true
	})
	return attrs
}

// newMockTLSEngine returns a [*tlsstub.FuncTLSEngine] whose ClientFunc
// returns conn and whose name is "mock".
func newMockTLSEngine(conn TLSConn) *tlsstub.FuncTLSEngine[TLSConn] {
	return &tlsstub.FuncTLSEngine[TLSConn]{
		ClientFunc: func(c net.Conn, config *tls.Config) TLSConn {
			return conn
		},
		NameFunc: func() string {
			return "mock"
		},
		ParrotFunc: func() string {
			return ""
		},
	}
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set, which is what the span loggers need.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// funcOps is an [EndpointOps] whose behavior is set per test. Unset
// functions fall back to [UnsupportedEndpointOps].
type funcOps struct {
	UnsupportedEndpointOps
	ControlFunc                func(io *Endpoint, get bool, option ControlOption, data []byte) ([]byte, error)
	DisableFunc                func(io *Endpoint)
	SetReadCallbackEnableFunc  func(io *Endpoint, enabled bool)
	SetWriteCallbackEnableFunc func(io *Endpoint, enabled bool)
	WriteSGFunc                func(io *Endpoint, sg [][]byte, auxdata []string) (int, error)
}

func (o *funcOps) Control(io *Endpoint, get bool, option ControlOption, data []byte) ([]byte, error) {
	if o.ControlFunc == nil {
		return o.UnsupportedEndpointOps.Control(io, get, option, data)
	}
	return o.ControlFunc(io, get, option, data)
}

func (o *funcOps) Disable(io *Endpoint) {
	if o.DisableFunc != nil {
		o.DisableFunc(io)
	}
}

func (o *funcOps) SetReadCallbackEnable(io *Endpoint, enabled bool) {
	if o.SetReadCallbackEnableFunc != nil {
		o.SetReadCallbackEnableFunc(io, enabled)
	}
}

func (o *funcOps) SetWriteCallbackEnable(io *Endpoint, enabled bool) {
	if o.SetWriteCallbackEnableFunc != nil {
		o.SetWriteCallbackEnableFunc(io, enabled)
	}
}

func (o *funcOps) WriteSG(io *Endpoint, sg [][]byte, auxdata []string) (int, error) {
	if o.WriteSGFunc == nil {
		return o.UnsupportedEndpointOps.WriteSG(io, sg, auxdata)
	}
	return o.WriteSGFunc(io, sg, auxdata)
}

// stubResolver is a [Resolver] answering from maps.
type stubResolver struct {
	hosts    map[string][]netip.Addr
	services map[string]int
}

func (r *stubResolver) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	addrs, found := r.hosts[host]
	if !found {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return addrs, nil
}

func (r *stubResolver) LookupPort(ctx context.Context, network, service string) (int, error) {
	port, found := r.services[service]
	if !found {
		return 0, &net.DNSError{Err: "unknown port", Name: service, IsNotFound: true}
	}
	return port, nil
}

// newTestConfig returns a config with isolated registry and defaults and
// a resolver knowing "localhost" and "other".
func newTestConfig() *Config {
	cfg := NewConfig()
	cfg.Registry = NewRegistry()
	cfg.Defaults = NewDefaultStore()
	cfg.Resolver = &stubResolver{
		hosts: map[string][]netip.Addr{
			"localhost": {netip.MustParseAddr("127.0.0.1")},
			"other":     {netip.MustParseAddr("10.0.0.1")},
			"dual":      {netip.MustParseAddr("10.0.0.2"), netip.MustParseAddr("fd00::2")},
		},
		services: map[string]int{"http": 80},
	}
	return cfg
}

// testCert is a self-signed certificate for 127.0.0.1 stored in PEM files.
type testCert struct {
	certFile string
	keyFile  string
}

// newTestCert writes a self-signed certificate with the given common name
// into a temporary directory.
func newTestCert(t *testing.T, commonName string) *testCert {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	tc := &testCert{
		certFile: filepath.Join(dir, "cert.pem"),
		keyFile:  filepath.Join(dir, "key.pem"),
	}
	require.NoError(t, os.WriteFile(tc.certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600))
	require.NoError(t, os.WriteFile(tc.keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600))
	return tc
}

// eventLog records the events of an endpoint and the data it reads.
type eventLog struct {
	mu     sync.Mutex
	data   []byte
	errs   []error
	events []Event
	notify chan struct{}
}

func newEventLog() *eventLog {
	return &eventLog{notify: make(chan struct{}, 1)}
}

// HandleEvent consumes all data and records everything.
func (l *eventLog) HandleEvent(io *Endpoint, event Event, err error, buf []byte, auxdata []string) (int, error) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.data = append(l.data, buf...)
	if err != nil {
		l.errs = append(l.errs, err)
	}
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
	if event != EventRead {
		return 0, ErrNotSupported
	}
	return len(buf), nil
}

func (l *eventLog) received() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return string(l.data)
}

func (l *eventLog) readErrors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error{}, l.errs...)
}

func (l *eventLog) count(event Event) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, ev := range l.events {
		if ev == event {
			count++
		}
	}
	return count
}

// testContext returns a context bounding a test step.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
