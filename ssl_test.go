// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startSSLAccepter starts an ssl accepter over tcp using the server
// certificate and the extra arguments.
func startSSLAccepter(t *testing.T, cfg *Config, server *testCert, extra string) (*Accepter, chan *Endpoint, string) {
	t.Helper()
	desc := fmt.Sprintf("ssl(cert=%s,key=%s%s),tcp,127.0.0.1,0", server.certFile, server.keyFile, extra)
	acc, conns := startTestAccepter(t, cfg, desc)
	return acc, conns, acceptedPort(t, acc)
}

// Make sure an ssl client and server exchange data and report their state.
func TestSSLEcho(t *testing.T) {
	cfg := newTestConfig()
	cert := newTestCert(t, "gensio server")
	acc, conns, port := startSSLAccepter(t, cfg, cert, "")
	assert.Equal(t, "ssl", acc.Type(0))
	assert.Equal(t, "tcp", acc.Type(1))

	log := newEventLog()
	client, err := StrToEndpoint(cfg, fmt.Sprintf("ssl(CA=%s),tcp,127.0.0.1,%s", cert.certFile, port), log)
	require.NoError(t, err)
	defer client.Free()
	assert.False(t, client.IsEncrypted())
	require.NoError(t, client.OpenS(testContext(t)))

	assert.Equal(t, "ssl", client.Type(0))
	assert.Equal(t, "tcp", client.Type(1))
	assert.True(t, client.IsClient())
	assert.True(t, client.IsReliable())
	assert.True(t, client.IsEncrypted())
	assert.True(t, client.IsAuthenticated())
	name, err := client.Control(0, true, ControlGetPeerCertName, nil)
	require.NoError(t, err)
	assert.Equal(t, "gensio server", string(name))
	raddr, err := client.RemoteAddrString()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1,"+port, raddr)

	server := waitConn(t, conns)
	defer server.Free()
	assert.Equal(t, "ssl", server.Type(0))
	assert.False(t, server.IsClient())
	assert.True(t, server.IsEncrypted())
	assert.False(t, server.IsAuthenticated())
	_, err = server.Control(0, true, ControlGetPeerCertName, nil)
	assert.ErrorIs(t, err, ErrNoCert)
	server.SetCallback(echoHandler, nil)
	server.SetReadCallbackEnable(true)

	client.SetReadCallbackEnable(true)
	_, err = client.Write([]byte("secret"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return log.received() == "secret"
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, client.CloseS(testContext(t)))
}

// A client trusting another CA fails the handshake unless told to
// ignore authentication failures.
func TestSSLUnknownAuthority(t *testing.T) {
	cfg := newTestConfig()
	cert := newTestCert(t, "gensio server")
	other := newTestCert(t, "someone else")
	_, _, port := startSSLAccepter(t, cfg, cert, "")

	tests := []struct {
		name          string
		args          string
		err           error
		authenticated bool
	}{
		{name: "verified", args: "CA=" + other.certFile, err: ErrCertInvalid},
		{name: "allow authfail", args: "CA=" + other.certFile + ",allow-authfail"},
		{name: "trusted", args: "CA=" + cert.certFile, authenticated: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := StrToEndpoint(cfg, fmt.Sprintf("ssl(%s),tcp,127.0.0.1,%s", tt.args, port), nil)
			require.NoError(t, err)
			defer client.Free()

			err = client.OpenS(testContext(t))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.False(t, client.IsEncrypted())
				return
			}
			require.NoError(t, err)
			assert.True(t, client.IsEncrypted())
			assert.Equal(t, tt.authenticated, client.IsAuthenticated())
			require.NoError(t, client.CloseS(testContext(t)))
		})
	}
}

// The server authenticates clients presenting a trusted certificate.
func TestSSLClientAuth(t *testing.T) {
	cfg := newTestConfig()
	serverCert := newTestCert(t, "gensio server")
	clientCert := newTestCert(t, "gensio client")
	_, conns, port := startSSLAccepter(t, cfg, serverCert, ",clientauth,CA="+clientCert.certFile)

	desc := fmt.Sprintf("ssl(CA=%s,cert=%s,key=%s),tcp,127.0.0.1,%s",
		serverCert.certFile, clientCert.certFile, clientCert.keyFile, port)
	client, err := StrToEndpoint(cfg, desc, nil)
	require.NoError(t, err)
	defer client.Free()
	require.NoError(t, client.OpenS(testContext(t)))

	server := waitConn(t, conns)
	defer server.Free()
	assert.True(t, server.IsAuthenticated())
	name, err := server.Control(0, true, ControlGetPeerCertName, nil)
	require.NoError(t, err)
	assert.Equal(t, "gensio client", string(name))
}

// The ssl options come from the class defaults when not given.
func TestSSLDefaults(t *testing.T) {
	cfg := newTestConfig()
	cert := newTestCert(t, "gensio server")
	require.NoError(t, cfg.Defaults.SetDefault("ssl", "cert", cert.certFile))
	require.NoError(t, cfg.Defaults.SetDefault("ssl", "key", cert.keyFile))
	acc, conns := startTestAccepter(t, cfg, "ssl,tcp,127.0.0.1,0")
	port := acceptedPort(t, acc)

	require.NoError(t, cfg.Defaults.SetDefault("ssl", "CA", cert.certFile))
	client, err := StrToEndpoint(cfg, "ssl,tcp,127.0.0.1,"+port, nil)
	require.NoError(t, err)
	defer client.Free()
	require.NoError(t, client.OpenS(testContext(t)))
	assert.True(t, client.IsAuthenticated())
	waitConn(t, conns).Free()
}

// Bad ssl options are rejected before anything is opened.
func TestSSLOptions(t *testing.T) {
	cert := newTestCert(t, "gensio server")
	tests := []struct {
		name string
		desc string
		err  error
	}{
		{name: "unknown argument", desc: "ssl(bogus),echo", err: ErrInvalid},
		{name: "bad mode", desc: "ssl(mode=peer),echo", err: ErrInvalid},
		{name: "missing CA", desc: "ssl(CA=/nonexistent/ca.pem),echo", err: ErrCertNotFound},
		{name: "server without cert", desc: "ssl(mode=server),echo", err: ErrKeyNotFound},
		{name: "key is not a cert", desc: "ssl(CA=" + cert.keyFile + "),echo", err: ErrCertInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := StrToEndpoint(newTestConfig(), tt.desc, nil)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

// The ssl accepter creates clients over its child type.
func TestSSLAccepterStrToEndpoint(t *testing.T) {
	cfg := newTestConfig()
	cert := newTestCert(t, "gensio server")
	acc, _, port := startSSLAccepter(t, cfg, cert, "")

	client, err := acc.StrToEndpoint("127.0.0.1,"+port, nil)
	require.NoError(t, err)
	defer client.Free()
	assert.Equal(t, "ssl", client.Type(0))
	assert.Equal(t, "tcp", client.Type(1))
	assert.True(t, client.IsClient())
}

// The peer certificate name is only known once open.
func TestSSLPeerCertNotOpen(t *testing.T) {
	client, err := StrToEndpoint(newTestConfig(), "ssl,echo", nil)
	require.NoError(t, err)
	defer client.Free()

	_, err = client.Control(0, true, ControlGetPeerCertName, nil)
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = client.Control(0, false, ControlGetPeerCertName, nil)
	assert.ErrorIs(t, err, ErrInvalid)
}
