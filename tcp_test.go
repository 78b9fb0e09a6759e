// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestAccepter starts the accepter described by desc and returns it
// along with the channel receiving the new connections.
func startTestAccepter(t *testing.T, cfg *Config, desc string) (*Accepter, chan *Endpoint) {
	t.Helper()
	conns := make(chan *Endpoint, 4)
	handler := AccepterEventHandlerFunc(func(acc *Accepter, event AccepterEvent, data any) error {
		if event != AccEventNewConnection {
			return ErrNotSupported
		}
		conns <- data.(*Endpoint)
		return nil
	})
	acc, err := StrToAccepter(cfg, desc, handler)
	require.NoError(t, err)
	require.NoError(t, acc.Startup())
	t.Cleanup(func() {
		acc.Free()
		for {
			select {
			case io := <-conns:
				io.Free()
			default:
				return
			}
		}
	})
	return acc, conns
}

// acceptedPort returns the port the first layer supporting it listens on.
func acceptedPort(t *testing.T, acc *Accepter) string {
	t.Helper()
	port, err := acc.Control(ControlDepthFirst, true, ControlLPort, nil)
	require.NoError(t, err)
	require.NotEqual(t, "0", string(port))
	return string(port)
}

// waitConn receives the next accepted connection.
func waitConn(t *testing.T, conns chan *Endpoint) *Endpoint {
	t.Helper()
	select {
	case io := <-conns:
		return io
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

// echoHandler writes back whatever it reads.
var echoHandler = EventHandlerFunc(func(io *Endpoint, event Event, err error, buf []byte, auxdata []string) (int, error) {
	if event != EventRead || err != nil {
		return 0, ErrNotSupported
	}
	return io.Write(buf, nil)
})

// Make sure data flows both ways over a tcp connection.
func TestTCPEcho(t *testing.T) {
	cfg := newTestConfig()
	acc, conns := startTestAccepter(t, cfg, "tcp,127.0.0.1,0")
	port := acceptedPort(t, acc)

	log := newEventLog()
	client, err := StrToEndpoint(cfg, "tcp,127.0.0.1,"+port, log)
	require.NoError(t, err)
	defer client.Free()
	assert.Equal(t, "tcp", client.Type(0))
	assert.True(t, client.IsClient())
	assert.True(t, client.IsReliable())
	require.NoError(t, client.OpenS(testContext(t)))

	server := waitConn(t, conns)
	defer server.Free()
	assert.Equal(t, "tcp", server.Type(0))
	assert.False(t, server.IsClient())
	server.SetCallback(echoHandler, nil)
	server.SetReadCallbackEnable(true)

	client.SetReadCallbackEnable(true)
	_, err = client.Write([]byte("hello"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return log.received() == "hello"
	}, 5*time.Second, 5*time.Millisecond)

	raddr, err := client.RemoteAddrString()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1,"+port, raddr)
	laddr, err := server.Control(0, true, ControlLaddr, nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1,"+port, string(laddr))

	require.NoError(t, client.CloseS(testContext(t)))
}

// The server learns about the client closing the connection.
func TestTCPRemoteClose(t *testing.T) {
	cfg := newTestConfig()
	acc, conns := startTestAccepter(t, cfg, "tcp,127.0.0.1,0")

	client, err := StrToEndpoint(cfg, "tcp,127.0.0.1,"+acceptedPort(t, acc), nil)
	require.NoError(t, err)
	defer client.Free()
	require.NoError(t, client.OpenS(testContext(t)))

	server := waitConn(t, conns)
	defer server.Free()
	log := newEventLog()
	server.SetCallback(log, nil)
	server.SetReadCallbackEnable(true)

	require.NoError(t, client.CloseS(testContext(t)))
	require.Eventually(t, func() bool {
		return len(log.readErrors()) == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, log.readErrors()[0], ErrRemoteClosed)
}

// Connecting to a closed port fails the open.
func TestTCPConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	client, err := StrToEndpoint(newTestConfig(), "tcp,127.0.0.1,"+port, nil)
	require.NoError(t, err)
	defer client.Free()
	assert.Error(t, client.OpenS(testContext(t)))
}

// The nodelay control survives the open and is refused for udp.
func TestTCPNoDelay(t *testing.T) {
	cfg := newTestConfig()
	acc, conns := startTestAccepter(t, cfg, "tcp,127.0.0.1,0")
	port := acceptedPort(t, acc)

	client, err := StrToEndpoint(cfg, "tcp,127.0.0.1,"+port, nil)
	require.NoError(t, err)
	defer client.Free()

	value, err := client.Control(0, true, ControlNoDelay, nil)
	require.NoError(t, err)
	assert.Equal(t, "false", string(value))
	_, err = client.Control(0, false, ControlNoDelay, []byte("true"))
	require.NoError(t, err)
	_, err = client.Control(0, false, ControlNoDelay, []byte("bogus"))
	assert.ErrorIs(t, err, ErrInvalid)

	require.NoError(t, client.OpenS(testContext(t)))
	defer waitConn(t, conns).Free()
	value, err = client.Control(0, true, ControlNoDelay, nil)
	require.NoError(t, err)
	assert.Equal(t, "true", string(value))
	_, err = client.Control(0, false, ControlNoDelay, []byte("false"))
	require.NoError(t, err)

	udp, err := StrToEndpoint(cfg, "udp,127.0.0.1,"+port, nil)
	require.NoError(t, err)
	defer udp.Free()
	_, err = udp.Control(0, true, ControlNoDelay, nil)
	assert.ErrorIs(t, err, ErrNotSupported)
}

// The nodelay class default applies when no argument is given.
func TestTCPNoDelayDefault(t *testing.T) {
	cfg := newTestConfig()
	require.NoError(t, cfg.Defaults.SetDefault("tcp", "nodelay", "true"))
	client, err := StrToEndpoint(cfg, "tcp,localhost,2000", nil)
	require.NoError(t, err)
	defer client.Free()

	value, err := client.Control(0, true, ControlNoDelay, nil)
	require.NoError(t, err)
	assert.Equal(t, "true", string(value))
}

// Accepter controls report the listening address once started.
func TestTCPAccepterControl(t *testing.T) {
	cfg := newTestConfig()
	acc, err := StrToAccepter(cfg, "tcp,127.0.0.1,0", nil)
	require.NoError(t, err)
	defer acc.Free()

	_, err = acc.Control(0, true, ControlLPort, nil)
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, acc.Startup())
	assert.ErrorIs(t, acc.Startup(), ErrInUse)
	port := acceptedPort(t, acc)
	laddr, err := acc.Control(0, true, ControlLaddr, nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1,"+port, string(laddr))

	tests := []struct {
		name   string
		get    bool
		option ControlOption
		data   string
		err    error
	}{
		{name: "second listener", get: true, option: ControlLPort, data: "1", err: ErrNotFound},
		{name: "bad index", get: true, option: ControlLPort, data: "x", err: ErrInvalid},
		{name: "set", get: false, option: ControlLPort, err: ErrNotSupported},
		{name: "unknown option", get: true, option: ControlNoDelay, err: ErrNotSupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := acc.Control(0, tt.get, tt.option, []byte(tt.data))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	require.NoError(t, acc.ShutdownS(testContext(t)))
	assert.ErrorIs(t, acc.Shutdown(nil), ErrNotReady)
	_, err = acc.Control(0, true, ControlLPort, nil)
	assert.ErrorIs(t, err, ErrNotReady)

	// restart after shutdown
	require.NoError(t, acc.Startup())
	require.NoError(t, acc.ShutdownS(testContext(t)))
}

// New connections wait while accept callbacks are disabled.
func TestTCPAccepterEnable(t *testing.T) {
	cfg := newTestConfig()
	acc, conns := startTestAccepter(t, cfg, "tcp,127.0.0.1,0")
	port := acceptedPort(t, acc)
	require.NoError(t, acc.SetAcceptCallbackEnableS(testContext(t), false))

	client, err := StrToEndpoint(cfg, "tcp,127.0.0.1,"+port, nil)
	require.NoError(t, err)
	defer client.Free()
	require.NoError(t, client.OpenS(testContext(t)))

	select {
	case io := <-conns:
		io.Free()
		t.Fatal("connection delivered while disabled")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, acc.SetAcceptCallbackEnable(true))
	waitConn(t, conns).Free()
}

// Free after Disable still waits for a delivery in progress.
func TestTCPAccepterDisableFree(t *testing.T) {
	cfg := newTestConfig()
	entered := make(chan *Endpoint, 1)
	release := make(chan struct{})
	handler := AccepterEventHandlerFunc(func(acc *Accepter, event AccepterEvent, data any) error {
		if event != AccEventNewConnection {
			return ErrNotSupported
		}
		entered <- data.(*Endpoint)
		<-release
		return nil
	})
	acc, err := StrToAccepter(cfg, "tcp,127.0.0.1,0", handler)
	require.NoError(t, err)
	require.NoError(t, acc.Startup())

	client, err := StrToEndpoint(cfg, "tcp,127.0.0.1,"+acceptedPort(t, acc), nil)
	require.NoError(t, err)
	defer client.Free()
	require.NoError(t, client.OpenS(testContext(t)))
	server := waitConn(t, entered)
	defer server.Free()

	acc.Disable()
	freed := make(chan struct{})
	go func() {
		acc.Free()
		close(freed)
	}()
	select {
	case <-freed:
		t.Fatal("Free returned during a delivery")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-freed:
	case <-time.After(5 * time.Second):
		t.Fatal("Free did not return")
	}
}

// Endpoints created by the accepter connect back to it.
func TestTCPAccepterStrToEndpoint(t *testing.T) {
	cfg := newTestConfig()
	acc, conns := startTestAccepter(t, cfg, "tcp,127.0.0.1,0")

	client, err := acc.StrToEndpoint("127.0.0.1,"+acceptedPort(t, acc), nil)
	require.NoError(t, err)
	defer client.Free()
	require.NoError(t, client.OpenS(testContext(t)))
	waitConn(t, conns).Free()
}

// Make sure datagrams flow over a udp endpoint.
func TestUDPEndpoint(t *testing.T) {
	pconn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pconn.Close()
	go func() {
		buf := make([]byte, 1500)
		for {
			count, addr, err := pconn.ReadFrom(buf)
			if err != nil {
				return
			}
			pconn.WriteTo([]byte(strings.ToUpper(string(buf[:count]))), addr)
		}
	}()
	_, port, err := net.SplitHostPort(pconn.LocalAddr().String())
	require.NoError(t, err)

	log := newEventLog()
	client, err := StrToEndpoint(newTestConfig(), "udp,127.0.0.1,"+port, log)
	require.NoError(t, err)
	defer client.Free()
	assert.Equal(t, "udp", client.Type(0))
	assert.True(t, client.IsPacket())
	assert.False(t, client.IsReliable())
	require.NoError(t, client.OpenS(testContext(t)))

	client.SetReadCallbackEnable(true)
	_, err = client.Write([]byte("ping"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return log.received() == "PING"
	}, 5*time.Second, 5*time.Millisecond)
}
