// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireProgram skips the test when name is not installed.
func requireProgram(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %s", name, err.Error())
	}
}

// stdioPipes replaces the config streams with pipes and returns the ends
// the test uses.
func stdioPipes(t *testing.T, cfg *Config) (*io.PipeWriter, *io.PipeReader) {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	cfg.Stdin = inR
	cfg.Stdout = outW
	t.Cleanup(func() {
		inW.Close()
		outR.Close()
	})
	return inW, outR
}

// Make sure a subprocess echoes what it is sent.
func TestStdioEndpointProcess(t *testing.T) {
	requireProgram(t, "cat")
	log := newEventLog()
	io, err := StrToEndpoint(newTestConfig(), "stdio,cat", log)
	require.NoError(t, err)
	defer io.Free()
	assert.Equal(t, "stdio", io.Type(0))
	assert.True(t, io.IsReliable())

	_, err = io.RemoteID()
	assert.ErrorIs(t, err, ErrNotReady)
	require.NoError(t, io.OpenS(testContext(t)))

	pid, err := io.RemoteID()
	require.NoError(t, err)
	assert.Positive(t, pid)
	assert.NotEqual(t, os.Getpid(), pid)
	raddr, err := io.RemoteAddrString()
	require.NoError(t, err)
	assert.Equal(t, "cat", raddr)

	io.SetReadCallbackEnable(true)
	_, err = io.Write([]byte("hello\n"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return log.received() == "hello\n"
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, io.CloseS(testContext(t)))
}

// Standard error can be merged into what the endpoint reads.
func TestStdioEndpointStderr(t *testing.T) {
	requireProgram(t, "sh")
	log := newEventLog()
	io, err := StrToEndpoint(newTestConfig(), "stdio(stderr-to-stdout),sh -c 'echo oops 1>&2'", log)
	require.NoError(t, err)
	defer io.Free()
	require.NoError(t, io.OpenS(testContext(t)))

	io.SetReadCallbackEnable(true)
	require.Eventually(t, func() bool {
		return log.received() == "oops\n" && len(log.readErrors()) == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, log.readErrors()[0], ErrRemoteClosed)
}

// A missing program fails the open.
func TestStdioEndpointMissingProgram(t *testing.T) {
	io, err := StrToEndpoint(newTestConfig(), "stdio,/nonexistent/program", nil)
	require.NoError(t, err)
	defer io.Free()
	assert.Error(t, io.OpenS(testContext(t)))
}

// Bad stdio descriptors are rejected.
func TestStdioEndpointArgs(t *testing.T) {
	tests := []struct {
		name string
		desc string
	}{
		{name: "no program", desc: "stdio"},
		{name: "unknown argument", desc: "stdio(bogus),cat"},
		{name: "zero buffer", desc: "stdio(readbuf=0),cat"},
		{name: "unterminated quote", desc: "stdio,sh -c 'echo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := StrToEndpoint(newTestConfig(), tt.desc, nil)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

// The self endpoint uses the configured streams.
func TestStdioEndpointSelf(t *testing.T) {
	cfg := newTestConfig()
	stdin, stdout := stdioPipes(t, cfg)
	log := newEventLog()
	io, err := StrToEndpoint(cfg, "stdio(self)", log)
	require.NoError(t, err)
	defer io.Free()
	require.NoError(t, io.OpenS(testContext(t)))

	pid, err := io.RemoteID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 3)
		count, _ := stdout.Read(buf)
		got <- string(buf[:count])
	}()
	_, err = io.Write([]byte("out"), nil)
	require.NoError(t, err)
	assert.Equal(t, "out", <-got)

	io.SetReadCallbackEnable(true)
	go stdin.Write([]byte("in"))
	require.Eventually(t, func() bool {
		return log.received() == "in"
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, io.CloseS(testContext(t)))
}

// The stdio accepter hands out one connection over the process streams.
func TestStdioAccepter(t *testing.T) {
	cfg := newTestConfig()
	stdin, _ := stdioPipes(t, cfg)
	acc, conns := startTestAccepter(t, cfg, "stdio")
	assert.True(t, acc.ExitOnClose())
	assert.True(t, acc.IsReliable())
	assert.ErrorIs(t, acc.Startup(), ErrInUse)

	server := waitConn(t, conns)
	defer server.Free()
	assert.Equal(t, "stdio", server.Type(0))
	log := newEventLog()
	server.SetCallback(log, nil)
	server.SetReadCallbackEnable(true)
	go stdin.Write([]byte("request"))
	require.Eventually(t, func() bool {
		return log.received() == "request"
	}, 5*time.Second, 5*time.Millisecond)

	select {
	case <-conns:
		t.Fatal("second connection delivered")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, acc.ShutdownS(testContext(t)))
}

// The stdio accepter takes no arguments and creates process clients.
func TestStdioAccepterStrToEndpoint(t *testing.T) {
	_, err := StrToAccepter(newTestConfig(), "stdio(bogus)", nil)
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = StrToAccepter(newTestConfig(), "stdio,cat", nil)
	assert.ErrorIs(t, err, ErrInvalid)

	acc, err := StrToAccepter(newTestConfig(), "stdio", nil)
	require.NoError(t, err)
	defer acc.Free()
	io, err := acc.StrToEndpoint("cat", nil)
	require.NoError(t, err)
	defer io.Free()
	assert.Equal(t, "stdio", io.Type(0))
}
