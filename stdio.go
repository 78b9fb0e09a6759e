// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"context"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// stdioAddr names the program behind a stdio connection.
type stdioAddr string

func (stdioAddr) Network() string  { return "stdio" }
func (a stdioAddr) String() string { return string(a) }

// processConn talks to a subprocess through its stdin and stdout.
type processConn struct {
	closeonce sync.Once
	cmd       *exec.Cmd
	name      stdioAddr
	stdin     *os.File
	stdout    *os.File
}

var _ net.Conn = &processConn{}

// startProcess runs argv. Cancelling ctx kills the process. When
// stderrToStdout is set, stderr is merged into what the connection reads.
func startProcess(ctx context.Context, argv []string, stderrToStdout bool) (*processConn, error) {
	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		inR.Close()
		inW.Close()
		return nil, err
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = inR
	cmd.Stdout = outW
	if stderrToStdout {
		cmd.Stderr = outW
	}
	err = cmd.Start()
	inR.Close()
	outW.Close()
	if err != nil {
		inW.Close()
		outR.Close()
		return nil, err
	}
	return &processConn{
		cmd:    cmd,
		name:   stdioAddr(strings.Join(argv, " ")),
		stdin:  inW,
		stdout: outR,
	}, nil
}

func (c *processConn) Read(buf []byte) (int, error) {
	return c.stdout.Read(buf)
}

func (c *processConn) Write(data []byte) (int, error) {
	return c.stdin.Write(data)
}

// Close closes stdin, kills the process and reaps it.
func (c *processConn) Close() error {
	err := net.ErrClosed
	c.closeonce.Do(func() {
		err = c.stdin.Close()
		c.cmd.Process.Kill()
		c.cmd.Wait()
		err = multierr.Append(err, c.stdout.Close())
	})
	return err
}

func (c *processConn) LocalAddr() net.Addr  { return stdioAddr("self") }
func (c *processConn) RemoteAddr() net.Addr { return c.name }

func (c *processConn) SetDeadline(t time.Time) error {
	return multierr.Combine(c.stdout.SetReadDeadline(t), c.stdin.SetWriteDeadline(t))
}

func (c *processConn) SetReadDeadline(t time.Time) error {
	return c.stdout.SetReadDeadline(t)
}

func (c *processConn) SetWriteDeadline(t time.Time) error {
	return c.stdin.SetWriteDeadline(t)
}

type readResult struct {
	data []byte
	err  error
}

// selfConn uses the streams of the current process.
//
// A pump goroutine reads the input so that Close can interrupt a pending
// Read even when the input does not support deadlines. The pump exits on
// the first read after Close. Read must not be called concurrently.
type selfConn struct {
	closeonce sync.Once
	done      chan struct{}
	head      []byte
	in        io.Reader
	out       io.Writer
	results   chan readResult
	startonce sync.Once
}

var _ net.Conn = &selfConn{}

func newSelfConn(in io.Reader, out io.Writer) *selfConn {
	return &selfConn{
		done:    make(chan struct{}),
		in:      in,
		out:     out,
		results: make(chan readResult),
	}
}

func (c *selfConn) pump() {
	for {
		buf := make([]byte, 4096)
		count, err := c.in.Read(buf)
		select {
		case c.results <- readResult{buf[:count], err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *selfConn) Read(buf []byte) (int, error) {
	c.startonce.Do(func() {
		go c.pump()
	})
	for len(c.head) == 0 {
		select {
		case res := <-c.results:
			c.head = res.data
			if len(c.head) == 0 && res.err != nil {
				return 0, res.err
			}
		case <-c.done:
			return 0, net.ErrClosed
		}
	}
	count := copy(buf, c.head)
	c.head = c.head[count:]
	return count, nil
}

func (c *selfConn) Write(data []byte) (int, error) {
	select {
	case <-c.done:
		return 0, net.ErrClosed
	default:
		return c.out.Write(data)
	}
}

// Close stops reading. The process streams stay open.
func (c *selfConn) Close() error {
	err := net.ErrClosed
	c.closeonce.Do(func() {
		close(c.done)
		err = nil
	})
	return err
}

func (c *selfConn) LocalAddr() net.Addr  { return stdioAddr("self") }
func (c *selfConn) RemoteAddr() net.Addr { return stdioAddr("self") }

func (c *selfConn) SetDeadline(t time.Time) error      { return nil }
func (c *selfConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *selfConn) SetWriteDeadline(t time.Time) error { return nil }

// stdioEndpoint is the state of a stdio endpoint.
type stdioEndpoint struct {
	argv           []string
	self           bool
	stderrToStdout bool

	// mu protects proc.
	mu   sync.Mutex
	proc *processConn
}

// strToStdioEndpoint creates "stdio,<program and arguments>" or
// "stdio(self)" endpoints.
//
// Arguments: self, stderr-to-stdout[=bool], readbuf=<size>.
func strToStdioEndpoint(cfg *Config, str string, args []string, cb EventHandler) (*Endpoint, error) {
	s := &stdioEndpoint{}
	readbuf := uint64(cfg.ReadBufferSize)
	for _, arg := range args {
		if found, err := CheckKeyBool(arg, "self", &s.self); found {
			if err != nil {
				return nil, err
			}
			continue
		}
		if found, err := CheckKeyBool(arg, "stderr-to-stdout", &s.stderrToStdout); found {
			if err != nil {
				return nil, err
			}
			continue
		}
		if found, err := CheckKeyDS(arg, "readbuf", &readbuf); found {
			if err != nil || readbuf == 0 {
				return nil, ErrInvalid
			}
			continue
		}
		return nil, ErrInvalid
	}

	if !s.self {
		argv, err := StrToArgv(str, descriptorSpace)
		if err != nil {
			return nil, err
		}
		if len(argv) == 0 {
			return nil, ErrInvalid
		}
		s.argv = argv
	}

	ce := newConnEndpoint(cfg)
	ce.readbuf = int(readbuf)
	io := NewEndpoint(cfg, cb, ce, nil, "stdio", s)
	io.SetIsClient(true)
	io.SetIsReliable(true)
	ce.opener = Compose3[Unit, net.Conn, net.Conn, net.Conn](
		FuncAdapter[Unit, net.Conn](func(ctx context.Context, _ Unit) (net.Conn, error) {
			return s.start(ctx, cfg)
		}),
		NewCancelWatchFunc(),
		NewObserveConnFunc(cfg, ce.logger, io.ID()),
	)
	ce.remoteID = s.remoteID
	ce.remoteAddrString = func(conn net.Conn) (string, error) {
		return conn.RemoteAddr().String(), nil
	}
	return io, nil
}

func (s *stdioEndpoint) start(ctx context.Context, cfg *Config) (net.Conn, error) {
	if s.self {
		return newSelfConn(cfg.Stdin, cfg.Stdout), nil
	}
	proc, err := startProcess(ctx, s.argv, s.stderrToStdout)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()
	return proc, nil
}

// remoteID returns the process ID of the subprocess.
func (s *stdioEndpoint) remoteID() (int, error) {
	if s.self {
		return os.Getpid(), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0, ErrNotReady
	}
	return s.proc.cmd.Process.Pid, nil
}

// stdioAccepter hands out a single connection over the process streams.
type stdioAccepter struct {
	UnsupportedAccepterOps
	cfg *Config

	// mu protects the fields below.
	mu       sync.Mutex
	cond     *sync.Cond
	enabled  bool
	running  bool
	shutdown bool
	wg       sync.WaitGroup
}

func strToStdioAccepter(cfg *Config, str string, args []string, cb AccepterEventHandler) (*Accepter, error) {
	if str != "" {
		return nil, ErrInvalid
	}
	return stdioAccepterAlloc(cfg, args, cb)
}

func stdioAccepterAlloc(cfg *Config, args []string, cb AccepterEventHandler) (*Accepter, error) {
	if len(args) > 0 {
		return nil, ErrInvalid
	}
	sa := &stdioAccepter{cfg: cfg}
	sa.cond = sync.NewCond(&sa.mu)
	acc := NewAccepter(cfg, cb, sa, nil, "stdio", sa)
	acc.SetIsReliable(true)
	return acc, nil
}

func (sa *stdioAccepter) Startup(acc *Accepter) error {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	if sa.running {
		return ErrInUse
	}
	sa.running = true
	sa.shutdown = false
	sa.enabled = true
	sa.wg.Add(1)
	go sa.deliver(acc)
	return nil
}

func (sa *stdioAccepter) deliver(acc *Accepter) {
	defer sa.wg.Done()
	sa.mu.Lock()
	for !sa.enabled && !sa.shutdown {
		sa.cond.Wait()
	}
	stop := sa.shutdown
	sa.mu.Unlock()
	if stop {
		return
	}

	io, _ := newOpenConnEndpoint(sa.cfg, nil, newSelfConn(sa.cfg.Stdin, sa.cfg.Stdout), "stdio")
	io.SetIsReliable(true)
	if err := acc.Deliver(AccEventNewConnection, io); err != nil {
		acc.Log(LogWarning, "stdio connection refused: %s", err.Error())
		io.Free()
	}
}

func (sa *stdioAccepter) stop() {
	sa.shutdown = true
	sa.running = false
	sa.cond.Broadcast()
}

func (sa *stdioAccepter) Shutdown(acc *Accepter, done AccepterDoneFunc) error {
	sa.mu.Lock()
	if !sa.running {
		sa.mu.Unlock()
		return ErrNotReady
	}
	sa.stop()
	sa.mu.Unlock()
	go func() {
		sa.wg.Wait()
		if done != nil {
			done(acc)
		}
	}()
	return nil
}

func (sa *stdioAccepter) SetAcceptCallbackEnable(acc *Accepter, enabled bool, done AccepterDoneFunc) error {
	sa.mu.Lock()
	sa.enabled = enabled
	sa.cond.Broadcast()
	sa.mu.Unlock()
	if done != nil {
		go done(acc)
	}
	return nil
}

func (sa *stdioAccepter) Disable(acc *Accepter) {
	sa.mu.Lock()
	sa.stop()
	sa.mu.Unlock()
}

func (sa *stdioAccepter) Free(acc *Accepter) {
	sa.mu.Lock()
	sa.stop()
	sa.mu.Unlock()
	sa.wg.Wait()
	acc.FreeData()
}

// StrToEndpoint creates a stdio endpoint running str.
func (sa *stdioAccepter) StrToEndpoint(acc *Accepter, str string, cb EventHandler) (*Endpoint, error) {
	return strToStdioEndpoint(sa.cfg, str, nil, cb)
}
