// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/eapache/queue"
)

// echoAddr is the address of both ends of an echo connection.
type echoAddr struct{}

func (echoAddr) Network() string { return "echo" }
func (echoAddr) String() string  { return "echo" }

// echoConn is a loopback connection: reads return what was written.
//
// Written chunks are queued as they are. Writers block while readbuf
// bytes are queued and not yet read.
type echoConn struct {
	readbuf int

	// mu protects the fields below.
	mu       sync.Mutex
	cond     *sync.Cond
	buffered int
	chunks   *queue.Queue
	closed   bool
	head     []byte
}

var _ net.Conn = &echoConn{}

func newEchoConn(readbuf int) *echoConn {
	c := &echoConn{chunks: queue.New(), readbuf: readbuf}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Read returns queued data, splitting a chunk larger than buf. After
// Close it returns [io.EOF].
func (c *echoConn) Read(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.head) == 0 && c.chunks.Length() == 0 && !c.closed {
		c.cond.Wait()
	}
	if c.closed {
		return 0, io.EOF
	}
	if len(c.head) == 0 {
		c.head = c.chunks.Remove().([]byte)
	}
	count := copy(buf, c.head)
	c.head = c.head[count:]
	c.buffered -= count
	c.cond.Broadcast()
	return count, nil
}

// Write queues a copy of data.
func (c *echoConn) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	written := 0
	for written < len(data) {
		for c.buffered >= c.readbuf && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			return written, net.ErrClosed
		}
		size := min(len(data)-written, c.readbuf-c.buffered)
		chunk := make([]byte, size)
		copy(chunk, data[written:])
		c.chunks.Add(chunk)
		c.buffered += size
		written += size
		c.cond.Broadcast()
	}
	return written, nil
}

func (c *echoConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	c.closed = true
	c.cond.Broadcast()
	return nil
}

func (c *echoConn) LocalAddr() net.Addr  { return echoAddr{} }
func (c *echoConn) RemoteAddr() net.Addr { return echoAddr{} }

// Deadlines are not supported: closing is the only way to interrupt I/O.
func (c *echoConn) SetDeadline(t time.Time) error      { return nil }
func (c *echoConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *echoConn) SetWriteDeadline(t time.Time) error { return nil }

// strToEchoEndpoint creates an endpoint echoing back what it is sent.
//
// Arguments: readbuf=<size>, the number of bytes held before writers block.
func strToEchoEndpoint(cfg *Config, str string, args []string, cb EventHandler) (*Endpoint, error) {
	if str != "" {
		return nil, ErrInvalid
	}
	readbuf := uint64(cfg.ReadBufferSize)
	for _, arg := range args {
		if found, err := CheckKeyDS(arg, "readbuf", &readbuf); found {
			if err != nil || readbuf == 0 {
				return nil, ErrInvalid
			}
			continue
		}
		return nil, ErrInvalid
	}

	ce := newConnEndpoint(cfg)
	io := NewEndpoint(cfg, cb, ce, nil, "echo", nil)
	io.SetIsClient(true)
	io.SetIsReliable(true)
	ce.opener = Compose3[Unit, net.Conn, net.Conn, net.Conn](
		FuncAdapter[Unit, net.Conn](func(ctx context.Context, _ Unit) (net.Conn, error) {
			return newEchoConn(int(readbuf)), nil
		}),
		NewCancelWatchFunc(),
		NewObserveConnFunc(cfg, ce.logger, io.ID()),
	)
	ce.remoteAddrString = func(conn net.Conn) (string, error) {
		return "echo", nil
	}
	return io, nil
}
