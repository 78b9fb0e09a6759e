// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/bassosimone/runtimex"
)

// Event identifies an event delivered to an [EventHandler].
type Event int

// Events delivered to an [EventHandler].
const (
	// EventRead delivers received data in buf, or a read error in err.
	// The handler returns the number of bytes it consumed.
	EventRead Event = iota + 1

	// EventWriteReady reports that the endpoint can accept more data.
	EventWriteReady

	// EventNewChannel reports a channel opened by the remote end.
	EventNewChannel

	// EventSendBreak reports a break request from the remote end.
	EventSendBreak

	// EventAuthBegin reports the start of authentication.
	EventAuthBegin

	// EventPrecertVerify is delivered before the peer certificate is verified.
	EventPrecertVerify

	// EventPasswordVerify asks the handler to verify a password.
	EventPasswordVerify

	// EventRequestPassword asks the handler to supply a password.
	EventRequestPassword

	// EventPostcertVerify is delivered after the peer certificate is verified.
	EventPostcertVerify
)

// EventUserBase is the first event number available to transports
// defining their own events.
const EventUserBase Event = 1000

// EventHandler receives the events of an [*Endpoint].
//
// The handler may call back into the endpoint, for example to write from
// inside an [EventRead] event. It must not free the endpoint.
type EventHandler interface {
	HandleEvent(io *Endpoint, event Event, err error, buf []byte, auxdata []string) (int, error)
}

// EventHandlerFunc adapts a function to the [EventHandler] interface.
type EventHandlerFunc func(io *Endpoint, event Event, err error, buf []byte, auxdata []string) (int, error)

var _ EventHandler = EventHandlerFunc(nil)

// HandleEvent implements [EventHandler].
func (f EventHandlerFunc) HandleEvent(io *Endpoint, event Event, err error, buf []byte, auxdata []string) (int, error) {
	return f(io, event, err, buf, auxdata)
}

// OpenDoneFunc reports the completion of an asynchronous open.
type OpenDoneFunc func(io *Endpoint, err error)

// CloseDoneFunc reports the completion of an asynchronous close.
type CloseDoneFunc func(io *Endpoint)

// ControlOption selects a control operation.
type ControlOption uint

// Control operations understood by the built-in transports.
const (
	// ControlNoDelay gets or sets TCP_NODELAY ("0" or "1").
	ControlNoDelay ControlOption = iota + 1

	// ControlLaddr gets the local address.
	ControlLaddr

	// ControlRaddr gets the remote address.
	ControlRaddr

	// ControlLPort gets the local port of a listener.
	ControlLPort

	// ControlRemoteID gets the remote identifier (e.g. a process ID).
	ControlRemoteID

	// ControlGetPeerCertName gets the common name of the peer certificate.
	ControlGetPeerCertName
)

// Control depth selectors. Non-negative depths address one layer.
const (
	// ControlDepthAll applies a set operation to every layer.
	ControlDepthAll = -1

	// ControlDepthFirst applies to the first layer supporting the option.
	ControlDepthFirst = -2
)

// EndpointOps is the per-type implementation behind an [*Endpoint].
//
// Implementations must never deliver events synchronously from these
// methods: events are delivered later, through [*Endpoint.Deliver].
// Embed [UnsupportedEndpointOps] to inherit not-supported defaults.
type EndpointOps interface {
	WriteSG(io *Endpoint, sg [][]byte, auxdata []string) (int, error)
	RemoteAddrString(io *Endpoint) (string, error)
	RemoteAddr(io *Endpoint) (net.Addr, error)
	RemoteID(io *Endpoint) (int, error)
	Open(io *Endpoint, done OpenDoneFunc) error
	OpenNoChild(io *Endpoint, done OpenDoneFunc) error
	Close(io *Endpoint, done CloseDoneFunc) error
	Free(io *Endpoint)
	Ref(io *Endpoint)
	Disable(io *Endpoint)
	SetReadCallbackEnable(io *Endpoint, enabled bool)
	SetWriteCallbackEnable(io *Endpoint, enabled bool)
	Control(io *Endpoint, get bool, option ControlOption, data []byte) ([]byte, error)
	OpenChannel(io *Endpoint, args []string, cb EventHandler, done OpenDoneFunc) (*Endpoint, error)
}

// UnsupportedEndpointOps implements [EndpointOps] returning
// [ErrNotSupported] everywhere. Free releases the endpoint data.
type UnsupportedEndpointOps struct{}

var _ EndpointOps = UnsupportedEndpointOps{}

func (UnsupportedEndpointOps) WriteSG(io *Endpoint, sg [][]byte, auxdata []string) (int, error) {
	return 0, ErrNotSupported
}

func (UnsupportedEndpointOps) RemoteAddrString(io *Endpoint) (string, error) {
	return "", ErrNotSupported
}

func (UnsupportedEndpointOps) RemoteAddr(io *Endpoint) (net.Addr, error) {
	return nil, ErrNotSupported
}

func (UnsupportedEndpointOps) RemoteID(io *Endpoint) (int, error) {
	return 0, ErrNotSupported
}

func (UnsupportedEndpointOps) Open(io *Endpoint, done OpenDoneFunc) error {
	return ErrNotSupported
}

func (UnsupportedEndpointOps) OpenNoChild(io *Endpoint, done OpenDoneFunc) error {
	return ErrNotSupported
}

func (UnsupportedEndpointOps) Close(io *Endpoint, done CloseDoneFunc) error {
	return ErrNotSupported
}

func (UnsupportedEndpointOps) Free(io *Endpoint) {
	io.FreeData()
}

func (UnsupportedEndpointOps) Ref(io *Endpoint) {}

func (UnsupportedEndpointOps) Disable(io *Endpoint) {}

func (UnsupportedEndpointOps) SetReadCallbackEnable(io *Endpoint, enabled bool) {}

func (UnsupportedEndpointOps) SetWriteCallbackEnable(io *Endpoint, enabled bool) {}

func (UnsupportedEndpointOps) Control(io *Endpoint, get bool, option ControlOption, data []byte) ([]byte, error) {
	return nil, ErrNotSupported
}

func (UnsupportedEndpointOps) OpenChannel(
	io *Endpoint, args []string, cb EventHandler, done OpenDoneFunc) (*Endpoint, error) {
	return nil, ErrNotSupported
}

// endpointFlags are the capability flags of an [*Endpoint] or [*Accepter].
type endpointFlags uint8

const (
	flagClient endpointFlags = 1 << iota
	flagPacket
	flagReliable
	flagAuthenticated
	flagEncrypted
	flagMessage
)

// Endpoint is one layer of a chain of bidirectional I/O handles.
//
// Endpoints are created by transports through [NewEndpoint], or by parsing
// a descriptor with [StrToEndpoint]. An endpoint owns its child: freeing the
// endpoint tears down the whole chain below it.
type Endpoint struct {
	cfg      *Config
	child    *Endpoint
	classes  classData
	data     any
	id       string
	ops      EndpointOps
	typeName string

	// mu protects the fields below.
	mu       sync.Mutex
	cbCount  int
	flags    endpointFlags
	handler  EventHandler
	syncio   *syncIO
	userData any
	waiters  list[*idleWaiter]

	// pending links the endpoint into the pending list of an accepter.
	pending *link[*Endpoint]
}

type idleWaiter struct {
	queued bool
	waiter *waiter
}

// NewEndpoint allocates an [*Endpoint].
//
// The cfg argument is the service handle. The cb argument is the handler
// receiving events and may be nil. The ops argument implements the type
// specific behavior and data is its private state. The child argument is
// the wrapped endpoint, nil for a transport. The typeName argument names
// the type, e.g. "tcp".
func NewEndpoint(cfg *Config, cb EventHandler, ops EndpointOps,
	child *Endpoint, typeName string, data any) *Endpoint {
	runtimex.Assert(cfg != nil && ops != nil)
	return &Endpoint{
		cfg:      cfg,
		child:    child,
		data:     data,
		handler:  cb,
		id:       NewSpanID(),
		ops:      ops,
		typeName: typeName,
	}
}

// FreeData releases the generic state of the endpoint.
//
// Transports call this from their Free operation. It panics if some party
// is still waiting for the endpoint to become quiescent.
func (io *Endpoint) FreeData() {
	io.mu.Lock()
	runtimex.Assert(io.waiters.empty())
	io.handler = nil
	io.syncio = nil
	io.mu.Unlock()
	io.classes.clear()
}

// Config returns the service handle.
func (io *Endpoint) Config() *Config {
	return io.cfg
}

// Data returns the private state passed to [NewEndpoint].
func (io *Endpoint) Data() any {
	return io.data
}

// ID returns the span ID used to correlate the events logged for io.
func (io *Endpoint) ID() string {
	return io.id
}

// SetCallback replaces the handler and the user data.
func (io *Endpoint) SetCallback(cb EventHandler, userData any) {
	io.mu.Lock()
	io.handler = cb
	io.userData = userData
	io.mu.Unlock()
}

// Callback returns the current handler.
func (io *Endpoint) Callback() EventHandler {
	io.mu.Lock()
	defer io.mu.Unlock()
	return io.handler
}

// UserData returns the user data.
func (io *Endpoint) UserData() any {
	io.mu.Lock()
	defer io.mu.Unlock()
	return io.userData
}

// SetUserData replaces the user data.
func (io *Endpoint) SetUserData(userData any) {
	io.mu.Lock()
	io.userData = userData
	io.mu.Unlock()
}

// AddClass attaches named extension data. A newer value shadows an older
// one with the same name.
func (io *Endpoint) AddClass(name string, data any) {
	io.classes.add(name, data)
}

// Class returns the extension data attached under name.
func (io *Endpoint) Class(name string) (any, bool) {
	return io.classes.lookup(name)
}

// Deliver invokes the handler with an event.
//
// The handler runs outside the endpoint lock and deliveries may overlap.
// The number of deliveries in flight is tracked so that [*Endpoint.WaitNoCallback]
// can wait for quiescence. Without a handler Deliver returns [ErrNotSupported].
func (io *Endpoint) Deliver(event Event, err error, buf []byte, auxdata []string) (int, error) {
	io.mu.Lock()
	handler := io.handler
	if handler == nil {
		io.mu.Unlock()
		return 0, ErrNotSupported
	}
	io.cbCount++
	io.mu.Unlock()

	count, rerr := handler.HandleEvent(io, event, err, buf, auxdata)

	io.mu.Lock()
	runtimex.Assert(io.cbCount > 0)
	io.cbCount--
	if io.cbCount == 0 {
		for {
			w, ok := io.waiters.popFront()
			if !ok {
				break
			}
			w.queued = false
			w.waiter.wake()
		}
	}
	io.mu.Unlock()
	return count, rerr
}

// WaitNoCallback blocks until no delivery is in flight.
//
// It returns [ErrTimedOut] or [ErrInterrupted] when ctx is done first.
// Calling it from the endpoint's own handler deadlocks.
func (io *Endpoint) WaitNoCallback(ctx context.Context) error {
	io.mu.Lock()
	if io.cbCount == 0 {
		io.mu.Unlock()
		return nil
	}
	w := &idleWaiter{queued: true, waiter: newWaiter()}
	e := io.waiters.pushBack(w)
	io.mu.Unlock()

	err := w.waiter.wait(ctx)

	io.mu.Lock()
	defer io.mu.Unlock()
	if !w.queued {
		return nil
	}
	io.waiters.remove(e)
	return err
}

// Write sends buf. A zero-length write returns immediately.
//
// Write never blocks: it returns the number of bytes accepted, which may be
// less than len(buf). Use [EventWriteReady] to learn when to retry.
func (io *Endpoint) Write(buf []byte, auxdata []string) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	return io.ops.WriteSG(io, [][]byte{buf}, auxdata)
}

// WriteSG sends a scatter-gather list of buffers.
func (io *Endpoint) WriteSG(sg [][]byte, auxdata []string) (int, error) {
	return io.ops.WriteSG(io, sg, auxdata)
}

// RemoteAddrString returns the remote address in descriptor form.
func (io *Endpoint) RemoteAddrString() (string, error) {
	return io.ops.RemoteAddrString(io)
}

// RemoteAddr returns the remote address.
func (io *Endpoint) RemoteAddr() (net.Addr, error) {
	return io.ops.RemoteAddr(io)
}

// RemoteID returns a transport specific remote identifier.
func (io *Endpoint) RemoteID() (int, error) {
	return io.ops.RemoteID(io)
}

// Open starts opening the whole chain. The done callback fires once.
func (io *Endpoint) Open(done OpenDoneFunc) error {
	return io.ops.Open(io, done)
}

// OpenNoChild opens this layer assuming the child is already open.
func (io *Endpoint) OpenNoChild(done OpenDoneFunc) error {
	return io.ops.OpenNoChild(io, done)
}

// OpenS opens the chain and blocks until the open completes.
func (io *Endpoint) OpenS(ctx context.Context) error {
	return waitCompletion(ctx, func(complete func(error)) error {
		return io.Open(func(_ *Endpoint, err error) {
			complete(err)
		})
	})
}

// OpenNoChildS is the blocking version of [*Endpoint.OpenNoChild].
func (io *Endpoint) OpenNoChildS(ctx context.Context) error {
	return waitCompletion(ctx, func(complete func(error)) error {
		return io.OpenNoChild(func(_ *Endpoint, err error) {
			complete(err)
		})
	})
}

// OpenChannel opens a secondary endpoint sharing the connection of io.
func (io *Endpoint) OpenChannel(args []string, cb EventHandler, done OpenDoneFunc) (*Endpoint, error) {
	return io.ops.OpenChannel(io, args, cb, done)
}

// OpenChannelS opens a channel and blocks until it is open. On failure
// the channel is freed.
func (io *Endpoint) OpenChannelS(ctx context.Context, args []string, cb EventHandler) (*Endpoint, error) {
	var channel *Endpoint
	err := waitCompletion(ctx, func(complete func(error)) error {
		var err error
		channel, err = io.OpenChannel(args, cb, func(_ *Endpoint, err error) {
			complete(err)
		})
		return err
	})
	if err != nil {
		if channel != nil {
			channel.Free()
		}
		return nil, err
	}
	return channel, nil
}

// Close starts closing the chain. The done callback fires once.
func (io *Endpoint) Close(done CloseDoneFunc) error {
	return io.ops.Close(io, done)
}

// CloseS closes the chain and blocks until the close completes.
func (io *Endpoint) CloseS(ctx context.Context) error {
	return waitCompletion(ctx, func(complete func(error)) error {
		return io.Close(func(*Endpoint) {
			complete(nil)
		})
	})
}

// Disable tells every layer to drop its state without performing I/O.
//
// Use it after a fork or when the underlying connection is known to be
// dead. The endpoint must still be freed.
func (io *Endpoint) Disable() {
	for layer := io; layer != nil; layer = layer.child {
		layer.ops.Disable(layer)
	}
}

// Free releases the endpoint and its chain.
//
// Free must not be called from the endpoint's own handler.
func (io *Endpoint) Free() {
	io.ops.Free(io)
}

// Ref takes an additional reference, released by [*Endpoint.Free].
func (io *Endpoint) Ref() {
	io.ops.Ref(io)
}

// SetReadCallbackEnable enables or disables [EventRead] delivery.
func (io *Endpoint) SetReadCallbackEnable(enabled bool) {
	io.ops.SetReadCallbackEnable(io, enabled)
}

// SetWriteCallbackEnable enables or disables [EventWriteReady] delivery.
func (io *Endpoint) SetWriteCallbackEnable(enabled bool) {
	io.ops.SetWriteCallbackEnable(io, enabled)
}

// Control performs a control operation on one or more layers.
//
// With [ControlDepthAll] a set operation runs on every layer, layers not
// supporting the option are skipped and the first other error stops the
// walk. Get operations are invalid at this depth. With [ControlDepthFirst]
// the result of the first layer supporting the option is returned, or
// [ErrNotSupported] when none does. A non-negative depth addresses the
// layer that many hops down, or fails with [ErrNotFound].
func (io *Endpoint) Control(depth int, get bool, option ControlOption, data []byte) ([]byte, error) {
	switch {
	case depth == ControlDepthAll:
		if get {
			return nil, ErrInvalid
		}
		for layer := io; layer != nil; layer = layer.child {
			_, err := layer.ops.Control(layer, get, option, data)
			if err != nil && !errors.Is(err, ErrNotSupported) {
				return nil, err
			}
		}
		return nil, nil

	case depth == ControlDepthFirst:
		for layer := io; layer != nil; layer = layer.child {
			out, err := layer.ops.Control(layer, get, option, data)
			if !errors.Is(err, ErrNotSupported) {
				return out, err
			}
		}
		return nil, ErrNotSupported

	case depth < 0:
		return nil, ErrInvalid
	}

	layer := io.Child(uint(depth))
	if layer == nil {
		return nil, ErrNotFound
	}
	return layer.ops.Control(layer, get, option, data)
}

// Type returns the type name of the layer depth hops down, or "".
func (io *Endpoint) Type(depth uint) string {
	if layer := io.Child(depth); layer != nil {
		return layer.typeName
	}
	return ""
}

// Child returns the layer depth hops down, or nil. Depth zero is io.
func (io *Endpoint) Child(depth uint) *Endpoint {
	layer := io
	for ; depth > 0 && layer != nil; depth-- {
		layer = layer.child
	}
	return layer
}

func (io *Endpoint) getFlag(flag endpointFlags) bool {
	io.mu.Lock()
	defer io.mu.Unlock()
	return io.flags&flag != 0
}

func (io *Endpoint) setFlag(flag endpointFlags, value bool) {
	io.mu.Lock()
	if value {
		io.flags |= flag
	} else {
		io.flags &^= flag
	}
	io.mu.Unlock()
}

// IsClient reports whether io initiated the connection.
func (io *Endpoint) IsClient() bool { return io.getFlag(flagClient) }

// IsPacket reports whether io preserves message boundaries.
func (io *Endpoint) IsPacket() bool { return io.getFlag(flagPacket) }

// IsReliable reports whether io delivers data reliably and in order.
func (io *Endpoint) IsReliable() bool { return io.getFlag(flagReliable) }

// IsAuthenticated reports whether the remote end was authenticated.
func (io *Endpoint) IsAuthenticated() bool { return io.getFlag(flagAuthenticated) }

// IsEncrypted reports whether the data is encrypted.
func (io *Endpoint) IsEncrypted() bool { return io.getFlag(flagEncrypted) }

// IsMessage reports whether io delivers whole messages.
func (io *Endpoint) IsMessage() bool { return io.getFlag(flagMessage) }

// SetIsClient records whether this layer initiated the connection.
func (io *Endpoint) SetIsClient(value bool) { io.setFlag(flagClient, value) }

// SetIsPacket records whether writes keep message boundaries.
func (io *Endpoint) SetIsPacket(value bool) { io.setFlag(flagPacket, value) }

// SetIsReliable records whether data arrives complete and in order.
func (io *Endpoint) SetIsReliable(value bool) { io.setFlag(flagReliable, value) }

// SetIsAuthenticated records whether the peer has been authenticated.
// Transports set it once open, filters such as ssl after the handshake.
func (io *Endpoint) SetIsAuthenticated(value bool) { io.setFlag(flagAuthenticated, value) }

// SetIsEncrypted records whether this layer encrypts the data.
func (io *Endpoint) SetIsEncrypted(value bool) { io.setFlag(flagEncrypted, value) }

// SetIsMessage records whether reads return whole messages.
func (io *Endpoint) SetIsMessage(value bool) { io.setFlag(flagMessage, value) }
