// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bassosimone/runtimex"
)

// AccepterEvent identifies an event delivered to an [AccepterEventHandler].
type AccepterEvent int

// Events delivered to an [AccepterEventHandler].
const (
	// AccEventNewConnection delivers a new *Endpoint in data. The handler
	// owns the endpoint when it returns nil.
	AccEventNewConnection AccepterEvent = iota + 1

	// AccEventLog delivers a *LogMessage in data.
	AccEventLog

	// AccEventPrecertVerify is delivered before a peer certificate is verified.
	AccEventPrecertVerify

	// AccEventAuthBegin reports the start of authentication.
	AccEventAuthBegin

	// AccEventPasswordVerify asks the handler to verify a password.
	AccEventPasswordVerify

	// AccEventRequestPassword asks the handler to supply a password.
	AccEventRequestPassword

	// AccEventPostcertVerify is delivered after a peer certificate is verified.
	AccEventPostcertVerify
)

// AccepterEventHandler receives the events of an [*Accepter].
type AccepterEventHandler interface {
	HandleAccepterEvent(acc *Accepter, event AccepterEvent, data any) error
}

// AccepterEventHandlerFunc adapts a function to [AccepterEventHandler].
type AccepterEventHandlerFunc func(acc *Accepter, event AccepterEvent, data any) error

var _ AccepterEventHandler = AccepterEventHandlerFunc(nil)

// HandleAccepterEvent implements [AccepterEventHandler].
func (f AccepterEventHandlerFunc) HandleAccepterEvent(acc *Accepter, event AccepterEvent, data any) error {
	return f(acc, event, data)
}

// AccepterDoneFunc reports the completion of an asynchronous accepter operation.
type AccepterDoneFunc func(acc *Accepter)

// AccepterOps is the per-type implementation behind an [*Accepter].
//
// Embed [UnsupportedAccepterOps] to inherit not-supported defaults.
type AccepterOps interface {
	Startup(acc *Accepter) error
	Shutdown(acc *Accepter, done AccepterDoneFunc) error
	SetAcceptCallbackEnable(acc *Accepter, enabled bool, done AccepterDoneFunc) error
	Free(acc *Accepter)
	Disable(acc *Accepter)
	Control(acc *Accepter, get bool, option ControlOption, data []byte) ([]byte, error)
	StrToEndpoint(acc *Accepter, str string, cb EventHandler) (*Endpoint, error)
}

// UnsupportedAccepterOps implements [AccepterOps] returning
// [ErrNotSupported] everywhere. Free releases the accepter data.
type UnsupportedAccepterOps struct{}

var _ AccepterOps = UnsupportedAccepterOps{}

func (UnsupportedAccepterOps) Startup(acc *Accepter) error {
	return ErrNotSupported
}

func (UnsupportedAccepterOps) Shutdown(acc *Accepter, done AccepterDoneFunc) error {
	return ErrNotSupported
}

func (UnsupportedAccepterOps) SetAcceptCallbackEnable(acc *Accepter, enabled bool, done AccepterDoneFunc) error {
	return ErrNotSupported
}

func (UnsupportedAccepterOps) Free(acc *Accepter) {
	acc.FreeData()
}

func (UnsupportedAccepterOps) Disable(acc *Accepter) {}

func (UnsupportedAccepterOps) Control(acc *Accepter, get bool, option ControlOption, data []byte) ([]byte, error) {
	return nil, ErrNotSupported
}

func (UnsupportedAccepterOps) StrToEndpoint(acc *Accepter, str string, cb EventHandler) (*Endpoint, error) {
	return nil, ErrNotSupported
}

// Accepter produces new [*Endpoint] values for incoming connections.
//
// Endpoints accepted but not yet handed to the application are kept on a
// pending list so that [*Accepter.Disable] can dispose of them.
type Accepter struct {
	cfg      *Config
	child    *Accepter
	classes  classData
	data     any
	id       string
	ops      AccepterOps
	typeName string

	// mu protects the fields below.
	mu       sync.Mutex
	flags    endpointFlags
	handler  AccepterEventHandler
	pending  list[*Endpoint]
	userData any
}

// NewAccepter allocates an [*Accepter]. Arguments mirror [NewEndpoint].
func NewAccepter(cfg *Config, cb AccepterEventHandler, ops AccepterOps,
	child *Accepter, typeName string, data any) *Accepter {
	runtimex.Assert(cfg != nil && ops != nil)
	return &Accepter{
		cfg:      cfg,
		child:    child,
		data:     data,
		handler:  cb,
		id:       NewSpanID(),
		ops:      ops,
		typeName: typeName,
	}
}

// FreeData releases the generic state of the accepter. It panics if
// accepted endpoints are still pending.
func (acc *Accepter) FreeData() {
	acc.mu.Lock()
	runtimex.Assert(acc.pending.empty())
	acc.handler = nil
	acc.mu.Unlock()
	acc.classes.clear()
}

// Config returns the service handle.
func (acc *Accepter) Config() *Config {
	return acc.cfg
}

// Data returns the private state passed to [NewAccepter].
func (acc *Accepter) Data() any {
	return acc.data
}

// ID returns the span ID of the accepter.
func (acc *Accepter) ID() string {
	return acc.id
}

// SetCallback replaces the handler and the user data.
func (acc *Accepter) SetCallback(cb AccepterEventHandler, userData any) {
	acc.mu.Lock()
	acc.handler = cb
	acc.userData = userData
	acc.mu.Unlock()
}

// Callback returns the current handler.
func (acc *Accepter) Callback() AccepterEventHandler {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.handler
}

// UserData returns the user data.
func (acc *Accepter) UserData() any {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.userData
}

// SetUserData replaces the user data.
func (acc *Accepter) SetUserData(userData any) {
	acc.mu.Lock()
	acc.userData = userData
	acc.mu.Unlock()
}

// AddClass attaches named extension data.
func (acc *Accepter) AddClass(name string, data any) {
	acc.classes.add(name, data)
}

// Class returns the extension data attached under name.
func (acc *Accepter) Class(name string) (any, bool) {
	return acc.classes.lookup(name)
}

// Deliver invokes the handler. Without a handler it returns [ErrNotSupported].
func (acc *Accepter) Deliver(event AccepterEvent, data any) error {
	handler := acc.Callback()
	if handler == nil {
		return ErrNotSupported
	}
	return handler.HandleAccepterEvent(acc, event, data)
}

// Log reports a message through an [AccEventLog] event. When the handler
// does not take log events the message goes to the configured logger.
// Nothing is formatted for a disabled level.
func (acc *Accepter) Log(level LogLevel, format string, args ...any) {
	if !LogEnabled(level) {
		return
	}
	info := &LogMessage{Level: level, Message: fmt.Sprintf(format, args...)}
	if err := acc.Deliver(AccEventLog, info); errors.Is(err, ErrNotSupported) {
		acc.cfg.Log(level, info.Message, "spanID", acc.id, "type", acc.typeName)
	}
}

// AddPending records an accepted endpoint not yet claimed by the application.
func (acc *Accepter) AddPending(io *Endpoint) {
	acc.mu.Lock()
	io.pending = acc.pending.pushBack(io)
	acc.mu.Unlock()
}

// RemovePending removes io from the pending list and reports whether it
// was there. A false result means a disable already disposed of io.
func (acc *Accepter) RemovePending(io *Endpoint) bool {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	removed := acc.pending.remove(io.pending)
	if removed {
		io.pending = nil
	}
	return removed
}

// popPending removes and returns the oldest pending endpoint.
func (acc *Accepter) popPending() *Endpoint {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	io, ok := acc.pending.popFront()
	if !ok {
		return nil
	}
	io.pending = nil
	return io
}

// Startup starts listening.
func (acc *Accepter) Startup() error {
	return acc.ops.Startup(acc)
}

// Shutdown stops listening. The done callback fires once.
func (acc *Accepter) Shutdown(done AccepterDoneFunc) error {
	return acc.ops.Shutdown(acc, done)
}

// ShutdownS stops listening and blocks until shutdown completes.
func (acc *Accepter) ShutdownS(ctx context.Context) error {
	return waitCompletion(ctx, func(complete func(error)) error {
		return acc.Shutdown(func(*Accepter) {
			complete(nil)
		})
	})
}

// SetAcceptCallbackEnable enables or disables [AccEventNewConnection] delivery.
func (acc *Accepter) SetAcceptCallbackEnable(enabled bool) error {
	return acc.ops.SetAcceptCallbackEnable(acc, enabled, nil)
}

// SetAcceptCallbackEnableCB is like [*Accepter.SetAcceptCallbackEnable]
// and calls done once the change took effect.
func (acc *Accepter) SetAcceptCallbackEnableCB(enabled bool, done AccepterDoneFunc) error {
	return acc.ops.SetAcceptCallbackEnable(acc, enabled, done)
}

// SetAcceptCallbackEnableS blocks until the change took effect.
func (acc *Accepter) SetAcceptCallbackEnableS(ctx context.Context, enabled bool) error {
	return waitCompletion(ctx, func(complete func(error)) error {
		return acc.SetAcceptCallbackEnableCB(enabled, func(*Accepter) {
			complete(nil)
		})
	})
}

// Free releases the accepter and its chain.
func (acc *Accepter) Free() {
	acc.ops.Free(acc)
}

// Disable forcibly shuts down every layer without I/O.
//
// At each layer the pending endpoints are disabled and freed before the
// layer itself is disabled, so no accepted but unclaimed connection
// survives. The accepter must still be freed.
func (acc *Accepter) Disable() {
	for layer := acc; layer != nil; layer = layer.child {
		layer.freePending(true)
		layer.ops.Disable(layer)
	}
}

// freePending frees every pending endpoint, disabling it first if asked.
func (acc *Accepter) freePending(disable bool) {
	for {
		io := acc.popPending()
		if io == nil {
			return
		}
		if disable {
			io.Disable()
		}
		io.Free()
	}
}

// Control performs a control operation with the depth rules of
// [*Endpoint.Control].
func (acc *Accepter) Control(depth int, get bool, option ControlOption, data []byte) ([]byte, error) {
	switch {
	case depth == ControlDepthAll:
		if get {
			return nil, ErrInvalid
		}
		for layer := acc; layer != nil; layer = layer.child {
			_, err := layer.ops.Control(layer, get, option, data)
			if err != nil && !errors.Is(err, ErrNotSupported) {
				return nil, err
			}
		}
		return nil, nil

	case depth == ControlDepthFirst:
		for layer := acc; layer != nil; layer = layer.child {
			out, err := layer.ops.Control(layer, get, option, data)
			if !errors.Is(err, ErrNotSupported) {
				return out, err
			}
		}
		return nil, ErrNotSupported

	case depth < 0:
		return nil, ErrInvalid
	}

	layer := acc.Child(uint(depth))
	if layer == nil {
		return nil, ErrNotFound
	}
	return layer.ops.Control(layer, get, option, data)
}

// Type returns the type name of the layer depth hops down, or "".
func (acc *Accepter) Type(depth uint) string {
	if layer := acc.Child(depth); layer != nil {
		return layer.typeName
	}
	return ""
}

// Child returns the layer depth hops down, or nil.
func (acc *Accepter) Child(depth uint) *Accepter {
	layer := acc
	for ; depth > 0 && layer != nil; depth-- {
		layer = layer.child
	}
	return layer
}

// ExitOnClose reports whether the process should exit once the accepted
// connection closes, which is the case for the stdio accepter.
func (acc *Accepter) ExitOnClose() bool {
	return acc.typeName == "stdio"
}

// StrToEndpoint creates a client endpoint matching the accepter type.
func (acc *Accepter) StrToEndpoint(str string, cb EventHandler) (*Endpoint, error) {
	return acc.ops.StrToEndpoint(acc, str, cb)
}

func (acc *Accepter) getFlag(flag endpointFlags) bool {
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.flags&flag != 0
}

func (acc *Accepter) setFlag(flag endpointFlags, value bool) {
	acc.mu.Lock()
	if value {
		acc.flags |= flag
	} else {
		acc.flags &^= flag
	}
	acc.mu.Unlock()
}

// IsPacket reports whether accepted endpoints preserve message boundaries.
func (acc *Accepter) IsPacket() bool { return acc.getFlag(flagPacket) }

// IsReliable reports whether accepted endpoints are reliable.
func (acc *Accepter) IsReliable() bool { return acc.getFlag(flagReliable) }

// IsMessage reports whether accepted endpoints deliver whole messages.
func (acc *Accepter) IsMessage() bool { return acc.getFlag(flagMessage) }

// SetIsPacket records whether accepted endpoints keep message boundaries.
func (acc *Accepter) SetIsPacket(value bool) { acc.setFlag(flagPacket, value) }

// SetIsReliable records whether accepted endpoints are reliable.
func (acc *Accepter) SetIsReliable(value bool) { acc.setFlag(flagReliable, value) }

// SetIsMessage records whether accepted endpoints read whole messages.
func (acc *Accepter) SetIsMessage(value bool) { acc.setFlag(flagMessage, value) }
