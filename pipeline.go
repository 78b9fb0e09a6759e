// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import "context"

// NewDescriptorFunc returns a [*DescriptorFunc] building endpoints from
// the given descriptor.
func NewDescriptorFunc(cfg *Config, descriptor string, cb EventHandler) *DescriptorFunc {
	return &DescriptorFunc{Config: cfg, Descriptor: descriptor, Handler: cb}
}

// DescriptorFunc creates a closed endpoint chain with [StrToEndpoint].
//
// It is usually the first stage of a pipeline such as
//
//	Compose3(NewDescriptorFunc(cfg, "tcp,localhost,2000", nil),
//		NewFilterFunc(cfg, "ssl(CA=/etc/ca.pem)", nil),
//		NewOpenFunc())
type DescriptorFunc struct {
	Config     *Config
	Descriptor string
	Handler    EventHandler
}

var _ Func[Unit, *Endpoint] = &DescriptorFunc{}

// Call implements [Func].
func (op *DescriptorFunc) Call(ctx context.Context, _ Unit) (*Endpoint, error) {
	return StrToEndpoint(op.Config, op.Descriptor, op.Handler)
}

// NewFilterFunc returns a [*FilterFunc] stacking the given filter.
func NewFilterFunc(cfg *Config, filter string, cb EventHandler) *FilterFunc {
	return &FilterFunc{Config: cfg, Filter: filter, Handler: cb}
}

// FilterFunc stacks a filter on a closed endpoint with [StrToEndpointChild].
//
// On failure the input endpoint is freed.
type FilterFunc struct {
	Config  *Config
	Filter  string
	Handler EventHandler
}

var _ Func[*Endpoint, *Endpoint] = &FilterFunc{}

// Call implements [Func].
func (op *FilterFunc) Call(ctx context.Context, child *Endpoint) (*Endpoint, error) {
	io, err := StrToEndpointChild(op.Config, child, op.Filter, op.Handler)
	if err != nil {
		child.Free()
		return nil, err
	}
	return io, nil
}

// NewOpenFunc returns a new [*OpenFunc].
func NewOpenFunc() *OpenFunc {
	return &OpenFunc{}
}

// OpenFunc opens an endpoint chain and waits for the open to complete.
//
// The context bounds the wait. On failure the endpoint is freed.
type OpenFunc struct{}

var _ Func[*Endpoint, *Endpoint] = &OpenFunc{}

// Call implements [Func].
func (op *OpenFunc) Call(ctx context.Context, io *Endpoint) (*Endpoint, error) {
	if err := io.OpenS(ctx); err != nil {
		io.Free()
		return nil, err
	}
	return io, nil
}
