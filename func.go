// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import "context"

// Func is one stage of a pipeline building or opening endpoints.
//
// Transports build their connection with a chain of stages (dial, watch
// the lifetime context, observe I/O), and applications can chain
// [DescriptorFunc], [FilterFunc] and [OpenFunc] the same way.
//
// A stage receiving a resource it fails to pass on must release it before
// returning the error, so that a failed pipeline leaks nothing. See
// [TLSHandshakeFunc] and [FilterFunc].
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}

// FuncAdapter turns a function into a [Func].
type FuncAdapter[A, B any] func(ctx context.Context, input A) (B, error)

// Call implements [Func].
func (f FuncAdapter[A, B]) Call(ctx context.Context, input A) (B, error) {
	return f(ctx, input)
}

// Unit is the input of a stage that needs none, such as the first stage
// of a pipeline.
type Unit struct{}
