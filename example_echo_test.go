// SPDX-License-Identifier: GPL-3.0-or-later

package gensio_test

import (
	"context"
	"fmt"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/gzmorell/gensio"
)

// This example shows how to create an echo endpoint from a descriptor
// and use it in blocking mode.
func Example_echo() {
	// Bound the whole example. Blocking calls return ErrTimedOut once
	// the context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := gensio.NewConfig()

	// Descriptors describe the whole stack. The endpoint starts closed.
	io := runtimex.PanicOnError1(gensio.StrToEndpoint(cfg, "echo", nil))
	defer io.Free()
	runtimex.Assert(io.OpenS(ctx) == nil)

	// Switch to blocking mode so we can use ReadS and WriteS.
	runtimex.Assert(io.SetSync() == nil)
	runtimex.PanicOnError1(io.WriteS(ctx, []byte("hello, world")))

	buf := make([]byte, 64)
	count := runtimex.PanicOnError1(io.ReadS(ctx, buf))
	fmt.Printf("%s: %s\n", io.Type(0), buf[:count])

	runtimex.Assert(io.ClearSync() == nil)
	runtimex.Assert(io.CloseS(ctx) == nil)

	// Output:
	// echo: hello, world
}

// This example shows how to compose endpoint creation and opening into
// a single pipeline.
func Example_pipeline() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := gensio.NewConfig()
	pipeline := gensio.Compose2[gensio.Unit, *gensio.Endpoint, *gensio.Endpoint](
		gensio.NewDescriptorFunc(cfg, "echo(readbuf=4)", nil),
		gensio.NewOpenFunc(),
	)
	io := runtimex.PanicOnError1(pipeline.Call(ctx, gensio.Unit{}))
	defer io.Free()

	fmt.Println(io.Type(0), io.IsReliable(), io.IsEncrypted())

	// Output:
	// echo true false
}
