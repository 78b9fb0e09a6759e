// SPDX-License-Identifier: GPL-3.0-or-later

// Package gensio provides stackable, event driven network endpoints.
//
// # Core Abstraction
//
// An [*Endpoint] is one layer of a connection stack. A transport such as
// tcp sits at the bottom and filters such as ssl stack on top of it, each
// layer owning the one below. Every layer is driven through the same
// operations: open, close, write, control and the read and write-ready
// events delivered to its [EventHandler].
//
// An [*Accepter] is the server side counterpart. It listens and delivers
// each new connection as an open [*Endpoint] through [AccEventNewConnection].
//
// # Descriptors
//
// Stacks are created from textual descriptors:
//
//	ssl(CA=/etc/ca.pem),tcp,localhost,2000
//
// Each element names a type with optional arguments between parentheses,
// followed by a comma and the rest of the stack. [StrToEndpoint] and
// [StrToAccepter] look the type up in the [Config.Registry], falling
// back to plain network addresses ("localhost,2000") and, for accepters,
// to stdio when the string is all zeros. [StrToEndpointChild] stacks a
// filter on an existing endpoint.
//
// Built-in types:
//   - tcp and udp: network transports
//   - echo: a loopback returning what it is sent
//   - stdio: a subprocess, or the current process streams
//   - ssl: a TLS filter over any reliable endpoint
//
// Other well known names are registered and fail with [ErrNotSupported].
// Applications add their own with [*Registry.RegisterEndpoint] and
// [*Registry.RegisterAccepter].
//
// # Event and Blocking Modes
//
// Endpoints deliver [EventRead] and [EventWriteReady] while enabled with
// [*Endpoint.SetReadCallbackEnable] and [*Endpoint.SetWriteCallbackEnable].
// The handler returns how much of a read it consumed and sees the rest
// again. Both events are level triggered.
//
// [*Endpoint.SetSync] switches an endpoint to blocking mode, after which
// [*Endpoint.ReadS] and [*Endpoint.WriteS] take a [context.Context]. The
// "S" variants of open, close and shutdown also block until completion.
//
// # Defaults and Arguments
//
// A [DefaultStore] holds named parameters with per-class overrides, so
// that "ssl" can default its CA file and "tcp" its nodelay flag. The
// CheckKey helpers parse the key=value arguments of a descriptor.
//
// # Pipelines
//
// Creation and opening compose with the [Func] primitives:
//
//	pipeline := Compose3[Unit, *Endpoint, *Endpoint, *Endpoint](
//		NewDescriptorFunc(cfg, "tcp,localhost,2000", nil),
//		NewFilterFunc(cfg, "ssl(CA=/etc/ca.pem)", nil),
//		NewOpenFunc(),
//	)
//
// Internally transports build their connections with the same
// primitives: [ConnectFunc], [TLSHandshakeFunc], [ObserveConnFunc] and
// [CancelWatchFunc].
//
// # Errors
//
// Operations return errors wrapping an [Errno], so that [errors.Is] works
// against the stable codes such as [ErrNotReady] or [ErrCertInvalid].
// [OSErrToErr] translates operating system errors into this space.
//
// # Observability
//
// Two logging paths exist. Library messages go through [Config.Log],
// filtered by the process-wide mask set with [SetLogMask]. Connection
// lifecycles are recorded as structured events through [SLogger]
// (compatible with [log/slog]), disabled by default.
//
// Structured events come in *Start/*Done pairs, e.g. openStart and
// openDone, and carry a spanID identifying the endpoint. Completion events
// additionally include t0, err and errClass as computed by the configured
// [ErrClassifier]. I/O-level events are emitted at [slog.LevelDebug].
//
// # Timeout and Context Philosophy
//
// Blocking calls never modify the context they receive. A done context
// makes them return [ErrTimedOut] or [ErrInterrupted], leaving the
// endpoint usable. Asynchronous operations instead complete through their
// done callbacks, and closing an endpoint that is still opening completes
// the open with [ErrInterrupted].
package gensio
