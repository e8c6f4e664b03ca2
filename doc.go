// SPDX-License-Identifier: GPL-3.0-or-later

// Package loopnet provides the ambient building blocks shared by every
// other package in this module: structured logging, error classification,
// configuration defaults, and a small generic composition layer.
//
// # Module Layout
//
// loopnet itself holds only cross-cutting concerns. The actual event-loop
// and protocol engine lives in sibling packages, in dependency order:
//
//   - task: a lazily-started, single-shot future (Task[T]) with
//     suspension, composition (Then, Finally), and racing (Race).
//   - loop: the cooperative event loop itself — Loop plus its handle
//     primitives (Timer, Check, Async, Work).
//   - dnsresolve: asynchronous name resolution on top of loop.Work.
//   - fsio: asynchronous file I/O on top of loop.Work.
//   - httpmsg: the shared URL/Request/Response data model.
//   - stream: a duplex byte stream built on loop.Handle, with line
//     framing and read/write helpers.
//   - tlssplice: a TLS record-layer adapter that splices into a
//     stream.Stream.
//   - tcpconn: TCP (and TTY) streams, wiring tlssplice into
//     stream.Stream for transparent encrypted connect/accept.
//   - http1: an incremental HTTP/1.1 request/response tokenizer.
//   - http2: a minimal client-side HTTP/2 session handler.
//   - httpfetch: Fetch, a one-shot HTTP client that auto-selects
//     HTTP/1.1 or HTTP/2 via ALPN.
//
// # Why A Loop At All
//
// Go does not need an explicit reactor to get concurrency, but this
// module models one anyway because the contract its callers depend on —
// handle close ordering, exactly-one-terminal-read, resolve/reject
// idempotence across goroutines — is most simply guaranteed by funneling
// every callback through a single owning goroutine (loop.Loop). Blocking
// syscalls (socket I/O, DNS, file I/O) still run on ordinary goroutines;
// only their *results* cross back onto the loop, via loop.Loop.Post,
// before touching loop-owned state. This is the direct analogue of
// libuv's reactor-plus-threadpool split, expressed with Go's scheduler
// standing in for the thread pool.
//
// # Observability
//
// All packages accept an [SLogger] (compatible with [log/slog]) and an
// [ErrClassifier]. By default, logging is disabled, while [NewConfig]
// classifies errors with the errclass package ([DefaultErrClassifier]
// turns classification off). Use [NewSpanID] to correlate the log lines of a single
// operation (a connect, a handshake, a fetch) by attaching it to a
// logger with [*slog.Logger.With].
//
// # Design Boundaries
//
// Connection pooling beyond trivial reuse, server-side routing, HTTP/3,
// certificate verification policy, compression negotiation beyond gzip,
// and HTTP/2 flow-control tuning are out of scope.
package loopnet
