// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ninedoor is the NineDoor host service: it serves the
// synthetic namespace to Secure9P peers.
//
// A [Server] owns the shared state: the namespace tree, the telemetry
// store and segment store, the lifecycle machine, the control journal,
// the audit ring, and the metrics. Each connection is a [Session]
// with its own tag window, queue depth, fid table, and ticket
// enforcer.
//
// Requests flow through [Session.Exchange], one batch at a time:
//
//   - decode the batch into frames
//   - reserve queue depth for every frame, or answer each with
//     Busy "queue depth exceeded"
//   - reserve each frame's tag, answering collisions and overflow
//     with Busy "tag window exceeded"
//   - dispatch: lifecycle gate, then ticket admission, then the
//     operation itself
//   - encode the responses and release tags and queue depth
//
// Library errors become protocol errors in exactly one place
// (protocolError); nothing a peer sends aborts the transport except a
// frame whose size field makes the stream unrecoverable.
//
// Writes back to the peer go through [ShortWriter], which applies the
// configured short-write policy.
package ninedoor
