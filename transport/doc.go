// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries Secure9P byte streams between NineDoor and
// its peers.
//
// A [Listener] accepts stream connections on a Unix socket or a TCP
// address and hands each to a [Handler] on its own goroutine. Serve
// blocks until its context is cancelled, then closes the listening
// socket and waits for every handler to return.
//
// Each accepted connection is described by a [Peer]. On Linux Unix
// sockets the peer's pid, uid, and gid are read with SO_PEERCRED so
// sessions can be attributed to processes in logs; elsewhere only the
// remote address is known.
//
// [Dial] opens the client side of either kind of address and is used by
// tools and tests.
package transport
