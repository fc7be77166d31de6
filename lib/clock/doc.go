// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock instead of calling time.Now,
// time.After, or time.Sleep directly. In production Real() provides
// the standard library behavior. In tests Fake() provides a clock that
// only moves when told to.
//
// NineDoor's core is synchronous: the only waits are the short-write
// backoff sleeps at the transport boundary. The fake clock therefore
// treats Sleep as an instantaneous advance and records every requested
// duration, so tests can assert the exact backoff schedule without
// coordinating goroutines.
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	server := ninedoor.NewServer(ninedoor.Options{Clock: c, ...})
//	c.Advance(2 * time.Second) // expire a one-second ticket
package clock
