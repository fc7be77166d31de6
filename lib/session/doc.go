// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session holds the per-session concurrency bookkeeping of a
// Secure9P connection: the window of in-flight request tags, the
// outstanding-operation queue depth that drives backpressure, the
// sharded fid table, and the short-write policy applied at the
// transport boundary.
//
// TagWindow and QueueDepth are owned by one session and are not safe
// for concurrent use on their own; the session serialises access.
// FidTable is safe for concurrent use and locks one shard per call.
package session
