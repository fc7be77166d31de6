// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry stores worker telemetry in two independent,
// bounded forms.
//
// A Ring is a fixed-capacity byte buffer addressed by absolute offsets.
// Appends past capacity overwrite the oldest bytes and advance the
// ring's base. Readers resume through per-reader cursors held by a
// Store; a requested offset behind the base is stale and is either
// rejected or rewound to the base according to StalePolicy. Cursor
// positions and ring heads can persist across restarts through a
// CursorStore.
//
// A SegmentStore keeps named, individually capped segments per device
// under segment-count and total-byte quotas, evicting the oldest
// segments or refusing new data when a quota would be exceeded.
package telemetry
