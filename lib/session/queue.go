// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "errors"

// ErrQueueFull is returned when a reservation would exceed the
// session's queue limit.
var ErrQueueFull = errors.New("session: queue depth exceeded")

// MaxDepth is the queue limit for a session: the larger of the tag
// window and the batch size. Every frame of a batch is one
// outstanding operation, so a batch that fits its configured size
// always passes backpressure and then competes for tags. ServeConn
// reads batches through ReadBatch, which stops at the batch size, so
// it never trips backpressure; only a caller handing Exchange a
// larger batch directly can.
func MaxDepth(tagsPerSession, batchFrames int) int {
	return max(1, tagsPerSession, batchFrames)
}

// QueueDepth counts operations a session has outstanding.
type QueueDepth struct {
	limit   int
	current int
}

// NewQueueDepth returns an empty counter bounded by limit. A limit
// below one is raised to one.
func NewQueueDepth(limit int) *QueueDepth {
	return &QueueDepth{limit: max(1, limit)}
}

// Reserve adds n outstanding operations, or fails with ErrQueueFull
// and leaves the count unchanged.
func (q *QueueDepth) Reserve(n int) error {
	if n < 0 || n > q.limit-q.current {
		return ErrQueueFull
	}
	q.current += n
	return nil
}

// Release removes n outstanding operations, stopping at zero.
func (q *QueueDepth) Release(n int) {
	if n <= 0 {
		return
	}
	q.current = max(0, q.current-n)
}

// Current is the number of outstanding operations.
func (q *QueueDepth) Current() int { return q.current }

// Limit is the maximum number of outstanding operations.
func (q *QueueDepth) Limit() int { return q.limit }
