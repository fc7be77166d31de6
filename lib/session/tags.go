// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "errors"

var (
	// ErrTagInUse is returned when a tag is already reserved.
	ErrTagInUse = errors.New("session: tag in use")

	// ErrWindowFull is returned when the window holds its maximum
	// number of tags.
	ErrWindowFull = errors.New("session: tag window full")
)

// TagWindow is the set of request tags currently in flight.
type TagWindow struct {
	capacity int
	active   map[uint16]struct{}
}

// NewTagWindow returns an empty window holding at most capacity tags.
// A capacity below one is raised to one.
func NewTagWindow(capacity int) *TagWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &TagWindow{capacity: capacity, active: make(map[uint16]struct{}, capacity)}
}

// Reserve marks tag as in flight.
func (w *TagWindow) Reserve(tag uint16) error {
	if _, exists := w.active[tag]; exists {
		return ErrTagInUse
	}
	if len(w.active) >= w.capacity {
		return ErrWindowFull
	}
	w.active[tag] = struct{}{}
	return nil
}

// Release frees tag. Releasing a tag that is not reserved is a no-op.
func (w *TagWindow) Release(tag uint16) {
	delete(w.active, tag)
}

// ActiveCount is the number of reserved tags.
func (w *TagWindow) ActiveCount() int { return len(w.active) }

// Capacity is the maximum number of reserved tags.
func (w *TagWindow) Capacity() int { return w.capacity }
