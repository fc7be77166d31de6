// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"sync"
)

// DefaultFidShards is the shard count used when none is configured.
const DefaultFidShards = 16

var (
	// ErrFidInUse is returned when inserting a fid that is active.
	ErrFidInUse = errors.New("session: fid in use")

	// ErrFidRetired is returned when a fid was clunked. Retired fids
	// are never reused within a session.
	ErrFidRetired = errors.New("session: fid retired")

	// ErrFidUnknown is returned when a fid was never inserted.
	ErrFidUnknown = errors.New("session: unknown fid")
)

// FidTable maps fids to per-fid state. Each fid is in one of three
// states: unknown, active, or retired. Removal moves a fid to retired
// permanently.
//
// The table is split into shards keyed by fid modulo the shard count.
// Each call locks exactly one shard.
type FidTable[T any] struct {
	shards []fidShard[T]
}

type fidShard[T any] struct {
	mu      sync.Mutex
	active  map[uint32]T
	retired map[uint32]struct{}
}

// NewFidTable returns an empty table with the given number of shards.
// A count below one selects DefaultFidShards.
func NewFidTable[T any](shards int) *FidTable[T] {
	if shards < 1 {
		shards = DefaultFidShards
	}
	table := &FidTable[T]{shards: make([]fidShard[T], shards)}
	for i := range table.shards {
		table.shards[i].active = make(map[uint32]T)
		table.shards[i].retired = make(map[uint32]struct{})
	}
	return table
}

func (t *FidTable[T]) shard(fid uint32) *fidShard[T] {
	return &t.shards[fid%uint32(len(t.shards))]
}

// Insert makes fid active with value.
func (t *FidTable[T]) Insert(fid uint32, value T) error {
	shard := t.shard(fid)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, retired := shard.retired[fid]; retired {
		return ErrFidRetired
	}
	if _, active := shard.active[fid]; active {
		return ErrFidInUse
	}
	shard.active[fid] = value
	return nil
}

// Get returns the value of an active fid.
func (t *FidTable[T]) Get(fid uint32) (T, error) {
	shard := t.shard(fid)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if value, active := shard.active[fid]; active {
		return value, nil
	}
	var zero T
	if _, retired := shard.retired[fid]; retired {
		return zero, ErrFidRetired
	}
	return zero, ErrFidUnknown
}

// Replace overwrites the value of an active fid.
func (t *FidTable[T]) Replace(fid uint32, value T) error {
	shard := t.shard(fid)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, active := shard.active[fid]; !active {
		if _, retired := shard.retired[fid]; retired {
			return ErrFidRetired
		}
		return ErrFidUnknown
	}
	shard.active[fid] = value
	return nil
}

// Remove retires an active fid and returns its value.
func (t *FidTable[T]) Remove(fid uint32) (T, error) {
	shard := t.shard(fid)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	value, active := shard.active[fid]
	if !active {
		var zero T
		if _, retired := shard.retired[fid]; retired {
			return zero, ErrFidRetired
		}
		return zero, ErrFidUnknown
	}
	delete(shard.active, fid)
	shard.retired[fid] = struct{}{}
	return value, nil
}

// Len is the number of active fids. Shards are visited one at a time,
// so the count is approximate under concurrent mutation.
func (t *FidTable[T]) Len() int {
	total := 0
	for i := range t.shards {
		shard := &t.shards[i]
		shard.mu.Lock()
		total += len(shard.active)
		shard.mu.Unlock()
	}
	return total
}

// Drain removes every active fid, retiring each, and returns their
// values. Used at session teardown.
func (t *FidTable[T]) Drain() []T {
	var values []T
	for i := range t.shards {
		shard := &t.shards[i]
		shard.mu.Lock()
		for fid, value := range shard.active {
			values = append(values, value)
			shard.retired[fid] = struct{}{}
		}
		clear(shard.active)
		shard.mu.Unlock()
	}
	return values
}
