// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bureau-foundation/ninedoor/lib/audit"
)

// StalePolicy selects how a read behind a ring's base is handled.
type StalePolicy int

const (
	// StaleReject fails the read with ErrCursorStale.
	StaleReject StalePolicy = iota
	// StaleRewind serves the read from the ring's base instead.
	StaleRewind
)

func (p StalePolicy) String() string {
	switch p {
	case StaleReject:
		return "reject"
	case StaleRewind:
		return "rewind"
	default:
		return fmt.Sprintf("StalePolicy(%d)", int(p))
	}
}

// ParseStalePolicy accepts "reject" or "rewind" in any case.
func ParseStalePolicy(value string) (StalePolicy, error) {
	switch strings.ToLower(value) {
	case "reject":
		return StaleReject, nil
	case "rewind":
		return StaleRewind, nil
	default:
		return 0, fmt.Errorf("telemetry: unknown stale policy %q", value)
	}
}

// CursorKey identifies one reader's cursor on one worker's ring.
type CursorKey struct {
	Reader string
	Worker string
}

// Resolution describes how a read was served, before the cursor moves.
type Resolution struct {
	// Requested is the offset the reader asked for.
	Requested uint64
	// Offset is the offset actually served. It differs from Requested
	// only after a stale rewind.
	Offset uint64
	// Length is the number of bytes the read returns.
	Length int
	// Stale is set when Requested was behind the ring's base.
	Stale bool
	// Resume is set for a stale rewind, and for a read away from the
	// reader's last position that returns data. A read past the end
	// of the window is neither a resume nor an advance.
	Resume bool
	// Window is the ring window the read observed.
	Window Window
}

// Advance reports whether the read continues from the cursor and
// returns data.
func (r Resolution) Advance() bool { return !r.Resume && r.Length > 0 }

// StoreOptions configures a Store.
type StoreOptions struct {
	RingBytes   int
	Schema      Schema
	StalePolicy StalePolicy
	// State persists cursors and ring heads when non-nil.
	State  *CursorStore
	Audit  *audit.Log
	Logger *slog.Logger
}

// Store owns every worker's ring and every reader's cursor.
type Store struct {
	mutex   sync.Mutex
	options StoreOptions
	rings   map[string]*Ring
	cursors map[CursorKey]uint64
	// heads are persisted ring positions for rings not yet recreated.
	heads map[string]uint64
}

// NewStore returns a store, loading persisted cursor state when
// options.State is set.
func NewStore(options StoreOptions) (*Store, error) {
	if options.RingBytes <= 0 {
		options.RingBytes = DefaultRingBytes
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	store := &Store{
		options: options,
		rings:   make(map[string]*Ring),
		cursors: make(map[CursorKey]uint64),
		heads:   make(map[string]uint64),
	}
	if options.State != nil {
		state, err := options.State.Load()
		if err != nil {
			return nil, err
		}
		for _, record := range state.Cursors {
			store.cursors[CursorKey{Reader: record.Reader, Worker: record.Worker}] = record.Offset
		}
		for worker, head := range state.Heads {
			store.heads[worker] = head
		}
		options.Logger.Info("telemetry cursor state loaded",
			"path", options.State.Path(),
			"cursors", len(state.Cursors),
			"rings", len(state.Heads),
		)
	}
	return store, nil
}

// Ring returns the ring of worker, creating it on first use. A ring
// recreated after a restart starts empty at its persisted head.
func (s *Store) Ring(worker string) *Ring {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.ringLocked(worker)
}

func (s *Store) ringLocked(worker string) *Ring {
	ring, ok := s.rings[worker]
	if !ok {
		ring = NewRingAt(s.options.RingBytes, s.options.Schema, s.heads[worker])
		delete(s.heads, worker)
		s.rings[worker] = ring
	}
	return ring
}

// Append writes data to worker's ring. Overwritten bytes are audited.
func (s *Store) Append(worker string, offset uint64, data []byte) (AppendResult, error) {
	result, err := s.Ring(worker).Append(offset, data)
	if err != nil {
		return result, err
	}
	if result.Dropped > 0 {
		s.options.Audit.Record("telemetry-ring", audit.OutcomeDrop,
			"worker", worker,
			"dropped", result.Dropped,
			"base", result.Window.Base,
		)
	}
	return result, nil
}

// Read serves a read of worker's ring for the reader in key. admit is
// called with the resolved read before the cursor moves; an error
// from admit aborts the read and leaves the cursor unchanged. On
// success the cursor moves to the end of the returned bytes.
func (s *Store) Read(key CursorKey, offset uint64, count uint32, admit func(Resolution) error) ([]byte, Resolution, error) {
	ring := s.Ring(key.Worker)
	rewind := s.options.StalePolicy == StaleRewind
	data, served, window, stale := ring.readFrom(offset, count, rewind)

	resolution := Resolution{
		Requested: offset,
		Offset:    served,
		Length:    len(data),
		Stale:     stale,
		Window:    window,
	}
	if stale {
		s.options.Audit.Record("telemetry-cursor", audit.OutcomeStale,
			"reader", key.Reader,
			"worker", key.Worker,
			"requested", offset,
			"base", window.Base,
			"policy", s.options.StalePolicy,
		)
		if !rewind {
			return nil, resolution, fmt.Errorf("%w: offset %d below base %d", ErrCursorStale, offset, window.Base)
		}
	}

	s.mutex.Lock()
	last := s.cursors[key]
	s.mutex.Unlock()
	resolution.Resume = stale || (offset != last && len(data) > 0)

	if admit != nil {
		if err := admit(resolution); err != nil {
			return nil, resolution, err
		}
	}
	if len(data) == 0 {
		return data, resolution, nil
	}

	s.mutex.Lock()
	s.cursors[key] = served + uint64(len(data))
	s.mutex.Unlock()
	s.persist()
	return data, resolution, nil
}

// Cursor returns the last position recorded for key.
func (s *Store) Cursor(key CursorKey) (uint64, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	offset, ok := s.cursors[key]
	return offset, ok
}

// Remove drops worker's ring. Cursors and persisted heads survive so
// a worker respawned under the same id resumes its offsets.
func (s *Store) Remove(worker string) {
	s.mutex.Lock()
	if ring, ok := s.rings[worker]; ok {
		s.heads[worker] = ring.Window().Next
		delete(s.rings, worker)
	}
	s.mutex.Unlock()
	s.persist()
}

// Flush persists the current cursors and ring heads.
func (s *Store) Flush() error {
	if s.options.State == nil {
		return nil
	}
	return s.options.State.Save(s.snapshot())
}

func (s *Store) persist() {
	if err := s.Flush(); err != nil {
		s.options.Logger.Error("persisting telemetry cursors failed", "error", err)
	}
}

func (s *Store) snapshot() CursorState {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	state := CursorState{Heads: make(map[string]uint64, len(s.rings)+len(s.heads))}
	for key, offset := range s.cursors {
		state.Cursors = append(state.Cursors, CursorRecord{Reader: key.Reader, Worker: key.Worker, Offset: offset})
	}
	for worker, head := range s.heads {
		state.Heads[worker] = head
	}
	for worker, ring := range s.rings {
		state.Heads[worker] = ring.Window().Next
	}
	return state
}
