// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bureau-foundation/ninedoor/lib/codec"
)

// cursorStateVersion is bumped when the file layout changes
// incompatibly.
const cursorStateVersion = 1

// CursorState is the persisted form of a Store's cursors and ring
// heads.
type CursorState struct {
	Version int               `cbor:"1,keyasint"`
	Cursors []CursorRecord    `cbor:"2,keyasint"`
	Heads   map[string]uint64 `cbor:"3,keyasint"`
}

// CursorRecord is one reader's position in one worker's ring.
type CursorRecord struct {
	Reader string `cbor:"1,keyasint"`
	Worker string `cbor:"2,keyasint"`
	Offset uint64 `cbor:"3,keyasint"`
}

// CursorStore persists cursor state to a single CBOR file. Writes go
// to a temporary file in the same directory, are fsynced, and are
// renamed into place, so a crash leaves either the old or the new
// state.
type CursorStore struct {
	path  string
	mutex sync.Mutex
}

// NewCursorStore returns a store backed by path. The parent directory
// must exist.
func NewCursorStore(path string) *CursorStore {
	return &CursorStore{path: path}
}

// Path is the backing file.
func (s *CursorStore) Path() string { return s.path }

// Load reads the persisted state. A missing file yields an empty
// state.
func (s *CursorStore) Load() (CursorState, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return CursorState{Version: cursorStateVersion, Heads: map[string]uint64{}}, nil
	}
	if err != nil {
		return CursorState{}, fmt.Errorf("reading cursor state: %w", err)
	}
	var state CursorState
	if err := codec.Unmarshal(data, &state); err != nil {
		return CursorState{}, fmt.Errorf("parsing cursor state %s: %w", s.path, err)
	}
	if state.Version != cursorStateVersion {
		return CursorState{}, fmt.Errorf("cursor state %s has version %d, want %d", s.path, state.Version, cursorStateVersion)
	}
	if state.Heads == nil {
		state.Heads = map[string]uint64{}
	}
	return state, nil
}

// Save atomically replaces the persisted state.
func (s *CursorStore) Save(state CursorState) error {
	state.Version = cursorStateVersion
	sort.Slice(state.Cursors, func(i, j int) bool {
		if state.Cursors[i].Reader != state.Cursors[j].Reader {
			return state.Cursors[i].Reader < state.Cursors[j].Reader
		}
		return state.Cursors[i].Worker < state.Cursors[j].Worker
	})
	data, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling cursor state: %w", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	temporaryPath := s.path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary cursor state: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary cursor state: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary cursor state: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary cursor state: %w", err)
	}
	if err := os.Rename(temporaryPath, s.path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming cursor state into place: %w", err)
	}

	directory, err := os.Open(filepath.Dir(s.path))
	if err == nil {
		directory.Sync()
		directory.Close()
	}
	return nil
}
