// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package replay keeps a bounded journal of accepted control lines and
// re-parses a window of it on request, confirming each entry still
// produces the command that was recorded.
package replay

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
)

// DefaultJournalEntries bounds the journal when no limit is set.
const DefaultJournalEntries = 1024

// Reparse turns a recorded line back into its canonical form.
type Reparse func(line []byte) (string, error)

type entry struct {
	line      []byte
	canonical string
}

// State is the outcome of the most recent replay.
type State string

const (
	StateIdle State = "idle"
	StateOK   State = "ok"
	StateErr  State = "err"
)

// Status is rendered at /replay/status.
type Status struct {
	State State  `json:"state"`
	From  uint64 `json:"from"`
	// To is one past the last replayed sequence number.
	To      uint64 `json:"to"`
	Entries int    `json:"entries"`
	Match   bool   `json:"match"`
	// SequenceFNV1a is the 64-bit FNV-1a hash of the replayed
	// canonical forms, each followed by a newline, rendered in hex.
	SequenceFNV1a string `json:"sequence_fnv1a"`
	Error         string `json:"error,omitempty"`
}

// JSON renders the status as a single line.
func (s Status) JSON() []byte {
	encoded, _ := json.Marshal(s)
	return append(encoded, '\n')
}

// Journal is a bounded, sequence-numbered record of control lines.
// Sequence numbers start at zero and never repeat; when the journal is
// full the oldest entry is dropped and Base advances.
type Journal struct {
	mutex   sync.Mutex
	limit   int
	base    uint64
	entries []entry
	status  Status
}

// NewJournal returns an empty journal holding at most limit entries.
func NewJournal(limit int) *Journal {
	if limit < 1 {
		limit = DefaultJournalEntries
	}
	return &Journal{limit: limit, status: Status{State: StateIdle, SequenceFNV1a: fmt.Sprintf("%016x", fnv.New64a().Sum64())}}
}

// Record appends a line with its canonical form and returns its
// sequence number.
func (j *Journal) Record(line []byte, canonical string) uint64 {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if len(j.entries) == j.limit {
		j.entries = append(j.entries[:0], j.entries[1:]...)
		j.base++
	}
	j.entries = append(j.entries, entry{line: append([]byte(nil), line...), canonical: canonical})
	return j.base + uint64(len(j.entries)) - 1
}

// Window returns the retained sequence range [base, next).
func (j *Journal) Window() (uint64, uint64) {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	return j.base, j.base + uint64(len(j.entries))
}

// Replay re-parses entries [from, next) with reparse and records the
// outcome as the current status. from equal to next replays nothing
// and succeeds; from outside the retained window fails.
func (j *Journal) Replay(from uint64, reparse Reparse) Status {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	next := j.base + uint64(len(j.entries))
	status := Status{State: StateOK, From: from, To: next, Match: true}
	hash := fnv.New64a()

	if from < j.base || from > next {
		status.State = StateErr
		status.Match = false
		status.To = from
		status.Error = fmt.Sprintf("from %d outside journal window [%d, %d)", from, j.base, next)
	} else {
		for _, recorded := range j.entries[from-j.base:] {
			canonical, err := reparse(recorded.line)
			if err != nil {
				status.Error = fmt.Sprintf("entry %d: %v", j.base+uint64(status.Entries), err)
			} else if canonical != recorded.canonical {
				status.Error = fmt.Sprintf("entry %d: canonical form changed", j.base+uint64(status.Entries))
			}
			if status.Error != "" {
				status.State = StateErr
				status.Match = false
				status.To = from + uint64(status.Entries)
				break
			}
			hash.Write([]byte(canonical))
			hash.Write([]byte{'\n'})
			status.Entries++
		}
	}
	status.SequenceFNV1a = fmt.Sprintf("%016x", hash.Sum64())
	j.status = status
	return status
}

// Status returns the outcome of the most recent replay.
func (j *Journal) Status() Status {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	return j.status
}
