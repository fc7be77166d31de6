// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"unicode/utf8"
)

// DefaultRingBytes is the ring capacity used when none is configured.
const DefaultRingBytes = 64 * 1024

// AppendAtEnd is the offset an appender passes to write at the ring's
// current position.
const AppendAtEnd uint64 = math.MaxUint64

var (
	// ErrInvalidFrame is returned when a legacy-schema ring receives
	// bytes that are not UTF-8 text.
	ErrInvalidFrame = errors.New("telemetry: invalid frame")

	// ErrOffsetMismatch is returned when an append names an offset
	// other than the ring's write position.
	ErrOffsetMismatch = errors.New("telemetry: offset mismatch")

	// ErrQuotaExceeded is returned when data cannot fit within a
	// capacity or quota.
	ErrQuotaExceeded = errors.New("telemetry: quota exceeded")

	// ErrCursorStale is returned when a read names an offset whose
	// bytes have been overwritten.
	ErrCursorStale = errors.New("telemetry: cursor stale")
)

// Schema selects the payload rules of a ring.
type Schema int

const (
	// SchemaV1 accepts arbitrary bytes.
	SchemaV1 Schema = iota
	// SchemaLegacy accepts only UTF-8 text.
	SchemaLegacy
)

func (s Schema) String() string {
	switch s {
	case SchemaV1:
		return "v1"
	case SchemaLegacy:
		return "legacy"
	default:
		return fmt.Sprintf("Schema(%d)", int(s))
	}
}

// ParseSchema accepts "v1" or "legacy" in any case.
func ParseSchema(value string) (Schema, error) {
	switch strings.ToLower(value) {
	case "v1":
		return SchemaV1, nil
	case "legacy":
		return SchemaLegacy, nil
	default:
		return 0, fmt.Errorf("telemetry: unknown schema %q", value)
	}
}

// Window is the range of absolute offsets a ring retains: bytes in
// [Base, Next) are readable.
type Window struct {
	Base uint64
	Next uint64
}

// AppendResult reports where an append landed and what it displaced.
type AppendResult struct {
	// Offset is the absolute offset of the first appended byte.
	Offset uint64
	// Length is the number of bytes appended.
	Length int
	// Dropped counts previously retained bytes overwritten by this
	// append.
	Dropped uint64
	// Window is the ring's window after the append.
	Window Window
}

// Ring is a fixed-capacity circular byte buffer with absolute offsets.
// Offsets count every byte ever appended; the buffer holds the most
// recent capacity bytes of that stream.
//
// All methods are safe for concurrent use.
type Ring struct {
	mutex    sync.Mutex
	schema   Schema
	data     []byte
	capacity int
	// writePosition is the next index to write within data.
	writePosition int
	// stored is the number of retained bytes, at most capacity.
	stored int
	// next is the absolute offset of the next appended byte.
	next uint64
}

// NewRing returns an empty ring starting at offset zero.
func NewRing(capacity int, schema Schema) *Ring {
	return NewRingAt(capacity, schema, 0)
}

// NewRingAt returns an empty ring whose first byte will have absolute
// offset head. Used to restart a ring where a previous process left
// off so persisted cursors stay meaningful.
func NewRingAt(capacity int, schema Schema, head uint64) *Ring {
	if capacity < 1 {
		capacity = DefaultRingBytes
	}
	return &Ring{
		schema:   schema,
		data:     make([]byte, capacity),
		capacity: capacity,
		next:     head,
	}
}

// Capacity is the number of bytes the ring retains.
func (ring *Ring) Capacity() int { return ring.capacity }

// Schema is the payload schema of the ring.
func (ring *Ring) Schema() Schema { return ring.schema }

// Window returns the currently retained offset range.
func (ring *Ring) Window() Window {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()
	return ring.windowLocked()
}

func (ring *Ring) windowLocked() Window {
	return Window{Base: ring.next - uint64(ring.stored), Next: ring.next}
}

// Append writes data at offset, which must be the ring's next offset
// or AppendAtEnd. Data larger than the ring is rejected with
// ErrQuotaExceeded and the ring is unchanged. Appends that overwrite
// retained bytes succeed and report the loss in Dropped.
func (ring *Ring) Append(offset uint64, data []byte) (AppendResult, error) {
	if ring.schema == SchemaLegacy && !utf8.Valid(data) {
		return AppendResult{}, fmt.Errorf("%w: legacy schema requires UTF-8 text", ErrInvalidFrame)
	}
	if len(data) > ring.capacity {
		return AppendResult{}, fmt.Errorf("%w: %d bytes exceeds ring capacity %d", ErrQuotaExceeded, len(data), ring.capacity)
	}

	ring.mutex.Lock()
	defer ring.mutex.Unlock()

	if offset != AppendAtEnd && offset != ring.next {
		return AppendResult{}, fmt.Errorf("%w: offset %d, next is %d", ErrOffsetMismatch, offset, ring.next)
	}

	result := AppendResult{Offset: ring.next, Length: len(data)}
	if overflow := ring.stored + len(data) - ring.capacity; overflow > 0 {
		result.Dropped = uint64(overflow)
	}

	for written := 0; written < len(data); {
		copyLength := min(len(data)-written, ring.capacity-ring.writePosition)
		copy(ring.data[ring.writePosition:ring.writePosition+copyLength], data[written:written+copyLength])
		ring.writePosition = (ring.writePosition + copyLength) % ring.capacity
		written += copyLength
	}
	ring.next += uint64(len(data))
	ring.stored = min(ring.capacity, ring.stored+len(data))
	result.Window = ring.windowLocked()
	return result, nil
}

// ReadAt returns up to count bytes starting at offset together with
// the window the read observed. An offset beyond the window's end
// returns no bytes. An offset behind the base returns ErrCursorStale.
func (ring *Ring) ReadAt(offset uint64, count uint32) ([]byte, Window, error) {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()

	window := ring.windowLocked()
	if offset < window.Base {
		return nil, window, fmt.Errorf("%w: offset %d below base %d", ErrCursorStale, offset, window.Base)
	}
	return ring.readLocked(offset, count), window, nil
}

// readFrom is ReadAt with stale offsets optionally rewound to the base.
// It returns the offset actually served.
func (ring *Ring) readFrom(offset uint64, count uint32, rewind bool) ([]byte, uint64, Window, bool) {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()

	window := ring.windowLocked()
	stale := offset < window.Base
	if stale {
		if !rewind {
			return nil, offset, window, true
		}
		offset = window.Base
	}
	return ring.readLocked(offset, count), offset, window, stale
}

func (ring *Ring) readLocked(offset uint64, count uint32) []byte {
	if offset >= ring.next {
		return []byte{}
	}
	length := min(ring.next-offset, uint64(count))
	result := make([]byte, length)

	base := ring.next - uint64(ring.stored)
	readPosition := (ring.writePosition - ring.stored + int(offset-base)) % ring.capacity
	if readPosition < 0 {
		readPosition += ring.capacity
	}
	for copied := 0; copied < len(result); {
		copyLength := min(len(result)-copied, ring.capacity-readPosition)
		copy(result[copied:copied+copyLength], ring.data[readPosition:readPosition+copyLength])
		readPosition = (readPosition + copyLength) % ring.capacity
		copied += copyLength
	}
	return result
}

// WriteLine appends line and a newline, dropping the oldest bytes as
// needed. Lines longer than the ring are truncated to fit. It lets a
// ring serve as an audit sink.
func (ring *Ring) WriteLine(line string) {
	data := []byte(line + "\n")
	if len(data) > ring.capacity {
		data = append(data[:ring.capacity-1], '\n')
	}
	if ring.schema == SchemaLegacy && !utf8.Valid(data) {
		data = []byte(strings.ToValidUTF8(string(data), "?"))
	}
	_, _ = ring.Append(AppendAtEnd, data)
}
