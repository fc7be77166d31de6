// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bureau-foundation/ninedoor/lib/audit"
)

// ErrSegmentNotFound is returned for a segment id the device does not
// hold, including evicted segments.
var ErrSegmentNotFound = errors.New("telemetry: segment not found")

// EvictionPolicy selects what happens when a segment quota would be
// exceeded.
type EvictionPolicy int

const (
	// EvictRefuse fails the operation with ErrQuotaExceeded.
	EvictRefuse EvictionPolicy = iota
	// EvictOldest removes the oldest segments until the operation fits.
	EvictOldest
)

func (p EvictionPolicy) String() string {
	switch p {
	case EvictRefuse:
		return "refuse"
	case EvictOldest:
		return "evict-oldest"
	default:
		return fmt.Sprintf("EvictionPolicy(%d)", int(p))
	}
}

// ParseEvictionPolicy accepts "refuse" or "evict-oldest" in any case.
func ParseEvictionPolicy(value string) (EvictionPolicy, error) {
	switch strings.ToLower(value) {
	case "refuse":
		return EvictRefuse, nil
	case "evict-oldest", "evict_oldest", "evictoldest":
		return EvictOldest, nil
	default:
		return 0, fmt.Errorf("telemetry: unknown eviction policy %q", value)
	}
}

// SegmentLimits bounds each device's segments.
type SegmentLimits struct {
	MaxSegmentsPerDevice   int
	MaxBytesPerSegment     uint64
	MaxTotalBytesPerDevice uint64
	Policy                 EvictionPolicy
}

// DefaultSegmentLimits keeps up to eight 64 KiB segments and 256 KiB
// per device, evicting the oldest.
func DefaultSegmentLimits() SegmentLimits {
	return SegmentLimits{
		MaxSegmentsPerDevice:   8,
		MaxBytesPerSegment:     64 * 1024,
		MaxTotalBytesPerDevice: 256 * 1024,
		Policy:                 EvictOldest,
	}
}

// Segment describes one segment.
type Segment struct {
	ID      string
	Bytes   uint64
	Records int
}

type segment struct {
	id      string
	data    []byte
	records int
}

type deviceSegments struct {
	nextSequence uint64
	// segments are ordered oldest first.
	segments []*segment
	total    uint64
}

func (d *deviceSegments) find(id string) (int, *segment) {
	for index, candidate := range d.segments {
		if candidate.id == id {
			return index, candidate
		}
	}
	return -1, nil
}

// SegmentStore holds each device's segments under SegmentLimits.
type SegmentStore struct {
	mutex   sync.Mutex
	limits  SegmentLimits
	audit   *audit.Log
	devices map[string]*deviceSegments
}

// NewSegmentStore returns an empty store.
func NewSegmentStore(limits SegmentLimits, log *audit.Log) *SegmentStore {
	if limits.MaxSegmentsPerDevice < 1 {
		limits.MaxSegmentsPerDevice = 1
	}
	return &SegmentStore{limits: limits, audit: log, devices: make(map[string]*deviceSegments)}
}

// Limits returns the store's limits.
func (s *SegmentStore) Limits() SegmentLimits { return s.limits }

// SegmentID formats the id of the sequence-th segment of a device.
func SegmentID(sequence uint64) string {
	return fmt.Sprintf("seg-%06d", sequence)
}

func (s *SegmentStore) deviceLocked(device string) *deviceSegments {
	state, ok := s.devices[device]
	if !ok {
		state = &deviceSegments{nextSequence: 1}
		s.devices[device] = state
	}
	return state
}

// CreateSegment opens a new, empty segment for device. When the device
// already holds its maximum number of segments, EvictOldest removes
// the oldest until there is room and returns their ids; EvictRefuse
// fails with ErrQuotaExceeded and changes nothing.
func (s *SegmentStore) CreateSegment(device string) (string, []string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	state := s.deviceLocked(device)
	var evicted []string
	if len(state.segments) >= s.limits.MaxSegmentsPerDevice {
		if s.limits.Policy == EvictRefuse {
			return "", nil, fmt.Errorf("%w: device %s holds %d segments", ErrQuotaExceeded, device, len(state.segments))
		}
		for len(state.segments) >= s.limits.MaxSegmentsPerDevice {
			evicted = append(evicted, s.evictLocked(device, state, 0, "segment-count"))
		}
	}

	id := SegmentID(state.nextSequence)
	state.nextSequence++
	state.segments = append(state.segments, &segment{id: id})
	return id, evicted, nil
}

// AppendRecord adds data to an existing segment. The segment's own cap
// is hard. When the device's total cap would be exceeded, EvictOldest
// removes other segments oldest first, never the one being written,
// and fails without evicting anything if even that could not make
// room.
func (s *SegmentStore) AppendRecord(device, id string, data []byte) ([]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	state, ok := s.devices[device]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrSegmentNotFound, device, id)
	}
	_, target := state.find(id)
	if target == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrSegmentNotFound, device, id)
	}

	size := uint64(len(data))
	if s.limits.MaxBytesPerSegment > 0 && uint64(len(target.data))+size > s.limits.MaxBytesPerSegment {
		return nil, fmt.Errorf("%w: segment %s would reach %d bytes, limit %d",
			ErrQuotaExceeded, id, uint64(len(target.data))+size, s.limits.MaxBytesPerSegment)
	}

	var evicted []string
	if limit := s.limits.MaxTotalBytesPerDevice; limit > 0 && state.total+size > limit {
		if s.limits.Policy == EvictRefuse {
			return nil, fmt.Errorf("%w: device %s would reach %d bytes, limit %d", ErrQuotaExceeded, device, state.total+size, limit)
		}
		if uint64(len(target.data))+size > limit {
			return nil, fmt.Errorf("%w: device %s cannot free enough bytes for %d", ErrQuotaExceeded, device, size)
		}
		for state.total+size > limit {
			index := 0
			if state.segments[0] == target {
				index = 1
			}
			evicted = append(evicted, s.evictLocked(device, state, index, "device-bytes"))
		}
	}

	target.data = append(target.data, data...)
	target.records++
	state.total += size
	return evicted, nil
}

func (s *SegmentStore) evictLocked(device string, state *deviceSegments, index int, cause string) string {
	victim := state.segments[index]
	state.segments = append(state.segments[:index], state.segments[index+1:]...)
	state.total -= uint64(len(victim.data))
	s.audit.Record("telemetry-segment", audit.OutcomeEvict,
		"device", device,
		"segment", victim.id,
		"bytes", len(victim.data),
		"cause", cause,
	)
	return victim.id
}

// ReadSegment returns up to count bytes of a segment from offset.
func (s *SegmentStore) ReadSegment(device, id string, offset uint64, count uint32) ([]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	state, ok := s.devices[device]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrSegmentNotFound, device, id)
	}
	_, target := state.find(id)
	if target == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrSegmentNotFound, device, id)
	}
	size := uint64(len(target.data))
	if offset >= size {
		return []byte{}, nil
	}
	end := min(size, offset+uint64(count))
	return append([]byte(nil), target.data[offset:end]...), nil
}

// Segments lists device's segments, oldest first.
func (s *SegmentStore) Segments(device string) []Segment {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	state, ok := s.devices[device]
	if !ok {
		return nil
	}
	out := make([]Segment, 0, len(state.segments))
	for _, current := range state.segments {
		out = append(out, Segment{ID: current.id, Bytes: uint64(len(current.data)), Records: current.records})
	}
	return out
}

// TotalBytes is the number of bytes device holds across segments.
func (s *SegmentStore) TotalBytes(device string) uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if state, ok := s.devices[device]; ok {
		return state.total
	}
	return 0
}

// RemoveDevice drops every segment of device.
func (s *SegmentStore) RemoveDevice(device string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.devices, device)
}
