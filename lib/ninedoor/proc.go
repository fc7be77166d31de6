// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ninedoor

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bureau-foundation/ninedoor/lib/codec"
)

// sessionsView is the CBOR form of /proc/9p/sessions.
type sessionsView struct {
	Count    int           `cbor:"count"`
	Sessions []SessionInfo `cbor:"sessions"`
}

type outstandingView struct {
	QueueDepth int64 `cbor:"queue_depth"`
	QueueLimit int64 `cbor:"queue_limit"`
}

type shortWritesView struct {
	ShortWrites       uint64 `cbor:"short_writes"`
	ShortWriteRetries uint64 `cbor:"short_write_retries"`
}

type watchView struct {
	P50Milliseconds float64 `cbor:"p50_ms"`
	P95Milliseconds float64 `cbor:"p95_ms"`
	Backpressure    uint64  `cbor:"backpressure"`
	Queued          int64   `cbor:"queued"`
	UIDenies        uint64  `cbor:"ui_denies"`
	GateDenies      uint64  `cbor:"gate_denies"`
	Batches         uint64  `cbor:"batches"`
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// procRenderers returns the generators for every /proc file. Each
// text file has a .cbor sibling carrying the same values, except the
// lifecycle files.
func (s *Server) procRenderers() map[string]func() []byte {
	renderers := make(map[string]func() []byte)
	both := func(path string, text func() string, value func() any) {
		renderers[path] = func() []byte { return []byte(text()) }
		renderers[path+".cbor"] = func() []byte { return s.encodeProc(path, value()) }
	}

	both("/proc/9p/sessions", s.sessionsText, func() any { return s.sessionsView() })
	both("/proc/9p/outstanding",
		func() string {
			snapshot := s.metrics.Snapshot()
			return fmt.Sprintf("queue_depth %d\nqueue_limit %d\n", snapshot.QueueDepth, snapshot.QueueLimit)
		},
		func() any {
			snapshot := s.metrics.Snapshot()
			return outstandingView{QueueDepth: snapshot.QueueDepth, QueueLimit: snapshot.QueueLimit}
		})
	both("/proc/9p/short_writes",
		func() string {
			snapshot := s.metrics.Snapshot()
			return fmt.Sprintf("short_writes %d\nshort_write_retries %d\n", snapshot.ShortWrites, snapshot.ShortWriteRetries)
		},
		func() any {
			snapshot := s.metrics.Snapshot()
			return shortWritesView{ShortWrites: snapshot.ShortWrites, ShortWriteRetries: snapshot.ShortWriteRetries}
		})

	both("/proc/ingest/p50_ms",
		func() string { return fmt.Sprintf("%.3f\n", s.watch().P50Milliseconds) },
		func() any { return s.watch().P50Milliseconds })
	both("/proc/ingest/p95_ms",
		func() string { return fmt.Sprintf("%.3f\n", s.watch().P95Milliseconds) },
		func() any { return s.watch().P95Milliseconds })
	both("/proc/ingest/backpressure",
		func() string { return fmt.Sprintf("%d\n", s.watch().Backpressure) },
		func() any { return s.watch().Backpressure })
	both("/proc/ingest/queued",
		func() string { return fmt.Sprintf("%d\n", s.watch().Queued) },
		func() any { return s.watch().Queued })
	both("/proc/ingest/watch",
		func() string {
			watch := s.watch()
			return fmt.Sprintf("p50_ms=%.3f p95_ms=%.3f backpressure=%d queued=%d ui_denies=%d gate_denies=%d batches=%d\n",
				watch.P50Milliseconds, watch.P95Milliseconds, watch.Backpressure, watch.Queued,
				watch.UIDenies, watch.GateDenies, watch.Batches)
		},
		func() any { return s.watch() })

	renderers["/proc/lifecycle/state"] = func() []byte {
		return []byte(s.lifecycle.Snapshot().State.String() + "\n")
	}
	renderers["/proc/lifecycle/reason"] = func() []byte {
		return []byte(s.lifecycle.Snapshot().Reason + "\n")
	}
	renderers["/proc/lifecycle/since"] = func() []byte {
		return []byte(s.lifecycle.Snapshot().Since.UTC().Format(time.RFC3339Nano) + "\n")
	}
	return renderers
}

func (s *Server) encodeProc(path string, value any) []byte {
	encoded, err := codec.Marshal(value)
	if err != nil {
		s.logger.Error("encoding proc file failed", "path", path, "error", err)
		return []byte{}
	}
	return encoded
}

func (s *Server) sessionsView() sessionsView {
	var sessions []SessionInfo
	s.sessions.Range(func(_ uint64, session *Session) bool {
		sessions = append(sessions, session.Info())
		return true
	})
	slices.SortFunc(sessions, func(a, b SessionInfo) int { return cmp.Compare(a.ID, b.ID) })
	return sessionsView{Count: len(sessions), Sessions: sessions}
}

func (s *Server) sessionsText() string {
	view := s.sessionsView()
	var builder strings.Builder
	fmt.Fprintf(&builder, "sessions %d\n", view.Count)
	for _, info := range view.Sessions {
		fmt.Fprintf(&builder, "id=%d role=%s", info.ID, valueOr(info.Role, "-"))
		if info.Subject != "" {
			fmt.Fprintf(&builder, " subject=%s", info.Subject)
		}
		fmt.Fprintf(&builder, " msize=%d peer=%s\n", info.MaxSize, valueOr(info.Peer, "-"))
	}
	return builder.String()
}

func (s *Server) watch() watchView {
	snapshot := s.metrics.Snapshot()
	return watchView{
		P50Milliseconds: milliseconds(snapshot.P50),
		P95Milliseconds: milliseconds(snapshot.P95),
		Backpressure:    snapshot.BackpressureEvents,
		Queued:          snapshot.QueueDepth,
		UIDenies:        snapshot.UIDenies,
		GateDenies:      snapshot.GateDenies,
		Batches:         snapshot.Batches,
	}
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
