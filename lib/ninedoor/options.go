// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ninedoor

import (
	"crypto/ed25519"
	"log/slog"

	"github.com/bureau-foundation/ninedoor/lib/clock"
	"github.com/bureau-foundation/ninedoor/lib/metrics"
	"github.com/bureau-foundation/ninedoor/lib/namespace"
	"github.com/bureau-foundation/ninedoor/lib/replay"
	"github.com/bureau-foundation/ninedoor/lib/secure9p"
	"github.com/bureau-foundation/ninedoor/lib/session"
	"github.com/bureau-foundation/ninedoor/lib/telemetry"
)

// Default session bounds.
const (
	DefaultTagsPerSession = 64
	DefaultBatchFrames    = 8
	DefaultAuditRingBytes = 64 * 1024
)

// Options configures a Server. Zero values select the defaults.
type Options struct {
	// MaxMessageSize is the largest msize the server agrees to.
	MaxMessageSize uint32
	TagsPerSession int
	BatchFrames    int
	FidShards      int
	ShortWrite     session.ShortWriteConfig

	Namespace namespace.Options

	RingBytes   int
	Schema      telemetry.Schema
	StalePolicy telemetry.StalePolicy
	// CursorStatePath persists telemetry cursors when set.
	CursorStatePath string
	Segments        telemetry.SegmentLimits

	// TicketKey verifies attach tickets. Without it every ticketed
	// attach fails.
	TicketKey          ed25519.PublicKey
	RequireQueenTicket bool

	AuditRingBytes int
	JournalEntries int

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.MaxMessageSize == 0 {
		o.MaxMessageSize = secure9p.DefaultMaxMessageSize
	}
	if o.TagsPerSession <= 0 {
		o.TagsPerSession = DefaultTagsPerSession
	}
	if o.BatchFrames <= 0 {
		o.BatchFrames = DefaultBatchFrames
	}
	if o.ShortWrite == (session.ShortWriteConfig{}) {
		o.ShortWrite = session.DefaultShortWriteConfig()
	}
	if o.RingBytes <= 0 {
		o.RingBytes = telemetry.DefaultRingBytes
	}
	if o.Segments == (telemetry.SegmentLimits{}) {
		o.Segments = telemetry.DefaultSegmentLimits()
	}
	if o.AuditRingBytes <= 0 {
		o.AuditRingBytes = DefaultAuditRingBytes
	}
	if o.JournalEntries <= 0 {
		o.JournalEntries = replay.DefaultJournalEntries
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New(session.MaxDepth(o.TagsPerSession, o.BatchFrames))
	}
	return o
}
