// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/ninedoor/lib/clock"
	"github.com/bureau-foundation/ninedoor/lib/config"
	"github.com/bureau-foundation/ninedoor/lib/namespace"
	"github.com/bureau-foundation/ninedoor/lib/ninedoor"
	"github.com/bureau-foundation/ninedoor/lib/session"
	"github.com/bureau-foundation/ninedoor/lib/telemetry"
	"github.com/bureau-foundation/ninedoor/lib/ticket"
)

// buildOptions converts a validated config into server options.
func buildOptions(cfg *config.Config, logger *slog.Logger) (ninedoor.Options, error) {
	policy, err := session.ParseShortWritePolicy(cfg.Secure9P.ShortWrite.Policy)
	if err != nil {
		return ninedoor.Options{}, err
	}
	schema, err := telemetry.ParseSchema(cfg.Telemetry.Schema)
	if err != nil {
		return ninedoor.Options{}, err
	}
	stalePolicy, err := telemetry.ParseStalePolicy(cfg.Telemetry.StalePolicy)
	if err != nil {
		return ninedoor.Options{}, err
	}
	eviction, err := telemetry.ParseEvictionPolicy(cfg.Telemetry.Segments.Policy)
	if err != nil {
		return ninedoor.Options{}, err
	}

	options := ninedoor.Options{
		MaxMessageSize: cfg.Secure9P.MaxMessageSize,
		TagsPerSession: cfg.Secure9P.TagsPerSession,
		BatchFrames:    cfg.Secure9P.BatchFrames,
		FidShards:      cfg.Secure9P.FidShards,
		ShortWrite: session.ShortWriteConfig{
			Policy:  policy,
			Retries: cfg.Secure9P.ShortWrite.Retries,
			Backoff: cfg.ShortWriteBackoff(),
		},
		Namespace: namespace.Options{
			MaxDepth:     cfg.Namespace.MaxDepth,
			MaxFileBytes: cfg.Namespace.MaxFileBytes,
		},
		RingBytes:       cfg.Telemetry.RingBytes,
		Schema:          schema,
		StalePolicy:     stalePolicy,
		CursorStatePath: cfg.Telemetry.CursorState,
		Segments: telemetry.SegmentLimits{
			MaxSegmentsPerDevice:   cfg.Telemetry.Segments.MaxSegments,
			MaxBytesPerSegment:     cfg.Telemetry.Segments.MaxBytes,
			MaxTotalBytesPerDevice: cfg.Telemetry.Segments.MaxTotalBytes,
			Policy:                 eviction,
		},
		RequireQueenTicket: cfg.Tickets.RequireQueenTicket,
		AuditRingBytes:     cfg.Audit.RingBytes,
		JournalEntries:     cfg.Replay.JournalEntries,
		Clock:              clock.Real(),
		Logger:             logger,
	}
	if cfg.Tickets.PublicKey != "" {
		key, err := ticket.LoadPublicKey(cfg.Tickets.PublicKey)
		if err != nil {
			return ninedoor.Options{}, err
		}
		options.TicketKey = key
	}
	return options, nil
}

// newLogger builds the process logger. The auto format picks
// slog.TextHandler when output is a terminal and slog.JSONHandler
// otherwise.
func newLogger(cfg config.LogConfig, output *os.File) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	return slog.New(newHandler(cfg.Format, output, term.IsTerminal(int(output.Fd())), level)), nil
}

func newHandler(format string, output io.Writer, terminal bool, level slog.Level) slog.Handler {
	options := &slog.HandlerOptions{Level: level}
	if format == "text" || (format == "auto" && terminal) {
		return slog.NewTextHandler(output, options)
	}
	return slog.NewJSONHandler(output, options)
}
