// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

// Outcomes written by NineDoor components.
const (
	OutcomeAllow      = "allow"
	OutcomeDeny       = "deny"
	OutcomeDrop       = "drop"
	OutcomeEvict      = "evict"
	OutcomeStale      = "stale"
	OutcomeTransition = "transition"
)

// Sink receives formatted audit lines, without a trailing newline.
type Sink interface {
	WriteLine(line string)
}

// Log formats audit lines and fans them out to a logger and a sink.
// A nil *Log discards everything.
type Log struct {
	logger *slog.Logger
	sink   Sink
}

// New returns a Log writing to logger and sink. Either may be nil.
func New(logger *slog.Logger, sink Sink) *Log {
	return &Log{logger: logger, sink: sink}
}

// Record formats and emits one line. keyValues alternates keys and
// values; values are rendered with %v and quoted when they contain
// spaces, quotes, or '='. The formatted line is returned.
func (l *Log) Record(component, outcome string, keyValues ...any) string {
	line := Format(component, outcome, keyValues...)
	if l == nil {
		return line
	}
	if l.logger != nil {
		level := slog.LevelInfo
		switch outcome {
		case OutcomeDeny, OutcomeDrop, OutcomeEvict, OutcomeStale:
			level = slog.LevelWarn
		}
		attrs := append([]any{"component", component, "outcome", outcome}, keyValues...)
		l.logger.Log(context.Background(), level, "audit", attrs...)
	}
	if l.sink != nil {
		l.sink.WriteLine(line)
	}
	return line
}

// Deny records a denial with its reason.
func (l *Log) Deny(component, reason string, keyValues ...any) string {
	return l.Record(component, OutcomeDeny, append([]any{"reason", reason}, keyValues...)...)
}

// Format renders an audit line without emitting it.
func Format(component, outcome string, keyValues ...any) string {
	var builder strings.Builder
	builder.WriteString(component)
	builder.WriteString(" outcome=")
	builder.WriteString(outcome)
	for i := 0; i < len(keyValues); i += 2 {
		key := fmt.Sprint(keyValues[i])
		value := "<missing>"
		if i+1 < len(keyValues) {
			value = fmt.Sprint(keyValues[i+1])
		}
		builder.WriteByte(' ')
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(quote(value))
	}
	return builder.String()
}

func quote(value string) string {
	if value == "" || strings.ContainsAny(value, " \t\n\"=") {
		return strconv.Quote(value)
	}
	return value
}

// Buffer is a bounded in-memory Sink keeping the most recent lines.
type Buffer struct {
	mu    sync.Mutex
	limit int
	lines []string
}

// NewBuffer returns a Buffer retaining at most limit lines.
func NewBuffer(limit int) *Buffer {
	return &Buffer{limit: max(1, limit)}
}

// WriteLine implements Sink.
func (b *Buffer) WriteLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) == b.limit {
		b.lines = append(b.lines[:0], b.lines[1:]...)
	}
	b.lines = append(b.lines, line)
}

// Lines returns a copy of the retained lines, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

// Count returns how many retained lines start with prefix.
func (b *Buffer) Count(prefix string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, line := range b.lines {
		if strings.HasPrefix(line, prefix) {
			count++
		}
	}
	return count
}
