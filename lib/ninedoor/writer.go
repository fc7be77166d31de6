// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ninedoor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/ninedoor/lib/clock"
	"github.com/bureau-foundation/ninedoor/lib/metrics"
	"github.com/bureau-foundation/ninedoor/lib/session"
)

var (
	// ErrShortWrite is returned under the reject policy when the
	// transport accepts fewer bytes than offered.
	ErrShortWrite = fmt.Errorf("ninedoor: short write: %w", io.ErrShortWrite)

	// ErrWriteZero is returned under the retry policy once the retry
	// budget is spent with bytes still unwritten.
	ErrWriteZero = errors.New("ninedoor: transport stopped accepting bytes")
)

// ShortWriter applies the short-write policy to a transport writer.
type ShortWriter struct {
	writer  io.Writer
	config  session.ShortWriteConfig
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewShortWriter wraps writer.
func NewShortWriter(writer io.Writer, config session.ShortWriteConfig, clk clock.Clock, counters *metrics.Metrics, logger *slog.Logger) *ShortWriter {
	return &ShortWriter{writer: writer, config: config, clock: clk, metrics: counters, logger: logger}
}

// Write writes all of data or fails. A write that returns fewer bytes
// than offered, with no error or with io.ErrShortWrite, is a short
// write: it is counted, and then either fails (reject) or is retried
// after a backoff (retry). Any other error is returned at once.
func (w *ShortWriter) Write(data []byte) (int, error) {
	written := 0
	for attempt := 0; ; attempt++ {
		n, err := w.writer.Write(data[written:])
		written += n
		if written == len(data) {
			return written, nil
		}
		if err != nil && !errors.Is(err, io.ErrShortWrite) {
			return written, err
		}

		w.metrics.ShortWrite()
		if w.config.Policy == session.ShortWriteReject {
			return written, fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, written, len(data))
		}
		if attempt >= w.config.Retries {
			return written, fmt.Errorf("%w: %d of %d bytes after %d retries", ErrWriteZero, written, len(data), attempt)
		}
		backoff := w.config.BackoffFor(attempt)
		w.logger.Debug("short write, retrying", "written", written, "total", len(data), "attempt", attempt+1, "backoff", backoff)
		w.metrics.ShortWriteRetry()
		w.clock.Sleep(backoff)
	}
}
