// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"strings"
	"time"
)

// ShortWritePolicy selects how the transport boundary reacts when a
// write accepts fewer bytes than requested.
type ShortWritePolicy int

const (
	// ShortWriteReject treats a short write as a fatal transport error.
	ShortWriteReject ShortWritePolicy = iota
	// ShortWriteRetry resends the remainder with exponential backoff.
	ShortWriteRetry
)

func (p ShortWritePolicy) String() string {
	switch p {
	case ShortWriteReject:
		return "reject"
	case ShortWriteRetry:
		return "retry"
	default:
		return fmt.Sprintf("ShortWritePolicy(%d)", int(p))
	}
}

// ParseShortWritePolicy accepts "reject" or "retry" in any case.
func ParseShortWritePolicy(value string) (ShortWritePolicy, error) {
	switch strings.ToLower(value) {
	case "reject":
		return ShortWriteReject, nil
	case "retry":
		return ShortWriteRetry, nil
	default:
		return 0, fmt.Errorf("session: unknown short-write policy %q", value)
	}
}

const (
	// DefaultShortWriteRetries is the retry budget under ShortWriteRetry.
	DefaultShortWriteRetries = 3
	// DefaultShortWriteBackoff is the delay before the first retry.
	DefaultShortWriteBackoff = 5 * time.Millisecond
)

// ShortWriteConfig is the short-write policy with its retry budget.
type ShortWriteConfig struct {
	Policy  ShortWritePolicy
	Retries int
	Backoff time.Duration
}

// DefaultShortWriteConfig retries three times starting at 5ms.
func DefaultShortWriteConfig() ShortWriteConfig {
	return ShortWriteConfig{
		Policy:  ShortWriteRetry,
		Retries: DefaultShortWriteRetries,
		Backoff: DefaultShortWriteBackoff,
	}
}

// BackoffFor is the delay before retry number attempt, counting from
// zero: Backoff, 2*Backoff, 4*Backoff, and so on.
func (c ShortWriteConfig) BackoffFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return c.Backoff << attempt
}
