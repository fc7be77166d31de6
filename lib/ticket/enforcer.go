// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ticket

import (
	"fmt"
	"sync"

	"github.com/bureau-foundation/ninedoor/lib/audit"
	"github.com/bureau-foundation/ninedoor/lib/clock"
)

// Reason classifies a denial.
type Reason string

const (
	ReasonScope         Reason = "scope"
	ReasonBandwidth     Reason = "bandwidth"
	ReasonCursorResume  Reason = "cursor-resume"
	ReasonCursorAdvance Reason = "cursor-advance"
	ReasonExpired       Reason = "expired"
)

// DenyError is returned when the ticket layer refuses an operation.
type DenyError struct {
	Reason Reason
	Detail string
}

func (e *DenyError) Error() string {
	if e.Detail == "" {
		return "ticket: denied: " + string(e.Reason)
	}
	return "ticket: denied: " + string(e.Reason) + ": " + e.Detail
}

// QuotaExhausted reports whether the denial came from a quota rather
// than from scope or expiry.
func (e *DenyError) QuotaExhausted() bool {
	switch e.Reason {
	case ReasonBandwidth, ReasonCursorResume, ReasonCursorAdvance:
		return true
	}
	return false
}

// Request describes one gated operation.
type Request struct {
	Path string
	Verb Verb
	// Bytes is charged against the bandwidth quota.
	Bytes uint64
	// CursorResume and CursorAdvance charge the cursor quotas.
	CursorResume  bool
	CursorAdvance bool
}

// Usage is what a session has consumed so far.
type Usage struct {
	BandwidthBytes uint64
	CursorResumes  uint64
	CursorAdvances uint64
}

// EnforcerOptions wires an Enforcer to its surroundings.
type EnforcerOptions struct {
	Clock clock.Clock
	Audit *audit.Log
	// Session labels audit lines.
	Session uint64
	// OnDeny is called once per denial, after the audit line is
	// written.
	OnDeny func(Reason)
}

// Enforcer admits one session's operations against its claims.
type Enforcer struct {
	mutex   sync.Mutex
	claims  *Claims
	options EnforcerOptions
	usage   Usage
}

// NewEnforcer returns an enforcer for claims. Nil claims admit every
// operation; that is how an unticketed queen session runs.
func NewEnforcer(claims *Claims, options EnforcerOptions) *Enforcer {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	return &Enforcer{claims: claims, options: options}
}

// Claims returns the session's claims, or nil when unrestricted.
func (e *Enforcer) Claims() *Claims { return e.claims }

// Usage returns the consumption recorded so far.
func (e *Enforcer) Usage() Usage {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.usage
}

// CheckExpiry fails with a ReasonExpired DenyError once the ticket has
// expired.
func (e *Enforcer) CheckExpiry() error {
	if e.claims == nil {
		return nil
	}
	if e.claims.Expired(e.options.Clock.Now()) {
		return e.deny(ReasonExpired, "", fmt.Sprintf("ticket expired at %s", e.claims.ExpiresAt().UTC().Format("2006-01-02T15:04:05Z")))
	}
	return nil
}

// Admit is Check followed by Commit.
func (e *Enforcer) Admit(request Request) error {
	if err := e.Check(request); err != nil {
		return err
	}
	e.Commit(request)
	return nil
}

// Check evaluates expiry, scope, and quotas for request without
// charging anything. Callers that can still fail after admission call
// Commit only once the operation has taken effect.
func (e *Enforcer) Check(request Request) error {
	if e.claims == nil {
		return nil
	}
	if err := e.CheckExpiry(); err != nil {
		return err
	}
	if !e.claims.Allows(request.Path, request.Verb) {
		return e.deny(ReasonScope, request.Path, fmt.Sprintf("no scope grants %s on %s", request.Verb, request.Path))
	}

	e.mutex.Lock()
	quotas := e.claims.Quotas
	var reason Reason
	var detail string
	switch {
	case quotas.BandwidthBytes != nil && e.usage.BandwidthBytes+request.Bytes > *quotas.BandwidthBytes:
		reason = ReasonBandwidth
		detail = fmt.Sprintf("bandwidth %d+%d exceeds %d", e.usage.BandwidthBytes, request.Bytes, *quotas.BandwidthBytes)
	case request.CursorResume && quotas.CursorResumes != nil && e.usage.CursorResumes >= *quotas.CursorResumes:
		reason = ReasonCursorResume
		detail = fmt.Sprintf("cursor resumes exhausted at %d", *quotas.CursorResumes)
	case request.CursorAdvance && quotas.CursorAdvances != nil && e.usage.CursorAdvances >= *quotas.CursorAdvances:
		reason = ReasonCursorAdvance
		detail = fmt.Sprintf("cursor advances exhausted at %d", *quotas.CursorAdvances)
	}
	e.mutex.Unlock()

	if reason != "" {
		return e.deny(reason, request.Path, detail)
	}
	return nil
}

// Commit charges request against the quotas. A session's requests are
// dispatched one at a time, so nothing is admitted between a Check and
// its Commit.
func (e *Enforcer) Commit(request Request) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.charge(request)
}

func (e *Enforcer) charge(request Request) {
	e.usage.BandwidthBytes += request.Bytes
	if request.CursorResume {
		e.usage.CursorResumes++
	}
	if request.CursorAdvance {
		e.usage.CursorAdvances++
	}
}

func (e *Enforcer) deny(reason Reason, path, detail string) error {
	keyValues := []any{"session", e.options.Session}
	if e.claims != nil {
		keyValues = append(keyValues, "ticket", e.claims.ID, "role", e.claims.Role)
		if e.claims.Subject != "" {
			keyValues = append(keyValues, "subject", e.claims.Subject)
		}
	}
	if path != "" {
		keyValues = append(keyValues, "path", path)
	}
	e.options.Audit.Deny("ui-ticket", string(reason), keyValues...)
	if e.options.OnDeny != nil {
		e.options.OnDeny(reason)
	}
	return &DenyError{Reason: reason, Detail: detail}
}
