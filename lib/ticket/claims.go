// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ticket

import (
	"fmt"
	"strings"
	"time"
)

// Role is the kind of peer a ticket admits.
type Role string

const (
	RoleQueen           Role = "queen"
	RoleWorkerHeartbeat Role = "worker-heartbeat"
	RoleWorkerGPU       Role = "worker-gpu"
)

// ParseRole maps an attach user name to a Role.
func ParseRole(value string) (Role, error) {
	switch role := Role(value); role {
	case RoleQueen, RoleWorkerHeartbeat, RoleWorkerGPU:
		return role, nil
	default:
		return "", fmt.Errorf("ticket: unknown role %q", value)
	}
}

// IsWorker reports whether the role belongs to a worker.
func (r Role) IsWorker() bool {
	return r == RoleWorkerHeartbeat || r == RoleWorkerGPU
}

// Verb is the access a scope grants.
type Verb string

const (
	VerbRead      Verb = "read"
	VerbWrite     Verb = "write"
	VerbReadWrite Verb = "readwrite"
)

// Covers reports whether a scope verb v permits the requested verb.
func (v Verb) Covers(requested Verb) bool {
	return v == requested || v == VerbReadWrite
}

// Scope grants a verb over every path equal to or beneath PathPrefix.
type Scope struct {
	PathPrefix string `cbor:"1,keyasint"`
	Verb       Verb   `cbor:"2,keyasint"`
	// Extra carries issuer-defined qualifiers NineDoor passes through
	// without interpreting.
	Extra string `cbor:"3,keyasint,omitempty"`
}

// Matches reports whether the scope covers path for verb.
func (s Scope) Matches(path string, verb Verb) bool {
	return s.Verb.Covers(verb) && withinPrefix(path, s.PathPrefix)
}

func withinPrefix(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" || path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

// Quotas bounds a session's consumption. A nil field is unlimited.
type Quotas struct {
	// BandwidthBytes bounds bytes read plus bytes written.
	BandwidthBytes *uint64 `cbor:"1,keyasint,omitempty"`
	// CursorResumes bounds telemetry reads that seek away from the
	// reader's cursor.
	CursorResumes *uint64 `cbor:"2,keyasint,omitempty"`
	// CursorAdvances bounds telemetry reads that continue from the
	// reader's cursor and return data.
	CursorAdvances *uint64 `cbor:"3,keyasint,omitempty"`
}

// Claims is the signed content of a ticket.
type Claims struct {
	// ID identifies the ticket in audit lines.
	ID   string `cbor:"1,keyasint"`
	Role Role   `cbor:"2,keyasint"`
	// Subject names the worker a worker ticket is bound to. Empty for
	// queen tickets.
	Subject string  `cbor:"3,keyasint,omitempty"`
	Scopes  []Scope `cbor:"4,keyasint,omitempty"`
	Quotas  Quotas  `cbor:"5,keyasint"`
	// IssuedAt is a Unix timestamp in seconds.
	IssuedAt int64 `cbor:"6,keyasint"`
	// TTL is the lifetime in seconds. Zero never expires.
	TTL uint64 `cbor:"7,keyasint"`
}

// lastExpiry is the latest expiry instant a ticket can carry,
// 9999-12-31T23:59:59Z. Larger TTLs are clamped to it.
const lastExpiry = 253402300799

// expirySeconds is IssuedAt+TTL in Unix seconds, clamped to
// lastExpiry so huge TTLs cannot wrap.
func (c *Claims) expirySeconds() int64 {
	if c.IssuedAt >= lastExpiry {
		return lastExpiry
	}
	// Unsigned arithmetic keeps the sum exact for any IssuedAt below
	// lastExpiry, including negative ones.
	if c.TTL >= uint64(lastExpiry)-uint64(c.IssuedAt) {
		return lastExpiry
	}
	return int64(uint64(c.IssuedAt) + c.TTL)
}

// ExpiresAt is the instant the ticket stops being valid. The zero
// time is returned for tickets that never expire.
func (c *Claims) ExpiresAt() time.Time {
	if c.TTL == 0 {
		return time.Time{}
	}
	return time.Unix(c.expirySeconds(), 0)
}

// Expired reports whether the ticket is no longer valid at now.
func (c *Claims) Expired(now time.Time) bool {
	return c.TTL != 0 && now.Unix() >= c.expirySeconds()
}

// Allows reports whether any scope covers path for verb.
func (c *Claims) Allows(path string, verb Verb) bool {
	for _, scope := range c.Scopes {
		if scope.Matches(path, verb) {
			return true
		}
	}
	return false
}

// Uint64 returns a pointer to value, for building Quotas literals.
func Uint64(value uint64) *uint64 { return &value }
