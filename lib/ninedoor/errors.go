// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ninedoor

import (
	"errors"

	"github.com/bureau-foundation/ninedoor/lib/lifecycle"
	"github.com/bureau-foundation/ninedoor/lib/namespace"
	"github.com/bureau-foundation/ninedoor/lib/secure9p"
	"github.com/bureau-foundation/ninedoor/lib/session"
	"github.com/bureau-foundation/ninedoor/lib/telemetry"
	"github.com/bureau-foundation/ninedoor/lib/ticket"
)

// Messages peers can match on.
const (
	messageQueueDepth = "queue depth exceeded"
	messageTagWindow  = "tag window exceeded"
	messageUnknownFid = "unknown fid"
	messageFidRetired = "fid retired"
	messageFidInUse   = "fid in use"
	messageStale      = "cursor stale"
)

// protocolError maps any error to the code and message a peer sees.
func protocolError(err error) *secure9p.Error {
	var protocol *secure9p.Error
	if errors.As(err, &protocol) {
		return protocol
	}

	var deny *ticket.DenyError
	if errors.As(err, &deny) {
		if deny.QuotaExhausted() {
			return secure9p.Errorf(secure9p.ErrorTooBig, "ELIMIT %s", deny.Reason)
		}
		return &secure9p.Error{Code: secure9p.ErrorPermission, Message: string(deny.Reason)}
	}

	var gate *lifecycle.GateDeniedError
	if errors.As(err, &gate) {
		return &secure9p.Error{Code: secure9p.ErrorBusy, Message: gate.Error()}
	}
	var leases *lifecycle.OutstandingLeasesError
	if errors.As(err, &leases) {
		return secure9p.Errorf(secure9p.ErrorBusy, "%d outstanding leases", leases.Count)
	}

	switch {
	case errors.Is(err, session.ErrFidUnknown):
		return &secure9p.Error{Code: secure9p.ErrorInvalid, Message: messageUnknownFid}
	case errors.Is(err, session.ErrFidRetired):
		return &secure9p.Error{Code: secure9p.ErrorClosed, Message: messageFidRetired}
	case errors.Is(err, session.ErrFidInUse):
		return &secure9p.Error{Code: secure9p.ErrorBusy, Message: messageFidInUse}
	case errors.Is(err, telemetry.ErrCursorStale):
		return &secure9p.Error{Code: secure9p.ErrorInvalid, Message: messageStale}
	case errors.Is(err, namespace.ErrNotFound), errors.Is(err, telemetry.ErrSegmentNotFound):
		return &secure9p.Error{Code: secure9p.ErrorNotFound, Message: err.Error()}
	case errors.Is(err, namespace.ErrBusy):
		return &secure9p.Error{Code: secure9p.ErrorBusy, Message: err.Error()}
	case errors.Is(err, namespace.ErrPermission):
		return &secure9p.Error{Code: secure9p.ErrorPermission, Message: err.Error()}
	case errors.Is(err, namespace.ErrTooBig), errors.Is(err, telemetry.ErrQuotaExceeded):
		return &secure9p.Error{Code: secure9p.ErrorTooBig, Message: err.Error()}
	}
	// Malformed paths, commands, frames, and transitions.
	return &secure9p.Error{Code: secure9p.ErrorInvalid, Message: err.Error()}
}
