// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ticket verifies and enforces the capability tickets peers
// present when attaching to NineDoor.
//
// A ticket is a CBOR-encoded Claims payload followed by a 64-byte
// Ed25519 signature, carried in the attach name as unpadded base64url
// text. Issuance happens elsewhere; Mint exists for tooling and tests.
//
// An Enforcer holds one session's claims and the quota it has consumed.
// Every gated operation is admitted only if the ticket is unexpired, a
// scope covers the path and verb, and the relevant quotas have room.
// Consumption is monotonic for the life of the session. Denials are
// written to the audit trail as
//
//	ui-ticket outcome=deny reason=<scope|bandwidth|cursor-resume|cursor-advance|expired>
package ticket
