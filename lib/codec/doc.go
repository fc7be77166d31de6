// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides NineDoor's standard CBOR encoding configuration.
//
// NineDoor speaks two serialization formats with a clear boundary:
//
//   - The Secure9P binary frame layout (lib/secure9p) on the wire.
//   - CBOR for structured payloads carried inside that protocol or kept
//     on disk: capability tickets, the ".cbor" variants of the /proc
//     observability files, and the persisted telemetry cursor state.
//
// JSON remains the format for operator-authored control lines
// (/queen/ctl, /replay/ctl) and the /replay/status document.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. Same
// logical data always produces identical bytes, which matters for
// tickets because the signature covers the encoded payload.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// # Struct Tag Rules
//
//   - `cbor` tag: the type is only ever serialized as CBOR (ticket
//     claims, cursor state).
//   - `json` tag: the type may be serialized as both JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor` tags
//     are absent, so /proc snapshots rendered in both text-adjacent JSON
//     and CBOR forms carry a single `json` tag.
//
// Never use both tags on the same field.
package codec
