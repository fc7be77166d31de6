// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secure9p

import (
	"errors"
	"fmt"
)

// ErrorCode is the closed set of failure classes a peer can observe.
// There is no extension mechanism: unknown codes are a decode error.
type ErrorCode uint8

const (
	ErrorPermission ErrorCode = iota + 1
	ErrorNotFound
	ErrorBusy
	ErrorInvalid
	ErrorTooBig
	ErrorClosed
)

func (c ErrorCode) valid() bool { return c >= ErrorPermission && c <= ErrorClosed }

func (c ErrorCode) String() string {
	switch c {
	case ErrorPermission:
		return "permission"
	case ErrorNotFound:
		return "not-found"
	case ErrorBusy:
		return "busy"
	case ErrorInvalid:
		return "invalid"
	case ErrorTooBig:
		return "too-big"
	case ErrorClosed:
		return "closed"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint8(c))
	}
}

// Error is a protocol-level failure. It travels to the peer as an
// Rerror and never aborts the transport.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return e.Code.String() + ": " + e.Message
}

// Errorf builds an *Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Response converts the error into its wire form.
func (e *Error) Response() Rerror {
	return Rerror{Code: e.Code, Message: e.Message}
}

// Encoding errors. These indicate a bug in the caller, not hostile
// input: the server only encodes messages it built itself.
var (
	ErrNilMessage          = errors.New("secure9p: frame has no message")
	ErrStringTooLong       = errors.New("secure9p: string exceeds 65535 bytes")
	ErrTooManyWalkElements = errors.New("secure9p: more than 16 walk elements")
	ErrFrameTooLarge       = errors.New("secure9p: frame exceeds 4 GiB")
)

// DecodeErrorKind classifies a decode failure.
type DecodeErrorKind uint8

const (
	// DecodeTruncated: the input ends before the frame does.
	DecodeTruncated DecodeErrorKind = iota + 1
	// DecodeBadSize: the size field is smaller than a header.
	DecodeBadSize
	// DecodeTooLarge: the size field exceeds the negotiated msize.
	DecodeTooLarge
	// DecodeUnknownType: the type byte names no Secure9P message.
	DecodeUnknownType
	// DecodeMalformed: a body field is out of range or overruns the
	// frame.
	DecodeMalformed
	// DecodeTrailingBytes: the body is longer than its fields.
	DecodeTrailingBytes
)

func (k DecodeErrorKind) String() string {
	switch k {
	case DecodeTruncated:
		return "truncated"
	case DecodeBadSize:
		return "bad size"
	case DecodeTooLarge:
		return "too large"
	case DecodeUnknownType:
		return "unknown type"
	case DecodeMalformed:
		return "malformed"
	case DecodeTrailingBytes:
		return "trailing bytes"
	default:
		return fmt.Sprintf("DecodeErrorKind(%d)", uint8(k))
	}
}

// DecodeError describes why a frame could not be decoded.
//
// When HasTag is set the frame's header was intact and Tag identifies
// the request, so the caller can answer it with an Rerror. Framed is
// set when the size field was usable and the decoder could step over
// the bad frame to the next one.
//
// Offset locates the failure. Size and type errors point at the start
// of the frame; body errors point at the field that failed. Decode
// reports it relative to the frame and BatchIterator relative to the
// batch.
type DecodeError struct {
	Kind   DecodeErrorKind
	Offset int
	Tag    uint16
	HasTag bool
	Framed bool
	Detail string
}

func (e *DecodeError) Error() string {
	message := fmt.Sprintf("secure9p: decode %s at offset %d", e.Kind, e.Offset)
	if e.HasTag {
		message += fmt.Sprintf(" (tag %d)", e.Tag)
	}
	if e.Detail != "" {
		message += ": " + e.Detail
	}
	return message
}

// Is matches another *DecodeError of the same kind, so callers can
// write errors.Is(err, secure9p.ErrTruncated).
func (e *DecodeError) Is(target error) bool {
	other, ok := target.(*DecodeError)
	return ok && other.Kind == e.Kind
}

// Sentinels for errors.Is comparisons against a decode failure kind.
var (
	ErrTruncated     = &DecodeError{Kind: DecodeTruncated}
	ErrBadSize       = &DecodeError{Kind: DecodeBadSize}
	ErrTooLarge      = &DecodeError{Kind: DecodeTooLarge}
	ErrUnknownType   = &DecodeError{Kind: DecodeUnknownType}
	ErrMalformed     = &DecodeError{Kind: DecodeMalformed}
	ErrTrailingBytes = &DecodeError{Kind: DecodeTrailingBytes}
)
