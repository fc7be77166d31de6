// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secure9p

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// Decode reads one frame from the front of data. It returns the frame
// and the number of bytes it occupied.
//
// Frames whose declared size exceeds maxSize are rejected without
// reading the body. A maxSize of zero disables that bound.
//
// On failure the error is always a *DecodeError. When its Framed field
// is set, consumed is the declared frame size and the caller may skip
// ahead to the next frame; otherwise consumed is zero and the rest of
// data cannot be trusted.
func Decode(data []byte, maxSize uint32) (Frame, int, error) {
	if len(data) < 4 {
		return Frame{}, 0, &DecodeError{Kind: DecodeTruncated, Detail: "short size field"}
	}
	size := binary.LittleEndian.Uint32(data)
	if size < HeaderSize {
		return Frame{}, 0, &DecodeError{
			Kind:   DecodeBadSize,
			Detail: fmt.Sprintf("size %d below header size", size),
		}
	}
	if maxSize != 0 && size > maxSize {
		decodeErr := &DecodeError{
			Kind:   DecodeTooLarge,
			Detail: fmt.Sprintf("size %d exceeds msize %d", size, maxSize),
		}
		if uint64(size) <= uint64(len(data)) {
			decodeErr.Framed = true
			decodeErr.Tag = binary.LittleEndian.Uint16(data[5:])
			decodeErr.HasTag = true
			return Frame{}, int(size), decodeErr
		}
		if len(data) >= HeaderSize {
			decodeErr.Tag = binary.LittleEndian.Uint16(data[5:])
			decodeErr.HasTag = true
		}
		return Frame{}, 0, decodeErr
	}
	if uint64(size) > uint64(len(data)) {
		decodeErr := &DecodeError{
			Kind:   DecodeTruncated,
			Detail: fmt.Sprintf("size %d, have %d bytes", size, len(data)),
		}
		if len(data) >= HeaderSize {
			decodeErr.Tag = binary.LittleEndian.Uint16(data[5:])
			decodeErr.HasTag = true
		}
		return Frame{}, 0, decodeErr
	}

	frameBytes := data[:size]
	messageType := MessageType(frameBytes[4])
	tag := binary.LittleEndian.Uint16(frameBytes[5:])

	r := reader{data: frameBytes, offset: HeaderSize}
	message := decodeBody(messageType, &r)
	if r.err == nil && message != nil && r.offset != len(frameBytes) {
		r.fail(DecodeTrailingBytes, fmt.Sprintf("%d bytes after %s body", len(frameBytes)-r.offset, messageType))
	}
	if message == nil && r.err == nil {
		r.err = &DecodeError{Kind: DecodeUnknownType, Detail: fmt.Sprintf("type byte %d", uint8(messageType))}
	}
	if r.err != nil {
		r.err.Tag = tag
		r.err.HasTag = true
		r.err.Framed = true
		return Frame{}, int(size), r.err
	}
	return Frame{Tag: tag, Message: message}, int(size), nil
}

// DecodeFrame decodes data that must hold exactly one frame.
func DecodeFrame(data []byte, maxSize uint32) (Frame, error) {
	frame, consumed, err := Decode(data, maxSize)
	if err != nil {
		return Frame{}, err
	}
	if consumed != len(data) {
		return Frame{}, &DecodeError{
			Kind:   DecodeTrailingBytes,
			Offset: consumed,
			Tag:    frame.Tag,
			HasTag: true,
			Framed: true,
			Detail: fmt.Sprintf("%d bytes after frame", len(data)-consumed),
		}
	}
	return frame, nil
}

func decodeBody(messageType MessageType, r *reader) Message {
	switch messageType {
	case TypeTversion:
		return Tversion{MaxSize: r.uint32(), Version: r.string()}
	case TypeRversion:
		return Rversion{MaxSize: r.uint32(), Version: r.string()}
	case TypeTattach:
		return Tattach{
			Fid:     r.uint32(),
			AuthFid: r.uint32(),
			Uname:   r.string(),
			Aname:   r.string(),
			NUname:  r.uint32(),
		}
	case TypeRattach:
		return Rattach{Qid: r.qid()}
	case TypeTwalk:
		message := Twalk{Fid: r.uint32(), NewFid: r.uint32()}
		count := r.walkCount()
		for range count {
			message.Names = append(message.Names, r.string())
		}
		return message
	case TypeRwalk:
		var message Rwalk
		count := r.walkCount()
		for range count {
			message.Qids = append(message.Qids, r.qid())
		}
		return message
	case TypeTopen:
		message := Topen{Fid: r.uint32()}
		at := r.offset
		message.Mode = OpenMode(r.uint8())
		if r.err == nil && !message.Mode.valid() {
			r.failAt(at, DecodeMalformed, fmt.Sprintf("open mode %d", uint8(message.Mode)))
		}
		return message
	case TypeRopen:
		return Ropen{Qid: r.qid(), IOUnit: r.uint32()}
	case TypeTread:
		return Tread{Fid: r.uint32(), Offset: r.uint64(), Count: r.uint32()}
	case TypeRread:
		return Rread{Data: r.payload()}
	case TypeTwrite:
		return Twrite{Fid: r.uint32(), Offset: r.uint64(), Data: r.payload()}
	case TypeRwrite:
		return Rwrite{Count: r.uint32()}
	case TypeTclunk:
		return Tclunk{Fid: r.uint32()}
	case TypeRclunk:
		return Rclunk{}
	case TypeRerror:
		at := r.offset
		message := Rerror{Code: ErrorCode(r.uint8())}
		if r.err == nil && !message.Code.valid() {
			r.failAt(at, DecodeMalformed, fmt.Sprintf("error code %d", uint8(message.Code)))
		}
		message.Message = r.string()
		return message
	default:
		return nil
	}
}

// reader walks one frame's body. The first failure sticks; later reads
// return zero values so decodeBody can stay linear.
type reader struct {
	data   []byte
	offset int
	err    *DecodeError
}

func (r *reader) fail(kind DecodeErrorKind, detail string) {
	if r.err == nil {
		r.err = &DecodeError{Kind: kind, Offset: r.offset, Detail: detail}
	}
}

// failAt records a failure for a field that began at offset and has
// already been consumed.
func (r *reader) failAt(offset int, kind DecodeErrorKind, detail string) {
	r.offset = offset
	r.fail(kind, detail)
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.data)-r.offset {
		r.fail(DecodeMalformed, fmt.Sprintf("field of %d bytes overruns frame", n))
		return nil
	}
	field := r.data[r.offset : r.offset+n]
	r.offset += n
	return field
}

func (r *reader) uint8() uint8 {
	field := r.take(1)
	if field == nil {
		return 0
	}
	return field[0]
}

func (r *reader) uint16() uint16 {
	field := r.take(2)
	if field == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(field)
}

func (r *reader) uint32() uint32 {
	field := r.take(4)
	if field == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(field)
}

func (r *reader) uint64() uint64 {
	field := r.take(8)
	if field == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(field)
}

// string reads a length-prefixed UTF-8 string.
func (r *reader) string() string {
	at := r.offset
	length := r.uint16()
	field := r.take(int(length))
	if r.err != nil {
		return ""
	}
	if !utf8.Valid(field) {
		r.failAt(at, DecodeMalformed, "string is not valid UTF-8")
		return ""
	}
	return string(field)
}

// payload reads a count[4]-prefixed byte payload. The result is copied
// so it never aliases the caller's buffer.
func (r *reader) payload() []byte {
	at := r.offset
	length := r.uint32()
	if r.err != nil {
		return nil
	}
	if uint64(length) > uint64(len(r.data)-r.offset) {
		r.failAt(at, DecodeMalformed, fmt.Sprintf("data count %d overruns frame", length))
		return nil
	}
	field := r.take(int(length))
	if len(field) == 0 {
		return nil
	}
	return append([]byte(nil), field...)
}

func (r *reader) walkCount() int {
	at := r.offset
	count := r.uint16()
	if r.err == nil && count > MaxWalkElements {
		r.failAt(at, DecodeMalformed, fmt.Sprintf("%d walk elements", count))
		return 0
	}
	return int(count)
}

func (r *reader) qid() Qid {
	at := r.offset
	qidType := QidType(r.uint8())
	if r.err == nil && !qidType.valid() {
		r.failAt(at, DecodeMalformed, fmt.Sprintf("qid type %#x", uint8(qidType)))
	}
	return Qid{Type: qidType, Version: r.uint32(), Path: r.uint64()}
}
