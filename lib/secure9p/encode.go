// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secure9p

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode returns the wire bytes of one frame.
func Encode(frame Frame) ([]byte, error) {
	return AppendFrame(nil, frame)
}

// EncodeBatch concatenates the wire bytes of frames.
func EncodeBatch(frames []Frame) ([]byte, error) {
	var batch []byte
	for index, frame := range frames {
		var err error
		batch, err = AppendFrame(batch, frame)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", index, err)
		}
	}
	return batch, nil
}

// AppendFrame appends the wire bytes of frame to dst and returns the
// extended slice. On error dst is returned unchanged.
func AppendFrame(dst []byte, frame Frame) ([]byte, error) {
	if frame.Message == nil {
		return dst, ErrNilMessage
	}

	start := len(dst)
	buffer := append(dst, 0, 0, 0, 0, byte(frame.Message.Type()))
	buffer = binary.LittleEndian.AppendUint16(buffer, frame.Tag)

	buffer, err := appendBody(buffer, frame.Message)
	if err != nil {
		return dst[:start], err
	}

	size := len(buffer) - start
	if uint64(size) > math.MaxUint32 {
		return dst[:start], ErrFrameTooLarge
	}
	binary.LittleEndian.PutUint32(buffer[start:], uint32(size))
	return buffer, nil
}

func appendBody(buffer []byte, message Message) ([]byte, error) {
	var err error
	switch m := message.(type) {
	case Tversion:
		buffer = binary.LittleEndian.AppendUint32(buffer, m.MaxSize)
		buffer, err = appendString(buffer, m.Version)
	case Rversion:
		buffer = binary.LittleEndian.AppendUint32(buffer, m.MaxSize)
		buffer, err = appendString(buffer, m.Version)
	case Tattach:
		buffer = binary.LittleEndian.AppendUint32(buffer, m.Fid)
		buffer = binary.LittleEndian.AppendUint32(buffer, m.AuthFid)
		if buffer, err = appendString(buffer, m.Uname); err != nil {
			return buffer, err
		}
		if buffer, err = appendString(buffer, m.Aname); err != nil {
			return buffer, err
		}
		buffer = binary.LittleEndian.AppendUint32(buffer, m.NUname)
	case Rattach:
		buffer = appendQid(buffer, m.Qid)
	case Twalk:
		if len(m.Names) > MaxWalkElements {
			return buffer, ErrTooManyWalkElements
		}
		buffer = binary.LittleEndian.AppendUint32(buffer, m.Fid)
		buffer = binary.LittleEndian.AppendUint32(buffer, m.NewFid)
		buffer = binary.LittleEndian.AppendUint16(buffer, uint16(len(m.Names)))
		for _, name := range m.Names {
			if buffer, err = appendString(buffer, name); err != nil {
				return buffer, err
			}
		}
	case Rwalk:
		if len(m.Qids) > MaxWalkElements {
			return buffer, ErrTooManyWalkElements
		}
		buffer = binary.LittleEndian.AppendUint16(buffer, uint16(len(m.Qids)))
		for _, qid := range m.Qids {
			buffer = appendQid(buffer, qid)
		}
	case Topen:
		buffer = binary.LittleEndian.AppendUint32(buffer, m.Fid)
		buffer = append(buffer, byte(m.Mode))
	case Ropen:
		buffer = appendQid(buffer, m.Qid)
		buffer = binary.LittleEndian.AppendUint32(buffer, m.IOUnit)
	case Tread:
		buffer = binary.LittleEndian.AppendUint32(buffer, m.Fid)
		buffer = binary.LittleEndian.AppendUint64(buffer, m.Offset)
		buffer = binary.LittleEndian.AppendUint32(buffer, m.Count)
	case Rread:
		buffer, err = appendData(buffer, m.Data)
	case Twrite:
		buffer = binary.LittleEndian.AppendUint32(buffer, m.Fid)
		buffer = binary.LittleEndian.AppendUint64(buffer, m.Offset)
		buffer, err = appendData(buffer, m.Data)
	case Rwrite:
		buffer = binary.LittleEndian.AppendUint32(buffer, m.Count)
	case Tclunk:
		buffer = binary.LittleEndian.AppendUint32(buffer, m.Fid)
	case Rclunk:
	case Rerror:
		buffer = append(buffer, byte(m.Code))
		buffer, err = appendString(buffer, m.Message)
	default:
		return buffer, fmt.Errorf("secure9p: cannot encode %T", message)
	}
	return buffer, err
}

func appendString(buffer []byte, value string) ([]byte, error) {
	if len(value) > math.MaxUint16 {
		return buffer, ErrStringTooLong
	}
	buffer = binary.LittleEndian.AppendUint16(buffer, uint16(len(value)))
	return append(buffer, value...), nil
}

func appendData(buffer []byte, data []byte) ([]byte, error) {
	if uint64(len(data)) > math.MaxUint32 {
		return buffer, ErrFrameTooLarge
	}
	buffer = binary.LittleEndian.AppendUint32(buffer, uint32(len(data)))
	return append(buffer, data...), nil
}

func appendQid(buffer []byte, qid Qid) []byte {
	buffer = append(buffer, byte(qid.Type))
	buffer = binary.LittleEndian.AppendUint32(buffer, qid.Version)
	return binary.LittleEndian.AppendUint64(buffer, qid.Path)
}
