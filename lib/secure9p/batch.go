// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secure9p

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
)

// BatchIterator walks the frames of a batch in order. A frame that
// fails to decode is reported and then skipped when its size field was
// usable; an unusable size field ends the iteration.
type BatchIterator struct {
	data    []byte
	offset  int
	maxSize uint32
	done    bool
}

// NewBatchIterator returns an iterator over data. Frames larger than
// maxSize are reported as DecodeTooLarge; zero disables the bound.
func NewBatchIterator(data []byte, maxSize uint32) *BatchIterator {
	return &BatchIterator{data: data, maxSize: maxSize}
}

// Next returns the next frame. It returns io.EOF once the batch is
// exhausted or after an error that prevents locating further frames.
// Decode failures are returned as *DecodeError with Offset relative to
// the start of the batch.
func (it *BatchIterator) Next() (Frame, error) {
	if it.done || it.offset >= len(it.data) {
		it.done = true
		return Frame{}, io.EOF
	}

	start := it.offset
	frame, consumed, err := Decode(it.data[start:], it.maxSize)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			decodeErr.Offset += start
			if decodeErr.Framed && consumed > 0 {
				it.offset += consumed
			} else {
				it.done = true
			}
		} else {
			it.done = true
		}
		return Frame{}, err
	}
	it.offset += consumed
	return frame, nil
}

// Offset is the byte position of the next frame.
func (it *BatchIterator) Offset() int { return it.offset }

// All yields every frame and decode error until the batch is
// exhausted.
func (it *BatchIterator) All() iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			frame, err := it.Next()
			if err == io.EOF {
				return
			}
			if !yield(frame, err) {
				return
			}
		}
	}
}

// ReadBatch reads the next batch from a byte stream. It blocks for one
// complete frame and then takes every further complete frame already
// buffered in reader, up to maxFrames. The result is the raw batch,
// ready for NewBatchIterator.
//
// A size field below the header size or above maxSize cannot be
// resynchronised on a stream, so it is returned as a *DecodeError and
// the connection should be closed. When good frames precede it they
// are returned first and the error comes from the following call.
func ReadBatch(reader *bufio.Reader, maxFrames int, maxSize uint32) ([]byte, error) {
	if maxFrames < 1 {
		maxFrames = 1
	}

	var batch []byte
	for count := 0; count < maxFrames; count++ {
		if count > 0 && reader.Buffered() < 4 {
			break
		}
		header, err := reader.Peek(4)
		if err != nil {
			if count > 0 {
				break
			}
			if err == io.EOF && len(header) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		size := binary.LittleEndian.Uint32(header)
		if count > 0 && (size < HeaderSize || (maxSize != 0 && size > maxSize)) {
			// Answer the frames already read; the next call reports
			// the bad size.
			break
		}
		if size < HeaderSize {
			return nil, &DecodeError{
				Kind:   DecodeBadSize,
				Offset: len(batch),
				Detail: fmt.Sprintf("size %d below header size", size),
			}
		}
		if maxSize != 0 && size > maxSize {
			return nil, &DecodeError{
				Kind:   DecodeTooLarge,
				Offset: len(batch),
				Detail: fmt.Sprintf("size %d exceeds msize %d", size, maxSize),
			}
		}
		if count > 0 && reader.Buffered() < int(size) {
			break
		}

		start := len(batch)
		batch = append(batch, make([]byte, size)...)
		if _, err := io.ReadFull(reader, batch[start:]); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
	return batch, nil
}
