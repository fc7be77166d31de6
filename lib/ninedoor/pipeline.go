// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ninedoor

import (
	"errors"
	"io"

	"github.com/bureau-foundation/ninedoor/lib/secure9p"
)

// pending is one frame of a batch: a decoded request, or the protocol
// error a malformed frame earned.
type pending struct {
	tag     uint16
	request secure9p.Message
	failure *secure9p.Error
}

// Exchange processes one request batch and returns the encoded
// response batch. Responses carry the tag of their request; callers
// match by tag, not position.
//
// A non-nil error means the batch could not be resynchronised: the
// responses returned cover the frames before the damage, and the
// transport should be closed after sending them.
func (s *Session) Exchange(batch []byte) ([]byte, error) {
	started := s.server.clock.Now()
	defer func() { s.server.metrics.ObserveBatch(s.server.clock.Now().Sub(started)) }()

	frames, fatal := s.decodeBatch(batch)
	if len(frames) == 0 {
		return nil, fatal
	}

	responses := make([]secure9p.Frame, 0, len(frames))
	if err := s.queue.Reserve(len(frames)); err != nil {
		s.server.metrics.BackpressureEvent()
		s.logger.Warn("batch refused", "frames", len(frames), "queue_limit", s.queue.Limit())
		for _, frame := range frames {
			responses = append(responses, busy(frame.tag, messageQueueDepth))
		}
		return s.encode(responses), fatal
	}
	s.server.metrics.QueueReserved(len(frames))
	defer func() {
		s.queue.Release(len(frames))
		s.server.metrics.QueueReleased(len(frames))
	}()

	var reserved []uint16
	defer func() {
		for _, tag := range reserved {
			s.tags.Release(tag)
		}
	}()

	for _, frame := range frames {
		if err := s.tags.Reserve(frame.tag); err != nil {
			responses = append(responses, busy(frame.tag, messageTagWindow))
			continue
		}
		reserved = append(reserved, frame.tag)

		if frame.failure != nil {
			responses = append(responses, secure9p.Frame{Tag: frame.tag, Message: frame.failure.Response()})
			continue
		}
		responses = append(responses, secure9p.Frame{Tag: frame.tag, Message: s.dispatch(frame.request)})
	}
	return s.encode(responses), fatal
}

// decodeBatch splits a batch into frames. A malformed frame whose
// extent is known becomes an Invalid response; anything worse stops
// the batch and is returned.
func (s *Session) decodeBatch(batch []byte) ([]pending, error) {
	var frames []pending
	iterator := secure9p.NewBatchIterator(batch, s.msize)
	for {
		frame, err := iterator.Next()
		if err == io.EOF {
			return frames, nil
		}
		if err != nil {
			var decodeError *secure9p.DecodeError
			if errors.As(err, &decodeError) && decodeError.Framed {
				tag := secure9p.NoTag
				if decodeError.HasTag {
					tag = decodeError.Tag
				}
				frames = append(frames, pending{
					tag:     tag,
					failure: secure9p.Errorf(secure9p.ErrorInvalid, "malformed frame: %s", decodeError.Kind),
				})
				continue
			}
			s.logger.Warn("batch decode failed", "offset", iterator.Offset(), "error", err)
			return frames, err
		}
		if !frame.Message.Type().IsRequest() {
			frames = append(frames, pending{
				tag:     frame.Tag,
				failure: secure9p.Errorf(secure9p.ErrorInvalid, "%s is not a request", frame.Message.Type()),
			})
			continue
		}
		frames = append(frames, pending{tag: frame.Tag, request: frame.Message})
	}
}

// encode serialises responses. A response that cannot be encoded is
// replaced by an Invalid error so its tag is still answered.
func (s *Session) encode(responses []secure9p.Frame) []byte {
	var out []byte
	for _, response := range responses {
		encoded, err := secure9p.AppendFrame(out, response)
		if err != nil {
			s.logger.Error("encoding response failed", "tag", response.Tag, "type", response.Message.Type(), "error", err)
			encoded, _ = secure9p.AppendFrame(out, secure9p.Frame{
				Tag:     response.Tag,
				Message: secure9p.Rerror{Code: secure9p.ErrorInvalid, Message: "response not encodable"},
			})
		}
		out = encoded
	}
	return out
}

func busy(tag uint16, message string) secure9p.Frame {
	return secure9p.Frame{Tag: tag, Message: secure9p.Rerror{Code: secure9p.ErrorBusy, Message: message}}
}
