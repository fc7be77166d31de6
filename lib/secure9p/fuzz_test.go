// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secure9p

import (
	"encoding/binary"
	"errors"
	"io"
	"math/rand/v2"
	"testing"
)

// checkDecode decodes data as a batch and fails the test if decoding
// panics or returns an error that is not a *DecodeError.
func checkDecode(t *testing.T, data []byte) {
	t.Helper()
	defer func() {
		if recovered := recover(); recovered != nil {
			t.Fatalf("decode panicked on %x: %v", data, recovered)
		}
	}()

	iterator := NewBatchIterator(data, DefaultMaxMessageSize)
	for steps := 0; ; steps++ {
		if steps > len(data)+1 {
			t.Fatalf("iterator did not terminate on %x", data)
		}
		frame, err := iterator.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("error %v (%T) is not *DecodeError", err, err)
			}
			continue
		}
		// A frame that decodes must re-encode.
		if _, err := Encode(frame); err != nil {
			t.Fatalf("re-encode of decoded %T: %v", frame.Message, err)
		}
	}
}

// mutations returns targeted corruptions of an encoded batch:
// truncation at every length, size field corruption, tail byte
// corruption, and random bit flips.
func mutations(batch []byte, random *rand.Rand) [][]byte {
	var out [][]byte

	for length := range len(batch) {
		out = append(out, append([]byte(nil), batch[:length]...))
	}

	for _, size := range []uint32{0, 1, HeaderSize - 1, HeaderSize, uint32(len(batch)) + 1, 0x7fffffff, 0xffffffff} {
		mutated := append([]byte(nil), batch...)
		binary.LittleEndian.PutUint32(mutated, size)
		out = append(out, mutated)
	}

	for _, value := range []byte{0x00, 0x7f, 0x80, 0xff} {
		mutated := append([]byte(nil), batch...)
		mutated[len(mutated)-1] = value
		out = append(out, mutated)
		out = append(out, append(append([]byte(nil), batch...), value))
	}

	for range 64 {
		mutated := append([]byte(nil), batch...)
		flips := 1 + random.IntN(4)
		for range flips {
			bit := random.IntN(len(mutated) * 8)
			mutated[bit/8] ^= 1 << (bit % 8)
		}
		out = append(out, mutated)
	}
	return out
}

func TestDecodeSurvivesMutations(t *testing.T) {
	random := rand.New(rand.NewPCG(1, 2))
	for _, frame := range sampleFrames() {
		encoded, err := Encode(frame)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		for _, mutated := range mutations(encoded, random) {
			checkDecode(t, mutated)
		}
	}

	batch, err := EncodeBatch(sampleFrames())
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	for _, mutated := range mutations(batch, random) {
		checkDecode(t, mutated)
	}
}

func FuzzDecode(f *testing.F) {
	for _, frame := range sampleFrames() {
		encoded, err := Encode(frame)
		if err != nil {
			f.Fatalf("Encode: %v", err)
		}
		f.Add(encoded)
	}
	batch, err := EncodeBatch(sampleFrames())
	if err != nil {
		f.Fatalf("EncodeBatch: %v", err)
	}
	f.Add(batch)
	f.Add([]byte{})
	f.Add([]byte{7, 0, 0, 0, 99, 0, 0})

	f.Fuzz(func(t *testing.T, data []byte) {
		checkDecode(t, data)
	})
}
