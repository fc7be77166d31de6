// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secure9p implements the Secure9P wire codec: a 9P2000.L
// derived binary protocol spoken between NineDoor and its peers.
//
// # Frame layout
//
// Every frame uses the classic little-endian 9P layout:
//
//	size[4] type[1] tag[2] body[size-7]
//
// size counts the whole frame including itself. Strings are encoded as
// len[2] followed by that many bytes; a Qid is type[1] version[4]
// path[8]. The message set is closed: Version, Attach, Walk, Open,
// Read, Write, Clunk, and an Rerror response carrying a typed
// [ErrorCode] instead of the free-form ename of classic 9P.
//
// # Batches
//
// A batch is a plain concatenation of frames. [BatchIterator] walks a
// batch one frame at a time. A frame whose size field is intact but
// whose body is malformed yields a [*DecodeError] carrying the frame's
// tag, and iteration continues with the next frame, so one bad request
// does not discard its neighbours. A corrupt size field makes the rest
// of the batch unframeable and ends iteration.
//
// [ReadBatch] gathers a batch from a byte stream: it blocks for one
// frame, then takes every further complete frame already buffered, up
// to a frame limit.
//
// Decoding never panics on arbitrary input. Every failure is a
// [*DecodeError]; the fuzz tests hold the codec to that.
package secure9p
