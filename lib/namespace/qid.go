// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package namespace

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// qidDomainKey separates Qid path hashes from any other BLAKE3 use.
// ASCII "ninedoor.namespace.qid", zero-padded to 32 bytes.
var qidDomainKey = [32]byte{
	'n', 'i', 'n', 'e', 'd', 'o', 'o', 'r', '.', 'n', 'a', 'm', 'e', 's', 'p', 'a',
	'c', 'e', '.', 'q', 'i', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// QidPath is the Qid path of the node at an absolute path: the first
// eight bytes, little-endian, of the path's keyed hash.
func QidPath(path string) uint64 {
	hasher, err := blake3.NewKeyed(qidDomainKey[:])
	if err != nil {
		panic("namespace: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(path))
	var sum [8]byte
	copy(sum[:], hasher.Sum(nil))
	return binary.LittleEndian.Uint64(sum[:])
}
