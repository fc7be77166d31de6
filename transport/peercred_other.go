// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package transport

import "net"

func peerCredentials(net.Conn) (credentials, bool) {
	return credentials{}, false
}
