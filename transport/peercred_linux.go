// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials reads SO_PEERCRED from a Unix socket connection.
func peerCredentials(conn net.Conn) (credentials, bool) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return credentials{}, false
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return credentials{}, false
	}
	var ucred *unix.Ucred
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil || sockErr != nil {
		return credentials{}, false
	}
	return credentials{pid: ucred.Pid, uid: ucred.Uid, gid: ucred.Gid}, true
}
