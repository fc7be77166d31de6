// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ninedoor

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/bureau-foundation/ninedoor/lib/secure9p"
	"github.com/bureau-foundation/ninedoor/lib/testutil"
	"github.com/bureau-foundation/ninedoor/transport"
)

// readFrame reads one size-prefixed frame from conn.
func readFrame(t *testing.T, conn net.Conn) secure9p.Frame {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		t.Fatalf("reading frame size: %v", err)
	}
	frame := make([]byte, binary.LittleEndian.Uint32(header))
	copy(frame, header)
	if _, err := io.ReadFull(conn, frame[4:]); err != nil {
		t.Fatalf("reading frame body: %v", err)
	}
	decoded, err := secure9p.DecodeFrame(frame, 0)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	return decoded
}

func writeFrames(t *testing.T, conn net.Conn, frames ...secure9p.Frame) {
	t.Helper()
	batch, err := secure9p.EncodeBatch(frames)
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	if _, err := conn.Write(batch); err != nil {
		t.Fatalf("writing batch: %v", err)
	}
}

func TestServeConn(t *testing.T) {
	f := newFixture(t, nil)
	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.server.ServeConn(ctx, serverEnd, transport.Peer{Network: "unix", HasCredentials: true, PID: 42, UID: 1000})
	}()

	writeFrames(t, clientEnd, secure9p.Frame{
		Tag:     secure9p.NoTag,
		Message: secure9p.Tversion{MaxSize: 4096, Version: secure9p.ProtocolVersion},
	})
	response := readFrame(t, clientEnd)
	if version, ok := response.Message.(secure9p.Rversion); !ok || version.MaxSize != 4096 {
		t.Fatalf("Tversion: got %#v", response.Message)
	}

	writeFrames(t, clientEnd, secure9p.Frame{
		Tag:     1,
		Message: secure9p.Tattach{Fid: rootFid, AuthFid: secure9p.NoFid, Uname: "queen"},
	})
	if response := readFrame(t, clientEnd); !isType[secure9p.Rattach](response.Message) || response.Tag != 1 {
		t.Fatalf("Tattach: got tag %d %#v", response.Tag, response.Message)
	}

	sessions := f.server.sessionsView()
	if sessions.Count != 1 || sessions.Sessions[0].Peer != "unix:pid=42,uid=1000" || sessions.Sessions[0].MaxSize != 4096 {
		t.Errorf("sessions: got %+v", sessions)
	}

	cancel()
	testutil.RequireClosed(t, done, 5*time.Second, "ServeConn did not return after cancel")
	if got := f.server.SessionCount(); got != 0 {
		t.Errorf("sessions after disconnect: got %d, want 0", got)
	}
}

func TestServeConnClosesOnOversizedFrame(t *testing.T) {
	f := newFixture(t, nil)
	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.server.ServeConn(context.Background(), serverEnd, transport.Peer{Network: "tcp", Address: "127.0.0.1:5640"})
	}()

	header := binary.LittleEndian.AppendUint32(nil, secure9p.DefaultMaxMessageSize+1)
	if _, err := clientEnd.Write(header); err != nil {
		t.Fatalf("writing header: %v", err)
	}
	testutil.RequireClosed(t, done, 5*time.Second, "ServeConn did not close after an oversized frame")
}
