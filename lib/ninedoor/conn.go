// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ninedoor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"

	"github.com/bureau-foundation/ninedoor/lib/secure9p"
	"github.com/bureau-foundation/ninedoor/transport"
)

// ServeConn runs one session over conn until the peer disconnects,
// the stream becomes unrecoverable, or ctx is cancelled. It closes
// conn before returning.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn, peer transport.Peer) {
	session := s.NewSession(peer.String())
	defer session.Close()
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if peer.HasCredentials {
		session.logger.Info("peer connected", "peer", peer.String(), "pid", peer.PID, "uid", peer.UID, "gid", peer.GID)
	} else {
		session.logger.Info("peer connected", "peer", peer.String())
	}

	reader := bufio.NewReaderSize(conn, int(s.options.MaxMessageSize))
	writer := NewShortWriter(conn, s.options.ShortWrite, s.clock, s.metrics, session.logger)
	for {
		batch, err := secure9p.ReadBatch(reader, s.options.BatchFrames, session.MaxMessageSize())
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				session.logger.Warn("reading batch failed", "error", err)
			}
			return
		}

		response, exchangeErr := session.Exchange(batch)
		if len(response) > 0 {
			if _, err := writer.Write(response); err != nil {
				session.logger.Warn("writing responses failed", "error", err)
				return
			}
		}
		if exchangeErr != nil {
			session.logger.Warn("closing session after undecodable batch", "error", exchangeErr)
			return
		}
	}
}
