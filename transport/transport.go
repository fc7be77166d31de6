// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// Handler serves one accepted connection. It owns conn and must close
// it before returning.
type Handler func(ctx context.Context, conn net.Conn, peer Peer)

// Peer describes the remote end of a connection.
type Peer struct {
	Network string
	Address string

	// HasCredentials is set when PID, UID, and GID were read from the
	// kernel.
	HasCredentials bool
	PID            int32
	UID            uint32
	GID            uint32
}

// String renders the peer for logs and /proc.
func (p Peer) String() string {
	if p.HasCredentials {
		return fmt.Sprintf("%s:pid=%d,uid=%d", p.Network, p.PID, p.UID)
	}
	if p.Address == "" {
		return p.Network
	}
	return p.Network + ":" + p.Address
}

// ParseAddress splits a listen or dial address into network and
// address. "unix:/path" and any absolute path select a Unix socket;
// "tcp:host:port" and bare "host:port" select TCP.
func ParseAddress(address string) (string, string, error) {
	switch {
	case address == "":
		return "", "", errors.New("transport: empty address")
	case strings.HasPrefix(address, "unix:"):
		return "unix", strings.TrimPrefix(address, "unix:"), nil
	case strings.HasPrefix(address, "/"):
		return "unix", address, nil
	case strings.HasPrefix(address, "tcp:"):
		return "tcp", strings.TrimPrefix(address, "tcp:"), nil
	default:
		return "tcp", address, nil
	}
}

// Listener accepts Secure9P connections.
type Listener struct {
	network  string
	path     string
	listener net.Listener
	logger   *slog.Logger

	// activeConnections tracks running handlers so Serve can wait for
	// them after the listener closes.
	activeConnections sync.WaitGroup
}

// Listen binds address. A stale Unix socket file at the path is
// removed first; the file is removed again when the listener closes.
func Listen(address string, logger *slog.Logger) (*Listener, error) {
	network, location, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if network == "unix" {
		if err := os.Remove(location); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale socket %s: %w", location, err)
		}
	}
	listener, err := net.Listen(network, location)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}
	result := &Listener{network: network, listener: listener, logger: logger}
	if network == "unix" {
		result.path = location
	}
	return result, nil
}

// Address returns the bound address in the form ParseAddress accepts.
func (l *Listener) Address() string {
	if l.network == "unix" {
		return "unix:" + l.listener.Addr().String()
	}
	return l.listener.Addr().String()
}

// Close stops accepting connections. Running handlers are not
// interrupted; cancel the context passed to Serve for that.
func (l *Listener) Close() error {
	err := l.listener.Close()
	if l.path != "" {
		os.Remove(l.path)
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Serve accepts connections and runs handler for each until ctx is
// cancelled or the listener is closed. It then waits for every
// handler to return.
func (l *Listener) Serve(ctx context.Context, handler Handler) error {
	// Unblock Accept when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	l.logger.Info("listening", "address", l.Address())

	var acceptErr error
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				l.logger.Warn("accept failed, retrying", "error", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			acceptErr = fmt.Errorf("accepting on %s: %w", l.Address(), err)
			break
		}

		peer := describePeer(l.network, conn)
		l.activeConnections.Add(1)
		go func() {
			defer l.activeConnections.Done()
			handler(ctx, conn, peer)
		}()
	}

	l.activeConnections.Wait()
	return acceptErr
}

func describePeer(network string, conn net.Conn) Peer {
	peer := Peer{Network: network}
	if remote := conn.RemoteAddr(); remote != nil {
		peer.Address = remote.String()
	}
	if network == "unix" {
		if credentials, ok := peerCredentials(conn); ok {
			peer.HasCredentials = true
			peer.PID = credentials.pid
			peer.UID = credentials.uid
			peer.GID = credentials.gid
		}
	}
	return peer
}

type credentials struct {
	pid int32
	uid uint32
	gid uint32
}

// Dial connects to address. Timeout bounds the connection attempt; zero
// leaves only the context deadline.
func Dial(ctx context.Context, address string, timeout time.Duration) (net.Conn, error) {
	network, location, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return (&net.Dialer{Timeout: timeout}).DialContext(ctx, network, location)
}
