// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ninedoor

import (
	"log/slog"
	"sync/atomic"

	"github.com/bureau-foundation/ninedoor/lib/lifecycle"
	"github.com/bureau-foundation/ninedoor/lib/namespace"
	"github.com/bureau-foundation/ninedoor/lib/secure9p"
	"github.com/bureau-foundation/ninedoor/lib/session"
	"github.com/bureau-foundation/ninedoor/lib/ticket"
)

// SessionInfo is the published view of a session, rendered under
// /proc/9p/sessions.
type SessionInfo struct {
	ID      uint64 `cbor:"id"`
	Peer    string `cbor:"peer"`
	Role    string `cbor:"role,omitempty"`
	Subject string `cbor:"subject,omitempty"`
	MaxSize uint32 `cbor:"msize"`
}

// fidState is what a fid points at.
type fidState struct {
	path string
	open bool
	mode secure9p.OpenMode
}

// Session is one peer connection. Exchange must not be called
// concurrently on the same session; everything else is safe from any
// goroutine.
type Session struct {
	id     uint64
	server *Server
	peer   string
	logger *slog.Logger

	msize     uint32
	versioned bool
	attached  bool
	role      ticket.Role
	subject   string
	enforcer  *ticket.Enforcer

	tags  *session.TagWindow
	queue *session.QueueDepth
	fids  *session.FidTable[fidState]

	info   atomic.Pointer[SessionInfo]
	closed atomic.Bool
}

// NewSession registers a session for a peer. Session ids start at 1.
func (s *Server) NewSession(peer string) *Session {
	id := s.nextSession.Add(1)
	current := &Session{
		id:     id,
		server: s,
		peer:   peer,
		logger: s.logger.With("session", id),
		msize:  s.options.MaxMessageSize,
		tags:   session.NewTagWindow(s.options.TagsPerSession),
		queue:  session.NewQueueDepth(session.MaxDepth(s.options.TagsPerSession, s.options.BatchFrames)),
		fids:   session.NewFidTable[fidState](s.options.FidShards),
	}
	current.publish()
	s.sessions.Store(id, current)
	s.metrics.SessionOpened()
	current.logger.Debug("session opened", "peer", peer)
	return current
}

// ID returns the session id.
func (s *Session) ID() uint64 { return s.id }

// Info returns the published view of the session.
func (s *Session) Info() SessionInfo { return *s.info.Load() }

// Close retires every fid and unregisters the session. It is
// idempotent.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.fids.Drain()
	s.server.sessions.Delete(s.id)
	s.server.metrics.SessionClosed()
	s.logger.Debug("session closed")
}

// MaxMessageSize is the negotiated msize, or the server maximum
// before version negotiation.
func (s *Session) MaxMessageSize() uint32 { return s.msize }

func (s *Session) publish() {
	s.info.Store(&SessionInfo{
		ID:      s.id,
		Peer:    s.peer,
		Role:    string(s.role),
		Subject: s.subject,
		MaxSize: s.msize,
	})
}

// readerName keys telemetry cursors: the ticket subject when there is
// one, otherwise the role.
func (s *Session) readerName() string {
	if s.subject != "" {
		return s.subject
	}
	return string(s.role)
}

func (s *Session) requireAttached() error {
	if !s.attached {
		return secure9p.Errorf(secure9p.ErrorInvalid, "session not attached")
	}
	return nil
}

// dispatch executes one request and returns its response.
func (s *Session) dispatch(request secure9p.Message) secure9p.Message {
	var response secure9p.Message
	var err error
	switch message := request.(type) {
	case secure9p.Tversion:
		response, err = s.version(message)
	case secure9p.Tattach:
		response, err = s.attach(message)
	case secure9p.Twalk:
		response, err = s.walk(message)
	case secure9p.Topen:
		response, err = s.open(message)
	case secure9p.Tread:
		response, err = s.read(message)
	case secure9p.Twrite:
		response, err = s.write(message)
	case secure9p.Tclunk:
		response, err = s.clunk(message)
	default:
		err = secure9p.Errorf(secure9p.ErrorInvalid, "%s is not a request", request.Type())
	}
	if err != nil {
		protocol := protocolError(err)
		s.logger.Debug("request failed", "type", request.Type(), "code", protocol.Code, "error", err)
		return protocol.Response()
	}
	return response
}

func (s *Session) version(request secure9p.Tversion) (secure9p.Message, error) {
	if s.attached {
		return nil, secure9p.Errorf(secure9p.ErrorInvalid, "version after attach")
	}
	msize := min(request.MaxSize, s.server.options.MaxMessageSize)
	if request.Version != secure9p.ProtocolVersion {
		s.versioned = false
		return secure9p.Rversion{MaxSize: msize, Version: secure9p.UnknownVersion}, nil
	}
	if msize < secure9p.MinMessageSize {
		return nil, secure9p.Errorf(secure9p.ErrorInvalid, "msize %d below minimum %d", msize, secure9p.MinMessageSize)
	}
	s.msize = msize
	s.versioned = true
	s.publish()
	return secure9p.Rversion{MaxSize: msize, Version: secure9p.ProtocolVersion}, nil
}

// attach authenticates the peer. Nothing about the session changes
// unless every check passes.
func (s *Session) attach(request secure9p.Tattach) (secure9p.Message, error) {
	if !s.versioned {
		return nil, secure9p.Errorf(secure9p.ErrorInvalid, "version required before attach")
	}
	if s.attached {
		return nil, secure9p.Errorf(secure9p.ErrorInvalid, "session already attached")
	}
	role, err := ticket.ParseRole(request.Uname)
	if err != nil {
		return nil, secure9p.Errorf(secure9p.ErrorPermission, "unknown role %q", request.Uname)
	}

	var claims *ticket.Claims
	if request.Aname != "" {
		if s.server.options.TicketKey == nil {
			return nil, secure9p.Errorf(secure9p.ErrorPermission, "tickets not accepted")
		}
		claims, err = ticket.Parse(s.server.options.TicketKey, request.Aname)
		if err != nil {
			s.logger.Warn("ticket rejected", "role", role, "error", err)
			return nil, secure9p.Errorf(secure9p.ErrorPermission, "invalid ticket")
		}
		if claims.Role != role {
			return nil, secure9p.Errorf(secure9p.ErrorPermission, "ticket role %s does not match %s", claims.Role, role)
		}
	}

	enforcer := ticket.NewEnforcer(claims, ticket.EnforcerOptions{
		Clock:   s.server.clock,
		Audit:   s.server.audit,
		Session: s.id,
		OnDeny:  func(ticket.Reason) { s.server.metrics.UIDeny() },
	})
	if err := enforcer.CheckExpiry(); err != nil {
		return nil, err
	}

	subject := ""
	switch {
	case role.IsWorker():
		if claims == nil {
			return nil, secure9p.Errorf(secure9p.ErrorPermission, "%s requires a ticket", role)
		}
		if claims.Subject == "" {
			return nil, secure9p.Errorf(secure9p.ErrorPermission, "ticket has no subject")
		}
		if !s.server.workerMatches(claims.Subject, role) {
			return nil, secure9p.Errorf(secure9p.ErrorNotFound, "no %s worker %s", role, claims.Subject)
		}
		if err := s.server.checkGate(lifecycle.GateWorkerAttach); err != nil {
			return nil, err
		}
		subject = claims.Subject
	case claims == nil && s.server.options.RequireQueenTicket:
		return nil, secure9p.Errorf(secure9p.ErrorPermission, "queen requires a ticket")
	}

	root, err := s.server.tree.Lookup("/")
	if err != nil {
		return nil, err
	}
	if err := s.fids.Insert(request.Fid, fidState{path: "/"}); err != nil {
		return nil, err
	}

	s.attached = true
	s.role = role
	s.subject = subject
	s.enforcer = enforcer
	s.publish()
	s.logger.Info("session attached", "role", role, "subject", subject, "peer", s.peer)
	return secure9p.Rattach{Qid: root.Qid}, nil
}

func (s *Session) walk(request secure9p.Twalk) (secure9p.Message, error) {
	if err := s.requireAttached(); err != nil {
		return nil, err
	}
	current, err := s.fids.Get(request.Fid)
	if err != nil {
		return nil, err
	}
	if current.open {
		return nil, secure9p.Errorf(secure9p.ErrorInvalid, "cannot walk an open fid")
	}
	if err := s.enforcer.CheckExpiry(); err != nil {
		return nil, err
	}
	path, qids, err := s.server.tree.Walk(current.path, request.Names)
	if err != nil {
		return nil, err
	}
	if request.NewFid == request.Fid {
		err = s.fids.Replace(request.Fid, fidState{path: path})
	} else {
		err = s.fids.Insert(request.NewFid, fidState{path: path})
	}
	if err != nil {
		return nil, err
	}
	return secure9p.Rwalk{Qids: qids}, nil
}

func (s *Session) open(request secure9p.Topen) (secure9p.Message, error) {
	if err := s.requireAttached(); err != nil {
		return nil, err
	}
	current, err := s.fids.Get(request.Fid)
	if err != nil {
		return nil, err
	}
	if current.open {
		return nil, secure9p.Errorf(secure9p.ErrorInvalid, "fid already open")
	}
	if err := s.enforcer.CheckExpiry(); err != nil {
		return nil, err
	}
	entry, err := s.server.tree.Lookup(current.path)
	if err != nil {
		return nil, err
	}
	if request.Mode.Writable() {
		switch entry.Kind {
		case namespace.KindDirectory:
			return nil, secure9p.Errorf(secure9p.ErrorInvalid, "%s is a directory", current.path)
		case namespace.KindReadOnly:
			return nil, secure9p.Errorf(secure9p.ErrorPermission, "%s is read-only", current.path)
		}
	}
	current.open = true
	current.mode = request.Mode
	if err := s.fids.Replace(request.Fid, current); err != nil {
		return nil, err
	}
	return secure9p.Ropen{Qid: entry.Qid, IOUnit: s.msize - secure9p.ReadOverhead}, nil
}

func (s *Session) read(request secure9p.Tread) (secure9p.Message, error) {
	if err := s.requireAttached(); err != nil {
		return nil, err
	}
	current, err := s.fids.Get(request.Fid)
	if err != nil {
		return nil, err
	}
	if !current.open || !current.mode.Readable() {
		return nil, secure9p.Errorf(secure9p.ErrorInvalid, "fid not open for reading")
	}
	count := min(request.Count, s.msize-secure9p.ReadOverhead)
	data, err := s.readPath(current.path, request.Offset, count)
	if err != nil {
		return nil, err
	}
	return secure9p.Rread{Data: data}, nil
}

func (s *Session) write(request secure9p.Twrite) (secure9p.Message, error) {
	if err := s.requireAttached(); err != nil {
		return nil, err
	}
	current, err := s.fids.Get(request.Fid)
	if err != nil {
		return nil, err
	}
	if !current.open || !current.mode.Writable() {
		return nil, secure9p.Errorf(secure9p.ErrorInvalid, "fid not open for writing")
	}
	count, err := s.writePath(current.path, request.Offset, request.Data)
	if err != nil {
		return nil, err
	}
	return secure9p.Rwrite{Count: count}, nil
}

func (s *Session) clunk(request secure9p.Tclunk) (secure9p.Message, error) {
	if err := s.requireAttached(); err != nil {
		return nil, err
	}
	if _, err := s.fids.Remove(request.Fid); err != nil {
		return nil, err
	}
	return secure9p.Rclunk{}, nil
}
