// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ninedoor

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/bureau-foundation/ninedoor/lib/audit"
	"github.com/bureau-foundation/ninedoor/lib/clock"
	"github.com/bureau-foundation/ninedoor/lib/control"
	"github.com/bureau-foundation/ninedoor/lib/lifecycle"
	"github.com/bureau-foundation/ninedoor/lib/metrics"
	"github.com/bureau-foundation/ninedoor/lib/namespace"
	"github.com/bureau-foundation/ninedoor/lib/replay"
	"github.com/bureau-foundation/ninedoor/lib/telemetry"
)

// Fixed namespace paths.
const (
	pathQueenCtl     = "/queen/ctl"
	pathLifecycleCtl = "/queen/lifecycle/ctl"
	pathReplayCtl    = "/replay/ctl"
	pathReplayStatus = "/replay/status"
	pathAuditLog     = "/log/queen.log"
)

// Server is the shared state behind every session.
type Server struct {
	options Options
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	audit     *audit.Log
	auditRing *telemetry.Ring

	tree      *namespace.Tree
	telemetry *telemetry.Store
	segments  *telemetry.SegmentStore
	lifecycle *lifecycle.Machine
	journal   *replay.Journal

	sessions    *xsync.MapOf[uint64, *Session]
	nextSession atomic.Uint64

	// renderers produce the contents of generated read-only files.
	renderers map[string]func() []byte

	// controlMutex serialises /queen/ctl so journal order matches
	// application order.
	controlMutex sync.Mutex

	workersMutex  sync.Mutex
	workers       map[string]*worker
	nextWorker    uint64
	defaultBudget control.Budget

	// mounts maps published endpoint paths to their service names.
	mounts *xsync.MapOf[string, string]
}

// NewServer builds a server in the Booting state. Call Boot to bring
// it online.
func NewServer(options Options) (*Server, error) {
	options = options.withDefaults()

	auditRing := telemetry.NewRing(options.AuditRingBytes, telemetry.SchemaLegacy)
	auditLog := audit.New(options.Logger, auditRing)

	var cursorState *telemetry.CursorStore
	if options.CursorStatePath != "" {
		cursorState = telemetry.NewCursorStore(options.CursorStatePath)
	}
	store, err := telemetry.NewStore(telemetry.StoreOptions{
		RingBytes:   options.RingBytes,
		Schema:      options.Schema,
		StalePolicy: options.StalePolicy,
		State:       cursorState,
		Audit:       auditLog,
		Logger:      options.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("loading telemetry state: %w", err)
	}

	server := &Server{
		options:   options,
		clock:     options.Clock,
		logger:    options.Logger,
		metrics:   options.Metrics,
		audit:     auditLog,
		auditRing: auditRing,
		tree:      namespace.New(options.Namespace),
		telemetry: store,
		segments:  telemetry.NewSegmentStore(options.Segments, auditLog),
		lifecycle: lifecycle.NewMachine(options.Clock, options.Logger, auditLog),
		journal:   replay.NewJournal(options.JournalEntries),
		sessions:  xsync.NewMapOf[uint64, *Session](),
		workers:   make(map[string]*worker),
		mounts:    xsync.NewMapOf[string, string](),
	}
	if err := server.bootstrap(); err != nil {
		return nil, fmt.Errorf("building namespace: %w", err)
	}
	return server, nil
}

// bootstrap creates the fixed files beneath the bootstrap directories.
func (s *Server) bootstrap() error {
	for _, directory := range []string{"/proc/9p", "/proc/ingest", "/proc/lifecycle", "/queen/lifecycle", "/replay"} {
		if err := s.tree.MkdirAll(directory); err != nil {
			return err
		}
	}
	for _, path := range []string{pathQueenCtl, pathLifecycleCtl, pathReplayCtl} {
		if err := s.tree.CreateFile(path, namespace.KindAppendOnly, nil); err != nil {
			return err
		}
	}

	if err := s.tree.CreateFile(pathAuditLog, namespace.KindReadOnly, nil); err != nil {
		return err
	}

	s.renderers = s.procRenderers()
	s.renderers[pathReplayStatus] = func() []byte { return s.journal.Status().JSON() }
	for path := range s.renderers {
		if err := s.tree.CreateFile(path, namespace.KindReadOnly, nil); err != nil {
			return err
		}
	}
	return nil
}

// Boot runs the automatic boot-complete transition.
func (s *Server) Boot() error {
	_, err := s.lifecycle.Trigger(lifecycle.EventBootComplete)
	return err
}

// Shutdown forces the lifecycle to Offline, closes every session, and
// flushes telemetry cursors.
func (s *Server) Shutdown(reason string) error {
	s.lifecycle.Force(lifecycle.Offline, reason)
	s.sessions.Range(func(_ uint64, session *Session) bool {
		session.Close()
		return true
	})
	return s.telemetry.Flush()
}

// Tree returns the namespace.
func (s *Server) Tree() *namespace.Tree { return s.tree }

// Lifecycle returns the lifecycle machine.
func (s *Server) Lifecycle() *lifecycle.Machine { return s.lifecycle }

// Metrics returns the server's counters.
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// Audit returns the audit log. Its lines are also readable at
// /log/queen.log.
func (s *Server) Audit() *audit.Log { return s.audit }

// SessionCount is the number of open sessions.
func (s *Server) SessionCount() int { return s.sessions.Size() }

// checkGate evaluates a lifecycle gate, counting denials.
func (s *Server) checkGate(gate lifecycle.Gate) error {
	if err := s.lifecycle.Check(gate); err != nil {
		s.metrics.GateDeny()
		return err
	}
	return nil
}
