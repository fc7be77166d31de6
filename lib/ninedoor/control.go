// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ninedoor

import (
	"fmt"
	"strings"

	"github.com/bureau-foundation/ninedoor/lib/audit"
	"github.com/bureau-foundation/ninedoor/lib/control"
	"github.com/bureau-foundation/ninedoor/lib/lifecycle"
	"github.com/bureau-foundation/ninedoor/lib/namespace"
	"github.com/bureau-foundation/ninedoor/lib/replay"
)

// queenControl applies the commands of a /queen/ctl write in order.
// Parsing is all-or-nothing; application stops at the first failing
// command, leaving earlier commands applied and journaled.
func (s *Server) queenControl(session uint64, data []byte) error {
	commands, lines, err := control.ParseQueenCommands(data)
	if err != nil {
		s.audit.Deny("queen-ctl", "parse", "session", session, "error", err.Error())
		return err
	}

	s.controlMutex.Lock()
	defer s.controlMutex.Unlock()

	for index, command := range commands {
		detail, err := s.apply(command)
		if err != nil {
			s.audit.Deny("queen-ctl", "apply", "session", session, "command", command.Name(), "error", err.Error())
			return fmt.Errorf("line %d: %w", index+1, err)
		}
		sequence := s.journal.Record(lines[index], control.Canonical(command))
		keyValues := append([]any{"session", session, "command", command.Name(), "seq", sequence}, detail...)
		s.audit.Record("queen-ctl", audit.OutcomeAllow, keyValues...)
	}
	return nil
}

// apply executes one command, returning audit key/values describing
// the result.
func (s *Server) apply(command control.Command) ([]any, error) {
	switch command := command.(type) {
	case control.Spawn:
		id, err := s.spawn(command)
		if err != nil {
			return nil, err
		}
		return []any{"worker", id, "kind", command.Kind}, nil
	case control.Kill:
		return []any{"worker", command.WorkerID}, s.kill(command.WorkerID)
	case control.SetBudget:
		s.setDefaultBudget(command.Budget)
		return nil, nil
	case control.Bind:
		return []any{"from", command.From, "to", command.To}, s.tree.Bind(command.From, command.To)
	case control.Mount:
		return []any{"service", command.Service, "at", command.At}, s.mount(command.MountSpec)
	default:
		return nil, fmt.Errorf("%w: unsupported command %s", control.ErrInvalid, command.Name())
	}
}

// mount publishes an append-only endpoint at spec.At, creating its
// parent directories.
func (s *Server) mount(spec control.MountSpec) error {
	parent, _ := namespace.Parent(spec.At)
	if err := s.tree.MkdirAll(parent); err != nil {
		return err
	}
	if err := s.tree.CreateFile(spec.At, namespace.KindAppendOnly, nil); err != nil {
		return err
	}
	s.mounts.Store(spec.At, spec.Service)
	return nil
}

// lifecycleControl applies a /queen/lifecycle/ctl command.
func (s *Server) lifecycleControl(session uint64, data []byte) error {
	command, err := lifecycle.ParseCommand(string(data))
	if err != nil {
		return err
	}
	if _, err := s.lifecycle.Apply(command, s.leaseCount()); err != nil {
		s.audit.Deny("lifecycle", "command", "session", session, "command", command, "error", err.Error())
		return err
	}
	return nil
}

// replayControl replays the control journal from the requested
// sequence. A failed replay is reported through /replay/status, not
// as a write error.
func (s *Server) replayControl(session uint64, data []byte) error {
	request, err := control.ParseReplay(data)
	if err != nil {
		return err
	}
	status := s.journal.Replay(request.From, func(line []byte) (string, error) {
		command, err := control.ParseQueenLine(line)
		if err != nil {
			return "", err
		}
		return control.Canonical(command), nil
	})
	outcome := audit.OutcomeAllow
	if status.State == replay.StateErr {
		outcome = audit.OutcomeDeny
	}
	s.audit.Record("replay", outcome,
		"session", session,
		"from", status.From,
		"to", status.To,
		"entries", status.Entries,
		"match", status.Match,
	)
	return nil
}

// segmentControl handles /worker/<id>/segments/ctl. The only command
// is "new".
func (s *Server) segmentControl(id string, data []byte) error {
	if command := strings.TrimSpace(string(data)); command != "new" {
		return fmt.Errorf("%w: segment command %q", namespace.ErrInvalid, command)
	}
	segment, evicted, err := s.segments.CreateSegment(id)
	if err != nil {
		return err
	}
	s.removeSegments(id, evicted)
	return s.tree.CreateFile(segmentPath(id, segment), namespace.KindAppendOnly, nil)
}

// appendRecord appends one record to a segment.
func (s *Server) appendRecord(id, segment string, data []byte) error {
	evicted, err := s.segments.AppendRecord(id, segment, data)
	if err != nil {
		return err
	}
	s.removeSegments(id, evicted)
	return nil
}

func (s *Server) removeSegments(id string, segments []string) {
	for _, segment := range segments {
		if err := s.tree.Remove(segmentPath(id, segment)); err != nil {
			s.logger.Warn("removing evicted segment file failed", "worker", id, "segment", segment, "error", err)
		}
	}
}

func segmentPath(id, segment string) string {
	return namespace.WorkerPath(id) + "/" + workerSegments + "/" + segment
}
