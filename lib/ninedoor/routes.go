// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ninedoor

import (
	"fmt"
	"strings"

	"github.com/bureau-foundation/ninedoor/lib/lifecycle"
	"github.com/bureau-foundation/ninedoor/lib/namespace"
	"github.com/bureau-foundation/ninedoor/lib/secure9p"
	"github.com/bureau-foundation/ninedoor/lib/telemetry"
	"github.com/bureau-foundation/ninedoor/lib/ticket"
)

// splitWorkerPath splits /worker/<id>/<rest>.
func splitWorkerPath(path string) (string, string, bool) {
	tail, found := strings.CutPrefix(path, "/worker/")
	if !found {
		return "", "", false
	}
	id, rest, _ := strings.Cut(tail, "/")
	return id, rest, id != ""
}

// segmentName returns the segment id when rest names a segment file.
func segmentName(rest string) (string, bool) {
	name, found := strings.CutPrefix(rest, workerSegments+"/")
	if !found || !strings.HasPrefix(name, "seg-") {
		return "", false
	}
	return name, true
}

// clamp returns data[offset:offset+count] bounded by len(data).
func clamp(data []byte, offset uint64, count uint32) []byte {
	if offset >= uint64(len(data)) {
		return []byte{}
	}
	return data[offset:min(uint64(len(data)), offset+uint64(count))]
}

// readPath serves a read of path. Every read is admitted by the
// ticket with the number of bytes it returns.
func (s *Session) readPath(path string, offset uint64, count uint32) ([]byte, error) {
	entry, err := s.server.tree.Lookup(path)
	if err != nil {
		return nil, err
	}
	path = entry.Path

	if id, rest, ok := splitWorkerPath(path); ok && rest == workerTelemetry {
		return s.readTelemetry(path, id, offset, count)
	}

	data, err := s.generatedContents(entry)
	if err != nil {
		return nil, err
	}
	if data != nil {
		data = clamp(data, offset, count)
	} else {
		data, err = s.readStored(entry, offset, count)
		if err != nil {
			return nil, err
		}
	}
	if err := s.enforcer.Admit(ticket.Request{Path: path, Verb: ticket.VerbRead, Bytes: uint64(len(data))}); err != nil {
		return nil, err
	}
	return data, nil
}

// generatedContents renders files whose contents are computed on
// read. It returns nil for everything else.
func (s *Session) generatedContents(entry namespace.Entry) ([]byte, error) {
	if entry.Kind == namespace.KindDirectory {
		children, err := s.server.tree.Children(entry.Path)
		if err != nil {
			return nil, err
		}
		if len(children) == 0 {
			return []byte{}, nil
		}
		return []byte(strings.Join(children, "\n") + "\n"), nil
	}
	if render, ok := s.server.renderers[entry.Path]; ok {
		return render(), nil
	}
	if id, rest, ok := splitWorkerPath(entry.Path); ok {
		switch rest {
		case workerStatus:
			return s.server.workerStatus(id)
		case workerSegmentsIndex:
			var builder strings.Builder
			for _, segment := range s.server.segments.Segments(id) {
				fmt.Fprintf(&builder, "%s bytes=%d records=%d\n", segment.ID, segment.Bytes, segment.Records)
			}
			return []byte(builder.String()), nil
		}
	}
	return nil, nil
}

// readStored reads files backed by a store rather than the tree.
func (s *Session) readStored(entry namespace.Entry, offset uint64, count uint32) ([]byte, error) {
	if entry.Path == pathAuditLog {
		data, _, err := s.server.auditRing.ReadAt(offset, count)
		return data, err
	}
	if id, rest, ok := splitWorkerPath(entry.Path); ok {
		if segment, ok := segmentName(rest); ok {
			return s.server.segments.ReadSegment(id, segment, offset, count)
		}
	}
	return s.server.tree.Read(entry.Path, offset, count)
}

// readTelemetry reads a worker ring through the reader's cursor. The
// ticket sees the resolved read so it can charge cursor quotas.
func (s *Session) readTelemetry(path, id string, offset uint64, count uint32) ([]byte, error) {
	if err := s.enforcer.Check(ticket.Request{Path: path, Verb: ticket.VerbRead}); err != nil {
		return nil, err
	}
	key := telemetry.CursorKey{Reader: s.readerName(), Worker: id}
	data, _, err := s.server.telemetry.Read(key, offset, count, func(resolution telemetry.Resolution) error {
		return s.enforcer.Admit(ticket.Request{
			Path:          path,
			Verb:          ticket.VerbRead,
			Bytes:         uint64(resolution.Length),
			CursorResume:  resolution.Resume,
			CursorAdvance: resolution.Advance(),
		})
	})
	return data, err
}

// writePath routes a write. Each route checks its lifecycle gate,
// then the ticket, then performs the write. Quotas and worker budgets
// are charged only once the write has taken effect.
func (s *Session) writePath(path string, offset uint64, data []byte) (uint32, error) {
	entry, err := s.server.tree.Lookup(path)
	if err != nil {
		return 0, err
	}
	path = entry.Path
	count := uint32(len(data))
	request := ticket.Request{Path: path, Verb: ticket.VerbWrite, Bytes: uint64(len(data))}

	switch path {
	case pathQueenCtl, pathLifecycleCtl, pathReplayCtl:
		if s.role != ticket.RoleQueen {
			return 0, secure9p.Errorf(secure9p.ErrorPermission, "%s is for the queen", path)
		}
		err = s.guardedWrite("", "", request, func() error {
			switch path {
			case pathQueenCtl:
				return s.server.queenControl(s.id, data)
			case pathLifecycleCtl:
				return s.server.lifecycleControl(s.id, data)
			default:
				return s.server.replayControl(s.id, data)
			}
		})
		if err != nil {
			return 0, err
		}
		return count, nil
	}

	if id, rest, ok := splitWorkerPath(path); ok {
		var gate lifecycle.Gate
		var budgeted string
		var write func() error
		switch rest {
		case workerTelemetry:
			gate, budgeted = lifecycle.GateWorkerTelemetry, id
			write = func() error {
				_, err := s.server.telemetry.Append(id, offset, data)
				return err
			}
		case workerJob:
			gate, budgeted = lifecycle.GateWorkerJob, id
			write = func() error {
				_, err := s.server.tree.WriteAppend(path, offset, data)
				return err
			}
		case workerSegmentsCtl:
			gate = lifecycle.GateTelemetryIngest
			write = func() error { return s.server.segmentControl(id, data) }
		default:
			if segment, ok := segmentName(rest); ok {
				gate = lifecycle.GateTelemetryIngest
				write = func() error { return s.server.appendRecord(id, segment, data) }
			}
		}
		if write != nil {
			if err := s.guardedWrite(gate, budgeted, request, write); err != nil {
				return 0, err
			}
			return count, nil
		}
	}

	var gate lifecycle.Gate
	if _, mounted := s.server.mounts.Load(path); mounted {
		gate = lifecycle.GateHostPublish
	}
	err = s.guardedWrite(gate, "", request, func() error {
		_, err := s.server.tree.WriteAppend(path, offset, data)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// guardedWrite checks gate (when set), the ticket, and, when the
// writer is the worker named by budgeted, that worker's budget. It
// then runs write and charges the ticket and budget only if write
// succeeds.
func (s *Session) guardedWrite(gate lifecycle.Gate, budgeted string, request ticket.Request, write func() error) error {
	if gate != "" {
		if err := s.server.checkGate(gate); err != nil {
			return err
		}
	}
	if err := s.enforcer.Check(request); err != nil {
		return err
	}
	spend := budgeted != "" && s.role.IsWorker() && s.subject == budgeted
	if spend {
		if err := s.server.checkWorkerBudget(budgeted); err != nil {
			return err
		}
	}
	if err := write(); err != nil {
		return err
	}
	s.enforcer.Commit(request)
	if spend {
		s.server.spendWorkerBudget(budgeted)
	}
	return nil
}
