// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ninedoor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/ninedoor/lib/control"
	"github.com/bureau-foundation/ninedoor/lib/lifecycle"
	"github.com/bureau-foundation/ninedoor/lib/namespace"
	"github.com/bureau-foundation/ninedoor/lib/secure9p"
	"github.com/bureau-foundation/ninedoor/lib/ticket"
)

// Files inside a worker directory.
const (
	workerTelemetry     = "telemetry"
	workerStatus        = "status"
	workerJob           = "job"
	workerSegments      = "segments"
	workerSegmentsCtl   = "segments/ctl"
	workerSegmentsIndex = "segments/index"
)

// maxBudgetSeconds is the largest budget TTL representable as a
// time.Duration. Larger values are clamped to it.
const maxBudgetSeconds = uint64(math.MaxInt64 / int64(time.Second))

// worker is a spawned worker and its budget.
type worker struct {
	id      string
	kind    control.WorkerKind
	ticks   *uint64
	budget  control.Budget
	lease   *control.Lease
	spawned time.Time
	ops     uint64
}

func workerKind(role ticket.Role) control.WorkerKind {
	if role == ticket.RoleWorkerGPU {
		return control.WorkerGPU
	}
	return control.WorkerHeartbeat
}

// workerMatches reports whether id is a live worker of the kind role
// attaches as.
func (s *Server) workerMatches(id string, role ticket.Role) bool {
	s.workersMutex.Lock()
	defer s.workersMutex.Unlock()
	current, ok := s.workers[id]
	return ok && current.kind == workerKind(role)
}

// spawn creates a worker and its subtree, returning the new id.
func (s *Server) spawn(command control.Spawn) (string, error) {
	if err := s.checkGate(lifecycle.GateNewWork); err != nil {
		return "", err
	}

	s.workersMutex.Lock()
	defer s.workersMutex.Unlock()

	s.nextWorker++
	id := "worker-" + strconv.FormatUint(s.nextWorker, 10)
	budget := s.defaultBudget
	if command.Budget != nil {
		budget = *command.Budget
	}
	if err := s.createWorkerTree(id, command.Kind); err != nil {
		_ = s.tree.RemoveWorker(id)
		return "", err
	}
	s.workers[id] = &worker{
		id:      id,
		kind:    command.Kind,
		ticks:   command.Ticks,
		budget:  budget,
		lease:   command.Lease,
		spawned: s.clock.Now(),
	}
	s.telemetry.Ring(id)
	s.logger.Info("worker spawned", "worker", id, "kind", command.Kind)
	return id, nil
}

type workerFile struct {
	name string
	kind namespace.Kind
}

func (s *Server) createWorkerTree(id string, kind control.WorkerKind) error {
	if err := s.tree.CreateWorker(id); err != nil {
		return err
	}
	root := namespace.WorkerPath(id)
	if err := s.tree.CreateDirectory(root + "/" + workerSegments); err != nil {
		return err
	}
	files := []workerFile{
		{workerTelemetry, namespace.KindAppendOnly},
		{workerStatus, namespace.KindReadOnly},
		{workerSegmentsCtl, namespace.KindAppendOnly},
		{workerSegmentsIndex, namespace.KindReadOnly},
	}
	if kind == control.WorkerGPU {
		files = append(files, workerFile{workerJob, namespace.KindAppendOnly})
	}
	for _, file := range files {
		if err := s.tree.CreateFile(root+"/"+file.name, file.kind, nil); err != nil {
			return err
		}
	}
	return nil
}

// kill removes a worker with its subtree, ring bytes and segments.
// The ring head and cursors on it are kept so offsets stay monotonic.
func (s *Server) kill(id string) error {
	s.workersMutex.Lock()
	defer s.workersMutex.Unlock()

	if _, ok := s.workers[id]; !ok {
		return fmt.Errorf("%w: worker %s", namespace.ErrNotFound, id)
	}
	if err := s.tree.RemoveWorker(id); err != nil {
		return err
	}
	s.telemetry.Remove(id)
	s.segments.RemoveDevice(id)
	delete(s.workers, id)
	s.logger.Info("worker killed", "worker", id)
	return nil
}

func (s *Server) setDefaultBudget(budget control.Budget) {
	s.workersMutex.Lock()
	defer s.workersMutex.Unlock()
	s.defaultBudget = budget
}

// leaseCount is the number of GPU leases held by live workers.
func (s *Server) leaseCount() int {
	s.workersMutex.Lock()
	defer s.workersMutex.Unlock()
	count := 0
	for _, current := range s.workers {
		if current.lease != nil {
			count++
		}
	}
	return count
}

// checkWorkerBudget fails when a worker's budget is expired or spent.
func (s *Server) checkWorkerBudget(id string) error {
	s.workersMutex.Lock()
	defer s.workersMutex.Unlock()

	current, ok := s.workers[id]
	if !ok {
		return fmt.Errorf("%w: worker %s", namespace.ErrNotFound, id)
	}
	if ttl := current.budget.TTLSeconds; ttl != nil {
		if !s.clock.Now().Before(current.spawned.Add(time.Duration(min(*ttl, maxBudgetSeconds)) * time.Second)) {
			return secure9p.Errorf(secure9p.ErrorPermission, "worker budget expired")
		}
	}
	if ops := current.budget.Ops; ops != nil && current.ops >= *ops {
		return secure9p.Errorf(secure9p.ErrorTooBig, "ELIMIT worker budget")
	}
	return nil
}

// spendWorkerBudget records one op against a worker's budget.
func (s *Server) spendWorkerBudget(id string) {
	s.workersMutex.Lock()
	defer s.workersMutex.Unlock()
	if current, ok := s.workers[id]; ok {
		current.ops++
	}
}

// workerStatus renders /worker/<id>/status.
func (s *Server) workerStatus(id string) ([]byte, error) {
	s.workersMutex.Lock()
	defer s.workersMutex.Unlock()

	current, ok := s.workers[id]
	if !ok {
		return nil, fmt.Errorf("%w: worker %s", namespace.ErrNotFound, id)
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "id=%s kind=%s ops=%d", current.id, current.kind, current.ops)
	if current.ticks != nil {
		fmt.Fprintf(&builder, " ticks=%d", *current.ticks)
	}
	if current.budget.Ops != nil {
		fmt.Fprintf(&builder, " ops_budget=%d", *current.budget.Ops)
	}
	if current.budget.TTLSeconds != nil {
		fmt.Fprintf(&builder, " ttl_s=%d", *current.budget.TTLSeconds)
	}
	if current.lease != nil {
		fmt.Fprintf(&builder, " gpu=%s mem_mb=%d streams=%d priority=%d",
			current.lease.GPUID, current.lease.MemMB, current.lease.Streams, current.lease.Priority)
	}
	fmt.Fprintf(&builder, " spawned=%s\n", current.spawned.UTC().Format(time.RFC3339))
	return []byte(builder.String()), nil
}
