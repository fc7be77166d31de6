// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"fmt"

	"github.com/bureau-foundation/ninedoor/lib/audit"
)

// Gate names a class of operation.
type Gate string

const (
	GateNewWork         Gate = "new-work"
	GateTelemetryIngest Gate = "telemetry-ingest"
	GateWorkerAttach    Gate = "worker-attach"
	GateWorkerTelemetry Gate = "worker-telemetry"
	GateWorkerJob       Gate = "worker-job"
	GateHostPublish     Gate = "host-publish"
)

// gateStates lists the states each gate admits. Booting, Quiesced,
// and Offline appear in none.
var gateStates = map[Gate][]State{
	GateNewWork:         {Online, Degraded},
	GateTelemetryIngest: {Online, Degraded, Draining},
	GateWorkerAttach:    {Online, Degraded},
	GateWorkerTelemetry: {Online, Degraded, Draining},
	GateWorkerJob:       {Online},
	GateHostPublish:     {Online, Degraded},
}

// Gates returns every defined gate.
func Gates() []Gate {
	return []Gate{GateNewWork, GateTelemetryIngest, GateWorkerAttach, GateWorkerTelemetry, GateWorkerJob, GateHostPublish}
}

// Permits reports whether gate admits operations in state.
func (g Gate) Permits(state State) bool {
	for _, allowed := range gateStates[g] {
		if allowed == state {
			return true
		}
	}
	return false
}

// GateDeniedError is returned by Check when a gate is closed.
type GateDeniedError struct {
	Gate  Gate
	State State
}

func (e *GateDeniedError) Error() string {
	return fmt.Sprintf("lifecycle gate %s denied", e.Gate)
}

// Check evaluates gate against the current state. A denial is logged
// and audited before it is returned.
func (m *Machine) Check(gate Gate) error {
	state := m.State()
	if gate.Permits(state) {
		return nil
	}
	m.logger.Warn("lifecycle gate denied", "gate", gate, "state", state)
	m.audit.Record("lifecycle-gate", audit.OutcomeDeny, "gate", gate, "state", state)
	return &GateDeniedError{Gate: gate, State: state}
}
