// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle tracks the node state that decides which classes
// of operation NineDoor currently admits.
//
// The node starts Booting and moves to Online on the boot-complete
// event. Operators move it with the commands cordon, drain, resume,
// quiesce, and reset; drain, quiesce, and reset refuse to run while
// leases are outstanding. Gates are named predicates over the state.
// Booting, Quiesced, and Offline satisfy no gate.
package lifecycle
