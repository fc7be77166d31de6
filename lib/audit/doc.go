// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records security-relevant decisions as single text
// lines of the form
//
//	<component> outcome=<outcome> key=value ...
//
// Each line goes to the structured logger and to a Sink. NineDoor's
// sink is a telemetry ring served at /log/queen.log, so peers can
// verify denials and evictions without access to the host's logs.
package audit
