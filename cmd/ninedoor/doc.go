// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Ninedoor is the host service. It serves the NineDoor namespace over
// Secure9P on a Unix or TCP listener and, when configured, exports its
// counters on a Prometheus endpoint.
//
// Usage:
//
//	ninedoor [--config path] [--listen addr] [--metrics addr] [--version]
//
// Configuration comes from --config or NINEDOOR_CONFIG; without
// either the built-in defaults apply. --listen and --metrics override
// the corresponding config fields. On SIGINT or SIGTERM the lifecycle
// is forced Offline, every connection is closed, and telemetry cursors
// are flushed.
package main
