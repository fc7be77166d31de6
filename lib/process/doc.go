// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for NineDoor
// binaries: reporting a fatal error to stderr before (or after) the
// structured logger exists, and choosing the exit status.
package process
