// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the NineDoor
// host service.
//
// Configuration is loaded from a single file specified by either the
// NINEDOOR_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search. A binary started without either runs on [Default].
//
// The file may carry environment sections (development, staging,
// production) that override base values when [Config].Environment
// matches. Production is stricter by default: queen attaches require a
// ticket.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${NINEDOOR_STATE}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
//
// This package depends on no other NineDoor packages; cmd/ninedoor
// converts a Config into server options.
package config
