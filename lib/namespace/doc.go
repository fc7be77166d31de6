// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package namespace is the synthetic file tree NineDoor serves.
//
// Nodes live in a flat arena keyed by their absolute path; a directory
// records its children as a sorted list of names rather than holding
// pointers to them. Files are either read-only, replaced wholesale by
// the server, or append-only, extended by clients at the current end.
//
// Every node carries a Qid whose path is a keyed BLAKE3 hash of the
// node's absolute path, so a node recreated at the same path keeps its
// identity while its version advances with each mutation.
//
// Bind installs an alias: a path under the alias resolves to the same
// node under the bound target. Resolution picks the longest matching
// alias.
//
// A Tree is safe for concurrent use. All operations take one lock for
// their duration and never block on anything else.
package namespace
