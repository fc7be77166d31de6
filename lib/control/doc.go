// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package control parses the command grammars written to NineDoor's
// control files.
//
// /queen/ctl takes newline-delimited JSON, one command object per line:
//
//	{"spawn":"heartbeat","ticks":100}
//	{"spawn":"gpu","lease":{"gpu_id":"GPU-0","mem_mb":4096,"streams":2,"ttl_s":120,"priority":1}}
//	{"kill":"worker-3"}
//	{"budget":{"ttl_s":300,"ops":1000}}
//	{"bind":{"from":"/worker/worker-1","to":"/queen/current"}}
//	{"mount":{"service":"gpu-bridge","at":"/host/gpu"}}
//
// Lines may carry // comments and trailing commas. Unknown keys are
// rejected. /replay/ctl takes a single {"from":N} object.
//
// Every parsed command has a canonical encoding used by the replay
// journal to confirm that a recorded line still parses to the same
// command.
package control
