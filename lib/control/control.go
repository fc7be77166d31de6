// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/jsonc"
)

// ErrInvalid wraps every parse and validation failure.
var ErrInvalid = errors.New("control: invalid command")

var validate = validator.New(validator.WithRequiredStructEnabled())

// WorkerKind is the kind of worker a spawn creates.
type WorkerKind string

const (
	WorkerHeartbeat WorkerKind = "heartbeat"
	WorkerGPU       WorkerKind = "gpu"
)

// Budget limits a worker. Nil fields are unlimited.
type Budget struct {
	TTLSeconds *uint64 `json:"ttl_s,omitempty"`
	Ops        *uint64 `json:"ops,omitempty"`
}

// Lease is a GPU reservation held by a spawned GPU worker.
type Lease struct {
	GPUID      string `json:"gpu_id" validate:"required,max=128"`
	MemMB      uint32 `json:"mem_mb"`
	Streams    uint8  `json:"streams"`
	TTLSeconds uint32 `json:"ttl_s"`
	Priority   uint8  `json:"priority"`
}

// BindSpec aliases To onto the existing path From.
type BindSpec struct {
	From string `json:"from" validate:"required,startswith=/"`
	To   string `json:"to" validate:"required,startswith=/"`
}

// MountSpec publishes a host service endpoint at At.
type MountSpec struct {
	Service string `json:"service" validate:"required,max=128,excludesall=/"`
	At      string `json:"at" validate:"required,startswith=/"`
}

// Command is one parsed /queen/ctl command.
type Command interface {
	// Name is the command's key: spawn, kill, budget, bind, or mount.
	Name() string
}

// Spawn creates a worker.
type Spawn struct {
	Kind   WorkerKind
	Ticks  *uint64
	Budget *Budget
	Lease  *Lease
}

// Kill removes a worker.
type Kill struct {
	WorkerID string
}

// SetBudget sets the default budget of later spawns.
type SetBudget struct {
	Budget Budget
}

// Bind installs a namespace alias.
type Bind struct {
	BindSpec
}

// Mount publishes a host service endpoint.
type Mount struct {
	MountSpec
}

func (Spawn) Name() string     { return "spawn" }
func (Kill) Name() string      { return "kill" }
func (SetBudget) Name() string { return "budget" }
func (Bind) Name() string      { return "bind" }
func (Mount) Name() string     { return "mount" }

// queenLine is the union of every key a /queen/ctl line may carry.
type queenLine struct {
	Spawn  *WorkerKind `json:"spawn,omitempty"`
	Ticks  *uint64     `json:"ticks,omitempty"`
	Budget *Budget     `json:"budget,omitempty"`
	Lease  *Lease      `json:"lease,omitempty"`
	Kill   *string     `json:"kill,omitempty"`
	Bind   *BindSpec   `json:"bind,omitempty"`
	Mount  *MountSpec  `json:"mount,omitempty"`
}

// ParseQueenLine parses one /queen/ctl line.
func ParseQueenLine(line []byte) (Command, error) {
	stripped := bytes.TrimSpace(jsonc.ToJSON(line))
	if len(stripped) == 0 {
		return nil, fmt.Errorf("%w: empty line", ErrInvalid)
	}

	var parsed queenLine
	decoder := json.NewDecoder(bytes.NewReader(stripped))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("%w: trailing data after command object", ErrInvalid)
	}
	return parsed.command()
}

func (line *queenLine) command() (Command, error) {
	present := 0
	for _, set := range []bool{line.Spawn != nil, line.Kill != nil, line.Bind != nil, line.Mount != nil} {
		if set {
			present++
		}
	}
	if line.Spawn == nil && line.Budget != nil {
		present++
	}
	if present != 1 {
		return nil, fmt.Errorf("%w: want exactly one of spawn, kill, budget, bind, mount; got %d", ErrInvalid, present)
	}
	if line.Spawn == nil && (line.Ticks != nil || line.Lease != nil) {
		return nil, fmt.Errorf("%w: ticks and lease are only valid with spawn", ErrInvalid)
	}

	switch {
	case line.Spawn != nil:
		spawn := Spawn{Kind: *line.Spawn, Ticks: line.Ticks, Budget: line.Budget, Lease: line.Lease}
		if err := spawn.validate(); err != nil {
			return nil, err
		}
		return spawn, nil
	case line.Kill != nil:
		if strings.TrimSpace(*line.Kill) == "" {
			return nil, fmt.Errorf("%w: kill requires a worker id", ErrInvalid)
		}
		return Kill{WorkerID: *line.Kill}, nil
	case line.Budget != nil:
		return SetBudget{Budget: *line.Budget}, nil
	case line.Bind != nil:
		if err := validateStruct(line.Bind); err != nil {
			return nil, err
		}
		return Bind{BindSpec: *line.Bind}, nil
	default:
		if err := validateStruct(line.Mount); err != nil {
			return nil, err
		}
		return Mount{MountSpec: *line.Mount}, nil
	}
}

func (s Spawn) validate() error {
	switch s.Kind {
	case WorkerHeartbeat:
		if s.Ticks == nil {
			return fmt.Errorf("%w: heartbeat spawn requires ticks", ErrInvalid)
		}
		if s.Lease != nil {
			return fmt.Errorf("%w: heartbeat spawn does not take a lease", ErrInvalid)
		}
	case WorkerGPU:
		if s.Lease == nil {
			return fmt.Errorf("%w: gpu spawn requires lease", ErrInvalid)
		}
		if err := validateStruct(s.Lease); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown worker kind %q", ErrInvalid, s.Kind)
	}
	return nil
}

func validateStruct(value any) error {
	if err := validate.Struct(value); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
			first := fieldErrors[0]
			return fmt.Errorf("%w: field %s fails %q", ErrInvalid, strings.ToLower(first.Field()), first.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// ParseQueenCommands parses every non-blank line of data. Parsing stops
// at the first invalid line; the error names its 1-based number.
func ParseQueenCommands(data []byte) ([]Command, [][]byte, error) {
	var commands []Command
	var lines [][]byte
	for index, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		command, err := ParseQueenLine(line)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		commands = append(commands, command)
		lines = append(lines, bytes.TrimSpace(line))
	}
	if len(commands) == 0 {
		return nil, nil, fmt.Errorf("%w: no commands", ErrInvalid)
	}
	return commands, lines, nil
}

// Canonical returns the canonical JSON form of a command. Two lines
// that parse to the same command have the same canonical form.
func Canonical(command Command) string {
	var line queenLine
	switch c := command.(type) {
	case Spawn:
		kind := c.Kind
		line = queenLine{Spawn: &kind, Ticks: c.Ticks, Budget: c.Budget, Lease: c.Lease}
	case Kill:
		id := c.WorkerID
		line = queenLine{Kill: &id}
	case SetBudget:
		budget := c.Budget
		line = queenLine{Budget: &budget}
	case Bind:
		spec := c.BindSpec
		line = queenLine{Bind: &spec}
	case Mount:
		spec := c.MountSpec
		line = queenLine{Mount: &spec}
	}
	encoded, err := json.Marshal(line)
	if err != nil {
		return ""
	}
	return string(encoded)
}

// ReplayRequest is a parsed /replay/ctl command.
type ReplayRequest struct {
	From uint64
}

type replayLine struct {
	From *uint64 `json:"from"`
}

// ParseReplay parses a /replay/ctl write.
func ParseReplay(data []byte) (ReplayRequest, error) {
	stripped := bytes.TrimSpace(jsonc.ToJSON(data))
	var parsed replayLine
	decoder := json.NewDecoder(bytes.NewReader(stripped))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&parsed); err != nil {
		return ReplayRequest{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if decoder.More() {
		return ReplayRequest{}, fmt.Errorf("%w: one replay command per write", ErrInvalid)
	}
	if parsed.From == nil {
		return ReplayRequest{}, fmt.Errorf("%w: replay requires from", ErrInvalid)
	}
	return ReplayRequest{From: *parsed.From}, nil
}
