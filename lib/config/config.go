// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the NineDoor host configuration.
type Config struct {
	Environment Environment `yaml:"environment" validate:"oneof=development staging production"`

	// Listen is the Secure9P listen address: "unix:/path", an absolute
	// socket path, "tcp:host:port", or "host:port".
	Listen string `yaml:"listen" validate:"required"`

	// Metrics is the Prometheus listen address. Empty disables the
	// endpoint.
	Metrics string `yaml:"metrics" validate:"omitempty,hostname_port"`

	Secure9P  Secure9PConfig  `yaml:"secure9p"`
	Namespace NamespaceConfig `yaml:"namespace"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Tickets   TicketsConfig   `yaml:"tickets"`
	Audit     AuditConfig     `yaml:"audit"`
	Replay    ReplayConfig    `yaml:"replay"`
	Log       LogConfig       `yaml:"log"`

	Development *ConfigOverrides `yaml:"development,omitempty" validate:"-"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty" validate:"-"`
	Production  *ConfigOverrides `yaml:"production,omitempty" validate:"-"`
}

// ConfigOverrides contains the fields an environment section may
// override.
type ConfigOverrides struct {
	Listen  string         `yaml:"listen,omitempty"`
	Metrics *string        `yaml:"metrics,omitempty"`
	Tickets *TicketsConfig `yaml:"tickets,omitempty"`
	Log     *LogConfig     `yaml:"log,omitempty"`
}

// Secure9PConfig bounds the protocol and each session.
type Secure9PConfig struct {
	// MaxMessageSize is the largest msize the server negotiates.
	MaxMessageSize uint32 `yaml:"max_message_size" validate:"min=256"`

	// TagsPerSession bounds concurrently outstanding tags.
	TagsPerSession int `yaml:"tags_per_session" validate:"min=1,max=65535"`

	// BatchFrames bounds the frames gathered into one batch.
	BatchFrames int `yaml:"batch_frames" validate:"min=1"`

	FidShards int `yaml:"fid_shards" validate:"min=1,max=1024"`

	ShortWrite ShortWriteConfig `yaml:"short_write"`
}

// ShortWriteConfig is the transport's reaction to partial writes.
type ShortWriteConfig struct {
	// Policy is "reject" or "retry".
	Policy string `yaml:"policy" validate:"oneof=reject retry"`

	// Retries bounds resends under the retry policy.
	Retries int `yaml:"retries" validate:"min=0,max=30"`

	// Backoff is the delay before the first retry, as a Go duration.
	// Each later retry doubles it.
	Backoff string `yaml:"backoff" validate:"required"`
}

// NamespaceConfig bounds the synthetic tree.
type NamespaceConfig struct {
	MaxDepth     int `yaml:"max_depth" validate:"min=1,max=255"`
	MaxFileBytes int `yaml:"max_file_bytes" validate:"min=1"`
}

// TelemetryConfig configures worker rings, cursors, and segments.
type TelemetryConfig struct {
	RingBytes int `yaml:"ring_bytes" validate:"min=1"`

	// Schema is "v1" (arbitrary bytes) or "legacy" (UTF-8 only).
	Schema string `yaml:"schema" validate:"oneof=v1 legacy"`

	// StalePolicy is "reject" or "rewind".
	StalePolicy string `yaml:"stale_policy" validate:"oneof=reject rewind"`

	// CursorState is the file cursors persist to. Empty keeps cursors
	// in memory only.
	CursorState string `yaml:"cursor_state"`

	Segments SegmentsConfig `yaml:"segments"`
}

// SegmentsConfig bounds each worker's ingest segments.
type SegmentsConfig struct {
	MaxSegments   int    `yaml:"max_segments" validate:"min=1"`
	MaxBytes      uint64 `yaml:"max_segment_bytes" validate:"min=1"`
	MaxTotalBytes uint64 `yaml:"max_total_bytes" validate:"min=1"`

	// Policy is "evict-oldest" or "refuse".
	Policy string `yaml:"policy" validate:"oneof=evict-oldest refuse"`
}

// TicketsConfig configures attach ticket verification.
type TicketsConfig struct {
	// PublicKey is the path of the issuer's Ed25519 public key. Empty
	// rejects every ticketed attach.
	PublicKey string `yaml:"public_key"`

	RequireQueenTicket bool `yaml:"require_queen_ticket"`
}

// AuditConfig sizes the audit ring served at /log/queen.log.
type AuditConfig struct {
	RingBytes int `yaml:"ring_bytes" validate:"min=1"`
}

// ReplayConfig bounds the control journal.
type ReplayConfig struct {
	JournalEntries int `yaml:"journal_entries" validate:"min=1"`
}

// LogConfig selects the process log handler.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Format is "text", "json", or "auto": text on a terminal, JSON
	// otherwise.
	Format string `yaml:"format" validate:"oneof=auto text json"`
}

// Default returns the configuration a bare binary runs with. Every
// field a file omits keeps its value from here.
func Default() *Config {
	return &Config{
		Environment: Development,
		Listen:      "unix:${NINEDOOR_STATE}/ninedoor.sock",
		Secure9P: Secure9PConfig{
			MaxMessageSize: 8192,
			TagsPerSession: 64,
			BatchFrames:    8,
			FidShards:      16,
			ShortWrite: ShortWriteConfig{
				Policy:  "retry",
				Retries: 3,
				Backoff: "5ms",
			},
		},
		Namespace: NamespaceConfig{
			MaxDepth:     32,
			MaxFileBytes: 1 << 20,
		},
		Telemetry: TelemetryConfig{
			RingBytes:   64 * 1024,
			Schema:      "v1",
			StalePolicy: "reject",
			Segments: SegmentsConfig{
				MaxSegments:   8,
				MaxBytes:      64 * 1024,
				MaxTotalBytes: 256 * 1024,
				Policy:        "evict-oldest",
			},
		},
		Audit:  AuditConfig{RingBytes: 64 * 1024},
		Replay: ReplayConfig{JournalEntries: 1024},
		Log:    LogConfig{Level: "info", Format: "auto"},
	}
}

// Load loads configuration from the file named by NINEDOOR_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("NINEDOOR_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("NINEDOOR_CONFIG environment variable not set; " +
			"set it to the path of your ninedoor.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path on top of Default, applies
// the matching environment section, expands path variables, and
// validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	cfg.ExpandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: the queen must present a ticket.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Tickets: &TicketsConfig{
					PublicKey:          c.Tickets.PublicKey,
					RequireQueenTicket: true,
				},
			}
		}
	}
	if overrides == nil {
		return
	}

	if overrides.Listen != "" {
		c.Listen = overrides.Listen
	}
	if overrides.Metrics != nil {
		c.Metrics = *overrides.Metrics
	}
	if overrides.Tickets != nil {
		if overrides.Tickets.PublicKey != "" {
			c.Tickets.PublicKey = overrides.Tickets.PublicKey
		}
		// RequireQueenTicket is a bool, so it is always applied.
		c.Tickets.RequireQueenTicket = overrides.Tickets.RequireQueenTicket
	}
	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
		if overrides.Log.Format != "" {
			c.Log.Format = overrides.Log.Format
		}
	}
}

// ExpandVariables expands ${VAR} and ${VAR:-default} in path fields.
// NINEDOOR_STATE defaults to $XDG_RUNTIME_DIR/ninedoor, or to
// /run/ninedoor when that is unset.
func (c *Config) ExpandVariables() {
	vars := map[string]string{
		"HOME":           os.Getenv("HOME"),
		"NINEDOOR_STATE": stateDirectory(),
	}
	c.Listen = expandVars(c.Listen, vars)
	c.Telemetry.CursorState = expandVars(c.Telemetry.CursorState, vars)
	c.Tickets.PublicKey = expandVars(c.Tickets.PublicKey, vars)
}

func stateDirectory() string {
	if value := os.Getenv("NINEDOOR_STATE"); value != "" {
		return value
	}
	if runtime := os.Getenv("XDG_RUNTIME_DIR"); runtime != "" {
		return filepath.Join(runtime, "ninedoor")
	}
	return "/run/ninedoor"
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the rules that span fields.
// Every violation is reported, joined.
func (c *Config) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var fieldErrors validator.ValidationErrors
		if !errors.As(err, &fieldErrors) {
			return err
		}
		for _, fieldError := range fieldErrors {
			errs = append(errs, fmt.Errorf("%s fails %q (value %v)", fieldPath(fieldError.Namespace()), fieldError.Tag(), fieldError.Value()))
		}
	}

	if backoff, err := time.ParseDuration(c.Secure9P.ShortWrite.Backoff); err != nil {
		errs = append(errs, fmt.Errorf("secure9p.short_write.backoff: %w", err))
	} else if backoff <= 0 {
		errs = append(errs, fmt.Errorf("secure9p.short_write.backoff must be positive"))
	}
	if c.Tickets.RequireQueenTicket && c.Tickets.PublicKey == "" {
		errs = append(errs, fmt.Errorf("tickets.require_queen_ticket needs tickets.public_key"))
	}
	if segments := c.Telemetry.Segments; segments.MaxBytes > segments.MaxTotalBytes {
		errs = append(errs, fmt.Errorf("telemetry.segments.max_segment_bytes %d exceeds max_total_bytes %d",
			segments.MaxBytes, segments.MaxTotalBytes))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ShortWriteBackoff returns the parsed backoff. Call after Validate.
func (c *Config) ShortWriteBackoff() time.Duration {
	backoff, _ := time.ParseDuration(c.Secure9P.ShortWrite.Backoff)
	return backoff
}

// fieldPath turns a validator namespace such as
// "Config.Secure9P.ShortWrite.Policy" into the YAML path
// "secure9p.short_write.policy".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, part := range parts {
		parts[i] = yamlName(part)
	}
	return strings.Join(parts, ".")
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

func yamlName(field string) string {
	switch field {
	case "Secure9P":
		return "secure9p"
	case "MaxBytes":
		return "max_segment_bytes"
	}
	return strings.ToLower(camelBoundary.ReplaceAllString(field, "${1}_${2}"))
}
