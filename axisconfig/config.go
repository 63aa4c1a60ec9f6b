/*
   Copyright 2025 The DIRPX Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package axisconfig builds the Config an axis is created with (spec.md
// §6 "Configuration"). It follows the teacher's functional-options
// constructor shape (config.NewConfig(opts ...Option)), generalized from a
// reflection-walk config to this engine's resource limits and termination
// defaults.
package axisconfig

import (
	"log/slog"

	"github.com/caarlos0/env/v11"

	"dirpx.dev/timeaxis/termination"
)

const (
	// DefaultMaxPendingRequests is spec.md §6's default queue capacity.
	DefaultMaxPendingRequests = 65536
	// DefaultAnchorInterval is spec.md §6's default anchor cadence.
	DefaultAnchorInterval = 1024
	// DefaultMaxAnchors is spec.md §6's default anchor retention depth.
	DefaultMaxAnchors = 64
)

// Config is the caller-supplied axis configuration. A zero value is valid:
// every field of zero value means "apply the spec's default" (spec.md
// §4.9's "Apply defaults" step).
type Config struct {
	// WorkerThreadCount is the tick engine's worker pool size. 0 means
	// autodetect, floored at 4.
	WorkerThreadCount int `env:"AXIS_WORKER_THREAD_COUNT" envDefault:"0"`
	// MaxPendingRequests bounds the request queue. 0 means
	// DefaultMaxPendingRequests.
	MaxPendingRequests int `env:"AXIS_MAX_PENDING_REQUESTS" envDefault:"0"`
	// AnchorInterval is the slot spacing between anchors. 0 means
	// DefaultAnchorInterval.
	AnchorInterval uint64 `env:"AXIS_ANCHOR_INTERVAL" envDefault:"0"`
	// MaxAnchors bounds the anchor store's retained depth. 0 means
	// DefaultMaxAnchors.
	MaxAnchors int `env:"AXIS_MAX_ANCHORS" envDefault:"0"`
	// InitialConflictGroupCapacity is a hint only; the registry does not
	// preallocate on it today (spec.md §6: "hint only").
	InitialConflictGroupCapacity int `env:"AXIS_INITIAL_CONFLICT_GROUP_CAPACITY" envDefault:"0"`
	// TerminationConfig configures the frozen termination policy. The zero
	// value is not the spec's default (SafetyCap: 10000); use
	// termination.DefaultConfig() explicitly, or leave unset and let
	// Normalize apply it.
	TerminationConfig termination.Config
	// terminationConfigSet distinguishes an explicitly-supplied zero
	// Config{} (meaning "no limits at all") from "never set" (meaning
	// "apply spec.md's default"). Functional options and FromEnv both
	// leave this false unless WithTerminationConfig is used; a non-zero
	// TerminationConfig assigned directly is kept by Normalize either way.
	terminationConfigSet bool
	// Logger is normalized to slog.Default() when nil. It is not passed to
	// the engine or the worker pool: those write their few diagnostics
	// (a failed group resolution, worker pool start) through the slog
	// package's default logger, and custom-policy fallback and anchor
	// pruning are not logged.
	Logger *slog.Logger
}

// Option mutates a Config during construction.
type Option func(*Config)

// New constructs a Config from opts, starting from the zero value (meaning
// "apply every spec default"). Mirrors the teacher's
// config.NewConfig(opts ...Option) shape.
func New(opts ...Option) Config {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// FromEnv loads a Config from environment variables via
// github.com/caarlos0/env/v11, for operators driving cmd/axisctl without
// writing Go. TerminationConfig is never populated from the environment —
// its CustomCallback field cannot be expressed as an env var — so FromEnv
// callers who need a non-default termination policy must still set it in
// code afterward.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithWorkerThreadCount sets WorkerThreadCount.
func WithWorkerThreadCount(n int) Option {
	return func(c *Config) { c.WorkerThreadCount = n }
}

// WithMaxPendingRequests sets MaxPendingRequests.
func WithMaxPendingRequests(n int) Option {
	return func(c *Config) { c.MaxPendingRequests = n }
}

// WithAnchorInterval sets AnchorInterval.
func WithAnchorInterval(n uint64) Option {
	return func(c *Config) { c.AnchorInterval = n }
}

// WithMaxAnchors sets MaxAnchors.
func WithMaxAnchors(n int) Option {
	return func(c *Config) { c.MaxAnchors = n }
}

// WithInitialConflictGroupCapacity sets the registry preallocation hint.
func WithInitialConflictGroupCapacity(n int) Option {
	return func(c *Config) { c.InitialConflictGroupCapacity = n }
}

// WithTerminationConfig sets TerminationConfig explicitly, marking it as
// caller-supplied so Normalize does not overwrite it with
// termination.DefaultConfig().
func WithTerminationConfig(tc termination.Config) Option {
	return func(c *Config) {
		c.TerminationConfig = tc
		c.terminationConfigSet = true
	}
}

// WithLogger sets Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// Normalize applies spec.md §4.9's defaults to every zero-valued field and
// returns the result; it never mutates c. Called once, by axis.Create.
func (c Config) Normalize() Config {
	out := c
	if out.MaxPendingRequests <= 0 {
		out.MaxPendingRequests = DefaultMaxPendingRequests
	}
	if out.AnchorInterval == 0 {
		out.AnchorInterval = DefaultAnchorInterval
	}
	if out.MaxAnchors <= 0 {
		out.MaxAnchors = DefaultMaxAnchors
	}
	tc := out.TerminationConfig
	explicit := out.terminationConfigSet || tc.StepLimit != 0 || tc.SafetyCap != 0 ||
		tc.TerminateOnRequestDrain || tc.TerminateOnGroupResolution ||
		tc.RequiredExternalFlags != 0 || tc.CustomCallback != nil
	if !explicit {
		out.TerminationConfig = termination.DefaultConfig()
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}
