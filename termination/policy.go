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

// Package termination implements the time axis's immutable termination
// policy (spec.md §4.10): a fixed-order evaluator over a frozen Config and
// a per-tick Context, plus the policy hash that gives an axis its semantic
// identity (spec.md invariants 3 and 4).
package termination

import "dirpx.dev/timeaxis/ids"

// Reason identifies which condition, if any, caused the axis to terminate.
//
// # Values
//
// Conditions are evaluated in a fixed order (see Evaluate); Reason records
// which one fired first. The order itself is part of the policy's semantic
// identity and is folded into PolicyHash, matching spec.md §4.10's note
// that "the order is load-bearing."
type Reason int

const (
	// None means no condition has fired; the axis keeps running.
	//
	// This is the reason recorded on every tick that does not terminate
	// the axis. It is never combined with Terminated lifecycle state.
	None Reason = iota

	// SafetyCap fires when elapsed_steps reaches an absolute, always-on
	// upper bound on tick count.
	//
	// SafetyCap exists as a backstop independent of whatever the
	// caller's own step_limit is: it is meant to catch configuration
	// mistakes (a step_limit of 0, accidentally interpreted as "never
	// terminate") before an axis runs forever. Evaluated before
	// StepLimit so a misconfigured safety cap can never be shadowed by a
	// looser step limit.
	SafetyCap

	// StepLimit fires when elapsed_steps reaches the caller-configured
	// step budget.
	//
	// This is the normal, caller-chosen way to bound a deterministic
	// simulation run: "stop after exactly N ticks."
	StepLimit

	// RequestDrain fires when the pending request queue has reached
	// zero and the axis is configured to treat drain as completion.
	//
	// Useful for axes that model "run until all submitted work is
	// done" rather than a fixed step count. Because pending_requests
	// only ever reflects requests targeting a future slot, a RequestDrain
	// axis will not terminate mid-way through a burst of submissions
	// that are still arriving from other threads; it only terminates
	// once harvesting has caught up and nothing more is queued at
	// evaluation time.
	RequestDrain

	// GroupResolution fires when every conflict group that received
	// requests in the current tick resolved without error (and at least
	// one did) and the axis is configured to treat that as completion.
	//
	// Distinct from RequestDrain: GroupResolution is about conflict-group
	// coverage within a single tick's fan-out, not about the queue being
	// empty.
	GroupResolution

	// ExternalSignal fires when any of the required external flag bits
	// are set.
	//
	// External flags are raised/lowered by SetExternalSignal /
	// ClearExternalSignal outside of the tick thread; this condition is
	// the bridge between that wait-free signaling mechanism and the
	// deterministic, single-threaded termination evaluation.
	ExternalSignal

	// CustomCallback fires when the caller-supplied callback returns
	// true for the current Context.
	//
	// CustomCallback is the escape hatch for termination conditions that
	// don't fit the built-in shapes above. The callback's address is
	// never folded into PolicyHash (spec.md §4.10: "its address does not
	// [matter]; addresses are not portable across runs") — only whether
	// one is configured at all.
	CustomCallback
)

// String returns a short, stable name for r.
func (r Reason) String() string {
	switch r {
	case None:
		return "None"
	case SafetyCap:
		return "SafetyCap"
	case StepLimit:
		return "StepLimit"
	case RequestDrain:
		return "RequestDrain"
	case GroupResolution:
		return "GroupResolution"
	case ExternalSignal:
		return "ExternalSignal"
	case CustomCallback:
		return "CustomCallback"
	default:
		return "Reason(unknown)"
	}
}

// CustomFunc is the signature of a custom termination callback. It must be
// pure with respect to engine mutations; it may read its own closed-over
// state.
type CustomFunc func(ctx Context) bool

// Config is the immutable termination policy configuration, frozen once at
// axis creation (spec.md invariant 4: "termination_policy_hash is set
// exactly once, at creation, and never changes").
type Config struct {
	// StepLimit, if > 0, enables the StepLimit condition.
	StepLimit uint64
	// SafetyCap, if > 0, enables the SafetyCap condition. A zero-value
	// Config leaves it disabled; DefaultConfig sets it to 10000.
	SafetyCap uint64
	// TerminateOnRequestDrain enables the RequestDrain condition.
	TerminateOnRequestDrain bool
	// TerminateOnGroupResolution enables the GroupResolution condition.
	TerminateOnGroupResolution bool
	// RequiredExternalFlags, if nonzero, enables the ExternalSignal
	// condition: it fires when (external_flags & RequiredExternalFlags) != 0.
	RequiredExternalFlags uint32
	// CustomCallback, if non-nil, enables the CustomCallback condition.
	CustomCallback CustomFunc
}

// DefaultConfig returns the spec.md §6 default: {safety_cap=10000,
// everything else off}.
func DefaultConfig() Config {
	return Config{SafetyCap: 10000}
}

// Context is the per-tick snapshot Evaluate runs against. The tick engine
// rebuilds it after every successful tick (spec.md §4.5 step 15).
type Context struct {
	ElapsedSteps    uint64
	PendingRequests int
	ResolvedGroups  int
	TotalGroups     int
	ExternalFlags   uint32
}

// Policy is a frozen Config plus its PolicyHash, ready to Evaluate.
type Policy struct {
	cfg  Config
	hash uint64
}

// New freezes cfg into a Policy and computes its PolicyHash once.
func New(cfg Config) *Policy {
	return &Policy{cfg: cfg, hash: computeHash(cfg)}
}

// Config returns a copy of the frozen configuration.
func (p *Policy) Config() Config { return p.cfg }

// Hash returns the policy's 64-bit semantic-identity fingerprint. Two
// axes share semantic identity iff their policy hashes match (spec.md §6).
func (p *Policy) Hash() uint64 { return p.hash }

// Evaluate runs the fixed-order condition checks (spec.md §4.10) and
// returns the first that fires, or None.
func (p *Policy) Evaluate(ctx Context) Reason {
	cfg := p.cfg

	if cfg.SafetyCap > 0 && ctx.ElapsedSteps >= cfg.SafetyCap {
		return SafetyCap
	}
	if cfg.StepLimit > 0 && ctx.ElapsedSteps >= cfg.StepLimit {
		return StepLimit
	}
	if cfg.TerminateOnRequestDrain && ctx.PendingRequests == 0 {
		return RequestDrain
	}
	if cfg.TerminateOnGroupResolution && ctx.TotalGroups > 0 && ctx.ResolvedGroups >= ctx.TotalGroups {
		return GroupResolution
	}
	if cfg.RequiredExternalFlags != 0 && (ctx.ExternalFlags&cfg.RequiredExternalFlags) != 0 {
		return ExternalSignal
	}
	if cfg.CustomCallback != nil && cfg.CustomCallback(ctx) {
		return CustomCallback
	}
	return None
}

// computeHash folds the policy-identity-relevant fields of cfg into a
// 64-bit fingerprint. Only the *presence* of a custom callback matters,
// never its address (spec.md §4.10).
func computeHash(cfg Config) uint64 {
	h := ids.NewHasher64()
	h.WriteUint64(cfg.StepLimit)
	h.WriteUint64(cfg.SafetyCap)
	h.WriteBool(cfg.TerminateOnRequestDrain)
	h.WriteBool(cfg.TerminateOnGroupResolution)
	h.WriteUint64(uint64(cfg.RequiredExternalFlags))
	h.WriteBool(cfg.CustomCallback != nil)
	for _, r := range []Reason{SafetyCap, StepLimit, RequestDrain, GroupResolution, ExternalSignal, CustomCallback} {
		h.WriteUint64(uint64(r))
	}
	return h.Sum()
}
