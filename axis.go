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

// Package axis is the time axis engine's external façade (spec.md §4.9,
// component C11): it owns one axis's full collaborator set — request
// queue, conflict-group registry, worker pool, current-state store,
// anchor store, termination policy, and tick engine — and is the only
// thing application code imports directly.
//
// # Overview
//
// Create builds one axis from a Config; Submit/SubmitBatch/Cancel feed it
// state-change requests against future slots; a single designated caller
// drives Tick/TickMultiple to advance time; Reconstruct/QueryState read
// arbitrary past slots; Destroy releases the worker pool.
//
// # Design
//
// Axis's only lock of its own is a small mutex guarding the destroyed
// flag; every other piece of mutable state lives in its owning
// collaborator (reqqueue.Queue, groups.Registry, statestore.Store,
// anchor.Store), each with its own mutex, composed by engine.Engine. Axis
// is a thin wrapper that is safe to call from any number of goroutines
// because every method it exposes delegates straight through to a
// collaborator that is already safe to call that way.
//
// # Concurrency model
//
// Submission, cancellation, and queries may run from any number of
// goroutines concurrently. Tick must be driven by exactly one goroutine
// at a time (spec.md §5: "the tick is strictly single-threaded"); Axis
// does not enforce this itself, matching the teacher's own posture of
// documenting a concurrency contract rather than policing it with an
// extra lock on the hot path.
//
// # Scope
//
// Two Axis instances are fully independent: there is no global, package-
// level axis state (contrast with the teacher's own rfx.go, which does
// keep one global atomic.Pointer[state] — that pattern is deliberately
// not repeated here, since spec.md invariant requires per-instance
// isolation, not a process-wide singleton).
package axis

import (
	"sync"

	"github.com/google/uuid"

	"dirpx.dev/timeaxis/anchor"
	"dirpx.dev/timeaxis/axiserr"
	"dirpx.dev/timeaxis/axisconfig"
	"dirpx.dev/timeaxis/engine"
	"dirpx.dev/timeaxis/groups"
	"dirpx.dev/timeaxis/ids"
	"dirpx.dev/timeaxis/reconstruct"
	"dirpx.dev/timeaxis/reqqueue"
	"dirpx.dev/timeaxis/statestore"
	"dirpx.dev/timeaxis/termination"
	"dirpx.dev/timeaxis/workerpool"
)

// Axis is one instance of the time axis engine. The zero value is not
// usable; construct one with Create.
type Axis struct {
	// ID is a process-unique identity assigned at Create, useful for
	// disambiguating multiple axes in logs and metrics labels. It plays
	// no part in any deterministic computation (spec.md's RequestId/
	// SlotIndex/anchor ids remain small monotonic integers for that).
	ID uuid.UUID

	config axisconfig.Config

	queue    *reqqueue.Queue
	registry *groups.Registry
	pool     *workerpool.Pool
	store    *statestore.Store
	anchors  *anchor.Store
	policy   *termination.Policy
	engine   *engine.Engine

	destroyOnce sync.Once
	destroyed   bool
	destroyMu   sync.Mutex
}

// Create builds a new Axis from cfg, applying spec.md §4.9's defaults,
// freezing the termination policy hash, starting the worker pool, and
// seeding the genesis anchor.
func Create(cfg axisconfig.Config) (*Axis, error) {
	cfg = cfg.Normalize()

	policy := termination.New(cfg.TerminationConfig)

	a := &Axis{
		ID:       uuid.New(),
		config:   cfg,
		queue:    reqqueue.New(cfg.MaxPendingRequests),
		registry: groups.New(),
		pool:     workerpool.New(cfg.WorkerThreadCount),
		store:    statestore.New(),
		anchors:  anchor.New(cfg.MaxAnchors, cfg.AnchorInterval, policy.Hash()),
		policy:   policy,
	}
	a.engine = engine.New(a.queue, a.registry, a.pool, a.store, a.anchors, a.policy)

	return a, nil
}

// Destroy stops the worker pool and joins it, releasing the axis's owned
// resources. Safe to call more than once; only the first call has
// effect. Any ReconstructionKey obtained before Destroy remains a legal
// opaque value but must not be used against this Axis afterward.
func (a *Axis) Destroy() {
	a.destroyOnce.Do(func() {
		a.pool.Close()
		a.destroyMu.Lock()
		a.destroyed = true
		a.destroyMu.Unlock()
	})
}

func (a *Axis) checkNotDestroyed() error {
	a.destroyMu.Lock()
	defer a.destroyMu.Unlock()
	if a.destroyed {
		return axiserr.New(axiserr.NotInitialized, "axis destroyed")
	}
	return nil
}

// Submit enqueues one state-change request targeting a future slot.
func (a *Axis) Submit(desc reqqueue.StateChangeDesc) (ids.RequestId, error) {
	if err := a.checkNotDestroyed(); err != nil {
		return ids.InvalidRequestId, err
	}
	return a.queue.Submit(desc)
}

// SubmitBatch enqueues descs atomically: either all are admitted or none
// are (spec.md §4.1).
func (a *Axis) SubmitBatch(descs []reqqueue.StateChangeDesc) ([]ids.RequestId, error) {
	if err := a.checkNotDestroyed(); err != nil {
		return nil, err
	}
	return a.queue.SubmitBatch(descs)
}

// Cancel marks a pending request as cancelled; observed at the next
// Harvest of its target slot.
func (a *Axis) Cancel(id ids.RequestId) error {
	return a.queue.Cancel(id)
}

// CreateGroup allocates a new conflict group under a built-in policy.
func (a *Axis) CreateGroup(policy groups.Policy) (ids.GroupId, error) {
	return a.registry.Create(policy)
}

// CreateCustomGroup allocates a new conflict group under a caller-supplied
// resolution function.
func (a *Axis) CreateCustomGroup(fn groups.CustomFunc) (ids.GroupId, error) {
	return a.registry.CreateCustom(fn)
}

// DestroyGroup flips id's Active flag off; the id and its last-known
// policy remain valid for resolving transitions already recorded against
// it.
func (a *Axis) DestroyGroup(id ids.GroupId) error {
	return a.registry.Destroy(id)
}

// Tick advances the axis by exactly one slot.
func (a *Axis) Tick() error {
	if err := a.checkNotDestroyed(); err != nil {
		return err
	}
	return a.engine.Tick()
}

// TickMultiple calls Tick exactly n times, short-circuiting on the first
// error.
func (a *Axis) TickMultiple(n int) error {
	if err := a.checkNotDestroyed(); err != nil {
		return err
	}
	return a.engine.TickMultiple(n)
}

// GetCurrentSlot returns the last committed slot.
func (a *Axis) GetCurrentSlot() ids.SlotIndex {
	return a.engine.CurrentSlot()
}

// GetOldestReconstructibleSlot returns the oldest slot a Reconstruct /
// QueryState call can still succeed against.
func (a *Axis) GetOldestReconstructibleSlot() ids.SlotIndex {
	return a.anchors.OldestSlot()
}

// GetStats returns the running request/conflict counters.
func (a *Axis) GetStats() engine.Stats {
	return a.engine.Stats()
}

// GetPendingRequestCount returns the number of non-cancelled requests
// targeting slot.
func (a *Axis) GetPendingRequestCount(slot ids.SlotIndex) int {
	return a.queue.PendingFor(slot)
}

// SetCommitCallback installs the callback invoked once per tick, on the
// tick thread, after the slot is fully committed.
func (a *Axis) SetCommitCallback(cb engine.CommitCallback) {
	a.engine.SetCommitCallback(cb)
}

// GetTerminationPolicyHash returns the axis's frozen, semantic-identity
// policy hash (spec.md invariant 4: set once, at creation, never changes).
func (a *Axis) GetTerminationPolicyHash() uint64 {
	return a.policy.Hash()
}

// GetTerminationContext returns a termination.Context built from the axis's
// current state, for inspection without forcing a tick: ElapsedSteps is the
// current slot, PendingRequests is the queue length, and TotalGroups is the
// number of registered conflict groups. ResolvedGroups and ExternalFlags are
// always zero, and TotalGroups is not the per-tick group count that Tick
// passes to the policy, so the result is not the context of the last
// evaluation.
func (a *Axis) GetTerminationContext() termination.Context {
	return termination.Context{
		ElapsedSteps:    uint64(a.engine.CurrentSlot()),
		PendingRequests: a.queue.Len(),
		TotalGroups:     len(a.registry.Snapshot()),
	}
}

// GetLastTerminationReason returns the reason recorded by the most recent
// Tick that observed termination, or termination.None.
func (a *Axis) GetLastTerminationReason() termination.Reason {
	return a.engine.LastTerminationReason()
}

// IsTerminated reports whether the axis has reached the Terminated
// lifecycle state.
func (a *Axis) IsTerminated() bool {
	return a.engine.Terminated()
}

// SetExternalSignal / ClearExternalSignal perform a wait-free atomic OR /
// AND-NOT on the axis's external-flag word (spec.md §4.9). They modify
// context, not policy, and are safe to call at any time.
func (a *Axis) SetExternalSignal(flag uint32)   { a.engine.SetExternalSignal(flag) }
func (a *Axis) ClearExternalSignal(flag uint32) { a.engine.ClearExternalSignal(flag) }

// The SetTermination* family exists only so callers written against an
// earlier, mutable-policy design receive a defined failure instead of
// silent divergence: the termination policy is frozen at Create and never
// changes (spec.md invariant 4), so every member of this family
// unconditionally returns PolicyLocked.

// SetTerminationByStepLimit always returns PolicyLocked.
func (a *Axis) SetTerminationByStepLimit(uint64) error { return policyLockedErr() }

// SetTerminationOnRequestDrain always returns PolicyLocked.
func (a *Axis) SetTerminationOnRequestDrain(bool) error { return policyLockedErr() }

// SetTerminationOnGroupResolution always returns PolicyLocked.
func (a *Axis) SetTerminationOnGroupResolution(bool) error { return policyLockedErr() }

// SetTerminationOnExternalSignal always returns PolicyLocked.
func (a *Axis) SetTerminationOnExternalSignal(uint32) error { return policyLockedErr() }

// SetTerminationSafetyCap always returns PolicyLocked.
func (a *Axis) SetTerminationSafetyCap(uint64) error { return policyLockedErr() }

// SetTerminationCustomCallback always returns PolicyLocked.
func (a *Axis) SetTerminationCustomCallback(termination.CustomFunc) error { return policyLockedErr() }

// SetTerminationConfig always returns PolicyLocked.
func (a *Axis) SetTerminationConfig(termination.Config) error { return policyLockedErr() }

func policyLockedErr() error {
	return axiserr.New(axiserr.PolicyLocked, "termination policy is frozen at Create")
}

// Reconstruct rebuilds state at targetSlot and invokes emit for every
// resulting (key, value) pair. slot == current_slot is not fast-pathed
// here (unlike QueryState) because Reconstruct must enumerate the whole
// map regardless of source; the fast path only pays off for a single-key
// read.
func (a *Axis) Reconstruct(targetSlot ids.SlotIndex, emit reconstruct.EmitFunc) error {
	return reconstruct.Reconstruct(a.anchors.Anchors(), a.anchors.Transitions(), targetSlot, a.policy.Hash(), emit)
}

// QueryState reads a single key at targetSlot, taking the fast path of
// reading the current-state store directly when targetSlot is the head
// slot (spec.md §4.8: "fast path for slot == current_slot reads the store
// directly").
func (a *Axis) QueryState(targetSlot ids.SlotIndex, key ids.StateKey) (ids.StateValue, error) {
	if targetSlot == a.engine.CurrentSlot() {
		v, ok := a.store.Get(key.Hash())
		if !ok {
			return ids.StateValue{}, axiserr.New(axiserr.NotFound, "")
		}
		return v, nil
	}
	return reconstruct.QueryState(a.anchors.Anchors(), a.anchors.Transitions(), targetSlot, a.policy.Hash(), key)
}

// ReconstructionKey builds the opaque replay descriptor for targetSlot.
func (a *Axis) ReconstructionKey(targetSlot ids.SlotIndex) (reconstruct.ReconstructionKey, error) {
	return reconstruct.ReconstructionKeyFor(a.anchors.Anchors(), a.anchors.Transitions(), targetSlot, a.policy.Hash())
}
