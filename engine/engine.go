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

// Package engine implements the time axis's tick engine (spec.md §4.5): the
// single-threaded orchestration of one slot's advance — harvest, bucket,
// snapshot groups, fan out to the worker pool, join, commit in
// deterministic order, append a transition, materialize an anchor if due,
// advance the slot, invoke the commit callback, and evaluate termination.
package engine

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"

	"dirpx.dev/timeaxis/anchor"
	"dirpx.dev/timeaxis/axiserr"
	"dirpx.dev/timeaxis/groups"
	"dirpx.dev/timeaxis/ids"
	"dirpx.dev/timeaxis/reqqueue"
	"dirpx.dev/timeaxis/resolve"
	"dirpx.dev/timeaxis/statestore"
	"dirpx.dev/timeaxis/termination"
	"dirpx.dev/timeaxis/workerpool"
)

// CommitCallback is invoked once per tick, on the tick thread, after the
// slot is fully committed and visible to queries (spec.md §6).
type CommitCallback func(slot ids.SlotIndex, changeCount int)

// Stats accumulates the running counters spec.md §4.5 step 11 and §6
// describe, enriched with the live-derived fields the original's
// AxisTimeAxisStats carries (axis_time_slot_types.h): ActiveConflictGroups,
// CurrentAnchorCount, and MemoryUsageBytes. Published as an immutable
// snapshot after every tick.
type Stats struct {
	TotalRequestsProcessed uint64
	TotalConflictsResolved uint64
	ActiveConflictGroups   uint32
	CurrentAnchorCount     uint32
	MemoryUsageBytes       uint64
}

// Engine drives one axis's slot progression. Its exported surface is
// deliberately small: the root façade package composes an Engine with the
// request queue, group registry, and current-state store it was built
// with, and is the only caller of Tick.
type Engine struct {
	queue    *reqqueue.Queue
	registry *groups.Registry
	pool     *workerpool.Pool
	store    *statestore.Store
	anchors  *anchor.Store
	policy   *termination.Policy

	currentSlot atomic.Uint64
	lifecycle   atomic.Bool // true once Terminated
	externalFlags atomic.Uint32
	lastReason  atomic.Int32

	// stats is published via an immutable-snapshot atomic.Pointer swap,
	// grounded on the global-state publish pattern in
	// _examples/DIRPX-rfx/rfx.go (st atomic.Pointer[state]): readers never
	// see a torn Stats value, and the tick thread never holds a lock
	// across the swap.
	stats atomic.Pointer[Stats]

	callbackMu sync.Mutex
	callback   CommitCallback

	taskSeqMu sync.Mutex
	taskSeq   map[ids.GroupId]uint64
}

// New wires an Engine over already-constructed collaborators. All
// arguments must be non-nil; the façade package is responsible for
// applying spec.md §4.9's config defaults before calling New.
func New(
	queue *reqqueue.Queue,
	registry *groups.Registry,
	pool *workerpool.Pool,
	store *statestore.Store,
	anchors *anchor.Store,
	policy *termination.Policy,
) *Engine {
	e := &Engine{
		queue:    queue,
		registry: registry,
		pool:     pool,
		store:    store,
		anchors:  anchors,
		policy:   policy,
		taskSeq:  make(map[ids.GroupId]uint64),
	}
	e.stats.Store(&Stats{})
	return e
}

// SetCommitCallback installs the callback invoked after each committed
// tick. A nil callback disables the notification.
func (e *Engine) SetCommitCallback(cb CommitCallback) {
	e.callbackMu.Lock()
	defer e.callbackMu.Unlock()
	e.callback = cb
}

// CurrentSlot returns the last successfully committed slot.
func (e *Engine) CurrentSlot() ids.SlotIndex {
	return ids.SlotIndex(e.currentSlot.Load())
}

// Terminated reports whether the axis has reached the Terminated lifecycle
// state (spec.md invariant 8).
func (e *Engine) Terminated() bool {
	return e.lifecycle.Load()
}

// LastTerminationReason returns the reason recorded by the most recent
// Tick that observed termination, or termination.None if the axis is still
// running or has never ticked.
func (e *Engine) LastTerminationReason() termination.Reason {
	return termination.Reason(e.lastReason.Load())
}

// Stats returns a snapshot of the running counters plus the live-derived
// fields, matching the original's AxisTimeAxis_GetStats
// (conflict_resolver.cpp): the running counters are read from the published
// snapshot, while ActiveConflictGroups, CurrentAnchorCount, and
// MemoryUsageBytes are recomputed from the collaborators' current state on
// every call rather than accumulated.
func (e *Engine) Stats() Stats {
	s := *e.stats.Load()
	s.ActiveConflictGroups = countActiveGroups(e.registry.Snapshot())
	s.CurrentAnchorCount = uint32(len(e.anchors.Anchors()))
	s.MemoryUsageBytes = e.estimateMemoryUsage()
	return s
}

func countActiveGroups(snapshot []groups.Group) uint32 {
	var n uint32
	for _, g := range snapshot {
		if g.Active {
			n++
		}
	}
	return n
}

// estimateMemoryUsage mirrors AxisTimeAxis_GetStats's memory_usage_bytes
// calculation: a fixed base cost for the engine's own state plus each
// collaborator's live item count times that item's struct size.
func (e *Engine) estimateMemoryUsage() uint64 {
	const baseSize = uint64(unsafe.Sizeof(Engine{}))
	pending := uint64(e.queue.Len()) * uint64(unsafe.Sizeof(reqqueue.PendingRequest{}))
	groupsSize := uint64(len(e.registry.Snapshot())) * uint64(unsafe.Sizeof(groups.Group{}))
	anchorsSize := uint64(len(e.anchors.Anchors())) * uint64(unsafe.Sizeof(anchor.Anchor{}))
	return baseSize + pending + groupsSize + anchorsSize
}

// SetExternalSignal / ClearExternalSignal implement spec.md §4.9's
// wait-free external-flag bridge: atomic OR / AND-NOT on a shared 32-bit
// word, safe to call at any time from any goroutine.
func (e *Engine) SetExternalSignal(flag uint32) {
	for {
		old := e.externalFlags.Load()
		if e.externalFlags.CompareAndSwap(old, old|flag) {
			return
		}
	}
}

func (e *Engine) ClearExternalSignal(flag uint32) {
	for {
		old := e.externalFlags.Load()
		if e.externalFlags.CompareAndSwap(old, old&^flag) {
			return
		}
	}
}

// Tick advances the axis by exactly one slot (spec.md §4.5). It must be
// called by a single designated caller; concurrent Tick calls on the same
// Engine are not supported (spec.md §5: "the tick is strictly
// single-threaded").
func (e *Engine) Tick() error {
	if e.lifecycle.Load() {
		return axiserr.New(axiserr.Terminated, "")
	}

	target := ids.SlotIndex(e.currentSlot.Load() + 1)

	harvested := e.queue.Harvest(target)
	buckets := bucketByGroup(harvested)
	groupSnapshot := e.registry.Snapshot()

	results := e.resolveBuckets(buckets, groupSnapshot)

	sort.Slice(results, func(i, j int) bool {
		if results[i].result.GroupId != results[j].result.GroupId {
			return results[i].result.GroupId < results[j].result.GroupId
		}
		return results[i].taskSeq < results[j].taskSeq // SPEC_FULL.md §D decision 3
	})

	totalChanges, resolvedGroupCount := e.commit(results)

	requestIds := make([]ids.RequestId, len(harvested))
	for i, r := range harvested {
		requestIds[i] = r.RequestId
	}
	var allChanges []resolve.ResolvedChange
	var combinedHash uint64
	for _, r := range results {
		allChanges = append(allChanges, r.result.ResolvedChanges...)
		combinedHash ^= r.result.ChangeHash
	}
	e.anchors.AppendTransition(anchor.SlotTransition{
		SlotIndex:       target,
		RequestIds:      requestIds,
		ResolvedChanges: allChanges,
		ResolutionHash:  combinedHash,
	})

	e.anchors.MaybeAnchor(target, e.store.Snapshot(), e.policy.Hash())

	e.updateStats(len(harvested), totalChanges)

	e.currentSlot.Store(uint64(target))
	e.queue.SetCurrentSlot(target)

	e.invokeCommitCallback(target, totalChanges)

	e.evaluateTermination(len(buckets), resolvedGroupCount)

	return nil
}

// TickMultiple calls Tick exactly n times, short-circuiting on the first
// error (spec.md §4.5: "tick_multiple(n) is exactly n calls to tick,
// short-circuiting on the first non-OK result").
func (e *Engine) TickMultiple(n int) error {
	for i := 0; i < n; i++ {
		if err := e.Tick(); err != nil {
			return err
		}
	}
	return nil
}

type taggedResult struct {
	result  resolve.GroupResolutionResult
	taskSeq uint64
}

func bucketByGroup(harvested []reqqueue.PendingRequest) map[ids.GroupId][]reqqueue.PendingRequest {
	buckets := make(map[ids.GroupId][]reqqueue.PendingRequest)
	for _, r := range harvested {
		buckets[r.Desc.GroupId] = append(buckets[r.Desc.GroupId], r)
	}
	return buckets
}

// resolveBuckets fans one resolution task per group out to the worker pool
// and joins on it (spec.md §4.5 steps 6-7).
func (e *Engine) resolveBuckets(buckets map[ids.GroupId][]reqqueue.PendingRequest, groupSnapshot []groups.Group) []taggedResult {
	results := make([]taggedResult, len(buckets))
	var mu sync.Mutex
	i := 0

	for gid, reqs := range buckets {
		gid, reqs := gid, reqs
		idx := i
		i++

		group, ok := groups.Lookup(groupSnapshot, gid)
		if !ok || !group.Active {
			group = groups.Group{Id: gid, Policy: groups.FirstWriter, Active: true}
		}

		e.pool.Submit(func() {
			r := resolve.Resolve(group, reqs)
			mu.Lock()
			results[idx] = taggedResult{result: r, taskSeq: e.nextTaskSeq(gid)}
			mu.Unlock()
		})
	}
	e.pool.Wait()
	return results
}

func (e *Engine) nextTaskSeq(gid ids.GroupId) uint64 {
	e.taskSeqMu.Lock()
	defer e.taskSeqMu.Unlock()
	seq := e.taskSeq[gid]
	e.taskSeq[gid] = seq + 1
	return seq
}

// commit applies every result's resolved changes to current state under a
// single pass, in the ascending (group_id, key_hash) order already
// established by the caller's sort plus Resolve's own per-group key_hash
// ordering (spec.md §4.5 steps 8-9).
func (e *Engine) commit(results []taggedResult) (totalChanges, resolvedGroupCount int) {
	for _, r := range results {
		if r.result.ResolutionError {
			slog.Warn("group resolution failed; committing zero changes", "group_id", r.result.GroupId)
			continue
		}
		resolvedGroupCount++
		for _, change := range r.result.ResolvedChanges {
			if change.Tombstone {
				e.store.Delete(change.KeyHash)
			} else {
				e.store.Set(change.KeyHash, change.Value)
			}
			totalChanges++
		}
	}
	return totalChanges, resolvedGroupCount
}

func (e *Engine) updateStats(harvestedCount, totalChanges int) {
	prev := e.stats.Load()
	conflicts := harvestedCount - totalChanges
	if conflicts < 0 {
		conflicts = 0
	}
	e.stats.Store(&Stats{
		TotalRequestsProcessed: prev.TotalRequestsProcessed + uint64(harvestedCount),
		TotalConflictsResolved: prev.TotalConflictsResolved + uint64(conflicts),
	})
}

func (e *Engine) invokeCommitCallback(slot ids.SlotIndex, changeCount int) {
	e.callbackMu.Lock()
	cb := e.callback
	e.callbackMu.Unlock()
	if cb != nil {
		cb(slot, changeCount)
	}
}

func (e *Engine) evaluateTermination(totalGroups, resolvedGroups int) {
	ctx := termination.Context{
		ElapsedSteps:    e.currentSlot.Load(),
		PendingRequests: e.queue.Len(),
		ResolvedGroups:  resolvedGroups,
		TotalGroups:     totalGroups,
		ExternalFlags:   e.externalFlags.Load(),
	}

	reason := e.policy.Evaluate(ctx)
	e.lastReason.Store(int32(reason))
	if reason != termination.None {
		e.lifecycle.Store(true)
	}
}
