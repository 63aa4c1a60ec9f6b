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

// Package reqqueue implements the time axis's request queue (spec.md §4.1):
// a single shared, mutex-guarded structure that multiple producer goroutines
// submit StateChangeDescs into, and that the tick engine drains, in
// ascending RequestId order, once per slot.
package reqqueue

import (
	"sort"
	"sync"
	"sync/atomic"

	"dirpx.dev/timeaxis/axiserr"
	"dirpx.dev/timeaxis/ids"
)

// StateChangeDesc describes one requested mutation, targeting a future slot.
type StateChangeDesc struct {
	TargetSlot   ids.SlotIndex
	GroupId      ids.GroupId
	Priority     int32
	Key          ids.StateKey
	MutationType MutationType
	Value        ids.StateValue
}

// MutationType is the kind of change a StateChangeDesc requests.
type MutationType uint8

const (
	// Set overwrites the key's value unconditionally.
	Set MutationType = iota
	// Add is accepted but, per spec.md §3's documented simplification,
	// behaves as Set of the supplied value.
	Add
	// Multiply is accepted but behaves as Set, same simplification as Add.
	Multiply
	// Delete drops the key from the resolved set. A delete against an
	// absent key is a silent no-op.
	Delete
	// Custom is accepted but behaves as Set, same simplification as Add.
	Custom
)

// PendingRequest is a submitted, not-yet-resolved request.
type PendingRequest struct {
	RequestId ids.RequestId
	Desc      StateChangeDesc
	Cancelled bool
}

// Queue is a thread-safe, multi-producer queue of PendingRequests, guarded
// by a single lock, grounded on the teacher registry's mutex-guarded
// write path (registry/registry.go): reads that only need a fast rejection
// (a stale slot) happen off an atomic snapshot, everything that mutates the
// backing slice takes the lock.
type Queue struct {
	mu      sync.Mutex
	pending []PendingRequest
	nextID  uint64 // atomic; next RequestId to allocate
	maxLen  int

	// currentSlot mirrors the axis's current_slot so Submit can reject a
	// stale target without taking mu (spec.md §4.1: "Rejects
	// desc.target_slot <= current_slot without taking the lock").
	currentSlot atomic.Uint64
}

// New returns an empty Queue accepting at most maxPending outstanding
// requests. A maxPending of 0 means "use spec.md's default of 65536".
func New(maxPending int) *Queue {
	if maxPending <= 0 {
		maxPending = 65536
	}
	return &Queue{maxLen: maxPending, nextID: 1}
}

// SetCurrentSlot publishes the axis's current slot so future Submit calls
// can reject stale targets without taking the queue lock. The tick engine
// calls this once per committed tick.
func (q *Queue) SetCurrentSlot(slot ids.SlotIndex) {
	q.currentSlot.Store(uint64(slot))
}

// currentSlotSnapshot reads the published current slot.
func (q *Queue) currentSlotSnapshot() ids.SlotIndex {
	return ids.SlotIndex(q.currentSlot.Load())
}

// Submit validates desc against a lock-free snapshot of the current slot,
// then appends a new PendingRequest under the lock, returning its allocated
// RequestId.
func (q *Queue) Submit(desc StateChangeDesc) (ids.RequestId, error) {
	if desc.TargetSlot <= q.currentSlotSnapshot() {
		return ids.InvalidRequestId, axiserr.New(axiserr.SlotInPast, "")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) >= q.maxLen {
		return ids.InvalidRequestId, axiserr.New(axiserr.RequestQueueFull, "")
	}

	id := ids.RequestId(atomic.AddUint64(&q.nextID, 1) - 1)
	q.pending = append(q.pending, PendingRequest{RequestId: id, Desc: desc})
	return id, nil
}

// SubmitBatch validates every desc against the current slot snapshot and
// the batch's own size before appending any of them: either the whole
// batch is admitted, or none of it is (spec.md §4.1: "atomic").
func (q *Queue) SubmitBatch(descs []StateChangeDesc) ([]ids.RequestId, error) {
	snapshot := q.currentSlotSnapshot()
	for _, d := range descs {
		if d.TargetSlot <= snapshot {
			return nil, axiserr.New(axiserr.SlotInPast, "")
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending)+len(descs) > q.maxLen {
		return nil, axiserr.New(axiserr.RequestQueueFull, "")
	}

	out := make([]ids.RequestId, len(descs))
	for i, d := range descs {
		id := ids.RequestId(atomic.AddUint64(&q.nextID, 1) - 1)
		q.pending = append(q.pending, PendingRequest{RequestId: id, Desc: d})
		out[i] = id
	}
	return out, nil
}

// Cancel flips cancelled=true on the first non-cancelled match for id.
// Cancellation is observed lazily, at the next Harvest.
func (q *Queue) Cancel(id ids.RequestId) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.pending {
		if q.pending[i].RequestId == id && !q.pending[i].Cancelled {
			q.pending[i].Cancelled = true
			return nil
		}
	}
	return axiserr.New(axiserr.NotFound, "")
}

// Harvest removes every request targeting targetSlot, whether cancelled or
// not, plus every already-cancelled request regardless of its target slot,
// and returns the surviving (non-cancelled, target-matching) records in
// ascending RequestId order. This is the one queue operation that must
// preserve ordering (spec.md §4.1); the harvested records are sorted by
// RequestId before they are returned.
func (q *Queue) Harvest(targetSlot ids.SlotIndex) []PendingRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.pending[:0]
	var harvested []PendingRequest
	for _, r := range q.pending {
		switch {
		case r.Cancelled:
			// Drop: cancellation observed at harvest time regardless of
			// which slot it targeted.
		case r.Desc.TargetSlot == targetSlot:
			harvested = append(harvested, r)
		default:
			kept = append(kept, r)
		}
	}
	q.pending = kept

	sort.Slice(harvested, func(i, j int) bool {
		return harvested[i].RequestId < harvested[j].RequestId
	})
	return harvested
}

// PendingFor counts non-cancelled requests targeting slot.
func (q *Queue) PendingFor(slot ids.SlotIndex) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, r := range q.pending {
		if !r.Cancelled && r.Desc.TargetSlot == slot {
			n++
		}
	}
	return n
}

// Len returns the total number of outstanding (not yet harvested) requests,
// cancelled or not. Used for the termination policy's RequestDrain
// condition input and the façade's GetTerminationContext; the façade's
// GetPendingRequestCount uses PendingFor instead.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
