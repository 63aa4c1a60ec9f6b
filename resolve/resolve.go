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

// Package resolve implements the time axis's conflict resolver (spec.md
// §4.4): given one conflict group and the pending requests bucketed into
// it for the current tick, partition by key, pick a winner per key
// according to the group's policy, and emit a canonically ordered set of
// resolved changes plus a change hash.
//
// The strategy dispatch (Priority / LastWriter / FirstWriter / Custom) is
// grounded on the teacher's resolver chain
// (_examples/DIRPX-rfx/resolver/resolver.go): an ordered set of strategies
// tried until one produces an answer. Here there is always exactly one
// applicable strategy per group (its Policy), so the chain collapses to a
// switch, but the "try, fall back on failure" shape is the same one the
// teacher's chain.Resolve loop uses for TryResolve.
package resolve

import (
	"sort"

	"dirpx.dev/timeaxis/groups"
	"dirpx.dev/timeaxis/ids"
	"dirpx.dev/timeaxis/reqqueue"
)

// ResolvedChange is one (key, value) emission, in the canonical
// key-hash-ascending order spec.md §4.4 mandates.
type ResolvedChange struct {
	KeyHash uint64
	Value   ids.StateValue
	// Tombstone marks this change as a deletion (SPEC_FULL.md §D decision
	// 2): the key is dropped from the resolved state rather than written.
	Tombstone bool
}

// GroupResolutionResult is one group's resolved output for the tick.
type GroupResolutionResult struct {
	GroupId         ids.GroupId
	ResolvedChanges []ResolvedChange
	ChangeHash      uint64
	// ResolutionError is set when a request in this group's bucket failed
	// to resolve consistently (see selectWinner's doc comment); the tick engine
	// records the flag but neither aborts the tick nor retries (spec.md
	// §4.5 step 6).
	ResolutionError bool
}

// Resolve runs the full per-group algorithm of spec.md §4.4 over requests
// bucketed into group.
func Resolve(group groups.Group, requests []reqqueue.PendingRequest) GroupResolutionResult {
	buckets := partitionByKeyHash(requests)

	keyHashes := make([]uint64, 0, len(buckets))
	for kh := range buckets {
		keyHashes = append(keyHashes, kh)
	}
	sort.Slice(keyHashes, func(i, j int) bool { return keyHashes[i] < keyHashes[j] })

	result := GroupResolutionResult{GroupId: group.Id}
	hasher := ids.NewHasher64()

	for _, kh := range keyHashes {
		sub := buckets[kh]
		sort.Slice(sub, func(i, j int) bool { return sub[i].RequestId < sub[j].RequestId })

		winner, ok := selectWinner(group, sub)
		if !ok {
			result.ResolutionError = true
			continue
		}

		change, emit := applyMutation(winner.Desc, kh)
		if !emit {
			continue
		}

		result.ResolvedChanges = append(result.ResolvedChanges, change)
		hasher.WriteUint64(kh)
		hasher.WriteBool(change.Tombstone)
		if !change.Tombstone {
			hasher.WriteUint64(change.Value.Bits())
		}
	}

	result.ChangeHash = hasher.Sum()
	return result
}

// partitionByKeyHash groups requests by their key's 64-bit hash (spec.md
// §4.4 step 1).
func partitionByKeyHash(requests []reqqueue.PendingRequest) map[uint64][]reqqueue.PendingRequest {
	buckets := make(map[uint64][]reqqueue.PendingRequest)
	for _, r := range requests {
		kh := r.Desc.Key.Hash()
		buckets[kh] = append(buckets[kh], r)
	}
	return buckets
}

// selectWinner picks the winning request from sub, which is already sorted
// ascending by RequestId (spec.md §4.4 step 2-3). It returns ok=false only
// when sub is empty; every policy, including Custom with its FirstWriter
// fallback, yields a winner for a non-empty slice.
func selectWinner(group groups.Group, sub []reqqueue.PendingRequest) (reqqueue.PendingRequest, bool) {
	if len(sub) == 0 {
		return reqqueue.PendingRequest{}, false
	}

	policy := group.Policy
	if !group.Active {
		// An inactive (destroyed) group resolves as FirstWriter. The tick
		// engine already substitutes FirstWriter for a missing or inactive
		// group before calling Resolve, so this branch only matters for
		// direct callers of Resolve.
		policy = groups.FirstWriter
	}

	switch policy {
	case groups.Priority:
		return selectByPriority(sub), true
	case groups.LastWriter:
		return sub[len(sub)-1], true
	case groups.FirstWriter:
		return sub[0], true
	case groups.Custom:
		if idx, ok := runCustom(group.CustomFunc, sub); ok {
			return sub[idx], true
		}
		return sub[0], true // fall back to FirstWriter
	default:
		return sub[0], true
	}
}

// selectByPriority returns the highest-priority request in sub, tying to
// the lowest RequestId (sub is already RequestId-ascending, so the first
// max found by a forward scan is automatically the lowest-id tie-breaker).
func selectByPriority(sub []reqqueue.PendingRequest) reqqueue.PendingRequest {
	best := sub[0]
	for _, r := range sub[1:] {
		if r.Desc.Priority > best.Desc.Priority {
			best = r
		}
	}
	return best
}

// runCustom invokes fn, recovering from a panic and treating any panic, a
// nil fn, or an out-of-range index as failure (spec.md §4.4: "On any
// failure ... fall back to FirstWriter").
func runCustom(fn groups.CustomFunc, sub []reqqueue.PendingRequest) (idx int, ok bool) {
	if fn == nil {
		return 0, false
	}

	reqIDs := make([]ids.RequestId, len(sub))
	for i, r := range sub {
		reqIDs[i] = r.RequestId
	}

	defer func() {
		if recover() != nil {
			idx, ok = 0, false
		}
	}()

	i := fn(reqIDs)
	if i < 0 || i >= len(sub) {
		return 0, false
	}
	return i, true
}

// applyMutation turns the winning request's desc into a ResolvedChange; a
// DELETE becomes a change with Tombstone set, and emit is always true
// (spec.md §4.4 step 4). ADD/MULTIPLY/CUSTOM are emitted as a SET of the
// supplied value (SPEC_FULL.md §D decision 1): the original resolver
// (conflict_resolver.cpp) unconditionally emits the winner's value this way
// for every non-DELETE mutation type, noting that computing ADD/MULTIPLY
// against live state is "simplified here".
func applyMutation(desc reqqueue.StateChangeDesc, keyHash uint64) (ResolvedChange, bool) {
	if desc.MutationType == reqqueue.Delete {
		return ResolvedChange{KeyHash: keyHash, Tombstone: true}, true
	}
	return ResolvedChange{KeyHash: keyHash, Value: desc.Value}, true
}
