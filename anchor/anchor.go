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

// Package anchor implements the time axis's anchor store and transition log
// (spec.md §4.7): a bounded, slot_index-ordered sequence of anchors, plus
// the pending SlotTransition records covering the range between the last
// anchor and the current slot. A new anchor absorbs and clears that range;
// the oldest anchor is pruned once the store exceeds its configured
// capacity.
package anchor

import (
	"sync"

	"dirpx.dev/timeaxis/ids"
	"dirpx.dev/timeaxis/resolve"
)

// SlotTransition is one committed tick's record: the requests it consumed
// and the changes it resolved, written once and deleted only when a new
// anchor absorbs it (spec.md §3).
type SlotTransition struct {
	SlotIndex       ids.SlotIndex
	RequestIds      []ids.RequestId
	ResolvedChanges []resolve.ResolvedChange
	ResolutionHash  uint64
}

// Anchor is a self-contained snapshot of state at slot_index, plus the
// hashes needed to verify a reconstruction against it (spec.md §3).
type Anchor struct {
	AnchorId              ids.AnchorId
	SlotIndex             ids.SlotIndex
	StateSnapshot map[uint64]ids.StateValue
	// TransitionLog holds every SlotTransition absorbed when this anchor
	// was materialized — the range (previous anchor's slot_index,
	// SlotIndex]. It is the only surviving copy of that range once the
	// live pending log moves on past this anchor, which is what makes
	// reconstruction of historical slots inside an already-anchored
	// interval possible (see reconstruct.replay).
	TransitionLog []SlotTransition
	TransitionHash        ids.Hash128
	ResolutionHash        ids.Hash128
	TerminationPolicyHash uint64
}

// Store is the mutex-guarded anchor sequence plus pending transition log.
// Grounded on the same single-lock-per-structure shape used throughout this
// module (groups.Registry, reqqueue.Queue): one mutex covers both slices
// because §4.7's prune-on-anchor step must observe a consistent view of
// both.
type Store struct {
	mu sync.Mutex

	maxAnchors     int
	anchorInterval uint64

	anchors      []Anchor
	nextAnchorID ids.AnchorId

	pending        []SlotTransition
	lastAnchorSlot ids.SlotIndex
}

// New creates a Store seeded with the genesis anchor at slot 0 (spec.md
// §4.7: "A genesis anchor exists at slot 0 immediately after creation with
// an empty snapshot and zero hashes; it inherits
// axis.termination_policy_hash"). maxAnchors and anchorInterval must
// already have their defaults applied by the caller (spec.md §4.9: axis
// creation applies `anchor_interval=1024`/`max_anchors=64` defaults before
// calling down into this store).
func New(maxAnchors int, anchorInterval uint64, policyHash uint64) *Store {
	s := &Store{
		maxAnchors:     maxAnchors,
		anchorInterval: anchorInterval,
	}
	genesis := Anchor{
		AnchorId:              0,
		SlotIndex:             0,
		StateSnapshot:         map[uint64]ids.StateValue{},
		TerminationPolicyHash: policyHash,
	}
	s.anchors = append(s.anchors, genesis)
	s.nextAnchorID = 1
	return s
}

// AppendTransition records one tick's SlotTransition. Called under the
// tick engine's own transitions-lock discipline; Store's mutex is the
// transitions lock referenced throughout spec.md §4.5/§4.8.
func (s *Store) AppendTransition(t SlotTransition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, t)
}

// MaybeAnchor builds and stores a new anchor if target has advanced far
// enough past the last anchor's slot (spec.md §4.5 step 12). currentState
// is cloned into the new anchor's snapshot. Returns true if an anchor was
// materialized.
func (s *Store) MaybeAnchor(target ids.SlotIndex, currentState map[uint64]ids.StateValue, policyHash uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uint64(target)-uint64(s.lastAnchorSlot) < s.anchorInterval {
		return false
	}

	snapshot := make(map[uint64]ids.StateValue, len(currentState))
	for k, v := range currentState {
		snapshot[k] = v
	}

	transitionLog := make([]SlotTransition, len(s.pending))
	copy(transitionLog, s.pending)

	a := Anchor{
		AnchorId:              s.nextAnchorID,
		SlotIndex:             target,
		StateSnapshot:         snapshot,
		TransitionLog:         transitionLog,
		TransitionHash:        hashTransitions(transitionLog),
		ResolutionHash:        hashResolutions(transitionLog),
		TerminationPolicyHash: policyHash,
	}
	s.nextAnchorID++
	s.anchors = append(s.anchors, a)
	s.lastAnchorSlot = target
	s.pending = nil

	if len(s.anchors) > s.maxAnchors {
		s.anchors = s.anchors[len(s.anchors)-s.maxAnchors:]
	}
	return true
}

// Anchors returns a shallow clone of the anchor sequence, oldest first.
func (s *Store) Anchors() []Anchor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Anchor, len(s.anchors))
	copy(out, s.anchors)
	return out
}

// Transitions returns a shallow clone of the pending transition log.
func (s *Store) Transitions() []SlotTransition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SlotTransition, len(s.pending))
	copy(out, s.pending)
	return out
}

// OldestSlot returns the slot_index of the oldest retained anchor. The
// store always has at least the genesis anchor, so this never fails.
func (s *Store) OldestSlot() ids.SlotIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anchors[0].SlotIndex
}

// hashTransitions folds a 128-bit content hash over transitionLog in
// order, matching spec.md §4.5 step 12's "transition_hash = FNV128(...)".
func hashTransitions(log []SlotTransition) ids.Hash128 {
	h := ids.NewHasher128()
	for _, t := range log {
		h.WriteUint64(uint64(t.SlotIndex))
		for _, rid := range t.RequestIds {
			h.WriteUint64(uint64(rid))
		}
		for _, c := range t.ResolvedChanges {
			h.WriteUint64(c.KeyHash)
			if c.Tombstone {
				h.WriteUint64(1)
			} else {
				h.WriteUint64(c.Value.Bits())
			}
		}
	}
	return h.Sum()
}

// hashResolutions folds a 128-bit content hash over each transition's own
// 64-bit resolution_hash, matching spec.md §4.5 step 12's
// "resolution_hash = FNV128(resolution_results)".
func hashResolutions(log []SlotTransition) ids.Hash128 {
	h := ids.NewHasher128()
	for _, t := range log {
		h.WriteUint64(t.ResolutionHash)
	}
	return h.Sum()
}
