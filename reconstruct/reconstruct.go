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

// Package reconstruct implements the time axis's reconstruction engine
// (spec.md §4.8): given a snapshot of the anchor store, its live pending
// transition log, and a target slot, replay transitions deterministically
// to rebuild state, and build the opaque ReconstructionKey a caller can use
// to verify a later reproduction matches.
package reconstruct

import (
	"sort"

	"dirpx.dev/timeaxis/anchor"
	"dirpx.dev/timeaxis/axiserr"
	"dirpx.dev/timeaxis/ids"
)

// ReconstructionKey is the fixed-size, opaque replay descriptor spec.md §3
// defines: enough to reproduce state from an anchor and verify the
// reproduction, without encoding state itself.
type ReconstructionKey struct {
	AnchorId       ids.AnchorId
	TargetSlot     ids.SlotIndex
	TransitionHash ids.Hash128
	PolicyHash     ids.Hash128
}

// EmitFunc receives one resolved (key, value) pair during a Reconstruct
// replay. Returning false stops the replay early (spec.md §4.8 step 6:
// "stop early if emit returns non-zero").
type EmitFunc func(key ids.StateKey, value ids.StateValue) (keepGoing bool)

// Reconstruct rebuilds state at targetSlot and invokes emit for every
// resulting (key, value) pair, in unspecified map order (spec.md §4.8 step
// 6 does not mandate emission order beyond "for each (key_hash, value) in
// state"). anchors is a snapshot of the anchor store (oldest first or not —
// Reconstruct sorts it); pending is the store's live transition log,
// covering the range (last anchor's slot_index, current_slot].
// currentPolicyHash is the axis's live termination_policy_hash, checked
// against the selected anchor's frozen hash.
func Reconstruct(anchors []anchor.Anchor, pending []anchor.SlotTransition, targetSlot ids.SlotIndex, currentPolicyHash uint64, emit EmitFunc) error {
	state, _, err := replay(anchors, pending, targetSlot, currentPolicyHash)
	if err != nil {
		return err
	}
	for keyHash, value := range state {
		if !emit(ids.StateKey{Primary: keyHash}, value) {
			break
		}
	}
	return nil
}

// QueryState is the single-key read spec.md §4.8 describes: replay,
// then read one key out of the resulting map. Callers implement the
// spec's "fast path for slot == current_slot reads the store directly"
// themselves, before falling back to QueryState for any other slot.
func QueryState(anchors []anchor.Anchor, pending []anchor.SlotTransition, targetSlot ids.SlotIndex, currentPolicyHash uint64, key ids.StateKey) (ids.StateValue, error) {
	state, _, err := replay(anchors, pending, targetSlot, currentPolicyHash)
	if err != nil {
		return ids.StateValue{}, err
	}
	v, ok := state[key.Hash()]
	if !ok {
		return ids.StateValue{}, axiserr.New(axiserr.NotFound, "")
	}
	return v, nil
}

// ReconstructionKeyFor builds the opaque key for targetSlot (spec.md §4.8
// "reconstruction_key(slot)"): the same anchor selection and range as
// Reconstruct, plus the transition hash over the replayed range and the
// base anchor's own resolution hash standing in for policy_hash, per
// spec.md's definition ("policy_hash = base.resolution_hash").
func ReconstructionKeyFor(anchors []anchor.Anchor, pending []anchor.SlotTransition, targetSlot ids.SlotIndex, currentPolicyHash uint64) (ReconstructionKey, error) {
	_, base, err := replay(anchors, pending, targetSlot, currentPolicyHash)
	if err != nil {
		return ReconstructionKey{}, err
	}
	return ReconstructionKey{
		AnchorId:       base.anchor.AnchorId,
		TargetSlot:     targetSlot,
		TransitionHash: hashTransitionRange(base.transitions),
		PolicyHash:     base.anchor.ResolutionHash,
	}, nil
}

// replayBase bundles the selected anchor with the transitions it was
// matched against, so ReconstructionKeyFor doesn't have to recompute the
// range a second time.
type replayBase struct {
	anchor      anchor.Anchor
	transitions []anchor.SlotTransition
}

// replay performs spec.md §4.8 steps 1-5.
//
// Transition sourcing: once a newer anchor absorbs a range, the live
// pending log (the `pending` parameter) moves on to the range *after* that
// anchor and no longer holds the absorbed transitions directly — they
// survive only inside the anchor that absorbed them, in that anchor's own
// TransitionLog (see anchor.Anchor.TransitionLog's doc comment). So the
// transitions covering (base.SlotIndex, targetSlot] live in one of two
// places: the next-newer anchor's TransitionLog, if target falls within an
// already-anchored range; or the live pending log, if base is the most
// recent anchor and target is still ahead of it.
func replay(anchors []anchor.Anchor, pending []anchor.SlotTransition, targetSlot ids.SlotIndex, currentPolicyHash uint64) (map[uint64]ids.StateValue, replayBase, error) {
	if len(anchors) == 0 {
		return nil, replayBase{}, axiserr.New(axiserr.AnchorNotFound, "")
	}

	sorted := make([]anchor.Anchor, len(anchors))
	copy(sorted, anchors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SlotIndex < sorted[j].SlotIndex })

	if targetSlot < sorted[0].SlotIndex {
		return nil, replayBase{}, axiserr.New(axiserr.ReconstructionFailed, "older than oldest retained anchor")
	}

	// Scan newest to oldest; the first with SlotIndex <= targetSlot is the
	// base (spec.md §4.8 step 2).
	baseIdx := -1
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].SlotIndex <= targetSlot {
			baseIdx = i
			break
		}
	}
	if baseIdx < 0 {
		return nil, replayBase{}, axiserr.New(axiserr.ReconstructionFailed, "no anchor at or before target slot")
	}
	base := sorted[baseIdx]

	if base.TerminationPolicyHash != currentPolicyHash {
		return nil, replayBase{}, axiserr.New(axiserr.PolicyMismatch, "")
	}

	var transitions []anchor.SlotTransition
	if baseIdx == len(sorted)-1 {
		transitions = transitionsInRange(pending, base.SlotIndex, targetSlot)
	} else {
		transitions = transitionsInRange(sorted[baseIdx+1].TransitionLog, base.SlotIndex, targetSlot)
	}

	state := make(map[uint64]ids.StateValue, len(base.StateSnapshot))
	for k, v := range base.StateSnapshot {
		state[k] = v
	}
	for _, t := range transitions {
		for _, change := range t.ResolvedChanges {
			if change.Tombstone {
				delete(state, change.KeyHash)
			} else {
				state[change.KeyHash] = change.Value
			}
		}
	}

	return state, replayBase{anchor: base, transitions: transitions}, nil
}

// transitionsInRange filters log to entries with lo < SlotIndex <= hi
// (spec.md §4.8 step 4).
func transitionsInRange(log []anchor.SlotTransition, lo, hi ids.SlotIndex) []anchor.SlotTransition {
	var out []anchor.SlotTransition
	for _, t := range log {
		if t.SlotIndex > lo && t.SlotIndex <= hi {
			out = append(out, t)
		}
	}
	return out
}

// hashTransitionRange folds a 128-bit content hash over transitions in
// order, matching spec.md §4.8's "transition_hash = FNV128(transitions in
// range)".
func hashTransitionRange(transitions []anchor.SlotTransition) ids.Hash128 {
	h := ids.NewHasher128()
	for _, t := range transitions {
		h.WriteUint64(uint64(t.SlotIndex))
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
