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

// Package groups implements the time axis's conflict-group registry
// (spec.md §4.2): deterministic id allocation, policy storage, and the
// active/inactive flag that lets a destroyed group's id keep meaning for
// transitions already recorded against it.
package groups

import (
	"sync"

	"dirpx.dev/timeaxis/axiserr"
	"dirpx.dev/timeaxis/ids"
)

// Policy is the conflict-resolution strategy a group applies to its
// per-tick sub-lists of requests.
type Policy uint8

const (
	// Priority selects the highest-priority request; ties break to the
	// lowest RequestId.
	Priority Policy = iota
	// LastWriter selects the highest RequestId.
	LastWriter
	// FirstWriter selects the lowest RequestId.
	FirstWriter
	// Custom delegates winner selection to a CustomFunc.
	Custom
)

// CustomFunc picks a winner index out of a request sub-list that has
// already been sorted ascending by RequestId. It must be pure: the core
// makes no effort to sandbox it (spec.md §4.4).
//
// A return value outside [0, len(subList)) is treated as failure, and the
// resolver falls back to FirstWriter.
type CustomFunc func(subList []ids.RequestId) (winnerIndex int)

// hardCap is the registry's fixed capacity (spec.md §4.2: "hard cap 256").
const hardCap = 256

// Group is one conflict-group record. Destroy never erases a Group; it only
// flips Active to false, because a transition already recorded against the
// id must still resolve using the group's last-known policy.
type Group struct {
	Id         ids.GroupId
	Policy     Policy
	CustomFunc CustomFunc
	Active     bool
}

// Registry is the mutex-guarded conflict-group table. Grounded on the
// teacher registry's shape (registry/registry.go): a single lock protects
// both the backing slice and the id counter, and Snapshot clones under that
// same lock so the tick engine's hot path never touches shared state.
type Registry struct {
	mu     sync.Mutex
	groups []Group
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Create allocates the next GroupId and registers it with a built-in
// policy. Calling Create with policy == Custom fails with InvalidPolicy;
// use CreateCustom instead (spec.md §4.2: "Creating a Custom policy via the
// non-custom entry point fails with InvalidPolicy").
func (r *Registry) Create(policy Policy) (ids.GroupId, error) {
	if policy == Custom {
		return ids.InvalidGroupId, axiserr.New(axiserr.InvalidPolicy, "use CreateCustom for Custom policy")
	}
	return r.create(Group{Policy: policy, Active: true})
}

// CreateCustom allocates the next GroupId and registers it with a custom
// resolution function.
func (r *Registry) CreateCustom(fn CustomFunc) (ids.GroupId, error) {
	if fn == nil {
		return ids.InvalidGroupId, axiserr.New(axiserr.InvalidParameter, "nil CustomFunc")
	}
	return r.create(Group{Policy: Custom, CustomFunc: fn, Active: true})
}

func (r *Registry) create(g Group) (ids.GroupId, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.groups) >= hardCap {
		return ids.InvalidGroupId, axiserr.New(axiserr.ConflictGroupFull, "")
	}

	g.Id = ids.GroupId(len(r.groups))
	r.groups = append(r.groups, g)
	return g.Id, nil
}

// Destroy flips id's Active flag to false. The id and its last-known policy
// remain in the table forever; the slot is never reused.
func (r *Registry) Destroy(id ids.GroupId) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int(id) < 0 || int(id) >= len(r.groups) {
		return axiserr.New(axiserr.NotFound, "")
	}
	r.groups[id].Active = false
	return nil
}

// Snapshot clones the current table under the lock. The tick engine hands
// this clone to worker-pool tasks so per-tick resolution reads no shared
// state (spec.md §4.2).
func (r *Registry) Snapshot() []Group {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Group, len(r.groups))
	copy(out, r.groups)
	return out
}

// Lookup finds a group by id within a snapshot. A missing or inactive
// group id defaults its policy lookup to FirstWriter at the call site
// (spec.md §4.5 step 6); Lookup itself just reports what's in the snapshot.
func Lookup(snapshot []Group, id ids.GroupId) (Group, bool) {
	if int(id) < 0 || int(id) >= len(snapshot) {
		return Group{}, false
	}
	return snapshot[id], true
}
