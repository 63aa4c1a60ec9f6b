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

// Package statestore implements the time axis's current-state store: a
// single-writer, key-hash-indexed map of the most recently committed value
// for every key, kept as a fast read path for the head slot so callers
// don't have to reconstruct from an anchor just to read "now" (spec.md
// component C7).
package statestore

import (
	"sync"

	"dirpx.dev/timeaxis/ids"
)

// Store is a mutex-guarded map from a 64-bit key hash to its current
// StateValue. Grounded on the same mutex-guarded-map shape as
// groups.Registry and reqqueue.Queue; no iterator ever escapes the lock, so
// external callers can never observe a torn commit.
type Store struct {
	mu   sync.RWMutex
	vals map[uint64]ids.StateValue
}

// New returns an empty Store.
func New() *Store {
	return &Store{vals: make(map[uint64]ids.StateValue)}
}

// Get returns the value stored for keyHash, if any.
func (s *Store) Get(keyHash uint64) (ids.StateValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vals[keyHash]
	return v, ok
}

// Set overwrites keyHash's value. Used by the tick engine's single writer
// under its own commit-phase critical section.
func (s *Store) Set(keyHash uint64, value ids.StateValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[keyHash] = value
}

// Delete removes keyHash. Deleting an absent key is a silent no-op,
// matching spec.md §4.4's DELETE semantics.
func (s *Store) Delete(keyHash uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vals, keyHash)
}

// Len returns the number of live keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vals)
}

// Snapshot returns a shallow clone of the current map, for anchor
// materialization (C8). It never returns the live map itself.
func (s *Store) Snapshot() map[uint64]ids.StateValue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint64]ids.StateValue, len(s.vals))
	for k, v := range s.vals {
		out[k] = v
	}
	return out
}

// Reset replaces the entire map with a copy of from. The engine and the
// axis do not call it; it is not used on the commit path.
func (s *Store) Reset(from map[uint64]ids.StateValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals = make(map[uint64]ids.StateValue, len(from))
	for k, v := range from {
		s.vals[k] = v
	}
}
