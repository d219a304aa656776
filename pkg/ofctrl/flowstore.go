/***
Copyright 2014 Cisco Systems Inc. All rights reserved.

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

package ofctrl

import (
	"bytes"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// FlowStore holds a set of Flow entries, double-indexed: by the
// (table_id, priority, match) key used for reconciliation lookups, and by
// owning UUID, used for bulk producer removal. Entries live in an arena
// (a slice with stable indices) so both indexes can cheaply refer to them
// without aliasing hazards; this mirrors the fgraph element storage in
// contiv/ofnet's ofctrl package, generalized to two independent indexes
// instead of one.
//
// FlowStore is not safe for concurrent use: the core runs on a single
// thread, and every mutation happens either from a producer between ticks
// or from the reconciler during put() — never both at once.
type FlowStore struct {
	arena    []*Flow
	freeList []int

	// byKey maps a reconciliation key to every flow (from any UUID) that
	// currently has it; a desired store may hold several entries behind
	// one key, an installed store holds at most one (the reconciler only
	// ever installs a single winner per key).
	byKey map[flowKey][]int
	// byUUID maps an owning UUID to every flow index it owns.
	byUUID map[uuid.UUID][]int

	dupInfoLimiter *rate.Limiter
	dupWarnLimiter *rate.Limiter
}

// NewFlowStore returns an empty flow store.
func NewFlowStore() *FlowStore {
	return &FlowStore{
		byKey:          make(map[flowKey][]int),
		byUUID:         make(map[uuid.UUID][]int),
		dupInfoLimiter: rate.NewLimiter(5, 5),
		dupWarnLimiter: rate.NewLimiter(5, 5),
	}
}

// AddFlow installs a flow descriptor in the desired store under owner.
// Per spec invariant 1, a producer must never present two flows with the
// same (table_id, priority, match) and UUID; if it does, AddFlow tolerates
// the bug: an identical-actions duplicate is dropped (rate-limited INFO
// log), a differing-actions duplicate overwrites the existing entry's
// actions in place (rate-limited WARN log) rather than creating a second
// entry. Key collisions across *different* UUIDs are legal and are simply
// inserted as additional entries behind the same key.
func (s *FlowStore) AddFlow(tableID uint8, priority uint16, match Match, actions []byte, owner uuid.UUID) {
	key := keyOf(tableID, priority, match)

	for _, idx := range s.byKey[key] {
		existing := s.arena[idx]
		if existing.UUID != owner {
			continue
		}
		if bytes.Equal(existing.Actions, actions) {
			if s.dupInfoLimiter.Allow() {
				logger.WithField("uuid", owner).Info("duplicate flow (same actions), dropping")
			}
			return
		}
		if s.dupWarnLimiter.Allow() {
			logger.WithField("uuid", owner).Warn("duplicate flow with modified actions, overwriting")
		}
		existing.Actions = append([]byte{}, actions...)
		return
	}

	f := &Flow{
		TableID:  tableID,
		Priority: priority,
		Match:    match.Normalized(),
		Actions:  append([]byte{}, actions...),
		UUID:     owner,
	}
	idx := s.insert(f)
	s.byKey[key] = append(s.byKey[key], idx)
	s.byUUID[owner] = append(s.byUUID[owner], idx)
}

// insert places f into the arena, reusing a freed slot if one is available.
func (s *FlowStore) insert(f *Flow) int {
	if n := len(s.freeList); n > 0 {
		idx := s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		s.arena[idx] = f
		return idx
	}
	s.arena = append(s.arena, f)
	return len(s.arena) - 1
}

// RemoveFlows deletes every flow owned by owner. It runs in O(k) in the
// number of flows owned by owner, via the UUID index.
func (s *FlowStore) RemoveFlows(owner uuid.UUID) {
	indices, ok := s.byUUID[owner]
	if !ok {
		return
	}
	for _, idx := range indices {
		f := s.arena[idx]
		key := f.key()
		s.byKey[key] = removeIndex(s.byKey[key], idx)
		if len(s.byKey[key]) == 0 {
			delete(s.byKey, key)
		}
		s.arena[idx] = nil
		s.freeList = append(s.freeList, idx)
	}
	delete(s.byUUID, owner)
}

// SetFlow replaces every flow owned by owner with a single new entry.
func (s *FlowStore) SetFlow(tableID uint8, priority uint16, match Match, actions []byte, owner uuid.UUID) {
	s.RemoveFlows(owner)
	s.AddFlow(tableID, priority, match, actions, owner)
}

// Clear empties the store.
func (s *FlowStore) Clear() {
	s.arena = nil
	s.freeList = nil
	s.byKey = make(map[flowKey][]int)
	s.byUUID = make(map[uuid.UUID][]int)
}

// Lookup returns every flow (from any owner) currently stored under key.
func (s *FlowStore) Lookup(tableID uint8, priority uint16, match Match) []*Flow {
	key := keyOf(tableID, priority, match)
	indices := s.byKey[key]
	if len(indices) == 0 {
		return nil
	}
	out := make([]*Flow, 0, len(indices))
	for _, idx := range indices {
		out = append(out, s.arena[idx])
	}
	return out
}

// Keys returns the distinct reconciliation keys currently populated in the
// store; candidatesFor gives the flows behind each one. Order is
// unspecified.
func (s *FlowStore) Keys() []flowKey {
	keys := make([]flowKey, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	return keys
}

// candidatesFor is Lookup keyed directly by a flowKey, for internal use by
// the reconciler which already has keys in hand.
func (s *FlowStore) candidatesFor(key flowKey) []*Flow {
	indices := s.byKey[key]
	if len(indices) == 0 {
		return nil
	}
	out := make([]*Flow, 0, len(indices))
	for _, idx := range indices {
		out = append(out, s.arena[idx])
	}
	return out
}

// insertInstalled adds a flow directly (bypassing duplicate handling,
// which only applies to producer-facing AddFlow). Used by
// the reconciler when copying a chosen desired flow into the installed
// store.
func (s *FlowStore) insertInstalled(f *Flow) {
	key := f.key()
	idx := s.insert(f)
	s.byKey[key] = append(s.byKey[key], idx)
	s.byUUID[f.UUID] = append(s.byUUID[f.UUID], idx)
}

// removeInstalled deletes the single flow f (by identity, via its key and
// uuid) from the store. Used by the reconciler when an installed flow is no
// longer desired.
func (s *FlowStore) removeInstalled(f *Flow) {
	key := f.key()
	for _, idx := range s.byKey[key] {
		if s.arena[idx] == f {
			s.byKey[key] = removeIndex(s.byKey[key], idx)
			if len(s.byKey[key]) == 0 {
				delete(s.byKey, key)
			}
			s.byUUID[f.UUID] = removeIndex(s.byUUID[f.UUID], idx)
			if len(s.byUUID[f.UUID]) == 0 {
				delete(s.byUUID, f.UUID)
			}
			s.arena[idx] = nil
			s.freeList = append(s.freeList, idx)
			return
		}
	}
}

// reownInstalled updates f's owning UUID in place, re-indexing the uuid
// index. No wire message results from this — the switch has no concept of
// UUIDs — but the index must stay consistent.
func (s *FlowStore) reownInstalled(f *Flow, newOwner uuid.UUID) {
	oldOwner := f.UUID
	for _, idx := range s.byUUID[oldOwner] {
		if s.arena[idx] == f {
			s.byUUID[oldOwner] = removeIndex(s.byUUID[oldOwner], idx)
			if len(s.byUUID[oldOwner]) == 0 {
				delete(s.byUUID, oldOwner)
			}
			s.byUUID[newOwner] = append(s.byUUID[newOwner], idx)
			break
		}
	}
	f.UUID = newOwner
}

// Len returns the number of live flows in the store.
func (s *FlowStore) Len() int {
	n := 0
	for _, f := range s.arena {
		if f != nil {
			n++
		}
	}
	return n
}

// Entries returns every live flow in the store. Order is unspecified.
func (s *FlowStore) Entries() []*Flow {
	out := make([]*Flow, 0, len(s.arena)-len(s.freeList))
	for _, f := range s.arena {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

func removeIndex(s []int, v int) []int {
	for i, x := range s {
		if x == v {
			s[i] = s[len(s)-1]
			return s[:len(s)-1]
		}
	}
	return s
}

// selectByUUID deterministically picks the flow with the numerically
// smallest UUID (spec invariant 2 / §4.5's tie-break rule) from candidates.
// Panics if candidates is empty; callers only invoke it after checking.
func selectByUUID(candidates []*Flow) *Flow {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if uuidLess(c.UUID, best.UUID) {
			best = c
		}
	}
	return best
}
