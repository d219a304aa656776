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

// GroupStore holds the desired and existing group tables for one switch,
// plus a shared allocator over the 32-bit group-id space. A group id is
// considered allocated iff it appears in desired or existing (or both); the
// allocator is consulted by AllocateID so producers that mint new group ids
// (e.g. for load-balancing buckets) don't collide with ids already in use.
//
// Unlike OVN's fixed 2^32-bit bitmap, the allocator here is a sparse set:
// hosts never come close to using a meaningful fraction of the 32-bit id
// space, so a map-backed "bitmap" gives the same O(1) membership test
// without preallocating hundreds of megabytes.
type GroupStore struct {
	desired  map[uint32]string
	existing map[uint32]string
}

// GroupSet names which of the two group tables an operation targets.
type GroupSet int

const (
	Desired GroupSet = iota
	Existing
)

// NewGroupStore returns an empty group store.
func NewGroupStore() *GroupStore {
	return &GroupStore{
		desired:  make(map[uint32]string),
		existing: make(map[uint32]string),
	}
}

// InsertDesired records that groupID should exist with the given textual
// spec. It overwrites any previous desired spec for the same id.
func (g *GroupStore) InsertDesired(groupID uint32, spec string) {
	g.desired[groupID] = spec
}

// Lookup returns the spec stored for groupID in the named set.
func (g *GroupStore) Lookup(which GroupSet, groupID uint32) (string, bool) {
	m := g.setFor(which)
	spec, ok := m[groupID]
	return spec, ok
}

// Clear empties the named set, deallocating every id it held.
func (g *GroupStore) Clear(which GroupSet) {
	m := g.setFor(which)
	for id := range m {
		delete(m, id)
	}
}

func (g *GroupStore) setFor(which GroupSet) map[uint32]string {
	if which == Desired {
		return g.desired
	}
	return g.existing
}

// isAllocated reports whether groupID is in use in either set.
func (g *GroupStore) isAllocated(groupID uint32) bool {
	if _, ok := g.desired[groupID]; ok {
		return true
	}
	_, ok := g.existing[groupID]
	return ok
}

// AllocateID returns the lowest group id not currently allocated in either
// set. It is O(n) in the number of ids already allocated, which is fine at
// the scale a single hypervisor's group table operates at.
func (g *GroupStore) AllocateID() uint32 {
	var id uint32
	for g.isAllocated(id) {
		id++
	}
	return id
}

// desiredIDs and existingIDs return the ids currently present in each set,
// for the reconciler's diff phases. Order is unspecified.
func (g *GroupStore) desiredIDs() []uint32 {
	ids := make([]uint32, 0, len(g.desired))
	for id := range g.desired {
		ids = append(ids, id)
	}
	return ids
}

func (g *GroupStore) existingIDs() []uint32 {
	ids := make([]uint32, 0, len(g.existing))
	for id := range g.existing {
		ids = append(ids, id)
	}
	return ids
}
