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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddFlowIdenticalDuplicateDropped(t *testing.T) {
	s := NewFlowStore()
	owner := uuid.New()
	m := Match{{Class: 0, Field: 1, Value: []byte{1}}}

	s.AddFlow(1, 100, m, []byte{0xAA}, owner)
	s.AddFlow(1, 100, m, []byte{0xAA}, owner)

	assert.Equal(t, 1, s.Len())
}

func TestAddFlowDifferingActionsOverwrites(t *testing.T) {
	s := NewFlowStore()
	owner := uuid.New()
	m := Match{{Class: 0, Field: 1, Value: []byte{1}}}

	s.AddFlow(1, 100, m, []byte{0xAA}, owner)
	s.AddFlow(1, 100, m, []byte{0xBB}, owner)

	require.Equal(t, 1, s.Len())
	flows := s.Lookup(1, 100, m)
	require.Len(t, flows, 1)
	assert.Equal(t, []byte{0xBB}, flows[0].Actions)
}

func TestAddFlowDifferentUUIDsCoexist(t *testing.T) {
	s := NewFlowStore()
	u1, u2 := uuid.New(), uuid.New()
	m := Match{{Class: 0, Field: 1, Value: []byte{1}}}

	s.AddFlow(1, 100, m, []byte{0xAA}, u1)
	s.AddFlow(1, 100, m, []byte{0xBB}, u2)

	assert.Equal(t, 2, s.Len())
	assert.Len(t, s.Lookup(1, 100, m), 2)
}

func TestRemoveFlowsByUUID(t *testing.T) {
	s := NewFlowStore()
	u1, u2 := uuid.New(), uuid.New()
	m1 := Match{{Class: 0, Field: 1, Value: []byte{1}}}
	m2 := Match{{Class: 0, Field: 1, Value: []byte{2}}}

	s.AddFlow(1, 100, m1, []byte{0xAA}, u1)
	s.AddFlow(1, 100, m2, []byte{0xBB}, u1)
	s.AddFlow(1, 100, m2, []byte{0xCC}, u2)

	s.RemoveFlows(u1)

	assert.Equal(t, 1, s.Len())
	assert.Empty(t, s.Lookup(1, 100, m1))
	flows := s.Lookup(1, 100, m2)
	require.Len(t, flows, 1)
	assert.Equal(t, u2, flows[0].UUID)
}

func TestSetFlowReplacesOwnerEntries(t *testing.T) {
	s := NewFlowStore()
	owner := uuid.New()
	m1 := Match{{Class: 0, Field: 1, Value: []byte{1}}}
	m2 := Match{{Class: 0, Field: 1, Value: []byte{2}}}

	s.AddFlow(1, 100, m1, []byte{0xAA}, owner)
	s.SetFlow(1, 200, m2, []byte{0xBB}, owner)

	assert.Equal(t, 1, s.Len())
	assert.Empty(t, s.Lookup(1, 100, m1))
	assert.Len(t, s.Lookup(1, 200, m2), 1)
}

// TestIndexConsistencyAfterMixedOps covers invariant 7: the match-keyed
// and uuid-keyed views must agree on membership after any sequence of
// add/remove/set.
func TestIndexConsistencyAfterMixedOps(t *testing.T) {
	s := NewFlowStore()
	owners := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	for i, owner := range owners {
		m := Match{{Class: 0, Field: 1, Value: []byte{byte(i)}}}
		s.AddFlow(1, 100, m, []byte{byte(i)}, owner)
	}
	s.RemoveFlows(owners[1])
	s.SetFlow(1, 300, Match{{Class: 0, Field: 1, Value: []byte{9}}}, []byte{9}, owners[0])

	var fromKeys int
	for _, k := range s.Keys() {
		fromKeys += len(s.candidatesFor(k))
	}
	assert.Equal(t, s.Len(), fromKeys)

	for _, f := range s.Entries() {
		found := false
		for _, idx := range s.byUUID[f.UUID] {
			if s.arena[idx] == f {
				found = true
			}
		}
		assert.True(t, found, "entry missing from its own uuid index")
	}
}

func TestFreeListReusedAfterRemoval(t *testing.T) {
	s := NewFlowStore()
	owner := uuid.New()
	m := Match{{Class: 0, Field: 1, Value: []byte{1}}}

	s.AddFlow(1, 100, m, []byte{0xAA}, owner)
	s.RemoveFlows(owner)
	before := len(s.arena)

	s.AddFlow(1, 101, Match{{Class: 0, Field: 1, Value: []byte{2}}}, []byte{0xBB}, uuid.New())

	assert.Equal(t, before, len(s.arena), "insert after removal should reuse the freed arena slot")
}

func TestSelectByUUIDPicksSmallest(t *testing.T) {
	var small, big uuid.UUID
	small[0], big[0] = 1, 2

	f1 := &Flow{UUID: big}
	f2 := &Flow{UUID: small}

	assert.Same(t, f2, selectByUUID([]*Flow{f1, f2}))
	assert.Same(t, f2, selectByUUID([]*Flow{f2, f1}))
}
