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

func smallLargeUUIDs() (small, large uuid.UUID) {
	small[0], large[0] = 1, 2
	return
}

// TestPutIdempotentOnSyncedState covers invariant 1: an unchanged desired
// set and an already-synced installed set produce zero wire messages.
func TestPutIdempotentOnSyncedState(t *testing.T) {
	r := NewReconciler()
	desired := NewFlowStore()
	groups := NewGroupStore()
	owner := uuid.New()
	m := Match{{Class: 0, Field: 1, Value: []byte{1}}}
	desired.AddFlow(0, 100, m, []byte{0xAA}, owner)

	var sent []Message
	r.Put(true, desired, groups, func(msg Message) { sent = append(sent, msg) })
	assert.Len(t, sent, 1, "first put should add the flow")

	desired.AddFlow(0, 100, m, []byte{0xAA}, owner)
	sent = nil
	r.Put(true, desired, groups, func(msg Message) { sent = append(sent, msg) })
	assert.Empty(t, sent, "second put against an unchanged, synced desired set must emit nothing")
}

// TestPutTieBreaksOnSmallestUUID covers invariants 2 and 3, and scenario
// S5: two different owners producing the same key, then the smaller's
// removal causing a modify to the other's actions.
func TestPutTieBreaksOnSmallestUUID(t *testing.T) {
	r := NewReconciler()
	desired := NewFlowStore()
	groups := NewGroupStore()
	small, large := smallLargeUUIDs()
	m := Match{{Class: 0, Field: 1, Value: []byte{1}}}

	desired.AddFlow(0, 100, m, []byte{0xA1}, large)
	desired.AddFlow(0, 100, m, []byte{0xA2}, small)

	var sent []Message
	r.Put(true, desired, groups, func(msg Message) { sent = append(sent, msg) })
	require.Len(t, sent, 1)
	add := sent[0].(*FlowMod)
	assert.Equal(t, uint8(FC_ADD), add.Command)
	assert.Equal(t, []byte{0xA2}, add.Actions)

	installed := r.installed.Entries()
	require.Len(t, installed, 1)
	assert.Equal(t, small, installed[0].UUID)

	desired.RemoveFlows(small)
	sent = nil
	r.Put(true, desired, groups, func(msg Message) { sent = append(sent, msg) })
	require.Len(t, sent, 1)
	mod := sent[0].(*FlowMod)
	assert.Equal(t, uint8(FC_MODIFY_STRICT), mod.Command)
	assert.Equal(t, []byte{0xA1}, mod.Actions)
}

// TestPutDeletesWhenNoLongerDesired exercises the installed-but-not-
// desired path.
func TestPutDeletesWhenNoLongerDesired(t *testing.T) {
	r := NewReconciler()
	desired := NewFlowStore()
	groups := NewGroupStore()
	owner := uuid.New()
	m := Match{{Class: 0, Field: 1, Value: []byte{1}}}

	desired.AddFlow(0, 100, m, []byte{0xAA}, owner)
	r.Put(true, desired, groups, func(Message) {})

	desired.RemoveFlows(owner)
	var sent []Message
	r.Put(true, desired, groups, func(msg Message) { sent = append(sent, msg) })

	require.Len(t, sent, 1)
	del := sent[0].(*FlowMod)
	assert.Equal(t, uint8(FC_DELETE_STRICT), del.Command)
	assert.Empty(t, r.installed.Entries())
}

// TestPutMessageOrdering covers invariant 4: group-add, flow-delete,
// flow-modify, flow-add, group-delete.
func TestPutMessageOrdering(t *testing.T) {
	r := NewReconciler()
	desired := NewFlowStore()
	groups := NewGroupStore()

	staleOwner := uuid.New()
	staleMatch := Match{{Class: 0, Field: 1, Value: []byte{0xFF}}}
	modOwner := uuid.New()
	modMatch := Match{{Class: 0, Field: 1, Value: []byte{0x02}}}

	desired.AddFlow(0, 50, staleMatch, []byte{0x01}, staleOwner)
	desired.AddFlow(0, 60, modMatch, []byte{0x01}, modOwner)
	r.Put(true, desired, groups, func(Message) {}) // installs both without emitting into the captured run

	desired.RemoveFlows(staleOwner)                        // will be a delete this cycle
	desired.SetFlow(0, 60, modMatch, []byte{0x02}, modOwner) // will be a modify this cycle

	addOwner := uuid.New()
	addMatch := Match{{Class: 0, Field: 1, Value: []byte{0x03}}}
	desired.AddFlow(0, 70, addMatch, []byte{0x01}, addOwner) // will be an add this cycle

	groups.InsertDesired(1, "group_id=1,type=all,bucket=output:1") // group-add this cycle
	groups.existing[2] = "group_id=2,type=all,bucket=output:2"     // group-delete this cycle

	var kinds []string
	r.Put(true, desired, groups, func(msg Message) {
		switch m := msg.(type) {
		case *GroupMod:
			if m.Command == GC_ADD {
				kinds = append(kinds, "group-add")
			} else {
				kinds = append(kinds, "group-delete")
			}
		case *FlowMod:
			switch m.Command {
			case FC_DELETE_STRICT:
				kinds = append(kinds, "flow-delete")
			case FC_MODIFY_STRICT:
				kinds = append(kinds, "flow-modify")
			case FC_ADD:
				kinds = append(kinds, "flow-add")
			}
		}
	})

	assert.Equal(t, []string{"group-add", "flow-delete", "flow-modify", "flow-add", "group-delete"}, kinds)
}

// TestPutBackPressureDrainsDesiredGroups covers invariant 5.
func TestPutBackPressureDrainsDesiredGroups(t *testing.T) {
	r := NewReconciler()
	desired := NewFlowStore()
	groups := NewGroupStore()
	owner := uuid.New()
	desired.AddFlow(0, 100, Match{{Class: 0, Field: 1, Value: []byte{1}}}, []byte{0xAA}, owner)
	groups.InsertDesired(1, "group_id=1,type=all,bucket=output:1")

	var sent []Message
	r.Put(false, desired, groups, func(msg Message) { sent = append(sent, msg) })

	assert.Empty(t, sent)
	_, ok := groups.Lookup(Desired, 1)
	assert.False(t, ok, "desired groups must be drained even when ineligible to run")
	assert.Empty(t, r.installed.Entries(), "installed flows must be untouched when ineligible to run")
}

func TestPutPromotesDesiredGroupsToExisting(t *testing.T) {
	r := NewReconciler()
	desired := NewFlowStore()
	groups := NewGroupStore()
	groups.InsertDesired(3, "group_id=3,type=all,bucket=output:1")

	r.Put(true, desired, groups, func(Message) {})

	_, ok := groups.Lookup(Existing, 3)
	assert.True(t, ok)
	_, ok = groups.Lookup(Desired, 3)
	assert.False(t, ok)
}
