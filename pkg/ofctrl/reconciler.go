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

// Reconciler implements C5: it diffs the installed-flow and existing-
// group stores against the desired stores and emits the minimal set of
// flow_mod/group_mod messages to converge, in the four-phase order laid
// out in original_source/ovn/controller/ofctrl.c's ofctrl_put (group-add
// loop, installed flow delete/modify loop, desired-flow-insert loop,
// existing-group-delete-and-promote loop). The phase ordering there is
// preserved exactly: new groups must exist before flows that reference
// them are installed, and old groups are removed only once nothing
// installed references them.

import "bytes"

// Reconciler holds the installed-flow shadow store; the group store's
// desired/existing sets live in the caller-owned GroupStore passed to
// Put.
type Reconciler struct {
	installed *FlowStore
}

// NewReconciler returns a reconciler with an empty installed-flow
// shadow store.
func NewReconciler() *Reconciler {
	return &Reconciler{installed: NewFlowStore()}
}

// ClearInstalled empties the installed-flow shadow store, for use as the
// negotiator's CLEAR_FLOWS entry action: the switch is assumed to have
// dropped its table, so nothing installed now matches reality.
func (r *Reconciler) ClearInstalled() { r.installed.Clear() }

// Put runs the four reconciliation phases against desired, provided the
// negotiator has reached UPDATE_FLOWS and the channel has no outstanding
// messages; callers are expected to check both before invoking send for
// real (Controller.Put does this). send is called once per emitted
// message, in phase order.
//
// eligible controls back-pressure (§4.5/§5): when false, Put still
// drains groups.Clear(Desired) (the invariant is that a put consumes the
// desired group set) but emits nothing and leaves installed flows alone.
func (r *Reconciler) Put(eligible bool, desired *FlowStore, groups *GroupStore, send func(Message)) {
	if !eligible {
		groups.Clear(Desired)
		return
	}

	r.reconcileGroupAdds(groups, send)
	r.reconcileFlows(desired, send)
	r.reconcileGroupDeletesAndPromote(groups, send)
}

// reconcileGroupAdds is phase 1: every desired group absent from
// existing is added. existing is left untouched here; promotion happens
// in phase 4 so that flows installed in between (phase 2/3) can reference
// groups added this cycle without the bookkeeping racing ahead of the
// wire traffic that creates them.
func (r *Reconciler) reconcileGroupAdds(groups *GroupStore, send func(Message)) {
	for _, id := range groups.desiredIDs() {
		if _, ok := groups.existing[id]; ok {
			continue
		}
		spec, _ := groups.Lookup(Desired, id)
		parsed, err := ParseGroupSpec(spec)
		if err != nil {
			logGroupParseError(id, err)
			continue
		}
		mod := NewGroupMod(0)
		mod.Command = GC_ADD
		mod.Type = parsed.Type
		mod.GroupID = id
		mod.Buckets = parsed.Buckets
		send(mod)
	}
}

// reconcileFlows runs phases 2 and 3: first reconcile every installed
// flow against its desired candidates (all deletes, then all modifies),
// then insert whatever desired keys had no installed counterpart at all.
func (r *Reconciler) reconcileFlows(desired *FlowStore, send func(Message)) {
	seenKeys := make(map[flowKey]bool)

	for _, installedFlow := range r.installed.Entries() {
		key := installedFlow.key()
		seenKeys[key] = true

		if len(desired.candidatesFor(key)) == 0 {
			send(flowDeleteStrict(installedFlow))
			r.installed.removeInstalled(installedFlow)
		}
	}

	for _, installedFlow := range r.installed.Entries() {
		winner := selectByUUID(desired.candidatesFor(installedFlow.key()))
		if winner.UUID != installedFlow.UUID {
			r.installed.reownInstalled(installedFlow, winner.UUID)
		}
		if !bytes.Equal(winner.Actions, installedFlow.Actions) {
			send(flowModifyStrict(installedFlow.TableID, installedFlow.Priority, installedFlow.Match, winner.Actions))
			installedFlow.Actions = append([]byte{}, winner.Actions...)
		}
	}

	for _, key := range desired.Keys() {
		if seenKeys[key] {
			continue
		}
		candidates := desired.candidatesFor(key)
		if len(candidates) == 0 {
			continue
		}
		winner := selectByUUID(candidates)
		send(flowAdd(winner.TableID, winner.Priority, winner.Match, winner.Actions))
		r.installed.insertInstalled(winner.dup())
	}
}

// reconcileGroupDeletesAndPromote is phase 4: delete every existing
// group no longer desired, then move every desired group into existing
// (dropping duplicates — a group that was already in existing and
// remains desired simply keeps its existing entry). desired always ends
// empty, per the invariant that put() consumes it.
func (r *Reconciler) reconcileGroupDeletesAndPromote(groups *GroupStore, send func(Message)) {
	for _, id := range groups.existingIDs() {
		if _, ok := groups.desired[id]; ok {
			continue
		}
		mod := NewGroupMod(0)
		mod.Command = GC_DELETE
		mod.GroupID = id
		send(mod)
		delete(groups.existing, id)
	}

	for id, spec := range groups.desired {
		if _, ok := groups.existing[id]; !ok {
			groups.existing[id] = spec
		}
	}
	groups.Clear(Desired)
}

func flowDeleteStrict(f *Flow) *FlowMod {
	m := NewFlowMod(0)
	m.Command = FC_DELETE_STRICT
	m.TableID = f.TableID
	m.Priority = f.Priority
	m.Match = f.Match
	return m
}

func flowModifyStrict(tableID uint8, priority uint16, match Match, actions []byte) *FlowMod {
	m := NewFlowMod(0)
	m.Command = FC_MODIFY_STRICT
	m.TableID = tableID
	m.Priority = priority
	m.Match = match
	m.Actions = actions
	return m
}

func flowAdd(tableID uint8, priority uint16, match Match, actions []byte) *FlowMod {
	m := NewFlowMod(0)
	m.Command = FC_ADD
	m.TableID = tableID
	m.Priority = priority
	m.Match = match
	m.Actions = actions
	return m
}
