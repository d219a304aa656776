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

// Package ofctrl implements the OpenFlow control core of a hypervisor-local
// virtual network agent: a reliable OpenFlow 1.3 transport, a Geneve
// tunnel-metadata negotiator, a desired/installed flow store and group
// store, and a reconciler that diffs them and emits the minimal set of
// flow_mod/group_mod messages needed to converge.
package ofctrl

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/google/uuid"
)

// MatchField is a single field-value-mask triple over the OpenFlow OXM
// field space. The core treats match fields opaquely: it never interprets
// Class/Field, only hashes and compares them.
type MatchField struct {
	Class   uint16
	Field   uint8
	HasMask bool
	Value   []byte
	Mask    []byte
}

func (f MatchField) equal(o MatchField) bool {
	return f.Class == o.Class && f.Field == o.Field && f.HasMask == o.HasMask &&
		bytes.Equal(f.Value, o.Value) && bytes.Equal(f.Mask, o.Mask)
}

// Match is a structured match key: a set of field-value-mask triples. The
// zero value is the catch-all (wildcard) match.
type Match []MatchField

// Normalized returns m sorted into canonical (Class, Field) order so that
// two semantically identical matches produce identical keys regardless of
// the order fields were appended in.
func (m Match) Normalized() Match {
	out := make(Match, len(m))
	copy(out, m)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Class != out[j].Class {
			return out[i].Class < out[j].Class
		}
		return out[i].Field < out[j].Field
	})
	return out
}

// Equal reports whether two matches carry the same fields, regardless of
// insertion order.
func (m Match) Equal(o Match) bool {
	a, b := m.Normalized(), o.Normalized()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].equal(b[i]) {
			return false
		}
	}
	return true
}

// key renders a canonical byte encoding of the match, used as (part of) a
// map key. Correctness of store lookups relies on full key equality, not on
// the absence of hash collisions, so a plain string comparison is
// sufficient — Go's map implementation already gives O(1) expected lookup.
func (m Match) key() string {
	norm := m.Normalized()
	var buf bytes.Buffer
	var hdr [4]byte
	for _, f := range norm {
		binary.BigEndian.PutUint16(hdr[0:2], f.Class)
		hdr[2] = f.Field
		if f.HasMask {
			hdr[3] = 1
		}
		buf.Write(hdr[:])
		buf.WriteByte(byte(len(f.Value)))
		buf.Write(f.Value)
		buf.WriteByte(byte(len(f.Mask)))
		buf.Write(f.Mask)
	}
	return buf.String()
}

// flowKey identifies the (table_id, priority, match) tuple flows are
// reconciled by. Two flows from different UUIDs may legally share a
// flowKey (spec invariant 2); a FlowStore keeps every one of them and the
// reconciler picks a winner at convergence time.
type flowKey struct {
	tableID  uint8
	priority uint16
	matchKey string
}

func keyOf(tableID uint8, priority uint16, match Match) flowKey {
	return flowKey{tableID: tableID, priority: priority, matchKey: match.key()}
}

// Flow is the central entity: an OpenFlow table/priority/match/actions
// tuple, tagged with the UUID of the logical source that produced it.
// Actions are carried as an already wire-encoded, opaque action list —
// the core never interprets them, only compares them byte-for-byte.
type Flow struct {
	TableID  uint8
	Priority uint16
	Match    Match
	Actions  []byte
	UUID     uuid.UUID
}

func (f *Flow) key() flowKey {
	return keyOf(f.TableID, f.Priority, f.Match)
}

// dup returns a deep copy of f, suitable for insertion into the installed
// flow store. Hashes/keys are recomputed from the destination's own fields
// rather than copied from the source — unlike the latent shortcut in the
// upstream C implementation this is modeled on, which reused the source's
// precomputed hash. Since the key is a pure function of (table, priority,
// match) and those fields are copied verbatim, the two approaches happen to
// agree, but recomputing avoids relying on that coincidence.
func (f *Flow) dup() *Flow {
	match := make(Match, len(f.Match))
	for i, mf := range f.Match {
		mf.Value = append([]byte(nil), mf.Value...)
		mf.Mask = append([]byte(nil), mf.Mask...)
		match[i] = mf
	}
	d := &Flow{
		TableID:  f.TableID,
		Priority: f.Priority,
		Match:    match,
		Actions:  append([]byte{}, f.Actions...),
		UUID:     f.UUID,
	}
	return d
}

// uuidLess reports whether a sorts before b under the tie-break rule used
// throughout reconciliation: lexicographic order over the raw UUID bytes.
func uuidLess(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
