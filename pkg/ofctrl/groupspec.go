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

// Textual group specifications use the same grammar ovs-ofctl accepts for
// "add-group": comma-separated key=value pairs, with repeated
// "bucket=..." fields each introducing a comma-separated list of
// action primitives. No example repo in the retrieval pack vendors a
// parser for this OVS-specific grammar (libOpenflow's group.go works
// against an already-parsed Go struct, not this wire-adjacent text
// format), so this is hand-written; see DESIGN.md for why no third-party
// dependency could stand in.
//
// Example: "group_id=1,type=select,bucket=weight:50,output:3,bucket=weight:50,output:4"

import (
	"fmt"
	"strconv"
	"strings"
)

// Group types, per the OpenFlow 1.3.0 spec (7.3.4.3 OFPGT_*).
const (
	GroupTypeAll      = 0
	GroupTypeSelect   = 1
	GroupTypeIndirect = 2
	GroupTypeFF       = 3
)

var groupTypeNames = map[string]uint8{
	"all":      GroupTypeAll,
	"select":   GroupTypeSelect,
	"indirect": GroupTypeIndirect,
	"ff":       GroupTypeFF,
}

// ParsedGroup is a textual group spec broken into the fields GroupMod
// needs. GroupID is the group_id given in the spec text, or 0 if absent;
// the parser does not check it against the id the store key was recorded
// under, and Reconciler sends the store key as the group id.
type ParsedGroup struct {
	GroupID uint32
	Type    uint8
	Buckets []GroupBucket
}

// ParseGroupSpec parses one OVS-style textual group spec.
func ParseGroupSpec(spec string) (ParsedGroup, error) {
	var g ParsedGroup
	g.Type = GroupTypeAll

	fields, err := splitGroupFields(spec)
	if err != nil {
		return ParsedGroup{}, err
	}

	for _, f := range fields {
		key, val, ok := strings.Cut(f, "=")
		if !ok {
			return ParsedGroup{}, fmt.Errorf("ofctrl: group spec field %q has no '='", f)
		}
		switch key {
		case "group_id":
			id, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return ParsedGroup{}, fmt.Errorf("ofctrl: bad group_id %q: %w", val, err)
			}
			g.GroupID = uint32(id)
		case "type":
			t, ok := groupTypeNames[val]
			if !ok {
				return ParsedGroup{}, fmt.Errorf("ofctrl: unknown group type %q", val)
			}
			g.Type = t
		case "bucket":
			b, err := parseBucket(val)
			if err != nil {
				return ParsedGroup{}, err
			}
			g.Buckets = append(g.Buckets, b)
		default:
			return ParsedGroup{}, fmt.Errorf("ofctrl: unknown group spec field %q", key)
		}
	}

	return g, nil
}

// splitGroupFields splits the text before the first "bucket=" on commas.
// Since a bucket's sub-fields (weight, watch_port, actions) are themselves
// comma-separated in ovs-ofctl's own grammar, buckets are instead
// delimited by the literal substring "bucket=" and everything up to the
// next "bucket=" or end of string belongs to that bucket.
func splitGroupFields(spec string) ([]string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("ofctrl: empty group spec")
	}

	var fields []string
	rest := spec
	for {
		idx := strings.Index(rest, "bucket=")
		if idx < 0 {
			fields = append(fields, splitTopLevel(rest)...)
			break
		}
		if idx > 0 {
			head := strings.TrimSuffix(rest[:idx], ",")
			fields = append(fields, splitTopLevel(head)...)
		}
		next := strings.Index(rest[idx+len("bucket="):], "bucket=")
		if next < 0 {
			fields = append(fields, strings.TrimSuffix(rest[idx:], ","))
			break
		}
		end := idx + len("bucket=") + next
		fields = append(fields, strings.TrimSuffix(rest[idx:end], ","))
		rest = rest[end:]
	}

	var out []string
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out, nil
}

func splitTopLevel(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseBucket parses the value following "bucket=": an optional
// "weight:N" and/or "watch_port:N"/"watch_group:N" prefix followed by a
// comma-separated action list, which is encoded into an opaque action
// buffer via EncodeActions.
func parseBucket(val string) (GroupBucket, error) {
	var b GroupBucket
	var actionParts []string

	for _, part := range strings.Split(val, ",") {
		if w, ok := strings.CutPrefix(part, "weight:"); ok {
			n, err := strconv.ParseUint(w, 10, 16)
			if err != nil {
				return GroupBucket{}, fmt.Errorf("ofctrl: bad bucket weight %q: %w", w, err)
			}
			b.Weight = uint16(n)
			continue
		}
		if strings.HasPrefix(part, "watch_port:") || strings.HasPrefix(part, "watch_group:") {
			// This core's groups are always select-independent of watch
			// tracking; the reconciler does not vary behavior on it, so
			// it is accepted but not retained.
			continue
		}
		actionParts = append(actionParts, part)
	}

	actions, err := EncodeActions(actionParts)
	if err != nil {
		return GroupBucket{}, err
	}
	b.Actions = actions
	return b, nil
}
