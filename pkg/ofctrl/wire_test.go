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
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowModMarshalLengthMatchesHeader(t *testing.T) {
	m := NewFlowMod(42)
	m.Command = FC_ADD
	m.TableID = 3
	m.Priority = 100
	m.Match = Match{{Class: 0x8000, Field: 1, Value: []byte{0x01, 0x02}}}
	m.Actions = []byte{0, 0, 0, 16, 0, 0, 0, 3, 0, 0, 0, 0, 0, 0, 0, 0}

	data, err := m.MarshalBinary()
	require.NoError(t, err)

	length := binary.BigEndian.Uint16(data[2:4])
	assert.Equal(t, int(length), len(data))
	assert.Equal(t, uint32(42), binary.BigEndian.Uint32(data[4:8]))
	assert.Equal(t, uint8(typeFlowMod), data[1])
}

func TestFlowModAllTablesDeleteHasNoActions(t *testing.T) {
	m := NewFlowMod(1)
	m.Command = FC_DELETE
	m.TableID = OFPTT_ALL

	data, err := m.MarshalBinary()
	require.NoError(t, err)

	length := binary.BigEndian.Uint16(data[2:4])
	assert.Equal(t, int(length), len(data))
}

func TestGroupModMarshalBucketCount(t *testing.T) {
	g := NewGroupMod(7)
	g.Command = GC_ADD
	g.Type = GroupTypeSelect
	g.GroupID = 3
	g.Buckets = []GroupBucket{
		{Weight: 50, Actions: []byte{0, 0, 0, 16, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0}},
		{Weight: 50, Actions: []byte{0, 0, 0, 16, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0, 0}},
	}

	data, err := g.MarshalBinary()
	require.NoError(t, err)

	length := binary.BigEndian.Uint16(data[2:4])
	assert.Equal(t, int(length), len(data))
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(data[12:16]))
}

func TestGroupModDeleteOmitsBuckets(t *testing.T) {
	g := NewGroupMod(1)
	g.Command = GC_DELETE
	g.GroupID = OFPG_ALL

	data, err := g.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, 16, len(data))
}

func TestMarshalMatchPadsToEightBytes(t *testing.T) {
	m := Match{{Class: 0, Field: 1, Value: []byte{0x01}}}
	data := marshalMatch(m)
	assert.Equal(t, 0, len(data)%8)
}

func TestTLVTableModRoundTrip(t *testing.T) {
	mod := &TLVTableMod{
		Xid:     5,
		Command: TLVTableModAdd,
		Entries: []TLVMapEntry{{OptClass: 0x102, OptType: 1, OptLen: 4, Index: 3}},
	}
	data, err := mod.MarshalBinary()
	require.NoError(t, err)

	var decoded TLVTableMod
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.Equal(t, mod.Xid, decoded.Xid)
	assert.Equal(t, mod.Command, decoded.Command)
	require.Len(t, decoded.Entries, 1)
	assert.Equal(t, mod.Entries[0], decoded.Entries[0])
}

func TestTLVTableReplyRoundTrip(t *testing.T) {
	reply := &TLVTableReply{
		Xid:       9,
		MaxSpace:  128,
		MaxFields: 8,
		Entries:   []TLVMapEntry{{OptClass: 0x102, OptType: 1, OptLen: 4, Index: 0}},
	}
	data, err := reply.MarshalBinary()
	require.NoError(t, err)

	var decoded TLVTableReply
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.Equal(t, reply.Xid, decoded.Xid)
	assert.Equal(t, reply.MaxSpace, decoded.MaxSpace)
	assert.Equal(t, reply.MaxFields, decoded.MaxFields)
	require.Len(t, decoded.Entries, 1)
	assert.Equal(t, reply.Entries[0], decoded.Entries[0])
}

func TestDecodeMessageDispatchesByType(t *testing.T) {
	barrier := NewBarrierRequest(3)
	data, err := barrier.MarshalBinary()
	require.NoError(t, err)

	// A BarrierRequest is an outbound-only helper; decodeMessage should
	// still route the raw frame by its header type to something
	// recognizable (here, falling into the opaque passthrough since
	// there is no separate inbound BarrierRequest decoder).
	msg, err := decodeMessage(data)
	require.NoError(t, err)
	assert.NotNil(t, msg)
}
