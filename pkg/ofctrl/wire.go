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

// This file implements the slice of the OpenFlow 1.3 wire format this
// core actually needs to speak: flow_mod, group_mod, barrier and the
// Nicira TLV-table negotiation extension, plus the handful of
// control/keepalive messages the receive loop must recognize. It is
// adapted from the message-framing idiom in contiv/ofnet's vendored
// shaleman/libOpenflow (a Header embedded in every message, explicit
// MarshalBinary/UnmarshalBinary, big-endian fixed-width fields) rather
// than imported wholesale, because this core's actions and match fields
// are carried as already-encoded opaque byte sequences (see Flow/Match in
// types.go) and the upstream library's action/match types assume it owns
// their structure.

import (
	"encoding/binary"
	"errors"

	"github.com/contiv/libOpenflow/common"
	"github.com/contiv/libOpenflow/util"
)

// Message is any OpenFlow wire message: framed, self-describing, and
// round-trippable. Re-exported from the underlying transport library so
// callers of this package don't need to import it directly.
type Message = util.Message

// OpenFlow 1.3 message type codes, per the OpenFlow 1.3.0 spec (A.1).
const (
	typeHello              = 0
	typeError              = 1
	typeEchoRequest        = 2
	typeEchoReply          = 3
	typeExperimenter       = 4
	typeFeaturesRequest    = 5
	typeFeaturesReply      = 6
	typePacketIn           = 10
	typeFlowRemoved        = 11
	typePortStatus         = 12
	typeFlowMod            = 14
	typeGroupMod           = 15
	typeBarrierRequest     = 20
	typeBarrierReply       = 21
	typeMultipartRequest   = 18
	typeMultipartReply     = 19
)

// OFPFC_* flow_mod commands, per the OpenFlow 1.3.0 spec (7.3.4.1).
const (
	FC_ADD           = 0
	FC_MODIFY        = 1
	FC_MODIFY_STRICT = 2
	FC_DELETE        = 3
	FC_DELETE_STRICT = 4
)

// OFPGC11_* group_mod commands and OFPG_* reserved group ids, per the
// OpenFlow 1.3.0 spec (7.3.4.3).
const (
	GC_ADD    = 0
	GC_MODIFY = 1
	GC_DELETE = 2

	OFPG_ALL = 0xfffffffc
	OFPG_ANY = 0xffffffff
)

// OFPTT_ALL selects every flow table for a catch-all delete.
const OFPTT_ALL = 0xff

// OFPP_ANY / no-buffer sentinels used on every flow_mod this core sends.
const (
	OFPP_ANY     = 0xffffffff
	NoBuffer     = 0xffffffff
)

func newHeader(msgType uint8, xid uint32) common.Header {
	return common.Header{Version: 4, Type: msgType, Xid: xid}
}

// --- keepalive / control messages -----------------------------------------

// EchoRequest and EchoReply carry no body beyond the header.
type EchoRequest struct{ common.Header }
type EchoReply struct{ common.Header }

func NewEchoRequest(xid uint32) *EchoRequest { return &EchoRequest{newHeader(typeEchoRequest, xid)} }
func NewEchoReply(xid uint32) *EchoReply     { return &EchoReply{newHeader(typeEchoReply, xid)} }

func (m *EchoRequest) Len() uint16                    { return m.Header.Len() }
func (m *EchoRequest) MarshalBinary() ([]byte, error) { m.Header.Length = m.Len(); return m.Header.MarshalBinary() }
func (m *EchoRequest) UnmarshalBinary(d []byte) error { return m.Header.UnmarshalBinary(d) }

func (m *EchoReply) Len() uint16                    { return m.Header.Len() }
func (m *EchoReply) MarshalBinary() ([]byte, error) { m.Header.Length = m.Len(); return m.Header.MarshalBinary() }
func (m *EchoReply) UnmarshalBinary(d []byte) error { return m.Header.UnmarshalBinary(d) }

// ErrorMsg is OFPT_ERROR: a type/code pair plus the offending request,
// truncated. Only Type/Code matter to this core's negotiator.
type ErrorMsg struct {
	common.Header
	ErrType uint16
	ErrCode uint16
	Data    []byte
}

func (m *ErrorMsg) Len() uint16 { return m.Header.Len() + 4 + uint16(len(m.Data)) }

func (m *ErrorMsg) MarshalBinary() (data []byte, err error) {
	m.Header.Length = m.Len()
	data, err = m.Header.MarshalBinary()
	if err != nil {
		return nil, err
	}
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], m.ErrType)
	binary.BigEndian.PutUint16(b[2:4], m.ErrCode)
	data = append(data, b...)
	data = append(data, m.Data...)
	return data, nil
}

func (m *ErrorMsg) UnmarshalBinary(data []byte) error {
	if err := m.Header.UnmarshalBinary(data); err != nil {
		return err
	}
	n := int(m.Header.Len())
	if len(data) < n+4 {
		return errors.New("ErrorMsg: short message")
	}
	m.ErrType = binary.BigEndian.Uint16(data[n : n+2])
	m.ErrCode = binary.BigEndian.Uint16(data[n+2 : n+4])
	m.Data = append([]byte{}, data[n+4:]...)
	return nil
}

// BarrierRequest / BarrierReply.
type BarrierRequest struct{ common.Header }
type BarrierReply struct{ common.Header }

func NewBarrierRequest(xid uint32) *BarrierRequest {
	return &BarrierRequest{newHeader(typeBarrierRequest, xid)}
}

func (m *BarrierRequest) Len() uint16 { return m.Header.Len() }
func (m *BarrierRequest) MarshalBinary() ([]byte, error) {
	m.Header.Length = m.Len()
	return m.Header.MarshalBinary()
}
func (m *BarrierRequest) UnmarshalBinary(d []byte) error { return m.Header.UnmarshalBinary(d) }

func (m *BarrierReply) Len() uint16 { return m.Header.Len() }
func (m *BarrierReply) MarshalBinary() ([]byte, error) {
	m.Header.Length = m.Len()
	return m.Header.MarshalBinary()
}
func (m *BarrierReply) UnmarshalBinary(d []byte) error { return m.Header.UnmarshalBinary(d) }

// --- match encoding ---------------------------------------------------------

// marshalMatch renders m as an OFPMT_OXM ofp_match: a type/length header
// followed by each field's OXM TLV, padded to a multiple of 8 bytes.
func marshalMatch(m Match) []byte {
	var body []byte
	for _, f := range m.Normalized() {
		length := len(f.Value)
		oxmHeader := uint32(f.Class)<<16 | uint32(f.Field)<<9
		if f.HasMask {
			oxmHeader |= 1 << 8
			length *= 2
		}
		oxmHeader |= uint32(length)
		hdr := make([]byte, 4)
		binary.BigEndian.PutUint32(hdr, oxmHeader)
		body = append(body, hdr...)
		body = append(body, f.Value...)
		if f.HasMask {
			body = append(body, f.Mask...)
		}
	}
	head := make([]byte, 4)
	binary.BigEndian.PutUint16(head[0:2], 1) // OFPMT_OXM
	binary.BigEndian.PutUint16(head[2:4], uint16(4+len(body)))
	out := append(head, body...)
	for len(out)%8 != 0 {
		out = append(out, 0)
	}
	return out
}

// --- flow_mod ---------------------------------------------------------------

// FlowMod is OFPT_FLOW_MOD. Actions are the already wire-encoded action
// list produced upstream; this core wraps them verbatim in a single
// OFPIT_APPLY_ACTIONS instruction, which is how a plain (non-goto) action
// list is represented on the wire.
type FlowMod struct {
	common.Header
	Cookie     uint64
	CookieMask uint64
	TableID    uint8
	Command    uint8
	Priority   uint16
	BufferID   uint32
	OutPort    uint32
	OutGroup   uint32
	Match      Match
	Actions    []byte
}

const instrTypeApplyActions = 4

// SetXid assigns the transaction id used on the wire. Reconciler-built
// FlowMods are constructed with xid 0 and get a real one assigned by the
// sender just before transmission.
func (m *FlowMod) SetXid(xid uint32) { m.Header.Xid = xid }

func NewFlowMod(xid uint32) *FlowMod {
	return &FlowMod{
		Header:   newHeader(typeFlowMod, xid),
		BufferID: NoBuffer,
		OutPort:  OFPP_ANY,
		OutGroup: OFPG_ANY,
	}
}

func (m *FlowMod) Len() uint16 {
	matchBytes := marshalMatch(m.Match)
	n := int(m.Header.Len()) + 40 + len(matchBytes)
	if len(m.Actions) > 0 {
		n += 8 + len(m.Actions)
	}
	return uint16(n)
}

func (m *FlowMod) MarshalBinary() (data []byte, err error) {
	matchBytes := marshalMatch(m.Match)
	m.Header.Length = m.Len()
	data, err = m.Header.MarshalBinary()
	if err != nil {
		return nil, err
	}

	fixed := make([]byte, 40)
	binary.BigEndian.PutUint64(fixed[0:8], m.Cookie)
	binary.BigEndian.PutUint64(fixed[8:16], m.CookieMask)
	fixed[16] = m.TableID
	fixed[17] = m.Command
	// IdleTimeout, HardTimeout: 0 (no expiry) at offsets 18,20.
	binary.BigEndian.PutUint16(fixed[22:24], m.Priority)
	binary.BigEndian.PutUint32(fixed[24:28], m.BufferID)
	binary.BigEndian.PutUint32(fixed[28:32], m.OutPort)
	binary.BigEndian.PutUint32(fixed[32:36], m.OutGroup)
	// Flags: 0 at offset 36.
	data = append(data, fixed...)
	data = append(data, matchBytes...)

	if len(m.Actions) > 0 {
		instrHdr := make([]byte, 8)
		binary.BigEndian.PutUint16(instrHdr[0:2], instrTypeApplyActions)
		binary.BigEndian.PutUint16(instrHdr[2:4], uint16(8+len(m.Actions)))
		data = append(data, instrHdr...)
		data = append(data, m.Actions...)
	}

	return data, nil
}

func (m *FlowMod) UnmarshalBinary(data []byte) error {
	return errors.New("FlowMod: unmarshal not supported, this core only sends flow_mods")
}

// --- group_mod ---------------------------------------------------------------

// GroupMod is OFPT_GROUP_MOD. Like FlowMod, bucket actions arrive as an
// already-encoded opaque byte string per bucket (see groupspec.go).
type GroupMod struct {
	common.Header
	Command uint16
	Type    uint8
	GroupID uint32
	Buckets []GroupBucket
}

// GroupBucket is one bucket of a group_mod: a relative weight (used only
// by select groups) plus an opaque, pre-encoded action list.
type GroupBucket struct {
	Weight  uint16
	Actions []byte
}

// SetXid assigns the transaction id used on the wire, mirroring FlowMod.
func (g *GroupMod) SetXid(xid uint32) { g.Header.Xid = xid }

func NewGroupMod(xid uint32) *GroupMod {
	return &GroupMod{Header: newHeader(typeGroupMod, xid)}
}

func (g *GroupMod) Len() uint16 {
	n := int(g.Header.Len()) + 8
	if g.Command == GC_DELETE {
		return uint16(n)
	}
	for _, b := range g.Buckets {
		n += 16 + len(b.Actions)
	}
	return uint16(n)
}

func (g *GroupMod) MarshalBinary() (data []byte, err error) {
	g.Header.Length = g.Len()
	data, err = g.Header.MarshalBinary()
	if err != nil {
		return nil, err
	}

	fixed := make([]byte, 8)
	binary.BigEndian.PutUint16(fixed[0:2], g.Command)
	fixed[2] = g.Type
	binary.BigEndian.PutUint32(fixed[4:8], g.GroupID)
	data = append(data, fixed...)

	if g.Command == GC_DELETE {
		return data, nil
	}

	for _, b := range g.Buckets {
		bktLen := 16 + len(b.Actions)
		bkt := make([]byte, 16)
		binary.BigEndian.PutUint16(bkt[0:2], uint16(bktLen))
		binary.BigEndian.PutUint16(bkt[2:4], b.Weight)
		binary.BigEndian.PutUint32(bkt[4:8], OFPP_ANY)
		binary.BigEndian.PutUint32(bkt[8:12], OFPG_ANY)
		data = append(data, bkt...)
		data = append(data, b.Actions...)
	}
	return data, nil
}

func (g *GroupMod) UnmarshalBinary(data []byte) error {
	return errors.New("GroupMod: unmarshal not supported, this core only sends group_mods")
}

// --- Nicira TLV-table negotiation extension ---------------------------------
//
// NXT_TLV_TABLE_REQUEST/MOD/REPLY are Open vSwitch's Nicira-experimenter
// extension for negotiating Geneve tunnel-metadata option slots. No
// retrieved example vendors a Go encoding of this extension (it is only
// visible, in C, in original_source/ovn/controller/ofctrl.c), so it is
// implemented here directly, following the same experimenter-message shape
// OVS itself uses: an OFPT_EXPERIMENTER header, the Nicira experimenter id,
// a subtype, and a type-specific body.

const (
	nxExperimenterID = 0x00002320 // Nicira, per OVS's nicira-ext.h.

	nxtTLVTableMod     = 24
	nxtTLVTableRequest = 25
	nxtTLVTableReply   = 26
)

// TLVMapEntry is one (option_class, option_type, option_len) -> index
// mapping, as carried by NXT_TLV_TABLE_MOD and NXT_TLV_TABLE_REPLY.
type TLVMapEntry struct {
	OptClass uint16
	OptType  uint8
	OptLen   uint8
	Index    uint16
}

func marshalTLVMap(entries []TLVMapEntry) []byte {
	out := make([]byte, 0, len(entries)*8)
	for _, e := range entries {
		b := make([]byte, 8)
		binary.BigEndian.PutUint16(b[0:2], e.OptClass)
		b[2] = e.OptType
		b[3] = e.OptLen
		binary.BigEndian.PutUint16(b[4:6], e.Index)
		out = append(out, b...)
	}
	return out
}

func unmarshalTLVMap(data []byte) []TLVMapEntry {
	var entries []TLVMapEntry
	for off := 0; off+8 <= len(data); off += 8 {
		entries = append(entries, TLVMapEntry{
			OptClass: binary.BigEndian.Uint16(data[off : off+2]),
			OptType:  data[off+2],
			OptLen:   data[off+3],
			Index:    binary.BigEndian.Uint16(data[off+4 : off+6]),
		})
	}
	return entries
}

func experimenterHeader(xid uint32, subtype uint32) []byte {
	hdr := newHeader(typeExperimenter, xid)
	hdr.Length = 16
	b, _ := hdr.MarshalBinary()
	exp := make([]byte, 8)
	binary.BigEndian.PutUint32(exp[0:4], nxExperimenterID)
	binary.BigEndian.PutUint32(exp[4:8], subtype)
	return append(b, exp...)
}

// TLVTableRequest is NXT_TLV_TABLE_REQUEST: asks the switch for its current
// tunnel-metadata option mappings.
type TLVTableRequest struct {
	Xid uint32
}

func (m *TLVTableRequest) Len() uint16 { return 16 }
func (m *TLVTableRequest) MarshalBinary() ([]byte, error) {
	data := experimenterHeader(m.Xid, nxtTLVTableRequest)
	binary.BigEndian.PutUint16(data[2:4], uint16(len(data)))
	return data, nil
}
func (m *TLVTableRequest) UnmarshalBinary(data []byte) error {
	if len(data) < 16 {
		return errors.New("TLVTableRequest: short message")
	}
	m.Xid = binary.BigEndian.Uint32(data[4:8])
	return nil
}

// TLVTableMod is NXT_TLV_TABLE_MOD: requests the switch add or delete
// mappings.
type TLVTableMod struct {
	Xid     uint32
	Command uint16
	Entries []TLVMapEntry
}

const (
	TLVTableModAdd    = 0
	TLVTableModDelete = 1
	TLVTableModClear  = 2
)

func (m *TLVTableMod) Len() uint16 { return uint16(16 + 4 + len(m.Entries)*8) }
func (m *TLVTableMod) MarshalBinary() ([]byte, error) {
	data := experimenterHeader(m.Xid, nxtTLVTableMod)
	body := make([]byte, 4)
	binary.BigEndian.PutUint16(body[0:2], m.Command)
	data = append(data, body...)
	data = append(data, marshalTLVMap(m.Entries)...)
	binary.BigEndian.PutUint16(data[2:4], uint16(len(data)))
	return data, nil
}
func (m *TLVTableMod) UnmarshalBinary(data []byte) error {
	if len(data) < 20 {
		return errors.New("TLVTableMod: short message")
	}
	m.Xid = binary.BigEndian.Uint32(data[4:8])
	m.Command = binary.BigEndian.Uint16(data[16:18])
	m.Entries = unmarshalTLVMap(data[20:])
	return nil
}

// TLVTableReply is NXT_TLV_TABLE_REPLY: the switch's current mappings plus
// the total number of option slots it supports.
type TLVTableReply struct {
	Xid      uint32
	MaxSpace uint32
	MaxFields uint16
	Entries  []TLVMapEntry
}

func (m *TLVTableReply) Len() uint16 { return uint16(16 + 8 + len(m.Entries)*8) }
func (m *TLVTableReply) MarshalBinary() ([]byte, error) {
	data := experimenterHeader(m.Xid, nxtTLVTableReply)
	body := make([]byte, 8)
	binary.BigEndian.PutUint32(body[0:4], m.MaxSpace)
	binary.BigEndian.PutUint16(body[4:6], m.MaxFields)
	data = append(data, body...)
	data = append(data, marshalTLVMap(m.Entries)...)
	binary.BigEndian.PutUint16(data[2:4], uint16(len(data)))
	return data, nil
}
func (m *TLVTableReply) UnmarshalBinary(data []byte) error {
	if len(data) < 24 {
		return errors.New("TLVTableReply: short message")
	}
	m.Xid = binary.BigEndian.Uint32(data[4:8])
	m.MaxSpace = binary.BigEndian.Uint32(data[16:20])
	m.MaxFields = binary.BigEndian.Uint16(data[20:22])
	m.Entries = unmarshalTLVMap(data[24:])
	return nil
}
