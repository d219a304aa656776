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

// negotiator implements C2: the state machine that secures a Geneve
// tunnel-metadata option slot before the core will start installing
// flows. It is a direct Go rendering of the S_NEW / S_TLV_TABLE_REQUESTED
// / S_TLV_TABLE_MOD_SENT / S_CLEAR_FLOWS / S_UPDATE_FLOWS machine in
// original_source/ovn/controller/ofctrl.c's ofctrl_run, using a Go
// switch over a named state rather than that file's macro-built jump
// table — the macros exist there to avoid repeating boilerplate in C;
// a switch does the same job more plainly in Go.

import "fmt"

// State names the current phase of the Geneve-slot negotiation.
type State int

const (
	StateNew State = iota
	StateTLVTableRequested
	StateTLVTableModSent
	StateClearFlows
	StateUpdateFlows
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateTLVTableRequested:
		return "TLV_TABLE_REQUESTED"
	case StateTLVTableModSent:
		return "TLV_TABLE_MOD_SENT"
	case StateClearFlows:
		return "CLEAR_FLOWS"
	case StateUpdateFlows:
		return "UPDATE_FLOWS"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MaxSlots and BaseTunMetadata are the fixed constants of the tunnel-
// metadata field space this system negotiates over.
const (
	MaxSlots        = 64
	BaseTunMetadata = 0x1000 // NXM_NX_TUN_METADATA0, per OVS's nicira-ext.h
)

// OpenFlow error codes this negotiator reacts to specifically, per
// OVS's ofp-errors: OFPET_TLV_TABLE_MOD_FAILED (experimenter error type
// used for TLV table mod failures) with codes ALREADY_MAPPED/DUP_ENTRY.
const (
	errTypeTLVTableModFailed  = 0xffff // experimenter error type marker
	errCodeTLVAlreadyMapped   = 1
	errCodeTLVDupEntry        = 2
)

// GeneveOption identifies the fixed (option_class, option_type,
// option_len) triple this system's overlay carries tunnel context in.
type GeneveOption struct {
	Class uint16
	Type  uint8
	Len   uint8
}

// ClearCallbacks lets the embedding Controller hook the CLEAR_FLOWS
// entry action: the negotiator itself only knows to empty the installed
// stores, not what "installed store" means to its caller.
type ClearCallbacks struct {
	ClearInstalledFlows func()
	ClearExistingGroups func()
}

// negotiatorTransport is the slice of Transport's API the negotiator
// actually drives. Keeping it as a small interface rather than a
// concrete *Transport lets the state machine be exercised with a fake in
// tests, without a real socket.
type negotiatorTransport interface {
	IsConnected() bool
	ConnectionGeneration() uint64
	NextXid() uint32
	Send(msg Message, counter *PacketCounter) error
	Recv() (Message, bool)
}

// negotiator owns the C2 protocol state and the transport it runs over.
// It is held by Controller rather than exported on its own, since
// its lifecycle is entirely driven by Controller.Run.
type negotiator struct {
	transport negotiatorTransport
	option    GeneveOption

	state State
	xid   uint32
	xid2  uint32
	// fieldID is the negotiated tun_metadata field id; 0 means absent
	// (Geneve disabled for this cycle) or not yet negotiated.
	fieldID uint16

	// pendingFieldID is the field id we asked the switch to grant via an
	// in-flight TLVTableMod; it becomes fieldID once the barrier reply
	// confirms the switch applied it.
	pendingFieldID uint16

	lastGeneration uint64
	haveGeneration bool

	clear ClearCallbacks
}

func newNegotiator(t negotiatorTransport, opt GeneveOption, clear ClearCallbacks) *negotiator {
	return &negotiator{
		transport: t,
		option:    opt,
		state:     StateNew,
		clear:     clear,
	}
}

// run advances the state machine to a fixpoint, then drains at most 50
// inbound messages (or fewer if the state changes first), and returns the
// current field id.
func (n *negotiator) run() uint16 {
	if !n.transport.IsConnected() {
		return 0
	}

	gen := n.transport.ConnectionGeneration()
	if !n.haveGeneration || gen != n.lastGeneration {
		n.lastGeneration = gen
		n.haveGeneration = true
		n.state = StateNew
		n.xid, n.xid2 = 0, 0
	}

	n.runEntryActions()

	for i := 0; i < 50; i++ {
		msg, ok := n.transport.Recv()
		if !ok {
			break
		}
		before := n.state
		n.dispatch(msg)
		if n.state != before {
			n.runEntryActions()
			break
		}
	}

	if n.state == StateClearFlows || n.state == StateUpdateFlows {
		return n.fieldID
	}
	return 0
}

// runEntryActions runs the entry action for the current state repeatedly
// until a fixpoint: a state whose entry action does not itself change the
// state.
func (n *negotiator) runEntryActions() {
	for {
		before := n.state
		switch n.state {
		case StateNew:
			n.enterNew()
		case StateClearFlows:
			n.enterClearFlows()
		default:
			return
		}
		if n.state == before {
			return
		}
	}
}

func (n *negotiator) enterNew() {
	n.xid = n.transport.NextXid()
	req := &TLVTableRequest{Xid: n.xid}
	if err := n.transport.Send(req, nil); err != nil {
		logger.WithError(err).Debug("failed to send TLV table request")
		return
	}
	n.state = StateTLVTableRequested
}

func (n *negotiator) enterClearFlows() {
	del := NewFlowMod(n.transport.NextXid())
	del.Command = FC_DELETE
	del.TableID = OFPTT_ALL
	del.Priority = 0
	if err := n.transport.Send(del, nil); err != nil {
		logger.WithError(err).Debug("failed to send catch-all flow delete")
	}

	grpDel := NewGroupMod(n.transport.NextXid())
	grpDel.Command = GC_DELETE
	grpDel.Type = 0
	grpDel.GroupID = OFPG_ALL
	if err := n.transport.Send(grpDel, nil); err != nil {
		logger.WithError(err).Debug("failed to send catch-all group delete")
	}

	if n.clear.ClearInstalledFlows != nil {
		n.clear.ClearInstalledFlows()
	}
	if n.clear.ClearExistingGroups != nil {
		n.clear.ClearExistingGroups()
	}
	n.state = StateUpdateFlows
}

// dispatch routes one inbound message according to the current state's
// transition rules, per §4.2.
func (n *negotiator) dispatch(msg Message) {
	switch n.state {
	case StateTLVTableRequested:
		n.onTLVTableRequested(msg)
	case StateTLVTableModSent:
		n.onTLVTableModSent(msg)
	default:
		n.commonReceive(msg)
	}
}

func (n *negotiator) onTLVTableRequested(msg Message) {
	switch m := msg.(type) {
	case *TLVTableReply:
		if m.Xid != n.xid {
			n.commonReceive(msg)
			return
		}
		n.handleTLVTableReply(m)
	case *ErrorMsg:
		if m.Header.Xid != n.xid {
			n.commonReceive(msg)
			return
		}
		logger.WithField("state", n.state.String()).Warn("switch returned error for TLV table request")
		n.fieldID = 0
		n.state = StateClearFlows
	default:
		n.commonReceive(msg)
	}
}

func (n *negotiator) handleTLVTableReply(reply *TLVTableReply) {
	used := make([]bool, MaxSlots)
	for _, e := range reply.Entries {
		if e.OptClass == n.option.Class && e.OptType == n.option.Type && e.OptLen == n.option.Len {
			if int(e.Index) < MaxSlots {
				n.fieldID = BaseTunMetadata + e.Index
				n.state = StateClearFlows
				return
			}
		}
		if int(e.Index) < MaxSlots {
			used[e.Index] = true
		}
	}

	freeIndex := -1
	for i, u := range used {
		if !u {
			freeIndex = i
			break
		}
	}
	if freeIndex < 0 {
		logger.Warn("no free tunnel-metadata slots, disabling Geneve for this cycle")
		n.fieldID = 0
		n.state = StateClearFlows
		return
	}

	n.xid = n.transport.NextXid()
	mod := &TLVTableMod{
		Xid:     n.xid,
		Command: TLVTableModAdd,
		Entries: []TLVMapEntry{{
			OptClass: n.option.Class,
			OptType:  n.option.Type,
			OptLen:   n.option.Len,
			Index:    uint16(freeIndex),
		}},
	}
	if err := n.transport.Send(mod, nil); err != nil {
		logger.WithError(err).Debug("failed to send TLV table mod")
		n.fieldID = 0
		n.state = StateClearFlows
		return
	}

	n.xid2 = n.transport.NextXid()
	barrier := NewBarrierRequest(n.xid2)
	if err := n.transport.Send(barrier, nil); err != nil {
		logger.WithError(err).Debug("failed to send barrier after TLV table mod")
		n.fieldID = 0
		n.state = StateClearFlows
		return
	}

	n.pendingFieldID = BaseTunMetadata + uint16(freeIndex)
	n.state = StateTLVTableModSent
}

func (n *negotiator) onTLVTableModSent(msg Message) {
	switch m := msg.(type) {
	case *ErrorMsg:
		if m.Header.Xid != n.xid {
			n.commonReceive(msg)
			return
		}
		if m.ErrCode == errCodeTLVAlreadyMapped || m.ErrCode == errCodeTLVDupEntry {
			logger.Debug("lost a race to negotiate the TLV slot, retrying")
			n.state = StateNew
			return
		}
		logger.WithFields(map[string]interface{}{"type": m.ErrType, "code": m.ErrCode}).
			Warn("switch rejected TLV table mod")
		n.fieldID = 0
		n.state = StateClearFlows
	case *BarrierReply:
		if m.Header.Xid != n.xid2 {
			n.commonReceive(msg)
			return
		}
		n.fieldID = n.pendingFieldID
		n.state = StateClearFlows
	default:
		n.commonReceive(msg)
	}
}

// commonReceive handles inbound messages that are not replies to an
// in-flight negotiation transaction: echo keepalives are answered, error
// replies to our own earlier flow_mods/group_mods are logged, everything
// else (packet-in, port-status, flow-removed, features-reply) is ignored.
func (n *negotiator) commonReceive(msg Message) {
	switch m := msg.(type) {
	case *EchoRequest:
		reply := NewEchoReply(m.Header.Xid)
		if err := n.transport.Send(reply, nil); err != nil {
			logger.WithError(err).Debug("failed to answer echo request")
		}
	case *ErrorMsg:
		logger.WithFields(map[string]interface{}{"type": m.ErrType, "code": m.ErrCode}).
			Debug("switch returned error for an earlier request")
	case *EchoReply, *opaqueMessage, *BarrierReply:
		// Keepalive replies, ignored-by-design frame types, and stale
		// barrier replies from a prior transaction all land here.
	}
}
