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

// Transport is the reliable, auto-reconnecting OpenFlow 1.3 channel (C1).
// It follows the same shape as contiv/ofnet's vendored MessageStream
// (Godeps/.../shaleman/libOpenflow/util/stream.go): a read pump and a
// write pump, each owning one side of a net.Conn and talking to the rest
// of the core only through channels, so neither Send nor Recv ever
// blocks the caller's event loop on socket I/O. What this adds on top of
// that is the reconnect supervisor itself, built on cenkalti/backoff/v3's
// exponential backoff, plus the connection-generation counter the negotiator
// keys its reset logic off of.

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/contiv/libOpenflow/common"
)

// PacketCounter tracks outstanding (handed to Send but not yet written by
// the write pump) messages and bytes for one logical channel, giving
// callers the back-pressure signal the reconciler consults before it runs.
type PacketCounter struct {
	mu       sync.Mutex
	messages int
	bytes    int
}

func (c *PacketCounter) add(n, b int) {
	c.mu.Lock()
	c.messages += n
	c.bytes += b
	c.mu.Unlock()
}

func (c *PacketCounter) done(n, b int) {
	c.mu.Lock()
	c.messages -= n
	c.bytes -= b
	c.mu.Unlock()
}

// Outstanding returns the number of messages handed to Send that the
// write pump has not yet finished writing to the socket.
func (c *PacketCounter) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages
}

var (
	errNotConnected   = errors.New("ofctrl: transport not connected")
	errSendBufferFull = errors.New("ofctrl: outbound send buffer full")
)

// outboundMsg is one marshaled frame sitting in the outbound queue,
// along with the counter (if any) to release once the write pump has
// actually written it (or discarded it because the connection it was
// queued for went away).
type outboundMsg struct {
	data    []byte
	counter *PacketCounter
}

// connEvent is how the dial supervisor reports a state change back to the
// single goroutine (the caller's event loop, via RunOnce) that is allowed
// to mutate Transport's connection-state fields. This keeps those fields
// free of locking without pretending the socket I/O itself can avoid
// goroutines.
type connEvent struct {
	connected bool
	err       error
}

// Transport implements C1. All of its exported methods except the
// internal pumps are intended to be called from one goroutine (the host
// agent's event loop), matching the single-threaded core model; RunOnce
// is where connection-state changes reported by background pumps are
// applied.
type Transport struct {
	target string

	conn       net.Conn
	connected  bool
	generation uint64
	version    uint8

	inbound  chan Message
	outbound chan outboundMsg
	events   chan connEvent

	// connMu guards conn, which the supervisor goroutine and
	// stopSupervisor (called from the caller's goroutine via
	// Connect/Disconnect) can touch concurrently.
	connMu sync.Mutex

	supervisorCancel chan struct{}
	xid              uint32
}

// NewTransport returns a transport with no target; call Connect to begin
// dialing.
func NewTransport() *Transport {
	return &Transport{
		inbound:  make(chan Message, 256),
		outbound: make(chan outboundMsg, 256),
		events:   make(chan connEvent, 4),
	}
}

// Connect starts (or retargets) the reconnect supervisor. Reconnection
// uses exponential backoff; every successful dial bumps the connection
// generation, which is the negotiator's cue to reset to NEW.
func (t *Transport) Connect(target string) {
	if t.target == target && t.supervisorCancel != nil {
		return
	}
	t.stopSupervisor()
	t.target = target
	t.supervisorCancel = make(chan struct{})
	go t.superviseConnection(target, t.supervisorCancel)
}

// Disconnect tears down the current connection (if any) and stops
// reconnecting until Connect is called again.
func (t *Transport) Disconnect() {
	t.stopSupervisor()
	t.target = ""
	t.connected = false
}

func (t *Transport) stopSupervisor() {
	if t.supervisorCancel != nil {
		close(t.supervisorCancel)
		t.supervisorCancel = nil
	}
	t.connMu.Lock()
	conn := t.conn
	t.conn = nil
	t.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// superviseConnection dials target with backoff until cancel fires,
// starting fresh read/write pumps on every successful dial and blocking
// until that connection drops before retrying.
func (t *Transport) superviseConnection(target string, cancel chan struct{}) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second
	for {
		select {
		case <-cancel:
			return
		default:
		}

		conn, err := dialTarget(target)
		if err != nil {
			wait := b.NextBackOff()
			select {
			case <-cancel:
				return
			case <-time.After(wait):
				continue
			}
		}
		b.Reset()

		done := make(chan struct{})
		select {
		case t.events <- connEvent{connected: true}:
		case <-cancel:
			conn.Close()
			return
		}
		t.runPumps(conn, done, cancel)
		close(done)

		select {
		case t.events <- connEvent{connected: false}:
		case <-cancel:
			return
		}
	}
}

func dialTarget(target string) (net.Conn, error) {
	if strings.HasPrefix(target, "unix:") {
		return net.Dial("unix", strings.TrimPrefix(target, "unix:"))
	}
	if strings.HasPrefix(target, "tcp:") {
		return net.Dial("tcp", strings.TrimPrefix(target, "tcp:"))
	}
	return net.Dial("tcp", target)
}

// runPumps owns conn for its lifetime: it starts the read pump and the
// write pump and blocks until one of them fails or cancel fires, then
// tears both down. Any outbound messages still sitting in the queue once
// this connection is gone are discarded (their counters released) rather
// than carried over to the next connection: per the transport-
// disconnection error policy, a reconnect drops in-flight xids, and a
// flow_mod queued for a dead connection would be replayed with a xid the
// new negotiation cycle no longer recognizes.
func (t *Transport) runPumps(conn net.Conn, done, cancel chan struct{}) {
	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()

	readErr := make(chan error, 1)
	go readPump(conn, t.inbound, done, readErr)

	writeStop := make(chan struct{})
	go writePump(conn, t.outbound, writeStop)

	select {
	case <-readErr:
	case <-cancel:
	}
	close(writeStop)
	conn.Close()

	t.connMu.Lock()
	t.conn = nil
	t.connMu.Unlock()

	drainOutbound(t.outbound)
}

// writePump drains outbound and writes each frame to conn until stop
// fires. It is the mirror of readPump: the only goroutine allowed to
// touch conn for writing, so Send itself never blocks on socket I/O.
func writePump(conn net.Conn, outbound chan outboundMsg, stop chan struct{}) {
	for {
		select {
		case m := <-outbound:
			if _, err := conn.Write(m.data); err != nil {
				logger.WithError(err).Debug("failed to write outbound OpenFlow frame")
			}
			if m.counter != nil {
				m.counter.done(1, len(m.data))
			}
		case <-stop:
			return
		}
	}
}

// drainOutbound discards every message currently queued, releasing its
// counter. Called once a connection is gone, so a stale frame never gets
// written to whatever connection comes next.
func drainOutbound(outbound chan outboundMsg) {
	for {
		select {
		case m := <-outbound:
			if m.counter != nil {
				m.counter.done(1, len(m.data))
			}
		default:
			return
		}
	}
}

func readPump(conn net.Conn, inbound chan Message, done chan struct{}, errOut chan error) {
	r := bufio.NewReader(conn)

	for {
		hdrBuf := make([]byte, 8)
		if _, err := io.ReadFull(r, hdrBuf); err != nil {
			errOut <- err
			return
		}
		length := binary.BigEndian.Uint16(hdrBuf[2:4])
		if length < 8 {
			errOut <- errors.New("ofctrl: short OpenFlow header length")
			return
		}
		body := make([]byte, int(length)-8)
		if len(body) > 0 {
			if _, err := io.ReadFull(r, body); err != nil {
				errOut <- err
				return
			}
		}
		raw := append(hdrBuf, body...)
		msg, err := decodeMessage(raw)
		if err != nil {
			logDecodeWarn(err)
			continue
		}
		select {
		case inbound <- msg:
		case <-done:
			return
		}
	}
}

// IsConnected reports whether the transport currently has a live socket.
func (t *Transport) IsConnected() bool { return t.connected }

// ConnectionGeneration returns the number of times a fresh connection has
// been established. The negotiator resets to NEW whenever this changes.
func (t *Transport) ConnectionGeneration() uint64 { return t.generation }

// ProtocolVersion returns the OpenFlow version in use: 0x04 (OpenFlow 1.3)
// once a connection has been established, 0 before the first one. No
// Hello exchange is performed to negotiate it.
func (t *Transport) ProtocolVersion() uint8 { return t.version }

// CurrentTarget returns the target last passed to Connect.
func (t *Transport) CurrentTarget() string { return t.target }

// RunOnce applies any connection-state transitions reported by the dial
// supervisor and read pump since the last call. It stops after applying a
// disconnect, so a loss is visible through IsConnected for at least one
// tick even when the supervisor has already redialed; the reconnect is
// applied on the next call. It must be called once per event-loop tick;
// it never blocks.
func (t *Transport) RunOnce() {
	for {
		select {
		case ev := <-t.events:
			if ev.connected {
				t.connected = true
				t.generation++
				t.version = 4
			} else {
				t.connected = false
				return
			}
		default:
			return
		}
	}
}

// Send marshals msg and enqueues it on the outbound queue for the write
// pump, returning immediately without waiting on socket I/O. counter, if
// non-nil, is incremented now and decremented once the write pump has
// written the frame (or discarded it because the connection died first).
// If the queue is full, the message is dropped and counter is not
// touched — the caller sees this as an ordinary send error, the same way
// it would see errNotConnected.
func (t *Transport) Send(msg Message, counter *PacketCounter) error {
	if !t.connected {
		return errNotConnected
	}
	data, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	if counter != nil {
		counter.add(1, len(data))
	}
	select {
	case t.outbound <- outboundMsg{data: data, counter: counter}:
		return nil
	default:
		if counter != nil {
			counter.done(1, len(data))
		}
		return errSendBufferFull
	}
}

// Recv returns the next inbound message without blocking.
func (t *Transport) Recv() (Message, bool) {
	select {
	case msg := <-t.inbound:
		return msg, true
	default:
		return nil, false
	}
}

// NextXid returns a fresh transaction id, monotonically increasing for
// the lifetime of this transport.
func (t *Transport) NextXid() uint32 {
	t.xid++
	return t.xid
}

// decodeMessage dispatches a raw, length-prefixed OpenFlow frame (header
// included) to a concrete message type by its header Type field, falling
// back to an opaque passthrough for message types this core only ever
// ignores (packet-in, port-status, flow-removed, features-reply, ...).
func decodeMessage(raw []byte) (Message, error) {
	if len(raw) < 8 {
		return nil, errors.New("ofctrl: frame shorter than OpenFlow header")
	}
	msgType := raw[1]

	switch msgType {
	case typeHello:
		m := &common.Hello{}
		if err := m.UnmarshalBinary(raw); err != nil {
			return nil, err
		}
		return m, nil
	case typeEchoRequest:
		m := &EchoRequest{}
		return m, m.UnmarshalBinary(raw)
	case typeEchoReply:
		m := &EchoReply{}
		return m, m.UnmarshalBinary(raw)
	case typeError:
		m := &ErrorMsg{}
		return m, m.UnmarshalBinary(raw)
	case typeBarrierReply:
		m := &BarrierReply{}
		return m, m.UnmarshalBinary(raw)
	case typeExperimenter:
		return decodeExperimenter(raw)
	default:
		return &opaqueMessage{msgType: msgType, raw: append([]byte{}, raw...)}, nil
	}
}

func decodeExperimenter(raw []byte) (Message, error) {
	if len(raw) < 16 {
		return nil, errors.New("ofctrl: short experimenter message")
	}
	expID := binary.BigEndian.Uint32(raw[8:12])
	subtype := binary.BigEndian.Uint32(raw[12:16])
	if expID != nxExperimenterID {
		return &opaqueMessage{msgType: typeExperimenter, raw: append([]byte{}, raw...)}, nil
	}
	switch subtype {
	case nxtTLVTableReply:
		m := &TLVTableReply{}
		return m, m.UnmarshalBinary(raw)
	case nxtTLVTableRequest:
		m := &TLVTableRequest{}
		return m, m.UnmarshalBinary(raw)
	case nxtTLVTableMod:
		m := &TLVTableMod{}
		return m, m.UnmarshalBinary(raw)
	default:
		return &opaqueMessage{msgType: typeExperimenter, raw: append([]byte{}, raw...)}, nil
	}
}

// opaqueMessage carries a raw inbound frame this core recognizes by type
// but has no reason to decode further. xid returns the frame's own
// transaction id.
type opaqueMessage struct {
	msgType uint8
	raw     []byte
}

func (m *opaqueMessage) Len() uint16                    { return uint16(len(m.raw)) }
func (m *opaqueMessage) MarshalBinary() ([]byte, error) { return m.raw, nil }
func (m *opaqueMessage) UnmarshalBinary(d []byte) error { m.raw = d; return nil }

func (m *opaqueMessage) xid() uint32 {
	if len(m.raw) < 8 {
		return 0
	}
	return binary.BigEndian.Uint32(m.raw[4:8])
}
