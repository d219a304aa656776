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

// Controller is the external interface named in §6: it is what the
// enclosing agent's event loop and rule-compiler call into. Internally
// it is just the wiring between the four other components — Transport,
// negotiator, FlowStore/GroupStore, Reconciler — following the same
// "thin switch-level object composing smaller collaborators" shape as
// contiv/ofnet's OFSwitch, which composes a MessageStream and an fgraph
// of tables behind a handful of public methods.

import (
	"github.com/google/uuid"
)

// xidSettable is implemented by the outbound message types the
// reconciler builds with a placeholder xid of 0; Controller assigns a
// real one immediately before handing the message to the transport.
type xidSettable interface {
	SetXid(uint32)
}

// Controller owns one switch connection end to end: negotiation, the
// desired/installed flow and group stores, and reconciliation.
type Controller struct {
	transport   *Transport
	negotiator  *negotiator
	reconciler  *Reconciler
	desired     *FlowStore
	groups      *GroupStore
	outstanding PacketCounter
}

// NewController returns a Controller configured to negotiate for opt
// once connected. Init() still needs to be called before Run.
func NewController(opt GeneveOption) *Controller {
	c := &Controller{
		transport:  NewTransport(),
		reconciler: NewReconciler(),
		desired:    NewFlowStore(),
		groups:     NewGroupStore(),
	}
	c.negotiator = newNegotiator(c.transport, opt, ClearCallbacks{
		ClearInstalledFlows: c.reconciler.ClearInstalled,
		ClearExistingGroups: func() { c.groups.Clear(Existing) },
	})
	return c
}

// Init is a no-op placeholder matching the event-loop interface named in
// §6 (init/destroy/run/wait/put); this core allocates all its state
// eagerly in NewController and has nothing further to do on init.
func (c *Controller) Init() {}

// Destroy releases the transport connection. The desired/installed
// stores are left for garbage collection along with the Controller
// itself.
func (c *Controller) Destroy() {
	c.transport.Disconnect()
}

// Run advances C1/C2 by one tick and returns the negotiated tunnel-
// metadata field id (0 if absent or not yet negotiated). An empty
// bridgeIdentity disconnects the transport and returns 0, mirroring
// calling ofctrl_run(NULL) to tear down without a target.
func (c *Controller) Run(bridgeIdentity string) uint16 {
	if bridgeIdentity == "" {
		c.transport.Disconnect()
		return 0
	}
	if c.transport.CurrentTarget() != bridgeIdentity {
		c.transport.Connect(bridgeIdentity)
	}
	c.transport.RunOnce()
	return c.negotiator.run()
}

// Wait is a no-op placeholder: this core has no native readiness
// primitive of its own to register on (see §6's note that the
// environment surface is owned by the enclosing agent). It exists so
// Controller's method set matches the init/destroy/run/wait/put
// interface named there.
func (c *Controller) Wait() {}

// Put runs the reconciler against the controller's own desired/existing
// group store (populated by producers via Groups().InsertDesired before
// this is called), subject to the negotiator having reached UPDATE_FLOWS
// and the channel having no outstanding messages (back-pressure). It
// always consumes the desired group set — moving matched entries into
// existing, or at minimum draining it — per §4.5.
func (c *Controller) Put() {
	eligible := c.negotiator.state == StateUpdateFlows && c.outstanding.Outstanding() == 0
	c.reconciler.Put(eligible, c.desired, c.groups, c.sendReconciled)
}

func (c *Controller) sendReconciled(msg Message) {
	if settable, ok := msg.(xidSettable); ok {
		settable.SetXid(c.transport.NextXid())
	}
	if err := c.transport.Send(msg, &c.outstanding); err != nil {
		logger.WithError(err).Debug("failed to send reconciliation message")
	}
}

// AddFlow is the producer-facing API named in §6.
func (c *Controller) AddFlow(tableID uint8, priority uint16, match Match, actions []byte, owner uuid.UUID) {
	c.desired.AddFlow(tableID, priority, match, actions, owner)
}

// RemoveFlows is the producer-facing API named in §6.
func (c *Controller) RemoveFlows(owner uuid.UUID) {
	c.desired.RemoveFlows(owner)
}

// SetFlow is the producer-facing API named in §6.
func (c *Controller) SetFlow(tableID uint8, priority uint16, match Match, actions []byte, owner uuid.UUID) {
	c.desired.SetFlow(tableID, priority, match, actions, owner)
}

// Groups exposes the controller's own desired/existing group store for
// callers that build it up across a cycle (insert_desired etc.) before
// handing it to Put. Exposed directly rather than proxied method-by-
// method since §4.4's group store operations are already a small,
// self-contained API.
func (c *Controller) Groups() *GroupStore { return c.groups }
