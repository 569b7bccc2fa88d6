package topology

import (
	"time"

	"github.com/google/uuid"

	"github.com/opentomato/tomato/pkg/apierr"
	"github.com/opentomato/tomato/pkg/orchestrator"
	"github.com/opentomato/tomato/pkg/permissions"
	"github.com/opentomato/tomato/pkg/registry"
)

// interfaceTypes are the "*_interface" style elements whose state is
// always cascaded directly from a parent rather than driven by their own
// action calls.
var interfaceTypes = []string{"kvmqm_interface", "openvz_interface", "repy_interface"}

// The four compound-action specs, grounded exactly on the original
// engine's typeOrder/typesExclude tables: a device-first order for
// prepare/stop, a link-first order for start/destroy, and external-network
// elements excluded from prepare/destroy (they have no prepared state)
// while their attachment endpoints are always excluded from direct
// invocation since their lifecycle is cascaded from their external_network
// parent.
func prepareSpec() orchestrator.Spec {
	return orchestrator.Spec{
		Action:       registry.ActionPrepare,
		StateFilter:  func(s registry.State) bool { return s == registry.StateCreated },
		TypeOrder:    []string{"kvmqm", "openvz", "repy", "tinc_vpn", "udp_endpoint"},
		TypesExclude: append(append([]string{}, interfaceTypes...), "external_network", "external_network_endpoint"),
	}
}

func destroySpec() orchestrator.Spec {
	return orchestrator.Spec{
		Action:       registry.ActionDestroy,
		StateFilter:  func(s registry.State) bool { return s == registry.StatePrepared },
		TypeOrder:    []string{"tinc_vpn", "udp_endpoint", "kvmqm", "openvz", "repy"},
		TypesExclude: append(append([]string{}, interfaceTypes...), "external_network", "external_network_endpoint"),
	}
}

func startSpec() orchestrator.Spec {
	return orchestrator.Spec{
		Action:       registry.ActionStart,
		StateFilter:  func(s registry.State) bool { return s != registry.StateStarted },
		TypeOrder:    []string{"tinc_vpn", "udp_endpoint", "external_network", "kvmqm", "openvz", "repy"},
		TypesExclude: append(append([]string{}, interfaceTypes...), "external_network_endpoint"),
	}
}

func stopSpec() orchestrator.Spec {
	return orchestrator.Spec{
		Action:       registry.ActionStop,
		StateFilter:  func(s registry.State) bool { return s == registry.StateStarted },
		TypeOrder:    []string{"kvmqm", "openvz", "repy", "tinc_vpn", "udp_endpoint", "external_network"},
		TypesExclude: append(append([]string{}, interfaceTypes...), "external_network_endpoint"),
	}
}

// compoundAction drives spec across every live element. The orchestrator.
// Element views handed to Run read straight through to t.Elements on every
// call, so State() always reflects an element's current state — including
// any cascade applyAction triggered earlier in the same pass — never a
// value snapshotted at the start of the action.
func (t *Topology) compoundAction(spec orchestrator.Spec) error {
	return orchestrator.Run(t.liveElements(), spec, t.applyAction)
}

// liveElements returns orchestrator.Element views backed directly by live
// *element.Element pointers.
func (t *Topology) liveElements() []orchestrator.Element {
	out := make([]orchestrator.Element, 0, len(t.elementSeq))
	for _, id := range t.elementSeq {
		if el, ok := t.Elements[id]; ok {
			out = append(out, liveElementView{topology: t, id: el.ID})
		}
	}
	return out
}

type liveElementView struct {
	topology *Topology
	id       uuid.UUID
}

func (v liveElementView) ID() uuid.UUID { return v.id }
func (v liveElementView) Type() string {
	return v.topology.Elements[v.id].Type
}
func (v liveElementView) State() registry.State {
	el, ok := v.topology.Elements[v.id]
	if !ok {
		return registry.StateCreated
	}
	return el.State
}

// applyAction runs one orchestrator step against the real element: it
// validates and applies the state transition, then cascades the new state
// to every child whose lifecycle is slaved to this element (its
// "*_interface" or "*_endpoint" children).
func (t *Topology) applyAction(view orchestrator.Element, action registry.Action) error {
	el, ok := t.Elements[view.ID()]
	if !ok {
		return apierr.New(apierr.NotFound, "element no longer exists")
	}
	desc, ok := t.registry.Lookup(el.Type)
	if !ok {
		return apierr.New(apierr.Internal, "unknown element type "+el.Type)
	}
	if err := el.Apply(desc, action); err != nil {
		return err
	}
	for _, child := range t.Elements {
		if child.ParentID == nil || *child.ParentID != el.ID {
			continue
		}
		childDesc, ok := t.registry.Lookup(child.Type)
		if !ok {
			continue
		}
		child.CascadeState(childDesc, el.State)
	}
	return nil
}

// requireActionRole enforces the manager-role rule shared by every compound
// action (each caller takes the busy latch itself), and additionally refuses start/prepare once the
// topology's deadline has already passed (a lapsed topology may still be
// stopped or destroyed, just never (re)started).
func (t *Topology) requireActionRole(caller string, isAdmin bool, enforceTimeout bool) error {
	if err := t.Permissions.RequireRole(caller, isAdmin, permissions.RoleManager); err != nil {
		return err
	}
	if enforceTimeout && !t.Timeout.After(nowFunc()) {
		return apierr.New(apierr.TimedOut, "topology timeout has already elapsed")
	}
	return nil
}

// nowFunc is indirected so tests can simulate an elapsed deadline without
// sleeping.
var nowFunc = time.Now

// ActionPrepare runs the prepare compound action: every created element
// moves to prepared.
func (t *Topology) ActionPrepare(caller string, isAdmin bool) error {
	if err := t.requireActionRole(caller, isAdmin, true); err != nil {
		return err
	}
	if !t.tryAcquireBusy() {
		return apierr.New(apierr.Busy, "topology is busy")
	}
	defer t.releaseBusy()
	return t.compoundAction(prepareSpec())
}

// ActionStart prepares the topology first, then runs the start compound
// action: every element not yet started is brought up, in a link-then-
// device order.
func (t *Topology) ActionStart(caller string, isAdmin bool) error {
	if err := t.requireActionRole(caller, isAdmin, true); err != nil {
		return err
	}
	if !t.tryAcquireBusy() {
		return apierr.New(apierr.Busy, "topology is busy")
	}
	defer t.releaseBusy()
	if err := t.compoundAction(prepareSpec()); err != nil {
		return err
	}
	return t.compoundAction(startSpec())
}

// ActionStop runs the stop compound action: every started element returns
// to prepared.
func (t *Topology) ActionStop(caller string, isAdmin bool) error {
	if err := t.requireActionRole(caller, isAdmin, false); err != nil {
		return err
	}
	if !t.tryAcquireBusy() {
		return apierr.New(apierr.Busy, "topology is busy")
	}
	defer t.releaseBusy()
	return t.compoundAction(stopSpec())
}

// ActionDestroy stops the topology first, then runs the destroy compound
// action: every prepared element returns to created.
func (t *Topology) ActionDestroy(caller string, isAdmin bool) error {
	if err := t.requireActionRole(caller, isAdmin, false); err != nil {
		return err
	}
	if !t.tryAcquireBusy() {
		return apierr.New(apierr.Busy, "topology is busy")
	}
	defer t.releaseBusy()
	if err := t.compoundAction(stopSpec()); err != nil {
		return err
	}
	return t.compoundAction(destroySpec())
}
