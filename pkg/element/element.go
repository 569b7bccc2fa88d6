// Package element implements the per-type state machine shared by every
// virtual network component a topology can hold: the created/prepared/
// started lifecycle, attribute mutation gated by CAP_ATTRS, and the
// parent/child coupling that lets an interface mirror its owning device.
package element

import (
	"github.com/google/uuid"

	"github.com/opentomato/tomato/pkg/apierr"
	"github.com/opentomato/tomato/pkg/registry"
)

// Element is one virtual component inside a topology: a VM, a container, a
// tunnel endpoint, or an interface slaved to one of those.
type Element struct {
	ID         uuid.UUID
	TopologyID uuid.UUID
	Type       string
	State      registry.State
	ParentID   *uuid.UUID
	Attrs      map[string]any
}

// New constructs an Element in its type's initial state (always "created"),
// validated against desc.
func New(id, topologyID uuid.UUID, desc registry.Descriptor, parentID *uuid.UUID, attrs map[string]any) (*Element, error) {
	if !desc.AllowsState(registry.StateCreated) {
		return nil, apierr.New(apierr.Internal, "type does not support the created state")
	}
	if parentID != nil && len(desc.Parent) == 0 {
		return nil, apierr.New(apierr.InvalidValue, "type does not accept a parent")
	}
	if parentID == nil && len(desc.Parent) > 0 {
		return nil, apierr.New(apierr.InvalidValue, "type requires a parent")
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if !desc.MutableIn(k, registry.StateCreated) {
			return nil, apierr.New(apierr.UnsupportedAttribute, "attribute "+k+" is not settable at creation")
		}
		out[k] = v
	}
	return &Element{
		ID:         id,
		TopologyID: topologyID,
		Type:       desc.Type,
		State:      registry.StateCreated,
		ParentID:   parentID,
		Attrs:      out,
	}, nil
}

// CheckAction reports whether action may be invoked on this element given
// desc's CAP_ACTIONS table, returning an apierr on refusal.
func (e *Element) CheckAction(desc registry.Descriptor, action registry.Action) error {
	if desc.Type != e.Type {
		return apierr.New(apierr.Internal, "descriptor type mismatch")
	}
	if !desc.AllowsAction(action, e.State) {
		return apierr.New(apierr.InvalidValue, "action "+string(action)+" is not valid from state "+string(e.State))
	}
	return nil
}

// Apply transitions the element to the next state for action, per desc's
// CAP_NEXT_STATE table. It does not itself drive any host-side side effect;
// callers invoke the driver first and call Apply only after the driver
// reports success.
func (e *Element) Apply(desc registry.Descriptor, action registry.Action) error {
	if err := e.CheckAction(desc, action); err != nil {
		return err
	}
	if action == registry.RemoveAction {
		return nil
	}
	next, ok := desc.NextState[action]
	if !ok {
		return apierr.New(apierr.Internal, "action "+string(action)+" has no defined next state")
	}
	e.State = next
	return nil
}

// CascadeState force-sets the element's state to match a parent's current
// state. It is used by the topology layer to mirror an interface's state
// to its owning device on every device transition, bypassing the normal
// action-capability check since this is a direct mirror rather than an
// invoked action.
func (e *Element) CascadeState(desc registry.Descriptor, s registry.State) {
	if desc.AllowsState(s) {
		e.State = s
	}
}

// SetAttr validates and applies an attribute modification against desc's
// CAP_ATTRS table for the element's current state.
func (e *Element) SetAttr(desc registry.Descriptor, name string, value any) error {
	if !desc.MutableIn(name, e.State) {
		return apierr.New(apierr.UnsupportedAttribute, "attribute "+name+" is not modifiable in state "+string(e.State))
	}
	if e.Attrs == nil {
		e.Attrs = make(map[string]any)
	}
	e.Attrs[name] = value
	return nil
}

// CheckRemove reports whether the element may be removed given desc's
// REMOVE_ACTION entry.
func (e *Element) CheckRemove(desc registry.Descriptor) error {
	return e.CheckAction(desc, registry.RemoveAction)
}
