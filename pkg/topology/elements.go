package topology

import (
	"github.com/google/uuid"

	"github.com/opentomato/tomato/pkg/apierr"
	"github.com/opentomato/tomato/pkg/connection"
	"github.com/opentomato/tomato/pkg/element"
	"github.com/opentomato/tomato/pkg/permissions"
)

// CreateElement adds a new element of typ to the topology. If parentID is
// given, the parent must exist and accept typ as a child in its current
// state; the new child then immediately inherits the parent's current
// state rather than always starting at created, so that attaching an
// interface to an already-prepared or already-started device doesn't
// leave it stranded behind.
func (t *Topology) CreateElement(caller string, isAdmin bool, typ string, parentID *uuid.UUID, attrs map[string]any) (*element.Element, error) {
	if err := t.Permissions.RequireRole(caller, isAdmin, permissions.RoleManager); err != nil {
		return nil, err
	}
	if !t.tryAcquireBusy() {
		return nil, apierr.New(apierr.Busy, "topology is busy")
	}
	defer t.releaseBusy()

	desc, ok := t.registry.Lookup(typ)
	if !ok {
		return nil, apierr.New(apierr.InvalidValue, "unknown element type "+typ)
	}

	var parent *element.Element
	if parentID != nil {
		p, ok := t.Elements[*parentID]
		if !ok {
			return nil, apierr.New(apierr.NotFound, "parent element does not exist")
		}
		parentDesc, ok := t.registry.Lookup(p.Type)
		if !ok {
			return nil, apierr.New(apierr.Internal, "unknown parent element type "+p.Type)
		}
		if !parentDesc.AllowsChild(typ, p.State) {
			return nil, apierr.New(apierr.InvalidValue, "parent does not accept a "+typ+" child in state "+string(p.State))
		}
		parent = p
	}

	el, err := element.New(uuid.New(), t.ID, desc, parentID, attrs)
	if err != nil {
		return nil, err
	}
	if parent != nil {
		el.CascadeState(desc, parent.State)
	}

	t.Elements[el.ID] = el
	t.elementSeq = append(t.elementSeq, el.ID)
	return el, nil
}

// ModifyElement applies attribute changes to an existing element, gated on
// CAP_ATTRS for its current state.
func (t *Topology) ModifyElement(caller string, isAdmin bool, elementID uuid.UUID, attrs map[string]any) error {
	if err := t.Permissions.RequireRole(caller, isAdmin, permissions.RoleManager); err != nil {
		return err
	}
	if !t.tryAcquireBusy() {
		return apierr.New(apierr.Busy, "topology is busy")
	}
	defer t.releaseBusy()
	el, ok := t.Elements[elementID]
	if !ok {
		return apierr.New(apierr.NotFound, "element does not exist")
	}
	desc, ok := t.registry.Lookup(el.Type)
	if !ok {
		return apierr.New(apierr.Internal, "unknown element type "+el.Type)
	}
	for name, value := range attrs {
		if err := el.SetAttr(desc, name, value); err != nil {
			return err
		}
	}
	return nil
}

// RemoveElement removes a single element outside of a whole-topology
// removal, refusing if the element's children still exist or its own
// REMOVE_ACTION isn't valid from its current state.
func (t *Topology) RemoveElement(caller string, isAdmin bool, elementID uuid.UUID) error {
	if err := t.Permissions.RequireRole(caller, isAdmin, permissions.RoleManager); err != nil {
		return err
	}
	if !t.tryAcquireBusy() {
		return apierr.New(apierr.Busy, "topology is busy")
	}
	defer t.releaseBusy()
	el, ok := t.Elements[elementID]
	if !ok {
		return apierr.New(apierr.NotFound, "element does not exist")
	}
	for _, child := range t.Elements {
		if child.ParentID != nil && *child.ParentID == elementID {
			return apierr.New(apierr.NotEmpty, "element still has children")
		}
	}
	for _, conn := range t.Connections {
		if conn.ElementA == elementID || conn.ElementB == elementID {
			return apierr.New(apierr.NotEmpty, "element still participates in a connection")
		}
	}
	desc, ok := t.registry.Lookup(el.Type)
	if !ok {
		return apierr.New(apierr.Internal, "unknown element type "+el.Type)
	}
	if err := el.CheckRemove(desc); err != nil {
		return err
	}
	delete(t.Elements, elementID)
	for i, id := range t.elementSeq {
		if id == elementID {
			t.elementSeq = append(t.elementSeq[:i], t.elementSeq[i+1:]...)
			break
		}
	}
	return nil
}

// CreateConnection joins two existing elements under concept, after
// checking both support it (C1) and neither already participates in
// another connection (C2).
func (t *Topology) CreateConnection(caller string, isAdmin bool, concept string, elementA, elementB uuid.UUID) (*connection.Connection, error) {
	if err := t.Permissions.RequireRole(caller, isAdmin, permissions.RoleManager); err != nil {
		return nil, err
	}
	if !t.tryAcquireBusy() {
		return nil, apierr.New(apierr.Busy, "topology is busy")
	}
	defer t.releaseBusy()

	a, ok := t.Elements[elementA]
	if !ok {
		return nil, apierr.New(apierr.NotFound, "element A does not exist")
	}
	b, ok := t.Elements[elementB]
	if !ok {
		return nil, apierr.New(apierr.NotFound, "element B does not exist")
	}
	descA, ok := t.registry.Lookup(a.Type)
	if !ok {
		return nil, apierr.New(apierr.Internal, "unknown element type "+a.Type)
	}
	descB, ok := t.registry.Lookup(b.Type)
	if !ok {
		return nil, apierr.New(apierr.Internal, "unknown element type "+b.Type)
	}

	existing := func(id uuid.UUID) bool {
		for _, c := range t.Connections {
			if c.ElementA == id || c.ElementB == id {
				return true
			}
		}
		return false
	}

	conn, err := connection.New(uuid.New(), t.ID, concept,
		connection.EndpointInfo{ElementID: elementA, Type: descA},
		connection.EndpointInfo{ElementID: elementB, Type: descB},
		existing)
	if err != nil {
		return nil, err
	}
	t.Connections[conn.ID] = conn
	return conn, nil
}

// AccountedOwners returns every element and connection id currently held by
// the topology, the per-topology owner set db.OwnerLister groups into a
// usage.TopologyAccount for the sampler.
func (t *Topology) AccountedOwners() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(t.Elements)+len(t.Connections))
	out = append(out, t.elementSeq...)
	for id := range t.Connections {
		out = append(out, id)
	}
	return out
}
