package topology

import (
	"time"

	"github.com/google/uuid"

	"github.com/opentomato/tomato/pkg/connection"
	"github.com/opentomato/tomato/pkg/element"
	"github.com/opentomato/tomato/pkg/permissions"
	"github.com/opentomato/tomato/pkg/registry"
)

// Snapshot is the serializable view of a Topology's full state, used by the
// persistence layer to save and reconstruct an aggregate without exposing
// its unexported fields (the busy latch and element ordering) directly.
type Snapshot struct {
	ID          uuid.UUID
	Name        string
	Site        *string
	Timeout     time.Time
	TimeoutStep TimeoutStep
	Version     int64
	ClientData  map[string]any
	Grants      map[string]permissions.Role

	Elements    []ElementSnapshot
	Connections []ConnectionSnapshot
}

// ElementSnapshot is one element's persisted state, in creation order.
type ElementSnapshot struct {
	ID       uuid.UUID
	Type     string
	State    registry.State
	ParentID *uuid.UUID
	Attrs    map[string]any
}

// ConnectionSnapshot is one connection's persisted state.
type ConnectionSnapshot struct {
	ID       uuid.UUID
	Concept  string
	ElementA uuid.UUID
	ElementB uuid.UUID
}

// Snapshot captures the topology's full current state for persistence.
func (t *Topology) Snapshot() Snapshot {
	snap := Snapshot{
		ID:          t.ID,
		Name:        t.Name,
		Site:        t.Site,
		Timeout:     t.Timeout,
		TimeoutStep: t.TimeoutStep,
		Version:     t.Version,
		ClientData:  t.ClientData,
		Grants:      t.Permissions.Grants(),
	}
	for _, id := range t.elementSeq {
		el := t.Elements[id]
		snap.Elements = append(snap.Elements, ElementSnapshot{
			ID: el.ID, Type: el.Type, State: el.State, ParentID: el.ParentID, Attrs: el.Attrs,
		})
	}
	for id, conn := range t.Connections {
		snap.Connections = append(snap.Connections, ConnectionSnapshot{
			ID: id, Concept: conn.Concept, ElementA: conn.ElementA, ElementB: conn.ElementB,
		})
	}
	return snap
}

// Rehydrate reconstructs a Topology from a Snapshot, reattaching reg so
// compound actions are immediately usable. It bypasses every constructor
// invariant check (role grants, CAP_CHILDREN, connection concepts) since
// the snapshot is assumed to have already satisfied them when it was
// originally built and saved.
func Rehydrate(snap Snapshot, reg *registry.Registry) *Topology {
	t := &Topology{ID: snap.ID, registry: reg}
	t.applySnapshot(snap)
	return t
}

// RefreshFrom folds a newer persisted snapshot into this live instance, so
// a change written by another process (the worker's reaper, a second API
// replica) becomes visible without replacing the instance — and with it
// the busy latch — that in-process callers share. The refresh holds the
// latch itself and is skipped entirely while an action is in flight: a
// mid-action instance is authoritative over anything the row says.
func (t *Topology) RefreshFrom(snap Snapshot) {
	if !t.tryAcquireBusy() {
		return
	}
	defer t.releaseBusy()
	if snap.Version <= t.Version {
		return
	}
	t.applySnapshot(snap)
}

func (t *Topology) applySnapshot(snap Snapshot) {
	t.Name = snap.Name
	t.Site = snap.Site
	t.Timeout = snap.Timeout
	t.TimeoutStep = snap.TimeoutStep
	t.Version = snap.Version
	t.ClientData = snap.ClientData
	if t.ClientData == nil {
		t.ClientData = make(map[string]any)
	}
	t.Permissions = permissions.NewMixin()
	for user, role := range snap.Grants {
		t.Permissions.SetRole(user, role)
	}
	t.Elements = make(map[uuid.UUID]*element.Element, len(snap.Elements))
	t.elementSeq = t.elementSeq[:0]
	for _, es := range snap.Elements {
		t.Elements[es.ID] = &element.Element{
			ID: es.ID, TopologyID: t.ID, Type: es.Type, State: es.State, ParentID: es.ParentID, Attrs: es.Attrs,
		}
		t.elementSeq = append(t.elementSeq, es.ID)
	}
	t.Connections = make(map[uuid.UUID]*connection.Connection, len(snap.Connections))
	for _, cs := range snap.Connections {
		t.Connections[cs.ID] = &connection.Connection{
			ID: cs.ID, TopologyID: t.ID, Concept: cs.Concept, ElementA: cs.ElementA, ElementB: cs.ElementB,
		}
	}
}
