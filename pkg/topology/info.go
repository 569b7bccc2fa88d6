package topology

import (
	"time"

	"github.com/google/uuid"

	"github.com/opentomato/tomato/pkg/permissions"
	"github.com/opentomato/tomato/pkg/registry"
	"github.com/opentomato/tomato/pkg/usage"
)

// ElementInfo is one element's rendered view.
type ElementInfo struct {
	ID       uuid.UUID
	Type     string
	State    registry.State
	ParentID *uuid.UUID
	Attrs    map[string]any
}

// ConnectionInfo is one connection's rendered view.
type ConnectionInfo struct {
	ID       uuid.UUID
	Concept  string
	ElementA uuid.UUID
	ElementB uuid.UUID
}

// Info is the rendered snapshot of a topology, shaped by the full flag: the
// opaque form lists only element/connection ids, while the full form
// nests their type, state and attributes.
type Info struct {
	ID          uuid.UUID
	Name        string
	Site        *string
	TimeoutStep TimeoutStep
	// Timeout is the deadline as seconds since the Unix epoch.
	Timeout  float64
	StateMax registry.State
	Permissions map[string]permissions.Role
	ClientData  map[string]any

	// Usage is the topology's latest 5-minute totalUsage record. Info
	// itself has no persistence access, so this is always left nil here;
	// a caller with a usage store fills it in before serializing the
	// response.
	Usage *usage.Record

	ElementIDs    []uuid.UUID
	ConnectionIDs []uuid.UUID
	Elements      []ElementInfo
	Connections   []ConnectionInfo
}

// Info renders the topology. ClientData and StateMax are always populated.
// When full is false, Elements/Connections are left nil and only the id
// lists are populated — the opaque view callers use for lightweight
// listings. When full is true, the id lists are left nil and the nested
// views are populated instead.
func (t *Topology) Info(full bool) Info {
	info := Info{
		ID:          t.ID,
		Name:        t.Name,
		Site:        t.Site,
		TimeoutStep: t.TimeoutStep,
		Timeout:     float64(t.Timeout.UnixNano()) / float64(time.Second),
		StateMax:    t.MaxState(),
		Permissions: t.Permissions.Grants(),
		ClientData:  reprefix(t.ClientData),
	}

	if !full {
		info.ElementIDs = append([]uuid.UUID{}, t.elementSeq...)
		for id := range t.Connections {
			info.ConnectionIDs = append(info.ConnectionIDs, id)
		}
		return info
	}

	for _, id := range t.elementSeq {
		el := t.Elements[id]
		info.Elements = append(info.Elements, ElementInfo{
			ID:       el.ID,
			Type:     el.Type,
			State:    el.State,
			ParentID: el.ParentID,
			Attrs:    el.Attrs,
		})
	}
	for id, conn := range t.Connections {
		info.Connections = append(info.Connections, ConnectionInfo{
			ID:       id,
			Concept:  conn.Concept,
			ElementA: conn.ElementA,
			ElementB: conn.ElementB,
		})
	}
	return info
}

func reprefix(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out["_"+k] = v
	}
	return out
}
