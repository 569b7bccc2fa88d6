// Package connection implements the Connection model joining exactly two
// interface-capable Elements under a shared concept.
package connection

import (
	"github.com/google/uuid"

	"github.com/opentomato/tomato/pkg/apierr"
	"github.com/opentomato/tomato/pkg/registry"
)

// Connection links two Elements that both support the same connection
// concept (invariant C1). Endpoints are unordered but stored as A/B for
// deterministic rendering.
type Connection struct {
	ID         uuid.UUID
	TopologyID uuid.UUID
	Concept    string
	ElementA   uuid.UUID
	ElementB   uuid.UUID
	Attrs      map[string]any
}

// EndpointInfo is the minimal view Connection construction needs of a
// candidate endpoint element: its id and its type descriptor. Whether the
// element already takes part in a connection (C2) is answered by the
// existing func passed to New.
type EndpointInfo struct {
	ElementID uuid.UUID
	Type      registry.Descriptor
}

// New builds a Connection joining a and b under concept, after checking both
// endpoints support the concept (C1) and neither already participates in
// another connection (C2, checked by the caller via existing).
func New(id, topologyID uuid.UUID, concept string, a, b EndpointInfo, existing func(elementID uuid.UUID) bool) (*Connection, error) {
	if a.ElementID == b.ElementID {
		return nil, apierr.New(apierr.InvalidValue, "a connection's two endpoints must be distinct elements")
	}
	if !a.Type.SupportsConcept(concept) || !b.Type.SupportsConcept(concept) {
		return nil, apierr.New(apierr.InvalidValue, "both endpoints must support the "+concept+" concept")
	}
	if existing(a.ElementID) {
		return nil, apierr.New(apierr.InvalidValue, "element already participates in a connection")
	}
	if existing(b.ElementID) {
		return nil, apierr.New(apierr.InvalidValue, "element already participates in a connection")
	}
	return &Connection{
		ID:         id,
		TopologyID: topologyID,
		Concept:    concept,
		ElementA:   a.ElementID,
		ElementB:   b.ElementID,
		Attrs:      map[string]any{},
	}, nil
}

// Endpoints returns both endpoint element ids.
func (c *Connection) Endpoints() [2]uuid.UUID {
	return [2]uuid.UUID{c.ElementA, c.ElementB}
}

// Other returns the endpoint on the opposite side of elementID, or the zero
// UUID if elementID is not one of this connection's endpoints.
func (c *Connection) Other(elementID uuid.UUID) uuid.UUID {
	switch elementID {
	case c.ElementA:
		return c.ElementB
	case c.ElementB:
		return c.ElementA
	default:
		return uuid.UUID{}
	}
}
