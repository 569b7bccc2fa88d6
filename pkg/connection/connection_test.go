package connection

import (
	"testing"

	"github.com/google/uuid"

	"github.com/opentomato/tomato/pkg/apierr"
	"github.com/opentomato/tomato/pkg/registry"
)

func ifaceDescriptor() registry.Descriptor {
	return registry.Descriptor{Type: "openvz_interface", ConnectionConcepts: []string{"interface"}}
}

func deviceDescriptor() registry.Descriptor {
	return registry.Descriptor{Type: "openvz"}
}

func noneExisting(uuid.UUID) bool { return false }

func TestNewRequiresMatchingConcept(t *testing.T) {
	a := EndpointInfo{ElementID: uuid.New(), Type: ifaceDescriptor()}
	b := EndpointInfo{ElementID: uuid.New(), Type: deviceDescriptor()}

	_, err := New(uuid.New(), uuid.New(), "interface", a, b, noneExisting)
	if !apierr.Is(err, apierr.InvalidValue) {
		t.Fatalf("expected INVALID_VALUE when one endpoint lacks the concept, got %v", err)
	}
}

func TestNewRejectsSelfConnection(t *testing.T) {
	id := uuid.New()
	a := EndpointInfo{ElementID: id, Type: ifaceDescriptor()}
	b := EndpointInfo{ElementID: id, Type: ifaceDescriptor()}

	_, err := New(uuid.New(), uuid.New(), "interface", a, b, noneExisting)
	if !apierr.Is(err, apierr.InvalidValue) {
		t.Fatalf("expected INVALID_VALUE for identical endpoints, got %v", err)
	}
}

func TestNewRejectsAlreadyConnectedEndpoint(t *testing.T) {
	a := EndpointInfo{ElementID: uuid.New(), Type: ifaceDescriptor()}
	b := EndpointInfo{ElementID: uuid.New(), Type: ifaceDescriptor()}

	busy := func(id uuid.UUID) bool { return id == a.ElementID }
	_, err := New(uuid.New(), uuid.New(), "interface", a, b, busy)
	if !apierr.Is(err, apierr.InvalidValue) {
		t.Fatalf("expected INVALID_VALUE for an already-connected endpoint, got %v", err)
	}
}

func TestOther(t *testing.T) {
	a := EndpointInfo{ElementID: uuid.New(), Type: ifaceDescriptor()}
	b := EndpointInfo{ElementID: uuid.New(), Type: ifaceDescriptor()}

	conn, err := New(uuid.New(), uuid.New(), "interface", a, b, noneExisting)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := conn.Other(a.ElementID); got != b.ElementID {
		t.Errorf("Other(a) = %v, want %v", got, b.ElementID)
	}
	if got := conn.Other(b.ElementID); got != a.ElementID {
		t.Errorf("Other(b) = %v, want %v", got, a.ElementID)
	}
}
