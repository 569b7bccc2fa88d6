package element

import (
	"testing"

	"github.com/google/uuid"

	"github.com/opentomato/tomato/pkg/apierr"
	"github.com/opentomato/tomato/pkg/registry"
)

func openvzDescriptor() registry.Descriptor {
	return registry.Descriptor{
		Type:          "openvz",
		AllowedStates: []registry.State{registry.StateCreated, registry.StatePrepared, registry.StateStarted},
		Actions: map[registry.Action][]registry.State{
			registry.ActionPrepare: {registry.StateCreated},
			registry.ActionStart:   {registry.StatePrepared},
			registry.ActionStop:    {registry.StateStarted},
			registry.ActionDestroy: {registry.StatePrepared},
			registry.RemoveAction:  {registry.StateCreated},
		},
		NextState: map[registry.Action]registry.State{
			registry.ActionPrepare: registry.StatePrepared,
			registry.ActionStart:   registry.StateStarted,
			registry.ActionStop:    registry.StatePrepared,
			registry.ActionDestroy: registry.StateCreated,
		},
		MutableAttrs: map[string][]registry.State{
			"diskspace": {registry.StateCreated, registry.StatePrepared},
		},
	}
}

func TestNewRejectsImmutableAttrAtCreation(t *testing.T) {
	desc := openvzDescriptor()
	_, err := New(uuid.New(), uuid.New(), desc, nil, map[string]any{"rootpw": "x"})
	if !apierr.Is(err, apierr.UnsupportedAttribute) {
		t.Fatalf("expected UNSUPPORTED_ATTRIBUTE, got %v", err)
	}
}

func TestApplyWalksLifecycle(t *testing.T) {
	desc := openvzDescriptor()
	el, err := New(uuid.New(), uuid.New(), desc, nil, map[string]any{"diskspace": 10240})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	steps := []registry.Action{registry.ActionPrepare, registry.ActionStart, registry.ActionStop, registry.ActionDestroy}
	want := []registry.State{registry.StatePrepared, registry.StateStarted, registry.StatePrepared, registry.StateCreated}
	for i, action := range steps {
		if err := el.Apply(desc, action); err != nil {
			t.Fatalf("step %d (%s): unexpected error: %v", i, action, err)
		}
		if el.State != want[i] {
			t.Fatalf("step %d (%s): state = %s, want %s", i, action, el.State, want[i])
		}
	}
}

func TestApplyRejectsActionFromWrongState(t *testing.T) {
	desc := openvzDescriptor()
	el, _ := New(uuid.New(), uuid.New(), desc, nil, nil)

	if err := el.Apply(desc, registry.ActionStart); !apierr.Is(err, apierr.InvalidValue) {
		t.Fatalf("expected INVALID_VALUE starting from created, got %v", err)
	}
}

func TestSetAttrRespectsState(t *testing.T) {
	desc := openvzDescriptor()
	el, _ := New(uuid.New(), uuid.New(), desc, nil, nil)
	_ = el.Apply(desc, registry.ActionPrepare)
	_ = el.Apply(desc, registry.ActionStart)

	if err := el.SetAttr(desc, "diskspace", 20480); !apierr.Is(err, apierr.UnsupportedAttribute) {
		t.Fatalf("expected diskspace to be immutable once started, got %v", err)
	}
}

func TestNewRequiresParentWhenTypeDeclaresOne(t *testing.T) {
	desc := registry.Descriptor{
		Type:          "openvz_interface",
		AllowedStates: []registry.State{registry.StateCreated},
		Parent:        []string{"openvz"},
	}
	if _, err := New(uuid.New(), uuid.New(), desc, nil, nil); !apierr.Is(err, apierr.InvalidValue) {
		t.Fatalf("expected INVALID_VALUE without a parent, got %v", err)
	}
}

func TestCascadeStateMirrorsParent(t *testing.T) {
	desc := registry.Descriptor{
		Type:          "openvz_interface",
		AllowedStates: []registry.State{registry.StateCreated, registry.StatePrepared, registry.StateStarted},
		Parent:        []string{"openvz"},
	}
	parent := uuid.New()
	el, _ := New(uuid.New(), uuid.New(), desc, &parent, nil)
	el.CascadeState(desc, registry.StateStarted)
	if el.State != registry.StateStarted {
		t.Fatalf("expected cascaded state to be started, got %s", el.State)
	}
}
