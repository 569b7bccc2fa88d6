package orchestrator

import (
	"testing"

	"github.com/google/uuid"

	"github.com/opentomato/tomato/pkg/registry"
)

type fakeElement struct {
	id    uuid.UUID
	typ   string
	state registry.State
}

func (f *fakeElement) ID() uuid.UUID       { return f.id }
func (f *fakeElement) Type() string        { return f.typ }
func (f *fakeElement) State() registry.State { return f.state }

func notStarted(s registry.State) bool { return s != registry.StateStarted }

func TestRunVisitsElementsInTypeOrder(t *testing.T) {
	a := &fakeElement{id: uuid.New(), typ: "udp_endpoint", state: registry.StatePrepared}
	b := &fakeElement{id: uuid.New(), typ: "kvmqm", state: registry.StatePrepared}
	c := &fakeElement{id: uuid.New(), typ: "external_network", state: registry.StateCreated}

	var visited []string
	do := func(el Element, action registry.Action) error {
		visited = append(visited, el.Type())
		switch v := el.(type) {
		case *fakeElement:
			v.state = registry.StateStarted
		}
		return nil
	}

	spec := Spec{
		Action:      registry.ActionStart,
		StateFilter: notStarted,
		TypeOrder:   []string{"udp_endpoint", "external_network", "kvmqm"},
	}
	if err := Run([]Element{a, b, c}, spec, do); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"udp_endpoint", "external_network", "kvmqm"}
	if len(visited) != len(want) {
		t.Fatalf("visited = %v, want %v", visited, want)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("visited[%d] = %s, want %s", i, visited[i], want[i])
		}
	}
}

func TestRunSkipsElementsCascadedMidPass(t *testing.T) {
	// b is a child of a; do() cascades b to started as a side effect of
	// acting on a. b's type is excluded, so Run never calls do() on it and
	// its state changes only through that cascade.
	a := &fakeElement{id: uuid.New(), typ: "kvmqm", state: registry.StatePrepared}
	b := &fakeElement{id: uuid.New(), typ: "kvmqm_interface", state: registry.StatePrepared}

	var calledOnB bool
	do := func(el Element, action registry.Action) error {
		fe := el.(*fakeElement)
		fe.state = registry.StateStarted
		if fe.typ == "kvmqm" {
			b.state = registry.StateStarted // cascade
		}
		if fe.typ == "kvmqm_interface" {
			calledOnB = true
		}
		return nil
	}

	spec := Spec{
		Action:      registry.ActionStart,
		StateFilter: notStarted,
		TypeOrder:   []string{"kvmqm"},
		// kvmqm_interface is excluded from direct action calls; its state
		// only ever changes via cascade.
		TypesExclude: []string{"kvmqm_interface"},
	}
	if err := Run([]Element{a, b}, spec, do); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calledOnB {
		t.Fatalf("expected kvmqm_interface to never be called directly")
	}
	if b.state != registry.StateStarted {
		t.Fatalf("expected b to end up started via cascade, got %s", b.state)
	}
}

func TestRunReEvaluatesFilterNotSnapshot(t *testing.T) {
	// Two elements of the same residual type; do() on the first flips the
	// second to started as a side effect (simulating a shared-state
	// cascade). Run must skip the second rather than calling do() on it.
	a := &fakeElement{id: uuid.New(), typ: "repy", state: registry.StatePrepared}
	b := &fakeElement{id: uuid.New(), typ: "repy", state: registry.StatePrepared}

	calls := 0
	do := func(el Element, action registry.Action) error {
		calls++
		fe := el.(*fakeElement)
		fe.state = registry.StateStarted
		b.state = registry.StateStarted
		return nil
	}

	spec := Spec{Action: registry.ActionStart, StateFilter: notStarted}
	if err := Run([]Element{a, b}, spec, do); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call once b was cascaded away, got %d", calls)
	}
}

func TestRunStopsOnFirstError(t *testing.T) {
	a := &fakeElement{id: uuid.New(), typ: "repy", state: registry.StatePrepared}
	b := &fakeElement{id: uuid.New(), typ: "repy", state: registry.StatePrepared}

	wantErr := &fakeErr{}
	calls := 0
	do := func(el Element, action registry.Action) error {
		calls++
		return wantErr
	}

	spec := Spec{Action: registry.ActionStart, StateFilter: notStarted}
	if err := Run([]Element{a, b}, spec, do); err != wantErr {
		t.Fatalf("expected the underlying error to propagate, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected Run to stop after the first failure, got %d calls", calls)
	}
}

type fakeErr struct{}

func (*fakeErr) Error() string { return "boom" }
