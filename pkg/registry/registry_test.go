package registry

import "testing"

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	r.Register(Descriptor{
		Type:          "tinc_vpn",
		AllowedStates: []State{StateCreated, StatePrepared, StateStarted},
		Actions: map[Action][]State{
			ActionPrepare: {StateCreated},
			ActionStart:   {StatePrepared},
		},
	}, nil)

	d, ok := r.Lookup("tinc_vpn")
	if !ok {
		t.Fatalf("expected tinc_vpn to be registered")
	}
	if !d.AllowsState(StatePrepared) {
		t.Errorf("expected prepared to be an allowed state")
	}
	if !d.AllowsAction(ActionPrepare, StateCreated) {
		t.Errorf("expected prepare to be allowed from created")
	}
	if d.AllowsAction(ActionPrepare, StateStarted) {
		t.Errorf("prepare should not be allowed from started")
	}
}

func TestRegisterGatedOnProbe(t *testing.T) {
	r := New()
	r.Register(Descriptor{Type: "kvmqm"}, func() bool { return false })

	if _, ok := r.Lookup("kvmqm"); ok {
		t.Fatalf("expected kvmqm registration to be skipped by a failing probe")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected duplicate registration to panic")
		}
	}()
	r := New()
	r.Register(Descriptor{Type: "openvz"}, nil)
	r.Register(Descriptor{Type: "openvz"}, nil)
}

func TestTypesSorted(t *testing.T) {
	r := New()
	r.Register(Descriptor{Type: "udp_endpoint"}, nil)
	r.Register(Descriptor{Type: "external_network"}, nil)

	got := r.Types()
	want := []string{"external_network", "udp_endpoint"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v, want %v", got, want)
	}
}
