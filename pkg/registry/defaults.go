package registry

// RegisterDefaults populates r with the built-in element type descriptors:
// three virtualized device types (kvmqm, openvz, repy), each with a child
// interface type slaved to its lifecycle; two standalone tunnel endpoint
// types (tinc_vpn, udp_endpoint); and an external network gateway type with
// its own per-attachment endpoint child. Probes gate registration on the
// corresponding driver actually being available on this host; a nil probe
// always registers (used here since these are in-process reference drivers,
// not host-shelling ones).
func RegisterDefaults(r *Registry, probes map[string]func() bool) {
	lifecycle := map[Action][]State{
		ActionPrepare: {StateCreated},
		ActionStart:   {StatePrepared},
		ActionStop:    {StateStarted},
		ActionDestroy: {StatePrepared},
	}
	nextState := map[Action]State{
		ActionPrepare: StatePrepared,
		ActionStart:   StateStarted,
		ActionStop:    StatePrepared,
		ActionDestroy: StateCreated,
	}
	removeFromCreated := map[Action][]State{RemoveAction: {StateCreated}}

	for _, dev := range []struct {
		typ      string
		ifaceTyp string
		attrs    map[string][]State
	}{
		{
			typ:      "kvmqm",
			ifaceTyp: "kvmqm_interface",
			attrs: map[string][]State{
				"cpus":   {StateCreated, StatePrepared},
				"ram":    {StateCreated, StatePrepared},
				"vncpos": {StateCreated, StatePrepared, StateStarted},
			},
		},
		{
			typ:      "openvz",
			ifaceTyp: "openvz_interface",
			attrs: map[string][]State{
				"ram":       {StateCreated, StatePrepared},
				"diskspace": {StateCreated, StatePrepared},
				"rootpw":    {StateCreated, StatePrepared},
			},
		},
		{
			typ:      "repy",
			ifaceTyp: "repy_interface",
			attrs: map[string][]State{
				"cpu":    {StateCreated, StatePrepared},
				"memory": {StateCreated, StatePrepared},
			},
		},
	} {
		deviceActions := mergeActionStates(lifecycle, removeFromCreated)
		r.Register(Descriptor{
			Type:          dev.typ,
			AllowedStates: []State{StateCreated, StatePrepared, StateStarted},
			Actions:       deviceActions,
			NextState:     nextState,
			MutableAttrs:  dev.attrs,
			Children:      map[string][]State{dev.ifaceTyp: {StateCreated, StatePrepared, StateStarted}},
		}, probes[dev.typ])

		r.Register(Descriptor{
			Type:               dev.ifaceTyp,
			AllowedStates:      []State{StateCreated, StatePrepared, StateStarted},
			Actions:            mergeActionStates(lifecycle, removeFromCreated),
			NextState:          nextState,
			Parent:             []string{dev.typ},
			ConnectionConcepts: []string{"interface"},
		}, probes[dev.typ])
	}

	for _, tun := range []string{"tinc_vpn", "udp_endpoint"} {
		r.Register(Descriptor{
			Type:               tun,
			AllowedStates:      []State{StateCreated, StatePrepared, StateStarted},
			Actions:            mergeActionStates(lifecycle, removeFromCreated),
			NextState:          nextState,
			ConnectionConcepts: []string{"interface"},
		}, probes[tun])
	}

	r.Register(Descriptor{
		Type:          "external_network",
		AllowedStates: []State{StateCreated, StateStarted},
		Actions: map[Action][]State{
			ActionStart:  {StateCreated},
			ActionStop:   {StateStarted},
			RemoveAction: {StateCreated},
		},
		NextState: map[Action]State{
			ActionStart: StateStarted,
			ActionStop:  StateCreated,
		},
		Children: map[string][]State{"external_network_endpoint": {StateCreated, StateStarted}},
	}, probes["external_network"])

	r.Register(Descriptor{
		Type:          "external_network_endpoint",
		AllowedStates: []State{StateCreated, StateStarted},
		Actions: map[Action][]State{
			ActionStart:  {StateCreated},
			ActionStop:   {StateStarted},
			RemoveAction: {StateCreated},
		},
		NextState: map[Action]State{
			ActionStart: StateStarted,
			ActionStop:  StateCreated,
		},
		Parent:             []string{"external_network"},
		ConnectionConcepts: []string{"interface"},
	}, probes["external_network"])
}

func mergeActionStates(tables ...map[Action][]State) map[Action][]State {
	out := make(map[Action][]State)
	for _, t := range tables {
		for a, states := range t {
			out[a] = states
		}
	}
	return out
}
