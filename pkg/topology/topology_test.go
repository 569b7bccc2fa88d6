package topology

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/opentomato/tomato/pkg/apierr"
	"github.com/opentomato/tomato/pkg/permissions"
	"github.com/opentomato/tomato/pkg/registry"
)

func newTestRegistry() *registry.Registry {
	r := registry.New()
	registry.RegisterDefaults(r, nil)
	return r
}

func newTestTopology() *Topology {
	return New(uuid.New(), "net1", "alice", nil, time.Hour, newTestRegistry())
}

func TestNewGrantsOwnerAndSkipsFirstWarning(t *testing.T) {
	topo := newTestTopology()
	if topo.Permissions.RoleOf("alice") != permissions.RoleOwner {
		t.Fatalf("expected alice to be owner")
	}
	if topo.TimeoutStep != TimeoutWarned {
		t.Fatalf("expected a fresh topology to start at TimeoutWarned (skip the first warning), got %v", topo.TimeoutStep)
	}
}

func TestBusyLatchRejectsReentry(t *testing.T) {
	topo := newTestTopology()
	if !topo.tryAcquireBusy() {
		t.Fatalf("expected first acquire to succeed")
	}
	if topo.tryAcquireBusy() {
		t.Fatalf("expected second acquire to fail while busy")
	}
	topo.releaseBusy()
	if !topo.tryAcquireBusy() {
		t.Fatalf("expected acquire to succeed again after release")
	}
}

func TestMutatorsRejectWhileBusy(t *testing.T) {
	topo := newTestTopology()
	if !topo.tryAcquireBusy() {
		t.Fatalf("expected to acquire the latch")
	}
	defer topo.releaseBusy()

	if err := topo.Modify("alice", false, map[string]any{"name": "other"}); !apierr.Is(err, apierr.Busy) {
		t.Errorf("expected ENTITY_BUSY from Modify, got %v", err)
	}
	if err := topo.Renew("alice", false, time.Now().Add(time.Hour), 24*time.Hour, 10*time.Minute); !apierr.Is(err, apierr.Busy) {
		t.Errorf("expected ENTITY_BUSY from Renew, got %v", err)
	}
	if _, err := topo.CreateElement("alice", false, "repy", nil, nil); !apierr.Is(err, apierr.Busy) {
		t.Errorf("expected ENTITY_BUSY from CreateElement, got %v", err)
	}
	if err := topo.ActionPrepare("alice", false); !apierr.Is(err, apierr.Busy) {
		t.Errorf("expected ENTITY_BUSY from ActionPrepare, got %v", err)
	}
	if err := topo.Remove("alice", false, true); !apierr.Is(err, apierr.Busy) {
		t.Errorf("expected ENTITY_BUSY from Remove, got %v", err)
	}
}

func TestActionRequiresManagerRole(t *testing.T) {
	topo := newTestTopology()
	topo.Permissions.SetRole("bob", permissions.RoleUser)

	if err := topo.ActionPrepare("bob", false); !apierr.Is(err, apierr.Denied) {
		t.Fatalf("expected DENIED for a user-role caller, got %v", err)
	}
}

func TestActionRejectsPastTimeout(t *testing.T) {
	topo := newTestTopology()
	topo.Timeout = time.Now().Add(-time.Minute)

	if err := topo.ActionStart("alice", false); !apierr.Is(err, apierr.TimedOut) {
		t.Fatalf("expected TIMED_OUT, got %v", err)
	}
	// Stop and destroy remain available past the deadline.
	if err := topo.ActionStop("alice", false); err != nil {
		t.Fatalf("expected stop to still be allowed past the deadline, got %v", err)
	}
}

func TestCompoundStartBringsLinksAndDevicesUp(t *testing.T) {
	topo := newTestTopology()
	vm, err := topo.CreateElement("alice", false, "kvmqm", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error creating kvmqm: %v", err)
	}
	link, err := topo.CreateElement("alice", false, "tinc_vpn", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error creating tinc_vpn: %v", err)
	}

	if err := topo.ActionStart("alice", false); err != nil {
		t.Fatalf("unexpected error starting: %v", err)
	}
	if topo.Elements[vm.ID].State != registry.StateStarted {
		t.Errorf("expected kvmqm to end started, got %s", topo.Elements[vm.ID].State)
	}
	if topo.Elements[link.ID].State != registry.StateStarted {
		t.Errorf("expected tinc_vpn to end started, got %s", topo.Elements[link.ID].State)
	}
}

func TestChildInterfaceCascadesWithParent(t *testing.T) {
	topo := newTestTopology()
	vm, err := topo.CreateElement("alice", false, "kvmqm", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error creating kvmqm: %v", err)
	}
	iface, err := topo.CreateElement("alice", false, "kvmqm_interface", &vm.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error creating kvmqm_interface: %v", err)
	}

	if err := topo.ActionStart("alice", false); err != nil {
		t.Fatalf("unexpected error starting: %v", err)
	}
	if topo.Elements[iface.ID].State != registry.StateStarted {
		t.Fatalf("expected interface to cascade to started, got %s", topo.Elements[iface.ID].State)
	}
}

func TestCreateElementReconcilesStateOnAttachToPreparedParent(t *testing.T) {
	topo := newTestTopology()
	vm, _ := topo.CreateElement("alice", false, "openvz", nil, nil)
	if err := topo.ActionPrepare("alice", false); err != nil {
		t.Fatalf("unexpected error preparing: %v", err)
	}

	iface, err := topo.CreateElement("alice", false, "openvz_interface", &vm.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error attaching interface to a prepared parent: %v", err)
	}
	if iface.State != registry.StatePrepared {
		t.Fatalf("expected new interface to inherit parent's prepared state, got %s", iface.State)
	}
}

func TestRemoveRefusesNonEmptyWithoutRecurse(t *testing.T) {
	topo := newTestTopology()
	topo.CreateElement("alice", false, "repy", nil, nil)

	if err := topo.Remove("alice", false, false); !apierr.Is(err, apierr.NotEmpty) {
		t.Fatalf("expected NOT_EMPTY, got %v", err)
	}
	if err := topo.Remove("alice", false, true); err != nil {
		t.Fatalf("expected recursive remove to succeed, got %v", err)
	}
}

func TestRenewResetsWarningStep(t *testing.T) {
	topo := newTestTopology()
	topo.TimeoutStep = TimeoutWarned

	future := time.Now().Add(2 * time.Hour)
	if err := topo.Renew("alice", false, future, 24*time.Hour, 10*time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if topo.TimeoutStep != TimeoutInitial {
		t.Fatalf("expected renew far beyond the warning threshold to reset to Initial, got %v", topo.TimeoutStep)
	}
}

func TestRenewRejectsDestroyedTopology(t *testing.T) {
	topo := newTestTopology()
	topo.TimeoutStep = TimeoutDestroyed

	err := topo.Renew("alice", false, time.Now().Add(time.Hour), 24*time.Hour, 10*time.Minute)
	if !apierr.Is(err, apierr.InvalidValue) {
		t.Fatalf("expected INVALID_VALUE renewing a destroyed topology, got %v", err)
	}
}

func TestRenewRejectsBeyondMaxForNonAdmin(t *testing.T) {
	topo := newTestTopology()
	err := topo.Renew("alice", false, time.Now().Add(48*time.Hour), 24*time.Hour, 10*time.Minute)
	if !apierr.Is(err, apierr.InvalidValue) {
		t.Fatalf("expected INVALID_VALUE exceeding the max timeout, got %v", err)
	}
	// A global admin may exceed it.
	if err := topo.Renew("alice", true, time.Now().Add(48*time.Hour), 24*time.Hour, 10*time.Minute); err != nil {
		t.Fatalf("expected admin renew beyond max to succeed, got %v", err)
	}
}

func TestModifyUnknownAttributeRejected(t *testing.T) {
	topo := newTestTopology()
	err := topo.Modify("alice", false, map[string]any{"bogus": 1})
	if !apierr.Is(err, apierr.UnsupportedAttribute) {
		t.Fatalf("expected UNSUPPORTED_ATTRIBUTE, got %v", err)
	}
}

func TestModifyUnderscorePrefixStoresClientData(t *testing.T) {
	topo := newTestTopology()
	if err := topo.Modify("alice", false, map[string]any{"_note": "hello"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if topo.ClientData["note"] != "hello" {
		t.Fatalf("expected client data to be stored without its underscore prefix")
	}
}

func TestModifyRoleCannotTargetSelf(t *testing.T) {
	topo := newTestTopology()
	err := topo.ModifyRole("alice", false, "alice", permissions.RoleUser)
	if !apierr.Is(err, apierr.InvalidValue) {
		t.Fatalf("expected INVALID_VALUE targeting self, got %v", err)
	}
}

func TestInfoOpaqueListsIDsOnly(t *testing.T) {
	topo := newTestTopology()
	el, _ := topo.CreateElement("alice", false, "repy", nil, nil)

	info := topo.Info(false)
	if len(info.ElementIDs) != 1 || info.ElementIDs[0] != el.ID {
		t.Fatalf("expected opaque info to list the element id, got %v", info.ElementIDs)
	}
	if info.Elements != nil {
		t.Fatalf("expected opaque info to omit nested elements")
	}
}

func TestInfoFullReprefixesClientData(t *testing.T) {
	topo := newTestTopology()
	_ = topo.Modify("alice", false, map[string]any{"_note": "hi"})

	info := topo.Info(true)
	if info.ClientData["_note"] != "hi" {
		t.Fatalf("expected full info to re-prefix client data, got %v", info.ClientData)
	}
}

func TestInfoRendersTimeoutAsEpochSeconds(t *testing.T) {
	topo := newTestTopology()
	topo.Timeout = time.Unix(1700000000, 500000000)

	if got := topo.Info(false).Timeout; got != 1700000000.5 {
		t.Fatalf("expected timeout 1700000000.5, got %v", got)
	}
}
