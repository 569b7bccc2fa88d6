// Package topology implements the Topology aggregate: the owning entity for
// a set of Elements and Connections, its permission grants, its timeout
// deadline and escalation step, and the compound actions that drive its
// members through create/prepare/start/stop/destroy.
package topology

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/opentomato/tomato/pkg/apierr"
	"github.com/opentomato/tomato/pkg/connection"
	"github.com/opentomato/tomato/pkg/element"
	"github.com/opentomato/tomato/pkg/permissions"
	"github.com/opentomato/tomato/pkg/registry"
)

// TimeoutStep is the topology's position in the reaper's escalation
// sequence.
type TimeoutStep int

const (
	TimeoutInitial   TimeoutStep = 0
	TimeoutWarned    TimeoutStep = 9
	TimeoutStopped   TimeoutStep = 10
	TimeoutDestroyed TimeoutStep = 20
)

// Topology is a named collection of Elements and Connections, owned and
// permissioned through a Permissions mixin, with its own idle-timeout
// deadline.
type Topology struct {
	ID          uuid.UUID
	Name        string
	Site        *string
	Permissions *permissions.Mixin
	Timeout     time.Time
	TimeoutStep TimeoutStep
	ClientData  map[string]any

	// Version is the persisted row version this instance was last loaded
	// from or saved as; zero means never persisted. The store's
	// conditional save compares it so two processes racing on the same
	// topology cannot silently overwrite each other.
	Version int64

	Elements    map[uuid.UUID]*element.Element
	elementSeq  []uuid.UUID
	Connections map[uuid.UUID]*connection.Connection

	busy atomic.Bool

	registry *registry.Registry
}

// New creates a topology owned by owner, with its timeout set initialTimeout
// in the future. TimeoutStep starts at Warned rather than Initial: a
// freshly created topology never sends a warning mail for its very first
// timeout.
func New(id uuid.UUID, name string, owner string, site *string, initialTimeout time.Duration, reg *registry.Registry) *Topology {
	perm := permissions.NewMixin()
	perm.SetRole(owner, permissions.RoleOwner)
	return &Topology{
		ID:          id,
		Name:        name,
		Site:        site,
		Permissions: perm,
		Timeout:     time.Now().Add(initialTimeout),
		TimeoutStep: TimeoutWarned,
		ClientData:  make(map[string]any),
		Elements:    make(map[uuid.UUID]*element.Element),
		Connections: make(map[uuid.UUID]*connection.Connection),
		registry:    reg,
	}
}

// IsBusy reports whether the topology's busy latch is currently held.
func (t *Topology) IsBusy() bool { return t.busy.Load() }

// tryAcquireBusy attempts to set the busy latch, reporting false if it was
// already held. The latch is a process-local reject-don't-block guard, not
// a lock: a caller that fails to acquire it gets ENTITY_BUSY back
// immediately rather than waiting.
func (t *Topology) tryAcquireBusy() bool {
	return t.busy.CompareAndSwap(false, true)
}

func (t *Topology) releaseBusy() {
	t.busy.Store(false)
}

// MaxState returns the highest state any element currently occupies
// (started > prepared > created), defaulting to created for an empty
// topology.
func (t *Topology) MaxState() registry.State {
	max := registry.StateCreated
	rank := map[registry.State]int{registry.StateCreated: 0, registry.StatePrepared: 1, registry.StateStarted: 2}
	for _, el := range t.Elements {
		if rank[el.State] > rank[max] {
			max = el.State
		}
	}
	return max
}

// Modify applies a set of attribute changes. "name" is the topology's own
// mutable attribute; any key starting with "_" is opaque client data the
// caller may store and retrieve verbatim; anything else is rejected as an
// unsupported attribute.
func (t *Topology) Modify(caller string, isAdmin bool, attrs map[string]any) error {
	if err := t.Permissions.RequireRole(caller, isAdmin, permissions.RoleManager); err != nil {
		return err
	}
	if !t.tryAcquireBusy() {
		return apierr.New(apierr.Busy, "topology is busy")
	}
	defer t.releaseBusy()
	for key, value := range attrs {
		switch {
		case key == "name":
			name, ok := value.(string)
			if !ok {
				return apierr.New(apierr.InvalidValue, "name must be a string")
			}
			t.Name = name
		case strings.HasPrefix(key, "_"):
			t.ClientData[strings.TrimPrefix(key, "_")] = value
		default:
			return apierr.New(apierr.UnsupportedAttribute, "unknown attribute "+key)
		}
	}
	return nil
}

// ModifyRole grants or revokes a role, restricted to the owner and
// forbidden from targeting the caller themselves (an owner can't strip
// their own access by accident through this path).
func (t *Topology) ModifyRole(caller string, isAdmin bool, user string, role permissions.Role) error {
	if err := t.Permissions.RequireRole(caller, isAdmin, permissions.RoleOwner); err != nil {
		return err
	}
	if user == caller {
		return apierr.New(apierr.InvalidValue, "cannot change your own role")
	}
	if role != permissions.None && !permissions.Valid(role) {
		return apierr.New(apierr.InvalidValue, "unknown role "+string(role))
	}
	t.Permissions.SetRole(user, role)
	return nil
}

// Renew pushes the timeout deadline forward. A non-admin caller may not
// request a deadline beyond maxTimeout from now. A topology already fully
// destroyed can never be renewed. The escalation step resets to Initial
// when the new deadline is comfortably beyond the warning threshold, or to
// Warned (skip the warning sweep) when it's already inside that window.
func (t *Topology) Renew(caller string, isAdmin bool, timeout time.Time, maxTimeout, warningThreshold time.Duration) error {
	if err := t.Permissions.RequireRole(caller, isAdmin, permissions.RoleManager); err != nil {
		return err
	}
	if !t.tryAcquireBusy() {
		return apierr.New(apierr.Busy, "topology is busy")
	}
	defer t.releaseBusy()
	if t.TimeoutStep == TimeoutDestroyed {
		return apierr.New(apierr.InvalidValue, "cannot renew a destroyed topology")
	}
	if !isAdmin && timeout.After(time.Now().Add(maxTimeout)) {
		return apierr.New(apierr.InvalidValue, "requested timeout exceeds the maximum allowed")
	}
	t.Timeout = timeout
	if timeout.Sub(time.Now()) > warningThreshold {
		t.TimeoutStep = TimeoutInitial
	} else {
		t.TimeoutStep = TimeoutWarned
	}
	return nil
}

// Remove tears the topology down. Without recurse, a topology still holding
// elements or connections is refused with NOT_EMPTY. Every held element
// must itself permit removal (REMOVE_ACTION from its current state) or the
// whole removal is refused and nothing is cleared.
func (t *Topology) Remove(caller string, isAdmin bool, recurse bool) error {
	if err := t.Permissions.RequireRole(caller, isAdmin, permissions.RoleOwner); err != nil {
		return err
	}
	if !t.tryAcquireBusy() {
		return apierr.New(apierr.Busy, "topology is busy")
	}
	defer t.releaseBusy()

	if !recurse && (len(t.Elements) > 0 || len(t.Connections) > 0) {
		return apierr.New(apierr.NotEmpty, "topology still holds elements or connections")
	}
	for _, el := range t.Elements {
		desc, ok := t.registry.Lookup(el.Type)
		if !ok {
			return apierr.New(apierr.Internal, "unknown element type "+el.Type)
		}
		if err := el.CheckRemove(desc); err != nil {
			return err
		}
	}
	t.Elements = make(map[uuid.UUID]*element.Element)
	t.elementSeq = nil
	t.Connections = make(map[uuid.UUID]*connection.Connection)
	return nil
}
