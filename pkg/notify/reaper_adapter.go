package notify

import (
	"context"
	"fmt"

	"github.com/opentomato/tomato/pkg/topology"
)

// ReaperAdapter implements reaper.Notifier over a Registry, rendering a
// topology's timeout warning the way the original sendMail broadcast did:
// one message addressed to every user holding at least a manager role.
type ReaperAdapter struct {
	registry *Registry
}

// NewReaperAdapter wraps registry for use as a reaper.Notifier.
func NewReaperAdapter(registry *Registry) *ReaperAdapter {
	return &ReaperAdapter{registry: registry}
}

// NotifyTimeoutWarning renders and sends the warning message.
func (a *ReaperAdapter) NotifyTimeoutWarning(ctx context.Context, t *topology.Topology, recipients []string) error {
	msg := Message{
		TopologyID: t.ID.String(),
		Subject:    fmt.Sprintf("Topology %q is about to time out", t.Name),
		Body:       fmt.Sprintf("Topology %s (%s) will be stopped soon unless its timeout is renewed.", t.Name, t.ID),
		Recipients: recipients,
	}
	failures := a.registry.Send(ctx, msg)
	if len(failures) == 0 {
		return nil
	}
	return fmt.Errorf("notification delivery failed for %d provider(s): %v", len(failures), failures)
}
