// Package reaper implements the timeout escalation sweep: a periodic task
// that walks every topology past its deadline and pushes it one step
// further along Initial -> Warned -> Stopped -> Destroyed, sending a
// warning notification on the first step and calling the matching compound
// action on the other two.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opentomato/tomato/internal/scheduler"
	"github.com/opentomato/tomato/pkg/permissions"
	"github.com/opentomato/tomato/pkg/topology"
)

// DefaultInterval is the reaper's sweep period.
const DefaultInterval = 600 * time.Second

// WarningGrace is the default for how far ahead of the deadline a topology
// is swept into the warning step — it fires once the deadline is within
// this window, not only once it has already passed. The same window is the
// post-stop grace before destruction, so users get equal notice before the
// stop and before the permanent data loss.
const WarningGrace = 10 * time.Minute

// Store is the slice of topology persistence the reaper needs: the three
// filtered sweeps plus a way to persist a stepped-forward topology.
type Store interface {
	// DueForWarning returns topologies at TimeoutInitial whose deadline is
	// within grace.
	DueForWarning(now time.Time, grace time.Duration) ([]*topology.Topology, error)
	// DueForStop returns topologies at TimeoutWarned whose deadline has
	// passed.
	DueForStop(now time.Time) ([]*topology.Topology, error)
	// DueForDestroy returns topologies at TimeoutStopped whose deadline
	// passed more than grace ago.
	DueForDestroy(now time.Time, grace time.Duration) ([]*topology.Topology, error)
	// Save persists a topology's new TimeoutStep (and anything the
	// triggered action changed).
	Save(ctx context.Context, t *topology.Topology) error
}

// Notifier sends the warning message to a topology's manager-and-above
// users when it first approaches its deadline.
type Notifier interface {
	NotifyTimeoutWarning(ctx context.Context, t *topology.Topology, recipients []string) error
}

// Reaper drives the three-sweep escalation.
type Reaper struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	// admin is the identity the reaper acts as when it calls a topology's
	// own compound actions; it always carries the global-admin bypass so a
	// topology whose owner has gone quiet is still reaped.
	admin string
	// grace is the warning lead time and the post-stop destruction delay.
	grace time.Duration
	// broadcaster is optional; when set, every successful step transition
	// is published for other consumers to hear about immediately.
	broadcaster *Broadcaster

	steps         *prometheus.CounterVec
	sweepDuration prometheus.Histogram
}

// New builds a Reaper with the default warning grace.
func New(store Store, notifier Notifier, logger *slog.Logger) *Reaper {
	return &Reaper{store: store, notifier: notifier, logger: logger, admin: "system:reaper", grace: WarningGrace}
}

// WithWarningGrace overrides the warning lead time / post-stop grace.
func (r *Reaper) WithWarningGrace(grace time.Duration) *Reaper {
	if grace > 0 {
		r.grace = grace
	}
	return r
}

// WithMetrics attaches the step counter and sweep-duration histogram.
func (r *Reaper) WithMetrics(steps *prometheus.CounterVec, sweepDuration prometheus.Histogram) *Reaper {
	r.steps = steps
	r.sweepDuration = sweepDuration
	return r
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	scheduler.Run(ctx, interval, r.sweep, func(err error) {
		r.logger.Error("reaper sweep failed", "error", err)
	})
}

// sweep runs all three escalation passes once. A failure handling one
// topology is logged and does not stop the sweep from continuing on to the
// next topology or the next pass.
func (r *Reaper) sweep(ctx context.Context) error {
	start := time.Now()
	defer func() {
		if r.sweepDuration != nil {
			r.sweepDuration.Observe(time.Since(start).Seconds())
		}
	}()
	now := start.UTC()

	if err := r.warnPass(ctx, now); err != nil {
		return err
	}
	if err := r.stopPass(ctx, now); err != nil {
		return err
	}
	return r.destroyPass(ctx, now)
}

func (r *Reaper) warnPass(ctx context.Context, now time.Time) error {
	due, err := r.store.DueForWarning(now, r.grace)
	if err != nil {
		return err
	}
	for _, t := range due {
		recipients := t.Permissions.UsersAtLeast(permissions.RoleManager)
		if err := r.notifier.NotifyTimeoutWarning(ctx, t, recipients); err != nil {
			r.logger.Error("timeout warning notification failed", "topology", t.ID, "error", err)
			continue
		}
		t.TimeoutStep = topology.TimeoutWarned
		if err := r.store.Save(ctx, t); err != nil {
			r.logger.Error("failed to persist warning step", "topology", t.ID, "error", err)
			continue
		}
		r.stepApplied(ctx, t, "warned")
	}
	return nil
}

func (r *Reaper) stopPass(ctx context.Context, now time.Time) error {
	due, err := r.store.DueForStop(now)
	if err != nil {
		return err
	}
	for _, t := range due {
		if err := t.ActionStop(r.admin, true); err != nil {
			r.logger.Error("reaper stop action failed", "topology", t.ID, "error", err)
			continue
		}
		t.TimeoutStep = topology.TimeoutStopped
		if err := r.store.Save(ctx, t); err != nil {
			r.logger.Error("failed to persist stopped step", "topology", t.ID, "error", err)
			continue
		}
		r.stepApplied(ctx, t, "stopped")
	}
	return nil
}

func (r *Reaper) destroyPass(ctx context.Context, now time.Time) error {
	due, err := r.store.DueForDestroy(now, r.grace)
	if err != nil {
		return err
	}
	for _, t := range due {
		if err := t.ActionDestroy(r.admin, true); err != nil {
			r.logger.Error("reaper destroy action failed", "topology", t.ID, "error", err)
			continue
		}
		t.TimeoutStep = topology.TimeoutDestroyed
		if err := r.store.Save(ctx, t); err != nil {
			r.logger.Error("failed to persist destroyed step", "topology", t.ID, "error", err)
			continue
		}
		r.stepApplied(ctx, t, "destroyed")
	}
	return nil
}

// stepApplied records a persisted step transition: the metric counter and
// the optional pub/sub broadcast.
func (r *Reaper) stepApplied(ctx context.Context, t *topology.Topology, step string) {
	if r.steps != nil {
		r.steps.WithLabelValues(step).Inc()
	}
	if r.broadcaster != nil {
		r.broadcaster.publish(ctx, t)
	}
}
