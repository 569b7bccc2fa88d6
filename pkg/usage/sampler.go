package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/opentomato/tomato/internal/scheduler"
)

// DefaultInterval is the sampler's tick period.
const DefaultInterval = 60 * time.Second

// TopologyAccount groups one topology's accounted owners (its elements and
// connections) so the sampler can both sample each of them and roll the
// result up into the topology's own totalUsage.
type TopologyAccount struct {
	ID     uuid.UUID
	Owners []uuid.UUID
}

// OwnerLister returns every topology currently eligible for accounting
// together with the element/connection ids it owns, queried fresh on each
// tick so a removed entity stops being sampled immediately and a removed
// topology's totalUsage stops being recomputed.
type OwnerLister interface {
	TopologyAccounts() ([]TopologyAccount, error)
}

// Store persists each owner's accounting ring after a tick, so a separate
// process (the API) can answer topology_usage and render a topology's
// latest usage in its info view without sharing this Tracker's memory.
type Store interface {
	SyncOwner(ctx context.Context, owner uuid.UUID, records []Record) error
}

// Sampler periodically ticks a Tracker across every owner a lister
// reports, then folds each topology's owners into its own totalUsage ring.
type Sampler struct {
	tracker *Tracker
	lister  OwnerLister
	meter   Meter
	logger  *slog.Logger
	// cache is optional; when set, continuity state survives a process
	// restart instead of every counter appearing to reset on first sample.
	cache *ContinuityCache
	// store is optional; when set, every owner's (element, connection, and
	// topology) ring is persisted after each tick.
	store Store

	samples      prometheus.Counter
	sampleErrors prometheus.Counter
}

// NewSampler builds a Sampler wiring a Tracker to a Meter and OwnerLister.
func NewSampler(tracker *Tracker, lister OwnerLister, meter Meter, logger *slog.Logger) *Sampler {
	return &Sampler{tracker: tracker, lister: lister, meter: meter, logger: logger}
}

// WithCache attaches a ContinuityCache the sampler warms from before its
// first tick and saves to after every tick.
func (s *Sampler) WithCache(cache *ContinuityCache) *Sampler {
	s.cache = cache
	return s
}

// WithStore attaches a Store the sampler persists every ring to after each
// tick.
func (s *Sampler) WithStore(store Store) *Sampler {
	s.store = store
	return s
}

// WithMetrics attaches the sample and sample-error counters.
func (s *Sampler) WithMetrics(samples, sampleErrors prometheus.Counter) *Sampler {
	s.samples = samples
	s.sampleErrors = sampleErrors
	return s
}

// Run blocks, ticking every interval until ctx is cancelled. Per-owner meter
// failures are logged and otherwise ignored; they never stop the loop.
func (s *Sampler) Run(ctx context.Context, interval time.Duration) {
	accounts, err := s.lister.TopologyAccounts()
	if err != nil {
		s.logger.Error("usage sampler: listing topology accounts failed", "error", err)
	}
	if s.cache != nil {
		s.cache.Warm(ctx, s.tracker, flattenOwners(accounts))
	}
	scheduler.Run(ctx, interval, func(ctx context.Context) error {
		accounts, err := s.lister.TopologyAccounts()
		if err != nil {
			return err
		}
		owners := flattenOwners(accounts)
		now := time.Now().UTC()

		errs := s.tracker.Tick(now, owners, s.meter)
		for owner, err := range errs {
			s.logger.Warn("usage sample failed", "owner", owner, "error", err)
		}
		if s.samples != nil {
			s.samples.Add(float64(len(owners) - len(errs)))
		}
		if s.sampleErrors != nil {
			s.sampleErrors.Add(float64(len(errs)))
		}

		for _, account := range accounts {
			s.tracker.CombineInto(now, account.ID, account.Owners)
		}

		if s.cache != nil {
			s.cache.Save(ctx, s.tracker, owners)
		}
		if s.store != nil {
			s.persist(ctx, owners, accounts)
		}
		return nil
	}, func(err error) {
		s.logger.Error("usage sampler tick failed", "error", err)
	})
}

// persist flushes every owner's (elements, connections, and topologies')
// current ring to the store. A single sync failure is logged and does not
// stop the rest from being written.
func (s *Sampler) persist(ctx context.Context, owners []uuid.UUID, accounts []TopologyAccount) {
	for _, owner := range owners {
		records := s.tracker.Ring(owner).Records
		if err := s.store.SyncOwner(ctx, owner, records); err != nil {
			s.logger.Warn("usage store sync failed", "owner", owner, "error", err)
		}
	}
	for _, account := range accounts {
		records := s.tracker.Ring(account.ID).Records
		if err := s.store.SyncOwner(ctx, account.ID, records); err != nil {
			s.logger.Warn("usage store sync failed", "topology", account.ID, "error", err)
		}
	}
}

func flattenOwners(accounts []TopologyAccount) []uuid.UUID {
	var out []uuid.UUID
	for _, a := range accounts {
		out = append(out, a.Owners...)
	}
	return out
}
