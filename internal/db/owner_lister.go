package db

import (
	"context"
	"log/slog"

	"github.com/opentomato/tomato/pkg/usage"
)

// OwnerLister adapts TopologyStore to usage.OwnerLister by listing every
// persisted topology on each call and grouping each one's current elements
// and connections. The sampler calls this once per tick, so this trades a
// full table scan for correctness: a removed element or connection stops
// being sampled as soon as its topology is saved without it, and a removed
// topology as soon as its row is deleted, with no separate accounting
// registry to fall out of sync.
type OwnerLister struct {
	store  *TopologyStore
	logger *slog.Logger
}

// NewOwnerLister builds an OwnerLister over store.
func NewOwnerLister(store *TopologyStore, logger *slog.Logger) *OwnerLister {
	return &OwnerLister{store: store, logger: logger}
}

// TopologyAccounts satisfies usage.OwnerLister.
func (l *OwnerLister) TopologyAccounts() ([]usage.TopologyAccount, error) {
	topos, err := l.store.ListAll(context.Background())
	if err != nil {
		return nil, err
	}
	out := make([]usage.TopologyAccount, 0, len(topos))
	for _, t := range topos {
		out = append(out, usage.TopologyAccount{ID: t.ID, Owners: t.AccountedOwners()})
	}
	return out, nil
}
