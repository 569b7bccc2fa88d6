package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/opentomato/tomato/pkg/apierr"
	"github.com/opentomato/tomato/pkg/reaper"
	"github.com/opentomato/tomato/pkg/registry"
	"github.com/opentomato/tomato/pkg/topology"
)

// ErrNotFound is returned when a topology ID has no matching row.
var ErrNotFound = errors.New("db: topology not found")

// TopologyStore persists topology.Topology aggregates as JSONB documents
// and implements pkg/reaper.Store's due-for-sweep queries directly in SQL,
// wrapping a DBTX rather than loading every row into memory to filter in
// Go.
//
// The store keeps an identity map of live aggregates: every load of the
// same id yields the same *topology.Topology instance, so the busy latch
// is a single process-wide latch per topology and a concurrent mutation
// during a running action is rejected with ENTITY_BUSY instead of
// operating on its own private copy. Fresh row state is folded into the
// live instance via RefreshFrom, which yields to an in-flight action.
// Across processes (the api and worker modes), Save's conditional write
// on the row version closes the same race: the second writer loses and
// gets ENTITY_BUSY rather than silently overwriting the first.
type TopologyStore struct {
	db  DBTX
	reg *registry.Registry

	mu   sync.Mutex
	live map[uuid.UUID]*topology.Topology
}

// NewTopologyStore returns a store that rehydrates topologies against reg.
func NewTopologyStore(db DBTX, reg *registry.Registry) *TopologyStore {
	return &TopologyStore{db: db, reg: reg, live: make(map[uuid.UUID]*topology.Topology)}
}

var _ reaper.Store = (*TopologyStore)(nil)

// Save persists the topology's current snapshot, conditional on the row
// still carrying the version this instance last observed. A lost race
// (another process wrote in between) surfaces as ENTITY_BUSY and evicts
// the live instance so the next load sees the winner's state.
func (s *TopologyStore) Save(ctx context.Context, t *topology.Topology) error {
	snap := t.Snapshot()
	expected := snap.Version
	snap.Version = expected + 1
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("db: marshal topology %s: %w", snap.ID, err)
	}

	var tag pgconn.CommandTag
	if expected == 0 {
		const q = `
			INSERT INTO topologies (id, name, site, timeout, timeout_step, version, body, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (id) DO NOTHING`
		tag, err = s.db.Exec(ctx, q, snap.ID, snap.Name, snap.Site, snap.Timeout, int(snap.TimeoutStep), snap.Version, body)
	} else {
		const q = `
			UPDATE topologies
			SET name = $2, site = $3, timeout = $4, timeout_step = $5, version = $6, body = $7, updated_at = now()
			WHERE id = $1 AND version = $8`
		tag, err = s.db.Exec(ctx, q, snap.ID, snap.Name, snap.Site, snap.Timeout, int(snap.TimeoutStep), snap.Version, body, expected)
	}
	if err != nil {
		return fmt.Errorf("db: save topology %s: %w", snap.ID, err)
	}
	if tag.RowsAffected() == 0 {
		s.forget(snap.ID)
		return apierr.New(apierr.Busy, "topology was modified concurrently")
	}
	t.Version = snap.Version
	return nil
}

// Get loads a single topology, returning the process-wide live instance
// for its id.
func (s *TopologyStore) Get(ctx context.Context, id uuid.UUID) (*topology.Topology, error) {
	row := s.db.QueryRow(ctx, `SELECT body FROM topologies WHERE id = $1`, id)
	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.forget(id)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db: get topology %s: %w", id, err)
	}
	return s.adopt(body)
}

// Delete removes a topology row outright, used after a destroy+remove.
func (s *TopologyStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM topologies WHERE id = $1`, id); err != nil {
		return fmt.Errorf("db: delete topology %s: %w", id, err)
	}
	s.forget(id)
	return nil
}

// ListAll returns every topology row, used by the usage sampler's owner
// listing and by administrative tooling.
func (s *TopologyStore) ListAll(ctx context.Context) ([]*topology.Topology, error) {
	return s.queryAll(ctx, `SELECT body FROM topologies`)
}

// ListOwnedBy returns every topology where user holds at least a grant,
// for the account's "my topologies" listing.
func (s *TopologyStore) ListOwnedBy(ctx context.Context, user string) ([]*topology.Topology, error) {
	const q = `SELECT body FROM topologies WHERE body -> 'Grants' ? $1 ORDER BY updated_at DESC`
	return s.queryAll(ctx, q, user)
}

// DueForWarning returns topologies at TimeoutInitial whose deadline is
// within grace, so the warning fires ahead of the deadline rather than only
// after it has already lapsed.
func (s *TopologyStore) DueForWarning(now time.Time, grace time.Duration) ([]*topology.Topology, error) {
	const q = `
		SELECT body FROM topologies
		WHERE timeout_step = $1 AND timeout <= $2`
	return s.queryAll(context.Background(), q, int(topology.TimeoutInitial), now.Add(grace))
}

// DueForStop returns warned topologies whose deadline has passed.
func (s *TopologyStore) DueForStop(now time.Time) ([]*topology.Topology, error) {
	const q = `
		SELECT body FROM topologies
		WHERE timeout_step = $1 AND timeout <= $2`
	return s.queryAll(context.Background(), q, int(topology.TimeoutWarned), now)
}

// DueForDestroy returns stopped topologies whose deadline passed more than
// grace ago, giving the owner a final window to renew after the stop before
// the topology is torn down outright.
func (s *TopologyStore) DueForDestroy(now time.Time, grace time.Duration) ([]*topology.Topology, error) {
	const q = `
		SELECT body FROM topologies
		WHERE timeout_step = $1 AND timeout <= $2`
	return s.queryAll(context.Background(), q, int(topology.TimeoutStopped), now.Add(-grace))
}

func (s *TopologyStore) queryAll(ctx context.Context, q string, args ...any) ([]*topology.Topology, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("db: query topologies: %w", err)
	}
	defer rows.Close()

	var out []*topology.Topology
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("db: scan topology row: %w", err)
		}
		t, err := s.adopt(body)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// adopt decodes a row body and routes it through the identity map: an id
// seen for the first time is rehydrated and cached; one already live has
// the newer snapshot folded in (a no-op while an action holds its latch).
func (s *TopologyStore) adopt(body []byte) (*topology.Topology, error) {
	var snap topology.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("db: decode topology snapshot: %w", err)
	}
	s.mu.Lock()
	t, ok := s.live[snap.ID]
	if !ok {
		t = topology.Rehydrate(snap, s.reg)
		s.live[snap.ID] = t
		s.mu.Unlock()
		return t, nil
	}
	s.mu.Unlock()
	t.RefreshFrom(snap)
	return t, nil
}

func (s *TopologyStore) forget(id uuid.UUID) {
	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
}
