package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opentomato/tomato/internal/audit"
)

// AuditStore persists audit.Entry batches to a single append-only table and
// reads them back newest-first for the per-topology trail endpoint.
type AuditStore struct {
	db DBTX
}

// NewAuditStore wraps db for audit persistence.
func NewAuditStore(db DBTX) *AuditStore {
	return &AuditStore{db: db}
}

// InsertBatch satisfies audit.Store.
func (s *AuditStore) InsertBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	const stmt = `INSERT INTO audit_log (id, actor, action, topology_id, detail, at) VALUES ($1, $2, $3, $4, $5, $6)`
	for _, e := range entries {
		if _, err := s.db.Exec(ctx, stmt, e.ID, e.Actor, e.Action, e.TopologyID, e.Detail, e.At); err != nil {
			return fmt.Errorf("db: insert audit entry: %w", err)
		}
	}
	return nil
}

// ListByTopology returns up to limit entries for one topology, newest
// first. A non-zero afterAt/afterID pair resumes strictly past that keyset
// position, so pages stay stable while new entries keep arriving at the
// head of the trail.
func (s *AuditStore) ListByTopology(ctx context.Context, topologyID uuid.UUID, afterAt time.Time, afterID uuid.UUID, limit int) ([]audit.Entry, error) {
	const base = `
		SELECT id, actor, action, topology_id, detail, at
		FROM audit_log
		WHERE topology_id = $1`

	var (
		q    string
		args []any
	)
	if afterAt.IsZero() {
		q = base + ` ORDER BY at DESC, id DESC LIMIT $2`
		args = []any{topologyID, limit}
	} else {
		q = base + ` AND (at, id) < ($2, $3) ORDER BY at DESC, id DESC LIMIT $4`
		args = []any{topologyID, afterAt, afterID, limit}
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("db: query audit log: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.TopologyID, &e.Detail, &e.At); err != nil {
			return nil, fmt.Errorf("db: scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
