package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/opentomato/tomato/pkg/usage"
)

// UsageStore persists each owner's (element, connection, or topology)
// accounting ring to a single usage_records table, satisfying usage.Store
// for the sampler and giving the API process a way to answer
// topology_usage and the info view's usage field without sharing the
// worker's in-memory Tracker.
type UsageStore struct {
	db DBTX
}

// NewUsageStore wraps db for usage-record persistence.
func NewUsageStore(db DBTX) *UsageStore {
	return &UsageStore{db: db}
}

// SyncOwner replaces every stored record for owner with records, matching
// the in-memory ring's already-pruned, already-promoted state exactly: the
// ring itself enforces KEEP_RECORDS retention (U1) and non-overlap (U2), so
// the store just needs to mirror it rather than separately re-deriving
// retention. The delete and the reinserts are separate statements, not one
// transaction, so a reader can momentarily see an empty set between them;
// usage_records only ever feeds best-effort reporting, so that gap is
// tolerated rather than paid for with a transaction on every tick.
func (s *UsageStore) SyncOwner(ctx context.Context, owner uuid.UUID, records []usage.Record) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM usage_records WHERE owner_id = $1`, owner); err != nil {
		return fmt.Errorf("db: delete usage records: %w", err)
	}
	const stmt = `
		INSERT INTO usage_records
			(owner_id, type, begin_at, end_at, measurements, cputime, memory, diskspace, traffic)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	for _, r := range records {
		if _, err := s.db.Exec(ctx, stmt,
			owner, string(r.Type), r.Begin, r.End, r.Measurements,
			r.Usage.CPUTime, r.Usage.Memory, r.Usage.Diskspace, r.Usage.Traffic,
		); err != nil {
			return fmt.Errorf("db: insert usage record: %w", err)
		}
	}
	return nil
}

// Latest returns the most recent record of the given bucket type for owner,
// or (nil, nil) if none has been recorded yet.
func (s *UsageStore) Latest(ctx context.Context, owner uuid.UUID, typ usage.BucketType) (*usage.Record, error) {
	const q = `
		SELECT type, begin_at, end_at, measurements, cputime, memory, diskspace, traffic
		FROM usage_records
		WHERE owner_id = $1 AND type = $2
		ORDER BY begin_at DESC
		LIMIT 1`
	row := s.db.QueryRow(ctx, q, owner, string(typ))

	var rec usage.Record
	var rawType string
	if err := row.Scan(&rawType, &rec.Begin, &rec.End, &rec.Measurements,
		&rec.Usage.CPUTime, &rec.Usage.Memory, &rec.Usage.Diskspace, &rec.Usage.Traffic); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db: query latest usage record: %w", err)
	}
	rec.Type = usage.BucketType(rawType)
	return &rec, nil
}

// RecordsOf returns every stored record of the given bucket type for owner,
// oldest first, mirroring Statistics.RecordsOf for a reader with no
// in-memory ring of its own.
func (s *UsageStore) RecordsOf(ctx context.Context, owner uuid.UUID, typ usage.BucketType) ([]usage.Record, error) {
	const q = `
		SELECT type, begin_at, end_at, measurements, cputime, memory, diskspace, traffic
		FROM usage_records
		WHERE owner_id = $1 AND type = $2
		ORDER BY begin_at ASC`
	rows, err := s.db.Query(ctx, q, owner, string(typ))
	if err != nil {
		return nil, fmt.Errorf("db: query usage records: %w", err)
	}
	defer rows.Close()

	var out []usage.Record
	for rows.Next() {
		var rec usage.Record
		var rawType string
		if err := rows.Scan(&rawType, &rec.Begin, &rec.End, &rec.Measurements,
			&rec.Usage.CPUTime, &rec.Usage.Memory, &rec.Usage.Diskspace, &rec.Usage.Traffic); err != nil {
			return nil, fmt.Errorf("db: scan usage record: %w", err)
		}
		rec.Type = usage.BucketType(rawType)
		out = append(out, rec)
	}
	return out, rows.Err()
}
