// Package audit records one entry per mutating topology operation: create,
// action, remove, and permission-change all leave a trail. The writer is
// an async buffered channel flushed on a timer or batch size, with no
// tenant-schema routing: this system has a single schema, not one per
// tenant.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is a single audit log record. ID is assigned at enqueue time so
// the trail can be keyset-paginated by (At, ID) without relying on
// database-generated identifiers.
type Entry struct {
	ID         uuid.UUID
	Actor      string
	Action     string
	TopologyID uuid.UUID
	Detail     json.RawMessage
	At         time.Time
}

// Store persists a batch of entries; internal/db.AuditStore satisfies this.
type Store interface {
	InsertBatch(ctx context.Context, entries []Entry) error
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// Writer is an async, buffered audit log writer.
type Writer struct {
	store   Store
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

// NewWriter creates an audit Writer. Call Start to begin processing entries.
func NewWriter(store Store, logger *slog.Logger) *Writer {
	return &Writer{store: store, logger: logger, entries: make(chan Entry, bufferSize)}
}

// Start launches the background flush loop in its own goroutine and returns
// immediately; Close waits for the loop to flush what is pending and exit.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an entry for async writing. It never blocks the caller; if
// the buffer is full the entry is dropped and a warning is logged, since a
// full audit queue must not slow down or fail the operation it describes.
func (w *Writer) Log(entry Entry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit log buffer full, dropping entry", "action", entry.Action, "topology", entry.TopologyID)
	}
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.store.InsertBatch(ctx, entries); err != nil {
		w.logger.Error("audit flush failed", "error", err, "count", len(entries))
	}
}
