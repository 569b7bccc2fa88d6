package audit

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

type fakeStore struct {
	batches [][]Entry
}

func (f *fakeStore) InsertBatch(ctx context.Context, entries []Entry) error {
	f.batches = append(f.batches, append([]Entry(nil), entries...))
	return nil
}

func TestLogDropsWhenBufferFull(t *testing.T) {
	w := NewWriter(&fakeStore{}, slog.Default())
	// Don't Start — nothing drains the channel.

	for i := 0; i < bufferSize; i++ {
		w.Log(Entry{Action: "test"})
	}
	w.Log(Entry{Action: "dropped"})

	if len(w.entries) != bufferSize {
		t.Errorf("buffer size = %d, want %d", len(w.entries), bufferSize)
	}
}

func TestLogAssignsEntryID(t *testing.T) {
	store := &fakeStore{}
	w := NewWriter(store, slog.Default())

	w.Log(Entry{Action: "create_topology"})

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()
	w.Close()

	if len(store.batches) != 1 || len(store.batches[0]) != 1 {
		t.Fatalf("expected exactly one flushed entry, got %v", store.batches)
	}
	if store.batches[0][0].ID == uuid.Nil {
		t.Fatalf("expected Log to assign an entry id")
	}
}

func TestCloseFlushesPendingEntries(t *testing.T) {
	store := &fakeStore{}
	w := NewWriter(store, slog.Default())

	topologyID := uuid.New()
	w.Log(Entry{Actor: "alice", Action: "create_element", TopologyID: topologyID})
	w.Log(Entry{Actor: "alice", Action: "action_prepare", TopologyID: topologyID})

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()
	w.Close()

	var total int
	for _, batch := range store.batches {
		total += len(batch)
	}
	if total != 2 {
		t.Fatalf("expected 2 entries flushed across all batches, got %d", total)
	}
}

func TestFlushBatchesAtThreshold(t *testing.T) {
	store := &fakeStore{}
	w := NewWriter(store, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	for i := 0; i < flushBatch; i++ {
		w.Log(Entry{Action: "bulk"})
	}

	cancel()
	w.Close()

	if len(store.batches) == 0 {
		t.Fatal("expected at least one flushed batch")
	}
	if len(store.batches[0]) != flushBatch {
		t.Errorf("first batch size = %d, want %d", len(store.batches[0]), flushBatch)
	}
}
