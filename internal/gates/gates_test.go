package gates_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"currents/internal/gates"
	"currents/internal/queue"
	"currents/internal/testsupport"
)

type memoryStore struct {
	flags map[string]bool
	reads int
	fail  bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{flags: make(map[string]bool)}
}

func (m *memoryStore) Get(_ context.Context, key string) (bool, bool, error) {
	m.reads++
	if m.fail {
		return false, false, errors.New("backend down")
	}
	enabled, found := m.flags[key]
	return enabled, found, nil
}

func (m *memoryStore) Set(_ context.Context, key string, enabled bool) error {
	m.flags[key] = enabled
	return nil
}

func (m *memoryStore) All(context.Context) (map[string]bool, error) {
	cp := make(map[string]bool, len(m.flags))
	for k, v := range m.flags {
		cp[k] = v
	}
	return cp, nil
}

func (m *memoryStore) Close() error { return nil }

func TestIsEnabledCachesWithinTTL(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	store.flags[string(queue.StageEmbedding)] = true
	clock := testsupport.NewClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	gate := gates.New(store, time.Minute, gates.WithClock(clock.Now))

	if !gate.IsEnabled(ctx, queue.StageEmbedding) {
		t.Fatal("expected embedding enabled")
	}
	reads := store.reads

	// A toggle in the backing store stays invisible until the TTL lapses.
	store.flags[string(queue.StageEmbedding)] = false
	if !gate.IsEnabled(ctx, queue.StageEmbedding) {
		t.Fatal("expected cached value within TTL")
	}
	if store.reads != reads {
		t.Fatal("expected no backend read within TTL")
	}

	clock.Advance(61 * time.Second)
	if gate.IsEnabled(ctx, queue.StageEmbedding) {
		t.Fatal("expected toggle visible after TTL expiry")
	}
}

func TestSetRefreshesCacheImmediately(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	clock := testsupport.NewClock(time.Now())
	gate := gates.New(store, time.Minute, gates.WithClock(clock.Now))

	if !gate.IsEnabled(ctx, queue.StageEventClustering) {
		t.Fatal("expected clustering enabled by default")
	}
	if err := gate.Set(ctx, queue.StageEventClustering, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if gate.IsEnabled(ctx, queue.StageEventClustering) {
		t.Fatal("expected Set to bypass the stale cache entry")
	}
}

func TestDefaultsWhenUnsetOrBackendFails(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	gate := gates.New(store, time.Minute)

	if !gate.IsEnabled(ctx, queue.StageContentAnalysis) {
		t.Fatal("expected content_analysis enabled by default")
	}
	if gate.IsEnabled(ctx, queue.StageTranslate) {
		t.Fatal("expected translate disabled by default")
	}

	failing := newMemoryStore()
	failing.fail = true
	gate = gates.New(failing, time.Minute)
	if !gate.IsEnabled(ctx, queue.StageEmbedding) {
		t.Fatal("expected default on backend failure")
	}
}

func TestAllMergesDefaultsWithStoredFlags(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	store.flags[string(queue.StageReportGeneration)] = false
	gate := gates.New(store, time.Minute)

	flags, err := gate.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(flags) != len(queue.AllStages()) {
		t.Fatalf("expected a flag per stage, got %d", len(flags))
	}
	if flags[queue.StageReportGeneration] {
		t.Fatal("expected stored override to win")
	}
	if flags[queue.StageTranslate] {
		t.Fatal("expected translate default off")
	}
	if !flags[queue.StageEmbedding] {
		t.Fatal("expected embedding default on")
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "pipeline.db")

	store, err := gates.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if _, found, err := store.Get(ctx, "embedding"); err != nil || found {
		t.Fatalf("expected missing key, found=%v err=%v", found, err)
	}
	if err := store.Set(ctx, "embedding", false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	enabled, found, err := store.Get(ctx, "embedding")
	if err != nil || !found || enabled {
		t.Fatalf("unexpected read: enabled=%v found=%v err=%v", enabled, found, err)
	}

	// Upsert flips in place.
	if err := store.Set(ctx, "embedding", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if !all["embedding"] {
		t.Fatalf("expected embedding true after upsert: %+v", all)
	}
}
