package storage

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestSQLitePendingMutationsOrderedOldestFirst(t *testing.T) {
	store := mustOpenSQLite(t)

	mustAppend(t, store, queuedMutation("m-late", 3000))
	mustAppend(t, store, queuedMutation("m-early", 1000))
	mustAppend(t, store, queuedMutation("m-middle", 2000))

	records := mustPending(t, store, 0, 0)
	if len(records) != 3 {
		t.Fatalf("expected 3 pending records, got %d", len(records))
	}
	expectedOrder := []string{"m-early", "m-middle", "m-late"}
	for index, expected := range expectedOrder {
		if records[index].MutationID != expected {
			t.Fatalf("expected %q at position %d, got %q", expected, index, records[index].MutationID)
		}
	}
}

func TestSQLitePendingMutationsBreaksTiesByMutationID(t *testing.T) {
	store := mustOpenSQLite(t)

	mustAppend(t, store, queuedMutation("m-b", 1000))
	mustAppend(t, store, queuedMutation("m-a", 1000))

	records := mustPending(t, store, 0, 0)
	if len(records) != 2 {
		t.Fatalf("expected 2 pending records, got %d", len(records))
	}
	if records[0].MutationID != "m-a" || records[1].MutationID != "m-b" {
		t.Fatalf("expected tie broken by mutation id, got %q then %q",
			records[0].MutationID, records[1].MutationID)
	}
}

func TestSQLitePendingMutationsHonorsLimit(t *testing.T) {
	store := mustOpenSQLite(t)

	mustAppend(t, store, queuedMutation("m-1", 1000))
	mustAppend(t, store, queuedMutation("m-2", 2000))
	mustAppend(t, store, queuedMutation("m-3", 3000))

	records := mustPending(t, store, 2, 0)
	if len(records) != 2 {
		t.Fatalf("expected limit of 2 records, got %d", len(records))
	}
	if records[0].MutationID != "m-1" {
		t.Fatalf("limit must keep oldest-first order, got %q first", records[0].MutationID)
	}
}

func TestSQLitePendingMutationsSkipsRecentlyAttempted(t *testing.T) {
	store := mustOpenSQLite(t)

	fresh := queuedMutation("m-fresh", 1000)
	mustAppend(t, store, fresh)

	attempted := queuedMutation("m-attempted", 2000)
	attempted.Attempts = 1
	attempted.LastAttemptAtSeconds = 500
	mustAppend(t, store, attempted)

	records := mustPending(t, store, 0, 500)
	if len(records) != 1 {
		t.Fatalf("expected the recently attempted record to be filtered, got %d records", len(records))
	}
	if records[0].MutationID != "m-fresh" {
		t.Fatalf("expected m-fresh, got %q", records[0].MutationID)
	}

	records = mustPending(t, store, 0, 0)
	if len(records) != 2 {
		t.Fatalf("zero cutoff must disable the filter, got %d records", len(records))
	}
}

func TestSQLiteSaveMutationUpdatesRetryBookkeeping(t *testing.T) {
	store := mustOpenSQLite(t)
	ctx := context.Background()

	record := queuedMutation("m-1", 1000)
	mustAppend(t, store, record)

	record.Attempts = 2
	record.LastAttemptAtSeconds = 1700000000
	if err := store.SaveMutation(ctx, record); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	records := mustPending(t, store, 0, 0)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Attempts != 2 {
		t.Fatalf("expected attempts to be 2, got %d", records[0].Attempts)
	}
	if records[0].LastAttemptAtSeconds != 1700000000 {
		t.Fatalf("expected last attempt timestamp to persist, got %d", records[0].LastAttemptAtSeconds)
	}
}

func TestSQLiteDeleteMutationIsIdempotent(t *testing.T) {
	store := mustOpenSQLite(t)
	ctx := context.Background()

	mustAppend(t, store, queuedMutation("m-1", 1000))

	if err := store.DeleteMutation(ctx, "m-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := store.DeleteMutation(ctx, "m-1"); err != nil {
		t.Fatalf("repeated delete must not error: %v", err)
	}
	if err := store.DeleteMutation(ctx, "m-never-existed"); err != nil {
		t.Fatalf("deleting an absent record must not error: %v", err)
	}

	count, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty queue, got %d", count)
	}
}

func TestSQLitePutEntityOverwritesByKey(t *testing.T) {
	store := mustOpenSQLite(t)
	ctx := context.Background()

	first := CacheEntry{EntityType: "patients", EntityID: "p-1", PayloadJSON: `{"name":"before"}`, UpdatedAtSeconds: 100}
	if err := store.PutEntity(ctx, first); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	second := first
	second.PayloadJSON = `{"name":"after"}`
	second.UpdatedAtSeconds = 200
	if err := store.PutEntity(ctx, second); err != nil {
		t.Fatalf("unexpected overwrite error: %v", err)
	}

	entry, err := store.GetEntity(ctx, "patients", "p-1")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if entry == nil {
		t.Fatalf("expected entry, got nil")
	}
	if entry.PayloadJSON != `{"name":"after"}` {
		t.Fatalf("expected overwritten payload, got %s", entry.PayloadJSON)
	}

	entries, err := store.EntitiesByType(ctx, "patients")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("overwrite must not duplicate, got %d entries", len(entries))
	}
}

func TestSQLiteGetEntityReturnsNilOnMiss(t *testing.T) {
	store := mustOpenSQLite(t)

	entry, err := store.GetEntity(context.Background(), "patients", "absent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected nil entry for a miss, got %#v", entry)
	}
}

func TestSQLiteDeleteEntityIsIdempotent(t *testing.T) {
	store := mustOpenSQLite(t)
	ctx := context.Background()

	entry := CacheEntry{EntityType: "patients", EntityID: "p-1", PayloadJSON: `{}`, UpdatedAtSeconds: 100}
	if err := store.PutEntity(ctx, entry); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	if err := store.DeleteEntity(ctx, "patients", "p-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := store.DeleteEntity(ctx, "patients", "p-1"); err != nil {
		t.Fatalf("repeated delete must not error: %v", err)
	}
}

func TestSQLiteEntitiesByTypeScopedToCollection(t *testing.T) {
	store := mustOpenSQLite(t)
	ctx := context.Background()

	for _, entry := range []CacheEntry{
		{EntityType: "patients", EntityID: "p-1", PayloadJSON: `{"id":"p-1"}`, UpdatedAtSeconds: 100},
		{EntityType: "patients", EntityID: "p-2", PayloadJSON: `{"id":"p-2"}`, UpdatedAtSeconds: 200},
		{EntityType: "visits", EntityID: "v-1", PayloadJSON: `{"id":"v-1"}`, UpdatedAtSeconds: 300},
	} {
		if err := store.PutEntity(ctx, entry); err != nil {
			t.Fatalf("unexpected put error: %v", err)
		}
	}

	entries, err := store.EntitiesByType(ctx, "patients")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 patients, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.EntityType != "patients" {
			t.Fatalf("unexpected entity type %q in collection scan", entry.EntityType)
		}
	}
}

func TestSQLiteClientInstanceIDIsStable(t *testing.T) {
	store := mustOpenSQLite(t)
	ctx := context.Background()

	first, err := store.ClientInstanceID(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == "" {
		t.Fatalf("expected a generated client instance id")
	}

	second, err := store.ClientInstanceID(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != first {
		t.Fatalf("client instance id must be stable, got %q then %q", first, second)
	}
}

func TestSQLiteQueueSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	store, err := openSQLiteStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	mustAppend(t, store, queuedMutation("m-1", 1000))
	if err := store.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	reopened, err := openSQLiteStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected reopen error: %v", err)
	}
	defer reopened.Close()

	records := mustPending(t, reopened, 0, 0)
	if len(records) != 1 || records[0].MutationID != "m-1" {
		t.Fatalf("expected queued record to survive reopen, got %#v", records)
	}
}
