package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func mustOpenSQLite(t *testing.T) Store {
	t.Helper()
	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	store, err := openSQLiteStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected sqlite open error: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("unexpected close error: %v", err)
		}
	})
	return store
}

func mustOpenSnapshot(t *testing.T, path string) Store {
	t.Helper()
	store, err := openSnapshotStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected snapshot open error: %v", err)
	}
	return store
}

func snapshotPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "queue.json")
}

func mustAppend(t *testing.T, store Store, record MutationRecord) {
	t.Helper()
	if err := store.AppendMutation(context.Background(), record); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
}

func mustPending(t *testing.T, store Store, limit int, attemptedBefore int64) []MutationRecord {
	t.Helper()
	records, err := store.PendingMutations(context.Background(), limit, attemptedBefore)
	if err != nil {
		t.Fatalf("unexpected pending read error: %v", err)
	}
	return records
}

func queuedMutation(mutationID string, enqueuedAtNanos int64) MutationRecord {
	return MutationRecord{
		MutationID:      mutationID,
		EntityType:      "patients",
		EntityID:        "patient-" + mutationID,
		Operation:       OperationTypeUpdate,
		PayloadJSON:     `{"name":"test"}`,
		EnqueuedAtNanos: enqueuedAtNanos,
	}
}
