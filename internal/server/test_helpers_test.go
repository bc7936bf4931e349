package server

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"

	"github.com/medqueuehq/syncbridge/internal/remote"
	"github.com/medqueuehq/syncbridge/internal/storage"
)

// noopStore satisfies storage.Store for engine construction in tests that
// never reach the store.
type noopStore struct{}

func (noopStore) AppendMutation(context.Context, storage.MutationRecord) error { return nil }

func (noopStore) SaveMutation(context.Context, storage.MutationRecord) error { return nil }

func (noopStore) PendingMutations(context.Context, int, int64) ([]storage.MutationRecord, error) {
	return nil, nil
}

func (noopStore) DeleteMutation(context.Context, string) error { return nil }

func (noopStore) PendingCount(context.Context) (int64, error) { return 0, nil }

func (noopStore) PutEntity(context.Context, storage.CacheEntry) error { return nil }

func (noopStore) GetEntity(context.Context, string, string) (*storage.CacheEntry, error) {
	return nil, nil
}

func (noopStore) EntitiesByType(context.Context, string) ([]storage.CacheEntry, error) {
	return nil, nil
}

func (noopStore) DeleteEntity(context.Context, string, string) error { return nil }

func (noopStore) ClientInstanceID(context.Context) (string, error) { return "test-client", nil }

func (noopStore) Close() error { return nil }

func mustNoopStore(t *testing.T) storage.Store {
	t.Helper()
	return noopStore{}
}

type noopRemote struct{}

func (noopRemote) SendBatch(context.Context, string, []remote.BatchOperation) (remote.BatchResult, error) {
	return remote.BatchResult{}, nil
}
func (noopRemote) FetchEntity(context.Context, string, string) (json.RawMessage, error) {
	return nil, remote.ErrNotFound
}
func (noopRemote) FetchEntities(context.Context, string, url.Values) ([]json.RawMessage, error) {
	return nil, nil
}

type noopMonitor struct{}

func (noopMonitor) Status() bool { return false }

func (noopMonitor) Subscribe(func(online bool)) func() { return func() {} }

func (noopMonitor) ReportSuccess() {}

func (noopMonitor) ReportFailure() {}
