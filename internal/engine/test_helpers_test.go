package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/medqueuehq/syncbridge/internal/remote"
	"github.com/medqueuehq/syncbridge/internal/storage"
)

// fakeMonitor implements Connectivity with test-controlled status. setOnline
// follows real transition semantics (notify on change only); forceStatus
// moves the status without notifying, for quiet test setup.
type fakeMonitor struct {
	mu        sync.Mutex
	online    bool
	nextID    int64
	callbacks map[int64]func(online bool)
}

func newFakeMonitor(online bool) *fakeMonitor {
	return &fakeMonitor{online: online, callbacks: make(map[int64]func(online bool))}
}

func (monitor *fakeMonitor) Status() bool {
	monitor.mu.Lock()
	defer monitor.mu.Unlock()
	return monitor.online
}

func (monitor *fakeMonitor) Subscribe(callback func(online bool)) func() {
	monitor.mu.Lock()
	defer monitor.mu.Unlock()
	monitor.nextID++
	id := monitor.nextID
	monitor.callbacks[id] = callback
	return func() {
		monitor.mu.Lock()
		defer monitor.mu.Unlock()
		delete(monitor.callbacks, id)
	}
}

func (monitor *fakeMonitor) ReportSuccess() { monitor.setOnline(true) }
func (monitor *fakeMonitor) ReportFailure() { monitor.setOnline(false) }

func (monitor *fakeMonitor) setOnline(online bool) {
	monitor.mu.Lock()
	if monitor.online == online {
		monitor.mu.Unlock()
		return
	}
	monitor.online = online
	callbacks := make([]func(online bool), 0, len(monitor.callbacks))
	for _, callback := range monitor.callbacks {
		callbacks = append(callbacks, callback)
	}
	monitor.mu.Unlock()
	for _, callback := range callbacks {
		callback(online)
	}
}

func (monitor *fakeMonitor) forceStatus(online bool) {
	monitor.mu.Lock()
	defer monitor.mu.Unlock()
	monitor.online = online
}

type batchCall struct {
	entityType string
	operations []remote.BatchOperation
}

// fakeRemote implements RemoteAPI with programmable behavior. The zero value
// acknowledges every batch as fully successful and misses every read.
type fakeRemote struct {
	mu      sync.Mutex
	batches []batchCall

	sendBatch     func(entityType string, operations []remote.BatchOperation) (remote.BatchResult, error)
	fetchEntity   func(entityType, entityID string) (json.RawMessage, error)
	fetchEntities func(entityType string, queryParams url.Values) ([]json.RawMessage, error)
}

func (api *fakeRemote) SendBatch(_ context.Context, entityType string, operations []remote.BatchOperation) (remote.BatchResult, error) {
	api.mu.Lock()
	copied := make([]remote.BatchOperation, len(operations))
	copy(copied, operations)
	api.batches = append(api.batches, batchCall{entityType: entityType, operations: copied})
	handler := api.sendBatch
	api.mu.Unlock()

	if handler != nil {
		return handler(entityType, operations)
	}
	successful := make([]string, 0, len(operations))
	for _, operation := range operations {
		successful = append(successful, operation.ID)
	}
	return remote.BatchResult{Successful: successful}, nil
}

func (api *fakeRemote) FetchEntity(_ context.Context, entityType, entityID string) (json.RawMessage, error) {
	if api.fetchEntity != nil {
		return api.fetchEntity(entityType, entityID)
	}
	return nil, remote.ErrNotFound
}

func (api *fakeRemote) FetchEntities(_ context.Context, entityType string, queryParams url.Values) ([]json.RawMessage, error) {
	if api.fetchEntities != nil {
		return api.fetchEntities(entityType, queryParams)
	}
	return nil, nil
}

func (api *fakeRemote) batchCalls() []batchCall {
	api.mu.Lock()
	defer api.mu.Unlock()
	copied := make([]batchCall, len(api.batches))
	copy(copied, api.batches)
	return copied
}

// seqIDProvider issues deterministic, lexicographically ordered identifiers.
type seqIDProvider struct {
	mu   sync.Mutex
	next int
}

func (provider *seqIDProvider) NewID() (string, error) {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	provider.next++
	return fmt.Sprintf("id-%04d", provider.next), nil
}

// stepClock advances one millisecond per reading so enqueue timestamps are
// strictly increasing.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Millisecond)
		return current
	}
}

func mustOpenStore(t *testing.T) storage.Store {
	t.Helper()
	path := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	store, err := storage.Open(storage.OpenConfig{Strategy: "sqlite", DatabasePath: path})
	if err != nil {
		t.Fatalf("unexpected store open error: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("unexpected store close error: %v", err)
		}
	})
	return store
}

type engineFixture struct {
	engine  *Engine
	store   storage.Store
	remote  *fakeRemote
	monitor *fakeMonitor
}

func newEngineFixture(t *testing.T, mutate func(cfg *EngineConfig)) engineFixture {
	t.Helper()

	store := mustOpenStore(t)
	api := &fakeRemote{}
	monitor := newFakeMonitor(false)

	cfg := EngineConfig{
		Store:      store,
		Remote:     api,
		Monitor:    monitor,
		MaxRetries: 5,
		RetryDelay: 0,
		BatchSize:  50,
		Conflicts:  ServerWins(),
		Clock:      stepClock(time.Unix(1700000000, 0).UTC()),
		IDProvider: &seqIDProvider{},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	syncEngine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}
	t.Cleanup(syncEngine.Close)

	return engineFixture{engine: syncEngine, store: store, remote: api, monitor: monitor}
}

func mustEnqueue(t *testing.T, fixture engineFixture, entityType, operation, payload, entityID string) string {
	t.Helper()
	var raw json.RawMessage
	if payload != "" {
		raw = json.RawMessage(payload)
	}
	resultID, err := fixture.engine.Enqueue(context.Background(), entityType, operation, raw, entityID)
	if err != nil {
		t.Fatalf("unexpected enqueue error: %v", err)
	}
	return resultID
}

func mustPendingCount(t *testing.T, store storage.Store) int64 {
	t.Helper()
	count, err := store.PendingCount(context.Background())
	if err != nil {
		t.Fatalf("unexpected pending count error: %v", err)
	}
	return count
}
