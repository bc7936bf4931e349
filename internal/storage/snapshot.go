package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const snapshotSchemaVersion = 1

// snapshotState is the serialized form of the whole store: both collections
// travel as one blob, which is what makes this backend viable when no
// database engine is available.
type snapshotState struct {
	SchemaVersion    int              `json:"schema_version"`
	ClientInstanceID string           `json:"client_instance_id,omitempty"`
	Mutations        []MutationRecord `json:"mutations"`
	Entities         []CacheEntry     `json:"entities"`
}

// snapshotStore is the degraded secondary backend: a single JSON file written
// atomically on every mutation. No indexed queries; scans happen in memory.
type snapshotStore struct {
	mu     sync.Mutex
	path   string
	state  snapshotState
	logger *zap.Logger
}

func openSnapshotStore(path string, logger *zap.Logger) (Store, error) {
	if path == "" {
		return nil, fmt.Errorf("storage: snapshot path is required")
	}

	store := &snapshotStore{
		path:   path,
		state:  snapshotState{SchemaVersion: snapshotSchemaVersion},
		logger: logger,
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := store.persistLocked(); err != nil {
			return nil, err
		}
		return store, nil
	}
	if err != nil {
		return nil, err
	}

	var state snapshotState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("storage: corrupt snapshot file %s: %w", path, err)
	}
	if state.SchemaVersion > snapshotSchemaVersion {
		return nil, fmt.Errorf("storage: snapshot schema version %d is newer than supported %d",
			state.SchemaVersion, snapshotSchemaVersion)
	}
	state.SchemaVersion = snapshotSchemaVersion
	store.state = state

	if logger != nil {
		logger.Info("snapshot store initialized",
			zap.String("path", path),
			zap.Int("pending_mutations", len(state.Mutations)))
	}
	return store, nil
}

func (store *snapshotStore) AppendMutation(_ context.Context, record MutationRecord) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	for index := range store.state.Mutations {
		if store.state.Mutations[index].MutationID == record.MutationID {
			store.state.Mutations[index] = record
			return store.persistLocked()
		}
	}
	store.state.Mutations = append(store.state.Mutations, record)
	return store.persistLocked()
}

func (store *snapshotStore) SaveMutation(ctx context.Context, record MutationRecord) error {
	return store.AppendMutation(ctx, record)
}

func (store *snapshotStore) PendingMutations(_ context.Context, limit int, attemptedBefore int64) ([]MutationRecord, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	pending := make([]MutationRecord, 0, len(store.state.Mutations))
	for _, record := range store.state.Mutations {
		if record.Synced {
			continue
		}
		if attemptedBefore > 0 && record.LastAttemptAtSeconds >= attemptedBefore {
			continue
		}
		pending = append(pending, record)
	}

	sort.Slice(pending, func(left, right int) bool {
		if pending[left].EnqueuedAtNanos != pending[right].EnqueuedAtNanos {
			return pending[left].EnqueuedAtNanos < pending[right].EnqueuedAtNanos
		}
		return pending[left].MutationID < pending[right].MutationID
	})

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (store *snapshotStore) DeleteMutation(_ context.Context, mutationID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	for index, record := range store.state.Mutations {
		if record.MutationID == mutationID {
			store.state.Mutations = append(store.state.Mutations[:index], store.state.Mutations[index+1:]...)
			return store.persistLocked()
		}
	}
	return nil
}

func (store *snapshotStore) PendingCount(_ context.Context) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	var count int64
	for _, record := range store.state.Mutations {
		if !record.Synced {
			count++
		}
	}
	return count, nil
}

func (store *snapshotStore) PutEntity(_ context.Context, entry CacheEntry) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	for index := range store.state.Entities {
		if store.state.Entities[index].EntityType == entry.EntityType &&
			store.state.Entities[index].EntityID == entry.EntityID {
			store.state.Entities[index] = entry
			return store.persistLocked()
		}
	}
	store.state.Entities = append(store.state.Entities, entry)
	return store.persistLocked()
}

func (store *snapshotStore) GetEntity(_ context.Context, entityType, entityID string) (*CacheEntry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	for _, entry := range store.state.Entities {
		if entry.EntityType == entityType && entry.EntityID == entityID {
			found := entry
			return &found, nil
		}
	}
	return nil, nil
}

func (store *snapshotStore) EntitiesByType(_ context.Context, entityType string) ([]CacheEntry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	entries := make([]CacheEntry, 0)
	for _, entry := range store.state.Entities {
		if entry.EntityType == entityType {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(left, right int) bool {
		return entries[left].UpdatedAtSeconds > entries[right].UpdatedAtSeconds
	})
	return entries, nil
}

func (store *snapshotStore) DeleteEntity(_ context.Context, entityType, entityID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	for index, entry := range store.state.Entities {
		if entry.EntityType == entityType && entry.EntityID == entityID {
			store.state.Entities = append(store.state.Entities[:index], store.state.Entities[index+1:]...)
			return store.persistLocked()
		}
	}
	return nil
}

func (store *snapshotStore) ClientInstanceID(_ context.Context) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.state.ClientInstanceID != "" {
		return store.state.ClientInstanceID, nil
	}
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	store.state.ClientInstanceID = value.String()
	if err := store.persistLocked(); err != nil {
		return "", err
	}
	return store.state.ClientInstanceID, nil
}

func (store *snapshotStore) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.persistLocked()
}

// persistLocked writes the full state via a temp file and rename so a crash
// mid-write never leaves a truncated snapshot. Callers must hold the mutex.
func (store *snapshotStore) persistLocked() error {
	raw, err := json.Marshal(store.state)
	if err != nil {
		return err
	}

	dir := filepath.Dir(store.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(store.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, store.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
