package storage

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrNoBackend indicates that no durable backend could be opened.
var ErrNoBackend = errors.New("storage: no durable backend available")

// Store is the durable local store backing the sync engine: a mutation queue
// and an entity cache, plus client-scoped metadata.
//
// Deletes are idempotent; removing an absent key is not an error. All writes
// are durable across process restarts.
type Store interface {
	// AppendMutation durably adds a mutation record to the queue.
	AppendMutation(ctx context.Context, record MutationRecord) error

	// SaveMutation overwrites a queued record, used for retry bookkeeping.
	SaveMutation(ctx context.Context, record MutationRecord) error

	// PendingMutations returns up to limit unsynced records ordered
	// oldest-first, excluding records attempted at or after attemptedBefore
	// (unix seconds). A zero attemptedBefore disables the spacing filter.
	PendingMutations(ctx context.Context, limit int, attemptedBefore int64) ([]MutationRecord, error)

	// DeleteMutation removes a record from the queue by mutation id.
	DeleteMutation(ctx context.Context, mutationID string) error

	// PendingCount reports the number of unsynced records in the queue.
	PendingCount(ctx context.Context) (int64, error)

	// PutEntity inserts or overwrites a cache entry by (entityType, entityID).
	PutEntity(ctx context.Context, entry CacheEntry) error

	// GetEntity returns the cache entry or nil when absent.
	GetEntity(ctx context.Context, entityType, entityID string) (*CacheEntry, error)

	// EntitiesByType returns all cache entries for a collection tag.
	EntitiesByType(ctx context.Context, entityType string) ([]CacheEntry, error)

	// DeleteEntity removes a cache entry.
	DeleteEntity(ctx context.Context, entityType, entityID string) error

	// ClientInstanceID returns the stable client instance identifier,
	// generating and persisting one on first use.
	ClientInstanceID(ctx context.Context) (string, error)

	// Close releases the underlying backend.
	Close() error
}

// OpenConfig describes the durable backends to use.
type OpenConfig struct {
	// Strategy is one of "sqlite", "snapshot", or "both".
	Strategy     string
	DatabasePath string
	SnapshotPath string
	Logger       *zap.Logger
}

// Open selects and initializes the durable backend once at construction time.
//
// When the primary database cannot be opened the store degrades to the
// snapshot backend: whole-collection reads and writes against a single JSON
// blob, trading indexed queries for guaranteed durability.
func Open(cfg OpenConfig) (Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Strategy {
	case "snapshot":
		return openSnapshotStore(cfg.SnapshotPath, logger)

	case "both":
		primary, err := openSQLiteStore(cfg.DatabasePath, logger)
		if err != nil {
			logger.Warn("primary store unavailable, degrading to snapshot backend",
				zap.String("database_path", cfg.DatabasePath), zap.Error(err))
			return openSnapshotStore(cfg.SnapshotPath, logger)
		}
		secondary, err := openSnapshotStore(cfg.SnapshotPath, logger)
		if err != nil {
			logger.Warn("snapshot mirror unavailable, continuing with primary only",
				zap.String("snapshot_path", cfg.SnapshotPath), zap.Error(err))
			return primary, nil
		}
		return &mirrorStore{primary: primary, secondary: secondary, logger: logger}, nil

	default:
		primary, err := openSQLiteStore(cfg.DatabasePath, logger)
		if err == nil {
			return primary, nil
		}
		logger.Warn("primary store unavailable, degrading to snapshot backend",
			zap.String("database_path", cfg.DatabasePath), zap.Error(err))
		fallback, fallbackErr := openSnapshotStore(cfg.SnapshotPath, logger)
		if fallbackErr != nil {
			return nil, errors.Join(ErrNoBackend, err, fallbackErr)
		}
		return fallback, nil
	}
}

// mirrorStore writes to both backends and reads from the primary. Mirror
// failures are logged, never fatal: the snapshot exists to survive the
// primary disappearing, not the other way around.
type mirrorStore struct {
	primary   Store
	secondary Store
	logger    *zap.Logger
}

func (store *mirrorStore) AppendMutation(ctx context.Context, record MutationRecord) error {
	if err := store.primary.AppendMutation(ctx, record); err != nil {
		return err
	}
	store.mirror("append_mutation", store.secondary.AppendMutation(ctx, record))
	return nil
}

func (store *mirrorStore) SaveMutation(ctx context.Context, record MutationRecord) error {
	if err := store.primary.SaveMutation(ctx, record); err != nil {
		return err
	}
	store.mirror("save_mutation", store.secondary.SaveMutation(ctx, record))
	return nil
}

func (store *mirrorStore) PendingMutations(ctx context.Context, limit int, attemptedBefore int64) ([]MutationRecord, error) {
	return store.primary.PendingMutations(ctx, limit, attemptedBefore)
}

func (store *mirrorStore) DeleteMutation(ctx context.Context, mutationID string) error {
	if err := store.primary.DeleteMutation(ctx, mutationID); err != nil {
		return err
	}
	store.mirror("delete_mutation", store.secondary.DeleteMutation(ctx, mutationID))
	return nil
}

func (store *mirrorStore) PendingCount(ctx context.Context) (int64, error) {
	return store.primary.PendingCount(ctx)
}

func (store *mirrorStore) PutEntity(ctx context.Context, entry CacheEntry) error {
	if err := store.primary.PutEntity(ctx, entry); err != nil {
		return err
	}
	store.mirror("put_entity", store.secondary.PutEntity(ctx, entry))
	return nil
}

func (store *mirrorStore) GetEntity(ctx context.Context, entityType, entityID string) (*CacheEntry, error) {
	return store.primary.GetEntity(ctx, entityType, entityID)
}

func (store *mirrorStore) EntitiesByType(ctx context.Context, entityType string) ([]CacheEntry, error) {
	return store.primary.EntitiesByType(ctx, entityType)
}

func (store *mirrorStore) DeleteEntity(ctx context.Context, entityType, entityID string) error {
	if err := store.primary.DeleteEntity(ctx, entityType, entityID); err != nil {
		return err
	}
	store.mirror("delete_entity", store.secondary.DeleteEntity(ctx, entityType, entityID))
	return nil
}

func (store *mirrorStore) ClientInstanceID(ctx context.Context) (string, error) {
	return store.primary.ClientInstanceID(ctx)
}

func (store *mirrorStore) Close() error {
	secondaryErr := store.secondary.Close()
	primaryErr := store.primary.Close()
	if primaryErr != nil {
		return primaryErr
	}
	return secondaryErr
}

func (store *mirrorStore) mirror(operation string, err error) {
	if err != nil {
		store.logger.Warn("snapshot mirror write failed",
			zap.String("operation", operation), zap.Error(err))
	}
}
