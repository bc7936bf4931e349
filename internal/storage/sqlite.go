package storage

import (
	"context"
	"errors"
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	fieldMutationID   = "mutation_id"
	fieldEntityType   = "entity_type"
	queryMutationID   = fieldMutationID + " = ?"
	queryEntityType   = fieldEntityType + " = ?"
	queryEntityKey    = fieldEntityType + " = ? AND entity_id = ?"
	queryUnsynced     = "synced = ?"
	queryNotAttempted = "last_attempt_at_s < ?"
	orderEnqueuedAsc  = "enqueued_at_ns ASC, mutation_id ASC"
)

type sqliteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// openSQLiteStore establishes the SQLite connection and performs schema migrations.
func openSQLiteStore(path string, logger *zap.Logger) (Store, error) {
	if path == "" {
		return nil, fmt.Errorf("storage: database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&MutationRecord{}, &CacheEntry{}, &metadataRecord{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("durable store initialized", zap.String("path", path))
	}

	return &sqliteStore{db: db, logger: logger}, nil
}

func (store *sqliteStore) AppendMutation(ctx context.Context, record MutationRecord) error {
	return store.db.WithContext(ctx).Create(&record).Error
}

func (store *sqliteStore) SaveMutation(ctx context.Context, record MutationRecord) error {
	return store.db.WithContext(ctx).Save(&record).Error
}

func (store *sqliteStore) PendingMutations(ctx context.Context, limit int, attemptedBefore int64) ([]MutationRecord, error) {
	query := store.db.WithContext(ctx).
		Where(queryUnsynced, false).
		Order(orderEnqueuedAsc)
	if attemptedBefore > 0 {
		query = query.Where(queryNotAttempted, attemptedBefore)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []MutationRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (store *sqliteStore) DeleteMutation(ctx context.Context, mutationID string) error {
	return store.db.WithContext(ctx).
		Where(queryMutationID, mutationID).
		Delete(&MutationRecord{}).Error
}

func (store *sqliteStore) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&MutationRecord{}).
		Where(queryUnsynced, false).
		Count(&count).Error
	return count, err
}

func (store *sqliteStore) PutEntity(ctx context.Context, entry CacheEntry) error {
	return store.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&entry).Error
}

func (store *sqliteStore) GetEntity(ctx context.Context, entityType, entityID string) (*CacheEntry, error) {
	var entry CacheEntry
	err := store.db.WithContext(ctx).
		Where(queryEntityKey, entityType, entityID).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (store *sqliteStore) EntitiesByType(ctx context.Context, entityType string) ([]CacheEntry, error) {
	var entries []CacheEntry
	if err := store.db.WithContext(ctx).
		Where(queryEntityType, entityType).
		Order("updated_at_s DESC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (store *sqliteStore) DeleteEntity(ctx context.Context, entityType, entityID string) error {
	return store.db.WithContext(ctx).
		Where(queryEntityKey, entityType, entityID).
		Delete(&CacheEntry{}).Error
}

func (store *sqliteStore) ClientInstanceID(ctx context.Context) (string, error) {
	var record metadataRecord
	err := store.db.WithContext(ctx).
		Where("key = ?", metadataKeyClientInstanceID).
		Take(&record).Error
	if err == nil {
		return record.Value, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	record = metadataRecord{Key: metadataKeyClientInstanceID, Value: value.String()}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", err
	}
	return record.Value, nil
}

func (store *sqliteStore) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
