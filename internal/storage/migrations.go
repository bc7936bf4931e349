package storage

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationDropConfirmedMutations = "2026-04-09_drop_confirmed_mutations"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "schema_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

// applyMigrations runs named forward migrations exactly once each, recording
// them in the schema_migrations ledger so reopening the store at a newer
// schema version never destroys existing data.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationDropConfirmedMutations, apply: dropConfirmedMutations},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("storage migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// dropConfirmedMutations removes confirmed rows left behind by clients that
// kept synced records in the queue instead of deleting them on confirmation.
func dropConfirmedMutations(db *gorm.DB) error {
	return db.Where(queryUnsynced, true).Delete(&MutationRecord{}).Error
}
