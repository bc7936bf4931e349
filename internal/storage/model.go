package storage

import (
	"errors"
	"fmt"
	"strings"
)

// OperationType enumerates supported client mutations.
type OperationType string

const (
	// OperationTypeCreate introduces a new entity with a client-generated identifier.
	OperationTypeCreate OperationType = "create"
	// OperationTypeUpdate replaces the payload of an existing entity.
	OperationTypeUpdate OperationType = "update"
	// OperationTypeDelete removes an entity.
	OperationTypeDelete OperationType = "delete"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidEntityType indicates that an entity type tag is empty or exceeds storage bounds.
	ErrInvalidEntityType = errors.New("storage: invalid entity type")
	// ErrInvalidEntityID indicates that an entity identifier is empty or exceeds storage bounds.
	ErrInvalidEntityID = errors.New("storage: invalid entity id")
	// ErrInvalidOperation indicates that an operation tag is not create, update, or delete.
	ErrInvalidOperation = errors.New("storage: invalid operation")
)

// EntityType represents a validated logical collection tag ("patients", "queueEntries").
type EntityType string

// NewEntityType validates raw input and returns an EntityType.
func NewEntityType(rawInput string) (EntityType, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEntityType)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidEntityType, maxIdentifierLength)
	}
	if strings.ContainsAny(trimmed, "/ ") {
		return "", fmt.Errorf("%w: contains path separators", ErrInvalidEntityType)
	}
	return EntityType(trimmed), nil
}

// String returns the underlying collection tag.
func (entityType EntityType) String() string {
	return string(entityType)
}

// EntityID represents a validated entity identifier.
type EntityID string

// NewEntityID validates raw input and returns an EntityID.
func NewEntityID(rawInput string) (EntityID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEntityID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidEntityID, maxIdentifierLength)
	}
	return EntityID(trimmed), nil
}

// String returns the underlying string identifier.
func (id EntityID) String() string {
	return string(id)
}

// ParseOperationType validates a raw operation tag.
func ParseOperationType(rawInput string) (OperationType, error) {
	switch OperationType(strings.ToLower(strings.TrimSpace(rawInput))) {
	case OperationTypeCreate:
		return OperationTypeCreate, nil
	case OperationTypeUpdate:
		return OperationTypeUpdate, nil
	case OperationTypeDelete:
		return OperationTypeDelete, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOperation, rawInput)
	}
}

// MutationRecord models one pending change awaiting server confirmation.
//
// Records are ordered by enqueue time (nanoseconds, ties broken by the
// time-sortable mutation id) and only unsynced records survive in the queue.
type MutationRecord struct {
	MutationID           string        `gorm:"column:mutation_id;primaryKey;size:190;not null"`
	EntityType           string        `gorm:"column:entity_type;size:190;not null;index:idx_mutations_type"`
	EntityID             string        `gorm:"column:entity_id;size:190;not null"`
	Operation            OperationType `gorm:"column:op;size:16;not null"`
	PayloadJSON          string        `gorm:"column:payload_json;type:text;not null"`
	EnqueuedAtNanos      int64         `gorm:"column:enqueued_at_ns;not null;index:idx_mutations_enqueued"`
	Synced               bool          `gorm:"column:synced;not null;default:false;index:idx_mutations_synced"`
	Attempts             int           `gorm:"column:attempts;not null;default:0"`
	LastAttemptAtSeconds int64         `gorm:"column:last_attempt_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (MutationRecord) TableName() string {
	return "mutation_queue"
}

// CacheEntry models the last known-good or optimistically-applied snapshot of
// a server entity. Readers must treat it as possibly stale while offline.
type CacheEntry struct {
	EntityType       string `gorm:"column:entity_type;primaryKey;size:190;not null"`
	EntityID         string `gorm:"column:entity_id;primaryKey;size:190;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CacheEntry) TableName() string {
	return "entity_cache"
}

// metadataRecord stores client-scoped key/value state, currently the stable
// client instance id used to tag batches for server-side diagnostics.
type metadataRecord struct {
	Key   string `gorm:"column:key;primaryKey;size:190;not null"`
	Value string `gorm:"column:value;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (metadataRecord) TableName() string {
	return "client_metadata"
}

const metadataKeyClientInstanceID = "client_instance_id"
