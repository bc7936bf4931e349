// Package engine reconciles locally-issued mutations with the remote API:
// at-least-once delivery from a durable queue, with idempotent server-side
// dedup expected via stable entity identifiers.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/medqueuehq/syncbridge/internal/remote"
	"github.com/medqueuehq/syncbridge/internal/storage"
	"go.uber.org/zap"
)

var (
	errMissingStore   = errors.New("durable store is required")
	errMissingRemote  = errors.New("remote api client is required")
	errMissingMonitor = errors.New("connectivity monitor is required")
	// ErrMissingEntityID indicates an update or delete was enqueued without
	// the identifier of the entity it targets.
	ErrMissingEntityID = errors.New("engine: entity id is required for update and delete")

	noOpLogger = zap.NewNop()
)

// EngineError carries an operation-coded failure reason.
type EngineError struct {
	code string
	err  error
}

func (e *EngineError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *EngineError) Unwrap() error {
	return e.err
}

// Code returns the operation-coded reason string.
func (e *EngineError) Code() string {
	return e.code
}

const (
	opEngineNew = "engine.new"
	opEnqueue   = "engine.enqueue"
	opFlush     = "engine.flush"
	opGet       = "engine.get"
	opGetAll    = "engine.get_all"
)

func newEngineError(operation, reason string, cause error) error {
	return &EngineError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// RemoteAPI is the transport contract consumed by the engine.
type RemoteAPI interface {
	SendBatch(ctx context.Context, entityType string, operations []remote.BatchOperation) (remote.BatchResult, error)
	FetchEntity(ctx context.Context, entityType, entityID string) (json.RawMessage, error)
	FetchEntities(ctx context.Context, entityType string, queryParams url.Values) ([]json.RawMessage, error)
}

// Connectivity is the reachability contract consumed by the engine.
type Connectivity interface {
	Status() bool
	Subscribe(callback func(online bool)) func()
	ReportSuccess()
	ReportFailure()
}

// EngineConfig describes the dependencies and tuning of a sync engine.
type EngineConfig struct {
	Store   storage.Store
	Remote  RemoteAPI
	Monitor Connectivity

	// MaxRetries is the attempts ceiling before a mutation is abandoned.
	MaxRetries int
	// RetryDelay is the minimum spacing between delivery attempts for the
	// same record. Zero disables the spacing filter.
	RetryDelay time.Duration
	// BatchSize bounds how many mutations one flush cycle selects.
	BatchSize int
	// SyncInterval is the periodic flush cadence used by Run while online.
	SyncInterval time.Duration

	Conflicts  ConflictResolution
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

const (
	defaultMaxRetries   = 5
	defaultBatchSize    = 50
	defaultSyncInterval = 30 * time.Second
)

// Engine owns the mutation queue and the entity cache write path. It is the
// queue's single writer: UI-facing code only reads the cache or enqueues.
type Engine struct {
	store   storage.Store
	remote  RemoteAPI
	monitor Connectivity

	maxRetries   int
	retryDelay   time.Duration
	batchSize    int
	syncInterval time.Duration
	conflicts    ConflictResolution

	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	events     *dispatcher

	mu          sync.Mutex
	syncing     bool
	lastSyncAt  time.Time
	lastResult  *FlushResult
	unsubscribe func()
}

// NewEngine constructs an engine and subscribes it to connectivity
// transitions: coming online triggers one automatic flush.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, newEngineError(opEngineNew, "missing_store", errMissingStore)
	}
	if cfg.Remote == nil {
		return nil, newEngineError(opEngineNew, "missing_remote", errMissingRemote)
	}
	if cfg.Monitor == nil {
		return nil, newEngineError(opEngineNew, "missing_monitor", errMissingMonitor)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	syncInterval := cfg.SyncInterval
	if syncInterval <= 0 {
		syncInterval = defaultSyncInterval
	}

	engine := &Engine{
		store:        cfg.Store,
		remote:       cfg.Remote,
		monitor:      cfg.Monitor,
		maxRetries:   maxRetries,
		retryDelay:   cfg.RetryDelay,
		batchSize:    batchSize,
		syncInterval: syncInterval,
		conflicts:    cfg.Conflicts,
		clock:        clock,
		idProvider:   idProvider,
		logger:       logger,
		events:       newDispatcher(),
	}

	engine.unsubscribe = cfg.Monitor.Subscribe(func(online bool) {
		engine.events.publishConnectivity(online)
		if online {
			if _, err := engine.Flush(context.Background()); err != nil {
				engine.logger.Error("reconnection flush failed", zap.Error(err))
			}
		}
	})

	return engine, nil
}

// Close detaches the engine from connectivity notifications.
func (engine *Engine) Close() {
	if engine.unsubscribe != nil {
		engine.unsubscribe()
	}
}

// Enqueue validates and durably queues one mutation, applies it to the
// entity cache optimistically, and triggers a non-blocking flush when
// online. It returns the entity identifier the mutation targets, generating
// one for creations that arrive without an id.
func (engine *Engine) Enqueue(ctx context.Context, entityType string, operation string, payload json.RawMessage, entityID string) (string, error) {
	typeTag, err := storage.NewEntityType(entityType)
	if err != nil {
		engine.logError(opEnqueue, "invalid_entity_type", err)
		return "", newEngineError(opEnqueue, "invalid_entity_type", err)
	}
	operationType, err := storage.ParseOperationType(operation)
	if err != nil {
		engine.logError(opEnqueue, "invalid_operation", err)
		return "", newEngineError(opEnqueue, "invalid_operation", err)
	}

	if operationType != storage.OperationTypeCreate && entityID == "" {
		engine.logError(opEnqueue, "missing_entity_id", ErrMissingEntityID,
			zap.String("entity_type", typeTag.String()),
			zap.String("operation", string(operationType)))
		return "", newEngineError(opEnqueue, "missing_entity_id", ErrMissingEntityID)
	}

	if operationType != storage.OperationTypeDelete && !json.Valid(payload) {
		engine.logError(opEnqueue, "invalid_payload", nil,
			zap.String("entity_type", typeTag.String()))
		return "", newEngineError(opEnqueue, "invalid_payload", fmt.Errorf("payload must be valid JSON"))
	}

	if operationType == storage.OperationTypeCreate && entityID == "" {
		payload, entityID, err = engine.ensureCreateID(payload)
		if err != nil {
			engine.logError(opEnqueue, "id_generation_failed", err)
			return "", newEngineError(opEnqueue, "id_generation_failed", err)
		}
	}
	targetID, err := storage.NewEntityID(entityID)
	if err != nil {
		engine.logError(opEnqueue, "invalid_entity_id", err)
		return "", newEngineError(opEnqueue, "invalid_entity_id", err)
	}

	mutationID, err := engine.idProvider.NewID()
	if err != nil {
		engine.logError(opEnqueue, "id_generation_failed", err)
		return "", newEngineError(opEnqueue, "id_generation_failed", err)
	}

	now := engine.clock().UTC()
	record := storage.MutationRecord{
		MutationID:      mutationID,
		EntityType:      typeTag.String(),
		EntityID:        targetID.String(),
		Operation:       operationType,
		PayloadJSON:     string(payload),
		EnqueuedAtNanos: now.UnixNano(),
	}
	if err := engine.store.AppendMutation(ctx, record); err != nil {
		engine.logError(opEnqueue, "queue_append_failed", err,
			zap.String("entity_type", typeTag.String()),
			zap.String("entity_id", targetID.String()))
		return "", newEngineError(opEnqueue, "queue_append_failed", err)
	}

	if err := engine.applyOptimistic(ctx, record, now); err != nil {
		engine.logError(opEnqueue, "cache_write_failed", err,
			zap.String("entity_type", typeTag.String()),
			zap.String("entity_id", targetID.String()))
		return "", newEngineError(opEnqueue, "cache_write_failed", err)
	}

	engine.logger.Debug("mutation enqueued",
		zap.String("mutation_id", mutationID),
		zap.String("entity_type", typeTag.String()),
		zap.String("entity_id", targetID.String()),
		zap.String("operation", string(operationType)))

	if engine.monitor.Status() {
		go func() {
			if _, err := engine.Flush(context.Background()); err != nil {
				engine.logger.Error("enqueue-triggered flush failed", zap.Error(err))
			}
		}()
	}

	return targetID.String(), nil
}

// ensureCreateID extracts the id embedded in a create payload, generating
// and injecting one when absent so the identifier stays stable across
// retries and the server can deduplicate.
func (engine *Engine) ensureCreateID(payload json.RawMessage) (json.RawMessage, string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, "", fmt.Errorf("create payload must be a JSON object: %w", err)
	}

	if rawID, ok := fields["id"]; ok {
		var existingID string
		if err := json.Unmarshal(rawID, &existingID); err == nil && existingID != "" {
			return payload, existingID, nil
		}
	}

	generated, err := engine.idProvider.NewID()
	if err != nil {
		return nil, "", err
	}
	encodedID, err := json.Marshal(generated)
	if err != nil {
		return nil, "", err
	}
	fields["id"] = encodedID
	updated, err := json.Marshal(fields)
	if err != nil {
		return nil, "", err
	}
	return updated, generated, nil
}

func (engine *Engine) applyOptimistic(ctx context.Context, record storage.MutationRecord, now time.Time) error {
	switch record.Operation {
	case storage.OperationTypeDelete:
		return engine.store.DeleteEntity(ctx, record.EntityType, record.EntityID)
	default:
		return engine.store.PutEntity(ctx, storage.CacheEntry{
			EntityType:       record.EntityType,
			EntityID:         record.EntityID,
			PayloadJSON:      record.PayloadJSON,
			UpdatedAtSeconds: now.Unix(),
		})
	}
}

// Flush performs one reconciliation pass: select pending mutations
// oldest-first, group them by entity type, deliver each group as one batch,
// and partition the results. It returns immediately with zero counts when a
// flush is already running or the engine is offline.
func (engine *Engine) Flush(ctx context.Context) (FlushResult, error) {
	engine.mu.Lock()
	if engine.syncing || !engine.monitor.Status() {
		engine.mu.Unlock()
		return FlushResult{}, nil
	}
	engine.syncing = true
	engine.mu.Unlock()

	defer func() {
		engine.mu.Lock()
		engine.syncing = false
		engine.mu.Unlock()
	}()

	result, err := engine.flushOnce(ctx)
	if err != nil {
		engine.events.publishFailure(err)
		return result, err
	}

	engine.mu.Lock()
	engine.lastSyncAt = engine.clock().UTC()
	engine.lastResult = &result
	engine.mu.Unlock()

	if result.Synced > 0 || result.Failed > 0 {
		engine.events.publishCompleted(result)
	}
	return result, nil
}

func (engine *Engine) flushOnce(ctx context.Context) (FlushResult, error) {
	var attemptedBefore int64
	if engine.retryDelay > 0 {
		attemptedBefore = engine.clock().UTC().Add(-engine.retryDelay).Unix() + 1
	}

	records, err := engine.store.PendingMutations(ctx, engine.batchSize, attemptedBefore)
	if err != nil {
		engine.logError(opFlush, "queue_read_failed", err)
		return FlushResult{}, newEngineError(opFlush, "queue_read_failed", err)
	}
	if len(records) == 0 {
		return FlushResult{}, nil
	}

	// Distinct entity types are independent failure domains; group while
	// preserving the oldest-first order inside each group.
	groupOrder := make([]string, 0)
	groups := make(map[string][]storage.MutationRecord)
	for _, record := range records {
		if _, seen := groups[record.EntityType]; !seen {
			groupOrder = append(groupOrder, record.EntityType)
		}
		groups[record.EntityType] = append(groups[record.EntityType], record)
	}

	var result FlushResult
	for _, entityType := range groupOrder {
		group := groups[entityType]
		synced, failed, err := engine.flushGroup(ctx, entityType, group)
		if err != nil {
			return result, err
		}
		result.Synced += synced
		result.Failed += failed
	}

	engine.logger.Info("flush completed",
		zap.Int("synced", result.Synced),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (engine *Engine) flushGroup(ctx context.Context, entityType string, group []storage.MutationRecord) (int, int, error) {
	operations := make([]remote.BatchOperation, 0, len(group))
	for _, record := range group {
		operation := remote.BatchOperation{
			ID:            record.MutationID,
			OperationType: string(record.Operation),
			EntityID:      record.EntityID,
		}
		if record.PayloadJSON != "" {
			operation.Data = json.RawMessage(record.PayloadJSON)
		}
		operations = append(operations, operation)
	}

	batchResult, err := engine.remote.SendBatch(ctx, entityType, operations)
	if err != nil {
		if errors.Is(err, remote.ErrUnreachable) {
			engine.monitor.ReportFailure()
		}
		engine.logger.Warn("batch delivery failed",
			zap.String("entity_type", entityType),
			zap.Int("operations", len(operations)),
			zap.Error(err))
		failed, retryErr := engine.retryGroup(ctx, group)
		return 0, failed, retryErr
	}
	engine.monitor.ReportSuccess()

	succeeded := make(map[string]bool, len(batchResult.Successful))
	for _, mutationID := range batchResult.Successful {
		succeeded[mutationID] = true
	}

	var synced, failed int
	for _, record := range group {
		if succeeded[record.MutationID] {
			if err := engine.confirmMutation(ctx, record); err != nil {
				return synced, failed, err
			}
			synced++
			continue
		}
		if err := engine.recordFailure(ctx, record); err != nil {
			return synced, failed, err
		}
		failed++
	}
	return synced, failed, nil
}

// retryGroup marks every record in a group as failed after a total transport
// failure: nothing is dequeued, every attempt counter moves.
func (engine *Engine) retryGroup(ctx context.Context, group []storage.MutationRecord) (int, error) {
	var failed int
	for _, record := range group {
		if err := engine.recordFailure(ctx, record); err != nil {
			return failed, err
		}
		failed++
	}
	return failed, nil
}

func (engine *Engine) confirmMutation(ctx context.Context, record storage.MutationRecord) error {
	if err := engine.store.DeleteMutation(ctx, record.MutationID); err != nil {
		engine.logError(opFlush, "dequeue_failed", err, zap.String("mutation_id", record.MutationID))
		return newEngineError(opFlush, "dequeue_failed", err)
	}

	switch record.Operation {
	case storage.OperationTypeDelete:
		if err := engine.store.DeleteEntity(ctx, record.EntityType, record.EntityID); err != nil {
			engine.logError(opFlush, "cache_delete_failed", err, zap.String("entity_id", record.EntityID))
			return newEngineError(opFlush, "cache_delete_failed", err)
		}
	default:
		entry := storage.CacheEntry{
			EntityType:       record.EntityType,
			EntityID:         record.EntityID,
			PayloadJSON:      record.PayloadJSON,
			UpdatedAtSeconds: engine.clock().UTC().Unix(),
		}
		if err := engine.store.PutEntity(ctx, entry); err != nil {
			engine.logError(opFlush, "cache_write_failed", err, zap.String("entity_id", record.EntityID))
			return newEngineError(opFlush, "cache_write_failed", err)
		}
	}
	return nil
}

// recordFailure increments the attempt counter and either requeues the
// record or abandons it once the ceiling is reached. Abandonment is a
// deliberate loss of durability: forward progress over delivery guarantees.
func (engine *Engine) recordFailure(ctx context.Context, record storage.MutationRecord) error {
	record.Attempts++
	record.LastAttemptAtSeconds = engine.clock().UTC().Unix()

	if record.Attempts >= engine.maxRetries {
		if err := engine.store.DeleteMutation(ctx, record.MutationID); err != nil {
			engine.logError(opFlush, "abandon_failed", err, zap.String("mutation_id", record.MutationID))
			return newEngineError(opFlush, "abandon_failed", err)
		}
		engine.logger.Error("mutation abandoned after retry ceiling",
			zap.String("mutation_id", record.MutationID),
			zap.String("entity_type", record.EntityType),
			zap.String("entity_id", record.EntityID),
			zap.String("operation", string(record.Operation)),
			zap.Int("attempts", record.Attempts))
		return nil
	}

	if err := engine.store.SaveMutation(ctx, record); err != nil {
		engine.logError(opFlush, "requeue_failed", err, zap.String("mutation_id", record.MutationID))
		return newEngineError(opFlush, "requeue_failed", err)
	}
	return nil
}

// Get returns an entity by id: cache-first, network on force-refresh or
// cache miss while online, cache again when the network fails. A nil
// payload with a nil error means the entity is unknown on both paths.
func (engine *Engine) Get(ctx context.Context, entityType, entityID string, forceRefresh bool) (json.RawMessage, error) {
	typeTag, err := storage.NewEntityType(entityType)
	if err != nil {
		return nil, newEngineError(opGet, "invalid_entity_type", err)
	}
	targetID, err := storage.NewEntityID(entityID)
	if err != nil {
		return nil, newEngineError(opGet, "invalid_entity_id", err)
	}

	cached, err := engine.store.GetEntity(ctx, typeTag.String(), targetID.String())
	if err != nil {
		engine.logError(opGet, "cache_read_failed", err, zap.String("entity_id", targetID.String()))
		return nil, newEngineError(opGet, "cache_read_failed", err)
	}
	if cached != nil && !forceRefresh {
		return json.RawMessage(cached.PayloadJSON), nil
	}
	if !engine.monitor.Status() {
		return cachedPayload(cached), nil
	}

	fetched, err := engine.remote.FetchEntity(ctx, typeTag.String(), targetID.String())
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return cachedPayload(cached), nil
		}
		if errors.Is(err, remote.ErrUnreachable) {
			engine.monitor.ReportFailure()
		}
		engine.logger.Debug("network read failed, serving cache",
			zap.String("entity_type", typeTag.String()),
			zap.String("entity_id", targetID.String()),
			zap.Error(err))
		return cachedPayload(cached), nil
	}
	engine.monitor.ReportSuccess()

	resolved, err := engine.reconcileFetched(ctx, typeTag.String(), targetID.String(), cached, fetched)
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// GetAll returns a collection. Supplied query params always prefer the
// network, since cached data cannot be filtered server-side; the cache is a
// fallback only for unfiltered reads.
func (engine *Engine) GetAll(ctx context.Context, entityType string, queryParams url.Values, forceRefresh bool) ([]json.RawMessage, error) {
	typeTag, err := storage.NewEntityType(entityType)
	if err != nil {
		return nil, newEngineError(opGetAll, "invalid_entity_type", err)
	}

	filtered := len(queryParams) > 0
	if !filtered && !forceRefresh {
		entries, err := engine.store.EntitiesByType(ctx, typeTag.String())
		if err != nil {
			engine.logError(opGetAll, "cache_read_failed", err, zap.String("entity_type", typeTag.String()))
			return nil, newEngineError(opGetAll, "cache_read_failed", err)
		}
		if len(entries) > 0 || !engine.monitor.Status() {
			return entriesToPayloads(entries), nil
		}
	}

	if !engine.monitor.Status() {
		if filtered {
			return nil, nil
		}
		entries, err := engine.store.EntitiesByType(ctx, typeTag.String())
		if err != nil {
			engine.logError(opGetAll, "cache_read_failed", err, zap.String("entity_type", typeTag.String()))
			return nil, newEngineError(opGetAll, "cache_read_failed", err)
		}
		return entriesToPayloads(entries), nil
	}

	fetched, err := engine.remote.FetchEntities(ctx, typeTag.String(), queryParams)
	if err != nil {
		if errors.Is(err, remote.ErrUnreachable) {
			engine.monitor.ReportFailure()
		}
		engine.logger.Debug("network list failed",
			zap.String("entity_type", typeTag.String()),
			zap.Error(err))
		if filtered {
			return nil, nil
		}
		entries, cacheErr := engine.store.EntitiesByType(ctx, typeTag.String())
		if cacheErr != nil {
			engine.logError(opGetAll, "cache_read_failed", cacheErr, zap.String("entity_type", typeTag.String()))
			return nil, newEngineError(opGetAll, "cache_read_failed", cacheErr)
		}
		return entriesToPayloads(entries), nil
	}
	engine.monitor.ReportSuccess()

	payloads := make([]json.RawMessage, 0, len(fetched))
	for _, payload := range fetched {
		entityID := extractEntityID(payload)
		if entityID == "" {
			payloads = append(payloads, payload)
			continue
		}
		cached, err := engine.store.GetEntity(ctx, typeTag.String(), entityID)
		if err != nil {
			engine.logError(opGetAll, "cache_read_failed", err, zap.String("entity_id", entityID))
			return nil, newEngineError(opGetAll, "cache_read_failed", err)
		}
		resolved, err := engine.reconcileFetched(ctx, typeTag.String(), entityID, cached, payload)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, resolved)
	}
	return payloads, nil
}

// reconcileFetched applies the conflict policy between a fetched payload and
// a possibly pending local copy, persists the winner to the cache, and
// returns it.
func (engine *Engine) reconcileFetched(ctx context.Context, entityType, entityID string, cached *storage.CacheEntry, fetched json.RawMessage) (json.RawMessage, error) {
	hasPending, err := engine.hasPendingMutation(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}

	winner := engine.conflicts.resolve(cachedPayload(cached), fetched, hasPending)
	entry := storage.CacheEntry{
		EntityType:       entityType,
		EntityID:         entityID,
		PayloadJSON:      string(winner),
		UpdatedAtSeconds: engine.clock().UTC().Unix(),
	}
	if err := engine.store.PutEntity(ctx, entry); err != nil {
		engine.logError(opGet, "cache_write_failed", err, zap.String("entity_id", entityID))
		return nil, newEngineError(opGet, "cache_write_failed", err)
	}
	return winner, nil
}

func (engine *Engine) hasPendingMutation(ctx context.Context, entityType, entityID string) (bool, error) {
	records, err := engine.store.PendingMutations(ctx, 0, 0)
	if err != nil {
		engine.logError(opGet, "queue_read_failed", err)
		return false, newEngineError(opGet, "queue_read_failed", err)
	}
	for _, record := range records {
		if record.EntityType == entityType && record.EntityID == entityID {
			return true, nil
		}
	}
	return false, nil
}

// EngineStatus is a point-in-time snapshot for status surfaces.
type EngineStatus struct {
	Online     bool
	Syncing    bool
	Pending    int64
	LastSyncAt time.Time
	LastResult *FlushResult
}

// Status reports the engine's current sync posture.
func (engine *Engine) Status(ctx context.Context) (EngineStatus, error) {
	pending, err := engine.store.PendingCount(ctx)
	if err != nil {
		return EngineStatus{}, newEngineError(opFlush, "queue_read_failed", err)
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	status := EngineStatus{
		Online:     engine.monitor.Status(),
		Syncing:    engine.syncing,
		Pending:    pending,
		LastSyncAt: engine.lastSyncAt,
	}
	if engine.lastResult != nil {
		copied := *engine.lastResult
		status.LastResult = &copied
	}
	return status, nil
}

// OnSyncCompleted registers a hook for flush outcomes; returns its disposer.
func (engine *Engine) OnSyncCompleted(callback func(FlushResult)) func() {
	return engine.events.onCompleted(callback)
}

// OnSyncError registers a hook for unexpected flush failures.
func (engine *Engine) OnSyncError(callback func(error)) func() {
	return engine.events.onFailure(callback)
}

// OnConnectivityChange registers a hook for connectivity transitions.
func (engine *Engine) OnConnectivityChange(callback func(online bool)) func() {
	return engine.events.onConnectivity(callback)
}

// Run drives the periodic flush until the context is cancelled. Flushes are
// only attempted while online; offline ticks are skipped, and reconnection
// flushes arrive through the connectivity subscription instead.
func (engine *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(engine.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !engine.monitor.Status() {
				continue
			}
			if _, err := engine.Flush(ctx); err != nil {
				engine.logger.Error("periodic flush failed", zap.Error(err))
			}
		}
	}
}

func (engine *Engine) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	engine.logger.Error("sync engine error", attrs...)
}

func cachedPayload(entry *storage.CacheEntry) json.RawMessage {
	if entry == nil {
		return nil
	}
	return json.RawMessage(entry.PayloadJSON)
}

func entriesToPayloads(entries []storage.CacheEntry) []json.RawMessage {
	payloads := make([]json.RawMessage, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, json.RawMessage(entry.PayloadJSON))
	}
	return payloads
}

func extractEntityID(payload json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.ID
}
