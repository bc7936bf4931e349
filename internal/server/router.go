// Package server exposes the sync engine to the local UI over a loopback
// HTTP surface. Every route goes through the engine; the server never
// touches storage directly.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/medqueuehq/syncbridge/internal/engine"
	"go.uber.org/zap"
)

var errMissingEngine = errors.New("sync engine dependency required")

// SyncEngine is the engine surface the router consumes.
type SyncEngine interface {
	Enqueue(ctx context.Context, entityType, operation string, payload json.RawMessage, entityID string) (string, error)
	Flush(ctx context.Context) (engine.FlushResult, error)
	Get(ctx context.Context, entityType, entityID string, forceRefresh bool) (json.RawMessage, error)
	GetAll(ctx context.Context, entityType string, queryParams url.Values, forceRefresh bool) ([]json.RawMessage, error)
	Status(ctx context.Context) (engine.EngineStatus, error)
}

// Dependencies wires the router to the rest of the process.
type Dependencies struct {
	Engine SyncEngine
	Logger *zap.Logger
}

// NewHTTPHandler builds the loopback router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Engine == nil {
		return nil, errMissingEngine
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{engine: deps.Engine, logger: logger}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/sync/status", handler.handleStatus)
	router.POST("/sync/flush", handler.handleFlush)
	router.GET("/entities/:type", handler.handleList)
	router.GET("/entities/:type/:id", handler.handleGet)
	router.POST("/entities/:type", handler.handleCreate)
	router.PUT("/entities/:type/:id", handler.handleUpdate)
	router.DELETE("/entities/:type/:id", handler.handleDelete)

	return router, nil
}

type httpHandler struct {
	engine SyncEngine
	logger *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type statusResponsePayload struct {
	Online     bool                `json:"online"`
	Syncing    bool                `json:"syncing"`
	Pending    int64               `json:"pending"`
	LastSyncAt int64               `json:"last_sync_at_s"`
	LastResult *flushResultPayload `json:"last_result,omitempty"`
}

type flushResultPayload struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	status, err := h.engine.Status(c.Request.Context())
	if err != nil {
		h.logger.Error("status read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_failed"})
		return
	}

	response := statusResponsePayload{
		Online:  status.Online,
		Syncing: status.Syncing,
		Pending: status.Pending,
	}
	if !status.LastSyncAt.IsZero() {
		response.LastSyncAt = status.LastSyncAt.Unix()
	}
	if status.LastResult != nil {
		response.LastResult = &flushResultPayload{
			Synced: status.LastResult.Synced,
			Failed: status.LastResult.Failed,
		}
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleFlush(c *gin.Context) {
	result, err := h.engine.Flush(c.Request.Context())
	if err != nil {
		h.logger.Error("manual flush failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "flush_failed"})
		return
	}
	c.JSON(http.StatusOK, flushResultPayload{Synced: result.Synced, Failed: result.Failed})
}

func (h *httpHandler) handleList(c *gin.Context) {
	entityType := c.Param("type")
	query := c.Request.URL.Query()
	forceRefresh := query.Get("refresh") == "1"
	query.Del("refresh")

	payloads, err := h.engine.GetAll(c.Request.Context(), entityType, query, forceRefresh)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	if payloads == nil {
		payloads = []json.RawMessage{}
	}
	c.JSON(http.StatusOK, payloads)
}

func (h *httpHandler) handleGet(c *gin.Context) {
	entityType := c.Param("type")
	entityID := c.Param("id")
	forceRefresh := c.Query("refresh") == "1"

	payload, err := h.engine.Get(c.Request.Context(), entityType, entityID, forceRefresh)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	if payload == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.Data(http.StatusOK, "application/json", payload)
}

type enqueueResponsePayload struct {
	EntityID string `json:"entity_id"`
}

func (h *httpHandler) handleCreate(c *gin.Context) {
	h.enqueueMutation(c, "create", c.Param("type"), "")
}

func (h *httpHandler) handleUpdate(c *gin.Context) {
	h.enqueueMutation(c, "update", c.Param("type"), c.Param("id"))
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	entityID, err := h.engine.Enqueue(c.Request.Context(), c.Param("type"), "delete", nil, c.Param("id"))
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, enqueueResponsePayload{EntityID: entityID})
}

func (h *httpHandler) enqueueMutation(c *gin.Context, operation, entityType, entityID string) {
	var payload json.RawMessage
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	resultID, err := h.engine.Enqueue(c.Request.Context(), entityType, operation, payload, entityID)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, enqueueResponsePayload{EntityID: resultID})
}

// writeEngineError maps engine validation failures to 400 and everything
// else to 500. Validation codes end with a reason the UI can act on.
func (h *httpHandler) writeEngineError(c *gin.Context, err error) {
	var engineErr *engine.EngineError
	if errors.As(err, &engineErr) && isValidationCode(engineErr.Code()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": engineErr.Code()})
		return
	}
	h.logger.Error("engine call failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

func isValidationCode(code string) bool {
	for _, suffix := range []string{
		".invalid_entity_type",
		".invalid_entity_id",
		".invalid_operation",
		".invalid_payload",
		".missing_entity_id",
	} {
		if strings.HasSuffix(code, suffix) {
			return true
		}
	}
	return false
}
