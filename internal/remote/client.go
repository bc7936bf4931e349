// Package remote implements the thin HTTP transport the sync engine uses to
// reach the MedQueue REST API. It is an external-collaborator boundary: the
// engine only sees the batch/read contract, never raw HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 30 * time.Second
	headerClientInstance  = "X-Client-Instance"
	jsonContentType       = "application/json"
)

var (
	// ErrUnreachable indicates a transport-level failure: the request never
	// produced a server response. Callers use it to flip connectivity.
	ErrUnreachable = errors.New("remote: server unreachable")
	// ErrNotFound indicates the server answered 404 for a single read.
	ErrNotFound = errors.New("remote: entity not found")
)

// BatchOperation is one queued mutation in a batch write, tagged with its
// mutation record id so the response can be matched back.
type BatchOperation struct {
	ID            string          `json:"id"`
	OperationType string          `json:"operation_type"`
	EntityID      string          `json:"entity_id"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// BatchResult partitions a batch response by mutation record id.
type BatchResult struct {
	Successful []string `json:"successful"`
	Failed     []string `json:"failed"`
}

type batchRequestPayload struct {
	Operations []BatchOperation `json:"operations"`
}

// ClientConfig describes the transport configuration.
type ClientConfig struct {
	// BaseURL is the API root, e.g. "https://api.medqueue.example/v1".
	BaseURL string

	// Headers are applied to every request (API keys, tenant tags).
	Headers map[string]string

	// ClientInstanceID tags requests for server-side diagnostics and
	// duplicate detection across retries.
	ClientInstanceID string

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is the Remote API transport consumed by the sync engine.
type Client struct {
	baseURL          string
	headers          map[string]string
	clientInstanceID string
	httpClient       *http.Client
	logger           *zap.Logger
}

// NewClient constructs a transport client.
func NewClient(cfg ClientConfig) (*Client, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("remote: base url is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:          trimmed,
		headers:          cfg.Headers,
		clientInstanceID: cfg.ClientInstanceID,
		httpClient:       httpClient,
		logger:           logger,
	}, nil
}

// SendBatch delivers one entity type's operations in a single request.
//
// Any transport error, non-2xx status, or malformed body is a total batch
// failure: no per-item result is assumed.
func (client *Client) SendBatch(ctx context.Context, entityType string, operations []BatchOperation) (BatchResult, error) {
	body, err := json.Marshal(batchRequestPayload{Operations: operations})
	if err != nil {
		return BatchResult{}, err
	}

	endpoint := client.baseURL + "/" + url.PathEscape(entityType) + "/batch"
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return BatchResult{}, err
	}
	client.applyHeaders(request)
	request.Header.Set("Content-Type", jsonContentType)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return BatchResult{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return BatchResult{}, fmt.Errorf("remote: batch write for %s returned status %d", entityType, response.StatusCode)
	}

	var result BatchResult
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
		return BatchResult{}, fmt.Errorf("remote: malformed batch response for %s: %w", entityType, err)
	}
	return result, nil
}

// FetchEntity reads a single entity payload.
func (client *Client) FetchEntity(ctx context.Context, entityType, entityID string) (json.RawMessage, error) {
	endpoint := client.baseURL + "/" + url.PathEscape(entityType) + "/" + url.PathEscape(entityID)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	client.applyHeaders(request)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, fmt.Errorf("remote: read of %s/%s returned status %d", entityType, entityID, response.StatusCode)
	}

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("remote: malformed entity payload for %s/%s", entityType, entityID)
	}
	return payload, nil
}

// FetchEntities reads a collection, optionally filtered server-side.
func (client *Client) FetchEntities(ctx context.Context, entityType string, queryParams url.Values) ([]json.RawMessage, error) {
	endpoint := client.baseURL + "/" + url.PathEscape(entityType)
	if len(queryParams) > 0 {
		endpoint += "?" + queryParams.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	client.applyHeaders(request)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, fmt.Errorf("remote: list of %s returned status %d", entityType, response.StatusCode)
	}

	var payloads []json.RawMessage
	if err := json.NewDecoder(response.Body).Decode(&payloads); err != nil {
		return nil, fmt.Errorf("remote: malformed list payload for %s: %w", entityType, err)
	}
	return payloads, nil
}

func (client *Client) applyHeaders(request *http.Request) {
	for name, value := range client.headers {
		request.Header.Set(name, value)
	}
	if client.clientInstanceID != "" {
		request.Header.Set(headerClientInstance, client.clientInstanceID)
	}
}
