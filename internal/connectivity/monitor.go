// Package connectivity tracks network reachability for the sync client.
//
// The monitor reconciles two signal sources: a periodic HTTP probe against
// the remote API, and application-level request outcomes reported by the
// transport. A failed request flips the status offline immediately rather
// than waiting for the next probe, since probe results alone lag reality.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultProbeInterval = 15 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// MonitorConfig describes the probe target and cadence.
type MonitorConfig struct {
	// ProbeURL is the endpoint polled by Run. Empty disables probing;
	// status then moves only on reported request outcomes.
	ProbeURL string

	// ProbeInterval is how often Run polls the probe URL.
	ProbeInterval time.Duration

	// HTTPClient is used for probes. A short-timeout default is applied
	// when nil.
	HTTPClient *http.Client

	// InitialOnline is the status before any signal arrives.
	InitialOnline bool

	Logger *zap.Logger
}

// Monitor is the single source of truth for "is the network reachable".
// Subscribers are notified on transitions only, never on steady state.
type Monitor struct {
	mu          sync.Mutex
	online      bool
	subscribers map[int64]func(online bool)
	nextID      int64

	probeURL      string
	probeInterval time.Duration
	httpClient    *http.Client
	logger        *zap.Logger
}

// NewMonitor constructs a monitor. It does not start probing; call Run.
func NewMonitor(cfg MonitorConfig) *Monitor {
	interval := cfg.ProbeInterval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultProbeTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		online:        cfg.InitialOnline,
		subscribers:   make(map[int64]func(online bool)),
		probeURL:      cfg.ProbeURL,
		probeInterval: interval,
		httpClient:    client,
		logger:        logger,
	}
}

// Status returns the current belief about connectivity.
func (monitor *Monitor) Status() bool {
	monitor.mu.Lock()
	defer monitor.mu.Unlock()
	return monitor.online
}

// Subscribe registers a transition callback and returns its disposer.
// The callback receives the new status and runs outside the monitor lock.
func (monitor *Monitor) Subscribe(callback func(online bool)) func() {
	monitor.mu.Lock()
	defer monitor.mu.Unlock()

	monitor.nextID++
	id := monitor.nextID
	monitor.subscribers[id] = callback

	return func() {
		monitor.mu.Lock()
		defer monitor.mu.Unlock()
		delete(monitor.subscribers, id)
	}
}

// SetOnline records a host-level connectivity signal.
func (monitor *Monitor) SetOnline(online bool) {
	monitor.transition(online)
}

// ReportSuccess records an application-level request that reached the server.
func (monitor *Monitor) ReportSuccess() {
	monitor.transition(true)
}

// ReportFailure records an application-level request that could not reach
// the server.
func (monitor *Monitor) ReportFailure() {
	monitor.transition(false)
}

// Run polls the probe URL until the context is cancelled. Detection is all
// this loop does; acting on a transition is the subscriber's concern.
func (monitor *Monitor) Run(ctx context.Context) {
	if monitor.probeURL == "" {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(monitor.probeInterval)
	defer ticker.Stop()

	monitor.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			monitor.probe(ctx)
		}
	}
}

func (monitor *Monitor) probe(ctx context.Context) {
	request, err := http.NewRequestWithContext(ctx, http.MethodHead, monitor.probeURL, nil)
	if err != nil {
		monitor.logger.Warn("connectivity probe request invalid", zap.Error(err))
		return
	}

	response, err := monitor.httpClient.Do(request)
	if err != nil {
		monitor.transition(false)
		return
	}
	response.Body.Close()
	monitor.transition(true)
}

func (monitor *Monitor) transition(online bool) {
	monitor.mu.Lock()
	if monitor.online == online {
		monitor.mu.Unlock()
		return
	}
	monitor.online = online
	callbacks := make([]func(online bool), 0, len(monitor.subscribers))
	for _, callback := range monitor.subscribers {
		callbacks = append(callbacks, callback)
	}
	monitor.mu.Unlock()

	monitor.logger.Info("connectivity changed", zap.Bool("online", online))
	for _, callback := range callbacks {
		callback(online)
	}
}
