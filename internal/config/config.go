package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "SYNCBRIDGE"
	defaultHTTPAddress   = "127.0.0.1:7420"
	defaultDatabasePath  = "syncbridge.db"
	defaultSnapshotPath  = "syncbridge.queue.json"
	defaultLogLevel      = "info"
	defaultMaxRetries    = 5
	defaultRetryDelay    = 5 * time.Second
	defaultBatchSize     = 50
	defaultSyncInterval  = 30 * time.Second
	defaultProbeInterval = 15 * time.Second
	defaultStrategy      = StorageStrategySQLite
	defaultConflictMode  = ConflictModeServerWins
)

// Storage strategies accepted by storage.strategy.
const (
	StorageStrategySQLite   = "sqlite"
	StorageStrategySnapshot = "snapshot"
	StorageStrategyBoth     = "both"
)

// Conflict resolution modes accepted by sync.conflict_resolution.
const (
	ConflictModeServerWins = "server-wins"
	ConflictModeClientWins = "client-wins"
	ConflictModeManual     = "manual"
)

// AppConfig captures runtime configuration for the sync client.
type AppConfig struct {
	HTTPAddress     string
	APIBaseURL      string
	APIHeaders      map[string]string
	MaxRetries      int
	RetryDelay      time.Duration
	SyncBatchSize   int
	SyncInterval    time.Duration
	StorageStrategy string
	DatabasePath    string
	SnapshotPath    string
	ConflictMode    string
	ProbeURL        string
	ProbeInterval   time.Duration
	LogLevel        string
	Debug           bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("api.headers", map[string]string{})
	configViper.SetDefault("sync.max_retries", defaultMaxRetries)
	configViper.SetDefault("sync.retry_delay", defaultRetryDelay)
	configViper.SetDefault("sync.batch_size", defaultBatchSize)
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("sync.conflict_resolution", defaultConflictMode)
	configViper.SetDefault("storage.strategy", defaultStrategy)
	configViper.SetDefault("storage.database_path", defaultDatabasePath)
	configViper.SetDefault("storage.snapshot_path", defaultSnapshotPath)
	configViper.SetDefault("probe.interval", defaultProbeInterval)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("debug", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		APIBaseURL:      configViper.GetString("api.base_url"),
		APIHeaders:      configViper.GetStringMapString("api.headers"),
		MaxRetries:      configViper.GetInt("sync.max_retries"),
		RetryDelay:      configViper.GetDuration("sync.retry_delay"),
		SyncBatchSize:   configViper.GetInt("sync.batch_size"),
		SyncInterval:    configViper.GetDuration("sync.interval"),
		StorageStrategy: configViper.GetString("storage.strategy"),
		DatabasePath:    configViper.GetString("storage.database_path"),
		SnapshotPath:    configViper.GetString("storage.snapshot_path"),
		ConflictMode:    configViper.GetString("sync.conflict_resolution"),
		ProbeURL:        configViper.GetString("probe.url"),
		ProbeInterval:   configViper.GetDuration("probe.interval"),
		LogLevel:        configViper.GetString("log.level"),
		Debug:           configViper.GetBool("debug"),
	}

	if cfg.ProbeURL == "" && cfg.APIBaseURL != "" {
		cfg.ProbeURL = strings.TrimSuffix(cfg.APIBaseURL, "/") + "/healthz"
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("sync.max_retries must be at least 1")
	}
	if c.SyncBatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be at least 1")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	switch c.StorageStrategy {
	case StorageStrategySQLite, StorageStrategySnapshot, StorageStrategyBoth:
	default:
		return fmt.Errorf("storage.strategy must be one of %s, %s, %s",
			StorageStrategySQLite, StorageStrategySnapshot, StorageStrategyBoth)
	}
	switch c.ConflictMode {
	case ConflictModeServerWins, ConflictModeClientWins, ConflictModeManual:
	default:
		return fmt.Errorf("sync.conflict_resolution must be one of %s, %s, %s",
			ConflictModeServerWins, ConflictModeClientWins, ConflictModeManual)
	}
	if strings.TrimSpace(c.DatabasePath) == "" && c.StorageStrategy != StorageStrategySnapshot {
		return fmt.Errorf("storage.database_path is required")
	}
	if strings.TrimSpace(c.SnapshotPath) == "" && c.StorageStrategy != StorageStrategySQLite {
		return fmt.Errorf("storage.snapshot_path is required")
	}
	return nil
}
