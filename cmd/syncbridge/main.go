package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medqueuehq/syncbridge/internal/config"
	"github.com/medqueuehq/syncbridge/internal/connectivity"
	"github.com/medqueuehq/syncbridge/internal/engine"
	"github.com/medqueuehq/syncbridge/internal/logging"
	"github.com/medqueuehq/syncbridge/internal/remote"
	"github.com/medqueuehq/syncbridge/internal/server"
	"github.com/medqueuehq/syncbridge/internal/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "syncbridge",
		Short: "Offline-first sync client for the MedQueue API",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "Loopback HTTP listen address")
	cmd.PersistentFlags().String("api-base-url", defaults.GetString("api.base_url"), "MedQueue API base URL")
	cmd.PersistentFlags().Int("max-retries", defaults.GetInt("sync.max_retries"), "Delivery attempts before a mutation is abandoned")
	cmd.PersistentFlags().Duration("retry-delay", defaults.GetDuration("sync.retry_delay"), "Minimum spacing between attempts for one mutation")
	cmd.PersistentFlags().Int("batch-size", defaults.GetInt("sync.batch_size"), "Mutations selected per flush cycle")
	cmd.PersistentFlags().Duration("sync-interval", defaults.GetDuration("sync.interval"), "Periodic flush cadence")
	cmd.PersistentFlags().String("storage-strategy", defaults.GetString("storage.strategy"), "Durable store backend (sqlite, snapshot, both)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("storage.database_path"), "SQLite database path")
	cmd.PersistentFlags().String("snapshot-path", defaults.GetString("storage.snapshot_path"), "JSON snapshot path")
	cmd.PersistentFlags().String("conflict-resolution", defaults.GetString("sync.conflict_resolution"), "Conflict policy (server-wins, client-wins, manual)")
	cmd.PersistentFlags().String("probe-url", defaults.GetString("probe.url"), "Connectivity probe URL")
	cmd.PersistentFlags().Duration("probe-interval", defaults.GetDuration("probe.interval"), "Connectivity probe cadence")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("debug", defaults.GetBool("debug"), "Enable debug logging")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "api.base_url", "api-base-url")
	bindFlag(cmd, "sync.max_retries", "max-retries")
	bindFlag(cmd, "sync.retry_delay", "retry-delay")
	bindFlag(cmd, "sync.batch_size", "batch-size")
	bindFlag(cmd, "sync.interval", "sync-interval")
	bindFlag(cmd, "storage.strategy", "storage-strategy")
	bindFlag(cmd, "storage.database_path", "database-path")
	bindFlag(cmd, "storage.snapshot_path", "snapshot-path")
	bindFlag(cmd, "sync.conflict_resolution", "conflict-resolution")
	bindFlag(cmd, "probe.url", "probe-url")
	bindFlag(cmd, "probe.interval", "probe-interval")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "debug", "debug")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runService(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := storage.Open(storage.OpenConfig{
		Strategy:     appConfig.StorageStrategy,
		DatabasePath: appConfig.DatabasePath,
		SnapshotPath: appConfig.SnapshotPath,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clientInstanceID, err := store.ClientInstanceID(signalCtx)
	if err != nil {
		return err
	}

	monitor := connectivity.NewMonitor(connectivity.MonitorConfig{
		ProbeURL:      appConfig.ProbeURL,
		ProbeInterval: appConfig.ProbeInterval,
		Logger:        logger,
	})

	remoteClient, err := remote.NewClient(remote.ClientConfig{
		BaseURL:          appConfig.APIBaseURL,
		Headers:          appConfig.APIHeaders,
		ClientInstanceID: clientInstanceID,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	conflictPolicy, err := engine.ParseConflictResolution(appConfig.ConflictMode)
	if err != nil {
		return err
	}

	syncEngine, err := engine.NewEngine(engine.EngineConfig{
		Store:        store,
		Remote:       remoteClient,
		Monitor:      monitor,
		MaxRetries:   appConfig.MaxRetries,
		RetryDelay:   appConfig.RetryDelay,
		BatchSize:    appConfig.SyncBatchSize,
		SyncInterval: appConfig.SyncInterval,
		Conflicts:    conflictPolicy,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer syncEngine.Close()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Engine: syncEngine,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	go monitor.Run(signalCtx)
	go syncEngine.Run(signalCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("syncbridge starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("api_base_url", appConfig.APIBaseURL),
			zap.String("storage_strategy", appConfig.StorageStrategy),
			zap.String("client_instance_id", clientInstanceID))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
