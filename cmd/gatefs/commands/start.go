package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatefs/gatefs/internal/logger"
	"github.com/gatefs/gatefs/internal/telemetry"
	"github.com/gatefs/gatefs/pkg/api"
	"github.com/gatefs/gatefs/pkg/api/handlers"
	"github.com/gatefs/gatefs/pkg/config"
	"github.com/gatefs/gatefs/pkg/database"
	"github.com/gatefs/gatefs/pkg/fs"
	"github.com/gatefs/gatefs/pkg/index"
	"github.com/gatefs/gatefs/pkg/indexer"
	"github.com/gatefs/gatefs/pkg/metrics"
	"github.com/gatefs/gatefs/pkg/metrics/prometheus"
	"github.com/gatefs/gatefs/pkg/multipart"
	"github.com/gatefs/gatefs/pkg/task"
	"github.com/gatefs/gatefs/pkg/upload"
	"github.com/gatefs/gatefs/pkg/vindex"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the GateFS gateway",
	Long: `Start the GateFS gateway with the specified configuration.

By default, the server runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/gatefs/config.yaml.

Examples:
  # Start in background (default)
  gatefs start

  # Start in foreground
  gatefs start --foreground

  # Start with custom config file
  gatefs start --config /etc/gatefs/config.yaml

  # Start with environment variable overrides
  GATEFS_LOGGING_LEVEL=DEBUG gatefs start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/gatefs/gatefs.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/gatefs/gatefs.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	// Handle daemon mode (background)
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "gatefs",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "gatefs",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	fmt.Println("GateFS - Multi-backend storage gateway")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("Profiling disabled")
	}

	// Initialize the metrics registry and its dedicated listener (if enabled)
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsServer = metrics.NewServer(cfg.Metrics.Addr)
		logger.Info("Metrics enabled", "addr", cfg.Metrics.Addr)
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Open the relational database shared by sessions, index and virtual trees
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access database pool: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()

	sessions, err := upload.NewGORMStore(db)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	indexStore, err := index.NewGORMStore(db)
	if err != nil {
		return fmt.Errorf("failed to initialize index store: %w", err)
	}
	nodes, err := vindex.NewStore(db)
	if err != nil {
		return fmt.Errorf("failed to initialize virtual index store: %w", err)
	}

	// Build drivers and the mount registry from configuration
	storageMetrics := prometheus.NewStorageMetrics()
	registry, err := config.BuildRegistry(ctx, cfg, config.RegistryDeps{
		Nodes:           nodes,
		Parts:           sessions,
		S3Metrics:       storageMetrics.Driver("s3"),
		TelegramMetrics: storageMetrics.Driver("telegram"),
		BotMetrics:      prometheus.NewBotMetrics(),
	})
	if err != nil {
		return fmt.Errorf("failed to build mount registry: %w", err)
	}

	// The listing cache is dropped by the same events that feed the dirty
	// queue, so reads after a mutation never serve a stale directory.
	listings := fs.NewListingCache(fs.DefaultListingTTL, fs.DefaultListingCapacity)
	notifier := fs.NewNotifier(
		fs.NewIndexSink(indexStore, cfg.Index.MaxDirtyOpsPerEvent),
		fs.NewDirCacheSink(listings, fs.DefaultMaxOpsPerEvent),
	)

	facade, err := fs.New(fs.Config{
		Registry: registry,
		Notifier: notifier,
		Listings: listings,
		Metrics:  prometheus.NewFSMetrics(),
	})
	if err != nil {
		return fmt.Errorf("failed to build fs facade: %w", err)
	}

	uploadMetrics := prometheus.NewUploadMetrics()
	coordinator, err := multipart.New(multipart.Config{
		Sessions:   sessions,
		Registry:   registry,
		Notifier:   notifier,
		SessionTTL: cfg.Upload.SessionTTL,
		Metrics:    uploadMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to build upload coordinator: %w", err)
	}

	reaper := multipart.NewReaper(multipart.ReaperConfig{
		Sessions:    sessions,
		Coordinator: coordinator,
		Interval:    cfg.Upload.ReapInterval,
		Batch:       cfg.Upload.ReapBatch,
		Metrics:     uploadMetrics,
	})

	// Background job engine with the index handlers registered
	jobStore, err := task.NewBadgerStore(cfg.JobStore.Path)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	defer func() { _ = jobStore.Close() }()

	taskRegistry := task.NewRegistry()
	catalog := task.NewCatalog()

	indexMetrics := prometheus.NewIndexMetrics()
	ix, err := indexer.New(indexStore, registry, indexer.Config{
		BatchSize:        cfg.Index.BatchSize,
		DirtyTake:        cfg.Index.DirtyTake,
		MountConcurrency: cfg.Index.MountConcurrency,
		Metrics:          indexMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to build indexer: %w", err)
	}
	if err := ix.Register(taskRegistry, catalog); err != nil {
		return fmt.Errorf("failed to register index handlers: %w", err)
	}

	engine, err := task.NewEngine(task.Config{
		Store:         jobStore,
		Registry:      taskRegistry,
		Catalog:       catalog,
		Workers:       cfg.JobStore.Workers,
		QueueSize:     cfg.JobStore.QueueSize,
		Retention:     cfg.JobStore.Retention,
		SweepInterval: cfg.JobStore.SweepInterval,
		Metrics:       prometheus.NewTaskMetrics(),
	})
	if err != nil {
		return fmt.Errorf("failed to build task engine: %w", err)
	}

	scheduler, err := indexer.NewScheduler(indexer.SchedulerConfig{
		Engine:   engine,
		Store:    indexStore,
		Mounts:   registry,
		Interval: cfg.Index.ApplyInterval,
		Metrics:  indexMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to build index scheduler: %w", err)
	}

	// Create the API server
	apiServer, err := api.NewServer(cfg.API, api.Dependencies{
		Facade:      facade,
		Coordinator: coordinator,
		Engine:      engine,
		Catalog:     catalog,
		Index:       indexStore,
		Checks: []handlers.Check{
			{Name: "database", Fn: sqlDB.PingContext},
			{Name: "jobstore", Fn: jobStore.Ping},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	logger.Info("API server configured", "addr", cfg.API.Addr)

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Start the background machinery
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task engine: %w", err)
	}
	defer engine.Stop(cfg.ShutdownTimeout)

	reaper.Start(ctx)
	defer reaper.Stop(cfg.ShutdownTimeout)

	scheduler.Start(ctx)
	defer scheduler.Stop(cfg.ShutdownTimeout)

	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	// Start the API server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Wait for server to shut down gracefully
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}
