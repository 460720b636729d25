package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/internal/logger"
	"github.com/clipforge/clipforge/pkg/api"
	"github.com/clipforge/clipforge/pkg/chunkstore"
	"github.com/clipforge/clipforge/pkg/cleanup"
	"github.com/clipforge/clipforge/pkg/config"
	"github.com/clipforge/clipforge/pkg/diskspace"
	"github.com/clipforge/clipforge/pkg/fingerprint"
	"github.com/clipforge/clipforge/pkg/governor"
	"github.com/clipforge/clipforge/pkg/metrics"
	"github.com/clipforge/clipforge/pkg/pushbus"
	"github.com/clipforge/clipforge/pkg/session"
	"github.com/clipforge/clipforge/pkg/store"
	"github.com/clipforge/clipforge/pkg/task"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ClipForge server",
	Long: `Start the ClipForge transcoding server with the specified configuration.

By default, the server runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/clipforge/config.yaml.

Examples:
  # Start in background (default)
  clipforged start

  # Start in foreground
  clipforged start --foreground

  # Start with custom config file
  clipforged start --config /etc/clipforge/config.yaml

  # Start with environment variable overrides
  CLIPFORGE_LOGGING_LEVEL=DEBUG clipforged start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/clipforge/clipforged.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/clipforge/clipforged.log)")
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

	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("ClipForge - Self-hosted video transcoding server")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Managed storage layout
	for _, dir := range []string{
		cfg.Storage.UploadDir,
		cfg.Storage.OutputDir,
		cfg.Storage.TempDir,
		cfg.Storage.LogDir,
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}
	logger.Info("Storage layout ready", "data_dir", cfg.Storage.DataDir)

	// Task database (opening runs migrations)
	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() { _ = st.Close() }()
	logger.Info("Store initialized", "type", cfg.Database.Type)

	// Push bus and task-group resolver for WebSocket clients
	hub := pushbus.NewHub()
	resolver := pushbus.NewResolver()

	m := metrics.New()

	// Upload pipeline: content fingerprints, chunk staging, sessions
	fp := fingerprint.New(cfg.Upload.QuickFingerprintThreshold.Int64())
	chunks := chunkstore.New(cfg.Storage.TempDir, cfg.Storage.UploadDir)
	sessions := session.NewManager(chunks, fp, session.Config{
		ArtifactDir: cfg.Storage.UploadDir,
		ChunkSize:   cfg.Upload.ChunkSize.Int64(),
		TTL:         cfg.Upload.SessionTTL,
		MaxFileSize: cfg.Upload.MaxFileSize.Int64(),
		Index:       st,
	})
	defer sessions.Close()

	if recovered, err := sessions.Recover(); err != nil {
		logger.Warn("Upload session recovery failed", "error", err)
	} else if recovered > 0 {
		logger.Info("Upload sessions recovered", "count", recovered)
	}

	// Disk budget admission. Settings persisted via the API win over the
	// configuration file.
	budget := diskspace.Config{
		MaxTotalBytes: cfg.DiskBudget.MaxTotalSpace.Int64(),
		ReservedBytes: cfg.DiskBudget.ReservedSpace.Int64(),
		Enabled:       *cfg.DiskBudget.Enabled,
	}
	if v, err := st.GetSettingInt64(ctx, store.SettingDiskMaxTotalBytes, budget.MaxTotalBytes); err == nil {
		budget.MaxTotalBytes = v
	}
	if v, err := st.GetSettingInt64(ctx, store.SettingDiskReservedBytes, budget.ReservedBytes); err == nil {
		budget.ReservedBytes = v
	}
	if v, err := st.GetSettingBool(ctx, store.SettingDiskBudgetEnabled, budget.Enabled); err == nil {
		budget.Enabled = v
	}
	disk := diskspace.New(budget, diskspace.Paths{
		UploadDir: cfg.Storage.UploadDir,
		OutputDir: cfg.Storage.OutputDir,
		TempDir:   cfg.Storage.TempDir,
	}, hub)
	disk.SetBatchSource(sessions)
	if err := disk.Refresh(); err != nil {
		logger.Warn("Initial disk usage scan failed", "error", err)
	}
	logger.Info("Disk budget configured",
		"max_total_bytes", budget.MaxTotalBytes,
		"reserved_bytes", budget.ReservedBytes,
		"enabled", budget.Enabled)

	// Transcoding engine
	engine := task.NewEngine(st, hub, disk, &task.FFmpeg{
		FFmpegPath:  cfg.Encoder.FFmpegPath,
		FFprobePath: cfg.Encoder.FFprobePath,
	}, task.Config{
		OutputDir:        cfg.Storage.OutputDir,
		Workers:          cfg.Encoder.Workers,
		ProgressInterval: cfg.Encoder.ProgressInterval,
	})
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task engine: %w", err)
	}
	defer engine.Stop()
	logger.Info("Task engine started", "workers", cfg.Encoder.Workers)

	// Retention and cleanup sweeps
	cl := cleanup.NewEngine(st, disk, hub, cleanup.Config{
		RetentionPeriod: cfg.Cleanup.RetentionPeriod,
		TempMaxAge:      cfg.Cleanup.TempMaxAge,
		LogMaxAge:       cfg.Cleanup.LogMaxAge,
		SweepInterval:   cfg.Cleanup.SweepInterval,
		TempRoot:        cfg.Storage.TempDir,
		OutputDir:       cfg.Storage.OutputDir,
		UploadDir:       cfg.Storage.UploadDir,
		LogDir:          cfg.Storage.LogDir,
		Sessions:        sessions,
	})
	cl.Start(ctx)
	defer cl.Stop()

	// Transfer concurrency pools. The governor restores persisted limits;
	// seed from the config file when nothing is persisted yet.
	gov := governor.New(ctx, st)
	if n, err := st.GetSettingInt(ctx, store.SettingMaxConcurrentUploads, cfg.Concurrency.MaxConcurrentUploads); err == nil {
		if err := gov.SetLimit(ctx, governor.PoolUploads, n); err != nil {
			logger.Warn("Failed to apply upload concurrency limit", "error", err)
		}
	}
	if n, err := st.GetSettingInt(ctx, store.SettingMaxConcurrentDownloads, cfg.Concurrency.MaxConcurrentDownloads); err == nil {
		if err := gov.SetLimit(ctx, governor.PoolDownloads, n); err != nil {
			logger.Warn("Failed to apply download concurrency limit", "error", err)
		}
	}

	apiServer := api.NewServer(cfg.API, api.Deps{
		Sessions: sessions,
		Tasks:    engine,
		Disk:     disk,
		Cleanup:  cl,
		Governor: gov,
		Store:    st,
		Metrics:  m,
		Hub:      hub,
		Resolver: resolver,
		Version:  Version,
	})
	logger.Info("API server configured", "port", cfg.API.Port)

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Start server in background
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

		select {
		case err := <-serverDone:
			if err != nil {
				logger.Error("Server shutdown error", "error", err)
				return err
			}
			logger.Info("Server stopped gracefully")
		case <-time.After(cfg.ShutdownTimeout):
			return fmt.Errorf("shutdown did not complete within %s", cfg.ShutdownTimeout)
		}

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

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// startDaemon starts the server as a background daemon process.
func startDaemon() error {
	stateDir := GetDefaultStateDir()
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	// Check if already running
	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("ClipForge is already running (PID %d)\nUse 'clipforged stop' to stop the running instance", pid)
					}
				}
			}
		}
		// Stale PID file, remove it
		_ = os.Remove(pidPath)
	}

	logPath := logFile
	if logPath == "" {
		logPath = GetDefaultLogFile()
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	daemon := exec.Command(executable, daemonArgs...)

	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	daemon.Stdout = logFileHandle
	daemon.Stderr = logFileHandle

	// Detach from parent process
	daemon.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := daemon.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	_ = logFileHandle.Close()

	fmt.Printf("ClipForge started in background (PID %d)\n", daemon.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	fmt.Println("\nUse 'clipforged stop' to stop the server")
	fmt.Println("Use 'clipforged status' to check server status")

	return nil
}
