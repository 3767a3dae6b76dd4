// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autoseed/seedarr/internal/api"
	"github.com/autoseed/seedarr/internal/buildinfo"
	"github.com/autoseed/seedarr/internal/config"
	"github.com/autoseed/seedarr/internal/database"
	"github.com/autoseed/seedarr/internal/domain"
	"github.com/autoseed/seedarr/internal/downloader"
	"github.com/autoseed/seedarr/internal/metrics"
	"github.com/autoseed/seedarr/internal/models"
	"github.com/autoseed/seedarr/internal/services/accountsync"
	"github.com/autoseed/seedarr/internal/services/autodl"
	"github.com/autoseed/seedarr/internal/services/reconcile"
	"github.com/autoseed/seedarr/internal/services/retention"
	"github.com/autoseed/seedarr/internal/services/schedule"
	"github.com/autoseed/seedarr/internal/services/scheduler"
	"github.com/autoseed/seedarr/internal/tracker"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "seedarr",
		Short: "Rule-driven auto-download and retention engine for private trackers",
		Long: `seedarr polls tracker listings per account, matches them against
download rules, pushes hits to qBittorrent or Transmission, and reclaims
storage when free-leech promos lapse or capacity budgets are exceeded.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
		pprofFlag bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the engine and API server",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/seedarr/ or %APPDATA%\\seedarr\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and other files (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().BoolVar(&pprofFlag, "pprof", false, "enable pprof server on :6060")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath, pprofFlag)
		app.runServer()
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of seedarr",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/seedarr/config.toml
- Windows: %APPDATA%\seedarr\config.toml

You can specify either a directory path or a direct file path:
- Directory: seedarr generate-config --config-dir /path/to/config/
- File: seedarr generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				defaultDir := config.GetDefaultConfigDir()
				configPath = filepath.Join(defaultDir, "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	pprofFlag bool
}

func NewApplication(configDir, dataDir, logPath string, pprofFlag bool) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		pprofFlag: pprofFlag,
	}
}

func (app *Application) runServer() {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		os.Setenv("SEEDARR__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("SEEDARR__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	if app.pprofFlag {
		cfg.Config.PprofEnabled = true
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting seedarr")

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	accountStore, err := models.NewAccountStore(db, cfg.GetEncryptionKey())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize account store")
	}
	downloaderStore, err := models.NewDownloaderStore(db, cfg.GetEncryptionKey())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize downloader store")
	}
	ruleStore := models.NewRuleStore(db)
	downloadStore := models.NewDownloadStore(db)
	settingsStore := models.NewSettingsStore(db)

	trackerClient := tracker.NewClient(cfg.Config.TrackerBaseURL, 30)
	clientPool := downloader.NewPool(downloaderStore)
	gate := schedule.NewGate(settingsStore)

	dispatcher := autodl.NewDispatcher(downloadStore, trackerClient, clientPool)
	autoDownload := autodl.NewService(accountStore, ruleStore, gate, trackerClient, dispatcher)
	reconcileService := reconcile.NewService(downloadStore, downloaderStore, gate, clientPool)
	retentionService := retention.NewService(downloadStore, downloaderStore, ruleStore, settingsStore, gate, clientPool)
	accountSync := accountsync.NewService(accountStore, gate, trackerClient)

	if cfg.Config.MetricsEnabled {
		metricsManager := metrics.NewManager(downloadStore, downloaderStore, clientPool)
		autoDownload.SetMetrics(metricsManager)
		reconcileService.SetMetrics(metricsManager)
		retentionService.SetMetrics(metricsManager)

		go func() {
			metricsServer := metrics.NewServer(metricsManager, cfg.Config.MetricsHost, cfg.Config.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	sched := scheduler.New(settingsStore, gate)
	sched.Register(scheduler.TaskSpec{
		Name:     "auto-download",
		Class:    domain.TaskAutoDownload,
		Interval: func(i *models.RefreshIntervals) int { return i.TorrentCheck },
		Run:      autoDownload.Run,
	})
	sched.Register(scheduler.TaskSpec{
		Name:     "reconcile",
		Class:    domain.TaskAutoDownload,
		Interval: func(i *models.RefreshIntervals) int { return i.TorrentCheck },
		Run:      reconcileService.Run,
	})
	sched.Register(scheduler.TaskSpec{
		Name:     "retention",
		Class:    domain.TaskExpiredCheck,
		Interval: func(i *models.RefreshIntervals) int { return i.ExpiredCheck },
		Run:      retentionService.Run,
	})
	sched.Register(scheduler.TaskSpec{
		Name:     "account-refresh",
		Class:    domain.TaskAccountRefresh,
		Interval: func(i *models.RefreshIntervals) int { return i.AccountRefresh },
		Run:      accountSync.Run,
	})

	if err := sched.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	httpServer := api.NewServer(&api.Dependencies{
		Config:           cfg,
		Version:          buildinfo.Version,
		AccountStore:     accountStore,
		DownloaderStore:  downloaderStore,
		RuleStore:        ruleStore,
		DownloadStore:    downloadStore,
		SettingsStore:    settingsStore,
		ClientPool:       clientPool,
		TrackerClient:    trackerClient,
		AccountSync:      accountSync,
		ReconcileService: reconcileService,
		Scheduler:        sched,
	})

	errorChannel := make(chan error)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	if cfg.Config.PprofEnabled {
		go func() {
			log.Info().Msg("Starting pprof server on :6060")
			log.Info().Msg("Access profiling at: http://localhost:6060/debug/pprof/")
			if err := http.ListenAndServe(":6060", nil); err != nil {
				log.Error().Err(err).Msg("Profiling server failed")
			}
		}()
	}

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")
		os.Exit(1)
	}
}
