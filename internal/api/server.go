// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autoseed/seedarr/internal/api/handlers"
	"github.com/autoseed/seedarr/internal/config"
	"github.com/autoseed/seedarr/internal/downloader"
	"github.com/autoseed/seedarr/internal/models"
	"github.com/autoseed/seedarr/internal/services/accountsync"
	"github.com/autoseed/seedarr/internal/services/reconcile"
	"github.com/autoseed/seedarr/internal/services/scheduler"
	"github.com/autoseed/seedarr/internal/tracker"
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	accountStore     *models.AccountStore
	downloaderStore  *models.DownloaderStore
	ruleStore        *models.RuleStore
	downloadStore    *models.DownloadStore
	settingsStore    *models.SettingsStore
	clientPool       *downloader.Pool
	trackerClient    *tracker.Client
	accountSync      *accountsync.Service
	reconcileService *reconcile.Service
	scheduler        *scheduler.Scheduler
}

type Dependencies struct {
	Config  *config.AppConfig
	Version string

	AccountStore     *models.AccountStore
	DownloaderStore  *models.DownloaderStore
	RuleStore        *models.RuleStore
	DownloadStore    *models.DownloadStore
	SettingsStore    *models.SettingsStore
	ClientPool       *downloader.Pool
	TrackerClient    *tracker.Client
	AccountSync      *accountsync.Service
	ReconcileService *reconcile.Service
	Scheduler        *scheduler.Scheduler
}

func NewServer(deps *Dependencies) *Server {
	return &Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:           log.Logger.With().Str("module", "api").Logger(),
		config:           deps.Config,
		version:          deps.Version,
		accountStore:     deps.AccountStore,
		downloaderStore:  deps.DownloaderStore,
		ruleStore:        deps.RuleStore,
		downloadStore:    deps.DownloadStore,
		settingsStore:    deps.SettingsStore,
		clientPool:       deps.ClientPool,
		trackerClient:    deps.TrackerClient,
		accountSync:      deps.AccountSync,
		reconcileService: deps.ReconcileService,
		scheduler:        deps.Scheduler,
	}
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	addr := fmt.Sprintf("%s:%d", s.config.Config.Host, s.config.Config.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msg("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	// Replace 0.0.0.0 or :: with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", s.config.Config.BaseURL).
		Msgf("Starting API server - Open: http://%s%s", host, s.config.Config.BaseURL)

	s.server.Handler = s.Handler()

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	// HTTP compression - gzip, brotli, zstd, deflate negotiated automatically
	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowCredentials: true,
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowOriginFunc:  func(origin string) bool { return true },
		MaxAge:           300,
	})
	r.Use(corsMiddleware.Handler)

	healthHandler := handlers.NewHealthHandler()
	accountsHandler := handlers.NewAccountsHandler(s.accountStore, s.accountSync)
	downloadersHandler := handlers.NewDownloadersHandler(s.downloaderStore, s.clientPool)
	rulesHandler := handlers.NewRulesHandler(s.ruleStore)
	historyHandler := handlers.NewHistoryHandler(s.downloadStore, s.clientPool, s.reconcileService)
	settingsHandler := handlers.NewSettingsHandler(s.settingsStore, s.scheduler)
	torrentsHandler := handlers.NewTorrentsHandler(s.accountStore, s.trackerClient)

	apiRouter := chi.NewRouter()
	apiRouter.Route("/accounts", accountsHandler.Routes)
	apiRouter.Route("/downloaders", downloadersHandler.Routes)
	apiRouter.Route("/rules", rulesHandler.Routes)
	apiRouter.Route("/history", historyHandler.Routes)
	apiRouter.Route("/settings", settingsHandler.Routes)
	apiRouter.Route("/torrents", torrentsHandler.Routes)
	apiRouter.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		handlers.RespondJSON(w, http.StatusOK, map[string]string{"version": s.version})
	})

	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/healthz/readiness", healthHandler.HandleReady)
	r.Get("/healthz/liveness", healthHandler.HandleLiveness)

	baseURL := s.config.Config.BaseURL
	if baseURL == "" {
		baseURL = "/"
	}
	r.Mount(baseURL+"api", apiRouter)

	if baseURL != "/" {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("Must use baseUrl: " + s.config.Config.BaseURL + " instead of /"))
		})
	}

	return r
}
