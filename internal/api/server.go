// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dionysus-media/dionysus/internal/api/handlers"
	"github.com/dionysus-media/dionysus/internal/api/middleware"
	"github.com/dionysus-media/dionysus/internal/config"
	"github.com/dionysus-media/dionysus/internal/deeplink"
	"github.com/dionysus-media/dionysus/internal/models"
	"github.com/dionysus-media/dionysus/internal/services/library"
	"github.com/dionysus-media/dionysus/internal/services/session"
	"github.com/dionysus-media/dionysus/internal/services/sources"
)

//go:embed openapi.yaml
var openAPISpec []byte

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	sessionManager  *scs.SessionManager
	db              handlers.Pinger
	metadata        handlers.MetadataService
	mediaProxy      handlers.MediaProxy
	sourcesService  *sources.Service
	libraryService  *library.Service
	sessionService  *session.Service
	settingsStore   *models.SettingsStore
	secureStore     handlers.SecretStore
	searchCache     handlers.SearchCache
	deepLinks       *deeplink.Resolver
	traktConfigured bool
}

type Dependencies struct {
	Config          *config.AppConfig
	Version         string
	SessionManager  *scs.SessionManager
	DB              handlers.Pinger
	Metadata        handlers.MetadataService
	MediaProxy      handlers.MediaProxy
	SourcesService  *sources.Service
	LibraryService  *library.Service
	SessionService  *session.Service
	SettingsStore   *models.SettingsStore
	SecureStore     handlers.SecretStore
	SearchCache     handlers.SearchCache
	DeepLinks       *deeplink.Resolver
	TraktConfigured bool
}

func NewServer(deps *Dependencies) *Server {
	s := Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:          log.Logger.With().Str("module", "api").Logger(),
		config:          deps.Config,
		version:         deps.Version,
		sessionManager:  deps.SessionManager,
		db:              deps.DB,
		metadata:        deps.Metadata,
		mediaProxy:      deps.MediaProxy,
		sourcesService:  deps.SourcesService,
		libraryService:  deps.LibraryService,
		sessionService:  deps.SessionService,
		settingsStore:   deps.SettingsStore,
		secureStore:     deps.SecureStore,
		searchCache:     deps.SearchCache,
		deepLinks:       deps.DeepLinks,
		traktConfigured: deps.TraktConfigured,
	}

	return &s
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

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msgf("Failed to start server")
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
	clickableURL := fmt.Sprintf("http://%s%s", host, s.config.Config.BaseURL)

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", s.config.Config.BaseURL).
		Msgf("Starting API server - Open: %s", clickableURL)

	handler, err := s.Handler()
	if err != nil {
		listener.Close()
		return fmt.Errorf("build API router: %w", err)
	}

	s.server.Handler = handler

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

func (s *Server) Handler() (*chi.Mux, error) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID) // Must be before logger to capture request ID
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)

	// Use faster compression levels, responses are mostly small JSON documents
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

	// Same-origin pages and configured origins only; the API has no login
	origins := middleware.NewOriginPolicy(s.config.Config.CORSAllowedOrigins)
	corsMiddleware := cors.New(cors.Options{
		AllowCredentials:       true,
		AllowedMethods:         []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:         []string{"Accept", "Authorization", "Content-Type"},
		AllowOriginRequestFunc: origins.Allowed,
		MaxAge:                 300,
		Debug:                  false,
	})
	r.Use(corsMiddleware.Handler)
	r.Use(origins.RejectForeignWrites)

	// Session middleware holds the OAuth state between authorize and callback
	r.Use(s.sessionManager.LoadAndSave)

	cfg := s.config.Config
	watchRegion := s.settingsStore.KeyFunc(models.SettingWatchRegion, cfg.WatchRegion)

	healthHandler := handlers.NewHealthHandler(s.db)
	catalogHandler := handlers.NewCatalogHandler(s.metadata, s.mediaProxy, s.sessionService, watchRegion, cfg.DeepLinkScheme)
	sourcesHandler := handlers.NewSourcesHandler(s.sourcesService)
	libraryHandler := handlers.NewLibraryHandler(s.libraryService)
	traktHandler := handlers.NewTraktHandler(s.sessionService, s.sessionManager, s.traktConfigured)
	settingsHandler := handlers.NewSettingsHandler(s.settingsStore, s.secureStore, s.searchCache, map[string]string{
		models.SettingWatchRegion:  cfg.WatchRegion,
		models.SettingSourceFilter: cfg.SourceFilter,
	})
	deepLinkHandler := handlers.NewDeepLinkHandler(s.deepLinks, s.sessionService)

	apiRouter := chi.NewRouter()

	apiRouter.Group(func(r chi.Router) {
		r.Use(middleware.Logger(s.logger))

		r.Get("/openapi.yaml", s.serveOpenAPI)

		r.Get("/home", catalogHandler.HomeCategories)
		r.Get("/search", catalogHandler.Search)

		r.Route("/genres", func(r chi.Router) {
			r.Get("/", catalogHandler.ListGenres)
			r.Get("/{id}", catalogHandler.GenreMedia)
		})

		r.Route("/media/{type}/{id}", func(r chi.Router) {
			r.Get("/", catalogHandler.GetMedia)
			r.Get("/videos", catalogHandler.Videos)
			r.Get("/images", catalogHandler.Images)
			r.Get("/providers", catalogHandler.WatchProviders)
			r.Get("/branded-image", catalogHandler.BrandedImage)
		})

		r.Route("/tv/{id}", func(r chi.Router) {
			r.Get("/details", catalogHandler.TVShowDetails)
			r.Get("/season/{season}", catalogHandler.SeasonDetails)
		})

		r.Get("/videos/{key}/resolve", catalogHandler.ResolveVideo)

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", sourcesHandler.Search)
			r.Post("/", sourcesHandler.Add)
			r.Get("/add-state", sourcesHandler.AddStatus)
			r.Delete("/add-state", sourcesHandler.Dismiss)
		})

		r.Route("/library", func(r chi.Router) {
			r.Get("/", libraryHandler.List)
			r.Post("/refresh", libraryHandler.Refresh)
			r.Put("/search", libraryHandler.SetSearch)
			r.Get("/suggest", libraryHandler.Suggest)
			r.Get("/{id}", libraryHandler.Info)
			r.Delete("/{id}", libraryHandler.Delete)
		})

		r.Route("/trakt", func(r chi.Router) {
			r.Get("/status", traktHandler.Status)
			r.Get("/callback", traktHandler.Callback)
			r.Post("/refresh", traktHandler.Refresh)
			r.Post("/logout", traktHandler.Logout)

			r.Group(func(r chi.Router) {
				r.Use(chimiddleware.ThrottleBacklog(1, 5, time.Second))
				r.Get("/authorize", traktHandler.Authorize)
			})
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", settingsHandler.Get)
			r.Put("/", settingsHandler.Update)
			r.Get("/keys", settingsHandler.ListKeys)
			r.Put("/keys/{name}", settingsHandler.SetKey)
			r.Delete("/keys/{name}", settingsHandler.DeleteKey)
			r.Get("/cache", settingsHandler.CacheStats)
			r.Delete("/cache", settingsHandler.FlushCache)
		})

		r.Get("/deeplink", deepLinkHandler.Resolve)
	})

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "/"
	}

	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/healthz/readiness", healthHandler.HandleReady)
	r.Get("/healthz/liveness", healthHandler.HandleLiveness)

	r.Mount(baseURL+"api", apiRouter)

	if baseURL != "/" {
		r.Get("/", func(w http.ResponseWriter, request *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("Must use baseUrl: " + cfg.BaseURL + " instead of /"))
		})
	}

	return r, nil
}

func (s *Server) serveOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(openAPISpec)
}
