// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dionysus-media/dionysus/internal/buildinfo"
	"github.com/dionysus-media/dionysus/internal/config"
	"github.com/dionysus-media/dionysus/internal/database"
	"github.com/dionysus-media/dionysus/internal/deeplink"
	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/metrics"
	"github.com/dionysus-media/dionysus/internal/models"
	"github.com/dionysus-media/dionysus/internal/services/library"
	"github.com/dionysus-media/dionysus/internal/services/realdebrid"
	"github.com/dionysus-media/dionysus/internal/services/session"
	"github.com/dionysus-media/dionysus/internal/services/sources"
	"github.com/dionysus-media/dionysus/internal/services/tmdb"
	"github.com/dionysus-media/dionysus/internal/services/torrentsearch"
	"github.com/dionysus-media/dionysus/internal/services/trakt"
)

// components is everything the commands share: config, storage, clients and
// the stateful services built on them.
type components struct {
	cfg *config.AppConfig
	db  *database.DB

	secureStore *models.SecureStore
	settings    *models.SettingsStore
	searchCache *models.TorrentSearchCacheStore

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	tmdb    *tmdb.Client
	proxy   *torrentsearch.Client
	debrid  *realdebrid.Client
	tracker *trakt.Client

	sources   *sources.Service
	library   *library.Service
	session   *session.Service
	deepLinks *deeplink.Resolver
}

func loadComponents(ctx context.Context, configDir, dataDir string) (*components, error) {
	cfg, err := config.New(configDir, buildinfo.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}
	if dataDir != "" {
		cfg.SetDataDir(dataDir)
	}
	cfg.ApplyLogConfig()

	db, err := database.New(ctx, cfg.GetDatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	key, err := models.DeriveKey(cfg.GetEncryptionKey(), models.MachineSalt())
	if err != nil {
		db.Close()
		return nil, err
	}
	secureStore, err := models.NewSecureStore(db, key)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize secure store: %w", err)
	}

	c := &components{
		cfg:         cfg,
		db:          db,
		secureStore: secureStore,
		settings:    models.NewSettingsStore(db),
		searchCache: models.NewTorrentSearchCacheStore(db),
	}

	conf := cfg.Config
	if conf.MetricsEnabled {
		c.registry = metrics.NewRegistry()
		c.metrics = metrics.New(c.registry)
	}

	c.tmdb = tmdb.NewClient(tmdb.Config{
		BaseURL: conf.TMDBBaseURL,
		APIKey:  secureStore.KeyFunc(domain.TMDBAPIKeyName, conf.TMDBAPIKey),
		Metrics: c.metrics,
	})
	c.proxy = torrentsearch.NewClient(torrentsearch.Config{
		BaseURL:  conf.TorrentSearchBaseURL,
		Cache:    c.searchCache,
		CacheTTL: time.Duration(conf.SearchCacheTTLMinutes) * time.Minute,
		Metrics:  c.metrics,
	})
	c.debrid = realdebrid.NewClient(realdebrid.Config{
		BaseURL: conf.RealDebridBaseURL,
		APIKey:  secureStore.KeyFunc(domain.RealDebridAPIKeyName, conf.RealDebridAPIKey),
		Metrics: c.metrics,
	})
	c.tracker = trakt.NewClient(trakt.Config{
		ClientID:     conf.TraktClientID,
		ClientSecret: conf.TraktClientSecret,
		RedirectURL:  conf.TraktRedirectURL,
		BaseURL:      conf.TraktBaseURL,
		AuthURL:      conf.TraktAuthURL,
		Metrics:      c.metrics,
	})

	c.sources = sources.NewService(c.proxy, c.debrid, sources.Options{
		SourceFilter: c.settings.KeyFunc(models.SettingSourceFilter, conf.SourceFilter),
		Metrics:      c.metrics,
	})
	c.library = library.NewService(c.debrid, library.Options{Metrics: c.metrics})
	c.session = session.NewService(c.tracker, secureStore, c.metrics)
	c.deepLinks = deeplink.NewResolver(conf.DeepLinkScheme, c.tmdb)

	return c, nil
}

func (c *components) Close() {
	c.library.Close()
	if err := c.db.Close(); err != nil {
		fmt.Printf("failed to close database: %v\n", err)
	}
}
