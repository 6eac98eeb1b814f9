// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrentsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dionysus-media/dionysus/internal/buildinfo"
	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/metrics"
	"github.com/dionysus-media/dionysus/internal/models"
)

const (
	DefaultBaseURL = "https://dionysus-server-py-production.up.railway.app"

	maxResponseBytes int64 = 16 << 20
	defaultCacheTTL        = 30 * time.Minute
)

// ResponseCache persists raw search responses.
type ResponseCache interface {
	Fetch(ctx context.Context, cacheKey string) (*models.TorrentSearchCacheEntry, bool, error)
	Store(ctx context.Context, entry *models.TorrentSearchCacheEntry) error
}

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	// Cache is optional; without it every search goes upstream.
	Cache    ResponseCache
	CacheTTL time.Duration
	Metrics  *metrics.Metrics
}

// Client talks to the torrent search proxy.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      ResponseCache
	cacheTTL   time.Duration
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.Metrics.HTTPClient("torrentsearch", cfg.HTTPClient),
		cache:      cfg.Cache,
		cacheTTL:   cfg.CacheTTL,
		metrics:    cfg.Metrics,
		logger:     log.Logger.With().Str("module", "torrentsearch").Logger(),
		now:        time.Now,
	}
}

// SearchTorrents returns every result the proxy has for query. forceRefresh
// skips the local cache and asks the proxy to bypass its own.
func (c *Client) SearchTorrents(ctx context.Context, query string, forceRefresh bool) ([]domain.Torrent, error) {
	const op = "search torrents"

	cacheKey := models.SearchCacheKey(query)
	if !forceRefresh {
		if torrents, ok := c.cached(ctx, cacheKey); ok {
			return torrents, nil
		}
	}

	params := url.Values{"query": {query}}
	if forceRefresh {
		params.Set("force_refresh", "true")
	}

	data, err := c.get(ctx, op, "/api/v1/all/search", params)
	if err != nil {
		return nil, err
	}

	var resp domain.TorrentResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Debug().Err(err).Str("query", query).Msg("search response did not decode")
		return nil, domain.DecodeFailed(op, err)
	}
	if resp.Data == nil {
		resp.Data = []domain.Torrent{}
	}

	c.store(ctx, cacheKey, query, data, len(resp.Data))

	c.logger.Debug().Str("query", query).Int("results", len(resp.Data)).Bool("forceRefresh", forceRefresh).Msg("search completed")
	return resp.Data, nil
}

func (c *Client) cached(ctx context.Context, cacheKey string) ([]domain.Torrent, bool) {
	if c.cache == nil {
		return nil, false
	}

	entry, found, err := c.cache.Fetch(ctx, cacheKey)
	if err != nil {
		c.logger.Warn().Err(err).Msg("search cache read failed")
		return nil, false
	}
	c.metrics.CacheLookup("torrentsearch", found)
	if !found {
		return nil, false
	}

	var resp domain.TorrentResponse
	if err := json.Unmarshal(entry.ResponseData, &resp); err != nil {
		c.logger.Warn().Err(err).Msg("cached search response is corrupt, refetching")
		return nil, false
	}
	if resp.Data == nil {
		resp.Data = []domain.Torrent{}
	}
	return resp.Data, true
}

func (c *Client) store(ctx context.Context, cacheKey, query string, data []byte, total int) {
	if c.cache == nil {
		return
	}

	now := c.now().UTC()
	err := c.cache.Store(ctx, &models.TorrentSearchCacheEntry{
		CacheKey:     cacheKey,
		Query:        query,
		ResponseData: data,
		TotalResults: total,
		CachedAt:     now,
		LastUsedAt:   now,
		ExpiresAt:    now.Add(c.cacheTTL),
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("search cache write failed")
	}
}

// BrandedImageURL builds the proxy URL for a backdrop with the title logo
// composited on. Empty when item has no backdrop.
func (c *Client) BrandedImageURL(item domain.MediaItem) string {
	backdrop := item.BackdropPath()
	if backdrop == nil || *backdrop == "" {
		return ""
	}

	params := url.Values{
		"backdrop_path": {*backdrop},
		"media_type":    {string(item.Type())},
		"media_id":      {strconv.Itoa(item.ID())},
	}
	return c.baseURL + "/api/v1/image/branded?" + params.Encode()
}

// ResolveVideo turns a YouTube video key into a directly playable URL.
func (c *Client) ResolveVideo(ctx context.Context, videoKey string) (string, error) {
	const op = "resolve video"

	data, err := c.get(ctx, op, "/api/v1/resolve_video", url.Values{"video_key": {videoKey}})
	if err != nil {
		return "", err
	}

	var resp domain.VideoResolveResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", domain.DecodeFailed(op, err)
	}
	return resp.DirectURL, nil
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, domain.RequestFailed(op, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("path", path).Msg("request failed")
		return nil, domain.RequestFailed(op, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, domain.RequestFailed(op, resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Str("body", string(bytes.TrimSpace(data))).Msg("unexpected status")
		return nil, domain.RequestFailed(op, resp.StatusCode, nil)
	}

	return data, nil
}
