// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package tmdb is the metadata provider client.
package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dionysus-media/dionysus/internal/buildinfo"
	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.themoviedb.org/3"
	DefaultRegion  = "US"

	EndpointTrendingMovies = "/trending/movie/week"
	EndpointPopularMovies  = "/movie/popular"
	EndpointTrendingShows  = "/trending/tv/week"
	EndpointPopularShows   = "/tv/popular"

	defaultRequestsPerSecond = 40
	defaultCacheTTL          = 10 * time.Minute
	maxErrorBody             = 4 << 10
)

type Config struct {
	BaseURL    string
	APIKey     domain.KeyFunc
	HTTPClient *http.Client
	// RequestsPerSecond caps outgoing requests; zero uses the default.
	RequestsPerSecond float64
	// CacheTTL applies to home categories and discover results.
	CacheTTL time.Duration
	Metrics  *metrics.Metrics
}

type Client struct {
	baseURL    string
	apiKey     domain.KeyFunc
	httpClient *http.Client
	limiter    *rate.Limiter
	listCache  *ttlcache.Cache[string, []domain.MediaItem]
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIKey == nil {
		cfg.APIKey = domain.StaticKey("")
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: cfg.Metrics.HTTPClient("tmdb", cfg.HTTPClient),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)),
		listCache:  ttlcache.New(ttlcache.Options[string, []domain.MediaItem]{}.SetDefaultTTL(cfg.CacheTTL)),
		metrics:    cfg.Metrics,
		logger:     log.Logger.With().Str("module", "tmdb").Logger(),
	}
}

// fetch GETs endpoint with the api key and decodes a 200 response into out.
func (c *Client) fetch(ctx context.Context, op, endpoint string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.RequestFailed(op, 0, err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.apiKey(ctx))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return domain.RequestFailed(op, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("endpoint", endpoint).Msg("request failed")
		return domain.RequestFailed(op, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn().Int("status", resp.StatusCode).Str("endpoint", endpoint).Str("body", string(body)).Msg("unexpected status")
		return domain.RequestFailed(op, resp.StatusCode, nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Debug().Err(err).Str("endpoint", endpoint).Msg("decode failed")
		return domain.DecodeFailed(op, err)
	}

	return nil
}

func (c *Client) FetchMovies(ctx context.Context, endpoint string) ([]domain.Movie, error) {
	var resp domain.MovieResponse
	if err := c.fetch(ctx, "fetch movies", endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *Client) FetchTVShows(ctx context.Context, endpoint string) ([]domain.TVShow, error) {
	var resp domain.TVShowResponse
	if err := c.fetch(ctx, "fetch tv shows", endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *Client) FetchMovie(ctx context.Context, id int) (domain.Movie, error) {
	var movie domain.Movie
	err := c.fetch(ctx, "fetch movie", "/movie/"+strconv.Itoa(id), nil, &movie)
	return movie, err
}

func (c *Client) FetchTVShow(ctx context.Context, id int) (domain.TVShow, error) {
	var show domain.TVShow
	err := c.fetch(ctx, "fetch tv show", "/tv/"+strconv.Itoa(id), nil, &show)
	return show, err
}

// FetchMedia loads a single title as a MediaItem of the given type.
func (c *Client) FetchMedia(ctx context.Context, mediaType domain.MediaType, id int) (domain.MediaItem, error) {
	switch mediaType {
	case domain.MediaTypeMovie:
		movie, err := c.FetchMovie(ctx, id)
		if err != nil {
			return domain.MediaItem{}, err
		}
		return domain.NewMovieItem(movie), nil
	case domain.MediaTypeTV:
		show, err := c.FetchTVShow(ctx, id)
		if err != nil {
			return domain.MediaItem{}, err
		}
		return domain.NewTVShowItem(show), nil
	default:
		return domain.MediaItem{}, fmt.Errorf("unsupported media type %q", mediaType)
	}
}

func (c *Client) FetchTVShowDetails(ctx context.Context, id int) (domain.TVShowDetails, error) {
	var details domain.TVShowDetails
	err := c.fetch(ctx, "fetch tv details", "/tv/"+strconv.Itoa(id), nil, &details)
	return details, err
}

func (c *Client) FetchSeasonDetails(ctx context.Context, showID, season int) (domain.SeasonDetails, error) {
	var details domain.SeasonDetails
	err := c.fetch(ctx, "fetch season", fmt.Sprintf("/tv/%d/season/%d", showID, season), nil, &details)
	return details, err
}

// FetchVideos returns the YouTube-hosted videos for item.
func (c *Client) FetchVideos(ctx context.Context, item domain.MediaItem) ([]domain.Video, error) {
	var resp domain.VideoResponse
	if err := c.fetch(ctx, "fetch videos", mediaPath(item)+"/videos", nil, &resp); err != nil {
		return nil, err
	}

	videos := make([]domain.Video, 0, len(resp.Results))
	for _, v := range resp.Results {
		if v.Site == "YouTube" {
			videos = append(videos, v)
		}
	}
	return videos, nil
}

func (c *Client) FetchImages(ctx context.Context, item domain.MediaItem) (domain.ImagesResponse, error) {
	var resp domain.ImagesResponse
	err := c.fetch(ctx, "fetch images", mediaPath(item)+"/images", nil, &resp)
	return resp, err
}

// FetchWatchProviders returns the providers for region (US when empty), or nil
// when the provider has no entry for that region.
func (c *Client) FetchWatchProviders(ctx context.Context, item domain.MediaItem, region string) (*domain.WatchProviderCountryResult, error) {
	var resp domain.WatchProviderResponse
	if err := c.fetch(ctx, "fetch watch providers", mediaPath(item)+"/watch/providers", nil, &resp); err != nil {
		return nil, err
	}

	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = DefaultRegion
	}

	result, ok := resp.Results[region]
	if !ok {
		return nil, nil
	}
	return &result, nil
}

// SearchAll queries movies and shows concurrently. A failed half contributes
// no results; the merge is ordered by rating, highest first.
func (c *Client) SearchAll(ctx context.Context, query string) []domain.MediaItem {
	params := func() url.Values { return url.Values{"query": {query}} }
	return c.fetchBoth(ctx, "/search/movie", "/search/tv", params)
}

// FetchDiscoverMedia lists movies and shows for a genre with the same merge
// policy as SearchAll. Results are cached per genre.
func (c *Client) FetchDiscoverMedia(ctx context.Context, genreID int, forceRefresh bool) []domain.MediaItem {
	key := "discover:" + strconv.Itoa(genreID)
	if !forceRefresh {
		if items, ok := c.listCache.Get(key); ok {
			c.metrics.CacheLookup("tmdb", true)
			return items
		}
	}
	c.metrics.CacheLookup("tmdb", false)

	params := func() url.Values { return url.Values{"with_genres": {strconv.Itoa(genreID)}} }
	items := c.fetchBoth(ctx, "/discover/movie", "/discover/tv", params)
	if len(items) > 0 {
		c.listCache.Set(key, items, ttlcache.DefaultTTL)
	}
	return items
}

func (c *Client) fetchBoth(ctx context.Context, movieEndpoint, tvEndpoint string, params func() url.Values) []domain.MediaItem {
	var (
		g      errgroup.Group
		movies []domain.Movie
		shows  []domain.TVShow
	)

	g.Go(func() error {
		var resp domain.MovieResponse
		if err := c.fetch(ctx, "fetch movies", movieEndpoint, params(), &resp); err != nil {
			c.logger.Debug().Err(err).Str("endpoint", movieEndpoint).Msg("movie half failed, continuing with shows")
			return nil
		}
		movies = resp.Results
		return nil
	})
	g.Go(func() error {
		var resp domain.TVShowResponse
		if err := c.fetch(ctx, "fetch tv shows", tvEndpoint, params(), &resp); err != nil {
			c.logger.Debug().Err(err).Str("endpoint", tvEndpoint).Msg("tv half failed, continuing with movies")
			return nil
		}
		shows = resp.Results
		return nil
	})
	_ = g.Wait()

	items := append(domain.MoviesToItems(movies), domain.TVShowsToItems(shows)...)
	SortByRating(items)
	return items
}

// SortByRating orders items by vote average, highest first. Ties keep their order.
func SortByRating(items []domain.MediaItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].VoteAverage() > items[j].VoteAverage()
	})
}

// HomeCategories is the four-row home screen.
type HomeCategories struct {
	TrendingMovies []domain.MediaItem `json:"trendingMovies"`
	PopularMovies  []domain.MediaItem `json:"popularMovies"`
	TrendingShows  []domain.MediaItem `json:"trendingShows"`
	PopularShows   []domain.MediaItem `json:"popularShows"`
	// Failed lists the endpoints that could not be loaded.
	Failed []string `json:"failed,omitempty"`
}

// FetchHomeCategories loads the four home rows concurrently. Failed rows are
// empty; an error is returned only when every row failed.
func (c *Client) FetchHomeCategories(ctx context.Context, forceRefresh bool) (HomeCategories, error) {
	type row struct {
		endpoint string
		movies   bool
		dst      *[]domain.MediaItem
	}

	var home HomeCategories
	rows := []row{
		{endpoint: EndpointTrendingMovies, movies: true, dst: &home.TrendingMovies},
		{endpoint: EndpointPopularMovies, movies: true, dst: &home.PopularMovies},
		{endpoint: EndpointTrendingShows, dst: &home.TrendingShows},
		{endpoint: EndpointPopularShows, dst: &home.PopularShows},
	}

	var (
		g        errgroup.Group
		mu       sync.Mutex
		failures []string
		lastErr  error
	)

	for _, r := range rows {
		g.Go(func() error {
			key := "home:" + r.endpoint
			if !forceRefresh {
				if items, ok := c.listCache.Get(key); ok {
					c.metrics.CacheLookup("tmdb", true)
					*r.dst = items
					return nil
				}
			}
			c.metrics.CacheLookup("tmdb", false)

			var (
				items []domain.MediaItem
				err   error
			)
			if r.movies {
				var movies []domain.Movie
				movies, err = c.FetchMovies(ctx, r.endpoint)
				items = domain.MoviesToItems(movies)
			} else {
				var shows []domain.TVShow
				shows, err = c.FetchTVShows(ctx, r.endpoint)
				items = domain.TVShowsToItems(shows)
			}

			if err != nil {
				mu.Lock()
				failures = append(failures, r.endpoint)
				lastErr = err
				mu.Unlock()
				*r.dst = []domain.MediaItem{}
				return nil
			}

			c.listCache.Set(key, items, ttlcache.DefaultTTL)
			*r.dst = items
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(failures)
	home.Failed = failures
	if len(failures) == len(rows) {
		return home, lastErr
	}
	if len(failures) > 0 {
		c.logger.Warn().Strs("endpoints", failures).Msg("some home categories failed to load")
	}
	return home, nil
}

func mediaPath(item domain.MediaItem) string {
	return "/" + string(item.Type()) + "/" + strconv.Itoa(item.ID())
}
