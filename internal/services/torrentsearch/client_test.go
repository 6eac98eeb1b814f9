// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrentsearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dionysus-media/dionysus/internal/database"
	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/models"
)

const searchBody = `{"data":[{"name":"Dune.2021.2160p","size":"20 GB","seeders":"120","magnet":"magnet:?xt=urn:btih:AAA&dn=d","quality":"2160p","provider":"TPB"},{"name":"Dune.2021.1080p","seeders":40}]}`

func newCache(t *testing.T) *models.TorrentSearchCacheStore {
	t.Helper()
	db, err := database.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return models.NewTorrentSearchCacheStore(db)
}

func TestSearchTorrents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/all/search", r.URL.Path)
		assert.Equal(t, "Dune 2021", r.URL.Query().Get("query"))
		assert.False(t, r.URL.Query().Has("force_refresh"))
		w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	torrents, err := client.SearchTorrents(context.Background(), "Dune 2021", false)
	require.NoError(t, err)
	require.Len(t, torrents, 2)
	assert.Equal(t, 120, torrents[0].SeederCount())
	assert.Equal(t, 40, torrents[1].SeederCount())
	assert.False(t, torrents[1].HasMagnet())
}

func TestSearchTorrentsErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   error
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "boom", kind: domain.ErrRequestFailed},
		{name: "created is not ok", status: http.StatusCreated, body: searchBody, kind: domain.ErrRequestFailed},
		{name: "bad shape", status: http.StatusOK, body: `{"data":{}}`, kind: domain.ErrDecodeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(Config{BaseURL: srv.URL}).SearchTorrents(context.Background(), "q", false)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestSearchTorrentsCache(t *testing.T) {
	var calls atomic.Int32
	var forced atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("force_refresh") == "true" {
			forced.Add(1)
		}
		w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Cache: newCache(t)})
	ctx := context.Background()

	first, err := client.SearchTorrents(ctx, "Dune 2021", false)
	require.NoError(t, err)
	second, err := client.SearchTorrents(ctx, "dune  2021", false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load(), "normalised query hits the cache")

	_, err = client.SearchTorrents(ctx, "Dune 2021", true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "force refresh goes upstream")
	assert.Equal(t, int32(1), forced.Load())
}

func TestBrandedImageURL(t *testing.T) {
	client := NewClient(Config{BaseURL: "https://proxy.example/"})

	assert.Empty(t, client.BrandedImageURL(domain.NewMovieItem(domain.Movie{ID: 1})))

	backdrop := "/back.jpg"
	raw := client.BrandedImageURL(domain.NewTVShowItem(domain.TVShow{ID: 42, BackdropPath: &backdrop}))
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "proxy.example", u.Host)
	assert.Equal(t, "/api/v1/image/branded", u.Path)
	assert.Equal(t, "/back.jpg", u.Query().Get("backdrop_path"))
	assert.Equal(t, "tv", u.Query().Get("media_type"))
	assert.Equal(t, "42", u.Query().Get("media_id"))
}

func TestResolveVideo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/resolve_video", r.URL.Path)
		assert.Equal(t, "abc123", r.URL.Query().Get("video_key"))
		w.Write([]byte(`{"directURL":"https://cdn.example/v.mp4"}`))
	}))
	defer srv.Close()

	direct, err := NewClient(Config{BaseURL: srv.URL}).ResolveVideo(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/v.mp4", direct)
}
