// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/dionysus-media/dionysus/internal/config"
	"github.com/dionysus-media/dionysus/internal/database"
	"github.com/dionysus-media/dionysus/internal/deeplink"
	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/models"
	"github.com/dionysus-media/dionysus/internal/services/library"
	"github.com/dionysus-media/dionysus/internal/services/realdebrid"
	"github.com/dionysus-media/dionysus/internal/services/session"
	"github.com/dionysus-media/dionysus/internal/services/sources"
	"github.com/dionysus-media/dionysus/internal/services/tmdb"
	"github.com/dionysus-media/dionysus/internal/services/torrentsearch"
	"github.com/dionysus-media/dionysus/internal/services/trakt"
)

const (
	existingHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	freshHash    = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type routeKey struct {
	Method string
	Path   string
}

var undocumentedRoutes = map[routeKey]struct{}{}

func TestAllEndpointsDocumented(t *testing.T) {
	server := NewServer(newTestDependencies(t, newUpstream(t)))
	router, err := server.Handler()
	require.NoError(t, err)

	actualRoutes := collectRouterRoutes(t, router)
	documentedRoutes := loadDocumentedRoutes(t)

	undocumented := diffRoutes(actualRoutes, documentedRoutes)
	if len(undocumented) > 0 {
		t.Fatalf("found %d undocumented API endpoints:\n%s", len(undocumented), formatRoutes(undocumented))
	}

	missingHandlers := diffRoutes(documentedRoutes, actualRoutes)
	if len(missingHandlers) > 0 {
		t.Fatalf("found %d documented endpoints without handlers:\n%s", len(missingHandlers), formatRoutes(missingHandlers))
	}

	t.Logf("checked %d API routes registered in chi", len(actualRoutes))
	t.Logf("OpenAPI spec documents %d API routes", len(documentedRoutes))
}

// upstream fakes the four remote services on one listener.
type upstream struct {
	server      *httptest.Server
	added       atomic.Int32
	deleted     atomic.Int32
	tokenGrants atomic.Int32
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()

	u := &upstream{}
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("GET /tmdb/movie/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "404" {
			writeJSON(w, http.StatusNotFound, map[string]string{"status_message": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": 603, "title": "The Matrix", "vote_average": 8.2, "release_date": "1999-03-31", "backdrop_path": "/m.jpg"})
	})
	mux.HandleFunc("GET /tmdb/search/movie", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"results": []map[string]any{{"id": 1, "title": "Heat", "vote_average": 8.3}}})
	})
	mux.HandleFunc("GET /tmdb/search/tv", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"results": []map[string]any{{"id": 2, "name": "Heat Wave", "vote_average": 6.1}}})
	})

	mux.HandleFunc("GET /proxy/api/v1/all/search", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]any{
			{"name": "Heat.1995.1080p.BluRay.x264-GRP", "seeders": "40", "magnet": "magnet:?xt=urn:btih:" + existingHash + "&dn=heat", "provider": "YTS", "quality": "1080p", "size": "2.1 GB"},
			{"name": "Heat.1995.2160p.UHD.BluRay.x265-GRP", "seeders": 12, "magnet": "magnet:?xt=urn:btih:" + freshHash + "&dn=heat", "provider": "1337x", "size": "18 GB"},
		}})
	})

	mux.HandleFunc("GET /rd/torrents", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "T1", "filename": "Heat.1995.1080p.BluRay.x264-GRP", "hash": strings.ToUpper(existingHash), "bytes": 100, "status": "downloaded"},
			{"id": "T2", "filename": "Arrival.2016.2160p", "hash": "cccc", "bytes": 200, "status": "downloaded"},
		})
	})
	mux.HandleFunc("GET /rd/torrents/info/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "filename": "Heat", "bytes": 300, "files": []any{
			map[string]any{"id": 1, "path": "/Heat.mkv", "bytes": 250, "selected": 1},
			map[string]any{"id": 2, "path": "/sample.mkv", "bytes": 50, "selected": 0},
		}})
	})
	mux.HandleFunc("DELETE /rd/torrents/delete/{id}", func(w http.ResponseWriter, r *http.Request) {
		u.deleted.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /rd/torrents/addMagnet", func(w http.ResponseWriter, r *http.Request) {
		u.added.Add(1)
		writeJSON(w, http.StatusCreated, map[string]string{"id": "NEW", "uri": "https://rd/NEW"})
	})
	mux.HandleFunc("POST /rd/torrents/selectFiles/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /trakt/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		u.tokenGrants.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "access", "refresh_token": "refresh", "token_type": "bearer", "expires_in": 7776000})
	})
	mux.HandleFunc("GET /trakt/sync/watched/movies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{"plays": 1, "movie": map[string]any{"title": "The Matrix", "ids": map[string]any{"tmdb": 603}}}})
	})
	mux.HandleFunc("GET /trakt/sync/watched/shows", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []any{})
	})

	u.server = httptest.NewServer(mux)
	t.Cleanup(u.server.Close)
	return u
}

func newTestDependencies(t *testing.T, up *upstream) *Dependencies {
	t.Helper()

	db, err := database.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	secureStore, err := models.NewSecureStore(db, bytes.Repeat([]byte("k"), 32))
	require.NoError(t, err)
	settingsStore := models.NewSettingsStore(db)
	searchCache := models.NewTorrentSearchCacheStore(db)

	cfg := &config.AppConfig{
		Config: &domain.Config{
			BaseURL:            "/",
			WatchRegion:        "US",
			DeepLinkScheme:     "dionysus",
			CORSAllowedOrigins: []string{"https://tv.example"},
		},
	}

	base := up.server.URL
	metadata := tmdb.NewClient(tmdb.Config{BaseURL: base + "/tmdb", APIKey: domain.StaticKey("tmdb-key"), RequestsPerSecond: 1000})
	proxy := torrentsearch.NewClient(torrentsearch.Config{BaseURL: base + "/proxy", Cache: searchCache})
	debrid := realdebrid.NewClient(realdebrid.Config{BaseURL: base + "/rd", APIKey: domain.StaticKey("rd-key")})
	tracker := trakt.NewClient(trakt.Config{ClientID: "client", ClientSecret: "secret", RedirectURL: "dionysus://trakt", BaseURL: base + "/trakt", AuthURL: base + "/trakt/oauth/authorize"})

	libraryService := library.NewService(debrid, library.Options{})
	t.Cleanup(libraryService.Close)

	return &Dependencies{
		Config:          cfg,
		Version:         "test",
		SessionManager:  scs.New(),
		DB:              db,
		Metadata:        metadata,
		MediaProxy:      proxy,
		SourcesService:  sources.NewService(proxy, debrid, sources.Options{SourceFilter: settingsStore.KeyFunc(models.SettingSourceFilter, "")}),
		LibraryService:  libraryService,
		SessionService:  session.NewService(tracker, secureStore, nil),
		SettingsStore:   settingsStore,
		SecureStore:     secureStore,
		SearchCache:     searchCache,
		DeepLinks:       deeplink.NewResolver(cfg.Config.DeepLinkScheme, metadata),
		TraktConfigured: tracker.Configured(),
	}
}

func newTestAPI(t *testing.T) (*httptest.Server, *upstream) {
	t.Helper()

	up := newUpstream(t)
	router, err := NewServer(newTestDependencies(t, up)).Handler()
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, up
}

func doJSON(t *testing.T, client *http.Client, method, rawURL string, body any, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, rawURL, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestAPI(t)

	for _, path := range []string{"/health", "/healthz/readiness", "/healthz/liveness"} {
		var body map[string]string
		status := doJSON(t, srv.Client(), http.MethodGet, srv.URL+path, nil, &body)
		assert.Equal(t, http.StatusOK, status, path)
		assert.NotEmpty(t, body["status"], path)
	}
}

func TestMediaEndpoints(t *testing.T) {
	srv, _ := newTestAPI(t)

	var media struct {
		Item     map[string]any `json:"item"`
		Watched  bool           `json:"watched"`
		DeepLink string         `json:"deepLink"`
	}
	status := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/media/movie/603", nil, &media)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "The Matrix", media.Item["title"])
	assert.Equal(t, "movie", media.Item["type"])
	assert.False(t, media.Watched)
	assert.Equal(t, "dionysus://movie/603", media.DeepLink)

	status = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/media/movie/404", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/media/book/1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var search struct {
		Results []map[string]any `json:"results"`
	}
	status = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/search?q=heat", nil, &search)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, search.Results, 2)
	assert.Equal(t, "Heat", search.Results[0]["title"], "sorted by rating")

	var branded struct {
		URL string `json:"url"`
	}
	status = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/media/movie/603/branded-image", nil, &branded)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, branded.URL, "/proxy/api/v1/image/branded?")
}

func TestSourcesSearchAndAdd(t *testing.T) {
	srv, up := newTestAPI(t)

	var resp struct {
		Results []struct {
			Name     string `json:"name"`
			InfoHash string `json:"infoHash"`
			Quality  string `json:"qualityLabel"`
			Added    bool   `json:"added"`
			Magnet   string `json:"magnet"`
		} `json:"results"`
		Providers []string `json:"providers"`
		AddState  string   `json:"addState"`
	}
	status := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/sources?query=Heat+1995", nil, &resp)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, []string{"1337x", "YTS"}, resp.Providers)
	assert.Equal(t, "idle", resp.AddState)

	byHash := map[string]bool{}
	var freshMagnet, existingMagnet string
	for _, r := range resp.Results {
		byHash[r.InfoHash] = r.Added
		switch r.InfoHash {
		case freshHash:
			freshMagnet = r.Magnet
			assert.Equal(t, "2160p", r.Quality, "quality parsed from the release name")
		case existingHash:
			existingMagnet = r.Magnet
		}
	}
	assert.True(t, byHash[existingHash])
	assert.False(t, byHash[freshHash])

	status = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/sources", map[string]string{"magnet": existingMagnet}, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.EqualValues(t, 0, up.added.Load())

	var addResp struct {
		AddState string `json:"addState"`
	}
	status = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/sources", map[string]string{"magnet": freshMagnet}, &addResp)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "success", addResp.AddState)
	assert.EqualValues(t, 1, up.added.Load())

	status = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/sources", map[string]string{"magnet": "not a magnet"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/api/sources/add-state", nil, &addResp)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "idle", addResp.AddState)

	status = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/sources", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status, "query is required")
}

func TestSourcesHonourStoredFilter(t *testing.T) {
	srv, _ := newTestAPI(t)

	status := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/api/settings", map[string]string{"sourceFilter": "Seeders >"}, nil)
	require.Equal(t, http.StatusBadRequest, status)

	var settings map[string]string
	status = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/api/settings", map[string]string{"sourceFilter": "Seeders > 20", "watchRegion": "gb"}, &settings)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Seeders > 20", settings["sourceFilter"])
	assert.Equal(t, "GB", settings["watchRegion"])

	var resp struct {
		Results []map[string]any `json:"results"`
	}
	status = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/sources?query=Heat", nil, &resp)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Heat.1995.1080p.BluRay.x264-GRP", resp.Results[0]["name"])

	status = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/api/settings", map[string]string{"sourceFilter": ""}, &settings)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, settings["sourceFilter"])
	assert.Equal(t, "GB", settings["watchRegion"])
}

func TestLibraryEndpoints(t *testing.T) {
	srv, up := newTestAPI(t)

	var st library.State
	status := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/library/refresh?wait=true", nil, &st)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, st.All, 2)
	assert.False(t, st.Loading)

	status = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/api/library/search", map[string]any{"text": "ARRIVAL", "immediate": true}, &st)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, st.Filtered, 1)
	assert.Equal(t, "T2", st.Filtered[0].ID)

	var suggestions []string
	status = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/library/suggest?q=heat", nil, &suggestions)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, suggestions)
	assert.Equal(t, "Heat.1995.1080p.BluRay.x264-GRP", suggestions[0])

	var info struct {
		ID            string `json:"id"`
		Files         []any  `json:"files"`
		SelectedFiles int    `json:"selectedFiles"`
		SelectedBytes int64  `json:"selectedBytes"`
	}
	status = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/library/T1", nil, &info)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "T1", info.ID)
	assert.Len(t, info.Files, 2)
	assert.Equal(t, 1, info.SelectedFiles)
	assert.EqualValues(t, 250, info.SelectedBytes)

	status = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/api/library/T1", nil, nil)
	require.Equal(t, http.StatusNoContent, status)
	assert.EqualValues(t, 1, up.deleted.Load())

	status = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/library", nil, &st)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, st.All, 1)
	assert.Equal(t, "T2", st.All[0].ID)
}

func TestSettingsKeys(t *testing.T) {
	srv, _ := newTestAPI(t)

	status := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/api/settings/keys/"+domain.TMDBAPIKeyName, map[string]string{"value": "tmdb-secret-1234"}, nil)
	require.Equal(t, http.StatusOK, status)

	var keys []struct {
		Name   string `json:"name"`
		Stored bool   `json:"stored"`
		Hint   string `json:"hint"`
	}
	status = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/settings/keys", nil, &keys)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, keys, 2)
	assert.True(t, keys[0].Stored)
	assert.Equal(t, "<redacted>1234", keys[0].Hint)
	assert.False(t, keys[1].Stored)
	assert.Empty(t, keys[1].Hint)

	status = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/api/settings/keys/"+domain.TMDBAPIKeyName, map[string]string{"value": keys[0].Hint}, nil)
	assert.Equal(t, http.StatusBadRequest, status, "echoed hint must not replace the key")

	status = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/api/settings/keys/"+domain.TraktAccessTokenKey, map[string]string{"value": "x"}, nil)
	assert.Equal(t, http.StatusNotFound, status, "session tokens are not editable")

	status = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/api/settings/keys/"+domain.TMDBAPIKeyName, nil, nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestCrossOriginRequests(t *testing.T) {
	srv, _ := newTestAPI(t)
	keyURL := srv.URL + "/api/settings/keys/" + domain.RealDebridAPIKeyName

	preflight := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, keyURL, nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPut)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	resp := preflight("https://evil.example")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))

	resp = preflight("https://tv.example")
	assert.Equal(t, "https://tv.example", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	put := func(origin string) int {
		req, err := http.NewRequest(http.MethodPut, keyURL, strings.NewReader(`{"value":"attacker-key-0000"}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", origin)
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusForbidden, put("https://evil.example"))

	var keys []struct {
		Name   string `json:"name"`
		Stored bool   `json:"stored"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/settings/keys", nil, &keys))
	for _, k := range keys {
		assert.False(t, k.Stored, "%s must not be written cross-origin", k.Name)
	}

	assert.Equal(t, http.StatusOK, put(srv.URL), "same-origin page")
	assert.Equal(t, http.StatusOK, put("https://tv.example"), "configured origin")
}

func TestTraktAuthorizeAndCallback(t *testing.T) {
	srv, up := newTestAPI(t)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := srv.Client()
	client.Jar = jar

	var authorize struct {
		URL string `json:"url"`
	}
	status := doJSON(t, client, http.MethodGet, srv.URL+"/api/trakt/authorize", nil, &authorize)
	require.Equal(t, http.StatusOK, status)

	authURL, err := url.Parse(authorize.URL)
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state)
	assert.Equal(t, "client", authURL.Query().Get("client_id"))

	status = doJSON(t, client, http.MethodGet, srv.URL+"/api/trakt/callback?code=abc&state=wrong", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.EqualValues(t, 0, up.tokenGrants.Load())

	// The state is single use, so a mismatch consumes it.
	status = doJSON(t, client, http.MethodGet, srv.URL+"/api/trakt/authorize", nil, &authorize)
	require.Equal(t, http.StatusOK, status)
	authURL, err = url.Parse(authorize.URL)
	require.NoError(t, err)
	state = authURL.Query().Get("state")

	var traktStatus struct {
		Status        string `json:"status"`
		WatchedMovies int    `json:"watchedMovies"`
	}
	status = doJSON(t, client, http.MethodGet, fmt.Sprintf("%s/api/trakt/callback?code=abc&state=%s", srv.URL, state), nil, &traktStatus)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "signed_in", traktStatus.Status)
	assert.Equal(t, 1, traktStatus.WatchedMovies)

	var media struct {
		Watched bool `json:"watched"`
	}
	status = doJSON(t, client, http.MethodGet, srv.URL+"/api/media/movie/603", nil, &media)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, media.Watched)

	status = doJSON(t, client, http.MethodPost, srv.URL+"/api/trakt/logout", nil, &traktStatus)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "signed_out", traktStatus.Status)
	assert.Zero(t, traktStatus.WatchedMovies)

	status = doJSON(t, client, http.MethodPost, srv.URL+"/api/trakt/refresh", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestDeepLinkEndpoint(t *testing.T) {
	srv, up := newTestAPI(t)

	var target struct {
		Kind string         `json:"kind"`
		ID   int            `json:"id"`
		Item map[string]any `json:"item"`
	}
	status := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/deeplink?url="+url.QueryEscape("dionysus://movie/603"), nil, &target)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "movie", target.Kind)
	assert.Equal(t, "The Matrix", target.Item["title"])

	status = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/deeplink?url="+url.QueryEscape("other://movie/603"), nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var signedIn struct {
		SignedIn bool `json:"signedIn"`
	}
	status = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/deeplink?url="+url.QueryEscape("dionysus://trakt?code=xyz"), nil, &signedIn)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, signedIn.SignedIn)
	assert.EqualValues(t, 1, up.tokenGrants.Load())
}

func collectRouterRoutes(t *testing.T, r chi.Routes) map[routeKey]struct{} {
	t.Helper()

	routes := make(map[routeKey]struct{})
	err := chi.Walk(r, func(method string, path string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		method = strings.ToUpper(method)
		if !isComparableMethod(method) {
			return nil
		}

		normalizedPath, ok := normalizeRoutePath(path)
		if !ok {
			return nil
		}

		route := routeKey{Method: method, Path: normalizedPath}
		if _, skip := undocumentedRoutes[route]; skip {
			return nil
		}

		routes[route] = struct{}{}
		return nil
	})
	require.NoError(t, err)

	return routes
}

func loadDocumentedRoutes(t *testing.T) map[routeKey]struct{} {
	t.Helper()

	require.NotEmpty(t, openAPISpec, "OpenAPI spec should be embedded")

	var spec map[string]any
	require.NoError(t, yaml.Unmarshal(openAPISpec, &spec))

	pathsNode, ok := spec["paths"].(map[string]any)
	require.True(t, ok, "OpenAPI spec missing paths section")

	routes := make(map[routeKey]struct{})

	for path, pathItem := range pathsNode {
		normalizedPath, ok := normalizeRoutePath(path)
		if !ok {
			continue
		}

		methods, ok := pathItem.(map[string]any)
		if !ok {
			continue
		}

		for method := range methods {
			upperMethod := strings.ToUpper(method)
			if !isComparableMethod(upperMethod) {
				continue
			}

			routes[routeKey{Method: upperMethod, Path: normalizedPath}] = struct{}{}
		}
	}

	return routes
}

func normalizeRoutePath(path string) (string, bool) {
	if path == "" {
		return "", false
	}

	if strings.Contains(path, "/*") {
		return "", false
	}

	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	if path == "/api/openapi.yaml" {
		return "", false
	}

	if !strings.HasPrefix(path, "/api") && !strings.HasPrefix(path, "/health") {
		return "", false
	}

	return path, true
}

func isComparableMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func diffRoutes(left, right map[routeKey]struct{}) []routeKey {
	diff := make([]routeKey, 0)
	for route := range left {
		if _, exists := right[route]; !exists {
			diff = append(diff, route)
		}
	}

	sort.Slice(diff, func(i, j int) bool {
		if diff[i].Path == diff[j].Path {
			return diff[i].Method < diff[j].Method
		}
		return diff[i].Path < diff[j].Path
	})

	return diff
}

func formatRoutes(routes []routeKey) string {
	lines := make([]string, len(routes))
	for i, route := range routes {
		lines[i] = fmt.Sprintf("%s %s", route.Method, route.Path)
	}
	return strings.Join(lines, "\n")
}
