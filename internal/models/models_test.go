// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dionysus-media/dionysus/internal/database"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := DeriveKey([]byte("session-secret"), []byte("salt"))
	require.NoError(t, err)
	return key
}

func TestDeriveKey(t *testing.T) {
	a, err := DeriveKey([]byte("secret"), []byte("salt-a"))
	require.NoError(t, err)
	assert.Len(t, a, 32)

	again, err := DeriveKey([]byte("secret"), []byte("salt-a"))
	require.NoError(t, err)
	assert.Equal(t, a, again, "derivation is deterministic")

	b, err := DeriveKey([]byte("secret"), []byte("salt-b"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "salt changes the key")

	_, err = DeriveKey(nil, nil)
	assert.Error(t, err)
}

func TestNewSecureStoreRejectsBadKey(t *testing.T) {
	_, err := NewSecureStore(setupTestDB(t), []byte("short"))
	assert.Error(t, err)
}

func TestSecureStoreReadSaveDelete(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store, err := NewSecureStore(db, testKey(t))
	require.NoError(t, err)

	_, err = store.Read(ctx, "trakt_access_token")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	require.NoError(t, store.Save(ctx, "trakt_access_token", "abc"))
	value, err := store.Read(ctx, "trakt_access_token")
	require.NoError(t, err)
	assert.Equal(t, "abc", value)

	require.NoError(t, store.Save(ctx, "trakt_access_token", "rotated"))
	value, err = store.Read(ctx, "trakt_access_token")
	require.NoError(t, err)
	assert.Equal(t, "rotated", value)

	var raw string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT value FROM secure_store WHERE key = ?`, "trakt_access_token").Scan(&raw))
	assert.NotContains(t, raw, "rotated", "value is stored encrypted")

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"trakt_access_token"}, keys)

	require.NoError(t, store.Delete(ctx, "trakt_access_token"))
	require.NoError(t, store.Delete(ctx, "trakt_access_token"), "deleting twice is fine")
	_, err = store.Read(ctx, "trakt_access_token")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	assert.Error(t, store.Save(ctx, " ", "x"))

	require.NoError(t, store.Save(ctx, "a", "1"))
	require.NoError(t, store.Save(ctx, "b", "2"))
	require.NoError(t, store.Save(ctx, "c", "3"))
	require.NoError(t, store.Delete(ctx, "a", "c", "missing"))
	keys, err = store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)
	require.NoError(t, store.Delete(ctx))
}

func TestSecureStoreWrongKeyCannotDecrypt(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	store, err := NewSecureStore(db, testKey(t))
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "k", "v"))

	otherKey, err := DeriveKey([]byte("other"), nil)
	require.NoError(t, err)
	other, err := NewSecureStore(db, otherKey)
	require.NoError(t, err)

	_, err = other.Read(ctx, "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSecretNotFound)
}

func TestSecureStoreKeyFunc(t *testing.T) {
	ctx := context.Background()
	store, err := NewSecureStore(setupTestDB(t), testKey(t))
	require.NoError(t, err)

	resolve := store.KeyFunc("tmdb_api_key", "from-config")
	assert.Equal(t, "from-config", resolve(ctx))

	require.NoError(t, store.Save(ctx, "tmdb_api_key", "from-store"))
	assert.Equal(t, "from-store", resolve(ctx), "resolved at call time")

	require.NoError(t, store.Save(ctx, "tmdb_api_key", "  "))
	assert.Equal(t, "from-config", resolve(ctx))
}

func TestSettingsStore(t *testing.T) {
	ctx := context.Background()
	store := NewSettingsStore(setupTestDB(t))

	_, ok, err := store.Get(ctx, SettingWatchRegion)
	require.NoError(t, err)
	assert.False(t, ok)

	resolve := store.KeyFunc(SettingWatchRegion, "US")
	assert.Equal(t, "US", resolve(ctx))

	assert.ErrorIs(t, store.Set(ctx, "theme", "dark"), ErrUnknownSetting)
	require.NoError(t, store.Set(ctx, SettingWatchRegion, "DE"))
	value, ok, err := store.Get(ctx, SettingWatchRegion)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "DE", value)
	assert.Equal(t, "DE", resolve(ctx))

	require.NoError(t, store.Set(ctx, SettingSourceFilter, "Seeders > 1"))
	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{SettingWatchRegion: "DE", SettingSourceFilter: "Seeders > 1"}, all)

	require.NoError(t, store.Delete(ctx, SettingWatchRegion))
	assert.Equal(t, "US", resolve(ctx))

	assert.True(t, IsKnownSetting(SettingSourceFilter))
	assert.False(t, IsKnownSetting("tmdb_api_key"))
}

func TestSearchCacheKey(t *testing.T) {
	assert.Equal(t, SearchCacheKey("Dune 2021"), SearchCacheKey("  dune   2021 "))
	assert.NotEqual(t, SearchCacheKey("Dune 2021"), SearchCacheKey("Dune 1984"))
}

func TestTorrentSearchCacheStore(t *testing.T) {
	ctx := context.Background()
	store := NewTorrentSearchCacheStore(setupTestDB(t))

	now := time.Unix(1_700_000_000, 0).UTC()
	store.now = func() time.Time { return now }

	key := SearchCacheKey("Dune 2021")
	_, found, err := store.Fetch(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	entry := &TorrentSearchCacheEntry{
		CacheKey:     key,
		Query:        "Dune 2021",
		ResponseData: []byte(`{"data":[]}`),
		CachedAt:     now,
		LastUsedAt:   now,
		ExpiresAt:    now.Add(30 * time.Minute),
	}
	require.NoError(t, store.Store(ctx, entry))

	cached, found, err := store.Fetch(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Dune 2021", cached.Query)
	assert.Equal(t, `{"data":[]}`, string(cached.ResponseData))
	assert.Equal(t, int64(1), cached.HitCount)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Entries)
	assert.Equal(t, int64(1), stats.TotalHits)
	require.NotNil(t, stats.OldestCachedAt)
	assert.Equal(t, now, *stats.OldestCachedAt)

	now = now.Add(31 * time.Minute)
	_, found, err = store.Fetch(ctx, key)
	require.NoError(t, err)
	assert.False(t, found, "expired entries are a miss")

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Entries, "expired entry removed on fetch")
}

func TestTorrentSearchCacheStoreValidationAndPrune(t *testing.T) {
	ctx := context.Background()
	store := NewTorrentSearchCacheStore(setupTestDB(t))
	now := time.Unix(1_700_000_000, 0).UTC()
	store.now = func() time.Time { return now }

	assert.Error(t, store.Store(ctx, nil))
	assert.Error(t, store.Store(ctx, &TorrentSearchCacheEntry{CacheKey: "k"}))
	assert.Error(t, store.Store(ctx, &TorrentSearchCacheEntry{CacheKey: "k", ResponseData: []byte("x"), CachedAt: now, ExpiresAt: now.Add(-time.Second)}))
	_, _, err := store.Fetch(ctx, "")
	assert.Error(t, err)

	for i, ttl := range []time.Duration{time.Minute, time.Hour} {
		require.NoError(t, store.Store(ctx, &TorrentSearchCacheEntry{
			CacheKey:     SearchCacheKey(string(rune('a' + i))),
			Query:        "q",
			ResponseData: []byte("x"),
			CachedAt:     now,
			LastUsedAt:   now,
			ExpiresAt:    now.Add(ttl),
		}))
	}

	now = now.Add(2 * time.Minute)
	pruned, err := store.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	flushed, err := store.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), flushed)
}
