// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"github.com/dionysus-media/dionysus/internal/dbinterface"
)

// TorrentSearchCacheEntry is a cached search proxy response.
type TorrentSearchCacheEntry struct {
	ID           int64
	CacheKey     string
	Query        string
	ResponseData []byte
	TotalResults int
	CachedAt     time.Time
	LastUsedAt   time.Time
	ExpiresAt    time.Time
	HitCount     int64
}

// TorrentSearchCacheStats summarises the cache table.
type TorrentSearchCacheStats struct {
	Entries         int64      `json:"entries"`
	TotalHits       int64      `json:"totalHits"`
	ApproxSizeBytes int64      `json:"approxSizeBytes"`
	OldestCachedAt  *time.Time `json:"oldestCachedAt,omitempty"`
	NewestCachedAt  *time.Time `json:"newestCachedAt,omitempty"`
}

// TorrentSearchCacheStore persists search proxy responses.
type TorrentSearchCacheStore struct {
	db  dbinterface.Querier
	now func() time.Time
}

func NewTorrentSearchCacheStore(db dbinterface.Querier) *TorrentSearchCacheStore {
	return &TorrentSearchCacheStore{db: db, now: time.Now}
}

// SearchCacheKey normalises query and hashes it.
func SearchCacheKey(query string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	return strconv.FormatUint(xxhash.Sum64String(normalized), 16)
}

// Fetch returns a live entry for cacheKey. Expired rows are removed and reported as a miss.
func (s *TorrentSearchCacheStore) Fetch(ctx context.Context, cacheKey string) (*TorrentSearchCacheEntry, bool, error) {
	if strings.TrimSpace(cacheKey) == "" {
		return nil, false, errors.New("cache key cannot be empty")
	}

	const fetchQuery = `
		SELECT id, query, response_data, total_results, cached_at, last_used_at, expires_at, hit_count
		FROM torrent_search_cache
		WHERE cache_key = ?
	`

	var (
		entry                           = &TorrentSearchCacheEntry{CacheKey: cacheKey}
		cachedAt, lastUsedAt, expiresAt int64
	)

	err := s.db.QueryRowContext(ctx, fetchQuery, cacheKey).Scan(
		&entry.ID,
		&entry.Query,
		&entry.ResponseData,
		&entry.TotalResults,
		&cachedAt,
		&lastUsedAt,
		&expiresAt,
		&entry.HitCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fetch torrent search cache: %w", err)
	}

	entry.CachedAt = time.Unix(cachedAt, 0).UTC()
	entry.LastUsedAt = time.Unix(lastUsedAt, 0).UTC()
	entry.ExpiresAt = time.Unix(expiresAt, 0).UTC()

	if !s.now().Before(entry.ExpiresAt) {
		s.deleteEntry(ctx, entry.ID)
		return nil, false, nil
	}

	s.touchEntry(ctx, entry.ID)
	entry.HitCount++

	return entry, true, nil
}

// Store inserts or replaces the entry for entry.CacheKey.
func (s *TorrentSearchCacheStore) Store(ctx context.Context, entry *TorrentSearchCacheEntry) error {
	if entry == nil {
		return errors.New("entry cannot be nil")
	}
	if strings.TrimSpace(entry.CacheKey) == "" {
		return errors.New("cache key cannot be empty")
	}
	if len(entry.ResponseData) == 0 {
		return errors.New("response data cannot be empty")
	}
	if entry.ExpiresAt.Before(entry.CachedAt) {
		return errors.New("expiresAt must be after cachedAt")
	}

	const query = `
		INSERT INTO torrent_search_cache (
			cache_key, query, response_data, total_results, cached_at, last_used_at, expires_at, hit_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(cache_key) DO UPDATE SET
			query = excluded.query,
			response_data = excluded.response_data,
			total_results = excluded.total_results,
			cached_at = excluded.cached_at,
			last_used_at = excluded.last_used_at,
			expires_at = excluded.expires_at
	`

	if _, err := s.db.ExecContext(
		ctx,
		query,
		entry.CacheKey,
		entry.Query,
		entry.ResponseData,
		entry.TotalResults,
		entry.CachedAt.Unix(),
		entry.LastUsedAt.Unix(),
		entry.ExpiresAt.Unix(),
	); err != nil {
		return fmt.Errorf("store torrent search cache entry: %w", err)
	}

	return nil
}

// Prune removes expired rows.
func (s *TorrentSearchCacheStore) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM torrent_search_cache WHERE expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("prune torrent search cache: %w", err)
	}
	return res.RowsAffected()
}

// Flush removes every cache entry.
func (s *TorrentSearchCacheStore) Flush(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM torrent_search_cache`)
	if err != nil {
		return 0, fmt.Errorf("flush torrent search cache: %w", err)
	}
	return res.RowsAffected()
}

func (s *TorrentSearchCacheStore) Stats(ctx context.Context) (*TorrentSearchCacheStats, error) {
	const query = `
		SELECT
			COUNT(*),
			COALESCE(SUM(hit_count), 0),
			COALESCE(SUM(LENGTH(response_data)), 0),
			MIN(cached_at),
			MAX(cached_at)
		FROM torrent_search_cache
	`

	var (
		stats          TorrentSearchCacheStats
		oldest, newest sql.NullInt64
	)

	if err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.Entries,
		&stats.TotalHits,
		&stats.ApproxSizeBytes,
		&oldest,
		&newest,
	); err != nil {
		return nil, fmt.Errorf("torrent search cache stats: %w", err)
	}

	stats.OldestCachedAt = timeFromUnixNull(oldest)
	stats.NewestCachedAt = timeFromUnixNull(newest)
	return &stats, nil
}

func (s *TorrentSearchCacheStore) touchEntry(ctx context.Context, id int64) {
	if _, err := s.db.ExecContext(
		ctx,
		`UPDATE torrent_search_cache SET last_used_at = ?, hit_count = hit_count + 1 WHERE id = ?`,
		s.now().Unix(),
		id,
	); err != nil {
		log.Error().Err(err).Int64("id", id).Msg("torrent search cache touch failed")
	}
}

func (s *TorrentSearchCacheStore) deleteEntry(ctx context.Context, id int64) {
	_, _ = s.db.ExecContext(ctx, `DELETE FROM torrent_search_cache WHERE id = ?`, id)
}

func timeFromUnixNull(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	ts := time.Unix(value.Int64, 0).UTC()
	return &ts
}
