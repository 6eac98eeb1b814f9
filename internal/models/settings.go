// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dionysus-media/dionysus/internal/dbinterface"
	"github.com/dionysus-media/dionysus/internal/domain"
)

// User editable settings that override config defaults.
const (
	SettingWatchRegion  = "watch_region"
	SettingSourceFilter = "source_filter"
)

var ErrUnknownSetting = errors.New("unknown setting")

// SettingKeys lists the settings the API accepts.
var SettingKeys = []string{SettingWatchRegion, SettingSourceFilter}

func IsKnownSetting(key string) bool {
	for _, k := range SettingKeys {
		if k == key {
			return true
		}
	}
	return false
}

type SettingsStore struct {
	db dbinterface.Querier
}

func NewSettingsStore(db dbinterface.Querier) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	if !IsKnownSetting(key) {
		return fmt.Errorf("%w: %q", ErrUnknownSetting, key)
	}

	const query = `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().Unix()); err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func (s *SettingsStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}

func (s *SettingsStore) List(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// KeyFunc resolves key on every call, returning fallback when unset or empty.
func (s *SettingsStore) KeyFunc(key, fallback string) domain.KeyFunc {
	return func(ctx context.Context) string {
		value, ok, err := s.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to read setting, using configured value")
			return fallback
		}
		if !ok || strings.TrimSpace(value) == "" {
			return fallback
		}
		return value
	}
}
