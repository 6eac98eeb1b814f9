// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/models"
	"github.com/dionysus-media/dionysus/internal/services/sources"
)

// Keys the API may write to the secure store. Session tokens are managed by
// the Trakt routes only.
var editableKeys = []string{domain.TMDBAPIKeyName, domain.RealDebridAPIKeyName}

var regionPattern = regexp.MustCompile(`^[A-Z]{2}$`)

// SecretStore is the secure store surface used by the settings routes.
type SecretStore interface {
	Read(ctx context.Context, key string) (string, error)
	Save(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context) ([]string, error)
}

// SearchCache is the persistent search cache surface.
type SearchCache interface {
	Stats(ctx context.Context) (*models.TorrentSearchCacheStats, error)
	Flush(ctx context.Context) (int64, error)
}

type SettingsHandler struct {
	settings *models.SettingsStore
	secrets  SecretStore
	cache    SearchCache
	defaults map[string]string
}

// NewSettingsHandler creates the handler. defaults holds the configured value
// of each setting, reported when nothing is stored.
func NewSettingsHandler(settings *models.SettingsStore, secrets SecretStore, cache SearchCache, defaults map[string]string) *SettingsHandler {
	return &SettingsHandler{settings: settings, secrets: secrets, cache: cache, defaults: defaults}
}

type APIKeyStatus struct {
	Name   string `json:"name"`
	Stored bool   `json:"stored"`
	// Hint is the redacted stored value, enough to tell two keys apart.
	Hint string `json:"hint,omitempty"`
}

type SetAPIKeyRequest struct {
	Value string `json:"value"`
}

type SettingsRequest struct {
	WatchRegion  *string `json:"watchRegion,omitempty"`
	SourceFilter *string `json:"sourceFilter,omitempty"`
}

type SettingsResponse struct {
	WatchRegion  string `json:"watchRegion"`
	SourceFilter string `json:"sourceFilter"`
}

func (h *SettingsHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	stored, err := h.secrets.Keys(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list stored keys")
		RespondError(w, http.StatusInternalServerError, "Failed to list keys")
		return
	}

	resp := make([]APIKeyStatus, 0, len(editableKeys))
	for _, name := range editableKeys {
		status := APIKeyStatus{Name: name, Stored: slices.Contains(stored, name)}
		if status.Stored {
			value, err := h.secrets.Read(r.Context(), name)
			if err != nil {
				log.Warn().Err(err).Str("key", name).Msg("failed to read stored key")
			} else {
				status.Hint = domain.RedactString(value)
			}
		}
		resp = append(resp, status)
	}
	RespondJSON(w, http.StatusOK, resp)
}

func (h *SettingsHandler) keyName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "name")
	if !slices.Contains(editableKeys, name) {
		RespondError(w, http.StatusNotFound, "Unknown key")
		return "", false
	}
	return name, true
}

func (h *SettingsHandler) SetKey(w http.ResponseWriter, r *http.Request) {
	name, ok := h.keyName(w, r)
	if !ok {
		return
	}

	var req SetAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	value := strings.TrimSpace(req.Value)
	if value == "" {
		RespondError(w, http.StatusBadRequest, "Value is required")
		return
	}
	if domain.IsRedactedString(value) {
		RespondError(w, http.StatusBadRequest, "Value is redacted, send the full key")
		return
	}

	if err := h.secrets.Save(r.Context(), name, value); err != nil {
		log.Error().Err(err).Str("key", name).Msg("failed to store key")
		RespondError(w, http.StatusInternalServerError, "Failed to store key")
		return
	}

	log.Info().Str("key", name).Msg("api key updated")
	RespondJSON(w, http.StatusOK, APIKeyStatus{Name: name, Stored: true, Hint: domain.RedactString(value)})
}

func (h *SettingsHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	name, ok := h.keyName(w, r)
	if !ok {
		return
	}

	if err := h.secrets.Delete(r.Context(), name); err != nil {
		log.Error().Err(err).Str("key", name).Msg("failed to delete key")
		RespondError(w, http.StatusInternalServerError, "Failed to delete key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SettingsHandler) current(ctx context.Context) (SettingsResponse, error) {
	stored, err := h.settings.List(ctx)
	if err != nil {
		return SettingsResponse{}, err
	}

	value := func(key string) string {
		if v, ok := stored[key]; ok {
			return v
		}
		return h.defaults[key]
	}
	return SettingsResponse{
		WatchRegion:  value(models.SettingWatchRegion),
		SourceFilter: value(models.SettingSourceFilter),
	}, nil
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp, err := h.current(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to load settings")
		RespondError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}
	RespondJSON(w, http.StatusOK, resp)
}

// Update stores the provided settings. An empty value removes the override.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updates := map[string]string{}
	if req.WatchRegion != nil {
		region := strings.ToUpper(strings.TrimSpace(*req.WatchRegion))
		if region != "" && !regionPattern.MatchString(region) {
			RespondError(w, http.StatusBadRequest, "Watch region must be a two letter country code")
			return
		}
		updates[models.SettingWatchRegion] = region
	}
	if req.SourceFilter != nil {
		expr := strings.TrimSpace(*req.SourceFilter)
		if expr != "" {
			if _, err := sources.CompileFilter(expr); err != nil {
				RespondError(w, http.StatusBadRequest, "Invalid source filter: "+err.Error())
				return
			}
		}
		updates[models.SettingSourceFilter] = expr
	}

	ctx := r.Context()
	for key, value := range updates {
		var err error
		if value == "" {
			err = h.settings.Delete(ctx, key)
		} else {
			err = h.settings.Set(ctx, key, value)
		}
		if err != nil {
			log.Error().Err(err).Str("setting", key).Msg("failed to update setting")
			RespondError(w, http.StatusInternalServerError, "Failed to update settings")
			return
		}
	}

	h.Get(w, r)
}

func (h *SettingsHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to read cache stats")
		RespondError(w, http.StatusInternalServerError, "Failed to read cache stats")
		return
	}
	RespondJSON(w, http.StatusOK, stats)
}

func (h *SettingsHandler) FlushCache(w http.ResponseWriter, r *http.Request) {
	removed, err := h.cache.Flush(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to flush cache")
		RespondError(w, http.StatusInternalServerError, "Failed to flush cache")
		return
	}

	log.Info().Int64("removed", removed).Msg("search cache flushed")
	RespondJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}
