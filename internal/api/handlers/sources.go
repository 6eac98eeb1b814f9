// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/services/sources"
)

type SourcesHandler struct {
	service *sources.Service
}

func NewSourcesHandler(service *sources.Service) *SourcesHandler {
	return &SourcesHandler{service: service}
}

type SourceResult struct {
	domain.Torrent
	InfoHash      string `json:"infoHash,omitempty"`
	Quality       string `json:"qualityLabel"`
	Provider      string `json:"providerLabel"`
	FormattedSize string `json:"formattedSize"`
	Added         bool   `json:"added"`
}

type SourcesResponse struct {
	Query        string           `json:"query"`
	Results      []SourceResult   `json:"results"`
	Total        int              `json:"total"`
	Providers    []string         `json:"providers"`
	Qualities    []string         `json:"qualities"`
	AddState     sources.AddState `json:"addState"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
}

type AddSourceRequest struct {
	Magnet string `json:"magnet"`
}

type AddStateResponse struct {
	AddState     sources.AddState `json:"addState"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
}

// Search fetches sources for a query and returns the filtered view.
// Query params: query, force, quality, provider, name, av, tv.
func (h *SourcesHandler) Search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	query := strings.TrimSpace(params.Get("query"))
	if query == "" {
		RespondError(w, http.StatusBadRequest, "Query is required")
		return
	}

	av := sources.ParseAVQuality(params.Get("av"))
	if err := h.service.FetchTorrents(r.Context(), av.ApplyTo(query), boolQuery(r, "force")); err != nil {
		log.Error().Err(err).Str("query", query).Msg("failed to fetch sources")
		respondUpstreamError(w, err, h.service.State().ErrorMessage)
		return
	}

	opts := sources.FilterOptions{
		Quality:  params.Get("quality"),
		Provider: params.Get("provider"),
		Name:     params.Get("name"),
	}
	list := h.service.View(r.Context(), opts, boolQuery(r, "tv"))
	st := h.service.State()

	results := make([]SourceResult, 0, len(list))
	for _, t := range list {
		hash, _ := t.InfoHash()
		results = append(results, SourceResult{
			Torrent:       t,
			InfoHash:      hash,
			Quality:       sources.QualityOf(t),
			Provider:      t.ProviderLabel(),
			FormattedSize: t.FormattedSize(),
			Added:         st.IsAdded(t),
		})
	}

	RespondJSON(w, http.StatusOK, SourcesResponse{
		Query:        st.Query,
		Results:      results,
		Total:        len(st.Torrents),
		Providers:    h.service.Providers(),
		Qualities:    sources.Qualities,
		AddState:     st.AddState,
		ErrorMessage: st.ErrorMessage,
	})
}

// Add sends a magnet to the debrid account. A magnet matching a fetched
// result goes through the result path so the hash comes from the result.
func (h *SourcesHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req AddSourceRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	magnet := strings.TrimSpace(req.Magnet)
	if magnet == "" {
		RespondError(w, http.StatusBadRequest, "Magnet is required")
		return
	}

	var err error
	if t, ok := h.findResult(magnet); ok {
		err = h.service.Add(r.Context(), t)
	} else {
		err = h.service.AddMagnet(r.Context(), magnet)
	}

	switch {
	case err == nil:
		RespondJSON(w, http.StatusCreated, h.addState())
	case errors.Is(err, sources.ErrInvalidMagnet), errors.Is(err, sources.ErrNoMagnet):
		RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sources.ErrAlreadyAdded), errors.Is(err, sources.ErrAddInProgress):
		RespondError(w, http.StatusConflict, err.Error())
	default:
		respondUpstreamError(w, err, h.service.State().ErrorMessage)
	}
}

func (h *SourcesHandler) findResult(magnet string) (domain.Torrent, bool) {
	for _, t := range h.service.State().Torrents {
		if t.Magnet != nil && *t.Magnet == magnet {
			return t, true
		}
	}
	return domain.Torrent{}, false
}

func (h *SourcesHandler) addState() AddStateResponse {
	st := h.service.State()
	return AddStateResponse{AddState: st.AddState, ErrorMessage: st.ErrorMessage}
}

func (h *SourcesHandler) AddStatus(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.addState())
}

func (h *SourcesHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	h.service.Dismiss()
	RespondJSON(w, http.StatusOK, h.addState())
}
