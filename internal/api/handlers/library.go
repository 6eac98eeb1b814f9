// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/services/library"
)

const defaultSuggestLimit = 8

type LibraryHandler struct {
	service *library.Service
}

func NewLibraryHandler(service *library.Service) *LibraryHandler {
	return &LibraryHandler{service: service}
}

type LibrarySearchRequest struct {
	Text      string `json:"text"`
	Immediate bool   `json:"immediate"`
}

func (h *LibraryHandler) List(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.service.State())
}

// Refresh starts a library sync. With wait=true the response carries the
// finished state, otherwise the sync runs detached and 202 is returned.
func (h *LibraryHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	force := boolQuery(r, "force")

	if boolQuery(r, "wait") {
		h.service.LoadAll(r.Context(), force)
		st := h.service.State()
		if st.ErrorMessage != "" && len(st.All) == 0 {
			RespondError(w, http.StatusBadGateway, st.ErrorMessage)
			return
		}
		RespondJSON(w, http.StatusOK, st)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go h.service.LoadAll(ctx, force)
	RespondJSON(w, http.StatusAccepted, map[string]bool{"loading": true})
}

func (h *LibraryHandler) SetSearch(w http.ResponseWriter, r *http.Request) {
	var req LibrarySearchRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.service.SetSearchText(req.Text)
	if req.Immediate {
		h.service.FilterNow()
	}
	RespondJSON(w, http.StatusOK, h.service.State())
}

func (h *LibraryHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	suggestions := h.service.Suggest(r.URL.Query().Get("q"), intQuery(r, "limit", defaultSuggestLimit))
	if suggestions == nil {
		suggestions = []string{}
	}
	RespondJSON(w, http.StatusOK, suggestions)
}

type TorrentInfoResponse struct {
	domain.RealDebridTorrentInfo
	SelectedFiles int   `json:"selectedFiles"`
	SelectedBytes int64 `json:"selectedBytes"`
}

func (h *LibraryHandler) Info(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		RespondError(w, http.StatusBadRequest, "Torrent ID is required")
		return
	}

	info, err := h.service.TorrentInfo(r.Context(), id)
	if err != nil {
		respondUpstreamError(w, err, h.service.State().ErrorMessage)
		return
	}

	resp := TorrentInfoResponse{RealDebridTorrentInfo: info}
	for _, f := range info.Files {
		if f.IsSelected() {
			resp.SelectedFiles++
			resp.SelectedBytes += f.Bytes
		}
	}
	RespondJSON(w, http.StatusOK, resp)
}

func (h *LibraryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		RespondError(w, http.StatusBadRequest, "Torrent ID is required")
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		respondUpstreamError(w, err, h.service.State().ErrorMessage)
		return
	}

	log.Info().Str("id", id).Msg("library torrent deleted")
	w.WriteHeader(http.StatusNoContent)
}
