// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/alexedwards/scs/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/services/session"
)

const oauthStateKey = "trakt_oauth_state"

type TraktHandler struct {
	session        *session.Service
	sessionManager *scs.SessionManager
	configured     bool
}

func NewTraktHandler(svc *session.Service, sessionManager *scs.SessionManager, configured bool) *TraktHandler {
	return &TraktHandler{session: svc, sessionManager: sessionManager, configured: configured}
}

type TraktStatusResponse struct {
	Configured      bool           `json:"configured"`
	Status          session.Status `json:"status"`
	WatchedMovies   int            `json:"watchedMovies"`
	WatchedShows    int            `json:"watchedShows"`
	WatchedEpisodes int            `json:"watchedEpisodes"`
}

func (h *TraktHandler) status() TraktStatusResponse {
	st := h.session.State()
	return TraktStatusResponse{
		Configured:      h.configured,
		Status:          st.Status,
		WatchedMovies:   len(st.WatchedMovies),
		WatchedShows:    len(st.WatchedShows),
		WatchedEpisodes: len(st.WatchedEpisodes),
	}
}

func (h *TraktHandler) Status(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.status())
}

// Authorize returns the provider URL to send the user to. The state value is
// kept in the browser session and checked on callback.
func (h *TraktHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	if !h.configured {
		RespondError(w, http.StatusPreconditionFailed, "Trakt client is not configured")
		return
	}

	state := uuid.NewString()
	h.sessionManager.Put(r.Context(), oauthStateKey, state)
	RespondJSON(w, http.StatusOK, URLResponse{URL: h.session.AuthorizationURL(state)})
}

func (h *TraktHandler) Callback(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	if e := params.Get("error"); e != "" {
		RespondError(w, http.StatusBadRequest, "Authorization denied: "+e)
		return
	}

	expected := h.sessionManager.PopString(r.Context(), oauthStateKey)
	got := params.Get("state")
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		RespondError(w, http.StatusBadRequest, "Invalid OAuth state")
		return
	}

	code := strings.TrimSpace(params.Get("code"))
	if code == "" {
		RespondError(w, http.StatusBadRequest, session.ErrMissingCode.Error())
		return
	}

	if err := h.session.ExchangeCode(r.Context(), code); err != nil {
		respondUpstreamError(w, err, "Failed to sign in to Trakt")
		return
	}
	RespondJSON(w, http.StatusOK, h.status())
}

func (h *TraktHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Refresh(r.Context()); err != nil {
		if errors.Is(err, domain.ErrNotAuthenticated) {
			RespondError(w, http.StatusUnauthorized, "Not signed in to Trakt")
			return
		}
		log.Error().Err(err).Msg("trakt refresh failed")
		respondUpstreamError(w, err, "Failed to refresh Trakt session")
		return
	}
	RespondJSON(w, http.StatusOK, h.status())
}

func (h *TraktHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.session.SignOut(r.Context()); err != nil {
		log.Error().Err(err).Msg("trakt sign out failed")
		RespondError(w, http.StatusInternalServerError, "Failed to sign out")
		return
	}
	RespondJSON(w, http.StatusOK, h.status())
}
