// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dionysus-media/dionysus/internal/deeplink"
)

// CodeExchanger completes an OAuth sign-in from an authorization code.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code string) error
}

type DeepLinkHandler struct {
	resolver *deeplink.Resolver
	session  CodeExchanger
}

func NewDeepLinkHandler(resolver *deeplink.Resolver, session CodeExchanger) *DeepLinkHandler {
	return &DeepLinkHandler{resolver: resolver, session: session}
}

type DeepLinkResponse struct {
	deeplink.Target
	SignedIn bool `json:"signedIn,omitempty"`
}

// Resolve parses ?url= and returns where it points. Trakt callback links
// complete the sign-in before responding.
func (h *DeepLinkHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		RespondError(w, http.StatusBadRequest, "url is required")
		return
	}

	target, err := h.resolver.Resolve(r.Context(), raw)
	if err != nil {
		switch {
		case errors.Is(err, deeplink.ErrWrongScheme),
			errors.Is(err, deeplink.ErrUnknownRoute),
			errors.Is(err, deeplink.ErrBadID),
			errors.Is(err, deeplink.ErrMissingParam):
			RespondError(w, http.StatusBadRequest, err.Error())
		default:
			log.Error().Err(err).Str("url", raw).Msg("failed to resolve deep link")
			respondUpstreamError(w, err, "Failed to load content.")
		}
		return
	}

	resp := DeepLinkResponse{Target: target}
	if target.Kind == deeplink.KindTrakt {
		if err := h.session.ExchangeCode(r.Context(), target.Code); err != nil {
			respondUpstreamError(w, err, "Failed to sign in to Trakt")
			return
		}
		resp.SignedIn = true
	}
	RespondJSON(w, http.StatusOK, resp)
}
