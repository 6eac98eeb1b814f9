// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// OriginPolicy decides which browser origins may use the API. The page the
// API is served from is always allowed; other origins must be listed.
type OriginPolicy struct {
	allowed map[string]struct{}
}

func NewOriginPolicy(origins []string) *OriginPolicy {
	allowed := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		if origin = normalizeOrigin(origin); origin != "" {
			allowed[origin] = struct{}{}
		}
	}
	return &OriginPolicy{allowed: allowed}
}

func normalizeOrigin(origin string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(origin)), "/")
}

// Allowed reports whether origin may call the API through r. It fits
// cors.Options.AllowOriginRequestFunc.
func (p *OriginPolicy) Allowed(r *http.Request, origin string) bool {
	origin = normalizeOrigin(origin)
	if origin == "" {
		return false
	}
	if _, ok := p.allowed[origin]; ok {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// RejectForeignWrites refuses state-changing requests a browser sends on
// behalf of a page from a foreign origin. Requests without an Origin
// header, such as the CLI or curl, pass.
func (p *OriginPolicy) RejectForeignWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		origin := r.Header.Get("Origin")
		if origin != "" && !p.Allowed(r, origin) {
			log.Warn().Str("origin", origin).Str("method", r.Method).Str("path", r.URL.Path).Msg("rejected cross-origin write")
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
