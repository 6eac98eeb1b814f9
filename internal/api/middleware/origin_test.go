// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginPolicyAllowed(t *testing.T) {
	policy := NewOriginPolicy([]string{"https://Tv.Example/", " "})

	tests := []struct {
		name   string
		host   string
		origin string
		want   bool
	}{
		{name: "same origin", host: "localhost:7480", origin: "http://localhost:7480", want: true},
		{name: "listed origin", host: "localhost:7480", origin: "https://tv.example", want: true},
		{name: "foreign origin", host: "localhost:7480", origin: "https://evil.example", want: false},
		{name: "same host other port", host: "localhost:7480", origin: "http://localhost:8080", want: false},
		{name: "empty", host: "localhost:7480", origin: "", want: false},
		{name: "null origin", host: "localhost:7480", origin: "null", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://"+tt.host+"/api/home", nil)
			assert.Equal(t, tt.want, policy.Allowed(r, tt.origin))
		})
	}
}

func TestRejectForeignWrites(t *testing.T) {
	policy := NewOriginPolicy(nil)
	handler := policy.RejectForeignWrites(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		method string
		origin string
		want   int
	}{
		{name: "foreign put", method: http.MethodPut, origin: "https://evil.example", want: http.StatusForbidden},
		{name: "foreign delete", method: http.MethodDelete, origin: "https://evil.example", want: http.StatusForbidden},
		{name: "foreign get", method: http.MethodGet, origin: "https://evil.example", want: http.StatusNoContent},
		{name: "same origin post", method: http.MethodPost, origin: "http://localhost:7480", want: http.StatusNoContent},
		{name: "no origin post", method: http.MethodPost, origin: "", want: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "http://localhost:7480/api/sources", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
