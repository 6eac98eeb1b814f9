// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "context"

// Secure store keys for user supplied API keys.
const (
	TMDBAPIKeyName       = "tmdb_api_key"
	RealDebridAPIKeyName = "real_debrid_api_key"
)

// KeyFunc resolves a secret at call time so updated keys apply to the next request.
type KeyFunc func(ctx context.Context) string

// StaticKey returns a KeyFunc that always yields key.
func StaticKey(key string) KeyFunc {
	return func(context.Context) string { return key }
}
