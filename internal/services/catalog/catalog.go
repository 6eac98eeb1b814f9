// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package catalog holds browse state for the metadata views: the home rows,
// search results, a TV show's seasons and genre listings.
package catalog

import (
	"context"

	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/services/tmdb"
)

const (
	msgLoadFailed   = "Failed to load content."
	msgSearchFailed = "Search failed."
)

// Metadata is the subset of the metadata client the catalog views use.
type Metadata interface {
	FetchHomeCategories(ctx context.Context, forceRefresh bool) (tmdb.HomeCategories, error)
	SearchAll(ctx context.Context, query string) []domain.MediaItem
	FetchDiscoverMedia(ctx context.Context, genreID int, forceRefresh bool) []domain.MediaItem
	FetchTVShowDetails(ctx context.Context, id int) (domain.TVShowDetails, error)
	FetchSeasonDetails(ctx context.Context, showID, season int) (domain.SeasonDetails, error)
}
