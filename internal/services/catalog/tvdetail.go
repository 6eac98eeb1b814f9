// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/state"
)

type TVDetailState struct {
	Details         *domain.TVShowDetails `json:"details,omitempty"`
	Season          *domain.SeasonDetails `json:"season,omitempty"`
	LoadingDetails  bool                  `json:"loadingDetails"`
	LoadingSeason   bool                  `json:"loadingSeason"`
	WatchedEpisodes int                   `json:"watchedEpisodes,omitempty"`
}

// TVDetail loads a show and one of its seasons. Failures leave the previous
// values in place and are only logged.
type TVDetail struct {
	client Metadata
	store  *state.Store[TVDetailState]
	logger zerolog.Logger
}

func NewTVDetail(client Metadata) *TVDetail {
	return &TVDetail{
		client: client,
		store:  state.New(TVDetailState{}),
		logger: log.Logger.With().Str("module", "catalog").Str("view", "tv").Logger(),
	}
}

func (d *TVDetail) State() TVDetailState {
	return d.store.Get()
}

// Load fetches the show and then its default season, the first regular
// season when there is one.
func (d *TVDetail) Load(ctx context.Context, showID int) TVDetailState {
	d.store.Update(func(st *TVDetailState) { st.LoadingDetails = true })

	details, err := d.client.FetchTVShowDetails(ctx, showID)
	if err != nil {
		d.logger.Error().Err(err).Int("show", showID).Msg("failed to load show details")
		return d.store.Update(func(st *TVDetailState) { st.LoadingDetails = false })
	}

	d.store.Update(func(st *TVDetailState) { st.Details = &details })

	if season, ok := details.DefaultSeason(); ok {
		d.LoadSeason(ctx, showID, season.SeasonNumber)
	}

	return d.store.Update(func(st *TVDetailState) { st.LoadingDetails = false })
}

func (d *TVDetail) LoadSeason(ctx context.Context, showID, season int) TVDetailState {
	d.store.Update(func(st *TVDetailState) { st.LoadingSeason = true })

	details, err := d.client.FetchSeasonDetails(ctx, showID, season)
	if err != nil {
		d.logger.Error().Err(err).Int("show", showID).Int("season", season).Msg("failed to load season")
		return d.store.Update(func(st *TVDetailState) { st.LoadingSeason = false })
	}

	return d.store.Update(func(st *TVDetailState) {
		st.LoadingSeason = false
		st.Season = &details
	})
}

// SetWatchedEpisodes records the tracker's watched episode count for the show.
func (d *TVDetail) SetWatchedEpisodes(n int) {
	d.store.Update(func(st *TVDetailState) { st.WatchedEpisodes = n })
}
