// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dionysus-media/dionysus/internal/services/tmdb"
	"github.com/dionysus-media/dionysus/internal/state"
)

type HomeState struct {
	tmdb.HomeCategories
	Loading      bool   `json:"loading"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type Home struct {
	client Metadata
	store  *state.Store[HomeState]
	logger zerolog.Logger
}

func NewHome(client Metadata) *Home {
	return &Home{
		client: client,
		store:  state.New(HomeState{}),
		logger: log.Logger.With().Str("module", "catalog").Str("view", "home").Logger(),
	}
}

func (h *Home) State() HomeState {
	return h.store.Get()
}

func (h *Home) Subscribe(fn func(HomeState)) func() {
	return h.store.Subscribe(fn)
}

// Load fetches the four home rows. Rows that fail are shown empty; the error
// message is set only when nothing could be loaded.
func (h *Home) Load(ctx context.Context, forceRefresh bool) {
	h.store.Update(func(st *HomeState) {
		st.Loading = true
		st.ErrorMessage = ""
	})

	categories, err := h.client.FetchHomeCategories(ctx, forceRefresh)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load home categories")
	}

	h.store.Update(func(st *HomeState) {
		st.Loading = false
		if err != nil {
			st.ErrorMessage = msgLoadFailed
			return
		}
		st.HomeCategories = categories
	})
}
