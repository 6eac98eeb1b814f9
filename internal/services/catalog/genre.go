// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

import (
	"context"

	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/state"
)

type GenreState struct {
	Genre   domain.Genre       `json:"genre"`
	Media   []domain.MediaItem `json:"media"`
	Loading bool               `json:"loading"`
}

type Genre struct {
	client Metadata
	store  *state.Store[GenreState]
}

func NewGenre(client Metadata) *Genre {
	return &Genre{
		client: client,
		store:  state.New(GenreState{Media: []domain.MediaItem{}}),
	}
}

func (g *Genre) State() GenreState {
	return g.store.Get()
}

// Load lists movies and shows for genre, rated highest first.
func (g *Genre) Load(ctx context.Context, genre domain.Genre, forceRefresh bool) GenreState {
	g.store.Update(func(st *GenreState) {
		st.Genre = genre
		st.Loading = true
	})

	media := g.client.FetchDiscoverMedia(ctx, genre.ID, forceRefresh)
	if media == nil {
		media = []domain.MediaItem{}
	}

	return g.store.Update(func(st *GenreState) {
		st.Media = media
		st.Loading = false
	})
}
