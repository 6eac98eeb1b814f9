// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

import (
	"context"
	"strings"

	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/state"
)

type SearchState struct {
	Query        string             `json:"query"`
	Results      []domain.MediaItem `json:"results"`
	Loading      bool               `json:"loading"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
}

type Search struct {
	client Metadata
	store  *state.Store[SearchState]
}

func NewSearch(client Metadata) *Search {
	return &Search{
		client: client,
		store:  state.New(SearchState{Results: []domain.MediaItem{}}),
	}
}

func (s *Search) State() SearchState {
	return s.store.Get()
}

// Run searches movies and shows. A blank query clears the results without a request.
func (s *Search) Run(ctx context.Context, query string) SearchState {
	if strings.TrimSpace(query) == "" {
		return s.store.Update(func(st *SearchState) {
			st.Query = query
			st.Results = []domain.MediaItem{}
			st.ErrorMessage = ""
		})
	}

	s.store.Update(func(st *SearchState) {
		st.Query = query
		st.Loading = true
		st.ErrorMessage = ""
	})

	results := s.client.SearchAll(ctx, query)
	if err := ctx.Err(); err != nil {
		return s.store.Update(func(st *SearchState) {
			st.Loading = false
			st.ErrorMessage = msgSearchFailed
		})
	}

	return s.store.Update(func(st *SearchState) {
		st.Loading = false
		st.Results = results
	})
}
