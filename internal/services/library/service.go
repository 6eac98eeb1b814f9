// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package library keeps the debrid account library in sync and exposes a
// filtered view of it driven by a debounced search text.
package library

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"

	"github.com/dionysus-media/dionysus/internal/debounce"
	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/metrics"
	"github.com/dionysus-media/dionysus/internal/state"
)

const (
	PageSize    = 50
	FilterDelay = 300 * time.Millisecond

	msgLoadFailed   = "Failed to load library."
	msgDeleteFailed = "Failed to delete torrent."
	msgInfoFailed   = "Failed to load torrent details."
)

// Debrid is the subset of the debrid client the library needs.
type Debrid interface {
	FetchTorrents(ctx context.Context, page, limit int) ([]domain.RealDebridTorrent, error)
	FetchTorrentInfo(ctx context.Context, id string) (domain.RealDebridTorrentInfo, error)
	DeleteTorrent(ctx context.Context, id string) error
}

// State is the published library snapshot.
type State struct {
	All          []domain.RealDebridTorrent `json:"all"`
	Filtered     []domain.RealDebridTorrent `json:"filtered"`
	SearchText   string                     `json:"searchText"`
	Loading      bool                       `json:"loading"`
	ErrorMessage string                     `json:"errorMessage,omitempty"`
}

type Options struct {
	PageSize    int
	FilterDelay time.Duration
	Metrics     *metrics.Metrics
}

type Service struct {
	client    Debrid
	store     *state.Store[State]
	debouncer *debounce.Debouncer
	pageSize  int
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu       sync.Mutex
	inFlight bool
	gen      uint64
}

func NewService(client Debrid, opts Options) *Service {
	if opts.PageSize <= 0 {
		opts.PageSize = PageSize
	}
	if opts.FilterDelay <= 0 {
		opts.FilterDelay = FilterDelay
	}

	return &Service{
		client:    client,
		store:     state.New(State{}),
		debouncer: debounce.New(opts.FilterDelay),
		pageSize:  opts.PageSize,
		metrics:   opts.Metrics,
		logger:    log.Logger.With().Str("module", "library").Logger(),
	}
}

func (s *Service) State() State {
	return s.store.Get()
}

func (s *Service) Subscribe(fn func(State)) func() {
	return s.store.Subscribe(fn)
}

// LoadAll fetches every page of the account library. A call made while a
// sync is running is ignored unless forceRefresh is set, in which case the
// list is cleared and the older sync stops publishing its pages.
func (s *Service) LoadAll(ctx context.Context, forceRefresh bool) {
	s.mu.Lock()
	if s.inFlight && !forceRefresh {
		s.mu.Unlock()
		s.logger.Debug().Msg("library sync already running")
		return
	}
	s.inFlight = true
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	defer s.finish(gen)

	s.store.Update(func(st *State) {
		st.Loading = true
		st.ErrorMessage = ""
		if forceRefresh {
			st.All = nil
		}
	})

	for page := 1; ; page++ {
		torrents, err := s.client.FetchTorrents(ctx, page, s.pageSize)
		if err != nil {
			s.logger.Error().Err(err).Int("page", page).Msg("failed to fetch library page")
			if s.current(gen) {
				s.store.Update(func(st *State) {
					st.ErrorMessage = msgLoadFailed
					st.Filtered = Filter(st.All, st.SearchText)
				})
				s.metrics.LibrarySync("error", len(s.store.Get().All))
			}
			return
		}

		if !s.current(gen) {
			return
		}
		s.store.Update(func(st *State) {
			st.All = append(slices.Clone(st.All), torrents...)
		})

		if len(torrents) < s.pageSize {
			break
		}
	}

	snapshot := s.store.Update(func(st *State) {
		st.Filtered = Filter(st.All, st.SearchText)
	})
	s.metrics.LibrarySync("success", len(snapshot.All))
	s.logger.Debug().Int("torrents", len(snapshot.All)).Msg("library synced")
}

func (s *Service) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Service) finish(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.inFlight = false
	s.mu.Unlock()

	s.store.Update(func(st *State) { st.Loading = false })
}

// Delete removes a torrent from the account and, once the server confirms,
// from the local list.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.client.DeleteTorrent(ctx, id); err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("failed to delete torrent")
		s.store.Update(func(st *State) { st.ErrorMessage = msgDeleteFailed })
		return err
	}

	s.store.Update(func(st *State) {
		st.All = slices.DeleteFunc(slices.Clone(st.All), func(t domain.RealDebridTorrent) bool {
			return t.ID == id
		})
		st.Filtered = Filter(st.All, st.SearchText)
		st.ErrorMessage = ""
	})
	return nil
}

// TorrentInfo loads the file list of one library entry.
func (s *Service) TorrentInfo(ctx context.Context, id string) (domain.RealDebridTorrentInfo, error) {
	info, err := s.client.FetchTorrentInfo(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("failed to fetch torrent info")
		s.store.Update(func(st *State) { st.ErrorMessage = msgInfoFailed })
		return domain.RealDebridTorrentInfo{}, err
	}
	return info, nil
}

// SetSearchText stores text and schedules a filter pass after the debounce delay.
func (s *Service) SetSearchText(text string) {
	s.store.Update(func(st *State) { st.SearchText = text })
	s.debouncer.Trigger(s.applyFilter)
}

// FilterNow runs a pending filter pass immediately.
func (s *Service) FilterNow() {
	if s.debouncer.Pending() {
		s.debouncer.Flush()
		return
	}
	s.applyFilter()
}

func (s *Service) applyFilter() {
	s.store.Update(func(st *State) {
		st.Filtered = Filter(st.All, st.SearchText)
	})
}

func (s *Service) Close() {
	s.debouncer.Stop()
}

// Filter returns the entries whose filename contains text, ignoring case.
// An empty text returns list unchanged.
func Filter(list []domain.RealDebridTorrent, text string) []domain.RealDebridTorrent {
	if text == "" {
		return list
	}

	fold := cases.Fold()
	needle := fold.String(text)

	filtered := make([]domain.RealDebridTorrent, 0, len(list))
	for _, t := range list {
		if strings.Contains(fold.String(t.Filename), needle) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// Suggest ranks library filenames against text for autocompletion. Substring
// matches come first, then fuzzy matches by edit distance.
func (s *Service) Suggest(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" || limit <= 0 {
		return nil
	}

	type match struct {
		name  string
		score int
	}

	fold := cases.Fold()
	needle := fold.String(text)

	seen := make(map[string]struct{})
	var matches []match
	for _, t := range s.store.Get().All {
		if _, ok := seen[t.Filename]; ok {
			continue
		}
		seen[t.Filename] = struct{}{}

		if strings.Contains(fold.String(t.Filename), needle) {
			matches = append(matches, match{name: t.Filename})
			continue
		}
		if fuzzy.MatchNormalizedFold(text, t.Filename) {
			matches = append(matches, match{name: t.Filename, score: 1 + fuzzy.RankMatchNormalizedFold(text, t.Filename)})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score < matches[j].score
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.name
	}
	return names
}
