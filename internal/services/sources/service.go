// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package sources finds torrent sources for a title, marks the ones already
// in the debrid account and adds new ones to it.
package sources

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/metrics"
	"github.com/dionysus-media/dionysus/internal/state"
)

const (
	DefaultResetDelay = 1500 * time.Millisecond

	msgFetchFailed = "Failed to fetch sources."
	msgAddFailed   = "Failed to add torrent."
)

var (
	ErrNoMagnet      = errors.New("torrent has no magnet link")
	ErrAlreadyAdded  = errors.New("torrent is already in the library")
	ErrAddInProgress = errors.New("another add is in progress")
	ErrInvalidMagnet = errors.New("invalid magnet link")
)

type Searcher interface {
	SearchTorrents(ctx context.Context, query string, forceRefresh bool) ([]domain.Torrent, error)
}

type Debrid interface {
	FetchUserTorrentHashes(ctx context.Context) (map[string]struct{}, error)
	AddAndSelectTorrent(ctx context.Context, magnet string) (string, error)
}

type AddState string

const (
	AddStateIdle    AddState = "idle"
	AddStateLoading AddState = "loading"
	AddStateSuccess AddState = "success"
	AddStateError   AddState = "error"
)

// State is the published source finder snapshot. ExistingHashes must not be
// mutated by readers.
type State struct {
	Query          string              `json:"query"`
	Torrents       []domain.Torrent    `json:"torrents"`
	ExistingHashes map[string]struct{} `json:"-"`
	Loading        bool                `json:"loading"`
	ErrorMessage   string              `json:"errorMessage,omitempty"`
	AddState       AddState            `json:"addState"`
}

// IsAdded reports whether t's info hash is in the account.
func (s State) IsAdded(t domain.Torrent) bool {
	hash, ok := t.InfoHash()
	if !ok {
		return false
	}
	_, exists := s.ExistingHashes[hash]
	return exists
}

type Options struct {
	// SourceFilter yields the user filter expression applied by View.
	SourceFilter domain.KeyFunc
	ResetDelay   time.Duration
	Metrics      *metrics.Metrics
}

type Service struct {
	search       Searcher
	debrid       Debrid
	store        *state.Store[State]
	programs     *programCache
	sourceFilter domain.KeyFunc
	resetDelay   time.Duration
	metrics      *metrics.Metrics
	logger       zerolog.Logger

	mu         sync.Mutex
	addGen     uint64
	resetTimer *time.Timer
}

func NewService(search Searcher, debrid Debrid, opts Options) *Service {
	if opts.ResetDelay <= 0 {
		opts.ResetDelay = DefaultResetDelay
	}
	if opts.SourceFilter == nil {
		opts.SourceFilter = domain.StaticKey("")
	}

	return &Service{
		search:       search,
		debrid:       debrid,
		store:        state.New(State{ExistingHashes: map[string]struct{}{}, AddState: AddStateIdle}),
		programs:     newProgramCache(),
		sourceFilter: opts.SourceFilter,
		resetDelay:   opts.ResetDelay,
		metrics:      opts.Metrics,
		logger:       log.Logger.With().Str("module", "sources").Logger(),
	}
}

func (s *Service) State() State {
	return s.store.Get()
}

func (s *Service) Subscribe(fn func(State)) func() {
	return s.store.Subscribe(fn)
}

// FetchTorrents runs the search and the account hash listing together. Both
// must succeed for either result to be published.
func (s *Service) FetchTorrents(ctx context.Context, query string, forceRefresh bool) error {
	s.store.Update(func(st *State) {
		st.Query = query
		st.Loading = true
		st.ErrorMessage = ""
	})

	var (
		torrents []domain.Torrent
		hashes   map[string]struct{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		torrents, err = s.search.SearchTorrents(gctx, query, forceRefresh)
		return err
	})
	g.Go(func() error {
		var err error
		hashes, err = s.debrid.FetchUserTorrentHashes(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Str("query", query).Msg("failed to fetch sources")
		s.store.Update(func(st *State) {
			st.Loading = false
			st.ErrorMessage = msgFetchFailed
		})
		return err
	}

	if hashes == nil {
		hashes = map[string]struct{}{}
	}
	s.store.Update(func(st *State) {
		st.Torrents = torrents
		st.ExistingHashes = hashes
		st.Loading = false
	})
	s.logger.Debug().Str("query", query).Int("results", len(torrents)).Int("existing", len(hashes)).Msg("sources fetched")
	return nil
}

// View filters and orders the current results.
func (s *Service) View(ctx context.Context, opts FilterOptions, tvOrdering bool) []domain.Torrent {
	st := s.store.Get()

	program, err := s.programs.Compile(s.sourceFilter(ctx))
	if err != nil {
		s.logger.Error().Err(err).Msg("ignoring source filter")
		program = nil
	}

	list, err := Filter(st.Torrents, opts, program, st.IsAdded)
	if err != nil {
		s.logger.Error().Err(err).Msg("ignoring source filter")
		list, _ = Filter(st.Torrents, opts, nil, st.IsAdded)
	}

	Sort(list, tvOrdering, st.IsAdded)
	return list
}

func (s *Service) Providers() []string {
	return Providers(s.store.Get().Torrents)
}

func (s *Service) IsAdded(t domain.Torrent) bool {
	return s.store.Get().IsAdded(t)
}

// Add sends a search result to the account. Results without a magnet or
// already in the account are rejected without touching the add state.
func (s *Service) Add(ctx context.Context, t domain.Torrent) error {
	if !t.HasMagnet() {
		return ErrNoMagnet
	}
	if s.IsAdded(t) {
		return ErrAlreadyAdded
	}

	hash, _ := t.InfoHash()
	return s.add(ctx, *t.Magnet, hash)
}

// AddMagnet sends a user supplied magnet link to the account.
func (s *Service) AddMagnet(ctx context.Context, magnet string) error {
	magnet = strings.TrimSpace(magnet)
	m, err := metainfo.ParseMagnetUri(magnet)
	if err != nil {
		return errors.Wrap(ErrInvalidMagnet, err.Error())
	}

	hash := m.InfoHash.HexString()
	if _, exists := s.store.Get().ExistingHashes[hash]; exists {
		return ErrAlreadyAdded
	}
	if legacy, ok := domain.InfoHashFromMagnet(magnet); ok {
		if _, exists := s.store.Get().ExistingHashes[legacy]; exists {
			return ErrAlreadyAdded
		}
	}

	return s.add(ctx, magnet, hash)
}

func (s *Service) add(ctx context.Context, magnet, hash string) error {
	s.mu.Lock()
	if s.store.Get().AddState == AddStateLoading {
		s.mu.Unlock()
		return ErrAddInProgress
	}
	s.addGen++
	if s.resetTimer != nil {
		s.resetTimer.Stop()
		s.resetTimer = nil
	}
	s.store.Update(func(st *State) { st.AddState = AddStateLoading })
	s.mu.Unlock()

	id, err := s.debrid.AddAndSelectTorrent(ctx, magnet)
	if err != nil {
		if id != "" {
			s.logger.Warn().Err(err).Str("id", id).Str("hash", hash).Msg("torrent added but file selection failed")
		} else {
			s.logger.Error().Err(err).Str("hash", hash).Msg("failed to add torrent")
		}
		s.metrics.SourceAdd("error")
		s.finishAdd(AddStateError, func(st *State) { st.ErrorMessage = msgAddFailed })
		return err
	}

	s.logger.Info().Str("id", id).Str("hash", hash).Msg("torrent added")
	s.metrics.SourceAdd("success")
	s.finishAdd(AddStateSuccess, func(st *State) {
		if hash == "" {
			return
		}
		hashes := maps.Clone(st.ExistingHashes)
		if hashes == nil {
			hashes = map[string]struct{}{}
		}
		hashes[hash] = struct{}{}
		st.ExistingHashes = hashes
	})
	return nil
}

func (s *Service) finishAdd(result AddState, apply func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store.Update(func(st *State) {
		st.AddState = result
		apply(st)
	})

	gen := s.addGen
	s.resetTimer = time.AfterFunc(s.resetDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.addGen != gen {
			return
		}
		s.resetTimer = nil
		s.store.Update(func(st *State) { st.AddState = AddStateIdle })
	})
}

// Dismiss returns the add state to idle without waiting for the reset delay.
func (s *Service) Dismiss() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store.Get().AddState == AddStateLoading {
		return
	}
	s.addGen++
	if s.resetTimer != nil {
		s.resetTimer.Stop()
		s.resetTimer = nil
	}
	s.store.Update(func(st *State) { st.AddState = AddStateIdle })
}

// ExistingHashes returns the account hashes known from the last fetch, sorted.
func (s *Service) ExistingHashes() []string {
	return slices.Sorted(maps.Keys(s.store.Get().ExistingHashes))
}
