// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package session owns the watched-history tracker sign-in and the watched
// caches derived from it.
package session

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/metrics"
	"github.com/dionysus-media/dionysus/internal/models"
	"github.com/dionysus-media/dionysus/internal/state"
)

var ErrMissingCode = errors.New("callback has no authorization code")

type Status string

const (
	StatusSignedOut      Status = "signed_out"
	StatusAuthenticating Status = "authenticating"
	StatusSignedIn       Status = "signed_in"
)

// SecureStore is the key/value store the token pair is persisted in.
type SecureStore interface {
	Read(ctx context.Context, key string) (string, error)
	Save(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

type Tracker interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	WatchedMovies(ctx context.Context, accessToken string) ([]domain.WatchedMovie, error)
	WatchedShows(ctx context.Context, accessToken string) ([]domain.WatchedShow, error)
}

// State is the published session snapshot. The maps are replaced, never
// mutated, so readers may keep them.
type State struct {
	Status          Status              `json:"status"`
	WatchedMovies   map[int]struct{}    `json:"-"`
	WatchedShows    map[int]struct{}    `json:"-"`
	WatchedEpisodes map[string]struct{} `json:"-"`
	EpisodeCounts   map[int]int         `json:"-"`
}

type Service struct {
	tracker Tracker
	secrets SecureStore
	store   *state.Store[State]
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu     sync.Mutex
	tokens domain.TokenPair
}

func NewService(tracker Tracker, secrets SecureStore, m *metrics.Metrics) *Service {
	return &Service{
		tracker: tracker,
		secrets: secrets,
		store:   state.New(emptyState(StatusSignedOut)),
		metrics: m,
		logger:  log.Logger.With().Str("module", "session").Logger(),
	}
}

func emptyState(status Status) State {
	return State{
		Status:          status,
		WatchedMovies:   map[int]struct{}{},
		WatchedShows:    map[int]struct{}{},
		WatchedEpisodes: map[string]struct{}{},
		EpisodeCounts:   map[int]int{},
	}
}

func (s *Service) State() State {
	return s.store.Get()
}

func (s *Service) Subscribe(fn func(State)) func() {
	return s.store.Subscribe(fn)
}

func (s *Service) SignedIn() bool {
	return s.store.Get().Status == StatusSignedIn
}

// Init restores the persisted tokens. A stored refresh token is exchanged
// right away rather than trusting a possibly expired access token.
func (s *Service) Init(ctx context.Context) error {
	access, err := s.readSecret(ctx, domain.TraktAccessTokenKey)
	if err != nil {
		return err
	}
	refresh, err := s.readSecret(ctx, domain.TraktRefreshTokenKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.tokens = domain.TokenPair{AccessToken: access, RefreshToken: refresh}
	s.mu.Unlock()

	switch {
	case refresh != "":
		if err := s.Refresh(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("session refresh on startup failed")
		}
	case access != "":
		s.signedIn(ctx)
	}
	return nil
}

func (s *Service) readSecret(ctx context.Context, key string) (string, error) {
	value, err := s.secrets.Read(ctx, key)
	if errors.Is(err, models.ErrSecretNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "read %s", key)
	}
	return value, nil
}

func (s *Service) AuthorizationURL(state string) string {
	return s.tracker.AuthorizationURL(state)
}

// HandleCallback completes sign-in from the redirect URL.
func (s *Service) HandleCallback(ctx context.Context, rawURL string) error {
	code, err := CodeFromCallback(rawURL)
	if err != nil {
		return err
	}
	return s.ExchangeCode(ctx, code)
}

// CodeFromCallback extracts the authorization code query parameter.
func CodeFromCallback(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", errors.Wrap(err, "parse callback url")
	}
	code := u.Query().Get("code")
	if code == "" {
		return "", ErrMissingCode
	}
	return code, nil
}

// ExchangeCode trades the authorization code for tokens. On failure the
// session stays signed out.
func (s *Service) ExchangeCode(ctx context.Context, code string) error {
	s.store.Update(func(st *State) { st.Status = StatusAuthenticating })

	token, err := s.tracker.ExchangeCode(ctx, code)
	if err != nil {
		s.logger.Error().Err(err).Msg("authorization code exchange failed")
		s.store.Update(func(st *State) { st.Status = StatusSignedOut })
		return err
	}

	if err := s.persist(ctx, token); err != nil {
		s.store.Update(func(st *State) { st.Status = StatusSignedOut })
		return err
	}

	s.logger.Info().Msg("signed in")
	s.signedIn(ctx)
	return nil
}

// Refresh exchanges the refresh token for a new pair. An upstream rejection
// ends the session; a transport failure leaves it as it was.
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.Lock()
	refresh := s.tokens.RefreshToken
	hadAccess := s.tokens.AccessToken != ""
	s.mu.Unlock()

	if refresh == "" {
		return domain.NotAuthenticated("refresh token")
	}

	s.store.Update(func(st *State) { st.Status = StatusAuthenticating })

	token, err := s.tracker.RefreshToken(ctx, refresh)
	if err != nil {
		if domain.StatusCode(err) == 0 && !errors.Is(err, domain.ErrDecodeFailed) {
			s.metrics.TokenRefreshed("unreachable")
			s.logger.Warn().Err(err).Msg("token refresh unreachable, keeping session")
			status := StatusSignedOut
			if hadAccess {
				status = StatusSignedIn
			}
			s.store.Update(func(st *State) { st.Status = status })
			return err
		}

		s.metrics.TokenRefreshed("rejected")
		s.logger.Warn().Err(err).Msg("token refresh rejected, signing out")
		if signOutErr := s.SignOut(ctx); signOutErr != nil {
			s.logger.Error().Err(signOutErr).Msg("failed to clear session")
		}
		return err
	}

	s.metrics.TokenRefreshed("success")
	if err := s.persist(ctx, token); err != nil {
		// The old refresh token is already rotated out upstream, so the new
		// pair stays in memory for this process even though it was not saved.
		s.logger.Error().Err(err).Msg("failed to persist refreshed tokens, session will not survive a restart")
		s.setTokens(token)
		s.signedIn(ctx)
		return err
	}
	s.signedIn(ctx)
	return nil
}

func (s *Service) persist(ctx context.Context, token *oauth2.Token) error {
	if err := s.secrets.Save(ctx, domain.TraktAccessTokenKey, token.AccessToken); err != nil {
		return errors.Wrap(err, "save access token")
	}
	if err := s.secrets.Save(ctx, domain.TraktRefreshTokenKey, token.RefreshToken); err != nil {
		return errors.Wrap(err, "save refresh token")
	}

	s.setTokens(token)
	return nil
}

func (s *Service) setTokens(token *oauth2.Token) {
	s.mu.Lock()
	s.tokens = domain.TokenPair{AccessToken: token.AccessToken, RefreshToken: token.RefreshToken}
	s.mu.Unlock()
}

func (s *Service) signedIn(ctx context.Context) {
	s.store.Update(func(st *State) { st.Status = StatusSignedIn })

	var g errgroup.Group
	g.Go(func() error {
		s.FetchWatchedMovies(ctx)
		return nil
	})
	g.Go(func() error {
		s.FetchWatchedShows(ctx)
		return nil
	})
	_ = g.Wait()
}

// SignOut deletes both tokens and clears every watched cache.
func (s *Service) SignOut(ctx context.Context) error {
	s.mu.Lock()
	s.tokens = domain.TokenPair{}
	s.mu.Unlock()

	s.store.Set(emptyState(StatusSignedOut))

	if err := s.secrets.Delete(ctx, domain.TraktAccessTokenKey, domain.TraktRefreshTokenKey); err != nil {
		return errors.Wrap(err, "clear tokens")
	}
	s.logger.Info().Msg("signed out")
	return nil
}

func (s *Service) accessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.AccessToken
}

// FetchWatchedMovies replaces the watched movie set. Failures are logged only.
func (s *Service) FetchWatchedMovies(ctx context.Context) {
	token := s.accessToken()
	if token == "" {
		return
	}

	movies, err := s.tracker.WatchedMovies(ctx, token)
	if err != nil {
		s.logger.Debug().Err(err).Msg("watched movies sync failed")
		return
	}

	ids := make(map[int]struct{}, len(movies))
	for _, m := range movies {
		if m.Movie.IDs.TMDB != nil {
			ids[*m.Movie.IDs.TMDB] = struct{}{}
		}
	}

	s.store.Update(func(st *State) { st.WatchedMovies = ids })
}

// FetchWatchedShows replaces the watched show, episode and count caches.
// Failures are logged only.
func (s *Service) FetchWatchedShows(ctx context.Context) {
	token := s.accessToken()
	if token == "" {
		return
	}

	shows, err := s.tracker.WatchedShows(ctx, token)
	if err != nil {
		s.logger.Debug().Err(err).Msg("watched shows sync failed")
		return
	}

	showIDs := make(map[int]struct{}, len(shows))
	episodes := make(map[string]struct{})
	counts := make(map[int]int, len(shows))
	for _, show := range shows {
		if show.Show.IDs.TMDB == nil {
			continue
		}
		id := *show.Show.IDs.TMDB
		showIDs[id] = struct{}{}
		for _, season := range show.Seasons {
			for _, episode := range season.Episodes {
				episodes[domain.EpisodeKey(id, season.Number, episode.Number)] = struct{}{}
			}
			counts[id] += len(season.Episodes)
		}
	}

	s.store.Update(func(st *State) {
		st.WatchedShows = showIDs
		st.WatchedEpisodes = episodes
		st.EpisodeCounts = counts
	})
}

func (s *Service) IsMovieWatched(id int) bool {
	_, ok := s.store.Get().WatchedMovies[id]
	return ok
}

func (s *Service) IsShowWatched(id int) bool {
	_, ok := s.store.Get().WatchedShows[id]
	return ok
}

func (s *Service) IsEpisodeWatched(showID, season, episode int) bool {
	_, ok := s.store.Get().WatchedEpisodes[domain.EpisodeKey(showID, season, episode)]
	return ok
}

func (s *Service) WatchedEpisodeCount(showID int) int {
	return s.store.Get().EpisodeCounts[showID]
}

// IsWatched answers for either media variant.
func (s *Service) IsWatched(item domain.MediaItem) bool {
	switch item.Type() {
	case domain.MediaTypeMovie:
		return s.IsMovieWatched(item.ID())
	case domain.MediaTypeTV:
		return s.IsShowWatched(item.ID())
	default:
		return false
	}
}
