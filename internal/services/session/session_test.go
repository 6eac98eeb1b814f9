// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/dionysus-media/dionysus/internal/database"
	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/models"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore(seed map[string]string) *memStore {
	data := make(map[string]string)
	for k, v := range seed {
		data[k] = v
	}
	return &memStore{data: data}
}

func (m *memStore) Read(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", models.ErrSecretNotFound
	}
	return v, nil
}

func (m *memStore) Save(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memStore) get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

// failingSaveStore reads like memStore but cannot write.
type failingSaveStore struct {
	*memStore
}

func (f failingSaveStore) Save(context.Context, string, string) error {
	return errors.New("disk full")
}

type fakeTracker struct {
	mu sync.Mutex

	exchangeErr error
	refreshErr  error
	watchedErr  error
	token       *oauth2.Token

	refreshedWith []string
	watchedWith   []string
}

func (f *fakeTracker) AuthorizationURL(state string) string {
	return "https://trakt.test/oauth/authorize?state=" + state
}

func (f *fakeTracker) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return f.token, f.exchangeErr
}

func (f *fakeTracker) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshedWith = append(f.refreshedWith, refreshToken)
	return f.token, f.refreshErr
}

func (f *fakeTracker) WatchedMovies(ctx context.Context, accessToken string) ([]domain.WatchedMovie, error) {
	f.mu.Lock()
	f.watchedWith = append(f.watchedWith, accessToken)
	f.mu.Unlock()
	if f.watchedErr != nil {
		return nil, f.watchedErr
	}
	return []domain.WatchedMovie{
		{Plays: 1, Movie: domain.TraktMovie{Title: "Heat", IDs: domain.TraktIDs{TMDB: intPtr(949)}}},
		{Plays: 1, Movie: domain.TraktMovie{Title: "Unknown"}},
	}, nil
}

func (f *fakeTracker) WatchedShows(ctx context.Context, accessToken string) ([]domain.WatchedShow, error) {
	if f.watchedErr != nil {
		return nil, f.watchedErr
	}
	return []domain.WatchedShow{
		{
			Show: domain.TraktShow{Title: "Dark", IDs: domain.TraktIDs{TMDB: intPtr(70523)}},
			Seasons: []domain.WatchedSeason{
				{Number: 1, Episodes: []domain.WatchedEpisode{{Number: 1}, {Number: 2}}},
				{Number: 2, Episodes: []domain.WatchedEpisode{{Number: 1}}},
			},
		},
		{Show: domain.TraktShow{Title: "No ids"}, Seasons: []domain.WatchedSeason{{Number: 1, Episodes: []domain.WatchedEpisode{{Number: 1}}}}},
	}, nil
}

func intPtr(v int) *int { return &v }

func signedInStore() *memStore {
	return newMemStore(map[string]string{
		domain.TraktAccessTokenKey:  "old-access",
		domain.TraktRefreshTokenKey: "old-refresh",
	})
}

func TestInitRefreshesStoredSession(t *testing.T) {
	tracker := &fakeTracker{token: &oauth2.Token{AccessToken: "new-access", RefreshToken: "new-refresh"}}
	secrets := signedInStore()
	svc := NewService(tracker, secrets, nil)

	require.NoError(t, svc.Init(context.Background()))

	assert.Equal(t, []string{"old-refresh"}, tracker.refreshedWith)
	assert.True(t, svc.SignedIn())

	access, _ := secrets.get(domain.TraktAccessTokenKey)
	refresh, _ := secrets.get(domain.TraktRefreshTokenKey)
	assert.Equal(t, "new-access", access)
	assert.Equal(t, "new-refresh", refresh, "refresh tokens rotate")

	assert.Equal(t, []string{"new-access"}, tracker.watchedWith)
	assert.True(t, svc.IsMovieWatched(949))
	assert.True(t, svc.IsShowWatched(70523))
	assert.True(t, svc.IsEpisodeWatched(70523, 1, 2))
	assert.False(t, svc.IsEpisodeWatched(70523, 2, 2))
	assert.Equal(t, 3, svc.WatchedEpisodeCount(70523))
	assert.Len(t, svc.State().WatchedMovies, 1)
}

func TestInitWithoutTokens(t *testing.T) {
	tracker := &fakeTracker{}
	svc := NewService(tracker, newMemStore(nil), nil)

	require.NoError(t, svc.Init(context.Background()))
	assert.Equal(t, StatusSignedOut, svc.State().Status)
	assert.Empty(t, tracker.refreshedWith)
	assert.Empty(t, tracker.watchedWith)
}

func TestInitWithAccessTokenOnly(t *testing.T) {
	tracker := &fakeTracker{}
	svc := NewService(tracker, newMemStore(map[string]string{domain.TraktAccessTokenKey: "only-access"}), nil)

	require.NoError(t, svc.Init(context.Background()))
	assert.True(t, svc.SignedIn())
	assert.Empty(t, tracker.refreshedWith)
	assert.Equal(t, []string{"only-access"}, tracker.watchedWith)
}

func TestRefreshRejectedSignsOut(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "unauthorized", err: domain.RequestFailed("refresh token", 401, nil)},
		{name: "bad request", err: domain.RequestFailed("refresh token", 400, nil)},
		{name: "malformed body", err: domain.DecodeFailed("refresh token", errors.New("eof"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := &fakeTracker{token: &oauth2.Token{AccessToken: "a", RefreshToken: "r"}}
			secrets := signedInStore()
			svc := NewService(tracker, secrets, nil)
			require.NoError(t, svc.Init(context.Background()))
			require.True(t, svc.IsMovieWatched(949))

			tracker.refreshErr = tt.err
			err := svc.Refresh(context.Background())
			assert.ErrorIs(t, err, tt.err)

			st := svc.State()
			assert.Equal(t, StatusSignedOut, st.Status)
			assert.Empty(t, st.WatchedMovies)
			assert.Empty(t, st.WatchedShows)
			assert.Empty(t, st.WatchedEpisodes)
			assert.Empty(t, st.EpisodeCounts)

			_, ok := secrets.get(domain.TraktAccessTokenKey)
			assert.False(t, ok)
			_, ok = secrets.get(domain.TraktRefreshTokenKey)
			assert.False(t, ok)

			assert.ErrorIs(t, svc.Refresh(context.Background()), domain.ErrNotAuthenticated)
		})
	}
}

func TestInitRefreshRejectedSignsOut(t *testing.T) {
	tracker := &fakeTracker{refreshErr: domain.RequestFailed("refresh token", 401, nil)}
	secrets := signedInStore()
	svc := NewService(tracker, secrets, nil)

	require.NoError(t, svc.Init(context.Background()))
	assert.Equal(t, StatusSignedOut, svc.State().Status)
	_, ok := secrets.get(domain.TraktRefreshTokenKey)
	assert.False(t, ok)
	assert.Empty(t, tracker.watchedWith)
}

func TestRefreshUnreachableKeepsSession(t *testing.T) {
	tracker := &fakeTracker{refreshErr: domain.RequestFailed("refresh token", 0, errors.New("dial tcp: connection refused"))}
	secrets := signedInStore()
	svc := NewService(tracker, secrets, nil)

	require.NoError(t, svc.Init(context.Background()))
	assert.True(t, svc.SignedIn())

	refresh, ok := secrets.get(domain.TraktRefreshTokenKey)
	assert.True(t, ok)
	assert.Equal(t, "old-refresh", refresh)
}

func TestRefreshPersistFailureKeepsRotatedTokens(t *testing.T) {
	tracker := &fakeTracker{token: &oauth2.Token{AccessToken: "new-access", RefreshToken: "new-refresh"}}
	secrets := failingSaveStore{memStore: signedInStore()}
	svc := NewService(tracker, secrets, nil)

	require.NoError(t, svc.Init(context.Background()), "refresh failures during init are logged only")
	assert.Equal(t, StatusSignedIn, svc.State().Status)
	assert.True(t, svc.IsMovieWatched(949))

	err := svc.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, StatusSignedIn, svc.State().Status)

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	assert.Equal(t, []string{"old-refresh", "new-refresh"}, tracker.refreshedWith, "second refresh uses the rotated token")
	assert.Contains(t, tracker.watchedWith, "new-access")
}

func TestHandleCallback(t *testing.T) {
	tracker := &fakeTracker{token: &oauth2.Token{AccessToken: "AT", RefreshToken: "RT"}}
	secrets := newMemStore(nil)
	svc := NewService(tracker, secrets, nil)

	var (
		mu       sync.Mutex
		statuses []Status
	)
	unsubscribe := svc.Subscribe(func(st State) {
		mu.Lock()
		defer mu.Unlock()
		if len(statuses) == 0 || statuses[len(statuses)-1] != st.Status {
			statuses = append(statuses, st.Status)
		}
	})
	defer unsubscribe()

	require.NoError(t, svc.HandleCallback(context.Background(), "dionysus://trakt?code=abc&state=x"))
	assert.Equal(t, []Status{StatusAuthenticating, StatusSignedIn}, statuses)

	access, _ := secrets.get(domain.TraktAccessTokenKey)
	assert.Equal(t, "AT", access)
	assert.True(t, svc.IsWatched(domain.NewMovieItem(domain.Movie{ID: 949})))
	assert.False(t, svc.IsWatched(domain.NewTVShowItem(domain.TVShow{ID: 949})))

	assert.ErrorIs(t, svc.HandleCallback(context.Background(), "dionysus://trakt?error=denied"), ErrMissingCode)
}

func TestExchangeCodeFailureStaysSignedOut(t *testing.T) {
	tracker := &fakeTracker{exchangeErr: domain.RequestFailed("exchange code", 401, nil)}
	secrets := newMemStore(nil)
	svc := NewService(tracker, secrets, nil)

	err := svc.ExchangeCode(context.Background(), "bad")
	assert.ErrorIs(t, err, domain.ErrRequestFailed)
	assert.Equal(t, StatusSignedOut, svc.State().Status)
	_, ok := secrets.get(domain.TraktAccessTokenKey)
	assert.False(t, ok)
}

func TestWatchedFetchFailureIsSilent(t *testing.T) {
	tracker := &fakeTracker{token: &oauth2.Token{AccessToken: "AT", RefreshToken: "RT"}}
	svc := NewService(tracker, newMemStore(nil), nil)
	require.NoError(t, svc.ExchangeCode(context.Background(), "code"))
	require.True(t, svc.IsMovieWatched(949))

	tracker.watchedErr = errors.New("timeout")
	svc.FetchWatchedMovies(context.Background())
	svc.FetchWatchedShows(context.Background())

	assert.True(t, svc.SignedIn())
	assert.True(t, svc.IsMovieWatched(949), "previous cache survives a failed sync")
	assert.Equal(t, 3, svc.WatchedEpisodeCount(70523))
}

func TestSignOut(t *testing.T) {
	tracker := &fakeTracker{token: &oauth2.Token{AccessToken: "AT", RefreshToken: "RT"}}
	secrets := signedInStore()
	svc := NewService(tracker, secrets, nil)
	require.NoError(t, svc.Init(context.Background()))

	require.NoError(t, svc.SignOut(context.Background()))
	assert.False(t, svc.SignedIn())
	assert.False(t, svc.IsMovieWatched(949))
	assert.Zero(t, svc.WatchedEpisodeCount(70523))

	svc.FetchWatchedMovies(context.Background())
	assert.False(t, svc.IsMovieWatched(949), "no fetch without a token")
}

func TestSessionWithEncryptedStore(t *testing.T) {
	ctx := context.Background()
	db, err := database.New(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	key, err := models.DeriveKey([]byte("session-secret"), []byte("salt"))
	require.NoError(t, err)
	secrets, err := models.NewSecureStore(db, key)
	require.NoError(t, err)

	tracker := &fakeTracker{token: &oauth2.Token{AccessToken: "AT", RefreshToken: "RT"}}
	require.NoError(t, NewService(tracker, secrets, nil).ExchangeCode(ctx, "code"))

	restored := NewService(tracker, secrets, nil)
	require.NoError(t, restored.Init(ctx))
	assert.True(t, restored.SignedIn())
	assert.Equal(t, []string{"RT"}, tracker.refreshedWith)
}

func TestCodeFromCallback(t *testing.T) {
	code, err := CodeFromCallback("dionysus://trakt?code=xyz")
	require.NoError(t, err)
	assert.Equal(t, "xyz", code)

	_, err = CodeFromCallback("://bad")
	assert.Error(t, err)
}
