// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "fmt"

// Secure store keys for the tracker session.
const (
	TraktAccessTokenKey  = "trakt_access_token"
	TraktRefreshTokenKey = "trakt_refresh_token"
)

// TokenPair is an access/refresh token pair. Refresh tokens rotate.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

type TraktIDs struct {
	Trakt *int    `json:"trakt,omitempty"`
	Slug  *string `json:"slug,omitempty"`
	IMDB  *string `json:"imdb,omitempty"`
	TMDB  *int    `json:"tmdb"`
}

type TraktMovie struct {
	Title string   `json:"title"`
	Year  int      `json:"year"`
	IDs   TraktIDs `json:"ids"`
}

type TraktShow struct {
	Title string   `json:"title"`
	Year  int      `json:"year"`
	IDs   TraktIDs `json:"ids"`
}

type WatchedMovie struct {
	Plays int        `json:"plays"`
	Movie TraktMovie `json:"movie"`
}

type WatchedEpisode struct {
	Number int `json:"number"`
	Plays  int `json:"plays"`
}

type WatchedSeason struct {
	Number   int              `json:"number"`
	Episodes []WatchedEpisode `json:"episodes"`
}

type WatchedShow struct {
	Plays   int             `json:"plays"`
	Show    TraktShow       `json:"show"`
	Seasons []WatchedSeason `json:"seasons"`
}

// EpisodeKey identifies a watched episode as "<show>-<season>-<episode>".
func EpisodeKey(showID, season, episode int) string {
	return fmt.Sprintf("%d-%d-%d", showID, season, episode)
}
