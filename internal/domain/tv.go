// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "fmt"

type TVShowDetails struct {
	ID               int             `json:"id"`
	Name             string          `json:"name"`
	NumberOfSeasons  int             `json:"number_of_seasons"`
	NumberOfEpisodes *int            `json:"number_of_episodes"`
	Seasons          []SeasonSummary `json:"seasons"`
}

type SeasonSummary struct {
	ID           int  `json:"id"`
	SeasonNumber int  `json:"season_number"`
	EpisodeCount *int `json:"episode_count"`
}

type SeasonDetails struct {
	ID           string    `json:"_id"`
	Episodes     []Episode `json:"episodes"`
	SeasonNumber *int      `json:"season_number"`
}

type Episode struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	EpisodeNumber int    `json:"episode_number"`
	SeasonNumber  int    `json:"season_number"`
}

// DefaultSeason picks the first regular season, skipping specials (season 0).
// Falls back to the first listed season.
func (d TVShowDetails) DefaultSeason() (SeasonSummary, bool) {
	for _, s := range d.Seasons {
		if s.SeasonNumber > 0 {
			return s, true
		}
	}
	if len(d.Seasons) > 0 {
		return d.Seasons[0], true
	}
	return SeasonSummary{}, false
}

// RegularSeasons drops specials.
func (d TVShowDetails) RegularSeasons() []SeasonSummary {
	out := make([]SeasonSummary, 0, len(d.Seasons))
	for _, s := range d.Seasons {
		if s.SeasonNumber > 0 {
			out = append(out, s)
		}
	}
	return out
}

// SeasonSourceQuery formats a season pack query, e.g. "Show S02".
func SeasonSourceQuery(show string, season int) string {
	return fmt.Sprintf("%s S%02d", show, season)
}

// SourceQuery formats an episode query, e.g. "Show S02E05".
func (e Episode) SourceQuery(show string) string {
	return fmt.Sprintf("%s S%02dE%02d", show, e.SeasonNumber, e.EpisodeNumber)
}
