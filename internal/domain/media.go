// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MediaType is the variant tag of a MediaItem.
type MediaType string

const (
	MediaTypeMovie MediaType = "movie"
	MediaTypeTV    MediaType = "tv"
)

// ParseMediaType accepts "movie" and "tv" (also "show").
func ParseMediaType(s string) (MediaType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie":
		return MediaTypeMovie, nil
	case "tv", "show":
		return MediaTypeTV, nil
	default:
		return "", fmt.Errorf("unknown media type %q", s)
	}
}

// Movie as returned by the metadata provider.
type Movie struct {
	ID           int     `json:"id"`
	Title        string  `json:"title"`
	Overview     string  `json:"overview"`
	PosterPath   *string `json:"poster_path"`
	BackdropPath *string `json:"backdrop_path"`
	VoteAverage  float64 `json:"vote_average"`
	ReleaseDate  *string `json:"release_date"`
}

// TVShow as returned by the metadata provider.
type TVShow struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	Overview     string  `json:"overview"`
	PosterPath   *string `json:"poster_path"`
	BackdropPath *string `json:"backdrop_path"`
	VoteAverage  float64 `json:"vote_average"`
	FirstAirDate *string `json:"first_air_date"`
}

// MovieResponse is the paged list envelope for movie endpoints.
type MovieResponse struct {
	Results []Movie `json:"results"`
}

// TVShowResponse is the paged list envelope for TV endpoints.
type TVShowResponse struct {
	Results []TVShow `json:"results"`
}

// MediaItem is either a Movie or a TVShow. The variant is fixed at
// construction; use Movie() or TVShow() to get the payload back.
type MediaItem struct {
	kind  MediaType
	movie Movie
	show  TVShow
}

func NewMovieItem(m Movie) MediaItem {
	return MediaItem{kind: MediaTypeMovie, movie: m}
}

func NewTVShowItem(s TVShow) MediaItem {
	return MediaItem{kind: MediaTypeTV, show: s}
}

// MoviesToItems wraps a slice of movies.
func MoviesToItems(movies []Movie) []MediaItem {
	items := make([]MediaItem, 0, len(movies))
	for _, m := range movies {
		items = append(items, NewMovieItem(m))
	}
	return items
}

// TVShowsToItems wraps a slice of shows.
func TVShowsToItems(shows []TVShow) []MediaItem {
	items := make([]MediaItem, 0, len(shows))
	for _, s := range shows {
		items = append(items, NewTVShowItem(s))
	}
	return items
}

func (m MediaItem) Type() MediaType { return m.kind }

func (m MediaItem) Movie() (Movie, bool) {
	return m.movie, m.kind == MediaTypeMovie
}

func (m MediaItem) TVShow() (TVShow, bool) {
	return m.show, m.kind == MediaTypeTV
}

func (m MediaItem) ID() int {
	switch m.kind {
	case MediaTypeMovie:
		return m.movie.ID
	case MediaTypeTV:
		return m.show.ID
	}
	return 0
}

// Key identifies an item by variant and id.
func (m MediaItem) Key() string {
	return fmt.Sprintf("%s:%d", m.kind, m.ID())
}

func (m MediaItem) Title() string {
	switch m.kind {
	case MediaTypeMovie:
		return m.movie.Title
	case MediaTypeTV:
		return m.show.Name
	}
	return ""
}

func (m MediaItem) Overview() string {
	switch m.kind {
	case MediaTypeMovie:
		return m.movie.Overview
	case MediaTypeTV:
		return m.show.Overview
	}
	return ""
}

func (m MediaItem) PosterPath() *string {
	switch m.kind {
	case MediaTypeMovie:
		return m.movie.PosterPath
	case MediaTypeTV:
		return m.show.PosterPath
	}
	return nil
}

func (m MediaItem) BackdropPath() *string {
	switch m.kind {
	case MediaTypeMovie:
		return m.movie.BackdropPath
	case MediaTypeTV:
		return m.show.BackdropPath
	}
	return nil
}

func (m MediaItem) VoteAverage() float64 {
	switch m.kind {
	case MediaTypeMovie:
		return m.movie.VoteAverage
	case MediaTypeTV:
		return m.show.VoteAverage
	}
	return 0
}

// ReleaseDate is the movie release date or the show's first air date.
func (m MediaItem) ReleaseDate() *string {
	switch m.kind {
	case MediaTypeMovie:
		return m.movie.ReleaseDate
	case MediaTypeTV:
		return m.show.FirstAirDate
	}
	return nil
}

// ReleaseYear returns the year part of the release date, or "N/A".
func (m MediaItem) ReleaseYear() string {
	date := m.ReleaseDate()
	if date == nil || *date == "" {
		return "N/A"
	}
	year, _, _ := strings.Cut(*date, "-")
	return year
}

// SourceQuery is the default torrent search query for the item.
func (m MediaItem) SourceQuery() string {
	if m.kind == MediaTypeTV {
		return m.Title() + " complete"
	}
	return m.Title() + " " + m.ReleaseYear()
}

type mediaItemJSON struct {
	Type         MediaType `json:"type"`
	ID           int       `json:"id"`
	Title        string    `json:"title"`
	Overview     string    `json:"overview"`
	PosterPath   *string   `json:"poster_path"`
	BackdropPath *string   `json:"backdrop_path"`
	VoteAverage  float64   `json:"vote_average"`
	ReleaseDate  *string   `json:"release_date"`
	Movie        *Movie    `json:"movie,omitempty"`
	TVShow       *TVShow   `json:"tv,omitempty"`
}

func (m MediaItem) MarshalJSON() ([]byte, error) {
	out := mediaItemJSON{
		Type:         m.kind,
		ID:           m.ID(),
		Title:        m.Title(),
		Overview:     m.Overview(),
		PosterPath:   m.PosterPath(),
		BackdropPath: m.BackdropPath(),
		VoteAverage:  m.VoteAverage(),
		ReleaseDate:  m.ReleaseDate(),
	}
	switch m.kind {
	case MediaTypeMovie:
		movie := m.movie
		out.Movie = &movie
	case MediaTypeTV:
		show := m.show
		out.TVShow = &show
	}
	return json.Marshal(out)
}

func (m *MediaItem) UnmarshalJSON(data []byte) error {
	var in mediaItemJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Type {
	case MediaTypeMovie:
		if in.Movie == nil {
			return fmt.Errorf("media item of type movie without payload")
		}
		*m = NewMovieItem(*in.Movie)
	case MediaTypeTV:
		if in.TVShow == nil {
			return fmt.Errorf("media item of type tv without payload")
		}
		*m = NewTVShowItem(*in.TVShow)
	default:
		return fmt.Errorf("unknown media type %q", in.Type)
	}
	return nil
}

// Genre is a metadata provider genre.
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Genres is the fixed catalogue shown on the browse screen.
var Genres = []Genre{
	{ID: 28, Name: "Action"},
	{ID: 12, Name: "Adventure"},
	{ID: 16, Name: "Animation"},
	{ID: 35, Name: "Comedy"},
	{ID: 80, Name: "Crime"},
	{ID: 99, Name: "Documentary"},
	{ID: 18, Name: "Drama"},
	{ID: 10751, Name: "Family"},
	{ID: 14, Name: "Fantasy"},
	{ID: 36, Name: "History"},
	{ID: 27, Name: "Horror"},
	{ID: 10402, Name: "Music"},
	{ID: 9648, Name: "Mystery"},
	{ID: 10749, Name: "Romance"},
	{ID: 878, Name: "Sci-Fi"},
	{ID: 53, Name: "Thriller"},
	{ID: 10752, Name: "War"},
	{ID: 37, Name: "Western"},
}

// FindGenre looks a genre up by id.
func FindGenre(id int) (Genre, bool) {
	for _, g := range Genres {
		if g.ID == id {
			return g, true
		}
	}
	return Genre{}, false
}

// Video is a trailer/clip entry.
type Video struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Site string `json:"site"`
	Type string `json:"type"`
}

type VideoResponse struct {
	Results []Video `json:"results"`
}

// YouTubeURL returns the watch URL for YouTube-hosted videos.
func (v Video) YouTubeURL() string {
	if v.Site != "YouTube" {
		return ""
	}
	return "https://www.youtube.com/watch?v=" + v.Key
}

type Logo struct {
	AspectRatio float64 `json:"aspect_ratio"`
	FilePath    string  `json:"file_path"`
	Language    *string `json:"iso_639_1"`
}

type ImagesResponse struct {
	Logos []Logo `json:"logos"`
}

type WatchProviderDetail struct {
	LogoPath        *string `json:"logo_path"`
	ProviderID      int     `json:"provider_id"`
	ProviderName    string  `json:"provider_name"`
	DisplayPriority *int    `json:"display_priority"`
}

type WatchProviderCountryResult struct {
	Link     *string               `json:"link"`
	Flatrate []WatchProviderDetail `json:"flatrate"`
	Rent     []WatchProviderDetail `json:"rent"`
	Buy      []WatchProviderDetail `json:"buy"`
}

type WatchProviderResponse struct {
	ID      int                                   `json:"id"`
	Results map[string]WatchProviderCountryResult `json:"results"`
}

// VideoResolveResponse is returned by the search proxy's video resolver.
type VideoResolveResponse struct {
	DirectURL string `json:"directURL"`
}
