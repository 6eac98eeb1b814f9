// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/dionysus-media/dionysus/internal/deeplink"
	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/services/catalog"
)

// MetadataService is the metadata client surface used by the browse routes.
type MetadataService interface {
	catalog.Metadata
	FetchMedia(ctx context.Context, mediaType domain.MediaType, id int) (domain.MediaItem, error)
	FetchVideos(ctx context.Context, item domain.MediaItem) ([]domain.Video, error)
	FetchImages(ctx context.Context, item domain.MediaItem) (domain.ImagesResponse, error)
	FetchWatchProviders(ctx context.Context, item domain.MediaItem, region string) (*domain.WatchProviderCountryResult, error)
}

// MediaProxy is the search proxy surface used for artwork and trailers.
type MediaProxy interface {
	BrandedImageURL(item domain.MediaItem) string
	ResolveVideo(ctx context.Context, videoKey string) (string, error)
}

// WatchedLookup answers watched-state questions for the signed in user.
type WatchedLookup interface {
	IsWatched(item domain.MediaItem) bool
	IsEpisodeWatched(showID, season, episode int) bool
	WatchedEpisodeCount(showID int) int
}

// SeasonResponse lists the episode numbers the user has already watched.
type SeasonResponse struct {
	domain.SeasonDetails
	WatchedEpisodes []int `json:"watchedEpisodes"`
}

type CatalogHandler struct {
	metadata    MetadataService
	proxy       MediaProxy
	watched     WatchedLookup
	home        *catalog.Home
	watchRegion domain.KeyFunc
	linkScheme  string
}

func NewCatalogHandler(metadata MetadataService, proxy MediaProxy, watched WatchedLookup, watchRegion domain.KeyFunc, linkScheme string) *CatalogHandler {
	if watchRegion == nil {
		watchRegion = domain.StaticKey("US")
	}
	return &CatalogHandler{
		metadata:    metadata,
		proxy:       proxy,
		watched:     watched,
		home:        catalog.NewHome(metadata),
		watchRegion: watchRegion,
		linkScheme:  linkScheme,
	}
}

type MediaResponse struct {
	Item     domain.MediaItem `json:"item"`
	Watched  bool             `json:"watched"`
	DeepLink string           `json:"deepLink,omitempty"`
}

type VideoResponse struct {
	domain.Video
	URL string `json:"url,omitempty"`
}

type URLResponse struct {
	URL string `json:"url"`
}

func (h *CatalogHandler) HomeCategories(w http.ResponseWriter, r *http.Request) {
	h.home.Load(r.Context(), boolQuery(r, "refresh"))
	st := h.home.State()
	if st.ErrorMessage != "" {
		RespondError(w, http.StatusBadGateway, st.ErrorMessage)
		return
	}
	RespondJSON(w, http.StatusOK, st)
}

func (h *CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	st := catalog.NewSearch(h.metadata).Run(r.Context(), r.URL.Query().Get("q"))
	if st.ErrorMessage != "" {
		RespondError(w, http.StatusGatewayTimeout, st.ErrorMessage)
		return
	}
	RespondJSON(w, http.StatusOK, st)
}

func (h *CatalogHandler) ListGenres(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, domain.Genres)
}

func (h *CatalogHandler) GenreMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(r, "id")
	if !ok {
		RespondError(w, http.StatusBadRequest, "Invalid genre ID")
		return
	}
	genre, ok := domain.FindGenre(id)
	if !ok {
		RespondError(w, http.StatusNotFound, "Genre not found")
		return
	}

	RespondJSON(w, http.StatusOK, catalog.NewGenre(h.metadata).Load(r.Context(), genre, boolQuery(r, "refresh")))
}

// mediaRef reads {type} and {id} into an item carrying only the identity,
// enough for endpoints keyed by type and id.
func mediaRef(r *http.Request) (domain.MediaType, int, bool) {
	mediaType, err := domain.ParseMediaType(chi.URLParam(r, "type"))
	if err != nil {
		return "", 0, false
	}
	id, ok := intParam(r, "id")
	if !ok || id == 0 {
		return "", 0, false
	}
	return mediaType, id, true
}

func identityItem(mediaType domain.MediaType, id int) domain.MediaItem {
	if mediaType == domain.MediaTypeTV {
		return domain.NewTVShowItem(domain.TVShow{ID: id})
	}
	return domain.NewMovieItem(domain.Movie{ID: id})
}

func (h *CatalogHandler) fetchMedia(w http.ResponseWriter, r *http.Request) (domain.MediaItem, bool) {
	mediaType, id, ok := mediaRef(r)
	if !ok {
		RespondError(w, http.StatusBadRequest, "Invalid media reference")
		return domain.MediaItem{}, false
	}

	item, err := h.metadata.FetchMedia(r.Context(), mediaType, id)
	if err != nil {
		log.Error().Err(err).Str("type", string(mediaType)).Int("id", id).Msg("failed to fetch media")
		respondUpstreamError(w, err, "Failed to load content.")
		return domain.MediaItem{}, false
	}
	return item, true
}

func (h *CatalogHandler) GetMedia(w http.ResponseWriter, r *http.Request) {
	item, ok := h.fetchMedia(w, r)
	if !ok {
		return
	}

	resp := MediaResponse{Item: item}
	if h.watched != nil {
		resp.Watched = h.watched.IsWatched(item)
	}
	if h.linkScheme != "" {
		resp.DeepLink = deeplink.Build(h.linkScheme, item)
	}
	RespondJSON(w, http.StatusOK, resp)
}

func (h *CatalogHandler) Videos(w http.ResponseWriter, r *http.Request) {
	mediaType, id, ok := mediaRef(r)
	if !ok {
		RespondError(w, http.StatusBadRequest, "Invalid media reference")
		return
	}

	videos, err := h.metadata.FetchVideos(r.Context(), identityItem(mediaType, id))
	if err != nil {
		respondUpstreamError(w, err, "Failed to load videos")
		return
	}

	resp := make([]VideoResponse, 0, len(videos))
	for _, v := range videos {
		resp = append(resp, VideoResponse{Video: v, URL: v.YouTubeURL()})
	}
	RespondJSON(w, http.StatusOK, resp)
}

func (h *CatalogHandler) Images(w http.ResponseWriter, r *http.Request) {
	mediaType, id, ok := mediaRef(r)
	if !ok {
		RespondError(w, http.StatusBadRequest, "Invalid media reference")
		return
	}

	images, err := h.metadata.FetchImages(r.Context(), identityItem(mediaType, id))
	if err != nil {
		respondUpstreamError(w, err, "Failed to load images")
		return
	}
	RespondJSON(w, http.StatusOK, images)
}

func (h *CatalogHandler) WatchProviders(w http.ResponseWriter, r *http.Request) {
	mediaType, id, ok := mediaRef(r)
	if !ok {
		RespondError(w, http.StatusBadRequest, "Invalid media reference")
		return
	}

	region := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("region")))
	if region == "" {
		region = h.watchRegion(r.Context())
	}

	providers, err := h.metadata.FetchWatchProviders(r.Context(), identityItem(mediaType, id), region)
	if err != nil {
		respondUpstreamError(w, err, "Failed to load watch providers")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"region": region, "providers": providers})
}

func (h *CatalogHandler) BrandedImage(w http.ResponseWriter, r *http.Request) {
	item, ok := h.fetchMedia(w, r)
	if !ok {
		return
	}
	RespondJSON(w, http.StatusOK, URLResponse{URL: h.proxy.BrandedImageURL(item)})
}

func (h *CatalogHandler) ResolveVideo(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if key == "" {
		RespondError(w, http.StatusBadRequest, "Video key is required")
		return
	}

	directURL, err := h.proxy.ResolveVideo(r.Context(), key)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to resolve video")
		respondUpstreamError(w, err, "Failed to resolve video")
		return
	}
	RespondJSON(w, http.StatusOK, URLResponse{URL: directURL})
}

func (h *CatalogHandler) TVShowDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(r, "id")
	if !ok || id == 0 {
		RespondError(w, http.StatusBadRequest, "Invalid show ID")
		return
	}

	view := catalog.NewTVDetail(h.metadata)
	st := view.Load(r.Context(), id)
	if st.Details == nil {
		RespondError(w, http.StatusBadGateway, "Failed to load show details")
		return
	}
	if h.watched != nil {
		view.SetWatchedEpisodes(h.watched.WatchedEpisodeCount(id))
		st = view.State()
	}
	RespondJSON(w, http.StatusOK, st)
}

func (h *CatalogHandler) SeasonDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(r, "id")
	if !ok || id == 0 {
		RespondError(w, http.StatusBadRequest, "Invalid show ID")
		return
	}
	season, ok := intParam(r, "season")
	if !ok {
		RespondError(w, http.StatusBadRequest, "Invalid season number")
		return
	}

	st := catalog.NewTVDetail(h.metadata).LoadSeason(r.Context(), id, season)
	if st.Season == nil {
		RespondError(w, http.StatusBadGateway, "Failed to load season")
		return
	}

	resp := SeasonResponse{SeasonDetails: *st.Season, WatchedEpisodes: []int{}}
	for _, ep := range st.Season.Episodes {
		if h.watched.IsEpisodeWatched(id, season, ep.EpisodeNumber) {
			resp.WatchedEpisodes = append(resp.WatchedEpisodes, ep.EpisodeNumber)
		}
	}
	RespondJSON(w, http.StatusOK, resp)
}
