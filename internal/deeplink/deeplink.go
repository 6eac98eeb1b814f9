// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package deeplink parses the custom URI scheme routes and resolves media
// routes to metadata items.
package deeplink

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/dionysus-media/dionysus/internal/domain"
)

var (
	ErrWrongScheme  = errors.New("unexpected deep link scheme")
	ErrUnknownRoute = errors.New("unknown deep link route")
	ErrBadID        = errors.New("deep link id must be a positive integer")
	ErrMissingParam = errors.New("deep link is missing a required parameter")
)

type Kind string

const (
	KindMovie   Kind = "movie"
	KindTV      Kind = "tv"
	KindSources Kind = "sources"
	KindTrakt   Kind = "trakt"
)

type Link struct {
	Kind  Kind   `json:"kind"`
	ID    int    `json:"id,omitempty"`
	Query string `json:"query,omitempty"`
	Code  string `json:"code,omitempty"`
}

// MediaType maps movie and tv links to their media type.
func (l Link) MediaType() (domain.MediaType, bool) {
	switch l.Kind {
	case KindMovie:
		return domain.MediaTypeMovie, true
	case KindTV:
		return domain.MediaTypeTV, true
	default:
		return "", false
	}
}

// Parse reads <scheme>://movie/{id}, <scheme>://tv/{id},
// <scheme>://sources?query=... and <scheme>://trakt?code=...
func Parse(scheme, raw string) (Link, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Link{}, errors.Wrap(err, "parse deep link")
	}
	if !strings.EqualFold(u.Scheme, scheme) {
		return Link{}, errors.Wrapf(ErrWrongScheme, "%q", u.Scheme)
	}

	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })

	switch Kind(strings.ToLower(u.Host)) {
	case KindMovie, KindTV:
		if len(segments) != 1 {
			return Link{}, ErrBadID
		}
		id, err := strconv.Atoi(segments[0])
		if err != nil || id <= 0 {
			return Link{}, ErrBadID
		}
		return Link{Kind: Kind(strings.ToLower(u.Host)), ID: id}, nil

	case KindSources:
		query := strings.TrimSpace(u.Query().Get("query"))
		if query == "" {
			return Link{}, errors.Wrap(ErrMissingParam, "query")
		}
		return Link{Kind: KindSources, Query: query}, nil

	case KindTrakt:
		code := u.Query().Get("code")
		if code == "" {
			return Link{}, errors.Wrap(ErrMissingParam, "code")
		}
		return Link{Kind: KindTrakt, Code: code}, nil

	default:
		return Link{}, errors.Wrapf(ErrUnknownRoute, "%q", u.Host)
	}
}

// Build renders a media link for item.
func Build(scheme string, item domain.MediaItem) string {
	return scheme + "://" + string(item.Type()) + "/" + strconv.Itoa(item.ID())
}

type MediaFetcher interface {
	FetchMedia(ctx context.Context, mediaType domain.MediaType, id int) (domain.MediaItem, error)
}

type Resolver struct {
	scheme string
	media  MediaFetcher
}

func NewResolver(scheme string, media MediaFetcher) *Resolver {
	return &Resolver{scheme: scheme, media: media}
}

// Target is a parsed link plus, for media routes, the item it points to.
type Target struct {
	Link
	Item *domain.MediaItem `json:"item,omitempty"`
}

func (r *Resolver) Resolve(ctx context.Context, raw string) (Target, error) {
	link, err := Parse(r.scheme, raw)
	if err != nil {
		return Target{}, err
	}

	mediaType, ok := link.MediaType()
	if !ok {
		return Target{Link: link}, nil
	}

	item, err := r.media.FetchMedia(ctx, mediaType, link.ID)
	if err != nil {
		return Target{}, err
	}
	return Target{Link: link, Item: &item}, nil
}
