// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sources

import (
	"slices"
	"sort"
	"strings"

	"github.com/expr-lang/expr/vm"
	"github.com/moistari/rls"
	"golang.org/x/text/cases"

	"github.com/dionysus-media/dionysus/internal/domain"
)

// Qualities are the quality labels offered as filters.
var Qualities = []string{"2160p", "1080p", "720p"}

type AVQuality string

const (
	AVQualityNormal      AVQuality = "normal"
	AVQualityDolbyVision AVQuality = "dolby-vision"
	AVQualityDolbyAtmos  AVQuality = "dolby-atmos"
)

func ParseAVQuality(s string) AVQuality {
	switch AVQuality(strings.ToLower(strings.TrimSpace(s))) {
	case AVQualityDolbyVision:
		return AVQualityDolbyVision
	case AVQualityDolbyAtmos:
		return AVQualityDolbyAtmos
	default:
		return AVQualityNormal
	}
}

// QueryTerm is the search term appended for the format, empty for normal.
func (q AVQuality) QueryTerm() string {
	switch q {
	case AVQualityDolbyVision:
		return "vision"
	case AVQualityDolbyAtmos:
		return "atmos"
	default:
		return ""
	}
}

// ApplyTo appends the format's search term to query.
func (q AVQuality) ApplyTo(query string) string {
	if term := q.QueryTerm(); term != "" {
		return query + " " + term
	}
	return query
}

// FilterOptions narrows a result list. Empty fields match everything.
type FilterOptions struct {
	Quality  string
	Provider string
	Name     string
}

// Candidate is the environment user filter expressions are evaluated against.
type Candidate struct {
	Name       string
	Seeders    int
	Leechers   int
	Size       string
	Quality    string
	Provider   string
	Resolution string
	Source     string
	Codec      []string
	HDR        []string
	Audio      []string
	Group      string
	HasMagnet  bool
	Added      bool
}

func newCandidate(t domain.Torrent, added bool) Candidate {
	release := rls.ParseString(t.Name)
	return Candidate{
		Name:       t.Name,
		Seeders:    t.SeederCount(),
		Leechers:   t.LeecherCount(),
		Size:       t.FormattedSize(),
		Quality:    qualityOf(t, release),
		Provider:   t.ProviderLabel(),
		Resolution: release.Resolution,
		Source:     release.Source,
		Codec:      release.Codec,
		HDR:        release.HDR,
		Audio:      release.Audio,
		Group:      release.Group,
		HasMagnet:  t.HasMagnet(),
		Added:      added,
	}
}

// QualityOf returns the upstream quality label, falling back to the
// resolution parsed from the release name. It is for display only; Filter
// matches the upstream label exactly.
func QualityOf(t domain.Torrent) string {
	if label := t.QualityLabel(); label != "" {
		return label
	}
	return rls.ParseString(t.Name).Resolution
}

func qualityOf(t domain.Torrent, release rls.Release) string {
	if label := t.QualityLabel(); label != "" {
		return label
	}
	return release.Resolution
}

// Filter applies opts, and program when non-nil, to list. added reports
// whether a torrent is already in the account.
func Filter(list []domain.Torrent, opts FilterOptions, program *vm.Program, added func(domain.Torrent) bool) ([]domain.Torrent, error) {
	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(opts.Name))

	filtered := make([]domain.Torrent, 0, len(list))
	for _, t := range list {
		if opts.Quality != "" && t.QualityLabel() != opts.Quality {
			continue
		}
		if opts.Provider != "" && t.ProviderLabel() != opts.Provider {
			continue
		}
		if needle != "" && !strings.Contains(fold.String(t.Name), needle) {
			continue
		}
		if program != nil {
			ok, err := evaluate(program, newCandidate(t, added != nil && added(t)))
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		filtered = append(filtered, t)
	}
	return filtered, nil
}

// Sort orders list in place. With tvOrdering, torrents that can still be
// added come first and each group is ordered by seeders, highest first.
// Otherwise the upstream order is kept.
func Sort(list []domain.Torrent, tvOrdering bool, added func(domain.Torrent) bool) {
	if !tvOrdering {
		return
	}

	actionable := func(t domain.Torrent) bool {
		return t.HasMagnet() && (added == nil || !added(t))
	}

	sort.SliceStable(list, func(i, j int) bool {
		ai, aj := actionable(list[i]), actionable(list[j])
		if ai != aj {
			return ai
		}
		return list[i].SeederCount() > list[j].SeederCount()
	})
}

// Providers returns the distinct provider labels in list, sorted.
func Providers(list []domain.Torrent) []string {
	seen := make(map[string]struct{})
	providers := make([]string, 0)
	for _, t := range list {
		p := t.ProviderLabel()
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		providers = append(providers, p)
	}
	slices.Sort(providers)
	return providers
}
