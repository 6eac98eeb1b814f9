// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

const btihMarker = "urn:btih:"

// FlexString decodes from either a JSON string or a JSON number.
// The search proxy is inconsistent about seeders/leechers.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		// neither string nor number; treat as absent
		*f = ""
		return nil
	}
	*f = FlexString(n.String())
	return nil
}

// Int parses the value, returning 0 for anything non-numeric.
func (f *FlexString) Int() int {
	if f == nil {
		return 0
	}
	s := strings.TrimSpace(string(*f))
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return int(v)
	}
	return 0
}

func (f *FlexString) String() string {
	if f == nil {
		return ""
	}
	return string(*f)
}

// Torrent is a single search proxy result.
type Torrent struct {
	Name     string      `json:"name"`
	Size     *string     `json:"size,omitempty"`
	Seeders  *FlexString `json:"seeders,omitempty"`
	Leechers *FlexString `json:"leechers,omitempty"`
	Magnet   *string     `json:"magnet,omitempty"`
	Quality  *string     `json:"quality,omitempty"`
	Provider *string     `json:"provider,omitempty"`
}

// TorrentResponse is the search proxy envelope.
type TorrentResponse struct {
	Data []Torrent `json:"data"`
}

// ID is the magnet when present, else the name. Not guaranteed unique.
func (t Torrent) ID() string {
	if t.Magnet != nil && *t.Magnet != "" {
		return *t.Magnet
	}
	return t.Name
}

// InfoHash returns the lowercased btih value of the magnet, if any.
func (t Torrent) InfoHash() (string, bool) {
	if t.Magnet == nil {
		return "", false
	}
	return InfoHashFromMagnet(*t.Magnet)
}

// InfoHashFromMagnet locates "urn:btih:" and takes everything up to the next
// '&' (or the end), lowercased.
func InfoHashFromMagnet(magnet string) (string, bool) {
	idx := strings.Index(magnet, btihMarker)
	if idx < 0 {
		return "", false
	}
	rest := magnet[idx+len(btihMarker):]
	if amp := strings.IndexByte(rest, '&'); amp >= 0 {
		rest = rest[:amp]
	}
	return strings.ToLower(rest), true
}

// SeederCount is the numeric seeder count, 0 when absent or non-numeric.
func (t Torrent) SeederCount() int {
	return t.Seeders.Int()
}

func (t Torrent) LeecherCount() int {
	return t.Leechers.Int()
}

// HasMagnet reports whether the result can be added at all.
func (t Torrent) HasMagnet() bool {
	return t.Magnet != nil && *t.Magnet != ""
}

// FormattedSize trims trailing noise after the GB/MB unit.
func (t Torrent) FormattedSize() string {
	if t.Size == nil {
		return "N/A"
	}
	size := *t.Size
	if i := strings.Index(size, "GB"); i >= 0 {
		return size[:i+2]
	}
	if i := strings.Index(size, "MB"); i >= 0 {
		return size[:i+2]
	}
	return size
}

func (t Torrent) QualityLabel() string {
	if t.Quality == nil {
		return ""
	}
	return *t.Quality
}

func (t Torrent) ProviderLabel() string {
	if t.Provider == nil {
		return ""
	}
	return *t.Provider
}
