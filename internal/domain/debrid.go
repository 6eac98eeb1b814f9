// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// RealDebridTorrent is one entry of the account library.
type RealDebridTorrent struct {
	ID       string   `json:"id"`
	Filename string   `json:"filename"`
	Hash     string   `json:"hash"`
	Bytes    int64    `json:"bytes"`
	Status   string   `json:"status"`
	Progress *float64 `json:"progress,omitempty"`
	Speed    *int64   `json:"speed,omitempty"`
	Seeders  *int     `json:"seeders,omitempty"`
}

// Torrent status values reported by the debrid service
const (
	RDStatusMagnetError           = "magnet_error"
	RDStatusMagnetConversion      = "magnet_conversion"
	RDStatusWaitingFilesSelection = "waiting_files_selection"
	RDStatusQueued                = "queued"
	RDStatusDownloading           = "downloading"
	RDStatusDownloaded            = "downloaded"
	RDStatusError                 = "error"
	RDStatusVirus                 = "virus"
	RDStatusCompressing           = "compressing"
	RDStatusUploading             = "uploading"
	RDStatusDead                  = "dead"
	RDStatusSeeding               = "seeding"
)

type RealDebridFile struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Selected int    `json:"selected"`
}

func (f RealDebridFile) IsSelected() bool {
	return f.Selected == 1
}

type RealDebridTorrentInfo struct {
	ID       string           `json:"id"`
	Filename string           `json:"filename"`
	Bytes    int64            `json:"bytes"`
	Files    []RealDebridFile `json:"files"`
}

// AddTorrentResponse is returned when a magnet is accepted.
type AddTorrentResponse struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

// RealDebridErrorResponse is the error body the service returns on failures.
type RealDebridErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode int    `json:"error_code"`
}
