// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package realdebrid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dionysus-media/dionysus/internal/buildinfo"
	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.real-debrid.com/rest/1.0"

	// PageSize is the page size the library sync uses.
	PageSize = 50

	maxBodyBytes int64 = 8 << 20
)

type Config struct {
	BaseURL    string
	APIKey     domain.KeyFunc
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

// Client is the debrid account client. Every call needs an API key.
type Client struct {
	baseURL    string
	apiKey     domain.KeyFunc
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIKey == nil {
		cfg.APIKey = domain.StaticKey("")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: cfg.Metrics.HTTPClient("realdebrid", cfg.HTTPClient),
		logger:     log.Logger.With().Str("module", "realdebrid").Logger(),
	}
}

// FetchUserTorrentHashes returns the lowercased info hashes already in the account.
func (c *Client) FetchUserTorrentHashes(ctx context.Context) (map[string]struct{}, error) {
	const op = "fetch torrent hashes"

	var torrents []domain.RealDebridTorrent
	if _, err := c.do(ctx, op, http.MethodGet, "/torrents", nil, nil, []int{http.StatusOK}, &torrents); err != nil {
		return nil, err
	}

	hashes := make(map[string]struct{}, len(torrents))
	for _, t := range torrents {
		hashes[strings.ToLower(t.Hash)] = struct{}{}
	}
	return hashes, nil
}

// FetchTorrents returns one page of the library. A 204 is an empty page.
func (c *Client) FetchTorrents(ctx context.Context, page, limit int) ([]domain.RealDebridTorrent, error) {
	const op = "fetch torrents"

	params := url.Values{
		"page":  {strconv.Itoa(page)},
		"limit": {strconv.Itoa(limit)},
	}

	var torrents []domain.RealDebridTorrent
	status, err := c.do(ctx, op, http.MethodGet, "/torrents", params, nil, []int{http.StatusOK, http.StatusNoContent}, &torrents)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent || torrents == nil {
		return []domain.RealDebridTorrent{}, nil
	}
	return torrents, nil
}

func (c *Client) FetchTorrentInfo(ctx context.Context, id string) (domain.RealDebridTorrentInfo, error) {
	var info domain.RealDebridTorrentInfo
	_, err := c.do(ctx, "fetch torrent info", http.MethodGet, "/torrents/info/"+url.PathEscape(id), nil, nil, []int{http.StatusOK}, &info)
	return info, err
}

func (c *Client) DeleteTorrent(ctx context.Context, id string) error {
	_, err := c.do(ctx, "delete torrent", http.MethodDelete, "/torrents/delete/"+url.PathEscape(id), nil, nil, []int{http.StatusNoContent}, nil)
	return err
}

// AddMagnet submits magnet and returns the new torrent id.
func (c *Client) AddMagnet(ctx context.Context, magnet string) (domain.AddTorrentResponse, error) {
	var added domain.AddTorrentResponse
	form := url.Values{"magnet": {magnet}}
	_, err := c.do(ctx, "add magnet", http.MethodPost, "/torrents/addMagnet", nil, form, []int{http.StatusCreated}, &added)
	return added, err
}

// SelectAllFiles starts the download of every file in torrent id.
func (c *Client) SelectAllFiles(ctx context.Context, id string) error {
	form := url.Values{"files": {"all"}}
	_, err := c.do(ctx, "select files", http.MethodPost, "/torrents/selectFiles/"+url.PathEscape(id), nil, form, []int{http.StatusNoContent}, nil)
	return err
}

// AddAndSelectTorrent adds magnet and selects all of its files. When the add
// succeeds but the selection fails, the returned id names the torrent left
// waiting for file selection; it is not removed.
func (c *Client) AddAndSelectTorrent(ctx context.Context, magnet string) (string, error) {
	added, err := c.AddMagnet(ctx, magnet)
	if err != nil {
		return "", err
	}

	c.logger.Debug().Str("id", added.ID).Msg("magnet added, selecting files")

	if err := c.SelectAllFiles(ctx, added.ID); err != nil {
		c.logger.Warn().Err(err).Str("id", added.ID).Msg("torrent added but file selection failed")
		return added.ID, err
	}

	return added.ID, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, form url.Values, expected []int, out any) (int, error) {
	key := c.apiKey(ctx)
	if key == "" {
		return 0, domain.NotAuthenticated(op)
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, domain.RequestFailed(op, 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("op", op).Msg("request failed")
		return 0, domain.RequestFailed(op, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, domain.RequestFailed(op, resp.StatusCode, err)
	}

	if !slices.Contains(expected, resp.StatusCode) {
		c.logUpstreamError(op, resp.StatusCode, data)
		return resp.StatusCode, domain.RequestFailed(op, resp.StatusCode, upstreamError(data))
	}

	if out != nil && resp.StatusCode != http.StatusNoContent && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			c.logger.Debug().Err(err).Str("op", op).Msg("decode failed")
			return resp.StatusCode, domain.DecodeFailed(op, err)
		}
	}

	return resp.StatusCode, nil
}

func (c *Client) logUpstreamError(op string, status int, data []byte) {
	var errResp domain.RealDebridErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
		c.logger.Warn().Str("op", op).Int("status", status).Str("error", errResp.Error).Int("errorCode", errResp.ErrorCode).Msg("upstream error")
		return
	}
	c.logger.Warn().Str("op", op).Int("status", status).Str("body", string(data)).Msg("unexpected status")
}

func upstreamError(data []byte) error {
	var errResp domain.RealDebridErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil || errResp.Error == "" {
		return nil
	}
	return fmt.Errorf("%s (code %d)", errResp.Error, errResp.ErrorCode)
}
