// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package trakt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/dionysus-media/dionysus/internal/buildinfo"
	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.trakt.tv"
	DefaultAuthURL = "https://trakt.tv/oauth/authorize"

	apiVersion = "2"

	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	BaseURL      string
	AuthURL      string
	HTTPClient   *http.Client
	Metrics      *metrics.Metrics
}

// Client is the watched-history tracker client.
type Client struct {
	baseURL    string
	oauth      oauth2.Config
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		baseURL: baseURL,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: baseURL + "/oauth/token",
			},
		},
		httpClient: cfg.Metrics.HTTPClient("trakt", cfg.HTTPClient),
		logger:     log.Logger.With().Str("module", "trakt").Logger(),
	}
}

// Configured reports whether a client id is set.
func (c *Client) Configured() bool {
	return c.oauth.ClientID != ""
}

// AuthorizationURL is where the user grants access. state is echoed back on the callback.
func (c *Client) AuthorizationURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

type tokenRequest struct {
	Code         string `json:"code,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`
	GrantType    string `json:"grant_type"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	CreatedAt    int64  `json:"created_at"`
}

func (t tokenResponse) token() *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
	}
	if t.ExpiresIn > 0 {
		created := time.Now()
		if t.CreatedAt > 0 {
			created = time.Unix(t.CreatedAt, 0)
		}
		token.Expiry = created.Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return token
}

// ExchangeCode trades an authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return c.postToken(ctx, "exchange code", tokenRequest{
		Code:         code,
		ClientID:     c.oauth.ClientID,
		ClientSecret: c.oauth.ClientSecret,
		RedirectURI:  c.oauth.RedirectURL,
		GrantType:    grantAuthorizationCode,
	})
}

// RefreshToken trades a refresh token for a new pair. Refresh tokens rotate.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return c.postToken(ctx, "refresh token", tokenRequest{
		RefreshToken: refreshToken,
		ClientID:     c.oauth.ClientID,
		ClientSecret: c.oauth.ClientSecret,
		RedirectURI:  c.oauth.RedirectURL,
		GrantType:    grantRefreshToken,
	})
}

func (c *Client) postToken(ctx context.Context, op string, payload tokenRequest) (*oauth2.Token, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.RequestFailed(op, 0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauth.Endpoint.TokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, domain.RequestFailed(op, 0, err)
	}
	c.setHeaders(req, "")

	var resp tokenResponse
	if err := c.send(req, op, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return nil, domain.DecodeFailed(op, io.ErrUnexpectedEOF)
	}

	return resp.token(), nil
}

func (c *Client) WatchedMovies(ctx context.Context, accessToken string) ([]domain.WatchedMovie, error) {
	var movies []domain.WatchedMovie
	err := c.getAuthed(ctx, "watched movies", "/sync/watched/movies", accessToken, &movies)
	return movies, err
}

func (c *Client) WatchedShows(ctx context.Context, accessToken string) ([]domain.WatchedShow, error) {
	var shows []domain.WatchedShow
	err := c.getAuthed(ctx, "watched shows", "/sync/watched/shows", accessToken, &shows)
	return shows, err
}

func (c *Client) getAuthed(ctx context.Context, op, path, accessToken string, out any) error {
	if accessToken == "" {
		return domain.NotAuthenticated(op)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return domain.RequestFailed(op, 0, err)
	}
	c.setHeaders(req, accessToken)

	return c.send(req, op, out)
}

func (c *Client) setHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	req.Header.Set("trakt-api-version", apiVersion)
	req.Header.Set("trakt-api-key", c.oauth.ClientID)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
}

func (c *Client) send(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("op", op).Msg("request failed")
		return domain.RequestFailed(op, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		c.logger.Warn().Str("op", op).Int("status", resp.StatusCode).Str("body", string(body)).Msg("unexpected status")
		return domain.RequestFailed(op, resp.StatusCode, nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.DecodeFailed(op, err)
	}
	return nil
}
