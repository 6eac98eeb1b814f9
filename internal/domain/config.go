// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config is the unmarshalled application configuration.
type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	SessionSecret string `toml:"sessionSecret" mapstructure:"sessionSecret"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`

	// Browser origins besides the API's own that may call it
	CORSAllowedOrigins []string `toml:"corsAllowedOrigins" mapstructure:"corsAllowedOrigins"`

	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost    string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort    int    `toml:"metricsPort" mapstructure:"metricsPort"`

	// Metadata provider
	TMDBAPIKey  string `toml:"tmdbApiKey" mapstructure:"tmdbApiKey"`
	TMDBBaseURL string `toml:"tmdbBaseUrl" mapstructure:"tmdbBaseUrl"`
	WatchRegion string `toml:"watchRegion" mapstructure:"watchRegion"`

	// Debrid account
	RealDebridAPIKey  string `toml:"realDebridApiKey" mapstructure:"realDebridApiKey"`
	RealDebridBaseURL string `toml:"realDebridBaseUrl" mapstructure:"realDebridBaseUrl"`

	// Torrent search proxy
	TorrentSearchBaseURL  string `toml:"torrentSearchBaseUrl" mapstructure:"torrentSearchBaseUrl"`
	SearchCacheTTLMinutes int    `toml:"searchCacheTtlMinutes" mapstructure:"searchCacheTtlMinutes"`
	SourceFilter          string `toml:"sourceFilter" mapstructure:"sourceFilter"`

	// Watched-history tracker
	TraktClientID     string `toml:"traktClientId" mapstructure:"traktClientId"`
	TraktClientSecret string `toml:"traktClientSecret" mapstructure:"traktClientSecret"`
	TraktRedirectURL  string `toml:"traktRedirectUrl" mapstructure:"traktRedirectUrl"`
	TraktBaseURL      string `toml:"traktBaseUrl" mapstructure:"traktBaseUrl"`
	TraktAuthURL      string `toml:"traktAuthUrl" mapstructure:"traktAuthUrl"`

	DeepLinkScheme string `toml:"deepLinkScheme" mapstructure:"deepLinkScheme"`
}
