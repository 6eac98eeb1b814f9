// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dionysus-media/dionysus/internal/api"
	"github.com/dionysus-media/dionysus/internal/buildinfo"
	"github.com/dionysus-media/dionysus/internal/config"
	"github.com/dionysus-media/dionysus/internal/metrics"
)

const searchCachePruneInterval = time.Hour

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	var rootCmd = &cobra.Command{
		Use:   "dionysus",
		Short: "Browse media, find torrent sources and manage a Real-Debrid library",
		Long: `dionysus - metadata browsing, torrent source search, Real-Debrid library
management and Trakt watched history behind one local API.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunSearchCommand())
	rootCmd.AddCommand(RunSourcesCommand())
	rootCmd.AddCommand(RunLibraryCommand())
	rootCmd.AddCommand(RunTraktCommand())
	rootCmd.AddCommand(RunSetKeyCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// addStorageFlags registers the flags every command that opens the database shares.
func addStorageFlags(command *cobra.Command, configDir, dataDir *string) {
	command.PersistentFlags().StringVar(configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	command.PersistentFlags().StringVar(dataDir, "data-dir", "",
		"data directory path (defaults to next to config file)")
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
	}

	addStorageFlags(command, &configDir, &dataDir)
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		if logPath != "" {
			os.Setenv("DIONYSUS__LOG_PATH", logPath)
		}
		return runServer(configDir, dataDir)
	}

	return command
}

func runServer(configDir, dataDir string) error {
	c, err := loadComponents(context.Background(), configDir, dataDir)
	if err != nil {
		return err
	}
	defer c.Close()

	log.Info().Str("version", buildinfo.Version).Msg("Starting dionysus")
	log.Info().Str("config", c.cfg.GetConfigDir()).Str("data", c.cfg.GetDataDir()).Msg("Using directories")

	if err := c.session.Init(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to restore trakt session")
	}

	pruneCtx, cancelPrune := context.WithCancel(context.Background())
	defer cancelPrune()
	go pruneSearchCache(pruneCtx, c)

	sessionManager := scs.New()
	sessionManager.Lifetime = 24 * time.Hour
	sessionManager.Cookie.Name = "dionysus_session"
	sessionManager.Cookie.HttpOnly = true
	sessionManager.Cookie.SameSite = http.SameSiteLaxMode
	sessionManager.Cookie.Secure = false
	sessionManager.Cookie.Persist = false

	httpServer := api.NewServer(&api.Dependencies{
		Config:          c.cfg,
		Version:         buildinfo.Version,
		SessionManager:  sessionManager,
		DB:              c.db,
		Metadata:        c.tmdb,
		MediaProxy:      c.proxy,
		SourcesService:  c.sources,
		LibraryService:  c.library,
		SessionService:  c.session,
		SettingsStore:   c.settings,
		SecureStore:     c.secureStore,
		SearchCache:     c.searchCache,
		DeepLinks:       c.deepLinks,
		TraktConfigured: c.tracker.Configured(),
	})

	errorChannel := make(chan error, 2)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
	case err := <-errorChannel:
		return errors.Wrap(err, "failed to start HTTP server")
	}

	var metricsServer *metrics.Server
	if c.registry != nil {
		metricsServer = metrics.NewServer(c.cfg.Config.MetricsHost, c.cfg.Config.MetricsPort, c.registry)
		go func() {
			if err := metricsServer.Start(); err != nil {
				errorChannel <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("got error during metrics server shutdown")
		}
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "got error during graceful http shutdown")
	}
	return nil
}

func pruneSearchCache(ctx context.Context, c *components) {
	ticker := time.NewTicker(searchCachePruneInterval)
	defer ticker.Stop()

	for {
		if removed, err := c.searchCache.Prune(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to prune search cache")
		} else if removed > 0 {
			log.Debug().Int64("removed", removed).Msg("Pruned expired search cache entries")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dionysus",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/dionysus/config.toml
- Windows: %APPDATA%\dionysus\config.toml

You can specify either a directory path or a direct file path:
- Directory: dionysus generate-config --config-dir /path/to/config/
- File: dionysus generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				configPath = config.ResolveConfigPath("")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}
