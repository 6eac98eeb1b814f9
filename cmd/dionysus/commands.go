// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dionysus-media/dionysus/internal/domain"
	"github.com/dionysus-media/dionysus/internal/services/sources"
)

// keyAliases maps short command line names to secure store keys.
var keyAliases = map[string]string{
	"tmdb":                      domain.TMDBAPIKeyName,
	"real-debrid":               domain.RealDebridAPIKeyName,
	"realdebrid":                domain.RealDebridAPIKeyName,
	domain.TMDBAPIKeyName:       domain.TMDBAPIKeyName,
	domain.RealDebridAPIKeyName: domain.RealDebridAPIKeyName,
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// withComponents opens storage and clients for the duration of run.
func withComponents(cmd *cobra.Command, configDir, dataDir string, run func(ctx context.Context, c *components) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	c, err := loadComponents(ctx, configDir, dataDir)
	if err != nil {
		return err
	}
	defer c.Close()

	return run(ctx, c)
}

func RunSearchCommand() *cobra.Command {
	var configDir, dataDir string

	command := &cobra.Command{
		Use:   "search <query>",
		Short: "Search movies and shows",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, configDir, dataDir, func(ctx context.Context, c *components) error {
				results := c.tmdb.SearchAll(ctx, strings.Join(args, " "))
				if len(results) == 0 {
					cmd.Println("No results.")
					return nil
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "TYPE\tID\tYEAR\tRATING\tTITLE")
				for _, item := range results {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%.1f\t%s\n", item.Type(), item.ID(), item.ReleaseYear(), item.VoteAverage(), item.Title())
				}
				return tw.Flush()
			})
		},
	}

	addStorageFlags(command, &configDir, &dataDir)
	return command
}

func RunSourcesCommand() *cobra.Command {
	var (
		configDir, dataDir      string
		quality, provider, name string
		av                      string
		tvOrdering, force       bool
		addIndex                int
	)

	command := &cobra.Command{
		Use:   "sources <query>",
		Short: "Find torrent sources and optionally add one to Real-Debrid",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, configDir, dataDir, func(ctx context.Context, c *components) error {
				query := sources.ParseAVQuality(av).ApplyTo(strings.Join(args, " "))
				if err := c.sources.FetchTorrents(ctx, query, force); err != nil {
					return fmt.Errorf("%s: %w", c.sources.State().ErrorMessage, err)
				}

				list := c.sources.View(ctx, sources.FilterOptions{Quality: quality, Provider: provider, Name: name}, tvOrdering)

				if addIndex > 0 {
					if addIndex > len(list) {
						return fmt.Errorf("no result #%d, only %d shown", addIndex, len(list))
					}
					target := list[addIndex-1]
					if err := c.sources.Add(ctx, target); err != nil {
						return fmt.Errorf("add %s: %w", target.Name, err)
					}
					cmd.Printf("Added %s\n", target.Name)
					return nil
				}

				if len(list) == 0 {
					cmd.Println("No sources found.")
					return nil
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "#\tADDED\tSEEDERS\tQUALITY\tPROVIDER\tSIZE\tNAME")
				for i, t := range list {
					added := ""
					if c.sources.IsAdded(t) {
						added = "yes"
					}
					fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\t%s\n", i+1, added, t.SeederCount(), sources.QualityOf(t), t.ProviderLabel(), t.FormattedSize(), t.Name)
				}
				return tw.Flush()
			})
		},
	}

	addStorageFlags(command, &configDir, &dataDir)
	command.Flags().StringVar(&quality, "quality", "", "only show this quality (2160p, 1080p, 720p)")
	command.Flags().StringVar(&provider, "provider", "", "only show this provider")
	command.Flags().StringVar(&name, "name", "", "only show names containing this text")
	command.Flags().StringVar(&av, "av", "", "audio/video preference: dolby-vision or dolby-atmos")
	command.Flags().BoolVar(&tvOrdering, "tv", false, "list sources already in the library first")
	command.Flags().BoolVar(&force, "force", false, "bypass the search cache")
	command.Flags().IntVar(&addIndex, "add", 0, "add the result with this number to Real-Debrid")

	return command
}

func RunLibraryCommand() *cobra.Command {
	var configDir, dataDir string

	command := &cobra.Command{
		Use:   "library",
		Short: "Manage the Real-Debrid library",
	}
	addStorageFlags(command, &configDir, &dataDir)

	var filter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List torrents in the library",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, configDir, dataDir, func(ctx context.Context, c *components) error {
				c.library.LoadAll(ctx, false)
				c.library.SetSearchText(filter)
				c.library.FilterNow()

				st := c.library.State()
				if st.ErrorMessage != "" {
					if len(st.All) == 0 {
						return fmt.Errorf("%s", st.ErrorMessage)
					}
					cmd.PrintErrf("warning: %s Showing %d loaded entries.\n", st.ErrorMessage, len(st.All))
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tSTATUS\tSIZE\tFILENAME")
				for _, t := range st.Filtered {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Status, formatBytes(t.Bytes), t.Filename)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().StringVar(&filter, "filter", "", "only show filenames containing this text")

	del := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete torrents from the library",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, configDir, dataDir, func(ctx context.Context, c *components) error {
				for _, id := range args {
					if err := c.library.Delete(ctx, id); err != nil {
						return fmt.Errorf("delete %s: %w", id, err)
					}
					cmd.Printf("Deleted %s\n", id)
				}
				return nil
			})
		},
	}

	command.AddCommand(list, del)
	return command
}

func RunTraktCommand() *cobra.Command {
	var configDir, dataDir string

	command := &cobra.Command{
		Use:   "trakt",
		Short: "Manage the Trakt session",
	}
	addStorageFlags(command, &configDir, &dataDir)

	var code string
	login := &cobra.Command{
		Use:   "login",
		Short: "Sign in to Trakt",
		Long: `Sign in to Trakt.

Open the printed URL, approve access, then paste either the authorization code
or the full redirect URL. Use --code to skip the prompt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, configDir, dataDir, func(ctx context.Context, c *components) error {
				if !c.tracker.Configured() {
					return fmt.Errorf("trakt client id is not configured")
				}

				if code == "" {
					cmd.Printf("Open this URL to authorize dionysus:\n\n  %s\n\n", c.session.AuthorizationURL(uuid.NewString()))
					input, err := readLine(cmd, "Code or redirect URL: ")
					if err != nil {
						return err
					}
					code = input
				}

				var err error
				if strings.Contains(code, "://") {
					err = c.session.HandleCallback(ctx, code)
				} else {
					err = c.session.ExchangeCode(ctx, code)
				}
				if err != nil {
					return fmt.Errorf("sign in failed: %w", err)
				}

				printTraktStatus(cmd, c)
				return nil
			})
		},
	}
	login.Flags().StringVar(&code, "code", "", "authorization code or redirect URL")

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Sign out of Trakt and forget the stored tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, configDir, dataDir, func(ctx context.Context, c *components) error {
				if err := c.session.SignOut(ctx); err != nil {
					return err
				}
				cmd.Println("Signed out.")
				return nil
			})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the Trakt session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, configDir, dataDir, func(ctx context.Context, c *components) error {
				if err := c.session.Init(ctx); err != nil {
					return err
				}
				printTraktStatus(cmd, c)
				return nil
			})
		},
	}

	command.AddCommand(login, logout, status)
	return command
}

func printTraktStatus(cmd *cobra.Command, c *components) {
	st := c.session.State()
	cmd.Printf("Status: %s\n", st.Status)
	if c.session.SignedIn() {
		cmd.Printf("Watched movies: %d\nWatched shows: %d\nWatched episodes: %d\n",
			len(st.WatchedMovies), len(st.WatchedShows), len(st.WatchedEpisodes))
	}
}

func RunSetKeyCommand() *cobra.Command {
	var configDir, dataDir string

	command := &cobra.Command{
		Use:       "set-key <tmdb|real-debrid>",
		Short:     "Store an API key in the encrypted secure store",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"tmdb", "real-debrid"},
		RunE: func(cmd *cobra.Command, args []string) error {
			name, ok := keyAliases[strings.ToLower(args[0])]
			if !ok {
				return fmt.Errorf("unknown key %q, expected tmdb or real-debrid", args[0])
			}

			value, err := readSecret(cmd, "Enter API key: ")
			if err != nil {
				return err
			}
			value = strings.TrimSpace(value)
			if value == "" {
				return fmt.Errorf("API key cannot be empty")
			}

			return withComponents(cmd, configDir, dataDir, func(ctx context.Context, c *components) error {
				if err := c.secureStore.Save(ctx, name, value); err != nil {
					return fmt.Errorf("failed to store key: %w", err)
				}
				cmd.Printf("Stored %s.\n", name)
				return nil
			})
		},
	}

	addStorageFlags(command, &configDir, &dataDir)
	return command
}

func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		cmd.Print(prompt)
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		cmd.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return string(secret), nil
	}
	return readLine(cmd, prompt)
}

func readLine(cmd *cobra.Command, prompt string) (string, error) {
	cmd.PrintErr(prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
