// Package main provides the shift-booker command: it keeps a list of site
// accounts and room presets, and runs one booking worker per account until
// every wanted shift is held or the operator stops it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	gcs "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"shift-booker/config"
	"shift-booker/events"
	"shift-booker/pkg/booker"
	"shift-booker/poll"
	"shift-booker/scraper"
	"shift-booker/storage"
	"shift-booker/supervisor"
)

var (
	cfg    *config.Config
	logger *slog.Logger

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is config.ini (or .yaml/.json/.toml) in the current directory")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	rootCmd.PersistentPreRunE = initBooker

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(accountsCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("shift-booker failed", "error", err)
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:          "shift-booker",
	Short:        "Claims shifts on the scheduling site as soon as they open",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and data location",
	RunE: func(cmd *cobra.Command, args []string) error {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("shift-booker: version info not available")
		} else {
			fmt.Printf("shift-booker: %s\n", info.Main.Version)
			fmt.Printf("go:           %s\n", info.GoVersion)
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					fmt.Printf("commit:       %s\n", s.Value)
				case "vcs.time":
					fmt.Printf("date:         %s\n", s.Value)
				}
			}
		}
		if cfg.File != "" {
			fmt.Printf("config:       %s\n", cfg.File)
		}

		store, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()
		keys, err := store.Keys(cmd.Context())
		if err != nil {
			return fmt.Errorf("list stored documents: %w", err)
		}
		fmt.Printf("data:         %s %v\n", store.Location(), keys)
		return nil
	},
}

func initBooker(cmd *cobra.Command, _ []string) error {
	path := flagConfigFilePath
	if env, ok := os.LookupEnv(config.EnvPrefix + "_CONFIG"); ok && path == "" {
		path = env
	}
	var err error
	cfg, err = config.Load(path)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	// Events go to stdout; the structured log stays on stderr.
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if cfg.File != "" {
		logger.Debug("Loaded config", "file", cfg.File)
	}
	return nil
}

// openStore returns the document store: the bucket when one is configured,
// the local data directory otherwise.
func openStore(ctx context.Context) (*storage.Store, func(), error) {
	bucket := cfg.Storage.Bucket
	if bucket == "" {
		dir := cfg.Storage.DataDir
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("create data directory: %w", err)
		}
		logger.Debug("Using local storage", "storage_path", dir)
		return storage.New(nil, "", dir, logger), func() {}, nil
	}

	var opts []option.ClientOption
	if creds := os.Getenv("GOOGLE_CREDENTIALS_JSON"); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create storage client: %w", err)
	}
	logger.Debug("Using Cloud Storage", "bucket", bucket)
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close storage client", "error", err)
		}
	}
	return storage.New(client, bucket, "", logger), closeFn, nil
}

// openAccounts opens the store and loads the account book from it.
func openAccounts(ctx context.Context) (*storage.Store, *storage.AccountBook, func(), error) {
	store, closeStore, err := openStore(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	book, err := storage.OpenAccountBook(ctx, store, cfg.Legacy(), logger)
	if err != nil {
		closeStore()
		return nil, nil, nil, err
	}
	return store, book, closeStore, nil
}

// newSupervisor wires scanners to real site sessions.
func newSupervisor(sink *events.Sink) *supervisor.Supervisor {
	site := cfg.Scraper()
	factory := func(spec booker.RunSpec) (poll.Session, error) {
		sess, err := scraper.New(site, logger.With("account", spec.Label))
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
	return supervisor.New(factory, sink, cfg.Poll(), logger)
}

// exitCode maps validation failures to a distinct status for scripts.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case supervisor.IsValidationError(err), errors.Is(err, errUsage):
		return 2
	default:
		return 1
	}
}
