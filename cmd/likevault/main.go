package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iconidentify/likevault/internal/catalog"
	"github.com/iconidentify/likevault/internal/config"
	"github.com/iconidentify/likevault/internal/normalize"
	"github.com/iconidentify/likevault/internal/notify"
	"github.com/iconidentify/likevault/internal/remote"
	"github.com/iconidentify/likevault/internal/repository"
	"github.com/iconidentify/likevault/internal/store"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "likevault",
	Short: "Keep a local catalog of liked videos, export it, and clean it up.",
	Long: `likevault mirrors the liked-video listing of your account into a local catalog.
It shares the catalog store with the likevault server, so changes made here
show up in connected browser sessions.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("likevault %s (built %s)\n", Version, BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "loglevel", "l", "warn", "Log level: debug, info, warn, error")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app holds the components shared by the subcommands.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	kv         store.KV
	repo       *repository.KVCatalogRepository
	client     *remote.Client
	normalizer *normalize.Normalizer
	events     *notify.EventService
	syncer     *catalog.Synchronizer
}

func newApp() (*app, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	kv, err := store.Open(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	events, err := notify.NewEventService(cfg.Events, logger)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("open event history: %w", err)
	}

	normalizer, err := normalize.New(normalize.Config{
		AssetHost:  cfg.Remote.AssetHost,
		PublicHost: cfg.Remote.PublicHost,
		PageOrigin: cfg.Remote.BaseURL,
	})
	if err != nil {
		events.Close()
		kv.Close()
		return nil, fmt.Errorf("invalid remote base url: %w", err)
	}

	repo := repository.NewKVCatalogRepository(kv, time.Now)
	client := remote.NewClient(cfg.Remote)
	syncer := catalog.NewSynchronizer(catalog.Config{
		PageSize: cfg.Remote.PageSize,
		Source:   cfg.Remote.Source,
		MaxPages: cfg.Remote.MaxPages,
	}, client, repo, normalizer, events, logger)

	return &app{
		cfg:        cfg,
		logger:     logger,
		kv:         kv,
		repo:       repo,
		client:     client,
		normalizer: normalizer,
		events:     events,
		syncer:     syncer,
	}, nil
}

func (a *app) Close() {
	a.events.Close()
	a.kv.Close()
}
