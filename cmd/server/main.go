package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iconidentify/likevault/internal/api"
	"github.com/iconidentify/likevault/internal/api/handler"
	"github.com/iconidentify/likevault/internal/catalog"
	"github.com/iconidentify/likevault/internal/config"
	"github.com/iconidentify/likevault/internal/deletion"
	"github.com/iconidentify/likevault/internal/downloader"
	"github.com/iconidentify/likevault/internal/export"
	"github.com/iconidentify/likevault/internal/normalize"
	"github.com/iconidentify/likevault/internal/notify"
	"github.com/iconidentify/likevault/internal/poller"
	"github.com/iconidentify/likevault/internal/remote"
	"github.com/iconidentify/likevault/internal/repository"
	"github.com/iconidentify/likevault/internal/sink"
	"github.com/iconidentify/likevault/internal/store"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("likevault %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting likevault",
		"version", Version,
		"build_time", BuildTime,
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
		logger.Error("invalid server config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence
	kv, err := store.Open(cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer kv.Close()
	repo := repository.NewKVCatalogRepository(kv, time.Now)

	events, err := notify.NewEventService(cfg.Events, logger)
	if err != nil {
		logger.Error("failed to create event service", "error", err)
		os.Exit(1)
	}
	defer events.Close()

	// Remote access
	client := remote.NewClient(cfg.Remote)
	normalizer, err := normalize.New(normalize.Config{
		AssetHost:  cfg.Remote.AssetHost,
		PublicHost: cfg.Remote.PublicHost,
		PageOrigin: cfg.Remote.BaseURL,
	})
	if err != nil {
		logger.Error("invalid remote base url", "error", err)
		os.Exit(1)
	}

	// Services
	syncer := catalog.NewSynchronizer(catalog.Config{
		PageSize: cfg.Remote.PageSize,
		Source:   cfg.Remote.Source,
		MaxPages: cfg.Remote.MaxPages,
	}, client, repo, normalizer, events, logger)
	observer := catalog.NewObserver(repo, normalizer, events, logger)

	activity := poller.NewActivityLog(cfg.Sync.ActivityLog, 200)
	poll := poller.New(cfg.Sync, syncer, activity, logger)

	deleter := deletion.NewOrchestrator(cfg.Delete, client, repo, syncer, events, logger)

	fetcher := downloader.NewHTTPFetcher(cfg.Export, cfg.Remote.UserAgent, client, normalizer, logger)
	dst, err := sink.NewFromConfig(ctx, cfg.Export, logger)
	if err != nil {
		logger.Error("failed to create export sink", "destination", cfg.Export.Destination, "error", err)
		os.Exit(1)
	}
	exporter := export.NewExporter(cfg.Export, repo, fetcher, dst, events, logger)

	// HTTP
	router := api.NewRouter(api.Handlers{
		Health: handler.NewHealthHandler(handler.StatusDeps{
			Sync:     syncer,
			Poller:   poll,
			Deleter:  deleter,
			Exporter: exporter,
			Session:  client,
			Catalog:  repo,
		}, Version),
		Catalog: handler.NewCatalogHandler(repo, syncer, observer, client, logger),
		Delete:  handler.NewDeleteHandler(deleter, logger),
		Export:  handler.NewExportHandler(exporter, logger),
		Events:  handler.NewEventHandler(events, logger),
		Sync:    handler.NewSyncHandler(poll, logger),
	}, cfg.Server.APIKey, logger)

	// Background work
	go poll.Start(ctx)
	go watchStore(ctx, kv, repo, events, logger)
	go cleanupEvents(ctx, events, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

// watchStore reports catalog writes made by other processes, such as the CLI,
// so connected clients refresh.
func watchStore(ctx context.Context, kv store.KV, repo repository.CatalogRepository, events *notify.EventService, logger *slog.Logger) {
	for change := range kv.Watch(ctx) {
		if !change.External {
			continue
		}
		current, err := repo.Load(ctx)
		if err != nil {
			logger.Warn("failed to reload catalog after external change", "error", err)
			continue
		}
		events.CatalogUpdated("external", current.Len())
	}
}

func cleanupEvents(ctx context.Context, events *notify.EventService, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := events.CleanupOldEvents(ctx); err != nil {
				logger.Warn("event cleanup failed", "error", err)
			}
		}
	}
}
