// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/bestseller-crawler/internal/api"
	"github.com/JakeFAU/bestseller-crawler/internal/clock/system"
	"github.com/JakeFAU/bestseller-crawler/internal/config"
	"github.com/JakeFAU/bestseller-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/bestseller-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/bestseller-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/bestseller-crawler/internal/id/uuid"
	pubmemory "github.com/JakeFAU/bestseller-crawler/internal/publisher/memory"
	"github.com/JakeFAU/bestseller-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/bestseller-crawler/internal/storage/gcs"
	"github.com/JakeFAU/bestseller-crawler/internal/storage/local"
	"github.com/JakeFAU/bestseller-crawler/internal/storage/memory"
	"github.com/JakeFAU/bestseller-crawler/internal/storage/postgres"
	"github.com/JakeFAU/bestseller-crawler/internal/trigger"
	"go.uber.org/zap"
)

// App holds the shared, long-lived services for the application. It is built
// once at startup and closed on shutdown.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    crawler.RankingStore
	pipeline *crawler.Pipeline
	runner   *trigger.Runner
	ready    api.ReadyFunc
	closers  []func() error
}

// New builds every service named by cfg. On error, anything already opened
// is closed before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	return build(ctx, cfg, nil, logger)
}

// NewWithBrowser is New with the page backend supplied by the caller
// (primarily for testing).
func NewWithBrowser(ctx context.Context, cfg config.Config, browser crawler.Browser, logger *zap.Logger) (*App, error) {
	if browser == nil {
		return nil, errors.New("browser is required")
	}
	return build(ctx, cfg, browser, logger)
}

func build(ctx context.Context, cfg config.Config, browser crawler.Browser, logger *zap.Logger) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			if closeErr := a.Close(); closeErr != nil {
				logger.Warn("cleanup after failed init", zap.Error(closeErr))
			}
			a = nil
		}
	}()

	logger.Info("initializing application services",
		zap.String("engine", cfg.Browser.Engine),
		zap.String("database", cfg.Database.Backend),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("publisher", cfg.Publisher.Backend),
	)

	if browser == nil {
		if browser, err = a.openBrowser(); err != nil {
			return nil, err
		}
	}
	if a.store, err = a.openStore(ctx); err != nil {
		return nil, err
	}
	blobStore, err := a.openBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.openPublisher(ctx)
	if err != nil {
		return nil, err
	}

	discoverer, err := crawler.NewListingDiscoverer(browser, cfg.Listing, logger.Named("discoverer"))
	if err != nil {
		return nil, fmt.Errorf("build discoverer: %w", err)
	}
	fetcher, err := crawler.NewPageFetcher(browser, cfg.Detail, cfg.Retry, logger.Named("fetcher"))
	if err != nil {
		return nil, fmt.Errorf("build fetcher: %w", err)
	}
	scheduler, err := crawler.NewScheduler(fetcher, cfg.Crawler, logger.Named("scheduler"))
	if err != nil {
		return nil, fmt.Errorf("build scheduler: %w", err)
	}
	a.pipeline, err = crawler.NewPipeline(
		discoverer,
		cfg.Listing.Pages(),
		scheduler,
		a.store,
		blobStore,
		publisher,
		uuid.New(),
		system.New(),
		cfg.Pipeline,
		logger.Named("pipeline"),
	)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	a.runner = trigger.NewRunner(a.pipeline, logger.Named("runner"))

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) openBrowser() (crawler.Browser, error) {
	headers := a.cfg.Browser.HTTPHeaders()
	switch a.cfg.Browser.Engine {
	case config.EngineStatic:
		staticCfg := a.cfg.Browser.Static
		staticCfg.Headers = headers
		return collyfetcher.New(staticCfg), nil
	case config.EngineHeadless:
		headlessCfg := a.cfg.Browser.Headless
		headlessCfg.Headers = headers
		b, err := headless.NewChromedp(headlessCfg, a.logger.Named("chromedp"))
		if err != nil {
			return nil, fmt.Errorf("build headless browser: %w", err)
		}
		a.closers = append(a.closers, b.Close)
		return b, nil
	default:
		return nil, fmt.Errorf("unknown browser engine %q", a.cfg.Browser.Engine)
	}
}

func (a *App) openStore(ctx context.Context) (crawler.RankingStore, error) {
	switch a.cfg.Database.Backend {
	case config.BackendMemory:
		a.logger.Warn("using in-memory ranking store, rankings are lost on exit")
		return memory.NewRankingStore(), nil
	case config.BackendPostgres:
		store, err := postgres.NewRankingStore(ctx, a.cfg.Database.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		a.ready = store.Ping
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database backend %q", a.cfg.Database.Backend)
	}
}

func (a *App) openBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMemory:
		return memory.NewBlobStore(), nil
	case config.BackendLocal:
		store, err := local.New(a.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		store, client, err := gcs.Dial(ctx, a.cfg.Storage.GCS, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
}

func (a *App) openPublisher(ctx context.Context) (crawler.Publisher, error) {
	switch a.cfg.Publisher.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMemory:
		pub := pubmemory.New()
		pub.DefaultTopic = a.cfg.Pipeline.Topic
		return pub, nil
	case config.BackendPubSub:
		pub, err := pubsub.Dial(ctx, a.cfg.Publisher.ProjectID, a.cfg.Pipeline.Topic)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown publisher backend %q", a.cfg.Publisher.Backend)
	}
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store exposes the configured ranking store.
func (a *App) Store() crawler.RankingStore {
	return a.store
}

// Runner returns the run trigger shared by the cron loop and the API.
func (a *App) Runner() *trigger.Runner {
	return a.runner
}

// Server builds the admin API.
func (a *App) Server() *api.Server {
	return api.NewServer(a.store, a.runner, api.Options{
		APIKey:     a.cfg.Server.APIKey,
		RunTimeout: a.cfg.Server.RunTimeout,
		Ready:      a.ready,
	}, a.logger.Named("api"))
}

// Scheduler builds the cron trigger, or returns nil when cron is disabled.
func (a *App) Scheduler() (*trigger.Scheduler, error) {
	if !a.cfg.Cron.Enabled {
		return nil, nil
	}
	s, err := trigger.NewScheduler(a.runner, a.cfg.Cron.Schedule, a.logger.Named("trigger"))
	if err != nil {
		return nil, fmt.Errorf("build cron trigger: %w", err)
	}
	return s, nil
}

// Close releases every opened resource in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
