// Package app initializes and holds the long-lived application
// services, acting as the dependency injection container for the
// command layer.
package app

import (
	"context"
	"fmt"

	gcstorage "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/venturescope/scraperd/internal/archive"
	archivegcs "github.com/venturescope/scraperd/internal/archive/gcs"
	archivelocal "github.com/venturescope/scraperd/internal/archive/local"
	archivememory "github.com/venturescope/scraperd/internal/archive/memory"
	"github.com/venturescope/scraperd/internal/breaker"
	"github.com/venturescope/scraperd/internal/config"
	"github.com/venturescope/scraperd/internal/fetch"
	"github.com/venturescope/scraperd/internal/fetch/headless"
	"github.com/venturescope/scraperd/internal/fetch/static"
	"github.com/venturescope/scraperd/internal/logging"
	"github.com/venturescope/scraperd/internal/notify"
	notifymemory "github.com/venturescope/scraperd/internal/notify/memory"
	notifypubsub "github.com/venturescope/scraperd/internal/notify/pubsub"
	"github.com/venturescope/scraperd/internal/pipeline"
	"github.com/venturescope/scraperd/internal/record"
	"github.com/venturescope/scraperd/internal/retry"
	"github.com/venturescope/scraperd/internal/server"
	"github.com/venturescope/scraperd/internal/store"
)

// App holds every shared service. It is built once at startup and
// handed to the commands; construction fails fast on any
// misconfigured dependency.
type App struct {
	cfg       config.Config
	log       *zap.Logger
	pool      *pgxpool.Pool
	gcsClient *gcstorage.Client
	publisher notify.Publisher
	headless  *headless.Transport
	runner    *pipeline.Runner
	scheduler *pipeline.Scheduler
	server    *server.Server
}

// New wires the full service graph from configuration.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	log, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	a := &App{cfg: cfg, log: log}

	if err := a.initDatabase(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}

	snapshots, err := a.initArchive(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	coordinator, err := a.initFetching()
	if err != nil {
		a.Close()
		return nil, err
	}

	repos := make([]*store.Repo, 0, 3)
	for _, kind := range []record.Kind{record.KindCompany, record.KindMember, record.KindDeal} {
		repo, err := store.NewRepo(a.pool, kind)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("build %s repository: %w", kind, err)
		}
		repos = append(repos, repo)
	}
	tracker := store.NewTrackerForRepos(repos,
		store.WithPublisher(a.publisher),
		store.WithLogger(log.Named("tracker")))

	a.runner = pipeline.NewRunner(coordinator, tracker, store.NewSiteRepo(a.pool), cfg.Sites,
		pipeline.WithArchive(snapshots),
		pipeline.WithLogger(log.Named("pipeline")))
	a.scheduler = pipeline.NewScheduler(a.runner, cfg.Pipeline.Interval(), cfg.Pipeline.RetryInterval(),
		pipeline.WithSchedulerLogger(log.Named("scheduler")))
	a.server = server.New(cfg.Server, coordinator, a.scheduler,
		server.WithLogger(log.Named("server")))

	log.Info("application services initialized",
		zap.Int("sites", len(cfg.Sites)),
		zap.String("archive", cfg.Archive.Backend),
		zap.String("notify", cfg.Notify.Backend))
	return a, nil
}

func (a *App) initDatabase(ctx context.Context) error {
	pc, err := pgxpool.ParseConfig(a.cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("parse database dsn: %w", err)
	}
	if a.cfg.Database.MaxConns > 0 {
		pc.MaxConns = a.cfg.Database.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	a.pool = pool
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	switch a.cfg.Notify.Backend {
	case "pubsub":
		pub, err := notifypubsub.New(ctx, notifypubsub.Config{
			ProjectID: a.cfg.Notify.ProjectID,
			TopicID:   a.cfg.Notify.Topic,
		}, a.log.Named("notify"))
		if err != nil {
			return fmt.Errorf("initialize pubsub publisher: %w", err)
		}
		a.publisher = pub
	case "memory":
		a.publisher = notifymemory.New()
	case "none":
		a.publisher = notify.Noop{}
	default:
		return fmt.Errorf("unknown notify backend: %s", a.cfg.Notify.Backend)
	}
	return nil
}

func (a *App) initArchive(ctx context.Context) (archive.Store, error) {
	switch a.cfg.Archive.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.gcsClient = client
		snap, err := archivegcs.New(ctx, client, archivegcs.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("initialize gcs archive: %w", err)
		}
		return snap, nil
	case "local":
		snap, err := archivelocal.New(archivelocal.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("initialize local archive: %w", err)
		}
		return snap, nil
	case "memory":
		return archivememory.New(), nil
	case "none":
		return archive.Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", a.cfg.Archive.Backend)
	}
}

// initFetching builds the throttle, the transports, and one guard
// chain per transport.
func (a *App) initFetching() (*fetch.Coordinator, error) {
	scraping := a.cfg.Scraping

	throttle := fetch.NewThrottle(fetch.ThrottleConfig{
		BaseDelay:    scraping.Throttle.BaseDelay(),
		HostRPS:      scraping.Throttle.HostRPS,
		HostBurst:    scraping.Throttle.HostBurst,
		HotThreshold: scraping.Throttle.HotThreshold,
		PenaltyDelay: scraping.Throttle.PenaltyDelay(),
		Window:       scraping.Throttle.Window(),
	}, a.log.Named("throttle"))

	coordinator := fetch.NewCoordinator(fetch.Config{
		RenderHosts: scraping.RenderHosts,
		DetectShell: scraping.DetectShell,
	}, throttle, a.log.Named("fetch"))

	policy := retry.Policy{
		MaxAttempts:   scraping.Retry.MaxAttempts,
		InitialDelay:  scraping.Retry.InitialDelay(),
		MaxDelay:      scraping.Retry.MaxDelay(),
		BackoffFactor: scraping.Retry.BackoffFactor,
		Jitter:        true,
	}

	register := func(t fetch.Transport) {
		coordinator.Register(t,
			breaker.New(t.Name(), scraping.Breaker.Threshold, scraping.Breaker.Cooldown(),
				breaker.WithLogger(a.log.Named("breaker"))),
			retry.New(policy,
				retry.WithName(t.Name()),
				retry.WithClassifier(fetch.Classify),
				retry.WithLogger(a.log.Named("retry"))))
	}

	register(static.New(static.Config{
		UserAgent:         scraping.UserAgent,
		Timeout:           scraping.HTTP.Timeout(),
		RetryAfterDefault: scraping.HTTP.RetryAfterDefault(),
	}, a.log.Named("static")))

	if scraping.Headless.Enabled {
		ht, err := headless.New(headless.Config{
			MaxParallel:         scraping.Headless.MaxParallel,
			UserAgent:           scraping.UserAgent,
			NavigationTimeout:   scraping.Headless.NavigationTimeout(),
			WaitSelectorTimeout: scraping.Headless.WaitSelectorTimeout(),
			SettleDelay:         scraping.Headless.SettleDelay(),
			RetryAfterDefault:   scraping.HTTP.RetryAfterDefault(),
		}, a.log.Named("headless"))
		if err != nil {
			return nil, fmt.Errorf("initialize headless transport: %w", err)
		}
		a.headless = ht
		register(ht)
	}

	return coordinator, nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.log }

// Runner returns the pipeline runner for one-shot runs.
func (a *App) Runner() *pipeline.Runner { return a.runner }

// Scheduler returns the interval scheduler.
func (a *App) Scheduler() *pipeline.Scheduler { return a.scheduler }

// Server returns the HTTP server.
func (a *App) Server() *server.Server { return a.server }

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	return store.Migrate(ctx, a.pool, a.log.Named("migrate"))
}

// Close shuts down every service the App owns. Safe to call on a
// partially constructed App.
func (a *App) Close() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn("closing publisher", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.log.Warn("closing storage client", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.log.Sync()
}
