// Package app initializes and holds the long-lived pipeline services,
// acting as the dependency injection container. Provider switches in the
// configuration select the backing implementation per port: memory for
// development, postgres/gcs/pubsub for deployments.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/pickemhq/sportsfeed/internal/api"
	busmem "github.com/pickemhq/sportsfeed/internal/bus/memory"
	buspubsub "github.com/pickemhq/sportsfeed/internal/bus/pubsub"
	"github.com/pickemhq/sportsfeed/internal/clock/system"
	"github.com/pickemhq/sportsfeed/internal/config"
	"github.com/pickemhq/sportsfeed/internal/crawler"
	"github.com/pickemhq/sportsfeed/internal/dispatch"
	docgcs "github.com/pickemhq/sportsfeed/internal/docstore/gcs"
	docmem "github.com/pickemhq/sportsfeed/internal/docstore/memory"
	docpg "github.com/pickemhq/sportsfeed/internal/docstore/postgres"
	"github.com/pickemhq/sportsfeed/internal/feed"
	"github.com/pickemhq/sportsfeed/internal/hash"
	iduuid "github.com/pickemhq/sportsfeed/internal/id/uuid"
	"github.com/pickemhq/sportsfeed/internal/identity"
	"github.com/pickemhq/sportsfeed/internal/ingest"
	"github.com/pickemhq/sportsfeed/internal/metrics"
	"github.com/pickemhq/sportsfeed/internal/orchestrator"
	"github.com/pickemhq/sportsfeed/internal/pacing"
	queuemem "github.com/pickemhq/sportsfeed/internal/queue/memory"
	queuepubsub "github.com/pickemhq/sportsfeed/internal/queue/pubsub"
	"github.com/pickemhq/sportsfeed/internal/resolver"
	"github.com/pickemhq/sportsfeed/internal/source"
	storemem "github.com/pickemhq/sportsfeed/internal/store/memory"
	storepg "github.com/pickemhq/sportsfeed/internal/store/postgres"
	"github.com/pickemhq/sportsfeed/internal/worker"
)

// App holds the shared, long-lived services for the pipeline. Initialized
// once at startup; fails fast when a critical backend is unreachable.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	docs        feed.DocumentStore
	definitions feed.DefinitionStore
	discovery   feed.DiscoveryStore
	entities    feed.EntityStore
	publisher   feed.Publisher
	queue       feed.Enqueuer

	crawler      *crawler.Crawler
	orchestrator *orchestrator.Orchestrator
	handler      *worker.Handler
	requests     *worker.Requests

	memQueue *queuemem.Queue
	psQueue  *queuepubsub.Queue
	memBus   *busmem.Publisher

	server  *http.Server
	closers []func() error
}

// New builds the container from configuration.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}

	clk := system.New()
	ids := iduuid.New()
	idGen := identity.New()
	hasher := hash.New()
	pacer := pacing.New(pacing.Config{ItemsPerSecond: cfg.Crawler.ItemsPerSecond})

	var db *sqlx.DB
	needsDB := cfg.Providers.Documents == "postgres" || cfg.Providers.Stores == "postgres"
	if needsDB {
		var err error
		db, err = storepg.Connect(ctx, storepg.Config{
			DSN:          cfg.DB.DSN,
			MaxOpenConns: cfg.DB.MaxOpenConns,
			MaxIdleConns: cfg.DB.MaxIdleConns,
		})
		if err != nil {
			return nil, errors.Wrap(err, "connect database")
		}
		a.closers = append(a.closers, db.Close)
	}

	if err := a.initDocumentStore(ctx, db); err != nil {
		return nil, err
	}
	if err := a.initStores(db); err != nil {
		return nil, err
	}
	if err := a.initBus(ctx); err != nil {
		return nil, err
	}
	if err := a.initQueue(ctx); err != nil {
		return nil, err
	}

	sourceClient := source.NewClient(source.ClientConfig{
		BaseURL:   cfg.Source.BaseURL,
		APIKey:    cfg.Source.APIKey,
		Timeout:   cfg.SourceTimeout(),
		UserAgent: cfg.Source.UserAgent,
	}, logger)

	a.crawler = crawler.New(
		sourceClient, a.docs, a.queue, a.discovery, a.definitions,
		idGen, ids, pacer, clk, logger,
	)
	a.orchestrator = orchestrator.New(a.definitions, a.crawler, clk, cfg.CrawlTimeout(), logger)

	processor := ingest.New(sourceClient, a.docs, a.publisher, hasher, pacer, clk, ids, logger)
	dispatcher := dispatch.New(a.docs, a.entities, a.publisher, idGen, ids, clk, logger)
	resolver.RegisterAll(dispatcher, feed.Provider(cfg.Feed.Provider), feed.Domain(cfg.Feed.Domain))
	a.handler = worker.NewHandler(processor, dispatcher, a.queue, cfg.Crawler.MaxAttempts, logger)
	a.requests = worker.NewRequests(a.queue, idGen, logger)

	// The memory bus delivers requested-document events in process. With
	// the pubsub bus, a push subscription on the requested topic feeds
	// the work topic instead.
	if a.memBus != nil {
		a.memBus.Subscribe(feed.TopicDocumentRequested, func(ctx context.Context, event any) {
			request, ok := event.(feed.DocumentRequested)
			if !ok {
				return
			}
			if err := a.requests.HandleRequested(ctx, request); err != nil {
				logger.Error("requeue dependency request failed", zap.Error(err))
			}
		})
	}

	apiServer := api.NewServer(a.definitions, a.docs, a.crawler, logger)
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func (a *App) initDocumentStore(ctx context.Context, db *sqlx.DB) error {
	switch a.cfg.Providers.Documents {
	case "memory":
		a.docs = docmem.New()
	case "postgres":
		a.docs = docpg.New(db)
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return errors.Wrap(err, "create storage client")
		}
		a.closers = append(a.closers, client.Close)
		store, err := docgcs.New(client, docgcs.Config{
			Bucket: a.cfg.GCS.Bucket,
			Prefix: a.cfg.GCS.Prefix,
		})
		if err != nil {
			return errors.Wrap(err, "create gcs document store")
		}
		a.docs = store
	default:
		return errors.Newf("unknown documents provider %q", a.cfg.Providers.Documents)
	}
	a.logger.Info("document store initialized", zap.String("provider", a.cfg.Providers.Documents))
	return nil
}

func (a *App) initStores(db *sqlx.DB) error {
	switch a.cfg.Providers.Stores {
	case "memory":
		definitions := storemem.NewDefinitionStore()
		for _, def := range a.cfg.CrawlDefinitions() {
			definitions.Seed(def)
		}
		a.definitions = definitions
		a.discovery = storemem.NewDiscoveryStore()
		a.entities = storemem.NewEntityStore()
	case "postgres":
		a.definitions = storepg.NewDefinitionStore(db)
		a.discovery = storepg.NewDiscoveryStore(db)
		a.entities = storepg.NewEntityStore(db)
	default:
		return errors.Newf("unknown stores provider %q", a.cfg.Providers.Stores)
	}
	a.logger.Info("relational stores initialized", zap.String("provider", a.cfg.Providers.Stores))
	return nil
}

func (a *App) initBus(ctx context.Context) error {
	switch a.cfg.Providers.Bus {
	case "memory":
		a.memBus = busmem.New()
		a.publisher = a.memBus
	case "pubsub":
		publisher, err := buspubsub.New(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return errors.Wrap(err, "create pubsub publisher")
		}
		a.closers = append(a.closers, publisher.Close)
		a.publisher = publisher
	default:
		return errors.Newf("unknown bus provider %q", a.cfg.Providers.Bus)
	}
	a.logger.Info("event bus initialized", zap.String("provider", a.cfg.Providers.Bus))
	return nil
}

func (a *App) initQueue(ctx context.Context) error {
	switch a.cfg.Providers.Queue {
	case "memory":
		a.memQueue = queuemem.New(a.cfg.Crawler.QueueDepth)
		a.queue = a.memQueue
	case "pubsub":
		queue, err := queuepubsub.New(ctx, queuepubsub.Config{
			ProjectID:      a.cfg.PubSub.ProjectID,
			TopicID:        a.cfg.PubSub.WorkTopicID,
			SubscriptionID: a.cfg.PubSub.WorkSubscriptionID,
		}, a.logger)
		if err != nil {
			return errors.Wrap(err, "create pubsub queue")
		}
		a.closers = append(a.closers, queue.Close)
		a.psQueue = queue
		a.queue = queue
	default:
		return errors.Newf("unknown queue provider %q", a.cfg.Providers.Queue)
	}
	a.logger.Info("work queue initialized", zap.String("provider", a.cfg.Providers.Queue))
	return nil
}

// Run starts the scheduler, the consumers, and the admin server, then
// blocks until the context is canceled. Shutdown drains in-flight work.
func (a *App) Run(ctx context.Context) error {
	a.orchestrator.Start()
	defer a.orchestrator.Stop()

	errCh := make(chan error, 3)

	go func() {
		a.logger.Info("admin server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrap(err, "admin server")
		}
	}()

	go a.tickLoop(ctx)

	var pool *worker.Pool
	if a.psQueue != nil {
		go func() {
			if err := a.psQueue.Receive(ctx, a.handler.Handle); err != nil && ctx.Err() == nil {
				errCh <- err
			}
		}()
	} else {
		var err error
		pool, err = worker.NewPool(a.memQueue, a.handler, a.cfg.Crawler.Concurrency, a.logger)
		if err != nil {
			return err
		}
		go func() {
			if err := pool.Run(ctx); err != nil && ctx.Err() == nil {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.logger.Error("component failed, shutting down", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("admin server shutdown", zap.Error(err))
	}
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	if pool != nil {
		pool.Shutdown()
	}
	return runErr
}

func (a *App) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.TickInterval())
	defer ticker.Stop()

	if err := a.orchestrator.Tick(ctx); err != nil {
		a.logger.Error("orchestrator tick failed", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.orchestrator.Tick(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("orchestrator tick failed", zap.Error(err))
			}
		}
	}
}

// Close releases the container's backends.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close service", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
