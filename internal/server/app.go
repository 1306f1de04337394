// Package server builds and runs the application: cache chain, ingestion
// pipeline, and HTTP surface wired against the configured providers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	gpubsub "cloud.google.com/go/pubsub/v2"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/openscripture/helpserver/internal/api"
	"github.com/openscripture/helpserver/internal/cache"
	"github.com/openscripture/helpserver/internal/clock/system"
	"github.com/openscripture/helpserver/internal/config"
	"github.com/openscripture/helpserver/internal/content"
	"github.com/openscripture/helpserver/internal/hash/sha256"
	"github.com/openscripture/helpserver/internal/id/uuid"
	"github.com/openscripture/helpserver/internal/logging"
	"github.com/openscripture/helpserver/internal/metrics"
	"github.com/openscripture/helpserver/internal/origin"
	"github.com/openscripture/helpserver/internal/pipeline"
	"github.com/openscripture/helpserver/internal/queue"
	queuememory "github.com/openscripture/helpserver/internal/queue/memory"
	queuepubsub "github.com/openscripture/helpserver/internal/queue/pubsub"
	"github.com/openscripture/helpserver/internal/resource"
	"github.com/openscripture/helpserver/internal/search"
	searchmemory "github.com/openscripture/helpserver/internal/search/memory"
	searchpostgres "github.com/openscripture/helpserver/internal/search/postgres"
	"github.com/openscripture/helpserver/internal/storage"
	gcsstorage "github.com/openscripture/helpserver/internal/storage/gcs"
	storagelocal "github.com/openscripture/helpserver/internal/storage/local"
	storagememory "github.com/openscripture/helpserver/internal/storage/memory"
	"github.com/openscripture/helpserver/internal/syncer"
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	apiServer   *api.Server
	syncer      *syncer.Syncer
	runners     []*pipeline.Runner
	eventSource *pipeline.EventSource

	pubsubClient *gpubsub.Client
	pubsubQueues []*queuepubsub.Queue
	gcsClient    *gstorage.Client
	pgIndex      *searchpostgres.Store
}

// Build creates the application's dependencies from configuration.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("storage_provider", cfg.Storage.Provider),
		zap.String("queue_provider", cfg.Queue.Provider),
		zap.String("index_provider", cfg.Index.Provider),
	)

	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	store, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	index, err := app.setupIndex(ctx)
	if err != nil {
		return nil, err
	}
	// The pipeline may wrap the store with create hooks; everything that
	// writes objects must go through the returned store.
	store, err = app.setupPipeline(ctx, store, index, idGen, clock)
	if err != nil {
		return nil, err
	}
	chain, err := app.setupCache(store, clock)
	if err != nil {
		return nil, err
	}

	originClient := origin.NewClient(cfg.Origin.BaseURL, cfg.OriginTimeout(), logger.Named("origin"))
	originClient.SetRateLimit(cfg.Origin.RateLimitRPS, cfg.Origin.RateLimitBurst)
	app.syncer = syncer.New(originClient, store, hasher, logger.Named("syncer"))

	contentSvc := content.New(chain, app.syncer, store, index, cfg.Cache.Schema, cfg.CacheTTL(), logger.Named("content"))
	app.apiServer = api.NewServer(contentSvc, app.syncer, index, cfg.Sync.Concurrency, logger.Named("api"))

	return app, nil
}

// Syncer exposes the archive syncer for one-shot CLI use.
func (a *App) Syncer() *syncer.Syncer {
	return a.syncer
}

// Run starts the workers and HTTP server and blocks until the context is
// canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, runner := range a.runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(ctx)
		}()
	}
	if a.eventSource != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.eventSource.Run(ctx)
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()

	return a.Close()
}

// Close releases external clients.
func (a *App) Close() error {
	for _, q := range a.pubsubQueues {
		q.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgIndex != nil {
		a.pgIndex.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) setupStorage(ctx context.Context) (storage.ObjectStore, error) {
	switch a.cfg.Storage.Provider {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		store, err := gcsstorage.New(ctx, client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs store init failed: %w", err)
		}
		a.logger.Info("using GCS object store", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return store, nil
	case "local":
		store, err := storagelocal.New(storagelocal.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local store init failed: %w", err)
		}
		a.logger.Info("using local object store", zap.String("dir", a.cfg.Storage.LocalDir))
		return store, nil
	default:
		a.logger.Info("using in-memory object store")
		return storagememory.NewStore(), nil
	}
}

func (a *App) setupCache(store storage.ObjectStore, clock resource.Clock) (*cache.Chain, error) {
	tiers := []cache.Tier{cache.NewMemoryTier(clock)}
	if a.cfg.Cache.RedisAddr != "" {
		client := cache.NewRedisClient(a.cfg.Cache.RedisAddr, a.cfg.Cache.RedisPassword, a.cfg.Cache.RedisDB)
		tiers = append(tiers, cache.NewRedisTier(client, a.cfg.Cache.RedisPrefix, clock))
		a.logger.Info("redis cache tier enabled", zap.String("addr", a.cfg.Cache.RedisAddr))
	}
	tiers = append(tiers, cache.NewDurableTier(store, clock))

	return cache.NewChain(tiers, cache.Config{AwaitPromotions: a.cfg.Cache.AwaitPromotions}, clock, a.logger.Named("cache"))
}

func (a *App) setupIndex(ctx context.Context) (search.Store, error) {
	switch a.cfg.Index.Provider {
	case "postgres":
		store, err := searchpostgres.New(ctx, searchpostgres.Config{
			DSN:      a.cfg.Index.DSN,
			Table:    a.cfg.Index.Table,
			MaxConns: a.cfg.Index.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres index init failed: %w", err)
		}
		a.pgIndex = store
		a.logger.Info("using postgres search index", zap.String("table", a.cfg.Index.Table))
		return store, nil
	default:
		a.logger.Info("using in-memory search index")
		return searchmemory.NewStore(), nil
	}
}

func (a *App) setupPipeline(
	ctx context.Context,
	store storage.ObjectStore,
	index search.Store,
	idGen resource.IDGenerator,
	clock resource.Clock,
) (storage.ObjectStore, error) {
	var (
		unzipQ, indexQ     queue.Queue
		unzipDLQ, indexDLQ queue.Queue
		eventsQ            queue.Queue
	)
	switch a.cfg.Queue.Provider {
	case "pubsub":
		client, err := gpubsub.NewClient(ctx, a.cfg.Queue.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client

		newQueue := func(topic, sub string) (queue.Queue, error) {
			q, err := queuepubsub.New(client, queuepubsub.Config{
				ProjectID:      a.cfg.Queue.ProjectID,
				TopicID:        topic,
				SubscriptionID: sub,
			}, a.logger.Named("queue").With(zap.String("topic", topic)))
			if err != nil {
				return nil, fmt.Errorf("pubsub queue %s init failed: %w", topic, err)
			}
			a.pubsubQueues = append(a.pubsubQueues, q)
			return q, nil
		}
		if unzipQ, err = newQueue(a.cfg.Queue.UnzipTopic, a.cfg.Queue.UnzipSubscription); err != nil {
			return nil, err
		}
		if indexQ, err = newQueue(a.cfg.Queue.IndexTopic, a.cfg.Queue.IndexSubscription); err != nil {
			return nil, err
		}
		if unzipDLQ, err = newQueue(a.cfg.Queue.UnzipDeadLetterTopic, a.cfg.Queue.UnzipDeadLetterSubscription); err != nil {
			return nil, err
		}
		if indexDLQ, err = newQueue(a.cfg.Queue.IndexDeadLetterTopic, a.cfg.Queue.IndexDeadLetterSubscription); err != nil {
			return nil, err
		}
		if eventsQ, err = newQueue(a.cfg.Queue.EventsTopic, a.cfg.Queue.EventsSubscription); err != nil {
			return nil, err
		}
	default:
		unzipQ = queuememory.NewQueue("unzip")
		indexQ = queuememory.NewQueue("index")
		unzipDLQ = queuememory.NewQueue("unzip-dlq")
		indexDLQ = queuememory.NewQueue("index-dlq")
	}

	// Object-create notifications: with an events queue (GCS publishes
	// bucket notifications to Pub/Sub) the EventSource feeds the router;
	// otherwise the store is wrapped so in-process writes fire hooks.
	router := pipeline.NewRouter(unzipQ, indexQ, idGen, clock, a.logger.Named("router"))
	if eventsQ != nil {
		a.eventSource = pipeline.NewEventSource(eventsQ, router, a.logger.Named("events"))
	} else {
		hooked := storage.WithHooks(store)
		hooked.Subscribe(func(key string) {
			if err := router.HandleCreate(context.WithoutCancel(ctx), key); err != nil {
				a.logger.Error("object create routing failed", zap.String("key", key), zap.Error(err))
			}
		})
		store = hooked
	}

	runnerCfg := pipeline.RunnerConfig{
		BatchSize:   a.cfg.Pipeline.BatchSize,
		MaxAttempts: a.cfg.Pipeline.MaxAttempts,
		BackoffBase: a.cfg.RunnerBackoffBase(),
		BackoffMax:  a.cfg.RunnerBackoffMax(),
	}
	a.runners = []*pipeline.Runner{
		pipeline.NewRunner(unzipQ, unzipDLQ,
			pipeline.NewUnzipWorker(store, a.logger.Named("unzip")),
			runnerCfg, a.logger.Named("unzip_runner")),
		pipeline.NewRunner(indexQ, indexDLQ,
			pipeline.NewIndexWorker(store, index, a.logger.Named("index")),
			runnerCfg, a.logger.Named("index_runner")),
	}

	return store, nil
}
