// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-scraper/internal/api"
	"github.com/JakeFAU/company-scraper/internal/batch"
	"github.com/JakeFAU/company-scraper/internal/clock/system"
	"github.com/JakeFAU/company-scraper/internal/config"
	"github.com/JakeFAU/company-scraper/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/company-scraper/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/company-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/company-scraper/internal/hash/sha256"
	"github.com/JakeFAU/company-scraper/internal/headless/detector"
	"github.com/JakeFAU/company-scraper/internal/id/uuid"
	"github.com/JakeFAU/company-scraper/internal/logging"
	"github.com/JakeFAU/company-scraper/internal/lookup"
	"github.com/JakeFAU/company-scraper/internal/progress"
	progresssinks "github.com/JakeFAU/company-scraper/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/company-scraper/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/company-scraper/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/company-scraper/internal/queue/memory"
	"github.com/JakeFAU/company-scraper/internal/scraper"
	gcsstorage "github.com/JakeFAU/company-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/company-scraper/internal/storage/local"
	memoryStorage "github.com/JakeFAU/company-scraper/internal/storage/memory"
	"github.com/JakeFAU/company-scraper/internal/worker"
)

const readinessTimeout = 2 * time.Second

// Option customizes Build.
type Option func(*App)

// WithLogger uses logger instead of building one from config.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithRegisterer registers progress metrics against reg instead of the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// App contains the application's dependencies.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	registerer prometheus.Registerer

	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	progressHub     *progress.Hub
	queue           *queueMemory.Queue
	jobStore        *memoryStorage.JobStore
	artifacts       scraper.ArtifactStore
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	headless        *headlessfetcher.Fetcher
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the dispatcher and HTTP server and blocks until the context is
// canceled or SIGINT/SIGTERM arrives. Running jobs are canceled on shutdown.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Batch.Workers))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before shutdown deadline")
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases infrastructure clients and flushes progress events.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	app := &App{cfg: cfg, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, err := logging.New(cfg.Logging.Development, logging.WithLevel(cfg.Logging.Level))
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
		app.logger = logger
	}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Int("workers", cfg.Batch.Workers),
		zap.Int("concurrency", cfg.Batch.Concurrency),
	)

	app.jobStore = memoryStorage.NewJobStore()

	var err error
	app.artifacts, err = setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	emitter, err := setupProgress(app)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	coordinator := newCoordinator(app, app.jobStore, app.artifacts, emitter)

	app.queue = queueMemory.NewQueue(cfg.Batch.QueueDepth)
	app.dispatch = setupDispatcher(app, coordinator, publisher)

	app.apiServer = api.NewServer(
		app.jobStore,
		app.artifacts,
		app.dispatch,
		uuid.New(),
		system.New(),
		api.Options{
			UploadDir:      cfg.Storage.UploadDir,
			MaxUploadBytes: cfg.MaxUploadBytes(),
			EnqueueTimeout: cfg.EnqueueTimeout(),
			Ready:          app.ready,
		},
		app.logger.Named("api"),
	)

	return app, nil
}

// ready checks the artifact bucket when GCS is in use.
func (a *App) ready(ctx context.Context) error {
	if a.storage == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()
	if _, err := a.storage.Bucket(a.cfg.Storage.Bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("bucket attrs: %w", err)
	}
	return nil
}

func setupStorage(ctx context.Context, app *App) (scraper.ArtifactStore, error) {
	switch app.cfg.Storage.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend")
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket: app.cfg.Storage.Bucket,
			Prefix: app.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
		return blobStore, nil
	case config.BackendLocal:
		app.logger.Info("using local storage backend")
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.OutputDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.OutputDir))
		return blobStore, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (scraper.Publisher, error) {
	if !app.cfg.PubSub.Enabled() {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = gcppublisher.New(app.pubsubClient.Publisher(app.cfg.PubSub.TopicName))
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubPublisher, nil
}

// setupProgress returns a nil Emitter when progress tracking is off.
func setupProgress(app *App) (progress.Emitter, error) {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return nil, nil
	}
	promSink, err := progresssinks.NewPrometheusSink(app.registerer)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("Added progress log sink")
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(app.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return app.progressHub, nil
}

// newCoordinator wires the row lookup pipeline into a batch coordinator.
func newCoordinator(
	app *App,
	jobStore scraper.JobStore,
	artifacts scraper.ArtifactStore,
	emitter progress.Emitter,
) *batch.Coordinator {
	cfg := app.cfg
	probeFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Directory.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	app.logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.Directory.UserAgent),
		zap.Duration("timeout", cfg.FetchTimeout()),
	)

	var headless scraper.Fetcher
	var detect scraper.HeadlessDetector
	if cfg.Headless.Enabled {
		fetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Directory.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			app.logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			app.headless = fetcher
			headless = fetcher
			detect = detector.NewHeuristic(cfg.Headless.PromotionThresh)
			app.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}

	rows := lookup.New(
		lookup.Config{BaseURL: cfg.Directory.BaseURL, UserAgent: cfg.Directory.UserAgent},
		probeFetcher,
		headless,
		detect,
		app.logger.Named("lookup"),
	)
	return batch.New(
		batch.Config{Concurrency: cfg.Batch.Concurrency},
		rows,
		jobStore,
		artifacts,
		sha256.New(),
		system.New(),
		emitter,
		app.logger.Named("batch"),
	)
}

func setupDispatcher(app *App, runner worker.Runner, publisher scraper.Publisher) *dispatcher.Dispatcher {
	workerCfg := worker.Config{Topic: app.cfg.PubSub.TopicName}
	if workerCfg.Topic == "" {
		workerCfg.Topic = "jobs"
	}
	clock := system.New()
	workers := make([]*worker.Worker, 0, app.cfg.Batch.Workers)
	for i := range app.cfg.Batch.Workers {
		workers = append(workers, worker.New(
			app.queue,
			app.jobStore,
			runner,
			publisher,
			clock,
			workerCfg,
			app.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(app.queue, workers)
}
