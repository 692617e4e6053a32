// Package server builds the service from configuration and runs it.
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
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/api"
	"github.com/scrapeline/scrapeline/internal/auth"
	"github.com/scrapeline/scrapeline/internal/billing"
	"github.com/scrapeline/scrapeline/internal/clock/system"
	"github.com/scrapeline/scrapeline/internal/config"
	"github.com/scrapeline/scrapeline/internal/fetch"
	"github.com/scrapeline/scrapeline/internal/fetch/browser"
	"github.com/scrapeline/scrapeline/internal/fetch/chrome"
	"github.com/scrapeline/scrapeline/internal/fetch/httpfetch"
	"github.com/scrapeline/scrapeline/internal/fetch/proxy"
	"github.com/scrapeline/scrapeline/internal/frontier"
	"github.com/scrapeline/scrapeline/internal/hash/sha256"
	"github.com/scrapeline/scrapeline/internal/html"
	"github.com/scrapeline/scrapeline/internal/id/uuid"
	"github.com/scrapeline/scrapeline/internal/job"
	"github.com/scrapeline/scrapeline/internal/logging"
	"github.com/scrapeline/scrapeline/internal/markdown"
	"github.com/scrapeline/scrapeline/internal/metrics"
	"github.com/scrapeline/scrapeline/internal/pdf"
	"github.com/scrapeline/scrapeline/internal/progress"
	progresssinks "github.com/scrapeline/scrapeline/internal/progress/sinks"
	kafkapublisher "github.com/scrapeline/scrapeline/internal/publisher/kafka"
	memorypublisher "github.com/scrapeline/scrapeline/internal/publisher/memory"
	gcppublisher "github.com/scrapeline/scrapeline/internal/publisher/pubsub"
	queuememory "github.com/scrapeline/scrapeline/internal/queue/memory"
	queueredis "github.com/scrapeline/scrapeline/internal/queue/redis"
	"github.com/scrapeline/scrapeline/internal/ratelimit"
	"github.com/scrapeline/scrapeline/internal/scrape"
	gcsstorage "github.com/scrapeline/scrapeline/internal/storage/gcs"
	localstorage "github.com/scrapeline/scrapeline/internal/storage/local"
	memorystorage "github.com/scrapeline/scrapeline/internal/storage/memory"
	"github.com/scrapeline/scrapeline/internal/store"
	storememory "github.com/scrapeline/scrapeline/internal/store/memory"
	pgstore "github.com/scrapeline/scrapeline/internal/store/postgres"
)

// App owns the built service and its long-lived infrastructure handles.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	apiServer   *api.Server
	coordinator *job.Coordinator
	progressHub *progress.Hub

	queue           scrape.TaskQueue
	redisClient     *redis.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	kafkaPublisher  *kafkapublisher.Publisher
	gcsClient       *gcstorage.Client
	chromeBackend   *chrome.Backend
	pgStore         *pgstore.JobStore
}

// NewApp creates an empty App around the configuration. Build populates it.
func NewApp(cfg config.Config, logger *zap.Logger) *App {
	// Only non-sensitive fields are logged.
	type sanitizedConfig struct {
		Port           int    `json:"port"`
		Workers        int    `json:"workers"`
		StorageBackend string `json:"storage_backend,omitempty"`
		EventsBackend  string `json:"events_backend,omitempty"`
		RateLimit      string `json:"ratelimit_backend"`
	}
	logger.Info("creating application", zap.Any("config", sanitizedConfig{
		Port:           cfg.Server.Port,
		Workers:        cfg.Crawl.Workers,
		StorageBackend: cfg.Storage.Backend,
		EventsBackend:  cfg.Events.Backend,
		RateLimit:      cfg.RateLimit.Backend,
	}))
	return &App{cfg: cfg, logger: logger}
}

// Run starts the worker pool and the HTTP server, then blocks until the
// context is cancelled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("worker pool started", zap.Int("workers", a.cfg.Crawl.Workers))
		a.coordinator.Run(ctx)
	}()

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

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application. The queue goes first so
// draining workers stop picking up tasks.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.logger.Warn("task queue close failed", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

//nolint:gocognit // Shutdown logic is linear but walks every optional handle.
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.kafkaPublisher != nil {
		if err := a.kafkaPublisher.Close(); err != nil {
			a.logger.Warn("kafka publisher close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.chromeBackend != nil {
		a.chromeBackend.Close()
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := NewApp(cfg, logger)
	app.logger.Info("building application dependencies")

	jobStore, progressRepo, err := setupDatabase(ctx, app)
	if err != nil {
		return nil, err
	}

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}

	eventPublisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	progressEmitter, err := setupProgress(ctx, app, progressRepo)
	if err != nil {
		return nil, err
	}

	gate := setupRateGate(app)
	setupQueue(app)

	scraper, probe, err := setupScraper(app)
	if err != nil {
		return nil, err
	}
	expander := frontier.New(probe, frontier.Config{
		SitemapTimeout: cfg.SitemapTimeout(),
	}, logger.Named("frontier"))

	clk := system.New()
	biller := setupBilling(app, eventPublisher, clk)

	// The blob store only reaches the workers when raw archiving is on;
	// without it the coordinator records no artifact refs.
	if !cfg.Storage.ArchiveRaw {
		blobStore = nil
	}

	app.coordinator, err = job.NewCoordinator(
		job.Config{
			Workers:       cfg.Crawl.Workers,
			EventsTopic:   cfg.Events.Topic,
			ArchivePrefix: cfg.Storage.Prefix,
		},
		job.Deps{
			Scraper:   scraper,
			Expander:  expander,
			Store:     jobStore,
			Blobs:     blobStore,
			Queue:     app.queue,
			Publisher: eventPublisher,
			Biller:    biller,
			Gate:      gate,
			Progress:  progressEmitter,
			IDs:       uuid.New(),
			Clock:     clk,
			Hasher:    sha256.New(),
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("coordinator init failed: %w", err)
	}

	authorizer := auth.New(credentials(cfg.Auth), cfg.Auth.PreviewToken, logger)
	app.apiServer = api.NewServer(
		app.coordinator,
		scraper,
		gate,
		biller,
		authorizer,
		progressRepo,
		cfg,
		logger,
	)

	return app, nil
}

func setupDatabase(ctx context.Context, a *App) (scrape.JobStore, store.ProgressRepository, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Info("using in-memory job store")
		return storememory.NewJobStore(), storememory.NewProgressStore(), nil
	}
	pg, err := pgstore.NewJobStore(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("job store init failed: %w", err)
	}
	a.pgStore = pg
	progressRepo, err := pg.ProgressStore()
	if err != nil {
		return nil, nil, fmt.Errorf("progress store init failed: %w", err)
	}
	a.logger.Info("postgres job store initialized", zap.Int32("max_conns", a.cfg.Database.MaxConns))
	return pg, progressRepo, nil
}

func setupStorage(ctx context.Context, a *App) (scrape.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using gcs blob store", zap.String("bucket", a.cfg.Storage.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local blob store", zap.String("base_dir", a.cfg.Storage.Local.BaseDir))
		return blobs, nil
	case "memory":
		a.logger.Info("using in-memory blob store")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Info("page archiving disabled")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, a *App) (scrape.Publisher, error) {
	switch a.cfg.Events.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.Events.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		pub, err := gcppublisher.New(client)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.pubsubPublisher = pub
		for _, topic := range []string{a.cfg.Events.Topic, a.cfg.Events.BillingTopic} {
			if topic == "" {
				continue
			}
			if err := pub.CheckTopic(ctx, a.cfg.Events.PubSub.ProjectID, topic); err != nil {
				return nil, fmt.Errorf("pubsub topic check failed: %w", err)
			}
		}
		a.logger.Info("pubsub event publisher initialized",
			zap.String("project", a.cfg.Events.PubSub.ProjectID),
			zap.String("topic", a.cfg.Events.Topic),
		)
		return pub, nil
	case "kafka":
		a.kafkaPublisher = kafkapublisher.New(a.cfg.Events.Kafka.Brokers)
		a.logger.Info("kafka event publisher initialized", zap.Strings("brokers", a.cfg.Events.Kafka.Brokers))
		return a.kafkaPublisher, nil
	default:
		a.logger.Info("using in-memory event publisher")
		return memorypublisher.New(), nil
	}
}

func setupProgress(ctx context.Context, a *App, progressRepo store.ProgressRepository) (progress.Emitter, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil, nil
	}
	var sinkList []progress.Sink
	if progressRepo != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(progressRepo, a.logger.Named("progress_store")))
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}

	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    ctx,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("sinks", len(sinkList)),
	)
	return a.progressHub, nil
}

func setupRateGate(a *App) *ratelimit.Gate {
	var bucketStore ratelimit.Store
	if a.cfg.RateLimit.Backend == "redis" {
		bucketStore = ratelimit.NewRedis(a.redis(), "scrapeline:ratelimit")
		a.logger.Info("using redis rate-limit store", zap.String("addr", a.cfg.Redis.Addr))
	} else {
		bucketStore = ratelimit.NewMemory()
		a.logger.Info("using in-memory rate-limit store")
	}
	return ratelimit.NewGateWithLimits(bucketStore, rateLimits(a.cfg.RateLimit), a.logger)
}

func setupQueue(a *App) {
	if a.cfg.Redis.Addr != "" {
		a.queue = queueredis.NewQueue(a.redis(), a.cfg.Redis.QueueKey)
		a.logger.Info("using redis task queue", zap.String("key", a.cfg.Redis.QueueKey))
		return
	}
	a.queue = queuememory.NewQueue(a.cfg.Crawl.QueueDepth)
	a.logger.Info("using in-memory task queue", zap.Int("depth", a.cfg.Crawl.QueueDepth))
}

// setupScraper assembles the fetch backends into the fallback pipeline. The
// second return is the probe backend the frontier crawls sitemaps and links
// with, preferring plain HTTP.
func setupScraper(a *App) (*fetch.Fetcher, scrape.Backend, error) {
	fcfg := a.cfg.Fetch
	var backends []scrape.Backend

	if fcfg.Proxy.URL != "" {
		pcfg := proxy.Config{URL: fcfg.Proxy.URL, APIKey: fcfg.Proxy.APIKey, Timeout: a.cfg.BaseTimeout()}
		backends = append(backends,
			proxy.New(pcfg, a.logger.Named("proxy")),
			proxy.NewRendered(pcfg, a.logger.Named("proxy")),
		)
		a.logger.Info("proxy fetch backends enabled", zap.String("url", fcfg.Proxy.URL))
	}
	if fcfg.Browser.URL != "" {
		backends = append(backends, browser.New(browser.Config{
			URL:       fcfg.Browser.URL,
			UserAgent: fcfg.UserAgent,
			Timeout:   a.cfg.BaseTimeout(),
		}, a.logger.Named("browser")))
		a.logger.Info("browser fetch backend enabled", zap.String("url", fcfg.Browser.URL))
	}
	if fcfg.Chrome.Enabled {
		chromeBackend, err := chrome.New(chrome.Config{
			MaxParallel:       fcfg.Chrome.MaxParallel,
			UserAgent:         fcfg.UserAgent,
			NavigationTimeout: time.Duration(fcfg.Chrome.NavTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("chrome backend init failed: %w", err)
		}
		a.chromeBackend = chromeBackend
		backends = append(backends, chromeBackend)
		a.logger.Info("chrome fetch backend enabled", zap.Int("max_parallel", fcfg.Chrome.MaxParallel))
	}
	var probe scrape.Backend
	if fcfg.HTTPEnabled {
		httpBackend := httpfetch.New(httpfetch.Config{UserAgent: fcfg.UserAgent, Timeout: a.cfg.BaseTimeout()})
		backends = append(backends, httpBackend)
		probe = httpBackend
		a.logger.Info("http fetch backend enabled")
	}
	if len(backends) == 0 {
		return nil, nil, fmt.Errorf("no fetch backends configured")
	}
	if probe == nil {
		probe = backends[0]
	}

	rules := fetch.DefaultOverrideRules()
	for _, rc := range fcfg.Overrides {
		rules = append(rules, fetch.OverrideRule{
			HTMLContains: rc.HTMLContains,
			URLSuffix:    rc.URLSuffix,
			Backend:      rc.Backend,
			WaitMS:       rc.WaitMS,
			PDF:          rc.PDF,
		})
	}

	extractor := pdf.New(pdf.Config{
		ServiceURL:   a.cfg.PDF.ServiceURL,
		APIKey:       a.cfg.PDF.APIKey,
		PollInterval: time.Duration(a.cfg.PDF.PollIntervalMs) * time.Millisecond,
		PollAttempts: a.cfg.PDF.PollAttempts,
	}, a.logger.Named("pdf"))

	scraper := fetch.NewFetcher(
		fetch.NewSelector(backends, fcfg.DomainOverrides),
		html.NewCleaner(a.cfg.HTML.ExcludeNonMainSelectors),
		markdown.New(),
		extractor,
		fetch.Config{BaseTimeout: a.cfg.BaseTimeout(), Overrides: rules},
		a.logger.Named("fetch"),
	)
	return scraper, probe, nil
}

func setupBilling(a *App, pub scrape.Publisher, clk scrape.Clock) billing.Biller {
	if a.cfg.Events.BillingTopic == "" {
		a.logger.Info("billing events disabled, logging only")
		return billing.NewLogOnly(clk, a.logger)
	}
	return billing.NewPublisher(pub, a.cfg.Events.BillingTopic, clk, a.logger)
}

// redis returns the shared client, creating it on first use. The rate-limit
// store and the task queue share one connection pool.
func (a *App) redis() *redis.Client {
	if a.redisClient == nil {
		a.redisClient = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
	}
	return a.redisClient
}

// rateLimits translates the config capacities into the gate's bucket table.
// Every configured pair overrides the built-in plan table; a zero capacity
// means unlimited.
func rateLimits(cfg config.RateLimitConfig) ratelimit.Limits {
	window := time.Duration(cfg.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}
	plan := func(m config.ModeLimits) map[ratelimit.Mode]ratelimit.Limit {
		return map[ratelimit.Mode]ratelimit.Limit{
			ratelimit.ModeCrawl:       {Capacity: m.Crawl, Window: window},
			ratelimit.ModeScrape:      {Capacity: m.Scrape, Window: window},
			ratelimit.ModeCrawlStatus: {Capacity: m.CrawlStatus, Window: window},
			ratelimit.ModeSearch:      {Capacity: m.Search, Window: window},
		}
	}
	return ratelimit.Limits{
		Preview: ratelimit.Limit{Capacity: cfg.Preview, Window: window},
		Plans: map[ratelimit.Plan]map[ratelimit.Mode]ratelimit.Limit{
			ratelimit.PlanStarter:  plan(cfg.Starter),
			ratelimit.PlanStandard: plan(cfg.Standard),
			ratelimit.PlanScale:    plan(cfg.Scale),
		},
	}
}

// credentials flattens the config token table into authorizer entries.
func credentials(cfg config.AuthConfig) []auth.Credential {
	creds := make([]auth.Credential, 0, len(cfg.Tokens))
	for token, entry := range cfg.Tokens {
		creds = append(creds, auth.Credential{Token: token, TeamID: entry.TeamID, Plan: entry.Plan})
	}
	return creds
}
