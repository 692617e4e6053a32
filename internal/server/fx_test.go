package server

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/billing"
	"github.com/scrapeline/scrapeline/internal/clock/system"
	"github.com/scrapeline/scrapeline/internal/config"
	"github.com/scrapeline/scrapeline/internal/metrics"
	memorypublisher "github.com/scrapeline/scrapeline/internal/publisher/memory"
	queuememory "github.com/scrapeline/scrapeline/internal/queue/memory"
	queueredis "github.com/scrapeline/scrapeline/internal/queue/redis"
	"github.com/scrapeline/scrapeline/internal/ratelimit"
	localstorage "github.com/scrapeline/scrapeline/internal/storage/local"
	memorystorage "github.com/scrapeline/scrapeline/internal/storage/memory"
	storememory "github.com/scrapeline/scrapeline/internal/store/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

// testConfig is the smallest config Build accepts, with in-process backends
// everywhere. Progress stays off so repeated builds do not re-register the
// prometheus sink.
func testConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 3002, TimeoutSeconds: 30},
		Logging: config.LoggingConfig{Development: true},
		Auth: config.AuthConfig{
			Tokens:       config.TokenTable{"tok-a": {TeamID: "team-a", Plan: "standard"}},
			PreviewToken: "preview",
		},
		Fetch: config.FetchConfig{
			BaseTimeoutSeconds: 15,
			UserAgent:          "scrapeline-test",
			HTTPEnabled:        true,
		},
		Crawl: config.CrawlConfig{
			Workers:               2,
			QueueDepth:            8,
			MaxDepthDefault:       2,
			MaxLinksDefault:       100,
			SitemapTimeoutSeconds: 5,
		},
	}
}

func TestBuildMemoryDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.Progress = config.ProgressConfig{
		Enabled:       true,
		LogEnabled:    true,
		BufferSize:    64,
		Batch:         config.ProgressBatchConfig{MaxEvents: 8, MaxWaitMs: 10},
		SinkTimeoutMs: 1000,
	}

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	require.NotNil(t, app.apiServer)
	require.NotNil(t, app.coordinator)
	require.NotNil(t, app.progressHub)
	assert.IsType(t, &queuememory.Queue{}, app.queue)

	// Nothing external was configured, so no external handles exist.
	assert.Nil(t, app.redisClient)
	assert.Nil(t, app.pubsubClient)
	assert.Nil(t, app.pgStore)
	assert.Nil(t, app.gcsClient)
	assert.Nil(t, app.chromeBackend)

	require.NoError(t, app.Close(context.Background()))
}

func TestBuildNoBackends(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.HTTPEnabled = false

	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fetch backends configured")
}

func TestSetupScraperProbeBackend(t *testing.T) {
	t.Parallel()

	a := &App{cfg: testConfig(), logger: zap.NewNop()}
	scraper, probe, err := setupScraper(a)
	require.NoError(t, err)
	require.NotNil(t, scraper)
	assert.Equal(t, "http", probe.Name())

	// Without plain HTTP the frontier probes through the first backend.
	cfg := testConfig()
	cfg.Fetch.HTTPEnabled = false
	cfg.Fetch.Browser.URL = "http://render.internal:3000"
	a = &App{cfg: cfg, logger: zap.NewNop()}
	_, probe, err = setupScraper(a)
	require.NoError(t, err)
	assert.Equal(t, "browser", probe.Name())
}

func TestSetupScraperBackendSet(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Fetch.Proxy.URL = "https://proxy.internal"
	cfg.Fetch.Proxy.APIKey = "key"
	cfg.Fetch.Browser.URL = "http://render.internal:3000"
	a := &App{cfg: cfg, logger: zap.NewNop()}

	scraper, probe, err := setupScraper(a)
	require.NoError(t, err)
	require.NotNil(t, scraper)
	assert.Equal(t, "http", probe.Name())
}

func TestSetupQueue(t *testing.T) {
	a := &App{cfg: testConfig(), logger: zap.NewNop()}
	setupQueue(a)
	assert.IsType(t, &queuememory.Queue{}, a.queue)

	cfg := testConfig()
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.QueueKey = "scrapeline:test"
	a = &App{cfg: cfg, logger: zap.NewNop()}
	setupQueue(a)
	assert.IsType(t, &queueredis.Queue{}, a.queue)
	require.NotNil(t, a.redisClient)
	require.NoError(t, a.redisClient.Close())
}

func TestSetupStorage(t *testing.T) {
	t.Parallel()

	a := &App{cfg: testConfig(), logger: zap.NewNop()}
	blobs, err := setupStorage(context.Background(), a)
	require.NoError(t, err)
	assert.Nil(t, blobs)

	cfg := testConfig()
	cfg.Storage.Backend = "memory"
	a = &App{cfg: cfg, logger: zap.NewNop()}
	blobs, err = setupStorage(context.Background(), a)
	require.NoError(t, err)
	assert.IsType(t, &memorystorage.BlobStore{}, blobs)

	cfg = testConfig()
	cfg.Storage.Backend = "local"
	cfg.Storage.Local.BaseDir = t.TempDir()
	a = &App{cfg: cfg, logger: zap.NewNop()}
	blobs, err = setupStorage(context.Background(), a)
	require.NoError(t, err)
	assert.IsType(t, &localstorage.BlobStore{}, blobs)
}

func TestSetupDatabaseMemory(t *testing.T) {
	t.Parallel()

	a := &App{cfg: testConfig(), logger: zap.NewNop()}
	jobStore, progressRepo, err := setupDatabase(context.Background(), a)
	require.NoError(t, err)
	assert.IsType(t, &storememory.JobStore{}, jobStore)
	assert.IsType(t, &storememory.ProgressStore{}, progressRepo)
	assert.Nil(t, a.pgStore)
}

func TestSetupBilling(t *testing.T) {
	t.Parallel()

	a := &App{cfg: testConfig(), logger: zap.NewNop()}
	biller := setupBilling(a, memorypublisher.New(), system.New())
	assert.IsType(t, &billing.LogOnly{}, biller)

	cfg := testConfig()
	cfg.Events.BillingTopic = "scrapeline-billing"
	a = &App{cfg: cfg, logger: zap.NewNop()}
	biller = setupBilling(a, memorypublisher.New(), system.New())
	assert.IsType(t, &billing.Publisher{}, biller)
}

func TestRateLimitsTranslation(t *testing.T) {
	t.Parallel()

	limits := rateLimits(config.RateLimitConfig{
		WindowSeconds: 30,
		Preview:       2,
		Starter:       config.ModeLimits{Crawl: 4, Scrape: 9, CrawlStatus: 90, Search: 5},
		Standard:      config.ModeLimits{Crawl: 11, Scrape: 51, CrawlStatus: 251, Search: 41},
		Scale:         config.ModeLimits{Crawl: 50, Scrape: 500, CrawlStatus: 500, Search: 500},
	})

	window := 30 * time.Second
	assert.Equal(t, ratelimit.Limit{Capacity: 2, Window: window}, limits.Preview)
	assert.Equal(t, ratelimit.Limit{Capacity: 4, Window: window}, limits.Plans[ratelimit.PlanStarter][ratelimit.ModeCrawl])
	assert.Equal(t, ratelimit.Limit{Capacity: 251, Window: window}, limits.Plans[ratelimit.PlanStandard][ratelimit.ModeCrawlStatus])
	assert.Equal(t, ratelimit.Limit{Capacity: 500, Window: window}, limits.Plans[ratelimit.PlanScale][ratelimit.ModeSearch])

	// A missing window falls back to one minute.
	limits = rateLimits(config.RateLimitConfig{})
	assert.Equal(t, time.Minute, limits.Preview.Window)
}

func TestCredentials(t *testing.T) {
	t.Parallel()

	creds := credentials(config.AuthConfig{Tokens: config.TokenTable{
		"tok-a": {TeamID: "team-a", Plan: "standard"},
		"tok-b": {TeamID: "team-b", Plan: "starter"},
	}})

	require.Len(t, creds, 2)
	byToken := map[string]string{}
	for _, c := range creds {
		byToken[c.Token] = c.TeamID + "/" + c.Plan
	}
	assert.Equal(t, "team-a/standard", byToken["tok-a"])
	assert.Equal(t, "team-b/starter", byToken["tok-b"])
}
