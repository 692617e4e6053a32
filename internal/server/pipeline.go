package server

import (
	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/config"
	"github.com/scrapeline/scrapeline/internal/fetch/chrome"
	"github.com/scrapeline/scrapeline/internal/frontier"
	"github.com/scrapeline/scrapeline/internal/scrape"
)

// Pipeline is the scrape core without the daemon surfaces: the fetch
// fallback chain and the frontier expander built from one configuration.
// The operator CLI drives its one-shot commands through it.
type Pipeline struct {
	scraper  scrape.PageScraper
	expander scrape.Expander
	chrome   *chrome.Backend
	logger   *zap.Logger
}

// NewPipeline assembles the fetch backends and the frontier from the
// configuration, sharing the daemon's backend setup.
func NewPipeline(cfg config.Config, logger *zap.Logger) (*Pipeline, error) {
	a := &App{cfg: cfg, logger: logger}
	scraper, probe, err := setupScraper(a)
	if err != nil {
		return nil, err
	}
	expander := frontier.New(probe, frontier.Config{
		SitemapTimeout: cfg.SitemapTimeout(),
	}, logger.Named("frontier"))
	return &Pipeline{
		scraper:  scraper,
		expander: expander,
		chrome:   a.chromeBackend,
		logger:   logger,
	}, nil
}

// Scraper returns the page pipeline.
func (p *Pipeline) Scraper() scrape.PageScraper { return p.scraper }

// Expander returns the frontier expander.
func (p *Pipeline) Expander() scrape.Expander { return p.expander }

// Logger returns the pipeline's logger.
func (p *Pipeline) Logger() *zap.Logger { return p.logger }

// Close releases backend resources held by the pipeline.
func (p *Pipeline) Close() {
	if p.chrome != nil {
		p.chrome.Close()
	}
	if err := p.logger.Sync(); err != nil {
		p.logger.Warn("logger sync failed", zap.Error(err))
	}
}
