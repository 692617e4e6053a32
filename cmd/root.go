package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/config"
	"github.com/scrapeline/scrapeline/internal/logging"
	"github.com/scrapeline/scrapeline/internal/metrics"
	"github.com/scrapeline/scrapeline/internal/scrape"
	"github.com/scrapeline/scrapeline/internal/server"
)

var cfgFile string

// pipelineKeyType is the key for storing the Pipeline in the context.
type pipelineKeyType string

const pipelineKey pipelineKeyType = "pipeline"

// Pipeline is the slice of the service the commands drive.
// This allows us to inject a fake pipeline during tests.
type Pipeline interface {
	Scraper() scrape.PageScraper
	Expander() scrape.Expander
	Logger() *zap.Logger
	Close()
}

// newPipeline is the pipeline factory. It's a variable so we can
// replace it with a fake factory in our tests.
var newPipeline = func(_ context.Context) (Pipeline, error) {
	// A local .env augments the environment; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()
	return server.NewPipeline(cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrapeline",
		Short: "Turns web pages into clean markdown documents.",
		Long: `scrapeline fetches pages through a chain of rendering and plain-HTTP
backends, cleans the HTML, and converts it to markdown. The scrape command
handles a single URL; the crawl command expands a seed into a site frontier
and writes every document to disk.`,

		SilenceErrors: true,
		SilenceUsage:  true,

		// This hook runs AFTER flags are parsed but BEFORE the subcommand's
		// RunE. This is the place to build and inject the pipeline.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			pipeline, err := newPipeline(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize pipeline: %w", err)
			}

			// Store the pipeline in the context for subcommands to use.
			ctx := context.WithValue(cmd.Context(), pipelineKey, pipeline)
			cmd.SetContext(ctx)
			return nil
		},

		// This hook ensures backend resources are released.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if pipeline, ok := cmd.Context().Value(pipelineKey).(Pipeline); ok && pipeline != nil {
				pipeline.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (SCRAPELINE_* environment variables apply on top)")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute is the main entry point. Interrupts cancel the command context so
// a running crawl stops cleanly and keeps what it has written.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "scrapeline: %v\n", err)
		os.Exit(1)
	}
}

func resolvePipeline(ctx context.Context) (Pipeline, error) {
	pipeline, ok := ctx.Value(pipelineKey).(Pipeline)
	if !ok || pipeline == nil {
		return nil, errors.New("pipeline not initialized")
	}
	return pipeline, nil
}
