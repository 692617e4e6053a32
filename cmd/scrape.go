package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scrapeline/scrapeline/internal/scrape"
)

// newScrapeCmd creates and configures the 'scrape' subcommand. It runs a
// single URL through the full pipeline and prints the resulting document.
func newScrapeCmd() *cobra.Command {
	var (
		markdownOnly bool
		onlyMain     bool
		includeHTML  bool
		screenshot   bool
		waitMs       int64
	)

	cmd := &cobra.Command{
		Use:   "scrape <url>",
		Short: "Scrapes one URL and prints the document",
		Long: `Fetches a single page through the backend chain, cleans it, and prints
the document as JSON. With --markdown only the markdown body is printed.`,

		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, err := resolvePipeline(cmd.Context())
			if err != nil {
				return err
			}

			doc := pipeline.Scraper().Scrape(cmd.Context(), scrape.ScrapeRequest{
				URL: args[0],
				Options: scrape.PageOptions{
					OnlyMainContent: onlyMain,
					IncludeHTML:     includeHTML,
					Screenshot:      screenshot,
					WaitFor:         waitMs,
				},
			})
			if doc.Content == "" && doc.Metadata.Error != "" {
				return fmt.Errorf("scrape %s: %s", args[0], doc.Metadata.Error)
			}

			if markdownOnly {
				fmt.Fprintln(cmd.OutOrStdout(), doc.Markdown)
				return nil
			}
			out, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("encode document: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().BoolVar(&markdownOnly, "markdown", false, "print only the markdown body")
	cmd.Flags().BoolVar(&onlyMain, "only-main-content", false, "strip navigation, footers, and other page chrome")
	cmd.Flags().BoolVar(&includeHTML, "include-html", false, "include the cleaned HTML in the document")
	cmd.Flags().BoolVar(&screenshot, "screenshot", false, "request a screenshot from a rendering backend")
	cmd.Flags().Int64Var(&waitMs, "wait", 0, "extra render wait in milliseconds")

	return cmd
}
