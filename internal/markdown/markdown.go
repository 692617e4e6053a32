// Package markdown converts cleaned HTML into markdown.
package markdown

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// Converter implements scrape.MarkdownConverter on top of the
// html-to-markdown library.
type Converter struct{}

// New returns a Converter.
func New() *Converter {
	return &Converter{}
}

// Convert renders the page as markdown. The result is trimmed; an empty page
// converts to an empty string without error.
func (Converter) Convert(page string) (string, error) {
	if strings.TrimSpace(page) == "" {
		return "", nil
	}
	md, err := htmltomarkdown.ConvertString(page)
	if err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return strings.TrimSpace(md), nil
}
