// Package html normalizes fetched pages: cleaning, link extraction, and
// metadata extraction, all goquery-based.
package html

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// alwaysStripSelectors are removed from every page before conversion,
// regardless of options.
var alwaysStripSelectors = []string{"script", "style", "iframe", "noscript", "meta", "head"}

// Cleaner strips non-content markup from fetched HTML.
type Cleaner struct {
	excludeNonMain []string
}

// NewCleaner builds a Cleaner. excludeNonMain lists the selectors additionally
// stripped when a caller asks for main content only.
func NewCleaner(excludeNonMain []string) *Cleaner {
	return &Cleaner{excludeNonMain: excludeNonMain}
}

// Clean removes script/style/iframe/noscript/meta/head unconditionally and,
// when onlyMain is set, the configured non-content selectors as well. The
// result is still HTML, ready for markdown conversion.
func (c *Cleaner) Clean(page string, onlyMain bool) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	for _, sel := range alwaysStripSelectors {
		doc.Find(sel).Remove()
	}
	if onlyMain {
		for _, sel := range c.excludeNonMain {
			doc.Find(sel).Remove()
		}
	}
	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("serialize html: %w", err)
	}
	return out, nil
}
