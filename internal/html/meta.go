package html

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/scrapeline/scrapeline/internal/scrape"
)

// Metadata extracts the page-head metadata block from raw HTML. It must run
// on the unmodified page: cleaning removes the head entirely.
func Metadata(page string) scrape.Metadata {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return scrape.Metadata{}
	}

	meta := scrape.Metadata{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Description: metaContent(doc, "meta[name='description']"),
		Keywords:    metaContent(doc, "meta[name='keywords']"),
		Robots:      metaContent(doc, "meta[name='robots']"),
		OGTitle:     metaContent(doc, "meta[property='og:title']"),
		OGImage:     metaContent(doc, "meta[property='og:image']"),
	}
	if lang, ok := doc.Find("html").Attr("lang"); ok {
		meta.Language = strings.TrimSpace(lang)
	}
	return meta
}

func metaContent(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().AttrOr("content", ""))
}
