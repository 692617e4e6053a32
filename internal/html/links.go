package html

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Links collects anchor hrefs from a page, in document order, deduplicated
// keeping the first occurrence. Relative hrefs resolve against pageURL,
// mailto: links pass through verbatim, fragment-only links and non-http(s)
// schemes are dropped. Extraction is idempotent: the same page always yields
// the same ordered set.
func Links(pageURL, page string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	var out []string
	seen := make(map[string]struct{})
	add := func(link string) {
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		if strings.HasPrefix(href, "mailto:") {
			add(href)
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := ref
		if base != nil {
			abs = base.ResolveReference(ref)
		}
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		add(abs.String())
	})
	return out
}
