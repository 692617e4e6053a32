package frontier

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSitemap(t *testing.T) {
	t.Run("urlset", func(t *testing.T) {
		children, leaves, err := parseSitemap([]byte(`<?xml version="1.0" encoding="UTF-8"?>
			<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
				<url><loc> http://site.test/a </loc><lastmod> 2026-02-01 </lastmod><changefreq>weekly</changefreq><priority>0.5</priority></url>
				<url><loc>http://site.test/b</loc></url>
				<url><loc></loc></url>
			</urlset>`))

		require.NoError(t, err)
		require.Empty(t, children)
		require.Len(t, leaves, 2)
		require.Equal(t, "http://site.test/a", leaves[0].Location)
		require.Equal(t, "2026-02-01", leaves[0].LastMod)
		require.Equal(t, "weekly", leaves[0].ChangeFreq)
		require.Equal(t, 0.5, leaves[0].Priority)
		require.Zero(t, leaves[1].Priority)
	})

	t.Run("index", func(t *testing.T) {
		children, leaves, err := parseSitemap([]byte(`<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
			<sitemap><loc>http://site.test/sitemap-1.xml</loc></sitemap>
			<sitemap><loc> http://site.test/sitemap-2.xml </loc></sitemap>
		</sitemapindex>`))

		require.NoError(t, err)
		require.Empty(t, leaves)
		require.Equal(t, []string{"http://site.test/sitemap-1.xml", "http://site.test/sitemap-2.xml"}, children)
	})

	t.Run("foreign xml yields nothing", func(t *testing.T) {
		children, leaves, err := parseSitemap([]byte(`<html><body>not a sitemap</body></html>`))

		require.NoError(t, err)
		require.Empty(t, children)
		require.Empty(t, leaves)
	})

	t.Run("non xml errors", func(t *testing.T) {
		_, _, err := parseSitemap([]byte("404 page not found"))
		require.Error(t, err)

		_, _, err = parseSitemap(nil)
		require.Error(t, err)
	})
}

func TestSitemapURL(t *testing.T) {
	cases := []struct {
		seed string
		want string
	}{
		{"http://site.test", "http://site.test/sitemap.xml"},
		{"http://site.test/", "http://site.test/sitemap.xml"},
		{"https://site.test/blog/post", "https://site.test/sitemap.xml"},
		{"http://site.test/sitemap.xml", "http://site.test/sitemap.xml"},
		{"http://site.test/news/sitemap.xml", "http://site.test/news/sitemap.xml"},
		{"http://site.test/news-sitemap.xml", "http://site.test/news-sitemap.xml"},
	}
	for _, tc := range cases {
		u, err := url.Parse(tc.seed)
		require.NoError(t, err)
		require.Equal(t, tc.want, sitemapURL(u), "seed %s", tc.seed)
	}
}
