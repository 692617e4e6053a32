package frontier

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrapeline/scrapeline/internal/scrape"
)

func TestPolicyFilterAllows(t *testing.T) {
	cases := []struct {
		name   string
		policy scrape.CrawlPolicy
		url    string
		depth  int
		want   bool
	}{
		{
			name:   "empty policy admits everything",
			policy: scrape.CrawlPolicy{},
			url:    "http://site.test/anything",
			depth:  7,
			want:   true,
		},
		{
			name:   "depth at the bound passes",
			policy: scrape.CrawlPolicy{MaxDepth: 2},
			url:    "http://site.test/a",
			depth:  2,
			want:   true,
		},
		{
			name:   "depth beyond the bound fails",
			policy: scrape.CrawlPolicy{MaxDepth: 2},
			url:    "http://site.test/a",
			depth:  3,
			want:   false,
		},
		{
			name:   "include keeps matching path",
			policy: scrape.CrawlPolicy{Includes: []string{"blog/**"}},
			url:    "http://site.test/blog/2026/post",
			want:   true,
		},
		{
			name:   "include drops non matching path",
			policy: scrape.CrawlPolicy{Includes: []string{"blog/**"}},
			url:    "http://site.test/shop/item",
			want:   false,
		},
		{
			name:   "single star stays within one segment",
			policy: scrape.CrawlPolicy{Includes: []string{"blog/*"}},
			url:    "http://site.test/blog/2026/post",
			want:   false,
		},
		{
			name:   "exclude drops matching path",
			policy: scrape.CrawlPolicy{Excludes: []string{"admin/**"}},
			url:    "http://site.test/admin/users",
			want:   false,
		},
		{
			name: "exclude wins over include",
			policy: scrape.CrawlPolicy{
				Includes: []string{"blog/**"},
				Excludes: []string{"blog/drafts/**"},
			},
			url:  "http://site.test/blog/drafts/wip",
			want: false,
		},
		{
			name:   "query string is ignored",
			policy: scrape.CrawlPolicy{Includes: []string{"blog/*"}},
			url:    "http://site.test/blog/post?utm=1",
			want:   true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			filter, err := newPolicyFilter(tc.policy)
			require.NoError(t, err)
			require.Equal(t, tc.want, filter.allows(tc.url, tc.depth))
		})
	}
}

func TestNewPolicyFilterRejectsBadPatterns(t *testing.T) {
	_, err := newPolicyFilter(scrape.CrawlPolicy{Includes: []string{"[unclosed"}})
	require.Error(t, err)

	_, err = newPolicyFilter(scrape.CrawlPolicy{Excludes: []string{"[unclosed"}})
	require.Error(t, err)
}
