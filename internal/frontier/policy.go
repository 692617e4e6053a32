package frontier

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"

	"github.com/scrapeline/scrapeline/internal/scrape"
)

// policyFilter applies a crawl policy's include/exclude globs and depth
// bound to candidate URLs. Globs match the URL path without its leading
// slash, with '/' as the segment separator, so "blog/*" matches one path
// segment under /blog and "blog/**" the whole subtree.
type policyFilter struct {
	maxDepth int
	includes []glob.Glob
	excludes []glob.Glob
}

func newPolicyFilter(policy scrape.CrawlPolicy) (*policyFilter, error) {
	includes, err := compileGlobs(policy.Includes)
	if err != nil {
		return nil, fmt.Errorf("include pattern: %w", err)
	}
	excludes, err := compileGlobs(policy.Excludes)
	if err != nil {
		return nil, fmt.Errorf("exclude pattern: %w", err)
	}
	return &policyFilter{
		maxDepth: policy.MaxDepth,
		includes: includes,
		excludes: excludes,
	}, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// allows reports whether a URL at the given depth survives the policy.
// Excludes win over includes; an empty include list admits everything.
func (p *policyFilter) allows(rawURL string, depth int) bool {
	if p.maxDepth > 0 && depth > p.maxDepth {
		return false
	}
	path := matchPath(rawURL)
	for _, g := range p.excludes {
		if g.Match(path) {
			return false
		}
	}
	if len(p.includes) == 0 {
		return true
	}
	for _, g := range p.includes {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// matchPath extracts the path component globs are matched against.
func matchPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.TrimPrefix(rawURL, "/")
	}
	return strings.TrimPrefix(u.Path, "/")
}
