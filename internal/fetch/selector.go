// Package fetch orchestrates page fetching across the configured backends.
package fetch

import (
	"net/url"
	"strings"

	"github.com/scrapeline/scrapeline/internal/scrape"
)

// Selector decides which backends to try for a URL and in what order.
type Selector struct {
	defaults []scrape.Backend
	byName   map[string]scrape.Backend
	domains  map[string]string
}

// NewSelector builds a Selector. The backend slice is the default order;
// domainOverrides maps a domain key (hostname without the www prefix) to the
// backend name tried first for that domain.
func NewSelector(backends []scrape.Backend, domainOverrides map[string]string) *Selector {
	byName := make(map[string]scrape.Backend, len(backends))
	for _, b := range backends {
		byName[b.Name()] = b
	}
	return &Selector{
		defaults: backends,
		byName:   byName,
		domains:  domainOverrides,
	}
}

// Lookup returns the configured backend with the given name.
func (s *Selector) Lookup(name string) (scrape.Backend, bool) {
	b, ok := s.byName[name]
	return b, ok
}

// Order returns the backends to try for the URL, first to last. A domain
// override prepends its backend, then JavaScript-capable backends are
// promoted when the options require rendering. Each backend appears at most
// once.
func (s *Selector) Order(rawURL string, opts scrape.PageOptions) []scrape.Backend {
	order := make([]scrape.Backend, 0, len(s.defaults)+1)
	if name, ok := s.domains[DomainKey(rawURL)]; ok {
		if b, ok := s.byName[name]; ok {
			order = append(order, b)
		}
	}
	order = append(order, s.defaults...)
	if opts.NeedsRendering() {
		order = promoteRendering(order)
	}
	return dedupBackends(order)
}

// DomainKey normalizes a URL to its override-table key. Unparseable input
// falls back to the raw string so lookups stay deterministic.
func DomainKey(rawURL string) string {
	key := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		key = u.Hostname()
	}
	return strings.TrimPrefix(strings.ToLower(key), "www.")
}

// promoteRendering moves JavaScript-capable backends to the front, keeping
// relative order on both sides of the split.
func promoteRendering(order []scrape.Backend) []scrape.Backend {
	promoted := make([]scrape.Backend, 0, len(order))
	var rest []scrape.Backend
	for _, b := range order {
		if b.Renders() {
			promoted = append(promoted, b)
		} else {
			rest = append(rest, b)
		}
	}
	return append(promoted, rest...)
}

func dedupBackends(order []scrape.Backend) []scrape.Backend {
	seen := make(map[string]struct{}, len(order))
	out := make([]scrape.Backend, 0, len(order))
	for _, b := range order {
		if _, ok := seen[b.Name()]; ok {
			continue
		}
		seen[b.Name()] = struct{}{}
		out = append(out, b)
	}
	return out
}
