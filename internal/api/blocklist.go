package api

import (
	"net/url"
	"strings"
)

// blockedURLMessage is the refusal wording for blocklisted targets.
const blockedURLMessage = "scraping social media sites is not supported due to policy restrictions"

// blockedSuffixes are the domains refused at the API edge, matched together
// with all their subdomains.
var blockedSuffixes = []string{
	"facebook.com",
	"twitter.com",
	"x.com",
	"instagram.com",
	"linkedin.com",
	"pinterest.com",
	"snapchat.com",
	"tiktok.com",
	"reddit.com",
	"tinder.com",
	"flickr.com",
	"whatsapp.com",
	"wechat.com",
	"telegram.org",
}

// domainBlocklist refuses URLs whose host lands on a blocked domain.
// Configured entries starting with "*." or "." match the bare domain and any
// subdomain; bare entries match one host exactly.
type domainBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

func newDomainBlocklist(extra []string) *domainBlocklist {
	bl := &domainBlocklist{exact: make(map[string]struct{})}
	bl.suffixes = append(bl.suffixes, blockedSuffixes...)
	for _, pattern := range extra {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		switch {
		case pattern == "":
		case strings.HasPrefix(pattern, "*."):
			bl.suffixes = append(bl.suffixes, pattern[2:])
		case strings.HasPrefix(pattern, "."):
			bl.suffixes = append(bl.suffixes, pattern[1:])
		default:
			bl.exact[pattern] = struct{}{}
		}
	}
	return bl
}

// IsBlocked reports whether the URL's host is on the blocklist. Unparseable
// URLs are not blocked here; validation rejects them separately.
func (b *domainBlocklist) IsBlocked(raw string) bool {
	if b == nil {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
