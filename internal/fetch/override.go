package fetch

import (
	"net/url"
	"strings"
)

// OverrideRule re-routes a fetch when the page content or URL shape shows
// the default result is unusable: anti-bot interstitials that need a longer
// rendered wait, or documents served as PDF.
type OverrideRule struct {
	// HTMLContains triggers the rule when the fetched page contains the
	// marker string.
	HTMLContains string
	// URLSuffix triggers the rule when the URL path ends with the suffix.
	URLSuffix string
	// Backend names the backend to re-fetch with. Empty keeps the original
	// result.
	Backend string
	// WaitMS is added to the wait budget of the re-fetch.
	WaitMS int64
	// PDF routes the result through PDF extraction regardless of the
	// reported content type.
	PDF bool
}

// DefaultOverrideRules returns the built-in rules. Docs platforms that serve
// an empty shell until client scripts run get a rendered re-fetch with extra
// wait; PDF links whose response lies about its content type are forced down
// the extraction path.
func DefaultOverrideRules() []OverrideRule {
	return []OverrideRule{
		// readme.io-hosted docs render everything client side.
		{HTMLContains: `<meta name="readme-deploy"`, Backend: "browser", WaitMS: 1000},
		// Vanta trust pages take several seconds to hydrate.
		{HTMLContains: `<link href="https://static.vanta.com`, Backend: "browser", WaitMS: 3000},
		{URLSuffix: ".pdf", PDF: true},
	}
}

// matchOverride returns the first rule triggered by the fetched page, or nil.
func matchOverride(rules []OverrideRule, pageURL, pageHTML string) *OverrideRule {
	path := pageURL
	if u, err := url.Parse(pageURL); err == nil && u.Path != "" {
		path = u.Path
	}
	for i := range rules {
		rule := &rules[i]
		if rule.HTMLContains != "" && strings.Contains(pageHTML, rule.HTMLContains) {
			return rule
		}
		if rule.URLSuffix != "" && strings.HasSuffix(path, rule.URLSuffix) {
			return rule
		}
	}
	return nil
}
