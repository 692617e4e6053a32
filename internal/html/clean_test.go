package html

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePage = `<html lang="en">
<head><title>Widgets</title><meta name="description" content="All about widgets"></head>
<body>
<nav><a href="/home">Home</a></nav>
<script>window.track()</script>
<style>.x{color:red}</style>
<noscript>enable js</noscript>
<iframe src="https://ads.example.com"></iframe>
<article><h1>Widgets</h1><p>Widgets are great.</p></article>
<footer>contact us</footer>
</body>
</html>`

func TestCleanStripsUnconditionalTags(t *testing.T) {
	t.Parallel()

	c := NewCleaner(nil)
	out, err := c.Clean(samplePage, false)
	require.NoError(t, err)

	require.NotContains(t, out, "<script")
	require.NotContains(t, out, "<style")
	require.NotContains(t, out, "<iframe")
	require.NotContains(t, out, "<noscript")
	require.NotContains(t, out, "<meta")
	require.NotContains(t, out, "<title")
	// Content and layout chrome survive without onlyMain.
	require.Contains(t, out, "Widgets are great.")
	require.Contains(t, out, "<nav")
	require.Contains(t, out, "<footer")
}

func TestCleanOnlyMainStripsConfiguredSelectors(t *testing.T) {
	t.Parallel()

	c := NewCleaner([]string{"nav", "footer", ".ad"})
	out, err := c.Clean(samplePage, true)
	require.NoError(t, err)

	require.NotContains(t, out, "<nav")
	require.NotContains(t, out, "<footer")
	require.Contains(t, out, "Widgets are great.")
}

func TestCleanMalformedInputStillReturnsHTML(t *testing.T) {
	t.Parallel()

	c := NewCleaner(nil)
	out, err := c.Clean("<p>unclosed <b>bold", false)
	require.NoError(t, err)
	require.Contains(t, out, "unclosed")
}
