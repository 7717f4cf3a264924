package cleaner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/browserpool/models"
)

const fixture = `<!DOCTYPE html>
<html lang="en">
<head>
  <title> Pool Report </title>
  <meta name="description" content="Daily pool usage">
  <meta property="og:title" content="OG Title">
  <style>body { color: red }</style>
</head>
<body>
  <nav>menu</nav>
  <article class="post"><h1>Usage</h1><p>Three <a href="/browsers">browsers</a> busy.</p></article>
  <article class="post"><p>Second</p></article>
  <script>console.log("x")</script>
</body>
</html>`

func TestApplyCSSSelector(t *testing.T) {
	out, matched, err := ApplyCSSSelector(fixture, "article.post")
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Contains(t, out, "<h1>Usage</h1>")
	assert.Contains(t, out, "<p>Second</p>")
	assert.NotContains(t, out, "menu")

	out, matched, err = ApplyCSSSelector(fixture, "section.missing")
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Equal(t, fixture, out)

	_, _, err = ApplyCSSSelector(fixture, "a[")
	require.Error(t, err)
}

func TestExtractMetadata(t *testing.T) {
	meta := ExtractMetadata(fixture, "https://example.com/report")
	assert.Equal(t, "Pool Report", meta.Title)
	assert.Equal(t, "Daily pool usage", meta.Description)
	assert.Equal(t, "en", meta.Language)
	assert.Equal(t, "https://example.com/report", meta.SourceURL)

	og := ExtractMetadata(`<html><head><meta property="og:title" content="Only OG"><meta property="og:description" content="og desc"></head></html>`, "")
	assert.Equal(t, "Only OG", og.Title)
	assert.Equal(t, "og desc", og.Description)
	assert.Empty(t, og.Language)
}

func TestPlainText(t *testing.T) {
	in := "<p>Hello <b>pool</b></p><script>track()</script>\n<p>bye</p>"
	assert.Equal(t, "Hello pool bye", PlainText(in))
}

func TestProcess(t *testing.T) {
	c := NewCleaner()

	html, meta, err := c.Process(fixture, "https://example.com/report", "html", "")
	require.NoError(t, err)
	assert.Equal(t, fixture, html)
	assert.Equal(t, "Pool Report", meta.Title)

	md, _, err := c.Process(fixture, "https://example.com/report", "markdown", "article.post")
	require.NoError(t, err)
	assert.Contains(t, md, "# Usage")
	assert.Contains(t, md, "[browsers](https://example.com/browsers)")
	assert.NotContains(t, md, "console.log")
	assert.NotContains(t, md, "menu")

	text, _, err := c.Process(fixture, "https://example.com/report", "text", "nav")
	require.NoError(t, err)
	assert.Equal(t, "menu", text)

	_, _, err = c.Process(fixture, "https://example.com", "html", "a[")
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeInvalidInput, models.CodeOf(err))
}
