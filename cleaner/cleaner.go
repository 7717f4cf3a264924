// Package cleaner turns rendered HTML into the content returned to callers.
package cleaner

import (
	"log/slog"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"

	"github.com/use-agent/browserpool/models"
)

// Cleaner is safe for concurrent use; the converter is built once.
type Cleaner struct {
	mdConverter *converter.Converter
}

// NewCleaner initialises the Cleaner with a pre-configured Markdown converter.
func NewCleaner() *Cleaner {
	return &Cleaner{mdConverter: newMarkdownConverter()}
}

// Process extracts metadata from the full document, optionally narrows it
// to cssSelector, then converts it to format ("html", "markdown" or "text").
func (c *Cleaner) Process(rawHTML, sourceURL, format, cssSelector string) (string, models.Metadata, error) {
	meta := ExtractMetadata(rawHTML, sourceURL)

	content := rawHTML
	if cssSelector != "" {
		narrowed, matched, err := ApplyCSSSelector(rawHTML, cssSelector)
		if err != nil {
			return "", meta, models.NewPoolError(models.ErrCodeInvalidInput, "invalid css_selector", err)
		}
		if !matched {
			slog.Debug("cleaner: css selector matched nothing, keeping full document",
				"url", sourceURL,
				"selector", cssSelector,
			)
		}
		content = narrowed
	}

	switch format {
	case "markdown":
		md, err := ToMarkdown(c.mdConverter, content, sourceURL)
		if err != nil {
			return "", meta, models.NewPoolError(models.ErrCodeInternal, "markdown conversion failed", err)
		}
		return md, meta, nil
	case "text":
		return PlainText(content), meta, nil
	default:
		return content, meta, nil
	}
}
