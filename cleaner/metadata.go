package cleaner

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/browserpool/models"
)

// ExtractMetadata reads title, description and language from a rendered
// document, preferring the regular tags over their Open Graph equivalents.
func ExtractMetadata(rawHTML, sourceURL string) models.Metadata {
	meta := models.Metadata{SourceURL: sourceURL}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return meta
	}

	meta.Title = strings.TrimSpace(doc.Find("head title").First().Text())
	if meta.Title == "" {
		meta.Title = attr(doc, `meta[property="og:title"]`, "content")
	}

	meta.Description = attr(doc, `meta[name="description"]`, "content")
	if meta.Description == "" {
		meta.Description = attr(doc, `meta[property="og:description"]`, "content")
	}

	meta.Language = attr(doc, "html", "lang")
	return meta
}

// PlainText returns the visible text of an HTML fragment.
func PlainText(htmlContent string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return htmlContent
	}
	doc.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func attr(doc *goquery.Document, selector, name string) string {
	v, _ := doc.Find(selector).First().Attr(name)
	return strings.TrimSpace(v)
}
