package cleaner

import (
	"net/url"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// newMarkdownConverter creates a goroutine-safe converter. The base plugin
// drops script, style, head and comments; tables keep minimal padding.
func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)
}

// ToMarkdown converts htmlContent to Markdown. Relative links and images are
// resolved against the scheme and host of sourceURL.
func ToMarkdown(conv *converter.Converter, htmlContent, sourceURL string) (string, error) {
	if u, err := url.Parse(sourceURL); err == nil && u.Host != "" {
		return conv.ConvertString(htmlContent, converter.WithDomain(u.Scheme+"://"+u.Host))
	}
	return conv.ConvertString(htmlContent)
}
