package cleaner

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// ApplyCSSSelector narrows rawHTML to the outer HTML of every element
// matching selector, in document order. matched is false when nothing
// matched, in which case rawHTML is returned unchanged.
func ApplyCSSSelector(rawHTML, selector string) (out string, matched bool, err error) {
	sel, err := cascadia.Parse(selector)
	if err != nil {
		return "", false, fmt.Errorf("invalid css selector %q: %w", selector, err)
	}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", false, err
	}

	nodes := cascadia.QueryAll(doc, sel)
	if len(nodes) == 0 {
		return rawHTML, false, nil
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		if err := html.Render(&buf, n); err != nil {
			return "", false, err
		}
	}
	return buf.String(), true, nil
}
