package paginator

import (
	"context"
	"strings"

	"github.com/use-agent/portharvest/session"
)

// Locator finds the next-page control on the current page. A nil element
// with a nil error means the page has no such control.
type Locator interface {
	Locate(ctx context.Context, page session.Page) (session.Element, error)
}

// PositionalLocator picks the Index-th element matching Selector whose
// trimmed text equals Text.
//
// The source site renders the same ">" glyph twice: the first occurrence
// belongs to an unrelated control, the second is "next page". That
// convention is fragile and lives only here.
type PositionalLocator struct {
	Selector string
	Text     string
	Index    int
}

func (l PositionalLocator) Locate(ctx context.Context, page session.Page) (session.Element, error) {
	els, err := page.QueryAll(ctx, l.Selector)
	if err != nil {
		return nil, err
	}

	seen := 0
	for _, el := range els {
		text, err := el.Text(ctx)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(text) != l.Text {
			continue
		}
		if seen == l.Index {
			return el, nil
		}
		seen++
	}
	return nil, nil
}

// SelectorLocator picks the first element matching a semantic selector such
// as "a[rel=next]".
type SelectorLocator struct {
	Selector string
}

func (l SelectorLocator) Locate(ctx context.Context, page session.Page) (session.Element, error) {
	els, err := page.QueryAll(ctx, l.Selector)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

// NewLocator returns a PositionalLocator when text is set and a
// SelectorLocator otherwise.
func NewLocator(selector, text string, index int) Locator {
	if text == "" {
		return SelectorLocator{Selector: selector}
	}
	return PositionalLocator{Selector: selector, Text: text, Index: index}
}
