// Package session provides the render sessions the harvester drives: a
// headless Chromium session built on go-rod and a plain HTTP session that
// parses documents with goquery.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/use-agent/portharvest/config"
	"github.com/use-agent/portharvest/models"
)

// Session is an exclusively owned rendering context. Close must be called
// exactly once.
type Session interface {
	// Open loads url in a new page and waits for its DOM to be ready.
	Open(ctx context.Context, url string) (Page, error)

	// Close releases the page and the underlying engine.
	Close() error
}

// Page is a handle to the currently loaded document.
type Page interface {
	// QueryAll returns every element matching the CSS selector, in DOM order.
	// No match is an empty slice, not an error.
	QueryAll(ctx context.Context, selector string) ([]Element, error)

	// ExpectNavigation registers a waiter for the next document load and
	// returns the function that blocks on it. The waiter must be registered
	// before the action that triggers navigation, otherwise a fast load can
	// complete unobserved. The returned function fails with a
	// NAVIGATION_TIMEOUT error when no load happens within timeout.
	ExpectNavigation(ctx context.Context, timeout time.Duration) func() error

	// URL returns the address of the current document.
	URL() string
}

// Element is a handle to one node of the current document. Handles do not
// survive navigation; using one afterwards fails with STALE_ELEMENT.
type Element interface {
	Text(ctx context.Context) (string, error)
	Visible(ctx context.Context) (bool, error)
	Click(ctx context.Context) error
}

// New builds the session selected by cfg.Browser.Mode.
func New(cfg *config.Config) (Session, error) {
	switch cfg.Browser.Mode {
	case config.ModeHTTP:
		return NewStatic(NewHTTPFetcher(cfg.Browser.Proxy, cfg.Browser.Headers)), nil
	case config.ModeBrowser:
		b, err := NewBrowser(cfg.Browser)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, "unknown session mode "+cfg.Browser.Mode, nil)
	}
}

// categorizeError wraps raw errors into typed ScrapeErrors so callers can
// branch on the code. Errors that are already typed pass through.
func categorizeError(err error, code, msg string) *models.ScrapeError {
	var se *models.ScrapeError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		msg += " (context done)"
	}
	return models.NewScrapeError(code, msg, err)
}
