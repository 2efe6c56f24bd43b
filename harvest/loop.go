// Package harvest drives a page-by-page extraction run: extract, paginate,
// repeat, then hand the collected records to the sinks.
package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/use-agent/portharvest/models"
	"github.com/use-agent/portharvest/paginator"
	"github.com/use-agent/portharvest/session"
)

// Termination names why a loop stopped without error.
type Termination string

const (
	// TerminationEmptyPage: the current page yielded no records.
	TerminationEmptyPage Termination = "empty_page"
	// TerminationExhausted: no actionable next-page control was found.
	TerminationExhausted Termination = "exhausted"
	// TerminationPageLimit: the configured page limit was reached.
	TerminationPageLimit Termination = "page_limit"
	// TerminationStalled: an advance left both the URL and the records
	// unchanged.
	TerminationStalled Termination = "stalled"
)

// RecordExtractor reads the records of the current page.
type RecordExtractor interface {
	Extract(ctx context.Context, page session.Page) ([]models.Record, error)
}

// PageAdvancer moves the page forward when a next page exists.
type PageAdvancer interface {
	Advance(ctx context.Context, page session.Page) (paginator.State, error)
}

// Outcome is the result of a loop run. On error it holds whatever was
// collected before the failure.
type Outcome struct {
	Records     []models.Record
	Pages       int
	Termination Termination
}

// Loop alternates extraction and pagination on a single page handle.
type Loop struct {
	Extractor RecordExtractor
	Advancer  PageAdvancer

	// MaxPages stops the loop after this many pages; 0 means no limit.
	MaxPages int

	// StallGuard stops the loop when an advance leaves the URL and the
	// records unchanged.
	StallGuard bool
}

// Run extracts every page reachable from page, in order. Pages are
// processed strictly one at a time.
func (l *Loop) Run(ctx context.Context, page session.Page) (Outcome, error) {
	var (
		results models.ResultSet
		prev    []models.Record
		prevURL string
		out     Outcome
	)
	out.Pages = 1

	finish := func(t Termination) (Outcome, error) {
		out.Records = results.Snapshot()
		out.Termination = t
		slog.Info("harvest loop finished",
			"termination", string(t),
			"pages", out.Pages,
			"records", len(out.Records),
		)
		return out, nil
	}
	fail := func(stage string, err error) (Outcome, error) {
		out.Records = results.Snapshot()
		return out, fmt.Errorf("%s page %d: %w", stage, out.Pages, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail("before", err)
		}

		slog.Info("scraping page", "page", out.Pages, "url", page.URL())

		records, err := l.Extractor.Extract(ctx, page)
		if err != nil {
			return fail("extract", err)
		}
		if len(records) == 0 {
			return finish(TerminationEmptyPage)
		}
		// A stall is a click that neither moved the URL nor changed the
		// records. Identical records under a new URL are real data.
		if l.StallGuard && out.Pages > 1 && page.URL() == prevURL && slices.Equal(records, prev) {
			slog.Warn("page did not change after advance", "page", out.Pages, "url", prevURL)
			return finish(TerminationStalled)
		}
		results.Append(records...)
		prev = records

		if l.MaxPages > 0 && out.Pages >= l.MaxPages {
			return finish(TerminationPageLimit)
		}

		prevURL = page.URL()
		state, err := l.Advancer.Advance(ctx, page)
		if err != nil {
			return fail("advance from", err)
		}
		if state == paginator.NoNext {
			slog.Info("end of pagination", "page", out.Pages)
			return finish(TerminationExhausted)
		}
		out.Pages++
	}
}
