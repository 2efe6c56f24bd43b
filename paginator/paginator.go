// Package paginator decides whether another page exists and moves the
// session to it.
package paginator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/portharvest/models"
	"github.com/use-agent/portharvest/session"
	"golang.org/x/time/rate"
)

// State is the outcome of one pagination check.
type State int

const (
	// NoNext is terminal: there is no actionable next-page control.
	NoNext State = iota
	// HasNext means the session has already been moved to the next page.
	HasNext
)

func (s State) String() string {
	if s == HasNext {
		return "has_next"
	}
	return "no_next"
}

// Advancer locates the next-page control, clicks it and waits for the
// resulting load.
type Advancer struct {
	locator Locator
	timeout time.Duration
	retries int
	limiter *rate.Limiter
}

// Option configures an Advancer.
type Option func(*Advancer)

// WithRetries allows n more attempts after a navigation timeout, provided
// the page URL did not change (so the first click certainly did not land).
func WithRetries(n int) Option {
	return func(a *Advancer) { a.retries = n }
}

// WithPagesPerSecond paces clicks. Zero or less disables pacing.
func WithPagesPerSecond(pps float64) Option {
	return func(a *Advancer) {
		if pps <= 0 {
			a.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		a.limiter = rate.NewLimiter(rate.Limit(pps), 1)
	}
}

// New creates an Advancer that waits up to timeout for each navigation.
func New(locator Locator, timeout time.Duration, opts ...Option) *Advancer {
	a := &Advancer{
		locator: locator,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Advance reports NoNext when the page has no visible next control.
// Otherwise it clicks the control and returns HasNext once the next document
// has loaded.
//
// Errors: NAVIGATION_TIMEOUT when the click or the load does not complete in
// time, STALE_ELEMENT when the control cannot be inspected or clicked.
// Typed session errors and context errors are returned as they are.
func (a *Advancer) Advance(ctx context.Context, page session.Page) (State, error) {
	for attempt := 0; ; attempt++ {
		el, err := a.locator.Locate(ctx, page)
		if err != nil {
			return NoNext, asStale(err, "locating next page control")
		}
		if el == nil {
			slog.Info("next page control not found, end of pagination")
			return NoNext, nil
		}

		visible, err := el.Visible(ctx)
		if err != nil {
			return NoNext, asStale(err, "checking next page control")
		}
		if !visible {
			slog.Info("next page control not visible, end of pagination")
			return NoNext, nil
		}

		if err := a.limiter.Wait(ctx); err != nil {
			return NoNext, fmt.Errorf("pacing next page: %w", err)
		}

		before := page.URL()
		err = a.clickAndWait(ctx, page, el)
		if err == nil {
			slog.Debug("advanced to next page", "from", before, "to", page.URL())
			return HasNext, nil
		}
		if errors.Is(err, models.ErrNavigationTimeout) && attempt < a.retries && page.URL() == before {
			slog.Warn("next page did not load, retrying",
				"attempt", attempt+1,
				"retries", a.retries,
				"url", before,
			)
			continue
		}
		return NoNext, err
	}
}

// clickAndWait registers the navigation waiter before clicking so a fast
// load cannot complete unobserved.
func (a *Advancer) clickAndWait(ctx context.Context, page session.Page, el session.Element) error {
	navCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wait := page.ExpectNavigation(navCtx, a.timeout)

	// The click shares the navigation budget; a covered control would
	// otherwise be retried forever.
	clickCtx, cancelClick := context.WithTimeout(navCtx, a.timeout)
	err := el.Click(clickCtx)
	clickDeadline := errors.Is(clickCtx.Err(), context.DeadlineExceeded)
	cancelClick()
	if err != nil {
		cancel()
		_ = wait()
		if clickDeadline && ctx.Err() == nil {
			return models.NewScrapeError(models.ErrCodeNavTimeout,
				fmt.Sprintf("next page control not clickable within %s", a.timeout), err)
		}
		return asStale(err, "clicking next page control")
	}

	if err := wait(); err != nil {
		if errors.Is(err, models.ErrNavigationTimeout) || ctx.Err() != nil {
			return err
		}
		return models.NewScrapeError(models.ErrCodeNavTimeout, "waiting for next page", err)
	}
	return nil
}

// asStale codes untyped element failures as STALE_ELEMENT. Typed errors and
// context errors pass through unchanged.
func asStale(err error, msg string) error {
	var se *models.ScrapeError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return models.NewScrapeError(models.ErrCodeStaleElement, msg, err)
}
