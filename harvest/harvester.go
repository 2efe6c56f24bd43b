package harvest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/use-agent/portharvest/config"
	"github.com/use-agent/portharvest/extractor"
	"github.com/use-agent/portharvest/models"
	"github.com/use-agent/portharvest/paginator"
	"github.com/use-agent/portharvest/session"
	"github.com/use-agent/portharvest/sink"
)

// OpenFunc acquires a fresh session for one run.
type OpenFunc func() (session.Session, error)

// Notifier is told about every finished run.
type Notifier interface {
	Notify(ctx context.Context, summary *models.RunSummary) error
}

// Harvester runs one complete harvest: session, loop, sinks.
type Harvester struct {
	cfg      *config.Config
	open     OpenFunc
	loop     *Loop
	sinks    []sink.Sink
	notifier Notifier
}

// Option configures a Harvester.
type Option func(*Harvester)

// WithNotifier reports run summaries to n.
func WithNotifier(n Notifier) Option {
	return func(h *Harvester) { h.notifier = n }
}

// WithLoop replaces the loop built from the configuration.
func WithLoop(l *Loop) Option {
	return func(h *Harvester) { h.loop = l }
}

// New creates a Harvester for cfg. open is called once per Harvest.
func New(cfg *config.Config, open OpenFunc, sinks []sink.Sink, opts ...Option) *Harvester {
	h := &Harvester{
		cfg:   cfg,
		open:  open,
		loop:  NewLoop(cfg),
		sinks: sinks,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewLoop builds the extraction loop described by cfg.
func NewLoop(cfg *config.Config) *Loop {
	pc := cfg.Pagination
	return &Loop{
		Extractor: extractor.New(cfg.Target.RecordSelector, cfg.Target.RecordPrefix),
		Advancer: paginator.New(
			paginator.NewLocator(pc.NextSelector, pc.NextText, pc.NextIndex),
			pc.NavigationTimeout,
			paginator.WithRetries(pc.NavRetries),
			paginator.WithPagesPerSecond(pc.PagesPerSecond),
		),
		MaxPages:   pc.MaxPages,
		StallGuard: pc.StallGuard,
	}
}

// Harvest opens the start URL, runs the loop and writes the records to
// every sink. The session is closed on every path.
//
// When the loop fails after collecting records, those records are still
// written and the summary is marked partial; the loop error is returned.
// Session failures write nothing.
func (h *Harvester) Harvest(ctx context.Context) (*models.RunSummary, error) {
	sum := &models.RunSummary{
		URL:       h.cfg.Target.URL,
		Mode:      h.cfg.Browser.Mode,
		StartedAt: time.Now(),
	}

	err := h.harvest(ctx, sum)
	sum.Duration = time.Since(sum.StartedAt)
	if err != nil {
		sum.ErrorCode = models.CodeOf(err)
		sum.Error = err.Error()
		slog.Error("harvest failed",
			"url", sum.URL,
			"pages", sum.Pages,
			"records", sum.Records,
			"code", sum.ErrorCode,
			"error", err,
		)
	} else {
		slog.Info("harvest completed",
			"url", sum.URL,
			"pages", sum.Pages,
			"records", sum.Records,
			"termination", sum.Termination,
			"duration_ms", sum.Duration.Milliseconds(),
		)
	}

	if h.notifier != nil {
		if nerr := h.notifier.Notify(context.WithoutCancel(ctx), sum); nerr != nil {
			slog.Warn("run notification failed", "error", nerr)
		}
	}
	return sum, err
}

func (h *Harvester) harvest(ctx context.Context, sum *models.RunSummary) error {
	sess, err := h.open()
	if err != nil {
		return asSession(err, "starting session")
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			slog.Warn("closing session failed", "error", cerr)
		}
	}()

	openCtx := ctx
	if t := h.cfg.Target.OpenTimeout; t > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	page, err := sess.Open(openCtx, h.cfg.Target.URL)
	if err != nil {
		return asSession(err, "opening "+h.cfg.Target.URL)
	}

	out, loopErr := h.loop.Run(ctx, page)
	sum.Pages = out.Pages
	sum.Records = len(out.Records)
	sum.Termination = string(out.Termination)
	sum.Partial = loopErr != nil

	// Sinks still run after cancellation so collected records survive.
	sinkErr := h.finalize(context.WithoutCancel(ctx), out.Records, sum)
	return errors.Join(loopErr, sinkErr)
}

// finalize hands records to each sink once, in order. A failing sink does
// not stop the ones after it.
func (h *Harvester) finalize(ctx context.Context, records []models.Record, sum *models.RunSummary) error {
	var errs []error
	for _, s := range h.sinks {
		outcome := models.SinkOutcome{Name: s.Name(), Path: s.Path()}
		if err := s.Write(ctx, records); err != nil {
			outcome.Error = err.Error()
			errs = append(errs, err)
			slog.Error("sink write failed", "sink", s.Name(), "path", s.Path(), "error", err)
		} else {
			outcome.Written = len(records)
			slog.Info("records written", "sink", s.Name(), "path", s.Path(), "count", len(records))
		}
		sum.Sinks = append(sum.Sinks, outcome)
	}
	return errors.Join(errs...)
}

func asSession(err error, msg string) error {
	if errors.Is(err, models.ErrSession) {
		return err
	}
	return models.NewScrapeError(models.ErrCodeSession, msg, err)
}
