package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/portharvest/config"
	"github.com/use-agent/portharvest/models"
	"github.com/ysmood/gson"
)

// Browser is a Session backed by a single headless Chromium tab.
type Browser struct {
	cfg      config.BrowserConfig
	launcher *launcher.Launcher
	browser  *rod.Browser

	mu     sync.Mutex
	page   *rod.Page
	router *rod.HijackRouter

	closeOnce sync.Once
	closeErr  error
}

// NewBrowser launches Chromium and connects to it.
func NewBrowser(cfg config.BrowserConfig) (*Browser, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.Proxy != "" {
		l = l.Proxy(cfg.Proxy)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeSession, "failed to launch browser", err)
	}
	slog.Debug("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, models.NewScrapeError(models.ErrCodeSession, "failed to connect to browser", err)
	}

	return &Browser{cfg: cfg, launcher: l, browser: browser}, nil
}

// Open creates the session's tab and loads url into it.
//
// Stealth JS, extra headers and the hijack router are installed before the
// first navigation; they only take effect for navigations that start after
// they are in place. The DOMContentLoaded waiter is registered before
// Navigate for the same reason.
func (b *Browser) Open(ctx context.Context, url string) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.page != nil {
		return nil, models.NewScrapeError(models.ErrCodeSession, "session already has an open page", nil)
	}

	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeSession, "failed to create page", err)
	}
	b.page = page

	if b.cfg.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", evalErr)
		}
	}

	if len(b.cfg.Headers) > 0 {
		if hErr := (proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(b.cfg.Headers)}).Call(page); hErr != nil {
			slog.Warn("failed to set extra headers", "error", hErr)
		}
	}

	b.router = setupHijack(page, b.cfg.BlockedResourceTypes)

	p := page.Context(ctx)
	wait := waitMainFrame(p, proto.PageLifecycleEventNameDOMContentLoaded)
	if err := p.Navigate(url); err != nil {
		return nil, categorizeError(err, models.ErrCodeSession, "navigation to start URL failed")
	}
	wait()
	if err := ctx.Err(); err != nil {
		return nil, categorizeError(err, models.ErrCodeSession, "start URL did not finish loading")
	}

	return &browserPage{page: page}, nil
}

// Close stops the hijack router, closes the tab and kills the browser. It is
// safe to call more than once; only the first call does any work.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.router != nil {
			_ = b.router.Stop()
		}
		if b.page != nil {
			if err := b.page.Close(); err != nil {
				slog.Debug("closing page failed", "error", err)
			}
		}
		b.closeErr = b.browser.Close()
		b.launcher.Cleanup()
		slog.Info("browser closed")
	})
	return b.closeErr
}

type browserPage struct {
	page *rod.Page
}

func (bp *browserPage) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	els, err := bp.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, classifyElementError(err, models.ErrCodeExtraction, fmt.Sprintf("query %q failed", selector))
	}
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = &browserElement{el: el}
	}
	return out, nil
}

func (bp *browserPage) ExpectNavigation(ctx context.Context, timeout time.Duration) func() error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	wait := waitMainFrame(bp.page.Context(navCtx), proto.PageLifecycleEventNameDOMContentLoaded)

	return func() error {
		defer cancel()
		wait()
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("waiting for navigation: %w", err)
		}
		if err := navCtx.Err(); err != nil {
			return models.NewScrapeError(models.ErrCodeNavTimeout,
				fmt.Sprintf("no DOMContentLoaded within %s", timeout), err)
		}
		return nil
	}
}

func (bp *browserPage) URL() string {
	info, err := bp.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

type browserElement struct {
	el *rod.Element
}

// Text returns textContent rather than innerText so hidden descendants are
// included, matching what a DOM text read returns.
func (be *browserElement) Text(ctx context.Context) (string, error) {
	v, err := be.el.Context(ctx).Property("textContent")
	if err != nil {
		return "", classifyElementError(err, models.ErrCodeExtraction, "failed to read element text")
	}
	return v.Str(), nil
}

func (be *browserElement) Visible(ctx context.Context) (bool, error) {
	ok, err := be.el.Context(ctx).Visible()
	if err != nil {
		return false, classifyElementError(err, models.ErrCodeStaleElement, "failed to check visibility")
	}
	return ok, nil
}

func (be *browserElement) Click(ctx context.Context) error {
	if err := be.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return classifyElementError(err, models.ErrCodeStaleElement, "click failed")
	}
	return nil
}

// waitMainFrame subscribes to lifecycle events and returns a function that
// blocks until the page's main frame emits name. Subframes such as ad
// iframes emit the same events and are ignored. The subscription is live
// when waitMainFrame returns.
func waitMainFrame(p *rod.Page, name proto.PageLifecycleEventName) func() {
	_ = proto.PageSetLifecycleEventsEnabled{Enabled: true}.Call(p)
	wait := p.EachEvent(mainFrameEvent(p.FrameID, name))
	return func() {
		wait()
		_ = proto.PageSetLifecycleEventsEnabled{Enabled: false}.Call(p)
	}
}

func mainFrameEvent(frame proto.PageFrameID, name proto.PageLifecycleEventName) func(*proto.PageLifecycleEvent) bool {
	return func(e *proto.PageLifecycleEvent) bool {
		return e.FrameID == frame && e.Name == name
	}
}

// staleMessages are CDP error texts Chromium returns for handles whose node
// or execution context went away with a navigation.
var staleMessages = []string{
	"node is detached",
	"cannot find context with specified id",
	"could not find node with given id",
	"no node with given id",
	"execution context was destroyed",
}

// classifyElementError maps errors caused by a navigated-away document to
// STALE_ELEMENT and everything else to code.
func classifyElementError(err error, code, msg string) *models.ScrapeError {
	var notFound *rod.ObjectNotFoundError
	if errors.As(err, &notFound) {
		return models.NewScrapeError(models.ErrCodeStaleElement, msg, err)
	}
	var cdpErr *cdp.Error
	if errors.As(err, &cdpErr) {
		lower := strings.ToLower(cdpErr.Message + " " + cdpErr.Data)
		for _, m := range staleMessages {
			if strings.Contains(lower, m) {
				return models.NewScrapeError(models.ErrCodeStaleElement, msg, err)
			}
		}
	}
	return categorizeError(err, code, msg)
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
