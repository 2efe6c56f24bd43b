package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/portharvest/models"
	"golang.org/x/net/html"
)

// Static is a Session that renders nothing: it fetches documents with a
// Fetcher and queries them with goquery. Clicking an anchor navigates to its
// href. It suits server-rendered listings and makes offline tests possible.
type Static struct {
	fetcher Fetcher

	mu     sync.Mutex
	page   *staticPage
	closed bool
}

// NewStatic creates a static session over fetcher.
func NewStatic(fetcher Fetcher) *Static {
	return &Static{fetcher: fetcher}
}

// Open fetches and parses rawURL.
func (s *Static) Open(ctx context.Context, rawURL string) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, models.NewScrapeError(models.ErrCodeSession, "session is closed", nil)
	}
	if s.page != nil {
		return nil, models.NewScrapeError(models.ErrCodeSession, "session already has an open page", nil)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeSession, "invalid start URL", err)
	}
	doc, err := load(ctx, s.fetcher, u)
	if err != nil {
		return nil, categorizeError(err, models.ErrCodeSession, "navigation to start URL failed")
	}

	s.page = &staticPage{fetcher: s.fetcher, doc: doc, url: u, matchers: map[string]cascadia.Selector{}}
	return s.page, nil
}

// Close marks the session closed and detaches the page. Later calls are
// no-ops.
func (s *Static) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.page != nil {
		s.page.detach()
	}
	if c, ok := s.fetcher.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}

func load(ctx context.Context, f Fetcher, u *url.URL) (*goquery.Document, error) {
	body, err := f.Fetch(ctx, u.String())
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

type staticPage struct {
	fetcher Fetcher

	mu       sync.Mutex
	doc      *goquery.Document
	url      *url.URL
	gen      int                // bumped on every navigation
	detached bool               // set when the session closes
	pending  chan *url.URL      // registered navigation waiter, if any
	matchers map[string]cascadia.Selector
}

func (p *staticPage) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, categorizeError(err, models.ErrCodeExtraction, "query aborted")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.detached {
		return nil, models.NewScrapeError(models.ErrCodeStaleElement, "page is detached", nil)
	}

	m, ok := p.matchers[selector]
	if !ok {
		var err error
		m, err = cascadia.Compile(selector)
		if err != nil {
			return nil, models.NewScrapeError(models.ErrCodeInvalidInput, fmt.Sprintf("selector %q does not compile", selector), err)
		}
		p.matchers[selector] = m
	}

	sel := p.doc.FindMatcher(m)
	out := make([]Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &staticElement{page: p, sel: s, gen: p.gen})
	})
	return out, nil
}

// ExpectNavigation installs a one-shot waiter. A click on an anchor hands the
// resolved href to the waiter, and the returned function performs the fetch.
func (p *staticPage) ExpectNavigation(ctx context.Context, timeout time.Duration) func() error {
	target := make(chan *url.URL, 1)

	p.mu.Lock()
	p.pending = target
	p.mu.Unlock()

	return func() error {
		navCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		defer func() {
			p.mu.Lock()
			if p.pending == target {
				p.pending = nil
			}
			p.mu.Unlock()
		}()

		select {
		case u := <-target:
			return p.navigate(navCtx, ctx, u, timeout)
		case <-navCtx.Done():
			return navDone(ctx, navCtx, timeout)
		}
	}
}

func (p *staticPage) navigate(navCtx, parent context.Context, u *url.URL, timeout time.Duration) error {
	doc, err := load(navCtx, p.fetcher, u)
	if err != nil {
		if navCtx.Err() != nil {
			return navDone(parent, navCtx, timeout)
		}
		return models.NewScrapeError(models.ErrCodeNavTimeout, "navigation to "+u.String()+" failed", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc = doc
	p.url = u
	p.gen++
	slog.Debug("static session navigated", "url", u.String())
	return nil
}

func navDone(parent, navCtx context.Context, timeout time.Duration) error {
	if err := parent.Err(); err != nil {
		return fmt.Errorf("waiting for navigation: %w", err)
	}
	return models.NewScrapeError(models.ErrCodeNavTimeout,
		fmt.Sprintf("no document loaded within %s", timeout), navCtx.Err())
}

func (p *staticPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url.String()
}

func (p *staticPage) detach() {
	p.mu.Lock()
	p.detached = true
	p.mu.Unlock()
}

// check reports whether a handle taken at generation gen is still valid.
// Callers hold p.mu.
func (p *staticPage) check(gen int) error {
	if p.detached || gen != p.gen {
		return models.NewScrapeError(models.ErrCodeStaleElement, "element belongs to a previous document", nil)
	}
	return nil
}

type staticElement struct {
	page *staticPage
	sel  *goquery.Selection
	gen  int
}

func (e *staticElement) Text(ctx context.Context) (string, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if err := e.page.check(e.gen); err != nil {
		return "", err
	}
	return e.sel.Text(), nil
}

func (e *staticElement) Visible(ctx context.Context) (bool, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if err := e.page.check(e.gen); err != nil {
		return false, err
	}
	if len(e.sel.Nodes) == 0 {
		return false, nil
	}
	return nodeVisible(e.sel.Nodes[0]), nil
}

// Click resolves the href of the element (or its closest anchor). When a
// waiter is registered it receives the target; otherwise the navigation is
// performed inline. Anchors without a real href do nothing, like a browser.
func (e *staticElement) Click(ctx context.Context) error {
	e.page.mu.Lock()
	if err := e.page.check(e.gen); err != nil {
		e.page.mu.Unlock()
		return err
	}
	href, ok := e.sel.Closest("a[href]").Attr("href")
	base := e.page.url
	pending := e.page.pending
	e.page.mu.Unlock()

	href = strings.TrimSpace(href)
	if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return models.NewScrapeError(models.ErrCodeStaleElement, "unusable href "+href, err)
	}
	target := base.ResolveReference(ref)

	if pending != nil {
		select {
		case pending <- target:
		default:
			return errors.New("a navigation is already pending")
		}
		return nil
	}
	return e.page.navigate(ctx, ctx, target, 0)
}

// nodeVisible approximates CSS visibility from markup alone: the node and
// every ancestor must be free of the hidden attribute, aria-hidden="true"
// and inline display:none / visibility:hidden.
func nodeVisible(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		for _, a := range n.Attr {
			switch strings.ToLower(a.Key) {
			case "hidden":
				return false
			case "aria-hidden":
				if strings.EqualFold(strings.TrimSpace(a.Val), "true") {
					return false
				}
			case "style":
				style := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
				if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
					return false
				}
			}
		}
	}
	return true
}
