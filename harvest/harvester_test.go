package harvest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/portharvest/config"
	"github.com/use-agent/portharvest/models"
	"github.com/use-agent/portharvest/session"
	"github.com/use-agent/portharvest/sink"
)

type fakeSession struct {
	page    session.Page
	openErr error
	opened  []string
	closes  int
}

func (s *fakeSession) Open(ctx context.Context, url string) (session.Page, error) {
	s.opened = append(s.opened, url)
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.page, nil
}

func (s *fakeSession) Close() error {
	s.closes++
	return nil
}

type memSink struct {
	name   string
	err    error
	writes [][]models.Record
}

func (m *memSink) Name() string { return m.name }
func (m *memSink) Path() string { return "mem://" + m.name }
func (m *memSink) Write(ctx context.Context, records []models.Record) error {
	if m.err != nil {
		return models.NewScrapeError(models.ErrCodeSinkWrite, m.name, m.err)
	}
	m.writes = append(m.writes, records)
	return nil
}

type recordingNotifier struct {
	summaries []*models.RunSummary
}

func (n *recordingNotifier) Notify(ctx context.Context, s *models.RunSummary) error {
	n.summaries = append(n.summaries, s)
	return nil
}

func testConfig() *config.Config {
	cfg := config.Load()
	cfg.Target.URL = "https://example.test/ports"
	cfg.Browser.Mode = config.ModeHTTP
	cfg.Pagination.PagesPerSecond = 0
	cfg.Pagination.NavigationTimeout = time.Second
	return cfg
}

func opener(s session.Session) OpenFunc {
	return func() (session.Session, error) { return s, nil }
}

func TestHarvest_WritesAllRecordsToEverySink(t *testing.T) {
	sess := &fakeSession{page: nullPage{}}
	b := &book{pages: [][]models.Record{recs("80/tcp", "443/tcp"), recs("22/tcp")}}
	a, c := &memSink{name: "a"}, &memSink{name: "c"}
	n := &recordingNotifier{}

	h := New(testConfig(), opener(sess), []sink.Sink{a, c},
		WithLoop(&Loop{Extractor: b, Advancer: b, StallGuard: true}),
		WithNotifier(n),
	)
	sum, err := h.Harvest(context.Background())
	require.NoError(t, err)

	want := recs("80/tcp", "443/tcp", "22/tcp")
	assert.Equal(t, [][]models.Record{want}, a.writes)
	assert.Equal(t, [][]models.Record{want}, c.writes)
	assert.Equal(t, []string{"https://example.test/ports"}, sess.opened)
	assert.Equal(t, 1, sess.closes)

	assert.Equal(t, 2, sum.Pages)
	assert.Equal(t, 3, sum.Records)
	assert.Equal(t, string(TerminationExhausted), sum.Termination)
	assert.False(t, sum.Partial)
	assert.Empty(t, sum.ErrorCode)
	require.Len(t, sum.Sinks, 2)
	assert.Equal(t, 3, sum.Sinks[1].Written)

	require.Len(t, n.summaries, 1)
	assert.Same(t, sum, n.summaries[0])
}

func TestHarvest_NavigationTimeoutFlushesPartialRecords(t *testing.T) {
	sess := &fakeSession{page: nullPage{}}
	b := &book{
		pages:    [][]models.Record{recs("80/tcp"), recs("443/tcp"), recs("never/tcp")},
		failFrom: 2,
		err:      models.NewScrapeError(models.ErrCodeNavTimeout, "no document loaded within 1s", nil),
	}
	out := &memSink{name: "out"}

	h := New(testConfig(), opener(sess), []sink.Sink{out}, WithLoop(&Loop{Extractor: b, Advancer: b}))
	sum, err := h.Harvest(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNavigationTimeout))
	assert.Equal(t, 1, sess.closes)
	assert.Equal(t, [][]models.Record{recs("80/tcp", "443/tcp")}, out.writes)
	assert.True(t, sum.Partial)
	assert.Equal(t, models.ErrCodeNavTimeout, sum.ErrorCode)
}

func TestHarvest_SessionStartFailureWritesNothing(t *testing.T) {
	out := &memSink{name: "out"}
	h := New(testConfig(), func() (session.Session, error) {
		return nil, fmt.Errorf("chromium not found")
	}, []sink.Sink{out})

	sum, err := h.Harvest(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrSession))
	assert.Empty(t, out.writes)
	assert.Equal(t, models.ErrCodeSession, sum.ErrorCode)
}

func TestHarvest_OpenFailureClosesSessionAndWritesNothing(t *testing.T) {
	sess := &fakeSession{openErr: errors.New("dns lookup failed")}
	out := &memSink{name: "out"}

	h := New(testConfig(), opener(sess), []sink.Sink{out})
	_, err := h.Harvest(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrSession))
	assert.Equal(t, 1, sess.closes)
	assert.Empty(t, out.writes)
}

func TestHarvest_SinkFailureDoesNotStopLaterSinks(t *testing.T) {
	sess := &fakeSession{page: nullPage{}}
	b := &book{pages: [][]models.Record{recs("80/tcp")}}
	bad := &memSink{name: "bad", err: errors.New("disk full")}
	good := &memSink{name: "good"}

	h := New(testConfig(), opener(sess), []sink.Sink{bad, good}, WithLoop(&Loop{Extractor: b, Advancer: b}))
	sum, err := h.Harvest(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrSinkWrite))
	assert.Equal(t, [][]models.Record{recs("80/tcp")}, good.writes)
	require.Len(t, sum.Sinks, 2)
	assert.Contains(t, sum.Sinks[0].Error, "disk full")
	assert.Equal(t, 1, sum.Sinks[1].Written)
	assert.False(t, sum.Partial)
}

func TestHarvest_RepeatedContentAcrossPagesIsKept(t *testing.T) {
	site := map[string]string{
		"https://example.test/ports":        sitePage([]string{"80/tcp"}, "/ports?page=2"),
		"https://example.test/ports?page=2": sitePage([]string{"80/tcp"}, "/ports?page=3"),
		"https://example.test/ports?page=3": sitePage([]string{"443/tcp"}, ""),
	}
	fetcher := session.FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		body, ok := site[url]
		if !ok {
			return nil, fmt.Errorf("unexpected fetch %s", url)
		}
		return []byte(body), nil
	})
	out := &memSink{name: "out"}

	h := New(testConfig(), func() (session.Session, error) { return session.NewStatic(fetcher), nil }, []sink.Sink{out})
	sum, err := h.Harvest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Pages)
	assert.Equal(t, string(TerminationExhausted), sum.Termination)
	assert.Equal(t, [][]models.Record{recs("80/tcp", "80/tcp", "443/tcp")}, out.writes)
}

func sitePage(records []string, next string) string {
	var sb strings.Builder
	sb.WriteString(`<html><body><nav><a href="/ports?sort=desc">&gt;</a></nav><ul>`)
	for _, r := range records {
		fmt.Fprintf(&sb, `<li><span class="bl558_pp size13"> Port: %s </span></li>`, r)
	}
	sb.WriteString(`</ul>`)
	if next != "" {
		fmt.Fprintf(&sb, `<div class="pager"><a href="%s">&gt;</a></div>`, next)
	}
	sb.WriteString(`</body></html>`)
	return sb.String()
}

func TestHarvest_StaticSessionEndToEnd(t *testing.T) {
	site := map[string]string{
		"https://example.test/ports":        sitePage([]string{"80/tcp", "443/tcp"}, "/ports?page=2"),
		"https://example.test/ports?page=2": sitePage([]string{"8080/tcp"}, "?page=3"),
		"https://example.test/ports?page=3": sitePage([]string{`Port "X"/udp`}, ""),
	}
	fetcher := session.FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		body, ok := site[url]
		if !ok {
			return nil, fmt.Errorf("unexpected fetch %s", url)
		}
		return []byte(body), nil
	})

	cfg := testConfig()
	cfg.Output.Dir = t.TempDir()
	cfg.Output.Sinks = []string{config.SinkCSV}
	sinks, err := sink.FromConfig(cfg.Output)
	require.NoError(t, err)

	h := New(cfg, func() (session.Session, error) { return session.NewStatic(fetcher), nil }, sinks)
	sum, err := h.Harvest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Pages)
	assert.Equal(t, 4, sum.Records)
	assert.Equal(t, string(TerminationExhausted), sum.Termination)

	raw, err := os.ReadFile(filepath.Join(cfg.Output.Dir, cfg.Output.CSVName))
	require.NoError(t, err)
	assert.Equal(t,
		"Port/TCP Information\n\"80/tcp\"\n\"443/tcp\"\n\"8080/tcp\"\n\"Port \"\"X\"\"/udp\"",
		string(raw))
}
