package extractor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/portharvest/models"
	"github.com/use-agent/portharvest/session"
)

func openDoc(t *testing.T, body string) (*session.Static, session.Page) {
	t.Helper()
	s := session.NewStatic(session.FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		return []byte(body), nil
	}))
	page, err := s.Open(context.Background(), "https://ports.test/")
	require.NoError(t, err)
	return s, page
}

func TestExtract_NormalizesInOrder(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	want := []models.Record{}
	for _, port := range []string{"21/tcp", "22/tcp", "Port 23 \"telnet\"", "80/tcp"} {
		b.WriteString(`<div class="bl558_pp size13">` + "\n   Port: " + port + "  \n</div>")
		want = append(want, models.Record(port))
	}
	b.WriteString(`<div class="size13">Port: 9/udp</div></body></html>`)

	s, page := openDoc(t, b.String())
	defer s.Close()

	got, err := New(".bl558_pp.size13", models.DefaultRecordPrefix).Extract(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestExtract_NoMatchesIsEmptyNotError(t *testing.T) {
	s, page := openDoc(t, "<html><body><p>nothing here</p></body></html>")
	defer s.Close()

	got, err := New(".bl558_pp.size13", models.DefaultRecordPrefix).Extract(context.Background(), page)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestExtract_DetachedPage(t *testing.T) {
	s, page := openDoc(t, `<div class="bl558_pp size13">Port: 1/tcp</div>`)
	require.NoError(t, s.Close())

	_, err := New(".bl558_pp.size13", models.DefaultRecordPrefix).Extract(context.Background(), page)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrExtraction))
	assert.Equal(t, models.ErrCodeExtraction, models.CodeOf(err))
}

type staleText struct{}

func (staleText) Text(context.Context) (string, error) {
	return "", models.NewScrapeError(models.ErrCodeStaleElement, "gone", nil)
}
func (staleText) Visible(context.Context) (bool, error) { return false, nil }
func (staleText) Click(context.Context) error           { return nil }

type onePage struct{ els []session.Element }

func (p onePage) QueryAll(context.Context, string) ([]session.Element, error) { return p.els, nil }
func (p onePage) ExpectNavigation(context.Context, time.Duration) func() error {
	return func() error { return nil }
}
func (p onePage) URL() string { return "https://ports.test/" }

func TestExtract_TextReadFailure(t *testing.T) {
	_, err := New("div", "").Extract(context.Background(), onePage{els: []session.Element{staleText{}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrExtraction))
	assert.True(t, errors.Is(err, models.ErrStaleElement))
}
