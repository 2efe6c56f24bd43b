// Package extractor turns the current page into records.
package extractor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/use-agent/portharvest/models"
	"github.com/use-agent/portharvest/session"
)

// Extractor reads one record from every node matching Selector.
type Extractor struct {
	Selector string
	Prefix   string
}

// New creates an Extractor.
func New(selector, prefix string) *Extractor {
	return &Extractor{Selector: selector, Prefix: prefix}
}

// Extract returns the normalized records of the current page in DOM order.
// A page without matching nodes yields an empty slice and no error. Any
// failure to query or read the page is an EXTRACTION_FAILED error.
func (e *Extractor) Extract(ctx context.Context, page session.Page) ([]models.Record, error) {
	els, err := page.QueryAll(ctx, e.Selector)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeExtraction,
			fmt.Sprintf("query %q on %s", e.Selector, page.URL()), err)
	}
	if len(els) == 0 {
		return []models.Record{}, nil
	}

	records := make([]models.Record, 0, len(els))
	for i, el := range els {
		text, err := el.Text(ctx)
		if err != nil {
			return nil, models.NewScrapeError(models.ErrCodeExtraction,
				fmt.Sprintf("read record %d of %d", i+1, len(els)), err)
		}
		rec := models.NormalizeRecord(text, e.Prefix)
		slog.Debug("record scraped", "value", string(rec))
		records = append(records, rec)
	}
	return records, nil
}
