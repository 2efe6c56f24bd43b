package config

import (
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/andybalholm/cascadia"
	"github.com/use-agent/portharvest/models"
)

// Session modes.
const (
	ModeBrowser = "browser"
	ModeHTTP    = "http"
)

// Sink names.
const (
	SinkXLSX    = "xlsx"
	SinkCSV     = "csv"
	SinkParquet = "parquet"
	SinkSQLite  = "sqlite"
)

// Validate checks the configuration before any browser is launched.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Target.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("target url %q is not an absolute http(s) URL", c.Target.URL)
	}

	switch c.Browser.Mode {
	case ModeBrowser, ModeHTTP:
	default:
		return invalid("unknown mode %q (want %q or %q)", c.Browser.Mode, ModeBrowser, ModeHTTP)
	}

	for name, sel := range map[string]string{
		"record selector": c.Target.RecordSelector,
		"next selector":   c.Pagination.NextSelector,
	} {
		if sel == "" {
			return invalid("%s is empty", name)
		}
		if _, err := cascadia.Compile(sel); err != nil {
			return models.NewScrapeError(models.ErrCodeInvalidInput, fmt.Sprintf("%s %q does not compile", name, sel), err)
		}
	}

	p := c.Pagination
	if p.NextIndex < 0 {
		return invalid("next index must be >= 0, got %d", p.NextIndex)
	}
	if p.NavigationTimeout <= 0 {
		return invalid("navigation timeout must be positive")
	}
	if p.NavRetries < 0 || p.MaxPages < 0 || p.PagesPerSecond < 0 {
		return invalid("nav retries, max pages and pages per second must not be negative")
	}
	if c.Target.OpenTimeout <= 0 {
		return invalid("open timeout must be positive")
	}

	if len(c.Output.Sinks) == 0 {
		return invalid("no sinks configured")
	}
	seen := make(map[string]bool, len(c.Output.Sinks))
	for _, s := range c.Output.Sinks {
		switch s {
		case SinkXLSX, SinkCSV, SinkParquet, SinkSQLite:
		default:
			return invalid("unknown sink %q", s)
		}
		if seen[s] {
			return invalid("sink %q listed twice", s)
		}
		seen[s] = true
	}
	return nil
}

// OutputPath joins the output directory with a file name.
func (o OutputConfig) OutputPath(name string) string {
	return filepath.Join(o.Dir, name)
}

func invalid(format string, args ...any) error {
	return models.NewScrapeError(models.ErrCodeInvalidInput, fmt.Sprintf(format, args...), nil)
}
