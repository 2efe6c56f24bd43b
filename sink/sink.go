// Package sink persists a finished result set. Every sink writes one file
// and is independent of the others.
package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/use-agent/portharvest/config"
	"github.com/use-agent/portharvest/models"
)

// Header is the title of the single column every tabular output carries.
const Header = "Port/TCP Information"

// Sink writes a complete result set in one call.
type Sink interface {
	Name() string
	Path() string
	Write(ctx context.Context, records []models.Record) error
}

// FromConfig builds the enabled sinks in configured order.
func FromConfig(cfg config.OutputConfig) ([]Sink, error) {
	sinks := make([]Sink, 0, len(cfg.Sinks))
	for _, name := range cfg.Sinks {
		switch name {
		case config.SinkXLSX:
			sinks = append(sinks, NewXLSX(cfg.OutputPath(cfg.XLSXName)))
		case config.SinkCSV:
			sinks = append(sinks, NewCSV(cfg.OutputPath(cfg.CSVName)))
		case config.SinkParquet:
			sinks = append(sinks, NewParquet(cfg.OutputPath(cfg.ParquetName)))
		case config.SinkSQLite:
			sinks = append(sinks, NewSQLite(cfg.OutputPath(cfg.SQLiteName)))
		default:
			return nil, models.NewScrapeError(models.ErrCodeInvalidInput, "unknown sink "+name, nil)
		}
	}
	return sinks, nil
}

// writeAtomic streams into a temp file next to path and renames it into
// place, so a failed write never leaves a truncated file behind.
func writeAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func writeError(s Sink, err error) error {
	return models.NewScrapeError(models.ErrCodeSinkWrite, fmt.Sprintf("%s sink (%s)", s.Name(), s.Path()), err)
}
