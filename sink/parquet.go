package sink

import (
	"context"
	"io"

	"github.com/parquet-go/parquet-go"
	"github.com/use-agent/portharvest/models"
)

// parquetRow is the on-disk schema: scrape order and value.
type parquetRow struct {
	Seq   int64  `parquet:"seq"`
	Value string `parquet:"value"`
}

// Parquet writes records as a zstd-compressed parquet file.
type Parquet struct {
	path string
}

// NewParquet creates a Parquet sink writing to path.
func NewParquet(path string) *Parquet {
	return &Parquet{path: path}
}

func (p *Parquet) Name() string { return "parquet" }
func (p *Parquet) Path() string { return p.path }

func (p *Parquet) Write(ctx context.Context, records []models.Record) error {
	if err := ctx.Err(); err != nil {
		return writeError(p, err)
	}

	rows := make([]parquetRow, len(records))
	for i, r := range records {
		rows[i] = parquetRow{Seq: int64(i + 1), Value: string(r)}
	}

	err := writeAtomic(p.path, func(w io.Writer) error {
		pw := parquet.NewGenericWriter[parquetRow](w, parquet.Compression(&parquet.Zstd))
		if _, err := pw.Write(rows); err != nil {
			return err
		}
		return pw.Close()
	})
	if err != nil {
		return writeError(p, err)
	}
	return nil
}
