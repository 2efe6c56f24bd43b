package sink

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/use-agent/portharvest/models"
)

// CSV writes the header line followed by one always-quoted record per line.
// Lines are joined by "\n" with no trailing newline.
type CSV struct {
	path string
}

// NewCSV creates a CSV sink writing to path.
func NewCSV(path string) *CSV {
	return &CSV{path: path}
}

func (c *CSV) Name() string { return "csv" }
func (c *CSV) Path() string { return c.path }

func (c *CSV) Write(ctx context.Context, records []models.Record) error {
	if err := ctx.Err(); err != nil {
		return writeError(c, err)
	}
	err := writeAtomic(c.path, func(w io.Writer) error {
		return EncodeCSV(w, records)
	})
	if err != nil {
		return writeError(c, err)
	}
	return nil
}

// EncodeCSV writes records in the CSV layout to w.
func EncodeCSV(w io.Writer, records []models.Record) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(Header)
	for _, r := range records {
		bw.WriteByte('\n')
		bw.WriteString(quoteField(string(r)))
	}
	return bw.Flush()
}

// quoteField wraps s in double quotes and doubles embedded quotes.
func quoteField(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
