package sink

import (
	"context"
	"io"

	"github.com/use-agent/portharvest/models"
	"github.com/xuri/excelize/v2"
)

// SheetName is the only worksheet in the workbook.
const SheetName = "Scraped Ports"

// XLSX writes a single-sheet workbook: the header in A1, then one record
// per row in column A.
type XLSX struct {
	path string
}

// NewXLSX creates an XLSX sink writing to path.
func NewXLSX(path string) *XLSX {
	return &XLSX{path: path}
}

func (x *XLSX) Name() string { return "xlsx" }
func (x *XLSX) Path() string { return x.path }

func (x *XLSX) Write(ctx context.Context, records []models.Record) error {
	if err := ctx.Err(); err != nil {
		return writeError(x, err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return writeError(x, err)
	}

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return writeError(x, err)
	}
	if err := sw.SetRow("A1", []interface{}{Header}); err != nil {
		return writeError(x, err)
	}
	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return writeError(x, err)
		}
		if err := sw.SetRow(cell, []interface{}{string(r)}); err != nil {
			return writeError(x, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return writeError(x, err)
	}

	err = writeAtomic(x.path, func(w io.Writer) error {
		_, err := f.WriteTo(w)
		return err
	})
	if err != nil {
		return writeError(x, err)
	}
	return nil
}
