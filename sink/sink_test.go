package sink

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/portharvest/config"
	"github.com/use-agent/portharvest/models"
	"github.com/xuri/excelize/v2"
)

func TestEncodeCSV_Layout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeCSV(&buf, []models.Record{"80/tcp", "443/tcp"}))
	assert.Equal(t, "Port/TCP Information\n\"80/tcp\"\n\"443/tcp\"", buf.String())
}

func TestEncodeCSV_EmptySetIsHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeCSV(&buf, nil))
	assert.Equal(t, "Port/TCP Information", buf.String())
}

func TestCSV_RoundTrip(t *testing.T) {
	records := []models.Record{"80/tcp", "443/tcp", `Port "X"`, "a,b", "ünïcode/udp"}
	path := filepath.Join(t.TempDir(), "out", "scraped_ports.csv")

	require.NoError(t, NewCSV(path).Write(context.Background(), records))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"Port ""X"""`)
	assert.False(t, strings.HasSuffix(string(raw), "\n"))

	rows, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, len(records)+1)
	assert.Equal(t, []string{Header}, rows[0])
	for i, r := range records {
		assert.Equal(t, []string{string(r)}, rows[i+1])
	}
}

func TestXLSX_WritesHeaderAndRows(t *testing.T) {
	records := []models.Record{"80/tcp", "443/tcp", "=1+1"}
	path := filepath.Join(t.TempDir(), "scraped_ports.xlsx")

	require.NoError(t, NewXLSX(path).Write(context.Background(), records))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{Header}, {"80/tcp"}, {"443/tcp"}, {"=1+1"}}, rows)
}

func TestParquet_RoundTrip(t *testing.T) {
	records := []models.Record{"21/tcp", "22/tcp"}
	path := filepath.Join(t.TempDir(), "scraped_ports.parquet")

	require.NoError(t, NewParquet(path).Write(context.Background(), records))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	st, err := f.Stat()
	require.NoError(t, err)

	rows, err := parquet.Read[parquetRow](f, st.Size())
	require.NoError(t, err)
	assert.Equal(t, []parquetRow{{Seq: 1, Value: "21/tcp"}, {Seq: 2, Value: "22/tcp"}}, rows)
}

func TestSQLite_ReplacesPreviousRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraped_ports.db")
	s := NewSQLite(path)

	require.NoError(t, s.Write(context.Background(), []models.Record{"old/tcp", "older/tcp"}))
	require.NoError(t, s.Write(context.Background(), []models.Record{"80/tcp", `Port "X"`}))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query(`SELECT value FROM records ORDER BY seq`)
	require.NoError(t, err)
	defer rows.Close()

	var got []string
	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		got = append(got, v)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"80/tcp", `Port "X"`}, got)
}

func TestWrite_FailureIsSinkWriteErrorAndKeepsOldFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	err := NewCSV(filepath.Join(blocker, "scraped_ports.csv")).Write(context.Background(), []models.Record{"1/tcp"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrSinkWrite))

	// a successful write replaces the file wholesale
	path := filepath.Join(dir, "scraped_ports.csv")
	require.NoError(t, NewCSV(path).Write(context.Background(), []models.Record{"1/tcp", "2/tcp"}))
	require.NoError(t, NewCSV(path).Write(context.Background(), []models.Record{"3/tcp"}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Port/TCP Information\n\"3/tcp\"", string(raw))

	leftovers, err := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFromConfig(t *testing.T) {
	cfg := config.OutputConfig{
		Dir:         "/data",
		Sinks:       []string{config.SinkCSV, config.SinkXLSX, config.SinkSQLite, config.SinkParquet},
		XLSXName:    "a.xlsx",
		CSVName:     "a.csv",
		ParquetName: "a.parquet",
		SQLiteName:  "a.db",
	}
	sinks, err := FromConfig(cfg)
	require.NoError(t, err)

	var names, paths []string
	for _, s := range sinks {
		names = append(names, s.Name())
		paths = append(paths, s.Path())
	}
	assert.Equal(t, []string{"csv", "xlsx", "sqlite", "parquet"}, names)
	assert.Equal(t, filepath.Join("/data", "a.csv"), paths[0])

	_, err = FromConfig(config.OutputConfig{Sinks: []string{"xml"}})
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}
