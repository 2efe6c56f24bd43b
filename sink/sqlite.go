package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/use-agent/portharvest/models"
	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`DROP TABLE IF EXISTS records`,
	`CREATE TABLE records (
		seq INTEGER PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// SQLite stores records in a "records" table, replaced on every run.
type SQLite struct {
	path string
}

// NewSQLite creates a SQLite sink writing to the database file at path.
func NewSQLite(path string) *SQLite {
	return &SQLite{path: path}
}

func (s *SQLite) Name() string { return "sqlite" }
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Write(ctx context.Context, records []models.Record) error {
	if err := s.write(ctx, records); err != nil {
		return writeError(s, err)
	}
	return nil
}

func (s *SQLite) write(ctx context.Context, records []models.Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() // no-op after Commit

	for _, q := range sqliteSchema {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records (seq, value) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		if _, err := stmt.ExecContext(ctx, i+1, string(r)); err != nil {
			return fmt.Errorf("insert row %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
