package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLite stores documents in a single sqlite table
type SQLite struct {
	db     *sql.DB
	logger zerolog.Logger
}

// SQLiteConfig holds sqlite store configuration
type SQLiteConfig struct {
	Path   string
	Logger zerolog.Logger
}

// NewSQLite opens (creating if needed) the database at cfg.Path
func NewSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for concurrent readers
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLite{db: db, logger: cfg.Logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Debug().Str("path", cfg.Path).Msg("Document store opened")
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			kind TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (kind, id)
		);
		CREATE INDEX IF NOT EXISTS idx_documents_kind_created ON documents(kind, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get implements Store
func (s *SQLite) Get(ctx context.Context, kind, id string, dest interface{}) error {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE kind = ? AND id = ?`, kind, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s %s: %w", kind, id, err)
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", kind, id, err)
	}
	return nil
}

// Save implements Store
func (s *SQLite) Save(ctx context.Context, kind, id string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", kind, id, err)
	}

	now := time.Now().UnixNano()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (kind, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, kind, id, string(data), now, now)
	if err != nil {
		return fmt.Errorf("failed to save %s %s: %w", kind, id, err)
	}
	return nil
}

// Query implements Store
func (s *SQLite) Query(ctx context.Context, kind string, filters ...Filter) ([]json.RawMessage, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT data FROM documents WHERE kind = ?`)
	args := []interface{}{kind}

	for _, f := range filters {
		if f.Value == nil {
			sb.WriteString(` AND json_extract(data, ?) IS NULL`)
			args = append(args, "$."+f.Field)
			continue
		}
		sb.WriteString(` AND json_extract(data, ?) = ?`)
		args = append(args, "$."+f.Field, sqlValue(f.Value))
	}
	sb.WriteString(` ORDER BY created_at, id`)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", kind, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(data))
	}
	return out, rows.Err()
}

// Delete implements Store
func (s *SQLite) Delete(ctx context.Context, kind, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE kind = ? AND id = ?`, kind, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

// sqlValue converts a filter value to what json_extract yields
func sqlValue(v interface{}) interface{} {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	}
	return v
}
