package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/devdash/internal/history"
)

// Sink appends history events to a SQLite table.
type Sink struct {
	db *sql.DB
}

// New opens a SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:"
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + history.DefaultTable + `(
			occurred_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			event TEXT NOT NULL,
			script_id TEXT NOT NULL,
			name TEXT NOT NULL,
			repository_id TEXT,
			command TEXT,
			pid INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			exit_code INTEGER,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_script_history_script ON ` + history.DefaultTable + `(script_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

var insertStmt = `INSERT INTO ` + history.DefaultTable + `(` + strings.Join(history.Columns, ", ") + `)
	VALUES(?` + strings.Repeat(", ?", len(history.Columns)-1) + `);`

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, insertStmt, e.Values()...)
	return err
}

// Count returns the number of stored events of one script.
func (s *Sink) Count(ctx context.Context, scriptID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+history.DefaultTable+` WHERE script_id = ?`, scriptID).Scan(&n)
	return n, err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
