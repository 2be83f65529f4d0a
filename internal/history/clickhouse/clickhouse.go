package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/devdash/internal/history"
)

// Sink sends events to ClickHouse using the native protocol client.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to addr (host:port of the native interface) and creates
// table when it does not exist.
func New(addr, table string) (*Sink, error) {
	if table == "" {
		table = history.DefaultTable
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	s := &Sink{conn: conn, table: table}
	if err := s.ensureTable(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureTable(ctx context.Context) error {
	err := s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			type String,
			occurred_at DateTime64(6),
			script_id String,
			name String,
			repository_id String,
			command String,
			pid Int64,
			started_at DateTime64(6),
			finished_at Nullable(DateTime64(6)),
			exit_code Nullable(Int64),
			error String
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, script_id)
	`)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table %s: %w", s.table, err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, script_id, name, repository_id, command, pid, started_at, finished_at, exit_code, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	rec := e.Record
	var exitCode *int64
	if rec.ExitCode != nil {
		c := int64(*rec.ExitCode)
		exitCode = &c
	}
	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt.UTC(),
		rec.ScriptID,
		rec.Name,
		rec.RepositoryID,
		rec.Command,
		int64(rec.PID),
		rec.StartedAt.UTC(),
		rec.FinishedAt,
		exitCode,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

// Count returns the number of stored events of one script.
func (s *Sink) Count(ctx context.Context, scriptID string) (uint64, error) {
	var n uint64
	err := s.conn.QueryRow(ctx, fmt.Sprintf(`SELECT count() FROM %s WHERE script_id = ?`, s.table), scriptID).Scan(&n)
	return n, err
}
