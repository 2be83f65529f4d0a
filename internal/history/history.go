// Package history exports script run lifecycle events to external stores.
// Sinks are append-only; nothing is read back.
package history

import (
	"context"
	"time"
)

type EventType string

const (
	EventStart EventType = "start"
	EventStop  EventType = "stop"
	EventExit  EventType = "exit"
	EventError EventType = "error"
)

const (
	DefaultTable = "script_history"
	DefaultIndex = "script-history"
)

// Record summarises one run as of the event.
type Record struct {
	ScriptID     string     `json:"script_id"`
	Name         string     `json:"name"`
	RepositoryID string     `json:"repository_id,omitempty"`
	Command      string     `json:"command,omitempty"`
	PID          int        `json:"pid"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	Error        string     `json:"error,omitempty"`
}

type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events. Implementations must be safe
// for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Columns lists the SQL column names written by the relational sinks, in
// the order of Values.
var Columns = []string{
	"occurred_at", "event", "script_id", "name", "repository_id", "command",
	"pid", "started_at", "finished_at", "exit_code", "error",
}

// Values flattens e into driver-friendly values matching Columns. Absent
// optional fields become nil.
func (e Event) Values() []any {
	rec := e.Record
	var finished, code any
	if rec.FinishedAt != nil {
		finished = rec.FinishedAt.UTC()
	}
	if rec.ExitCode != nil {
		code = int64(*rec.ExitCode)
	}
	return []any{
		e.OccurredAt.UTC(), string(e.Type), rec.ScriptID, rec.Name, optString(rec.RepositoryID), optString(rec.Command),
		int64(rec.PID), rec.StartedAt.UTC(), finished, code, optString(rec.Error),
	}
}

func optString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
