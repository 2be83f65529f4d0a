// Package script runs repository scripts as supervised child processes.
//
// A Service owns every script record and the tracker of live runs. Each run
// moves through idle, starting, running and stopping; output from both
// streams is appended to the record as it arrives and fanned out on an
// event bus.
package script

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound       = errors.New("script not found")
	ErrAlreadyRunning = errors.New("script is already running")
	ErrLaunch         = errors.New("launch failed")
	ErrValidation     = errors.New("validation failed")
)

// ErrorPrefix marks stderr chunks in Record.Output.
const ErrorPrefix = "ERROR: "

type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = StateIdle
	case "starting":
		*s = StateStarting
	case "running":
		*s = StateRunning
	case "stopping":
		*s = StateStopping
	default:
		return fmt.Errorf("unknown script state %q", b)
	}
	return nil
}

// Record is a stored script definition plus the status of its current or
// most recent run.
type Record struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Command      string     `json:"command"`
	RepositoryID string     `json:"repositoryId"`
	IsRunning    bool       `json:"isRunning"`
	LastRun      *time.Time `json:"lastRun,omitempty"`
	Output       []string   `json:"output"`
	PID          *int       `json:"pid,omitempty"`
	State        State      `json:"state"`
}

func (r *Record) clone() Record {
	c := *r
	c.Output = append(make([]string, 0, len(r.Output)), r.Output...)
	if r.LastRun != nil {
		t := *r.LastRun
		c.LastRun = &t
	}
	if r.PID != nil {
		p := *r.PID
		c.PID = &p
	}
	return c
}

type CreateInput struct {
	Name         string `json:"name"`
	Command      string `json:"command"`
	RepositoryID string `json:"repositoryId"`
}

// UpdateInput carries a partial update; nil fields are left unchanged.
type UpdateInput struct {
	Name         *string `json:"name,omitempty"`
	Command      *string `json:"command,omitempty"`
	RepositoryID *string `json:"repositoryId,omitempty"`
}

// ExecuteInput holds per-run parameters. Environment applies to the spawned
// child only and is never stored.
type ExecuteInput struct {
	Arguments   string            `json:"arguments,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
}
