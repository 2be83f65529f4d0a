package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/loykin/devdash/internal/event"
)

const DefaultSendTimeout = 5 * time.Second

// Recorder turns script lifecycle events from the bus into history events
// and hands each one to every sink.
type Recorder struct {
	bus     *event.Bus
	sinks   []Sink
	timeout time.Duration
	buffer  int
	log     *slog.Logger

	runs map[string]Record // live runs by script id, touched only by Run
}

func NewRecorder(bus *event.Bus, sinks []Sink, timeout time.Duration, log *slog.Logger) *Recorder {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		bus:     bus,
		sinks:   sinks,
		timeout: timeout,
		buffer:  event.DefaultBuffer,
		log:     log.With("component", "history"),
		runs:    make(map[string]Record),
	}
}

// Run records events until ctx is done. A slow sink only makes the recorder
// fall behind; events it cannot buffer are dropped and counted.
func (r *Recorder) Run(ctx context.Context) error {
	sub := r.bus.Subscribe(
		event.WithTypes(event.ScriptStarted, event.ScriptStopping, event.ScriptCompleted, event.ScriptError),
		event.WithBuffer(r.buffer),
	)
	defer func() {
		if n := sub.Dropped(); n > 0 {
			r.log.Warn("history events dropped", "count", n)
		}
		sub.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.C():
			if !ok {
				return nil
			}
			if he, ok := r.convert(e); ok {
				r.send(ctx, he)
			}
		}
	}
}

func (r *Recorder) convert(e event.Event) (Event, bool) {
	at := e.OccurredAt.UTC()
	switch e.Type {
	case event.ScriptStarted:
		rec := Record{
			ScriptID:     e.ScriptID,
			Name:         e.ScriptName,
			RepositoryID: e.RepositoryID,
			Command:      e.Command,
			PID:          e.PID,
			StartedAt:    at,
		}
		r.runs[e.ScriptID] = rec
		return Event{Type: EventStart, OccurredAt: at, Record: rec}, true

	case event.ScriptStopping:
		rec := r.lookup(e)
		return Event{Type: EventStop, OccurredAt: at, Record: rec}, true

	case event.ScriptCompleted, event.ScriptError:
		rec := r.lookup(e)
		delete(r.runs, e.ScriptID)
		rec.FinishedAt = &at
		typ := EventExit
		if e.Type == event.ScriptError {
			typ = EventError
			rec.Error = e.Error
		} else if e.ExitCode != nil {
			code := *e.ExitCode
			rec.ExitCode = &code
		}
		return Event{Type: typ, OccurredAt: at, Record: rec}, true
	}
	return Event{}, false
}

// lookup returns the run started earlier, or a bare record for runs whose
// start was not seen (for example a process that never launched).
func (r *Recorder) lookup(e event.Event) Record {
	if rec, ok := r.runs[e.ScriptID]; ok {
		return rec
	}
	return Record{ScriptID: e.ScriptID, Name: e.ScriptName, PID: e.PID, StartedAt: e.OccurredAt.UTC()}
}

func (r *Recorder) send(ctx context.Context, e Event) {
	for _, s := range r.sinks {
		sctx, cancel := context.WithTimeout(ctx, r.timeout)
		if err := s.Send(sctx, e); err != nil {
			r.log.Warn("history sink send failed", "type", e.Type, "script", e.Record.ScriptID, "error", err)
		}
		cancel()
	}
}

// Close closes every sink that holds resources.
func (r *Recorder) Close() error {
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
