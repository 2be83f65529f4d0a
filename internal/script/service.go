package script

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/devdash/internal/event"
	"github.com/loykin/devdash/internal/logger"
	"github.com/loykin/devdash/internal/metrics"
	"github.com/loykin/devdash/internal/validation"
)

const DefaultStopTimeout = 5 * time.Second

// Service owns script records and supervises their runs.
//
// Lock order: Service.mu, then Bus internals. Events are published while
// mu is held so subscribers observe them in the same order as Output.
type Service struct {
	mu      sync.Mutex
	records map[string]*Record
	order   []string
	runs    *tracker
	wg      sync.WaitGroup

	bus         *event.Bus
	launcher    Launcher
	stopTimeout time.Duration
	workDir     func(repositoryID string) string
	baseEnv     func() []string
	outputLog   logger.OutputConfig
	log         *slog.Logger
}

type Option func(*Service)

func WithLauncher(l Launcher) Option { return func(s *Service) { s.launcher = l } }

// WithStopTimeout sets the delay between the graceful and the forced stop
// signal. Non-positive values keep the default.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithWorkDirResolver maps a repository id to the directory runs start in.
// An empty result means the service's own working directory.
func WithWorkDirResolver(f func(repositoryID string) string) Option {
	return func(s *Service) { s.workDir = f }
}

// WithBaseEnv supplies the environment every run starts from, before the
// per-run overlay.
func WithBaseEnv(f func() []string) Option { return func(s *Service) { s.baseEnv = f } }

func WithOutputLog(c logger.OutputConfig) Option { return func(s *Service) { s.outputLog = c } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

func WithBus(b *event.Bus) Option { return func(s *Service) { s.bus = b } }

func NewService(opts ...Option) *Service {
	s := &Service{
		records:     make(map[string]*Record),
		runs:        newTracker(),
		launcher:    ExecLauncher{},
		stopTimeout: DefaultStopTimeout,
		workDir:     func(string) string { return "" },
		baseEnv:     os.Environ,
	}
	for _, o := range opts {
		o(s)
	}
	if s.bus == nil {
		s.bus = event.NewBus()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "script")
	return s
}

// Bus returns the bus run events are published on.
func (s *Service) Bus() *event.Bus { return s.bus }

func (s *Service) Create(in CreateInput) (Record, error) {
	v := validation.New(ErrValidation)
	v.Require("name", in.Name)
	v.Require("command", in.Command)
	v.Require("repositoryId", in.RepositoryID)
	if err := v.Err(); err != nil {
		return Record{}, err
	}
	rec := &Record{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(in.Name),
		Command:      strings.TrimSpace(in.Command),
		RepositoryID: in.RepositoryID,
		Output:       []string{},
		State:        StateIdle,
	}
	s.mu.Lock()
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	snap := rec.clone()
	s.mu.Unlock()

	s.log.Debug("script created", "id", rec.ID, "name", rec.Name, "repository", rec.RepositoryID)
	return snap, nil
}

// List returns every record in creation order, optionally restricted to one
// repository.
func (s *Service) List(repositoryID string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		rec := s.records[id]
		if repositoryID != "" && rec.RepositoryID != repositoryID {
			continue
		}
		out = append(out, rec.clone())
	}
	return out
}

func (s *Service) Get(id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.clone(), nil
}

// Update merges in into the record. A running record keeps its current run;
// the change takes effect on the next execute.
func (s *Service) Update(id string, in UpdateInput) (Record, error) {
	v := validation.New(ErrValidation)
	if in.Name != nil {
		v.Require("name", *in.Name)
	}
	if in.Command != nil {
		v.Require("command", *in.Command)
	}
	if in.RepositoryID != nil {
		v.Require("repositoryId", *in.RepositoryID)
	}
	if err := v.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if in.Name != nil {
		rec.Name = strings.TrimSpace(*in.Name)
	}
	if in.Command != nil {
		rec.Command = strings.TrimSpace(*in.Command)
	}
	if in.RepositoryID != nil {
		rec.RepositoryID = *in.RepositoryID
	}
	return rec.clone(), nil
}

// Execute starts a run of id and returns the record as of launch.
//
// The returned snapshot reports IsRunning even when the OS later refuses the
// process; that failure arrives as a "Process error" line and a scriptError
// event.
func (s *Service) Execute(ctx context.Context, id string, in ExecuteInput) (Record, error) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return Record{}, ErrNotFound
	}
	if rec.IsRunning || s.runs.isRunning(id) {
		s.mu.Unlock()
		return Record{}, ErrAlreadyRunning
	}

	now := time.Now()
	rec.LastRun = &now
	rec.Output = []string{}
	rec.IsRunning = true
	rec.PID = nil
	s.setStateLocked(rec, StateStarting)

	inv := BuildInvocation(rec.Command, in.Arguments, in.Environment, s.workDir(rec.RepositoryID), s.baseEnv())
	h, err := s.launcher.Launch(ctx, inv)
	if err != nil {
		rec.IsRunning = false
		s.setStateLocked(rec, StateIdle)
		s.mu.Unlock()
		s.log.Error("launch script", "id", id, "name", rec.Name, "error", err)
		return Record{}, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	_ = s.runs.begin(id, h)

	if h.Started() {
		pid := h.PID()
		rec.PID = &pid
		s.setStateLocked(rec, StateRunning)
		metrics.IncStart(id)
		s.bus.Publish(event.Event{
			Type:         event.ScriptStarted,
			ScriptID:     id,
			ScriptName:   rec.Name,
			PID:          pid,
			Command:      inv.Line(),
			RepositoryID: rec.RepositoryID,
		})
	}
	snap := rec.clone()
	out := s.openOutputLog(rec)
	s.wg.Add(1)
	s.mu.Unlock()

	if h.Started() {
		s.log.Info("script started", "id", id, "name", snap.Name, "pid", h.PID(), "command", inv.Line(), "dir", inv.Dir)
	}
	go s.watch(id, snap.Name, h, out)
	return snap, nil
}

// Stop asks a running script to terminate and schedules a forced kill after
// the stop timeout. It reports false when there is nothing to stop.
func (s *Service) Stop(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return false
	}
	h, running := s.runs.get(id)
	if !running || !h.Started() {
		return false
	}
	if rec.State == StateStopping {
		return true
	}

	s.setStateLocked(rec, StateStopping)
	if err := h.Terminate(); err != nil {
		s.log.Warn("terminate script", "id", id, "pid", h.PID(), "error", err)
	}
	metrics.IncStop(id)
	name := rec.Name
	h.escalateAfter(s.stopTimeout, func() {
		metrics.IncKill(id)
		s.log.Warn("script ignored stop, killed", "id", id, "name", name, "timeout", s.stopTimeout)
	})
	s.bus.Publish(event.Event{Type: event.ScriptStopping, ScriptID: id, ScriptName: name, PID: h.PID()})
	s.log.Info("script stopping", "id", id, "name", name, "pid", h.PID())
	return true
}

// Output returns a copy of the current or last run's output.
func (s *Service) Output(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return []string{}
	}
	return append(make([]string, 0, len(rec.Output)), rec.Output...)
}

func (s *Service) Running() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, s.runs.len())
	for _, id := range s.order {
		if rec := s.records[id]; rec.IsRunning {
			out = append(out, rec.clone())
		}
	}
	return out
}

// PIDs maps every script with a live process to its pid.
func (s *Service) PIDs() map[string]int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int32, s.runs.len())
	for id, h := range s.runs.runs {
		if h.Started() && !h.Exited() {
			out[id] = int32(h.PID())
		}
	}
	return out
}

// Delete stops a running record, waits for the run to end or ctx to expire
// (then kills it), and removes the record.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	name := rec.Name
	h, running := s.runs.get(id)
	s.mu.Unlock()

	if running {
		s.Stop(id)
		select {
		case <-h.Done():
		case <-ctx.Done():
			s.log.Warn("delete: run did not finish, killing", "id", id, "name", name, "error", ctx.Err())
			_ = h.Kill()
		}
	}

	s.mu.Lock()
	if running {
		s.runs.complete(id, h)
	}
	delete(s.records, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	metrics.Forget(id)
	s.log.Debug("script deleted", "id", id, "name", name)
	return nil
}

// Cleanup sends the graceful signal to every live run and clears the
// tracker. It does not wait for the processes to exit.
func (s *Service) Cleanup() {
	s.mu.Lock()
	runs := s.runs.drain()
	s.mu.Unlock()

	for id, h := range runs {
		if err := h.Terminate(); err != nil {
			s.log.Warn("cleanup: terminate script", "id", id, "pid", h.PID(), "error", err)
		}
	}
	if len(runs) > 0 {
		s.log.Info("cleanup signalled running scripts", "count", len(runs))
	}
}

// Wait blocks until every run's watcher has returned or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) watch(id, name string, h *Handle, out io.WriteCloser) {
	defer s.wg.Done()
	defer close(h.done)
	if out != nil {
		defer func() { _ = out.Close() }()
	}
	res := h.wait(func(isStderr bool, chunk string) {
		s.appendOutput(id, name, isStderr, chunk, out)
	})
	s.finish(id, name, h, res)
}

func (s *Service) appendOutput(id, name string, isStderr bool, chunk string, out io.Writer) {
	stream := event.Stdout
	if isStderr {
		stream = event.Stderr
	}
	line := formatChunk(isStderr, chunk)

	s.mu.Lock()
	if rec, ok := s.records[id]; ok {
		rec.Output = append(rec.Output, line)
	}
	s.bus.Publish(event.Event{Type: event.ScriptOutput, ScriptID: id, ScriptName: name, Stream: stream, Chunk: chunk})
	s.mu.Unlock()

	metrics.IncOutputChunk(id, string(stream))
	if out != nil {
		if _, err := io.WriteString(out, line); err != nil {
			s.log.Debug("write output log", "id", id, "error", err)
		}
	}
}

func (s *Service) finish(id, name string, h *Handle, res Result) {
	h.cancelEscalation()

	e := event.Event{ScriptID: id, ScriptName: name}
	var line, result string
	if res.Err != nil {
		line = "Process error: " + res.Err.Error()
		result = "error"
		e.Type = event.ScriptError
		e.Error = res.Err.Error()
	} else {
		line = fmt.Sprintf("Process exited with code %d", res.ExitCode)
		result = "completed"
		code := res.ExitCode
		e.Type = event.ScriptCompleted
		e.ExitCode = &code
	}

	s.mu.Lock()
	s.runs.complete(id, h)
	rec, ok := s.records[id]
	if ok {
		rec.Output = append(rec.Output, line)
		rec.IsRunning = false
		rec.PID = nil
		s.setStateLocked(rec, StateIdle)
		e.Output = append([]string(nil), rec.Output...)
	}
	s.bus.Publish(e)
	s.mu.Unlock()

	if !ok {
		return
	}
	if h.Started() {
		metrics.ObserveExit(id, result, time.Since(h.startedAt).Seconds())
	}
	if res.Err != nil {
		s.log.Warn("script failed", "id", id, "name", name, "error", res.Err)
	} else {
		s.log.Info("script exited", "id", id, "name", name, "code", res.ExitCode)
	}
}

func (s *Service) setStateLocked(rec *Record, next State) {
	prev := rec.State
	if prev == next {
		return
	}
	rec.State = next
	metrics.RecordStateTransition(rec.ID, prev.String(), next.String())
	metrics.SetCurrentState(rec.ID, prev.String(), false)
	metrics.SetCurrentState(rec.ID, next.String(), true)
}

func (s *Service) openOutputLog(rec *Record) io.WriteCloser {
	if !s.outputLog.Enabled() {
		return nil
	}
	return s.outputLog.Writer(rec.Name + "-" + rec.ID)
}
