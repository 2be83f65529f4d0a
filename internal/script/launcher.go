package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// Launcher starts an Invocation and hands back its Handle.
//
// A non-nil error means no handle could be built at all. A failure of the
// OS-level start itself is reported later through the handle, the same way
// a runtime error would be.
type Launcher interface {
	Launch(ctx context.Context, inv Invocation) (*Handle, error)
}

// ExecLauncher launches processes with os/exec in their own process group.
type ExecLauncher struct{}

// The process is not tied to ctx; ctx only aborts a launch that has not
// happened yet.
func (ExecLauncher) Launch(ctx context.Context, inv Invocation) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if inv.Program == "" {
		return nil, errors.New("empty command")
	}
	var cmd *exec.Cmd
	if inv.Shell {
		cmd = shellCommand(inv.Line())
	} else {
		// #nosec G204
		cmd = exec.Command(inv.Program, inv.Args...)
	}
	cmd.Dir = inv.Dir
	if len(inv.Env) > 0 {
		cmd.Env = inv.Env
	}
	configureSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	h := newHandle(cmd, stdout, stderr)
	if err := cmd.Start(); err != nil {
		h.startErr = err
		_ = stdout.Close()
		_ = stderr.Close()
	}
	return h, nil
}

// Handle is the live reference to one launched process. It is owned by the
// Service from launch until the run returns to idle.
type Handle struct {
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    io.ReadCloser
	startErr  error
	startedAt time.Time

	mu        sync.Mutex
	killTimer *time.Timer

	exited chan struct{} // closed once the process has been reaped
	done   chan struct{} // closed once the owning record is back to idle
}

func newHandle(cmd *exec.Cmd, stdout, stderr io.ReadCloser) *Handle {
	return &Handle{
		cmd:       cmd,
		stdout:    stdout,
		stderr:    stderr,
		startedAt: time.Now(),
		exited:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Started reports whether the OS accepted the process.
func (h *Handle) Started() bool { return h.startErr == nil }

func (h *Handle) StartErr() error { return h.startErr }

// PID returns the process id, or 0 when the start failed.
func (h *Handle) PID() int {
	if h.startErr != nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Done is closed after the run has been fully accounted for.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Exited() bool {
	select {
	case <-h.exited:
		return true
	default:
		return false
	}
}

// Terminate sends the graceful signal to the process group.
func (h *Handle) Terminate() error {
	if !h.Started() || h.Exited() {
		return nil
	}
	return terminate(h.cmd)
}

// Kill sends the forced signal to the process group.
func (h *Handle) Kill() error {
	if !h.Started() || h.Exited() {
		return nil
	}
	return kill(h.cmd)
}

// escalateAfter arms a single forced kill after d unless the process exits
// first. Later calls are ignored.
func (h *Handle) escalateAfter(d time.Duration, onKill func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.killTimer != nil {
		return
	}
	h.killTimer = time.AfterFunc(d, func() {
		if h.Exited() {
			return
		}
		if err := h.Kill(); err == nil && onKill != nil {
			onKill()
		}
	})
}

func (h *Handle) cancelEscalation() {
	h.mu.Lock()
	if h.killTimer != nil {
		h.killTimer.Stop()
	}
	h.mu.Unlock()
}

// Result describes how a run ended. Err is set for start failures and for
// processes that died without an exit status (for example by a signal).
type Result struct {
	ExitCode int
	Err      error
}

// wait drains both streams through onChunk, then reaps the process. Both
// pumps finish before Wait is called, so every chunk is delivered before
// the result is returned.
func (h *Handle) wait(onChunk func(stderr bool, chunk string)) Result {
	if h.startErr != nil {
		close(h.exited)
		return Result{ExitCode: -1, Err: h.startErr}
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pump(h.stdout, func(s string) { onChunk(false, s) })
	}()
	go func() {
		defer wg.Done()
		pump(h.stderr, func(s string) { onChunk(true, s) })
	}()
	wg.Wait()
	err := h.cmd.Wait()
	close(h.exited)
	return exitResult(err)
}

func exitResult(err error) Result {
	if err == nil {
		return Result{}
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) && ee.ExitCode() >= 0 {
		return Result{ExitCode: ee.ExitCode()}
	}
	return Result{ExitCode: -1, Err: err}
}
