package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

const stderrTailBytes = 64 * 1024

type ExecRunner interface {
	Run(ctx context.Context, spec ExecSpec) ExecResult
}

// SubprocessRunner runs processing routines in their own process group.
// Canceling ctx asks the whole group to terminate and kills whatever is
// still alive after GracePeriod.
type SubprocessRunner struct {
	GracePeriod time.Duration
	// WaitDelay bounds how long Run waits for output pipes once the group
	// is gone.
	WaitDelay time.Duration
}

func NewSubprocessRunner() *SubprocessRunner {
	return &SubprocessRunner{GracePeriod: 10 * time.Second, WaitDelay: 5 * time.Second}
}

// tail keeps the last max bytes written to it.
type tail struct {
	max int
	buf []byte
}

func (t *tail) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tail) String() string {
	return string(t.buf)
}

func (r *SubprocessRunner) Run(ctx context.Context, spec ExecSpec) ExecResult {
	start := time.Now()
	if spec.Bin == "" {
		return ExecResult{ExitCode: 1, Err: errors.New("missing binary")}
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Bin, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	isolateProcessGroup(cmd)

	var (
		mu        sync.Mutex
		killTimer *time.Timer
	)
	cmd.Cancel = func() error {
		signalProcessGroup(cmd, false)
		mu.Lock()
		killTimer = time.AfterFunc(r.GracePeriod, func() { signalProcessGroup(cmd, true) })
		mu.Unlock()
		return nil
	}
	cmd.WaitDelay = r.GracePeriod + r.WaitDelay

	stdoutTail := &tail{max: stderrTailBytes}
	stderrTail := &tail{max: stderrTailBytes}
	cmd.Stdout = teeTo(spec.Stdout, stdoutTail)
	cmd.Stderr = teeTo(spec.Stderr, stderrTail)

	err := cmd.Run()
	mu.Lock()
	if killTimer != nil {
		killTimer.Stop()
	}
	mu.Unlock()

	result := ExecResult{
		Duration:   time.Since(start),
		StdoutTail: stdoutTail.String(),
		StderrTail: stderrTail.String(),
		Err:        err,
	}
	result.ExitCode, result.Interrupted, result.TimedOut = classifyExit(ctx, runCtx, err)
	return result
}

// classifyExit maps a finished command to an exit code. A canceled parent
// context wins over everything else and reports 130.
func classifyExit(parent context.Context, run context.Context, err error) (code int, interrupted bool, timedOut bool) {
	if err == nil {
		return 0, false, false
	}
	if parent.Err() != nil {
		return 130, true, false
	}
	timedOut = errors.Is(run.Err(), context.DeadlineExceeded)

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr) && exitErr.ExitCode() > 0:
		return exitErr.ExitCode(), false, timedOut
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return 127, false, false
	default:
		return 1, false, timedOut
	}
}

func teeTo(dst io.Writer, tail *tail) io.Writer {
	if dst == nil {
		return tail
	}
	return io.MultiWriter(dst, tail)
}
