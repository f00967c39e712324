// Package runner is the single place where external processes are started and stopped.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/cwygoda/livearchive/internal/domain"
)

const (
	DefaultGracePeriod = 10 * time.Second
	DefaultOutputLimit = 64 * 1024
)

var (
	ErrNoTimeout = errors.New("command timeout is required")
	ErrTimedOut  = errors.New("command timed out")
)

// Command describes one subprocess invocation. Args are passed to the program as a
// discrete list and are never interpreted by a shell.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// Result is what a finished process left behind. Stdout and Stderr hold at most the
// last OutputLimit bytes written to each stream.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// TimedOutError is returned when a command outlived its timeout and was terminated.
// It matches ErrTimedOut; callers map it onto their own domain error.
type TimedOutError struct {
	Command string
	Elapsed time.Duration
}

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Command, e.Elapsed.Truncate(time.Millisecond))
}

func (e *TimedOutError) Is(target error) bool {
	return target == ErrTimedOut
}

// Runner runs commands with a deadline. It is safe for concurrent use.
type Runner struct {
	// GracePeriod is how long a terminated process may take to exit before it is killed.
	GracePeriod time.Duration
	OutputLimit int
	log         *zap.Logger
}

// New creates a Runner with default grace period and output limit.
func New(log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		GracePeriod: DefaultGracePeriod,
		OutputLimit: DefaultOutputLimit,
		log:         log.Named("runner"),
	}
}

// LookPath reports whether name resolves to an executable.
func LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrToolUnavailable, name, err)
	}
	return path, nil
}

// Run starts the command and waits for it to exit, time out or be interrupted.
// A non-zero exit status is reported in Result.ExitCode and is not an error.
// The process is never left running when Run returns.
func (r *Runner) Run(ctx context.Context, c Command) (Result, error) {
	res := Result{ExitCode: -1}
	if c.Timeout <= 0 {
		return res, ErrNoTimeout
	}

	path, err := LookPath(c.Name)
	if err != nil {
		return res, err
	}

	runCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	stdout := newTailBuffer(r.OutputLimit)
	stderr := newTailBuffer(r.OutputLimit)

	cmd := exec.CommandContext(runCtx, path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = r.GracePeriod
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return terminate(cmd) }

	log := r.log.With(zap.String("command", c.Name))
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return res, fmt.Errorf("%w: start %s: %v", domain.ErrToolUnavailable, c.Name, err)
	}
	log.Debug("process started", zap.Int("pid", cmd.Process.Pid), zap.Duration("timeout", c.Timeout))

	waitErr := cmd.Wait()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if runCtx.Err() != nil {
		killGroup(cmd)
		if ctx.Err() != nil {
			log.Warn("process interrupted", zap.Duration("elapsed", res.Duration))
			return res, fmt.Errorf("%s interrupted: %w", c.Name, ctx.Err())
		}
		log.Warn("process timed out", zap.Duration("elapsed", res.Duration))
		return res, &TimedOutError{Command: c.Name, Elapsed: res.Duration}
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("wait %s: %w", c.Name, waitErr)
		}
	}

	log.Debug("process exited", zap.Int("exit_code", res.ExitCode), zap.Duration("elapsed", res.Duration))
	return res, nil
}
