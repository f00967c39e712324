// Package remote implements domain.RemoteStore for rclone remotes, Google Drive
// and plain directories.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cwygoda/livearchive/internal/logging"
	"github.com/cwygoda/livearchive/internal/runner"
)

const rcloneExcerptLen = 800

// ProcessRunner runs a single external command with a deadline.
type ProcessRunner interface {
	Run(ctx context.Context, c runner.Command) (runner.Result, error)
}

// Rclone copies files with `rclone copyto`. Destinations are rclone paths such
// as "gdrive:yt_backups/name.mkv" and are returned unchanged as locators.
type Rclone struct {
	command string
	timeout time.Duration
	run     ProcessRunner
	log     *zap.Logger
}

// NewRclone creates an rclone store. timeout bounds each rclone invocation.
func NewRclone(command string, timeout time.Duration, run ProcessRunner, log *zap.Logger) *Rclone {
	if command == "" {
		command = "rclone"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Rclone{
		command: command,
		timeout: timeout,
		run:     run,
		log:     log.Named("rclone"),
	}
}

func (r *Rclone) Name() string {
	return "rclone"
}

func (r *Rclone) Put(ctx context.Context, localPath, destination string) (string, error) {
	res, err := r.exec(ctx, "copyto", localPath, destination)
	if err != nil {
		return "", err
	}
	r.log.Debug("copied", zap.String("destination", destination), zap.Duration("elapsed", res.Duration))
	return destination, nil
}

type lsjsonEntry struct {
	Path  string `json:"Path"`
	Size  int64  `json:"Size"`
	IsDir bool   `json:"IsDir"`
}

// Stat reports the size of the object at locator using `rclone lsjson --stat`.
func (r *Rclone) Stat(ctx context.Context, locator string) (int64, error) {
	res, err := r.exec(ctx, "lsjson", "--stat", locator)
	if err != nil {
		return 0, err
	}
	var entry lsjsonEntry
	if err := json.Unmarshal([]byte(res.Stdout), &entry); err != nil {
		return 0, fmt.Errorf("rclone lsjson %s: decode: %w", locator, err)
	}
	if entry.IsDir {
		return 0, fmt.Errorf("rclone lsjson %s: is a directory", locator)
	}
	return entry.Size, nil
}

func (r *Rclone) exec(ctx context.Context, args ...string) (runner.Result, error) {
	res, err := r.run.Run(ctx, runner.Command{Name: r.command, Args: args, Timeout: r.timeout})
	if err != nil {
		return res, fmt.Errorf("rclone %s: %w", args[0], err)
	}
	if res.ExitCode != 0 {
		return res, fmt.Errorf("rclone %s exit status %d: %s",
			args[0], res.ExitCode, logging.Excerpt(res.Stderr, rcloneExcerptLen))
	}
	return res, nil
}
