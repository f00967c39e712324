// Package capture turns a live broadcast into a local media file by running an
// external capture tool.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cwygoda/livearchive/internal/config"
	"github.com/cwygoda/livearchive/internal/domain"
	"github.com/cwygoda/livearchive/internal/logging"
	"github.com/cwygoda/livearchive/internal/runner"
)

// partialSuffixes mark files a capture tool is still writing or has abandoned.
var partialSuffixes = []string{".part", ".ytdl", ".temp", ".frag"}

// mtimeSlack tolerates filesystems with one-second timestamp resolution.
const mtimeSlack = time.Second

// ProcessRunner runs a single external command with a deadline.
type ProcessRunner interface {
	Run(ctx context.Context, c runner.Command) (runner.Result, error)
}

// CommandStrategy runs an external command for matching sources.
type CommandStrategy struct {
	name    string
	pattern *regexp.Regexp
	command string
	args    []string
	ext     string
	run     ProcessRunner
	log     *zap.Logger
}

// NewCommandStrategy creates a strategy from config. An empty pattern matches every source.
func NewCommandStrategy(sc config.StrategyConfig, run ProcessRunner, log *zap.Logger) (*CommandStrategy, error) {
	if sc.Name == "" {
		return nil, errors.New("strategy name is required")
	}
	if sc.Command == "" {
		return nil, fmt.Errorf("strategy %s: command is required", sc.Name)
	}

	var re *regexp.Regexp
	if sc.Pattern != "" {
		var err error
		re, err = regexp.Compile(sc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: invalid pattern %q: %w", sc.Name, sc.Pattern, err)
		}
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &CommandStrategy{
		name:    sc.Name,
		pattern: re,
		command: sc.Command,
		args:    append([]string(nil), sc.Args...),
		ext:     strings.TrimPrefix(sc.Ext, "."),
		run:     run,
		log:     log.Named("capture").With(zap.String("strategy", sc.Name)),
	}, nil
}

func (s *CommandStrategy) Name() string {
	return s.name
}

func (s *CommandStrategy) Match(source domain.SourceID) bool {
	return s.pattern == nil || s.pattern.MatchString(string(source))
}

// Attempt runs the tool once. Files carrying this attempt's stem are removed when
// the attempt fails, so a failed capture never leaves a partial artifact.
func (s *CommandStrategy) Attempt(ctx context.Context, source domain.SourceID, outputDir string, deadline time.Duration) (domain.CaptureAttempt, error) {
	start := time.Now().UTC().Truncate(time.Second)
	stem := domain.Stem(source, start)
	attempt := domain.CaptureAttempt{Strategy: s.name, ExitCode: -1, StartedAt: start}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return attempt, fmt.Errorf("create output dir: %w", err)
	}

	args := s.expand(source, outputDir, stem)
	log := s.log.With(zap.String("source", logging.Excerpt(string(source), 200)))
	log.Info("capture attempt started", zap.String("stem", stem), zap.Duration("deadline", deadline))

	res, err := s.run.Run(ctx, runner.Command{
		Name:    s.command,
		Args:    args,
		Dir:     outputDir,
		Timeout: deadline,
	})
	attempt.ExitCode = res.ExitCode
	attempt.Duration = time.Since(start)
	attempt.StderrExcerpt = logging.Excerpt(res.Stderr, logging.DefaultExcerptLen)

	if errors.Is(err, runner.ErrTimedOut) {
		err = fmt.Errorf("%w: %w", domain.ErrCaptureTimedOut, err)
	}
	if err == nil && res.ExitCode != 0 {
		err = fmt.Errorf("%w: %s exit status %d: %s", domain.ErrCaptureFailed, s.command, res.ExitCode, attempt.StderrExcerpt)
	}
	if err == nil {
		var path string
		path, err = discover(outputDir, stem, start)
		attempt.ProducedPath = path
	}
	if err != nil {
		attempt.ProducedPath = ""
		s.discard(outputDir, stem)
		log.Warn("capture attempt failed",
			zap.Int("exit_code", attempt.ExitCode),
			zap.Duration("elapsed", attempt.Duration),
			zap.Error(err))
		return attempt, err
	}

	log.Info("capture attempt produced file",
		zap.String("path", attempt.ProducedPath),
		zap.Duration("elapsed", attempt.Duration))
	return attempt, nil
}

// expand substitutes placeholders in each argument independently.
func (s *CommandStrategy) expand(source domain.SourceID, dir, stem string) []string {
	output := filepath.Join(dir, stem)
	if s.ext != "" {
		output += "." + s.ext
	}
	r := strings.NewReplacer(
		"{url}", string(source),
		"{output}", output,
		"{stem}", stem,
		"{dir}", dir,
	)
	args := make([]string, len(s.args))
	for i, arg := range s.args {
		args[i] = r.Replace(arg)
	}
	return args
}

// discard removes every file left behind by a failed attempt.
func (s *CommandStrategy) discard(dir, stem string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), stem) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("remove partial file", zap.String("path", path), zap.Error(err))
			continue
		}
		s.log.Debug("removed partial file", zap.String("path", path))
	}
}

// discover returns the newest complete file in dir named after stem and written
// since start. Tools do not always honor the exact output path, so only the
// prefix is matched.
func discover(dir, stem string, start time.Time) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("scan output dir: %w", err)
	}

	type candidate struct {
		name  string
		mtime time.Time
	}
	var found []candidate
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.HasPrefix(name, stem) || isPartial(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		if info.ModTime().Before(start.Add(-mtimeSlack)) {
			continue
		}
		found = append(found, candidate{name: name, mtime: info.ModTime()})
	}
	if len(found) == 0 {
		return "", domain.ErrNoOutputProduced
	}

	sort.Slice(found, func(i, j int) bool {
		if !found[i].mtime.Equal(found[j].mtime) {
			return found[i].mtime.After(found[j].mtime)
		}
		return found[i].name < found[j].name
	})
	return filepath.Join(dir, found[0].name), nil
}

func isPartial(name string) bool {
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
