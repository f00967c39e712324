// Package source turns command-line arguments or a URL list file into the
// source identifiers for one run.
package source

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/cwygoda/livearchive/internal/domain"
	"github.com/cwygoda/livearchive/internal/logging"
)

// ErrNoSources is returned when neither arguments nor the list file yield a source.
var ErrNoSources = errors.New("no sources given")

// Load returns the sources for a run. Arguments take precedence over the list
// file; the file is only read when args is empty. Blank lines and lines starting
// with '#' are skipped and duplicates are dropped, keeping the first occurrence.
// An entry that is not a valid identifier is logged and skipped so it cannot
// keep the other sources from being captured.
func Load(args []string, file string, log *zap.Logger) ([]domain.SourceID, error) {
	if log == nil {
		log = zap.NewNop()
	}
	raw := args
	if len(raw) == 0 {
		lines, err := readLines(file)
		if err != nil {
			return nil, err
		}
		raw = lines
	}

	var out []domain.SourceID
	seen := make(map[domain.SourceID]struct{}, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" || strings.HasPrefix(r, "#") {
			continue
		}
		id, err := domain.ParseSource(r)
		if err != nil {
			log.Warn("skipping invalid source", zap.String("source", logging.Excerpt(r, 200)), zap.Error(err))
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, ErrNoSources
	}
	return out, nil
}

func readLines(path string) ([]string, error) {
	if path == "" {
		return nil, ErrNoSources
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: url file %s not found", ErrNoSources, path)
		}
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read url file: %w", err)
	}
	return lines, nil
}
