// Package retention bounds the number of media files kept in the output directory.
package retention

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/cwygoda/livearchive/internal/domain"
	"github.com/cwygoda/livearchive/internal/logging"
)

var (
	protectedSuffixes = []string{".db", ".db-wal", ".db-shm", ".db-journal"}
	inFlightSuffixes  = []string{".part", ".ytdl", ".temp", ".frag"}
)

// Protected reports whether a file name is bookkeeping rather than a recording:
// the recording log, status files, the ledger database and hidden files.
func Protected(name string) bool {
	if name == logging.RecordingLogName || strings.HasPrefix(name, ".") {
		return true
	}
	if strings.HasPrefix(name, "status_") && strings.HasSuffix(name, ".json") {
		return true
	}
	for _, s := range protectedSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

func inFlight(name string) bool {
	for _, s := range inFlightSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// Sweep is the result of one Enforce call. Kept and Removed hold full paths,
// newest first.
type Sweep struct {
	Kept    []string
	Removed []string
	Err     error
}

// Manager enforces the keep-last-N rule. Sweeps are serialized so concurrent jobs
// never race on the same directory listing.
type Manager struct {
	mu  sync.Mutex
	log *zap.Logger

	holdMu   sync.Mutex
	holds    map[string]int
	prefixes map[string]int
}

func New(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		log:      log.Named("retention"),
		holds:    make(map[string]int),
		prefixes: make(map[string]int),
	}
}

// Hold marks path as owned by a running job. Held files still count towards the
// limit but are never deleted. The returned release is idempotent.
func (m *Manager) Hold(path string) (release func()) {
	return m.hold(m.holds, canonical(path))
}

// HoldPrefix holds every file in dir whose name starts with prefix, including
// files that do not exist yet. It covers a capture while the tool is still
// writing under names the job does not know in advance.
func (m *Manager) HoldPrefix(dir, prefix string) (release func()) {
	return m.hold(m.prefixes, filepath.Join(canonical(dir), prefix))
}

func (m *Manager) hold(set map[string]int, key string) func() {
	m.holdMu.Lock()
	set[key]++
	m.holdMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.holdMu.Lock()
			defer m.holdMu.Unlock()
			if set[key]--; set[key] <= 0 {
				delete(set, key)
			}
		})
	}
}

func (m *Manager) held(path string) bool {
	key := canonical(path)
	m.holdMu.Lock()
	defer m.holdMu.Unlock()
	if m.holds[key] > 0 {
		return true
	}
	for prefix := range m.prefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

type file struct {
	path  string
	name  string
	mtime time.Time
}

// Enforce keeps the keep most recently modified recordings in dir and deletes the
// rest. Ties in modification time are broken by name. A negative keep disables
// the sweep. Failures are collected in Sweep.Err and never stop the sweep.
func (m *Manager) Enforce(dir string, keep int) Sweep {
	if keep < 0 {
		return Sweep{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	files, err := m.list(dir)
	if err != nil {
		m.log.Warn("retention sweep skipped", zap.String("dir", dir), zap.Error(err))
		return Sweep{Err: fmt.Errorf("%w: %v", domain.ErrRetentionSweep, err)}
	}

	sort.Slice(files, func(i, j int) bool {
		if !files[i].mtime.Equal(files[j].mtime) {
			return files[i].mtime.After(files[j].mtime)
		}
		return files[i].name < files[j].name
	})

	var sweep Sweep
	var errs *multierror.Error
	for i, f := range files {
		if i < keep {
			sweep.Kept = append(sweep.Kept, f.path)
			continue
		}
		if m.held(f.path) {
			m.log.Debug("keeping held file", zap.String("path", f.path))
			sweep.Kept = append(sweep.Kept, f.path)
			continue
		}
		if err := os.Remove(f.path); err != nil {
			m.log.Warn("cleanup failed", zap.String("path", f.path), zap.Error(err))
			errs = multierror.Append(errs, fmt.Errorf("%w: %v", domain.ErrRetentionSweep, err))
			continue
		}
		m.log.Info("cleanup removed old file", zap.String("path", f.path))
		sweep.Removed = append(sweep.Removed, f.path)
	}
	sweep.Err = errs.ErrorOrNil()
	return sweep
}

func (m *Manager) list(dir string) ([]file, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []file
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || Protected(name) || inFlight(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		files = append(files, file{path: filepath.Join(dir, name), name: name, mtime: info.ModTime()})
	}
	return files, nil
}

func canonical(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
