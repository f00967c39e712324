// Package statusfile writes one JSON status file per finished job into the output
// directory.
package statusfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/cwygoda/livearchive/internal/domain"
)

const maxCollisions = 1000

// Record is the on-disk JSON shape. "uploaded" mirrors "succeeded" for readers of
// the older status format.
type Record struct {
	RunID          string `json:"run_id"`
	JobID          string `json:"job_id"`
	URL            string `json:"url"`
	Succeeded      bool   `json:"succeeded"`
	Uploaded       bool   `json:"uploaded"`
	RemotePath     string `json:"remote_path,omitempty"`
	RemoteLocator  string `json:"remote_locator,omitempty"`
	LocalPath      string `json:"local_path,omitempty"`
	Strategy       string `json:"strategy,omitempty"`
	UploadAttempts int    `json:"upload_attempts"`
	Error          string `json:"error,omitempty"`
	TimeUTC        string `json:"time_utc"`
}

func toRecord(s domain.JobStatus) Record {
	return Record{
		RunID:          s.RunID,
		JobID:          s.JobID,
		URL:            string(s.Source),
		Succeeded:      s.Succeeded,
		Uploaded:       s.Succeeded,
		RemotePath:     s.RemotePath,
		RemoteLocator:  s.RemoteLocator,
		LocalPath:      s.LocalPath,
		Strategy:       s.Strategy,
		UploadAttempts: s.UploadAttempts,
		Error:          s.Error,
		TimeUTC:        s.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// Writer implements domain.StatusSink. Existing files are never overwritten.
type Writer struct {
	dir string
	log *zap.Logger
}

func New(dir string, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{dir: dir, log: log.Named("statusfile")}
}

// FileName returns the base name for a status completed at t, without collision suffix.
func FileName(succeeded bool, t time.Time) string {
	prefix := "status_"
	if !succeeded {
		prefix = "status_fail_"
	}
	return prefix + t.UTC().Format(domain.TimestampLayout) + ".json"
}

// Record writes status to a new file and returns nil once it is synced to disk.
func (w *Writer) Record(ctx context.Context, status domain.JobStatus) error {
	data, err := json.MarshalIndent(toRecord(status), "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}

	f, path, err := w.create(FileName(status.Succeeded, status.Timestamp))
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	w.log.Debug("status written", zap.String("path", path), zap.String("job_id", status.JobID))
	return nil
}

// create opens name exclusively, falling back to name_1.json, name_2.json, ...
// when jobs finish within the same second.
func (w *Writer) create(name string) (*os.File, string, error) {
	stem := name[:len(name)-len(filepath.Ext(name))]
	for i := 0; i < maxCollisions; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d.json", stem, i)
		}
		path := filepath.Join(w.dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create status file: %w", err)
		}
	}
	return nil, "", fmt.Errorf("create status file: too many files named %s", name)
}

// Read decodes a status file.
func Read(path string) (Record, error) {
	var r Record
	data, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode %s: %w", path, err)
	}
	return r, nil
}
