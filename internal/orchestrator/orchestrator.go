// Package orchestrator drives one source through capture, upload and cleanup.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cwygoda/livearchive/internal/domain"
	"github.com/cwygoda/livearchive/internal/logging"
	"github.com/cwygoda/livearchive/internal/retention"
)

// Capturer yields the capture strategies to try for a source, in order.
type Capturer interface {
	For(source domain.SourceID) []domain.CaptureStrategy
}

// Uploader sends an artifact to remote storage.
type Uploader interface {
	Send(ctx context.Context, localPath, destination string) domain.UploadOutcome
}

// Retainer bounds the output directory.
type Retainer interface {
	Hold(path string) (release func())
	HoldPrefix(dir, prefix string) (release func())
	Enforce(dir string, keep int) retention.Sweep
}

// Event reports a state transition. Status is set on the Done transition.
type Event struct {
	JobID    string
	Source   domain.SourceID
	State    domain.State
	Strategy string
	At       time.Time
	Status   *domain.JobStatus
}

// Observer receives every transition of every job. It must not block.
type Observer func(Event)

type Config struct {
	RunID      string
	OutputDir  string
	RemoteRoot string
	KeepLastN  int
	MaxRuntime time.Duration
}

type Deps struct {
	Chain     Capturer
	Uploader  Uploader
	Retention Retainer
	Sink      domain.StatusSink
	Observer  Observer
	Log       *zap.Logger
}

// Orchestrator runs jobs. One Orchestrator serves all jobs of a run.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
	now  func() time.Time
}

func New(cfg Config, deps Deps) *Orchestrator {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  log.Named("job"),
		now:  time.Now,
	}
}

// RunID identifies the run every status of this orchestrator belongs to.
func (o *Orchestrator) RunID() string {
	return o.cfg.RunID
}

type job struct {
	id     string
	source domain.SourceID
	state  domain.State
	status domain.JobStatus
	log    *zap.Logger
}

// Run processes one source to completion and returns its terminal status. It
// never panics on tool or network failures; every outcome is a JobStatus.
func (o *Orchestrator) Run(ctx context.Context, source domain.SourceID) domain.JobStatus {
	id := uuid.NewString()
	j := &job{
		id:     id,
		source: source,
		status: domain.JobStatus{RunID: o.cfg.RunID, JobID: id, Source: source},
		log: o.log.With(
			zap.String("job_id", id),
			zap.String("source", logging.Excerpt(string(source), 200)),
		),
	}
	o.transition(j, domain.StatePending, nil)

	// Sibling sweeps must not touch files the capture tools are still writing,
	// whose final names are only known once the attempt returns.
	releaseCapture := o.deps.Retention.HoldPrefix(o.cfg.OutputDir, domain.SourcePrefix(source))
	o.transition(j, domain.StateCapturing, nil)
	artifact, err := o.capture(ctx, j)
	if err != nil {
		releaseCapture()
		return o.finish(ctx, j, err)
	}
	j.status.Strategy = artifact.Strategy
	j.log.Info("recorded file",
		zap.String("path", artifact.LocalPath),
		zap.String("strategy", artifact.Strategy),
		zap.Int64("size_bytes", artifact.SizeBytes))

	release := o.deps.Retention.Hold(artifact.LocalPath)
	defer release()
	releaseCapture()

	o.transition(j, domain.StateUploading, nil)
	destination := domain.RemoteDestination(o.cfg.RemoteRoot, filepath.Base(artifact.LocalPath))
	outcome := o.deps.Uploader.Send(ctx, artifact.LocalPath, destination)
	j.status.UploadAttempts = outcome.Attempts
	if !outcome.Succeeded {
		j.status.LocalPath = artifact.LocalPath
		j.log.Warn("keeping local file for recovery", zap.String("path", artifact.LocalPath))
		o.sweep(j)
		return o.finish(ctx, j, outcome.Err)
	}
	j.status.RemotePath = destination
	j.status.RemoteLocator = outcome.RemoteLocator

	if err := os.Remove(artifact.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		j.log.Warn("remove uploaded file", zap.String("path", artifact.LocalPath), zap.Error(err))
	} else {
		j.log.Info("removed local file", zap.String("path", artifact.LocalPath))
	}

	o.transition(j, domain.StateCleaningUp, nil)
	o.sweep(j)
	return o.finish(ctx, j, nil)
}

// capture tries each matching strategy once, in order, until one produces a file.
func (o *Orchestrator) capture(ctx context.Context, j *job) (domain.RecordedArtifact, error) {
	strategies := o.deps.Chain.For(j.source)
	if len(strategies) == 0 {
		return domain.RecordedArtifact{}, domain.ErrNoStrategies
	}

	var failures []domain.AttemptError
	for i, s := range strategies {
		if ctx.Err() != nil {
			break
		}
		j.status.Strategy = s.Name()
		attempt, err := s.Attempt(ctx, j.source, o.cfg.OutputDir, o.cfg.MaxRuntime)
		if err == nil && !attempt.Produced() {
			err = domain.ErrNoOutputProduced
		}
		if err == nil {
			artifact, serr := o.artifact(j.source, attempt)
			if serr == nil {
				return artifact, nil
			}
			err = serr
		}

		failures = append(failures, domain.AttemptError{Attempt: attempt, Err: err})
		if i < len(strategies)-1 && ctx.Err() == nil {
			j.log.Warn("capture strategy failed, falling back",
				zap.String("strategy", s.Name()),
				zap.String("next", strategies[i+1].Name()),
				zap.String("error", logging.Excerpt(err.Error(), logging.DefaultExcerptLen)))
		}
	}

	exhausted := &domain.ChainExhaustedError{Attempts: failures}
	if err := ctx.Err(); err != nil {
		if len(failures) == 0 {
			return domain.RecordedArtifact{}, fmt.Errorf("capture interrupted: %w", err)
		}
		return domain.RecordedArtifact{}, fmt.Errorf("capture interrupted: %w: %w", err, exhausted)
	}
	return domain.RecordedArtifact{}, exhausted
}

func (o *Orchestrator) artifact(source domain.SourceID, attempt domain.CaptureAttempt) (domain.RecordedArtifact, error) {
	info, err := os.Stat(attempt.ProducedPath)
	if err != nil {
		return domain.RecordedArtifact{}, fmt.Errorf("%w: %v", domain.ErrNoOutputProduced, err)
	}
	return domain.RecordedArtifact{
		LocalPath: attempt.ProducedPath,
		Source:    source,
		SizeBytes: info.Size(),
		CreatedAt: attempt.StartedAt,
		Strategy:  attempt.Strategy,
	}, nil
}

// sweep runs retention. Its failures are logged and never change the job outcome.
func (o *Orchestrator) sweep(j *job) {
	s := o.deps.Retention.Enforce(o.cfg.OutputDir, o.cfg.KeepLastN)
	if s.Err != nil {
		j.log.Warn("retention sweep incomplete", zap.Error(s.Err))
	}
	if len(s.Removed) > 0 {
		j.log.Info("retention sweep", zap.Int("kept", len(s.Kept)), zap.Int("removed", len(s.Removed)))
	}
}

// finish emits the single terminal status of a job.
func (o *Orchestrator) finish(ctx context.Context, j *job, err error) domain.JobStatus {
	j.status.Succeeded = err == nil
	if err != nil {
		j.status.Error = logging.Excerpt(err.Error(), logging.DefaultExcerptLen)
	}
	j.status.Timestamp = o.now().UTC()

	if o.deps.Sink != nil {
		// statuses are persisted even when the run is being interrupted
		if serr := o.deps.Sink.Record(context.WithoutCancel(ctx), j.status); serr != nil {
			j.log.Error("record status", zap.Error(serr))
		}
	}

	status := j.status
	o.transition(j, domain.StateDone, &status)

	if status.Succeeded {
		j.log.Info("job complete",
			zap.String("remote_path", status.RemotePath),
			zap.String("locator", status.RemoteLocator),
			zap.String("strategy", status.Strategy),
			zap.Int("upload_attempts", status.UploadAttempts))
	} else {
		j.log.Error("job failed",
			zap.String("error", status.Error),
			zap.String("local_path", status.LocalPath),
			zap.Int("upload_attempts", status.UploadAttempts))
	}
	return status
}

func (o *Orchestrator) transition(j *job, to domain.State, status *domain.JobStatus) {
	if j.state.IsTerminal() {
		panic(fmt.Sprintf("job %s: transition from terminal state to %s", j.id, to))
	}
	j.state = to
	j.log.Info("state", zap.String("state", string(to)))

	if o.deps.Observer == nil {
		return
	}
	o.deps.Observer(Event{
		JobID:    j.id,
		Source:   j.source,
		State:    to,
		Strategy: j.status.Strategy,
		At:       o.now(),
		Status:   status,
	})
}
