// Package worker runs jobs concurrently under a cap and tracks their progress.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cwygoda/livearchive/internal/domain"
)

// JobRunner processes one source to a terminal status.
type JobRunner interface {
	Run(ctx context.Context, source domain.SourceID) domain.JobStatus
}

// Scheduler fans sources out to a JobRunner with bounded concurrency. A failing
// job never cancels its siblings.
type Scheduler struct {
	jobs           JobRunner
	maxConcurrency int
	log            *zap.Logger

	mu     sync.Mutex
	onDone func(domain.JobStatus)
}

// New creates a scheduler running at most maxConcurrency jobs at once.
func New(jobs JobRunner, maxConcurrency int, log *zap.Logger) *Scheduler {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		jobs:           jobs,
		maxConcurrency: maxConcurrency,
		log:            log.Named("scheduler"),
	}
}

// OnDone registers fn to be called once per finished job. Calls are serialized.
func (s *Scheduler) OnDone(fn func(domain.JobStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDone = fn
}

// RunAll processes every source and returns their statuses in input order, once
// all jobs are done. Cancelling ctx interrupts running jobs; jobs not yet started
// still run and finish as interrupted, so every source gets a status.
func (s *Scheduler) RunAll(ctx context.Context, sources []domain.SourceID) []domain.JobStatus {
	start := time.Now()
	s.log.Info(fmt.Sprintf("Starting run for %d URL(s)", len(sources)),
		zap.Int("sources", len(sources)),
		zap.Int("max_concurrency", s.maxConcurrency))

	results := make([]domain.JobStatus, len(sources))
	var g errgroup.Group
	g.SetLimit(s.maxConcurrency)

	for i, source := range sources {
		g.Go(func() error {
			status := s.jobs.Run(ctx, source)
			results[i] = status
			s.done(status)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.Succeeded {
			failed++
		}
	}
	s.log.Info("run finished",
		zap.Int("succeeded", len(results)-failed),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)))
	return results
}

func (s *Scheduler) done(status domain.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onDone != nil {
		s.onDone(status)
	}
}
