package worker

import (
	"sync"
	"time"

	"github.com/cwygoda/livearchive/internal/domain"
	"github.com/cwygoda/livearchive/internal/orchestrator"
)

// JobView is the live state of one job.
type JobView struct {
	JobID      string          `json:"id"`
	Source     domain.SourceID `json:"source"`
	State      domain.State    `json:"state"`
	Strategy   string          `json:"strategy,omitempty"`
	Succeeded  *bool           `json:"succeeded,omitempty"`
	RemotePath string          `json:"remote_path,omitempty"`
	LocalPath  string          `json:"local_path,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Tracker collects orchestrator events into per-job views. It is safe for
// concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	jobs  map[string]*JobView
	order []string
}

func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]*JobView)}
}

// Observe is an orchestrator.Observer.
func (t *Tracker) Observe(e orchestrator.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.jobs[e.JobID]
	if !ok {
		v = &JobView{JobID: e.JobID, Source: e.Source, StartedAt: e.At}
		t.jobs[e.JobID] = v
		t.order = append(t.order, e.JobID)
	}
	v.State = e.State
	v.Strategy = e.Strategy
	v.UpdatedAt = e.At
	if e.Status != nil {
		ok := e.Status.Succeeded
		v.Succeeded = &ok
		v.RemotePath = e.Status.RemotePath
		v.LocalPath = e.Status.LocalPath
		v.Error = e.Status.Error
	}
}

// List returns all jobs in the order they were first seen.
func (t *Tracker) List() []JobView {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]JobView, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.jobs[id])
	}
	return out
}

// Get returns one job by id.
func (t *Tracker) Get(id string) (JobView, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v, ok := t.jobs[id]
	if !ok {
		return JobView{}, domain.ErrJobNotFound
	}
	return *v, nil
}

// Counts returns the number of jobs per state.
func (t *Tracker) Counts() map[domain.State]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[domain.State]int)
	for _, v := range t.jobs {
		counts[v.State]++
	}
	return counts
}
