package domain

import "time"

// SourceID names one live broadcast to capture, normally a URL.
type SourceID string

// State is the position of a job in its capture-and-archive lifecycle.
type State string

const (
	StatePending    State = "pending"
	StateCapturing  State = "capturing"
	StateUploading  State = "uploading"
	StateCleaningUp State = "cleaning_up"
	StateDone       State = "done"
)

// IsTerminal returns true once a job can no longer change.
func (s State) IsTerminal() bool {
	return s == StateDone
}

// CaptureAttempt is the result of one capture strategy invocation.
type CaptureAttempt struct {
	Strategy      string
	ExitCode      int
	ProducedPath  string
	StderrExcerpt string
	StartedAt     time.Time
	Duration      time.Duration
}

// Produced returns true if the attempt left a file behind.
func (a CaptureAttempt) Produced() bool {
	return a.ProducedPath != ""
}

// RecordedArtifact is a captured local media file awaiting upload.
type RecordedArtifact struct {
	LocalPath string
	Source    SourceID
	SizeBytes int64
	CreatedAt time.Time
	Strategy  string
}

// UploadOutcome is the terminal result of handing an artifact to remote storage.
type UploadOutcome struct {
	RemoteLocator string
	Attempts      int
	Succeeded     bool
	LastError     string
	Err           error
}

// JobStatus is the terminal record for one source identifier.
type JobStatus struct {
	RunID          string
	JobID          string
	Source         SourceID
	Succeeded      bool
	RemotePath     string
	RemoteLocator  string
	LocalPath      string
	Strategy       string
	UploadAttempts int
	Error          string
	Timestamp      time.Time
}

// Retained reports whether the job left an artifact on disk for recovery.
func (s JobStatus) Retained() bool {
	return !s.Succeeded && s.LocalPath != ""
}

// AllSucceeded returns true if every status in the slice is a success.
func AllSucceeded(statuses []JobStatus) bool {
	for _, s := range statuses {
		if !s.Succeeded {
			return false
		}
	}
	return true
}
