package domain

import (
	"context"
	"time"
)

// CaptureStrategy is the driven port for turning a live broadcast into a local file.
type CaptureStrategy interface {
	Name() string
	Match(source SourceID) bool
	// Attempt runs the capture tool once. The returned CaptureAttempt is populated
	// even when err is non-nil so it can be included in a failure report.
	Attempt(ctx context.Context, source SourceID, outputDir string, deadline time.Duration) (CaptureAttempt, error)
}

// RemoteStore is the driven port for durable remote storage.
type RemoteStore interface {
	Name() string
	// Put stores the local file at destination and returns a remote locator.
	Put(ctx context.Context, localPath, destination string) (string, error)
}

// Verifier is implemented by remote stores that can report the size of a stored
// object, looked up by the locator Put returned.
type Verifier interface {
	Stat(ctx context.Context, locator string) (int64, error)
}

// Remover is implemented by remote stores where every Put creates a new object.
// A stored object that failed verification is removed before the next attempt so
// retries do not leave duplicates behind.
type Remover interface {
	Remove(ctx context.Context, locator string) error
}

// StatusSink persists terminal job records.
type StatusSink interface {
	Record(ctx context.Context, status JobStatus) error
}
