package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSource         = errors.New("invalid source identifier")
	ErrToolUnavailable       = errors.New("capture tool unavailable")
	ErrCaptureTimedOut       = errors.New("capture timed out")
	ErrNoOutputProduced      = errors.New("no output produced")
	ErrCaptureFailed         = errors.New("capture tool failed")
	ErrCaptureChainExhausted = errors.New("capture chain exhausted")
	ErrUploadFailed          = errors.New("upload failed")
	ErrRetentionSweep        = errors.New("retention sweep error")
	ErrNoStrategies          = errors.New("no capture strategy matches source")
	ErrJobNotFound           = errors.New("job not found")
)

// AttemptError captures one failed capture strategy invocation.
type AttemptError struct {
	Attempt CaptureAttempt
	Err     error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s: %v", e.Attempt.Strategy, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// ChainExhaustedError is returned when no strategy in a fallback chain produced an artifact.
type ChainExhaustedError struct {
	Attempts []AttemptError
}

func (e *ChainExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrCaptureChainExhausted.Error()
	}
	names := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		names[i] = a.Attempt.Strategy
	}
	return fmt.Sprintf("%s after %d attempt(s) [%s]: %v",
		ErrCaptureChainExhausted, len(e.Attempts), strings.Join(names, ", "), e.Last())
}

// Last returns the error of the final strategy tried, or nil.
func (e *ChainExhaustedError) Last() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return &e.Attempts[len(e.Attempts)-1]
}

func (e *ChainExhaustedError) Is(target error) bool {
	return target == ErrCaptureChainExhausted
}

func (e *ChainExhaustedError) Unwrap() error {
	return e.Last()
}

// UploadFailedError is returned once every upload attempt has failed.
type UploadFailedError struct {
	Attempts int
	Last     error
}

func (e *UploadFailedError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", ErrUploadFailed, e.Attempts, e.Last)
}

func (e *UploadFailedError) Is(target error) bool {
	return target == ErrUploadFailed
}

func (e *UploadFailedError) Unwrap() error {
	return e.Last
}
