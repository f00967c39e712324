// Package upload hands recorded artifacts to remote storage with bounded retries.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/cwygoda/livearchive/internal/domain"
	"github.com/cwygoda/livearchive/internal/logging"
)

// ErrorExcerptLen bounds the upload error kept in logs and status records.
const ErrorExcerptLen = 800

// Policy controls retries. Delays double from Min up to Max.
type Policy struct {
	MaxAttempts int
	Min         time.Duration
	Max         time.Duration
}

// DefaultPolicy is 5 attempts, 2s initial delay, 30s cap.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Min: 2 * time.Second, Max: 30 * time.Second}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Min <= 0 {
		p.Min = DefaultPolicy().Min
	}
	if p.Max < p.Min {
		p.Max = p.Min
	}
	return p
}

func (p Policy) backoff() retry.Backoff {
	b := retry.NewExponential(p.Min)
	b = retry.WithCappedDuration(p.Max, b)
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

// Transfer retries RemoteStore.Put until it succeeds or the policy is exhausted.
// It is safe for concurrent use when the store is.
type Transfer struct {
	store  domain.RemoteStore
	policy Policy
	log    *zap.Logger
}

func New(store domain.RemoteStore, policy Policy, log *zap.Logger) *Transfer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transfer{
		store:  store,
		policy: policy.normalized(),
		log:    log.Named("upload").With(zap.String("store", store.Name())),
	}
}

// Send uploads localPath to destination. The local file is never modified.
// Failed attempts are logged and retried; only exhaustion or cancellation
// produce a failed outcome.
func (t *Transfer) Send(ctx context.Context, localPath, destination string) domain.UploadOutcome {
	log := t.log.With(zap.String("destination", destination))

	info, err := os.Stat(localPath)
	if err != nil {
		return t.failed(log, 0, fmt.Errorf("stat local file: %w", err))
	}
	size := info.Size()

	attempts := 0
	b := t.withDelayLog(log, t.policy.backoff())
	locator, err := retry.DoValue(ctx, b, func(ctx context.Context) (string, error) {
		attempts++
		locator, err := t.attempt(ctx, log, localPath, destination, size)
		if err == nil {
			return locator, nil
		}
		log.Warn("upload attempt failed",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", t.policy.MaxAttempts),
			zap.String("error", logging.Excerpt(err.Error(), ErrorExcerptLen)))
		if ctx.Err() != nil {
			return "", err
		}
		return "", retry.RetryableError(err)
	})
	if err != nil {
		return t.failed(log, attempts, err)
	}

	log.Info("upload succeeded",
		zap.String("locator", locator),
		zap.Int("attempts", attempts),
		zap.Int64("size_bytes", size))
	return domain.UploadOutcome{
		RemoteLocator: locator,
		Attempts:      attempts,
		Succeeded:     true,
	}
}

func (t *Transfer) attempt(ctx context.Context, log *zap.Logger, localPath, destination string, size int64) (string, error) {
	locator, err := t.store.Put(ctx, localPath, destination)
	if err != nil {
		return "", err
	}
	v, ok := t.store.(domain.Verifier)
	if !ok {
		return locator, nil
	}
	target := locatorOrDestination(locator, destination)
	remote, err := v.Stat(ctx, target)
	if err == nil && remote != size {
		err = fmt.Errorf("remote size %d, local size %d", remote, size)
	}
	if err != nil {
		t.discard(ctx, log, target)
		return "", fmt.Errorf("verify: %w", err)
	}
	return locator, nil
}

// discard removes an unverified object from stores that would otherwise keep
// one copy per attempt.
func (t *Transfer) discard(ctx context.Context, log *zap.Logger, locator string) {
	r, ok := t.store.(domain.Remover)
	if !ok {
		return
	}
	if err := r.Remove(context.WithoutCancel(ctx), locator); err != nil {
		log.Warn("remove unverified upload", zap.String("locator", locator), zap.Error(err))
		return
	}
	log.Info("removed unverified upload", zap.String("locator", locator))
}

// withDelayLog logs every backoff delay handed to the retry loop.
func (t *Transfer) withDelayLog(log *zap.Logger, next retry.Backoff) retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := next.Next()
		if !stop {
			log.Info("retrying upload", zap.Duration("delay", d))
		}
		return d, stop
	})
}

func (t *Transfer) failed(log *zap.Logger, attempts int, err error) domain.UploadOutcome {
	uerr := &domain.UploadFailedError{Attempts: attempts, Last: err}
	excerpt := logging.Excerpt(err.Error(), ErrorExcerptLen)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Warn("upload interrupted", zap.Int("attempts", attempts), zap.Error(err))
	} else {
		log.Error("upload failed", zap.Int("attempts", attempts), zap.String("error", excerpt))
	}
	return domain.UploadOutcome{
		Attempts:  attempts,
		Succeeded: false,
		LastError: excerpt,
		Err:       uerr,
	}
}

// locatorOrDestination picks what Stat should look up. Stores that return an
// opaque id (Drive) are verified by id, path-based stores by destination.
func locatorOrDestination(locator, destination string) string {
	if locator != "" {
		return locator
	}
	return destination
}
