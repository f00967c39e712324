package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cwygoda/livearchive/internal/domain"
)

type mockStore struct {
	mu    sync.Mutex
	calls []string
	put   func(call int, localPath, destination string) (string, error)
}

func (m *mockStore) Name() string { return "mock" }

func (m *mockStore) Put(ctx context.Context, localPath, destination string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, destination)
	n := len(m.calls)
	m.mu.Unlock()
	return m.put(n, localPath, destination)
}

func (m *mockStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type verifyingStore struct {
	*mockStore
	stat func(locator string) (int64, error)
}

func (v *verifyingStore) Stat(ctx context.Context, locator string) (int64, error) {
	return v.stat(locator)
}

// removingStore creates a new object on every Put, like Drive.
type removingStore struct {
	*verifyingStore
	removed []string
	err     error
}

func (r *removingStore) Remove(ctx context.Context, locator string) error {
	r.removed = append(r.removed, locator)
	return r.err
}

func failingFirst(n int) func(int, string, string) (string, error) {
	return func(call int, _, destination string) (string, error) {
		if call <= n {
			return "", fmt.Errorf("transient failure %d", call)
		}
		return destination, nil
	}
}

func fastPolicy() Policy {
	return Policy{MaxAttempts: 5, Min: 2 * time.Millisecond, Max: 30 * time.Millisecond}
}

func artifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source_20240101_000000.mkv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestTransfer_Send_FirstTry(t *testing.T) {
	store := &mockStore{put: failingFirst(0)}
	tr := New(store, fastPolicy(), nil)
	path := artifact(t, "media")

	out := tr.Send(context.Background(), path, "remote:root/a.mkv")

	assert.True(t, out.Succeeded)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, "remote:root/a.mkv", out.RemoteLocator)
	assert.Empty(t, out.LastError)
	assert.NoError(t, out.Err)
	assert.FileExists(t, path, "transfer must not touch the local file")
}

func TestTransfer_Send_RecoversAfterFailures(t *testing.T) {
	store := &mockStore{put: failingFirst(2)}
	log, logs := observed()
	tr := New(store, fastPolicy(), log)

	out := tr.Send(context.Background(), artifact(t, "media"), "dest")

	assert.True(t, out.Succeeded)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 2, logs.FilterMessage("upload attempt failed").Len())
}

func TestTransfer_Send_Exhausted(t *testing.T) {
	store := &mockStore{put: failingFirst(100)}
	log, logs := observed()
	tr := New(store, fastPolicy(), log)
	path := artifact(t, "media")

	out := tr.Send(context.Background(), path, "dest")

	assert.False(t, out.Succeeded)
	assert.Equal(t, 5, out.Attempts)
	assert.Equal(t, 5, store.callCount())
	assert.Equal(t, "transient failure 5", out.LastError)
	assert.ErrorIs(t, out.Err, domain.ErrUploadFailed)

	var uerr *domain.UploadFailedError
	require.ErrorAs(t, out.Err, &uerr)
	assert.Equal(t, 5, uerr.Attempts)
	assert.FileExists(t, path)

	failures := logs.FilterMessage("upload attempt failed").All()
	require.Len(t, failures, 5)
	for i, entry := range failures {
		assert.Equal(t, int64(i+1), entry.ContextMap()["attempt"])
	}

	var delays []time.Duration
	for _, entry := range logs.FilterMessage("retrying upload").All() {
		delays = append(delays, entry.ContextMap()["delay"].(time.Duration))
	}
	assert.Equal(t, []time.Duration{2 * time.Millisecond, 4 * time.Millisecond, 8 * time.Millisecond, 16 * time.Millisecond}, delays)
	assert.Equal(t, 1, logs.FilterMessage("upload failed").Len())
}

func TestTransfer_Send_DelaysAreCapped(t *testing.T) {
	store := &mockStore{put: failingFirst(100)}
	log, logs := observed()
	tr := New(store, Policy{MaxAttempts: 7, Min: 2 * time.Millisecond, Max: 10 * time.Millisecond}, log)

	out := tr.Send(context.Background(), artifact(t, "media"), "dest")
	require.False(t, out.Succeeded)
	assert.Equal(t, 7, out.Attempts)

	var delays []time.Duration
	for _, entry := range logs.FilterMessage("retrying upload").All() {
		delays = append(delays, entry.ContextMap()["delay"].(time.Duration))
	}
	require.Len(t, delays, 6)
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1], "delays must not decrease")
		assert.LessOrEqual(t, delays[i], 10*time.Millisecond)
	}
	assert.Equal(t, 10*time.Millisecond, delays[len(delays)-1])
}

func TestTransfer_Send_SingleAttemptPolicy(t *testing.T) {
	store := &mockStore{put: failingFirst(100)}
	tr := New(store, Policy{MaxAttempts: 1, Min: time.Millisecond, Max: time.Millisecond}, nil)

	out := tr.Send(context.Background(), artifact(t, "media"), "dest")
	assert.False(t, out.Succeeded)
	assert.Equal(t, 1, out.Attempts)
}

func TestTransfer_Send_Verification(t *testing.T) {
	path := artifact(t, "12345")

	t.Run("size matches", func(t *testing.T) {
		store := &verifyingStore{
			mockStore: &mockStore{put: func(int, string, string) (string, error) { return "file-id", nil }},
			stat: func(locator string) (int64, error) {
				assert.Equal(t, "file-id", locator)
				return 5, nil
			},
		}
		out := New(store, fastPolicy(), nil).Send(context.Background(), path, "dest")
		assert.True(t, out.Succeeded)
		assert.Equal(t, "file-id", out.RemoteLocator)
	})

	t.Run("size mismatch is retried", func(t *testing.T) {
		calls := 0
		store := &verifyingStore{
			mockStore: &mockStore{put: failingFirst(0)},
			stat: func(string) (int64, error) {
				calls++
				if calls == 1 {
					return 3, nil
				}
				return 5, nil
			},
		}
		out := New(store, fastPolicy(), nil).Send(context.Background(), path, "dest")
		assert.True(t, out.Succeeded)
		assert.Equal(t, 2, out.Attempts)
	})

	t.Run("stat error fails attempt", func(t *testing.T) {
		store := &verifyingStore{
			mockStore: &mockStore{put: failingFirst(0)},
			stat:      func(string) (int64, error) { return 0, errors.New("not found") },
		}
		out := New(store, Policy{MaxAttempts: 2, Min: time.Millisecond, Max: time.Millisecond}, nil).
			Send(context.Background(), path, "dest")
		assert.False(t, out.Succeeded)
		assert.Contains(t, out.LastError, "verify: not found")
	})
}

func TestTransfer_Send_RemovesUnverifiedObjects(t *testing.T) {
	path := artifact(t, "12345")
	store := &removingStore{verifyingStore: &verifyingStore{
		mockStore: &mockStore{put: func(call int, _, _ string) (string, error) {
			return fmt.Sprintf("file-%d", call), nil
		}},
		stat: func(locator string) (int64, error) {
			switch locator {
			case "file-1":
				return 3, nil
			case "file-2":
				return 0, errors.New("backend error")
			}
			return 5, nil
		},
	}}
	log, logs := observed()

	out := New(store, fastPolicy(), log).Send(context.Background(), path, "dest")

	require.True(t, out.Succeeded)
	assert.Equal(t, "file-3", out.RemoteLocator)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, []string{"file-1", "file-2"}, store.removed)
	assert.Equal(t, 2, logs.FilterMessage("removed unverified upload").Len())
}

func TestTransfer_Send_RemoveFailureKeepsRetrying(t *testing.T) {
	path := artifact(t, "12345")
	calls := 0
	store := &removingStore{
		verifyingStore: &verifyingStore{
			mockStore: &mockStore{put: failingFirst(0)},
			stat: func(string) (int64, error) {
				calls++
				if calls == 1 {
					return 1, nil
				}
				return 5, nil
			},
		},
		err: errors.New("permission denied"),
	}
	log, logs := observed()

	out := New(store, fastPolicy(), log).Send(context.Background(), path, "dest")

	assert.True(t, out.Succeeded)
	assert.Equal(t, []string{"dest"}, store.removed)
	assert.Equal(t, 1, logs.FilterMessage("remove unverified upload").Len())
}

func TestTransfer_Send_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &mockStore{put: func(int, string, string) (string, error) {
		cancel()
		return "", context.Canceled
	}}
	tr := New(store, Policy{MaxAttempts: 5, Min: time.Second, Max: time.Second}, nil)

	start := time.Now()
	out := tr.Send(ctx, artifact(t, "media"), "dest")

	assert.False(t, out.Succeeded)
	assert.Equal(t, 1, out.Attempts)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.ErrorIs(t, out.Err, domain.ErrUploadFailed)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestTransfer_Send_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &mockStore{put: failingFirst(100)}
	tr := New(store, Policy{MaxAttempts: 5, Min: time.Minute, Max: time.Minute}, nil)

	time.AfterFunc(50*time.Millisecond, cancel)
	out := tr.Send(ctx, artifact(t, "media"), "dest")

	assert.False(t, out.Succeeded)
	assert.Equal(t, 1, out.Attempts)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestTransfer_Send_MissingLocalFile(t *testing.T) {
	store := &mockStore{put: failingFirst(0)}
	tr := New(store, fastPolicy(), nil)

	out := tr.Send(context.Background(), filepath.Join(t.TempDir(), "gone.mkv"), "dest")

	assert.False(t, out.Succeeded)
	assert.Equal(t, 0, out.Attempts)
	assert.Zero(t, store.callCount())
	assert.ErrorIs(t, out.Err, os.ErrNotExist)
}

func TestPolicy_Normalized(t *testing.T) {
	p := Policy{MaxAttempts: 0, Min: 0, Max: 0}.normalized()
	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.Min)
	assert.Equal(t, 2*time.Second, p.Max)
}
