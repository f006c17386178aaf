package reindex

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"RampTracker/internal/aggregator"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reply struct {
	created int
	err     error
}

type fakeBackend struct {
	mu      sync.Mutex
	replies []reply
	calls   []string
	gate    chan struct{}
}

func (f *fakeBackend) Reindex(ctx context.Context, network, txHash string) (*aggregator.ReindexResult, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.calls)
	f.calls = append(f.calls, network+"/"+txHash)
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	r := f.replies[i]
	if r.err != nil {
		return nil, r.err
	}
	out := &aggregator.ReindexResult{}
	out.Events.OrderCreated = r.created
	return out, nil
}

func (f *fakeBackend) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newCoordinator(t *testing.T, backend Backend, base time.Duration) (*Coordinator, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	c := New(backend, Config{Attempts: 3, BaseDelay: base}, logrus.NewEntry(logger), nil)
	t.Cleanup(c.Close)
	return c, hook
}

func countMessages(hook *test.Hook, msg string) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Message == msg {
			n++
		}
	}
	return n
}

func serverError() error {
	return &aggregator.StatusError{Code: http.StatusBadGateway}
}

func TestReindex_ClientErrorAbortsAfterOneAttempt(t *testing.T) {
	backend := &fakeBackend{replies: []reply{{err: &aggregator.StatusError{Code: http.StatusBadRequest, Body: "invalid hash"}}}}
	c, hook := newCoordinator(t, backend, time.Millisecond)

	require.True(t, c.Reindex(context.Background(), "0xabc", "base"))
	c.Wait()

	assert.Equal(t, 1, backend.count())
	assert.Equal(t, 1, countMessages(hook, "reindex rejected"))
	assert.Equal(t, 0, countMessages(hook, "reindex succeeded"))
	assert.Equal(t, 0, countMessages(hook, "reindex gave up"))
}

func TestReindex_RateLimitedIsNotRetried(t *testing.T) {
	backend := &fakeBackend{replies: []reply{{err: &aggregator.StatusError{Code: http.StatusTooManyRequests}}}}
	c, hook := newCoordinator(t, backend, time.Millisecond)

	require.True(t, c.Reindex(context.Background(), "0xabc", "base"))
	c.Wait()

	assert.Equal(t, 1, backend.count())
	assert.Equal(t, 1, countMessages(hook, "reindex rejected"))
	assert.Equal(t, 0, countMessages(hook, "reindex gave up"))
}

func TestReindex_TransientErrorsThenSuccess(t *testing.T) {
	backend := &fakeBackend{replies: []reply{
		{err: serverError()},
		{err: serverError()},
		{created: 1},
	}}
	c, hook := newCoordinator(t, backend, time.Millisecond)

	require.True(t, c.Reindex(context.Background(), "0xabc", "base"))
	c.Wait()

	assert.Equal(t, 3, backend.count())
	assert.Equal(t, 1, countMessages(hook, "reindex succeeded"))
	assert.Equal(t, 0, countMessages(hook, "reindex gave up"))
}

func TestReindex_EmptyResultRetriesThenGivesUp(t *testing.T) {
	backend := &fakeBackend{replies: []reply{{created: 0}}}
	c, hook := newCoordinator(t, backend, time.Millisecond)

	c.Reindex(context.Background(), "0xabc", "base")
	c.Wait()

	assert.Equal(t, 4, backend.count())
	assert.Equal(t, 1, countMessages(hook, "reindex gave up"))
	assert.Equal(t, 0, countMessages(hook, "reindex succeeded"))
}

func TestReindex_NetworkErrorsExhausted(t *testing.T) {
	backend := &fakeBackend{replies: []reply{{err: errors.New("dial tcp: connection refused")}}}
	c, hook := newCoordinator(t, backend, time.Millisecond)

	c.Reindex(context.Background(), "0xabc", "base")
	c.Wait()

	assert.Equal(t, 4, backend.count())
	entries := hook.AllEntries()
	last := entries[len(entries)-1]
	assert.Equal(t, "reindex gave up", last.Message)
	assert.Equal(t, logrus.WarnLevel, last.Level)
}

func TestReindex_OneSequencePerHash(t *testing.T) {
	backend := &fakeBackend{replies: []reply{{created: 1}}, gate: make(chan struct{})}
	c, hook := newCoordinator(t, backend, time.Millisecond)

	var wg sync.WaitGroup
	started := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- c.Reindex(context.Background(), "0xabc", "base")
		}()
	}
	wg.Wait()
	close(started)
	close(backend.gate)
	c.Wait()

	n := 0
	for ok := range started {
		if ok {
			n++
		}
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, backend.count())
	assert.Equal(t, 1, countMessages(hook, "reindex succeeded"))
	assert.True(t, c.Attempted("0xabc"))
	assert.False(t, c.Attempted("0xdef"))

	// A finished sequence is not restarted either.
	assert.False(t, c.Reindex(context.Background(), "0xabc", "base"))
}

func TestReindex_BackoffSchedule(t *testing.T) {
	backend := &fakeBackend{replies: []reply{{created: 0}, {created: 0}, {created: 1}}}
	c, _ := newCoordinator(t, backend, 20*time.Millisecond)

	start := time.Now()
	c.Reindex(context.Background(), "0xabc", "base")
	c.Wait()

	// 20ms then 40ms between the three calls.
	assert.Equal(t, 3, backend.count())
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestReindex_CancelClearsPendingRetry(t *testing.T) {
	backend := &fakeBackend{replies: []reply{{created: 0}}}
	c, hook := newCoordinator(t, backend, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	c.Reindex(ctx, "0xabc", "base")
	require.Eventually(t, func() bool { return backend.count() == 1 }, time.Second, time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retry timer was not cleared")
	}
	assert.Equal(t, 1, backend.count())
	assert.Equal(t, 1, countMessages(hook, "reindex cancelled"))
}

func TestReindex_ClosedCoordinatorRefuses(t *testing.T) {
	backend := &fakeBackend{replies: []reply{{created: 1}}}
	c, _ := newCoordinator(t, backend, time.Millisecond)
	c.Close()

	assert.False(t, c.Reindex(context.Background(), "0xabc", "base"))
	assert.False(t, c.Reindex(context.Background(), "", "base"))
	assert.Equal(t, 0, backend.count())
}
