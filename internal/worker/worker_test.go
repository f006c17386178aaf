package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"RampTracker/internal/models"
	"RampTracker/internal/store"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrders struct {
	mu      sync.Mutex
	tracked map[string]bool
	leased  map[string]bool
	resumed []string
}

func (f *fakeOrders) Tracking(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracked[id]
}

func (f *fakeOrders) Resume(_ context.Context, order models.Order) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leased[order.ID] {
		return false
	}
	f.tracked[order.ID] = true
	f.resumed = append(f.resumed, order.ID)
	return true
}

type fakeReindexer struct {
	seen  map[string]bool
	calls []string
}

func (f *fakeReindexer) Reindex(_ context.Context, txHash, _ string) bool {
	f.calls = append(f.calls, txHash)
	if f.seen[txHash] {
		return false
	}
	f.seen[txHash] = true
	return true
}

type failingJournal struct{ store.Journal }

func (failingJournal) ListActive(context.Context) ([]models.Order, error) {
	return nil, errors.New("connection refused")
}

func journaled(id, orderID, txHash string, status models.OrderStatus, created time.Time) models.Order {
	return models.Order{
		ID:              id,
		OrderID:         orderID,
		TxHash:          txHash,
		Network:         "base",
		AmountSent:      decimal.NewFromInt(10),
		SendToken:       "USDC",
		ReceiveCurrency: "NGN",
		Status:          status,
		CreatedAt:       created,
	}
}

func newWorker(t *testing.T, journal store.Journal, now time.Time) (*Worker, *fakeOrders, *fakeReindexer, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	orders := &fakeOrders{tracked: map[string]bool{}, leased: map[string]bool{}}
	reindex := &fakeReindexer{seen: map[string]bool{}}
	return &Worker{
		Journal:  journal,
		Orders:   orders,
		Reindex:  reindex,
		Grace:    30 * time.Second,
		Interval: time.Millisecond,
		Log:      logrus.NewEntry(logger),
		Now:      func() time.Time { return now },
	}, orders, reindex, hook
}

func TestWorker_SyncOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	journal := store.NewMemory()
	require.NoError(t, journal.SaveOrder(ctx, journaled("stuck", "0x1", "0xaa", models.OrderPending, now.Add(-45*time.Second))))
	require.NoError(t, journal.SaveOrder(ctx, journaled("fresh", "0x2", "0xbb", models.OrderPending, now.Add(-10*time.Second))))
	require.NoError(t, journal.SaveOrder(ctx, journaled("moving", "0x3", "0xcc", models.OrderFulfilling, now.Add(-time.Hour))))
	require.NoError(t, journal.SaveOrder(ctx, journaled("unresolved", "", "0xdd", models.OrderPending, now.Add(-time.Minute))))
	require.NoError(t, journal.SaveOrder(ctx, journaled("done", "0x5", "0xee", models.OrderSettled, now.Add(-time.Hour))))
	require.NoError(t, journal.SaveOrder(ctx, journaled("submitting", "", "", models.OrderPending, now.Add(-time.Minute))))

	w, orders, reindex, _ := newWorker(t, journal, now)
	require.NoError(t, w.SyncOnce(ctx))

	assert.ElementsMatch(t, []string{"stuck", "fresh", "moving", "unresolved"}, orders.resumed)
	assert.ElementsMatch(t, []string{"0xaa", "0xdd"}, reindex.calls)

	// Orders tracked here are left to their sessions.
	require.NoError(t, w.SyncOnce(ctx))
	assert.Len(t, orders.resumed, 4)
	assert.Len(t, reindex.calls, 2)
}

func TestWorker_LeavesLeasedOrdersAlone(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	journal := store.NewMemory()
	require.NoError(t, journal.SaveOrder(ctx, journaled("live", "0x1", "0xaa", models.OrderPending, now.Add(-time.Minute))))

	w, orders, reindex, _ := newWorker(t, journal, now)
	orders.leased["live"] = true
	require.NoError(t, w.SyncOnce(ctx))

	assert.Empty(t, orders.resumed)
	assert.Empty(t, reindex.calls)
}

func TestWorker_SkipsReindexedOrders(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	journal := store.NewMemory()
	order := journaled("a", "0x1", "0xaa", models.OrderPending, now.Add(-time.Minute))
	order.Reindexed = true
	require.NoError(t, journal.SaveOrder(ctx, order))

	w, _, reindex, _ := newWorker(t, journal, now)
	require.NoError(t, w.SyncOnce(ctx))
	assert.Empty(t, reindex.calls)
}

func TestWorker_RunLogsErrorsAndStops(t *testing.T) {
	w, _, _, hook := newWorker(t, failingJournal{}, time.Now())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(hook.AllEntries()) >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, "sync error", hook.LastEntry().Message)
}
