package worker

import (
	"context"
	"time"

	"RampTracker/internal/models"
	"RampTracker/internal/store"

	"github.com/sirupsen/logrus"
)

// Resumer takes over reconciliation of journaled orders. Resume reports
// false when the order is leased by another process.
type Resumer interface {
	Tracking(id string) bool
	Resume(ctx context.Context, order models.Order) bool
}

type Reindexer interface {
	Reindex(ctx context.Context, txHash, network string) bool
}

// Worker picks journaled orders back up after a restart and nudges the
// indexer for orders that have sat in pending past the grace window.
type Worker struct {
	Journal  store.Journal
	Orders   Resumer
	Reindex  Reindexer
	Grace    time.Duration
	Interval time.Duration
	Log      *logrus.Entry
	Now      func() time.Time
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		if err := w.SyncOnce(ctx); err != nil {
			w.log().WithError(err).Warn("sync error")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce resumes the active journaled orders that no process holds a
// live lease on. Orders still owned by another api or worker process are
// left to it.
func (w *Worker) SyncOnce(ctx context.Context) error {
	orders, err := w.Journal.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return nil
	}

	now := w.now()
	resumed, reindexed := 0, 0
	for _, order := range orders {
		// Nothing to follow until the order transaction is broadcast.
		if order.OrderID == "" && order.TxHash == "" {
			continue
		}
		if w.Orders.Tracking(order.ID) || !w.Orders.Resume(ctx, order) {
			continue
		}
		resumed++
		if w.stuck(order, now) && w.Reindex.Reindex(ctx, order.TxHash, order.Network) {
			reindexed++
		}
	}
	w.log().WithFields(logrus.Fields{
		"active":    len(orders),
		"resumed":   resumed,
		"reindexed": reindexed,
	}).Debug("sync done")
	return nil
}

func (w *Worker) stuck(order models.Order, now time.Time) bool {
	if order.Status != models.OrderPending || order.TxHash == "" || order.Reindexed {
		return false
	}
	return now.Sub(order.CreatedAt) >= w.Grace
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Worker) log() *logrus.Entry {
	if w.Log != nil {
		return w.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
