package services

import (
	"context"
	"sync"
	"time"

	"RampTracker/internal/models"
	"RampTracker/internal/reconciler"
	"RampTracker/internal/records"
)

// session owns one order from submission until it is cancelled,
// superseded, or the service closes.
type session struct {
	id      string
	network Network
	token   Token
	ctx     context.Context
	cancel  context.CancelFunc
	records *records.Recorder

	mu    sync.Mutex
	order models.Order
	rec   *reconciler.Reconciler
	timer *time.Timer
}

// snapshot merges the fields the reconciler owns with those the service
// owns.
func (ss *session) snapshot() models.Order {
	ss.mu.Lock()
	base, rec := ss.order.Clone(), ss.rec
	ss.mu.Unlock()
	if base.TransactionID == "" {
		base.TransactionID = ss.records.ID()
	}
	if rec == nil {
		return base
	}
	o := rec.Snapshot()
	o.Reindexed = base.Reindexed
	o.TransactionID = base.TransactionID
	o.Error = base.Error
	return o
}

func (ss *session) update(fn func(o *models.Order)) {
	ss.mu.Lock()
	fn(&ss.order)
	ss.mu.Unlock()
}

func (ss *session) reconciler() *reconciler.Reconciler {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.rec
}

func (ss *session) schedule(d time.Duration, fn func()) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.timer != nil {
		ss.timer.Stop()
	}
	ss.timer = time.AfterFunc(d, fn)
}

// stop cancels the session, clears its timer and waits for polling to end.
func (ss *session) stop() {
	ss.cancel()
	ss.mu.Lock()
	if ss.timer != nil {
		ss.timer.Stop()
	}
	rec := ss.rec
	ss.mu.Unlock()
	if rec != nil {
		rec.Stop()
	}
}
