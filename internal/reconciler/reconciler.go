package reconciler

import (
	"context"
	"sync"
	"time"

	"RampTracker/internal/aggregator"
	"RampTracker/internal/analytics"
	"RampTracker/internal/events"
	"RampTracker/internal/models"
	"RampTracker/internal/observability"

	"github.com/sirupsen/logrus"
)

const DefaultInterval = 5 * time.Second

type OrderSource interface {
	Order(ctx context.Context, orderID string) (*aggregator.OrderSnapshot, error)
}

// Persister writes transaction record updates in the background.
type Persister interface {
	Dispatch(ctx context.Context, patch aggregator.TransactionPatch)
}

// Effects are the user-facing reactions to reaching a final status.
type Effects interface {
	Celebrate(ctx context.Context, order models.Order)
	RefreshBalance(ctx context.Context, order models.Order)
}

type Analytics interface {
	Track(event, key string, props map[string]any) bool
}

type Publisher interface {
	Publish(ev events.Event)
}

type Deps struct {
	Source    OrderSource
	Records   Persister
	Effects   Effects
	Analytics Analytics
	Events    Publisher
	Log       *logrus.Entry
	Metrics   *observability.Metrics
	Interval  time.Duration
	Now       func() time.Time
}

// Reconciler keeps one order's local status in step with the backend. It is
// the only writer of the order's status.
type Reconciler struct {
	deps Deps
	log  *logrus.Entry

	mu     sync.Mutex
	order  models.Order
	cancel context.CancelFunc
	done   chan struct{}
}

func New(order models.Order, deps Deps) *Reconciler {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log == nil {
		deps.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if order.Status == "" {
		order.Status = models.OrderPending
	}
	return &Reconciler{
		deps:  deps,
		log:   deps.Log.WithFields(logrus.Fields{"component": "reconciler", "id": order.ID, "order": order.OrderID}),
		order: order,
	}
}

// Start begins polling in the background. Calling Start on a running
// reconciler does nothing.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go r.run(ctx, done)
}

// Stop cancels polling, clears the pending timer and waits for the loop to
// exit.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed once polling has ended, either at a final status or on
// Stop. It is nil before Start.
func (r *Reconciler) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Reconciler) Snapshot() models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Clone()
}

func (r *Reconciler) Status() models.OrderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Status
}

func (r *Reconciler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	if r.Status().Final() {
		return
	}
	if m := r.deps.Metrics; m != nil {
		m.ActiveOrders.Inc()
		defer m.ActiveOrders.Dec()
	}

	// The next poll is armed only after the previous one returns, so a slow
	// backend never stacks requests.
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if !r.Tick(ctx) {
			if ctx.Err() == nil {
				r.log.WithField("status", r.Status()).Info("reconciliation finished")
			}
			return
		}
		timer.Reset(r.deps.Interval)
	}
}

// Tick polls the backend once and applies the result. It reports whether
// polling should continue. Poll failures never change local state.
func (r *Reconciler) Tick(ctx context.Context) bool {
	started := r.deps.Now()
	snap, err := r.deps.Source.Order(ctx, r.Snapshot().OrderID)
	if m := r.deps.Metrics; m != nil {
		m.PollLatency.Observe(time.Since(started).Seconds())
	}
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		r.observePoll("error")
		r.log.WithError(err).Warn("order poll failed")
		return true
	}
	r.observePoll("ok")
	return r.Apply(ctx, snap)
}

type effect func(ctx context.Context, order models.Order)

// Apply folds a backend snapshot into the local order, running entry
// actions for a newly entered status. It reports whether polling should
// continue.
func (r *Reconciler) Apply(ctx context.Context, snap *aggregator.OrderSnapshot) bool {
	r.mu.Lock()
	r.mergeReceipts(snap.TxReceipts)
	cur, next := r.order.Status, snap.Status
	if next == cur || !cur.CanAdvance(next) {
		if next != cur {
			r.log.WithFields(logrus.Fields{"held": cur, "remote": next}).Debug("ignored non-forward status")
		}
		r.mu.Unlock()
		return !cur.Final()
	}

	now := r.deps.Now().UTC()
	r.order.Status = next
	r.order.UpdatedAt = now
	effects := r.enter(next, now)
	order := r.order.Clone()
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"from": cur, "to": next}).Info("order status changed")
	if m := r.deps.Metrics; m != nil {
		m.Transitions.WithLabelValues(string(next)).Inc()
	}
	if r.deps.Events != nil {
		r.deps.Events.Publish(events.Event{Kind: events.KindStatus, OrderID: order.ID, Status: next, At: now})
	}
	for _, fn := range effects {
		fn(ctx, order)
	}
	return !next.Final()
}

// enter mutates the order for status s and returns the side effects to run
// once the lock is released. Called with r.mu held.
func (r *Reconciler) enter(s models.OrderStatus, now time.Time) []effect {
	var out []effect

	if s == models.OrderFulfilling && r.order.TxHash == "" {
		if hash := settlementHash(r.order.TxReceipts); hash != "" {
			r.order.TxHash = hash
			out = append(out, r.persist(aggregator.TransactionPatch{Status: s, TxHash: hash}))
		}
	}

	if !s.Final() {
		return out
	}

	if r.order.CompletedAt == nil {
		r.order.CompletedAt = &now
		patch := aggregator.TransactionPatch{
			Status:    s,
			TxHash:    r.order.TxHash,
			OrderID:   r.order.OrderID,
			TimeSpent: r.order.Duration().Round(time.Second).String(),
		}
		out = append(out, r.persist(patch))
	}

	if s.Successful() && !r.order.ConfettiShown {
		r.order.ConfettiShown = true
		if r.deps.Effects != nil {
			out = append(out, r.deps.Effects.Celebrate)
		}
	}

	if !r.order.Tracked {
		r.order.Tracked = true
		event := analytics.EventSwapCompleted
		if s == models.OrderRefunded {
			event = analytics.EventSwapFailed
		}
		props := map[string]any{
			"order_id": r.order.OrderID,
			"network":  r.order.Network,
			"token":    r.order.SendToken,
			"currency": r.order.ReceiveCurrency,
			"amount":   r.order.AmountSent.String(),
			"status":   string(s),
		}
		key := r.order.ID
		out = append(out, func(context.Context, models.Order) {
			if r.deps.Analytics != nil {
				r.deps.Analytics.Track(event, key, props)
			}
		})
	}

	if r.deps.Effects != nil {
		out = append(out, r.deps.Effects.RefreshBalance)
	}
	return out
}

func (r *Reconciler) persist(patch aggregator.TransactionPatch) effect {
	return func(ctx context.Context, _ models.Order) {
		if r.deps.Records != nil {
			r.deps.Records.Dispatch(ctx, patch)
		}
	}
}

// mergeReceipts appends receipts not yet seen. Called with r.mu held.
func (r *Reconciler) mergeReceipts(in []models.TxReceipt) {
	for _, rc := range in {
		if rc.TxHash == "" || hasReceipt(r.order.TxReceipts, rc) {
			continue
		}
		r.order.TxReceipts = append(r.order.TxReceipts, rc)
	}
}

func hasReceipt(list []models.TxReceipt, rc models.TxReceipt) bool {
	for _, have := range list {
		if have.TxHash == rc.TxHash && have.Status == rc.Status {
			return true
		}
	}
	return false
}

// settlementHash picks the latest pending leg, or the latest leg of any
// status when none is pending.
func settlementHash(receipts []models.TxReceipt) string {
	for i := len(receipts) - 1; i >= 0; i-- {
		if receipts[i].Status == string(models.OrderPending) {
			return receipts[i].TxHash
		}
	}
	if n := len(receipts); n > 0 {
		return receipts[n-1].TxHash
	}
	return ""
}

func (r *Reconciler) observePoll(result string) {
	if m := r.deps.Metrics; m != nil {
		m.Polls.WithLabelValues(result).Inc()
	}
}
