package records

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"RampTracker/internal/aggregator"
	"RampTracker/internal/guard"
	"RampTracker/internal/models"
	"RampTracker/internal/observability"

	"github.com/sirupsen/logrus"
)

var (
	ErrNoRecord = errors.New("transaction record not created")
	ErrStale    = errors.New("superseded by a newer update")
)

const DefaultTimeout = 20 * time.Second

type Backend interface {
	CreateTransaction(ctx context.Context, rec models.TransactionRecord) (*models.TransactionRecord, error)
	UpdateTransaction(ctx context.Context, id string, patch aggregator.TransactionPatch) (*models.TransactionRecord, error)
}

// Recorder keeps one order's user-facing transaction record in sync with
// the backend. Updates may complete out of order; only the result of the
// most recently issued update is applied to the local view.
type Recorder struct {
	Backend Backend
	Log     *logrus.Entry
	Metrics *observability.Metrics
	Timeout time.Duration

	guard guard.RaceGuard
	wg    sync.WaitGroup

	createMu sync.Mutex

	mu        sync.Mutex
	persisted models.TransactionRecord
	draft     *models.TransactionRecord
}

// Create sends rec to the backend. When that fails rec is kept, and the
// next Update creates it before patching.
func (r *Recorder) Create(ctx context.Context, rec models.TransactionRecord) (string, error) {
	r.createMu.Lock()
	defer r.createMu.Unlock()
	if id := r.ID(); id != "" {
		return id, nil
	}

	out, err := r.Backend.CreateTransaction(ctx, rec)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		draft := rec
		r.draft = &draft
		return "", err
	}
	r.persisted = rec
	r.persisted.ID = out.ID
	r.draft = nil
	return out.ID, nil
}

func (r *Recorder) ensure(ctx context.Context) (string, error) {
	if id := r.ID(); id != "" {
		return id, nil
	}
	r.mu.Lock()
	draft := r.draft
	r.mu.Unlock()
	if draft == nil {
		return "", ErrNoRecord
	}
	id, err := r.Create(ctx, *draft)
	if err != nil {
		return "", fmt.Errorf("create transaction record: %w", err)
	}
	r.logger().WithField("record", id).Info("transaction record created on retry")
	return id, nil
}

// Attach adopts a record created by an earlier process so updates can be
// sent without creating it again.
func (r *Recorder) Attach(rec models.TransactionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persisted = rec
}

// Update sends patch and applies it locally unless a newer update was
// issued while it was in flight, in which case ErrStale is returned.
func (r *Recorder) Update(ctx context.Context, patch aggregator.TransactionPatch) error {
	token := r.guard.Issue()
	id, err := r.ensure(ctx)
	if err != nil {
		return err
	}
	if _, err := r.Backend.UpdateTransaction(ctx, id, patch); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.guard.Valid(token) {
		if r.Metrics != nil {
			r.Metrics.StaleDiscards.Inc()
		}
		return ErrStale
	}
	applyPatch(&r.persisted, patch)
	return nil
}

// Dispatch runs Update in the background on a context detached from ctx's
// cancellation, so a final write survives the session being torn down.
func (r *Recorder) Dispatch(ctx context.Context, patch aggregator.TransactionPatch) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		err := r.Update(ctx, patch)
		switch {
		case err == nil:
		case errors.Is(err, ErrStale):
			r.logger().WithField("status", patch.Status).Debug("discarded stale transaction update")
		default:
			r.logger().WithError(err).WithField("status", patch.Status).Warn("transaction update failed")
		}
	}()
}

// Wait blocks until every dispatched update has finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persisted.ID
}

// Persisted returns the last applied state of the record.
func (r *Recorder) Persisted() models.TransactionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persisted
}

func (r *Recorder) logger() *logrus.Entry {
	if r.Log != nil {
		return r.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func applyPatch(rec *models.TransactionRecord, patch aggregator.TransactionPatch) {
	if patch.Status != "" {
		rec.Status = patch.Status
	}
	if patch.TxHash != "" {
		rec.TxHash = patch.TxHash
	}
	if patch.OrderID != "" {
		rec.OrderID = patch.OrderID
	}
	if patch.TimeSpent != "" {
		rec.TimeSpent = patch.TimeSpent
	}
}
