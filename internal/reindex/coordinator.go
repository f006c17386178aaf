package reindex

import (
	"context"
	"errors"
	"sync"
	"time"

	"RampTracker/internal/aggregator"
	"RampTracker/internal/guard"
	"RampTracker/internal/observability"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = time.Second
	DefaultGrace     = 30 * time.Second
)

var errNotIndexed = errors.New("indexer has not seen the order yet")

type Backend interface {
	Reindex(ctx context.Context, network, txHash string) (*aggregator.ReindexResult, error)
}

type Config struct {
	// Attempts is the number of retries after the first call.
	Attempts  uint64
	BaseDelay time.Duration
}

// Coordinator asks the backend to re-scan a transaction it has not indexed.
// At most one attempt sequence runs per transaction hash for the life of
// the process.
type Coordinator struct {
	backend Backend
	cfg     Config
	log     *logrus.Entry
	metrics *observability.Metrics
	seen    *guard.Registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(backend Backend, cfg Config, log *logrus.Entry, metrics *observability.Metrics) *Coordinator {
	if cfg.Attempts == 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		backend: backend,
		cfg:     cfg,
		log:     log.WithField("component", "reindex"),
		metrics: metrics,
		seen:    guard.NewRegistry(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Reindex starts an attempt sequence for txHash in the background and
// returns at once. It reports false when a sequence for txHash was already
// started or the coordinator is closed.
func (c *Coordinator) Reindex(ctx context.Context, txHash, network string) bool {
	if txHash == "" || c.ctx.Err() != nil {
		return false
	}
	if !c.seen.TryMark(txHash) {
		return false
	}

	// Pending retries end with either the caller's session or Close.
	runCtx, cancel := context.WithCancel(c.ctx)
	stop := context.AfterFunc(ctx, cancel)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		defer stop()
		c.run(runCtx, txHash, network)
	}()
	return true
}

// Attempted reports whether a sequence was ever started for txHash.
func (c *Coordinator) Attempted(txHash string) bool {
	return c.seen.Has(txHash)
}

func (c *Coordinator) run(ctx context.Context, txHash, network string) {
	log := c.log.WithFields(logrus.Fields{"tx": txHash, "network": network})

	attempt := 0
	op := func() error {
		attempt++
		res, err := c.backend.Reindex(ctx, network, txHash)
		switch {
		case err != nil && aggregator.IsPermanent(err):
			c.observe("rejected")
			return backoff.Permanent(err)
		case err != nil:
			c.observe("error")
			log.WithError(err).WithField("attempt", attempt).Debug("reindex attempt failed")
			return err
		case res.Events.OrderCreated == 0:
			c.observe("empty")
			return errNotIndexed
		}
		c.observe("ok")
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.cfg.BaseDelay << c.cfg.Attempts
	b.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, c.cfg.Attempts), ctx))
	switch {
	case err == nil:
		log.WithField("attempts", attempt).Info("reindex succeeded")
	case ctx.Err() != nil:
		log.Debug("reindex cancelled")
	case aggregator.IsPermanent(err):
		log.WithError(err).Warn("reindex rejected")
	default:
		log.WithError(err).WithField("attempts", attempt).Warn("reindex gave up")
	}
}

func (c *Coordinator) observe(outcome string) {
	if c.metrics != nil {
		c.metrics.ReindexAttempts.WithLabelValues(outcome).Inc()
	}
}

// Wait blocks until every running sequence has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels pending retries and waits for running sequences to exit.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}
