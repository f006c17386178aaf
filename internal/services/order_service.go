package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"RampTracker/internal/chain"
	"RampTracker/internal/events"
	"RampTracker/internal/models"
	"RampTracker/internal/observability"
	"RampTracker/internal/pricing"
	"RampTracker/internal/reconciler"
	"RampTracker/internal/records"
	"RampTracker/internal/store"
	"RampTracker/internal/submitter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownNetwork   = errors.New("network not configured")
	ErrUnknownToken     = errors.New("token not configured for network")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrMissingCurrency  = errors.New("missing receive currency")
	ErrMissingRecipient = errors.New("missing recipient account")
	ErrOrderNotFound    = errors.New("order not found")
	ErrClosed           = errors.New("order service closed")

	errAlreadyTracked = errors.New("order already tracked")
)

const transactionType = "transfer"

// Backend is the aggregator surface an order session talks to.
type Backend interface {
	submitter.KeySource
	pricing.RateSource
	reconciler.OrderSource
	records.Backend
}

type Analytics interface {
	Track(event, key string, props map[string]any) bool
}

type Reindexer interface {
	Reindex(ctx context.Context, txHash, network string) bool
}

type Token struct {
	Address  common.Address
	Decimals int
}

type Network struct {
	Chain  chain.Client
	Tokens map[string]Token
}

type Settings struct {
	SubmitPollInterval time.Duration
	ResolutionTimeout  time.Duration
	ReconcileInterval  time.Duration
	ReindexGrace       time.Duration
	RecordsTimeout     time.Duration
	// Lease bounds how long an order stays claimed by this process without
	// a renewal. Sessions renew at a third of it.
	Lease time.Duration
}

type SubmitRequest struct {
	Network       string
	Token         string
	Amount        decimal.Decimal
	Currency      string
	Recipient     models.Recipient
	RefundAddress common.Address
}

// OrderService runs order sessions: submission, then reconciliation, with a
// reindex check once the grace window has passed. A wallet has at most one
// live session; starting a new order cancels the previous one.
//
// Each session holds a lease on its journal row under Owner, so processes
// sharing a journal never reconcile the same order twice.
type OrderService struct {
	Networks  map[string]Network
	Backend   Backend
	Reindex   Reindexer
	Journal   store.Journal
	Events    *events.Hub
	Analytics Analytics
	Log       *logrus.Entry
	Metrics   *observability.Metrics
	Settings  Settings
	Now       func() time.Time
	Owner     string

	ownerOnce sync.Once
	owner     string

	mu       sync.Mutex
	sessions map[string]*session
	bySender map[string]string
	closed   bool
	wg       sync.WaitGroup
}

func (s *OrderService) Submit(ctx context.Context, req SubmitRequest) (models.Order, error) {
	network, ok := s.Networks[req.Network]
	if !ok {
		return models.Order{}, ErrUnknownNetwork
	}
	token, ok := network.Tokens[strings.ToUpper(req.Token)]
	if !ok {
		return models.Order{}, ErrUnknownToken
	}
	if !req.Amount.IsPositive() {
		return models.Order{}, ErrInvalidAmount
	}
	if req.Currency == "" {
		return models.Order{}, ErrMissingCurrency
	}
	if req.Recipient.AccountIdentifier == "" || req.Recipient.Institution == "" {
		return models.Order{}, ErrMissingRecipient
	}

	now := s.now()
	order := models.Order{
		ID:              uuid.NewString(),
		Network:         req.Network,
		Sender:          network.Chain.Sender().Hex(),
		AmountSent:      req.Amount,
		SendToken:       strings.ToUpper(req.Token),
		ReceiveCurrency: strings.ToUpper(req.Currency),
		Status:          models.OrderPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	sess := s.newSession(ctx, order, network, token)
	if err := s.register(sess, true); err != nil {
		sess.cancel()
		return models.Order{}, err
	}
	s.journalSave(sess.snapshot())
	if ok, err := s.claim(sess); err != nil || !ok {
		s.log().WithError(err).WithField("id", sess.id).Warn("could not claim new order")
	}
	s.holdLease(sess)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.submit(sess, req)
	}()
	return order, nil
}

// Resume picks up reconciliation of a journaled order. It reports false
// when the order is already tracked here, is leased by another process, or
// cannot be tracked.
func (s *OrderService) Resume(ctx context.Context, order models.Order) bool {
	if order.Status.Final() || order.Error != "" {
		return false
	}
	network, ok := s.Networks[order.Network]
	if !ok {
		s.log().WithFields(logrus.Fields{"id": order.ID, "network": order.Network}).Warn("cannot resume order on unknown network")
		return false
	}
	sess := s.newSession(ctx, order, network, network.Tokens[order.SendToken])
	if err := s.register(sess, false); err != nil {
		sess.cancel()
		return false
	}
	if ok, err := s.claim(sess); err != nil || !ok {
		if err != nil {
			s.log().WithError(err).WithField("id", order.ID).Warn("claim order failed")
		}
		s.drop(sess)
		return false
	}
	s.holdLease(sess)
	if order.TransactionID != "" {
		sess.records.Attach(models.TransactionRecord{ID: order.TransactionID, Status: order.Status, TxHash: order.TxHash, OrderID: order.OrderID})
	}
	if order.TxHash != "" {
		s.scheduleReindex(sess)
	}
	if order.OrderID != "" {
		s.startReconciler(sess)
	}
	s.log().WithFields(logrus.Fields{"id": order.ID, "order": order.OrderID, "status": order.Status}).Info("resumed order")
	return true
}

func (s *OrderService) Get(ctx context.Context, id string) (models.Order, error) {
	if sess := s.session(id); sess != nil {
		return sess.snapshot(), nil
	}
	if s.Journal != nil {
		order, err := s.Journal.GetOrder(ctx, id)
		if err == nil {
			return *order, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return models.Order{}, err
		}
	}
	return models.Order{}, ErrOrderNotFound
}

// Tracking reports whether id has a live session in this process.
func (s *OrderService) Tracking(id string) bool {
	return s.session(id) != nil
}

// Cancel stops and discards the session for id. Pending persistence writes
// still complete.
func (s *OrderService) Cancel(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		s.forget(sess)
	}
	s.mu.Unlock()
	if !ok {
		return ErrOrderNotFound
	}
	sess.stop()
	s.log().WithField("id", id).Info("order session cancelled")
	return nil
}

// Close stops every session and waits for in-flight work to finish.
func (s *OrderService) Close() {
	s.mu.Lock()
	s.closed = true
	all := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.sessions = nil
	s.bySender = nil
	s.mu.Unlock()

	for _, sess := range all {
		sess.stop()
	}
	s.wg.Wait()
	for _, sess := range all {
		sess.records.Wait()
	}
}

func (s *OrderService) newSession(parent context.Context, order models.Order, network Network, token Token) *session {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &session{
		id:      order.ID,
		network: network,
		token:   token,
		ctx:     ctx,
		cancel:  cancel,
		order:   order,
		records: &records.Recorder{
			Backend: s.Backend,
			Log:     s.log().WithField("id", order.ID),
			Metrics: s.Metrics,
			Timeout: s.Settings.RecordsTimeout,
		},
	}
}

// register adds sess. With supersede set, the previous session of the same
// sender is cancelled and discarded.
func (s *OrderService) register(sess *session, supersede bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.sessions == nil {
		s.sessions = map[string]*session{}
		s.bySender = map[string]string{}
	}
	if _, ok := s.sessions[sess.id]; ok {
		s.mu.Unlock()
		return errAlreadyTracked
	}
	s.sessions[sess.id] = sess
	sender := strings.ToLower(sess.order.Sender)
	if !supersede || sender == "" {
		s.mu.Unlock()
		return nil
	}
	var prev *session
	if id, ok := s.bySender[sender]; ok {
		prev = s.sessions[id]
		if prev != nil {
			s.forget(prev)
		}
	}
	s.bySender[sender] = sess.id
	s.mu.Unlock()

	if prev != nil {
		prev.stop()
		s.log().WithFields(logrus.Fields{"id": prev.id, "by": sess.id}).Info("order session superseded")
	}
	return nil
}

// forget removes sess from the indexes. Called with s.mu held.
func (s *OrderService) forget(sess *session) {
	delete(s.sessions, sess.id)
	sender := strings.ToLower(sess.order.Sender)
	if s.bySender[sender] == sess.id {
		delete(s.bySender, sender)
	}
}

func (s *OrderService) session(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *OrderService) submit(sess *session, req SubmitRequest) {
	log := s.log().WithField("id", sess.id)
	sub := &submitter.Submitter{
		Chain:             sess.network.Chain,
		Keys:              s.Backend,
		Pricing:           pricing.Service{Rates: s.Backend},
		Analytics:         s.Analytics,
		Log:               log,
		Metrics:           s.Metrics,
		PollInterval:      s.Settings.SubmitPollInterval,
		ResolutionTimeout: s.Settings.ResolutionTimeout,
	}
	res, err := sub.Submit(sess.ctx, sess.id, submitter.Params{
		Network:       req.Network,
		Token:         sess.order.SendToken,
		TokenAddress:  sess.token.Address,
		TokenDecimals: sess.token.Decimals,
		Amount:        req.Amount,
		Currency:      sess.order.ReceiveCurrency,
		Recipient:     req.Recipient,
		RefundAddress: req.RefundAddress,
		OnOrderTx: func(txHash string, quote pricing.Quote) {
			s.orderBroadcast(sess, req, txHash, quote)
		},
	})
	if err != nil {
		if sess.ctx.Err() != nil {
			return
		}
		sess.update(func(o *models.Order) { o.Error = err.Error() })
		s.journalSave(sess.snapshot())
		s.publish(events.Event{Kind: events.KindError, OrderID: sess.id, Detail: err.Error()})
		// The session stays readable, but nothing is left to reconcile.
		sess.stop()
		return
	}

	sess.update(func(o *models.Order) {
		o.OrderID = res.OrderID
		o.TxHash = res.TxHash
		o.AmountReceived = res.Quote.AmountReceived
	})
	s.journalSave(sess.snapshot())
	s.publish(events.Event{Kind: events.KindSubmitted, OrderID: sess.id, Status: models.OrderPending, Detail: res.OrderID})
	if sess.ctx.Err() == nil {
		s.startReconciler(sess)
	}
}

// orderBroadcast runs as soon as the order-creation transaction hash is
// known: it creates the transaction record and arms the reindex check.
func (s *OrderService) orderBroadcast(sess *session, req SubmitRequest, txHash string, quote pricing.Quote) {
	sess.update(func(o *models.Order) {
		o.TxHash = txHash
		o.AmountReceived = quote.AmountReceived
	})
	order := sess.snapshot()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(sess.ctx), s.recordsTimeout())
	defer cancel()
	recipient := req.Recipient
	id, err := sess.records.Create(ctx, models.TransactionRecord{
		WalletAddress:   order.Sender,
		TransactionType: transactionType,
		FromCurrency:    order.SendToken,
		ToCurrency:      order.ReceiveCurrency,
		AmountSent:      order.AmountSent,
		AmountReceived:  order.AmountReceived,
		Recipient:       &recipient,
		Status:          models.OrderPending,
		Network:         order.Network,
		TxHash:          txHash,
	})
	if err != nil {
		s.log().WithError(err).WithField("id", sess.id).Warn("create transaction record failed")
	} else {
		sess.update(func(o *models.Order) { o.TransactionID = id })
	}
	s.journalSave(sess.snapshot())
	s.scheduleReindex(sess)
}

func (s *OrderService) startReconciler(sess *session) {
	sess.mu.Lock()
	if sess.rec != nil {
		sess.mu.Unlock()
		return
	}
	rec := reconciler.New(sess.order.Clone(), reconciler.Deps{
		Source:    s.Backend,
		Records:   sess.records,
		Effects:   effects{svc: s, sess: sess},
		Analytics: s.Analytics,
		Events:    journalPublisher{svc: s, sess: sess},
		Log:       s.log(),
		Metrics:   s.Metrics,
		Interval:  s.Settings.ReconcileInterval,
		Now:       s.Now,
	})
	sess.rec = rec
	sess.mu.Unlock()

	rec.Start(sess.ctx)
	done := rec.Done()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-done
		if rec.Status().Final() {
			s.retire(sess)
		}
	}()
}

// retire drops the session of an order that reached a final status. Reads
// are then served from the journal.
func (s *OrderService) retire(sess *session) {
	s.journalSave(sess.snapshot())
	s.drop(sess)
	sess.records.Wait()
	s.log().WithField("id", sess.id).Debug("order session retired")
}

// drop removes sess if it is still registered and stops it.
func (s *OrderService) drop(sess *session) {
	s.mu.Lock()
	if s.sessions[sess.id] == sess {
		s.forget(sess)
	}
	s.mu.Unlock()
	sess.stop()
}

func (s *OrderService) claim(sess *session) (bool, error) {
	if s.Journal == nil {
		return true, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.recordsTimeout())
	defer cancel()
	return s.Journal.Claim(ctx, sess.id, s.ownerID(), s.now(), s.lease())
}

// holdLease renews the session's claim until the session ends, then
// releases it. A session that loses its claim to another process stops.
func (s *OrderService) holdLease(sess *session) {
	if s.Journal == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.lease() / 3)
		defer ticker.Stop()
		for {
			select {
			case <-sess.ctx.Done():
				ctx, cancel := context.WithTimeout(context.Background(), s.recordsTimeout())
				if err := s.Journal.Release(ctx, sess.id, s.ownerID()); err != nil {
					s.log().WithError(err).WithField("id", sess.id).Warn("release order lease failed")
				}
				cancel()
				return
			case <-ticker.C:
			}
			ok, err := s.claim(sess)
			if err != nil {
				s.log().WithError(err).WithField("id", sess.id).Warn("renew order lease failed")
				continue
			}
			if !ok {
				s.log().WithField("id", sess.id).Warn("order lease taken by another process, stopping session")
				s.drop(sess)
				return
			}
		}
	}()
}

// scheduleReindex arms the check that nudges the indexer if the order is
// still pending once the grace window after creation has passed.
func (s *OrderService) scheduleReindex(sess *session) {
	if s.Reindex == nil {
		return
	}
	grace := s.Settings.ReindexGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	created := sess.snapshot().CreatedAt
	delay := created.Add(grace).Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	sess.schedule(delay, func() { s.reindexIfStuck(sess) })
}

func (s *OrderService) reindexIfStuck(sess *session) {
	if sess.ctx.Err() != nil {
		return
	}
	order := sess.snapshot()
	if order.Status != models.OrderPending || order.TxHash == "" || order.Reindexed || order.Error != "" {
		return
	}
	if s.Reindex.Reindex(sess.ctx, order.TxHash, order.Network) {
		s.log().WithFields(logrus.Fields{"id": sess.id, "tx": order.TxHash}).Info("order still pending, reindex requested")
	}
	sess.update(func(o *models.Order) { o.Reindexed = true })
	s.journalSave(sess.snapshot())
}

func (s *OrderService) journalSave(order models.Order) {
	if s.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.recordsTimeout())
	defer cancel()
	if err := s.Journal.SaveOrder(ctx, order); err != nil {
		s.log().WithError(err).WithField("id", order.ID).Warn("journal save failed")
	}
}

func (s *OrderService) publish(ev events.Event) {
	if s.Events != nil {
		s.Events.Publish(ev)
	}
}

func (s *OrderService) recordsTimeout() time.Duration {
	if s.Settings.RecordsTimeout > 0 {
		return s.Settings.RecordsTimeout
	}
	return records.DefaultTimeout
}

func (s *OrderService) lease() time.Duration {
	if s.Settings.Lease > 0 {
		return s.Settings.Lease
	}
	return 30 * time.Second
}

func (s *OrderService) ownerID() string {
	s.ownerOnce.Do(func() {
		s.owner = s.Owner
		if s.owner == "" {
			s.owner = uuid.NewString()
		}
	})
	return s.owner
}

func (s *OrderService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *OrderService) log() *logrus.Entry {
	if s.Log != nil {
		return s.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
