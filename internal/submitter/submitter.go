package submitter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"RampTracker/internal/analytics"
	"RampTracker/internal/chain"
	"RampTracker/internal/cipher"
	"RampTracker/internal/models"
	"RampTracker/internal/observability"
	"RampTracker/internal/payments"
	"RampTracker/internal/pricing"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval      = 2 * time.Second
	DefaultResolutionTimeout = 2 * time.Minute
)

var (
	ErrChainRejected     = errors.New("transaction rejected")
	ErrResolutionTimeout = errors.New("order creation event not observed")
	ErrEncryptRecipient  = errors.New("recipient encryption failed")

	errNotObserved = errors.New("order created event not yet observed")
)

type KeySource interface {
	PublicKey(ctx context.Context) (string, error)
}

type Analytics interface {
	Track(event, key string, props map[string]any) bool
}

type Params struct {
	Network            string
	Token              string
	TokenAddress       common.Address
	TokenDecimals      int
	Amount             decimal.Decimal
	Currency           string
	Recipient          models.Recipient
	RefundAddress      common.Address
	SenderFeeRecipient common.Address
	SenderFee          *big.Int
	// OnOrderTx runs once the order-creation transaction is broadcast,
	// before it is mined.
	OnOrderTx func(txHash string, quote pricing.Quote)
}

type Result struct {
	OrderID     string
	TxHash      string
	Quote       pricing.Quote
	BlockNumber uint64
}

type Submitter struct {
	Chain             chain.Client
	Keys              KeySource
	Pricing           pricing.Service
	Analytics         Analytics
	Log               *logrus.Entry
	Metrics           *observability.Metrics
	PollInterval      time.Duration
	ResolutionTimeout time.Duration
}

// Submit approves the gateway for the exact amount, creates the order, and
// waits for the OrderCreated event to learn the order id. attemptID keys the
// analytics events of this attempt.
func (s *Submitter) Submit(ctx context.Context, attemptID string, p Params) (*Result, error) {
	log := s.Log.WithFields(logrus.Fields{"attempt": attemptID, "network": p.Network})
	props := map[string]any{
		"network":  p.Network,
		"token":    p.Token,
		"amount":   p.Amount.String(),
		"currency": p.Currency,
	}

	res, err := s.submit(ctx, log, attemptID, p, props)
	if err != nil {
		outcome := "failed"
		if errors.Is(err, context.Canceled) {
			outcome = "cancelled"
		}
		s.observe(outcome)
		failProps := map[string]any{"reason": err.Error()}
		for k, v := range props {
			failProps[k] = v
		}
		s.track(analytics.EventSubmissionFailed, attemptID, failProps)
		log.WithError(err).Warn("order submission failed")
		return nil, err
	}
	s.observe("submitted")
	props["order_id"] = res.OrderID
	props["tx_hash"] = res.TxHash
	s.track(analytics.EventSubmissionCompleted, attemptID, props)
	log.WithFields(logrus.Fields{"order": res.OrderID, "tx": res.TxHash}).Info("order submitted")
	return res, nil
}

func (s *Submitter) submit(ctx context.Context, log *logrus.Entry, attemptID string, p Params, props map[string]any) (*Result, error) {
	pub, err := s.Keys.PublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptRecipient, err)
	}
	messageHash, err := cipher.EncryptRecipient(pub, p.Recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptRecipient, err)
	}

	quote, err := s.Pricing.CurrentQuote(ctx, p.Token, p.Amount, p.Currency)
	if err != nil {
		return nil, err
	}
	amount, err := payments.ToBaseUnits(p.Amount, p.TokenDecimals)
	if err != nil {
		return nil, err
	}

	s.track(analytics.EventSubmissionStarted, attemptID, props)

	approveHash, err := s.Chain.Approve(ctx, p.TokenAddress, amount)
	if err != nil {
		return nil, rejected(ctx, "approve", err)
	}
	log.WithField("tx", approveHash).Debug("approval sent")
	if err := s.confirm(ctx, approveHash); err != nil {
		return nil, err
	}

	sender := s.Chain.Sender()
	refund := p.RefundAddress
	if refund == (common.Address{}) {
		refund = sender
	}
	senderFee := p.SenderFee
	if senderFee == nil {
		senderFee = new(big.Int)
	}
	orderHash, err := s.Chain.CreateOrder(ctx, chain.OrderRequest{
		Token:              p.TokenAddress,
		Amount:             amount,
		Rate:               quote.ScaledRate(),
		SenderFeeRecipient: p.SenderFeeRecipient,
		SenderFee:          senderFee,
		RefundAddress:      refund,
		MessageHash:        messageHash,
	})
	if err != nil {
		return nil, rejected(ctx, "createOrder", err)
	}
	if p.OnOrderTx != nil {
		p.OnOrderTx(orderHash, quote)
	}
	log.WithField("tx", orderHash).Debug("order creation sent")

	receipt, err := s.Chain.WaitReceipt(ctx, orderHash)
	if err != nil {
		return nil, err
	}
	if !receipt.Success {
		return nil, fmt.Errorf("%w: createOrder %s: %v", ErrChainRejected, orderHash, chain.ErrReverted)
	}

	ev, err := s.resolve(ctx, chain.OrderFilter{
		Sender:    sender,
		Token:     p.TokenAddress,
		Amount:    amount,
		FromBlock: receipt.BlockNumber,
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		OrderID:     ev.OrderID,
		TxHash:      orderHash,
		Quote:       quote,
		BlockNumber: ev.BlockNumber,
	}, nil
}

func (s *Submitter) confirm(ctx context.Context, txHash string) error {
	receipt, err := s.Chain.WaitReceipt(ctx, txHash)
	if err != nil {
		return err
	}
	if !receipt.Success {
		return fmt.Errorf("%w: approve %s: %v", ErrChainRejected, txHash, chain.ErrReverted)
	}
	return nil
}

// resolve polls for the OrderCreated log on a fixed interval until it shows
// up, the resolution window closes, or ctx is cancelled.
func (s *Submitter) resolve(ctx context.Context, filter chain.OrderFilter) (*chain.OrderCreated, error) {
	interval := s.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := s.ResolutionTimeout
	if timeout <= 0 {
		timeout = DefaultResolutionTimeout
	}
	retries := uint64(timeout / interval)

	var found *chain.OrderCreated
	op := func() error {
		ev, err := s.Chain.FindOrderCreated(ctx, filter)
		if err != nil {
			s.Log.WithError(err).Debug("order log lookup failed")
			return err
		}
		if ev == nil {
			return errNotObserved
		}
		found = ev
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), retries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrResolutionTimeout, err)
	}
	return found, nil
}

func (s *Submitter) track(event, key string, props map[string]any) {
	if s.Analytics != nil {
		s.Analytics.Track(event, key, props)
	}
}

func (s *Submitter) observe(outcome string) {
	if s.Metrics != nil {
		s.Metrics.Submissions.WithLabelValues(outcome).Inc()
	}
}

func rejected(ctx context.Context, step string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %s: %v", ErrChainRejected, step, err)
}
