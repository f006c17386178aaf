package services

import (
	"context"
	"errors"
	"time"

	"RampTracker/internal/events"
	"RampTracker/internal/models"
	"RampTracker/internal/payments"
	"RampTracker/internal/store"

	"github.com/ethereum/go-ethereum/common"
)

// effects signals the user-facing reactions of a finished order to
// observers of the event hub.
type effects struct {
	svc  *OrderService
	sess *session
}

func (e effects) Celebrate(_ context.Context, order models.Order) {
	e.svc.publish(events.Event{Kind: events.KindCelebrate, OrderID: order.ID, Status: order.Status})
}

func (e effects) RefreshBalance(ctx context.Context, order models.Order) {
	token := e.sess.token
	if token.Address == (common.Address{}) || order.Sender == "" {
		return
	}
	units, err := e.sess.network.Chain.TokenBalance(ctx, token.Address, common.HexToAddress(order.Sender))
	if err != nil {
		e.svc.log().WithError(err).WithField("id", order.ID).Warn("balance refresh failed")
		return
	}
	e.svc.publish(events.Event{
		Kind:    events.KindBalance,
		OrderID: order.ID,
		Status:  order.Status,
		Detail:  payments.FromBaseUnits(units, token.Decimals).String(),
	})
}

// journalPublisher forwards reconciler events to the hub and records each
// status change in the journal.
type journalPublisher struct {
	svc  *OrderService
	sess *session
}

func (p journalPublisher) Publish(ev events.Event) {
	p.svc.publish(ev)
	if ev.Kind != events.KindStatus || p.svc.Journal == nil {
		return
	}
	order := p.sess.snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.svc.Journal.UpdateStatus(ctx, order.ID, ev.Status, order.CompletedAt)
	if errors.Is(err, store.ErrNotFound) {
		err = p.svc.Journal.SaveOrder(ctx, order)
	}
	if err != nil {
		p.svc.log().WithError(err).WithField("id", order.ID).Warn("journal status update failed")
	}
}
