package store

import (
	"context"
	"errors"
	"time"

	"RampTracker/internal/models"
)

var ErrNotFound = errors.New("order not found")

// Journal keeps tracked orders across restarts so reconciliation can resume.
// Every process that reconciles an order holds a lease on its row, so a
// journal shared by several processes never has two of them polling the
// same order.
type Journal interface {
	// SaveOrder inserts order or updates the row with the same id. The
	// status of an existing row is left alone; it moves only through
	// UpdateStatus.
	SaveOrder(ctx context.Context, order models.Order) error
	UpdateStatus(ctx context.Context, id string, status models.OrderStatus, completedAt *time.Time) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	// ListActive returns non-final orders whose submission did not fail.
	ListActive(ctx context.Context) ([]models.Order, error)
	// Claim takes or renews the lease on id for owner until now+lease. It
	// reports false while another owner holds a lease that has not expired.
	Claim(ctx context.Context, id, owner string, now time.Time, lease time.Duration) (bool, error)
	// Release drops owner's lease on id, if it still holds it.
	Release(ctx context.Context, id, owner string) error
}

// activeStatuses are the statuses the worker keeps reconciling.
var activeStatuses = []string{
	string(models.OrderPending),
	string(models.OrderFulfilling),
	string(models.OrderFulfilled),
	string(models.OrderRefunding),
}
