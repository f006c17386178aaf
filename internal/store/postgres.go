package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"RampTracker/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const orderColumns = `
	id, order_id, tx_hash, network, sender,
	amount_sent::text, amount_received::text, send_token, receive_currency,
	status, tx_receipts, transaction_id, reindexed, error,
	created_at, completed_at, updated_at`

// SaveOrder inserts order or updates the journaled row with the same id.
// status is not part of the update; a snapshot taken before a concurrent
// UpdateStatus must not move it back.
func (s *Store) SaveOrder(ctx context.Context, order models.Order) error {
	receipts, err := json.Marshal(order.TxReceipts)
	if err != nil {
		return fmt.Errorf("encode receipts: %w", err)
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO tracked_orders (
			id, order_id, tx_hash, network, sender,
			amount_sent, amount_received, send_token, receive_currency,
			status, tx_receipts, transaction_id, reindexed, error,
			created_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO UPDATE SET
			order_id=EXCLUDED.order_id,
			tx_hash=EXCLUDED.tx_hash,
			tx_receipts=EXCLUDED.tx_receipts,
			transaction_id=EXCLUDED.transaction_id,
			reindexed=EXCLUDED.reindexed,
			error=EXCLUDED.error,
			completed_at=COALESCE(tracked_orders.completed_at, EXCLUDED.completed_at),
			updated_at=now()
	`,
		order.ID,
		order.OrderID,
		order.TxHash,
		order.Network,
		order.Sender,
		order.AmountSent.String(),
		order.AmountReceived.String(),
		order.SendToken,
		order.ReceiveCurrency,
		order.Status,
		receipts,
		order.TransactionID,
		order.Reindexed,
		order.Error,
		order.CreatedAt,
		order.CompletedAt,
	)
	return err
}

// UpdateStatus records a status change. completed_at is written only once.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.OrderStatus, completedAt *time.Time) error {
	res, err := s.Pool.Exec(ctx, `
		UPDATE tracked_orders
		SET status=$2, completed_at=COALESCE(completed_at, $3), updated_at=now()
		WHERE id=$1
	`, id, status, completedAt)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM tracked_orders WHERE id=$1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) ListActive(ctx context.Context) ([]models.Order, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM tracked_orders
		WHERE status = ANY($1) AND error = ''
		ORDER BY created_at
	`, activeStatuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func (s *Store) Claim(ctx context.Context, id, owner string, now time.Time, lease time.Duration) (bool, error) {
	var claimed string
	err := s.Pool.QueryRow(ctx, `
		UPDATE tracked_orders
		SET owner=$2, lease_until=$4
		WHERE id=$1 AND (owner='' OR owner=$2 OR lease_until IS NULL OR lease_until <= $3)
		RETURNING id
	`, id, owner, now, now.Add(lease)).Scan(&claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := s.GetOrder(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Release(ctx context.Context, id, owner string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE tracked_orders SET owner='', lease_until=NULL
		WHERE id=$1 AND owner=$2
	`, id, owner)
	return err
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var order models.Order
	var sent, received string
	var receipts []byte
	var completedAt sql.NullTime

	err := row.Scan(
		&order.ID,
		&order.OrderID,
		&order.TxHash,
		&order.Network,
		&order.Sender,
		&sent,
		&received,
		&order.SendToken,
		&order.ReceiveCurrency,
		&order.Status,
		&receipts,
		&order.TransactionID,
		&order.Reindexed,
		&order.Error,
		&order.CreatedAt,
		&completedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if order.AmountSent, err = decimal.NewFromString(sent); err != nil {
		return nil, fmt.Errorf("amount_sent: %w", err)
	}
	if order.AmountReceived, err = decimal.NewFromString(received); err != nil {
		return nil, fmt.Errorf("amount_received: %w", err)
	}
	if len(receipts) > 0 {
		if err := json.Unmarshal(receipts, &order.TxReceipts); err != nil {
			return nil, fmt.Errorf("tx_receipts: %w", err)
		}
	}
	if completedAt.Valid {
		order.CompletedAt = &completedAt.Time
	}
	return &order, nil
}
