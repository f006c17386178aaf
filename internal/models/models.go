package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderFulfilling OrderStatus = "fulfilling"
	OrderFulfilled  OrderStatus = "fulfilled"
	OrderValidated  OrderStatus = "validated"
	OrderSettling   OrderStatus = "settling"
	OrderSettled    OrderStatus = "settled"
	OrderRefunding  OrderStatus = "refunding"
	OrderRefunded   OrderStatus = "refunded"
)

// rank orders statuses along their branch. The refund branch starts above
// fulfilled so that a refund can only be entered before validation.
var rank = map[OrderStatus]int{
	OrderPending:    0,
	OrderFulfilling: 1,
	OrderFulfilled:  2,
	OrderValidated:  3,
	OrderSettling:   4,
	OrderSettled:    5,
	OrderRefunding:  10,
	OrderRefunded:   11,
}

func (s OrderStatus) Known() bool {
	_, ok := rank[s]
	return ok
}

func (s OrderStatus) refund() bool {
	return s == OrderRefunding || s == OrderRefunded
}

// CanAdvance reports whether moving from s to next is a forward edge of the
// status graph. Skipping intermediate states on the same branch is allowed.
func (s OrderStatus) CanAdvance(next OrderStatus) bool {
	if !s.Known() || !next.Known() || s == next {
		return false
	}
	if next.refund() && !s.refund() {
		return s == OrderPending || s == OrderFulfilling || s == OrderFulfilled
	}
	if s.refund() && !next.refund() {
		return false
	}
	return rank[next] > rank[s]
}

// Successful reports whether s is on the success side past validation.
func (s OrderStatus) Successful() bool {
	return s == OrderValidated || s == OrderSettling || s == OrderSettled
}

// Final reports whether polling stops at s and the record is persisted.
func (s OrderStatus) Final() bool {
	return s.Successful() || s == OrderRefunded
}

func (s OrderStatus) Terminal() bool {
	return s == OrderSettled || s == OrderRefunded
}

type TxReceipt struct {
	Status    string    `json:"status"`
	TxHash    string    `json:"txHash"`
	Timestamp time.Time `json:"timestamp"`
}

type Order struct {
	ID              string
	OrderID         string
	TxHash          string
	Network         string
	Sender          string
	AmountSent      decimal.Decimal
	AmountReceived  decimal.Decimal
	SendToken       string
	ReceiveCurrency string
	Status          OrderStatus
	TxReceipts      []TxReceipt
	TransactionID   string
	Tracked         bool
	Reindexed       bool
	ConfettiShown   bool
	Error           string
	CreatedAt       time.Time
	CompletedAt     *time.Time
	UpdatedAt       time.Time
}

// Clone returns a copy that shares no mutable state with o.
func (o *Order) Clone() Order {
	c := *o
	if o.TxReceipts != nil {
		c.TxReceipts = append([]TxReceipt(nil), o.TxReceipts...)
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// Duration is the time between creation and completion, zero while open.
func (o *Order) Duration() time.Duration {
	if o.CompletedAt == nil {
		return 0
	}
	return o.CompletedAt.Sub(o.CreatedAt)
}

// Recipient is the off-chain payment destination embedded, encrypted, in
// the on-chain order.
type Recipient struct {
	AccountIdentifier string `json:"accountIdentifier"`
	AccountName       string `json:"accountName"`
	Institution       string `json:"institution"`
	ProviderID        string `json:"providerId,omitempty"`
	Memo              string `json:"memo"`
}

// TransactionRecord mirrors the user-facing transaction row kept by the
// backend.
type TransactionRecord struct {
	ID              string          `json:"id,omitempty"`
	WalletAddress   string          `json:"walletAddress"`
	TransactionType string          `json:"transactionType"`
	FromCurrency    string          `json:"fromCurrency"`
	ToCurrency      string          `json:"toCurrency"`
	AmountSent      decimal.Decimal `json:"amountSent"`
	AmountReceived  decimal.Decimal `json:"amountReceived"`
	Recipient       *Recipient      `json:"recipient,omitempty"`
	Status          OrderStatus     `json:"status"`
	Network         string          `json:"network"`
	TxHash          string          `json:"txHash,omitempty"`
	OrderID         string          `json:"orderId,omitempty"`
	TimeSpent       string          `json:"timeSpent,omitempty"`
}
