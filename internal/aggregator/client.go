package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"RampTracker/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const DefaultTimeout = 15 * time.Second

var ErrEmptyPublicKey = errors.New("aggregator returned empty public key")

// Client talks to the settlement aggregator backend.
type Client struct {
	http *resty.Client
}

type Option func(*Client)

// WithBearerToken authenticates the transaction record endpoints.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		if token != "" {
			c.http.SetAuthToken(token)
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(DefaultTimeout).
			SetHeader("Accept", "application/json"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type OrderSnapshot struct {
	Status     models.OrderStatus `json:"status"`
	TxHash     string             `json:"txHash"`
	TxReceipts []models.TxReceipt `json:"txReceipts"`
	Network    string             `json:"network"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

type ReindexResult struct {
	Events struct {
		OrderCreated int `json:"OrderCreated"`
	} `json:"events"`
}

// Rate returns the fiat units received per token for amount.
func (c *Client) Rate(ctx context.Context, token string, amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	var out envelope[decimal.Decimal]
	req := c.http.R().SetContext(ctx).SetPathParams(map[string]string{
		"token":    token,
		"amount":   amount.String(),
		"currency": currency,
	})
	if err := do(req, http.MethodGet, "/rates/{token}/{amount}/{currency}", &out); err != nil {
		return decimal.Zero, fmt.Errorf("fetch rate: %w", err)
	}
	return out.Data, nil
}

func (c *Client) Order(ctx context.Context, orderID string) (*OrderSnapshot, error) {
	var out envelope[OrderSnapshot]
	req := c.http.R().SetContext(ctx).SetPathParam("orderId", orderID)
	if err := do(req, http.MethodGet, "/orders/{orderId}", &out); err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", orderID, err)
	}
	return &out.Data, nil
}

func (c *Client) Reindex(ctx context.Context, network, txHash string) (*ReindexResult, error) {
	var out ReindexResult
	req := c.http.R().SetContext(ctx).SetPathParams(map[string]string{
		"network": network,
		"txHash":  txHash,
	})
	if err := do(req, http.MethodPost, "/orders/{network}/reindex/{txHash}", &out); err != nil {
		return nil, fmt.Errorf("reindex %s: %w", txHash, err)
	}
	return &out, nil
}

func (c *Client) PublicKey(ctx context.Context) (string, error) {
	var out envelope[string]
	if err := do(c.http.R().SetContext(ctx), http.MethodGet, "/pubkey", &out); err != nil {
		return "", fmt.Errorf("fetch public key: %w", err)
	}
	if strings.TrimSpace(out.Data) == "" {
		return "", ErrEmptyPublicKey
	}
	return out.Data, nil
}

func (c *Client) CreateTransaction(ctx context.Context, rec models.TransactionRecord) (*models.TransactionRecord, error) {
	var out envelope[models.TransactionRecord]
	req := c.http.R().SetContext(ctx).SetBody(rec)
	if err := do(req, http.MethodPost, "/transactions", &out); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	return &out.Data, nil
}

// TransactionPatch carries the mutable fields of a transaction record.
type TransactionPatch struct {
	Status    models.OrderStatus `json:"status,omitempty"`
	TxHash    string             `json:"txHash,omitempty"`
	OrderID   string             `json:"orderId,omitempty"`
	TimeSpent string             `json:"timeSpent,omitempty"`
}

func (c *Client) UpdateTransaction(ctx context.Context, id string, patch TransactionPatch) (*models.TransactionRecord, error) {
	var out envelope[models.TransactionRecord]
	req := c.http.R().SetContext(ctx).SetPathParam("id", id).SetBody(patch)
	if err := do(req, http.MethodPatch, "/transactions/{id}", &out); err != nil {
		return nil, fmt.Errorf("update transaction %s: %w", id, err)
	}
	return &out.Data, nil
}

func do(req *resty.Request, method, path string, out any) error {
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &StatusError{Code: resp.StatusCode(), Body: strings.TrimSpace(resp.String())}
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
