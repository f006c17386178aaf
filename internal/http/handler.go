package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"RampTracker/internal/events"
	"RampTracker/internal/models"
	"RampTracker/internal/services"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Orders interface {
	Submit(ctx context.Context, req services.SubmitRequest) (models.Order, error)
	Get(ctx context.Context, id string) (models.Order, error)
	Cancel(id string) error
}

type Handler struct {
	Orders Orders
	Events *events.Hub
	Log    *logrus.Entry
}

type createOrderRequest struct {
	Network       string           `json:"network"`
	Token         string           `json:"token"`
	Amount        decimal.Decimal  `json:"amount"`
	Currency      string           `json:"currency"`
	Recipient     models.Recipient `json:"recipient"`
	RefundAddress string           `json:"refundAddress"`
}

type orderResponse struct {
	ID             string             `json:"id"`
	OrderID        string             `json:"orderId,omitempty"`
	TxHash         string             `json:"txHash,omitempty"`
	Network        string             `json:"network"`
	Sender         string             `json:"sender,omitempty"`
	AmountSent     string             `json:"amountSent"`
	AmountReceived string             `json:"amountReceived"`
	Token          string             `json:"token"`
	Currency       string             `json:"currency"`
	Status         string             `json:"status"`
	TxReceipts     []models.TxReceipt `json:"txReceipts,omitempty"`
	TransactionID  string             `json:"transactionId,omitempty"`
	Reindexed      bool               `json:"reindexed"`
	Error          string             `json:"error,omitempty"`
	CreatedAt      string             `json:"createdAt"`
	CompletedAt    string             `json:"completedAt,omitempty"`
	TimeSpent      string             `json:"timeSpent,omitempty"`
}

func NewHandler(orders Orders, hub *events.Hub, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{Orders: orders, Events: hub, Log: log.WithField("component", "http")}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	var refund common.Address
	if req.RefundAddress != "" {
		if !common.IsHexAddress(req.RefundAddress) {
			writeError(w, http.StatusBadRequest, "invalid refund address")
			return
		}
		refund = common.HexToAddress(req.RefundAddress)
	}

	order, err := h.Orders.Submit(r.Context(), services.SubmitRequest{
		Network:       req.Network,
		Token:         req.Token,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Recipient:     req.Recipient,
		RefundAddress: refund,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnknownNetwork):
			writeError(w, http.StatusBadRequest, "unknown network")
		case errors.Is(err, services.ErrUnknownToken):
			writeError(w, http.StatusBadRequest, "unsupported token")
		case errors.Is(err, services.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "amount must be positive")
		case errors.Is(err, services.ErrMissingCurrency):
			writeError(w, http.StatusBadRequest, "missing currency")
		case errors.Is(err, services.ErrMissingRecipient):
			writeError(w, http.StatusBadRequest, "missing recipient")
		case errors.Is(err, services.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, "shutting down")
		default:
			h.Log.WithError(err).Error("create order failed")
			writeError(w, http.StatusInternalServerError, "create order failed")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, toResponse(order))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toResponse(order))
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Orders.Cancel(id); err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "cancel order failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (models.Order, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return models.Order{}, false
	}
	order, err := h.Orders.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return models.Order{}, false
		}
		h.Log.WithError(err).Error("get order failed")
		writeError(w, http.StatusInternalServerError, "get order failed")
		return models.Order{}, false
	}
	return order, true
}

func toResponse(o models.Order) orderResponse {
	resp := orderResponse{
		ID:             o.ID,
		OrderID:        o.OrderID,
		TxHash:         o.TxHash,
		Network:        o.Network,
		Sender:         o.Sender,
		AmountSent:     o.AmountSent.String(),
		AmountReceived: o.AmountReceived.String(),
		Token:          o.SendToken,
		Currency:       o.ReceiveCurrency,
		Status:         string(o.Status),
		TxReceipts:     o.TxReceipts,
		TransactionID:  o.TransactionID,
		Reindexed:      o.Reindexed,
		Error:          o.Error,
		CreatedAt:      o.CreatedAt.Format(time.RFC3339),
	}
	if o.CompletedAt != nil {
		resp.CompletedAt = o.CompletedAt.Format(time.RFC3339)
		resp.TimeSpent = o.Duration().Round(time.Second).String()
	}
	return resp
}
