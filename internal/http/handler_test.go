package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"RampTracker/internal/events"
	"RampTracker/internal/models"
	"RampTracker/internal/observability"
	"RampTracker/internal/services"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrders struct {
	mu        sync.Mutex
	orders    map[string]models.Order
	submitErr error
	last      services.SubmitRequest
}

func (f *fakeOrders) Submit(_ context.Context, req services.SubmitRequest) (models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = req
	if f.submitErr != nil {
		return models.Order{}, f.submitErr
	}
	o := models.Order{
		ID:              "local-1",
		Network:         req.Network,
		AmountSent:      req.Amount,
		SendToken:       req.Token,
		ReceiveCurrency: req.Currency,
		Status:          models.OrderPending,
		CreatedAt:       time.Now(),
	}
	f.orders[o.ID] = o
	return o, nil
}

func (f *fakeOrders) Get(_ context.Context, id string) (models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return models.Order{}, services.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeOrders) Cancel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.orders[id]; !ok {
		return services.ErrOrderNotFound
	}
	delete(f.orders, id)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeOrders, *events.Hub) {
	t.Helper()
	orders := &fakeOrders{orders: map[string]models.Order{}}
	hub := events.NewHub(8)
	metrics := observability.NewMetrics("test")
	srv := NewServer(NewHandler(orders, hub, nil), metrics.Handler())
	ts := httptest.NewServer(srv.Router)
	t.Cleanup(ts.Close)
	return ts, orders, hub
}

const body = `{"network":"base","token":"USDC","amount":"100.5","currency":"NGN",
	"recipient":{"accountIdentifier":"0123456789","accountName":"Ada","institution":"GTBINGLA","memo":"rent"},
	"refundAddress":"0x00000000000000000000000000000000000000aa"}`

func TestCreateOrder_Accepted(t *testing.T) {
	ts, orders, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/orders", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out orderResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "local-1", out.ID)
	assert.Equal(t, "pending", out.Status)
	assert.Equal(t, "100.5", out.AmountSent)

	assert.True(t, decimal.RequireFromString("100.5").Equal(orders.last.Amount))
	assert.Equal(t, "GTBINGLA", orders.last.Recipient.Institution)
	assert.Equal(t, common.HexToAddress("0xaa"), orders.last.RefundAddress)
}

func TestCreateOrder_Errors(t *testing.T) {
	ts, orders, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/orders", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/orders", "application/json", strings.NewReader(`{"refundAddress":"nope"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	cases := map[error]int{
		services.ErrUnknownNetwork:   http.StatusBadRequest,
		services.ErrUnknownToken:     http.StatusBadRequest,
		services.ErrInvalidAmount:    http.StatusBadRequest,
		services.ErrMissingRecipient: http.StatusBadRequest,
		services.ErrClosed:           http.StatusServiceUnavailable,
		context.DeadlineExceeded:     http.StatusInternalServerError,
	}
	for e, want := range cases {
		orders.submitErr = e
		resp, err := http.Post(ts.URL+"/orders", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, e.Error())
	}
}

func TestGetAndCancelOrder(t *testing.T) {
	ts, orders, _ := newTestServer(t)
	done := time.Now()
	orders.orders["a"] = models.Order{ID: "a", Status: models.OrderSettled, CreatedAt: done.Add(-90 * time.Second), CompletedAt: &done}

	resp, err := http.Get(ts.URL + "/orders/a")
	require.NoError(t, err)
	var out orderResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, "settled", out.Status)
	assert.Equal(t, "1m30s", out.TimeSpent)

	resp, err = http.Get(ts.URL + "/orders/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/orders/a", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStreamOrder(t *testing.T) {
	ts, orders, hub := newTestServer(t)
	orders.orders["a"] = models.Order{ID: "a", Status: models.OrderPending}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/orders/a/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first events.Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, events.KindStatus, first.Kind)
	assert.Equal(t, models.OrderPending, first.Status)

	hub.Publish(events.Event{Kind: events.KindStatus, OrderID: "b", Status: models.OrderFulfilling})
	hub.Publish(events.Event{Kind: events.KindStatus, OrderID: "a", Status: models.OrderValidated})

	var next events.Event
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "a", next.OrderID)
	assert.Equal(t, models.OrderValidated, next.Status)
}

func TestStreamOrder_NotFound(t *testing.T) {
	ts, _, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/orders/missing/stream"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
