package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"RampTracker/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_Rate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rates/USDC/100/NGN", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"data": 1520.5})
	}))
	defer server.Close()

	rate, err := NewClient(server.URL).Rate(context.Background(), "USDC", decimal.NewFromInt(100), "NGN")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("1520.5")))
}

func TestClient_Order(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/0xorder", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"status":  "fulfilling",
			"txHash":  "",
			"network": "base",
			"txReceipts": []map[string]any{
				{"status": "pending", "txHash": "0xleg", "timestamp": "2026-01-02T15:04:05Z"},
			},
			"updatedAt": "2026-01-02T15:04:06Z",
		}})
	}))
	defer server.Close()

	snap, err := NewClient(server.URL).Order(context.Background(), "0xorder")
	require.NoError(t, err)
	assert.Equal(t, models.OrderFulfilling, snap.Status)
	assert.Equal(t, "base", snap.Network)
	require.Len(t, snap.TxReceipts, 1)
	assert.Equal(t, "0xleg", snap.TxReceipts[0].TxHash)
}

func TestClient_ReindexStatusErrors(t *testing.T) {
	code := http.StatusBadRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders/base/reindex/0xtx", r.URL.Path)
		writeJSON(w, code, map[string]any{"message": "bad hash"})
	}))
	defer server.Close()

	c := NewClient(server.URL)
	_, err := c.Reindex(context.Background(), "base", "0xtx")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.False(t, IsTransient(err))

	code = http.StatusBadGateway
	_, err = c.Reindex(context.Background(), "base", "0xtx")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.True(t, IsTransient(err))
}

func TestClient_ReindexCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"events": map[string]int{"OrderCreated": 2}})
	}))
	defer server.Close()

	res, err := NewClient(server.URL).Reindex(context.Background(), "base", "0xtx")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Events.OrderCreated)
}

func TestClient_TransactionsUseBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.Method {
		case http.MethodPost:
			var rec models.TransactionRecord
			require.NoError(t, json.NewDecoder(r.Body).Decode(&rec))
			rec.ID = "tx-1"
			writeJSON(w, http.StatusCreated, map[string]any{"data": rec})
		case http.MethodPatch:
			assert.Equal(t, "/transactions/tx-1", r.URL.Path)
			var patch TransactionPatch
			require.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": "tx-1", "status": patch.Status}})
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, WithBearerToken("secret"))
	created, err := c.CreateTransaction(context.Background(), models.TransactionRecord{Status: models.OrderPending})
	require.NoError(t, err)
	assert.Equal(t, "tx-1", created.ID)

	updated, err := c.UpdateTransaction(context.Background(), "tx-1", TransactionPatch{Status: models.OrderValidated})
	require.NoError(t, err)
	assert.Equal(t, models.OrderValidated, updated.Status)
}

func TestClient_PublicKeyEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": ""})
	}))
	defer server.Close()

	_, err := NewClient(server.URL).PublicKey(context.Background())
	assert.ErrorIs(t, err, ErrEmptyPublicKey)
}

func TestIsTransient_NetworkAndCancel(t *testing.T) {
	assert.True(t, IsTransient(errors.New("dial tcp: connection refused")))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(&StatusError{Code: http.StatusBadGateway}))
	assert.False(t, IsTransient(&StatusError{Code: http.StatusTooManyRequests}))
	assert.True(t, IsPermanent(fmt.Errorf("reindex 0xabc: %w", &StatusError{Code: http.StatusTooManyRequests})))
}
