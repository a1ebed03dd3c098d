package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRESTClient_GetOptionChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/options/chain", r.URL.Path)
		assert.Equal(t, "NSE:NIFTY50-INDEX", r.URL.Query().Get("symbol"))
		assert.Equal(t, "20", r.URL.Query().Get("strike_count"))
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"data": map[string]any{
				"spot": 24512.3,
				"chain": []map[string]any{
					{"strike_price": 24500.0, "option_type": "CE", "ltp": 120.5, "oi": 1000, "volume": 500},
					{"strike_price": 24500.0, "option_type": "PE", "ltp": 98.2, "oi": 900, "volume": 450},
					{"strike_price": 24600.0, "option_type": "XX", "ltp": 1, "oi": 1, "volume": 1},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "tok-123")
	snap, err := c.GetOptionChain(context.Background(), "NSE:NIFTY50-INDEX", 20)
	require.NoError(t, err)

	require.NotNil(t, snap.Spot)
	assert.Equal(t, 24512.3, *snap.Spot)
	// Unknown option types are skipped
	require.Len(t, snap.Quotes, 2)
	assert.Equal(t, 24500.0, snap.Quotes[0].Strike)
}

func TestRESTClient_GetOptionChain_EmptyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "data": map[string]any{"chain": []any{}}})
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "tok")
	_, err := c.GetOptionChain(context.Background(), "NSE:NIFTY50-INDEX", 20)
	assert.Error(t, err)
}

func TestRESTClient_GetOptionChain_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "tok")
	_, err := c.GetOptionChain(context.Background(), "NSE:NIFTY50-INDEX", 20)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Contains(t, apiErr.Message, "token expired")
}

func TestRESTClient_PlaceOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "NSE:NIFTY24500CE", body["symbol"])
		assert.Equal(t, "BUY", body["side"])
		assert.Equal(t, "MARKET", body["type"])

		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "order_id": "ord-77"})
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "tok")
	receipt, err := c.PlaceOrder(context.Background(), OrderRequest{
		Symbol:      "NSE:NIFTY24500CE",
		Quantity:    50,
		Kind:        KindMarket,
		Side:        SideBuy,
		ProductType: "INTRADAY",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-77", receipt.OrderID)
}

func TestRESTClient_PlaceOrder_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "rejected", "message": "insufficient margin"})
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "tok")
	_, err := c.PlaceOrder(context.Background(), OrderRequest{Symbol: "NSE:NIFTY24500CE", Quantity: 50})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient margin")
}

func TestRESTClient_GetPositions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/positions", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"positions": []map[string]any{
				{"symbol": "NSE:NIFTY24500CE", "net_qty": 50, "avg_price": 120.5, "product": "INTRADAY", "pnl": 250.0},
			},
		})
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "tok")
	positions, err := c.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 50, positions[0].NetQuantity)
	assert.Equal(t, 250.0, positions[0].UnrealizedPnl)
}

func TestRESTClient_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewRESTClient(srv.URL, "tok")
	_, err := c.GetOptionChain(ctx, "NSE:NIFTY50-INDEX", 20)
	assert.Error(t, err)
}
