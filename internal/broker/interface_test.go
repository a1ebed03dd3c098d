package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbardale/strikesentry/internal/models"
)

// flakyBroker fails every call until healed.
type flakyBroker struct {
	calls  int
	healed bool
}

func (f *flakyBroker) GetOptionChain(_ context.Context, symbol string, _ int) (*models.ChainSnapshot, error) {
	f.calls++
	if !f.healed {
		return nil, errors.New("gateway down")
	}
	spot := 24500.0
	return &models.ChainSnapshot{
		Symbol: symbol,
		Spot:   &spot,
		Quotes: []models.ChainQuote{
			{Strike: 24500, Side: models.SideCall, LastPrice: 100},
			{Strike: 24500, Side: models.SidePut, LastPrice: 90},
		},
	}, nil
}

func (f *flakyBroker) PlaceOrder(context.Context, OrderRequest) (*OrderReceipt, error) {
	f.calls++
	if !f.healed {
		return nil, errors.New("gateway down")
	}
	return &OrderReceipt{OrderID: "ord-1", Status: "ok"}, nil
}

func (f *flakyBroker) GetPositions(context.Context) ([]PositionItem, error) {
	f.calls++
	if !f.healed {
		return nil, errors.New("gateway down")
	}
	return nil, nil
}

func (f *flakyBroker) ExitPosition(context.Context, ExitRequest) (*OrderReceipt, error) {
	f.calls++
	if !f.healed {
		return nil, errors.New("gateway down")
	}
	return &OrderReceipt{OrderID: "ord-2", Status: "ok"}, nil
}

func TestCircuitBreaker_PassesThroughHealthyCalls(t *testing.T) {
	underlying := &flakyBroker{healed: true}
	cb := NewCircuitBreakerBroker(underlying)

	snap, err := cb.GetOptionChain(context.Background(), "NSE:NIFTY50-INDEX", 20)
	require.NoError(t, err)
	assert.Equal(t, "NSE:NIFTY50-INDEX", snap.Symbol)

	receipt, err := cb.PlaceOrder(context.Background(), OrderRequest{Symbol: "NSE:NIFTY24500CE"})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", receipt.OrderID)
}

func TestCircuitBreaker_OpensAfterRepeatedFailures(t *testing.T) {
	underlying := &flakyBroker{}
	cb := NewCircuitBreakerBrokerWithSettings(underlying, CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.5,
	})

	for i := 0; i < 5; i++ {
		_, _ = cb.GetOptionChain(context.Background(), "NSE:NIFTY50-INDEX", 20)
	}

	callsBefore := underlying.calls
	_, err := cb.GetOptionChain(context.Background(), "NSE:NIFTY50-INDEX", 20)
	require.Error(t, err)
	assert.Equal(t, callsBefore, underlying.calls, "open breaker must not reach the broker")
}
