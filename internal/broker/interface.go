// Package broker defines the boundary to the brokerage: the quote gateway
// the polling loops consume and the order dispatcher they emit to.
package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tbardale/strikesentry/internal/models"
)

// Broker defines the interface for interacting with a brokerage.
type Broker interface {
	// Market data
	GetOptionChain(ctx context.Context, symbol string, strikeCount int) (*models.ChainSnapshot, error)

	// Order placement and position management
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderReceipt, error)
	GetPositions(ctx context.Context) ([]PositionItem, error)
	ExitPosition(ctx context.Context, req ExitRequest) (*OrderReceipt, error)
}

// Factory builds a Broker bound to one user's access token. Each user links
// their own brokerage credential, so clients are constructed per user.
type Factory func(accessToken string) Broker

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality so
// a flapping brokerage stops being hammered by every user's loop at once.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// GetOptionChain wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOptionChain(ctx context.Context, symbol string, strikeCount int) (*models.ChainSnapshot, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.ChainSnapshot, error) {
		return b.GetOptionChain(ctx, symbol, strikeCount)
	})
}

// PlaceOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderReceipt, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderReceipt, error) {
		return b.PlaceOrder(ctx, req)
	})
}

// GetPositions wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetPositions(ctx context.Context) ([]PositionItem, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]PositionItem, error) {
		return b.GetPositions(ctx)
	})
}

// ExitPosition wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) ExitPosition(ctx context.Context, req ExitRequest) (*OrderReceipt, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderReceipt, error) {
		return b.ExitPosition(ctx, req)
	})
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)
