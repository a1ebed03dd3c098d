// Package orders normalizes signal crossings and user requests into
// brokerage orders. Dispatch is fire-and-forget: failures are logged and
// surfaced, never retried here. An unconfirmed order is left for manual or
// exit-all handling.
package orders

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/tbardale/strikesentry/internal/broker"
	"github.com/tbardale/strikesentry/internal/models"
	"github.com/tbardale/strikesentry/internal/util"
)

// Config contains configuration for the dispatcher.
type Config struct {
	Quantity    int
	ProductType string
	OrderKind   broker.OrderKind
	TickSize    float64 // limit prices are rounded to this increment
}

// DefaultConfig is the default dispatcher configuration.
var DefaultConfig = Config{
	Quantity:    50,
	ProductType: "INTRADAY",
	OrderKind:   broker.KindMarket,
	TickSize:    0.05,
}

// Dispatcher turns detected signals into normalized order requests.
type Dispatcher struct {
	logger *log.Logger
	config Config
}

// ExitResult is the outcome of closing one position during an exit-all pass.
type ExitResult struct {
	Symbol  string `json:"symbol"`
	OrderID string `json:"order_id,omitempty"`
	Err     string `json:"error,omitempty"`
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(logger *log.Logger, config ...Config) *Dispatcher {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[ORDERS] ", log.LstdFlags)
	}
	return &Dispatcher{logger: logger, config: cfg}
}

// OptionSymbol builds the tradable contract symbol from the user's symbol
// prefix, a strike and a side, e.g. "NSE:NIFTY24200CE".
func OptionSymbol(prefix string, strike float64, side models.OptionSide) string {
	suffix := "CE"
	if side == models.SidePut {
		suffix = "PE"
	}
	return fmt.Sprintf("%s%g%s", prefix, strike, suffix)
}

// BuySignal places the single buy order for a threshold crossing. The
// reference price travels as the limit price for audit even on market
// orders, rounded to the exchange tick.
func (d *Dispatcher) BuySignal(
	ctx context.Context,
	b broker.Broker,
	prefix string,
	strike, referencePrice float64,
	side models.OptionSide,
) (*broker.OrderReceipt, error) {
	req := broker.OrderRequest{
		Symbol:      OptionSymbol(prefix, strike, side),
		Quantity:    d.config.Quantity,
		Kind:        d.config.OrderKind,
		Side:        broker.SideBuy,
		ProductType: d.config.ProductType,
		LimitPrice:  util.RoundToTick(referencePrice, d.config.TickSize),
		Tag:         "sig-" + uuid.New().String()[:8],
	}

	receipt, err := b.PlaceOrder(ctx, req)
	if err != nil {
		d.logger.Printf("order dispatch failed for %s: %v", req.Symbol, err)
		return nil, fmt.Errorf("dispatching %s: %w", req.Symbol, err)
	}
	d.logger.Printf("order placed: %s qty=%d id=%s", req.Symbol, req.Quantity, receipt.OrderID)
	return receipt, nil
}

// ExitOne closes quantity of a single position.
func (d *Dispatcher) ExitOne(ctx context.Context, b broker.Broker, req broker.ExitRequest) (*broker.OrderReceipt, error) {
	receipt, err := b.ExitPosition(ctx, req)
	if err != nil {
		d.logger.Printf("exit failed for %s: %v", req.Symbol, err)
		return nil, fmt.Errorf("exiting %s: %w", req.Symbol, err)
	}
	d.logger.Printf("exit placed: %s qty=%d id=%s", req.Symbol, req.Quantity, receipt.OrderID)
	return receipt, nil
}

// ExitAll lists open positions and closes each in turn. Failures are
// collected per position; one bad leg does not stop the pass.
func (d *Dispatcher) ExitAll(ctx context.Context, b broker.Broker) ([]ExitResult, error) {
	positions, err := b.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing positions: %w", err)
	}

	results := make([]ExitResult, 0, len(positions))
	for _, pos := range positions {
		if pos.NetQuantity == 0 {
			continue
		}

		side := broker.SideSell
		qty := pos.NetQuantity
		if qty < 0 {
			side = broker.SideBuy
			qty = -qty
		}

		receipt, err := d.ExitOne(ctx, b, broker.ExitRequest{
			Symbol:      pos.Symbol,
			Quantity:    qty,
			Side:        side,
			ProductType: pos.ProductType,
		})
		res := ExitResult{Symbol: pos.Symbol}
		if err != nil {
			res.Err = err.Error()
		} else {
			res.OrderID = receipt.OrderID
		}
		results = append(results, res)
	}
	return results, nil
}
