// Package mock provides a synthetic brokerage used in paper mode and tests.
package mock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/google/uuid"

	"github.com/tbardale/strikesentry/internal/broker"
	"github.com/tbardale/strikesentry/internal/models"
)

// Provider implements broker.Broker with a random-walk spot and drifting
// per-strike premiums. Safe for concurrent use by multiple bot loops.
type Provider struct {
	mu         sync.Mutex
	spot       float64
	strikeStep float64
	positions  []broker.PositionItem
	premiums   map[string]float64 // "strike/side" -> last premium
}

// secureFloat64 generates a cryptographically secure random float64 in [0,1).
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// NewProvider creates a synthetic market around the given spot level.
func NewProvider(spot, strikeStep float64) *Provider {
	return &Provider{
		spot:       spot,
		strikeStep: strikeStep,
		premiums:   make(map[string]float64),
	}
}

// GetOptionChain returns strikeCount strikes centered on the drifting spot,
// both sides populated.
func (p *Provider) GetOptionChain(_ context.Context, symbol string, strikeCount int) (*models.ChainSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Small random walk per call
	p.spot += (secureFloat64() - 0.5) * p.strikeStep * 0.2

	if strikeCount <= 0 {
		strikeCount = 10
	}
	atm := math.Round(p.spot/p.strikeStep) * p.strikeStep
	half := strikeCount / 2

	spot := p.spot
	snap := &models.ChainSnapshot{Symbol: symbol, Spot: &spot}
	for i := -half; i <= half; i++ {
		strike := atm + float64(i)*p.strikeStep
		snap.Quotes = append(snap.Quotes,
			models.ChainQuote{
				Strike:       strike,
				Side:         models.SideCall,
				LastPrice:    p.premium(strike, models.SideCall),
				OpenInterest: int64(1000 + secureFloat64()*9000),
				Volume:       int64(secureFloat64() * 5000),
			},
			models.ChainQuote{
				Strike:       strike,
				Side:         models.SidePut,
				LastPrice:    p.premium(strike, models.SidePut),
				OpenInterest: int64(1000 + secureFloat64()*9000),
				Volume:       int64(secureFloat64() * 5000),
			},
		)
	}
	return snap, nil
}

// premium drifts each contract's last price around a moneyness-based anchor.
func (p *Provider) premium(strike float64, side models.OptionSide) float64 {
	key := fmt.Sprintf("%g/%s", strike, side)

	intrinsic := 0.0
	switch side {
	case models.SideCall:
		intrinsic = math.Max(0, p.spot-strike)
	case models.SidePut:
		intrinsic = math.Max(0, strike-p.spot)
	}
	anchor := intrinsic + p.strikeStep*0.6

	last, ok := p.premiums[key]
	if !ok {
		last = anchor
	}
	// Mean-revert toward the anchor with noise
	last += (anchor-last)*0.3 + (secureFloat64()-0.5)*p.strikeStep*0.1
	if last < 0.05 {
		last = 0.05
	}
	p.premiums[key] = last
	return last
}

// PlaceOrder records a synthetic fill and returns a receipt.
func (p *Provider) PlaceOrder(_ context.Context, req broker.OrderRequest) (*broker.OrderReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.positions = append(p.positions, broker.PositionItem{
		Symbol:      req.Symbol,
		NetQuantity: req.Quantity,
		AvgPrice:    req.LimitPrice,
		ProductType: req.ProductType,
	})
	return &broker.OrderReceipt{OrderID: uuid.New().String(), Status: "ok"}, nil
}

// GetPositions lists synthetic open positions.
func (p *Provider) GetPositions(context.Context) ([]broker.PositionItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]broker.PositionItem, len(p.positions))
	copy(out, p.positions)
	return out, nil
}

// ExitPosition removes quantity from a synthetic position.
func (p *Provider) ExitPosition(_ context.Context, req broker.ExitRequest) (*broker.OrderReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.positions {
		if p.positions[i].Symbol != req.Symbol {
			continue
		}
		p.positions[i].NetQuantity -= req.Quantity
		if p.positions[i].NetQuantity <= 0 {
			p.positions = append(p.positions[:i], p.positions[i+1:]...)
		}
		return &broker.OrderReceipt{OrderID: uuid.New().String(), Status: "ok"}, nil
	}
	return nil, fmt.Errorf("no open position for %s", req.Symbol)
}

// Ensure Provider implements broker.Broker at compile time.
var _ broker.Broker = (*Provider)(nil)
