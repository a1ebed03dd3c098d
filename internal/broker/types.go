package broker

import "fmt"

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderKind distinguishes market and limit orders.
type OrderKind string

const (
	KindMarket OrderKind = "MARKET"
	KindLimit  OrderKind = "LIMIT"
)

// OrderRequest is the normalized request the core hands to the dispatcher.
type OrderRequest struct {
	Symbol      string    `json:"symbol"`
	Quantity    int       `json:"quantity"`
	Kind        OrderKind `json:"kind"`
	Side        OrderSide `json:"side"`
	ProductType string    `json:"product_type"`
	LimitPrice  float64   `json:"limit_price"`
	Tag         string    `json:"tag,omitempty"`
}

// ExitRequest asks the brokerage to close part or all of a position.
type ExitRequest struct {
	Symbol      string    `json:"symbol"`
	Quantity    int       `json:"quantity"`
	Side        OrderSide `json:"side"`
	ProductType string    `json:"product_type"`
}

// OrderReceipt is the brokerage's acknowledgment of an order.
type OrderReceipt struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// PositionItem is one open position as reported by the brokerage.
type PositionItem struct {
	Symbol        string  `json:"symbol"`
	NetQuantity   int     `json:"net_quantity"`
	AvgPrice      float64 `json:"avg_price"`
	ProductType   string  `json:"product_type"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
}

// APIError represents an HTTP-level error from the brokerage API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker API error %d: %s", e.Status, e.Message)
}
