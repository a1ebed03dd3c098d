package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tbardale/strikesentry/internal/models"
)

const defaultTimeout = 10 * time.Second

// RESTClient talks to the brokerage's REST API with a per-user access token.
type RESTClient struct {
	client  *http.Client
	baseURL string
	token   string
}

// NewRESTClient creates a client for the given API base URL and user token.
func NewRESTClient(baseURL, accessToken string) *RESTClient {
	return &RESTClient{
		client:  &http.Client{Timeout: defaultTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   accessToken,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (c *RESTClient) WithHTTPClient(hc *http.Client) *RESTClient {
	if hc != nil {
		c.client = hc
	}
	return c
}

// WithTimeout sets the HTTP client timeout duration.
func (c *RESTClient) WithTimeout(timeout time.Duration) *RESTClient {
	c.client.Timeout = timeout
	return c
}

// ============ Wire structures ============

type chainResponse struct {
	Status string `json:"status"`
	Data   struct {
		Spot  *float64 `json:"spot,omitempty"`
		Chain []struct {
			StrikePrice  float64 `json:"strike_price"`
			OptionType   string  `json:"option_type"` // CE | PE
			LTP          float64 `json:"ltp"`
			OpenInterest int64   `json:"oi"`
			Volume       int64   `json:"volume"`
		} `json:"chain"`
	} `json:"data"`
}

type orderResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
	Message string `json:"message,omitempty"`
}

type positionsResponse struct {
	Status    string `json:"status"`
	Positions []struct {
		Symbol   string  `json:"symbol"`
		NetQty   int     `json:"net_qty"`
		AvgPrice float64 `json:"avg_price"`
		Product  string  `json:"product"`
		Pnl      float64 `json:"pnl"`
	} `json:"positions"`
}

// GetOptionChain fetches the chain for a symbol and converts it to the
// internal snapshot shape. An empty or malformed payload is an error: the
// polling loop treats it as a transient upstream failure.
func (c *RESTClient) GetOptionChain(ctx context.Context, symbol string, strikeCount int) (*models.ChainSnapshot, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("strike_count", strconv.Itoa(strikeCount))

	var resp chainResponse
	if err := c.doJSON(ctx, http.MethodGet, "/options/chain?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("chain request for %s rejected: status %q", symbol, resp.Status)
	}
	if len(resp.Data.Chain) == 0 {
		return nil, fmt.Errorf("empty option chain payload for %s", symbol)
	}

	snap := &models.ChainSnapshot{
		Symbol: symbol,
		Spot:   resp.Data.Spot,
		Quotes: make([]models.ChainQuote, 0, len(resp.Data.Chain)),
	}
	for _, rec := range resp.Data.Chain {
		var side models.OptionSide
		switch rec.OptionType {
		case "CE":
			side = models.SideCall
		case "PE":
			side = models.SidePut
		default:
			continue
		}
		snap.Quotes = append(snap.Quotes, models.ChainQuote{
			Strike:       rec.StrikePrice,
			Side:         side,
			LastPrice:    rec.LTP,
			OpenInterest: rec.OpenInterest,
			Volume:       rec.Volume,
		})
	}
	if len(snap.Quotes) == 0 {
		return nil, fmt.Errorf("option chain for %s contained no recognizable sides", symbol)
	}
	return snap, nil
}

// PlaceOrder submits a normalized order.
func (c *RESTClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderReceipt, error) {
	body := map[string]any{
		"symbol":      req.Symbol,
		"qty":         req.Quantity,
		"type":        string(req.Kind),
		"side":        string(req.Side),
		"product":     req.ProductType,
		"limit_price": req.LimitPrice,
		"tag":         req.Tag,
	}

	var resp orderResponse
	if err := c.doJSON(ctx, http.MethodPost, "/orders", body, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("order for %s rejected: %s", req.Symbol, resp.Message)
	}
	return &OrderReceipt{OrderID: resp.OrderID, Status: resp.Status}, nil
}

// GetPositions lists open positions on the brokerage account.
func (c *RESTClient) GetPositions(ctx context.Context) ([]PositionItem, error) {
	var resp positionsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/positions", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("positions request rejected: status %q", resp.Status)
	}

	items := make([]PositionItem, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		items = append(items, PositionItem{
			Symbol:        p.Symbol,
			NetQuantity:   p.NetQty,
			AvgPrice:      p.AvgPrice,
			ProductType:   p.Product,
			UnrealizedPnl: p.Pnl,
		})
	}
	return items, nil
}

// ExitPosition closes (part of) a position via the brokerage's exit endpoint.
func (c *RESTClient) ExitPosition(ctx context.Context, req ExitRequest) (*OrderReceipt, error) {
	body := map[string]any{
		"symbol":  req.Symbol,
		"qty":     req.Quantity,
		"side":    string(req.Side),
		"product": req.ProductType,
	}

	var resp orderResponse
	if err := c.doJSON(ctx, http.MethodPost, "/positions/exit", body, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("exit for %s rejected: %s", req.Symbol, resp.Message)
	}
	return &OrderReceipt{OrderID: resp.OrderID, Status: resp.Status}, nil
}

func (c *RESTClient) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// Ensure RESTClient implements Broker at compile time.
var _ Broker = (*RESTClient)(nil)
