// Package models provides data structures and state management for the
// session and signal engine.
package models

import "sort"

// OptionSide identifies which side of the chain a quote belongs to.
type OptionSide string

const (
	SideCall OptionSide = "CALL"
	SidePut  OptionSide = "PUT"
)

// ChainQuote is a single per-strike, per-side record as delivered by the
// quote gateway.
type ChainQuote struct {
	Strike       float64    `json:"strike"`
	Side         OptionSide `json:"side"`
	LastPrice    float64    `json:"last_price"`
	OpenInterest int64      `json:"open_interest"`
	Volume       int64      `json:"volume"`
}

// StrikeRow is the joined per-strike view of both sides of the chain.
type StrikeRow struct {
	Strike     float64 `json:"strike"`
	CallPrice  float64 `json:"call_price"`
	CallOI     int64   `json:"call_oi"`
	CallVolume int64   `json:"call_volume"`
	PutPrice   float64 `json:"put_price"`
	PutOI      int64   `json:"put_oi"`
	PutVolume  int64   `json:"put_volume"`
}

// ChainSnapshot is the gateway response consumed by the polling loop.
type ChainSnapshot struct {
	Symbol string       `json:"symbol"`
	Spot   *float64     `json:"spot,omitempty"`
	Quotes []ChainQuote `json:"quotes"`
}

// JoinStrikes partitions quotes into call and put sides and joins them by
// strike. Strikes present on only one side are dropped. The result is sorted
// by strike ascending.
func JoinStrikes(quotes []ChainQuote) []StrikeRow {
	calls := make(map[float64]ChainQuote)
	puts := make(map[float64]ChainQuote)
	for _, q := range quotes {
		switch q.Side {
		case SideCall:
			calls[q.Strike] = q
		case SidePut:
			puts[q.Strike] = q
		}
	}

	rows := make([]StrikeRow, 0, len(calls))
	for strike, c := range calls {
		p, ok := puts[strike]
		if !ok {
			continue
		}
		rows = append(rows, StrikeRow{
			Strike:     strike,
			CallPrice:  c.LastPrice,
			CallOI:     c.OpenInterest,
			CallVolume: c.Volume,
			PutPrice:   p.LastPrice,
			PutOI:      p.OpenInterest,
			PutVolume:  p.Volume,
		})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Strike < rows[j].Strike })
	return rows
}
