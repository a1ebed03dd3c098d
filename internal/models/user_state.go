package models

import (
	"fmt"
	"time"
)

// Default strike offsets relative to the ATM strike. The call target sits
// below ATM and the put target above it, matching the reference behavior.
const (
	DefaultCallStrikeOffset = -300.0
	DefaultPutStrikeOffset  = 300.0
)

// UserConfig holds the per-user tunables that survive a cycle reset.
// SymbolPrefix builds tradable contract symbols; Underlying is the index
// symbol the chain is fetched for.
type UserConfig struct {
	SymbolPrefix     string  `json:"symbol_prefix"`
	Underlying       string  `json:"underlying"`
	CallStrikeOffset float64 `json:"call_strike_offset"`
	PutStrikeOffset  float64 `json:"put_strike_offset"`
}

// DefaultUserConfig returns the configuration a fresh user starts with.
func DefaultUserConfig(symbolPrefix, underlying string) UserConfig {
	return UserConfig{
		SymbolPrefix:     symbolPrefix,
		Underlying:       underlying,
		CallStrikeOffset: DefaultCallStrikeOffset,
		PutStrikeOffset:  DefaultPutStrikeOffset,
	}
}

// UserState is the per-user mutable trading state. It lives for the duration
// of the owning session and is not persisted across restarts.
//
// UserState itself is not goroutine-safe; the engine guards each instance
// with that user's lock.
type UserState struct {
	Username     string
	ATMStrike    *float64
	Baseline     map[float64]StrikeRow
	BotRunning   bool
	FiredSignals map[string]struct{}
	SignalLog    []string
	Config       UserConfig
	LastActivity time.Time
}

// NewUserState creates the lazily-initialized state for a user.
func NewUserState(username string, cfg UserConfig) *UserState {
	return &UserState{
		Username:     username,
		Baseline:     make(map[float64]StrikeRow),
		FiredSignals: make(map[string]struct{}),
		Config:       cfg,
		LastActivity: time.Now(),
	}
}

// ResetCycle clears the detection state so the next tick captures a fresh
// ATM strike and baseline. Config and the running flag are untouched.
func (s *UserState) ResetCycle() {
	s.ATMStrike = nil
	s.Baseline = make(map[float64]StrikeRow)
	s.FiredSignals = make(map[string]struct{})
	s.SignalLog = nil
}

// CaptureBaseline records the ATM strike and snapshots the joined view as
// the reference all later threshold comparisons are made against.
func (s *UserState) CaptureBaseline(atm float64, rows []StrikeRow) {
	s.ATMStrike = &atm
	s.Baseline = make(map[float64]StrikeRow, len(rows))
	for _, r := range rows {
		s.Baseline[r.Strike] = r
	}
	s.FiredSignals = make(map[string]struct{})
	s.SignalLog = nil
}

// HasFired reports whether a signal id has already been acted upon.
func (s *UserState) HasFired(id string) bool {
	_, ok := s.FiredSignals[id]
	return ok
}

// MarkFired records a signal id in the idempotency ledger.
func (s *UserState) MarkFired(id string) {
	s.FiredSignals[id] = struct{}{}
}

// Signal ids are unique per side and strike within a cycle.

// CallSignalID returns the ledger id for a call-side crossing at strike.
func CallSignalID(strike float64) string {
	return fmt.Sprintf("CALL_OFFSET_%g", strike)
}

// PutSignalID returns the ledger id for a put-side crossing at strike.
func PutSignalID(strike float64) string {
	return fmt.Sprintf("PUT_OFFSET_%g", strike)
}
