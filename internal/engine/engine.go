// Package engine runs one polling worker per user with an active bot. Each
// worker anchors a trading cycle on the ATM strike, baselines the chain at
// that moment, and fires at most one order per qualifying threshold
// crossing at the configured offset strikes.
package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/tbardale/strikesentry/internal/broker"
	"github.com/tbardale/strikesentry/internal/models"
	"github.com/tbardale/strikesentry/internal/orders"
)

// CredentialSource resolves a user's linked brokerage token.
type CredentialSource interface {
	BrokerToken(username string) (string, error)
}

// Config contains engine-wide settings; per-user tunables live in
// models.UserConfig.
type Config struct {
	TickInterval    time.Duration // polling cadence per bot loop
	SignalThreshold float64       // price units above baseline that fire a signal
	StrikeCount     int           // strikes requested from the gateway
	SymbolPrefix    string        // default contract prefix for new users
	Underlying      string        // default underlying index symbol
}

// DefaultConfig mirrors the reference behavior: 2 second ticks and a
// 20-point threshold.
var DefaultConfig = Config{
	TickInterval:    2 * time.Second,
	SignalThreshold: 20,
	StrikeCount:     40,
	SymbolPrefix:    "NSE:NIFTY",
	Underlying:      "NSE:NIFTY50-INDEX",
}

// userEntry is one user's slot: their state, their worker lifecycle, and
// the lock everything for that user is mutated under.
type userEntry struct {
	mu     sync.Mutex
	state  *models.UserState
	sm     *models.BotStateMachine
	broker broker.Broker
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine owns the per-user worker table. The outer lock guards only the
// table structure; all user-visible mutation happens under that user's
// entry lock so unrelated users never serialize on each other.
type Engine struct {
	mu      sync.RWMutex
	users   map[string]*userEntry
	creds   CredentialSource
	factory broker.Factory
	disp    *orders.Dispatcher
	cfg     Config
	logOut  io.Writer
	logger  *log.Logger
}

// BotStatus is the caller-facing view of one user's worker.
type BotStatus struct {
	Running      bool              `json:"running"`
	State        models.BotState   `json:"state"`
	ATMStrike    *float64          `json:"atm_strike,omitempty"`
	Config       models.UserConfig `json:"config"`
	SignalLog    []string          `json:"signal_log"`
	FiredSignals []string          `json:"fired_signals"`
}

// New creates an engine. logOut receives the per-user loop logs; nil means
// stderr.
func New(creds CredentialSource, factory broker.Factory, disp *orders.Dispatcher, cfg Config, logOut io.Writer) *Engine {
	if logOut == nil {
		logOut = os.Stderr
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig.TickInterval
	}
	if cfg.SignalThreshold <= 0 {
		cfg.SignalThreshold = DefaultConfig.SignalThreshold
	}
	if cfg.StrikeCount <= 0 {
		cfg.StrikeCount = DefaultConfig.StrikeCount
	}
	if cfg.SymbolPrefix == "" {
		cfg.SymbolPrefix = DefaultConfig.SymbolPrefix
	}
	if cfg.Underlying == "" {
		cfg.Underlying = DefaultConfig.Underlying
	}
	return &Engine{
		users:   make(map[string]*userEntry),
		creds:   creds,
		factory: factory,
		disp:    disp,
		cfg:     cfg,
		logOut:  logOut,
		logger:  log.New(logOut, "[ENGINE] ", log.LstdFlags),
	}
}

// StartBot spawns the user's polling loop. The state check and the spawn
// are one step under the user's lock, so two concurrent starts can never
// produce two loops.
func (eng *Engine) StartBot(username string) error {
	token, err := eng.creds.BrokerToken(username)
	if err != nil {
		return err
	}

	e := eng.getOrCreate(username)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sm.IsRunning() {
		return models.ErrAlreadyRunning
	}
	if err := e.sm.Transition(models.BotStarting, "start_requested"); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidOperation, err)
	}

	b := eng.factory(token)
	ctx, cancel := context.WithCancel(context.Background())
	e.broker = b
	e.cancel = cancel
	e.done = make(chan struct{})
	e.state.BotRunning = true
	activeBots.Inc()

	go eng.runLoop(ctx, username, e, b, e.done)
	return nil
}

// StopBot requests a cooperative stop. The loop observes it at the top of
// its next iteration; callers tolerate up to one tick of tail latency.
func (eng *Engine) StopBot(username string) error {
	e, ok := eng.lookup(username)
	if !ok {
		return models.ErrNotRunning
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.sm.IsRunning() {
		return models.ErrNotRunning
	}
	if err := e.sm.Transition(models.BotStopping, "stop_requested"); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidOperation, err)
	}
	e.state.BotRunning = false
	e.cancel()
	return nil
}

// ResetCycle clears the detection state so the next tick re-anchors the
// cycle. Allowed in any state; does not touch the running flag or config.
func (eng *Engine) ResetCycle(username string) {
	e := eng.getOrCreate(username)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.ResetCycle()
}

// Status returns a copy of the user's worker view.
func (eng *Engine) Status(username string) BotStatus {
	e := eng.getOrCreate(username)
	e.mu.Lock()
	defer e.mu.Unlock()

	st := BotStatus{
		Running: e.sm.IsRunning(),
		State:   e.sm.GetCurrentState(),
		Config:  e.state.Config,
	}
	if e.state.ATMStrike != nil {
		v := *e.state.ATMStrike
		st.ATMStrike = &v
	}
	st.SignalLog = append([]string(nil), e.state.SignalLog...)
	st.FiredSignals = make([]string, 0, len(e.state.FiredSignals))
	for id := range e.state.FiredSignals {
		st.FiredSignals = append(st.FiredSignals, id)
	}
	sort.Strings(st.FiredSignals)
	return st
}

// SetConfig replaces the user's tunables. Takes effect on the next tick;
// a new offset mid-cycle simply shifts the watched targets.
func (eng *Engine) SetConfig(username string, cfg models.UserConfig) error {
	_, err := eng.UpdateConfig(username, func(models.UserConfig) (models.UserConfig, error) {
		return cfg, nil
	})
	return err
}

// UpdateConfig applies a caller-supplied mutation to the user's tunables
// under that user's lock, so two concurrent partial updates merge instead
// of one clobbering the other's fields. Returns the config now in effect.
func (eng *Engine) UpdateConfig(username string, apply func(models.UserConfig) (models.UserConfig, error)) (models.UserConfig, error) {
	e := eng.getOrCreate(username)
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := apply(e.state.Config)
	if err != nil {
		return models.UserConfig{}, err
	}
	if cfg.SymbolPrefix == "" || cfg.Underlying == "" {
		return models.UserConfig{}, fmt.Errorf("%w: symbol prefix and underlying must not be empty", models.ErrInvalidOperation)
	}
	e.state.Config = cfg
	return cfg, nil
}

// Snapshot fetches and joins the current chain for a direct user request.
// Unlike the loop, failures here surface to the caller.
func (eng *Engine) Snapshot(ctx context.Context, username string) ([]models.StrikeRow, *float64, error) {
	b, err := eng.resolveBroker(username)
	if err != nil {
		return nil, nil, err
	}

	e := eng.getOrCreate(username)
	e.mu.Lock()
	underlying := e.state.Config.Underlying
	e.mu.Unlock()

	snap, err := b.GetOptionChain(ctx, underlying, eng.cfg.StrikeCount)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
	}
	return models.JoinStrikes(snap.Quotes), snap.Spot, nil
}

// Positions lists the user's open brokerage positions.
func (eng *Engine) Positions(ctx context.Context, username string) ([]broker.PositionItem, error) {
	b, err := eng.resolveBroker(username)
	if err != nil {
		return nil, err
	}
	items, err := b.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
	}
	return items, nil
}

// ExitAll closes every open position for the user.
func (eng *Engine) ExitAll(ctx context.Context, username string) ([]orders.ExitResult, error) {
	b, err := eng.resolveBroker(username)
	if err != nil {
		return nil, err
	}
	results, err := eng.disp.ExitAll(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
	}
	return results, nil
}

// ExitOne closes a single position leg for the user.
func (eng *Engine) ExitOne(ctx context.Context, username string, req broker.ExitRequest) (*broker.OrderReceipt, error) {
	b, err := eng.resolveBroker(username)
	if err != nil {
		return nil, err
	}
	receipt, err := eng.disp.ExitOne(ctx, b, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
	}
	return receipt, nil
}

// Teardown stops the user's worker (if any) and discards their state.
// Registered as the session registry's revoke hook, so supersession and
// sweeping atomically kill the bot along with the session.
func (eng *Engine) Teardown(username string) {
	eng.mu.Lock()
	e, ok := eng.users[username]
	if ok {
		delete(eng.users, username)
	}
	eng.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sm.IsRunning() {
		_ = e.sm.Transition(models.BotStopping, "stop_requested")
		e.state.BotRunning = false
		e.cancel()
	}
}

// Shutdown stops every running worker and waits for the loops to drain.
func (eng *Engine) Shutdown(ctx context.Context) {
	eng.mu.Lock()
	entries := make([]*userEntry, 0, len(eng.users))
	for _, e := range eng.users {
		entries = append(entries, e)
	}
	eng.mu.Unlock()

	var pending []chan struct{}
	for _, e := range entries {
		e.mu.Lock()
		if e.sm.IsRunning() {
			_ = e.sm.Transition(models.BotStopping, "stop_requested")
			e.state.BotRunning = false
			e.cancel()
			pending = append(pending, e.done)
		}
		e.mu.Unlock()
	}

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}

func (eng *Engine) getOrCreate(username string) *userEntry {
	eng.mu.RLock()
	e, ok := eng.users[username]
	eng.mu.RUnlock()
	if ok {
		return e
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if e, ok = eng.users[username]; ok {
		return e
	}
	e = &userEntry{
		state: models.NewUserState(username, models.DefaultUserConfig(eng.cfg.SymbolPrefix, eng.cfg.Underlying)),
		sm:    models.NewBotStateMachine(),
	}
	eng.users[username] = e
	return e
}

func (eng *Engine) lookup(username string) (*userEntry, bool) {
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	e, ok := eng.users[username]
	return e, ok
}

// resolveBroker reuses the broker bound at start when the bot is live,
// otherwise builds a fresh client from the linked token.
func (eng *Engine) resolveBroker(username string) (broker.Broker, error) {
	if e, ok := eng.lookup(username); ok {
		e.mu.Lock()
		b := e.broker
		running := e.sm.IsRunning()
		e.mu.Unlock()
		if running && b != nil {
			return b, nil
		}
	}

	token, err := eng.creds.BrokerToken(username)
	if err != nil {
		return nil, err
	}
	return eng.factory(token), nil
}
