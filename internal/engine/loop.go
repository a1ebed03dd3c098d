package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tbardale/strikesentry/internal/broker"
	"github.com/tbardale/strikesentry/internal/models"
	"github.com/tbardale/strikesentry/internal/util"
)

// runLoop is one user's polling worker. It ticks until its context is
// canceled; every tick failure is logged and swallowed so the loop never
// dies on a flaky gateway.
func (eng *Engine) runLoop(ctx context.Context, username string, e *userEntry, b broker.Broker, done chan struct{}) {
	logger := log.New(eng.logOut, fmt.Sprintf("[BOT %s] ", username), log.LstdFlags)
	defer close(done)
	defer eng.finishLoop(username, e, logger)

	e.mu.Lock()
	if err := e.sm.Transition(models.BotRunning, "loop_spawned"); err != nil {
		// Stop raced in before the first tick.
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	logger.Printf("polling loop started (tick %s, threshold %.1f)", eng.cfg.TickInterval, eng.cfg.SignalThreshold)

	ticker := time.NewTicker(eng.cfg.TickInterval)
	defer ticker.Stop()

	// First tick runs immediately.
	eng.tick(ctx, e, b, logger)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eng.tick(ctx, e, b, logger)
		}
	}
}

// finishLoop drains the state machine to Stopped once the loop exits.
func (eng *Engine) finishLoop(username string, e *userEntry, logger *log.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// A process-level shutdown can cancel the context without anyone having
	// requested a stop; drain through Stopping either way.
	if e.sm.GetCurrentState() == models.BotRunning || e.sm.GetCurrentState() == models.BotStarting {
		_ = e.sm.Transition(models.BotStopping, "stop_requested")
		e.state.BotRunning = false
	}
	_ = e.sm.Transition(models.BotStopped, "loop_exited")
	activeBots.Dec()
	logger.Printf("polling loop stopped")
}

// tick executes one polling cycle: fetch, join, anchor if needed, evaluate
// both offset targets, dispatch at most once per unfired signal.
func (eng *Engine) tick(ctx context.Context, e *userEntry, b broker.Broker, logger *log.Logger) {
	e.mu.Lock()
	underlying := e.state.Config.Underlying
	e.mu.Unlock()

	snap, err := b.GetOptionChain(ctx, underlying, eng.cfg.StrikeCount)
	if err != nil {
		ticksTotal.WithLabelValues("gateway_error").Inc()
		logger.Printf("chain fetch failed, skipping tick: %v", err)
		return
	}

	rows := models.JoinStrikes(snap.Quotes)
	if len(rows) == 0 {
		ticksTotal.WithLabelValues("empty_join").Inc()
		logger.Printf("no strikes present on both sides, skipping tick")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state

	if st.ATMStrike == nil {
		eng.anchorCycle(st, rows, snap.Spot, logger)
	}

	atm := *st.ATMStrike
	callTarget := atm + st.Config.CallStrikeOffset
	putTarget := atm + st.Config.PutStrikeOffset

	for _, row := range rows {
		if row.Strike == callTarget {
			eng.evaluate(ctx, st, b, row, models.SideCall, logger)
		}
		if row.Strike == putTarget {
			eng.evaluate(ctx, st, b, row, models.SidePut, logger)
		}
	}
	ticksTotal.WithLabelValues("ok").Inc()
}

// anchorCycle performs the once-per-cycle ATM detection and baseline
// capture. The reference price is the gateway spot when present, else the
// median strike of the joined view.
func (eng *Engine) anchorCycle(st *models.UserState, rows []models.StrikeRow, spot *float64, logger *log.Logger) {
	strikes := make([]float64, len(rows))
	for i, r := range rows {
		strikes[i] = r.Strike
	}

	var ref float64
	if spot != nil {
		ref = *spot
	} else {
		ref, _ = util.MedianStrike(strikes)
	}

	atm, _ := util.NearestStrike(strikes, ref)
	st.CaptureBaseline(atm, rows)
	logger.Printf("cycle anchored: ATM strike %g (ref %.2f), %d strikes baselined", atm, ref, len(rows))
}

// evaluate fires the signal for one side of one target strike if its price
// now exceeds the baseline by more than the threshold and it has not fired
// this cycle. Log append happens before dispatch, and the ledger insert
// only after a successful dispatch, so a failed order stays eligible for
// the next qualifying tick.
func (eng *Engine) evaluate(
	ctx context.Context,
	st *models.UserState,
	b broker.Broker,
	row models.StrikeRow,
	side models.OptionSide,
	logger *log.Logger,
) {
	base, ok := st.Baseline[row.Strike]
	if !ok {
		return
	}

	var id string
	var price, basePrice float64
	switch side {
	case models.SideCall:
		id = models.CallSignalID(row.Strike)
		price, basePrice = row.CallPrice, base.CallPrice
	case models.SidePut:
		id = models.PutSignalID(row.Strike)
		price, basePrice = row.PutPrice, base.PutPrice
	}

	if price-basePrice <= eng.cfg.SignalThreshold || st.HasFired(id) {
		return
	}

	desc := fmt.Sprintf("%s %s crossing at strike %g: price %.2f vs baseline %.2f (threshold %.1f)",
		time.Now().Format("15:04:05"), side, row.Strike, price, basePrice, eng.cfg.SignalThreshold)
	st.SignalLog = append(st.SignalLog, desc)
	logger.Print(desc)
	signalsTotal.WithLabelValues(string(side)).Inc()

	if _, err := eng.disp.BuySignal(ctx, b, st.Config.SymbolPrefix, row.Strike, price, side); err != nil {
		ordersTotal.WithLabelValues("failed").Inc()
		logger.Printf("dispatch failed, %s stays eligible: %v", id, err)
		return
	}
	ordersTotal.WithLabelValues("placed").Inc()
	st.MarkFired(id)
}
