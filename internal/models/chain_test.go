package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quote(strike float64, side OptionSide, price float64) ChainQuote {
	return ChainQuote{Strike: strike, Side: side, LastPrice: price, OpenInterest: 100, Volume: 50}
}

func TestJoinStrikes_JoinsBothSides(t *testing.T) {
	quotes := []ChainQuote{
		quote(110, SidePut, 42),
		quote(100, SideCall, 12),
		quote(110, SideCall, 8),
		quote(100, SidePut, 55),
	}

	rows := JoinStrikes(quotes)
	require.Len(t, rows, 2)

	assert.Equal(t, 100.0, rows[0].Strike)
	assert.Equal(t, 12.0, rows[0].CallPrice)
	assert.Equal(t, 55.0, rows[0].PutPrice)
	assert.Equal(t, 110.0, rows[1].Strike)
	assert.Equal(t, 8.0, rows[1].CallPrice)
	assert.Equal(t, 42.0, rows[1].PutPrice)
}

func TestJoinStrikes_DropsOneSidedStrikes(t *testing.T) {
	quotes := []ChainQuote{
		quote(100, SideCall, 12),
		quote(100, SidePut, 55),
		quote(105, SideCall, 10), // no matching put
		quote(115, SidePut, 60),  // no matching call
	}

	rows := JoinStrikes(quotes)
	require.Len(t, rows, 1)
	assert.Equal(t, 100.0, rows[0].Strike)
}

func TestJoinStrikes_SortedAscending(t *testing.T) {
	quotes := []ChainQuote{
		quote(120, SideCall, 1), quote(120, SidePut, 2),
		quote(100, SideCall, 3), quote(100, SidePut, 4),
		quote(110, SideCall, 5), quote(110, SidePut, 6),
	}

	rows := JoinStrikes(quotes)
	require.Len(t, rows, 3)
	assert.Equal(t, []float64{100, 110, 120}, []float64{rows[0].Strike, rows[1].Strike, rows[2].Strike})
}

func TestUserState_ResetPreservesConfig(t *testing.T) {
	st := NewUserState("sajid", DefaultUserConfig("NSE:NIFTY", "NSE:NIFTY50-INDEX"))
	st.CaptureBaseline(110, []StrikeRow{{Strike: 110, CallPrice: 10}})
	st.MarkFired(CallSignalID(80))
	st.SignalLog = append(st.SignalLog, "call crossing at 80")
	st.Config.CallStrikeOffset = -150

	st.ResetCycle()

	assert.Nil(t, st.ATMStrike)
	assert.Empty(t, st.Baseline)
	assert.Empty(t, st.FiredSignals)
	assert.Empty(t, st.SignalLog)
	assert.Equal(t, -150.0, st.Config.CallStrikeOffset)
}

func TestSignalIDs(t *testing.T) {
	assert.Equal(t, "CALL_OFFSET_24200", CallSignalID(24200))
	assert.Equal(t, "PUT_OFFSET_24800", PutSignalID(24800))
	assert.NotEqual(t, CallSignalID(100), PutSignalID(100))
}
