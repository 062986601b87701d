package domain

import "fmt"

// MarketState coarse market state owned by the transition manager.
type MarketState string

const (
	StateBull     MarketState = "BULL"
	StateBear     MarketState = "BEAR"
	StateSideways MarketState = "SIDEWAYS"
	StateUnknown  MarketState = "UNKNOWN"
)

// AllMarketStates lists every coarse state.
var AllMarketStates = []MarketState{StateBull, StateBear, StateSideways, StateUnknown}

// IsValid checks if the MarketState value is valid.
func (s MarketState) IsValid() bool {
	switch s {
	case StateBull, StateBear, StateSideways, StateUnknown:
		return true
	}
	return false
}

// String returns the string representation.
func (s MarketState) String() string {
	return string(s)
}

// ParseMarketState parses a coarse state name.
func ParseMarketState(s string) (MarketState, error) {
	state := MarketState(s)
	if !state.IsValid() {
		return StateUnknown, fmt.Errorf("unknown market state %q", s)
	}
	return state, nil
}

// Regime fine-grained per-cycle classification produced by detectors.
type Regime string

const (
	RegimeHighVolatility Regime = "HIGH_VOLATILITY"
	RegimeLowVolatility  Regime = "LOW_VOLATILITY"
	RegimeTrendingUp     Regime = "TRENDING_UP"
	RegimeTrendingDown   Regime = "TRENDING_DOWN"
	RegimeSideways       Regime = "SIDEWAYS"
	RegimeBreakout       Regime = "BREAKOUT"
	RegimeReversal       Regime = "REVERSAL"
)

// CoarseState maps a regime onto the coarse state machine.
// Only sustained trends move the market out of SIDEWAYS.
func (r Regime) CoarseState() MarketState {
	switch r {
	case RegimeTrendingUp:
		return StateBull
	case RegimeTrendingDown:
		return StateBear
	default:
		return StateSideways
	}
}

// Signal trading signal emitted by a detector.
type Signal string

const (
	SignalStrongBuy  Signal = "STRONG_BUY"
	SignalBuy        Signal = "BUY"
	SignalHold       Signal = "HOLD"
	SignalSell       Signal = "SELL"
	SignalStrongSell Signal = "STRONG_SELL"
	SignalWait       Signal = "WAIT"
)

// IsValid checks if the Signal value is valid.
func (s Signal) IsValid() bool {
	switch s {
	case SignalStrongBuy, SignalBuy, SignalHold, SignalSell, SignalStrongSell, SignalWait:
		return true
	}
	return false
}

// Direction returns +1 for buy signals, -1 for sell signals and 0 otherwise.
func (s Signal) Direction() int {
	switch s {
	case SignalStrongBuy, SignalBuy:
		return 1
	case SignalStrongSell, SignalSell:
		return -1
	default:
		return 0
	}
}

// IsStrong reports whether the signal is one of the STRONG_* variants.
func (s Signal) IsStrong() bool {
	return s == SignalStrongBuy || s == SignalStrongSell
}

// String returns the string representation.
func (s Signal) String() string {
	return string(s)
}
