package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// RiskParameters limits enforced by the trading executor.
// Changed only by an explicit administrative update.
type RiskParameters struct {
	// MaxPositionSize absolute position cap in base units.
	MaxPositionSize decimal.Decimal `json:"max_position_size"`
	// MaxLeverage notional / capital cap.
	MaxLeverage decimal.Decimal `json:"max_leverage"`
	// StopLossPercent unrealised loss (percent of entry notional) that forces a close.
	StopLossPercent decimal.Decimal `json:"stop_loss_percent"`
	// MaxDailyLoss quote-currency loss after which trading is blocked for the day.
	MaxDailyLoss   decimal.Decimal `json:"max_daily_loss"`
	CooldownPeriod time.Duration   `json:"cooldown_period"`
	// MinTradeSize deltas at or below this size are ignored.
	MinTradeSize decimal.Decimal `json:"min_trade_size"`
	// Capital quote-currency base used for leverage.
	Capital decimal.Decimal `json:"capital"`
}

// Validate checks basic ranges.
func (r RiskParameters) Validate() error {
	if !r.MaxPositionSize.IsPositive() {
		return errors.New("max_position_size must be greater than zero")
	}
	if !r.MaxLeverage.IsPositive() {
		return errors.New("max_leverage must be greater than zero")
	}
	if r.StopLossPercent.IsNegative() || r.StopLossPercent.GreaterThan(decimal.NewFromInt(100)) {
		return errors.Errorf("stop_loss_percent must be within 0..100, got %s", r.StopLossPercent)
	}
	if r.MaxDailyLoss.IsNegative() {
		return errors.New("max_daily_loss must not be negative")
	}
	if r.CooldownPeriod < 0 {
		return errors.New("cooldown_period must not be negative")
	}
	if r.MinTradeSize.IsNegative() {
		return errors.New("min_trade_size must not be negative")
	}
	if !r.Capital.IsPositive() {
		return errors.New("capital must be greater than zero")
	}
	return nil
}

// MaxSizeAt returns the largest absolute size allowed at price by both the
// position cap and the leverage bound.
func (r RiskParameters) MaxSizeAt(price decimal.Decimal) decimal.Decimal {
	limit := r.MaxPositionSize
	if price.IsPositive() {
		byLeverage := r.MaxLeverage.Mul(r.Capital).Div(price)
		limit = decimal.Min(limit, byLeverage)
	}
	return limit
}
