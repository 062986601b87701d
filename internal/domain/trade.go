package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionStatus outcome of one executor run.
type ExecutionStatus string

const (
	ExecutionSuccess           ExecutionStatus = "SUCCESS"
	ExecutionFailed            ExecutionStatus = "FAILED"
	ExecutionRiskBlocked       ExecutionStatus = "RISK_BLOCKED"
	ExecutionNoAction          ExecutionStatus = "NO_ACTION"
	ExecutionInsufficientFunds ExecutionStatus = "INSUFFICIENT_FUNDS"
)

// Order request handed to the execution adapter.
type Order struct {
	ID     string
	Pair   Pair
	Side   Side
	Amount decimal.Decimal
	Type   OrderType
	Price  decimal.Decimal
}

// String returns a human-readable string representation.
func (o Order) String() string {
	return fmt.Sprintf("%s %s %s amount: %s", o.Pair.String(), o.Type, o.Side.String(), o.Amount.String())
}

// Fill adapter response for an order.
type Fill struct {
	Success        bool
	ExecutedAmount decimal.Decimal
	Price          decimal.Decimal
	Err            error
}

// TradeRecord persisted result of an attempted trade.
type TradeRecord struct {
	ID        string          `json:"id"`
	Asset     string          `json:"asset"`
	Side      Side            `json:"side"`
	Amount    decimal.Decimal `json:"amount"`
	Executed  decimal.Decimal `json:"executed"`
	Price     decimal.Decimal `json:"price"`
	Status    ExecutionStatus `json:"status"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

// TradeStats running execution statistics.
type TradeStats struct {
	Executions  map[ExecutionStatus]int `json:"executions"`
	TotalTrades int                     `json:"total_trades"`
	TotalVolume decimal.Decimal         `json:"total_volume"`
	RealizedPnL decimal.Decimal         `json:"realized_pnl"`
	// DailyRealizedPnL resets when DayKey changes.
	DailyRealizedPnL decimal.Decimal `json:"daily_realized_pnl"`
	DayKey           string          `json:"day_key"`
	LastTradeAt      time.Time       `json:"last_trade_at"`
}

// NewTradeStats returns zeroed statistics.
func NewTradeStats() TradeStats {
	return TradeStats{
		Executions:       make(map[ExecutionStatus]int),
		TotalVolume:      decimal.Zero,
		RealizedPnL:      decimal.Zero,
		DailyRealizedPnL: decimal.Zero,
	}
}

// DayKeyOf returns the UTC calendar day used for daily loss accounting.
func DayKeyOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// RollDay resets the daily counters when now falls on a new day.
func (s *TradeStats) RollDay(now time.Time) {
	key := DayKeyOf(now)
	if s.DayKey != key {
		s.DayKey = key
		s.DailyRealizedPnL = decimal.Zero
	}
}

// Count increments the counter for status.
func (s *TradeStats) Count(status ExecutionStatus) {
	if s.Executions == nil {
		s.Executions = make(map[ExecutionStatus]int)
	}
	s.Executions[status]++
}
