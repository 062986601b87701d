// Package events carries fire-and-forget notifications out of the engine.
package events

import "time"

// Type names a kind of engine event.
type Type string

const (
	OutlierRejected Type = "outlier_rejected"
	StateTransition Type = "state_transition"
	LockExpired     Type = "lock_expired"
	LockForced      Type = "lock_force_released"
	TradeExecuted   Type = "trade_executed"
	TradeFailed     Type = "trade_failed"
	RiskBlocked     Type = "risk_blocked"
	StopLoss        Type = "stop_loss"
	StrategySwitch  Type = "strategy_switched"
	StrategyFailed  Type = "strategy_failed"
	RiskUpdated     Type = "risk_parameters_updated"
	CycleCompleted  Type = "cycle_completed"
)

// Event a single notification. Fields holds event-specific values.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"ts"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// New builds an event of type t.
func New(t Type, ts time.Time, fields map[string]any) Event {
	return Event{Type: t, Timestamp: ts, Fields: fields}
}

// Sink receives events. Emit must not block the caller.
type Sink interface {
	Emit(e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(Event) {}

// Multi fans an event out to several sinks.
type Multi []Sink

func (m Multi) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// OrNop returns s, or a Nop sink when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}
