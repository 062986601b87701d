package domain

import "time"

// LockOutcome how a cycle fared when it tried to take the state lock.
type LockOutcome string

const (
	LockAcquired     LockOutcome = "ACQUIRED"
	LockContention   LockOutcome = "LOCK_CONTENTION"
	LockNotAttempted LockOutcome = "NOT_ATTEMPTED"
)

// TransitionVerdict result of validating a proposed state change.
type TransitionVerdict struct {
	Valid    bool   `json:"valid"`
	Strength int    `json:"strength"`
	Reason   string `json:"reason"`
}

// DecisionRecord snapshot of the most recent attempted cycle.
type DecisionRecord struct {
	CycleID    string    `json:"cycle_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Estimate FusedEstimate `json:"estimate"`
	Strategy StrategyID    `json:"strategy"`
	Result   UnifiedResult `json:"result"`

	PreviousState MarketState        `json:"previous_state"`
	ProposedState MarketState        `json:"proposed_state"`
	CurrentState  MarketState        `json:"current_state"`
	Transition    *TransitionVerdict `json:"transition,omitempty"`

	Lock            LockOutcome     `json:"lock"`
	Execution       ExecutionStatus `json:"execution,omitempty"`
	ExecutionReason string          `json:"execution_reason,omitempty"`
	Trade           *TradeRecord    `json:"trade,omitempty"`

	Errors []string `json:"errors,omitempty"`
}

// AddError appends err to the record when non-nil.
func (d *DecisionRecord) AddError(err error) {
	if err != nil {
		d.Errors = append(d.Errors, err.Error())
	}
}

// EngineStats counters across all attempted cycles.
type EngineStats struct {
	Cycles              int                     `json:"cycles"`
	DegradedFusions     int                     `json:"degraded_fusions"`
	AcceptedTransitions int                     `json:"accepted_transitions"`
	RejectedTransitions int                     `json:"rejected_transitions"`
	LockContentions     int                     `json:"lock_contentions"`
	Executions          map[ExecutionStatus]int `json:"executions"`
	LastCycleAt         time.Time               `json:"last_cycle_at"`
}

// NewEngineStats returns zeroed statistics.
func NewEngineStats() EngineStats {
	return EngineStats{Executions: make(map[ExecutionStatus]int)}
}

// Observe folds a finished decision into the counters.
func (s *EngineStats) Observe(d DecisionRecord) {
	if s.Executions == nil {
		s.Executions = make(map[ExecutionStatus]int)
	}

	s.Cycles++
	s.LastCycleAt = d.FinishedAt

	if d.Estimate.Degraded {
		s.DegradedFusions++
	}
	if d.Lock == LockContention {
		s.LockContentions++
	}
	if d.Transition != nil {
		if d.Transition.Valid {
			s.AcceptedTransitions++
		} else {
			s.RejectedTransitions++
		}
	}
	if d.Execution != "" {
		s.Executions[d.Execution]++
	}
}
