// Package transition owns the canonical market state and the lock guarding its mutation.
package transition

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/statefuse/internal/clock"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/events"
	"go.uber.org/zap"
)

// Strength constants for the transition heuristic.
const (
	StrengthSelf       = 100
	StrengthUnknown    = 100
	StrengthToSide     = 90
	StrengthFromSide   = 85
	StrengthDirectFlip = 70
)

const (
	DefaultLockTimeout         = 5 * time.Minute
	DefaultFlapWindow          = 10
	DefaultMaxChanges          = 3
	DefaultMinReversalStrength = 80
)

// StateStore persists the current state and its history.
type StateStore interface {
	Current(ctx context.Context) (domain.MarketState, error)
	SetCurrent(ctx context.Context, state domain.MarketState) error
	History(ctx context.Context) ([]domain.TransitionRecord, error)
	AppendHistory(ctx context.Context, rec domain.TransitionRecord) error
	TransitionCount(ctx context.Context) (int, error)
	IncTransitionCount(ctx context.Context) (int, error)
}

// LockStore persists the lock record.
type LockStore interface {
	Get(ctx context.Context) (*domain.Lock, error)
	Put(ctx context.Context, lock domain.Lock) error
	Delete(ctx context.Context) error
}

// Config tunes validation and locking.
type Config struct {
	LockTimeout time.Duration
	// FlapWindow number of recent records inspected for oscillation.
	FlapWindow int
	// MaxChanges state changes tolerated inside FlapWindow.
	MaxChanges          int
	MinReversalStrength int
}

func (c Config) withDefaults() Config {
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.FlapWindow <= 0 {
		c.FlapWindow = DefaultFlapWindow
	}
	if c.MaxChanges <= 0 {
		c.MaxChanges = DefaultMaxChanges
	}
	if c.MinReversalStrength <= 0 {
		c.MinReversalStrength = DefaultMinReversalStrength
	}
	return c
}

// Manager validates and commits state transitions.
type Manager struct {
	cfg    Config
	states StateStore
	locks  LockStore
	clock  clock.Clock
	sink   events.Sink
	l      *zap.Logger

	// serialises lock check-and-set within the process
	mu sync.Mutex
}

// NewManager creates a transition manager.
func NewManager(cfg Config, states StateStore, locks LockStore, clk clock.Clock, sink events.Sink, l *zap.Logger) *Manager {
	if l == nil {
		l = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}

	return &Manager{
		cfg:    cfg.withDefaults(),
		states: states,
		locks:  locks,
		clock:  clk,
		sink:   events.OrNop(sink),
		l:      l.With(zap.String("component", "transition")),
	}
}

// CurrentState returns the persisted state. Unreadable state is reported as UNKNOWN.
func (m *Manager) CurrentState(ctx context.Context) domain.MarketState {
	state, err := m.states.Current(ctx)
	if err != nil {
		m.l.Error("failed to read current state, treating as UNKNOWN", zap.Error(err))
		return domain.StateUnknown
	}
	return state
}

// Strength returns the heuristic confidence of moving from one state to another.
func Strength(from, to domain.MarketState) int {
	switch {
	case from == to:
		return StrengthSelf
	case from == domain.StateUnknown || to == domain.StateUnknown:
		return StrengthUnknown
	case to == domain.StateSideways:
		return StrengthToSide
	case from == domain.StateSideways:
		return StrengthFromSide
	default:
		return StrengthDirectFlip
	}
}

// ValidateTransition checks a proposed change without mutating anything.
func (m *Manager) ValidateTransition(ctx context.Context, from, to domain.MarketState) (domain.TransitionVerdict, error) {
	strength := Strength(from, to)
	verdict := domain.TransitionVerdict{Valid: true, Strength: strength}

	switch {
	case from == to:
		verdict.Reason = "self transition"
		return verdict, nil
	case to == domain.StateUnknown:
		verdict.Reason = "transition to UNKNOWN is always allowed"
		return verdict, nil
	case from == domain.StateUnknown:
		verdict.Reason = "leaving UNKNOWN is always allowed"
		return verdict, nil
	}

	history, err := m.states.History(ctx)
	switch {
	case errors.Is(err, domain.ErrCorruptState):
		// the next append rewrites the record
		m.l.Warn("transition history is corrupt, validating against an empty history", zap.Error(err))
		history = nil
	case err != nil:
		return domain.TransitionVerdict{Strength: strength, Reason: "history unavailable"}, errors.Wrap(err, "read transition history")
	}

	if changes := recentChanges(history, m.cfg.FlapWindow); changes > m.cfg.MaxChanges {
		verdict.Valid = false
		verdict.Reason = fmt.Sprintf("flapping: %d state changes in the last %d transitions", changes, m.cfg.FlapWindow)
		return verdict, nil
	}

	if isDirectFlip(from, to) && strength < m.cfg.MinReversalStrength {
		verdict.Valid = false
		verdict.Reason = fmt.Sprintf("direct %s to %s needs strength %d, got %d", from, to, m.cfg.MinReversalStrength, strength)
		return verdict, nil
	}

	verdict.Reason = fmt.Sprintf("%s to %s accepted", from, to)
	return verdict, nil
}

// Commit validates the move from the stored state to `to` and persists it.
// A rejected move returns *domain.ValidationError. A self transition only
// appends a history record, so stable cycles age old changes out of the flap window.
func (m *Manager) Commit(ctx context.Context, to domain.MarketState, reason string) (domain.TransitionRecord, domain.TransitionVerdict, error) {
	if !to.IsValid() {
		return domain.TransitionRecord{}, domain.TransitionVerdict{}, &domain.ValidationError{Field: "state", Reason: fmt.Sprintf("unknown state %q", to)}
	}

	from := m.CurrentState(ctx)

	verdict, err := m.ValidateTransition(ctx, from, to)
	if err != nil {
		return domain.TransitionRecord{}, verdict, err
	}
	if !verdict.Valid {
		m.l.Info("transition rejected",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("reason", verdict.Reason),
		)
		return domain.TransitionRecord{}, verdict, &domain.ValidationError{Field: "state", Reason: verdict.Reason}
	}

	rec := domain.TransitionRecord{
		Timestamp: m.clock.Now(),
		From:      from,
		To:        to,
		Reason:    reason,
		Strength:  verdict.Strength,
	}

	if err := m.states.AppendHistory(ctx, rec); err != nil {
		return domain.TransitionRecord{}, verdict, errors.Wrap(err, "append transition")
	}
	if !rec.IsChange() {
		return rec, verdict, nil
	}

	if err := m.states.SetCurrent(ctx, to); err != nil {
		return domain.TransitionRecord{}, verdict, errors.Wrap(err, "persist state")
	}
	count, err := m.states.IncTransitionCount(ctx)
	if err != nil {
		return domain.TransitionRecord{}, verdict, errors.Wrap(err, "increment transition count")
	}

	m.l.Info("state committed",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("strength", verdict.Strength),
		zap.Int("count", count),
	)
	m.sink.Emit(events.New(events.StateTransition, rec.Timestamp, map[string]any{
		"from":     string(from),
		"to":       string(to),
		"strength": verdict.Strength,
		"reason":   reason,
	}))

	return rec, verdict, nil
}

// Transitions returns the recorded history oldest first.
func (m *Manager) Transitions(ctx context.Context) ([]domain.TransitionRecord, error) {
	return m.states.History(ctx)
}

// TransitionCount returns the number of committed transitions.
func (m *Manager) TransitionCount(ctx context.Context) (int, error) {
	return m.states.TransitionCount(ctx)
}

func recentChanges(history []domain.TransitionRecord, window int) int {
	if len(history) > window {
		history = history[len(history)-window:]
	}
	n := 0
	for _, r := range history {
		if r.IsChange() {
			n++
		}
	}
	return n
}

func isDirectFlip(from, to domain.MarketState) bool {
	return (from == domain.StateBull && to == domain.StateBear) ||
		(from == domain.StateBear && to == domain.StateBull)
}
