// Package strategy runs interchangeable detection strategies behind one result shape.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/statefuse/internal/clock"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/events"
	"go.uber.org/zap"
)

const safeConfidence = 0.5

// DetectionStrategy a market-state detection algorithm.
type DetectionStrategy interface {
	ID() domain.StrategyID
	Execute(ctx context.Context, w domain.Window) (domain.UnifiedResult, error)
}

// ActiveStore persists the active strategy id.
type ActiveStore interface {
	Active(ctx context.Context, fallback domain.StrategyID) (domain.StrategyID, error)
	SetActive(ctx context.Context, id domain.StrategyID) error
}

// Manager keeps the strategy registry and runs the active one.
type Manager struct {
	mu         sync.RWMutex
	strategies map[domain.StrategyID]DetectionStrategy
	store      ActiveStore
	defaultID  domain.StrategyID
	clock      clock.Clock
	sink       events.Sink
	l          *zap.Logger
}

// NewManager creates a manager. The default strategy must be among the registered ones.
func NewManager(store ActiveStore, defaultID domain.StrategyID, clk clock.Clock, sink events.Sink, l *zap.Logger, strategies ...DetectionStrategy) (*Manager, error) {
	if l == nil {
		l = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}

	m := &Manager{
		strategies: make(map[domain.StrategyID]DetectionStrategy, len(strategies)),
		store:      store,
		defaultID:  defaultID,
		clock:      clk,
		sink:       events.OrNop(sink),
		l:          l.With(zap.String("component", "strategy")),
	}
	for _, s := range strategies {
		m.Register(s)
	}

	if _, ok := m.lookup(defaultID); !ok {
		return nil, fmt.Errorf("default strategy %q is not registered", defaultID)
	}

	return m, nil
}

// Register adds or replaces a strategy.
func (m *Manager) Register(s DetectionStrategy) {
	m.mu.Lock()
	m.strategies[s.ID()] = s
	m.mu.Unlock()
}

func (m *Manager) lookup(id domain.StrategyID) (DetectionStrategy, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.strategies[id]
	return s, ok
}

// Strategies lists registered ids in stable order.
func (m *Manager) Strategies() []domain.StrategyID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]domain.StrategyID, 0, len(m.strategies))
	for id := range m.strategies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Active returns the persisted active id. Unknown or unreadable ids resolve to the default.
func (m *Manager) Active(ctx context.Context) domain.StrategyID {
	id, err := m.store.Active(ctx, m.defaultID)
	if err != nil {
		m.l.Error("failed to read active strategy, using default", zap.Error(err))
		return m.defaultID
	}
	if _, ok := m.lookup(id); !ok {
		m.l.Warn("stored strategy is not registered, using default", zap.String("strategy", string(id)))
		return m.defaultID
	}
	return id
}

// Switch persists a new active strategy. Unknown ids are rejected.
func (m *Manager) Switch(ctx context.Context, id domain.StrategyID) error {
	if _, ok := m.lookup(id); !ok {
		return &domain.ValidationError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", id)}
	}

	prev := m.Active(ctx)
	if err := m.store.SetActive(ctx, id); err != nil {
		return errors.Wrap(err, "persist active strategy")
	}

	m.l.Info("strategy switched", zap.String("from", string(prev)), zap.String("to", string(id)))
	m.sink.Emit(events.New(events.StrategySwitch, m.clock.Now(), map[string]any{
		"from": string(prev),
		"to":   string(id),
	}))

	return nil
}

// Execute runs the active strategy. Failures yield a safe SIDEWAYS/WAIT result carrying the error.
func (m *Manager) Execute(ctx context.Context, w domain.Window) domain.UnifiedResult {
	id := m.Active(ctx)
	s, _ := m.lookup(id)

	res, err := s.Execute(ctx, w)
	if err != nil {
		m.l.Warn("strategy failed, using safe default", zap.String("strategy", string(id)), zap.Error(err))
		m.sink.Emit(events.New(events.StrategyFailed, m.clock.Now(), map[string]any{
			"strategy": string(id),
			"error":    err.Error(),
		}))
		return SafeDefault(id, err)
	}

	return normalize(id, res)
}

// SafeDefault neutral result used when a strategy cannot decide.
func SafeDefault(id domain.StrategyID, err error) domain.UnifiedResult {
	res := domain.UnifiedResult{
		Strategy:   id,
		State:      domain.StateSideways,
		Confidence: safeConfidence,
		Signal:     domain.SignalWait,
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// normalize clamps ranges and replaces invalid enums with neutral values.
func normalize(id domain.StrategyID, res domain.UnifiedResult) domain.UnifiedResult {
	res.Strategy = id
	if !res.State.IsValid() {
		res.State = domain.StateSideways
	}
	if !res.Signal.IsValid() {
		res.Signal = domain.SignalWait
	}
	res.Confidence = clamp(res.Confidence, 0, 1)
	res.Urgency = int(clamp(float64(res.Urgency), 0, 100))
	return res
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
