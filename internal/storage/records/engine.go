package records

import (
	"context"

	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/storage/kv"
)

// DefaultWindowCapacity number of fused points kept for detection.
const DefaultWindowCapacity = 100

// StrategyRepo persists the active strategy id.
type StrategyRepo struct {
	store kv.Store
}

func NewStrategyRepo(store kv.Store) *StrategyRepo {
	return &StrategyRepo{store: store}
}

// Active returns the stored id, or fallback when none is stored.
func (r *StrategyRepo) Active(ctx context.Context, fallback domain.StrategyID) (domain.StrategyID, error) {
	var id domain.StrategyID
	found, err := load(ctx, r.store, KeyActiveStrategy, &id)
	if err != nil || !found {
		return fallback, err
	}
	return id, nil
}

func (r *StrategyRepo) SetActive(ctx context.Context, id domain.StrategyID) error {
	return save(ctx, r.store, KeyActiveStrategy, id)
}

// DecisionRepo persists the last decision and engine statistics.
type DecisionRepo struct {
	store kv.Store
}

func NewDecisionRepo(store kv.Store) *DecisionRepo {
	return &DecisionRepo{store: store}
}

// Last returns the most recent decision or nil.
func (r *DecisionRepo) Last(ctx context.Context) (*domain.DecisionRecord, error) {
	var rec domain.DecisionRecord
	found, err := load(ctx, r.store, KeyLastDecision, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (r *DecisionRepo) PutLast(ctx context.Context, rec domain.DecisionRecord) error {
	return save(ctx, r.store, KeyLastDecision, rec)
}

func (r *DecisionRepo) Stats(ctx context.Context) (domain.EngineStats, error) {
	stats := domain.NewEngineStats()
	if _, err := load(ctx, r.store, KeyEngineStats, &stats); err != nil {
		return domain.NewEngineStats(), err
	}
	if stats.Executions == nil {
		stats.Executions = make(map[domain.ExecutionStatus]int)
	}
	return stats, nil
}

func (r *DecisionRepo) PutStats(ctx context.Context, stats domain.EngineStats) error {
	return save(ctx, r.store, KeyEngineStats, stats)
}

// RiskRepo persists administratively updated risk parameters.
type RiskRepo struct {
	store kv.Store
}

func NewRiskRepo(store kv.Store) *RiskRepo {
	return &RiskRepo{store: store}
}

// Get returns stored parameters. found is false when none were ever saved.
func (r *RiskRepo) Get(ctx context.Context) (params domain.RiskParameters, found bool, err error) {
	found, err = load(ctx, r.store, KeyRiskParams, &params)
	return params, found, err
}

func (r *RiskRepo) Put(ctx context.Context, params domain.RiskParameters) error {
	return save(ctx, r.store, KeyRiskParams, params)
}

// WindowRepo persists the bounded window of fused points.
type WindowRepo struct {
	store    kv.Store
	capacity int
}

func NewWindowRepo(store kv.Store, capacity int) *WindowRepo {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}
	return &WindowRepo{store: store, capacity: capacity}
}

// Points returns stored points oldest first.
func (r *WindowRepo) Points(ctx context.Context) ([]domain.WindowPoint, error) {
	var points []domain.WindowPoint
	if _, err := load(ctx, r.store, KeyFusionWindow, &points); err != nil {
		return nil, err
	}
	return points, nil
}

// Append adds p and returns the resulting window.
func (r *WindowRepo) Append(ctx context.Context, p domain.WindowPoint) ([]domain.WindowPoint, error) {
	points, err := r.Points(ctx)
	if err != nil {
		points = nil
	}
	points = trimTail(append(points, p), r.capacity)
	if err := save(ctx, r.store, KeyFusionWindow, points); err != nil {
		return nil, err
	}
	return points, nil
}
