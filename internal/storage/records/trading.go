package records

import (
	"context"
	"time"

	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/storage/kv"
)

// TradeLogLimit number of trade records kept.
const TradeLogLimit = 100

// PositionRepo persists one position per asset.
type PositionRepo struct {
	store kv.Store
}

func NewPositionRepo(store kv.Store) *PositionRepo {
	return &PositionRepo{store: store}
}

// Get returns the stored position, or a flat one when none exists.
func (r *PositionRepo) Get(ctx context.Context, asset string) (*domain.Position, error) {
	pos := domain.NewPosition(asset)
	if _, err := load(ctx, r.store, KeyPositionPrefix+asset, pos); err != nil {
		return domain.NewPosition(asset), err
	}
	return pos, nil
}

func (r *PositionRepo) Put(ctx context.Context, pos *domain.Position) error {
	return save(ctx, r.store, KeyPositionPrefix+pos.Asset, pos)
}

// TradeRepo persists the bounded trade log, statistics and cooldown marker.
type TradeRepo struct {
	store kv.Store
}

func NewTradeRepo(store kv.Store) *TradeRepo {
	return &TradeRepo{store: store}
}

// Recent returns the trade log oldest first.
func (r *TradeRepo) Recent(ctx context.Context) ([]domain.TradeRecord, error) {
	var log []domain.TradeRecord
	if _, err := load(ctx, r.store, KeyTradeLog, &log); err != nil {
		return nil, err
	}
	return log, nil
}

func (r *TradeRepo) Append(ctx context.Context, rec domain.TradeRecord) error {
	log, err := r.Recent(ctx)
	if err != nil {
		// a corrupt log is replaced rather than blocking new trades
		log = nil
	}
	return save(ctx, r.store, KeyTradeLog, trimTail(append(log, rec), TradeLogLimit))
}

// Stats returns stored statistics, zeroed when absent.
func (r *TradeRepo) Stats(ctx context.Context) (domain.TradeStats, error) {
	stats := domain.NewTradeStats()
	if _, err := load(ctx, r.store, KeyTradeStats, &stats); err != nil {
		return domain.NewTradeStats(), err
	}
	if stats.Executions == nil {
		stats.Executions = make(map[domain.ExecutionStatus]int)
	}
	return stats, nil
}

func (r *TradeRepo) PutStats(ctx context.Context, stats domain.TradeStats) error {
	return save(ctx, r.store, KeyTradeStats, stats)
}

// LastTradeAt returns the time of the last successful trade, zero when none.
func (r *TradeRepo) LastTradeAt(ctx context.Context) (time.Time, error) {
	var ts time.Time
	if _, err := load(ctx, r.store, KeyLastTradeAt, &ts); err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

func (r *TradeRepo) SetLastTradeAt(ctx context.Context, ts time.Time) error {
	return save(ctx, r.store, KeyLastTradeAt, ts)
}
