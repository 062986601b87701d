// Package trader turns strategy decisions into bounded position changes.
package trader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/statefuse/internal/clock"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/events"
	"go.uber.org/zap"
)

var (
	hundred    = decimal.NewFromInt(100)
	twoHundred = decimal.NewFromInt(200)
)

// regime size multipliers
var regimeMultipliers = map[domain.Regime]decimal.Decimal{
	domain.RegimeHighVolatility: decimal.NewFromFloat(0.7),
	domain.RegimeBreakout:       decimal.NewFromFloat(1.2),
	domain.RegimeReversal:       decimal.NewFromFloat(0.8),
}

// PositionStore persists the position per asset.
type PositionStore interface {
	Get(ctx context.Context, asset string) (*domain.Position, error)
	Put(ctx context.Context, pos *domain.Position) error
}

// TradeStore persists trade records, statistics and the cooldown anchor.
type TradeStore interface {
	Append(ctx context.Context, rec domain.TradeRecord) error
	Stats(ctx context.Context) (domain.TradeStats, error)
	PutStats(ctx context.Context, stats domain.TradeStats) error
	LastTradeAt(ctx context.Context) (time.Time, error)
	SetLastTradeAt(ctx context.Context, ts time.Time) error
}

// Config executor settings.
type Config struct {
	Pair      domain.Pair
	OrderType domain.OrderType
}

// ExecutionResult outcome of one ExecuteStrategy call.
type ExecutionResult struct {
	Status      domain.ExecutionStatus
	TargetSize  decimal.Decimal
	CurrentSize decimal.Decimal
	Delta       decimal.Decimal
	Trade       *domain.TradeRecord
	Reason      string
	// StopLoss is set when the target was forced flat by the stop-loss.
	StopLoss bool
}

// Executor owns the position of one asset.
type Executor struct {
	mu        sync.Mutex
	riskMu    sync.RWMutex
	risk      domain.RiskParameters
	cfg       Config
	adapter   Adapter
	positions PositionStore
	trades    TradeStore
	clock     clock.Clock
	sink      events.Sink
	newID     func() string
	l         *zap.Logger
}

// NewExecutor validates risk and builds an executor.
func NewExecutor(cfg Config, risk domain.RiskParameters, adapter Adapter, positions PositionStore, trades TradeStore, clk clock.Clock, sink events.Sink, l *zap.Logger) (*Executor, error) {
	if err := risk.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid risk parameters")
	}
	if adapter == nil {
		return nil, errors.New("execution adapter is required")
	}
	if l == nil {
		l = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	if cfg.OrderType == "" {
		cfg.OrderType = domain.OrderTypeMarket
	}

	return &Executor{
		risk:      risk,
		cfg:       cfg,
		adapter:   adapter,
		positions: positions,
		trades:    trades,
		clock:     clk,
		sink:      events.OrNop(sink),
		newID:     uuid.NewString,
		l:         l.With(zap.String("component", "executor"), zap.String("pair", cfg.Pair.String())),
	}, nil
}

// RiskParameters returns the active limits.
func (e *Executor) RiskParameters() domain.RiskParameters {
	e.riskMu.RLock()
	defer e.riskMu.RUnlock()
	return e.risk
}

// SetRiskParameters replaces the limits after validation.
func (e *Executor) SetRiskParameters(p domain.RiskParameters) error {
	if err := p.Validate(); err != nil {
		return &domain.ValidationError{Field: "risk_parameters", Reason: err.Error()}
	}
	e.riskMu.Lock()
	e.risk = p
	e.riskMu.Unlock()
	return nil
}

// Asset returns the traded base asset.
func (e *Executor) Asset() string {
	return e.cfg.Pair.From
}

// Position returns the persisted position.
func (e *Executor) Position(ctx context.Context) (*domain.Position, error) {
	return e.positions.Get(ctx, e.Asset())
}

// Stats returns execution statistics.
func (e *Executor) Stats(ctx context.Context) (domain.TradeStats, error) {
	return e.trades.Stats(ctx)
}

// ExecuteStrategy moves the position towards the size implied by res at price.
// Errors are returned only when state could not be read or persisted.
func (e *Executor) ExecuteStrategy(ctx context.Context, res domain.UnifiedResult, price decimal.Decimal) (ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	risk := e.RiskParameters()
	now := e.clock.Now()

	pos, err := e.positions.Get(ctx, e.Asset())
	if err != nil {
		return ExecutionResult{}, errors.Wrap(err, "load position")
	}
	stats, err := e.trades.Stats(ctx)
	if err != nil {
		return ExecutionResult{}, errors.Wrap(err, "load trade stats")
	}
	stats.RollDay(now)

	out := ExecutionResult{CurrentSize: pos.Size, TargetSize: pos.Size, Delta: decimal.Zero}

	if !price.IsPositive() {
		out.Status, out.Reason = domain.ExecutionNoAction, "no usable price"
		return out, e.finish(ctx, &stats, out.Status)
	}

	if !pos.IsFlat() {
		pos.MarkToMarket(price, now)
		if err := e.positions.Put(ctx, pos); err != nil {
			return ExecutionResult{}, errors.Wrap(err, "mark position to market")
		}
	}

	out.StopLoss = e.stopLossHit(pos, price, risk)

	// stop-loss only ever reduces exposure, so it skips the entry gates
	if !out.StopLoss {
		if v := e.checkRisk(pos, price, risk, stats); v != nil {
			out.Status, out.Reason = domain.ExecutionRiskBlocked, v.Error()
			e.l.Warn("trade blocked by risk limits", zap.String("rule", v.Rule), zap.String("detail", v.Detail))
			e.sink.Emit(events.New(events.RiskBlocked, now, map[string]any{
				"rule":   v.Rule,
				"detail": v.Detail,
			}))
			return out, e.finish(ctx, &stats, out.Status)
		}

		last, err := e.trades.LastTradeAt(ctx)
		if err != nil {
			return ExecutionResult{}, errors.Wrap(err, "load last trade time")
		}
		if !last.IsZero() && now.Sub(last) < risk.CooldownPeriod {
			out.Status = domain.ExecutionNoAction
			out.Reason = fmt.Sprintf("cooldown active for another %s", risk.CooldownPeriod-now.Sub(last))
			return out, e.finish(ctx, &stats, out.Status)
		}
	}

	target := TargetSize(res, pos.Size, price, risk)
	if out.StopLoss {
		target = decimal.Zero
	}
	out.TargetSize = target
	out.Delta = target.Sub(pos.Size)

	if out.Delta.Abs().LessThanOrEqual(risk.MinTradeSize) || out.Delta.IsZero() {
		out.Status = domain.ExecutionNoAction
		out.Reason = fmt.Sprintf("delta %s within minimum trade size %s", out.Delta, risk.MinTradeSize)
		return out, e.finish(ctx, &stats, out.Status)
	}

	order := domain.Order{
		ID:     e.newID(),
		Pair:   e.cfg.Pair,
		Side:   domain.SideFromDelta(out.Delta.Sign()),
		Amount: out.Delta.Abs(),
		Type:   e.cfg.OrderType,
		Price:  price,
	}

	fill := e.adapter.Execute(ctx, order)
	if !fill.Success || fill.Err != nil {
		return e.failed(ctx, out, order, fill, &stats, now)
	}

	return e.filled(ctx, out, order, fill, pos, &stats, now)
}

func (e *Executor) stopLossHit(pos *domain.Position, price decimal.Decimal, risk domain.RiskParameters) bool {
	if pos.IsFlat() || !risk.StopLossPercent.IsPositive() {
		return false
	}
	return pos.LossPercent(price).GreaterThan(risk.StopLossPercent)
}

func (e *Executor) checkRisk(pos *domain.Position, price decimal.Decimal, risk domain.RiskParameters, stats domain.TradeStats) *domain.RiskViolation {
	daily := stats.DailyRealizedPnL.Add(pos.PnL(price))
	if daily.LessThan(risk.MaxDailyLoss.Neg()) {
		return &domain.RiskViolation{
			Rule:   "max_daily_loss",
			Detail: fmt.Sprintf("daily pnl %s below -%s", daily.StringFixed(2), risk.MaxDailyLoss),
		}
	}

	leverage := pos.Notional(price).Div(risk.Capital)
	if leverage.GreaterThan(risk.MaxLeverage) {
		return &domain.RiskViolation{
			Rule:   "max_leverage",
			Detail: fmt.Sprintf("leverage %s above %s", leverage.StringFixed(2), risk.MaxLeverage),
		}
	}

	return nil
}

func (e *Executor) failed(ctx context.Context, out ExecutionResult, order domain.Order, fill domain.Fill, stats *domain.TradeStats, now time.Time) (ExecutionResult, error) {
	cause := fill.Err
	if cause == nil {
		cause = errors.New("order was not filled")
	}
	failure := &domain.ExecutionFailure{Order: order, Err: cause}

	out.Status = domain.ExecutionFailed
	if errors.Is(cause, ErrInsufficientFunds) {
		out.Status = domain.ExecutionInsufficientFunds
	}
	out.Reason = failure.Error()
	out.Trade = &domain.TradeRecord{
		ID:        order.ID,
		Asset:     e.Asset(),
		Side:      order.Side,
		Amount:    order.Amount,
		Executed:  decimal.Zero,
		Price:     order.Price,
		Status:    out.Status,
		Error:     cause.Error(),
		Timestamp: now,
	}

	e.l.Error("order failed", zap.String("order", order.String()), zap.Error(cause))
	e.sink.Emit(events.New(events.TradeFailed, now, map[string]any{
		"id":     order.ID,
		"side":   order.Side.String(),
		"amount": order.Amount.String(),
		"status": string(out.Status),
		"error":  cause.Error(),
	}))

	if err := e.trades.Append(ctx, *out.Trade); err != nil {
		return out, errors.Wrap(err, "append trade record")
	}
	return out, e.finish(ctx, stats, out.Status)
}

func (e *Executor) filled(ctx context.Context, out ExecutionResult, order domain.Order, fill domain.Fill, pos *domain.Position, stats *domain.TradeStats, now time.Time) (ExecutionResult, error) {
	executed := fill.ExecutedAmount
	if !executed.IsPositive() {
		executed = order.Amount
	}
	fillPrice := fill.Price
	if !fillPrice.IsPositive() {
		fillPrice = order.Price
	}

	signed := executed
	if order.Side == domain.SideSell {
		signed = executed.Neg()
	}

	realized, err := pos.Apply(signed, fillPrice, now)
	if err != nil {
		return out, errors.Wrap(err, "apply fill")
	}
	if err := e.positions.Put(ctx, pos); err != nil {
		return out, errors.Wrap(err, "persist position")
	}

	out.Status = domain.ExecutionSuccess
	out.Reason = fmt.Sprintf("moved position from %s to %s", out.CurrentSize, pos.Size)
	if out.StopLoss {
		out.Reason = "stop-loss: " + out.Reason
	}
	out.Trade = &domain.TradeRecord{
		ID:        order.ID,
		Asset:     e.Asset(),
		Side:      order.Side,
		Amount:    order.Amount,
		Executed:  executed,
		Price:     fillPrice,
		Status:    domain.ExecutionSuccess,
		Timestamp: now,
	}

	stats.TotalTrades++
	stats.TotalVolume = stats.TotalVolume.Add(executed.Mul(fillPrice))
	stats.RealizedPnL = stats.RealizedPnL.Add(realized)
	stats.DailyRealizedPnL = stats.DailyRealizedPnL.Add(realized)
	stats.LastTradeAt = now

	if err := e.trades.Append(ctx, *out.Trade); err != nil {
		return out, errors.Wrap(err, "append trade record")
	}
	if err := e.trades.SetLastTradeAt(ctx, now); err != nil {
		return out, errors.Wrap(err, "reset cooldown")
	}

	e.l.Info("order filled",
		zap.String("order", order.String()),
		zap.String("price", fillPrice.String()),
		zap.String("position", pos.Size.String()),
		zap.String("realized_pnl", realized.String()))

	fields := map[string]any{
		"id":       order.ID,
		"side":     order.Side.String(),
		"amount":   executed.String(),
		"price":    fillPrice.String(),
		"position": pos.Size.String(),
	}
	if out.StopLoss {
		e.sink.Emit(events.New(events.StopLoss, now, fields))
	}
	e.sink.Emit(events.New(events.TradeExecuted, now, fields))

	return out, e.finish(ctx, stats, out.Status)
}

func (e *Executor) finish(ctx context.Context, stats *domain.TradeStats, status domain.ExecutionStatus) error {
	stats.Count(status)
	return errors.Wrap(e.trades.PutStats(ctx, *stats), "persist trade stats")
}

// TargetSize signed position implied by res, bounded by the position cap and leverage at price.
func TargetSize(res domain.UnifiedResult, current, price decimal.Decimal, risk domain.RiskParameters) decimal.Decimal {
	var target decimal.Decimal

	switch dir := res.Signal.Direction(); {
	case res.Signal == domain.SignalHold:
		target = current
	case dir != 0:
		divisor := twoHundred
		if res.Signal.IsStrong() {
			divisor = hundred
		}
		conf := decimal.NewFromInt(int64(res.ConfidencePercent()))
		target = risk.MaxPositionSize.Mul(conf).Div(divisor).Mul(decimal.NewFromInt(int64(dir)))
		if m, ok := regimeMultipliers[res.Regime]; ok {
			target = target.Mul(m)
		}
	default:
		target = decimal.Zero
	}

	limit := risk.MaxSizeAt(price)
	if target.GreaterThan(limit) {
		return limit
	}
	if target.LessThan(limit.Neg()) {
		return limit.Neg()
	}
	return target
}
