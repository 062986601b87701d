package internal

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
	"github.com/vadiminshakov/statefuse/internal/metrics"
	"github.com/vadiminshakov/statefuse/internal/services/aggregator"
	"github.com/vadiminshakov/statefuse/internal/services/strategy"
	"github.com/vadiminshakov/statefuse/internal/services/trader"
	"github.com/vadiminshakov/statefuse/internal/services/transition"
	"github.com/vadiminshakov/statefuse/internal/storage/decisions"
	"github.com/vadiminshakov/statefuse/internal/storage/records"
	"go.uber.org/zap"
)

// Collector gathers raw readings for a pair from every configured source.
type Collector interface {
	Collect(ctx context.Context, pair domain.Pair) ([]domain.RawReading, []error)
}

// Journal receives every finished decision.
type Journal interface {
	Append(rec domain.DecisionRecord) error
	Tail(n int) ([]decisions.Entry, error)
}

// Components the engine drives on each cycle.
type Components struct {
	Collector   Collector
	Aggregator  *aggregator.Aggregator
	Window      *records.WindowRepo
	Strategies  *strategy.Manager
	Transitions *transition.Manager
	Executor    *trader.Executor
	Decisions   *records.DecisionRepo
	Risk        *records.RiskRepo
}

// EngineConfig cycle settings.
type EngineConfig struct {
	Pair     domain.Pair
	Interval time.Duration
	// PriceDecimals decimal places kept when a fused price enters the integer window.
	PriceDecimals int32
}

// Statistics engine counters together with trading counters.
type Statistics struct {
	Engine  domain.EngineStats `json:"engine"`
	Trading domain.TradeStats  `json:"trading"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithJournal appends every decision to j.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithMetrics records every decision into m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithSink(s events.Sink) Option {
	return func(e *Engine) { e.sink = events.OrNop(s) }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.l = l
		}
	}
}

// Engine runs the fusion and decision pipeline, one cycle per trigger.
type Engine struct {
	cfg EngineConfig
	c   Components

	journal Journal
	metrics *metrics.Recorder
	clock   clock.Clock
	sink    events.Sink
	l       *zap.Logger
	newID   func() string

	// statsMu serialises the read-modify-write of engine statistics
	statsMu sync.Mutex
}

// NewEngine checks that every component is present and returns the engine.
func NewEngine(cfg EngineConfig, c Components, opts ...Option) (*Engine, error) {
	switch {
	case c.Collector == nil:
		return nil, errors.New("collector is required")
	case c.Aggregator == nil:
		return nil, errors.New("aggregator is required")
	case c.Window == nil:
		return nil, errors.New("window repository is required")
	case c.Strategies == nil:
		return nil, errors.New("strategy manager is required")
	case c.Transitions == nil:
		return nil, errors.New("transition manager is required")
	case c.Executor == nil:
		return nil, errors.New("executor is required")
	case c.Decisions == nil:
		return nil, errors.New("decision repository is required")
	case c.Risk == nil:
		return nil, errors.New("risk repository is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}

	e := &Engine{
		cfg:   cfg,
		c:     c,
		clock: clock.System{},
		sink:  events.Nop{},
		l:     zap.NewNop(),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.l = e.l.With(zap.String("component", "engine"), zap.String("pair", cfg.Pair.String()))

	return e, nil
}

// Run executes a cycle on every tick until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.l.Info("starting decision loop", zap.Duration("interval", e.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			e.l.Info("context done, stopping decision loop")
			return ctx.Err()
		case <-ticker.C:
			rec, err := e.RunCycle(ctx)
			if err != nil {
				e.l.Error("cycle failed", zap.String("cycle", rec.CycleID), zap.Error(err))
				continue
			}
			e.l.Debug("cycle done",
				zap.String("cycle", rec.CycleID),
				zap.String("state", string(rec.CurrentState)),
				zap.String("lock", string(rec.Lock)),
				zap.String("execution", string(rec.Execution)),
			)
		}
	}
}

type lockedOutcome struct {
	acquired  bool
	state     domain.MarketState
	verdict   *domain.TransitionVerdict
	execution trader.ExecutionResult
	errs      []error
}

// RunCycle runs one full cycle and returns its decision record.
// Degraded data, rejected transitions, risk blocks and lock contention are
// reported in the record; the error is non-nil only when the record itself
// could not be persisted.
func (e *Engine) RunCycle(ctx context.Context) (domain.DecisionRecord, error) {
	rec := domain.DecisionRecord{
		CycleID:   e.newID(),
		StartedAt: e.clock.Now(),
		Lock:      domain.LockNotAttempted,
	}

	prev := e.c.Transitions.CurrentState(ctx)
	rec.PreviousState = prev
	rec.CurrentState = prev

	readings, fetchErrs := e.c.Collector.Collect(ctx, e.cfg.Pair)
	for _, err := range fetchErrs {
		rec.AddError(err)
	}

	est := e.c.Aggregator.Aggregate(readings)
	rec.Estimate = est

	points, err := e.extendWindow(ctx, est, prev)
	rec.AddError(err)

	res := e.c.Strategies.Execute(ctx, domain.NewWindow(points))
	rec.Strategy = res.Strategy
	rec.Result = res
	rec.ProposedState = res.State

	owner := e.newID()
	out, err := transition.WithLock(ctx, e.c.Transitions, owner,
		func(ctx context.Context) (lockedOutcome, error) {
			return e.commitAndExecute(ctx, prev, res, est.Value), nil
		},
		func() lockedOutcome { return lockedOutcome{} },
	)

	switch {
	case err != nil:
		rec.AddError(errors.Wrap(err, "acquire state lock"))
	case !out.acquired:
		rec.Lock = domain.LockContention
		rec.AddError(domain.ErrLockContention)
		e.l.Info("state lock held elsewhere, skipping commit and execution")
	default:
		rec.Lock = domain.LockAcquired
		rec.CurrentState = out.state
		rec.Transition = out.verdict
		rec.Execution = out.execution.Status
		rec.ExecutionReason = out.execution.Reason
		rec.Trade = out.execution.Trade
		for _, err := range out.errs {
			rec.AddError(err)
		}
	}

	rec.FinishedAt = e.clock.Now()

	return rec, e.record(ctx, rec)
}

func (e *Engine) extendWindow(ctx context.Context, est domain.FusedEstimate, state domain.MarketState) ([]domain.WindowPoint, error) {
	if !est.HasValue() {
		points, err := e.c.Window.Points(ctx)
		return points, errors.Wrap(err, "read window")
	}

	point := domain.WindowPoint{
		Price:     toTicks(est.Value, e.cfg.PriceDecimals),
		Volume:    est.Volume.Round(0).IntPart(),
		State:     state,
		Timestamp: est.Timestamp,
	}
	points, err := e.c.Window.Append(ctx, point)
	if err != nil {
		// keep the cycle going on the window we already had
		old, _ := e.c.Window.Points(ctx)
		return old, errors.Wrap(err, "append window point")
	}
	return points, nil
}

// commitAndExecute runs under the state lock. Every proposal is committed;
// an unchanged state appends a stable record and leaves the verdict unset.
func (e *Engine) commitAndExecute(ctx context.Context, prev domain.MarketState, res domain.UnifiedResult, price decimal.Decimal) lockedOutcome {
	out := lockedOutcome{acquired: true, state: e.c.Transitions.CurrentState(ctx)}

	reason := fmt.Sprintf("%s proposed %s at confidence %.2f", res.Strategy, res.State, res.Confidence)
	if res.Regime != "" {
		reason += fmt.Sprintf(" (%s)", res.Regime)
	}

	change := res.State != out.state
	_, verdict, err := e.c.Transitions.Commit(ctx, res.State, reason)
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		out.verdict = &verdict
	case err != nil:
		out.errs = append(out.errs, errors.Wrap(err, "commit state"))
	case change:
		out.verdict = &verdict
		out.state = res.State
	}

	exec, err := e.c.Executor.ExecuteStrategy(ctx, res, price)
	if err != nil {
		out.errs = append(out.errs, errors.Wrap(err, "execute strategy"))
		exec.Status = domain.ExecutionFailed
		exec.Reason = err.Error()
	}
	out.execution = exec

	if prev != out.state {
		e.l.Info("market state changed", zap.String("from", string(prev)), zap.String("to", string(out.state)))
	}

	return out
}

// record persists rec as the last decision and folds it into statistics.
func (e *Engine) record(ctx context.Context, rec domain.DecisionRecord) error {
	var errs []error

	if err := e.c.Decisions.PutLast(ctx, rec); err != nil {
		errs = append(errs, errors.Wrap(err, "store last decision"))
	}

	e.statsMu.Lock()
	stats, err := e.c.Decisions.Stats(ctx)
	if err != nil {
		e.l.Error("failed to read engine stats, starting over", zap.Error(err))
		stats = domain.NewEngineStats()
	}
	stats.Observe(rec)
	if err := e.c.Decisions.PutStats(ctx, stats); err != nil {
		errs = append(errs, errors.Wrap(err, "store engine stats"))
	}
	e.statsMu.Unlock()

	if e.journal != nil {
		if err := e.journal.Append(rec); err != nil {
			e.l.Error("failed to journal decision", zap.String("cycle", rec.CycleID), zap.Error(err))
		}
	}

	if e.metrics != nil {
		e.metrics.RecordDecision(rec)
		if pos, err := e.c.Executor.Position(ctx); err == nil {
			e.metrics.SetPosition(pos)
		}
	}

	e.sink.Emit(events.New(events.CycleCompleted, rec.FinishedAt, map[string]any{
		"cycle":      rec.CycleID,
		"strategy":   string(rec.Strategy),
		"state":      string(rec.CurrentState),
		"proposed":   string(rec.ProposedState),
		"lock":       string(rec.Lock),
		"execution":  string(rec.Execution),
		"confidence": rec.Estimate.Confidence,
		"degraded":   rec.Estimate.Degraded,
	}))

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// CurrentState returns the committed coarse state.
func (e *Engine) CurrentState(ctx context.Context) domain.MarketState {
	return e.c.Transitions.CurrentState(ctx)
}

// LastDecision returns the most recent attempted cycle, nil before the first one.
func (e *Engine) LastDecision(ctx context.Context) (*domain.DecisionRecord, error) {
	return e.c.Decisions.Last(ctx)
}

// RecentDecisions returns up to n journaled decisions, oldest first.
func (e *Engine) RecentDecisions(n int) ([]domain.DecisionRecord, error) {
	if e.journal == nil {
		return nil, errors.New("decision journal is not configured")
	}
	entries, err := e.journal.Tail(n)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DecisionRecord, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Decision)
	}
	return out, nil
}

func (e *Engine) SwitchStrategy(ctx context.Context, id domain.StrategyID) error {
	return e.c.Strategies.Switch(ctx, id)
}

func (e *Engine) ActiveStrategy(ctx context.Context) domain.StrategyID {
	return e.c.Strategies.Active(ctx)
}

// Strategies lists the registered strategy ids.
func (e *Engine) Strategies() []domain.StrategyID {
	return e.c.Strategies.Strategies()
}

// ForceUnlock clears the state lock regardless of its holder.
func (e *Engine) ForceUnlock(ctx context.Context) error {
	return e.c.Transitions.ForceUnlock(ctx)
}

// Lock returns the current state lock, nil when unlocked.
func (e *Engine) Lock(ctx context.Context) (*domain.Lock, error) {
	return e.c.Transitions.Lock(ctx)
}

// ValidateTransition is a read-only check of a hypothetical state change.
func (e *Engine) ValidateTransition(ctx context.Context, from, to domain.MarketState) (domain.TransitionVerdict, error) {
	if !from.IsValid() {
		return domain.TransitionVerdict{}, &domain.ValidationError{Field: "from", Reason: fmt.Sprintf("unknown state %q", from)}
	}
	if !to.IsValid() {
		return domain.TransitionVerdict{}, &domain.ValidationError{Field: "to", Reason: fmt.Sprintf("unknown state %q", to)}
	}
	return e.c.Transitions.ValidateTransition(ctx, from, to)
}

// Transitions returns the recent history, stable cycles included.
func (e *Engine) Transitions(ctx context.Context) ([]domain.TransitionRecord, error) {
	return e.c.Transitions.Transitions(ctx)
}

// TransitionCount returns how many state changes were committed.
func (e *Engine) TransitionCount(ctx context.Context) (int, error) {
	return e.c.Transitions.TransitionCount(ctx)
}

// UpdateRiskParameters validates, persists and applies new risk limits.
func (e *Engine) UpdateRiskParameters(ctx context.Context, p domain.RiskParameters) error {
	if err := p.Validate(); err != nil {
		return &domain.ValidationError{Field: "risk", Reason: err.Error()}
	}
	if err := e.c.Risk.Put(ctx, p); err != nil {
		return errors.Wrap(err, "store risk parameters")
	}
	if err := e.c.Executor.SetRiskParameters(p); err != nil {
		return err
	}

	e.l.Info("risk parameters updated",
		zap.String("max_position_size", p.MaxPositionSize.String()),
		zap.String("max_leverage", p.MaxLeverage.String()),
		zap.String("stop_loss_percent", p.StopLossPercent.String()),
		zap.String("max_daily_loss", p.MaxDailyLoss.String()),
		zap.Duration("cooldown", p.CooldownPeriod),
	)
	e.sink.Emit(events.New(events.RiskUpdated, e.clock.Now(), map[string]any{
		"max_position_size": p.MaxPositionSize.String(),
		"max_leverage":      p.MaxLeverage.String(),
		"stop_loss_percent": p.StopLossPercent.String(),
		"max_daily_loss":    p.MaxDailyLoss.String(),
		"cooldown":          p.CooldownPeriod.String(),
	}))

	return nil
}

func (e *Engine) RiskParameters() domain.RiskParameters {
	return e.c.Executor.RiskParameters()
}

// Stats returns engine and trading counters.
func (e *Engine) Stats(ctx context.Context) (Statistics, error) {
	engineStats, err := e.c.Decisions.Stats(ctx)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "read engine stats")
	}
	tradeStats, err := e.c.Executor.Stats(ctx)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "read trade stats")
	}
	return Statistics{Engine: engineStats, Trading: tradeStats}, nil
}

// Position returns the executor's position.
func (e *Engine) Position(ctx context.Context) (*domain.Position, error) {
	return e.c.Executor.Position(ctx)
}

func toTicks(v decimal.Decimal, decimals int32) int64 {
	return v.Shift(decimals).Round(0).IntPart()
}
