package internal

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/statefuse/internal/clock"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/events"
	"github.com/vadiminshakov/statefuse/internal/services/aggregator"
	"github.com/vadiminshakov/statefuse/internal/services/datasource"
	"github.com/vadiminshakov/statefuse/internal/services/strategy"
	"github.com/vadiminshakov/statefuse/internal/services/trader"
	"github.com/vadiminshakov/statefuse/internal/services/transition"
	"github.com/vadiminshakov/statefuse/internal/storage/decisions"
	"github.com/vadiminshakov/statefuse/internal/storage/kv"
	"github.com/vadiminshakov/statefuse/internal/storage/records"
)

var btcUSDT = domain.Pair{From: "BTC", To: "USDT"}

type scripted struct {
	id  domain.StrategyID
	res domain.UnifiedResult
	err error
}

func (s *scripted) ID() domain.StrategyID { return s.id }

func (s *scripted) Execute(context.Context, domain.Window) (domain.UnifiedResult, error) {
	return s.res, s.err
}

type engineFixture struct {
	engine      *Engine
	clock       *clock.Manual
	events      *events.Recorder
	transitions *transition.Manager
	window      *records.WindowRepo
	risk        *records.RiskRepo
	sources     []*datasource.Static
	strategy    *scripted
}

func testRisk() domain.RiskParameters {
	return domain.RiskParameters{
		MaxPositionSize: decimal.NewFromInt(1),
		MaxLeverage:     decimal.NewFromInt(3),
		StopLossPercent: decimal.NewFromInt(5),
		MaxDailyLoss:    decimal.NewFromInt(500),
		CooldownPeriod:  5 * time.Minute,
		MinTradeSize:    decimal.RequireFromString("0.001"),
		Capital:         decimal.NewFromInt(10000),
	}
}

func newEngineFixture(t *testing.T, opts ...Option) engineFixture {
	t.Helper()

	store := kv.NewMemoryStore()
	f := engineFixture{
		clock:  clock.NewManual(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)),
		events: &events.Recorder{},
		window: records.NewWindowRepo(store, 50),
		risk:   records.NewRiskRepo(store),
		strategy: &scripted{
			id:  domain.StrategyAttention,
			res: domain.UnifiedResult{State: domain.StateBull, Regime: domain.RegimeTrendingUp, Signal: domain.SignalStrongBuy, Confidence: 0.8, Urgency: 80},
		},
	}

	for _, s := range []struct {
		name  string
		price string
	}{{"alpha", "30000"}, {"beta", "30010"}} {
		f.sources = append(f.sources, &datasource.Static{
			SourceName: s.name,
			Reading: domain.RawReading{
				Value:      decimal.RequireFromString(s.price),
				Volume:     decimal.NewFromInt(10),
				Confidence: 80,
				Timestamp:  f.clock.Now(),
			},
		})
	}
	sources := make([]datasource.Source, len(f.sources))
	for i, s := range f.sources {
		sources[i] = s
	}

	f.transitions = transition.NewManager(transition.Config{}, records.NewStateRepo(store), records.NewLockRepo(store), f.clock, f.events, nil)

	strategies, err := strategy.NewManager(records.NewStrategyRepo(store), domain.StrategyAttention, f.clock, f.events, nil,
		f.strategy, &scripted{id: domain.StrategyMeanReversion, err: domain.ErrInsufficientData})
	require.NoError(t, err)

	sim, err := trader.NewSimulateTrader(trader.SimulateConfig{Pair: btcUSDT, InitialQuote: decimal.NewFromInt(100000)}, nil)
	require.NoError(t, err)
	exec, err := trader.NewExecutor(trader.Config{Pair: btcUSDT}, testRisk(), sim,
		records.NewPositionRepo(store), records.NewTradeRepo(store), f.clock, f.events, nil)
	require.NoError(t, err)

	opts = append([]Option{WithClock(f.clock), WithSink(f.events)}, opts...)
	f.engine, err = NewEngine(EngineConfig{Pair: btcUSDT, Interval: 10 * time.Millisecond, PriceDecimals: 2}, Components{
		Collector:   datasource.NewCollector(sources, nil, time.Second, nil),
		Aggregator:  aggregator.New(aggregator.Config{MinSources: 2}, f.clock, f.events, nil),
		Window:      f.window,
		Strategies:  strategies,
		Transitions: f.transitions,
		Executor:    exec,
		Decisions:   records.NewDecisionRepo(store),
		Risk:        f.risk,
	}, opts...)
	require.NoError(t, err)

	return f
}

func TestNewEngine_RequiresComponents(t *testing.T) {
	_, err := NewEngine(EngineConfig{Pair: btcUSDT}, Components{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collector is required")
}

func TestEngine_RunCycle_CommitsAndTrades(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	rec, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, rec.CycleID)
	assert.Equal(t, domain.LockAcquired, rec.Lock)
	assert.Equal(t, domain.StateUnknown, rec.PreviousState)
	assert.Equal(t, domain.StateBull, rec.ProposedState)
	assert.Equal(t, domain.StateBull, rec.CurrentState)
	require.NotNil(t, rec.Transition)
	assert.True(t, rec.Transition.Valid)
	assert.Equal(t, transition.StrengthUnknown, rec.Transition.Strength)
	assert.Equal(t, domain.StrategyAttention, rec.Strategy)
	assert.False(t, rec.Estimate.Degraded)
	assert.True(t, decimal.NewFromInt(30005).Equal(rec.Estimate.Value), "fused %s", rec.Estimate.Value)

	assert.Equal(t, domain.ExecutionSuccess, rec.Execution)
	require.NotNil(t, rec.Trade)
	assert.True(t, decimal.RequireFromString("0.8").Equal(rec.Trade.Executed), "executed %s", rec.Trade.Executed)
	assert.Empty(t, rec.Errors)

	assert.Equal(t, domain.StateBull, f.engine.CurrentState(ctx))

	points, err := f.window.Points(ctx)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, int64(3000500), points[0].Price)
	assert.Equal(t, int64(20), points[0].Volume)
	assert.Equal(t, domain.StateUnknown, points[0].State)

	last, err := f.engine.LastDecision(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, rec.CycleID, last.CycleID)

	stats, err := f.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Engine.Cycles)
	assert.Equal(t, 1, stats.Engine.AcceptedTransitions)
	assert.Equal(t, 1, stats.Engine.Executions[domain.ExecutionSuccess])
	assert.Equal(t, 1, stats.Trading.TotalTrades)

	pos, err := f.engine.Position(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.8").Equal(pos.Size))

	history, err := f.engine.Transitions(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StateBull, history[0].To)

	lock, err := f.engine.Lock(ctx)
	require.NoError(t, err)
	assert.Nil(t, lock, "lock must be released after the cycle")

	assert.Len(t, f.events.OfType(events.CycleCompleted), 1)
	assert.Len(t, f.events.OfType(events.StateTransition), 1)
	assert.Len(t, f.events.OfType(events.TradeExecuted), 1)
}

func TestEngine_RunCycle_SelfTransitionAndCooldown(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	_, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	for _, s := range f.sources {
		s.Reading.Timestamp = f.clock.Now()
	}

	rec, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.StateBull, rec.CurrentState)
	assert.Nil(t, rec.Transition, "no transition is attempted when the state does not change")
	assert.Equal(t, domain.ExecutionNoAction, rec.Execution)
	assert.Contains(t, rec.ExecutionReason, "cooldown")

	count, err := f.engine.TransitionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	history, err := f.engine.Transitions(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.False(t, history[1].IsChange(), "a stable cycle is still recorded")
}

func TestEngine_RunCycle_StableCyclesReleaseFlapGuard(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	cycle := func(state domain.MarketState) domain.DecisionRecord {
		t.Helper()
		f.clock.Advance(time.Minute)
		for _, s := range f.sources {
			s.Reading.Timestamp = f.clock.Now()
		}
		f.strategy.res = domain.UnifiedResult{State: state, Signal: domain.SignalHold, Confidence: 0.5}
		rec, err := f.engine.RunCycle(ctx)
		require.NoError(t, err)
		return rec
	}

	for _, s := range []domain.MarketState{domain.StateBull, domain.StateSideways, domain.StateBear, domain.StateSideways} {
		rec := cycle(s)
		require.Equal(t, s, rec.CurrentState)
	}

	rec := cycle(domain.StateBull)
	require.NotNil(t, rec.Transition)
	assert.False(t, rec.Transition.Valid)
	assert.Contains(t, rec.Transition.Reason, "flapping")
	assert.Equal(t, domain.StateSideways, rec.CurrentState)

	for i := 0; i < 7; i++ {
		rec = cycle(domain.StateSideways)
		assert.Nil(t, rec.Transition)
	}

	rec = cycle(domain.StateBull)
	require.NotNil(t, rec.Transition)
	assert.True(t, rec.Transition.Valid)
	assert.Equal(t, domain.StateBull, rec.CurrentState)
	assert.Equal(t, domain.StateBull, f.engine.CurrentState(ctx))

	count, err := f.engine.TransitionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestEngine_RunCycle_RejectedTransitionStillExecutes(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	_, _, err := f.transitions.Commit(ctx, domain.StateBull, "seed")
	require.NoError(t, err)

	f.strategy.res = domain.UnifiedResult{State: domain.StateBear, Signal: domain.SignalSell, Confidence: 0.6, Urgency: 60}

	rec, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	require.NotNil(t, rec.Transition)
	assert.False(t, rec.Transition.Valid)
	assert.Equal(t, transition.StrengthDirectFlip, rec.Transition.Strength)
	assert.Equal(t, domain.StateBull, rec.CurrentState)
	assert.Equal(t, domain.StateBear, rec.ProposedState)
	assert.Equal(t, domain.ExecutionSuccess, rec.Execution)
	require.NotNil(t, rec.Trade)
	assert.Equal(t, domain.SideSell, rec.Trade.Side)

	stats, err := f.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Engine.RejectedTransitions)
}

func TestEngine_RunCycle_LockContention(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	ok, err := f.transitions.AcquireLock(ctx, "other-cycle")
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.LockContention, rec.Lock)
	assert.Equal(t, domain.StateUnknown, rec.CurrentState)
	assert.Equal(t, domain.StateBull, rec.ProposedState)
	assert.Nil(t, rec.Transition)
	assert.Empty(t, rec.Execution)
	assert.Nil(t, rec.Trade)
	assert.Contains(t, rec.Errors, domain.ErrLockContention.Error())

	lock, err := f.engine.Lock(ctx)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "other-cycle", lock.OwnerID, "a losing cycle must not release a foreign lock")

	last, err := f.engine.LastDecision(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.LockContention, last.Lock)

	stats, err := f.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Engine.LockContentions)
	assert.Zero(t, stats.Trading.TotalTrades)

	require.NoError(t, f.engine.ForceUnlock(ctx))
	rec, err = f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.LockAcquired, rec.Lock)
	assert.Equal(t, domain.StateBull, rec.CurrentState)
}

func TestEngine_RunCycle_ExpiredLockIsTakenOver(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	ok, err := f.transitions.AcquireLock(ctx, "crashed-cycle")
	require.NoError(t, err)
	require.True(t, ok)

	f.clock.Advance(transition.DefaultLockTimeout)
	for _, s := range f.sources {
		s.Reading.Timestamp = f.clock.Now()
	}

	rec, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.LockAcquired, rec.Lock)
	assert.Len(t, f.events.OfType(events.LockExpired), 1)
}

func TestEngine_RunCycle_DegradedFusion(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	for _, s := range f.sources {
		s.Err = errors.New("venue down")
	}

	rec, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.True(t, rec.Estimate.Degraded)
	assert.False(t, rec.Estimate.HasValue())
	assert.Len(t, rec.Errors, 2)
	assert.Equal(t, domain.LockAcquired, rec.Lock)
	assert.Equal(t, domain.ExecutionNoAction, rec.Execution)
	assert.Equal(t, "no usable price", rec.ExecutionReason)

	points, err := f.window.Points(ctx)
	require.NoError(t, err)
	assert.Empty(t, points, "a fusion without a value must not enter the window")

	stats, err := f.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Engine.DegradedFusions)
}

func TestEngine_RunCycle_StrategyFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	require.NoError(t, f.engine.SwitchStrategy(ctx, domain.StrategyMeanReversion))
	assert.Equal(t, domain.StrategyMeanReversion, f.engine.ActiveStrategy(ctx))

	rec, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.StrategyMeanReversion, rec.Strategy)
	assert.Equal(t, domain.StateSideways, rec.ProposedState)
	assert.Equal(t, domain.SignalWait, rec.Result.Signal)
	assert.NotEmpty(t, rec.Result.Error)
	assert.Equal(t, domain.StateSideways, rec.CurrentState)
	assert.Equal(t, domain.ExecutionNoAction, rec.Execution)
}

func TestEngine_SwitchStrategy_Unknown(t *testing.T) {
	f := newEngineFixture(t)

	err := f.engine.SwitchStrategy(context.Background(), "momentum")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, domain.StrategyAttention, f.engine.ActiveStrategy(context.Background()))
	assert.ElementsMatch(t, []domain.StrategyID{domain.StrategyAttention, domain.StrategyMeanReversion}, f.engine.Strategies())
}

func TestEngine_ValidateTransition(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	verdict, err := f.engine.ValidateTransition(ctx, domain.StateBull, domain.StateBull)
	require.NoError(t, err)
	assert.True(t, verdict.Valid)
	assert.Equal(t, transition.StrengthSelf, verdict.Strength)

	verdict, err = f.engine.ValidateTransition(ctx, domain.StateBull, domain.StateBear)
	require.NoError(t, err)
	assert.False(t, verdict.Valid)

	_, err = f.engine.ValidateTransition(ctx, "MOON", domain.StateBear)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "from", verr.Field)

	count, err := f.transitions.TransitionCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "validation must not mutate state")
}

func TestEngine_UpdateRiskParameters(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)

	bad := testRisk()
	bad.Capital = decimal.Zero
	err := f.engine.UpdateRiskParameters(ctx, bad)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "risk", verr.Field)

	_, found, err := f.risk.Get(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	updated := testRisk()
	updated.MaxPositionSize = decimal.NewFromInt(2)
	updated.CooldownPeriod = time.Minute
	require.NoError(t, f.engine.UpdateRiskParameters(ctx, updated))

	stored, found, err := f.risk.Get(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, decimal.NewFromInt(2).Equal(stored.MaxPositionSize))
	assert.Equal(t, time.Minute, stored.CooldownPeriod)

	assert.True(t, decimal.NewFromInt(2).Equal(f.engine.RiskParameters().MaxPositionSize))
	assert.Len(t, f.events.OfType(events.RiskUpdated), 1)
}

func TestEngine_RecentDecisions(t *testing.T) {
	ctx := context.Background()

	_, err := newEngineFixture(t).engine.RecentDecisions(5)
	require.Error(t, err)

	journal, err := decisions.NewWALStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	f := newEngineFixture(t, WithJournal(journal))
	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := f.engine.RunCycle(ctx)
		require.NoError(t, err)
		ids = append(ids, rec.CycleID)
		f.clock.Advance(time.Second)
	}

	recent, err := f.engine.RecentDecisions(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[1], recent[0].CycleID)
	assert.Equal(t, ids[2], recent[1].CycleID)
}

func TestEngine_Run_StopsOnCancel(t *testing.T) {
	f := newEngineFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(f.events.OfType(events.CycleCompleted)) > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run loop did not stop")
	}
}

func TestToTicks(t *testing.T) {
	assert.Equal(t, int64(3000500), toTicks(decimal.RequireFromString("30005.004"), 2))
	assert.Equal(t, int64(30005), toTicks(decimal.RequireFromString("30004.5"), 0))
	assert.Equal(t, int64(123), toTicks(decimal.RequireFromString("0.123"), 3))
}
