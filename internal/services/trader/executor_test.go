package trader

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
	"github.com/vadiminshakov/statefuse/internal/storage/kv"
	"github.com/vadiminshakov/statefuse/internal/storage/records"
)

var btcUSDT = domain.Pair{From: "BTC", To: "USDT"}

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func defaultRisk() domain.RiskParameters {
	return domain.RiskParameters{
		MaxPositionSize: dec(1),
		MaxLeverage:     dec(3),
		StopLossPercent: decimal.Zero,
		MaxDailyLoss:    dec(1000),
		CooldownPeriod:  time.Minute,
		MinTradeSize:    dec(0.01),
		Capital:         dec(10000),
	}
}

type executorFixture struct {
	exec      *Executor
	positions *records.PositionRepo
	trades    *records.TradeRepo
	clock     *clock.Manual
	events    *events.Recorder
}

func newExecutorFixture(t *testing.T, risk domain.RiskParameters, adapter Adapter) executorFixture {
	t.Helper()
	store := kv.NewMemoryStore()
	f := executorFixture{
		positions: records.NewPositionRepo(store),
		trades:    records.NewTradeRepo(store),
		clock:     clock.NewManual(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)),
		events:    &events.Recorder{},
	}
	if adapter == nil {
		sim, err := NewSimulateTrader(SimulateConfig{Pair: btcUSDT, InitialQuote: dec(100000)}, nil)
		require.NoError(t, err)
		adapter = sim
	}

	exec, err := NewExecutor(Config{Pair: btcUSDT}, risk, adapter, f.positions, f.trades, f.clock, f.events, nil)
	require.NoError(t, err)
	f.exec = exec
	return f
}

func (f executorFixture) seedPosition(t *testing.T, size, avg float64) {
	t.Helper()
	pos := domain.NewPosition("BTC")
	pos.Size, pos.AveragePrice = dec(size), dec(avg)
	require.NoError(t, f.positions.Put(context.Background(), pos))
}

func signal(s domain.Signal, conf float64) domain.UnifiedResult {
	return domain.UnifiedResult{State: domain.StateBull, Signal: s, Confidence: conf}
}

func TestExecutor_TradeCooldownAndClose(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t, defaultRisk(), nil)

	res, err := f.exec.ExecuteStrategy(ctx, signal(domain.SignalStrongBuy, 0.8), dec(100))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, res.Status)
	assert.True(t, dec(0.8).Equal(res.TargetSize), "target %s", res.TargetSize)
	assert.True(t, dec(0.8).Equal(res.Delta))
	require.NotNil(t, res.Trade)
	assert.NotEmpty(t, res.Trade.ID)
	assert.Equal(t, domain.SideBuy, res.Trade.Side)

	pos, err := f.exec.Position(ctx)
	require.NoError(t, err)
	assert.True(t, dec(0.8).Equal(pos.Size))
	assert.True(t, dec(100).Equal(pos.AveragePrice))

	res, err = f.exec.ExecuteStrategy(ctx, signal(domain.SignalStrongBuy, 1), dec(100))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionNoAction, res.Status)
	assert.Contains(t, res.Reason, "cooldown")

	f.clock.Advance(2 * time.Minute)
	res, err = f.exec.ExecuteStrategy(ctx, signal(domain.SignalWait, 0.9), dec(110))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, res.Status)
	assert.Equal(t, domain.SideSell, res.Trade.Side)

	pos, err = f.exec.Position(ctx)
	require.NoError(t, err)
	assert.True(t, pos.IsFlat())
	assert.True(t, dec(8).Equal(pos.RealizedPnL), "realized %s", pos.RealizedPnL)

	stats, err := f.exec.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalTrades)
	assert.Equal(t, 2, stats.Executions[domain.ExecutionSuccess])
	assert.Equal(t, 1, stats.Executions[domain.ExecutionNoAction])
	assert.True(t, dec(8).Equal(stats.DailyRealizedPnL))

	recent, err := f.trades.Recent(ctx)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
	assert.Len(t, f.events.OfType(events.TradeExecuted), 2)
}

func TestExecutor_RiskGates(t *testing.T) {
	ctx := context.Background()

	t.Run("daily loss", func(t *testing.T) {
		risk := defaultRisk()
		risk.MaxDailyLoss = dec(10)
		f := newExecutorFixture(t, risk, nil)
		f.seedPosition(t, 1, 100)

		res, err := f.exec.ExecuteStrategy(ctx, signal(domain.SignalStrongSell, 1), dec(80))
		require.NoError(t, err)
		assert.Equal(t, domain.ExecutionRiskBlocked, res.Status)
		assert.Contains(t, res.Reason, "max_daily_loss")

		blocked := f.events.OfType(events.RiskBlocked)
		require.Len(t, blocked, 1)
		assert.Equal(t, "max_daily_loss", blocked[0].Fields["rule"])

		pos, err := f.exec.Position(ctx)
		require.NoError(t, err)
		assert.True(t, dec(1).Equal(pos.Size))
	})

	t.Run("leverage", func(t *testing.T) {
		risk := defaultRisk()
		risk.Capital = dec(100)
		f := newExecutorFixture(t, risk, nil)
		f.seedPosition(t, 5, 100)

		res, err := f.exec.ExecuteStrategy(ctx, signal(domain.SignalBuy, 0.6), dec(100))
		require.NoError(t, err)
		assert.Equal(t, domain.ExecutionRiskBlocked, res.Status)
		assert.Contains(t, res.Reason, "max_leverage")
	})
}

func TestExecutor_StopLossClosesRegardlessOfSignal(t *testing.T) {
	ctx := context.Background()
	risk := defaultRisk()
	risk.StopLossPercent = dec(5)
	risk.MaxDailyLoss = dec(1)
	f := newExecutorFixture(t, risk, nil)
	f.seedPosition(t, 1, 100)

	res, err := f.exec.ExecuteStrategy(ctx, signal(domain.SignalStrongBuy, 1), dec(90))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, res.Status)
	assert.True(t, res.StopLoss)
	assert.True(t, res.TargetSize.IsZero())

	pos, err := f.exec.Position(ctx)
	require.NoError(t, err)
	assert.True(t, pos.IsFlat())
	assert.True(t, dec(-10).Equal(pos.RealizedPnL))
	assert.Len(t, f.events.OfType(events.StopLoss), 1)
}

func TestExecutor_FailedFills(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient funds", func(t *testing.T) {
		sim, err := NewSimulateTrader(SimulateConfig{Pair: btcUSDT, InitialQuote: dec(10)}, nil)
		require.NoError(t, err)
		f := newExecutorFixture(t, defaultRisk(), sim)

		res, err := f.exec.ExecuteStrategy(ctx, signal(domain.SignalStrongBuy, 0.8), dec(100))
		require.NoError(t, err)
		assert.Equal(t, domain.ExecutionInsufficientFunds, res.Status)

		pos, err := f.exec.Position(ctx)
		require.NoError(t, err)
		assert.True(t, pos.IsFlat())

		stats, err := f.exec.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Executions[domain.ExecutionInsufficientFunds])
		assert.Equal(t, 0, stats.TotalTrades)
	})

	t.Run("adapter error", func(t *testing.T) {
		down := AdapterFunc(func(context.Context, domain.Order) domain.Fill {
			return domain.Fill{Err: errors.New("exchange down")}
		})
		f := newExecutorFixture(t, defaultRisk(), down)

		res, err := f.exec.ExecuteStrategy(ctx, signal(domain.SignalBuy, 0.8), dec(100))
		require.NoError(t, err)
		assert.Equal(t, domain.ExecutionFailed, res.Status)
		assert.Contains(t, res.Reason, "exchange down")
		require.NotNil(t, res.Trade)
		assert.True(t, res.Trade.Executed.IsZero())

		pos, err := f.exec.Position(ctx)
		require.NoError(t, err)
		assert.True(t, pos.IsFlat())
		assert.Len(t, f.events.OfType(events.TradeFailed), 1)

		last, err := f.trades.LastTradeAt(ctx)
		require.NoError(t, err)
		assert.True(t, last.IsZero())
	})
}

func TestExecutor_NoActionCases(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t, defaultRisk(), nil)

	res, err := f.exec.ExecuteStrategy(ctx, signal(domain.SignalBuy, 0.02), dec(100))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionNoAction, res.Status)
	assert.Contains(t, res.Reason, "minimum trade size")

	res, err = f.exec.ExecuteStrategy(ctx, signal(domain.SignalBuy, 0.9), decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionNoAction, res.Status)
}

func TestExecutor_SetRiskParameters(t *testing.T) {
	f := newExecutorFixture(t, defaultRisk(), nil)

	bad := defaultRisk()
	bad.Capital = decimal.Zero
	err := f.exec.SetRiskParameters(bad)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))

	next := defaultRisk()
	next.MaxPositionSize = dec(2)
	require.NoError(t, f.exec.SetRiskParameters(next))
	assert.True(t, dec(2).Equal(f.exec.RiskParameters().MaxPositionSize))
}

func TestTargetSize(t *testing.T) {
	tests := []struct {
		name     string
		res      domain.UnifiedResult
		current  float64
		capital  float64
		expected decimal.Decimal
	}{
		{
			name:     "weak buy in high volatility",
			res:      domain.UnifiedResult{Signal: domain.SignalBuy, Confidence: 0.6, Regime: domain.RegimeHighVolatility},
			capital:  10000,
			expected: dec(0.21),
		},
		{
			name:     "strong sell on breakout is clamped",
			res:      domain.UnifiedResult{Signal: domain.SignalStrongSell, Confidence: 1, Regime: domain.RegimeBreakout},
			capital:  10000,
			expected: dec(-1),
		},
		{
			name:     "weak sell on reversal",
			res:      domain.UnifiedResult{Signal: domain.SignalSell, Confidence: 0.5, Regime: domain.RegimeReversal},
			capital:  10000,
			expected: dec(-0.2),
		},
		{
			name:     "hold keeps current",
			res:      domain.UnifiedResult{Signal: domain.SignalHold, Confidence: 0.9},
			current:  0.4,
			capital:  10000,
			expected: dec(0.4),
		},
		{
			name:     "wait goes flat",
			res:      domain.UnifiedResult{Signal: domain.SignalWait, Confidence: 0.9},
			current:  0.4,
			capital:  10000,
			expected: decimal.Zero,
		},
		{
			name:     "leverage bound",
			res:      domain.UnifiedResult{Signal: domain.SignalStrongBuy, Confidence: 1},
			capital:  50,
			expected: dec(1.5),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			risk := defaultRisk()
			risk.MaxPositionSize = dec(2)
			risk.Capital = dec(tt.capital)
			if tt.name != "leverage bound" {
				risk.MaxPositionSize = dec(1)
			}

			got := TargetSize(tt.res, dec(tt.current), dec(100), risk)
			assert.True(t, tt.expected.Equal(got), "expected %s, got %s", tt.expected, got)
		})
	}
}
