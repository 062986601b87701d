package trader

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/storage/simstate"
	"go.uber.org/zap"
)

var bps = decimal.NewFromInt(10000)

// SimulateConfig simulated venue parameters.
type SimulateConfig struct {
	Pair         domain.Pair
	InitialQuote decimal.Decimal
	// SlippageBps moves the fill price against the order, in basis points.
	SlippageBps int64
	// StateDir enables wallet persistence when set.
	StateDir string
}

// SimulateTrader fills market orders against an in-memory wallet.
// Shorts are allowed while the quote balance covers the shorted notional.
type SimulateTrader struct {
	mu       sync.Mutex
	pair     domain.Pair
	base     decimal.Decimal
	quote    decimal.Decimal
	slippage decimal.Decimal
	store    *simstate.Store
	logger   *zap.Logger
}

// NewSimulateTrader creates a simulator, restoring a persisted wallet when present.
func NewSimulateTrader(cfg SimulateConfig, logger *zap.Logger) (*SimulateTrader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InitialQuote.IsZero() {
		cfg.InitialQuote = decimal.NewFromInt(10000)
	}

	t := &SimulateTrader{
		pair:     cfg.Pair,
		base:     decimal.Zero,
		quote:    cfg.InitialQuote,
		slippage: decimal.NewFromInt(cfg.SlippageBps).Div(bps),
		logger:   logger.With(zap.String("component", "simulate"), zap.String("pair", cfg.Pair.String())),
	}

	if cfg.StateDir != "" {
		store, err := simstate.NewStore(cfg.StateDir, cfg.Pair)
		if err != nil {
			return nil, errors.Wrap(err, "init simulate state store")
		}
		t.store = store

		w, err := store.Load()
		if err != nil {
			t.logger.Warn("failed to restore simulate state", zap.Error(err))
		} else if w != nil {
			t.base, t.quote = w.Base, w.Quote
		}
	}

	t.logger.Info("simulate init",
		zap.String("base", t.base.String()),
		zap.String("quote", t.quote.String()))

	return t, nil
}

// Balances returns base and quote balances.
func (t *SimulateTrader) Balances() (base, quote decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.base, t.quote
}

// FillPrice applies slippage against the order side.
func (t *SimulateTrader) FillPrice(side domain.Side, price decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == domain.SideBuy {
		return price.Mul(one.Add(t.slippage))
	}
	return price.Mul(one.Sub(t.slippage))
}

func (t *SimulateTrader) Execute(ctx context.Context, order domain.Order) domain.Fill {
	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	if !order.Amount.IsPositive() {
		return failed(errors.Errorf("order amount must be positive, got %s", order.Amount))
	}
	if !order.Price.IsPositive() {
		return failed(errors.New("order reference price is required"))
	}
	if order.Pair != t.pair {
		return failed(errors.Errorf("simulator trades %s, got %s", t.pair, order.Pair))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	price := t.FillPrice(order.Side, order.Price)
	notional := order.Amount.Mul(price)

	switch order.Side {
	case domain.SideBuy:
		if t.quote.LessThan(notional) {
			return failed(errors.Wrapf(ErrInsufficientFunds, "have %s %s need %s", t.quote, t.pair.To, notional))
		}
		t.quote = t.quote.Sub(notional)
		t.base = t.base.Add(order.Amount)
	case domain.SideSell:
		after := t.base.Sub(order.Amount)
		if after.IsNegative() {
			// a short must be covered by quote held before its own proceeds
			closed := decimal.Max(decimal.Min(t.base, order.Amount), decimal.Zero)
			cover := t.quote.Add(closed.Mul(price))
			exposure := after.Neg().Mul(price)
			if cover.LessThan(exposure) {
				return failed(errors.Wrapf(ErrInsufficientFunds, "short exposure %s %s exceeds cover %s",
					exposure, t.pair.To, cover))
			}
		}
		t.quote = t.quote.Add(notional)
		t.base = t.base.Sub(order.Amount)
	default:
		return failed(errors.Errorf("unknown side %d", order.Side))
	}

	t.logger.Info("simulated order executed",
		zap.String("id", order.ID),
		zap.String("side", order.Side.String()),
		zap.String("amount", order.Amount.String()),
		zap.String("price", price.String()))

	t.persist()

	return domain.Fill{Success: true, ExecutedAmount: order.Amount, Price: price}
}

func (t *SimulateTrader) persist() {
	if t.store == nil {
		return
	}
	w := simstate.Wallet{Pair: t.pair.String(), Base: t.base, Quote: t.quote}
	if err := t.store.Save(w); err != nil {
		t.logger.Warn("failed to persist simulate state", zap.Error(err))
	}
}
