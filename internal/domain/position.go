package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Position signed holding of one asset. Positive size is long, negative is short.
type Position struct {
	Asset         string          `json:"asset"`
	Size          decimal.Decimal `json:"size"`
	AveragePrice  decimal.Decimal `json:"avg_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	LastUpdate    time.Time       `json:"last_update"`
}

// NewPosition returns a flat position for the asset.
func NewPosition(asset string) *Position {
	return &Position{
		Asset:         asset,
		Size:          decimal.Zero,
		AveragePrice:  decimal.Zero,
		UnrealizedPnL: decimal.Zero,
		RealizedPnL:   decimal.Zero,
	}
}

// IsFlat reports whether the position holds nothing.
func (p *Position) IsFlat() bool {
	return p == nil || p.Size.IsZero()
}

// PnL calculates unrealised profit and loss for the given market price.
func (p *Position) PnL(currentPrice decimal.Decimal) decimal.Decimal {
	if p.IsFlat() {
		return decimal.Zero
	}

	// the sign of Size handles both sides: (price - avg) * size
	return currentPrice.Sub(p.AveragePrice).Mul(p.Size)
}

// Notional absolute position value at price.
func (p *Position) Notional(price decimal.Decimal) decimal.Decimal {
	if p.IsFlat() {
		return decimal.Zero
	}
	return p.Size.Abs().Mul(price)
}

// LossPercent unrealised loss as a percentage of entry notional, zero when in profit.
func (p *Position) LossPercent(price decimal.Decimal) decimal.Decimal {
	if p.IsFlat() || !p.AveragePrice.IsPositive() {
		return decimal.Zero
	}

	pnl := p.PnL(price)
	if !pnl.IsNegative() {
		return decimal.Zero
	}

	entry := p.Size.Abs().Mul(p.AveragePrice)
	return pnl.Neg().Div(entry).Mul(decimal.NewFromInt(100))
}

// MarkToMarket refreshes the unrealised PnL.
func (p *Position) MarkToMarket(price decimal.Decimal, now time.Time) {
	p.UnrealizedPnL = p.PnL(price)
	p.LastUpdate = now
}

// Apply books a signed fill of delta at price and returns the realised PnL of the fill.
func (p *Position) Apply(delta, price decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if delta.IsZero() {
		return decimal.Zero, nil
	}
	if !price.IsPositive() {
		return decimal.Zero, errors.New("fill price must be greater than zero")
	}

	realized := decimal.Zero

	switch {
	case p.Size.IsZero() || p.Size.Sign() == delta.Sign():
		// opening or adding on the same side: volume-weighted entry
		existing := p.Size.Abs().Mul(p.AveragePrice)
		added := delta.Abs().Mul(price)
		total := p.Size.Abs().Add(delta.Abs())
		p.AveragePrice = existing.Add(added).Div(total)
		p.Size = p.Size.Add(delta)
	default:
		closing := decimal.Min(delta.Abs(), p.Size.Abs())
		sign := decimal.NewFromInt(int64(p.Size.Sign()))
		realized = price.Sub(p.AveragePrice).Mul(closing).Mul(sign)

		prevSign := p.Size.Sign()
		p.Size = p.Size.Add(delta)

		switch {
		case p.Size.IsZero():
			p.AveragePrice = decimal.Zero
		case p.Size.Sign() != prevSign:
			// flipped through zero, the remainder is a fresh position at the fill price
			p.AveragePrice = price
		}
	}

	p.RealizedPnL = p.RealizedPnL.Add(realized)
	p.MarkToMarket(price, now)

	return realized, nil
}

// Clone returns a copy safe to hand out to readers.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
