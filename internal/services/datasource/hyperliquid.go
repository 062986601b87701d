package datasource

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"
	"github.com/vadiminshakov/statefuse/internal/clock"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/pkg/retrier"
)

// HyperliquidSource reads mid prices from the public Info API.
// Mids carry no volume, so its readings weigh by confidence alone.
type HyperliquidSource struct {
	info       *hyperliquid.Info
	confidence int
	clock      clock.Clock
}

func NewHyperliquidSource(info *hyperliquid.Info, confidence int, clk clock.Clock) *HyperliquidSource {
	if clk == nil {
		clk = clock.System{}
	}
	return &HyperliquidSource{info: info, confidence: confidence, clock: clk}
}

func (s *HyperliquidSource) Name() string {
	return "hyperliquid"
}

func (s *HyperliquidSource) Fetch(ctx context.Context, pair domain.Pair) (domain.RawReading, error) {
	if s.info == nil {
		return domain.RawReading{}, retrier.Permanent(fmt.Errorf("hyperliquid info client is nil"))
	}

	mids, err := s.info.AllMids(ctx)
	if err != nil {
		return domain.RawReading{}, errors.Wrap(err, "hyperliquid mids")
	}

	// mids are keyed by base coin
	mid, ok := mids[pair.From]
	if !ok || mid == "" {
		return domain.RawReading{}, retrier.Permanent(fmt.Errorf("hyperliquid API returned empty mid price for %s", pair.From))
	}

	price, err := parseDecimal("mid price", mid)
	if err != nil {
		return domain.RawReading{}, err
	}

	return domain.RawReading{
		Source:     s.Name(),
		Value:      price,
		Volume:     decimal.Zero,
		Timestamp:  s.clock.Now(),
		Confidence: s.confidence,
	}, nil
}
