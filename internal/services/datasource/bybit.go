package datasource

import (
	"context"
	"fmt"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/statefuse/internal/clock"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/pkg/retrier"
)

// BybitSource reads the V5 spot ticker.
type BybitSource struct {
	client     *bybit.Client
	confidence int
	clock      clock.Clock
}

func NewBybitSource(client *bybit.Client, confidence int, clk clock.Clock) *BybitSource {
	if clk == nil {
		clk = clock.System{}
	}
	return &BybitSource{client: client, confidence: confidence, clock: clk}
}

func (s *BybitSource) Name() string {
	return "bybit"
}

func (s *BybitSource) Fetch(ctx context.Context, pair domain.Pair) (domain.RawReading, error) {
	if err := ctx.Err(); err != nil {
		return domain.RawReading{}, retrier.Permanent(err)
	}

	symbol := bybit.SymbolV5(pair.Symbol())
	result, err := s.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: "spot",
		Symbol:   &symbol,
	})
	if err != nil {
		return domain.RawReading{}, errors.Wrap(err, "bybit ticker")
	}
	if result == nil || result.Result.Spot == nil || len(result.Result.Spot.List) == 0 {
		return domain.RawReading{}, retrier.Permanent(fmt.Errorf("bybit API returned empty prices for %s", pair.String()))
	}

	item := result.Result.Spot.List[0]
	price, err := parseDecimal("last price", item.LastPrice)
	if err != nil {
		return domain.RawReading{}, err
	}
	volume, err := parseDecimal("volume", item.Volume24H)
	if err != nil {
		return domain.RawReading{}, err
	}

	return domain.RawReading{
		Source:     s.Name(),
		Value:      price,
		Volume:     volume,
		Timestamp:  s.clock.Now(),
		Confidence: s.confidence,
	}, nil
}
