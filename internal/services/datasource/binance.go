package datasource

import (
	"context"
	"fmt"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/statefuse/internal/clock"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/pkg/retrier"
)

// BinanceSource reads the 24h rolling ticker: last price and base volume.
type BinanceSource struct {
	client     *binance.Client
	confidence int
	clock      clock.Clock
}

func NewBinanceSource(client *binance.Client, confidence int, clk clock.Clock) *BinanceSource {
	if clk == nil {
		clk = clock.System{}
	}
	return &BinanceSource{client: client, confidence: confidence, clock: clk}
}

func (s *BinanceSource) Name() string {
	return "binance"
}

func (s *BinanceSource) Fetch(ctx context.Context, pair domain.Pair) (domain.RawReading, error) {
	stats, err := s.client.NewListPriceChangeStatsService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return domain.RawReading{}, errors.Wrap(err, "binance ticker")
	}
	if len(stats) == 0 || stats[0] == nil {
		return domain.RawReading{}, retrier.Permanent(fmt.Errorf("binance API returned empty ticker for %s", pair.String()))
	}

	price, err := parseDecimal("last price", stats[0].LastPrice)
	if err != nil {
		return domain.RawReading{}, err
	}
	volume, err := parseDecimal("volume", stats[0].Volume)
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
