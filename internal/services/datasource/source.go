// Package datasource fetches raw market readings from independent venues.
package datasource

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/pkg/retrier"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultFetchTimeout = 10 * time.Second

// Source produces one reading per call.
type Source interface {
	Name() string
	Fetch(ctx context.Context, pair domain.Pair) (domain.RawReading, error)
}

// Collector queries every source concurrently.
type Collector struct {
	sources []Source
	retrier *retrier.Retrier
	timeout time.Duration
	l       *zap.Logger
}

// NewCollector creates a collector. A nil retrier makes a single attempt per source.
func NewCollector(sources []Source, r *retrier.Retrier, timeout time.Duration, l *zap.Logger) *Collector {
	if l == nil {
		l = zap.NewNop()
	}
	if r == nil {
		r = retrier.New(retrier.WithMaxRetries(0))
	}
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	return &Collector{
		sources: sources,
		retrier: r,
		timeout: timeout,
		l:       l.With(zap.String("component", "datasource")),
	}
}

// Sources returns configured source names.
func (c *Collector) Sources() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return names
}

// Collect returns readings from every source that answered. Failed sources are
// reported as *domain.DataError and never abort the others.
func (c *Collector) Collect(ctx context.Context, pair domain.Pair) ([]domain.RawReading, []error) {
	var (
		mu       sync.Mutex
		readings []domain.RawReading
		failures []error
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range c.sources {
		g.Go(func() error {
			reading, err := retrier.DoWithData(c.retrier, gctx, func(ctx context.Context) (domain.RawReading, error) {
				ctx, cancel := context.WithTimeout(ctx, c.timeout)
				defer cancel()
				return src.Fetch(ctx, pair)
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.l.Warn("source failed", zap.String("source", src.Name()), zap.Error(err))
				failures = append(failures, &domain.DataError{Source: src.Name(), Reason: err.Error()})
				return nil
			}
			readings = append(readings, reading)
			return nil
		})
	}
	_ = g.Wait()

	return readings, failures
}

// parseDecimal parses an exchange number. Malformed numbers are not retried.
func parseDecimal(field, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, retrier.Permanent(errors.Wrapf(err, "parse %s %q", field, raw))
	}
	return v, nil
}
