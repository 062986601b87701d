// Package aggregator fuses readings from independent sources into one estimate.
package aggregator

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/statefuse/internal/clock"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/events"
	"go.uber.org/zap"
)

const (
	DefaultMinSources = 2
	DefaultMaxAge     = 2 * time.Minute

	maxDiversityBonus = 20
	bonusPerSource    = 5
	maxConfidence     = 100
)

// DefaultOutlierThreshold MAD multiplier above which a reading is an outlier.
var DefaultOutlierThreshold = decimal.NewFromInt(3)

// Config tunes fusion.
type Config struct {
	// MinSources readings required before and after outlier rejection.
	MinSources int
	// MaxAge readings older than this are dropped. Zero disables the check.
	MaxAge time.Duration
	// OutlierThreshold MAD multiplier.
	OutlierThreshold decimal.Decimal
}

func (c Config) withDefaults() Config {
	if c.MinSources < 1 {
		c.MinSources = DefaultMinSources
	}
	if !c.OutlierThreshold.IsPositive() {
		c.OutlierThreshold = DefaultOutlierThreshold
	}
	return c
}

// Aggregator fuses raw readings. It never fails; problems yield a degraded estimate.
type Aggregator struct {
	cfg   Config
	clock clock.Clock
	sink  events.Sink
	l     *zap.Logger
}

// New creates an aggregator.
func New(cfg Config, clk clock.Clock, sink events.Sink, l *zap.Logger) *Aggregator {
	if l == nil {
		l = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}

	return &Aggregator{
		cfg:   cfg.withDefaults(),
		clock: clk,
		sink:  events.OrNop(sink),
		l:     l.With(zap.String("component", "aggregator")),
	}
}

// Aggregate fuses readings into a single estimate.
func (a *Aggregator) Aggregate(readings []domain.RawReading) domain.FusedEstimate {
	now := a.clock.Now()
	candidates := a.candidates(readings, now)

	if len(candidates) < a.cfg.MinSources {
		return a.degraded(candidates, now, fmt.Sprintf("only %d valid sources, need %d", len(candidates), a.cfg.MinSources))
	}

	values := make([]decimal.Decimal, len(candidates))
	for i, c := range candidates {
		values[i] = c.Value
	}
	median := Median(values)
	mad := MAD(values, median)
	limit := mad.Mul(a.cfg.OutlierThreshold)

	survivors := make([]domain.RawReading, 0, len(candidates))
	var rejected []string
	for _, c := range candidates {
		if c.Value.Sub(median).Abs().GreaterThan(limit) {
			rejected = append(rejected, c.Source)
			a.l.Info("outlier rejected",
				zap.String("source", c.Source),
				zap.String("value", c.Value.String()),
				zap.String("median", median.String()),
				zap.String("mad", mad.String()),
			)
			a.sink.Emit(events.New(events.OutlierRejected, now, map[string]any{
				"source": c.Source,
				"value":  c.Value.String(),
				"median": median.String(),
			}))
			continue
		}
		survivors = append(survivors, c)
	}

	if len(survivors) < a.cfg.MinSources {
		est := a.degraded(candidates, now, fmt.Sprintf("only %d sources survived outlier rejection, need %d", len(survivors), a.cfg.MinSources))
		est.Rejected = rejected
		return est
	}

	sources := make([]string, len(survivors))
	for i, s := range survivors {
		sources[i] = s.Source
	}

	return domain.FusedEstimate{
		Value:               weightedValue(survivors),
		Volume:              totalVolume(survivors),
		Confidence:          fusedConfidence(survivors),
		ContributingSources: sources,
		Rejected:            rejected,
		Timestamp:           now,
	}
}

// candidates drops readings that are non-positive, out of range or stale.
func (a *Aggregator) candidates(readings []domain.RawReading, now time.Time) []domain.RawReading {
	out := make([]domain.RawReading, 0, len(readings))
	for _, r := range readings {
		reason := ""
		switch {
		case !r.Value.IsPositive():
			reason = "non-positive value"
		case r.Confidence < 0 || r.Confidence > maxConfidence:
			reason = "confidence out of range"
		case r.Volume.IsNegative():
			reason = "negative volume"
		case a.cfg.MaxAge > 0 && now.Sub(r.Timestamp) > a.cfg.MaxAge:
			reason = "stale reading"
		}

		if reason != "" {
			a.l.Debug("reading dropped", zap.String("source", r.Source), zap.String("reason", reason))
			continue
		}
		out = append(out, r)
	}
	return out
}

func (a *Aggregator) degraded(candidates []domain.RawReading, now time.Time, reason string) domain.FusedEstimate {
	a.l.Warn("fusion degraded", zap.String("reason", reason), zap.Int("candidates", len(candidates)))

	est := domain.FusedEstimate{
		Value:     decimal.Zero,
		Volume:    totalVolume(candidates),
		Degraded:  true,
		Reason:    reason,
		Timestamp: now,
	}
	if len(candidates) == 0 {
		return est
	}

	values := make([]decimal.Decimal, len(candidates))
	sum := 0
	for i, c := range candidates {
		values[i] = c.Value
		sum += c.Confidence
		est.ContributingSources = append(est.ContributingSources, c.Source)
	}
	est.Value = Median(values)
	est.Confidence = sum / len(candidates) / 2

	return est
}

// weightedValue uses confidence*volume weights, then confidence, then a plain mean.
func weightedValue(rs []domain.RawReading) decimal.Decimal {
	weightFns := []func(domain.RawReading) decimal.Decimal{
		func(r domain.RawReading) decimal.Decimal { return r.Volume.Mul(decimal.NewFromInt(int64(r.Confidence))) },
		func(r domain.RawReading) decimal.Decimal { return decimal.NewFromInt(int64(r.Confidence)) },
		func(domain.RawReading) decimal.Decimal { return decimal.NewFromInt(1) },
	}

	for _, weight := range weightFns {
		num, den := decimal.Zero, decimal.Zero
		for _, r := range rs {
			w := weight(r)
			num = num.Add(r.Value.Mul(w))
			den = den.Add(w)
		}
		if den.IsPositive() {
			return num.Div(den)
		}
	}

	return decimal.Zero
}

// fusedConfidence confidence-weighted mean plus a diversity bonus, capped at 100.
func fusedConfidence(rs []domain.RawReading) int {
	sum, sumSq := 0, 0
	for _, r := range rs {
		sum += r.Confidence
		sumSq += r.Confidence * r.Confidence
	}
	if sum == 0 {
		return 0
	}

	base := (sumSq + sum/2) / sum
	bonus := bonusPerSource * (len(rs) - 1)
	if bonus > maxDiversityBonus {
		bonus = maxDiversityBonus
	}

	return min(base+bonus, maxConfidence)
}

func totalVolume(rs []domain.RawReading) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rs {
		total = total.Add(r.Volume)
	}
	return total
}

// Median of values; the mean of the two middle values for an even count.
func Median(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}

	sorted := append([]decimal.Decimal(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

// MAD median absolute deviation of values from median.
func MAD(values []decimal.Decimal, median decimal.Decimal) decimal.Decimal {
	devs := make([]decimal.Decimal, len(values))
	for i, v := range values {
		devs[i] = v.Sub(median).Abs()
	}
	return Median(devs)
}
