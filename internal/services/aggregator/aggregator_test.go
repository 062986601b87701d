package aggregator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/statefuse/internal/clock"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/events"
)

var now = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func reading(source string, value string, volume string, confidence int) domain.RawReading {
	return domain.RawReading{
		Source:     source,
		Value:      decimal.RequireFromString(value),
		Volume:     decimal.RequireFromString(volume),
		Timestamp:  now.Add(-10 * time.Second),
		Confidence: confidence,
	}
}

func newAggregator(rec *events.Recorder) *Aggregator {
	return New(Config{}, clock.NewManual(now), rec, nil)
}

func TestAggregate_RejectsOutlier(t *testing.T) {
	rec := &events.Recorder{}
	agg := newAggregator(rec)

	clean := []domain.RawReading{
		reading("binance", "100", "1", 80),
		reading("bybit", "101", "1", 80),
		reading("sim", "99", "1", 80),
	}
	withOutlier := append(append([]domain.RawReading(nil), clean...), reading("rogue", "150", "1", 80))

	fused := agg.Aggregate(withOutlier)
	require.False(t, fused.Degraded)
	assert.Equal(t, []string{"rogue"}, fused.Rejected)
	assert.ElementsMatch(t, []string{"binance", "bybit", "sim"}, fused.ContributingSources)

	baseline := agg.Aggregate(clean)
	assert.True(t, fused.Value.Sub(baseline.Value).Abs().LessThan(decimal.RequireFromString("0.000001")),
		"fused %s, baseline %s", fused.Value, baseline.Value)

	outliers := rec.OfType(events.OutlierRejected)
	require.Len(t, outliers, 1)
	assert.Equal(t, "rogue", outliers[0].Fields["source"])
	assert.Equal(t, "150", outliers[0].Fields["value"])
	assert.Equal(t, "100.5", outliers[0].Fields["median"])
}

func TestAggregate_LowConfidenceSourceDoesNotDragConfidence(t *testing.T) {
	agg := newAggregator(nil)

	fused := agg.Aggregate([]domain.RawReading{
		reading("weak", "100", "1", 10),
		reading("a", "100.1", "1", 90),
		reading("b", "99.9", "1", 90),
		reading("c", "100.05", "1", 90),
	})

	require.False(t, fused.Degraded)
	assert.Len(t, fused.ContributingSources, 4)
	assert.GreaterOrEqual(t, fused.Confidence, 90)
	assert.LessOrEqual(t, fused.Confidence, 100)
}

func TestAggregate_Weighting(t *testing.T) {
	tests := []struct {
		name     string
		readings []domain.RawReading
		expected string
	}{
		{
			name: "volume and confidence weighted",
			readings: []domain.RawReading{
				reading("a", "100", "3", 80),
				reading("b", "102", "1", 80),
			},
			expected: "100.5",
		},
		{
			name: "confidence weights when no volume",
			readings: []domain.RawReading{
				reading("a", "100", "0", 90),
				reading("b", "110", "0", 10),
			},
			expected: "101",
		},
		{
			name: "plain mean when no weights at all",
			readings: []domain.RawReading{
				reading("a", "100", "0", 0),
				reading("b", "104", "0", 0),
			},
			expected: "102",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fused := newAggregator(nil).Aggregate(tt.readings)
			require.False(t, fused.Degraded)
			assert.True(t, decimal.RequireFromString(tt.expected).Equal(fused.Value), "got %s", fused.Value)
		})
	}
}

func TestAggregate_Confidence(t *testing.T) {
	fused := newAggregator(nil).Aggregate([]domain.RawReading{
		reading("a", "100", "1", 60),
		reading("b", "100", "1", 60),
	})
	// mean 60 plus one extra source
	assert.Equal(t, 65, fused.Confidence)

	fused = newAggregator(nil).Aggregate([]domain.RawReading{
		reading("a", "100", "1", 50),
		reading("b", "100", "1", 50),
		reading("c", "100", "1", 50),
		reading("d", "100", "1", 50),
		reading("e", "100", "1", 50),
		reading("f", "100", "1", 50),
	})
	// bonus capped at 20
	assert.Equal(t, 70, fused.Confidence)
}

func TestAggregate_ZeroMADRejectsDeviation(t *testing.T) {
	fused := newAggregator(nil).Aggregate([]domain.RawReading{
		reading("a", "100", "1", 80),
		reading("b", "100", "1", 80),
		reading("c", "100", "1", 80),
		reading("d", "101", "1", 80),
	})

	require.False(t, fused.Degraded)
	assert.Equal(t, []string{"d"}, fused.Rejected)
	assert.True(t, decimal.NewFromInt(100).Equal(fused.Value))
}

func TestAggregate_Degraded(t *testing.T) {
	stale := reading("old", "90", "1", 80)
	stale.Timestamp = now.Add(-time.Hour)

	tests := []struct {
		name               string
		readings           []domain.RawReading
		expectedValue      string
		expectedConfidence int
	}{
		{
			name:               "no readings",
			expectedValue:      "0",
			expectedConfidence: 0,
		},
		{
			name:               "single source",
			readings:           []domain.RawReading{reading("a", "100", "1", 80)},
			expectedValue:      "100",
			expectedConfidence: 40,
		},
		{
			name:               "stale and invalid readings are dropped",
			readings:           []domain.RawReading{stale, reading("zero", "0", "1", 80), reading("a", "100", "1", 60)},
			expectedValue:      "100",
			expectedConfidence: 30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fused := newAggregator(nil).Aggregate(tt.readings)
			require.True(t, fused.Degraded)
			assert.NotEmpty(t, fused.Reason)
			assert.True(t, decimal.RequireFromString(tt.expectedValue).Equal(fused.Value), "got %s", fused.Value)
			assert.Equal(t, tt.expectedConfidence, fused.Confidence)
		})
	}
}

func TestAggregate_DegradedAfterRejection(t *testing.T) {
	agg := New(Config{MinSources: 3}, clock.NewManual(now), nil, nil)

	fused := agg.Aggregate([]domain.RawReading{
		reading("a", "100", "1", 80),
		reading("b", "100", "1", 80),
		reading("c", "130", "1", 80),
	})

	require.True(t, fused.Degraded)
	assert.Equal(t, []string{"c"}, fused.Rejected)
	assert.True(t, decimal.NewFromInt(100).Equal(fused.Value))
	assert.Equal(t, 40, fused.Confidence)
}

func TestMedianAndMAD(t *testing.T) {
	values := []decimal.Decimal{
		decimal.NewFromInt(5), decimal.NewFromInt(1), decimal.NewFromInt(3), decimal.NewFromInt(100),
	}
	median := Median(values)
	assert.True(t, decimal.NewFromInt(4).Equal(median))
	// deviations 1,3,1,96 -> median of (1,1,3,96) = 2
	assert.True(t, decimal.NewFromInt(2).Equal(MAD(values, median)))
	assert.True(t, Median(nil).IsZero())
}
