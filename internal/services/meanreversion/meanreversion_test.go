package meanreversion

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/statefuse/internal/domain"
)

func oscillation(tail ...float64) []float64 {
	out := make([]float64, 0, 18+len(tail))
	for i := 0; i < 9; i++ {
		out = append(out, 99, 101)
	}
	return append(out, tail...)
}

func flat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name           string
		prices         []float64
		volumes        []float64
		expectedState  domain.MarketState
		expectedSignal domain.Signal
		expectedConf   float64
	}{
		{
			name:           "overbought",
			prices:         oscillation(100, 104),
			expectedState:  domain.StateBull,
			expectedSignal: domain.SignalSell,
			expectedConf:   0.6 + (2.9493719976840627-2)*0.2,
		},
		{
			name:           "oversold",
			prices:         oscillation(100, 96),
			expectedState:  domain.StateBear,
			expectedSignal: domain.SignalBuy,
			expectedConf:   0.6 + (2.9493719976840627-2)*0.2,
		},
		{
			name:           "extreme stretch is strong and capped",
			prices:         append(flat(100, 19), 110),
			expectedState:  domain.StateBull,
			expectedSignal: domain.SignalStrongSell,
			expectedConf:   0.95,
		},
		{
			name:           "inside band",
			prices:         oscillation(99, 101),
			expectedState:  domain.StateSideways,
			expectedSignal: domain.SignalHold,
			expectedConf:   0.5,
		},
		{
			name:           "no dispersion",
			prices:         flat(100, 20),
			expectedState:  domain.StateSideways,
			expectedSignal: domain.SignalHold,
			expectedConf:   0.5,
		},
		{
			name:           "high volume confirms",
			prices:         oscillation(100, 104),
			volumes:        append(flat(10, 19), 40),
			expectedState:  domain.StateBull,
			expectedSignal: domain.SignalSell,
			expectedConf:   (0.6 + (2.9493719976840627-2)*0.2) * 1.1,
		},
		{
			name:           "thin volume discounts",
			prices:         oscillation(100, 96),
			volumes:        append(flat(10, 19), 1),
			expectedState:  domain.StateBear,
			expectedSignal: domain.SignalBuy,
			expectedConf:   (0.6 + (2.9493719976840627-2)*0.2) * 0.8,
		},
	}

	d := New(Config{}, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := d.Detect(tt.prices, tt.volumes)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedState, res.State)
			assert.Equal(t, tt.expectedSignal, res.Signal)
			assert.InDelta(t, tt.expectedConf, res.Confidence, 1e-6)
			assert.NotEmpty(t, res.Reasoning)
		})
	}
}

func TestDetect_ReportsBandAndRSI(t *testing.T) {
	res, err := New(Config{}, nil).Detect(oscillation(100, 104), nil)
	require.NoError(t, err)

	assert.InDelta(t, 100.2, res.SMA, 1e-6)
	assert.InDelta(t, 1.2884098726725126, res.StdDev, 1e-6)
	assert.InDelta(t, 2.9493719976840627, res.ZScore, 1e-6)
	require.True(t, res.HasRSI)
	assert.GreaterOrEqual(t, res.RSI, 0.0)
	assert.LessOrEqual(t, res.RSI, 100.0)
}

func TestDetect_InsufficientData(t *testing.T) {
	_, err := New(Config{}, nil).Detect(flat(100, 19), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientData))
}
