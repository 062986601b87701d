// Package attention scores how much each sample in a window should influence a decision.
package attention

import (
	"math"

	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/pkg/indicators"
)

const (
	defaultLookback = 10
	defaultDecay    = 0.9
	decayExponent   = 10.0

	stateChangeBoost = 1.8
)

// Weighter computes normalised attention weights.
type Weighter struct {
	lookback int
	decay    float64
}

// Option configures the Weighter.
type Option func(*Weighter)

// WithLookback sets the number of trailing samples used for abnormality and volume baselines.
func WithLookback(n int) Option {
	return func(w *Weighter) {
		if n > 0 {
			w.lookback = n
		}
	}
}

// WithDecay sets the recency decay base (0..1).
func WithDecay(d float64) Option {
	return func(w *Weighter) {
		if d > 0 && d <= 1 {
			w.decay = d
		}
	}
}

// New creates a Weighter with default values and optional overrides.
func New(opts ...Option) *Weighter {
	w := &Weighter{
		lookback: defaultLookback,
		decay:    defaultDecay,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ComputeWeights returns one weight per series index summing to 1.
// states and volumes may be shorter than series; missing entries are neutral.
func (w *Weighter) ComputeWeights(series []float64, states []domain.MarketState, volumes []float64) []float64 {
	n := len(series)
	if n == 0 {
		return []float64{}
	}

	weights := make([]float64, n)
	for i := range series {
		weights[i] = w.recency(i, n) *
			w.abnormality(series, i) *
			stateChange(states, i) *
			w.volumeFactor(volumes, i)
	}

	return Normalize(weights)
}

// recency is 1 for the newest index and decays towards the oldest.
func (w *Weighter) recency(i, n int) float64 {
	position := float64(i+1) / float64(n)
	return math.Pow(w.decay, (1-position)*decayExponent)
}

func (w *Weighter) abnormality(series []float64, i int) float64 {
	trailing := series[max(0, i-w.lookback):i]
	if len(trailing) < 2 {
		return 1
	}

	mean := indicators.Mean(trailing)
	sd := indicators.StdDev(trailing, mean)
	if sd == 0 {
		return 1
	}

	z := math.Abs(series[i]-mean) / sd
	switch {
	case z > 2:
		return 2.0
	case z > 1:
		return 1.5
	default:
		return 1.0
	}
}

func stateChange(states []domain.MarketState, i int) float64 {
	if i == 0 || i >= len(states) {
		return 1
	}
	if states[i] != states[i-1] {
		return stateChangeBoost
	}
	return 1
}

func (w *Weighter) volumeFactor(volumes []float64, i int) float64 {
	if i >= len(volumes) {
		return 1
	}
	trailing := volumes[max(0, i-w.lookback):i]
	if len(trailing) == 0 {
		return 1
	}

	avg := indicators.Mean(trailing)
	if avg <= 0 {
		return 1
	}

	ratio := volumes[i] / avg
	switch {
	case ratio > 2.0:
		return 1.6
	case ratio > 1.5:
		return 1.3
	case ratio < 0.5:
		return 0.8
	default:
		return 1.0
	}
}

// Normalize divides weights by their sum. A zero sum returns the weights unchanged.
func Normalize(weights []float64) []float64 {
	var sum float64
	for _, v := range weights {
		sum += v
	}
	if sum == 0 {
		return weights
	}

	out := make([]float64, len(weights))
	for i, v := range weights {
		out[i] = v / sum
	}
	return out
}

// WeightedValue attention-weighted average of series.
func WeightedValue(series, weights []float64) float64 {
	var num, den float64
	for i := 0; i < len(series) && i < len(weights); i++ {
		num += series[i] * weights[i]
		den += weights[i]
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// Focus index of the largest weight, -1 when empty.
func Focus(weights []float64) int {
	idx := -1
	best := math.Inf(-1)
	for i, v := range weights {
		if v > best {
			best, idx = v, i
		}
	}
	return idx
}
