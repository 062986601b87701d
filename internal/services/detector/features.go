package detector

import (
	"math/big"

	"github.com/vadiminshakov/statefuse/internal/domain"
)

const (
	volatilityWindow = 5
	trendWindow      = 20
	momentumLag      = 5
	recentVolumes    = 3
	priorVolumes     = 7
)

// ExtractFeatures computes fixed-point features from a price window.
// Callers must pass at least volatilityWindow prices.
func ExtractFeatures(prices, volumes []int64) domain.MarketFeatures {
	n := len(prices)
	last := prices[n-1]

	support, resistance := minMax(tail(prices[:n-1], trendWindow))

	return domain.MarketFeatures{
		Volatility:   volatility(tail(prices, volatilityWindow)),
		Trend:        slope(tail(prices, trendWindow)),
		Momentum:     momentum(last, prices[n-momentumLag]),
		VolumeChange: volumeChange(volumes),
		Support:      support,
		Resistance:   resistance,
	}
}

// volatility population standard deviation relative to the mean, x1000.
// Squared deviations of 8-decimal ticks exceed int64, so the sums are exact big integers.
func volatility(window []int64) int64 {
	m := mean(window)
	if m == 0 {
		return 0
	}

	sq := new(big.Int)
	d := new(big.Int)
	for _, p := range window {
		d.SetInt64(p - m)
		sq.Add(sq, d.Mul(d, d))
	}
	scale := big.NewInt(Scale)
	sq.Mul(sq, scale)
	sq.Mul(sq, scale)
	sq.Quo(sq, big.NewInt(int64(len(window))))

	return sq.Sqrt(sq).Quo(sq, big.NewInt(m)).Int64()
}

// slope least-squares slope over the window, x1000 price units per step.
func slope(window []int64) int64 {
	n := int64(len(window))
	if n < 2 {
		return 0
	}

	var sx, sxx int64
	sy, sxy := new(big.Int), new(big.Int)
	p := new(big.Int)
	for i, v := range window {
		x := int64(i)
		sx += x
		sxx += x * x
		p.SetInt64(v)
		sy.Add(sy, p)
		sxy.Add(sxy, p.Mul(p, big.NewInt(x)))
	}

	den := n*sxx - sx*sx
	if den == 0 {
		return 0
	}

	num := new(big.Int).Mul(big.NewInt(n), sxy)
	num.Sub(num, new(big.Int).Mul(big.NewInt(sx), sy))
	num.Mul(num, big.NewInt(Scale))

	return num.Quo(num, big.NewInt(den)).Int64()
}

func momentum(last, past int64) int64 {
	if past == 0 {
		return 0
	}
	return (last - past) * Scale / past
}

// volumeChange average of the last 3 volumes against the 7 before them, x1000.
func volumeChange(volumes []int64) int64 {
	if len(volumes) < recentVolumes+priorVolumes {
		return 0
	}

	window := tail(volumes, recentVolumes+priorVolumes)
	prior := mean(window[:priorVolumes])
	if prior == 0 {
		return 0
	}
	recent := mean(window[priorVolumes:])

	return (recent - prior) * Scale / prior
}
