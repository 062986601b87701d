// Package detector classifies the market regime from a price window with ordered rules.
package detector

import (
	"fmt"

	"github.com/vadiminshakov/statefuse/internal/domain"
	"go.uber.org/zap"
)

// MinPrices smallest window the detector classifies.
const MinPrices = 5

// Thresholds rule parameters, x1000 unless noted.
type Thresholds struct {
	HighVolatility int64 `yaml:"high_volatility"`
	LowVolatility  int64 `yaml:"low_volatility"`
	StrongTrend    int64 `yaml:"strong_trend"`
	BreakoutMargin int64 `yaml:"breakout_margin"`
	VolumeSurge    int64 `yaml:"volume_surge"`
	ReversalBand   int64 `yaml:"reversal_band"`
	// BreakoutTrend minimum |trend| confirming a breakout.
	BreakoutTrend int64 `yaml:"breakout_trend"`
}

// DefaultThresholds returns the default rule parameters.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighVolatility: 100,
		LowVolatility:  10,
		StrongTrend:    50,
		BreakoutMargin: 10,
		VolumeSurge:    500,
		ReversalBand:   20,
		BreakoutTrend:  100,
	}
}

// Detector rule-based regime classifier. It is stateless and safe for concurrent use.
type Detector struct {
	th Thresholds
	l  *zap.Logger
}

// New creates a detector. Zero thresholds are replaced with defaults.
func New(th Thresholds, l *zap.Logger) *Detector {
	if l == nil {
		l = zap.NewNop()
	}
	if th == (Thresholds{}) {
		th = DefaultThresholds()
	}
	return &Detector{th: th, l: l.With(zap.String("component", "detector"))}
}

// Detect classifies the window. The first matching rule wins.
func (d *Detector) Detect(prices, volumes []int64) domain.DetectionResult {
	if len(prices) < MinPrices {
		return domain.DetectionResult{
			Regime:     domain.RegimeSideways,
			Confidence: 50,
			Signal:     domain.SignalWait,
			Urgency:    0,
			Reasoning:  "insufficient data",
		}
	}

	f := ExtractFeatures(prices, volumes)
	last := prices[len(prices)-1]

	res := d.classify(prices, last, f)
	res.Features = f

	d.l.Debug("regime detected",
		zap.String("regime", string(res.Regime)),
		zap.String("signal", string(res.Signal)),
		zap.Int64("volatility", f.Volatility),
		zap.Int64("trend", f.Trend),
		zap.Int64("momentum", f.Momentum),
	)

	return res
}

func (d *Detector) classify(prices []int64, last int64, f domain.MarketFeatures) domain.DetectionResult {
	th := d.th

	above := last*Scale > f.Resistance*(Scale+th.BreakoutMargin)
	below := last*Scale < f.Support*(Scale-th.BreakoutMargin)
	if (above || below) && f.VolumeChange > th.VolumeSurge && abs(f.Trend) > th.BreakoutTrend {
		signal := domain.SignalStrongBuy
		if f.Trend < 0 {
			signal = domain.SignalStrongSell
		}
		return domain.DetectionResult{
			Regime:     domain.RegimeBreakout,
			Confidence: 90,
			Signal:     signal,
			Urgency:    95,
			Reasoning:  fmt.Sprintf("price %d broke range [%d, %d] on volume change %d", last, f.Support, f.Resistance, f.VolumeChange),
		}
	}

	direction := sign(last - prices[len(prices)-3])
	if direction != 0 && sign(f.Momentum) != 0 && direction != sign(f.Momentum) && d.nearLevel(last, f) {
		signal := domain.SignalBuy
		if direction < 0 {
			signal = domain.SignalSell
		}
		return domain.DetectionResult{
			Regime:     domain.RegimeReversal,
			Confidence: 80,
			Signal:     signal,
			Urgency:    85,
			Reasoning:  fmt.Sprintf("short-term direction %+d against momentum %d near support/resistance", direction, f.Momentum),
		}
	}

	if f.Volatility > th.HighVolatility {
		return domain.DetectionResult{
			Regime:     domain.RegimeHighVolatility,
			Confidence: 75,
			Signal:     domain.SignalHold,
			Urgency:    70,
			Reasoning:  fmt.Sprintf("volatility %d above %d", f.Volatility, th.HighVolatility),
		}
	}

	if abs(f.Trend) > th.StrongTrend {
		regime, signal := domain.RegimeTrendingUp, domain.SignalBuy
		if f.Trend < 0 {
			regime, signal = domain.RegimeTrendingDown, domain.SignalSell
		}
		return domain.DetectionResult{
			Regime:     regime,
			Confidence: 70,
			Signal:     signal,
			Urgency:    60,
			Reasoning:  fmt.Sprintf("trend %d beyond %d", f.Trend, th.StrongTrend),
		}
	}

	if f.Volatility < th.LowVolatility {
		return domain.DetectionResult{
			Regime:     domain.RegimeLowVolatility,
			Confidence: 60,
			Signal:     domain.SignalWait,
			Urgency:    20,
			Reasoning:  fmt.Sprintf("volatility %d below %d", f.Volatility, th.LowVolatility),
		}
	}

	return domain.DetectionResult{
		Regime:     domain.RegimeSideways,
		Confidence: 50,
		Signal:     domain.SignalHold,
		Urgency:    30,
		Reasoning:  "no rule matched",
	}
}

// nearLevel reports whether price sits within the reversal band of support or resistance.
func (d *Detector) nearLevel(price int64, f domain.MarketFeatures) bool {
	band := price * d.th.ReversalBand
	return abs(price-f.Support)*Scale <= band || abs(price-f.Resistance)*Scale <= band
}
