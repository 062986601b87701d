// Package meanreversion detects prices stretched away from their moving average.
package meanreversion

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/pkg/indicators"
	"go.uber.org/zap"
)

const (
	DefaultWindow    = 20
	DefaultThreshold = 2.0
	DefaultRSIPeriod = 14

	baseConfidence    = 0.6
	confidencePerZ    = 0.2
	maxConfidence     = 0.95
	neutralConfidence = 0.5

	highVolumeRatio = 1.5
	lowVolumeRatio  = 0.5
	highVolumeBoost = 1.1
	lowVolumeCut    = 0.8
)

// Config tunes the detector.
type Config struct {
	Window    int
	Threshold float64
	RSIPeriod int
}

// Result mean-reversion verdict for the latest price.
type Result struct {
	State      domain.MarketState
	Signal     domain.Signal
	Confidence float64
	ZScore     float64
	SMA        float64
	StdDev     float64
	RSI        float64
	HasRSI     bool
	Reasoning  string
}

// Detector SMA/deviation band detector.
type Detector struct {
	cfg Config
	l   *zap.Logger
}

// New creates a detector, filling unset values with defaults.
func New(cfg Config, l *zap.Logger) *Detector {
	if l == nil {
		l = zap.NewNop()
	}
	if cfg.Window < 2 {
		cfg.Window = DefaultWindow
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.RSIPeriod < 1 {
		cfg.RSIPeriod = DefaultRSIPeriod
	}
	return &Detector{cfg: cfg, l: l.With(zap.String("component", "meanreversion"))}
}

// Detect evaluates the latest price against the moving band.
// Returns domain.ErrInsufficientData when fewer than Window prices are given.
func (d *Detector) Detect(prices, volumes []float64) (Result, error) {
	if len(prices) < d.cfg.Window {
		return Result{}, errors.Wrapf(domain.ErrInsufficientData, "need %d prices, got %d", d.cfg.Window, len(prices))
	}

	sma, err := indicators.CalculateSMA(prices, d.cfg.Window)
	if err != nil {
		return Result{}, errors.Wrap(err, "calculate SMA")
	}
	mean, ok := indicators.Last(sma)
	if !ok {
		return Result{}, errors.Wrap(domain.ErrInsufficientData, "empty SMA")
	}

	window := prices[len(prices)-d.cfg.Window:]
	sd := indicators.StdDev(window, mean)
	last := prices[len(prices)-1]

	res := Result{
		State:      domain.StateSideways,
		Signal:     domain.SignalHold,
		Confidence: neutralConfidence,
		SMA:        mean,
		StdDev:     sd,
	}

	if sd > 0 {
		res.ZScore = (last - mean) / sd
	}

	absZ := math.Abs(res.ZScore)
	if absZ > d.cfg.Threshold {
		res.Confidence = math.Min(maxConfidence, baseConfidence+(absZ-d.cfg.Threshold)*confidencePerZ)
		strong := absZ > d.cfg.Threshold+1

		if res.ZScore > 0 {
			res.State = domain.StateBull
			res.Signal = pick(strong, domain.SignalStrongSell, domain.SignalSell)
			res.Reasoning = fmt.Sprintf("overbought: z=%.2f above %.2f", res.ZScore, d.cfg.Threshold)
		} else {
			res.State = domain.StateBear
			res.Signal = pick(strong, domain.SignalStrongBuy, domain.SignalBuy)
			res.Reasoning = fmt.Sprintf("oversold: z=%.2f below -%.2f", res.ZScore, d.cfg.Threshold)
		}

		res.Confidence = d.adjustForVolume(res.Confidence, volumes)
	} else {
		res.Reasoning = fmt.Sprintf("within band: z=%.2f", res.ZScore)
	}

	if len(prices) > d.cfg.RSIPeriod {
		rsi, err := indicators.CalculateRSI(prices, d.cfg.RSIPeriod)
		if err == nil {
			if v, ok := indicators.Last(rsi); ok && !math.IsNaN(v) {
				res.RSI, res.HasRSI = v, true
			}
		}
	}

	d.l.Debug("mean reversion evaluated",
		zap.Float64("z", res.ZScore),
		zap.Float64("sma", mean),
		zap.String("signal", string(res.Signal)),
	)

	return res, nil
}

// adjustForVolume scales confidence by how the last volume compares with the window average.
func (d *Detector) adjustForVolume(conf float64, volumes []float64) float64 {
	if len(volumes) < d.cfg.Window {
		return conf
	}

	window := volumes[len(volumes)-d.cfg.Window:]
	avg := indicators.Mean(window)
	if avg <= 0 {
		return conf
	}

	ratio := window[len(window)-1] / avg
	switch {
	case ratio > highVolumeRatio:
		conf *= highVolumeBoost
	case ratio < lowVolumeRatio:
		conf *= lowVolumeCut
	}

	return math.Min(conf, maxConfidence)
}

func pick(strong bool, strongSignal, weakSignal domain.Signal) domain.Signal {
	if strong {
		return strongSignal
	}
	return weakSignal
}
