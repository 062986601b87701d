package strategy

import (
	"context"

	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/services/meanreversion"
	"github.com/vadiminshakov/statefuse/pkg/indicators"
)

// MeanReversionStrategy trades stretches away from the moving average.
type MeanReversionStrategy struct {
	detector *meanreversion.Detector
}

func NewMeanReversionStrategy(d *meanreversion.Detector) *MeanReversionStrategy {
	return &MeanReversionStrategy{detector: d}
}

func (s *MeanReversionStrategy) ID() domain.StrategyID {
	return domain.StrategyMeanReversion
}

func (s *MeanReversionStrategy) Execute(_ context.Context, w domain.Window) (domain.UnifiedResult, error) {
	res, err := s.detector.Detect(indicators.Int64sToFloat64(w.Prices), indicators.Int64sToFloat64(w.Volumes))
	if err != nil {
		return domain.UnifiedResult{}, err
	}

	meta := map[string]any{
		"reasoning": res.Reasoning,
		"z_score":   res.ZScore,
		"sma":       res.SMA,
		"std_dev":   res.StdDev,
	}
	if res.HasRSI {
		meta["rsi"] = res.RSI
	}

	return domain.UnifiedResult{
		Strategy:   domain.StrategyMeanReversion,
		State:      res.State,
		Confidence: res.Confidence,
		Signal:     res.Signal,
		Urgency:    urgency(res.Signal),
		Metadata:   meta,
	}, nil
}

func urgency(s domain.Signal) int {
	switch {
	case s.IsStrong():
		return 80
	case s.Direction() != 0:
		return 60
	default:
		return 20
	}
}
