package strategy

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/services/attention"
	"github.com/vadiminshakov/statefuse/internal/services/detector"
	"github.com/vadiminshakov/statefuse/pkg/indicators"
)

// DisagreementPenalty share of confidence removed when the last price sits on the
// wrong side of the attention-weighted price for the signal's direction.
const DisagreementPenalty = 0.25

// AttentionStrategy rule-based detection over the window, confirmed by attention weights.
type AttentionStrategy struct {
	detector *detector.Detector
	weighter *attention.Weighter
}

func NewAttentionStrategy(d *detector.Detector, w *attention.Weighter) *AttentionStrategy {
	return &AttentionStrategy{detector: d, weighter: w}
}

func (s *AttentionStrategy) ID() domain.StrategyID {
	return domain.StrategyAttention
}

func (s *AttentionStrategy) Execute(_ context.Context, w domain.Window) (domain.UnifiedResult, error) {
	if w.Len() == 0 {
		return domain.UnifiedResult{}, errors.Wrap(domain.ErrInsufficientData, "empty window")
	}

	det := s.detector.Detect(w.Prices, w.Volumes)

	series := indicators.Int64sToFloat64(w.Prices)
	weights := s.weighter.ComputeWeights(series, w.States, indicators.Int64sToFloat64(w.Volumes))
	focus := attention.Focus(weights)
	weighted := attention.WeightedValue(series, weights)

	return domain.UnifiedResult{
		Strategy:   domain.StrategyAttention,
		State:      det.Regime.CoarseState(),
		Regime:     det.Regime,
		Confidence: attentionConfidence(float64(det.Confidence)/100, det.Signal, series[len(series)-1], weighted),
		Signal:     det.Signal,
		Urgency:    det.Urgency,
		Metadata: map[string]any{
			"reasoning":       det.Reasoning,
			"features":        det.Features,
			"attention_price": weighted,
			"focus_index":     focus,
			"focus_weight":    weights[focus],
		},
	}, nil
}

// attentionConfidence keeps conf when the last price confirms the signal against
// the attention-weighted price and discounts it otherwise. Neutral signals pass through.
func attentionConfidence(conf float64, signal domain.Signal, last, weighted float64) float64 {
	dir := signal.Direction()
	if dir == 0 || weighted == 0 {
		return conf
	}
	if (dir > 0 && last >= weighted) || (dir < 0 && last <= weighted) {
		return conf
	}
	return conf * (1 - DisagreementPenalty)
}
