package domain

// MarketFeatures fixed-point (x1000) features extracted from a price window.
// Support and Resistance are raw prices.
type MarketFeatures struct {
	Volatility   int64 `json:"volatility"`
	Trend        int64 `json:"trend"`
	Momentum     int64 `json:"momentum"`
	VolumeChange int64 `json:"volume_change"`
	Support      int64 `json:"support"`
	Resistance   int64 `json:"resistance"`
}

// DetectionResult output of the rule-based detector.
type DetectionResult struct {
	Regime     Regime         `json:"regime"`
	Confidence int            `json:"confidence"`
	Signal     Signal         `json:"signal"`
	Urgency    int            `json:"urgency"`
	Reasoning  string         `json:"reasoning"`
	Features   MarketFeatures `json:"features"`
}

// StrategyID identifies a registered detection strategy.
type StrategyID string

const (
	StrategyAttention     StrategyID = "attention"
	StrategyMeanReversion StrategyID = "mean_reversion"
)

// IsValid checks if the StrategyID is one of the known strategies.
func (s StrategyID) IsValid() bool {
	return s == StrategyAttention || s == StrategyMeanReversion
}

// String returns the string representation.
func (s StrategyID) String() string {
	return string(s)
}

// UnifiedResult normalised output shared by every strategy.
type UnifiedResult struct {
	Strategy   StrategyID     `json:"strategy"`
	State      MarketState    `json:"state"`
	Regime     Regime         `json:"regime,omitempty"`
	Confidence float64        `json:"confidence"`
	Signal     Signal         `json:"signal"`
	Urgency    int            `json:"urgency"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// ConfidencePercent returns confidence on the 0-100 scale.
func (u UnifiedResult) ConfidencePercent() int {
	c := int(u.Confidence*100 + 0.5)
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
