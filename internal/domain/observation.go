package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawReading a single observation reported by an independent source.
type RawReading struct {
	Source     string          `json:"source"`
	Value      decimal.Decimal `json:"value"`
	Volume     decimal.Decimal `json:"volume"`
	Timestamp  time.Time       `json:"ts"`
	Confidence int             `json:"confidence"`
}

// FusedEstimate single market estimate derived from several readings.
type FusedEstimate struct {
	Value               decimal.Decimal `json:"value"`
	Volume              decimal.Decimal `json:"volume"`
	Confidence          int             `json:"confidence"`
	ContributingSources []string        `json:"sources"`
	Rejected            []string        `json:"rejected,omitempty"`
	// Degraded is set when the estimate is a fallback rather than a full fusion.
	Degraded  bool      `json:"degraded"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// HasValue reports whether the estimate carries a usable price.
func (f FusedEstimate) HasValue() bool {
	return f.Value.IsPositive()
}

// WindowPoint one fused observation kept in the bounded price window.
type WindowPoint struct {
	Price     int64       `json:"price"`
	Volume    int64       `json:"volume"`
	State     MarketState `json:"state"`
	Timestamp time.Time   `json:"ts"`
}

// Window parallel price/volume/state slices handed to detection strategies.
type Window struct {
	Prices  []int64
	Volumes []int64
	States  []MarketState
}

// NewWindow splits window points into parallel slices.
func NewWindow(points []WindowPoint) Window {
	w := Window{
		Prices:  make([]int64, len(points)),
		Volumes: make([]int64, len(points)),
		States:  make([]MarketState, len(points)),
	}
	for i, p := range points {
		w.Prices[i] = p.Price
		w.Volumes[i] = p.Volume
		w.States[i] = p.State
	}
	return w
}

// Len returns the number of prices in the window.
func (w Window) Len() int {
	return len(w.Prices)
}
