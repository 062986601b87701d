// Package indicators provides moving statistics (SMA, RSI, deviation) over float series.
package indicators

import (
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
)

// CalculateSMA calculates the Simple Moving Average for the given period.
// The result has one value per complete window.
func CalculateSMA(values []float64, period int) ([]float64, error) {
	if period < 1 {
		return nil, fmt.Errorf("invalid SMA period %d", period)
	}
	if len(values) < period {
		return nil, fmt.Errorf("not enough data points: need %d, got %d", period, len(values))
	}

	sma := trend.NewSmaWithPeriod[float64](period)
	inputChan := helper.SliceToChan(values)
	outputChan := sma.Compute(inputChan)

	return helper.ChanToSlice(outputChan), nil
}

// CalculateRSI calculates the Relative Strength Index for the given period.
func CalculateRSI(values []float64, period int) ([]float64, error) {
	if len(values) < period+1 {
		return nil, fmt.Errorf("not enough data points for RSI: need %d, got %d", period+1, len(values))
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	inputChan := helper.SliceToChan(values)
	outputChan := rsi.Compute(inputChan)

	return helper.ChanToSlice(outputChan), nil
}

// StdDev population standard deviation of values around mean.
func StdDev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}

	return math.Sqrt(sum / float64(len(values)))
}

// Mean arithmetic mean, zero for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

// Last returns the final element of values.
func Last(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}

// Int64sToFloat64 converts integer prices to floats.
func Int64sToFloat64(values []int64) []float64 {
	result := make([]float64, len(values))
	for i, v := range values {
		result[i] = float64(v)
	}
	return result
}
