package indicators

import "math"

// StdDev computes the population standard deviation of the last period
// values, the same two-pass mean/variance computation the teacher's
// Bollinger-band strategy used for its bands.
func StdDev(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	window := values[len(values)-period:]

	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)

	variance := 0.0
	for _, v := range window {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(period)

	return math.Sqrt(variance)
}

// VolatilityPct expresses StdDev as a percentage of the window's mean,
// the form the rule DSL's "volatility" indicator compares against a
// threshold.
func VolatilityPct(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	window := values[len(values)-period:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)
	if mean == 0 {
		return 0
	}
	return StdDev(values, period) / mean * 100
}

// ZScore reports how many standard deviations the latest value in
// values is from the mean of the preceding window — the anomaly
// detector's single-sample outlier test.
func ZScore(values []float64, period int) float64 {
	if len(values) < period+1 {
		return 0
	}
	window := values[len(values)-period-1 : len(values)-1]
	latest := values[len(values)-1]

	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)

	sd := StdDev(window, period)
	if sd == 0 {
		return 0
	}
	return (latest - mean) / sd
}
