// Package residual computes fit residuals and flags the ones that exceed a
// k-sigma threshold.
package residual

import (
	"fmt"
	"math"
)

// DefaultKSigma is the threshold multiplier used when none is configured.
const DefaultKSigma = 3.0

// Result holds the residual vector and the anomalies derived from it.
type Result struct {
	// Residuals[j] = values[j] - fitted[j]. NaN marks an unfitted index.
	Residuals []float64
	// Sigma is the population standard deviation of the defined residuals.
	Sigma float64
	// Threshold is KSigma * Sigma.
	Threshold float64
	// Anomalies lists, ascending, every j with |Residuals[j]| > Threshold.
	Anomalies []int
}

// Analyze computes residuals and flags anomalies. A series whose residuals
// are all zero has Sigma = 0 and no anomalies.
func Analyze(values, fitted []float64, kSigma float64) (Result, error) {
	if len(values) != len(fitted) {
		return Result{}, fmt.Errorf("residual: %d values but %d fitted", len(values), len(fitted))
	}
	if math.IsNaN(kSigma) || math.IsInf(kSigma, 0) || kSigma < 0 {
		return Result{}, fmt.Errorf("residual: k_sigma must be finite and >= 0, got %v", kSigma)
	}

	res := Result{Residuals: make([]float64, len(values)), Anomalies: []int{}}
	for j := range values {
		res.Residuals[j] = values[j] - fitted[j]
	}
	res.Sigma = StdDev(res.Residuals)
	res.Threshold = kSigma * res.Sigma
	for j, r := range res.Residuals {
		if math.Abs(r) > res.Threshold {
			res.Anomalies = append(res.Anomalies, j)
		}
	}
	return res, nil
}

// StdDev returns the population standard deviation of the non-NaN entries
// of xs, or 0 when there are none.
func StdDev(xs []float64) float64 {
	var n int
	var mean float64
	for _, x := range xs {
		if math.IsNaN(x) {
			continue
		}
		n++
		mean += x
	}
	if n == 0 {
		return 0
	}
	mean /= float64(n)

	var ss float64
	for _, x := range xs {
		if math.IsNaN(x) {
			continue
		}
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n))
}
