// Package regress fits an independent least-squares line to each segment of a
// partitioned series.
package regress

import (
	"errors"
	"fmt"
)

// ErrBoundaries marks a change-point set that does not tile [0, n) exactly.
var ErrBoundaries = errors.New("invalid change-point set")

// Segment is the fitted model for values[Start:End]. The line is expressed
// in segment-local index: fitted(i) = Slope*i + Intercept for i in [0, Len).
type Segment struct {
	Start     int
	End       int
	Slope     float64
	Intercept float64
}

// Len returns the number of points in the segment.
func (s Segment) Len() int {
	return s.End - s.Start
}

// At returns the fitted value at segment-local index i.
func (s Segment) At(i int) float64 {
	return s.Slope*float64(i) + s.Intercept
}

// CheckBoundaries verifies that bounds starts at 0, ends at n and is strictly
// increasing. An empty series takes an empty set.
func CheckBoundaries(bounds []int, n int) error {
	if n == 0 && len(bounds) == 0 {
		return nil
	}
	if len(bounds) < 2 {
		return fmt.Errorf("%w: need at least two boundaries for %d points, got %v", ErrBoundaries, n, bounds)
	}
	if bounds[0] != 0 {
		return fmt.Errorf("%w: first boundary is %d, want 0", ErrBoundaries, bounds[0])
	}
	if last := bounds[len(bounds)-1]; last != n {
		return fmt.Errorf("%w: last boundary is %d, want %d", ErrBoundaries, last, n)
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] <= bounds[i-1] {
			return fmt.Errorf("%w: boundary %d (%d) does not exceed boundary %d (%d)",
				ErrBoundaries, i, bounds[i], i-1, bounds[i-1])
		}
	}
	return nil
}

// Fit fits every segment [bounds[i], bounds[i+1]) and returns the fitted
// value for each index of values, plus the per-segment models. Inputs are
// not modified.
func Fit(values []float64, bounds []int) ([]float64, []Segment, error) {
	if err := CheckBoundaries(bounds, len(values)); err != nil {
		return nil, nil, err
	}
	fitted := make([]float64, len(values))
	var segs []Segment
	for i := 0; i+1 < len(bounds); i++ {
		start, end := bounds[i], bounds[i+1]
		seg := fitSegment(values[start:end])
		seg.Start, seg.End = start, end
		for j := start; j < end; j++ {
			fitted[j] = seg.At(j - start)
		}
		segs = append(segs, seg)
	}
	return fitted, segs, nil
}

// fitSegment is closed-form ordinary least squares of y on 0..len(y)-1.
// A single point has no slope; the line is flat through the observation.
func fitSegment(y []float64) Segment {
	m := len(y)
	if m == 1 {
		return Segment{Intercept: y[0]}
	}
	xbar := float64(m-1) / 2
	var ybar float64
	for _, v := range y {
		ybar += v
	}
	ybar /= float64(m)

	var sxy, sxx float64
	for i, v := range y {
		dx := float64(i) - xbar
		sxy += dx * (v - ybar)
		sxx += dx * dx
	}
	slope := sxy / sxx
	return Segment{Slope: slope, Intercept: ybar - slope*xbar}
}
