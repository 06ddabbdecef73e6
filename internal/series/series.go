// Package series defines the per-sensor time series consumed by the detection
// pipeline, and the loaders that fetch one sensor's series from a backing store.
package series

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalid marks a malformed series (non-finite values, unsorted timestamps).
var ErrInvalid = errors.New("invalid series")

// Point is a single measurement.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Series is one sensor's measurements in arrival order.
// Stages downstream of the loader treat it as immutable.
type Series struct {
	Sensor string
	Points []Point
}

// Loader fetches the ordered series for a sensor.
type Loader interface {
	// Load returns the sensor's points sorted by timestamp ascending.
	// An unknown sensor or an empty result is a valid, empty Series.
	Load(ctx context.Context, sensor string) (Series, error)
}

// Len returns the number of points.
func (s Series) Len() int {
	return len(s.Points)
}

// Values returns a fresh slice of the point values.
func (s Series) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

// Validate checks that every value is finite and that timestamps never
// decrease. Equal timestamps are allowed and kept as given.
func (s Series) Validate() error {
	for i, p := range s.Points {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return fmt.Errorf("%w: non-finite value %v at index %d", ErrInvalid, p.Value, i)
		}
		if i > 0 && p.Timestamp.Before(s.Points[i-1].Timestamp) {
			return fmt.Errorf("%w: timestamp at index %d precedes index %d", ErrInvalid, i, i-1)
		}
	}
	return nil
}
