package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sweeney/anomaly-sensor/internal/changepoint"
	"github.com/sweeney/anomaly-sensor/internal/regress"
	"github.com/sweeney/anomaly-sensor/internal/series"
)

// ErrorKind classifies a stage failure.
type ErrorKind string

const (
	// KindInput is a malformed series: non-finite values, unsorted timestamps.
	KindInput ErrorKind = "input"
	// KindComputation is a failure inside segmentation, fitting or analysis.
	KindComputation ErrorKind = "computation"
	// KindSource is a loader I/O failure.
	KindSource ErrorKind = "source"
	// KindTimeout means the run exceeded its wall-clock bound.
	KindTimeout ErrorKind = "timeout"
)

// SensorError is the failure of one sensor's run, tagged with the stage it
// happened in. It never aborts other sensors in a batch.
type SensorError struct {
	Sensor string
	Stage  Stage
	Kind   ErrorKind
	Err    error
}

func (e *SensorError) Error() string {
	return fmt.Sprintf("sensor %s: %s failed (%s): %v", e.Sensor, e.Stage, e.Kind, e.Err)
}

func (e *SensorError) Unwrap() error {
	return e.Err
}

// IsInputError reports whether err is a SensorError of KindInput.
func IsInputError(err error) bool {
	return kindOf(err) == KindInput
}

// IsComputationError reports whether err is a SensorError of KindComputation.
func IsComputationError(err error) bool {
	return kindOf(err) == KindComputation
}

func kindOf(err error) ErrorKind {
	var se *SensorError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func stageError(sensor string, stage Stage, err error) *SensorError {
	return &SensorError{Sensor: sensor, Stage: stage, Kind: classify(err), Err: err}
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, series.ErrInvalid):
		return KindInput
	case errors.Is(err, changepoint.ErrComputation), errors.Is(err, regress.ErrBoundaries):
		return KindComputation
	}
	return KindSource
}
