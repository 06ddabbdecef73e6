// Package pipeline runs change-point anomaly detection for one sensor:
//
//	LOAD -> SEGMENT -> REGRESS -> ANALYZE -> REPORT
//
// Every stage is a pure function of its inputs, so runs for different
// sensors share nothing and may execute in parallel.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"github.com/sweeney/anomaly-sensor/internal/changepoint"
	"github.com/sweeney/anomaly-sensor/internal/regress"
	"github.com/sweeney/anomaly-sensor/internal/residual"
	"github.com/sweeney/anomaly-sensor/internal/series"
)

// Stage names a step of a run.
type Stage string

const (
	StageLoad    Stage = "LOAD"
	StageSegment Stage = "SEGMENT"
	StageRegress Stage = "REGRESS"
	StageAnalyze Stage = "ANALYZE"
	StageReport  Stage = "REPORT"
)

// Config holds the detection knobs.
type Config struct {
	KSigma       float64
	Cost         changepoint.CostModel
	MinPenalty   float64
	PenaltyScale float64
	MinSize      int
	Jump         int

	// Timeout bounds the wall-clock time of a whole run. Zero disables it.
	Timeout time.Duration
}

// DefaultConfig returns k_sigma 3, l2 cost, penalty max(10, 0.01*N).
func DefaultConfig() Config {
	return Config{
		KSigma:       residual.DefaultKSigma,
		Cost:         changepoint.CostL2,
		MinPenalty:   changepoint.DefaultMinPenalty,
		PenaltyScale: changepoint.DefaultPenaltyScale,
		MinSize:      changepoint.DefaultMinSize,
		Jump:         changepoint.DefaultJump,
	}
}

// Validate checks the knobs before any sensor is run.
func (c Config) Validate() error {
	if !(c.KSigma > 0) || math.IsInf(c.KSigma, 0) {
		return fmt.Errorf("k_sigma must be > 0, got %v", c.KSigma)
	}
	if _, err := changepoint.ParseCostModel(string(c.Cost)); err != nil {
		return err
	}
	if c.MinPenalty < 0 || c.PenaltyScale < 0 {
		return fmt.Errorf("penalty floor and scale must be >= 0, got %v and %v", c.MinPenalty, c.PenaltyScale)
	}
	if c.MinSize < 1 || c.Jump < 1 {
		return fmt.Errorf("min size and jump must be >= 1, got %d and %d", c.MinSize, c.Jump)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %v", c.Timeout)
	}
	return nil
}

// Anomaly is one flagged row of the series.
type Anomaly struct {
	Index     int
	Timestamp time.Time
	Value     float64
	Fitted    float64
	Residual  float64
}

// Result is the output of a run. Slices are never nil.
type Result struct {
	Sensor string
	Series series.Series

	// Penalty is the per-segment charge used for this series length.
	Penalty float64
	// Breakpoints is the change-point set: 0, the interior change-points, N.
	Breakpoints []int
	Segments    []regress.Segment
	Fitted      []float64
	Residuals   []float64
	Sigma       float64
	Threshold   float64
	KSigma      float64

	// Anomalies are indices into Series; Records the corresponding rows.
	Anomalies []int
	Records   []Anomaly
}

// Pipeline runs detection for sensors read through a Loader.
type Pipeline struct {
	loader series.Loader
	cfg    Config

	// Logf receives run summaries and failures. Defaults to log.Printf.
	Logf func(format string, args ...any)
}

// New creates a Pipeline. The config is validated up front.
func New(loader series.Loader, cfg Config) (*Pipeline, error) {
	if loader == nil {
		return nil, fmt.Errorf("pipeline: loader is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return &Pipeline{loader: loader, cfg: cfg, Logf: log.Printf}, nil
}

// Config returns the pipeline's configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Run processes one sensor. An empty series is a successful run with empty
// results. Failures are returned as *SensorError and logged once.
func (p *Pipeline) Run(ctx context.Context, sensor string) (Result, error) {
	res, err := p.run(ctx, sensor)
	if err != nil {
		p.logf("error processing sensor %s: %v", sensor, err)
		return p.empty(sensor), err
	}
	p.report(res)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, sensor string) (Result, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	s, err := p.loader.Load(ctx, sensor)
	if err != nil {
		return Result{}, stageError(sensor, StageLoad, err)
	}
	s.Sensor = sensor
	p.logf("sensor %s: fetched %d rows", sensor, s.Len())
	if err := s.Validate(); err != nil {
		return Result{}, stageError(sensor, StageLoad, err)
	}

	// The compute stages cannot be interrupted, so the deadline is enforced
	// here and an abandoned run finishes on its own goroutine.
	var stage atomic.Value
	stage.Store(StageSegment)
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &SensorError{
					Sensor: sensor, Stage: stage.Load().(Stage), Kind: KindComputation,
					Err: fmt.Errorf("panic: %v", r),
				}}
			}
		}()
		res, err := p.detect(s, &stage)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return Result{}, &SensorError{
			Sensor: sensor, Stage: stage.Load().(Stage), Kind: KindTimeout, Err: ctx.Err(),
		}
	}
}

// Detect runs SEGMENT, REGRESS and ANALYZE on an already loaded series.
// It does not log and does not modify s.
func (p *Pipeline) Detect(s series.Series) (Result, error) {
	var stage atomic.Value
	stage.Store(StageSegment)
	res, err := p.detect(s, &stage)
	if err != nil {
		return p.empty(s.Sensor), err
	}
	return res, nil
}

// empty is the result of a run that produced nothing, on success or failure.
func (p *Pipeline) empty(sensor string) Result {
	return Result{
		Sensor:      sensor,
		Series:      series.Series{Sensor: sensor},
		KSigma:      p.cfg.KSigma,
		Breakpoints: []int{},
		Segments:    []regress.Segment{},
		Fitted:      []float64{},
		Residuals:   []float64{},
		Anomalies:   []int{},
		Records:     []Anomaly{},
	}
}

func (p *Pipeline) detect(s series.Series, stage *atomic.Value) (Result, error) {
	res := p.empty(s.Sensor)
	res.Series = s
	n := s.Len()
	if n == 0 {
		return res, nil
	}
	values := s.Values()

	stage.Store(StageSegment)
	res.Penalty = changepoint.DynamicPenalty(n, p.cfg.MinPenalty, p.cfg.PenaltyScale)
	native, err := changepoint.Segment(values, changepoint.Options{
		Penalty: res.Penalty,
		Cost:    p.cfg.Cost,
		MinSize: p.cfg.MinSize,
		Jump:    p.cfg.Jump,
	})
	if err != nil {
		return Result{}, stageError(s.Sensor, StageSegment, err)
	}
	res.Breakpoints = withOrigin(native)

	stage.Store(StageRegress)
	fitted, segs, err := regress.Fit(values, res.Breakpoints)
	if err != nil {
		return Result{}, stageError(s.Sensor, StageRegress, err)
	}
	res.Fitted, res.Segments = fitted, segs

	stage.Store(StageAnalyze)
	an, err := residual.Analyze(values, fitted, p.cfg.KSigma)
	if err != nil {
		return Result{}, &SensorError{Sensor: s.Sensor, Stage: StageAnalyze, Kind: KindComputation, Err: err}
	}
	res.Residuals, res.Sigma, res.Threshold, res.Anomalies = an.Residuals, an.Sigma, an.Threshold, an.Anomalies

	stage.Store(StageReport)
	for _, j := range an.Anomalies {
		res.Records = append(res.Records, Anomaly{
			Index:     j,
			Timestamp: s.Points[j].Timestamp,
			Value:     values[j],
			Fitted:    fitted[j],
			Residual:  an.Residuals[j],
		})
	}
	return res, nil
}

// withOrigin turns the engine's end indices into a change-point set by
// prepending boundary 0. The engine never emits 0 itself.
func withOrigin(ends []int) []int {
	if len(ends) == 0 {
		return []int{}
	}
	out := make([]int, 0, len(ends)+1)
	out = append(out, 0)
	return append(out, ends...)
}

func (p *Pipeline) report(res Result) {
	if res.Series.Len() == 0 {
		p.logf("sensor %s: no data, nothing to analyse", res.Sensor)
		return
	}
	p.logf("sensor %s: %d segments (penalty=%.4g)", res.Sensor, len(res.Segments), res.Penalty)
	p.logf("sensor %s: residual std=%.6g threshold=%.6g k_sigma=%.4g", res.Sensor, res.Sigma, res.Threshold, res.KSigma)
	if len(res.Records) == 0 {
		p.logf("sensor %s: no anomaly detected", res.Sensor)
		return
	}
	p.logf("sensor %s: anomaly detected: %d anomalies found", res.Sensor, len(res.Records))
	for _, a := range res.Records {
		p.logf("sensor %s: anomaly index=%d timestamp=%s value=%g fitted=%g residual=%g",
			res.Sensor, a.Index, a.Timestamp.UTC().Format(time.RFC3339), a.Value, a.Fitted, a.Residual)
	}
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.Logf != nil {
		p.Logf(format, args...)
	}
}
