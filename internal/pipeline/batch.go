package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the batch parallelism when none is configured.
const DefaultWorkers = 8

// Outcome is one sensor's entry in a batch.
type Outcome struct {
	Sensor   string
	Result   Result
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Failed reports whether the sensor's run returned an error.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// RunBatch runs every sensor with at most workers runs in flight. A failing
// sensor is recorded in its Outcome and never stops the others. Outcomes are
// returned in the order of sensors.
func (p *Pipeline) RunBatch(ctx context.Context, sensors []string, workers int) []Outcome {
	if workers < 1 {
		workers = DefaultWorkers
	}
	out := make([]Outcome, len(sensors))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, name := range sensors {
		i, name := i, name
		g.Go(func() error {
			start := time.Now()
			res, err := p.Run(ctx, name)
			out[i] = Outcome{
				Sensor:   name,
				Result:   res,
				Err:      err,
				Started:  start,
				Duration: time.Since(start),
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range out {
		if o.Failed() {
			failed++
		}
	}
	p.logf("batch: %d sensors processed, %d failed", len(sensors), failed)
	return out
}
