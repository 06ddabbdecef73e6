package changepoint

import (
	"fmt"
	"math"
	"sort"
)

// CostModel names a segment cost.
type CostModel string

const (
	// CostL2 is the squared deviation from the segment mean (mean shifts).
	CostL2 CostModel = "l2"
	// CostL1 is the absolute deviation from the segment median, less
	// sensitive to isolated spikes.
	CostL1 CostModel = "l1"
)

// ParseCostModel validates a configured cost name. Empty selects CostL2.
func ParseCostModel(s string) (CostModel, error) {
	switch CostModel(s) {
	case "", CostL2:
		return CostL2, nil
	case CostL1:
		return CostL1, nil
	}
	return "", fmt.Errorf("changepoint: unknown cost model %q", s)
}

type segmentCost interface {
	// cost returns the cost of values[start:end].
	cost(start, end int) float64
}

func newCost(model CostModel, values []float64) (segmentCost, error) {
	m, err := ParseCostModel(string(model))
	if err != nil {
		return nil, err
	}
	if m == CostL1 {
		return &l1Cost{values: values}, nil
	}
	return newL2Cost(values)
}

// l2Cost evaluates segments in O(1) from prefix sums. The data is centred on
// its overall mean first to limit cancellation in the prefix differences.
type l2Cost struct {
	sum   []float64
	sumSq []float64
}

func newL2Cost(values []float64) (*l2Cost, error) {
	n := len(values)
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)
	if math.IsInf(mean, 0) || math.IsNaN(mean) {
		return nil, fmt.Errorf("%w: series mean overflows", ErrComputation)
	}

	c := &l2Cost{sum: make([]float64, n+1), sumSq: make([]float64, n+1)}
	for i, v := range values {
		d := v - mean
		c.sum[i+1] = c.sum[i] + d
		c.sumSq[i+1] = c.sumSq[i] + d*d
	}
	if math.IsInf(c.sumSq[n], 0) || math.IsNaN(c.sumSq[n]) {
		return nil, fmt.Errorf("%w: squared deviations overflow", ErrComputation)
	}
	return c, nil
}

func (c *l2Cost) cost(start, end int) float64 {
	s := c.sum[end] - c.sum[start]
	q := c.sumSq[end] - c.sumSq[start]
	v := q - s*s/float64(end-start)
	if v < 0 {
		return 0
	}
	return v
}

// l1Cost sorts a copy of each segment to find its median.
type l1Cost struct {
	values []float64
	buf    []float64
}

func (c *l1Cost) cost(start, end int) float64 {
	c.buf = append(c.buf[:0], c.values[start:end]...)
	sort.Float64s(c.buf)
	m := len(c.buf)
	med := c.buf[m/2]
	if m%2 == 0 {
		med = (c.buf[m/2-1] + c.buf[m/2]) / 2
	}
	var sum float64
	for _, v := range c.buf {
		sum += math.Abs(v - med)
	}
	return sum
}
