// Package changepoint partitions a numeric sequence into contiguous segments
// at change-points, by penalized optimal partitioning with PELT pruning
// (Killick, Fearnhead & Eckley, 2012).
//
// The search is exact for the additive cost-plus-penalty objective over
// segments of at least MinSize values that start on multiples of Jump. A
// candidate start is discarded only after the end that beats it has become
// a valid start itself, so the minimum segment length never hides a better
// final segment.
package changepoint

import (
	"errors"
	"fmt"
	"math"
)

// ErrComputation marks a search whose cost could not be evaluated, such as
// non-finite input or a cost that overflows.
var ErrComputation = errors.New("change-point computation failed")

// Default search parameters.
const (
	DefaultMinSize      = 2
	DefaultJump         = 5
	DefaultMinPenalty   = 10.0
	DefaultPenaltyScale = 0.01
)

// Options controls the search.
type Options struct {
	// Penalty is charged once per segment.
	Penalty float64
	// Cost selects the segment cost model. Empty means CostL2.
	Cost CostModel
	// MinSize is the shortest segment considered (except when the whole
	// series is shorter).
	MinSize int
	// Jump restricts candidate change-points to multiples of Jump.
	Jump int
}

// DefaultOptions returns l2 cost, min size 2, jump 5 and the penalty floor.
func DefaultOptions() Options {
	return Options{
		Penalty: DefaultMinPenalty,
		Cost:    CostL2,
		MinSize: DefaultMinSize,
		Jump:    DefaultJump,
	}
}

// DynamicPenalty returns max(floor, scale*n), so longer series tolerate a
// larger per-segment charge and the segment count grows sub-linearly.
func DynamicPenalty(n int, floor, scale float64) float64 {
	return math.Max(floor, scale*float64(n))
}

func (o Options) validate() error {
	if math.IsNaN(o.Penalty) || math.IsInf(o.Penalty, 0) || o.Penalty < 0 {
		return fmt.Errorf("changepoint: penalty must be finite and >= 0, got %v", o.Penalty)
	}
	if o.MinSize < 1 {
		return fmt.Errorf("changepoint: min size must be >= 1, got %d", o.MinSize)
	}
	if o.Jump < 1 {
		return fmt.Errorf("changepoint: jump must be >= 1, got %d", o.Jump)
	}
	return nil
}

// Segment returns the sorted segment end indices for values. The result
// omits 0 and always ends with len(values), so segment i spans
// [bkps[i-1], bkps[i]) with an implicit leading 0.
//
// An empty input yields an empty result; a single value yields [1].
func Segment(values []float64, opts Options) ([]int, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	n := len(values)
	if n == 0 {
		return []int{}, nil
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite value %v at index %d", ErrComputation, v, i)
		}
	}
	if n < 2 {
		return []int{n}, nil
	}

	c, err := newCost(opts.Cost, values)
	if err != nil {
		return nil, err
	}

	pen := opts.Penalty
	minSize, jump := opts.MinSize, opts.Jump

	// best[s] is the optimal objective for values[:s]; prev[s] the start of
	// its final segment.
	best := make([]float64, n+1)
	prev := make([]int, n+1)
	done := make([]bool, n+1)
	done[0] = true

	// admissible holds the live start candidates; dominator[i] is the
	// earliest end shown to beat admissible[i], or -1.
	var admissible, dominator []int
	var crit []float64
	lastAdded := -1

	for _, s := range candidateEnds(n, minSize, jump) {
		if s-minSize >= 0 {
			if t := ((s - minSize) / jump) * jump; t > lastAdded {
				admissible = append(admissible, t)
				dominator = append(dominator, -1)
				lastAdded = t
			}
		}

		// A dominated candidate is dropped only once its dominator is itself
		// a start for s. Until then a segment from the dominator to s would
		// be shorter than minSize, so the candidate may still be optimal.
		kept, keptDom := admissible[:0], dominator[:0]
		for i, t := range admissible {
			if d := dominator[i]; d >= 0 && d <= lastAdded {
				continue
			}
			kept = append(kept, t)
			keptDom = append(keptDom, dominator[i])
		}
		admissible, dominator = kept, keptDom

		crit = crit[:0]
		bestT, bestCost := -1, math.Inf(1)
		for _, t := range admissible {
			if !done[t] {
				crit = append(crit, math.NaN())
				continue
			}
			v := best[t] + c.cost(t, s) + pen
			crit = append(crit, v)
			if v < bestCost {
				bestT, bestCost = t, v
			}
		}
		if bestT < 0 {
			// no split is admissible at all
			if s == n {
				return []int{n}, nil
			}
			continue
		}
		if math.IsInf(bestCost, 0) || math.IsNaN(bestCost) {
			return nil, fmt.Errorf("%w: objective not finite at index %d", ErrComputation, s)
		}
		best[s], prev[s], done[s] = bestCost, bestT, true

		// mark candidates that can never beat s as a start point
		kept, keptDom = admissible[:0], dominator[:0]
		for i, t := range admissible {
			if !done[t] {
				continue
			}
			if dominator[i] < 0 && crit[i] > bestCost+pen {
				dominator[i] = s
			}
			kept = append(kept, t)
			keptDom = append(keptDom, dominator[i])
		}
		admissible, dominator = kept, keptDom
	}

	var bkps []int
	for s := n; s > 0; s = prev[s] {
		bkps = append(bkps, s)
	}
	for i, j := 0, len(bkps)-1; i < j; i, j = i+1, j-1 {
		bkps[i], bkps[j] = bkps[j], bkps[i]
	}
	return bkps, nil
}

// candidateEnds lists the admissible segment ends in increasing order:
// multiples of jump no smaller than minSize, then n.
func candidateEnds(n, minSize, jump int) []int {
	ends := make([]int, 0, n/jump+1)
	for k := 0; k < n; k += jump {
		if k >= minSize {
			ends = append(ends, k)
		}
	}
	return append(ends, n)
}
