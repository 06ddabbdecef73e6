package regress

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func linear(n int, slope, intercept float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = slope*float64(i) + intercept
	}
	return out
}

func TestFitPerfectLine(t *testing.T) {
	values := linear(50, 2, 1)
	fitted, segs, err := Fit(values, []int{0, 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("segments: got %d, want 1", len(segs))
	}
	if segs[0].Slope != 2 || segs[0].Intercept != 1 {
		t.Errorf("model: got slope=%v intercept=%v, want 2, 1", segs[0].Slope, segs[0].Intercept)
	}
	for i := range values {
		if fitted[i] != values[i] {
			t.Errorf("index %d: fitted %v, want %v", i, fitted[i], values[i])
		}
	}
}

func TestFitKnownSolution(t *testing.T) {
	fitted, segs, err := Fit([]float64{1, 2, 2, 4}, []int{0, 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(segs[0].Slope-0.9) > 1e-12 || math.Abs(segs[0].Intercept-0.9) > 1e-12 {
		t.Errorf("model: got slope=%v intercept=%v, want 0.9, 0.9", segs[0].Slope, segs[0].Intercept)
	}
	want := []float64{0.9, 1.8, 2.7, 3.6}
	for i := range want {
		if math.Abs(fitted[i]-want[i]) > 1e-12 {
			t.Errorf("index %d: fitted %v, want %v", i, fitted[i], want[i])
		}
	}
}

func TestFitUsesSegmentLocalIndex(t *testing.T) {
	// two ramps, the second restarting at 100
	values := append(linear(10, 1, 0), linear(10, -3, 100)...)
	fitted, segs, err := Fit(values, []int{0, 10, 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("segments: got %d, want 2", len(segs))
	}
	if segs[1].Start != 10 || segs[1].End != 20 {
		t.Errorf("second segment range: got [%d,%d)", segs[1].Start, segs[1].End)
	}
	if segs[1].Intercept != 100 || segs[1].Slope != -3 {
		t.Errorf("second segment: got slope=%v intercept=%v", segs[1].Slope, segs[1].Intercept)
	}
	for i := range values {
		if math.Abs(fitted[i]-values[i]) > 1e-9 {
			t.Errorf("index %d: fitted %v, want %v", i, fitted[i], values[i])
		}
	}
}

func TestFitSinglePointSegment(t *testing.T) {
	values := []float64{1, 2, 3, 42.5, 5, 6}
	fitted, segs, err := Fit(values, []int{0, 3, 4, 6})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if segs[1].Len() != 1 {
		t.Fatalf("middle segment length: got %d", segs[1].Len())
	}
	if fitted[3] != 42.5 {
		t.Errorf("single-point fit: got %v, want 42.5", fitted[3])
	}
	if values[3]-fitted[3] != 0 {
		t.Errorf("single-point residual: got %v, want 0", values[3]-fitted[3])
	}
}

func TestFitCoversEveryIndexOnce(t *testing.T) {
	values := make([]float64, 37)
	for i := range values {
		values[i] = float64(i * i % 7)
	}
	bounds := []int{0, 1, 5, 6, 20, 36, 37}
	fitted, segs, err := Fit(values, bounds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fitted) != len(values) {
		t.Fatalf("fitted length: got %d, want %d", len(fitted), len(values))
	}
	seen := make([]int, len(values))
	for _, s := range segs {
		for j := s.Start; j < s.End; j++ {
			seen[j]++
		}
	}
	for j, c := range seen {
		if c != 1 {
			t.Errorf("index %d covered %d times", j, c)
		}
	}
}

func TestFitEmpty(t *testing.T) {
	fitted, segs, err := Fit(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fitted) != 0 || len(segs) != 0 {
		t.Errorf("expected empty output, got fitted=%v segs=%v", fitted, segs)
	}
}

func TestFitDoesNotMutateInput(t *testing.T) {
	values := []float64{5, 3, 8, 1, 9, 2}
	orig := append([]float64(nil), values...)
	if _, _, err := Fit(values, []int{0, 2, 6}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(values, orig) {
		t.Error("Fit mutated its input")
	}
}

func TestCheckBoundaries(t *testing.T) {
	bad := []struct {
		name   string
		bounds []int
		n      int
	}{
		{"missing zero", []int{5, 10}, 10},
		{"short of n", []int{0, 5}, 10},
		{"past n", []int{0, 11}, 10},
		{"repeated", []int{0, 5, 5, 10}, 10},
		{"decreasing", []int{0, 6, 4, 10}, 10},
		{"single", []int{0}, 10},
		{"empty", nil, 10},
	}
	for _, c := range bad {
		err := CheckBoundaries(c.bounds, c.n)
		if !errors.Is(err, ErrBoundaries) {
			t.Errorf("%s: expected ErrBoundaries, got %v", c.name, err)
		}
		if _, _, err := Fit(make([]float64, c.n), c.bounds); !errors.Is(err, ErrBoundaries) {
			t.Errorf("%s: Fit expected ErrBoundaries, got %v", c.name, err)
		}
	}
	if err := CheckBoundaries([]int{0, 3, 10}, 10); err != nil {
		t.Errorf("valid set rejected: %v", err)
	}
}
