package series

import (
	"context"
	"sync"
)

// FakeLoader serves scripted series for tests.
// Safe for concurrent use so batch runs can share one instance.
type FakeLoader struct {
	// Data maps sensor name to its points. Unknown sensors load as empty.
	Data map[string][]Point

	// Errors maps sensor name to an error returned by Load.
	Errors map[string]error

	mu    sync.Mutex
	calls []string
}

// NewFakeLoader creates a FakeLoader over the given data.
func NewFakeLoader(data map[string][]Point) *FakeLoader {
	return &FakeLoader{Data: data, Errors: map[string]error{}}
}

// Load returns a copy of the scripted points for sensor.
func (f *FakeLoader) Load(ctx context.Context, sensor string) (Series, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sensor)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Series{}, err
	}
	if err, ok := f.Errors[sensor]; ok {
		return Series{}, err
	}
	pts := make([]Point, len(f.Data[sensor]))
	copy(pts, f.Data[sensor])
	return Series{Sensor: sensor, Points: pts}, nil
}

// Calls returns the sensors requested so far, in call order.
func (f *FakeLoader) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}
