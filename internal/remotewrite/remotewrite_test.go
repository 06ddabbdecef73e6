package remotewrite

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"

	"github.com/sweeney/anomaly-sensor/internal/pipeline"
	"github.com/sweeney/anomaly-sensor/internal/regress"
	"github.com/sweeney/anomaly-sensor/internal/series"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func goodOutcome() pipeline.Outcome {
	pts := make([]series.Point, 12)
	for i := range pts {
		pts[i] = series.Point{Timestamp: now.Add(time.Duration(i) * time.Minute), Value: float64(i)}
	}
	return pipeline.Outcome{
		Sensor: "flow",
		Result: pipeline.Result{
			Series:    series.Series{Sensor: "flow", Points: pts},
			Segments:  []regress.Segment{{Start: 0, End: 6}, {Start: 6, End: 12}},
			Sigma:     0.5,
			Threshold: 1.5,
			Anomalies: []int{3},
		},
	}
}

// receiver decodes remote-write requests like a Prometheus endpoint.
type receiver struct {
	mu      sync.Mutex
	reqs    []*prompb.WriteRequest
	headers []http.Header
	status  int
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	decoded, err := snappy.Decode(nil, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req prompb.WriteRequest
	if err := req.Unmarshal(decoded); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rc.mu.Lock()
	rc.reqs = append(rc.reqs, &req)
	rc.headers = append(rc.headers, r.Header.Clone())
	status := rc.status
	rc.mu.Unlock()
	if status != 0 {
		http.Error(w, "rejected", status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func sampleOf(req *prompb.WriteRequest, name, sensor string) (float64, bool) {
	for _, ts := range req.Timeseries {
		var n, s string
		for _, l := range ts.Labels {
			switch l.Name {
			case "__name__":
				n = l.Value
			case "sensor":
				s = l.Value
			}
		}
		if n == name && s == sensor && len(ts.Samples) == 1 {
			return ts.Samples[0].Value, true
		}
	}
	return 0, false
}

func TestBuildRequest(t *testing.T) {
	req := BuildRequest(now, []pipeline.Outcome{
		goodOutcome(),
		{Sensor: "return", Err: errors.New("boom")},
	})

	want := map[string]float64{
		MetricRows:      12,
		MetricSegments:  2,
		MetricSigma:     0.5,
		MetricThreshold: 1.5,
		MetricAnomalies: 1,
		MetricFailed:    0,
	}
	for name, v := range want {
		got, ok := sampleOf(req, name, "flow")
		if !ok {
			t.Errorf("%s missing for flow", name)
			continue
		}
		if got != v {
			t.Errorf("%s: got %v, want %v", name, got, v)
		}
	}

	if got, ok := sampleOf(req, MetricFailed, "return"); !ok || got != 1 {
		t.Errorf("failed gauge for return: got %v (%v)", got, ok)
	}
	if _, ok := sampleOf(req, MetricSigma, "return"); ok {
		t.Error("failed run should not export statistics")
	}
	if len(req.Timeseries) != 7 {
		t.Errorf("timeseries: got %d, want 7", len(req.Timeseries))
	}
	for _, ts := range req.Timeseries {
		if ts.Samples[0].Timestamp != now.UnixMilli() {
			t.Errorf("timestamp: got %d, want %d", ts.Samples[0].Timestamp, now.UnixMilli())
		}
	}
}

func TestPush(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	w := New(srv.URL, nil)
	if err := w.Push(context.Background(), now, []pipeline.Outcome{goodOutcome()}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if len(rc.reqs) != 1 {
		t.Fatalf("requests: got %d, want 1", len(rc.reqs))
	}
	h := rc.headers[0]
	if h.Get("Content-Encoding") != "snappy" {
		t.Errorf("Content-Encoding: got %q", h.Get("Content-Encoding"))
	}
	if h.Get("Content-Type") != "application/x-protobuf" {
		t.Errorf("Content-Type: got %q", h.Get("Content-Type"))
	}
	if h.Get("X-Prometheus-Remote-Write-Version") != "0.1.0" {
		t.Errorf("version header: got %q", h.Get("X-Prometheus-Remote-Write-Version"))
	}
	if got, ok := sampleOf(rc.reqs[0], MetricAnomalies, "flow"); !ok || got != 1 {
		t.Errorf("anomalies gauge: got %v (%v)", got, ok)
	}
}

func TestPushEmptyIsNoop(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	if err := New(srv.URL, nil).Push(context.Background(), now, nil); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(rc.reqs) != 0 {
		t.Errorf("requests: got %d, want 0", len(rc.reqs))
	}
}

func TestPushRejected(t *testing.T) {
	rc := &receiver{status: http.StatusBadRequest}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	err := New(srv.URL, nil).Push(context.Background(), now, []pipeline.Outcome{goodOutcome()})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "rejected") {
		t.Errorf("error should carry status and body: %v", err)
	}
}

func TestPushUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if err := New(url, nil).Push(context.Background(), now, []pipeline.Outcome{goodOutcome()}); err == nil {
		t.Error("expected error for closed server")
	}
}
