// Package remotewrite exports per-sensor run gauges to a Prometheus
// remote-write endpoint.
package remotewrite

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"

	"github.com/sweeney/anomaly-sensor/internal/pipeline"
)

// Metric names.
const (
	MetricRows      = "anomaly_sensor_rows"
	MetricSegments  = "anomaly_sensor_segments"
	MetricSigma     = "anomaly_sensor_residual_sigma"
	MetricThreshold = "anomaly_sensor_threshold"
	MetricAnomalies = "anomaly_sensor_anomalies"
	MetricFailed    = "anomaly_sensor_failed"
)

// Writer pushes batch outcomes to a remote-write URL.
type Writer struct {
	url    string
	client *http.Client
}

// New creates a Writer. A nil client uses one with a 10s timeout.
func New(url string, client *http.Client) *Writer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Writer{url: url, client: client}
}

// Push sends one sample per gauge per sensor, stamped at now.
func (w *Writer) Push(ctx context.Context, now time.Time, outcomes []pipeline.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	req := BuildRequest(now, outcomes)
	raw, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("remotewrite: marshal: %w", err)
	}
	body := snappy.Encode(nil, raw)

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("remotewrite: %w", err)
	}
	hreq.Header.Set("Content-Encoding", "snappy")
	hreq.Header.Set("Content-Type", "application/x-protobuf")
	hreq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := w.client.Do(hreq)
	if err != nil {
		return fmt.Errorf("remotewrite: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("remotewrite: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}

// BuildRequest converts outcomes to a WriteRequest. A failed run reports
// only MetricFailed=1 so stale statistics are not exported.
func BuildRequest(now time.Time, outcomes []pipeline.Outcome) *prompb.WriteRequest {
	ts := now.UnixMilli()
	req := &prompb.WriteRequest{}
	for _, o := range outcomes {
		if o.Failed() {
			req.Timeseries = append(req.Timeseries, gauge(MetricFailed, o.Sensor, 1, ts))
			continue
		}
		res := o.Result
		req.Timeseries = append(req.Timeseries,
			gauge(MetricRows, o.Sensor, float64(res.Series.Len()), ts),
			gauge(MetricSegments, o.Sensor, float64(len(res.Segments)), ts),
			gauge(MetricSigma, o.Sensor, res.Sigma, ts),
			gauge(MetricThreshold, o.Sensor, res.Threshold, ts),
			gauge(MetricAnomalies, o.Sensor, float64(len(res.Anomalies)), ts),
			gauge(MetricFailed, o.Sensor, 0, ts),
		)
	}
	return req
}

func gauge(name, sensor string, v float64, ts int64) prompb.TimeSeries {
	return prompb.TimeSeries{
		Labels: []prompb.Label{
			{Name: "__name__", Value: name},
			{Name: "sensor", Value: sensor},
		},
		Samples: []prompb.Sample{{Value: v, Timestamp: ts}},
	}
}
