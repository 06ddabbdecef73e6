package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Batches       int          `json:"batches"`
	LastBatch     string       `json:"last_batch,omitempty"`
	Anomalous     bool         `json:"anomalous"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Sensors       []SensorJSON `json:"sensors"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// SensorJSON is the JSON representation of one sensor's latest run.
type SensorJSON struct {
	Sensor     string        `json:"sensor"`
	LastRun    string        `json:"last_run"`
	DurationMs int64         `json:"duration_ms"`
	Rows       int           `json:"rows"`
	Segments   int           `json:"segments"`
	Sigma      float64       `json:"sigma"`
	Threshold  float64       `json:"threshold"`
	Anomalies  []AnomalyJSON `json:"anomalies"`
	Error      string        `json:"error,omitempty"`
}

// AnomalyJSON is one flagged row.
type AnomalyJSON struct {
	Index     int     `json:"index"`
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
	Fitted    float64 `json:"fitted"`
	Residual  float64 `json:"residual"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Source     string  `json:"source"`
	KSigma     float64 `json:"k_sigma"`
	Workers    int     `json:"workers"`
	TimeoutMs  int64   `json:"timeout_ms"`
	IntervalMs int64   `json:"interval_ms"`
	Broker     string  `json:"broker"`
	HTTPAddr   string  `json:"http_addr"`
}

func buildSensor(s SensorStatus) SensorJSON {
	out := SensorJSON{
		Sensor:     s.Sensor,
		LastRun:    s.LastRun.UTC().Format(time.RFC3339),
		DurationMs: s.Duration.Milliseconds(),
		Rows:       s.Rows,
		Segments:   s.Segments,
		Sigma:      s.Sigma,
		Threshold:  s.Threshold,
		Anomalies:  make([]AnomalyJSON, 0, len(s.Anomalies)),
		Error:      s.Err,
	}
	for _, a := range s.Anomalies {
		out.Anomalies = append(out.Anomalies, AnomalyJSON{
			Index:     a.Index,
			Timestamp: a.Timestamp.UTC().Format(time.RFC3339),
			Value:     a.Value,
			Fitted:    a.Fitted,
			Residual:  a.Residual,
		})
	}
	return out
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Batches:       snap.Batches,
		Anomalous:     snap.Anomalous(),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Sensors:       make([]SensorJSON, 0, len(snap.Sensors)),
		Config: ConfigJSON{
			Source:     snap.Config.Source,
			KSigma:     snap.Config.KSigma,
			Workers:    snap.Config.Workers,
			TimeoutMs:  snap.Config.Timeout.Milliseconds(),
			IntervalMs: snap.Config.Interval.Milliseconds(),
			Broker:     snap.Config.Broker,
			HTTPAddr:   snap.Config.HTTPAddr,
		},
	}
	if !snap.LastBatch.IsZero() {
		inner.LastBatch = snap.LastBatch.UTC().Format(time.RFC3339)
	}
	for _, s := range snap.Sensors {
		inner.Sensors = append(inner.Sensors, buildSensor(s))
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatSensorJSON returns the JSON for a single sensor.
func FormatSensorJSON(s SensorStatus) []byte {
	data, _ := json.MarshalIndent(buildSensor(s), "", "  ")
	return data
}
