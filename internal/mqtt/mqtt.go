// Package mqtt publishes anomaly reports and lifecycle events to a broker.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/anomaly-sensor/internal/pipeline"
)

// TopicReports carries one message per sensor run.
const TopicReports = "sensors/anomaly/reports"

// TopicSystem carries lifecycle events and the last-will message.
const TopicSystem = "sensors/anomaly/system"

// Lifecycle event names.
const (
	EventStartup  = "STARTUP"
	EventShutdown = "SHUTDOWN"
	EventBatch    = "BATCH"
	EventOffline  = "OFFLINE"
)

// Publisher publishes run outcomes to MQTT.
type Publisher interface {
	// PublishReport sends the report for one sensor run.
	// A failure is returned but never aborts processing.
	PublishReport(o pipeline.Outcome) error

	// PublishSystem sends a lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a lifecycle event (startup, shutdown, batch summary).
type SystemEvent struct {
	Timestamp time.Time
	Event     string
	Reason    string // signal name on shutdown
	Sensors   int    // batch only
	Failed    int    // batch only
	Anomalies int    // batch only
	Retained  bool
}

// ReportPayload is the message published on TopicReports.
type ReportPayload struct {
	Report Report `json:"report"`
}

// Report describes one sensor run.
type Report struct {
	Timestamp string          `json:"timestamp"`
	Sensor    string          `json:"sensor"`
	Rows      int             `json:"rows"`
	Segments  int             `json:"segments"`
	Penalty   float64         `json:"penalty"`
	Sigma     float64         `json:"sigma"`
	Threshold float64         `json:"threshold"`
	KSigma    float64         `json:"k_sigma"`
	Anomalies []AnomalyRecord `json:"anomalies"`
	Error     string          `json:"error,omitempty"`
}

// AnomalyRecord is one flagged row.
type AnomalyRecord struct {
	Index     int     `json:"index"`
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
	Fitted    float64 `json:"fitted"`
	Residual  float64 `json:"residual"`
}

// NewReport converts a batch outcome to its wire form.
func NewReport(o pipeline.Outcome) Report {
	res := o.Result
	r := Report{
		Timestamp: o.Started.UTC().Format(time.RFC3339),
		Sensor:    o.Sensor,
		Rows:      res.Series.Len(),
		Segments:  len(res.Segments),
		Penalty:   res.Penalty,
		Sigma:     res.Sigma,
		Threshold: res.Threshold,
		KSigma:    res.KSigma,
		Anomalies: make([]AnomalyRecord, 0, len(res.Records)),
	}
	for _, a := range res.Records {
		r.Anomalies = append(r.Anomalies, AnomalyRecord{
			Index:     a.Index,
			Timestamp: a.Timestamp.UTC().Format(time.RFC3339),
			Value:     a.Value,
			Fitted:    a.Fitted,
			Residual:  a.Residual,
		})
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return r
}

// FormatReportPayload creates the JSON payload for a sensor run.
func FormatReportPayload(o pipeline.Outcome) ([]byte, error) {
	return json.Marshal(ReportPayload{Report: NewReport(o)})
}

// SystemPayload is the message published on TopicSystem.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
	Sensors   int    `json:"sensors,omitempty"`
	Failed    int    `json:"failed,omitempty"`
	Anomalies int    `json:"anomalies,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event. A zero
// Timestamp is left out of the payload.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	var ts string
	if !event.Timestamp.IsZero() {
		ts = event.Timestamp.UTC().Format(time.RFC3339)
	}
	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: ts,
			Event:     event.Event,
			Reason:    event.Reason,
			Sensors:   event.Sensors,
			Failed:    event.Failed,
			Anomalies: event.Anomalies,
		},
	}
	return json.Marshal(payload)
}

// WillPayload is the retained OFFLINE event the broker publishes when the
// client disappears. It carries no timestamp.
func WillPayload() ([]byte, error) {
	return FormatSystemPayload(SystemEvent{Event: EventOffline})
}

// BatchEvent summarises a batch as a lifecycle event.
func BatchEvent(now time.Time, outcomes []pipeline.Outcome) SystemEvent {
	ev := SystemEvent{Timestamp: now, Event: EventBatch, Sensors: len(outcomes)}
	for _, o := range outcomes {
		if o.Failed() {
			ev.Failed++
		}
		ev.Anomalies += len(o.Result.Anomalies)
	}
	return ev
}

// Nop is a Publisher for deployments without a broker.
type Nop struct{}

// PublishReport does nothing.
func (Nop) PublishReport(pipeline.Outcome) error { return nil }

// PublishSystem does nothing.
func (Nop) PublishSystem(SystemEvent) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }
