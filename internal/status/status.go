// Package status provides a thread-safe tracker of the latest run outcome
// per sensor. It is read by the HTTP handlers and the alarm output.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/anomaly-sensor/internal/pipeline"
)

// Config contains daemon configuration for display.
type Config struct {
	Source   string
	KSigma   float64
	Workers  int
	Timeout  time.Duration
	Interval time.Duration
	Broker   string
	HTTPAddr string
}

// SensorStatus is the latest run of one sensor.
type SensorStatus struct {
	Sensor    string
	LastRun   time.Time
	Duration  time.Duration
	Rows      int
	Segments  int
	Sigma     float64
	Threshold float64
	Anomalies []pipeline.Anomaly
	Err       string
}

// Failed reports whether the latest run failed.
func (s SensorStatus) Failed() bool {
	return s.Err != ""
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Batches       int
	LastBatch     time.Time
	Sensors       []SensorStatus // sorted by name
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Anomalous reports whether any sensor's latest run flagged anomalies.
func (s Snapshot) Anomalous() bool {
	for _, ss := range s.Sensors {
		if len(ss.Anomalies) > 0 {
			return true
		}
	}
	return false
}

// Sensor returns the status of one sensor.
func (s Snapshot) Sensor(name string) (SensorStatus, bool) {
	i := sort.Search(len(s.Sensors), func(i int) bool { return s.Sensors[i].Sensor >= name })
	if i < len(s.Sensors) && s.Sensors[i].Sensor == name {
		return s.Sensors[i], true
	}
	return SensorStatus{}, false
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu            sync.RWMutex
	start         time.Time
	cfg           Config
	mqttConnected bool
	batches       int
	lastBatch     time.Time
	sensors       map[string]SensorStatus
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		start:   startTime,
		cfg:     cfg,
		sensors: make(map[string]SensorStatus),
	}
}

// Record stores the outcomes of a batch. Sensors absent from the batch
// keep their previous status.
func (t *Tracker) Record(at time.Time, outcomes []pipeline.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, o := range outcomes {
		t.sensors[o.Sensor] = fromOutcome(o)
	}
	t.batches++
	t.lastBatch = at
}

func fromOutcome(o pipeline.Outcome) SensorStatus {
	res := o.Result
	s := SensorStatus{
		Sensor:    o.Sensor,
		LastRun:   o.Started,
		Duration:  o.Duration,
		Rows:      res.Series.Len(),
		Segments:  len(res.Segments),
		Sigma:     res.Sigma,
		Threshold: res.Threshold,
		Anomalies: append([]pipeline.Anomaly(nil), res.Records...),
	}
	if o.Err != nil {
		s.Err = o.Err.Error()
	}
	return s
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.mqttConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := Snapshot{
		StartTime:     t.start,
		MQTTConnected: t.mqttConnected,
		Batches:       t.batches,
		LastBatch:     t.lastBatch,
		Sensors:       make([]SensorStatus, 0, len(t.sensors)),
		Config:        t.cfg,
	}
	for _, ss := range t.sensors {
		ss.Anomalies = append([]pipeline.Anomaly(nil), ss.Anomalies...)
		s.Sensors = append(s.Sensors, ss)
	}
	t.mu.RUnlock()

	sort.Slice(s.Sensors, func(i, j int) bool { return s.Sensors[i].Sensor < s.Sensors[j].Sensor })
	s.Now = time.Now()
	return s
}
