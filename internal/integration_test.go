package internal

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sweeney/anomaly-sensor/internal/gpio"
	"github.com/sweeney/anomaly-sensor/internal/mqtt"
	"github.com/sweeney/anomaly-sensor/internal/pipeline"
	"github.com/sweeney/anomaly-sensor/internal/series"
	"github.com/sweeney/anomaly-sensor/internal/status"
	"github.com/sweeney/anomaly-sensor/internal/web"
)

// TestIntegrationFullFlow runs a batch from an SQLite store through the
// pipeline to the publisher, tracker, alarm and status server.
func TestIntegrationFullFlow(t *testing.T) {
	db, err := series.OpenSQL(series.DialectSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE sensor_mapping (sensor_name TEXT PRIMARY KEY, sensor_uuid TEXT NOT NULL)`,
		`CREATE TABLE sensor_data (timestamp TEXT NOT NULL, sensor_uuid TEXT NOT NULL, sensor_value REAL NOT NULL)`,
		`INSERT INTO sensor_mapping VALUES ('flow', 'u-flow'), ('return', 'u-return'), ('broken', 'u-broken')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	insert := func(id string, i int, v float64) {
		t.Helper()
		ts := start.Add(time.Duration(i) * time.Minute).Format("2006-01-02 15:04:05")
		if _, err := db.Exec(`INSERT INTO sensor_data VALUES (?, ?, ?)`, ts, id, v); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	// flow: a level shift at 40 plus one spike at 70
	for i := 0; i < 100; i++ {
		v := 20 + 0.3*math.Sin(float64(i))
		if i >= 40 {
			v += 15
		}
		if i == 70 {
			v += 25
		}
		insert("u-flow", i, v)
	}
	// return: a clean line
	for i := 0; i < 50; i++ {
		insert("u-return", i, float64(2*i+1))
	}
	// broken: a value that is not a number
	insert("u-broken", 0, 1)
	if _, err := db.Exec(`INSERT INTO sensor_data VALUES (?, 'u-broken', 'abc')`, start.Add(time.Minute).Format("2006-01-02 15:04:05")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	loader, err := series.NewSQLLoader(db, series.DialectSQLite)
	if err != nil {
		t.Fatalf("NewSQLLoader: %v", err)
	}
	p, err := pipeline.New(loader, pipeline.DefaultConfig())
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	p.Logf = t.Logf

	publisher := mqtt.NewFakePublisher()
	tracker := status.NewTracker(start, status.Config{Source: "sqlite", Workers: 2})
	alarm := gpio.NewFakeIndicator()

	sensors := []string{"flow", "return", "broken", "unknown"}
	outcomes := p.RunBatch(context.Background(), sensors, 2)
	anomalous := false
	for _, o := range outcomes {
		if err := publisher.PublishReport(o); err != nil {
			t.Fatalf("publish: %v", err)
		}
		anomalous = anomalous || len(o.Result.Anomalies) > 0
	}
	tracker.Record(start, outcomes)
	if err := alarm.Set(anomalous); err != nil {
		t.Fatalf("alarm: %v", err)
	}

	// flow: the shift is a breakpoint and the spike an anomaly
	flow := outcomes[0]
	if flow.Failed() {
		t.Fatalf("flow failed: %v", flow.Err)
	}
	hasShift := false
	for _, b := range flow.Result.Breakpoints {
		if b == 40 {
			hasShift = true
		}
	}
	if !hasShift {
		t.Errorf("flow: expected a breakpoint at 40, got %v", flow.Result.Breakpoints)
	}
	hasSpike := false
	for _, j := range flow.Result.Anomalies {
		if j == 70 {
			hasSpike = true
		}
	}
	if !hasSpike {
		t.Errorf("flow: expected anomaly at 70, got %v", flow.Result.Anomalies)
	}

	if outcomes[1].Failed() || len(outcomes[1].Result.Anomalies) != 0 {
		t.Errorf("return: got err=%v anomalies=%v", outcomes[1].Err, outcomes[1].Result.Anomalies)
	}
	if !outcomes[2].Failed() {
		t.Error("broken: expected a failure")
	}
	if outcomes[3].Failed() || outcomes[3].Result.Series.Len() != 0 {
		t.Errorf("unknown: expected an empty successful run, got %+v", outcomes[3])
	}

	// MQTT payload for flow carries the spike row
	var payload mqtt.ReportPayload
	if err := json.Unmarshal(publisher.ReportPayloads[0], &payload); err != nil {
		t.Fatalf("invalid report JSON: %v", err)
	}
	if payload.Report.Sensor != "flow" || payload.Report.Rows != 100 {
		t.Errorf("report: got %+v", payload.Report)
	}
	spikeReported := false
	for _, a := range payload.Report.Anomalies {
		if a.Index == 70 && a.Timestamp == "2026-01-01T01:10:00Z" {
			spikeReported = true
		}
	}
	if !spikeReported {
		t.Errorf("spike row missing from report: %+v", payload.Report.Anomalies)
	}
	if payload := string(publisher.ReportPayloads[2]); !json.Valid([]byte(payload)) {
		t.Errorf("broken report is not JSON: %s", payload)
	}

	if !alarm.On() {
		t.Error("alarm should be on")
	}

	// status server reflects the batch
	ts := httptest.NewServer(web.New(":0", tracker).Handler())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/sensors/broken")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	var st status.SensorJSON
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if st.Error == "" {
		t.Error("expected the failure to be visible on the status server")
	}
}
