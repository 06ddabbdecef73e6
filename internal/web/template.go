package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/anomaly-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"ts": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format(time.RFC3339)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Anomaly Sensor</title>
<style>
body { font-family: monospace; max-width: 900px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.ok { color: green; }
.alarm { color: red; font-weight: bold; }
.failed { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Anomaly Sensor <span class="{{if .Anomalous}}alarm{{else}}ok{{end}}">{{if .Anomalous}}ANOMALY{{else}}OK{{end}}</span></h1>

<h2>Sensors</h2>
<table>
<tr><th>Sensor</th><th>Last run</th><th>Rows</th><th>Segments</th><th>Sigma</th><th>Threshold</th><th>Anomalies</th></tr>
{{range .Sensors}}<tr>
<td><a href="/sensors/{{.Sensor}}">{{.Sensor}}</a></td>
<td>{{ts .LastRun}}</td>
{{if .Failed}}<td colspan="5" class="failed">{{.Err}}</td>
{{else}}<td>{{.Rows}}</td>
<td>{{.Segments}}</td>
<td>{{printf "%.4g" .Sigma}}</td>
<td>{{printf "%.4g" .Threshold}}</td>
<td class="{{if .Anomalies}}alarm{{else}}ok{{end}}">{{len .Anomalies}}</td>
{{end}}</tr>
{{else}}<tr><td colspan="7">no runs yet</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{ts .StartTime}}</td></tr>
<tr><th>Batches</th><td>{{.Batches}} (last {{ts .LastBatch}})</td></tr>
<tr><th>Source</th><td>{{.Config.Source}}</td></tr>
<tr><th>k_sigma</th><td>{{.Config.KSigma}}</td></tr>
<tr><th>Workers</th><td>{{.Config.Workers}}</td></tr>
<tr><th>Interval</th><td>{{if eq .Config.Interval 0}}run once{{else}}{{.Config.Interval}}{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
