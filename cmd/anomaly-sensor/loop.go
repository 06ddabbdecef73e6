package main

import (
	"context"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/anomaly-sensor/internal/gpio"
	"github.com/sweeney/anomaly-sensor/internal/mqtt"
	"github.com/sweeney/anomaly-sensor/internal/pipeline"
	"github.com/sweeney/anomaly-sensor/internal/status"
)

// batchRunner is satisfied by *pipeline.Pipeline.
type batchRunner interface {
	RunBatch(ctx context.Context, sensors []string, workers int) []pipeline.Outcome
}

// pusher is satisfied by *remotewrite.Writer.
type pusher interface {
	Push(ctx context.Context, now time.Time, outcomes []pipeline.Outcome) error
}

// app holds everything a batch fans its outcomes out to.
type app struct {
	runner     batchRunner
	sensors    []string
	workers    int
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus // nil when MQTT is disabled
	writer     pusher                // nil when remote write is disabled
	tracker    *status.Tracker
	alarm      gpio.Indicator
	now        func() time.Time
}

// runBatch processes every sensor once and publishes the outcomes.
// Output failures are logged and never abort the batch.
func (a *app) runBatch(ctx context.Context) []pipeline.Outcome {
	outcomes := a.runner.RunBatch(ctx, a.sensors, a.workers)
	at := a.now()

	anomalous := false
	for _, o := range outcomes {
		if len(o.Result.Anomalies) > 0 {
			anomalous = true
		}
		if err := a.publisher.PublishReport(o); err != nil {
			log.Printf("publish error: sensor %s: %v", o.Sensor, err)
		}
	}
	if err := a.publisher.PublishSystem(mqtt.BatchEvent(at, outcomes)); err != nil {
		log.Printf("batch event publish error: %v", err)
	}

	if a.writer != nil {
		if err := a.writer.Push(ctx, at, outcomes); err != nil {
			log.Printf("remote write error: %v", err)
		}
	}

	if a.tracker != nil {
		a.tracker.Record(at, outcomes)
		if a.mqttStatus != nil {
			a.tracker.SetMQTTConnected(a.mqttStatus.IsConnected())
		}
	}

	if err := a.alarm.Set(anomalous); err != nil {
		log.Printf("alarm error: %v", err)
	}
	return outcomes
}

// daemon runs one batch straight away, then hands over to runLoop.
func daemon(ctx context.Context, a *app, tick <-chan time.Time, sig <-chan os.Signal) error {
	a.runBatch(ctx)
	return runLoop(ctx, a, tick, sig)
}

// runLoop runs a batch per tick until a signal arrives.
func runLoop(ctx context.Context, a *app, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: a.now(),
				Event:     mqtt.EventShutdown,
				Reason:    signalName,
				Retained:  true,
			}
			if err := a.publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			if err := a.alarm.Set(false); err != nil {
				log.Printf("alarm error: %v", err)
			}
			return nil

		case <-tick:
			a.runBatch(ctx)
		}
	}
}
