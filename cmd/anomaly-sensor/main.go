// Command anomaly-sensor segments sensor series at change-points, fits a
// line per segment and reports rows whose residual exceeds k standard
// deviations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/anomaly-sensor/internal/config"
	"github.com/sweeney/anomaly-sensor/internal/gpio"
	"github.com/sweeney/anomaly-sensor/internal/mqtt"
	"github.com/sweeney/anomaly-sensor/internal/pipeline"
	"github.com/sweeney/anomaly-sensor/internal/remotewrite"
	"github.com/sweeney/anomaly-sensor/internal/series"
	"github.com/sweeney/anomaly-sensor/internal/status"
	"github.com/sweeney/anomaly-sensor/internal/web"
)

func main() {
	cfg, err := loadConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// loadConfig reads the config file named by -config, then environment
// secrets, then any flags given explicitly. Positional args name sensors.
// The environment is applied once the source kind is final, so DATABASE_URL
// only ever lands in a postgres DSN.
func loadConfig(args []string, lookup func(string) (string, bool)) (config.Config, error) {
	d := config.Defaults()
	fs := flag.NewFlagSet("anomaly-sensor", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: anomaly-sensor [flags] [sensor ...]\n")
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "YAML configuration file")
	source := fs.String("source", d.Source.Kind, "series source: postgres, sqlite or s3")
	dsn := fs.String("dsn", "", "database URL (postgres) or file path (sqlite)")
	kSigma := fs.Float64("k-sigma", d.Detection.KSigma, "anomaly threshold in residual standard deviations")
	workers := fs.Int("workers", d.Workers, "sensors processed in parallel")
	timeout := fs.Duration("timeout", d.Timeout, "wall-clock bound per sensor run (0 to disable)")
	interval := fs.Duration("interval", d.Interval, "re-scan period (0 runs once and exits)")
	broker := fs.String("broker", "", "MQTT broker address (empty to disable)")
	httpAddr := fs.String("http", "", "HTTP status address (empty to disable)")
	remote := fs.String("remote-write", "", "Prometheus remote-write URL (empty to disable)")
	alarmPin := fs.Int("alarm-pin", 0, "BCM pin driven while anomalies are present (0 to disable)")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}

	dsnSet := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			cfg.Source.Kind = *source
		case "dsn":
			dsnSet = true
		case "k-sigma":
			cfg.Detection.KSigma = *kSigma
		case "workers":
			cfg.Workers = *workers
		case "timeout":
			cfg.Timeout = *timeout
		case "interval":
			cfg.Interval = *interval
		case "broker":
			cfg.MQTT.Broker = *broker
		case "http":
			cfg.HTTP = *httpAddr
		case "remote-write":
			cfg.RemoteWrite.URL = *remote
		case "alarm-pin":
			cfg.AlarmPin = *alarmPin
		}
	})
	cfg.ApplyEnv(lookup)
	if dsnSet {
		cfg.Source.DSN = *dsn
	}
	if fs.NArg() > 0 {
		cfg.Sensors = fs.Args()
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if len(cfg.Sensors) == 0 {
		return config.Config{}, fmt.Errorf("no sensors given")
	}
	return cfg, nil
}

func run(cfg config.Config) error {
	ctx := context.Background()

	loader, closeLoader, err := openLoader(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init source: %w", err)
	}
	defer closeLoader()

	p, err := pipeline.New(loader, cfg.Pipeline())
	if err != nil {
		return err
	}

	// Initialize MQTT
	var publisher mqtt.Publisher = mqtt.Nop{}
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		rp, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Buffer:   cfg.MQTT.Buffer,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer rp.Close()
		publisher, mqttStatus = rp, rp
	}

	// Initialize alarm output
	var alarm gpio.Indicator = gpio.Nop{}
	if cfg.AlarmPin > 0 {
		ind, err := gpio.NewRealIndicator(cfg.AlarmPin)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer ind.Close()
		alarm = ind
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		Source:   cfg.Source.Kind,
		KSigma:   cfg.Detection.KSigma,
		Workers:  cfg.Workers,
		Timeout:  cfg.Timeout,
		Interval: cfg.Interval,
		Broker:   cfg.MQTT.Broker,
		HTTPAddr: cfg.HTTP,
	})

	a := &app{
		runner:     p,
		sensors:    cfg.Sensors,
		workers:    cfg.Workers,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		alarm:      alarm,
		now:        time.Now,
	}
	if cfg.RemoteWrite.URL != "" {
		a.writer = remotewrite.New(cfg.RemoteWrite.URL, nil)
	}

	if cfg.Interval == 0 {
		a.runBatch(ctx)
		return nil
	}

	// Signals are captured from here on, including during the first batch.
	sigCh, stopSignals := notifyShutdown()
	defer stopSignals()

	startup := mqtt.SystemEvent{Timestamp: time.Now(), Event: mqtt.EventStartup, Retained: true}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP status server
	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP)
	}

	log.Printf("started: source=%s sensors=%d workers=%d interval=%v k_sigma=%g",
		cfg.Source.Kind, len(cfg.Sensors), cfg.Workers, cfg.Interval, cfg.Detection.KSigma)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	return daemon(ctx, a, ticker.C, sigCh)
}

// notifyShutdown routes SIGINT and SIGTERM to the returned channel.
func notifyShutdown() (<-chan os.Signal, func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return sigCh, func() { signal.Stop(sigCh) }
}

// openLoader builds the configured series source and its cleanup.
func openLoader(ctx context.Context, cfg config.Config) (series.Loader, func() error, error) {
	switch cfg.Source.Kind {
	case config.SourceS3:
		s3cfg := cfg.S3Config()
		client, err := series.NewS3Client(ctx, s3cfg)
		if err != nil {
			return nil, nil, err
		}
		l, err := series.NewS3Loader(client, s3cfg)
		if err != nil {
			return nil, nil, err
		}
		return l, func() error { return nil }, nil
	default:
		dialect := series.DialectPostgres
		if cfg.Source.Kind == config.SourceSQLite {
			dialect = series.DialectSQLite
		}
		db, err := series.OpenSQL(dialect, cfg.Source.DSN)
		if err != nil {
			return nil, nil, err
		}
		l, err := series.NewSQLLoader(db, dialect)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		// Validate has already parsed the window.
		l.From, l.To, _ = cfg.Window()
		return l, db.Close, nil
	}
}
