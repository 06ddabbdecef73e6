// Package config loads the anomaly-sensor configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/anomaly-sensor/internal/changepoint"
	"github.com/sweeney/anomaly-sensor/internal/pipeline"
	"github.com/sweeney/anomaly-sensor/internal/series"
)

// Source kinds.
const (
	SourcePostgres = "postgres"
	SourceSQLite   = "sqlite"
	SourceS3       = "s3"
)

// Environment variables that override secrets in the file.
const (
	EnvS3AccessKey = "S3_ACCESS_KEY"
	EnvS3SecretKey = "S3_SECRET_KEY"
	EnvDatabaseURL = "DATABASE_URL"
)

// Config is the full configuration of the command.
type Config struct {
	Detection   Detection     `yaml:"detection"`
	Source      Source        `yaml:"source"`
	Sensors     []string      `yaml:"sensors"`
	Workers     int           `yaml:"workers"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
	MQTT        MQTT          `yaml:"mqtt"`
	RemoteWrite RemoteWrite   `yaml:"remote_write"`
	HTTP        string        `yaml:"http"`
	AlarmPin    int           `yaml:"alarm_pin"`
}

// Detection holds the segmentation and threshold knobs.
type Detection struct {
	KSigma       float64 `yaml:"k_sigma"`
	Cost         string  `yaml:"cost"`
	MinPenalty   float64 `yaml:"min_penalty"`
	PenaltyScale float64 `yaml:"penalty_scale"`
	MinSize      int     `yaml:"min_size"`
	Jump         int     `yaml:"jump"`
}

// Source selects where series are read from.
type Source struct {
	Kind string `yaml:"kind"`
	DSN  string `yaml:"dsn"`
	From string `yaml:"from"`
	To   string `yaml:"to"`
	S3   S3     `yaml:"s3"`
}

// S3 configures the CSV object-store source.
type S3 struct {
	Endpoint     string   `yaml:"endpoint"`
	Region       string   `yaml:"region"`
	Bucket       string   `yaml:"bucket"`
	AccessKeyID  string   `yaml:"access_key_id"`
	SecretKey    string   `yaml:"secret_key"`
	MappingKey   string   `yaml:"mapping_key"`
	Prefixes     []string `yaml:"prefixes"`
	UsePathStyle bool     `yaml:"use_path_style"`
}

// MQTT configures report publishing. An empty broker disables it.
type MQTT struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Buffer   int    `yaml:"buffer"`
}

// RemoteWrite configures metric export. An empty URL disables it.
type RemoteWrite struct {
	URL string `yaml:"url"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() Config {
	pc := pipeline.DefaultConfig()
	return Config{
		Detection: Detection{
			KSigma:       pc.KSigma,
			Cost:         string(pc.Cost),
			MinPenalty:   pc.MinPenalty,
			PenaltyScale: pc.PenaltyScale,
			MinSize:      pc.MinSize,
			Jump:         pc.Jump,
		},
		Source: Source{
			Kind: SourcePostgres,
			S3: S3{
				Region:       "us-east-1",
				UsePathStyle: true,
			},
		},
		Workers: pipeline.DefaultWorkers,
		Timeout: 30 * time.Second,
		MQTT: MQTT{
			ClientID: "anomaly-sensor",
			Buffer:   100,
		},
	}
}

// Load reads path over Defaults. Unknown fields are rejected. An empty
// path returns Defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	if err := decode(f, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML text over Defaults.
func Parse(text string) (Config, error) {
	cfg := Defaults()
	if err := decode(strings.NewReader(text), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides secrets from the environment. lookup is typically
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvS3AccessKey); ok && v != "" {
		c.Source.S3.AccessKeyID = v
	}
	if v, ok := lookup(EnvS3SecretKey); ok && v != "" {
		c.Source.S3.SecretKey = v
	}
	if v, ok := lookup(EnvDatabaseURL); ok && v != "" && c.Source.Kind == SourcePostgres {
		c.Source.DSN = v
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	d := c.Detection
	if !(d.KSigma > 0) || math.IsInf(d.KSigma, 0) {
		return fmt.Errorf("detection.k_sigma must be > 0, got %v", d.KSigma)
	}
	if _, err := changepoint.ParseCostModel(d.Cost); err != nil {
		return fmt.Errorf("detection.cost: %w", err)
	}
	if d.MinPenalty < 0 {
		return fmt.Errorf("detection.min_penalty must be >= 0, got %v", d.MinPenalty)
	}
	if d.PenaltyScale < 0 {
		return fmt.Errorf("detection.penalty_scale must be >= 0, got %v", d.PenaltyScale)
	}
	if d.MinSize < 1 {
		return fmt.Errorf("detection.min_size must be >= 1, got %d", d.MinSize)
	}
	if d.Jump < 1 {
		return fmt.Errorf("detection.jump must be >= 1, got %d", d.Jump)
	}

	switch c.Source.Kind {
	case SourcePostgres, SourceSQLite:
	case SourceS3:
		if c.Source.S3.Bucket == "" {
			return fmt.Errorf("source.s3.bucket is required")
		}
		if c.Source.S3.MappingKey == "" {
			return fmt.Errorf("source.s3.mapping_key is required")
		}
	default:
		return fmt.Errorf("source.kind must be postgres, sqlite or s3, got %q", c.Source.Kind)
	}
	if _, _, err := c.Window(); err != nil {
		return err
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %v", c.Timeout)
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval must be >= 0, got %v", c.Interval)
	}
	if c.MQTT.Buffer < 1 {
		return fmt.Errorf("mqtt.buffer must be >= 1, got %d", c.MQTT.Buffer)
	}
	if c.AlarmPin < 0 {
		return fmt.Errorf("alarm_pin must be >= 0, got %d", c.AlarmPin)
	}
	return nil
}

// Window parses the optional source time window. Zero times mean unbounded.
func (c Config) Window() (from, to time.Time, err error) {
	if s := strings.TrimSpace(c.Source.From); s != "" {
		if from, err = series.ParseTimestamp(s); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("source.from: %w", err)
		}
	}
	if s := strings.TrimSpace(c.Source.To); s != "" {
		if to, err = series.ParseTimestamp(s); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("source.to: %w", err)
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("source window ends before it starts: %s > %s", c.Source.From, c.Source.To)
	}
	return from, to, nil
}

// Pipeline returns the detection settings for the orchestrator.
func (c Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		KSigma:       c.Detection.KSigma,
		Cost:         changepoint.CostModel(c.Detection.Cost),
		MinPenalty:   c.Detection.MinPenalty,
		PenaltyScale: c.Detection.PenaltyScale,
		MinSize:      c.Detection.MinSize,
		Jump:         c.Detection.Jump,
		Timeout:      c.Timeout,
	}
}

// S3Config returns the object-store loader settings.
func (c Config) S3Config() series.S3Config {
	s := c.Source.S3
	return series.S3Config{
		Endpoint:     s.Endpoint,
		Region:       s.Region,
		Bucket:       s.Bucket,
		AccessKeyID:  s.AccessKeyID,
		SecretKey:    s.SecretKey,
		UsePathStyle: s.UsePathStyle,
		MappingKey:   s.MappingKey,
		Prefixes:     s.Prefixes,
	}
}
