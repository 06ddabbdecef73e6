package series

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// csvDelimiter is the field separator used by the sensor CSV exports.
const csvDelimiter = ';'

// S3API is the subset of the S3 client used by S3Loader.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config configures the S3 (or MinIO) series source.
type S3Config struct {
	Endpoint     string // for S3-compatible services; empty uses AWS
	Region       string
	Bucket       string
	AccessKeyID  string
	SecretKey    string
	UsePathStyle bool

	// MappingKey is the object holding sensor_name;sensor_uuid rows.
	MappingKey string
	// Prefixes are scanned for data objects ending in .csv.
	Prefixes []string
}

// NewS3Client builds an S3 client from cfg. Static credentials are used when
// both keys are set; otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// S3Loader reads series from CSV exports in a bucket. Data objects carry
// timestamp;sensor_uuid;sensor_value rows, and the mapping object resolves
// sensor names to UUIDs.
type S3Loader struct {
	client S3API
	cfg    S3Config
}

// NewS3Loader creates a loader over client.
func NewS3Loader(client S3API, cfg S3Config) (*S3Loader, error) {
	if client == nil {
		return nil, errors.New("s3 loader: client is nil")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3 loader: bucket is required")
	}
	if cfg.MappingKey == "" {
		return nil, errors.New("s3 loader: mapping key is required")
	}
	return &S3Loader{client: client, cfg: cfg}, nil
}

// Load implements Loader. Rows from every data object are merged and
// stably sorted by timestamp.
func (l *S3Loader) Load(ctx context.Context, sensor string) (Series, error) {
	mapping, err := l.readMapping(ctx)
	if err != nil {
		return Series{}, err
	}
	s := Series{Sensor: sensor}
	id, ok := mapping[sensor]
	if !ok {
		return s, nil
	}

	keys, err := l.listDataKeys(ctx)
	if err != nil {
		return Series{}, err
	}
	for _, key := range keys {
		pts, err := l.readData(ctx, key, id)
		if err != nil {
			return Series{}, err
		}
		s.Points = append(s.Points, pts...)
	}
	sort.SliceStable(s.Points, func(i, j int) bool {
		return s.Points[i].Timestamp.Before(s.Points[j].Timestamp)
	})
	return s, nil
}

func (l *S3Loader) readMapping(ctx context.Context) (map[string]string, error) {
	records, err := l.readCSV(ctx, l.cfg.MappingKey)
	if err != nil {
		return nil, err
	}
	cols, err := columnIndex(records, l.cfg.MappingKey, "sensor_name", "sensor_uuid")
	if err != nil {
		return nil, err
	}
	mapping := make(map[string]string, len(records))
	for _, rec := range records[1:] {
		mapping[rec[cols[0]]] = rec[cols[1]]
	}
	return mapping, nil
}

func (l *S3Loader) listDataKeys(ctx context.Context) ([]string, error) {
	var keys []string
	for _, prefix := range l.cfg.Prefixes {
		p := s3.NewListObjectsV2Paginator(l.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(l.cfg.Bucket),
			Prefix: aws.String(prefix),
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("list %q: %w", prefix, err)
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				if strings.HasSuffix(key, ".csv") {
					keys = append(keys, key)
				}
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *S3Loader) readData(ctx context.Context, key, id string) ([]Point, error) {
	records, err := l.readCSV(ctx, key)
	if err != nil {
		return nil, err
	}
	cols, err := columnIndex(records, key, "timestamp", "sensor_uuid", "sensor_value")
	if err != nil {
		return nil, err
	}
	var pts []Point
	for i, rec := range records[1:] {
		if rec[cols[1]] != id {
			continue
		}
		ts, err := ParseTimestamp(rec[cols[0]])
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrInvalid, key, i+2, err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[cols[2]]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: bad value %q", ErrInvalid, key, i+2, rec[cols[2]])
		}
		pts = append(pts, Point{Timestamp: ts, Value: v})
	}
	return pts, nil
}

func (l *S3Loader) readCSV(ctx context.Context, key string) ([][]string, error) {
	resp, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	r := csv.NewReader(resp.Body)
	r.Comma = csvDelimiter
	r.TrimLeadingSpace = true
	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", key, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// columnIndex locates the named columns in the header row.
func columnIndex(records [][]string, key string, names ...string) ([]int, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s: missing header", ErrInvalid, key)
	}
	header := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		header[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	idx := make([]int, len(names))
	for i, n := range names {
		c, ok := header[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s: missing column %q", ErrInvalid, key, n)
		}
		idx[i] = c
	}
	return idx, nil
}
