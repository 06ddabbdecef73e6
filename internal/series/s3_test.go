package series

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 serves objects from memory.
type fakeS3 struct {
	objects map[string]string
	listErr error
	gets    []string
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := &s3.ListObjectsV2Output{}
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(in.Key)
	f.gets = append(f.gets, key)
	body, ok := f.objects[key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]string{
		"mapping/sensors.csv": "sensor_name;sensor_uuid\nboiler-flow;uuid-1\nboiler-return;uuid-2\n",
		"data/2026-01/a.csv": "timestamp;sensor_uuid;sensor_value\n" +
			"2026-01-01 00:02:00;uuid-1;5\n" +
			"2026-01-01 00:00:00;uuid-1;1\n" +
			"2026-01-01 00:00:00;uuid-2;100\n",
		"data/2026-01/b.csv": "timestamp;sensor_uuid;sensor_value\n" +
			"2026-01-01 00:01:00;uuid-1;3\n",
		"data/2026-01/readme.txt": "not a csv",
	}}
}

func s3Config() S3Config {
	return S3Config{Bucket: "sensors", MappingKey: "mapping/sensors.csv", Prefixes: []string{"data/"}}
}

func TestS3LoaderMergesAndSorts(t *testing.T) {
	fake := newFakeS3()
	l, err := NewS3Loader(fake, s3Config())
	if err != nil {
		t.Fatalf("NewS3Loader: %v", err)
	}
	s, err := l.Load(context.Background(), "boiler-flow")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []float64{1, 3, 5}
	got := s.Values()
	if len(got) != len(want) {
		t.Fatalf("values: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("value %d: got %v, want %v", i, got[i], want[i])
		}
	}
	if err := s.Validate(); err != nil {
		t.Errorf("loaded series should validate: %v", err)
	}
	for _, k := range fake.gets {
		if strings.HasSuffix(k, ".txt") {
			t.Errorf("non-csv object fetched: %s", k)
		}
	}
}

func TestS3LoaderUnknownSensorIsEmpty(t *testing.T) {
	l, _ := NewS3Loader(newFakeS3(), s3Config())
	s, err := l.Load(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty series, got %d", s.Len())
	}
}

func TestS3LoaderBadValue(t *testing.T) {
	fake := newFakeS3()
	fake.objects["data/2026-01/c.csv"] = "timestamp;sensor_uuid;sensor_value\n2026-01-01 00:03:00;uuid-1;abc\n"
	l, _ := NewS3Loader(fake, s3Config())
	_, err := l.Load(context.Background(), "boiler-flow")
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestS3LoaderMissingColumn(t *testing.T) {
	fake := newFakeS3()
	fake.objects["mapping/sensors.csv"] = "name;id\nboiler-flow;uuid-1\n"
	l, _ := NewS3Loader(fake, s3Config())
	_, err := l.Load(context.Background(), "boiler-flow")
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestS3LoaderListError(t *testing.T) {
	fake := newFakeS3()
	fake.listErr = errors.New("access denied")
	l, _ := NewS3Loader(fake, s3Config())
	if _, err := l.Load(context.Background(), "boiler-flow"); err == nil {
		t.Error("expected list error")
	}
}

func TestS3LoaderMissingMapping(t *testing.T) {
	fake := newFakeS3()
	delete(fake.objects, "mapping/sensors.csv")
	l, _ := NewS3Loader(fake, s3Config())
	_, err := l.Load(context.Background(), "boiler-flow")
	var nsk *s3types.NoSuchKey
	if !errors.As(err, &nsk) {
		t.Errorf("expected NoSuchKey, got %v", err)
	}
}

func TestNewS3LoaderValidation(t *testing.T) {
	if _, err := NewS3Loader(nil, s3Config()); err == nil {
		t.Error("expected error for nil client")
	}
	cfg := s3Config()
	cfg.Bucket = ""
	if _, err := NewS3Loader(newFakeS3(), cfg); err == nil {
		t.Error("expected error for missing bucket")
	}
	cfg = s3Config()
	cfg.MappingKey = ""
	if _, err := NewS3Loader(newFakeS3(), cfg); err == nil {
		t.Error("expected error for missing mapping key")
	}
}
