package series

import (
	"fmt"
	"strings"
	"time"
)

// timestampLayouts are tried in order by ParseTimestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// sqlTimestampLayout is the text form of sqlite window bounds. sqlite's
// date functions keep millisecond precision.
const sqlTimestampLayout = "2006-01-02 15:04:05.000"

// ParseTimestamp parses the timestamp formats found in sensor exports.
// Values without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// timestampScanner accepts whatever the driver hands back for a timestamp
// column: time.Time (lib/pq, typed sqlite columns), text, or unix seconds.
type timestampScanner struct {
	t time.Time
}

func (ts *timestampScanner) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		ts.t = v
	case string:
		t, err := ParseTimestamp(v)
		if err != nil {
			return err
		}
		ts.t = t
	case []byte:
		t, err := ParseTimestamp(string(v))
		if err != nil {
			return err
		}
		ts.t = t
	case int64:
		ts.t = time.Unix(v, 0).UTC()
	case nil:
		return fmt.Errorf("null timestamp")
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
	return nil
}
