package series

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// OpenSQL opens a database handle for the dialect. The handle is not pinged.
func OpenSQL(dialect Dialect, dsn string) (*sql.DB, error) {
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// an in-memory sqlite database lives and dies with its connection
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// SQLLoader reads a sensor's series from the sensor_data and sensor_mapping
// tables:
//
//	sensor_mapping(sensor_name, sensor_uuid)
//	sensor_data(timestamp, sensor_uuid, sensor_value)
//
// The schema is owned elsewhere; the loader only reads.
type SQLLoader struct {
	db      *sql.DB
	dialect Dialect

	// From and To bound the query window when both are set.
	From time.Time
	To   time.Time
}

// NewSQLLoader creates a loader over an open handle.
func NewSQLLoader(db *sql.DB, dialect Dialect) (*SQLLoader, error) {
	if db == nil {
		return nil, fmt.Errorf("sql loader: db is nil")
	}
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("sql loader: unsupported dialect %q", dialect)
	}
	return &SQLLoader{db: db, dialect: dialect}, nil
}

// Load implements Loader.
func (l *SQLLoader) Load(ctx context.Context, sensor string) (Series, error) {
	query, args := l.query(sensor)
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Series{}, fmt.Errorf("query sensor %q: %w", sensor, err)
	}
	defer rows.Close()

	s := Series{Sensor: sensor}
	for rows.Next() {
		var ts timestampScanner
		var v float64
		if err := rows.Scan(&ts, &v); err != nil {
			return Series{}, fmt.Errorf("scan sensor %q row %d: %w", sensor, len(s.Points), err)
		}
		s.Points = append(s.Points, Point{Timestamp: ts.t, Value: v})
	}
	if err := rows.Err(); err != nil {
		return Series{}, fmt.Errorf("read sensor %q: %w", sensor, err)
	}
	return s, nil
}

func (l *SQLLoader) windowed() bool {
	return !l.From.IsZero() && !l.To.IsZero()
}

// sqliteInstant normalizes a stored sqlite timestamp to a Julian day, so
// text in either ISO form and integer unix seconds order as instants.
const sqliteInstant = `julianday(CASE typeof(d.timestamp) WHEN 'integer' THEN datetime(d.timestamp, 'unixepoch') ELSE d.timestamp END)`

func (l *SQLLoader) query(sensor string) (string, []any) {
	ts := "d.timestamp"
	if l.dialect == DialectSQLite {
		ts = sqliteInstant
	}

	var b strings.Builder
	b.WriteString(`SELECT d.timestamp, d.sensor_value
FROM sensor_data d
JOIN sensor_mapping m ON d.sensor_uuid = m.sensor_uuid
WHERE m.sensor_name = `)
	b.WriteString(l.placeholder(1))
	args := []any{sensor}
	if l.windowed() {
		fmt.Fprintf(&b, "\n  AND %s BETWEEN %s AND %s", ts, l.boundExpr(2), l.boundExpr(3))
		args = append(args, l.bound(l.From), l.bound(l.To))
	}
	b.WriteString("\nORDER BY " + ts)
	return b.String(), args
}

func (l *SQLLoader) placeholder(n int) string {
	if l.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (l *SQLLoader) boundExpr(n int) string {
	if l.dialect == DialectSQLite {
		return "julianday(" + l.placeholder(n) + ")"
	}
	return l.placeholder(n)
}

// bound renders a window bound in the form boundExpr expects.
func (l *SQLLoader) bound(t time.Time) any {
	if l.dialect == DialectSQLite {
		return t.UTC().Format(sqlTimestampLayout)
	}
	return t
}
