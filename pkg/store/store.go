// Package store persists the tenant-scoped governance records: prompts,
// evidence, candidate outputs and their children, policies and the audit
// chain. Two backends are provided: SQL (Postgres with pgvector, or SQLite
// for lite mode) and an in-memory store for tests and single-process use.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a tenant-scoped lookup has no match.
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadyExists is returned when an immutable record is written twice.
	ErrAlreadyExists = errors.New("store: record already exists")
	// ErrConflict is returned when a uniqueness constraint rejects a write,
	// e.g. two audit events claiming the same sequence for one tenant.
	ErrConflict = errors.New("store: conflicting write")
)

// Dialect selects SQL flavour differences between Postgres and SQLite.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return 0, fmt.Errorf("store: unsupported driver %q", driver)
	}
}

func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

// Rebind rewrites ? placeholders into $n for Postgres.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqliteTime is fixed width so that text ordering matches time ordering.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

func (d Dialect) timeArg(t time.Time) any {
	if d == SQLite {
		return t.UTC().Format(sqliteTime)
	}
	return t.UTC()
}

// scanTime accepts the representations both drivers hand back for a
// timestamp column.
type scanTime struct {
	Time time.Time
}

func (s *scanTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		s.Time = time.Time{}
		return nil
	case time.Time:
		s.Time = v.UTC()
		return nil
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	default:
		return fmt.Errorf("store: cannot scan %T into time", src)
	}
}

func (s *scanTime) parse(v string) error {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			s.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("store: unparseable time %q", v)
}

// isUniqueViolation reports whether err is a unique-constraint failure
// from either supported driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// EncodeVector renders v in pgvector text form, e.g. "[0.1,0.2]".
func EncodeVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*8 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// DecodeVector parses the pgvector text form.
func DecodeVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return []float32{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("store: bad vector element %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
