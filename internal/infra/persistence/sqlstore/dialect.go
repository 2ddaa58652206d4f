package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"annotprop/internal/infra/persistence/sqlbundle"
)

// Dialect captures the few places where the SQL backends disagree.
type Dialect struct {
	Name string
	// Numbered selects $1-style placeholders instead of '?'.
	Numbered bool
	// UnixMicro stores timestamps as integer microseconds since the epoch.
	UnixMicro bool
}

// Built-in dialects.
var (
	SQLite   = Dialect{Name: "sqlite", UnixMicro: true}
	Postgres = Dialect{Name: "postgres", Numbered: true}
)

// Rebind rewrites '?' placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d Dialect) encodeTime(t time.Time) any {
	if d.UnixMicro {
		return t.UnixMicro()
	}
	return t.UTC()
}

// timeValue scans either representation back into a UTC time.
type timeValue struct {
	t time.Time
}

func (v *timeValue) Scan(src any) error {
	switch x := src.(type) {
	case nil:
		v.t = time.Time{}
	case int64:
		v.t = time.UnixMicro(x).UTC()
	case time.Time:
		v.t = x.UTC()
	case string:
		return v.parse(x)
	case []byte:
		return v.parse(string(x))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
	return nil
}

func (v *timeValue) parse(s string) error {
	if micros, err := strconv.ParseInt(s, 10, 64); err == nil {
		v.t = time.UnixMicro(micros).UTC()
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	v.t = t.UTC()
	return nil
}

// DDL returns the schema bundle for the dialect.
func (d Dialect) DDL() string {
	if d.Numbered {
		return sqlbundle.Postgres()
	}
	return sqlbundle.SQLite()
}

// Execer is the subset of *sql.DB used to apply DDL.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ApplyDDL executes every statement of ddl in order.
func ApplyDDL(ctx context.Context, db Execer, ddl string) error {
	for _, stmt := range sqlbundle.SplitStatements(ddl) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// placeholders returns n comma-separated '?' markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
