// Package sqlstore keeps reservations and watermarks in MySQL or
// PostgreSQL and fans changes out through a Bus.
package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect selects SQL syntax differences.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
)

// ParseDialect accepts driver or dialect names.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "mysql":
		return MySQL, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return "", fmt.Errorf("sqlstore: unknown dialect %q", s)
}

// DriverName is the database/sql driver registered for d.
func (d Dialect) DriverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "mysql"
}

// Rebind rewrites '?' placeholders to '$n' for PostgreSQL. Question marks
// inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for _, r := range query {
		switch {
		case r == '\'':
			quoted = !quoted
			b.WriteRune(r)
		case r == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// nowMillis selects the database clock in epoch milliseconds.
func (d Dialect) nowMillis() string {
	if d == Postgres {
		return "SELECT CAST(EXTRACT(EPOCH FROM clock_timestamp()) * 1000 AS BIGINT)"
	}
	return "SELECT CAST(UNIX_TIMESTAMP(NOW(3)) * 1000 AS SIGNED)"
}

func (d Dialect) forUpdate() string { return " FOR UPDATE" }

// upsertWatermark never lowers last_seen_ms.
func (d Dialect) upsertWatermark() string {
	if d == Postgres {
		return `INSERT INTO watermarks (uid, category, last_seen_ms) VALUES ($1, $2, $3)
ON CONFLICT (uid, category) DO UPDATE SET last_seen_ms = GREATEST(watermarks.last_seen_ms, EXCLUDED.last_seen_ms)`
	}
	return `INSERT INTO watermarks (uid, category, last_seen_ms) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE last_seen_ms = GREATEST(last_seen_ms, VALUES(last_seen_ms))`
}

// Open opens and pings a database for d.
func Open(d Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// isDuplicate reports a unique-key violation on either backend.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}
