// Package sqldb opens the relational store behind a database URL and
// papers over the placeholder dialect difference between the two shipped
// drivers: modernc sqlite (default, pure Go) and lib/pq for Postgres.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"       // postgres driver
	_ "modernc.org/sqlite"      // sqlite driver
)

// DB wraps *sql.DB with the driver name so stores can rebind placeholders.
type DB struct {
	*sql.DB
	Driver string
}

// Open connects using the URL scheme: postgres:// URLs use lib/pq,
// anything else is treated as a sqlite path (":memory:" works).
func Open(databaseURL string) (*DB, error) {
	if databaseURL == "" {
		databaseURL = ":memory:"
	}
	driver := "sqlite"
	dsn := databaseURL
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		driver = "postgres"
	} else {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqldb: open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqldb: ping %s: %w", driver, err)
	}
	return &DB{DB: db, Driver: driver}, nil
}

// OpenSQLite opens an in-process sqlite database directly. Tests use
// OpenSQLite(":memory:").
func OpenSQLite(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqldb: open sqlite: %w", err)
	}
	// A single connection keeps :memory: databases coherent across stores.
	db.SetMaxOpenConns(1)
	return &DB{DB: db, Driver: "sqlite"}, nil
}

// Rebind converts ?-style placeholders to $N for postgres. Queries in this
// repo never embed literal question marks.
func (db *DB) Rebind(query string) string {
	if db.Driver != "postgres" {
		return query
	}
	var b strings.Builder
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

// WithTx runs fn inside a transaction, rolling back on error.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqldb: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqldb: commit: %w", err)
	}
	return nil
}
