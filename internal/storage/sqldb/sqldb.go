// Package sqldb implements storage sources and destinations over database/sql.
// Engine packages (mysql, sqlite, mssql, duckdb) describe themselves with a
// Driver and register it; the connection handling, scanning and batching
// live here.
//
// Each Source and Destination pins exactly one *sql.Conn from a pool capped
// at one open connection, so every statement of a run shares the same
// session and, for destinations, the same transaction.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"transplant/internal/storage"
)

const pingTimeout = 5 * time.Second

// sqlOpen is a test hook that points to sql.Open by default.
var sqlOpen = sql.Open

// Driver describes one database/sql engine.
type Driver struct {
	// Name is the database/sql driver name passed to sql.Open.
	Name string

	// DSN turns a transplant URI into the driver's data source name.
	DSN func(uri string) (string, error)

	// Dialect spells the destination statements.
	Dialect storage.Dialect

	// Init statements run once on every new connection.
	Init []string

	// RowByRow inserts one row per statement and skips rows for which
	// IsDuplicate reports true. Used by engines without an insert-ignore form.
	RowByRow    bool
	IsDuplicate func(error) bool

	// Normalize, when set, rewrites a raw scanned value before the generic
	// []byte handling.
	Normalize func(ct *sql.ColumnType, v any) any
}

var _ storage.Backend = Driver{}

// OpenSource implements storage.Backend.
func (d Driver) OpenSource(ctx context.Context, uri string, _ storage.Options) (storage.Source, error) {
	db, conn, err := d.connect(ctx, uri)
	if err != nil {
		return nil, err
	}
	return &Source{driver: d, db: db, conn: conn}, nil
}

// OpenDestination implements storage.Backend. The returned destination has
// an open transaction.
func (d Driver) OpenDestination(ctx context.Context, uri string, opts storage.Options) (storage.Destination, error) {
	db, conn, err := d.connect(ctx, uri)
	if err != nil {
		return nil, err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, fmt.Errorf("%s: begin tx: %w", d.Name, err)
	}
	return &Destination{driver: d, db: db, conn: conn, tx: tx, opts: opts}, nil
}

func (d Driver) connect(ctx context.Context, uri string) (*sql.DB, *sql.Conn, error) {
	dsn := uri
	if d.DSN != nil {
		var err error
		if dsn, err = d.DSN(uri); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", d.Name, err)
		}
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, nil, fmt.Errorf("%s: DSN must not be empty", d.Name)
	}

	db, err := sqlOpen(d.Name, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: open: %w", d.Name, err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("%s: ping: %w", d.Name, err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("%s: conn: %w", d.Name, err)
	}
	for _, stmt := range d.Init {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			conn.Close()
			db.Close()
			return nil, nil, fmt.Errorf("%s: init %q: %w", d.Name, stmt, err)
		}
	}
	return db, conn, nil
}

// Source reads tables over one pinned connection.
type Source struct {
	driver Driver
	db     *sql.DB
	conn   *sql.Conn
}

// Query runs query and materializes every row.
func (s *Source) Query(ctx context.Context, query string) ([]string, [][]any, error) {
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: query: %w", s.driver.Name, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: columns: %w", s.driver.Name, err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: column types: %w", s.driver.Name, err)
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("%s: scan: %w", s.driver.Name, err)
		}
		for i, v := range vals {
			vals[i] = s.normalize(types[i], v)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("%s: query: %w", s.driver.Name, err)
	}
	return columns, out, nil
}

// normalize applies the driver hook, then copies driver-owned byte slices and
// turns the ones that hold text into strings.
func (s *Source) normalize(ct *sql.ColumnType, v any) any {
	if s.driver.Normalize != nil {
		v = s.driver.Normalize(ct, v)
	}
	if b, ok := v.([]byte); ok {
		if IsBinaryType(ct.DatabaseTypeName()) {
			return append([]byte(nil), b...)
		}
		return string(b)
	}
	return v
}

// Close releases the connection.
func (s *Source) Close() error {
	return errors.Join(s.conn.Close(), s.db.Close())
}

// IsBinaryType reports whether a database type name stores raw bytes.
func IsBinaryType(name string) bool {
	name = strings.ToUpper(name)
	switch {
	case strings.Contains(name, "BLOB"), strings.Contains(name, "BINARY"):
		return true
	case name == "BYTEA", name == "IMAGE", name == "BIT VARYING":
		return true
	}
	return false
}

// Destination writes rows over one pinned connection inside one transaction.
type Destination struct {
	driver    Driver
	db        *sql.DB
	conn      *sql.Conn
	tx        *sql.Tx
	opts      storage.Options
	committed bool
}

// Occupied reports whether table has at least one row.
func (d *Destination) Occupied(ctx context.Context, table string) (bool, error) {
	rows, err := d.tx.QueryContext(ctx, d.driver.Dialect.LatestID(table))
	if err != nil {
		return false, fmt.Errorf("%s: latest id: %w", d.driver.Name, err)
	}
	defer rows.Close()
	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("%s: latest id: %w", d.driver.Name, err)
	}
	return found, nil
}

// InsertIgnore inserts rows, skipping the ones that collide with existing
// unique keys. It returns the number of rows actually inserted.
func (d *Destination) InsertIgnore(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 || len(rows) == 0 {
		return 0, nil
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return 0, fmt.Errorf("%s: row %d has %d values for %d columns", d.driver.Name, i, len(r), len(columns))
		}
	}
	if d.driver.RowByRow {
		return d.insertRowByRow(ctx, table, columns, rows)
	}

	perStmt := storage.RowsPerStatement(d.opts.RowsPerBatch(), len(columns), d.driver.Dialect.MaxParams)
	return storage.InsertBatches(ctx, d.opts, table, columns, rows, perStmt,
		func(ctx context.Context, columns []string, batch [][]any) (int64, error) {
			res, err := d.tx.ExecContext(ctx, d.driver.Dialect.InsertSQL(table, columns, len(batch)), storage.Flatten(batch)...)
			if err != nil {
				return 0, fmt.Errorf("%s: insert: %w", d.driver.Name, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return 0, fmt.Errorf("%s: rows affected: %w", d.driver.Name, err)
			}
			return n, nil
		})
}

func (d *Destination) insertRowByRow(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	stmt, err := d.tx.PrepareContext(ctx, d.driver.Dialect.InsertSQL(table, columns, 1))
	if err != nil {
		return 0, fmt.Errorf("%s: prepare insert: %w", d.driver.Name, err)
	}
	defer stmt.Close()

	return storage.InsertBatches(ctx, d.opts, table, columns, rows, d.opts.RowsPerBatch(),
		func(ctx context.Context, _ []string, batch [][]any) (int64, error) {
			var inserted int64
			for _, row := range batch {
				if _, err := stmt.ExecContext(ctx, row...); err != nil {
					if d.driver.IsDuplicate != nil && d.driver.IsDuplicate(err) {
						continue
					}
					return inserted, fmt.Errorf("%s: insert: %w", d.driver.Name, err)
				}
				inserted++
			}
			return inserted, nil
		})
}

// Commit commits the transaction.
func (d *Destination) Commit(context.Context) error {
	if err := d.tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", d.driver.Name, err)
	}
	d.committed = true
	return nil
}

// Close rolls back an uncommitted transaction and releases the connection.
func (d *Destination) Close() error {
	var errs []error
	if !d.committed {
		if err := d.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, fmt.Errorf("%s: rollback: %w", d.driver.Name, err))
		}
	}
	errs = append(errs, d.conn.Close(), d.db.Close())
	return errors.Join(errs...)
}
