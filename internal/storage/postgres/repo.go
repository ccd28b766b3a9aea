// Package postgres implements transplant sources and destinations on top of
// pgx v5. Each side holds exactly one *pgx.Conn; the destination runs every
// insert inside one transaction and relies on ON CONFLICT DO NOTHING so that
// rows colliding with an existing unique key are skipped.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"transplant/internal/storage"
)

// dialect is the Postgres spelling of the destination statements.
var dialect = storage.Dialect{
	QuoteIdent:  storage.QuoteDouble,
	Placeholder: storage.DollarPlaceholder,
	InsertVerb:  "INSERT INTO",
	OnConflict:  " ON CONFLICT DO NOTHING",
	LatestID:    storage.LimitLatestID,
	MaxParams:   65535,
}

const closeTimeout = 5 * time.Second

// Source reads tables over a single connection.
type Source struct {
	conn *pgx.Conn
}

// NewSource connects to uri.
func NewSource(ctx context.Context, uri string) (*Source, error) {
	conn, err := connect(ctx, uri)
	if err != nil {
		return nil, pgError("connect", err)
	}
	return &Source{conn: conn}, nil
}

// Query runs query and materializes every row. json and jsonb columns are
// re-encoded to JSON text and array columns to their "{...}" text form so
// they survive caching and re-insertion.
func (s *Source) Query(ctx context.Context, query string) ([]string, [][]any, error) {
	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, nil, pgError("query", err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	columns := make([]string, len(fds))
	for i, fd := range fds {
		columns[i] = fd.Name
	}

	m := s.conn.TypeMap()
	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, nil, pgError("read row", err)
		}
		for i, fd := range fds {
			if vals[i] == nil {
				continue
			}
			switch {
			case isJSONOID(fd.DataTypeOID):
				raw, err := json.Marshal(vals[i])
				if err != nil {
					return nil, nil, fmt.Errorf("encode %s: %w", fd.Name, err)
				}
				vals[i] = json.RawMessage(raw)
			case isArrayOID(m, fd.DataTypeOID):
				text, err := arrayText(m, fd.DataTypeOID, vals[i])
				if err != nil {
					return nil, nil, fmt.Errorf("encode %s: %w", fd.Name, err)
				}
				vals[i] = text
			}
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, pgError("query", err)
	}
	return columns, out, nil
}

// Close closes the connection.
func (s *Source) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return s.conn.Close(ctx)
}

func isJSONOID(oid uint32) bool {
	return oid == pgtype.JSONOID || oid == pgtype.JSONBOID
}

// isArrayOID reports whether oid is an array type known to m.
func isArrayOID(m *pgtype.Map, oid uint32) bool {
	t, ok := m.TypeForOID(oid)
	if !ok {
		return false
	}
	_, ok = t.Codec.(*pgtype.ArrayCodec)
	return ok
}

// arrayText encodes a decoded array value back to the Postgres text form,
// e.g. {1,2} or {a,"b c"}. Inserting that string lets the server parse it
// into the destination column type.
func arrayText(m *pgtype.Map, oid uint32, v any) (string, error) {
	buf, err := m.Encode(oid, pgtype.TextFormatCode, v, nil)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// Destination writes tables over a single connection and transaction.
type Destination struct {
	conn      *pgx.Conn
	tx        pgx.Tx
	opts      storage.Options
	committed bool
}

// NewDestination connects to uri and opens the load transaction.
func NewDestination(ctx context.Context, uri string, opts storage.Options) (*Destination, error) {
	conn, err := connect(ctx, uri)
	if err != nil {
		return nil, pgError("connect", err)
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, pgError("begin", err)
	}
	return &Destination{conn: conn, tx: tx, opts: opts}, nil
}

// Occupied reports whether table has at least one row.
func (d *Destination) Occupied(ctx context.Context, table string) (bool, error) {
	rows, err := d.tx.Query(ctx, dialect.LatestID(table))
	if err != nil {
		return false, pgError("latest id", err)
	}
	found := rows.Next()
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, pgError("latest id", err)
	}
	return found, nil
}

// InsertIgnore inserts rows with multi-row INSERT ... ON CONFLICT DO NOTHING
// statements.
func (d *Destination) InsertIgnore(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 || len(rows) == 0 {
		return 0, nil
	}
	perStmt := storage.RowsPerStatement(d.opts.RowsPerBatch(), len(columns), dialect.MaxParams)
	return storage.InsertBatches(ctx, d.opts, table, columns, rows, perStmt,
		func(ctx context.Context, columns []string, batch [][]any) (int64, error) {
			tag, err := d.tx.Exec(ctx, dialect.InsertSQL(table, columns, len(batch)), storage.Flatten(batch)...)
			if err != nil {
				return 0, pgError("insert", err)
			}
			return tag.RowsAffected(), nil
		})
}

// Commit commits the load transaction.
func (d *Destination) Commit(ctx context.Context) error {
	if err := d.tx.Commit(ctx); err != nil {
		return pgError("commit", err)
	}
	d.committed = true
	return nil
}

// Close rolls back an uncommitted transaction and closes the connection.
func (d *Destination) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	var errs []error
	if !d.committed {
		if err := d.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			errs = append(errs, pgError("rollback", err))
		}
	}
	if err := d.conn.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// pgError surfaces the server detail and SQLSTATE of Postgres errors.
func pgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%s: %s (%s): %w", op, pgErr.Detail, pgErr.SQLState(), err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
