package transplant

import (
	"context"

	"go.uber.org/zap"

	"transplant/internal/metrics"
)

// Destination is a connection to the database tables are loaded into. All
// writes happen in one transaction that Commit makes durable; Close discards
// anything not committed.
type Destination interface {
	// Occupied reports whether table already holds at least one row.
	Occupied(ctx context.Context, table string) (bool, error)

	// InsertIgnore inserts rows (aligned to columns) skipping rows that
	// collide with an existing unique key, and returns how many were inserted.
	InsertIgnore(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	Commit(ctx context.Context) error
	Close() error
}

// Loader inserts the tables of a Context into a Destination.
type Loader struct {
	// InsertOccupied inserts into tables that already have rows instead of
	// skipping them.
	InsertOccupied bool

	Logger *zap.Logger
	Job    string
}

// Load visits the tables of tc in extraction order, applies the insert
// handler registered for each, and inserts the rows unless the destination
// table is occupied. It commits once, after the last table; on error nothing
// is committed.
func (l *Loader) Load(ctx context.Context, tc *Context, dst Destination, handlers map[string]InsertFunc) error {
	log := l.Logger
	if log == nil {
		log = zap.NewNop()
	}

	for _, td := range tc.Tables() {
		if err := ctx.Err(); err != nil {
			return err
		}
		columns, rows := td.Columns, td.Rows
		if h, ok := handlers[td.Table]; ok && h != nil {
			var err error
			columns, rows, err = h(tc, td.Table, columns, rows)
			if err != nil {
				return &TableError{Table: td.Table, Phase: PhaseLoad, Err: err}
			}
		}

		if !l.InsertOccupied {
			occupied, err := dst.Occupied(ctx, td.Table)
			if err != nil {
				return &TableError{Table: td.Table, Phase: PhaseLoad, Err: databaseError("occupancy check", err)}
			}
			if occupied {
				log.Warn("table has data, skipping", zap.String("table", td.Table))
				metrics.RecordTables(l.Job, "occupied", 1)
				continue
			}
		}
		if len(rows) == 0 {
			log.Warn("insert handler left no rows, skipping", zap.String("table", td.Table))
			continue
		}

		log.Info("inserting rows", zap.String("table", td.Table), zap.Int("rows", len(rows)))
		args := make([][]any, len(rows))
		for i, r := range rows {
			args[i] = r.Args(columns)
		}
		inserted, err := dst.InsertIgnore(ctx, td.Table, columns, args)
		if err != nil {
			return &TableError{Table: td.Table, Phase: PhaseLoad, Err: databaseError("insert", err)}
		}
		skipped := int64(len(rows)) - inserted
		log.Info("rows inserted",
			zap.String("table", td.Table),
			zap.Int64("inserted", inserted),
			zap.Int64("skipped", skipped),
		)
		metrics.RecordTables(l.Job, "loaded", 1)
		metrics.RecordRows(l.Job, "inserted", inserted)
		metrics.RecordRows(l.Job, "skipped", skipped)
	}

	if err := dst.Commit(ctx); err != nil {
		return databaseError("commit", err)
	}
	return nil
}
