package transplant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"transplant/internal/metrics"
)

// Source is a connection to the database tables are extracted from.
type Source interface {
	// Query runs query and returns the column names in driver order and
	// every row materialized as values aligned to them.
	Query(ctx context.Context, query string) ([]string, [][]any, error)
	Close() error
}

// Extractor pulls every configured table from a Source into a Context,
// serving tables from the Cache when a snapshot exists.
type Extractor struct {
	Cache *Cache

	// IgnoreCache re-queries every table and overwrites its snapshot.
	IgnoreCache bool

	// StrictCache turns an unreadable snapshot into an ErrCacheRead failure
	// instead of a warning followed by a fresh extraction.
	StrictCache bool

	Logger *zap.Logger
	Job    string
}

// Extract processes specs in order. Each table sees the tables extracted
// before it through the Context; tables with no rows are left out of it.
func (e *Extractor) Extract(ctx context.Context, specs []TableSpec, src Source) (*Context, error) {
	log := e.logger()
	tc := NewContext()

	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return tc, err
		}
		query, err := spec.Select.Resolve(tc, spec.Table)
		if err != nil {
			return tc, &TableError{Table: spec.Table, Phase: PhaseExtract, Err: err}
		}

		log.Info("pulling rows", zap.String("table", spec.Table), zap.String("sql", query))
		td, err := e.pull(ctx, src, spec.Table, query)
		if err != nil {
			return tc, &TableError{Table: spec.Table, Phase: PhaseExtract, Err: err}
		}

		if len(td.Rows) == 0 {
			log.Warn("no rows found, skipping table", zap.String("table", spec.Table))
			metrics.RecordTables(e.Job, "empty", 1)
			continue
		}
		log.Info("rows found",
			zap.String("table", td.Table),
			zap.Int("rows", len(td.Rows)),
			zap.Bool("from_cache", td.FromCache),
		)
		metrics.RecordTables(e.Job, "extracted", 1)
		metrics.RecordRows(e.Job, "extracted", int64(len(td.Rows)))
		tc.Put(td)
	}
	return tc, nil
}

func (e *Extractor) pull(ctx context.Context, src Source, table, query string) (*TableData, error) {
	log := e.logger()
	cache := e.Cache
	if cache == nil {
		cache = NewCache("")
	}

	if !e.IgnoreCache {
		td, ok, err := cache.Get(table)
		switch {
		case err != nil && (e.StrictCache || !errors.Is(err, ErrCacheRead)):
			return nil, err
		case err != nil:
			log.Warn("unreadable cache entry, pulling again",
				zap.String("table", table),
				zap.String("path", cache.Path(table)),
				zap.Error(err),
			)
		case ok:
			log.Info("found cache", zap.String("table", table))
			if td.SQL != query {
				log.Debug("cached query differs from resolved query",
					zap.String("table", table),
					zap.String("cached_sql", td.SQL),
					zap.String("sql", query),
				)
			}
			metrics.RecordTables(e.Job, "cache_hit", 1)
			td.SortByID()
			return td, nil
		}
	}

	start := time.Now()
	columns, raw, err := src.Query(ctx, query)
	if err != nil {
		return nil, databaseError("query", err)
	}
	if err := checkColumns(columns); err != nil {
		return nil, err
	}
	td := &TableData{
		Table:   table,
		SQL:     query,
		Columns: columns,
		Rows:    make([]Row, len(raw)),
	}
	for i, vals := range raw {
		row := Row{cols: columns, vals: make([]Value, len(columns))}
		for j := range columns {
			if j < len(vals) {
				row.vals[j] = ValueOf(vals[j])
			}
		}
		td.Rows[i] = row
	}
	td.SortByID()
	log.Debug("query finished",
		zap.String("table", table),
		zap.Int("rows", len(td.Rows)),
		zap.Duration("elapsed", time.Since(start).Truncate(time.Millisecond)),
	)

	if err := cache.Put(td); err != nil {
		return nil, err
	}
	return td, nil
}

// checkColumns rejects result sets that repeat a column name, since rows
// address their values by name.
func checkColumns(columns []string) error {
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if _, dup := seen[c]; dup {
			return fmt.Errorf("query returns column %q more than once; alias it in the select", c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

func (e *Extractor) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}
