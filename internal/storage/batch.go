package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"transplant/internal/metrics"
)

// InsertFn inserts one batch of rows (aligned to columns) and returns the
// number of rows the backend reports as inserted.
type InsertFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// InsertBatches splits rows into batches of at most batchSize rows and calls
// insert for each. It returns the total reported by insert and the first
// error encountered; batches after a failing one are not attempted.
//
// Progress is logged at debug level on every successful flush.
func InsertBatches(
	ctx context.Context,
	opts Options,
	table string,
	columns []string,
	rows [][]any,
	batchSize int,
	insert InsertFn,
) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batchSize must be > 0")
	}
	if insert == nil {
		return 0, fmt.Errorf("insert must not be nil")
	}
	log := opts.Log()

	var (
		total       int64
		batches     int64
		start       = time.Now()
		lastFlushTS = start
	)
	for lo := 0; lo < len(rows); lo += batchSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		hi := min(lo+batchSize, len(rows))
		n, err := insert(ctx, columns, rows[lo:hi])
		total += n
		if err != nil {
			log.Error("insert batch failed",
				zap.String("table", table),
				zap.Int64("inserted", n),
				zap.Int64("total", total),
				zap.Error(err),
			)
			return total, err
		}

		batches++
		now := time.Now()
		sinceLast := now.Sub(lastFlushTS)
		rps := float64(0)
		if sinceLast > 0 {
			rps = float64(hi-lo) / sinceLast.Seconds()
		}
		log.Debug("batch flushed",
			zap.String("table", table),
			zap.Int64("batch", batches),
			zap.Float64("rps", rps),
			zap.Int64("inserted", n),
			zap.Int64("total_inserted", total),
			zap.Duration("elapsed", now.Sub(start).Truncate(time.Millisecond)),
		)
		lastFlushTS = now
	}
	metrics.RecordBatches(opts.Job, batches)
	return total, nil
}

// RowsPerStatement caps batchSize so that a multi-row statement over ncols
// columns stays within maxParams bind parameters. It is at least 1.
func RowsPerStatement(batchSize, ncols, maxParams int) int {
	if ncols <= 0 || maxParams <= 0 {
		return max(batchSize, 1)
	}
	limit := maxParams / ncols
	if batchSize <= 0 || batchSize > limit {
		batchSize = limit
	}
	return max(batchSize, 1)
}
