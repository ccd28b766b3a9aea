// Package metrics records operational metrics of transplant runs behind a
// small, backend-agnostic interface.
//
// A global backend defaults to a no-op implementation, so every Record*
// helper is safe to call when no metrics system is configured. Concrete
// systems live in subpackages (prompush for a Prometheus Pushgateway,
// datadog for DogStatsD) and are installed with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by the Record* helpers.
const (
	StepTotal           = "transplant_step_total"
	StepDurationSeconds = "transplant_step_duration_seconds"
	TablesTotal         = "transplant_tables_total"
	RowsTotal           = "transplant_rows_total"
	BatchesTotal        = "transplant_batches_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one run phase ("extract", "load") and observes its
// duration, labelled with success or failure.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}

	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordTables counts tables by outcome. Kinds used by transplant runs:
//   - "extracted": rows were pulled from the source database
//   - "cache_hit": rows were read from the on-disk cache
//   - "empty":     the select returned nothing; the table was skipped
//   - "occupied":  the destination already had rows; the table was skipped
//   - "loaded":    rows were handed to the destination
func RecordTables(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(TablesTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordRows counts rows by kind: "extracted", "inserted" or "skipped".
func RecordRows(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordBatches increments the insert statement counter for the given job.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(delta), Labels{
		"job": job,
	})
}
