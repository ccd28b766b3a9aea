// Package transplant copies a configured list of tables from a source
// database into a destination database.
//
// A run has two strictly sequential phases. The extract phase pulls every
// table, in order, over one source connection into a Context, serving tables
// from an on-disk snapshot cache when possible. Later tables may compute
// their select query from the rows of earlier ones. The load phase then
// walks the Context over one destination connection, applies per-table
// pre-insert transforms, skips destination tables that already hold rows and
// inserts everything else with insert-or-skip semantics, committing once at
// the end.
//
//	err := transplant.Run(ctx, []transplant.TableSpec{
//	    {Table: "users"},
//	    {Table: "orders", Select: handlers.WhereIn("users", []string{"id"}, "user_id")},
//	}, transplant.Config{FromURI: prod, ToURI: staging})
package transplant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"transplant/internal/metrics"
	"transplant/internal/storage"
	_ "transplant/internal/storage/all" // registers every built-in backend
)

// DefaultJob labels logs and metrics when Config.Job is empty.
const DefaultJob = "transplant"

// Config configures a Transplanter.
type Config struct {
	// FromURI and ToURI locate the source and destination databases. Their
	// schemes select the storage backend, e.g. postgres://, mysql://,
	// sqlite://, sqlserver://.
	FromURI string
	ToURI   string

	// CacheDir holds the table snapshots. Defaults to DefaultCacheDir.
	CacheDir string

	// IgnoreCache re-extracts every table and overwrites its snapshot.
	IgnoreCache bool

	// InsertOccupied inserts into destination tables that already have rows.
	InsertOccupied bool

	// StrictCache fails the run on an unreadable snapshot instead of
	// re-extracting the table.
	StrictCache bool

	// BatchSize caps the rows per insert statement. Defaults to
	// storage.DefaultBatchSize.
	BatchSize int

	Job    string
	Logger *zap.Logger
}

// Transplanter runs transplants with a fixed Config.
type Transplanter struct {
	cfg   Config
	log   *zap.Logger
	cache *Cache
}

// New validates cfg. Missing URIs and URIs whose scheme has no registered
// storage backend are reported as ErrConfig.
func New(cfg Config) (*Transplanter, error) {
	for _, ep := range []struct{ name, uri string }{
		{"source", cfg.FromURI},
		{"destination", cfg.ToURI},
	} {
		if strings.TrimSpace(ep.uri) == "" {
			return nil, fmt.Errorf("%w: %s uri is empty", ErrConfig, ep.name)
		}
		if _, _, err := storage.Lookup(ep.uri); err != nil {
			return nil, fmt.Errorf("%w: %s uri: %v", ErrConfig, ep.name, err)
		}
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("%w: batch size must not be negative", ErrConfig)
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir
	}
	if cfg.Job == "" {
		cfg.Job = DefaultJob
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Transplanter{cfg: cfg, log: log, cache: NewCache(cfg.CacheDir)}, nil
}

// Run is shorthand for New(cfg) followed by Run(ctx, specs).
func Run(ctx context.Context, specs []TableSpec, cfg Config) error {
	t, err := New(cfg)
	if err != nil {
		return err
	}
	return t.Run(ctx, specs)
}

// Cache returns the snapshot cache used by t.
func (t *Transplanter) Cache() *Cache { return t.cache }

// Run extracts every table of specs and then loads them. Each phase holds
// its own connection and releases it on every exit path; a failure in either
// phase aborts the run.
func (t *Transplanter) Run(ctx context.Context, specs []TableSpec) error {
	if err := validateSpecs(specs); err != nil {
		return err
	}
	if err := t.cache.EnsureDir(); err != nil {
		return err
	}
	t.log.Info("transplant starting",
		zap.String("from", storage.Redact(t.cfg.FromURI)),
		zap.String("to", storage.Redact(t.cfg.ToURI)),
		zap.Int("tables", len(specs)),
		zap.String("cache_dir", t.cache.Dir()),
	)

	runStart := time.Now()
	tc, err := t.extract(ctx, specs)
	metrics.RecordStep(t.cfg.Job, string(PhaseExtract), err, time.Since(runStart))
	if err != nil {
		return err
	}

	start := time.Now()
	err = t.load(ctx, tc, insertHandlers(specs))
	metrics.RecordStep(t.cfg.Job, string(PhaseLoad), err, time.Since(start))
	if err != nil {
		return err
	}

	t.log.Info("transplant finished",
		zap.Int("tables", tc.Len()),
		zap.Duration("elapsed", time.Since(runStart).Truncate(time.Millisecond)),
	)
	return nil
}

func (t *Transplanter) storageOptions() storage.Options {
	return storage.Options{BatchSize: t.cfg.BatchSize, Logger: t.log, Job: t.cfg.Job}
}

func (t *Transplanter) extract(ctx context.Context, specs []TableSpec) (*Context, error) {
	src, err := storage.OpenSource(ctx, t.cfg.FromURI, t.storageOptions())
	if err != nil {
		return nil, databaseError("open source", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			t.log.Warn("closing source", zap.Error(cerr))
		}
	}()

	ex := &Extractor{
		Cache:       t.cache,
		IgnoreCache: t.cfg.IgnoreCache,
		StrictCache: t.cfg.StrictCache,
		Logger:      t.log,
		Job:         t.cfg.Job,
	}
	return ex.Extract(ctx, specs, src)
}

func (t *Transplanter) load(ctx context.Context, tc *Context, handlers map[string]InsertFunc) error {
	dst, err := storage.OpenDestination(ctx, t.cfg.ToURI, t.storageOptions())
	if err != nil {
		return databaseError("open destination", err)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil {
			t.log.Warn("closing destination", zap.Error(cerr))
		}
	}()

	ld := &Loader{
		InsertOccupied: t.cfg.InsertOccupied,
		Logger:         t.log,
		Job:            t.cfg.Job,
	}
	return ld.Load(ctx, tc, dst, handlers)
}

func validateSpecs(specs []TableSpec) error {
	seen := make(map[string]struct{}, len(specs))
	for i, s := range specs {
		if strings.TrimSpace(s.Table) == "" {
			return fmt.Errorf("%w: table spec %d has no table name", ErrConfig, i)
		}
		if _, dup := seen[s.Table]; dup {
			return fmt.Errorf("%w: table %s is listed more than once", ErrConfig, s.Table)
		}
		seen[s.Table] = struct{}{}
	}
	return nil
}

func insertHandlers(specs []TableSpec) map[string]InsertFunc {
	out := make(map[string]InsertFunc)
	for _, s := range specs {
		if s.PreInsert != nil {
			out[s.Table] = s.PreInsert
		}
	}
	return out
}
