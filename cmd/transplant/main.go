// Command transplant copies the tables listed in a table file from a source
// database into a destination database.
//
//	transplant -config tables.yaml -from postgres://prod/app -to postgres://localhost/staging
//
// Endpoints come from the flags, then the table file, then the
// TRANSPLANT_FROM_URI and TRANSPLANT_TO_URI environment variables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"transplant/internal/config"
	"transplant/internal/metrics"
	"transplant/internal/metrics/datadog"
	"transplant/internal/metrics/prompush"
	"transplant/internal/storage"
	"transplant/pkg/transplant"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.LookupEnv, os.Stderr))
}

type options struct {
	cfgPath        string
	from, to       string
	cacheDir       string
	ignoreCache    bool
	insertOccupied bool
	strictCache    bool
	batchSize      int
	validate       bool
	metricsBackend string
	pushGatewayURL string
	datadogAddr    string
	verbose        bool
}

func parseFlags(args []string, stderr io.Writer) (options, *flag.FlagSet, error) {
	var o options
	fs := flag.NewFlagSet("transplant", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.cfgPath, "config", "transplant.yaml", "table file (YAML or JSON)")
	fs.StringVar(&o.from, "from", "", "source database URI (overrides the file and "+config.EnvFromURI+")")
	fs.StringVar(&o.to, "to", "", "destination database URI (overrides the file and "+config.EnvToURI+")")
	fs.StringVar(&o.cacheDir, "cache-dir", "", "snapshot cache directory (default "+transplant.DefaultCacheDir+")")
	fs.BoolVar(&o.ignoreCache, "ignore-cache", false, "re-extract every table and overwrite its snapshot")
	fs.BoolVar(&o.insertOccupied, "insert-occupied", false, "insert into destination tables that already have rows")
	fs.BoolVar(&o.strictCache, "strict-cache", false, "fail on unreadable snapshots instead of re-extracting")
	fs.IntVar(&o.batchSize, "batch-size", 0, fmt.Sprintf("rows per insert statement (default %d)", storage.DefaultBatchSize))
	fs.BoolVar(&o.validate, "validate", false, "validate the configuration and exit")
	fs.StringVar(&o.metricsBackend, "metrics-backend", "", "metrics backend: none, pushgateway or datadog (overrides env METRICS_BACKEND)")
	fs.StringVar(&o.pushGatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	fs.StringVar(&o.datadogAddr, "datadog-addr", "", "DogStatsD address (overrides env DD_DOGSTATSD_ADDR)")
	fs.BoolVar(&o.verbose, "v", false, "enable debug logs")
	err := fs.Parse(args)
	return o, fs, err
}

// run is main without the process exit. It returns the exit code.
func run(ctx context.Context, args []string, lookup func(string) (string, bool), stderr io.Writer) int {
	o, fs, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		return 2
	}

	log, err := newLogger(lookup, o.verbose, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	file, err := config.Load(o.cfgPath)
	if err != nil {
		log.Error("load config", zap.Error(err))
		return 1
	}
	o.apply(file)
	file.ApplyEnv(lookup)

	issues := config.ValidateFile(*file)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		log.Error("configuration is invalid", zap.String("config", o.cfgPath))
		return 1
	}
	if o.validate {
		log.Info("configuration is valid", zap.String("config", o.cfgPath))
		return 0
	}

	cfg := file.Config()
	cfg.Logger = log
	if cfg.Job == "" {
		cfg.Job = transplant.DefaultJob
	}
	flush := setupMetrics(o, lookup, cfg.Job, log)
	defer flush()

	start := time.Now()
	if err := transplant.Run(ctx, file.TableSpecs(), cfg); err != nil {
		log.Error("transplant failed", zap.Error(err))
		return 1
	}
	log.Debug("completed", zap.Duration("elapsed", time.Since(start).Truncate(time.Millisecond)))
	return 0
}

// apply lets flags that were set override the table file.
func (o options) apply(f *config.File) {
	if o.from != "" {
		f.From = o.from
	}
	if o.to != "" {
		f.To = o.to
	}
	if o.cacheDir != "" {
		f.CacheDir = o.cacheDir
	}
	if o.batchSize != 0 {
		f.BatchSize = o.batchSize
	}
	f.IgnoreCache = f.IgnoreCache || o.ignoreCache
	f.InsertOccupied = f.InsertOccupied || o.insertOccupied
	f.StrictCache = f.StrictCache || o.strictCache
}

// newLogger builds a JSON production logger at the level named by LOG_LEVEL
// (info when unset). -v forces debug.
func newLogger(lookup func(string) (string, bool), verbose bool, out io.Writer) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if v, ok := lookup("LOG_LEVEL"); ok && strings.TrimSpace(v) != "" {
		l, err := zapcore.ParseLevel(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
		level = l
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.Lock(zapcore.AddSync(out)), level)
	return zap.New(core, zap.AddCaller()), nil
}

// setupMetrics installs the selected metrics backend and returns the function
// that flushes it at exit. Backend failures only disable metrics.
func setupMetrics(o options, lookup func(string) (string, bool), job string, log *zap.Logger) func() {
	env := func(k string) string {
		v, _ := lookup(k)
		return v
	}
	name := o.metricsBackend
	if name == "" {
		name = env("METRICS_BACKEND")
	}

	var b metrics.Backend
	switch name {
	case "pushgateway":
		gwURL := firstNonEmpty(o.pushGatewayURL, env("PUSHGATEWAY_URL"), "http://localhost:9091")
		pb, err := prompush.NewBackend(job, gwURL)
		if err != nil {
			log.Warn("metrics: failed to init prom push backend; using nop", zap.Error(err))
			return func() {}
		}
		log.Info("metrics enabled", zap.String("backend", name), zap.String("url", gwURL), zap.String("job", job))
		b = pb
	case "datadog":
		addr := firstNonEmpty(o.datadogAddr, env("DD_DOGSTATSD_ADDR"), "localhost:8125")
		db, err := datadog.NewBackend(datadog.Config{
			Addr:       addr,
			GlobalTags: []string{"job:" + job},
		})
		if err != nil {
			log.Warn("metrics: failed to init dogstatsd backend; using nop", zap.Error(err))
			return func() {}
		}
		log.Info("metrics enabled", zap.String("backend", name), zap.String("addr", addr), zap.String("job", job))
		b = db
	case "", "none":
		log.Debug("metrics disabled")
		return func() {}
	default:
		log.Warn("metrics: unknown backend; metrics disabled", zap.String("backend", name))
		return func() {}
	}

	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics: flush error", zap.Error(err))
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
