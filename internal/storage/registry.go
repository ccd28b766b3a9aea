// Package storage contains the engine-neutral contracts used by transplant
// runs and the registry that maps connection URI schemes to backends.
//
// Backends (postgres, mysql, sqlite, mssql, duckdb) register themselves from
// their init functions; importing internal/storage/all enables all of them.
// Callers only ever deal with URIs:
//
//	src, err := storage.OpenSource(ctx, "postgres://user:pw@host/db", storage.Options{})
//	if err != nil {
//	    // handle error
//	}
//	defer src.Close()
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrNoURI is returned for an empty connection URI.
	ErrNoURI = errors.New("storage: connection uri is empty")

	// ErrUnsupportedScheme is returned when no backend handles a URI scheme.
	ErrUnsupportedScheme = errors.New("storage: unsupported scheme")
)

// Source runs extraction queries over a single connection.
type Source interface {
	Query(ctx context.Context, query string) ([]string, [][]any, error)
	Close() error
}

// Destination writes rows over a single connection inside one transaction.
// Close rolls back unless Commit succeeded.
type Destination interface {
	Occupied(ctx context.Context, table string) (bool, error)
	InsertIgnore(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	Commit(ctx context.Context) error
	Close() error
}

// Options tune how a backend loads rows.
type Options struct {
	// BatchSize caps the rows per insert statement. Backends lower it further
	// to stay under their bind parameter limit.
	BatchSize int

	Logger *zap.Logger

	// Job labels metrics emitted by the backend.
	Job string
}

// DefaultBatchSize is used when Options.BatchSize is not positive.
const DefaultBatchSize = 500

// RowsPerBatch returns BatchSize or DefaultBatchSize.
func (o Options) RowsPerBatch() int {
	if o.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

// Log returns Logger or a no-op logger.
func (o Options) Log() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Backend opens connections for one database engine.
type Backend interface {
	OpenSource(ctx context.Context, uri string, opts Options) (Source, error)
	OpenDestination(ctx context.Context, uri string, opts Options) (Destination, error)
}

type registration struct {
	kind    string
	backend Backend
}

var (
	regMu   sync.RWMutex
	kinds   = map[string]Backend{}
	schemes = map[string]registration{}
)

// Register makes backend available under kind for every URI scheme listed.
// Registering a kind or scheme again replaces the previous backend.
func Register(kind string, uriSchemes []string, backend Backend) {
	regMu.Lock()
	defer regMu.Unlock()
	kinds[kind] = backend
	for _, s := range uriSchemes {
		schemes[strings.ToLower(s)] = registration{kind: kind, backend: backend}
	}
}

// ListKinds returns the registered backend kinds, sorted.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ListSchemes returns the registered URI schemes, sorted.
func ListSchemes() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(schemes))
	for s := range schemes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Scheme extracts the lower-cased scheme of uri ("postgres" for
// "postgres://..."). It does not fully parse the URI so passwords with
// reserved characters are accepted.
func Scheme(uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return "", ErrNoURI
	}
	scheme, _, ok := strings.Cut(uri, ":")
	if !ok || !validScheme(scheme) {
		return "", fmt.Errorf("%w: %q has no scheme", ErrUnsupportedScheme, Redact(uri))
	}
	return strings.ToLower(scheme), nil
}

func validScheme(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}

// Lookup resolves the backend handling uri.
func Lookup(uri string) (string, Backend, error) {
	scheme, err := Scheme(uri)
	if err != nil {
		return "", nil, err
	}
	regMu.RLock()
	reg, ok := schemes[scheme]
	regMu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("%w: %s (supported: %s)", ErrUnsupportedScheme, scheme, strings.Join(ListSchemes(), ", "))
	}
	return reg.kind, reg.backend, nil
}

// OpenSource opens a Source for uri through its registered backend.
func OpenSource(ctx context.Context, uri string, opts Options) (Source, error) {
	_, b, err := Lookup(uri)
	if err != nil {
		return nil, err
	}
	return b.OpenSource(ctx, uri, opts)
}

// OpenDestination opens a Destination for uri through its registered backend.
func OpenDestination(ctx context.Context, uri string, opts Options) (Destination, error) {
	_, b, err := Lookup(uri)
	if err != nil {
		return nil, err
	}
	return b.OpenDestination(ctx, uri, opts)
}

// Redact hides the password of a URI for error messages and logs.
func Redact(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return uri
	}
	userinfo := rest[:at]
	if user, _, hasPw := strings.Cut(userinfo, ":"); hasPw {
		userinfo = user + ":xxxxx"
	}
	return scheme + "://" + userinfo + rest[at:]
}
