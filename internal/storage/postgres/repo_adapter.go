package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"transplant/internal/storage"
)

// Kind is the registry name of this backend.
const Kind = "postgres"

// Schemes are the URI schemes routed to this backend.
var Schemes = []string{"postgres", "postgresql"}

// connect is a test hook that points to pgx.Connect by default.
// Tests may replace this variable to avoid real DB connections.
var connect = pgx.Connect

// backend adapts the concrete constructors to storage.Backend.
type backend struct{}

var _ storage.Backend = backend{}

var (
	_ storage.Source      = (*Source)(nil)
	_ storage.Destination = (*Destination)(nil)
)

func (backend) OpenSource(ctx context.Context, uri string, _ storage.Options) (storage.Source, error) {
	return NewSource(ctx, uri)
}

func (backend) OpenDestination(ctx context.Context, uri string, opts storage.Options) (storage.Destination, error) {
	return NewDestination(ctx, uri, opts)
}

// init registers the postgres backend for its URI schemes. Callers open
// connections through storage.OpenSource / storage.OpenDestination.
func init() {
	storage.Register(Kind, Schemes, backend{})
}
