// Package sqlite registers the SQLite backend, built on the pure-Go
// modernc.org/sqlite driver. Rows are written with multi-row
// INSERT ... ON CONFLICT DO NOTHING statements inside one transaction.
package sqlite

import (
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"transplant/internal/storage"
	"transplant/internal/storage/sqldb"
)

// Kind is the registry name of this backend.
const Kind = "sqlite"

// Schemes are the URI schemes routed to this backend.
var Schemes = []string{"sqlite", "sqlite3", "file"}

// MaxParams is SQLITE_MAX_VARIABLE_NUMBER of current SQLite builds.
const MaxParams = 32766

// Driver describes SQLite to the database/sql backend.
var Driver = sqldb.Driver{
	Name: "sqlite",
	DSN:  DSN,
	Dialect: storage.Dialect{
		QuoteIdent:  storage.QuoteDouble,
		Placeholder: storage.QuestionPlaceholder,
		InsertVerb:  "INSERT INTO",
		OnConflict:  " ON CONFLICT DO NOTHING",
		LatestID:    storage.LimitLatestID,
		MaxParams:   MaxParams,
	},
	Init: []string{"PRAGMA busy_timeout = 5000"},
}

// DSN maps a transplant URI to a modernc.org/sqlite data source name.
//
//	sqlite:///var/data/app.db  -> /var/data/app.db
//	sqlite://app.db            -> app.db
//	sqlite3://app.db?_pragma=x -> app.db?_pragma=x
//	file:app.db?mode=ro        -> file:app.db?mode=ro
func DSN(uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	if strings.HasPrefix(strings.ToLower(uri), "file:") {
		return uri, nil
	}
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return "", fmt.Errorf("malformed uri %q", uri)
	}
	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3":
	default:
		return "", fmt.Errorf("unexpected scheme %q", scheme)
	}
	if rest == "" || strings.HasPrefix(rest, "?") {
		return "", fmt.Errorf("database path must not be empty")
	}
	return rest, nil
}

func init() {
	storage.Register(Kind, Schemes, Driver)
}
