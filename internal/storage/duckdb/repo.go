//go:build cgo

// Package duckdb registers the DuckDB backend on top of
// github.com/duckdb/duckdb-go. It needs cgo; binaries built without it
// simply lack the duckdb scheme.
package duckdb

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" database/sql driver

	"transplant/internal/storage"
	"transplant/internal/storage/sqldb"
)

// Kind is the registry name of this backend.
const Kind = "duckdb"

// Schemes are the URI schemes routed to this backend.
var Schemes = []string{"duckdb"}

// Driver describes DuckDB to the database/sql backend.
var Driver = sqldb.Driver{
	Name: "duckdb",
	DSN:  DSN,
	Dialect: storage.Dialect{
		QuoteIdent:  storage.QuoteDouble,
		Placeholder: storage.QuestionPlaceholder,
		InsertVerb:  "INSERT INTO",
		OnConflict:  " ON CONFLICT DO NOTHING",
		LatestID:    storage.LimitLatestID,
		MaxParams:   65535,
	},
	Normalize: normalize,
}

// DSN maps duckdb:///abs/path.db and duckdb://rel.db to a database path.
func DSN(uri string) (string, error) {
	_, rest, ok := strings.Cut(strings.TrimSpace(uri), "://")
	if !ok {
		return "", fmt.Errorf("malformed uri %q", uri)
	}
	if rest == "" || strings.HasPrefix(rest, "?") {
		return "", fmt.Errorf("database path must not be empty")
	}
	return rest, nil
}

// normalize turns 16-byte UUID arrays into their canonical string form.
func normalize(_ *sql.ColumnType, v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Len() == 16 && rv.Type().Elem().Kind() == reflect.Uint8 {
		var u [16]byte
		reflect.Copy(reflect.ValueOf(&u).Elem(), rv)
		return u
	}
	return v
}

func init() {
	storage.Register(Kind, Schemes, Driver)
}
