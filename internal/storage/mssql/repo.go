// Package mssql registers the Microsoft SQL Server backend on top of
// github.com/microsoft/go-mssqldb. SQL Server has no insert-ignore form, so
// rows are inserted one statement at a time and primary key or unique index
// violations are skipped.
package mssql

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"transplant/internal/storage"
	"transplant/internal/storage/sqldb"
)

// Kind is the registry name of this backend.
const Kind = "mssql"

// Schemes are the URI schemes routed to this backend.
var Schemes = []string{"sqlserver", "mssql"}

// SQL Server error numbers for duplicate keys.
const (
	errUniqueConstraint = 2627
	errUniqueIndex      = 2601
)

// Driver describes SQL Server to the database/sql backend.
var Driver = sqldb.Driver{
	Name: "sqlserver",
	DSN:  DSN,
	Dialect: storage.Dialect{
		QuoteIdent:  storage.QuoteBracket,
		Placeholder: storage.AtPlaceholder,
		InsertVerb:  "INSERT INTO",
		LatestID:    storage.TopLatestID,
		MaxParams:   2100,
	},
	RowByRow:    true,
	IsDuplicate: IsDuplicate,
	Normalize:   normalize,
}

// DSN accepts sqlserver:// URIs as-is and rewrites mssql:// to sqlserver://.
// The result is validated with msdsn.Parse.
func DSN(uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	if scheme, rest, ok := strings.Cut(uri, "://"); ok && strings.EqualFold(scheme, "mssql") {
		uri = "sqlserver://" + rest
	}
	if _, err := msdsn.Parse(uri); err != nil {
		return "", fmt.Errorf("mssql dsn: %w", err)
	}
	return uri, nil
}

// IsDuplicate reports whether err is a primary key or unique index violation.
func IsDuplicate(err error) bool {
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return msErr.Number == errUniqueConstraint || msErr.Number == errUniqueIndex
	}
	return false
}

// normalize renders UNIQUEIDENTIFIER columns in their canonical form; the
// driver hands them out in SQL Server's mixed-endian byte order.
func normalize(ct *sql.ColumnType, v any) any {
	b, ok := v.([]byte)
	if !ok || !strings.EqualFold(ct.DatabaseTypeName(), "UNIQUEIDENTIFIER") {
		return v
	}
	var id mssql.UniqueIdentifier
	if err := id.Scan(b); err != nil {
		return v
	}
	return id.String()
}

func init() {
	storage.Register(Kind, Schemes, Driver)
}
