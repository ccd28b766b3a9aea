// Package all registers every built-in storage backend. Import it for its
// side effects:
//
//	import _ "transplant/internal/storage/all"
//
// The registered kinds are postgres, mysql, sqlite and mssql, plus duckdb
// when the binary is built with cgo.
package all

import (
	_ "transplant/internal/storage/mssql"
	_ "transplant/internal/storage/mysql"
	_ "transplant/internal/storage/postgres"
	_ "transplant/internal/storage/sqlite"
)
