//go:build cgo

package all

import _ "transplant/internal/storage/duckdb"
