package storage

import (
	"strconv"
	"strings"
)

// Dialect describes how an engine spells the statements a Destination needs.
// Table names are used verbatim (they may be schema qualified); column names
// are quoted.
type Dialect struct {
	// QuoteIdent quotes a single identifier.
	QuoteIdent func(string) string

	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string

	// InsertVerb starts an insert, e.g. "INSERT INTO" or "INSERT IGNORE INTO".
	InsertVerb string

	// OnConflict is appended to inserts, e.g. " ON CONFLICT DO NOTHING".
	OnConflict string

	// LatestID builds the occupancy probe for a table.
	LatestID func(table string) string

	// MaxParams is the bind parameter limit of one statement.
	MaxParams int
}

// InsertSQL builds a single insert of nrows placeholder tuples.
func (d Dialect) InsertSQL(table string, columns []string, nrows int) string {
	var b strings.Builder
	verb := d.InsertVerb
	if verb == "" {
		verb = "INSERT INTO"
	}
	b.WriteString(verb)
	b.WriteByte(' ')
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.QuoteIdent(c))
	}
	b.WriteString(") VALUES ")
	n := 1
	for r := 0; r < nrows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for i := range columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(n))
			n++
		}
		b.WriteByte(')')
	}
	b.WriteString(d.OnConflict)
	return b.String()
}

// Flatten concatenates rows into one argument list for a multi-row insert.
func Flatten(rows [][]any) []any {
	n := 0
	for _, r := range rows {
		n += len(r)
	}
	out := make([]any, 0, n)
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

// QuoteDouble quotes an identifier with double quotes (Postgres, SQLite, DuckDB).
func QuoteDouble(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// QuoteBacktick quotes an identifier with backticks (MySQL).
func QuoteBacktick(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }

// QuoteBracket quotes an identifier with [brackets] (SQL Server).
func QuoteBracket(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// DollarPlaceholder renders $1, $2, ...
func DollarPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

// QuestionPlaceholder renders ? for every parameter.
func QuestionPlaceholder(int) string { return "?" }

// AtPlaceholder renders @p1, @p2, ...
func AtPlaceholder(n int) string { return "@p" + strconv.Itoa(n) }

// LimitLatestID selects the highest id of table with LIMIT.
func LimitLatestID(table string) string {
	return "select id from " + table + " order by id desc limit 1"
}

// TopLatestID selects the highest id of table with TOP.
func TopLatestID(table string) string {
	return "select top 1 id from " + table + " order by id desc"
}
