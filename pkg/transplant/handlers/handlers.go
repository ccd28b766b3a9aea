// Package handlers provides ready-made select and pre-insert handlers for
// transplant table specs.
package handlers

import (
	"fmt"
	"slices"
	"strings"

	"transplant/pkg/transplant"
)

// Where selects the rows of the table matching predicate:
//
//	select * from <table> where <predicate>
func Where(predicate string) transplant.Select {
	return transplant.SelectWith(func(_ *transplant.Context, table string) (string, error) {
		return transplant.DefaultSelect(table) + " where " + predicate, nil
	})
}

// WhereIn selects the rows of the table whose inColumn holds one of the
// non-null values found in columns of the already extracted fromTable:
//
//	select * from <table> where <inColumn> in (<values>)
//
// Values are deduplicated and sorted so the query is deterministic. When
// fromTable has no non-null values the predicate is "in (null)", which
// matches nothing. A fromTable missing from the Context is a
// transplant.ErrDependency. Values are inlined with Value.SQLLiteral, so
// binary and timestamp keys only filter correctly on Postgres sources; on
// other engines key on integer or text columns.
func WhereIn(fromTable string, columns []string, inColumn string) transplant.Select {
	return transplant.SelectWith(func(tc *transplant.Context, table string) (string, error) {
		td, err := tc.MustGet(fromTable)
		if err != nil {
			return "", err
		}
		for _, c := range columns {
			if !td.HasColumn(c) {
				return "", fmt.Errorf("%s has no column %s", fromTable, c)
			}
		}

		var seen []transplant.Value
		for _, row := range td.Rows {
			for _, c := range columns {
				if v := row.Value(c); !v.IsNull() {
					seen = append(seen, v)
				}
			}
		}
		slices.SortFunc(seen, transplant.Value.Compare)
		seen = slices.CompactFunc(seen, transplant.Value.Equal)

		var b strings.Builder
		b.WriteString(transplant.DefaultSelect(table))
		b.WriteString(" where ")
		b.WriteString(inColumn)
		b.WriteString(" in (")
		if len(seen) == 0 {
			b.WriteString("null")
		}
		for i, v := range seen {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(v.SQLLiteral())
		}
		b.WriteByte(')')
		return b.String(), nil
	})
}

// NullFields sets fields to NULL on every row before insert. Rows are
// copied, so the extracted data in the Context is left untouched. The column
// list is returned unchanged; a field that is not one of the columns is
// therefore not inserted.
func NullFields(fields ...string) transplant.InsertFunc {
	return func(_ *transplant.Context, _ string, columns []string, rows []transplant.Row) ([]string, []transplant.Row, error) {
		out := make([]transplant.Row, len(rows))
		for i, r := range rows {
			r = r.Clone()
			for _, f := range fields {
				r.Set(f, transplant.Null())
			}
			out[i] = r
		}
		return columns, out, nil
	}
}
