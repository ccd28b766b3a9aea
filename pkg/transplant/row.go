package transplant

import "slices"

// Row is an ordered set of (column, value) pairs.
//
// Rows produced by one extraction share their column slice; Set copies it
// before appending a new column so siblings are never affected.
type Row struct {
	cols []string
	vals []Value
}

// NewRow pairs columns with values. Missing trailing values are NULL and
// surplus values are dropped.
func NewRow(columns []string, values []Value) Row {
	vals := make([]Value, len(columns))
	copy(vals, values)
	return Row{cols: columns, vals: vals}
}

// Len returns the number of columns in r.
func (r Row) Len() int { return len(r.cols) }

// Columns returns the column names of r in order.
func (r Row) Columns() []string { return r.cols }

// Values returns the values of r in column order.
func (r Row) Values() []Value { return r.vals }

// Get returns the value for col and whether r has that column.
func (r Row) Get(col string) (Value, bool) {
	if i := slices.Index(r.cols, col); i >= 0 {
		return r.vals[i], true
	}
	return Null(), false
}

// Value returns the value for col, NULL when r has no such column.
func (r Row) Value(col string) Value {
	v, _ := r.Get(col)
	return v
}

// Set assigns v to col, appending the column when r does not have it yet.
func (r *Row) Set(col string, v Value) {
	if i := slices.Index(r.cols, col); i >= 0 {
		r.vals[i] = v
		return
	}
	r.cols = append(r.cols[:len(r.cols):len(r.cols)], col)
	r.vals = append(r.vals[:len(r.vals):len(r.vals)], v)
}

// Clone returns a copy of r whose values can be modified independently.
func (r Row) Clone() Row {
	return Row{cols: r.cols, vals: slices.Clone(r.vals)}
}

// Args returns the driver arguments of r aligned to columns.
func (r Row) Args(columns []string) []any {
	out := make([]any, len(columns))
	for i, c := range columns {
		out[i] = r.Value(c).Any()
	}
	return out
}
