package transplant

import (
	"fmt"
	"slices"
	"sort"
)

// IDColumn is the column used for deterministic row order and for the
// destination occupancy check.
const IDColumn = "id"

// SelectFunc computes the extraction query for table from the tables
// extracted so far.
type SelectFunc func(tc *Context, table string) (string, error)

// InsertFunc rewrites the columns and rows of table right before they are
// inserted into the destination.
type InsertFunc func(tc *Context, table string, columns []string, rows []Row) ([]string, []Row, error)

type selectKind uint8

const (
	selectDefault selectKind = iota
	selectLiteral
	selectComputed
)

// Select says how the extraction query of a table is obtained: a literal
// query, a query computed from the Context, or (zero value) DefaultSelect.
type Select struct {
	kind  selectKind
	query string
	fn    SelectFunc
}

// SelectSQL returns a Select that always uses query.
func SelectSQL(query string) Select {
	return Select{kind: selectLiteral, query: query}
}

// SelectWith returns a Select that calls fn to build the query.
func SelectWith(fn SelectFunc) Select {
	if fn == nil {
		return Select{}
	}
	return Select{kind: selectComputed, fn: fn}
}

// IsZero reports whether s falls back to DefaultSelect.
func (s Select) IsZero() bool { return s.kind == selectDefault }

// Resolve returns the query used to extract table.
func (s Select) Resolve(tc *Context, table string) (string, error) {
	switch s.kind {
	case selectLiteral:
		return s.query, nil
	case selectComputed:
		return s.fn(tc, table)
	default:
		return DefaultSelect(table), nil
	}
}

// DefaultSelect is the query used for tables without a Select.
func DefaultSelect(table string) string {
	return "select * from " + table
}

// TableSpec configures one table of a transplant run.
type TableSpec struct {
	// Table is the table name, used both in the source and the destination.
	Table string

	// Select resolves the extraction query. The zero value selects every row.
	Select Select

	// PreInsert optionally rewrites columns and rows before insertion.
	PreInsert InsertFunc
}

// TableData is the extracted content of one table.
type TableData struct {
	Table     string
	SQL       string
	FromCache bool
	Columns   []string
	Rows      []Row
}

// HasColumn reports whether td has a column named col.
func (td *TableData) HasColumn(col string) bool {
	return slices.Contains(td.Columns, col)
}

// SortByID orders rows ascending by their id column when td has one.
func (td *TableData) SortByID() {
	if !td.HasColumn(IDColumn) {
		return
	}
	sort.SliceStable(td.Rows, func(i, j int) bool {
		return td.Rows[i].Value(IDColumn).Compare(td.Rows[j].Value(IDColumn)) < 0
	})
}

// Context accumulates the extracted tables of a run in extraction order.
// Select and insert handlers read it; only the Extractor adds to it.
type Context struct {
	order  []string
	tables map[string]*TableData
}

// NewContext returns an empty Context.
func NewContext() *Context {
	return &Context{tables: make(map[string]*TableData)}
}

// Put adds td, replacing a previous entry for the same table while keeping
// its position.
func (c *Context) Put(td *TableData) {
	if _, ok := c.tables[td.Table]; !ok {
		c.order = append(c.order, td.Table)
	}
	c.tables[td.Table] = td
}

// Get returns the data extracted for table.
func (c *Context) Get(table string) (*TableData, bool) {
	td, ok := c.tables[table]
	return td, ok
}

// MustGet returns the data extracted for table or a dependency error when the
// table is not available.
func (c *Context) MustGet(table string) (*TableData, error) {
	td, ok := c.Get(table)
	if !ok {
		return nil, NotAvailable(table)
	}
	return td, nil
}

// Names returns the table names in extraction order.
func (c *Context) Names() []string { return slices.Clone(c.order) }

// Tables returns the extracted tables in extraction order.
func (c *Context) Tables() []*TableData {
	out := make([]*TableData, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.tables[name])
	}
	return out
}

// Len returns the number of tables in c.
func (c *Context) Len() int { return len(c.order) }

func (c *Context) String() string {
	return fmt.Sprintf("transplant.Context%v", c.order)
}
