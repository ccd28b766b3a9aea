package transplant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeResult struct {
	columns []string
	rows    [][]any
	err     error
}

// fakeSource serves canned results by query and records every query run.
type fakeSource struct {
	results map[string]fakeResult
	queries []string
	closed  bool
}

func (s *fakeSource) Query(_ context.Context, query string) ([]string, [][]any, error) {
	s.queries = append(s.queries, query)
	r, ok := s.results[query]
	if !ok {
		return nil, nil, fmt.Errorf("no such table in %q", query)
	}
	return r.columns, r.rows, r.err
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

func usersAndOrders() *fakeSource {
	return &fakeSource{results: map[string]fakeResult{
		"select * from users": {
			columns: []string{"id", "name"},
			rows:    [][]any{{int64(3), "c"}, {int64(1), "a"}, {int64(2), "b"}},
		},
		"select * from orders where user_id in (1, 2, 3)": {
			columns: []string{"id", "user_id"},
			rows:    [][]any{{int64(11), int64(1)}, {int64(10), int64(3)}},
		},
		"select * from empty": {columns: []string{"id"}},
	}}
}

func whereUserIn() Select {
	return SelectWith(func(tc *Context, table string) (string, error) {
		users, err := tc.MustGet("users")
		if err != nil {
			return "", err
		}
		ids := make([]string, len(users.Rows))
		for i, r := range users.Rows {
			ids[i] = r.Value("id").SQLLiteral()
		}
		return fmt.Sprintf("select * from %s where user_id in (%s)", table, strings.Join(ids, ", ")), nil
	})
}

func newObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

func TestExtractDependentTables(t *testing.T) {
	t.Parallel()

	src := usersAndOrders()
	ex := &Extractor{Cache: NewCache(t.TempDir())}
	tc, err := ex.Extract(context.Background(), []TableSpec{
		{Table: "users"},
		{Table: "orders", Select: whereUserIn()},
	}, src)
	require.NoError(t, err)
	require.Equal(t, []string{"users", "orders"}, tc.Names())

	users, _ := tc.Get("users")
	require.Equal(t, []string{"id", "name"}, users.Columns)
	require.Equal(t, "a", users.Rows[0].Value("name").Any(), "rows are sorted by id")
	require.False(t, users.FromCache)

	orders, _ := tc.Get("orders")
	require.Equal(t, "select * from orders where user_id in (1, 2, 3)", orders.SQL)
	require.Equal(t, int64(10), orders.Rows[0].Value("id").Any())
}

func TestExtractSkipsEmptyTables(t *testing.T) {
	t.Parallel()

	logger, logs := newObservedLogger()
	src := usersAndOrders()
	c := NewCache(t.TempDir())
	ex := &Extractor{Cache: c, Logger: logger}

	tc, err := ex.Extract(context.Background(), []TableSpec{{Table: "empty"}, {Table: "users"}}, src)
	require.NoError(t, err)
	require.Equal(t, []string{"users"}, tc.Names())
	require.Equal(t, 1, logs.FilterMessage("no rows found, skipping table").Len())

	// The empty result is still cached.
	_, ok, err := c.Get("empty")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestExtractDependencyOnEmptyTableFails(t *testing.T) {
	t.Parallel()

	src := usersAndOrders()
	src.results["select * from users"] = fakeResult{columns: []string{"id"}}

	ex := &Extractor{Cache: NewCache(t.TempDir())}
	_, err := ex.Extract(context.Background(), []TableSpec{
		{Table: "users"},
		{Table: "orders", Select: whereUserIn()},
	}, src)
	require.ErrorIs(t, err, ErrDependency)

	var te *TableError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "orders", te.Table)
	require.Equal(t, PhaseExtract, te.Phase)
}

func TestExtractServesFromCache(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := usersAndOrders()
	_, err := (&Extractor{Cache: NewCache(dir)}).Extract(context.Background(), []TableSpec{{Table: "users"}}, first)
	require.NoError(t, err)
	require.Len(t, first.queries, 1)

	logger, logs := newObservedLogger()
	second := &fakeSource{}
	tc, err := (&Extractor{Cache: NewCache(dir), Logger: logger}).Extract(context.Background(), []TableSpec{{Table: "users"}}, second)
	require.NoError(t, err)
	require.Empty(t, second.queries, "a cache hit never touches the source")
	require.Equal(t, 1, logs.FilterMessage("found cache").Len())

	users, _ := tc.Get("users")
	require.True(t, users.FromCache)
	require.Len(t, users.Rows, 3)
	require.Equal(t, int64(1), users.Rows[0].Value("id").Any())
}

func TestExtractIgnoreCacheOverwrites(t *testing.T) {
	t.Parallel()

	c := NewCache(t.TempDir())
	require.NoError(t, c.Put(&TableData{Table: "users", Columns: []string{"id"}, Rows: []Row{NewRow([]string{"id"}, []Value{Int(99)})}}))

	src := usersAndOrders()
	tc, err := (&Extractor{Cache: c, IgnoreCache: true}).Extract(context.Background(), []TableSpec{{Table: "users"}}, src)
	require.NoError(t, err)
	require.Len(t, src.queries, 1)
	users, _ := tc.Get("users")
	require.Len(t, users.Rows, 3)

	cached, ok, err := c.Get("users")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, cached.Rows, 3)
}

func TestExtractCorruptCache(t *testing.T) {
	t.Parallel()

	t.Run("lenient", func(t *testing.T) {
		t.Parallel()
		c := NewCache(t.TempDir())
		require.NoError(t, c.EnsureDir())
		require.NoError(t, os.WriteFile(c.Path("users"), []byte("garbage"), 0o644))

		logger, logs := newObservedLogger()
		src := usersAndOrders()
		tc, err := (&Extractor{Cache: c, Logger: logger}).Extract(context.Background(), []TableSpec{{Table: "users"}}, src)
		require.NoError(t, err)
		require.Equal(t, 1, tc.Len())
		require.Equal(t, 1, logs.FilterMessage("unreadable cache entry, pulling again").Len())

		_, ok, err := c.Get("users")
		require.NoError(t, err, "entry is rewritten")
		require.True(t, ok)
	})

	t.Run("strict", func(t *testing.T) {
		t.Parallel()
		c := NewCache(t.TempDir())
		require.NoError(t, c.EnsureDir())
		require.NoError(t, os.WriteFile(c.Path("users"), []byte("garbage"), 0o644))

		src := usersAndOrders()
		_, err := (&Extractor{Cache: c, StrictCache: true}).Extract(context.Background(), []TableSpec{{Table: "users"}}, src)
		require.ErrorIs(t, err, ErrCacheRead)
		require.Empty(t, src.queries)
	})
}

func TestExtractQueryErrorIsDatabaseError(t *testing.T) {
	t.Parallel()

	boom := errors.New("relation does not exist")
	src := &fakeSource{results: map[string]fakeResult{"select * from users": {err: boom}}}
	_, err := (&Extractor{Cache: NewCache(t.TempDir())}).Extract(context.Background(), []TableSpec{{Table: "users"}}, src)
	require.ErrorIs(t, err, ErrDatabase)
	require.ErrorIs(t, err, boom)

	var te *TableError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "users", te.Table)
}

func TestExtractRejectsDuplicateColumns(t *testing.T) {
	t.Parallel()

	c := NewCache(t.TempDir())
	src := &fakeSource{results: map[string]fakeResult{
		"select u.id, o.id from users u join orders o on o.user_id = u.id": {
			columns: []string{"id", "id"},
			rows:    [][]any{{int64(1), int64(10)}},
		},
	}}
	_, err := (&Extractor{Cache: c}).Extract(context.Background(), []TableSpec{
		{Table: "orders", Select: SelectSQL("select u.id, o.id from users u join orders o on o.user_id = u.id")},
	}, src)
	require.ErrorContains(t, err, `column "id" more than once`)

	var te *TableError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "orders", te.Table)

	_, ok, err := c.Get("orders")
	require.NoError(t, err)
	require.False(t, ok, "rejected results are not cached")
}

func TestExtractHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := usersAndOrders()
	_, err := (&Extractor{Cache: NewCache(t.TempDir())}).Extract(ctx, []TableSpec{{Table: "users"}}, src)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, src.queries)
}
