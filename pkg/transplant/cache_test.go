package transplant

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleTable() *TableData {
	cols := []string{"id", "name", "avatar", "meta", "seen_at", "score"}
	return &TableData{
		Table:   "public.users",
		SQL:     "select * from public.users",
		Columns: cols,
		Rows: []Row{
			NewRow(cols, []Value{Int(1), String("<ann & co>"), Bytes([]byte{0, 1}), JSON([]byte(`{"a":"<b>"}`)),
				Time(time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)), Float(9.5)}),
			NewRow(cols, []Value{Int(2), Null(), Null(), Null(), Null(), Null()}),
			NewRow(cols, []Value{Int(3), String(""), Bytes([]byte{0xff}), JSON([]byte(`[]`)),
				Time(time.Date(2023, 12, 31, 23, 59, 59, 999999999, time.FixedZone("", -(3*3600+30*60)))), Float(-0.5)}),
		},
	}
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewCache(filepath.Join(t.TempDir(), "nested", "cache"))
	_, ok, err := c.Get("public.users")
	require.NoError(t, err)
	require.False(t, ok, "missing directory means no entry")

	want := sampleTable()
	require.NoError(t, c.Put(want))

	got, ok, err := c.Get("public.users")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.FromCache)
	require.False(t, want.FromCache)
	require.Equal(t, want.Table, got.Table)
	require.Equal(t, want.SQL, got.SQL)
	require.Equal(t, want.Columns, got.Columns)
	require.Len(t, got.Rows, len(want.Rows))
	for i := range want.Rows {
		for _, col := range want.Columns {
			w, g := want.Rows[i].Value(col), got.Rows[i].Value(col)
			require.True(t, w.Equal(g), "row %d %s: %s != %s", i, col, w, g)
			require.Equal(t, w.Kind(), g.Kind())
		}
	}

	// Times keep their UTC offset, not only the instant.
	_, wantOff := want.Rows[2].Value("seen_at").t.Zone()
	_, gotOff := got.Rows[2].Value("seen_at").t.Zone()
	require.Equal(t, wantOff, gotOff)
	require.Equal(t, []byte{0xff}, got.Rows[2].Value("avatar").Any())
}

func TestCachePutEmptyTable(t *testing.T) {
	t.Parallel()

	c := NewCache(t.TempDir())
	require.NoError(t, c.Put(&TableData{Table: "empty", SQL: "select * from empty", Columns: []string{"id"}}))

	got, ok, err := c.Get("empty")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, got.Rows)
	require.Equal(t, []string{"id"}, got.Columns)
}

func TestCachePutOverwrites(t *testing.T) {
	t.Parallel()

	c := NewCache(t.TempDir())
	td := sampleTable()
	require.NoError(t, c.Put(td))
	td.Rows = td.Rows[:1]
	require.NoError(t, c.Put(td))

	got, _, err := c.Get(td.Table)
	require.NoError(t, err)
	require.Len(t, got.Rows, 1)

	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files are cleaned up")
}

func TestCacheCorruptEntry(t *testing.T) {
	t.Parallel()

	c := NewCache(t.TempDir())
	require.NoError(t, os.WriteFile(c.Path("users"), []byte("not zstd"), 0o644))

	_, ok, err := c.Get("users")
	require.False(t, ok)
	require.ErrorIs(t, err, ErrCacheRead)
}

func TestCacheRejectsForeignSnapshot(t *testing.T) {
	t.Parallel()

	c := NewCache(t.TempDir())
	require.NoError(t, c.Put(&TableData{Table: "a", Columns: []string{"id"}}))
	require.NoError(t, os.Rename(c.Path("a"), c.Path("b")))

	_, _, err := c.Get("b")
	require.ErrorIs(t, err, ErrCacheRead)
	require.ErrorContains(t, err, `snapshot is for table "a"`)
}

func TestCacheFileName(t *testing.T) {
	t.Parallel()

	names := map[string]string{
		"users":         "users-",
		"public.Users":  "public.users-",
		"Ålesund_Data":  "alesund_data-",
		"weird/../name": "weird_.._name-",
		"...":           "table-",
	}
	seen := map[string]bool{}
	for table, prefix := range names {
		got := cacheFileName(table)
		require.True(t, strings.HasPrefix(got, prefix), "%s -> %s", table, got)
		require.True(t, strings.HasSuffix(got, ".json.zst"), got)
		require.NotContains(t, got, "/")
		require.False(t, seen[got])
		seen[got] = true
	}
	require.NotEqual(t, cacheFileName("Users"), cacheFileName("users"), "distinct tables never share a file")
	require.Equal(t, cacheFileName("users"), cacheFileName("users"))
}
