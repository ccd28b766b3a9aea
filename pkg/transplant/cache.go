package transplant

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultCacheDir is where extracted tables are cached unless configured
// otherwise.
const DefaultCacheDir = "./.transplant"

const (
	snapshotVersion = 1
	snapshotExt     = ".json.zst"
)

// snapshot is the on-disk form of a TableData. Rows are stored as value
// arrays aligned to Columns; Checksum is the xxh3 hash of the encoded rows.
type snapshot struct {
	Version  int             `json:"version"`
	Table    string          `json:"table"`
	SQL      string          `json:"sql"`
	Columns  []string        `json:"columns"`
	Rows     json.RawMessage `json:"rows"`
	Checksum uint64          `json:"checksum"`
}

// Cache stores one snapshot file per table under a local directory.
// It is not safe for concurrent runs sharing the same directory.
type Cache struct {
	dir string
}

// NewCache returns a Cache rooted at dir (DefaultCacheDir when empty).
func NewCache(dir string) *Cache {
	if dir == "" {
		dir = DefaultCacheDir
	}
	return &Cache{dir: dir}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// EnsureDir creates the cache directory when it does not exist.
func (c *Cache) EnsureDir() error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("cache: create %s: %w", c.dir, err)
	}
	return nil
}

// Path returns the snapshot file used for table.
func (c *Cache) Path(table string) string {
	return filepath.Join(c.dir, cacheFileName(table))
}

// Get loads the snapshot of table. A missing directory or file is reported as
// found=false with a nil error; an unreadable snapshot wraps ErrCacheRead.
func (c *Cache) Get(table string) (*TableData, bool, error) {
	path := c.Path(table)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: open %s: %w", ErrCacheRead, path, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %w", ErrCacheRead, path, err)
	}
	defer dec.Close()

	var snap snapshot
	if err := json.NewDecoder(dec).Decode(&snap); err != nil {
		return nil, false, fmt.Errorf("%w: decode %s: %w", ErrCacheRead, path, err)
	}
	td, err := snap.tableData(table)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %w", ErrCacheRead, path, err)
	}
	return td, true, nil
}

// Put writes the snapshot of td, replacing any previous one. The file is
// written next to its final name and renamed into place.
func (c *Cache) Put(td *TableData) error {
	if err := c.EnsureDir(); err != nil {
		return err
	}
	snap, err := newSnapshot(td)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", td.Table, err)
	}

	tmp, err := os.CreateTemp(c.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("cache: %w", err)
	}
	je := json.NewEncoder(enc)
	je.SetEscapeHTML(false)
	if err := je.Encode(snap); err != nil {
		enc.Close()
		tmp.Close()
		return fmt.Errorf("cache: write %s: %w", td.Table, err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: write %s: %w", td.Table, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: write %s: %w", td.Table, err)
	}
	if err := os.Rename(tmp.Name(), c.Path(td.Table)); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}

func newSnapshot(td *TableData) (*snapshot, error) {
	rows := make([][]Value, len(td.Rows))
	for i, r := range td.Rows {
		vals := make([]Value, len(td.Columns))
		for j, col := range td.Columns {
			vals[j] = r.Value(col)
		}
		rows[i] = vals
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rows); err != nil {
		return nil, err
	}
	raw := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return &snapshot{
		Version:  snapshotVersion,
		Table:    td.Table,
		SQL:      td.SQL,
		Columns:  td.Columns,
		Rows:     raw,
		Checksum: xxh3.Hash(raw),
	}, nil
}

func (s *snapshot) tableData(table string) (*TableData, error) {
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", s.Version)
	}
	if s.Table != table {
		return nil, fmt.Errorf("snapshot is for table %q", s.Table)
	}
	if got := xxh3.Hash(s.Rows); got != s.Checksum {
		return nil, fmt.Errorf("checksum mismatch: got %016x want %016x", got, s.Checksum)
	}
	var rows [][]Value
	if err := json.Unmarshal(s.Rows, &rows); err != nil {
		return nil, err
	}
	td := &TableData{
		Table:     s.Table,
		SQL:       s.SQL,
		FromCache: true,
		Columns:   s.Columns,
		Rows:      make([]Row, len(rows)),
	}
	for i, vals := range rows {
		if len(vals) != len(s.Columns) {
			return nil, fmt.Errorf("row %d has %d values for %d columns", i, len(vals), len(s.Columns))
		}
		td.Rows[i] = Row{cols: td.Columns, vals: vals}
	}
	return td, nil
}

// cacheFileName folds table to a readable ASCII slug and appends the xxh3
// hash of the exact name so distinct tables never share a file.
func cacheFileName(table string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	folded, _, err := transform.String(t, strings.ToLower(table))
	if err != nil {
		folded = strings.ToLower(table)
	}

	var b strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	slug := strings.Trim(b.String(), ".")
	if slug == "" {
		slug = "table"
	}
	return fmt.Sprintf("%s-%016x%s", slug, xxh3.HashString(table), snapshotExt)
}
