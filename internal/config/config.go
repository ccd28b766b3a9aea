// Package config defines the table file of the transplant command: the two
// endpoints, run options and the ordered list of tables to copy.
//
// Files are YAML (JSON is valid YAML too). ${VAR} references are expanded
// from the environment before decoding, so credentials can stay out of the
// file. Any other "$" is left alone, so $1 placeholders, $tag$ quoting and
// passwords containing "$" survive:
//
//	from: ${PROD_DB}
//	to: postgres://localhost/staging
//	tables:
//	  - table: users
//	    where: "created_at > now() - interval '7 days'"
//	    null_fields: [password_hash]
//	  - table: orders
//	    where_in: { from_table: users, columns: [id], in_column: user_id }
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"transplant/pkg/transplant"
	"transplant/pkg/transplant/handlers"
)

// Environment variables consulted for endpoints missing from the file.
const (
	EnvFromURI = "TRANSPLANT_FROM_URI"
	EnvToURI   = "TRANSPLANT_TO_URI"
)

// File is the decoded table file.
type File struct {
	// From and To are the source and destination URIs.
	From string `yaml:"from"`
	To   string `yaml:"to"`

	CacheDir       string `yaml:"cache_dir"`
	IgnoreCache    bool   `yaml:"ignore_cache"`
	InsertOccupied bool   `yaml:"insert_occupied"`
	StrictCache    bool   `yaml:"strict_cache"`
	BatchSize      int    `yaml:"batch_size"`

	// Job labels logs and metrics of the run.
	Job string `yaml:"job"`

	// Tables are extracted and loaded in this order.
	Tables []Table `yaml:"tables"`
}

// Table configures one table. At most one of Select, Where and WhereIn may be
// set; with none of them every row is copied.
type Table struct {
	Table      string   `yaml:"table"`
	Select     string   `yaml:"select"`
	Where      string   `yaml:"where"`
	WhereIn    *WhereIn `yaml:"where_in"`
	NullFields []string `yaml:"null_fields"`
}

// WhereIn restricts InColumn to the values found in Columns of FromTable,
// which must be listed earlier in the file.
type WhereIn struct {
	FromTable string   `yaml:"from_table"`
	Columns   []string `yaml:"columns"`
	InColumn  string   `yaml:"in_column"`
}

// Load reads, expands and decodes the table file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	f, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return f, nil
}

// Decode expands ${VAR} references in r and decodes the result. Unknown keys
// are rejected so typos do not silently widen a run.
func Decode(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(strings.NewReader(expandEnv(string(data))))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &f, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${NAME} with the value of the environment variable NAME
// (empty when unset).
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

// ApplyEnv fills the endpoints missing from f using lookup, normally
// os.LookupEnv.
func (f *File) ApplyEnv(lookup func(string) (string, bool)) {
	if f.From == "" {
		if v, ok := lookup(EnvFromURI); ok {
			f.From = strings.TrimSpace(v)
		}
	}
	if f.To == "" {
		if v, ok := lookup(EnvToURI); ok {
			f.To = strings.TrimSpace(v)
		}
	}
}

// Config returns the run configuration described by f.
func (f *File) Config() transplant.Config {
	return transplant.Config{
		FromURI:        f.From,
		ToURI:          f.To,
		CacheDir:       f.CacheDir,
		IgnoreCache:    f.IgnoreCache,
		InsertOccupied: f.InsertOccupied,
		StrictCache:    f.StrictCache,
		BatchSize:      f.BatchSize,
		Job:            f.Job,
	}
}

// TableSpecs converts the table entries into run specs, in file order.
func (f *File) TableSpecs() []transplant.TableSpec {
	specs := make([]transplant.TableSpec, 0, len(f.Tables))
	for _, t := range f.Tables {
		spec := transplant.TableSpec{Table: t.Table}
		switch {
		case t.Select != "":
			spec.Select = transplant.SelectSQL(t.Select)
		case t.Where != "":
			spec.Select = handlers.Where(t.Where)
		case t.WhereIn != nil:
			spec.Select = handlers.WhereIn(t.WhereIn.FromTable, t.WhereIn.Columns, t.WhereIn.InColumn)
		}
		if len(t.NullFields) > 0 {
			spec.PreInsert = handlers.NullFields(t.NullFields...)
		}
		specs = append(specs, spec)
	}
	return specs
}
