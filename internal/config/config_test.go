package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"transplant/pkg/transplant"
)

const sampleYAML = `
from: postgres://prod/app
to: sqlite:///tmp/staging.db
cache_dir: .cache
batch_size: 250
job: seed
tables:
  - table: users
    where: "id < 100"
    null_fields: [password_hash, email]
  - table: orders
    where_in: { from_table: users, columns: [id], in_column: user_id }
  - table: settings
    select: "select * from settings where scope = 'global'"
  - table: countries
`

func TestDecode(t *testing.T) {
	t.Parallel()

	f, err := Decode(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.From != "postgres://prod/app" || f.To != "sqlite:///tmp/staging.db" {
		t.Fatalf("endpoints = %q -> %q", f.From, f.To)
	}
	if f.CacheDir != ".cache" || f.BatchSize != 250 || f.Job != "seed" {
		t.Fatalf("options decoded = %+v", f)
	}
	if len(f.Tables) != 4 {
		t.Fatalf("len(tables) = %d, want 4", len(f.Tables))
	}
	if got := f.Tables[0].NullFields; len(got) != 2 || got[1] != "email" {
		t.Fatalf("null_fields = %v", got)
	}
	w := f.Tables[1].WhereIn
	if w == nil || w.FromTable != "users" || w.InColumn != "user_id" || len(w.Columns) != 1 {
		t.Fatalf("where_in = %+v", w)
	}
	if issues := ValidateFile(*f); len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	f, err := Decode(strings.NewReader(`{"from":"mysql://u@h/db","to":"duckdb:///x.db","tables":[{"table":"a"}]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.From != "mysql://u@h/db" || len(f.Tables) != 1 || f.Tables[0].Table != "a" {
		t.Fatalf("decoded = %+v", f)
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	_, err := Decode(strings.NewReader("tables:\n  - table: a\n    wher: x\n"))
	if err == nil || !strings.Contains(err.Error(), "wher") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestDecodeEmpty(t *testing.T) {
	t.Parallel()

	f, err := Decode(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Decode(empty): %v", err)
	}
	if len(f.Tables) != 0 {
		t.Fatalf("tables = %v", f.Tables)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TRANSPLANT_TEST_SRC", "postgres://secret@prod/app")

	path := filepath.Join(t.TempDir(), "tables.yaml")
	if err := os.WriteFile(path, []byte("from: ${TRANSPLANT_TEST_SRC}\ntables: [{table: users}]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.From != "postgres://secret@prod/app" {
		t.Fatalf("from = %q", f.From)
	}
}

func TestDecodeExpandsOnlyBracedRefs(t *testing.T) {
	t.Setenv("TRANSPLANT_TEST_PASS", "s3cret")
	t.Setenv("TRANSPLANT_TEST_TAG", "expanded")

	const doc = `
from: postgres://u:pa$$word@h/db
to: postgres://u:${TRANSPLANT_TEST_PASS}@h/staging
tables:
  - table: items
    where: "price > $5 and note <> $t$a$t$ and tag = '$TRANSPLANT_TEST_TAG'"
  - table: unset
    select: "select '${TRANSPLANT_TEST_UNSET_VAR}' as x"
`
	f, err := Decode(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.From != "postgres://u:pa$$word@h/db" {
		t.Fatalf("from = %q, want password left untouched", f.From)
	}
	if f.To != "postgres://u:s3cret@h/staging" {
		t.Fatalf("to = %q, want ${VAR} expanded", f.To)
	}
	if want := "price > $5 and note <> $t$a$t$ and tag = '$TRANSPLANT_TEST_TAG'"; f.Tables[0].Where != want {
		t.Fatalf("where = %q, want %q", f.Tables[0].Where, want)
	}
	if want := "select '' as x"; f.Tables[1].Select != want {
		t.Fatalf("select = %q, want %q", f.Tables[1].Select, want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		EnvFromURI: " postgres://env/src ",
		EnvToURI:   "postgres://env/dst",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	f := &File{To: "sqlite://file.db"}
	f.ApplyEnv(lookup)
	if f.From != "postgres://env/src" {
		t.Fatalf("from = %q, want value from env", f.From)
	}
	if f.To != "sqlite://file.db" {
		t.Fatalf("to = %q, file value must win over env", f.To)
	}

	empty := &File{}
	empty.ApplyEnv(func(string) (string, bool) { return "", false })
	if empty.From != "" || empty.To != "" {
		t.Fatalf("unexpected endpoints %+v", empty)
	}
}

func TestConfig(t *testing.T) {
	t.Parallel()

	f := File{From: "a://", To: "b://", CacheDir: "c", IgnoreCache: true, InsertOccupied: true, StrictCache: true, BatchSize: 9, Job: "j"}
	want := transplant.Config{FromURI: "a://", ToURI: "b://", CacheDir: "c", IgnoreCache: true, InsertOccupied: true, StrictCache: true, BatchSize: 9, Job: "j"}
	if got := f.Config(); got != want {
		t.Fatalf("Config() = %+v, want %+v", got, want)
	}
}

func TestTableSpecs(t *testing.T) {
	t.Parallel()

	f, err := Decode(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	specs := f.TableSpecs()
	if len(specs) != 4 {
		t.Fatalf("len(specs) = %d", len(specs))
	}

	tc := transplant.NewContext()
	cols := []string{"id", "password_hash"}
	tc.Put(&transplant.TableData{Table: "users", Columns: cols, Rows: []transplant.Row{
		transplant.NewRow(cols, []transplant.Value{transplant.Int(2), transplant.String("x")}),
		transplant.NewRow(cols, []transplant.Value{transplant.Int(1), transplant.String("y")}),
	}})

	wantSQL := []string{
		"select * from users where id < 100",
		"select * from orders where user_id in (1, 2)",
		"select * from settings where scope = 'global'",
		"select * from countries",
	}
	for i, s := range specs {
		got, err := s.Select.Resolve(tc, s.Table)
		if err != nil {
			t.Fatalf("specs[%d].Select: %v", i, err)
		}
		if got != wantSQL[i] {
			t.Fatalf("specs[%d] sql = %q, want %q", i, got, wantSQL[i])
		}
	}

	if specs[0].PreInsert == nil || specs[1].PreInsert != nil {
		t.Fatalf("only users should carry a pre-insert handler")
	}
	users, _ := tc.Get("users")
	_, rows, err := specs[0].PreInsert(tc, "users", users.Columns, users.Rows)
	if err != nil {
		t.Fatalf("PreInsert: %v", err)
	}
	if !rows[0].Value("password_hash").IsNull() || !rows[0].Value("email").IsNull() {
		t.Fatalf("fields not nulled: %v", rows[0].Values())
	}

	if _, err := transplant.New(f.Config()); err != nil {
		t.Fatalf("transplant.New(file config): %v", err)
	}
}
