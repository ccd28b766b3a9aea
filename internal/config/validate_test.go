package config

import (
	"strings"
	"testing"
)

// hasIssue reports whether issues contains an Issue with the given severity,
// path, and a Message containing msgSubstr.
func hasIssue(t *testing.T, issues []Issue, sev IssueSeverity, path, msgSubstr string) bool {
	t.Helper()
	for _, iss := range issues {
		if iss.Severity == sev && iss.Path == path && strings.Contains(iss.Message, msgSubstr) {
			return true
		}
	}
	return false
}

func validFile() File {
	return File{
		From: "postgres://prod/app",
		To:   "postgres://localhost/staging",
		Tables: []Table{
			{Table: "users"},
			{Table: "orders", WhereIn: &WhereIn{FromTable: "users", Columns: []string{"id"}, InColumn: "user_id"}},
		},
	}
}

func TestValidateFile_ValidMinimal(t *testing.T) {
	t.Parallel()

	if issues := ValidateFile(validFile()); len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestValidateFile_Endpoints(t *testing.T) {
	t.Parallel()

	f := validFile()
	f.From = ""
	f.To = "oracle://db"
	issues := ValidateFile(f)
	if !hasIssue(t, issues, SeverityError, "from", "must not be empty") {
		t.Fatalf("expected error for empty from; got %+v", issues)
	}
	if !hasIssue(t, issues, SeverityError, "to", "oracle") {
		t.Fatalf("expected error for unsupported scheme; got %+v", issues)
	}
	if !HasErrors(issues) {
		t.Fatalf("HasErrors = false")
	}

	f = validFile()
	f.To = f.From
	issues = ValidateFile(f)
	if !hasIssue(t, issues, SeverityWarning, "to", "same database") {
		t.Fatalf("expected same-database warning; got %+v", issues)
	}
	if HasErrors(issues) {
		t.Fatalf("warnings alone must not count as errors: %+v", issues)
	}
}

func TestValidateFile_Options(t *testing.T) {
	t.Parallel()

	f := validFile()
	f.BatchSize = -1
	f.IgnoreCache = true
	f.StrictCache = true
	issues := ValidateFile(f)
	if !hasIssue(t, issues, SeverityError, "batch_size", "negative") {
		t.Fatalf("expected batch_size error; got %+v", issues)
	}
	if !hasIssue(t, issues, SeverityWarning, "strict_cache", "no effect") {
		t.Fatalf("expected strict_cache warning; got %+v", issues)
	}
}

func TestValidateFile_Tables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		tables []Table
		sev    IssueSeverity
		path   string
		msg    string
	}{
		{
			name: "no tables",
			sev:  SeverityError,
			path: "tables",
			msg:  "at least one table",
		},
		{
			name:   "empty name",
			tables: []Table{{Table: " "}},
			sev:    SeverityError,
			path:   "tables[0].table",
			msg:    "must not be empty",
		},
		{
			name:   "duplicate",
			tables: []Table{{Table: "a"}, {Table: "b"}, {Table: "a"}},
			sev:    SeverityError,
			path:   "tables[2].table",
			msg:    "already listed at tables[0]",
		},
		{
			name:   "several selects",
			tables: []Table{{Table: "a", Select: "select 1", Where: "x"}},
			sev:    SeverityError,
			path:   "tables[0]",
			msg:    "at most one",
		},
		{
			name:   "where_in on later table",
			tables: []Table{
				{Table: "orders", WhereIn: &WhereIn{FromTable: "users", Columns: []string{"id"}, InColumn: "user_id"}},
				{Table: "users"},
			},
			sev:  SeverityError,
			path: "tables[0].where_in.from_table",
			msg:  "listed before",
		},
		{
			name:   "where_in on itself",
			tables: []Table{{Table: "a", WhereIn: &WhereIn{FromTable: "a", Columns: []string{"id"}, InColumn: "id"}}},
			sev:    SeverityError,
			path:   "tables[0].where_in.from_table",
			msg:    "listed before",
		},
		{
			name:   "where_in without columns",
			tables: []Table{{Table: "u"}, {Table: "o", WhereIn: &WhereIn{FromTable: "u", InColumn: "u_id"}}},
			sev:    SeverityError,
			path:   "tables[1].where_in.columns",
			msg:    "at least one column",
		},
		{
			name:   "where_in blank column",
			tables: []Table{{Table: "u"}, {Table: "o", WhereIn: &WhereIn{FromTable: "u", Columns: []string{"id", ""}, InColumn: "u_id"}}},
			sev:    SeverityError,
			path:   "tables[1].where_in.columns[1]",
			msg:    "must not be empty",
		},
		{
			name:   "where_in without in_column",
			tables: []Table{{Table: "u"}, {Table: "o", WhereIn: &WhereIn{FromTable: "u", Columns: []string{"id"}}}},
			sev:    SeverityError,
			path:   "tables[1].where_in.in_column",
			msg:    "must not be empty",
		},
		{
			name:   "where_in without from_table",
			tables: []Table{{Table: "o", WhereIn: &WhereIn{Columns: []string{"id"}, InColumn: "x"}}},
			sev:    SeverityError,
			path:   "tables[0].where_in.from_table",
			msg:    "must not be empty",
		},
		{
			name:   "blank null field",
			tables: []Table{{Table: "a", NullFields: []string{""}}},
			sev:    SeverityError,
			path:   "tables[0].null_fields[0]",
			msg:    "must not be empty",
		},
		{
			name:   "repeated null field",
			tables: []Table{{Table: "a", NullFields: []string{"x", "x"}}},
			sev:    SeverityWarning,
			path:   "tables[0].null_fields[1]",
			msg:    "listed twice",
		},
		{
			name:   "null id",
			tables: []Table{{Table: "a", NullFields: []string{"ID"}}},
			sev:    SeverityWarning,
			path:   "tables[0].null_fields[0]",
			msg:    "id column",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := validFile()
			f.Tables = tc.tables
			issues := ValidateFile(f)
			if !hasIssue(t, issues, tc.sev, tc.path, tc.msg) {
				t.Fatalf("expected %s at %s containing %q; got %+v", tc.sev, tc.path, tc.msg, issues)
			}
		})
	}
}

func TestIssueError(t *testing.T) {
	t.Parallel()

	iss := Issue{Severity: SeverityError, Path: "tables[0].table", Message: "table must not be empty"}
	if got, want := iss.Error(), "error at tables[0].table: table must not be empty"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}
