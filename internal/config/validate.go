package config

import (
	"fmt"
	"strings"

	"transplant/internal/storage"
	"transplant/pkg/transplant"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a File.
//
// Path is a dotted path into the file (e.g. "from", "tables[1].where_in.from_table").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether issues contains at least one SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidateFile performs static validation of f. It does not mutate f and
// does not connect to any database. Call it after ApplyEnv so endpoints taken
// from the environment are checked too.
func ValidateFile(f File) []Issue {
	var issues []Issue
	issues = append(issues, validateEndpoint("from", f.From)...)
	issues = append(issues, validateEndpoint("to", f.To)...)
	if f.From != "" && strings.TrimSpace(f.From) == strings.TrimSpace(f.To) {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "to",
			Message:  "destination is the same database as the source",
		})
	}
	if f.BatchSize < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "batch_size",
			Message:  "batch_size must not be negative",
		})
	}
	if f.IgnoreCache && f.StrictCache {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "strict_cache",
			Message:  "strict_cache has no effect when ignore_cache is set",
		})
	}
	issues = append(issues, validateTables(f.Tables)...)
	return issues
}

func validateEndpoint(path, uri string) []Issue {
	if strings.TrimSpace(uri) == "" {
		return []Issue{{
			Severity: SeverityError,
			Path:     path,
			Message:  fmt.Sprintf("%s must not be empty; set it in the file or via the environment", path),
		}}
	}
	if _, _, err := storage.Lookup(uri); err != nil {
		return []Issue{{
			Severity: SeverityError,
			Path:     path,
			Message:  err.Error(),
		}}
	}
	return nil
}

func validateTables(tables []Table) []Issue {
	if len(tables) == 0 {
		return []Issue{{
			Severity: SeverityError,
			Path:     "tables",
			Message:  "tables must list at least one table",
		}}
	}

	var issues []Issue
	seen := map[string]int{}
	for i, t := range tables {
		path := fmt.Sprintf("tables[%d]", i)
		name := strings.TrimSpace(t.Table)
		if name == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".table",
				Message:  "table must not be empty",
			})
		} else if first, dup := seen[name]; dup {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".table",
				Message:  fmt.Sprintf("table %q is already listed at tables[%d]", name, first),
			})
		}

		set := 0
		for _, ok := range []bool{t.Select != "", t.Where != "", t.WhereIn != nil} {
			if ok {
				set++
			}
		}
		if set > 1 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  "use at most one of select, where and where_in",
			})
		}
		if t.WhereIn != nil {
			issues = append(issues, validateWhereIn(path+".where_in", *t.WhereIn, seen)...)
		}
		issues = append(issues, validateNullFields(path+".null_fields", t.NullFields)...)

		if _, dup := seen[name]; name != "" && !dup {
			seen[name] = i
		}
	}
	return issues
}

// validateWhereIn checks w against the tables listed before it.
func validateWhereIn(path string, w WhereIn, earlier map[string]int) []Issue {
	var issues []Issue
	from := strings.TrimSpace(w.FromTable)
	switch {
	case from == "":
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".from_table",
			Message:  "from_table must not be empty",
		})
	default:
		if _, ok := earlier[from]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".from_table",
				Message:  fmt.Sprintf("from_table %q must be listed before this table", from),
			})
		}
	}
	if len(w.Columns) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".columns",
			Message:  "columns must list at least one column of from_table",
		})
	}
	for j, c := range w.Columns {
		if strings.TrimSpace(c) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("%s.columns[%d]", path, j),
				Message:  "column must not be empty",
			})
		}
	}
	if strings.TrimSpace(w.InColumn) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".in_column",
			Message:  "in_column must not be empty",
		})
	}
	return issues
}

func validateNullFields(path string, fields []string) []Issue {
	var issues []Issue
	seen := map[string]bool{}
	for j, f := range fields {
		p := fmt.Sprintf("%s[%d]", path, j)
		switch {
		case strings.TrimSpace(f) == "":
			issues = append(issues, Issue{Severity: SeverityError, Path: p, Message: "field must not be empty"})
		case seen[f]:
			issues = append(issues, Issue{Severity: SeverityWarning, Path: p, Message: fmt.Sprintf("field %q is listed twice", f)})
		case strings.EqualFold(f, transplant.IDColumn):
			issues = append(issues, Issue{Severity: SeverityWarning, Path: p, Message: "nulling the id column disables ordering and occupancy checks"})
		}
		seen[f] = true
	}
	return issues
}
