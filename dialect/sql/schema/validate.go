package schema

import (
	"fmt"
	"strings"
)

// ValidationError represents a table validation error.
type ValidationError struct {
	Table   string
	Column  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Table == "" {
		return e.Message
	}
	if e.Column != "" {
		return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Message)
}

// ValidationResult holds the results of a validation.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// String returns a human-readable summary of the validation result.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	write := func(title string, errs []*ValidationError) {
		if len(errs) == 0 {
			return
		}
		sb.WriteString(title + ":\n")
		for _, e := range errs {
			sb.WriteString("  - " + e.Error() + "\n")
		}
	}
	write("Errors", r.Errors)
	write("Warnings", r.Warnings)
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("No issues found.\n")
	}
	return sb.String()
}

func (r *ValidationResult) errorf(t, c, format string, args ...any) {
	r.Errors = append(r.Errors, &ValidationError{Table: t, Column: c, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) warnf(t, c, format string, args ...any) {
	r.Warnings = append(r.Warnings, &ValidationError{Table: t, Column: c, Message: fmt.Sprintf(format, args...)})
}

// ValidateTable validates a single table.
func ValidateTable(t *Table) *ValidationResult {
	r := &ValidationResult{}
	validateTable(r, t)
	return r
}

func validateTable(r *ValidationResult, t *Table) {
	if t.Name == "" {
		r.errorf("", "", "table name is empty")
		return
	}
	if len(t.Columns) == 0 {
		r.errorf(t.Name, "", "table has no columns")
	}
	if len(t.PrimaryKey) == 0 && !t.Link {
		r.warnf(t.Name, "", "table has no primary key")
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		switch {
		case c.Name == "":
			r.errorf(t.Name, "", "column name is empty")
		case seen[c.Name]:
			r.errorf(t.Name, c.Name, "duplicate column")
		}
		seen[c.Name] = true
	}
	for _, pk := range t.PrimaryKey {
		if pk.Nullable {
			r.errorf(t.Name, pk.Name, "primary key column cannot be nullable")
		}
	}
	for _, idx := range t.Indexes {
		for _, c := range idx.Columns {
			if !seen[c.Name] {
				r.errorf(t.Name, c.Name, "index %q references unknown column", idx.Name)
			}
		}
	}
	for _, fk := range t.ForeignKeys {
		switch {
		case fk.RefTable == nil:
			r.errorf(t.Name, "", "foreign key %q has no referenced table", fk.Symbol)
		case len(fk.Columns) != len(fk.RefColumns):
			r.errorf(t.Name, "", "foreign key %q has %d columns, referencing %d", fk.Symbol, len(fk.Columns), len(fk.RefColumns))
		case fk.OnDelete == SetNull:
			for _, c := range fk.Columns {
				if !c.Nullable {
					r.errorf(t.Name, c.Name, "foreign key %q sets null on a non-nullable column", fk.Symbol)
				}
			}
		}
		for _, c := range fk.Columns {
			if !seen[c.Name] {
				r.errorf(t.Name, c.Name, "foreign key %q references unknown column", fk.Symbol)
			}
		}
	}
}

// ValidateSchema validates the tables and the references between them.
func ValidateSchema(tables []*Table) *ValidationResult {
	var (
		r     = &ValidationResult{}
		names = make(map[string]*Table, len(tables))
	)
	for _, t := range tables {
		if _, ok := names[t.Name]; ok {
			r.errorf(t.Name, "", "duplicate table")
		}
		names[t.Name] = t
		validateTable(r, t)
	}
	for _, t := range tables {
		for _, fk := range t.ForeignKeys {
			if fk.RefTable == nil {
				continue
			}
			if names[fk.RefTable.Name] != fk.RefTable {
				r.errorf(t.Name, "", "foreign key %q references table %q outside of the schema", fk.Symbol, fk.RefTable.Name)
				continue
			}
			for i, rc := range fk.RefColumns {
				if !fk.RefTable.HasColumn(rc.Name) {
					r.errorf(t.Name, "", "foreign key %q references unknown column %s.%s", fk.Symbol, fk.RefTable.Name, rc.Name)
				} else if i < len(fk.Columns) && fk.Columns[i].Type != rc.Type {
					r.errorf(t.Name, fk.Columns[i].Name, "type %s does not match referenced column %s.%s of type %s", fk.Columns[i].Type, fk.RefTable.Name, rc.Name, rc.Type)
				}
			}
		}
	}
	return r
}
