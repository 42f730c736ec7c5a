// Package errdefs defines the error taxonomy of a migration run.
//
// Every error is scoped to a plugin. Callers match the class with errors.Is against the
// sentinels or extract the details with errors.As.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSchemaParse     = errors.New("schema parse error")
	ErrDependencyCycle = errors.New("dependency cycle")
	ErrSchemaConflict  = errors.New("schema conflict")
	ErrExecution       = errors.New("execution error")
)

// SchemaParseError reports a malformed declared schema
type SchemaParseError struct {
	Plugin string
	Table  string
	Column string
	Reason string
	Err    error
}

func (e *SchemaParseError) Error() string {
	return fmt.Sprintf("%s: plugin %q%s: %s", ErrSchemaParse, e.Plugin, location(e.Table, e.Column), e.Reason)
}

func (e *SchemaParseError) Is(target error) bool { return target == ErrSchemaParse }

func (e *SchemaParseError) Unwrap() error { return e.Err }

// DependencyCycleError reports a cycle the deferred foreign key pass could not break
type DependencyCycleError struct {
	Plugins []string
	Tables  []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("%s: unresolvable cycle between tables %s (plugins %s)",
		ErrDependencyCycle, strings.Join(e.Tables, ", "), strings.Join(e.Plugins, ", "))
}

func (e *DependencyCycleError) Is(target error) bool { return target == ErrDependencyCycle }

// SchemaConflictError reports a live column whose type is incompatible with its declaration
type SchemaConflictError struct {
	Plugin       string
	Table        string
	Column       string
	DeclaredType string
	ExistingType string
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("%s: plugin %q%s: declared type %s is incompatible with existing type %s",
		ErrSchemaConflict, e.Plugin, location(e.Table, e.Column), e.DeclaredType, e.ExistingType)
}

func (e *SchemaConflictError) Is(target error) bool { return target == ErrSchemaConflict }

// ExecutionError reports a DDL statement that failed or timed out
type ExecutionError struct {
	Plugin    string
	Table     string
	Operation string
	Statement string
	TimedOut  bool
	Err       error
}

func (e *ExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: plugin %q", ErrExecution, e.Plugin)
	if e.Operation != "" {
		fmt.Fprintf(&b, " operation %s", e.Operation)
	} else if e.Table != "" {
		fmt.Fprintf(&b, " table %q", e.Table)
	}
	if e.TimedOut {
		b.WriteString(": timed out")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }

func (e *ExecutionError) Unwrap() error { return e.Err }

func location(table, column string) string {
	switch {
	case table != "" && column != "":
		return fmt.Sprintf(" column %s.%s", table, column)
	case table != "":
		return fmt.Sprintf(" table %s", table)
	default:
		return ""
	}
}
