package errdefs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClasses(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		contains string
	}{
		{
			name:     "parse",
			err:      &SchemaParseError{Plugin: "blog", Table: "posts", Column: "body", Reason: `unrecognized column type "blob"`},
			sentinel: ErrSchemaParse,
			contains: `column posts.body: unrecognized column type "blob"`,
		},
		{
			name:     "cycle",
			err:      &DependencyCycleError{Plugins: []string{"a", "b"}, Tables: []string{"a.x", "b.y"}},
			sentinel: ErrDependencyCycle,
			contains: "a.x, b.y",
		},
		{
			name:     "conflict",
			err:      &SchemaConflictError{Plugin: "blog", Table: "authors", Column: "id", DeclaredType: "uuid", ExistingType: "integer"},
			sentinel: ErrSchemaConflict,
			contains: "declared type uuid is incompatible with existing type integer",
		},
		{
			name:     "execution",
			err:      &ExecutionError{Plugin: "blog", Operation: "CreateTable(blog.authors)", TimedOut: true, Err: context.DeadlineExceeded},
			sentinel: ErrExecution,
			contains: "operation CreateTable(blog.authors): timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("failed to migrate: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Contains(t, tt.err.Error(), tt.contains)

			for _, other := range []error{ErrSchemaParse, ErrDependencyCycle, ErrSchemaConflict, ErrExecution} {
				if other != tt.sentinel {
					assert.False(t, errors.Is(tt.err, other), "%v must not match %v", tt.err, other)
				}
			}
		})
	}
}

func TestExecutionErrorUnwrap(t *testing.T) {
	err := &ExecutionError{Plugin: "blog", Err: context.Canceled}
	assert.ErrorIs(t, err, context.Canceled)

	var execErr *ExecutionError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &execErr))
	assert.Equal(t, "blog", execErr.Plugin)
}
