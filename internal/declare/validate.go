package declare

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

const identifierMaxLength = 63

var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// V returns the shared validator with the identifier rule registered
func V() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("identifier", identifierValidator)
	})
	return validate
}

// identifierValidator accepts plain SQL identifiers that need no quoting tricks
func identifierValidator(fl validator.FieldLevel) bool {
	return IsIdentifier(fl.Field().String())
}

// IsIdentifier reports whether s is usable as a table, column or constraint name
func IsIdentifier(s string) bool {
	return len(s) <= identifierMaxLength && identifierRegex.MatchString(s)
}

// Validate checks the structural rules of a declaration. Semantic rules such as type
// names and primary key resolution are checked when the declaration is parsed.
func Validate(s PluginSchema) error {
	err := V().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "identifier":
		return fmt.Errorf("%s: %q is not a valid identifier", fe.Namespace(), fe.Value())
	case "required":
		return fmt.Errorf("%s is required", fe.Namespace())
	case "min":
		return fmt.Errorf("%s must have at least %s entries", fe.Namespace(), fe.Param())
	default:
		return fmt.Errorf("%s failed %s validation", fe.Namespace(), fe.Tag())
	}
}
