package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// TypeKind is a logical column type independent of any SQL dialect
type TypeKind string

const (
	TypeText      TypeKind = "text"
	TypeInteger   TypeKind = "integer"
	TypeBigInt    TypeKind = "bigint"
	TypeNumeric   TypeKind = "numeric"
	TypeBoolean   TypeKind = "boolean"
	TypeTimestamp TypeKind = "timestamp"
	TypeUUID      TypeKind = "uuid"
	TypeJSON      TypeKind = "json"
)

// ColumnType is a logical type with its parameters
type ColumnType struct {
	Kind TypeKind
	// Precision and Scale apply to numeric. A zero precision means unconstrained.
	Precision    int
	Scale        int
	WithTimeZone bool
}

// String renders the logical type in declaration syntax
func (t ColumnType) String() string {
	switch t.Kind {
	case TypeNumeric:
		if t.Precision > 0 {
			return fmt.Sprintf("numeric(%d,%d)", t.Precision, t.Scale)
		}
		return string(TypeNumeric)
	case TypeTimestamp:
		if t.WithTimeZone {
			return "timestamptz"
		}
		return string(TypeTimestamp)
	default:
		return string(t.Kind)
	}
}

var typeAliases = map[string]TypeKind{
	"text":    TypeText,
	"string":  TypeText,
	"integer": TypeInteger,
	"int":     TypeInteger,
	"bigint":  TypeBigInt,
	"numeric": TypeNumeric,
	"decimal": TypeNumeric,
	"boolean": TypeBoolean,
	"bool":    TypeBoolean,
	"uuid":    TypeUUID,
	"json":    TypeJSON,
	"jsonb":   TypeJSON,
}

// ParseColumnType parses a declared type such as "text", "numeric(10,2)" or "timestamptz".
// withTimeZone is the separately declared time-zone flag; nil when not given.
func ParseColumnType(declared string, withTimeZone *bool) (ColumnType, error) {
	s := strings.ToLower(strings.Join(strings.Fields(declared), " "))
	if s == "" {
		return ColumnType{}, fmt.Errorf("missing column type")
	}

	var t ColumnType
	switch s {
	case "timestamp", "timestamp without time zone":
		t = ColumnType{Kind: TypeTimestamp}
		if withTimeZone != nil {
			t.WithTimeZone = *withTimeZone
		}
		return t, nil
	case "timestamptz", "timestamp with time zone":
		if withTimeZone != nil && !*withTimeZone {
			return ColumnType{}, fmt.Errorf("type %q contradicts withTimeZone: false", declared)
		}
		return ColumnType{Kind: TypeTimestamp, WithTimeZone: true}, nil
	}

	if withTimeZone != nil {
		return ColumnType{}, fmt.Errorf("withTimeZone is only valid for timestamp columns, got %q", declared)
	}

	name, params, hasParams := strings.Cut(s, "(")
	kind, ok := typeAliases[strings.TrimSpace(name)]
	if !ok {
		return ColumnType{}, fmt.Errorf("unrecognized column type %q", declared)
	}
	t.Kind = kind
	if !hasParams {
		return t, nil
	}

	if kind != TypeNumeric {
		return ColumnType{}, fmt.Errorf("type %q does not take parameters", declared)
	}
	if !strings.HasSuffix(params, ")") {
		return ColumnType{}, fmt.Errorf("malformed column type %q", declared)
	}
	precision, scale, hasScale := strings.Cut(strings.TrimSuffix(params, ")"), ",")
	p, err := strconv.Atoi(strings.TrimSpace(precision))
	if err != nil || p <= 0 {
		return ColumnType{}, fmt.Errorf("invalid numeric precision in %q", declared)
	}
	t.Precision = p
	if hasScale {
		sc, err := strconv.Atoi(strings.TrimSpace(scale))
		if err != nil || sc < 0 || sc > p {
			return ColumnType{}, fmt.Errorf("invalid numeric scale in %q", declared)
		}
		t.Scale = sc
	}
	return t, nil
}

// DefaultKind distinguishes literal defaults from generated ones
type DefaultKind string

const (
	DefaultNone       DefaultKind = ""
	DefaultLiteral    DefaultKind = "literal"
	DefaultNow        DefaultKind = "now"
	DefaultRandomUUID DefaultKind = "random_uuid"
	DefaultExpression DefaultKind = "expression"
)

// Default is a column default value
type Default struct {
	Kind DefaultKind
	// Value is the literal text, the raw SQL expression, or the catalog's default text
	Value string
}

// IsZero reports whether no default is set
func (d Default) IsZero() bool {
	return d.Kind == DefaultNone
}

// String renders the default for display
func (d Default) String() string {
	switch d.Kind {
	case DefaultNone:
		return ""
	case DefaultNow:
		return "now()"
	case DefaultRandomUUID:
		return "random_uuid()"
	default:
		return d.Value
	}
}

// ParseDefault interprets a declared default for a column of type t.
// "now" and "random_uuid" select generators; anything else is a literal.
func ParseDefault(declared string, t ColumnType) (Default, error) {
	if declared == "" {
		return Default{}, nil
	}
	switch strings.ToLower(strings.TrimSpace(declared)) {
	case "now", "now()", "current_timestamp":
		if t.Kind != TypeTimestamp {
			return Default{}, fmt.Errorf("default %q requires a timestamp column, got %s", declared, t)
		}
		return Default{Kind: DefaultNow}, nil
	case "random_uuid", "random_uuid()", "gen_random_uuid()", "uuid()":
		if t.Kind != TypeUUID {
			return Default{}, fmt.Errorf("default %q requires a uuid column, got %s", declared, t)
		}
		return Default{Kind: DefaultRandomUUID}, nil
	}

	switch t.Kind {
	case TypeInteger, TypeBigInt:
		if _, err := strconv.ParseInt(declared, 10, 64); err != nil {
			return Default{}, fmt.Errorf("default %q is not an integer", declared)
		}
	case TypeNumeric:
		if _, err := strconv.ParseFloat(declared, 64); err != nil {
			return Default{}, fmt.Errorf("default %q is not numeric", declared)
		}
	case TypeBoolean:
		if _, err := strconv.ParseBool(declared); err != nil {
			return Default{}, fmt.Errorf("default %q is not a boolean", declared)
		}
	}
	return Default{Kind: DefaultLiteral, Value: declared}, nil
}
