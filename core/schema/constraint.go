package schema

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// ConstraintType identifies a declarative validation rule.
type ConstraintType string

const (
	// Numeric constraints
	ConstraintMin ConstraintType = "min"
	ConstraintMax ConstraintType = "max"

	// Length constraints (strings, slices, maps)
	ConstraintMinLength ConstraintType = "min_len"
	ConstraintMaxLength ConstraintType = "max_len"

	// String constraints
	ConstraintPattern  ConstraintType = "pattern"
	ConstraintNotEmpty ConstraintType = "not_empty"

	// Any scalar
	ConstraintOneOf ConstraintType = "one_of"
)

// Constraint is a compiled validation rule for a field.
type Constraint struct {
	Type ConstraintType

	// Arg is the annotation value as written.
	Arg string

	number  float64
	length  int
	re      *regexp.Regexp
	options []string
}

// ConstraintError represents a validation failure.
type ConstraintError struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
	Value      any    `json:"value,omitempty"`
	Message    string `json:"message"`
}

func (e ConstraintError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// compileConstraint parses the annotation argument and checks that the
// constraint applies to the field type.
func compileConstraint(ct ConstraintType, arg string, t reflect.Type) (Constraint, error) {
	c := Constraint{Type: ct, Arg: arg}
	base := indirect(t)

	switch ct {
	case ConstraintMin, ConstraintMax:
		if !isNumeric(base.Kind()) {
			return c, fmt.Errorf("%s applies to numeric fields, not %s", ct, t)
		}
		n, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return c, fmt.Errorf("%s: %q is not a number", ct, arg)
		}
		c.number = n

	case ConstraintMinLength, ConstraintMaxLength:
		switch base.Kind() {
		case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		default:
			return c, fmt.Errorf("%s applies to strings, slices and maps, not %s", ct, t)
		}
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return c, fmt.Errorf("%s: %q is not a length", ct, arg)
		}
		c.length = n

	case ConstraintPattern:
		if base.Kind() != reflect.String {
			return c, fmt.Errorf("%s applies to string fields, not %s", ct, t)
		}
		re, err := regexp.Compile(arg)
		if err != nil {
			return c, fmt.Errorf("%s: %w", ct, err)
		}
		c.re = re

	case ConstraintNotEmpty:
		if base.Kind() != reflect.String {
			return c, fmt.Errorf("%s applies to string fields, not %s", ct, t)
		}

	case ConstraintOneOf:
		if !isNumeric(base.Kind()) && base.Kind() != reflect.String && base.Kind() != reflect.Bool {
			return c, fmt.Errorf("%s applies to scalar fields, not %s", ct, t)
		}
		for _, opt := range strings.Split(arg, "|") {
			if opt = strings.TrimSpace(opt); opt != "" {
				c.options = append(c.options, opt)
			}
		}
		if len(c.options) == 0 {
			return c, fmt.Errorf("%s: no options given", ct)
		}

	default:
		return c, fmt.Errorf("unknown constraint %q", ct)
	}

	return c, nil
}

// Check validates v against the constraint. Nil optionals always pass.
// NaN fails every numeric bound.
func (c Constraint) Check(field string, v reflect.Value) *ConstraintError {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	fail := func(value any, format string, args ...any) *ConstraintError {
		return &ConstraintError{
			Field:      field,
			Constraint: string(c.Type),
			Value:      value,
			Message:    fmt.Sprintf(format, args...),
		}
	}

	switch c.Type {
	case ConstraintMin:
		if n := toFloat64(v); n < c.number || math.IsNaN(n) {
			return fail(v.Interface(), "must be at least %v", c.Arg)
		}
	case ConstraintMax:
		if n := toFloat64(v); n > c.number || math.IsNaN(n) {
			return fail(v.Interface(), "must be at most %v", c.Arg)
		}
	case ConstraintMinLength:
		if v.Len() < c.length {
			return fail(v.Len(), "must have at least %d elements", c.length)
		}
	case ConstraintMaxLength:
		if v.Len() > c.length {
			return fail(v.Len(), "must have at most %d elements", c.length)
		}
	case ConstraintPattern:
		if !c.re.MatchString(v.String()) {
			return fail(v.String(), "does not match pattern %s", c.Arg)
		}
	case ConstraintNotEmpty:
		if strings.TrimSpace(v.String()) == "" {
			return fail(v.String(), "must not be empty")
		}
	case ConstraintOneOf:
		s := fmt.Sprintf("%v", v.Interface())
		for _, opt := range c.options {
			if opt == s {
				return nil
			}
		}
		return fail(s, "must be one of: %s", strings.Join(c.options, ", "))
	}
	return nil
}

// CheckAll runs every constraint and returns the first failure.
func CheckAll(field string, cs []Constraint, v reflect.Value) error {
	for _, c := range cs {
		if err := c.Check(field, v); err != nil {
			return *err
		}
	}
	return nil
}

func indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func toFloat64(v reflect.Value) float64 {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint())
	case reflect.Float32, reflect.Float64:
		return v.Float()
	default:
		return 0
	}
}
