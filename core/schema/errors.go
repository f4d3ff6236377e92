package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/artpar/choices/core/typename"
)

// Sentinel error kinds. Every *Error matches exactly one of them.
var (
	ErrNotStruct             = errors.New("configuration must be a struct")
	ErrPlacement             = errors.New("annotation used at the wrong level")
	ErrUnknownAttribute      = errors.New("unknown annotation")
	ErrEmptyValue            = errors.New("empty annotation value")
	ErrConflictingAttributes = errors.New("conflicting annotations")
	ErrInvalidValue          = errors.New("invalid annotation value")
	ErrCallback              = errors.New("invalid callback")

	ErrUnsupportedType = typename.ErrUnsupportedType
	ErrTypeRendering   = typename.ErrTypeRendering
)

// Error pinpoints one offending declaration.
type Error struct {
	// Kind is one of the sentinel errors above.
	Kind error

	// Field is the Go field name, empty for struct-level problems.
	Field string

	// Attribute is the annotation name, empty when not tied to one.
	Attribute string

	Message string
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Field != "" {
		fmt.Fprintf(&b, "field %s: ", e.Field)
	} else {
		b.WriteString("struct: ")
	}
	if e.Attribute != "" {
		fmt.Fprintf(&b, "%q: ", e.Attribute)
	}
	b.WriteString(e.Kind.Error())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// ErrorList collects every schema error found during resolution.
type ErrorList []*Error

func (l ErrorList) Error() string {
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("schema errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

func (l ErrorList) Unwrap() []error {
	errs := make([]error, len(l))
	for i, e := range l {
		errs[i] = e
	}
	return errs
}

// Err returns l as an error, or nil when empty.
func (l ErrorList) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

func (l *ErrorList) add(kind error, field, attr, format string, args ...any) {
	*l = append(*l, &Error{
		Kind:      kind,
		Field:     field,
		Attribute: attr,
		Message:   fmt.Sprintf(format, args...),
	})
}
