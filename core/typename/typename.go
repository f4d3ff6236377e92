// Package typename renders Go field types as canonical display strings.
//
// A type is first lowered into a TypeExpr tree (a base name plus ordered
// generic arguments) and then rendered as base<arg1, arg2>. The same grammar
// is used by the text and structured index listings.
package typename

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// MaxDepth bounds recursion when lowering or rendering nested type expressions.
const MaxDepth = 32

var (
	// ErrUnsupportedType is returned for types that have no simple named or
	// generic form (func, chan, interface, anonymous or nested structs...).
	ErrUnsupportedType = errors.New("unsupported field type")

	// ErrTypeRendering is returned when a type expression exceeds MaxDepth or
	// is otherwise malformed.
	ErrTypeRendering = errors.New("type rendering failed")
)

// Container base names used when lowering builtin Go composite types.
const (
	OptionName = "Option"
	ListName   = "List"
	ArrayName  = "Array"
	MapName    = "Map"
)

var textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()

// TypeExpr is a type tree: a base name and zero or more type arguments.
type TypeExpr struct {
	Base string
	Args []TypeExpr
}

// Named returns a TypeExpr with the given base name and arguments.
func Named(base string, args ...TypeExpr) TypeExpr {
	return TypeExpr{Base: base, Args: args}
}

// String renders the expression, returning a placeholder on failure.
func (t TypeExpr) String() string {
	s, err := Render(t)
	if err != nil {
		return "<invalid>"
	}
	return s
}

// Render returns the canonical display string for t.
func Render(t TypeExpr) (string, error) {
	var b strings.Builder
	if err := render(&b, t, 0); err != nil {
		return "", err
	}
	return b.String(), nil
}

func render(b *strings.Builder, t TypeExpr, depth int) error {
	if depth >= MaxDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrTypeRendering, MaxDepth)
	}
	if t.Base == "" {
		return fmt.Errorf("%w: empty base name", ErrTypeRendering)
	}

	b.WriteString(t.Base)
	if len(t.Args) == 0 {
		return nil
	}

	b.WriteByte('<')
	for i, arg := range t.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		if err := render(b, arg, depth+1); err != nil {
			return err
		}
	}
	b.WriteByte('>')
	return nil
}

// FromType lowers a Go type into a TypeExpr.
func FromType(t reflect.Type) (TypeExpr, error) {
	if t == nil {
		return TypeExpr{}, fmt.Errorf("%w: nil type", ErrUnsupportedType)
	}
	return fromType(t, 0)
}

func fromType(t reflect.Type, depth int) (TypeExpr, error) {
	if depth >= MaxDepth {
		return TypeExpr{}, fmt.Errorf("%w: nesting deeper than %d", ErrTypeRendering, MaxDepth)
	}

	// Named types (including time.Duration and user scalars) keep their own name.
	if t.Name() != "" {
		if t.Kind() == reflect.Struct && !implementsText(t) {
			return TypeExpr{}, fmt.Errorf("%w: nested struct %s", ErrUnsupportedType, t)
		}
		if !supportedKind(t.Kind()) && !implementsText(t) {
			return TypeExpr{}, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
		}
		return parseName(t.Name(), depth)
	}

	switch t.Kind() {
	case reflect.Pointer:
		return wrap(OptionName, depth, t.Elem())
	case reflect.Slice:
		return wrap(ListName, depth, t.Elem())
	case reflect.Array:
		return wrap(ArrayName, depth, t.Elem())
	case reflect.Map:
		return wrap(MapName, depth, t.Key(), t.Elem())
	default:
		return TypeExpr{}, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
}

func wrap(base string, depth int, elems ...reflect.Type) (TypeExpr, error) {
	expr := TypeExpr{Base: base, Args: make([]TypeExpr, 0, len(elems))}
	for _, e := range elems {
		arg, err := fromType(e, depth+1)
		if err != nil {
			return TypeExpr{}, err
		}
		expr.Args = append(expr.Args, arg)
	}
	return expr, nil
}

func supportedKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Slice, reflect.Array, reflect.Map, reflect.Pointer:
		return true
	}
	return false
}

func implementsText(t reflect.Type) bool {
	return t.Implements(textMarshalerType) || reflect.PointerTo(t).Implements(textMarshalerType)
}

// parseName handles instantiated generic names as reported by reflect, e.g.
// "Pair[int,example.com/pkg.Port]" -> Pair<int, Port>.
func parseName(name string, depth int) (TypeExpr, error) {
	if depth >= MaxDepth {
		return TypeExpr{}, fmt.Errorf("%w: nesting deeper than %d", ErrTypeRendering, MaxDepth)
	}

	name = unqualify(name)
	i := strings.IndexByte(name, '[')
	if i <= 0 || strings.HasPrefix(name, "map[") || !strings.HasSuffix(name, "]") {
		// Builtin composite spellings inside type arguments are kept verbatim.
		return TypeExpr{Base: name}, nil
	}

	expr := TypeExpr{Base: name[:i]}
	for _, arg := range splitTopLevel(name[i+1 : len(name)-1]) {
		sub, err := parseName(arg, depth+1)
		if err != nil {
			return TypeExpr{}, err
		}
		expr.Args = append(expr.Args, sub)
	}
	return expr, nil
}

// splitTopLevel splits s at commas that are not nested inside brackets.
func splitTopLevel(s string) []string {
	var (
		parts []string
		level int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			level++
		case ']':
			level--
		case ',':
			if level == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}

// unqualify strips the import path from the leading identifier of a type
// name: "example.com/pkg.Port[int]" -> "Port[int]".
func unqualify(name string) string {
	head, rest := name, ""
	if i := strings.IndexByte(name, '['); i >= 0 {
		head, rest = name[:i], name[i:]
	}
	if i := strings.LastIndexByte(head, '/'); i >= 0 {
		head = head[i+1:]
	}
	if i := strings.IndexByte(head, '.'); i >= 0 {
		head = head[i+1:]
	}
	return head + rest
}

// Parse parses the rendered grammar ("Map<string, List<int>>") back into a
// TypeExpr.
func Parse(s string) (TypeExpr, error) {
	p := &parser{src: s, open: '<', close: '>', sep: ", "}
	return p.parse(0)
}

type parser struct {
	src   string
	pos   int
	open  byte
	close byte
	sep   string
}

func (p *parser) parse(depth int) (TypeExpr, error) {
	expr, err := p.expr(depth)
	if err != nil {
		return TypeExpr{}, err
	}
	if p.pos != len(p.src) {
		return TypeExpr{}, fmt.Errorf("%w: unexpected %q at offset %d in %q", ErrTypeRendering, p.src[p.pos:], p.pos, p.src)
	}
	return expr, nil
}

func (p *parser) expr(depth int) (TypeExpr, error) {
	if depth >= MaxDepth {
		return TypeExpr{}, fmt.Errorf("%w: nesting deeper than %d", ErrTypeRendering, MaxDepth)
	}

	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == p.open || c == p.close || c == ',' {
			break
		}
		p.pos++
	}

	base := strings.TrimSpace(p.src[start:p.pos])
	if base == "" {
		return TypeExpr{}, fmt.Errorf("%w: missing type name at offset %d in %q", ErrTypeRendering, start, p.src)
	}

	expr := TypeExpr{Base: base}
	if p.pos >= len(p.src) || p.src[p.pos] != p.open {
		return expr, nil
	}

	p.pos++
	for {
		arg, err := p.expr(depth + 1)
		if err != nil {
			return TypeExpr{}, err
		}
		expr.Args = append(expr.Args, arg)

		if p.pos >= len(p.src) {
			return TypeExpr{}, fmt.Errorf("%w: unterminated argument list in %q", ErrTypeRendering, p.src)
		}
		if p.src[p.pos] == p.close {
			p.pos++
			return expr, nil
		}
		if !strings.HasPrefix(p.src[p.pos:], p.sep) {
			return TypeExpr{}, fmt.Errorf("%w: expected %q at offset %d in %q", ErrTypeRendering, p.sep, p.pos, p.src)
		}
		p.pos += len(p.sep)
	}
}
