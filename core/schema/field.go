package schema

import (
	"reflect"
	"strings"

	"github.com/artpar/choices/core/typename"
)

const (
	// DefaultRootPath is the listing resource path when none is declared.
	DefaultRootPath = "config"

	// DefaultRootMessage is the banner of the text listing.
	DefaultRootMessage = "Available configuration options:"
)

// Serialization selects the codec used for field values and the listing.
type Serialization int

const (
	SerializationText Serialization = iota
	SerializationJSON
	SerializationYAML
)

// String returns the serialization name.
func (s Serialization) String() string {
	switch s {
	case SerializationText:
		return "text"
	case SerializationJSON:
		return "json"
	case SerializationYAML:
		return "yaml"
	default:
		return "unknown"
	}
}

// Structured reports whether the listing is machine-parsable.
func (s Serialization) Structured() bool {
	return s == SerializationJSON || s == SerializationYAML
}

// LockKind selects the access discipline guarding the configuration.
type LockKind int

const (
	// LockNone means the host guarantees exclusive or read-only access.
	LockNone LockKind = iota
	// LockExclusive serializes every read and write behind one lock.
	LockExclusive
	// LockReadWrite allows concurrent readers and exclusive writers.
	LockReadWrite
)

// String returns the lock kind name as used in annotations.
func (k LockKind) String() string {
	switch k {
	case LockNone:
		return "none"
	case LockExclusive:
		return "exclusive"
	case LockReadWrite:
		return "rw"
	default:
		return "unknown"
	}
}

// ParseLockKind parses an annotation value into a LockKind.
func ParseLockKind(s string) (LockKind, bool) {
	switch strings.ToLower(s) {
	case "none":
		return LockNone, true
	case "exclusive", "mutex":
		return LockExclusive, true
	case "rw", "rw_lock", "rwlock":
		return LockReadWrite, true
	default:
		return LockNone, false
	}
}

// StructAttributes are the resolved struct-level annotations.
type StructAttributes struct {
	RootPath string

	// RootMessage is nil when no message was declared.
	RootMessage *string

	Serialization Serialization
	Lock          LockKind
}

// Message returns the listing banner, falling back to DefaultRootMessage.
func (a StructAttributes) Message() string {
	if a.RootMessage == nil {
		return DefaultRootMessage
	}
	return *a.RootMessage
}

// FieldAttributes are the resolved field-level annotations.
type FieldAttributes struct {
	Skip      bool
	HideRead  bool
	HideWrite bool

	// OnSet and Validator name methods on the pointer-to-struct type.
	OnSet     string
	Validator string

	Constraints []Constraint
}

// FieldSpec describes one exposed configuration field.
type FieldSpec struct {
	// Name is the route segment and listing name.
	Name string

	// GoName is the struct field name.
	GoName string

	// Index is the reflect field index within the struct.
	Index []int

	Type     reflect.Type
	TypeExpr typename.TypeExpr

	// TypeName is TypeExpr rendered.
	TypeName string

	Attributes FieldAttributes

	// OnSetMethod and ValidatorMethod are the resolved callback methods,
	// zero when not declared.
	OnSetMethod     reflect.Method
	ValidatorMethod reflect.Method
}

// Readable reports whether the field has a read resource.
func (f FieldSpec) Readable() bool {
	return !f.Attributes.Skip && !f.Attributes.HideRead
}

// Writable reports whether the field has a write resource.
func (f FieldSpec) Writable() bool {
	return !f.Attributes.Skip && !f.Attributes.HideWrite
}

// Compiled is the immutable result of resolving a configuration struct.
type Compiled struct {
	// Type is the configuration struct type.
	Type reflect.Type

	// Fields holds every exported field in declaration order, including
	// skipped ones.
	Fields []FieldSpec

	Attrs StructAttributes

	byName map[string]int
}

// Visible returns the non-skipped fields in declaration order.
func (c *Compiled) Visible() []FieldSpec {
	out := make([]FieldSpec, 0, len(c.Fields))
	for _, f := range c.Fields {
		if !f.Attributes.Skip {
			out = append(out, f)
		}
	}
	return out
}

// Field returns the non-skipped field with the given route name.
func (c *Compiled) Field(name string) (FieldSpec, bool) {
	i, ok := c.byName[name]
	if !ok {
		return FieldSpec{}, false
	}
	return c.Fields[i], true
}

// FieldPath returns the route of a field: {root_path}/{name}.
func (c *Compiled) FieldPath(name string) string {
	return "/" + c.Attrs.RootPath + "/" + name
}

// RootPath returns the route of the listing resource.
func (c *Compiled) RootPath() string {
	return "/" + c.Attrs.RootPath
}

// SnakeCase converts a Go identifier to its default route segment:
// "LogFile" -> "log_file", "HTTPPort" -> "http_port".
func SnakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	b.Grow(len(name) + 4)

	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prev := runes[i-1]
			prevLower := (prev >= 'a' && prev <= 'z') || (prev >= '0' && prev <= '9')
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			prevUpper := prev >= 'A' && prev <= 'Z'
			if prevLower || (prevUpper && nextLower) {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
