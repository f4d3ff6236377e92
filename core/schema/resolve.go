package schema

import (
	"errors"
	"reflect"
	"strings"

	"github.com/artpar/choices/core/typename"
)

type level int

const (
	levelStruct level = iota
	levelField
)

func (l level) String() string {
	if l == levelStruct {
		return "struct"
	}
	return "field"
}

type annotationSpec struct {
	level      level
	takesValue bool
	allowEmpty bool
}

var annotationSpecs = map[string]annotationSpec{
	// struct level
	"path":    {level: levelStruct, takesValue: true},
	"message": {level: levelStruct, takesValue: true, allowEmpty: true},
	"text":    {level: levelStruct},
	"json":    {level: levelStruct},
	"yaml":    {level: levelStruct},
	"lock":    {level: levelStruct, takesValue: true},
	"mutex":   {level: levelStruct},
	"rw_lock": {level: levelStruct},

	// field level
	"skip":       {level: levelField},
	"hide_get":   {level: levelField},
	"hide_put":   {level: levelField},
	"hide_read":  {level: levelField},
	"hide_write": {level: levelField},
	"name":       {level: levelField, takesValue: true},
	"on_set":     {level: levelField, takesValue: true},
	"validator":  {level: levelField, takesValue: true},

	string(ConstraintMin):       {level: levelField, takesValue: true},
	string(ConstraintMax):       {level: levelField, takesValue: true},
	string(ConstraintMinLength): {level: levelField, takesValue: true},
	string(ConstraintMaxLength): {level: levelField, takesValue: true},
	string(ConstraintPattern):   {level: levelField, takesValue: true},
	string(ConstraintNotEmpty):  {level: levelField},
	string(ConstraintOneOf):     {level: levelField, takesValue: true},
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// reservedRouteChars may not appear in route segments.
const reservedRouteChars = " {}*?#%"

// Option configures Resolve.
type Option func(*resolveOptions)

type resolveOptions struct {
	structAnnotations []Annotation
}

// WithStructAnnotations appends struct-level annotations after the ones
// declared on the marker field. They go through the same checks.
func WithStructAnnotations(as ...Annotation) Option {
	return func(o *resolveOptions) {
		o.structAnnotations = append(o.structAnnotations, as...)
	}
}

// Resolve compiles the annotations of a configuration struct type into a
// schema. It reports every problem it finds as an ErrorList.
func Resolve(t reflect.Type, opts ...Option) (*Compiled, error) {
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}

	var errs ErrorList

	if t == nil {
		errs.add(ErrNotStruct, "", "", "got nil type")
		return nil, errs
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		errs.add(ErrNotStruct, "", "", "got %s", t)
		return nil, errs
	}

	r := resolver{typ: t, ptr: reflect.PointerTo(t), errs: &errs}

	var structAnns []Annotation
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Name != "_" {
			continue
		}
		anns, ok := r.parseTag(sf, "")
		if ok {
			structAnns = append(structAnns, anns...)
		}
	}
	structAnns = append(structAnns, o.structAnnotations...)

	compiled := &Compiled{
		Type:   t,
		Attrs:  r.structAttributes(structAnns),
		byName: make(map[string]int),
	}

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Name == "_" {
			continue
		}
		spec, ok := r.field(sf)
		if !ok {
			continue
		}

		if !spec.Attributes.Skip {
			if prev, dup := compiled.byName[spec.Name]; dup {
				errs.add(ErrConflictingAttributes, sf.Name, "name",
					"route name %q already used by field %s", spec.Name, compiled.Fields[prev].GoName)
				continue
			}
			compiled.byName[spec.Name] = len(compiled.Fields)
		}
		compiled.Fields = append(compiled.Fields, spec)
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return compiled, nil
}

type resolver struct {
	typ  reflect.Type
	ptr  reflect.Type
	errs *ErrorList
}

// parseTag parses the choices tag of sf. field is empty for the marker.
func (r *resolver) parseTag(sf reflect.StructField, field string) ([]Annotation, bool) {
	tag, ok := sf.Tag.Lookup(TagKey)
	if !ok {
		return nil, true
	}
	anns, err := ParseTag(tag)
	if err != nil {
		r.errs.add(ErrUnknownAttribute, field, "", "malformed tag %q: %v", tag, err)
		return nil, false
	}
	return anns, true
}

// check validates name, placement and form of an annotation.
func (r *resolver) check(a Annotation, at level, field string) bool {
	spec, ok := annotationSpecs[a.Name]
	if !ok {
		r.errs.add(ErrUnknownAttribute, field, a.Name, "unexpected annotation %s", a)
		return false
	}
	if spec.level != at {
		r.errs.add(ErrPlacement, field, a.Name, "can be used only on %s level", spec.level)
		return false
	}
	if spec.takesValue != a.HasValue {
		if spec.takesValue {
			r.errs.add(ErrUnknownAttribute, field, a.Name, "expected %s=<value>", a.Name)
		} else {
			r.errs.add(ErrUnknownAttribute, field, a.Name, "%s does not take a value", a.Name)
		}
		return false
	}
	if spec.takesValue && !spec.allowEmpty && strings.TrimSpace(a.Value) == "" {
		r.errs.add(ErrEmptyValue, field, a.Name, "%s=\"\" is not allowed", a.Name)
		return false
	}
	return true
}

func (r *resolver) structAttributes(anns []Annotation) StructAttributes {
	attrs := StructAttributes{RootPath: DefaultRootPath}

	var serialization, lock *Annotation
	setSerialization := func(a Annotation, s Serialization) {
		if serialization != nil && attrs.Serialization != s {
			r.errs.add(ErrConflictingAttributes, "", a.Name, "serialization already set by %s", serialization)
			return
		}
		serialization = &a
		attrs.Serialization = s
	}
	setLock := func(a Annotation, k LockKind) {
		if lock != nil && attrs.Lock != k {
			r.errs.add(ErrConflictingAttributes, "", a.Name, "lock already set by %s", lock)
			return
		}
		lock = &a
		attrs.Lock = k
	}

	for _, a := range anns {
		if !r.check(a, levelStruct, "") {
			continue
		}

		switch a.Name {
		case "path":
			path := strings.Trim(a.Value, "/ ")
			if path == "" {
				r.errs.add(ErrEmptyValue, "", a.Name, "path %q has no segments", a.Value)
				continue
			}
			if strings.ContainsAny(path, reservedRouteChars) {
				r.errs.add(ErrInvalidValue, "", a.Name, "path %q contains a reserved character", a.Value)
				continue
			}
			attrs.RootPath = path
		case "message":
			msg := a.Value
			attrs.RootMessage = &msg
		case "text":
			setSerialization(a, SerializationText)
		case "json":
			setSerialization(a, SerializationJSON)
		case "yaml":
			setSerialization(a, SerializationYAML)
		case "lock":
			k, ok := ParseLockKind(a.Value)
			if !ok {
				r.errs.add(ErrInvalidValue, "", a.Name, "unknown lock kind %q (want none, exclusive or rw)", a.Value)
				continue
			}
			setLock(a, k)
		case "mutex":
			setLock(a, LockExclusive)
		case "rw_lock":
			setLock(a, LockReadWrite)
		}
	}

	if attrs.Serialization.Structured() && attrs.RootMessage != nil && *attrs.RootMessage != DefaultRootMessage {
		r.errs.add(ErrConflictingAttributes, "", "message",
			"a custom message cannot be combined with %s serialization", attrs.Serialization)
	}

	return attrs
}

func (r *resolver) field(sf reflect.StructField) (FieldSpec, bool) {
	anns, ok := r.parseTag(sf, sf.Name)
	if !ok {
		return FieldSpec{}, false
	}

	spec := FieldSpec{
		Name:   SnakeCase(sf.Name),
		GoName: sf.Name,
		Index:  sf.Index,
		Type:   sf.Type,
	}

	var constraints []Annotation
	valid := true
	for _, a := range anns {
		if !r.check(a, levelField, sf.Name) {
			valid = false
			continue
		}

		switch a.Name {
		case "skip":
			spec.Attributes.Skip = true
		case "hide_get", "hide_read":
			spec.Attributes.HideRead = true
		case "hide_put", "hide_write":
			spec.Attributes.HideWrite = true
		case "name":
			if strings.ContainsAny(a.Value, "/"+reservedRouteChars) {
				r.errs.add(ErrInvalidValue, sf.Name, a.Name, "route name %q must be a single path segment", a.Value)
				valid = false
				continue
			}
			spec.Name = a.Value
		case "on_set":
			spec.Attributes.OnSet = a.Value
		case "validator":
			spec.Attributes.Validator = a.Value
		default:
			constraints = append(constraints, a)
		}
	}

	// Unexported fields never take part in routing.
	if !sf.IsExported() {
		if len(anns) > 0 && !spec.Attributes.Skip {
			r.errs.add(ErrInvalidValue, sf.Name, "", "unexported fields cannot be exposed")
			return FieldSpec{}, false
		}
		return FieldSpec{}, false
	}

	if spec.Attributes.Skip {
		return spec, valid
	}

	expr, err := typename.FromType(sf.Type)
	if err != nil {
		kind := ErrUnsupportedType
		if errors.Is(err, ErrTypeRendering) {
			kind = ErrTypeRendering
		}
		r.errs.add(kind, sf.Name, "", "%v", err)
		return FieldSpec{}, false
	}
	spec.TypeExpr = expr
	if spec.TypeName, err = typename.Render(expr); err != nil {
		r.errs.add(ErrTypeRendering, sf.Name, "", "%v", err)
		return FieldSpec{}, false
	}

	for _, a := range constraints {
		c, err := compileConstraint(ConstraintType(a.Name), a.Value, sf.Type)
		if err != nil {
			r.errs.add(ErrInvalidValue, sf.Name, a.Name, "%v", err)
			valid = false
			continue
		}
		spec.Attributes.Constraints = append(spec.Attributes.Constraints, c)
	}

	if name := spec.Attributes.Validator; name != "" {
		m, ok := r.method(sf, "validator", name, []reflect.Type{errorType})
		valid = valid && ok
		spec.ValidatorMethod = m
	}
	if name := spec.Attributes.OnSet; name != "" {
		m, ok := r.method(sf, "on_set", name, nil)
		valid = valid && ok
		spec.OnSetMethod = m
	}

	return spec, valid
}

// method looks up a callback on the pointer-to-struct type and checks that
// it takes exactly the field type and returns outs.
func (r *resolver) method(sf reflect.StructField, attr, name string, outs []reflect.Type) (reflect.Method, bool) {
	m, ok := r.ptr.MethodByName(name)
	if !ok {
		r.errs.add(ErrCallback, sf.Name, attr, "method %s not found on %s", name, r.ptr)
		return reflect.Method{}, false
	}

	mt := m.Type // includes the receiver
	okSig := mt.NumIn() == 2 && mt.In(1) == sf.Type && mt.NumOut() == len(outs)
	for i := 0; okSig && i < len(outs); i++ {
		okSig = mt.Out(i) == outs[i]
	}
	if !okSig {
		want := "func(" + sf.Type.String() + ")"
		if len(outs) > 0 {
			want += " error"
		}
		r.errs.add(ErrCallback, sf.Name, attr, "method %s has signature %s, want %s", name, mt, want)
		return reflect.Method{}, false
	}
	return m, true
}
