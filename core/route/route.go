// Package route compiles a resolved schema into a routing table: one index
// route and, per field, a read and a write handler wired to the struct's
// codec and access discipline. Handlers and programmatic setters share the
// same Binding, so both run the same write pipeline.
package route

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"

	"github.com/artpar/choices/core/access"
	"github.com/artpar/choices/core/codec"
	"github.com/artpar/choices/core/events"
	"github.com/artpar/choices/core/index"
	"github.com/artpar/choices/core/pipeline"
	"github.com/artpar/choices/core/schema"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// DefaultBodyLimit caps PUT bodies.
const DefaultBodyLimit = 16 * 1024

// ErrUnknownField is returned for names that have no binding.
var ErrUnknownField = errors.New("unknown field")

// Observer receives field-level measurements. The metrics collector
// implements it.
type Observer interface {
	FieldRead(field string)
	FieldWritten(field string, source events.Source)
	ValidationFailed(field string)
	ParseFailed(field string)
	AccessFailed(op access.Op, kind schema.LockKind)
}

type nopObserver struct{}

func (nopObserver) FieldRead(string)                         {}
func (nopObserver) FieldWritten(string, events.Source)       {}
func (nopObserver) ValidationFailed(string)                  {}
func (nopObserver) ParseFailed(string)                       {}
func (nopObserver) AccessFailed(access.Op, schema.LockKind) {}

// Callbacks are validators and hooks registered in code rather than tags.
// They run after the ones declared on the struct.
type Callbacks struct {
	Validators []pipeline.Validator
	Hooks      []pipeline.Hook
}

// Options configure Compile. Zero values select defaults.
type Options struct {
	Codec     codec.Codec
	Access    access.Discipline
	Bus       *events.Bus
	Observer  Observer
	Logger    zerolog.Logger
	BodyLimit int64

	// Callbacks are keyed by field route name.
	Callbacks map[string]Callbacks
}

// Route is one field resource. Read or Write is nil when hidden.
type Route struct {
	Path  string
	Field string
	Read  http.Handler
	Write http.Handler
}

// Table is the compiled routing table of one configuration value.
type Table struct {
	Schema *schema.Compiled
	Index  index.Index

	// Routes lists field resources in declaration order. Fields hidden for
	// both verbs have no route.
	Routes []*Route

	bindings []*Binding
	byName   map[string]*Binding

	target    reflect.Value
	codec     codec.Codec
	access    access.Discipline
	bus       *events.Bus
	observer  Observer
	logger    zerolog.Logger
	bodyLimit int64
}

// Compile builds the table for target, a non-nil pointer to a struct of the
// schema's type.
func Compile(s *schema.Compiled, target any, opts Options) (*Table, error) {
	ptr := reflect.ValueOf(target)
	if !ptr.IsValid() || ptr.Kind() != reflect.Pointer || ptr.IsNil() {
		return nil, fmt.Errorf("%w: want a non-nil pointer, got %T", schema.ErrNotStruct, target)
	}
	if ptr.Elem().Type() != s.Type {
		return nil, fmt.Errorf("%w: target is %s, schema describes %s", schema.ErrNotStruct, ptr.Elem().Type(), s.Type)
	}

	t := &Table{
		Schema:    s,
		byName:    make(map[string]*Binding),
		target:    ptr.Elem(),
		codec:     opts.Codec,
		access:    opts.Access,
		bus:       opts.Bus,
		observer:  opts.Observer,
		logger:    opts.Logger,
		bodyLimit: opts.BodyLimit,
	}
	if t.codec == nil {
		c, err := codec.For(s.Attrs.Serialization)
		if err != nil {
			return nil, err
		}
		t.codec = c
	}
	if t.access == nil {
		d, err := access.New(s.Attrs.Lock)
		if err != nil {
			return nil, err
		}
		t.access = d
	}
	if t.observer == nil {
		t.observer = nopObserver{}
	}
	if t.bodyLimit <= 0 {
		t.bodyLimit = DefaultBodyLimit
	}

	var errs schema.ErrorList
	for _, f := range s.Visible() {
		if err := t.codec.Supports(f.Type); err != nil {
			errs = append(errs, &schema.Error{Kind: schema.ErrUnsupportedType, Field: f.GoName, Message: err.Error()})
			continue
		}

		b := &Binding{
			Field:    f,
			Path:     s.FieldPath(f.Name),
			table:    t,
			pipeline: pipeline.ForField(f, ptr),
		}
		t.bindings = append(t.bindings, b)
		t.byName[f.Name] = b

		// Without a lock the value cannot be mutated safely while it is
		// being served, so only reads are exposed.
		writable := f.Writable() && t.access.Kind() != schema.LockNone
		if !f.Readable() && !writable {
			continue
		}
		r := &Route{Path: b.Path, Field: f.Name}
		if f.Readable() {
			r.Read = http.HandlerFunc(b.serveRead)
		}
		if writable {
			r.Write = http.HandlerFunc(b.serveWrite)
		}
		t.Routes = append(t.Routes, r)
	}

	for name, cb := range opts.Callbacks {
		b, ok := t.byName[name]
		if !ok {
			errs = append(errs, &schema.Error{Kind: schema.ErrCallback, Message: fmt.Sprintf("callback registered for unknown field %q", name)})
			continue
		}
		b.pipeline.Validators = append(b.pipeline.Validators, cb.Validators...)
		b.pipeline.Hooks = append(b.pipeline.Hooks, cb.Hooks...)
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}

	idx, err := index.Build(s, t.codec)
	if err != nil {
		return nil, err
	}
	t.Index = idx
	return t, nil
}

// Codec returns the serialization backend of the table.
func (t *Table) Codec() codec.Codec { return t.codec }

// Access returns the access discipline guarding the target.
func (t *Table) Access() access.Discipline { return t.access }

// Binding returns the binding of a non-skipped field.
func (t *Table) Binding(name string) (*Binding, bool) {
	b, ok := t.byName[name]
	return b, ok
}

// Bindings returns every non-skipped field binding in declaration order.
func (t *Table) Bindings() []*Binding {
	out := make([]*Binding, len(t.bindings))
	copy(out, t.bindings)
	return out
}

// Register mounts the index and field routes on r. A verb hidden on an
// existing field answers 404; other verbs are left to the router's 405.
// Without a lock no field takes PUT, which also answers 405.
func (t *Table) Register(r chi.Router) {
	r.Get(t.Schema.RootPath(), t.serveIndex)

	locked := t.access.Kind() != schema.LockNone
	for _, rt := range t.Routes {
		if rt.Read != nil {
			r.Method(http.MethodGet, rt.Path, rt.Read)
		} else {
			r.Get(rt.Path, http.NotFound)
		}
		if rt.Write != nil {
			r.Method(http.MethodPut, rt.Path, rt.Write)
		} else if locked {
			r.Put(rt.Path, http.NotFound)
		}
	}
}

// Handler returns a router serving only this table.
func (t *Table) Handler() http.Handler {
	r := chi.NewRouter()
	t.Register(r)
	return r
}

// Direct runs fn with write access held and no pipeline. It is the
// explicit escape hatch for mutating the target without validators,
// hooks or change events.
func (t *Table) Direct(ctx context.Context, fn func()) error {
	err := access.Write(ctx, t.access, func() error {
		fn()
		return nil
	})
	if err != nil {
		t.accessFailed(err)
	}
	return err
}

// View runs fn with read access held.
func (t *Table) View(ctx context.Context, fn func()) error {
	err := access.Read(ctx, t.access, func() error {
		fn()
		return nil
	})
	if err != nil {
		t.accessFailed(err)
	}
	return err
}

func (t *Table) accessFailed(err error) {
	var ae *access.Error
	if errors.As(err, &ae) {
		t.observer.AccessFailed(ae.Op, ae.Kind)
	}
}

func (t *Table) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", t.Index.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(t.Index.Body)
}
