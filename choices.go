package choices

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"sync"
	"time"

	apihttp "github.com/artpar/choices/adapters/http"
	"github.com/artpar/choices/adapters/metrics"
	"github.com/artpar/choices/bootstrap"
	"github.com/artpar/choices/core/events"
	"github.com/artpar/choices/core/index"
	"github.com/artpar/choices/core/pipeline"
	"github.com/artpar/choices/core/route"
	"github.com/artpar/choices/core/schema"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Choices exposes one configuration struct of type T over HTTP.
type Choices[T any] struct {
	cfg     *T
	table   *route.Table
	bus     *events.Bus
	logger  zerolog.Logger
	metrics *metrics.Collector

	handlerOnce sync.Once
	handler     http.Handler
}

// New resolves the annotations of T, compiles its routes and binds them
// to cfg. cfg must stay alive and must only be mutated through the
// returned value while it is served.
func New[T any](cfg *T, opts ...Option) (*Choices[T], error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil configuration", schema.ErrNotStruct)
	}

	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	s, err := schema.Resolve(reflect.TypeOf(cfg), schema.WithStructAnnotations(o.annotations...))
	if err != nil {
		return nil, err
	}

	callbacks, err := o.callbacks(s)
	if err != nil {
		return nil, err
	}

	bus := o.bus
	if bus == nil {
		bus = events.NewBus(o.logger)
	}

	ro := route.Options{
		Bus:       bus,
		Logger:    o.logger,
		BodyLimit: o.bodyLimit,
		Callbacks: callbacks,
	}
	if o.metrics != nil {
		ro.Observer = o.metrics
	}

	table, err := route.Compile(s, cfg, ro)
	if err != nil {
		return nil, err
	}

	return &Choices[T]{
		cfg:     cfg,
		table:   table,
		bus:     bus,
		logger:  o.logger,
		metrics: o.metrics,
	}, nil
}

func (o *options) callbacks(s *schema.Compiled) (map[string]route.Callbacks, error) {
	out := make(map[string]route.Callbacks)
	var errs schema.ErrorList

	field := func(name string) (schema.FieldSpec, bool) {
		f, ok := s.Field(name)
		if !ok {
			errs = append(errs, &schema.Error{Kind: schema.ErrCallback, Message: fmt.Sprintf("callback registered for unknown field %q", name)})
		}
		return f, ok
	}

	for name, fns := range o.validators {
		f, ok := field(name)
		if !ok {
			continue
		}
		cb := out[name]
		for _, fn := range fns {
			v, err := pipeline.ValidatorFunc(fn, f.Type)
			if err != nil {
				errs = append(errs, &schema.Error{Kind: schema.ErrCallback, Field: f.GoName, Attribute: "validator", Message: err.Error()})
				continue
			}
			cb.Validators = append(cb.Validators, v)
		}
		out[name] = cb
	}
	for name, fns := range o.hooks {
		f, ok := field(name)
		if !ok {
			continue
		}
		cb := out[name]
		for _, fn := range fns {
			h, err := pipeline.HookFunc(fn, f.Type)
			if err != nil {
				errs = append(errs, &schema.Error{Kind: schema.ErrCallback, Field: f.GoName, Attribute: "on_set", Message: err.Error()})
				continue
			}
			cb.Hooks = append(cb.Hooks, h)
		}
		out[name] = cb
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Schema returns the resolved schema.
func (c *Choices[T]) Schema() *schema.Compiled { return c.table.Schema }

// Table returns the compiled route table, for mounting on an existing
// router with Table().Register.
func (c *Choices[T]) Table() *route.Table { return c.table }

// Routes lists the field resources in declaration order.
func (c *Choices[T]) Routes() []*route.Route { return c.table.Routes }

// Index returns the listing served at the root path.
func (c *Choices[T]) Index() index.Index { return c.table.Index }

// Bus returns the bus change events are published on.
func (c *Choices[T]) Bus() *events.Bus { return c.bus }

// Handler returns an http.Handler serving the listing and every field,
// wrapped in request logging and panic recovery. With WithMetrics the
// handler also serves /metrics.
func (c *Choices[T]) Handler() http.Handler {
	c.handlerOnce.Do(func() {
		c.handler = apihttp.NewRouterWithConfig(c.logger, apihttp.RouterConfig{Metrics: c.metrics}, c.table)
	})
	return c.handler
}

// Run serves Handler on addr until ctx is done, then shuts down
// gracefully.
func (c *Choices[T]) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      c.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return bootstrap.Serve(ctx, srv, c.logger, 30*time.Second)
}

func (c *Choices[T]) binding(name string) (*route.Binding, error) {
	b, ok := c.table.Binding(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", route.ErrUnknownField, name)
	}
	return b, nil
}

// Get returns the current value of the named field. Scalars are copies;
// slices, maps and pointers share storage with the live value, as with
// Snapshot, and must not be mutated.
func (c *Choices[T]) Get(ctx context.Context, field string) (any, error) {
	b, err := c.binding(field)
	if err != nil {
		return nil, err
	}
	return b.Get(ctx)
}

// Set runs the named field's setter pipeline with value. Untyped numeric
// constants convert to the field type when they fit.
func (c *Choices[T]) Set(ctx context.Context, field string, value any) error {
	b, err := c.binding(field)
	if err != nil {
		return err
	}
	return b.Set(ctx, value, events.SourceSetter)
}

// SetText decodes data with the configured serialization and runs the
// named field's setter pipeline, exactly as a PUT would.
func (c *Choices[T]) SetText(ctx context.Context, field string, data []byte) error {
	b, err := c.binding(field)
	if err != nil {
		return err
	}
	return b.SetText(ctx, data, events.SourceSetter)
}

// Snapshot returns a shallow copy of the whole configuration taken under
// read access. Slices, maps and pointers in the copy share storage with
// the live value and must not be mutated.
func (c *Choices[T]) Snapshot(ctx context.Context) (T, error) {
	var out T
	err := c.table.View(ctx, func() {
		out = *c.cfg
	})
	return out, err
}

// Update runs fn on the live configuration under write access, bypassing
// validators, on_set hooks and change events.
func (c *Choices[T]) Update(ctx context.Context, fn func(*T)) error {
	return c.table.Direct(ctx, func() {
		fn(c.cfg)
	})
}

// Subscribe registers handler for an event name or pattern such as
// "field.changed" or "field.*". It returns a function that removes the
// subscription.
func (c *Choices[T]) Subscribe(event string, handler events.Handler) func() {
	return c.bus.Subscribe(event, handler)
}

// ApplyValues decodes YAML values keyed by field route name and runs each
// field's setter pipeline with the reload source. Only the fields listed
// in names are applied; nil names applies every value. Every field is
// attempted and the failures are joined.
func (c *Choices[T]) ApplyValues(ctx context.Context, values map[string]yaml.Node, names []string) error {
	if names == nil {
		names = make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	var errs []error
	for _, name := range names {
		node, ok := values[name]
		if !ok {
			continue
		}
		b, err := c.binding(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		v := reflect.New(b.Field.Type)
		if err := node.Decode(v.Interface()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if err := b.SetValue(ctx, v.Elem(), events.SourceReload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		c.logger.Debug().Str("field", name).Msg("applied configured value")
	}
	return errors.Join(errs...)
}

// Field is a typed handle on one field.
type Field[V any] struct {
	b *route.Binding
}

// Lookup returns a typed handle on the named field. V must be the field's
// exact Go type.
func Lookup[V, T any](c *Choices[T], name string) (Field[V], error) {
	b, err := c.binding(name)
	if err != nil {
		return Field[V]{}, err
	}
	if want := reflect.TypeOf((*V)(nil)).Elem(); b.Field.Type != want {
		return Field[V]{}, fmt.Errorf("field %q has type %s, not %s", name, b.Field.Type, want)
	}
	return Field[V]{b: b}, nil
}

// Name returns the route name of the field.
func (f Field[V]) Name() string { return f.b.Field.Name }

// Path returns the field's resource path.
func (f Field[V]) Path() string { return f.b.Path }

// Get returns the current value, sharing storage like Choices.Get.
func (f Field[V]) Get(ctx context.Context) (V, error) {
	v, err := f.b.Get(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Set runs the setter pipeline with v.
func (f Field[V]) Set(ctx context.Context, v V) error {
	return f.b.SetValue(ctx, reflect.ValueOf(&v).Elem(), events.SourceSetter)
}
