package choices

import (
	"fmt"

	"github.com/artpar/choices/adapters/metrics"
	"github.com/artpar/choices/core/events"
	"github.com/artpar/choices/core/schema"
	"github.com/rs/zerolog"
)

// Option configures New.
type Option func(*options) error

type options struct {
	logger    zerolog.Logger
	metrics   *metrics.Collector
	bus       *events.Bus
	bodyLimit int64

	annotations []schema.Annotation
	validators  map[string][]any
	hooks       map[string][]any
}

func defaultOptions() *options {
	return &options{
		logger:     zerolog.Nop(),
		validators: make(map[string][]any),
		hooks:      make(map[string][]any),
	}
}

// WithLogger sets the logger used for request errors and events.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithMetrics records field activity and request metrics on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) error {
		o.metrics = m
		return nil
	}
}

// WithBus publishes change events on an existing bus, for hosts that share
// one bus between several configuration structs.
func WithBus(bus *events.Bus) Option {
	return func(o *options) error {
		o.bus = bus
		return nil
	}
}

// WithBodyLimit caps PUT request bodies. The default is 16 KiB.
func WithBodyLimit(n int64) Option {
	return func(o *options) error {
		if n <= 0 {
			return fmt.Errorf("body limit must be positive, got %d", n)
		}
		o.bodyLimit = n
		return nil
	}
}

// WithStructTag adds struct-level annotations written in tag syntax, as if
// they were declared on the marker field: WithStructTag("path=settings,json").
func WithStructTag(tag string) Option {
	return func(o *options) error {
		anns, err := schema.ParseTag(tag)
		if err != nil {
			return fmt.Errorf("struct tag %q: %w", tag, err)
		}
		o.annotations = append(o.annotations, anns...)
		return nil
	}
}

// WithRootPath sets the path of the listing resource.
func WithRootPath(path string) Option {
	return withAnnotation(schema.Assign("path", path))
}

// WithRootMessage sets the banner of the text listing. An empty message
// removes the banner.
func WithRootMessage(msg string) Option {
	return withAnnotation(schema.Assign("message", msg))
}

// WithSerialization selects the codec.
func WithSerialization(s schema.Serialization) Option {
	return withAnnotation(schema.Flag(s.String()))
}

// WithLock selects the access discipline.
func WithLock(k schema.LockKind) Option {
	return withAnnotation(schema.Assign("lock", k.String()))
}

func withAnnotation(a schema.Annotation) Option {
	return func(o *options) error {
		o.annotations = append(o.annotations, a)
		return nil
	}
}

// WithValidator registers fn, a func(V) error where V is the field type,
// as a validator of the named field. It runs after declared constraints
// and the validator named in the tag.
func WithValidator(field string, fn any) Option {
	return func(o *options) error {
		o.validators[field] = append(o.validators[field], fn)
		return nil
	}
}

// WithOnSet registers fn, a func(V) where V is the field type, as an on_set
// hook of the named field.
func WithOnSet(field string, fn any) Option {
	return func(o *options) error {
		o.hooks[field] = append(o.hooks[field], fn)
		return nil
	}
}
