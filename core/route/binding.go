package route

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"reflect"

	"github.com/artpar/choices/core/access"
	"github.com/artpar/choices/core/codec"
	"github.com/artpar/choices/core/events"
	"github.com/artpar/choices/core/pipeline"
	"github.com/artpar/choices/core/schema"
	"github.com/go-chi/chi/v5/middleware"
)

// Binding connects one field to its storage slot, codec and pipeline.
type Binding struct {
	Field schema.FieldSpec
	Path  string

	table    *Table
	pipeline *pipeline.Pipeline
}

// slot must only be used with access held.
func (b *Binding) slot() reflect.Value {
	return b.table.target.FieldByIndex(b.Field.Index)
}

// Get returns the current value. Scalars are copies; slices, maps and
// pointers share storage with the live value and must not be mutated.
func (b *Binding) Get(ctx context.Context) (any, error) {
	var v any
	err := b.table.View(ctx, func() {
		v = b.slot().Interface()
	})
	if err != nil {
		return nil, err
	}
	b.table.observer.FieldRead(b.Field.Name)
	return v, nil
}

// Encode serializes the current value with read access held.
func (b *Binding) Encode(ctx context.Context) ([]byte, error) {
	var (
		body   []byte
		encErr error
	)
	err := b.table.View(ctx, func() {
		body, encErr = b.table.codec.Encode(b.slot())
	})
	if err != nil {
		return nil, err
	}
	if encErr != nil {
		return nil, fmt.Errorf("encode %s: %w", b.Field.Name, encErr)
	}
	b.table.observer.FieldRead(b.Field.Name)
	return body, nil
}

// Decode parses data into a value of the field type.
func (b *Binding) Decode(data []byte) (reflect.Value, error) {
	return b.table.codec.Decode(data, b.Field.Type)
}

// Set runs the write pipeline for value. value must have the field type
// exactly, or be convertible to it when it is an untyped-constant kind
// such as int for a uint16 field.
func (b *Binding) Set(ctx context.Context, value any, source events.Source) error {
	v, err := b.coerce(value)
	if err != nil {
		return err
	}
	return b.SetValue(ctx, v, source)
}

func (b *Binding) coerce(value any) (reflect.Value, error) {
	t := b.Field.Type
	if value == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Map:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("%s: cannot assign nil to %s", b.Field.Name, t)
	}

	v := reflect.ValueOf(value)
	if v.Type() == t {
		return v, nil
	}
	if isScalar(v.Kind()) && isScalar(t.Kind()) && v.CanConvert(t) && sameClass(v.Kind(), t.Kind()) {
		if !fits(v, t) {
			return reflect.Value{}, fmt.Errorf("%s: %v overflows %s", b.Field.Name, value, t)
		}
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("%s: cannot assign %s to %s", b.Field.Name, v.Type(), t)
}

// SetText decodes data with the table codec and runs the write pipeline.
func (b *Binding) SetText(ctx context.Context, data []byte, source events.Source) error {
	v, err := b.Decode(data)
	if err != nil {
		b.table.observer.ParseFailed(b.Field.Name)
		return err
	}
	return b.SetValue(ctx, v, source)
}

// SetValue runs the write pipeline under write access. Change events are
// published after access is released.
func (b *Binding) SetValue(ctx context.Context, v reflect.Value, source events.Source) error {
	t := b.table

	var old any
	err := access.Write(ctx, t.access, func() error {
		slot := b.slot()
		old = slot.Interface()
		return b.pipeline.Apply(slot, v)
	})

	switch {
	case err == nil:
		t.observer.FieldWritten(b.Field.Name, source)
		t.publish(ctx, events.Event{
			Name:   events.FieldChanged,
			Field:  b.Field.Name,
			Source: source,
			Old:    old,
			New:    v.Interface(),
		})
	case errors.Is(err, pipeline.ErrValidation):
		t.observer.ValidationFailed(b.Field.Name)
		t.publish(ctx, events.Event{
			Name:   events.FieldRejected,
			Field:  b.Field.Name,
			Source: source,
			Old:    old,
			New:    v.Interface(),
			Err:    err,
		})
	default:
		t.accessFailed(err)
	}
	return err
}

// Check runs validation only, without access or commit.
func (b *Binding) Check(v reflect.Value) error {
	return b.pipeline.Check(v)
}

// publish skips events nobody listens to, so unobserved writes allocate
// no event ID.
func (t *Table) publish(ctx context.Context, e events.Event) {
	if t.bus != nil && t.bus.HasSubscribers(e.Name) {
		t.bus.Publish(ctx, e)
	}
}

func (b *Binding) serveRead(w http.ResponseWriter, r *http.Request) {
	body, err := b.Encode(r.Context())
	if err != nil {
		b.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", b.table.codec.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (b *Binding) serveWrite(w http.ResponseWriter, r *http.Request) {
	limit := b.table.bodyLimit
	if r.ContentLength > limit {
		b.fail(w, r, &http.MaxBytesError{Limit: limit})
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		b.fail(w, r, err)
		return
	}

	if err := b.SetText(r.Context(), data, events.SourceHTTP); err != nil {
		b.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// fail maps err to a status and writes its text as the body.
func (b *Binding) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := Status(err)

	log := b.table.logger.With().
		Str("field", b.Field.Name).
		Str("method", r.Method).
		Str("request_id", middleware.GetReqID(r.Context())).
		Int("status", status).
		Logger()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("field request failed")
	} else {
		log.Debug().Err(err).Msg("field request rejected")
	}

	w.Header().Set("Content-Type", codec.ContentTypeText)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

// Status maps a handler error to an HTTP status and response body.
func Status(err error) (int, string) {
	var (
		mbe *http.MaxBytesError
		ve  *pipeline.ValidationError
		ae  *access.Error
	)
	switch {
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", mbe.Limit)
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Message
	case errors.Is(err, codec.ErrParse):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &ae):
		if ae.Canceled() {
			return http.StatusServiceUnavailable, err.Error()
		}
		return http.StatusInternalServerError, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// fits reports whether v converts to t without overflow. Float targets
// accept rounding and NaN; integer targets must round-trip exactly.
func fits(v reflect.Value, t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Float64:
		return true
	case reflect.Float32:
		var f float64
		switch {
		case v.CanFloat():
			f = v.Float()
		case v.CanInt():
			f = float64(v.Int())
		default:
			f = float64(v.Uint())
		}
		return math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) <= math.MaxFloat32
	}
	c := v.Convert(t)
	return c.Convert(v.Type()).Interface() == v.Interface()
}

func isScalar(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// sameClass keeps conversions within numbers, or within strings and bools,
// so an int never silently becomes a string.
func sameClass(a, b reflect.Kind) bool {
	num := func(k reflect.Kind) bool {
		return k != reflect.Bool && k != reflect.String
	}
	if num(a) || num(b) {
		return num(a) && num(b)
	}
	return a == b
}
