// Package pipeline implements the write sequence shared by HTTP handlers and
// programmatic setters: validate, then notify on_set hooks, then commit.
// A failed validation returns before any hook runs or any state changes.
package pipeline

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/artpar/choices/core/schema"
)

// ErrValidation is matched by every rejected write.
var ErrValidation = errors.New("validation failed")

// ValidationError is a write rejected by a constraint or a validator.
type ValidationError struct {
	Field string

	// Message is the validator's own description, returned to HTTP clients.
	Message string

	Err error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid value for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Validator inspects a candidate value.
type Validator func(v reflect.Value) error

// Hook observes a value about to be committed. It cannot veto the write.
type Hook func(v reflect.Value)

// Pipeline is the write sequence of one field.
type Pipeline struct {
	Field      string
	Type       reflect.Type
	Validators []Validator
	Hooks      []Hook
}

// Apply runs the sequence for candidate v and stores it into slot.
func (p *Pipeline) Apply(slot, v reflect.Value) error {
	if v.Type() != p.Type {
		return fmt.Errorf("%s: cannot assign %s to %s", p.Field, v.Type(), p.Type)
	}

	for _, validate := range p.Validators {
		if err := validate(v); err != nil {
			return p.invalid(err)
		}
	}
	for _, hook := range p.Hooks {
		hook(v)
	}
	slot.Set(v)
	return nil
}

// Check runs only the validation step.
func (p *Pipeline) Check(v reflect.Value) error {
	for _, validate := range p.Validators {
		if err := validate(v); err != nil {
			return p.invalid(err)
		}
	}
	return nil
}

func (p *Pipeline) invalid(err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		if ve.Field != "" {
			return ve
		}
		// Validators may return a shared error value; never write to it.
		out := *ve
		out.Field = p.Field
		return &out
	}

	var ce schema.ConstraintError
	if errors.As(err, &ce) {
		return &ValidationError{Field: p.Field, Message: ce.Message, Err: err}
	}
	return &ValidationError{Field: p.Field, Message: err.Error(), Err: err}
}

// Set is the typed form of Apply.
func Set[T any](p *Pipeline, slot *T, v T) error {
	return p.Apply(reflect.ValueOf(slot).Elem(), reflect.ValueOf(&v).Elem())
}

// ForField builds the pipeline of a resolved field. target is the pointer
// to the configuration struct the declared callback methods are bound to.
// Constraints run first, then the declared validator; the declared on_set
// method is the first hook.
func ForField(f schema.FieldSpec, target reflect.Value) *Pipeline {
	p := &Pipeline{Field: f.Name, Type: f.Type}

	if cs := f.Attributes.Constraints; len(cs) > 0 {
		name := f.Name
		p.Validators = append(p.Validators, func(v reflect.Value) error {
			return schema.CheckAll(name, cs, v)
		})
	}
	if m := f.ValidatorMethod; m.Func.IsValid() {
		fn := m.Func
		p.Validators = append(p.Validators, func(v reflect.Value) error {
			out := fn.Call([]reflect.Value{target, v})
			err, _ := out[0].Interface().(error)
			return err
		})
	}
	if m := f.OnSetMethod; m.Func.IsValid() {
		fn := m.Func
		p.Hooks = append(p.Hooks, func(v reflect.Value) {
			fn.Call([]reflect.Value{target, v})
		})
	}
	return p
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// ValidatorFunc adapts fn, a func(T) error with T equal to t.
func ValidatorFunc(fn any, t reflect.Type) (Validator, error) {
	if fn == nil {
		return nil, errors.New("nil validator")
	}
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func || ft.NumIn() != 1 || ft.In(0) != t ||
		ft.NumOut() != 1 || ft.Out(0) != errorType {
		return nil, fmt.Errorf("validator has type %s, want func(%s) error", ft, t)
	}
	return func(v reflect.Value) error {
		err, _ := fv.Call([]reflect.Value{v})[0].Interface().(error)
		return err
	}, nil
}

// HookFunc adapts fn, a func(T) with T equal to t.
func HookFunc(fn any, t reflect.Type) (Hook, error) {
	if fn == nil {
		return nil, errors.New("nil on_set hook")
	}
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func || ft.NumIn() != 1 || ft.In(0) != t || ft.NumOut() != 0 {
		return nil, fmt.Errorf("on_set hook has type %s, want func(%s)", ft, t)
	}
	return func(v reflect.Value) {
		fv.Call([]reflect.Value{v})
	}, nil
}
