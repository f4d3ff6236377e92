package pipeline_test

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"

	"github.com/artpar/choices/core/pipeline"
	"github.com/artpar/choices/core/schema"
	"github.com/google/go-cmp/cmp"
)

type server struct {
	Port  uint16 `choices:"validator=CheckPort,on_set=PortChanged"`
	Level string `choices:"one_of=debug|info|warn"`
	Name  string `choices:"not_empty,max_len=8"`

	calls []string
}

func (s *server) CheckPort(v uint16) error {
	s.calls = append(s.calls, fmt.Sprintf("validate %d", v))
	if v <= 1000 {
		return errors.New("port must be greater than 1000")
	}
	return nil
}

func (s *server) PortChanged(v uint16) {
	s.calls = append(s.calls, fmt.Sprintf("on_set %d (stored %d)", v, s.Port))
}

func pipelineFor[T any](t *testing.T, cfg *T, field string) *pipeline.Pipeline {
	t.Helper()
	s, err := schema.Resolve(reflect.TypeOf(cfg))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	f, ok := s.Field(field)
	if !ok {
		t.Fatalf("field %q not found", field)
	}
	return pipeline.ForField(f, reflect.ValueOf(cfg))
}

func TestForField_Order(t *testing.T) {
	cfg := &server{Port: 10000}
	p := pipelineFor(t, cfg, "port")

	if err := pipeline.Set(p, &cfg.Port, 4200); err != nil {
		t.Fatalf("Set(4200) error: %v", err)
	}

	want := []string{"validate 4200", "on_set 4200 (stored 10000)"}
	if diff := cmp.Diff(want, cfg.calls); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}
	if cfg.Port != 4200 {
		t.Errorf("Port = %d, want 4200", cfg.Port)
	}
}

func TestForField_RejectedLeavesValue(t *testing.T) {
	cfg := &server{Port: 10000}
	p := pipelineFor(t, cfg, "port")

	err := pipeline.Set(p, &cfg.Port, 100)
	if !errors.Is(err, pipeline.ErrValidation) {
		t.Fatalf("Set(100) error = %v, want ErrValidation", err)
	}

	var ve *pipeline.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error %T is not *ValidationError", err)
	}
	if ve.Field != "port" || ve.Message != "port must be greater than 1000" {
		t.Errorf("ValidationError = %+v", ve)
	}
	if cfg.Port != 10000 {
		t.Errorf("Port = %d, want unchanged 10000", cfg.Port)
	}
	if diff := cmp.Diff([]string{"validate 100"}, cfg.calls); diff != "" {
		t.Errorf("on_set ran after rejection (-want +got):\n%s", diff)
	}
}

func TestForField_Constraints(t *testing.T) {
	cfg := &server{Level: "info", Name: "api"}

	level := pipelineFor(t, cfg, "level")
	if err := pipeline.Set(level, &cfg.Level, "trace"); !errors.Is(err, pipeline.ErrValidation) {
		t.Errorf("Set(trace) error = %v, want ErrValidation", err)
	}
	if err := pipeline.Set(level, &cfg.Level, "warn"); err != nil {
		t.Errorf("Set(warn) error = %v", err)
	}

	name := pipelineFor(t, cfg, "name")
	tests := []struct {
		value   string
		message string
	}{
		{"  ", "must not be empty"},
		{"far-too-long", "must have at most 8 elements"},
	}
	for _, tt := range tests {
		err := pipeline.Set(name, &cfg.Name, tt.value)
		var ve *pipeline.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("Set(%q) error = %v, want *ValidationError", tt.value, err)
		}
		if ve.Message != tt.message {
			t.Errorf("Set(%q) message = %q, want %q", tt.value, ve.Message, tt.message)
		}
		var ce schema.ConstraintError
		if !errors.As(err, &ce) {
			t.Errorf("Set(%q) error does not wrap ConstraintError", tt.value)
		}
	}

	if cfg.Level != "warn" || cfg.Name != "api" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestApply_TypeMismatch(t *testing.T) {
	var slot int
	p := &pipeline.Pipeline{Field: "n", Type: reflect.TypeOf(0)}
	err := p.Apply(reflect.ValueOf(&slot).Elem(), reflect.ValueOf("1"))
	if err == nil || errors.Is(err, pipeline.ErrValidation) {
		t.Errorf("Apply error = %v, want type mismatch", err)
	}
}

func TestValidatorFunc(t *testing.T) {
	typ := reflect.TypeOf(uint16(0))

	v, err := pipeline.ValidatorFunc(func(p uint16) error {
		if p == 0 {
			return &pipeline.ValidationError{Message: "zero"}
		}
		return nil
	}, typ)
	if err != nil {
		t.Fatalf("ValidatorFunc error: %v", err)
	}

	var seen []uint16
	hook, err := pipeline.HookFunc(func(p uint16) { seen = append(seen, p) }, typ)
	if err != nil {
		t.Fatalf("HookFunc error: %v", err)
	}

	p := &pipeline.Pipeline{Field: "port", Type: typ, Validators: []pipeline.Validator{v}, Hooks: []pipeline.Hook{hook}}

	var port uint16 = 1
	err = pipeline.Set(p, &port, 0)
	var ve *pipeline.ValidationError
	if !errors.As(err, &ve) || ve.Field != "port" || ve.Message != "zero" {
		t.Errorf("Set(0) error = %#v", err)
	}
	if err := p.Check(reflect.ValueOf(uint16(5))); err != nil {
		t.Errorf("Check(5) error = %v", err)
	}
	if err := pipeline.Set(p, &port, 8080); err != nil {
		t.Fatalf("Set(8080) error = %v", err)
	}
	if port != 8080 || len(seen) != 1 || seen[0] != 8080 {
		t.Errorf("port = %d, seen = %v", port, seen)
	}
}

func TestValidatorFunc_BadSignatures(t *testing.T) {
	typ := reflect.TypeOf(uint16(0))
	bad := []any{
		nil,
		42,
		func(int) error { return nil },
		func(uint16) {},
		func(uint16, uint16) error { return nil },
		func(uint16) bool { return true },
	}
	for _, fn := range bad {
		if _, err := pipeline.ValidatorFunc(fn, typ); err == nil {
			t.Errorf("ValidatorFunc(%T) should fail", fn)
		}
	}

	if _, err := pipeline.HookFunc(func(uint16) error { return nil }, typ); err == nil {
		t.Error("HookFunc with error result should fail")
	}
	if _, err := pipeline.HookFunc(nil, typ); err == nil {
		t.Error("HookFunc(nil) should fail")
	}
}

var errTooLarge = &pipeline.ValidationError{Message: "too large"}

func TestCheck_SharedValidationErrorUntouched(t *testing.T) {
	p := &pipeline.Pipeline{
		Field: "size",
		Type:  reflect.TypeOf(0),
		Validators: []pipeline.Validator{func(v reflect.Value) error {
			if v.Int() > 10 {
				return errTooLarge
			}
			return nil
		}},
	}

	err := p.Check(reflect.ValueOf(11))
	var ve *pipeline.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Check(11) error = %v, want *ValidationError", err)
	}
	if ve.Field != "size" || ve.Message != "too large" {
		t.Errorf("ValidationError = %+v", ve)
	}
	if errTooLarge.Field != "" {
		t.Errorf("shared error Field = %q, want empty", errTooLarge.Field)
	}
}

type mixer struct {
	Ratio float64 `choices:"min=0,max=1"`
	Gain  float32 `choices:"min=-2"`
}

func TestForField_BoundsRejectNaN(t *testing.T) {
	cfg := &mixer{Ratio: 0.5}
	ratio := pipelineFor(t, cfg, "ratio")

	tests := []struct {
		value float64
		ok    bool
	}{
		{0, true},
		{1, true},
		{0.25, true},
		{math.NaN(), false},
		{math.Inf(1), false},
		{math.Inf(-1), false},
		{1.0000001, false},
	}
	for _, tt := range tests {
		err := pipeline.Set(ratio, &cfg.Ratio, tt.value)
		if ok := err == nil; ok != tt.ok {
			t.Errorf("Set(%v) error = %v, want ok=%v", tt.value, err, tt.ok)
		}
	}
	if cfg.Ratio != 0.25 {
		t.Errorf("Ratio = %v, want 0.25", cfg.Ratio)
	}

	gain := pipelineFor(t, cfg, "gain")
	if err := pipeline.Set(gain, &cfg.Gain, float32(math.NaN())); !errors.Is(err, pipeline.ErrValidation) {
		t.Errorf("Set(NaN) on float32 error = %v, want ErrValidation", err)
	}
	if err := pipeline.Set(gain, &cfg.Gain, float32(math.Inf(1))); err != nil {
		t.Errorf("Set(+Inf) with only a lower bound error = %v", err)
	}
}
