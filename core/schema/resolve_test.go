package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

type basicConfig struct {
	Debug    bool
	Retries  uint8
	Delay    float64
	Score    *int32
	Map      map[uint8]int32
	LogFile  string
	internal int
}

func TestResolve_Defaults(t *testing.T) {
	c, err := Resolve(reflect.TypeOf(basicConfig{}))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	if c.Attrs.RootPath != DefaultRootPath {
		t.Errorf("RootPath = %q, want %q", c.Attrs.RootPath, DefaultRootPath)
	}
	if c.Attrs.Message() != DefaultRootMessage {
		t.Errorf("Message() = %q, want default", c.Attrs.Message())
	}
	if c.Attrs.Serialization != SerializationText {
		t.Errorf("Serialization = %v, want text", c.Attrs.Serialization)
	}
	if c.Attrs.Lock != LockNone {
		t.Errorf("Lock = %v, want none", c.Attrs.Lock)
	}

	want := []struct{ name, typ string }{
		{"debug", "bool"},
		{"retries", "uint8"},
		{"delay", "float64"},
		{"score", "Option<int32>"},
		{"map", "Map<uint8, int32>"},
		{"log_file", "string"},
	}
	if len(c.Fields) != len(want) {
		t.Fatalf("got %d fields, want %d", len(c.Fields), len(want))
	}
	for i, w := range want {
		f := c.Fields[i]
		if f.Name != w.name || f.TypeName != w.typ {
			t.Errorf("field %d = %s: %s, want %s: %s", i, f.Name, f.TypeName, w.name, w.typ)
		}
		if !f.Readable() || !f.Writable() {
			t.Errorf("field %s should be readable and writable", f.Name)
		}
	}

	if c.RootPath() != "/config" {
		t.Errorf("RootPath() = %q", c.RootPath())
	}
	if c.FieldPath("debug") != "/config/debug" {
		t.Errorf("FieldPath() = %q", c.FieldPath("debug"))
	}
}

func TestResolve_PointerType(t *testing.T) {
	if _, err := Resolve(reflect.TypeOf(&basicConfig{})); err != nil {
		t.Fatalf("Resolve(*T) error: %v", err)
	}
}

func TestResolve_NotStruct(t *testing.T) {
	for _, typ := range []reflect.Type{nil, reflect.TypeOf(3), reflect.TypeOf([]basicConfig{})} {
		if _, err := Resolve(typ); !errors.Is(err, ErrNotStruct) {
			t.Errorf("Resolve(%v) error = %v, want ErrNotStruct", typ, err)
		}
	}
}

type structAttrsConfig struct {
	_ struct{} `choices:"path=settings,message='Hello, world',rw_lock"`

	Debug bool
}

func TestResolve_StructAttributes(t *testing.T) {
	c, err := Resolve(reflect.TypeOf(structAttrsConfig{}))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if c.Attrs.RootPath != "settings" {
		t.Errorf("RootPath = %q, want settings", c.Attrs.RootPath)
	}
	if c.Attrs.Message() != "Hello, world" {
		t.Errorf("Message() = %q", c.Attrs.Message())
	}
	if c.Attrs.Lock != LockReadWrite {
		t.Errorf("Lock = %v, want rw", c.Attrs.Lock)
	}
	if c.FieldPath("debug") != "/settings/debug" {
		t.Errorf("FieldPath = %q", c.FieldPath("debug"))
	}
}

func TestResolve_StructAnnotationsOption(t *testing.T) {
	c, err := Resolve(reflect.TypeOf(basicConfig{}),
		WithStructAnnotations(Assign("path", "/app/"), Flag("json"), Assign("lock", "exclusive")))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if c.Attrs.RootPath != "app" {
		t.Errorf("RootPath = %q, want app", c.Attrs.RootPath)
	}
	if c.Attrs.Serialization != SerializationJSON {
		t.Errorf("Serialization = %v, want json", c.Attrs.Serialization)
	}
	if c.Attrs.Lock != LockExclusive {
		t.Errorf("Lock = %v, want exclusive", c.Attrs.Lock)
	}
}

type emptyMessageConfig struct {
	_ struct{} `choices:"message=''"`
}

func TestResolve_EmptyMessageAllowed(t *testing.T) {
	c, err := Resolve(reflect.TypeOf(emptyMessageConfig{}))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if c.Attrs.RootMessage == nil || c.Attrs.Message() != "" {
		t.Errorf("Message() = %q, want empty", c.Attrs.Message())
	}
	if len(c.Visible()) != 0 {
		t.Errorf("Visible() = %d fields, want 0", len(c.Visible()))
	}
}

type fieldAttrsConfig struct {
	A int    `choices:"hide_get"`
	B int    `choices:"hide_put"`
	C int    `choices:"hide_get,hide_put"`
	D int    `choices:"skip"`
	E string `choices:"name=log-path"`
	F func() `choices:"skip"`
}

func TestResolve_FieldAttributes(t *testing.T) {
	c, err := Resolve(reflect.TypeOf(fieldAttrsConfig{}))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	a, _ := c.Field("a")
	if a.Readable() || !a.Writable() {
		t.Error("a should be write-only")
	}
	b, _ := c.Field("b")
	if !b.Readable() || b.Writable() {
		t.Error("b should be read-only")
	}
	cf, _ := c.Field("c")
	if cf.Readable() || cf.Writable() {
		t.Error("c should have no resources")
	}
	if _, ok := c.Field("d"); ok {
		t.Error("skipped field d should not be addressable")
	}
	if _, ok := c.Field("log-path"); !ok {
		t.Error("renamed field should be addressable as log-path")
	}

	var names []string
	for _, f := range c.Visible() {
		names = append(names, f.Name)
	}
	if got := strings.Join(names, ","); got != "a,b,c,log-path" {
		t.Errorf("Visible() = %s", got)
	}
}

type callbackConfig struct {
	Port    uint16 `choices:"validator=CheckPort,on_set=PortChanged"`
	Timeout time.Duration
}

func (c *callbackConfig) CheckPort(v uint16) error {
	if v <= 1000 {
		return fmt.Errorf("port %d is reserved", v)
	}
	return nil
}

func (c *callbackConfig) PortChanged(v uint16) {}

func (c *callbackConfig) WrongSignature(v int) error { return nil }

func TestResolve_Callbacks(t *testing.T) {
	c, err := Resolve(reflect.TypeOf(callbackConfig{}))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	port, _ := c.Field("port")
	if port.ValidatorMethod.Name != "CheckPort" {
		t.Errorf("ValidatorMethod = %q", port.ValidatorMethod.Name)
	}
	if port.OnSetMethod.Name != "PortChanged" {
		t.Errorf("OnSetMethod = %q", port.OnSetMethod.Name)
	}
	timeout, _ := c.Field("timeout")
	if timeout.TypeName != "Duration" {
		t.Errorf("timeout type = %q, want Duration", timeout.TypeName)
	}
}

func TestResolve_Constraints(t *testing.T) {
	type cfg struct {
		Port  int    `choices:"min=1024,max=65535"`
		Level string `choices:"one_of=debug|info,not_empty"`
		Name  string `choices:"pattern=^[a-z]+$,max_len=8"`
	}

	c, err := Resolve(reflect.TypeOf(cfg{}))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	port, _ := c.Field("port")
	if err := CheckAll("port", port.Attributes.Constraints, reflect.ValueOf(80)); err == nil {
		t.Error("port 80 should violate min")
	}
	if err := CheckAll("port", port.Attributes.Constraints, reflect.ValueOf(8080)); err != nil {
		t.Errorf("port 8080: %v", err)
	}

	level, _ := c.Field("level")
	if err := CheckAll("level", level.Attributes.Constraints, reflect.ValueOf("trace")); err == nil {
		t.Error("level trace should violate one_of")
	}

	name, _ := c.Field("name")
	if err := CheckAll("name", name.Attributes.Constraints, reflect.ValueOf("Abc")); err == nil {
		t.Error("Abc should violate pattern")
	}
	if err := CheckAll("name", name.Attributes.Constraints, reflect.ValueOf("abcdefghij")); err == nil {
		t.Error("abcdefghij should violate max_len")
	}
}

// Each case declares one illegal struct and the error kind it must produce.
func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name  string
		typ   any
		kind  error
		field string
		attr  string
	}{
		{
			name: "struct annotation on field",
			typ: struct {
				A int `choices:"json"`
			}{},
			kind: ErrPlacement, field: "A", attr: "json",
		},
		{
			name: "field annotation on struct",
			typ: struct {
				_ struct{} `choices:"skip"`
			}{},
			kind: ErrPlacement, attr: "skip",
		},
		{
			name: "unknown annotation",
			typ: struct {
				A int `choices:"bogus"`
			}{},
			kind: ErrUnknownAttribute, field: "A", attr: "bogus",
		},
		{
			name: "flag with value",
			typ: struct {
				_ struct{} `choices:"json=true"`
			}{},
			kind: ErrUnknownAttribute, attr: "json",
		},
		{
			name: "value missing",
			typ: struct {
				_ struct{} `choices:"path"`
			}{},
			kind: ErrUnknownAttribute, attr: "path",
		},
		{
			name: "malformed tag",
			typ: struct {
				A int `choices:"message='x"`
			}{},
			kind: ErrUnknownAttribute, field: "A",
		},
		{
			name: "empty path",
			typ: struct {
				_ struct{} `choices:"path=''"`
			}{},
			kind: ErrEmptyValue, attr: "path",
		},
		{
			name: "slash-only path",
			typ: struct {
				_ struct{} `choices:"path=/"`
			}{},
			kind: ErrEmptyValue, attr: "path",
		},
		{
			name: "empty validator",
			typ: struct {
				A int `choices:"validator="`
			}{},
			kind: ErrEmptyValue, field: "A", attr: "validator",
		},
		{
			name: "json with message",
			typ: struct {
				_ struct{} `choices:"json,message=hello"`
			}{},
			kind: ErrConflictingAttributes, attr: "message",
		},
		{
			name: "yaml with empty message",
			typ: struct {
				_ struct{} `choices:"yaml,message=''"`
			}{},
			kind: ErrConflictingAttributes, attr: "message",
		},
		{
			name: "two serializations",
			typ: struct {
				_ struct{} `choices:"json,yaml"`
			}{},
			kind: ErrConflictingAttributes, attr: "yaml",
		},
		{
			name: "two locks",
			typ: struct {
				_ struct{} `choices:"mutex,rw_lock"`
			}{},
			kind: ErrConflictingAttributes, attr: "rw_lock",
		},
		{
			name: "unknown lock",
			typ: struct {
				_ struct{} `choices:"lock=spin"`
			}{},
			kind: ErrInvalidValue, attr: "lock",
		},
		{
			name: "duplicate route names",
			typ: struct {
				A int
				B int `choices:"name=a"`
			}{},
			kind: ErrConflictingAttributes, field: "B", attr: "name",
		},
		{
			name: "multi-segment name",
			typ: struct {
				A int `choices:"name=a/b"`
			}{},
			kind: ErrInvalidValue, field: "A", attr: "name",
		},
		{
			name: "unsupported type",
			typ: struct {
				A func()
			}{},
			kind: ErrUnsupportedType, field: "A",
		},
		{
			name: "nested struct",
			typ: struct {
				A basicConfig
			}{},
			kind: ErrUnsupportedType, field: "A",
		},
		{
			name: "min on string",
			typ: struct {
				A string `choices:"min=3"`
			}{},
			kind: ErrInvalidValue, field: "A", attr: "min",
		},
		{
			name: "bad pattern",
			typ: struct {
				A string `choices:"pattern=(["`
			}{},
			kind: ErrInvalidValue, field: "A", attr: "pattern",
		},
		{
			name: "missing validator method",
			typ: struct {
				A int `choices:"validator=Nope"`
			}{},
			kind: ErrCallback, field: "A", attr: "validator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(reflect.TypeOf(tt.typ))
			if !errors.Is(err, tt.kind) {
				t.Fatalf("Resolve error = %v, want %v", err, tt.kind)
			}

			var list ErrorList
			if !errors.As(err, &list) {
				t.Fatalf("error %T is not an ErrorList", err)
			}
			var found bool
			for _, e := range list {
				if errors.Is(e, tt.kind) && e.Field == tt.field && e.Attribute == tt.attr {
					found = true
				}
			}
			if !found {
				t.Errorf("no %v error for field %q attribute %q in:\n%v", tt.kind, tt.field, tt.attr, err)
			}
		})
	}
}

type wrongCallbackConfig struct {
	Port uint16 `choices:"validator=WrongSignature"`
}

func (c *wrongCallbackConfig) WrongSignature(v int) error { return nil }

func TestResolve_CallbackSignature(t *testing.T) {
	_, err := Resolve(reflect.TypeOf(wrongCallbackConfig{}))
	if !errors.Is(err, ErrCallback) {
		t.Fatalf("Resolve error = %v, want ErrCallback", err)
	}
	if !strings.Contains(err.Error(), "want func(uint16) error") {
		t.Errorf("error should describe the expected signature: %v", err)
	}
}

func TestResolve_ReportsAllErrors(t *testing.T) {
	type cfg struct {
		_ struct{} `choices:"path='',json,message=hi"`
		A int      `choices:"bogus"`
		B func()
	}

	_, err := Resolve(reflect.TypeOf(cfg{}))
	var list ErrorList
	if !errors.As(err, &list) {
		t.Fatalf("Resolve error = %v, want ErrorList", err)
	}
	if len(list) != 4 {
		t.Errorf("got %d errors, want 4:\n%v", len(list), err)
	}
}

func TestResolve_UnexportedTagged(t *testing.T) {
	type cfg struct {
		hidden int `choices:"hide_get"`
	}
	if _, err := Resolve(reflect.TypeOf(cfg{})); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Resolve error = %v, want ErrInvalidValue", err)
	}
}

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"Debug":     "debug",
		"LogFile":   "log_file",
		"HTTPPort":  "http_port",
		"MaxConns2": "max_conns2",
		"ID":        "id",
		"UserID":    "user_id",
	}
	for in, want := range tests {
		if got := SnakeCase(in); got != want {
			t.Errorf("SnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
