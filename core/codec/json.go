package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/artpar/choices/core/typename"
)

// JSON serializes values with encoding/json. Nil optionals are null and
// aggregates (slices, arrays, maps) are supported.
type JSON struct{}

var _ Codec = JSON{}

func (JSON) Name() string        { return "json" }
func (JSON) ContentType() string { return ContentTypeJSON }

func (JSON) Supports(t reflect.Type) error {
	return structuredSupports("json", t, 0)
}

func (JSON) Encode(v reflect.Value) ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (c JSON) Decode(data []byte, t reflect.Type) (reflect.Value, error) {
	if !nullable(t) && bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return reflect.Value{}, &ParseError{Codec: c.Name(), Type: t, Err: errNull}
	}
	p := reflect.New(t)
	if err := json.Unmarshal(data, p.Interface()); err != nil {
		return reflect.Value{}, &ParseError{Codec: c.Name(), Type: t, Err: err}
	}
	return p.Elem(), nil
}

// errNull rejects null for types that have no absent value; decoding it
// would silently produce the zero value.
var errNull = errors.New("null is not a value of this type")

func nullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return true
	}
	return false
}

func (JSON) EncodeIndex(entries []IndexEntry) ([]byte, error) {
	if entries == nil {
		entries = []IndexEntry{}
	}
	return json.Marshal(entries)
}

// structuredSupports rejects kinds no structured codec can round-trip.
func structuredSupports(codec string, t reflect.Type, depth int) error {
	if depth >= typename.MaxDepth {
		return fmt.Errorf("%w: %s nesting too deep", typename.ErrTypeRendering, t)
	}
	if isTextType(t) {
		return nil
	}

	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return structuredSupports(codec, t.Elem(), depth+1)
	case reflect.Map:
		if codec == "json" && !jsonKey(t.Key()) {
			return fmt.Errorf("%w: json object keys cannot be %s", typename.ErrUnsupportedType, t.Key())
		}
		if err := structuredSupports(codec, t.Key(), depth+1); err != nil {
			return err
		}
		return structuredSupports(codec, t.Elem(), depth+1)
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil
	default:
		return fmt.Errorf("%w: %s serialization cannot represent %s", typename.ErrUnsupportedType, codec, t)
	}
}

// jsonKey reports whether encoding/json can use t as an object key.
func jsonKey(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return t.Implements(textMarshalerType) && reflect.PointerTo(t).Implements(textUnmarshalerType)
}
