package codec

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/artpar/choices/core/typename"
)

var (
	textMarshalerType   = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	durationType        = reflect.TypeOf(time.Duration(0))
)

// Text renders scalars the way fmt would print them and parses them back.
// Optional (pointer) values use an empty body for nil. Types implementing
// encoding.TextMarshaler and encoding.TextUnmarshaler participate directly.
type Text struct{}

var _ Codec = Text{}

func (Text) Name() string        { return "text" }
func (Text) ContentType() string { return ContentTypeText }

func (Text) Supports(t reflect.Type) error {
	return textSupports(t, 0)
}

func textSupports(t reflect.Type, depth int) error {
	if depth > 1 {
		return fmt.Errorf("%w: nested optional %s", typename.ErrUnsupportedType, t)
	}
	if isTextType(t) {
		return nil
	}
	switch t.Kind() {
	case reflect.Pointer:
		return textSupports(t.Elem(), depth+1)
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil
	default:
		return fmt.Errorf("%w: text serialization cannot represent %s", typename.ErrUnsupportedType, t)
	}
}

func isTextType(t reflect.Type) bool {
	if t == durationType {
		return true
	}
	marshal := t.Implements(textMarshalerType) || reflect.PointerTo(t).Implements(textMarshalerType)
	unmarshal := reflect.PointerTo(t).Implements(textUnmarshalerType)
	return marshal && unmarshal && t.Kind() != reflect.Pointer
}

func (c Text) Encode(v reflect.Value) ([]byte, error) {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return []byte{}, nil
		}
		v = v.Elem()
	}

	if v.Type() == durationType {
		return []byte(time.Duration(v.Int()).String()), nil
	}
	if m, ok := textMarshaler(v); ok {
		return m.MarshalText()
	}

	switch v.Kind() {
	case reflect.Bool:
		return []byte(strconv.FormatBool(v.Bool())), nil
	case reflect.String:
		return []byte(v.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return []byte(strconv.FormatInt(v.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return []byte(strconv.FormatUint(v.Uint(), 10)), nil
	case reflect.Float32, reflect.Float64:
		return []byte(strconv.FormatFloat(v.Float(), 'g', -1, v.Type().Bits())), nil
	default:
		return nil, fmt.Errorf("%w: text serialization cannot represent %s", typename.ErrUnsupportedType, v.Type())
	}
}

func textMarshaler(v reflect.Value) (encoding.TextMarshaler, bool) {
	if m, ok := v.Interface().(encoding.TextMarshaler); ok {
		return m, true
	}
	if v.CanAddr() {
		m, ok := v.Addr().Interface().(encoding.TextMarshaler)
		return m, ok
	}
	if reflect.PointerTo(v.Type()).Implements(textMarshalerType) {
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		return p.Interface().(encoding.TextMarshaler), true
	}
	return nil, false
}

func (c Text) Decode(data []byte, t reflect.Type) (reflect.Value, error) {
	v, err := decodeText(data, t)
	if err != nil {
		return reflect.Value{}, &ParseError{Codec: c.Name(), Type: t, Err: err}
	}
	return v, nil
}

func decodeText(data []byte, t reflect.Type) (reflect.Value, error) {
	if t.Kind() == reflect.Pointer {
		if len(data) == 0 {
			return reflect.Zero(t), nil
		}
		elem, err := decodeText(data, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(elem)
		return p, nil
	}

	if !utf8.Valid(data) {
		return reflect.Value{}, errors.New("body is not valid UTF-8")
	}
	s := string(data)
	out := reflect.New(t).Elem()

	if t == durationType {
		d, err := time.ParseDuration(s)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetInt(int64(d))
		return out, nil
	}
	if u, ok := out.Addr().Interface().(encoding.TextUnmarshaler); ok {
		if err := u.UnmarshalText(data); err != nil {
			return reflect.Value{}, err
		}
		return out, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return reflect.Value{}, unwrapNum(err)
		}
		out.SetBool(b)
	case reflect.String:
		out.SetString(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, unwrapNum(err)
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, unwrapNum(err)
		}
		out.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, t.Bits())
		if err != nil {
			return reflect.Value{}, unwrapNum(err)
		}
		out.SetFloat(f)
	default:
		return reflect.Value{}, fmt.Errorf("%w: text serialization cannot represent %s", typename.ErrUnsupportedType, t)
	}
	return out, nil
}

// unwrapNum drops the strconv function name from parse errors:
// `invalid syntax for "abc"` instead of `strconv.ParseInt: parsing "abc": ...`.
func unwrapNum(err error) error {
	var ne *strconv.NumError
	if errors.As(err, &ne) {
		return fmt.Errorf("%q: %w", ne.Num, ne.Err)
	}
	return err
}

func (Text) EncodeIndex([]IndexEntry) ([]byte, error) {
	return nil, ErrNotStructured
}
