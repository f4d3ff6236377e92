// Package codec encodes and decodes configuration field values at the HTTP
// boundary. A Codec works on reflect values so one instance serves every
// field type of a configuration struct.
package codec

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/artpar/choices/core/schema"
)

// Content types of the listing and field resources.
const (
	ContentTypeText = "text/plain; charset=utf-8"
	ContentTypeJSON = "application/json"
	ContentTypeYAML = "application/yaml"
)

// ErrParse is matched by every decode failure.
var ErrParse = errors.New("parse error")

// Codec is a serialization backend.
type Codec interface {
	// Name identifies the codec ("text", "json", "yaml").
	Name() string

	// ContentType is the media type of encoded values and of the listing.
	ContentType() string

	// Supports reports whether values of t can round-trip through the codec.
	Supports(t reflect.Type) error

	// Encode serializes v.
	Encode(v reflect.Value) ([]byte, error)

	// Decode parses data into a new value of type t.
	Decode(data []byte, t reflect.Type) (reflect.Value, error)

	// EncodeIndex serializes the structured listing. Text codecs return
	// ErrNotStructured.
	EncodeIndex(entries []IndexEntry) ([]byte, error)
}

// IndexEntry is one record of the structured listing.
type IndexEntry struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// ErrNotStructured is returned by EncodeIndex of non-structured codecs.
var ErrNotStructured = errors.New("codec has no structured listing")

// ParseError describes a body that could not be decoded into a field type.
type ParseError struct {
	Codec string
	Type  reflect.Type
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: cannot parse %s: %v", e.Codec, e.Type, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// For returns the codec of a serialization mode.
func For(s schema.Serialization) (Codec, error) {
	switch s {
	case schema.SerializationText:
		return Text{}, nil
	case schema.SerializationJSON:
		return JSON{}, nil
	case schema.SerializationYAML:
		return YAML{}, nil
	default:
		return nil, fmt.Errorf("unknown serialization %d", s)
	}
}
