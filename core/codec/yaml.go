package codec

import (
	"bytes"
	"reflect"

	"gopkg.in/yaml.v3"
)

// YAML serializes values as YAML documents. Like JSON it supports
// aggregates. An empty or null document is the absent value and is only
// accepted for optionals, slices and maps.
type YAML struct{}

var _ Codec = YAML{}

func (YAML) Name() string        { return "yaml" }
func (YAML) ContentType() string { return ContentTypeYAML }

func (YAML) Supports(t reflect.Type) error {
	return structuredSupports("yaml", t, 0)
}

func (YAML) Encode(v reflect.Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v.Interface()); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c YAML) Decode(data []byte, t reflect.Type) (reflect.Value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return reflect.Value{}, &ParseError{Codec: c.Name(), Type: t, Err: err}
	}
	if isNullDocument(&doc) {
		if !nullable(t) {
			return reflect.Value{}, &ParseError{Codec: c.Name(), Type: t, Err: errNull}
		}
		return reflect.Zero(t), nil
	}

	p := reflect.New(t)
	if err := doc.Decode(p.Interface()); err != nil {
		return reflect.Value{}, &ParseError{Codec: c.Name(), Type: t, Err: err}
	}
	return p.Elem(), nil
}

// isNullDocument reports an empty body or a lone null scalar (null, ~).
func isNullDocument(doc *yaml.Node) bool {
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return true
	}
	n := doc.Content[0]
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

func (c YAML) EncodeIndex(entries []IndexEntry) ([]byte, error) {
	if entries == nil {
		entries = []IndexEntry{}
	}
	return c.Encode(reflect.ValueOf(entries))
}
