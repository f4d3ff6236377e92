// Package index builds the body of the root listing resource.
package index

import (
	"fmt"
	"strings"

	"github.com/artpar/choices/core/codec"
	"github.com/artpar/choices/core/schema"
)

// Index is a pre-rendered listing body with its content type.
type Index struct {
	Body        []byte
	ContentType string
}

// Build renders the listing of every non-skipped field in declaration order.
// Hide flags do not affect the listing.
func Build(s *schema.Compiled, c codec.Codec) (Index, error) {
	if s.Attrs.Serialization.Structured() {
		return buildStructured(s, c)
	}
	return buildText(s), nil
}

func buildText(s *schema.Compiled) Index {
	var b strings.Builder
	if msg := s.Attrs.Message(); msg != "" {
		b.WriteString(msg)
		b.WriteByte('\n')
	}
	for _, f := range s.Visible() {
		fmt.Fprintf(&b, "  - %s: %s\n", f.Name, f.TypeName)
	}
	return Index{Body: []byte(b.String()), ContentType: codec.ContentTypeText}
}

func buildStructured(s *schema.Compiled, c codec.Codec) (Index, error) {
	visible := s.Visible()
	entries := make([]codec.IndexEntry, 0, len(visible))
	for _, f := range visible {
		entries = append(entries, codec.IndexEntry{Name: f.Name, Type: f.TypeName})
	}

	body, err := c.EncodeIndex(entries)
	if err != nil {
		return Index{}, fmt.Errorf("encode %s index: %w", c.Name(), err)
	}
	return Index{Body: body, ContentType: c.ContentType()}, nil
}
