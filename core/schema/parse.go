package schema

import (
	"fmt"
	"strings"
)

// TagKey is the struct tag key holding annotations.
const TagKey = "choices"

// Annotation is one parsed `name` or `name=value` entry of a tag.
type Annotation struct {
	Name     string
	Value    string
	HasValue bool
}

// String formats the annotation the way it is written in a tag.
func (a Annotation) String() string {
	if !a.HasValue {
		return a.Name
	}
	if strings.ContainsAny(a.Value, ",'") || a.Value == "" {
		return a.Name + "='" + strings.ReplaceAll(a.Value, "'", "''") + "'"
	}
	return a.Name + "=" + a.Value
}

// Flag returns a valueless annotation.
func Flag(name string) Annotation {
	return Annotation{Name: name}
}

// Assign returns a name=value annotation.
func Assign(name, value string) Annotation {
	return Annotation{Name: name, Value: value, HasValue: true}
}

// ParseTag splits a tag value into annotations. Entries are separated by
// commas; values may be wrapped in single quotes to contain commas, and a
// doubled quote inside a quoted value stands for one quote.
func ParseTag(tag string) ([]Annotation, error) {
	var (
		out []Annotation
		pos int
	)

	for pos < len(tag) {
		// Skip separators and surrounding whitespace.
		for pos < len(tag) && (tag[pos] == ',' || tag[pos] == ' ') {
			pos++
		}
		if pos >= len(tag) {
			break
		}

		start := pos
		for pos < len(tag) && tag[pos] != ',' && tag[pos] != '=' {
			pos++
		}
		name := strings.TrimSpace(tag[start:pos])
		if name == "" {
			return nil, fmt.Errorf("missing annotation name at offset %d", start)
		}

		if pos >= len(tag) || tag[pos] == ',' {
			out = append(out, Flag(name))
			continue
		}

		pos++ // '='
		for pos < len(tag) && tag[pos] == ' ' {
			pos++
		}

		if pos < len(tag) && tag[pos] == '\'' {
			value, next, err := quoted(tag, pos)
			if err != nil {
				return nil, fmt.Errorf("annotation %q: %w", name, err)
			}
			pos = next
			for pos < len(tag) && tag[pos] == ' ' {
				pos++
			}
			if pos < len(tag) && tag[pos] != ',' {
				return nil, fmt.Errorf("annotation %q: unexpected %q after quoted value", name, tag[pos:])
			}
			out = append(out, Assign(name, value))
			continue
		}

		start = pos
		for pos < len(tag) && tag[pos] != ',' {
			pos++
		}
		out = append(out, Assign(name, strings.TrimSpace(tag[start:pos])))
	}

	return out, nil
}

func quoted(s string, pos int) (string, int, error) {
	var b strings.Builder
	pos++ // opening quote
	for pos < len(s) {
		c := s[pos]
		if c == '\'' {
			if pos+1 < len(s) && s[pos+1] == '\'' {
				b.WriteByte('\'')
				pos += 2
				continue
			}
			return b.String(), pos + 1, nil
		}
		b.WriteByte(c)
		pos++
	}
	return "", pos, fmt.Errorf("unterminated quoted value")
}
