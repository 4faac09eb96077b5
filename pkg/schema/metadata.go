package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ValueKind is the declared type of a metadata attribute.
type ValueKind string

const (
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindBool   ValueKind = "bool"
)

// Attribute is one typed key/value pair.
type Attribute struct {
	Key    string
	Kind   ValueKind
	Str    string
	Number float64
	Bool   bool
}

// String, Number and Bool build attributes of the matching kind.
func String(key, v string) Attribute {
	return Attribute{Key: key, Kind: KindString, Str: v}
}

func Number(key string, v float64) Attribute {
	return Attribute{Key: key, Kind: KindNumber, Number: v}
}

func Bool(key string, v bool) Attribute {
	return Attribute{Key: key, Kind: KindBool, Bool: v}
}

// Value returns the attribute's value as its Go type.
func (a Attribute) Value() any {
	switch a.Kind {
	case KindNumber:
		return a.Number
	case KindBool:
		return a.Bool
	}
	return a.Str
}

// Text renders the value for display.
func (a Attribute) Text() string {
	switch a.Kind {
	case KindNumber:
		return strconv.FormatFloat(a.Number, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(a.Bool)
	}
	return a.Str
}

// Metadata is an ordered list of typed attributes. On the wire it is the
// backend's JSON object; nested objects and arrays are kept as their raw JSON
// text with kind string.
type Metadata []Attribute

// Get looks up an attribute by key.
func (m Metadata) Get(key string) (Attribute, bool) {
	for _, a := range m {
		if a.Key == key {
			return a, true
		}
	}
	return Attribute{}, false
}

// Set replaces the attribute with the same key or appends it.
func (m Metadata) Set(a Attribute) Metadata {
	for i := range m {
		if m[i].Key == a.Key {
			m[i] = a
			return m
		}
	}
	return append(m, a)
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, a := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(a.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(a.Value())
		if err != nil {
			return nil, fmt.Errorf("metadata %q: %w", a.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("metadata must be a JSON object: %w", err)
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(Metadata, 0, len(keys))
	for _, k := range keys {
		v := bytes.TrimSpace(raw[k])
		var (
			s string
			f float64
			t bool
		)
		switch {
		case json.Unmarshal(v, &s) == nil:
			out = append(out, String(k, s))
		case json.Unmarshal(v, &f) == nil:
			out = append(out, Number(k, f))
		case json.Unmarshal(v, &t) == nil:
			out = append(out, Bool(k, t))
		default:
			out = append(out, String(k, string(v)))
		}
	}
	*m = out
	return nil
}
