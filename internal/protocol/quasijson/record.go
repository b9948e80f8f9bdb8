package quasijson

import (
	"bytes"
	"encoding/json"
)

// Value is one projected field. Absent fields are still emitted.
type Value struct {
	Name    string
	Kind    Kind
	Present bool
	Float   float64
	String  string
	Raw     json.RawMessage
}

// Record is the schema-restricted output of the normalizer.
type Record struct {
	Class  string
	Values []Value
}

// Get returns the named field.
func (r Record) Get(name string) (Value, bool) {
	for _, v := range r.Values {
		if v.Name == name {
			return v, true
		}
	}
	return Value{}, false
}

// Float returns the numeric value of name and whether it was present on the wire.
func (r Record) Float(name string) (float64, bool) {
	v, ok := r.Get(name)
	if !ok {
		return 0, false
	}
	return v.Float, v.Present
}

// Missing lists schema fields that were absent from the payload.
func (r Record) Missing() []string {
	var out []string
	for _, v := range r.Values {
		if !v.Present {
			out = append(out, v.Name)
		}
	}
	return out
}

// MarshalJSON writes every schema field in schema order. Absent numeric fields
// are written as 0, absent passthrough fields as null.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, v := range r.Values {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(v.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var val []byte
		switch v.Kind {
		case KindFloat:
			val, err = json.Marshal(v.Float)
		case KindString:
			if v.Present {
				val, err = json.Marshal(v.String)
			} else {
				val = []byte("null")
			}
		default:
			if v.Present && len(v.Raw) > 0 {
				val = v.Raw
			} else {
				val = []byte("null")
			}
		}
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
