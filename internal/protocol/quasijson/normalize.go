// Package quasijson repairs the brace-optional, single-quoted payload text
// used on the link into JSON and projects it onto a fixed record schema.
package quasijson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Normalizer projects repaired payloads onto schemas.
type Normalizer struct {
	// Strict rejects payloads with absent schema fields instead of defaulting them.
	Strict bool
}

// Normalize repairs body, parses it and extracts schema's fields.
//
// On a type mismatch the returned Record still carries every field that could
// be coerced; callers decide whether to keep it.
func (n Normalizer) Normalize(body string, schema Schema) (Record, error) {
	repaired := Repair(body, schema.StripSpaces)

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return Record{}, &MalformedPayloadError{Raw: body, Repaired: repaired, Err: err}
	}

	rec := Record{Class: schema.Name, Values: make([]Value, 0, len(schema.Fields))}
	var firstErr error
	for _, f := range schema.Fields {
		v := Value{Name: f.Name, Kind: f.Kind}
		raw, ok := obj[f.Name]
		if ok && !isNull(raw) {
			if err := coerce(&v, raw); err != nil && firstErr == nil {
				firstErr = err
			}
		} else if n.Strict && firstErr == nil {
			firstErr = fmt.Errorf("%w: %s", ErrMissingField, f.Name)
		}
		rec.Values = append(rec.Values, v)
	}
	return rec, firstErr
}

func coerce(v *Value, raw json.RawMessage) error {
	switch v.Kind {
	case KindFloat:
		f, err := toFloat(raw)
		if err != nil {
			return &FieldTypeMismatchError{Field: v.Name, Want: v.Kind, Got: describe(raw)}
		}
		v.Float = f
	case KindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return &FieldTypeMismatchError{Field: v.Name, Want: v.Kind, Got: describe(raw)}
		}
		v.String = s
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return &FieldTypeMismatchError{Field: v.Name, Want: v.Kind, Got: describe(raw)}
		}
		v.Raw = json.RawMessage(buf.Bytes())
	}
	v.Present = true
	return nil
}

func toFloat(raw json.RawMessage) (float64, error) {
	text := strings.TrimSpace(string(raw))
	if strings.HasPrefix(text, `"`) {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, err
		}
		text = strings.TrimSpace(text)
	} else if text == "" || !(text[0] == '-' || (text[0] >= '0' && text[0] <= '9')) {
		return 0, fmt.Errorf("not a number: %s", text)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite number: %s", text)
	}
	return f, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func describe(raw json.RawMessage) string {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "empty"
	}
	switch text[0] {
	case '"':
		return "string"
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "bool"
	default:
		return "number"
	}
}
