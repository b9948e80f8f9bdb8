package quasijson

import "strings"

// Repair rewrites a wire body into standard JSON text. The rewrites run in a
// fixed order and each one assumes the previous ones already ran:
//
//  1. drop every '{'
//  2. single quotes become double quotes
//  3. drop every '#'
//  4. drop every space (dense payloads only)
//  5. wrap in '{' ... '}'
//  6. quote bare object keys
func Repair(body string, stripSpaces bool) string {
	s := strings.ReplaceAll(body, "{", "")
	s = strings.ReplaceAll(s, "'", `"`)
	s = strings.ReplaceAll(s, "#", "")
	if stripSpaces {
		s = strings.ReplaceAll(s, " ", "")
	}
	s = "{" + s + "}"
	return quoteBareKeys(s)
}

// quoteBareKeys quotes identifiers that sit in key position (after '{' or ','
// and followed by ':') outside of string literals.
func quoteBareKeys(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)

	inString := false
	escaped := false
	var prev byte // last significant byte outside strings
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				prev = c
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if isIdentStart(c) && (prev == '{' || prev == ',') {
			j := i + 1
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			k := j
			for k < len(s) && s[k] == ' ' {
				k++
			}
			if k < len(s) && s[k] == ':' {
				b.WriteByte('"')
				b.WriteString(s[i:j])
				b.WriteByte('"')
				prev = '"'
				i = j - 1
				continue
			}
		}
		b.WriteByte(c)
		if c != ' ' && c != '\t' && c != '\r' && c != '\n' {
			prev = c
		}
	}
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
