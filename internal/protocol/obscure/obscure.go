// Package obscure implements the link's fixed-shift letter substitution.
//
// This is obfuscation, not confidentiality: anyone who knows the shift can
// reverse it.
package obscure

import "strings"

// Shift is the fixed rotation applied to ASCII letters.
const Shift = 3

// Obscure rotates every ASCII letter forward by Shift within its case.
func Obscure(text string) string {
	return rotate(text, Shift)
}

// Reveal undoes Obscure.
func Reveal(text string) string {
	return rotate(text, 26-Shift)
}

func rotate(text string, by int) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c >= 'a' && c <= 'z':
			c = 'a' + byte((int(c-'a')+by)%26)
		case c >= 'A' && c <= 'Z':
			c = 'A' + byte((int(c-'A')+by)%26)
		}
		b.WriteByte(c)
	}
	return b.String()
}
