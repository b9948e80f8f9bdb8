package relay

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// CommandTable maps full command text to the shorthand token sent over the link.
type CommandTable map[string]string

// DefaultCommands is the fixed table understood by the field node.
func DefaultCommands() CommandTable {
	return CommandTable{
		"send image":     "SI",
		"send telemetry": "ST",
		"read ground":    "RG",
		"status":         "ES",
		"reboot":         "RB",
	}
}

// Lookup maps text to its token. Text is matched case-insensitively after
// collapsing whitespace; a text that already is a known token maps to itself.
func (t CommandTable) Lookup(text string) (string, error) {
	key := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if key == "" {
		return "", fmt.Errorf("%w: empty", ErrUnknownCommand)
	}
	if tok, ok := t[key]; ok {
		return tok, nil
	}
	up := strings.ToUpper(key)
	for _, tok := range t {
		if tok == up {
			return tok, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, text)
}

// Tokens returns the known shorthand tokens in sorted order.
func (t CommandTable) Tokens() []string {
	return slices.Sorted(maps.Values(t))
}
