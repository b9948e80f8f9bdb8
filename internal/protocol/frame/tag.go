package frame

import (
	"fmt"
	"strings"
)

// Tag identifies a frame's message class.
type Tag uint8

const (
	TagTelemetry Tag = iota + 1
	TagGround
	TagImage
)

// tagOrder is the fixed classification order; the first matching tag wins.
var tagOrder = []Tag{TagTelemetry, TagGround, TagImage}

func Tags() []Tag {
	out := make([]Tag, len(tagOrder))
	copy(out, tagOrder)
	return out
}

func (t Tag) String() string {
	switch t {
	case TagTelemetry:
		return "telemetry"
	case TagGround:
		return "ground"
	case TagImage:
		return "image"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// Literal is the case-sensitive prefix used in tag-prefix framing.
func (t Tag) Literal() string {
	switch t {
	case TagTelemetry:
		return "agrix"
	case TagGround:
		return "ground"
	case TagImage:
		return "image"
	default:
		return ""
	}
}

// Discriminant is the one-byte class marker used in discriminant framing.
func (t Tag) Discriminant() byte {
	return byte(t)
}

// Obfuscated reports whether bodies of this class travel obscured.
// Image bodies are hex and are never shifted.
func (t Tag) Obfuscated() bool {
	return t == TagTelemetry || t == TagGround
}

func (t Tag) Valid() bool {
	return t >= TagTelemetry && t <= TagImage
}

// ParseTag accepts either the class name or its wire literal.
func ParseTag(raw string) (Tag, error) {
	v := strings.TrimSpace(raw)
	for _, t := range tagOrder {
		if v == t.String() || v == t.Literal() {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTag, raw)
}

// Mode selects how the class of a frame is encoded.
type Mode int

const (
	// ModeTagPrefix prefixes the body with the literal tag text.
	ModeTagPrefix Mode = iota
	// ModeDiscriminant prefixes the body with a single class byte.
	ModeDiscriminant
)

func (m Mode) String() string {
	switch m {
	case ModeDiscriminant:
		return "discriminant"
	default:
		return "tag"
	}
}

func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "tag", "tag_prefix", "prefix":
		return ModeTagPrefix, nil
	case "discriminant", "byte":
		return ModeDiscriminant, nil
	default:
		return ModeTagPrefix, fmt.Errorf("frame: unknown framing mode %q", raw)
	}
}
