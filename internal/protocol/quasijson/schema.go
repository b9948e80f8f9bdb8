package quasijson

import "github.com/danmuck/agrilink/internal/protocol/frame"

// Kind is the recipient type a field is coerced to.
type Kind int

const (
	// KindFloat coerces JSON numbers and numeric strings to float64.
	KindFloat Kind = iota
	// KindRaw passes the JSON value through untouched.
	KindRaw
	// KindString requires a JSON string.
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindRaw:
		return "raw"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Field is one projected key.
type Field struct {
	Name string
	Kind Kind
}

// Schema is the fixed field set extracted for one message class.
type Schema struct {
	Name string
	// StripSpaces removes every space before parsing; ground payloads are dense.
	StripSpaces bool
	Fields      []Field
}

func floats(names ...string) []Field {
	out := make([]Field, 0, len(names))
	for _, n := range names {
		out = append(out, Field{Name: n, Kind: KindFloat})
	}
	return out
}

func raws(names ...string) []Field {
	out := make([]Field, 0, len(names))
	for _, n := range names {
		out = append(out, Field{Name: n, Kind: KindRaw})
	}
	return out
}

var (
	TelemetrySchema = Schema{
		Name:   "telemetry",
		Fields: floats("M", "BT", "B1", "C1", "B2", "C2", "T", "H", "P", "X", "Y", "Z", "La", "L"),
	}
	GroundSchema = Schema{
		Name:        "ground",
		StripSpaces: true,
		Fields:      raws("T", "H", "SM", "SP", "SL"),
	}
	ImageSchema = Schema{
		Name:   "image",
		Fields: []Field{{Name: "image", Kind: KindString}},
	}
)

// SchemaFor maps a frame class to its record schema.
func SchemaFor(tag frame.Tag) (Schema, bool) {
	switch tag {
	case frame.TagTelemetry:
		return TelemetrySchema, true
	case frame.TagGround:
		return GroundSchema, true
	case frame.TagImage:
		return ImageSchema, true
	default:
		return Schema{}, false
	}
}
