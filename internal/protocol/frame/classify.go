package frame

import "strings"

// Message is one classified frame.
type Message struct {
	Tag  Tag
	Body string
}

// Classify strips the class marker from a complete frame.
func Classify(frame string, mode Mode) (Message, error) {
	switch mode {
	case ModeDiscriminant:
		if len(frame) > 0 {
			if t := Tag(frame[0]); t.Valid() {
				return Message{Tag: t, Body: frame[1:]}, nil
			}
		}
	default:
		for _, t := range tagOrder {
			if strings.HasPrefix(frame, t.Literal()) {
				return Message{Tag: t, Body: frame[len(t.Literal()):]}, nil
			}
		}
	}
	return Message{}, &UnknownTagError{Frame: frame}
}
