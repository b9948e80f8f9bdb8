package frame

import (
	"fmt"

	"github.com/danmuck/agrilink/internal/protocol/obscure"
)

// Seal obscures the body when the message class requires it.
func Seal(msg Message) Message {
	if msg.Tag.Obfuscated() {
		msg.Body = obscure.Obscure(msg.Body)
	}
	return msg
}

// Open reverses Seal.
func Open(msg Message) Message {
	if msg.Tag.Obfuscated() {
		msg.Body = obscure.Reveal(msg.Body)
	}
	return msg
}

// Encode renders msg as <marker><body><terminator>, writing the channel's
// primary terminator. The body is written as given; call Seal first for wire
// traffic. A body holding any byte of terms would split on receive.
func Encode(msg Message, mode Mode, terms Terminators) ([]byte, error) {
	if !msg.Tag.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrUnknownTag, msg.Tag)
	}
	if err := checkBody(msg.Body, terms); err != nil {
		return nil, err
	}
	terminator := terms.Primary()
	var out []byte
	switch mode {
	case ModeDiscriminant:
		out = make([]byte, 0, 1+len(msg.Body)+1)
		out = append(out, msg.Tag.Discriminant())
	default:
		lit := msg.Tag.Literal()
		out = make([]byte, 0, len(lit)+len(msg.Body)+1)
		out = append(out, lit...)
	}
	out = append(out, msg.Body...)
	out = append(out, terminator)
	return out, nil
}

// EncodeToken renders a bare command token for the command channel.
func EncodeToken(token string, terms Terminators) ([]byte, error) {
	if err := checkBody(token, terms); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(token)+1)
	out = append(out, token...)
	return append(out, terms.Primary()), nil
}

func checkBody(body string, terms Terminators) error {
	if len(terms) == 0 {
		return ErrNoTerminators
	}
	for i := 0; i < len(body); i++ {
		if terms.Contains(body[i]) {
			return fmt.Errorf("%w: %q at offset %d", ErrBodyTerminated, body[i], i)
		}
	}
	return nil
}
