package frame

import (
	"errors"

	"github.com/rs/zerolog/log"
)

// Config describes one inbound text channel.
type Config struct {
	Mode          Mode
	Terminators   Terminators
	MaxFrameBytes int
	// Reveal undoes obfuscation on classes that carry it.
	Reveal bool
}

func DefaultDataConfig() Config {
	return Config{
		Mode:          ModeTagPrefix,
		Terminators:   DefaultDataTerminators,
		MaxFrameBytes: DefaultMaxFrameBytes,
		Reveal:        true,
	}
}

// Decoder turns raw channel bytes into classified messages.
type Decoder struct {
	cfg   Config
	reasm *Reassembler
}

func NewDecoder(cfg Config) (*Decoder, error) {
	r, err := NewReassembler(cfg.Terminators, cfg.MaxFrameBytes)
	if err != nil {
		return nil, err
	}
	return &Decoder{cfg: cfg, reasm: r}, nil
}

// Feed consumes p. Frames with an unknown class are discarded and reported in
// errs; the buffer is reset after every terminator either way.
func (d *Decoder) Feed(p []byte) (msgs []Message, errs []error) {
	frames, err := d.reasm.Feed(p)
	if err != nil {
		log.Warn().Err(err).Int("chunk_bytes", len(p)).Msg("frame.Decoder.Feed overflow; partial frame dropped")
		errs = append(errs, err)
	}
	for _, f := range frames {
		msg, err := Classify(f, d.cfg.Mode)
		if err != nil {
			var unk *UnknownTagError
			if errors.As(err, &unk) {
				log.Warn().Str("frame", unk.Frame).Msg("frame.Decoder.Feed discard unknown tag")
			}
			errs = append(errs, err)
			continue
		}
		if d.cfg.Reveal {
			msg = Open(msg)
		}
		msgs = append(msgs, msg)
	}
	return msgs, errs
}

func (d *Decoder) Pending() int {
	return d.reasm.Pending()
}
