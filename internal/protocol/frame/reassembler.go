package frame

import "strings"

const (
	DefaultDataTerminators    = "#"
	DefaultCommandTerminators = "~\n"

	// DefaultMaxFrameBytes bounds the accumulation buffer.
	DefaultMaxFrameBytes = 1024
)

// Terminators is the set of bytes that close a frame on one channel.
type Terminators string

func (t Terminators) Contains(c byte) bool {
	return strings.IndexByte(string(t), c) >= 0
}

// Primary is the terminator written by encoders on this channel.
func (t Terminators) Primary() byte {
	if len(t) == 0 {
		return 0
	}
	return t[0]
}

// Reassembler accumulates inbound bytes into terminator-delimited frames.
//
// States: accumulating until a terminator arrives, then the buffered frame is
// emitted and the buffer reset. A frame that outgrows the limit is dropped and
// the rest of it is discarded up to the next terminator.
type Reassembler struct {
	terms      Terminators
	maxBytes   int
	buf        []byte
	discarding bool
}

func NewReassembler(terms Terminators, maxBytes int) (*Reassembler, error) {
	if len(terms) == 0 {
		return nil, ErrNoTerminators
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	return &Reassembler{
		terms:    terms,
		maxBytes: maxBytes,
		buf:      make([]byte, 0, 64),
	}, nil
}

// FeedByte advances the state machine by one byte. ok is true when c closed a
// non-empty frame.
func (r *Reassembler) FeedByte(c byte) (frame string, ok bool, err error) {
	if r.terms.Contains(c) {
		if r.discarding {
			r.discarding = false
			return "", false, nil
		}
		if len(r.buf) == 0 {
			return "", false, nil
		}
		frame = string(r.buf)
		r.buf = r.buf[:0]
		return frame, true, nil
	}
	if r.discarding {
		return "", false, nil
	}
	if len(r.buf) >= r.maxBytes {
		r.buf = r.buf[:0]
		r.discarding = true
		return "", false, ErrFrameOverflow
	}
	r.buf = append(r.buf, c)
	return "", false, nil
}

// Feed pushes a chunk of inbound bytes and returns every frame it completed.
// Overflow is reported once per chunk; complete frames are still returned.
func (r *Reassembler) Feed(p []byte) ([]string, error) {
	var (
		frames []string
		ferr   error
	)
	for _, c := range p {
		frame, ok, err := r.FeedByte(c)
		if err != nil && ferr == nil {
			ferr = err
		}
		if ok {
			frames = append(frames, frame)
		}
	}
	return frames, ferr
}

// Pending returns the number of buffered bytes awaiting a terminator.
func (r *Reassembler) Pending() int {
	return len(r.buf)
}

func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.discarding = false
}
