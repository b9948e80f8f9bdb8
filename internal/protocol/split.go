package protocol

import (
	"errors"
	"io"
	"iter"
)

// Chunk is one indexed slice of a resource.
type Chunk struct {
	Index uint32
	Data  []byte
}

// Splitter lazily cuts a byte stream into chunks of at most PacketSize bytes.
// It is finite and not restartable; the only state is the read position.
type Splitter struct {
	r    io.Reader
	size int
	next uint32
	done bool
	err  error
}

func NewSplitter(r io.Reader, packetSize int) (*Splitter, error) {
	if packetSize <= 0 {
		return nil, ErrInvalidPacketSize
	}
	return &Splitter{r: r, size: packetSize}, nil
}

// Next returns the following chunk, or io.EOF once the source is drained.
func (s *Splitter) Next() (Chunk, error) {
	if s.done {
		if s.err != nil {
			return Chunk{}, s.err
		}
		return Chunk{}, io.EOF
	}
	buf := make([]byte, s.size)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
	case errors.Is(err, io.EOF):
		s.done = true
		return Chunk{}, io.EOF
	default:
		s.done = true
		s.err = err
		return Chunk{}, err
	}
	c := Chunk{Index: s.next, Data: buf[:n]}
	s.next++
	return c, nil
}

// All ranges over the remaining chunks. Iteration stops at the end of the
// source or at the first read error, which Err then reports.
func (s *Splitter) All() iter.Seq2[uint32, []byte] {
	return func(yield func(uint32, []byte) bool) {
		for {
			c, err := s.Next()
			if err != nil {
				return
			}
			if !yield(c.Index, c.Data) {
				return
			}
		}
	}
}

// Err returns the first non-EOF read error.
func (s *Splitter) Err() error {
	return s.err
}

// Emitted returns how many chunks have been produced so far.
func (s *Splitter) Emitted() uint32 {
	return s.next
}
