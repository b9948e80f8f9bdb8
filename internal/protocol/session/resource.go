package session

import (
	"bytes"
	"io"
)

// Resource is one transferable byte source. ID is the stable key used for
// deduplication; Name is what travels in the metadata packet.
type Resource struct {
	ID   string
	Name string
	Size uint32
	Open func() (io.ReadCloser, error)
}

// BytesResource wraps an in-memory payload.
func BytesResource(id, name string, data []byte) Resource {
	buf := bytes.Clone(data)
	return Resource{
		ID:   id,
		Name: name,
		Size: uint32(len(buf)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(buf)), nil
		},
	}
}
