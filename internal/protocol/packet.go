package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the fixed little-endian u32 header in front of every packet.
	HeaderSize = 4

	// DefaultMaxPacketBytes is the largest packet the radio accepts in one transmission.
	DefaultMaxPacketBytes = 260

	// DefaultPacketSize is the data chunk size used when splitting resources.
	DefaultPacketSize = DefaultMaxPacketBytes - HeaderSize
)

// Packet is one radio transmission unit.
//
// Header is position dependent: the first packet of a transfer carries the
// total resource size, every later packet carries its zero-based index.
type Packet struct {
	Header  uint32
	Payload []byte
}

// Metadata is the decoded view of a transfer's leading packet.
type Metadata struct {
	TotalSize uint32
	Name      string
}

// Limits constrains packet encode/decode sizes.
type Limits struct {
	MaxPacketBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxPacketBytes: DefaultMaxPacketBytes}
}

func (l Limits) Validate() error {
	if l.MaxPacketBytes <= HeaderSize {
		return fmt.Errorf("%w: max_packet_bytes=%d", ErrInvalidLimits, l.MaxPacketBytes)
	}
	return nil
}

// PayloadCapacity returns how many payload bytes fit after the header.
func (l Limits) PayloadCapacity() int {
	return l.MaxPacketBytes - HeaderSize
}

// MakeMetadataPacket builds the leading packet of a transfer.
func MakeMetadataPacket(totalSize uint32, name []byte, limits Limits) (Packet, error) {
	if err := limits.Validate(); err != nil {
		return Packet{}, err
	}
	if len(name)+HeaderSize > limits.MaxPacketBytes {
		return Packet{}, fmt.Errorf("%w: name=%d bytes max=%d", ErrNameTooLong, len(name), limits.PayloadCapacity())
	}
	return Packet{Header: totalSize, Payload: cloneBytes(name)}, nil
}

// MakeDataPacket builds an indexed data packet.
func MakeDataPacket(index uint32, chunk []byte, limits Limits) (Packet, error) {
	if err := limits.Validate(); err != nil {
		return Packet{}, err
	}
	if len(chunk)+HeaderSize > limits.MaxPacketBytes {
		return Packet{}, fmt.Errorf("%w: chunk=%d bytes max=%d", ErrChunkTooLarge, len(chunk), limits.PayloadCapacity())
	}
	return Packet{Header: index, Payload: cloneBytes(chunk)}, nil
}

// Size returns the encoded length of p.
func (p Packet) Size() int {
	return HeaderSize + len(p.Payload)
}

// Encode serialises p into on-air bytes.
func (p Packet) Encode() []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	binary.LittleEndian.PutUint32(buf[0:HeaderSize], p.Header)
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// Metadata interprets p as a leading transfer packet.
func (p Packet) Metadata() Metadata {
	return Metadata{TotalSize: p.Header, Name: string(p.Payload)}
}

// Index interprets p as a data packet.
func (p Packet) Index() uint32 {
	return p.Header
}

// DecodePacket parses one physical-layer packet. The radio provides packet
// boundaries, so the whole of b is the packet.
func DecodePacket(b []byte, limits Limits) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, ErrShortPacket
	}
	if limits.MaxPacketBytes > 0 && len(b) > limits.MaxPacketBytes {
		return Packet{}, fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, len(b), limits.MaxPacketBytes)
	}
	return Packet{
		Header:  binary.LittleEndian.Uint32(b[0:HeaderSize]),
		Payload: cloneBytes(b[HeaderSize:]),
	}, nil
}

// PacketCount returns how many data packets a resource of total bytes needs.
func PacketCount(total uint64, packetSize int) uint64 {
	if packetSize <= 0 || total == 0 {
		return 0
	}
	size := uint64(packetSize)
	return (total + size - 1) / size
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
