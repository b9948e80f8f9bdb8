// Package protocol owns the radio wire contract and packetization primitives.
//
// Ownership boundary:
// - packet header layout (4-byte little-endian u32 + payload)
// - metadata/data packet construction and decoding
// - splitting a resource into indexed chunks
//
// Text framing, obfuscation, payload repair and transfer sessions live in the
// frame, obscure, quasijson and session subpackages.
package protocol
