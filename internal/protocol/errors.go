package protocol

import "errors"

var (
	ErrNameTooLong       = errors.New("protocol: resource name too long for packet")
	ErrChunkTooLarge     = errors.New("protocol: chunk exceeds packet payload capacity")
	ErrShortPacket       = errors.New("protocol: packet shorter than header")
	ErrPacketTooLarge    = errors.New("protocol: packet exceeds maximum transmission size")
	ErrInvalidLimits     = errors.New("protocol: invalid packet limits")
	ErrInvalidPacketSize = errors.New("protocol: packet size must be positive")
)
