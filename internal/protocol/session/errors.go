package session

import "errors"

var (
	ErrMetadataSendFailed = errors.New("session: metadata send failed")
	ErrTransferAborted    = errors.New("session: transfer aborted")
	ErrTransferActive     = errors.New("session: another transfer is active")
	ErrSessionUsed        = errors.New("session: session already ran")
	ErrSourceOpen         = errors.New("session: resource open failed")
	ErrSourceRead         = errors.New("session: resource read failed")
	ErrResourceTooLarge   = errors.New("session: resource exceeds size limit")
	ErrInvalidConfig      = errors.New("session: invalid config")

	ErrAssemblyTooLarge  = errors.New("session: announced transfer exceeds size limit")
	ErrAssemblyBadName   = errors.New("session: metadata name is not printable")
	ErrAssemblyBadChunk  = errors.New("session: data chunk does not fit the announced size")
	ErrAssemblyNoSession = errors.New("session: data packet without an active transfer")
)
