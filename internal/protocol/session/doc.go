// Package session owns multi-packet transfers over the radio link.
//
// Ownership boundary:
// - sender-side transfer state machine (metadata, then data packets in index order)
// - the single-active-transfer gate and the pending resource outbox
// - requeue backoff for aborted transfers
// - receive-side assembly of metadata and data packets into a resource
//
// Data packets carry no session identifier, so two transfers are never
// interleaved on the wire. The Gate enforces that on the sender and the
// Assembler assumes it on the receiver.
package session
