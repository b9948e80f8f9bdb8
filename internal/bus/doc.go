// Package bus connects the field node to its subordinate controller.
//
// Inbound datagrams are delivered to a Handler callback that must return
// quickly; longer work goes through the bounded Queue to a dedicated
// consumer. Outbound traffic is short command tokens, each followed by the
// command terminator.
package bus
