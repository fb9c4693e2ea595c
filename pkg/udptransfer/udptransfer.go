// Package udptransfer is the public façade over the protocol's wire
// types: a thin pkg/ surface backed by the internal/ implementation
// packages. Library consumers that want to inspect or reimplement parts
// of the protocol should depend on this package rather than reaching
// into internal/.
package udptransfer

import (
	"github.com/PatrikValkovic/UDPtransfer/internal/wire"
)

// Packet is the wire-level tagged packet variant: InitPacket, DataPacket,
// EndPacket, or ErrorPacket.
type Packet = wire.Packet

// InitPacket negotiates transport parameters between sender and receiver.
type InitPacket = wire.InitPacket

// DataPacket carries one chunk of file payload.
type DataPacket = wire.DataPacket

// EndPacket signals a clean end of transfer.
type EndPacket = wire.EndPacket

// ErrorPacket is a fatal abort for a connection id.
type ErrorPacket = wire.ErrorPacket

// ParseError is the taxonomy of ways a datagram can fail to decode.
type ParseError = wire.ParseError

// ParseErrorKind discriminates the ParseError cases.
type ParseErrorKind = wire.ParseErrorKind

const (
	InvalidSize      = wire.InvalidSize
	ChecksumMismatch = wire.ChecksumMismatch
	InvalidFlag      = wire.InvalidFlag
)

// HeaderSize is the fixed 9-byte packet header length.
const HeaderSize = wire.HeaderSize

// Encode serializes p with the given checksum width.
func Encode(p Packet, checksumWidth int) []byte {
	return wire.Encode(p, checksumWidth)
}

// Decode parses a raw datagram with the given checksum width.
func Decode(data []byte, checksumWidth int) (Packet, error) {
	return wire.Decode(data, checksumWidth)
}

// ConnectionProperties are the static parameters agreed at Init time and
// held fixed for the lifetime of a connection.
type ConnectionProperties struct {
	ID           uint32
	ChecksumSize uint16
	WindowSize   uint16
	PacketSize   uint16
}
