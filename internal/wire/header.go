package wire

import "encoding/binary"

// Flag is the single byte at offset 8 of every packet header that
// discriminates the four packet kinds (plus the unused "None" value).
type Flag byte

const (
	FlagNone  Flag = 0x0
	FlagInit  Flag = 0x1
	FlagData  Flag = 0x2
	FlagError Flag = 0x4
	FlagEnd   Flag = 0x8
)

// HeaderSize is the fixed, network-byte-order header length in bytes:
// id(4) + seq(2) + ack(2) + flag(1).
const HeaderSize = 9

// Header is the 9-byte prefix common to every packet kind.
type Header struct {
	ID   uint32
	Seq  uint16
	Ack  uint16
	Flag Flag
}

func (h Header) encodeInto(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.ID)
	binary.BigEndian.PutUint16(buf[4:6], h.Seq)
	binary.BigEndian.PutUint16(buf[6:8], h.Ack)
	buf[8] = byte(h.Flag)
}

// PeekHeader reads the 9-byte header without validating the checksum
// trailer, used by a multiplexing receiver to route a datagram to its
// connection (and thus learn that connection's checksum width) before
// the packet can be fully decoded.
func PeekHeader(data []byte) (Header, error) {
	return decodeHeader(data)
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errInvalidSize(HeaderSize, len(buf))
	}
	flag := Flag(buf[8])
	switch flag {
	case FlagNone, FlagInit, FlagData, FlagError, FlagEnd:
	default:
		return Header{}, errInvalidFlag(buf[8])
	}
	return Header{
		ID:   binary.BigEndian.Uint32(buf[0:4]),
		Seq:  binary.BigEndian.Uint16(buf[4:6]),
		Ack:  binary.BigEndian.Uint16(buf[6:8]),
		Flag: flag,
	}, nil
}
