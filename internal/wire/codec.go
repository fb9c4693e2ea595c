package wire

// Encode serializes p into header||body||checksum, where checksum is the
// checksumSize-byte XOR fold of the preceding bytes. Init
// packets are zero-padded so the whole frame is exactly PacketSize bytes,
// allowing the negotiated packet size to be probed by the reply length.
func Encode(p Packet, checksumSize int) []byte {
	h := p.header()
	body := p.body()

	var frame []byte
	if ip, ok := p.(InitPacket); ok {
		// The padded frame length is governed by the Init packet's own
		// negotiated fields, not by the checksumSize the caller appends;
		// in normal use the two agree, but they are not forced equal.
		total := int(ip.PacketSize) - int(ip.ChecksumSize)
		if total < HeaderSize+len(body) {
			total = HeaderSize + len(body)
		}
		frame = make([]byte, total)
		h.encodeInto(frame[:HeaderSize])
		copy(frame[HeaderSize:HeaderSize+len(body)], body)
	} else {
		frame = make([]byte, HeaderSize+len(body))
		h.encodeInto(frame[:HeaderSize])
		copy(frame[HeaderSize:], body)
	}

	if checksumSize == 0 {
		return frame
	}
	sum := xorFold(frame, checksumSize)
	out := make([]byte, len(frame)+checksumSize)
	copy(out, frame)
	copy(out[len(frame):], sum)
	return out
}

// Decode validates and parses a raw datagram using the connection's
// negotiated checksum width.
func Decode(data []byte, checksumSize int) (Packet, error) {
	if checksumSize+HeaderSize > len(data) {
		return nil, errInvalidSize(checksumSize+HeaderSize, len(data))
	}
	checksumStart := len(data) - checksumSize
	prefix := data[:checksumStart]

	h, err := decodeHeader(prefix)
	if err != nil {
		if pe, ok := err.(*ParseError); ok && pe.Kind == InvalidSize {
			return nil, errInvalidSize(pe.Expected, len(data))
		}
		return nil, err
	}

	if checksumSize > 0 {
		orig := data[checksumStart:]
		comp := xorFold(prefix, checksumSize)
		if !checksumsEqual(orig, comp) {
			return nil, errChecksumMismatch()
		}
	}

	switch h.Flag {
	case FlagInit:
		return decodeInitBody(prefix, len(data), checksumSize, h)
	case FlagData:
		payload := append([]byte(nil), prefix[HeaderSize:]...)
		return DataPacket{ConnID: h.ID, Seq: h.Seq, Ack: h.Ack, Payload: payload}, nil
	case FlagEnd:
		return EndPacket{ConnID: h.ID, Seq: h.Seq}, nil
	case FlagError:
		return ErrorPacket{ConnID: h.ID}, nil
	default: // FlagNone is header-valid but not a dispatchable packet kind.
		return nil, errInvalidFlag(byte(h.Flag))
	}
}

func decodeInitBody(prefix []byte, totalLen, checksumSize int, h Header) (Packet, error) {
	if len(prefix) < HeaderSize+6 {
		return nil, errInvalidSize(HeaderSize+6, totalLen)
	}
	windowSize := getUint16(prefix[HeaderSize : HeaderSize+2])
	packetSize := getUint16(prefix[HeaderSize+2 : HeaderSize+4])
	bodyChecksum := getUint16(prefix[HeaderSize+4 : HeaderSize+6])

	// A packet_size that leaves no room for the header, the three
	// negotiation fields, and the checksum is rejected.
	if int(packetSize) <= HeaderSize+6+checksumSize {
		return nil, errInvalidSize(HeaderSize+6+checksumSize+1, totalLen)
	}

	expected := int(packetSize) - int(bodyChecksum)
	if expected < 0 {
		expected = 0
	}
	if len(prefix) < expected {
		return nil, errInvalidSize(expected, totalLen)
	}
	return InitPacket{ConnID: h.ID, WindowSize: windowSize, PacketSize: packetSize, ChecksumSize: bodyChecksum}, nil
}

// ParseInitUnchecked returns the negotiable fields of an Init packet
// without validating overall length against packet_size or checking the
// checksum. It is used exclusively during negotiation, where the peer
// must infer the sender's intended checksum width before it can fully
// validate the packet.
func ParseInitUnchecked(data []byte) (windowSize, packetSize, checksumSize uint16, err error) {
	if len(data) < HeaderSize+6 {
		return 0, 0, 0, errInvalidSize(HeaderSize+6, len(data))
	}
	windowSize = getUint16(data[HeaderSize : HeaderSize+2])
	packetSize = getUint16(data[HeaderSize+2 : HeaderSize+4])
	checksumSize = getUint16(data[HeaderSize+4 : HeaderSize+6])
	return windowSize, packetSize, checksumSize, nil
}
