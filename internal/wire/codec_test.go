package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestInitEncodeMatchesLayout(t *testing.T) {
	p := InitPacket{ConnID: 0, WindowSize: 0x8, PacketSize: 0x32, ChecksumSize: 0x4}
	got := Encode(p, 4)
	want := []byte{
		0, 0, 0, 0, // id
		0, 0, 0, 0, // seq, ack
		0x1,           // flag
		0, 0x8, 0, 0x32, 0, 0x4,
		0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0,
		0x1 ^ 0x32, 0, 0x8 ^ 0x4, 0, // checksum
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode mismatch:\ngot:  % x\nwant: % x", got, want)
	}
}

func TestInitDecodeMatchesLayout(t *testing.T) {
	data := []byte{
		0, 0x64, 0, 0,
		0, 0, 0, 0,
		0x1,
		0, 0x8, 0, 0x32, 0, 0x4,
		0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0,
		0x1 ^ 0x32, 0x64, 0x8 ^ 0x4, 0,
	}
	pkt, err := Decode(data, 4)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	init, ok := pkt.(InitPacket)
	if !ok {
		t.Fatalf("got %T, want InitPacket", pkt)
	}
	if init.ID() != 0x64<<16 || init.WindowSize != 0x8 || init.PacketSize != 0x32 || init.ChecksumSize != 0x4 {
		t.Fatalf("unexpected fields: %+v", init)
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	data := []byte{
		0, 0x64, 0, 0,
		0, 0, 0, 0,
		0x1,
		0, 0x8, 0, 0x32, 0, 0x4,
		0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0,
		0x1 ^ 0x32, 0 /* should be 0x64 */, 0x8 ^ 0x4, 0,
	}
	_, err := Decode(data, 4)
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Kind != ChecksumMismatch {
		t.Fatalf("want ChecksumMismatch, got %v", err)
	}
}

func TestDecodeInvalidSizeTooShort(t *testing.T) {
	data := []byte{
		0, 0x64, 0, 0,
		0, 0, 0, 0,
		0x1,
		0, 0x8, 0, 0x32, 0, 0x4,
		0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0,
		// valid checksum of the truncated prefix, so only the length is wrong
		0x1 ^ 0x32, 0x64, 0x8 ^ 0x4, 0,
	}
	_, err := Decode(data, 4)
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Kind != InvalidSize {
		t.Fatalf("want InvalidSize, got %v", err)
	}
}

func TestDecodeInvalidFlag(t *testing.T) {
	data := make([]byte, HeaderSize)
	data[8] = 0x7
	_, err := Decode(data, 0)
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Kind != InvalidFlag || pe.Flag != 0x7 {
		t.Fatalf("want InvalidFlag(7), got %v", err)
	}
}

func TestDecodeNoneFlagRejected(t *testing.T) {
	data := make([]byte, HeaderSize)
	_, err := Decode(data, 0)
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Kind != InvalidFlag {
		t.Fatalf("want InvalidFlag for None, got %v", err)
	}
}

func TestRoundTripAllKindsAllChecksumWidths(t *testing.T) {
	widths := []int{0, 1, 4, 16, 64}
	for _, k := range widths {
		packets := []Packet{
			InitPacket{ConnID: 0, WindowSize: 15, PacketSize: 1500, ChecksumSize: uint16(k)},
			InitPacket{ConnID: 42, WindowSize: 7, PacketSize: 800, ChecksumSize: uint16(k)},
			DataPacket{ConnID: 42, Seq: 3, Ack: 2, Payload: []byte("hello, world")},
			DataPacket{ConnID: 42, Seq: 65535, Ack: 0, Payload: nil},
			EndPacket{ConnID: 42, Seq: 99},
			ErrorPacket{ConnID: 42},
		}
		for _, p := range packets {
			encoded := Encode(p, k)
			decoded, err := Decode(encoded, k)
			if err != nil {
				t.Fatalf("checksum=%d packet=%+v: decode error: %v", k, p, err)
			}
			switch want := p.(type) {
			case InitPacket:
				got, ok := decoded.(InitPacket)
				if !ok || got != want {
					t.Fatalf("checksum=%d: got %+v want %+v", k, decoded, want)
				}
			case DataPacket:
				got, ok := decoded.(DataPacket)
				if !ok || got.ID() != want.ID() || got.Seq != want.Seq || got.Ack != want.Ack || !bytes.Equal(got.Payload, want.Payload) {
					t.Fatalf("checksum=%d: got %+v want %+v", k, decoded, want)
				}
			case EndPacket:
				got, ok := decoded.(EndPacket)
				if !ok || got != want {
					t.Fatalf("checksum=%d: got %+v want %+v", k, decoded, want)
				}
			case ErrorPacket:
				got, ok := decoded.(ErrorPacket)
				if !ok || got != want {
					t.Fatalf("checksum=%d: got %+v want %+v", k, decoded, want)
				}
			}
		}
	}
}

func TestChecksumTrailerIsXorFoldOfPrefix(t *testing.T) {
	// The last k bytes of a successfully decoded datagram must equal the
	// XOR-fold of the preceding bytes.
	p := DataPacket{ConnID: 7, Seq: 1, Ack: 0, Payload: []byte{1, 2, 3, 4, 5, 6, 7}}
	k := 3
	encoded := Encode(p, k)
	prefix := encoded[:len(encoded)-k]
	trailer := encoded[len(encoded)-k:]
	if !bytes.Equal(trailer, xorFold(prefix, k)) {
		t.Fatalf("trailer %x is not xorFold(prefix) %x", trailer, xorFold(prefix, k))
	}
}

func TestParseInitUncheckedIgnoresChecksum(t *testing.T) {
	p := InitPacket{ConnID: 0, WindowSize: 15, PacketSize: 1500, ChecksumSize: 64}
	encoded := Encode(p, 64)
	// Corrupt the checksum trailer; ParseInitUnchecked must not care.
	encoded[len(encoded)-1] ^= 0xFF
	ws, ps, cs, err := ParseInitUnchecked(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ws != 15 || ps != 1500 || cs != 64 {
		t.Fatalf("got (%d,%d,%d)", ws, ps, cs)
	}
}

func TestInitPacketSizeBoundaryRejected(t *testing.T) {
	// packet_size <= header+6+checksum_size must be rejected.
	data := Encode(InitPacket{ConnID: 0, WindowSize: 1, PacketSize: HeaderSize + 6, ChecksumSize: 0}, 0)
	_, err := Decode(data, 0)
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Kind != InvalidSize {
		t.Fatalf("want InvalidSize for packet_size at boundary, got %v", err)
	}
}

func TestZeroChecksumSkipsComputation(t *testing.T) {
	p := DataPacket{ConnID: 1, Seq: 1, Ack: 0, Payload: []byte{0xAB}}
	encoded := Encode(p, 0)
	if len(encoded) != HeaderSize+1 {
		t.Fatalf("zero checksum width must append no trailer bytes, got len %d", len(encoded))
	}
}
