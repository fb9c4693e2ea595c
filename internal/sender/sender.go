// Package sender implements the sender-side finite state machine: Init
// negotiation, Go-Back-N data transfer, and a closing handshake. The FSM
// is single-threaded over its socket, the read timeout on every receive
// doubling as the retransmit clock rather than any multi-goroutine
// fan-out.
package sender

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/pkg/errors"

	"github.com/PatrikValkovic/UDPtransfer/internal/metrics"
	"github.com/PatrikValkovic/UDPtransfer/internal/netio"
	"github.com/PatrikValkovic/UDPtransfer/internal/rng"
	"github.com/PatrikValkovic/UDPtransfer/internal/telemetry"
	"github.com/PatrikValkovic/UDPtransfer/internal/window"
	"github.com/PatrikValkovic/UDPtransfer/internal/wire"
)

// Config holds the negotiation preferences and retry policy read from
// the CLI/env layer.
type Config struct {
	LocalWindow   uint16
	LocalPacket   uint16
	LocalChecksum uint16
	Timeout       time.Duration
	Repetition    uint32
}

// ErrPeerAborted is returned when the peer sends an Error packet or an
// unexpected packet type for the current phase.
var ErrPeerAborted = errors.New("sender: peer aborted the connection")

// ErrRetriesExhausted is returned when a phase's retry budget runs out
// with no forward progress.
var ErrRetriesExhausted = errors.New("sender: retry budget exhausted")

type part struct {
	payload      []byte
	lastTransmit time.Time
	sent         bool
}

// Sender drives one file transfer over conn to peer.
type Sender struct {
	conn net.PacketConn
	peer net.Addr
	cfg  Config
	src  rng.Source
	mx   *metrics.Sender

	id           uint32
	windowSize   uint16
	packetSize   uint16
	checksumSize uint16
	payloadSize  int

	windowPosition uint16
	loadSeq        uint16
	loadedParts    map[uint16]*part
	fileFullyRead  bool

	reader *bufio.Reader
}

// New constructs a Sender for the given connection and negotiation
// preferences. src supplies nothing during negotiation (ids are
// receiver-assigned) but is threaded through for symmetry with the
// receiver and for future extension.
func New(conn net.PacketConn, peer net.Addr, cfg Config, src rng.Source, mx *metrics.Sender) *Sender {
	return &Sender{
		conn:        conn,
		peer:        peer,
		cfg:         cfg,
		src:         src,
		mx:          mx,
		loadedParts: make(map[uint16]*part),
	}
}

// Run performs the full Init → Data → Closing handshake for the file
// at path, blocking until the transfer completes or fails.
func (s *Sender) Run(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open input file")
	}
	defer f.Close()
	s.reader = bufio.NewReader(f)

	ctx, err = s.negotiate(ctx)
	if err != nil {
		return err
	}
	if err := s.transferData(ctx); err != nil {
		return err
	}
	if err := s.closeConnection(ctx); err != nil {
		return err
	}
	fmt.Println("File receive confirmed")
	return nil
}

func (s *Sender) negotiate(ctx context.Context) (context.Context, error) {
	winPref, packetPref, checksumPref := s.cfg.LocalWindow, s.cfg.LocalPacket, s.cfg.LocalChecksum
	attempts := uint32(0)
	for {
		if attempts >= s.cfg.Repetition {
			return ctx, ErrRetriesExhausted
		}
		init := wire.InitPacket{ConnID: 0, WindowSize: winPref, PacketSize: packetPref, ChecksumSize: checksumPref}
		if _, err := s.conn.WriteTo(wire.Encode(init, int(checksumPref)), s.peer); err != nil {
			return ctx, errors.Wrap(err, "send init")
		}

		data, addr, err := netio.ReadPacket(s.conn, s.cfg.Timeout)
		if err == netio.ErrRetry {
			attempts++
			continue
		}
		if err != nil {
			return ctx, errors.Wrap(err, "receive init reply")
		}
		s.peer = addr

		_, _, remoteChecksum, perr := wire.ParseInitUnchecked(data)
		if perr != nil {
			attempts++
			continue
		}
		pkt, derr := wire.Decode(data, int(remoteChecksum))
		if derr != nil {
			var pe *wire.ParseError
			if errors.As(derr, &pe) && pe.Kind == wire.InvalidSize {
				packetPref = uint16(pe.Actual)
			}
			attempts++
			continue
		}
		reply, ok := pkt.(wire.InitPacket)
		if !ok {
			attempts++
			continue
		}
		if reply.ConnID == 0 {
			winPref, packetPref, checksumPref = reply.WindowSize, reply.PacketSize, reply.ChecksumSize
			attempts++
			continue
		}

		s.id = reply.ConnID
		s.windowSize = min16(winPref, reply.WindowSize)
		s.packetSize = min16(packetPref, reply.PacketSize)
		s.checksumSize = max16(checksumPref, reply.ChecksumSize)
		s.payloadSize = int(s.packetSize) - wire.HeaderSize - int(s.checksumSize)
		if s.payloadSize <= 0 {
			return ctx, errors.New("sender: negotiated packet size leaves no room for payload")
		}
		ctx = telemetry.WithConnection(ctx, s.id)
		dlog.Infof(ctx, "negotiated connection: window=%d packet=%d checksum=%d", s.windowSize, s.packetSize, s.checksumSize)
		return ctx, nil
	}
}

func (s *Sender) refill() error {
	for window.Distance(s.loadSeq, s.windowPosition) < uint16(s.windowSize) && !s.fileFullyRead {
		buf := make([]byte, s.payloadSize)
		n, err := io.ReadFull(s.reader, buf)
		if n > 0 {
			s.loadedParts[s.loadSeq] = &part{payload: buf[:n]}
			s.loadSeq = window.Add(s.loadSeq, 1)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			s.fileFullyRead = true
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read input file")
		}
	}
	return nil
}

func (s *Sender) isComplete() bool {
	return s.fileFullyRead && len(s.loadedParts) == 0
}

func (s *Sender) transferData(ctx context.Context) error {
	attempts := uint32(0)
	for !s.isComplete() {
		if err := s.refill(); err != nil {
			return err
		}

		now := time.Now()
		window.InOrder(s.windowPosition, window.Size(s.windowSize), func(seq uint16) bool {
			p, ok := s.loadedParts[seq]
			if !ok {
				return true
			}
			if p.sent && now.Sub(p.lastTransmit) < s.cfg.Timeout {
				return true
			}
			pkt := wire.DataPacket{ConnID: s.id, Seq: seq, Ack: s.windowPosition, Payload: p.payload}
			if _, err := s.conn.WriteTo(wire.Encode(pkt, int(s.checksumSize)), s.peer); err == nil {
				if p.sent {
					s.mx.PacketsRetransmitted.Inc()
				}
				s.mx.PacketsSent.Inc()
				s.mx.BytesSent.Add(float64(len(p.payload)))
				p.sent = true
				p.lastTransmit = now
			}
			return true
		})

		if attempts >= s.cfg.Repetition {
			return ErrRetriesExhausted
		}
		data, _, err := netio.ReadPacket(s.conn, s.cfg.Timeout)
		if err == netio.ErrRetry {
			attempts++
			continue
		}
		if err != nil {
			return errors.Wrap(err, "receive data phase")
		}
		pkt, derr := wire.Decode(data, int(s.checksumSize))
		if derr != nil {
			continue
		}
		if pkt.ID() != s.id {
			continue
		}
		switch p := pkt.(type) {
		case wire.DataPacket:
			if s.acknowledge(p.Ack) {
				attempts = 0
				s.mx.WindowPosition.Set(float64(s.windowPosition))
			}
		case wire.InitPacket:
			// delayed duplicate of the handshake; ignore.
		case wire.EndPacket:
			s.sendError(ctx)
			return ErrPeerAborted
		case wire.ErrorPacket:
			return ErrPeerAborted
		}
	}
	return nil
}

func (s *Sender) acknowledge(ack uint16) bool {
	if !window.Within(ack, s.windowPosition, window.Size(s.windowSize)) {
		return false
	}
	for seq := s.windowPosition; ; seq = window.Add(seq, 1) {
		delete(s.loadedParts, seq)
		if seq == ack {
			break
		}
	}
	s.windowPosition = window.Add(ack, 1)
	return true
}

func (s *Sender) closeConnection(ctx context.Context) error {
	attempts := uint32(0)
	for {
		if attempts >= s.cfg.Repetition {
			return ErrRetriesExhausted
		}
		end := wire.EndPacket{ConnID: s.id, Seq: s.windowPosition}
		if _, err := s.conn.WriteTo(wire.Encode(end, int(s.checksumSize)), s.peer); err != nil {
			return errors.Wrap(err, "send end")
		}

		data, _, err := netio.ReadPacket(s.conn, s.cfg.Timeout)
		if err == netio.ErrRetry {
			attempts++
			continue
		}
		if err != nil {
			return errors.Wrap(err, "receive end reply")
		}
		pkt, derr := wire.Decode(data, int(s.checksumSize))
		if derr != nil {
			attempts++
			continue
		}
		if pkt.ID() != s.id {
			attempts++
			continue
		}
		switch p := pkt.(type) {
		case wire.EndPacket:
			if p.Seq == s.windowPosition {
				dlog.Infof(ctx, "connection closed cleanly")
				return nil
			}
			attempts++
		case wire.InitPacket:
			attempts++
		default:
			s.sendError(ctx)
			return ErrPeerAborted
		}
	}
}

func (s *Sender) sendError(ctx context.Context) {
	errPkt := wire.ErrorPacket{ConnID: s.id}
	if _, err := s.conn.WriteTo(wire.Encode(errPkt, int(s.checksumSize)), s.peer); err != nil {
		dlog.Warnf(ctx, "failed to send error packet: %v", err)
	}
}

func min16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}

func max16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}
