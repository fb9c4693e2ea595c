// Package receiver implements the receiver-side finite state machine: a
// single-threaded multiplexer accepting many simultaneous connections
// keyed by connection id, structured as one accept loop plus a
// connection table rather than a goroutine per connection.
package receiver

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
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

// Config holds the receiver's negotiation ceilings/floors and timeout
// policy read from the CLI/env layer.
type Config struct {
	MaxWindow   uint16
	MaxPacket   uint16
	MinChecksum uint16
	Timeout     time.Duration
	Directory   string
}

type connState struct {
	id           uint32
	peerAddr     net.Addr
	windowSize   uint16
	packetSize   uint16
	checksumSize uint16

	windowPosition    uint16
	nextWritePosition uint16
	partsReceived     map[uint16][]byte
	lastReceiveTime   time.Time
	isClosed          bool
	file              *os.File
}

// Receiver multiplexes all in-flight connections over one socket.
type Receiver struct {
	conn        net.PacketConn
	cfg         Config
	src         rng.Source
	mx          *metrics.Receiver
	connections map[uint32]*connState
}

// New constructs a Receiver bound to conn.
func New(conn net.PacketConn, cfg Config, src rng.Source, mx *metrics.Receiver) *Receiver {
	return &Receiver{
		conn:        conn,
		cfg:         cfg,
		src:         src,
		mx:          mx,
		connections: make(map[uint32]*connState),
	}
}

// Run services datagrams until ctx is canceled, multiplexing across
// every connection this receiver has accepted.
func (r *Receiver) Run(ctx context.Context) error {
	if err := os.MkdirAll(r.cfg.Directory, 0o755); err != nil {
		return errors.Wrap(err, "create output directory")
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		data, addr, err := netio.ReadPacket(r.conn, r.cfg.Timeout)
		if err == netio.ErrRetry {
			r.evictStale(ctx)
			continue
		}
		if err != nil {
			return errors.Wrap(err, "receive")
		}
		r.handleDatagram(ctx, data, addr)
		r.evictStale(ctx)
	}
}

func (r *Receiver) handleDatagram(ctx context.Context, data []byte, addr net.Addr) {
	h, err := wire.PeekHeader(data)
	if err != nil {
		return
	}
	if h.Flag == wire.FlagInit {
		r.handleInit(ctx, data, addr)
		return
	}
	cs, ok := r.connections[h.ID]
	if !ok {
		return
	}
	ctx = telemetry.WithConnection(ctx, cs.id)
	pkt, err := wire.Decode(data, int(cs.checksumSize))
	if err != nil {
		return
	}
	switch p := pkt.(type) {
	case wire.DataPacket:
		r.handleData(ctx, cs, p)
	case wire.EndPacket:
		r.handleEnd(ctx, cs, p)
	case wire.ErrorPacket:
		r.handleError(ctx, cs, "peer sent error packet")
	}
}

func (r *Receiver) handleInit(ctx context.Context, data []byte, addr net.Addr) {
	_, _, proposedChecksum, perr := wire.ParseInitUnchecked(data)
	if perr != nil {
		return
	}
	pkt, derr := wire.Decode(data, int(proposedChecksum))
	if derr != nil {
		var pe *wire.ParseError
		if errors.As(derr, &pe) && pe.Kind == wire.InvalidSize {
			r.replyDefault(ctx, addr, len(data))
		}
		return
	}
	init, ok := pkt.(wire.InitPacket)
	if !ok {
		return
	}

	if init.ConnID != 0 {
		if cs, exists := r.connections[init.ConnID]; exists {
			r.sendInitReply(ctx, cs.id, cs.windowSize, cs.packetSize, cs.checksumSize, addr)
		}
		return
	}

	windowSize := min16(init.WindowSize, r.cfg.MaxWindow)
	packetSize := min16(init.PacketSize, r.cfg.MaxPacket)
	checksumSize := max16(init.ChecksumSize, r.cfg.MinChecksum)
	id, err := r.drawID()
	if err != nil {
		dlog.Errorf(ctx, "could not draw connection id: %v", err)
		return
	}

	cs := &connState{
		id:              id,
		peerAddr:        addr,
		windowSize:      windowSize,
		packetSize:      packetSize,
		checksumSize:    checksumSize,
		partsReceived:   make(map[uint16][]byte),
		lastReceiveTime: time.Now(),
	}
	r.connections[id] = cs
	r.mx.ConnectionsAccepted.Inc()
	r.mx.ConnectionsActive.Set(float64(len(r.connections)))
	ctx = telemetry.WithConnection(ctx, id)
	dlog.Infof(ctx, "accepted connection from %s: window=%d packet=%d checksum=%d", addr, windowSize, packetSize, checksumSize)
	r.sendInitReply(ctx, id, windowSize, packetSize, checksumSize, addr)
}

func (r *Receiver) drawID() (uint32, error) {
	for i := 0; i < 1<<16; i++ {
		id := rng.NonZeroUint32(r.src)
		if _, exists := r.connections[id]; !exists {
			return id, nil
		}
	}
	return 0, errors.New("receiver: exhausted attempts to draw a unique connection id")
}

func (r *Receiver) sendInitReply(ctx context.Context, id uint32, windowSize, packetSize, checksumSize uint16, addr net.Addr) {
	reply := wire.InitPacket{ConnID: id, WindowSize: windowSize, PacketSize: packetSize, ChecksumSize: checksumSize}
	if _, err := r.conn.WriteTo(wire.Encode(reply, int(checksumSize)), addr); err != nil {
		dlog.Warnf(ctx, "failed to send init reply to %s: %v", addr, err)
	}
}

func (r *Receiver) replyDefault(ctx context.Context, addr net.Addr, receivedLen int) {
	reply := wire.InitPacket{
		ConnID:       0,
		WindowSize:   r.cfg.MaxWindow,
		PacketSize:   min16(r.cfg.MaxPacket, uint16(receivedLen)),
		ChecksumSize: r.cfg.MinChecksum,
	}
	if _, err := r.conn.WriteTo(wire.Encode(reply, int(r.cfg.MinChecksum)), addr); err != nil {
		dlog.Warnf(ctx, "failed to send default init reply to %s: %v", addr, err)
	}
}

func (r *Receiver) handleData(ctx context.Context, cs *connState, p wire.DataPacket) {
	cs.lastReceiveTime = time.Now()
	if !window.Within(p.Seq, cs.windowPosition, window.Size(cs.windowSize)) {
		return
	}
	cs.partsReceived[p.Seq] = p.Payload
	for {
		if _, ok := cs.partsReceived[cs.windowPosition]; !ok {
			break
		}
		cs.windowPosition = window.Add(cs.windowPosition, 1)
	}

	if err := r.flush(cs); err != nil {
		dlog.Errorf(ctx, "flush failed: %v", err)
		r.handleError(ctx, cs, "file write failure")
		return
	}

	// windowPosition - 1 with 16-bit wraparound: the highest cumulatively
	// flushed sequence number, not "next expected".
	ack := cs.windowPosition - 1
	reply := wire.DataPacket{ConnID: cs.id, Seq: p.Seq, Ack: ack}
	if _, err := r.conn.WriteTo(wire.Encode(reply, int(cs.checksumSize)), cs.peerAddr); err != nil {
		dlog.Warnf(ctx, "failed to send data ack: %v", err)
	}
}

func (r *Receiver) flush(cs *connState) error {
	for {
		payload, ok := cs.partsReceived[cs.nextWritePosition]
		if !ok {
			return nil
		}
		if cs.file == nil {
			f, err := os.OpenFile(cs.filePath(r.cfg.Directory), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return errors.Wrap(err, "open output file")
			}
			cs.file = f
		}
		if _, err := cs.file.Write(payload); err != nil {
			return errors.Wrap(err, "write output file")
		}
		r.mx.BytesWritten.Add(float64(len(payload)))
		delete(cs.partsReceived, cs.nextWritePosition)
		cs.nextWritePosition = window.Add(cs.nextWritePosition, 1)
	}
}

func (cs *connState) filePath(dir string) string {
	return filepath.Join(dir, strconv.FormatUint(uint64(cs.id), 10))
}

func (r *Receiver) handleEnd(ctx context.Context, cs *connState, p wire.EndPacket) {
	if len(cs.partsReceived) != 0 || cs.windowPosition != p.Seq {
		r.handleError(ctx, cs, "end received with a gapped stream")
		return
	}
	cs.isClosed = true
	r.closeFile(cs)
	reply := wire.EndPacket{ConnID: cs.id, Seq: cs.windowPosition}
	if _, err := r.conn.WriteTo(wire.Encode(reply, int(cs.checksumSize)), cs.peerAddr); err != nil {
		dlog.Warnf(ctx, "failed to send end reply: %v", err)
	}
	delete(r.connections, cs.id)
	r.mx.ConnectionsActive.Set(float64(len(r.connections)))
	dlog.Infof(ctx, "connection closed cleanly")
}

func (r *Receiver) handleError(ctx context.Context, cs *connState, reason string) {
	ctx = telemetry.WithConnection(ctx, cs.id)
	r.closeFile(cs)
	if err := os.Remove(cs.filePath(r.cfg.Directory)); err != nil && !os.IsNotExist(err) {
		dlog.Warnf(ctx, "failed to remove partial file: %v", err)
	}
	errPkt := wire.ErrorPacket{ConnID: cs.id}
	if _, err := r.conn.WriteTo(wire.Encode(errPkt, int(cs.checksumSize)), cs.peerAddr); err != nil {
		dlog.Warnf(ctx, "failed to send error packet: %v", err)
	}
	delete(r.connections, cs.id)
	r.mx.ConnectionsActive.Set(float64(len(r.connections)))
	dlog.Infof(ctx, "connection terminated: %s", reason)
}

func (r *Receiver) closeFile(cs *connState) {
	if cs.file != nil {
		_ = cs.file.Close()
		cs.file = nil
	}
}

func (r *Receiver) evictStale(ctx context.Context) {
	now := time.Now()
	for id, cs := range r.connections {
		if now.Sub(cs.lastReceiveTime) <= r.cfg.Timeout {
			continue
		}
		if cs.isClosed {
			delete(r.connections, id)
			continue
		}
		r.mx.ConnectionsEvicted.Inc()
		r.handleError(ctx, cs, "timeout")
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
