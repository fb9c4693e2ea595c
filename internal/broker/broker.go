// Package broker implements the man-in-the-middle packet shaper: two
// symmetric directions, each with a receive goroutine and a send
// goroutine sharing a min-heap of scheduled envelopes. Supervision uses
// dgroup.Group so all four goroutines are named and joined together.
package broker

import (
	"context"
	"net"

	"github.com/datawire/dlib/dgroup"

	"github.com/PatrikValkovic/UDPtransfer/internal/metrics"
	"github.com/PatrikValkovic/UDPtransfer/internal/rng"
)

// Broker owns both directional pipelines of the man-in-the-middle.
type Broker struct {
	senderSide   *direction
	receiverSide *direction
}

// New constructs a Broker. senderConn is the socket facing the sender,
// receiverConn the socket facing the receiver; the two directions cross
// them, each reading from one socket and forwarding out the other.
func New(senderConn, receiverConn net.PacketConn, receiverAddr, senderAddr net.Addr, cfg Config, src rng.Source, mx *metrics.Broker) *Broker {
	return &Broker{
		senderSide:   newDirection("sender", senderConn, receiverConn, receiverAddr, cfg, src, mx),
		receiverSide: newDirection("receiver", receiverConn, senderConn, senderAddr, cfg, src, mx),
	}
}

// Run starts all four goroutines and blocks until ctx is canceled or one
// of them returns an error.
func (b *Broker) Run(ctx context.Context) error {
	g := dgroup.NewGroup(ctx, dgroup.GroupConfig{})
	g.Go("sender-recv", b.senderSide.receiveLoop)
	g.Go("sender-send", b.senderSide.sendLoop)
	g.Go("receiver-recv", b.receiverSide.receiveLoop)
	g.Go("receiver-send", b.receiverSide.sendLoop)
	return g.Wait()
}
