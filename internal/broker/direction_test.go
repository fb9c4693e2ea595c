package broker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PatrikValkovic/UDPtransfer/internal/metrics"
)

// fixedSource is a deterministic rng.Source for tests: Float64 replays a
// fixed sequence (wrapping around), Byte always returns a fixed value.
type fixedSource struct {
	floats []float64
	i      int
	byte_  byte
}

func (f *fixedSource) Uint32() uint32 { return 1 }
func (f *fixedSource) Float64() float64 {
	v := f.floats[f.i%len(f.floats)]
	f.i++
	return v
}
func (f *fixedSource) Byte() byte { return f.byte_ }

func listenLoopback(t *testing.T) net.PacketConn {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestReceiveLoopForwardsUndroppedPacket(t *testing.T) {
	ingress := listenLoopback(t)
	egress := listenLoopback(t)
	finalDst := listenLoopback(t)

	src := &fixedSource{floats: []float64{0.99}} // never drops, never mutates
	mx := metrics.NewBroker(prometheus.NewRegistry())
	d := newDirection("sender", ingress, egress, finalDst.LocalAddr(), Config{MaxPacket: 1500}, src, mx)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.receiveLoop(ctx)
	go d.sendLoop(ctx)

	sender := listenLoopback(t)
	_, err := sender.WriteTo([]byte("payload"), ingress.LocalAddr())
	require.NoError(t, err)

	require.NoError(t, finalDst.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1500)
	n, _, err := finalDst.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf[:n]))
}

func TestReceiveLoopDropsAccordingToDropRate(t *testing.T) {
	ingress := listenLoopback(t)
	egress := listenLoopback(t)
	finalDst := listenLoopback(t)

	src := &fixedSource{floats: []float64{0.0}} // always below any positive drop rate
	mx := metrics.NewBroker(prometheus.NewRegistry())
	d := newDirection("sender", ingress, egress, finalDst.LocalAddr(), Config{MaxPacket: 1500, DropRate: 1.0}, src, mx)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.receiveLoop(ctx)
	go d.sendLoop(ctx)

	sender := listenLoopback(t)
	_, err := sender.WriteTo([]byte("payload"), ingress.LocalAddr())
	require.NoError(t, err)

	require.NoError(t, finalDst.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	buf := make([]byte, 1500)
	_, _, err = finalDst.ReadFrom(buf)
	assert.Error(t, err, "dropped packet must never reach the egress peer")
}

func TestNextWaitCapsAtOneSecondAndZeroWhenDue(t *testing.T) {
	d := &direction{}
	assert.Equal(t, time.Second, d.nextWait(), "empty queue waits up to a second")

	d.queue = envelopeHeap{{dueAt: time.Now().Add(-time.Millisecond)}}
	assert.Equal(t, time.Duration(0), d.nextWait(), "overdue envelope is ready now")

	d.queue = envelopeHeap{{dueAt: time.Now().Add(5 * time.Second)}}
	assert.LessOrEqual(t, d.nextWait(), time.Second)
}
