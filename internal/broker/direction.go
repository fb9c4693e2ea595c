package broker

import (
	"container/heap"
	"context"
	"math"
	"net"
	"sync"
	"time"

	"github.com/datawire/dlib/dlog"

	"github.com/PatrikValkovic/UDPtransfer/internal/metrics"
	"github.com/PatrikValkovic/UDPtransfer/internal/netio"
	"github.com/PatrikValkovic/UDPtransfer/internal/rng"
)

// Config holds the broker's per-direction shaping knobs, applied
// identically to both directions.
type Config struct {
	MaxPacket uint16
	DelayMean float64 // ms
	DelayStd  float64 // ms; scales a uniform [0,1) draw, not a Gaussian stddev
	DropRate  float64
	Modify    float64
}

// direction runs one of the broker's two symmetric pipelines: read from
// ingress, drop/delay/mutate, schedule onto a shared heap, then emit in
// due_at order to the fixed egress peer. Two goroutines (receiveLoop,
// sendLoop) cooperate over the heap via a mutex and a notify channel, a
// message-passing substitute for a condition variable's timed wait.
type direction struct {
	label      string
	ingress    net.PacketConn
	egress     net.PacketConn
	egressAddr net.Addr
	cfg        Config
	src        rng.Source
	mx         *metrics.Broker

	mu     sync.Mutex
	queue  envelopeHeap
	notify chan struct{}
}

func newDirection(label string, ingress, egress net.PacketConn, egressAddr net.Addr, cfg Config, src rng.Source, mx *metrics.Broker) *direction {
	return &direction{
		label:      label,
		ingress:    ingress,
		egress:     egress,
		egressAddr: egressAddr,
		cfg:        cfg,
		src:        src,
		mx:         mx,
		notify:     make(chan struct{}, 1),
	}
}

// receiveLoop is the direction's receive thread: bounded receive, drop,
// delay, mutate, schedule.
func (d *direction) receiveLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		data, _, err := netio.ReadPacket(d.ingress, time.Second)
		if err == netio.ErrRetry {
			continue
		}
		if err != nil {
			return err
		}

		if d.src.Float64() < d.cfg.DropRate {
			d.mx.PacketsDropped.WithLabelValues(d.label).Inc()
			continue
		}

		n := len(data)
		if n > int(d.cfg.MaxPacket) {
			n = int(d.cfg.MaxPacket)
		}
		content := append([]byte(nil), data[:n]...)
		mutated := false
		if d.cfg.Modify > 0 {
			for i := range content {
				if d.src.Float64() < d.cfg.Modify {
					content[i] = d.src.Byte()
					mutated = true
				}
			}
		}
		if mutated {
			d.mx.PacketsMutated.WithLabelValues(d.label).Inc()
		}

		delayMS := math.Max(0, d.cfg.DelayMean+d.cfg.DelayStd*d.src.Float64())
		delay := time.Duration(delayMS * float64(time.Millisecond))
		d.mx.DelaySeconds.WithLabelValues(d.label).Observe(delay.Seconds())

		d.mu.Lock()
		heap.Push(&d.queue, envelope{payload: content, dueAt: time.Now().Add(delay)})
		d.mu.Unlock()
		select {
		case d.notify <- struct{}{}:
		default:
		}
	}
}

// sendLoop is the direction's send thread: pop the earliest-due envelope
// once its time arrives and forward it, waking at least once a second so
// cancellation is prompt even with an empty queue.
func (d *direction) sendLoop(ctx context.Context) error {
	timer := time.NewTimer(time.Second)
	defer timer.Stop()
	for {
		wait := d.nextWait()
		if wait > 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return nil
			case <-timer.C:
			case <-d.notify:
			}
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		d.mu.Lock()
		if d.queue.Len() == 0 {
			d.mu.Unlock()
			continue
		}
		env := heap.Pop(&d.queue).(envelope)
		d.mu.Unlock()

		if _, err := d.egress.WriteTo(env.payload, d.egressAddr); err != nil {
			dlog.Warnf(ctx, "broker %s: forward failed: %v", d.label, err)
			continue
		}
		d.mx.PacketsForwarded.WithLabelValues(d.label).Inc()
	}
}

// nextWait returns how long the send thread should sleep before the
// earliest envelope becomes due, capped at one second, zero meaning
// "ready now".
func (d *direction) nextWait() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue.Len() == 0 {
		return time.Second
	}
	wait := time.Until(d.queue[0].dueAt)
	if wait < 0 {
		wait = 0
	}
	if wait > time.Second {
		wait = time.Second
	}
	return wait
}
