// Package metrics defines the prometheus collectors exposed by the
// sender, receiver, and broker over an optional /metrics endpoint:
// promauto counters/gauges registered on a dedicated registry.
package metrics

import (
	"context"
	"net/http"

	"github.com/datawire/dlib/dhttp"
	"github.com/datawire/dlib/dlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sender holds the counters and gauges the sender FSM updates.
type Sender struct {
	PacketsSent          prometheus.Counter
	PacketsRetransmitted prometheus.Counter
	BytesSent            prometheus.Counter
	WindowPosition       prometheus.Gauge
}

// NewSender registers a Sender collector set on reg and returns it;
// callers serve reg themselves via Serve.
func NewSender(reg *prometheus.Registry) *Sender {
	factory := promauto.With(reg)
	return &Sender{
		PacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "udptransfer_sender_packets_sent_total",
			Help: "Data packets transmitted, including retransmissions.",
		}),
		PacketsRetransmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "udptransfer_sender_packets_retransmitted_total",
			Help: "Data packets re-sent after their retransmit timeout elapsed.",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "udptransfer_sender_bytes_sent_total",
			Help: "Payload bytes transmitted, including retransmissions.",
		}),
		WindowPosition: factory.NewGauge(prometheus.GaugeOpts{
			Name: "udptransfer_sender_window_position",
			Help: "Current lowest unacknowledged sequence number.",
		}),
	}
}

// Receiver holds the counters and gauges the receiver FSM updates.
type Receiver struct {
	ConnectionsActive   prometheus.Gauge
	BytesWritten        prometheus.Counter
	ConnectionsEvicted  prometheus.Counter
	ConnectionsAccepted prometheus.Counter
}

// NewReceiver registers and returns a Receiver collector set.
func NewReceiver(reg *prometheus.Registry) *Receiver {
	factory := promauto.With(reg)
	return &Receiver{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "udptransfer_receiver_connections_active",
			Help: "Connections currently tracked by the receiver.",
		}),
		BytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "udptransfer_receiver_bytes_written_total",
			Help: "Payload bytes flushed to output files.",
		}),
		ConnectionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "udptransfer_receiver_connections_evicted_total",
			Help: "Connections dropped by timeout garbage collection.",
		}),
		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "udptransfer_receiver_connections_accepted_total",
			Help: "Connections successfully negotiated via Init.",
		}),
	}
}

// Broker holds the per-direction counters and histogram the broker's
// scheduler updates.
type Broker struct {
	PacketsForwarded prometheus.CounterVec
	PacketsDropped   prometheus.CounterVec
	PacketsMutated   prometheus.CounterVec
	DelaySeconds     prometheus.HistogramVec
}

// NewBroker registers and returns a Broker collector set, labeled by
// direction ("sender"/"receiver").
func NewBroker(reg *prometheus.Registry) *Broker {
	factory := promauto.With(reg)
	return &Broker{
		PacketsForwarded: *factory.NewCounterVec(prometheus.CounterOpts{
			Name: "udptransfer_broker_packets_forwarded_total",
			Help: "Packets relayed to the egress peer.",
		}, []string{"direction"}),
		PacketsDropped: *factory.NewCounterVec(prometheus.CounterOpts{
			Name: "udptransfer_broker_packets_dropped_total",
			Help: "Packets discarded by the configured drop rate.",
		}, []string{"direction"}),
		PacketsMutated: *factory.NewCounterVec(prometheus.CounterOpts{
			Name: "udptransfer_broker_packets_mutated_total",
			Help: "Packets that had at least one byte corrupted.",
		}, []string{"direction"}),
		DelaySeconds: *factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "udptransfer_broker_delay_seconds",
			Help:    "Scheduled additional delay applied to forwarded packets.",
			Buckets: prometheus.DefBuckets,
		}, []string{"direction"}),
	}
}

// Serve starts an HTTP server exposing reg on addr under /metrics,
// supervised via dhttp.ServerConfig so it participates in the same
// cancellation-on-ctx-done lifecycle as the rest of the process. It
// blocks until ctx is canceled or the server fails.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	sc := &dhttp.ServerConfig{Handler: mux}
	dlog.Infof(ctx, "metrics endpoint listening on %s", addr)
	return sc.ListenAndServe(ctx, addr)
}
