package main

import (
	"context"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/PatrikValkovic/UDPtransfer/internal/broker"
	"github.com/PatrikValkovic/UDPtransfer/internal/config"
	"github.com/PatrikValkovic/UDPtransfer/internal/metrics"
	"github.com/PatrikValkovic/UDPtransfer/internal/netio"
	"github.com/PatrikValkovic/UDPtransfer/internal/rng"
	"github.com/PatrikValkovic/UDPtransfer/internal/telemetry"
)

const processName = "udptransfer-broker"

func main() {
	ctx := context.Background()
	ctx = dgroup.WithGoroutineName(ctx, "/"+processName)

	var cfg config.Broker
	if err := cfg.Load(ctx); err != nil {
		dlog.Errorf(ctx, "loading environment config: %v", err)
		os.Exit(1)
	}

	cmd := &cobra.Command{
		Use:          processName,
		Short:        "Sit between a sender and a receiver, shaping traffic with delay, drop, and corruption",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return Main(cmd.Context(), &cfg)
		},
	}
	cfg.AddFlags(cmd.Flags())
	cmd.MarkFlagRequired("receiver_addr")
	cmd.MarkFlagRequired("sender_addr")

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// Main wires up logging, optional metrics, and the two directional
// pipelines, and runs them until ctx is canceled.
func Main(ctx context.Context, cfg *config.Broker) error {
	ctx = telemetry.Init(ctx, cfg.Verbose)
	ctx = telemetry.WithComponent(ctx, "broker")
	ctx = telemetry.WithRunID(ctx)

	if cfg.ReceiverAddr == "" {
		return errors.New("--receiver_addr (the real receiver's address) is required")
	}
	if cfg.SenderAddr == "" {
		return errors.New("--sender_addr (the sender's address) is required")
	}

	g := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		EnableSignalHandling: true,
	})

	reg := prometheus.NewRegistry()
	mx := metrics.NewBroker(reg)
	if cfg.Metrics != "" {
		g.Go("metrics", func(ctx context.Context) error {
			return metrics.Serve(ctx, cfg.Metrics, reg)
		})
	}

	g.Go("relay", func(ctx context.Context) error {
		senderConn, err := netio.Listen(ctx, cfg.SenderBind)
		if err != nil {
			return errors.Wrap(err, "bind sender-facing socket")
		}
		receiverConn, err := netio.Listen(ctx, cfg.ReceiverBind)
		if err != nil {
			senderConn.Close()
			return errors.Wrap(err, "bind receiver-facing socket")
		}
		defer func() {
			// Both sockets get a chance to close even if one errors,
			// and both failures are reported rather than only the first.
			var result *multierror.Error
			result = multierror.Append(result, senderConn.Close())
			result = multierror.Append(result, receiverConn.Close())
			if err := result.ErrorOrNil(); err != nil {
				dlog.Warnf(ctx, "closing broker sockets: %v", err)
			}
		}()

		receiverAddr, err := netio.ResolveAddr(cfg.ReceiverAddr)
		if err != nil {
			return errors.Wrap(err, "resolve --receiver_addr")
		}

		senderAddr, err := netio.ResolveAddr(cfg.SenderAddr)
		if err != nil {
			return errors.Wrap(err, "resolve --sender_addr")
		}

		b := broker.New(senderConn, receiverConn, receiverAddr, senderAddr, broker.Config{
			MaxPacket: cfg.Packet,
			DelayMean: cfg.DelayMean,
			DelayStd:  cfg.DelayStd,
			DropRate:  cfg.DropRate,
			Modify:    cfg.Modify,
		}, rng.CryptoSource{}, mx)
		return b.Run(ctx)
	})

	return g.Wait()
}
