package main

import (
	"context"
	"os"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/PatrikValkovic/UDPtransfer/internal/config"
	"github.com/PatrikValkovic/UDPtransfer/internal/metrics"
	"github.com/PatrikValkovic/UDPtransfer/internal/netio"
	"github.com/PatrikValkovic/UDPtransfer/internal/rng"
	"github.com/PatrikValkovic/UDPtransfer/internal/sender"
	"github.com/PatrikValkovic/UDPtransfer/internal/telemetry"
)

const processName = "udptransfer-sender"

func main() {
	ctx := context.Background()
	ctx = dgroup.WithGoroutineName(ctx, "/"+processName)

	var cfg config.Sender
	if err := cfg.Load(ctx); err != nil {
		dlog.Errorf(ctx, "loading environment config: %v", err)
		os.Exit(1)
	}

	cmd := &cobra.Command{
		Use:          processName,
		Short:        "Send a file over the reliable sliding-window UDP protocol",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return Main(cmd.Context(), &cfg)
		},
	}
	cfg.AddFlags(cmd.Flags())
	cmd.MarkFlagRequired("file")

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// Main wires up logging, optional metrics, and the sender FSM, and
// drives one file transfer to completion.
func Main(ctx context.Context, cfg *config.Sender) error {
	ctx = telemetry.Init(ctx, cfg.Verbose)
	ctx = telemetry.WithComponent(ctx, "sender")
	ctx = telemetry.WithRunID(ctx)

	if cfg.Addr == "" {
		return errors.New("--addr (the receiver's or broker's address) is required")
	}

	g := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		EnableSignalHandling: true,
	})

	reg := prometheus.NewRegistry()
	mx := metrics.NewSender(reg)
	if cfg.Metrics != "" {
		g.Go("metrics", func(ctx context.Context) error {
			return metrics.Serve(ctx, cfg.Metrics, reg)
		})
	}

	g.Go("transfer", func(ctx context.Context) error {
		conn, err := netio.Listen(ctx, cfg.Bind)
		if err != nil {
			return errors.Wrap(err, "bind socket")
		}
		defer conn.Close()

		peer, err := netio.ResolveAddr(cfg.Addr)
		if err != nil {
			return errors.Wrap(err, "resolve --addr")
		}

		s := sender.New(conn, peer, sender.Config{
			LocalWindow:   cfg.Window,
			LocalPacket:   cfg.Packet,
			LocalChecksum: cfg.SumSize,
			Timeout:       time.Duration(cfg.TimeoutMS) * time.Millisecond,
			Repetition:    cfg.Repetition,
		}, rng.CryptoSource{}, mx)
		return s.Run(ctx, cfg.File)
	})

	return g.Wait()
}
