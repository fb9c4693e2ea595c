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
	"github.com/PatrikValkovic/UDPtransfer/internal/receiver"
	"github.com/PatrikValkovic/UDPtransfer/internal/rng"
	"github.com/PatrikValkovic/UDPtransfer/internal/telemetry"
)

const processName = "udptransfer-receiver"

func main() {
	ctx := context.Background()
	ctx = dgroup.WithGoroutineName(ctx, "/"+processName)

	var cfg config.Receiver
	if err := cfg.Load(ctx); err != nil {
		dlog.Errorf(ctx, "loading environment config: %v", err)
		os.Exit(1)
	}

	cmd := &cobra.Command{
		Use:          processName,
		Short:        "Accept and reassemble files sent over the reliable sliding-window UDP protocol",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return Main(cmd.Context(), &cfg)
		},
	}
	cfg.AddFlags(cmd.Flags())

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// Main wires up logging, optional metrics, and the receiver multiplexer,
// and runs it until ctx is canceled.
func Main(ctx context.Context, cfg *config.Receiver) error {
	ctx = telemetry.Init(ctx, cfg.Verbose)
	ctx = telemetry.WithComponent(ctx, "receiver")
	ctx = telemetry.WithRunID(ctx)

	g := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		EnableSignalHandling: true,
	})

	reg := prometheus.NewRegistry()
	mx := metrics.NewReceiver(reg)
	if cfg.Metrics != "" {
		g.Go("metrics", func(ctx context.Context) error {
			return metrics.Serve(ctx, cfg.Metrics, reg)
		})
	}

	g.Go("accept", func(ctx context.Context) error {
		conn, err := netio.Listen(ctx, cfg.Bind)
		if err != nil {
			return errors.Wrap(err, "bind socket")
		}
		defer conn.Close()

		r := receiver.New(conn, receiver.Config{
			MaxWindow:   cfg.Window,
			MaxPacket:   cfg.Packet,
			MinChecksum: cfg.SumSize,
			Timeout:     time.Duration(cfg.TimeoutMS) * time.Millisecond,
			Directory:   cfg.Directory,
		}, rng.CryptoSource{}, mx)
		return r.Run(ctx)
	})

	return g.Wait()
}
