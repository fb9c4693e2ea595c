// Package config defines the CLI flag surfaces shared by the three
// binaries and layers them on top of environment-variable defaults:
// go-envconfig populates defaults, pflag overrides them.
package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/pflag"
)

// Common holds the flags every component accepts. Bind/Addr are
// deliberately not here: the sender needs both a local bind address and
// a distinct destination address, the receiver needs only a bind
// address, and the broker needs two of each (one pair per direction) -
// so each component declares its own address fields instead of sharing
// one ambiguous "Bind".
type Common struct {
	Verbose bool   `env:"VERBOSE"`
	Packet  uint16 `env:"PACKET, default=1500"`
	Metrics string `env:"METRICS"`
}

// AddCommonFlags registers the shared flags on fs, seeding their
// defaults from c (already populated by Load).
func AddCommonFlags(fs *pflag.FlagSet, c *Common) {
	fs.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "enable human-readable logging")
	fs.Uint16Var(&c.Packet, "packet", c.Packet, "max packet size in bytes")
	fs.StringVar(&c.Metrics, "metrics", c.Metrics, "bind address for the /metrics endpoint (disabled if empty)")
}

// Sender holds the sender-specific flags, layered on Common. Bind is
// the local socket address; Addr is the receiver's (or broker's)
// address the sender connects to - two distinct flags, not aliases.
type Sender struct {
	Common
	Bind       string `env:"BIND, default=:0"`
	Addr       string `env:"ADDR"`
	File       string `env:"FILE"`
	Window     uint16 `env:"WINDOW, default=15"`
	TimeoutMS  uint32 `env:"TIMEOUT, default=100"`
	Repetition uint32 `env:"REPETITION, default=20"`
	SumSize    uint16 `env:"SUM_SIZE, default=64"`
}

// Load populates s from the process environment, using the
// UDPTRANSFER_ prefix, so that flags parsed afterwards take
// precedence over any value set here.
func (s *Sender) Load(ctx context.Context) error {
	return envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   s,
		Prefix:   "UDPTRANSFER_",
		Lookuper: envconfig.OsLookuper(),
	})
}

// AddFlags registers the sender's flags on fs.
func (s *Sender) AddFlags(fs *pflag.FlagSet) {
	AddCommonFlags(fs, &s.Common)
	fs.StringVar(&s.Bind, "bind", s.Bind, "local bind ip:port")
	fs.StringVar(&s.Addr, "addr", s.Addr, "destination (receiver or broker) ip:port")
	fs.StringVarP(&s.File, "file", "f", s.File, "input file to send (required)")
	fs.Uint16VarP(&s.Window, "window", "w", s.Window, "max window size in packets")
	fs.Uint32VarP(&s.TimeoutMS, "timeout", "t", s.TimeoutMS, "retransmission timeout in ms")
	fs.Uint32VarP(&s.Repetition, "repetition", "r", s.Repetition, "retry budget before declaring the connection lost")
	fs.Uint16VarP(&s.SumSize, "sum_size", "s", s.SumSize, "checksum width in bytes")
	fs.Uint16Var(&s.SumSize, "checksum", s.SumSize, "alias for --sum_size")
}

// Receiver holds the receiver-specific flags, layered on Common.
type Receiver struct {
	Common
	Bind      string `env:"BIND, default=:3000"`
	Directory string `env:"DIRECTORY, default=received"`
	Window    uint16 `env:"WINDOW, default=15"`
	TimeoutMS uint32 `env:"TIMEOUT, default=5000"`
	SumSize   uint16 `env:"SUM_SIZE, default=16"`
}

// Load populates r from the process environment.
func (r *Receiver) Load(ctx context.Context) error {
	return envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   r,
		Prefix:   "UDPTRANSFER_",
		Lookuper: envconfig.OsLookuper(),
	})
}

// AddFlags registers the receiver's flags on fs.
func (r *Receiver) AddFlags(fs *pflag.FlagSet) {
	AddCommonFlags(fs, &r.Common)
	fs.StringVar(&r.Bind, "bind", r.Bind, "local bind ip:port")
	fs.StringVarP(&r.Directory, "directory", "d", r.Directory, "output directory; files named by connection id")
	fs.Uint16VarP(&r.Window, "window", "w", r.Window, "max window size in packets")
	fs.Uint32VarP(&r.TimeoutMS, "timeout", "t", r.TimeoutMS, "connection idle timeout in ms")
	fs.Uint16VarP(&r.SumSize, "sum_size", "s", r.SumSize, "checksum width in bytes")
	fs.Uint16Var(&r.SumSize, "checksum", r.SumSize, "alias for --sum_size")
}

// Broker holds the broker-specific flags, layered on Common.
type Broker struct {
	Common
	SenderBind   string  `env:"SENDER_BIND, default=:3001"`
	SenderAddr   string  `env:"SENDER_ADDR"`
	ReceiverBind string  `env:"RECEIVER_BIND, default=:3002"`
	ReceiverAddr string  `env:"RECEIVER_ADDR"`
	DelayMean    float64 `env:"DELAY_MEAN, default=0"`
	DelayStd     float64 `env:"DELAY_STD, default=0"`
	DropRate     float64 `env:"DROP_RATE, default=0"`
	Modify       float64 `env:"MODIFY, default=0"`
}

// Load populates b from the process environment.
func (b *Broker) Load(ctx context.Context) error {
	return envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   b,
		Prefix:   "UDPTRANSFER_",
		Lookuper: envconfig.OsLookuper(),
	})
}

// AddFlags registers the broker's flags on fs.
func (b *Broker) AddFlags(fs *pflag.FlagSet) {
	AddCommonFlags(fs, &b.Common)
	fs.StringVar(&b.SenderBind, "sender_bind", b.SenderBind, "local bind ip:port for the sender-facing socket")
	fs.StringVar(&b.SenderAddr, "sender_addr", b.SenderAddr, "address the sender-facing socket forwards to (the sender's address once it has contacted the broker)")
	fs.StringVar(&b.ReceiverBind, "receiver_bind", b.ReceiverBind, "local bind ip:port for the receiver-facing socket")
	fs.StringVar(&b.ReceiverAddr, "receiver_addr", b.ReceiverAddr, "address of the real receiver")
	fs.Float64Var(&b.DelayMean, "delay_mean", b.DelayMean, "base extra scheduling delay, in ms")
	fs.Float64Var(&b.DelayStd, "delay_std", b.DelayStd, "scale of a uniform [0,1) draw added to --delay_mean (not a Gaussian stddev), in ms")
	fs.Float64Var(&b.DropRate, "drop_rate", b.DropRate, "probability of dropping a forwarded packet")
	fs.Float64Var(&b.Modify, "modify", b.Modify, "per-byte probability of replacing a forwarded byte with a random one")
}
