// Package telemetry wires up structured logging for the three binaries: a
// logrus.Logger with a custom Formatter wrapped by dlog, so the rest of
// the codebase logs through context.Context rather than a package-global
// logger.
package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/datawire/dlib/dlog"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Formatter renders a log entry as "<timestamp> <message> key=value ...",
// sorting extra fields for deterministic output.
type Formatter struct {
	timestampFormat string
}

// NewFormatter returns a Formatter using timestampFormat for the leading
// timestamp column.
func NewFormatter(timestampFormat string) *Formatter {
	return &Formatter{timestampFormat: timestampFormat}
}

// Format implements logrus.Formatter.
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := &bytes.Buffer{}
	b.WriteString(entry.Time.Format(f.timestampFormat))
	b.WriteByte(' ')
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%+v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// Init builds a logrus.Logger configured with Formatter, wraps it for
// dlog, and returns a context carrying that logger.
func Init(ctx context.Context, verbose bool) context.Context {
	logger := logrus.New()
	logger.SetFormatter(NewFormatter("2006-01-02 15:04:05.0000"))
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	wrapped := dlog.WrapLogrus(logger)
	dlog.SetFallbackLogger(wrapped)
	return dlog.WithLogger(ctx, wrapped)
}

// WithConnection scopes ctx's logger with the connection id, so every log
// line emitted for the rest of that connection's lifetime carries it
// without repeating it in the message text.
func WithConnection(ctx context.Context, id uint32) context.Context {
	return dlog.WithField(ctx, "conn", id)
}

// WithComponent scopes ctx's logger with a named component.
func WithComponent(ctx context.Context, name string) context.Context {
	return dlog.WithField(ctx, "component", name)
}

// WithRunID tags ctx's logger with a fresh random identifier for this
// process's lifetime, so log lines from one run can be told apart from
// the next in aggregated output.
func WithRunID(ctx context.Context) context.Context {
	return dlog.WithField(ctx, "run", uuid.NewString())
}
