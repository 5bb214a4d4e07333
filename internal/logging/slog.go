// Package logging builds the process logger: a text sink, the otelslog
// bridge, optional GELF shipping, and a zerolog adapter for libraries that
// want one.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// InstrumentationScope names the otelslog logger.
const InstrumentationScope = "livelocation"

// swapped by tests
var stdout io.Writer = os.Stdout

// Options selects the sinks for Setup.
type Options struct {
	// Out receives text records. Stdout is used when nil.
	Out   io.Writer
	Level string
	// Provider enables the OTel bridge when non-nil.
	Provider *sdklog.LoggerProvider
	// Extra handlers, such as GELF, receive every record too.
	Extra   []slog.Handler
	Context ContextProvider
}

// Manager owns the process logger and the OTel provider it flushes.
type Manager struct {
	logger   *slog.Logger
	provider *sdklog.LoggerProvider
}

func NewManager() *Manager {
	return &Manager{}
}

// ParseLevel accepts slog level names in any case and falls back to INFO.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Setup replaces the logger. Loggers handed out earlier keep their sinks.
func (m *Manager) Setup(opts Options) {
	m.provider = opts.Provider

	out := opts.Out
	if out == nil {
		out = stdout
	}
	text := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if t, ok := a.Value.Any().(time.Time); ok && a.Key == slog.TimeKey {
				a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
			}
			return a
		},
	})

	sinks := []slog.Handler{text}
	if opts.Provider != nil {
		sinks = append(sinks, otelslog.NewHandler(InstrumentationScope, otelslog.WithLoggerProvider(opts.Provider)))
	}
	sinks = append(sinks, opts.Extra...)

	var h slog.Handler = newFanout(sinks...)
	if opts.Context != nil {
		h = contextHandler{h, opts.Context}
	}
	m.logger = slog.New(h)
	m.logger.Info("Logging initialized", "level", ParseLevel(opts.Level).String())
}

// Logger returns slog.Default until Setup has run.
func (m *Manager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush pushes buffered OTel records out.
func (m *Manager) Flush(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.ForceFlush(ctx)
}
