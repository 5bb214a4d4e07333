package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/campusride/livelocation/internal/config"
	"github.com/campusride/livelocation/internal/logging"
	intOtel "github.com/campusride/livelocation/internal/otel"
)

// BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	AppName string = "livelocation"
)

// global variables
var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.Manager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	LogFilePath string
	LogFile     *os.File

	SessionStartTime time.Time = time.Now()

	// closers run in reverse order on shutdown
	closers []io.Closer
)

type command struct {
	summary string
	flags   func(fs *pflag.FlagSet)
	run     func(ctx context.Context, fs *pflag.FlagSet) error
}

var commands = map[string]command{
	"broadcast": {"share this device's position on a bus channel", broadcastFlags, runBroadcast},
	"view":      {"follow a bus and print interpolated positions", viewFlags, runView},
	"session":   {"check, claim or release a device session", sessionFlags, runSession},
	"feed":      {"serve the websocket relay and the GTFS-RT feed", feedFlags, runFeed},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return errors.New("no command provided")
	}

	name := strings.ToLower(args[0])
	switch name {
	case "version":
		fmt.Printf("%s %s (built %s, %s/%s)\n", AppName, CurrentVersion, BuildDate, runtime.GOOS, runtime.GOARCH)
		return nil
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return nil
	}

	cmd, ok := commands[name]
	if !ok {
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}

	fs := newFlagSet(name)
	cmd.flags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	if err := bootstrap(fs); err != nil {
		return err
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	Logger.Info("Starting command", "command", name, "version", CurrentVersion)
	return cmd.run(ctx, fs)
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "usage: %s <command> [flags]\n\ncommands:\n", AppName)
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %-10s %s\n", n, commands[n].summary)
	}
	fmt.Fprintf(w, "  %-10s %s\n", "version", "print version information")
}

// newFlagSet registers the flags every command shares.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", ".", "directory containing "+config.FileName)
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Bool("log-stdout", false, "log to stdout instead of the logs directory")
	return fs
}

// bootstrap loads configuration and sets up logging and OTel.
func bootstrap(fs *pflag.FlagSet) error {
	SlogManager = logging.NewManager()
	SlogManager.Setup(logging.Options{Level: "warn"})
	Logger = SlogManager.Logger()

	configDir, _ := fs.GetString("config")
	if err := config.Load(configDir); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	}
	if err := viper.BindPFlag("logLevel", fs.Lookup("log-level")); err != nil {
		return fmt.Errorf("binding log-level flag: %w", err)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	// stays an untyped nil when logging to stdout
	var out io.Writer
	if toStdout, _ := fs.GetBool("log-stdout"); !toStdout {
		f, err := logging.OpenLogFile(viper.GetString("logsDir"), AppName, SessionStartTime)
		if err != nil {
			return err
		}
		LogFile, LogFilePath = f, f.Name()
		out = f
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		var err error
		OTelProvider, err = intOtel.New(context.Background(), intOtel.Config{
			Enabled:        otelCfg.Enabled,
			ServiceName:    otelCfg.ServiceName,
			BatchTimeout:   otelCfg.BatchTimeout,
			MetricInterval: otelCfg.MetricInterval,
			Writer:         out,
			Endpoint:       otelCfg.Endpoint,
			Insecure:       otelCfg.Insecure,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		}
	}

	var extra []slog.Handler
	graylogCfg := config.GetGraylogConfig()
	if graylogCfg.Enabled {
		w, err := logging.DialGELF(graylogCfg.Address)
		if err != nil {
			Logger.Error("Failed to connect to Graylog", "error", err, "address", graylogCfg.Address)
		} else {
			closers = append(closers, w)
			extra = append(extra, logging.NewGELFHandler(w, logging.ParseLevel(viper.GetString("logLevel"))))
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	SlogManager.Setup(logging.Options{
		Out:      out,
		Level:    viper.GetString("logLevel"),
		Provider: otelLogProvider,
		Extra:    extra,
		Context:  contextAttrs,
	})
	Logger = SlogManager.Logger()
	slog.SetDefault(Logger)
	if LogFilePath != "" {
		Logger.Info("Logging to file", "path", LogFilePath)
	}
	return nil
}

// deviceID and platform are set once the command knows them.
var (
	deviceID string
	platform string
)

func contextAttrs() []slog.Attr {
	var attrs []slog.Attr
	if deviceID != "" {
		attrs = append(attrs, slog.String("deviceId", deviceID))
	}
	if platform != "" {
		attrs = append(attrs, slog.String("platform", platform))
	}
	return attrs
}

func shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			Logger.Warn("Error during shutdown", "error", err)
		}
	}
	closers = nil

	if err := SlogManager.Flush(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "flushing logs:", err)
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "shutting down OTel:", err)
		}
	}
	if LogFile != nil {
		_ = LogFile.Close()
	}
}
