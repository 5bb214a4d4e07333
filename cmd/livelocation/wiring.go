package main

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/pflag"

	"github.com/campusride/livelocation/internal/cache"
	"github.com/campusride/livelocation/internal/config"
	"github.com/campusride/livelocation/internal/database"
	"github.com/campusride/livelocation/internal/device"
	"github.com/campusride/livelocation/internal/influx"
	"github.com/campusride/livelocation/internal/location"
	"github.com/campusride/livelocation/internal/logging"
	"github.com/campusride/livelocation/internal/session"
	"github.com/campusride/livelocation/internal/storage"
	"github.com/campusride/livelocation/internal/subscription"
)

// openDatabase connects and migrates the configured database. The manager
// is closed on shutdown.
func openDatabase() (*database.Manager, error) {
	m := database.NewManager(config.GetDatabaseConfig(),
		logging.NewZerolog(Logger.With("component", "database")))
	if err := m.Connect(); err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	if err := m.Setup(); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("error setting up database: %w", err)
	}
	closers = append(closers, m)
	Logger.Info("Database ready", "dialect", m.DB.Dialector.Name(), "local", m.ShouldSaveLocal)
	return m, nil
}

func newSessionStore(ctx context.Context, cfg config.SessionConfig) (session.Store, error) {
	switch cfg.Backend {
	case "gorm":
		m, err := openDatabase()
		if err != nil {
			return nil, err
		}
		return session.NewGormStore(m.DB), nil
	case "dynamodb":
		return session.NewDynamoStoreFromEnv(ctx, cfg.DynamoRegion, cfg.DynamoTable)
	default:
		return session.NewMemoryStore(), nil
	}
}

// newArbiter loads the persisted device id and builds an arbiter over the
// configured store.
func newArbiter(ctx context.Context, info map[string]string) (*session.Arbiter, error) {
	cfg := config.GetSessionConfig()
	id, err := session.LoadOrCreateDeviceID(cfg.DeviceIDPath)
	if err != nil {
		return nil, err
	}
	deviceID = id

	store, err := newSessionStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s session store: %w", cfg.Backend, err)
	}
	return session.NewArbiter(session.Dependencies{
		Store:             store,
		DeviceID:          id,
		DeviceInfo:        info,
		Staleness:         cfg.Staleness,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            Logger.With("component", "session"),
	})
}

func newTransport(cfg config.ChannelConfig) subscription.Transport {
	logger := Logger.With("component", "transport", "transport", cfg.Transport)
	switch cfg.Transport {
	case "nsq":
		return &subscription.NSQTransport{
			NSQDAddr:     cfg.NSQDAddr,
			LookupdAddrs: cfg.LookupdAddrs,
			Logger:       logger,
		}
	default:
		return &subscription.WebSocketTransport{
			URL:    cfg.URL,
			Logger: logger,
		}
	}
}

func subscriptionConfig(cfg config.ChannelConfig) subscription.Config {
	return subscription.Config{
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		BaseBackoff:          cfg.BaseBackoff,
		BackgroundTeardown:   cfg.BackgroundTeardown,
		ConnectTimeout:       cfg.ConnectTimeout,
	}
}

// newHistorySink returns nil when history is disabled.
func newHistorySink(ctx context.Context, busID string) (location.Sink, error) {
	cfg := config.GetInfluxConfig()
	if !cfg.Enabled {
		return nil, nil
	}
	m := influx.NewManager(influx.Config{
		Enabled:   cfg.Enabled,
		URL:       cfg.URL(),
		Token:     cfg.Token,
		Org:       cfg.Org,
		Bucket:    cfg.Bucket,
		BackupDir: cfg.BackupDir,
	}, logging.NewZerolog(Logger.With("component", "influx")))
	if err := m.Connect(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to InfluxDB: %w", err)
	}
	closers = append(closers, m)
	return influx.NewSink(m, busID), nil
}

// openStorage creates and initializes the snapshot backend. With the gorm
// backend on local SQLite the database is dumped to storage.sqlite.dumpPath.
func openStorage() (storage.Backend, error) {
	cfg := config.GetStorageConfig()
	opts := storage.Options{
		Cache:         cache.NewLocationCache(),
		Logger:        Logger.With("component", "storage", "type", cfg.Type),
		FlushInterval: cfg.FlushInterval,
	}
	if cfg.Type == "gorm" {
		m, err := openDatabase()
		if err != nil {
			return nil, err
		}
		opts.DB = m.DB
		if m.ShouldSaveLocal && cfg.SQLite.DumpPath != "" {
			dumpPath := cfg.SQLite.DumpPath
			opts.Dump = func() error { return m.DumpToDisk(dumpPath) }
			opts.DumpInterval = cfg.SQLite.DumpInterval
		}
	}

	b, err := storage.NewBackend(cfg.Type, opts)
	if err != nil {
		return nil, err
	}
	if err := b.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	closers = append(closers, b)
	Logger.Info("Storage backend initialized", "type", cfg.Type)
	return b, nil
}

// deviceFlags registers the flags describing the host environment.
func deviceFlags(fs *pflag.FlagSet) {
	fs.String("platform", "web", "host platform (web, android, ios)")
	fs.String("user-agent", "", "user agent reported by the host")
	fs.Int("touch-points", 0, "maximum touch points of the host")
	fs.Int("screen-width", 0, "screen width in CSS pixels")
}

func environmentFromFlags(fs *pflag.FlagSet) device.Environment {
	p, _ := fs.GetString("platform")
	ua, _ := fs.GetString("user-agent")
	touch, _ := fs.GetInt("touch-points")
	width, _ := fs.GetInt("screen-width")

	p = strings.ToLower(p)
	env := device.Environment{
		UserAgent:      ua,
		GOOS:           runtime.GOOS,
		MaxTouchPoints: touch,
		ScreenWidth:    width,
	}
	if p == "android" || p == "ios" {
		env.NativeShell = true
		env.NativePlatform = p
	}
	return env
}

func deviceInfo(caps device.Capabilities) map[string]string {
	return map[string]string{
		"platform": caps.Platform.String(),
		"class":    caps.Class.String(),
		"version":  CurrentVersion,
	}
}
