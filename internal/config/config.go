package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/campusride/livelocation/internal/database"
	"github.com/campusride/livelocation/pkg/core"
)

// FileName is the config file looked up in the config directory.
const FileName = "livelocation.cfg.json"

var validate = validator.New(validator.WithRequiredStructEnabled())

// TrackingConfig holds acquisition overrides. Zero durations and a negative
// distance filter keep the device-class default.
type TrackingConfig struct {
	HighAccuracyDesktop bool
	Background          bool
	Interval            time.Duration `validate:"gte=0"`
	FastestInterval     time.Duration `validate:"gte=0"`
	Timeout             time.Duration `validate:"gte=0"`
	MaxAge              time.Duration `validate:"gte=0"`
	DistanceFilter      float64
}

// Overrides converts the configured values into tracking overrides.
func (c TrackingConfig) Overrides() core.TrackingOverrides {
	var ov core.TrackingOverrides
	if c.Interval > 0 {
		ov.Interval = &c.Interval
	}
	if c.FastestInterval > 0 {
		ov.FastestInterval = &c.FastestInterval
	}
	if c.Timeout > 0 {
		ov.Timeout = &c.Timeout
	}
	if c.MaxAge > 0 {
		ov.MaxAge = &c.MaxAge
	}
	if c.DistanceFilter >= 0 {
		ov.DistanceFilter = &c.DistanceFilter
	}
	if c.Background {
		ov.Background = &c.Background
	}
	return ov
}

// ChannelConfig selects the live channel transport and its reconnect policy.
type ChannelConfig struct {
	Transport            string        `validate:"oneof=websocket nsq"`
	URL                  string        `validate:"required_if=Transport websocket"`
	NSQDAddr             string        `validate:"required_if=Transport nsq"`
	LookupdAddrs         []string
	MaxReconnectAttempts int           `validate:"gte=1"`
	BaseBackoff          time.Duration `validate:"gt=0"`
	BackgroundTeardown   time.Duration `validate:"gt=0"`
	ConnectTimeout       time.Duration `validate:"gt=0"`
}

// InterpolationConfig tunes the motion interpolator.
type InterpolationConfig struct {
	FPS               int     `validate:"gte=1,lte=240"`
	Easing            float64 `validate:"gt=0,lte=1"`
	TeleportThreshold float64 `validate:"gt=0"`
	SnapDistance      float64 `validate:"gt=0"`
	BufferSize        int     `validate:"gte=2"`
}

// SessionConfig selects the device session backend.
type SessionConfig struct {
	Backend           string        `validate:"oneof=memory gorm dynamodb"`
	Staleness         time.Duration `validate:"gt=0"`
	HeartbeatInterval time.Duration `validate:"gt=0,ltfield=Staleness"`
	DeviceIDPath      string        `validate:"required"`
	DynamoRegion      string        `validate:"required_if=Backend dynamodb"`
	DynamoTable       string        `validate:"required_if=Backend dynamodb"`
}

// SQLiteConfig holds SQLite file and dump settings.
type SQLiteConfig struct {
	Path         string
	DumpPath     string
	DumpInterval time.Duration
}

// StorageConfig selects the latest-location snapshot backend.
type StorageConfig struct {
	Type          string        `validate:"oneof=memory gorm"`
	FlushInterval time.Duration `validate:"gt=0"`
	SQLite        SQLiteConfig
}

// InfluxConfig holds history sink settings.
type InfluxConfig struct {
	Enabled   bool
	Host      string `validate:"required_if=Enabled true"`
	Port      string
	Protocol  string `validate:"omitempty,oneof=http https"`
	Token     string
	Org       string
	Bucket    string `validate:"required_if=Enabled true"`
	BackupDir string
}

// URL returns the server URL.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// GraylogConfig holds GELF sink settings.
type GraylogConfig struct {
	Enabled bool
	Address string `validate:"required_if=Enabled true"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled        bool
	ServiceName    string
	BatchTimeout   time.Duration
	MetricInterval time.Duration `validate:"gte=0"`
	Endpoint       string
	Insecure       bool
}

// FeedConfig holds the relay/feed server settings.
type FeedConfig struct {
	Listen string        `validate:"required"`
	MaxAge time.Duration `validate:"gt=0"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./livelocation-logs")

	viper.SetDefault("tracking.highAccuracyDesktop", false)
	viper.SetDefault("tracking.background", false)
	viper.SetDefault("tracking.interval", "0s")
	viper.SetDefault("tracking.fastestInterval", "0s")
	viper.SetDefault("tracking.timeout", "0s")
	viper.SetDefault("tracking.maxAge", "0s")
	viper.SetDefault("tracking.distanceFilter", -1)

	viper.SetDefault("channel.transport", "websocket")
	viper.SetDefault("channel.url", "ws://localhost:8080/ws")
	viper.SetDefault("channel.nsqdAddr", "localhost:4150")
	viper.SetDefault("channel.lookupdAddrs", []string{})
	viper.SetDefault("channel.maxReconnectAttempts", 5)
	viper.SetDefault("channel.baseBackoff", "1s")
	viper.SetDefault("channel.backgroundTeardown", "5m")
	viper.SetDefault("channel.connectTimeout", "10s")

	viper.SetDefault("interpolation.fps", 60)
	viper.SetDefault("interpolation.easing", 0.15)
	viper.SetDefault("interpolation.teleportThreshold", 100.0)
	viper.SetDefault("interpolation.snapDistance", 0.5)
	viper.SetDefault("interpolation.bufferSize", 10)

	viper.SetDefault("session.backend", "memory")
	viper.SetDefault("session.staleness", "30s")
	viper.SetDefault("session.heartbeatInterval", "10s")
	viper.SetDefault("session.deviceIdPath", "./.livelocation/device-id")
	viper.SetDefault("session.dynamo.region", "")
	viper.SetDefault("session.dynamo.table", "device_sessions")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.flushInterval", "2s")
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpPath", "")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")

	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "livelocation")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "campusride")
	viper.SetDefault("influx.bucket", "locations")
	viper.SetDefault("influx.backupDir", "./influx-backup")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "livelocation")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.metricInterval", "1m")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("feed.listen", ":8080")
	viper.SetDefault("feed.maxAge", "2m")

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// Validate checks every typed section.
func Validate() error {
	sections := []any{
		GetTrackingConfig(),
		GetChannelConfig(),
		GetInterpolationConfig(),
		GetSessionConfig(),
		GetStorageConfig(),
		GetInfluxConfig(),
		GetGraylogConfig(),
		GetFeedConfig(),
		GetOTelConfig(),
	}
	for _, s := range sections {
		if err := validate.Struct(s); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetTrackingConfig returns the tracking overrides.
func GetTrackingConfig() TrackingConfig {
	return TrackingConfig{
		HighAccuracyDesktop: viper.GetBool("tracking.highAccuracyDesktop"),
		Background:          viper.GetBool("tracking.background"),
		Interval:            viper.GetDuration("tracking.interval"),
		FastestInterval:     viper.GetDuration("tracking.fastestInterval"),
		Timeout:             viper.GetDuration("tracking.timeout"),
		MaxAge:              viper.GetDuration("tracking.maxAge"),
		DistanceFilter:      viper.GetFloat64("tracking.distanceFilter"),
	}
}

// GetChannelConfig returns the live channel settings.
func GetChannelConfig() ChannelConfig {
	return ChannelConfig{
		Transport:            viper.GetString("channel.transport"),
		URL:                  viper.GetString("channel.url"),
		NSQDAddr:             viper.GetString("channel.nsqdAddr"),
		LookupdAddrs:         viper.GetStringSlice("channel.lookupdAddrs"),
		MaxReconnectAttempts: viper.GetInt("channel.maxReconnectAttempts"),
		BaseBackoff:          viper.GetDuration("channel.baseBackoff"),
		BackgroundTeardown:   viper.GetDuration("channel.backgroundTeardown"),
		ConnectTimeout:       viper.GetDuration("channel.connectTimeout"),
	}
}

// GetInterpolationConfig returns the interpolator settings.
func GetInterpolationConfig() InterpolationConfig {
	return InterpolationConfig{
		FPS:               viper.GetInt("interpolation.fps"),
		Easing:            viper.GetFloat64("interpolation.easing"),
		TeleportThreshold: viper.GetFloat64("interpolation.teleportThreshold"),
		SnapDistance:      viper.GetFloat64("interpolation.snapDistance"),
		BufferSize:        viper.GetInt("interpolation.bufferSize"),
	}
}

// GetSessionConfig returns the device session settings.
func GetSessionConfig() SessionConfig {
	return SessionConfig{
		Backend:           viper.GetString("session.backend"),
		Staleness:         viper.GetDuration("session.staleness"),
		HeartbeatInterval: viper.GetDuration("session.heartbeatInterval"),
		DeviceIDPath:      viper.GetString("session.deviceIdPath"),
		DynamoRegion:      viper.GetString("session.dynamo.region"),
		DynamoTable:       viper.GetString("session.dynamo.table"),
	}
}

// GetStorageConfig returns the snapshot storage settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type:          viper.GetString("storage.type"),
		FlushInterval: viper.GetDuration("storage.flushInterval"),
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
	}
}

// GetDatabaseConfig returns the database connection settings.
func GetDatabaseConfig() database.Config {
	return database.Config{
		Driver:     viper.GetString("db.driver"),
		Host:       viper.GetString("db.host"),
		Port:       viper.GetString("db.port"),
		Username:   viper.GetString("db.username"),
		Password:   viper.GetString("db.password"),
		Database:   viper.GetString("db.database"),
		SQLitePath: viper.GetString("storage.sqlite.path"),
	}
}

// GetInfluxConfig returns the history sink settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:   viper.GetBool("influx.enabled"),
		Host:      viper.GetString("influx.host"),
		Port:      viper.GetString("influx.port"),
		Protocol:  viper.GetString("influx.protocol"),
		Token:     viper.GetString("influx.token"),
		Org:       viper.GetString("influx.org"),
		Bucket:    viper.GetString("influx.bucket"),
		BackupDir: viper.GetString("influx.backupDir"),
	}
}

// GetGraylogConfig returns the GELF sink settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:        viper.GetBool("otel.enabled"),
		ServiceName:    viper.GetString("otel.serviceName"),
		BatchTimeout:   viper.GetDuration("otel.batchTimeout"),
		MetricInterval: viper.GetDuration("otel.metricInterval"),
		Endpoint:       viper.GetString("otel.endpoint"),
		Insecure:       viper.GetBool("otel.insecure"),
	}
}

// GetFeedConfig returns the relay/feed server settings.
func GetFeedConfig() FeedConfig {
	return FeedConfig{
		Listen: viper.GetString("feed.listen"),
		MaxAge: viper.GetDuration("feed.maxAge"),
	}
}
