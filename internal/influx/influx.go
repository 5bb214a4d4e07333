package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/campusride/livelocation/pkg/core"
)

// MeasurementLocation is the measurement accepted samples are written to.
const MeasurementLocation = "bus_location"

// Retention applied to buckets this manager creates.
const retentionSeconds = 60 * 60 * 24 * 90

// Config addresses the server. An unreachable server falls back to a gzip
// line-protocol file under BackupDir.
type Config struct {
	Enabled   bool
	URL       string
	Token     string
	Org       string
	Bucket    string
	BackupDir string
}

// Manager handles InfluxDB connections and writes.
type Manager struct {
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	Config       Config
	Logger       zerolog.Logger

	mu         sync.Mutex
	backupFile *os.File
}

// NewManager creates a new InfluxDB manager.
func NewManager(cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		Writers: make(map[string]influxdb2_api.WriteAPI),
		Config:  cfg,
		Logger:  log,
	}
}

// BackupPath is the gzip file used while the server is unreachable.
func (m *Manager) BackupPath() string {
	return filepath.Join(m.Config.BackupDir, "locations.lp.gz")
}

// Connect establishes a connection to InfluxDB, or opens the backup file.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.Config.Enabled {
		return errors.New("influx.enabled is false")
	}

	m.Client = influxdb2.NewClientWithOptions(
		m.Config.URL,
		m.Config.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.IsValid = false
		if m.BackupWriter == nil {
			m.Logger.Info().Str("backupPath", m.BackupPath()).
				Msg("Failed to initialize InfluxDB client, writing to backup file")
			if err := m.openBackup(); err != nil {
				return err
			}
		}
		m.Logger.Warn().Msg("InfluxDB client failed to initialize, using backup writer")
		return nil
	}

	m.IsValid = true
	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}
	m.CreateWriters()
	m.Logger.Info().Str("bucket", m.Config.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	if err := os.MkdirAll(m.Config.BackupDir, 0o755); err != nil {
		return fmt.Errorf("error creating backup dir: %w", err)
	}
	file, err := os.OpenFile(m.BackupPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.BackupWriter = gzip.NewWriter(file)
	return nil
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgName := m.Config.Org

	org, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		org, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	bucket := m.Config.Bucket
	if _, err = m.Client.BucketsAPI().FindBucketByName(ctx, bucket); err != nil {
		m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, org, bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: retentionSeconds,
		})
		if err != nil {
			m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
			return err
		}
	}
	return nil
}

// CreateWriters creates the write API for the configured bucket.
func (m *Manager) CreateWriters() {
	bucket := m.Config.Bucket
	m.Writers[bucket] = m.Client.WriteAPI(m.Config.Org, bucket)

	errorsCh := m.Writers[bucket].Errors()
	go func(bucketName string, errorsCh <-chan error) {
		for writeErr := range errorsCh {
			m.Logger.Error().Err(writeErr).Str("bucket", bucketName).
				Msg("Error sending data to InfluxDB")
		}
	}(bucket, errorsCh)

	m.Logger.Debug().Msg("InfluxDB writers initialized")
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) error {
	if m.IsValid {
		w, ok := m.Writers[bucket]
		if !ok {
			return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
		}
		w.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}
	lineProtocol := strings.TrimSuffix(influxdb2_write.PointToLineProtocol(point, time.Millisecond), "\n")
	if _, err := m.BackupWriter.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes writers and closes the client and backup file.
func (m *Manager) Close() error {
	for _, w := range m.Writers {
		w.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if m.BackupWriter != nil {
		err = m.BackupWriter.Close()
		m.BackupWriter = nil
	}
	if m.backupFile != nil {
		err = errors.Join(err, m.backupFile.Close())
		m.backupFile = nil
	}
	return err
}

// LocationPoint builds the history point for one accepted sample.
func LocationPoint(busID string, s core.PositionSample, c core.Confidence) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(MeasurementLocation).
		AddTag("bus_id", busID).
		AddTag("confidence", c.String()).
		AddField("lat", s.Latitude).
		AddField("lng", s.Longitude).
		AddField("accuracy", s.Accuracy).
		SetTime(s.CapturedAt())
	if s.Speed != nil {
		p.AddField("speed", *s.Speed)
	}
	if s.Heading != nil {
		p.AddField("heading", *s.Heading)
	}
	return p
}

// Sink records every accepted sample of one bus.
type Sink struct {
	m     *Manager
	busID string
}

// NewSink returns a location sink writing to the configured bucket.
func NewSink(m *Manager, busID string) *Sink {
	return &Sink{m: m, busID: busID}
}

// HandleSample writes the sample; failures are logged.
func (s *Sink) HandleSample(sample core.PositionSample, c core.Confidence) {
	if err := s.m.WritePoint(s.m.Config.Bucket, LocationPoint(s.busID, sample, c)); err != nil {
		s.m.Logger.Error().Err(err).Str("busId", s.busID).Msg("Failed to record location history")
	}
}
