// Package gormstorage implements storage.Backend on the last_locations table
// with an internal queue and a background writer goroutine.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campusride/livelocation/internal/cache"
	"github.com/campusride/livelocation/internal/database"
	"github.com/campusride/livelocation/internal/model"
	"github.com/campusride/livelocation/internal/queue"
	"github.com/campusride/livelocation/pkg/streaming"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Cache  *cache.LocationCache // optional; read-through front for Latest
	Logger *slog.Logger

	FlushInterval time.Duration
	// Dump, when set, is called every DumpInterval and on Close.
	Dump         func() error
	DumpInterval time.Duration
}

// Backend writes snapshots in batches. Latest answers from the cache first.
type Backend struct {
	deps     Dependencies
	pending  *queue.Queue[model.LastLocation]
	stopChan chan struct{}
	done     sync.WaitGroup
	once     sync.Once
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Cache == nil {
		deps.Cache = cache.NewLocationCache()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = 2 * time.Second
	}
	return &Backend{
		deps:     deps,
		pending:  queue.New[model.LastLocation](),
		stopChan: make(chan struct{}),
	}
}

// Init migrates the schema and starts the writer and optional dump goroutines.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gorm storage requires a database")
	}
	if err := database.Migrate(b.deps.DB); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.done.Add(1)
	go b.writeLoop()

	if b.deps.Dump != nil && b.deps.DumpInterval > 0 {
		b.done.Add(1)
		go b.dumpLoop()
	}
	return nil
}

// Close stops the goroutines, flushes pending writes and takes a final dump.
func (b *Backend) Close() error {
	var err error
	b.once.Do(func() {
		close(b.stopChan)
		b.done.Wait()
		err = b.Flush()
		if b.deps.Dump != nil {
			if derr := b.deps.Dump(); derr != nil {
				err = errors.Join(err, derr)
			}
		}
	})
	return err
}

// Record updates the cache and queues the row when loc is the newest for its bus.
func (b *Backend) Record(loc streaming.LocationMessage) error {
	if loc.BusID == "" {
		return errors.New("location without bus id")
	}
	if !b.deps.Cache.Put(loc) {
		return nil
	}
	b.pending.Push(toRow(loc))
	return nil
}

func (b *Backend) Latest(ctx context.Context, busID string) (streaming.LocationMessage, bool, error) {
	if e, ok := b.deps.Cache.Get(busID); ok {
		return e.Location, true, nil
	}
	var row model.LastLocation
	err := b.deps.DB.WithContext(ctx).Where("bus_id = ?", busID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return streaming.LocationMessage{}, false, nil
	}
	if err != nil {
		return streaming.LocationMessage{}, false, err
	}
	loc := fromRow(row)
	b.deps.Cache.Put(loc)
	return loc, true, nil
}

func (b *Backend) All(ctx context.Context) ([]streaming.LocationMessage, error) {
	var rows []model.LastLocation
	if err := b.deps.DB.WithContext(ctx).Order("bus_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	byBus := make(map[string]streaming.LocationMessage, len(rows))
	for _, r := range rows {
		byBus[r.BusID] = fromRow(r)
	}
	// unflushed entries are newer than their rows
	for _, e := range b.deps.Cache.All() {
		if cur, ok := byBus[e.Location.BusID]; !ok || cur.Timestamp <= e.Location.Timestamp {
			byBus[e.Location.BusID] = e.Location
		}
	}
	out := make([]streaming.LocationMessage, 0, len(byBus))
	for _, loc := range byBus {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusID < out[j].BusID })
	return out, nil
}

// Flush writes all queued rows in one transaction. On failure the rows are
// requeued.
func (b *Backend) Flush() error {
	if b.pending.Empty() {
		return nil
	}
	items := latestPerBus(b.pending.Drain())

	err := b.deps.DB.Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bus_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"lat", "lng", "speed", "heading", "accuracy", "captured_at", "updated_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "last_locations.captured_at <= excluded.captured_at"},
			}},
		}).Create(&items).Error
	})
	if err != nil {
		b.pending.Push(items...)
		return fmt.Errorf("error writing last locations: %w", err)
	}
	return nil
}

func (b *Backend) writeLoop() {
	defer b.done.Done()
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.deps.Logger.Error("Snapshot flush failed", "error", err)
			}
		}
	}
}

func (b *Backend) dumpLoop() {
	defer b.done.Done()
	ticker := time.NewTicker(b.deps.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.deps.Dump(); err != nil {
				b.deps.Logger.Error("Error dumping to disk", "error", err)
			} else {
				b.deps.Logger.Debug("Dumped to disk", "duration", time.Since(start))
			}
		}
	}
}

// latestPerBus keeps the newest row per bus; one statement may not update a
// row twice.
func latestPerBus(items []model.LastLocation) []model.LastLocation {
	idx := make(map[string]int, len(items))
	out := items[:0]
	for _, it := range items {
		if i, ok := idx[it.BusID]; ok {
			if !it.CapturedAt.Before(out[i].CapturedAt) {
				out[i] = it
			}
			continue
		}
		idx[it.BusID] = len(out)
		out = append(out, it)
	}
	return out
}

func toRow(loc streaming.LocationMessage) model.LastLocation {
	return model.LastLocation{
		BusID:      loc.BusID,
		Lat:        loc.Lat,
		Lng:        loc.Lng,
		Speed:      loc.Speed,
		Heading:    loc.Heading,
		Accuracy:   loc.Accuracy,
		CapturedAt: time.UnixMilli(loc.Timestamp).UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
}

func fromRow(r model.LastLocation) streaming.LocationMessage {
	return streaming.LocationMessage{
		BusID:     r.BusID,
		Lat:       r.Lat,
		Lng:       r.Lng,
		Speed:     r.Speed,
		Heading:   r.Heading,
		Accuracy:  r.Accuracy,
		Timestamp: r.CapturedAt.UnixMilli(),
	}
}
