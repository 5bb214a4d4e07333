package gormstorage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/campusride/livelocation/internal/database"
	"github.com/campusride/livelocation/internal/model"
	"github.com/campusride/livelocation/pkg/core"
	"github.com/campusride/livelocation/pkg/streaming"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSqlite("")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newBackend(t *testing.T, db *gorm.DB) *Backend {
	t.Helper()
	b := New(Dependencies{DB: db, FlushInterval: time.Hour})
	require.NoError(t, b.Init())
	t.Cleanup(func() { b.Close() })
	return b
}

func loc(bus string, ts int64, lat float64) streaming.LocationMessage {
	return streaming.LocationMessage{
		BusID:     bus,
		Lat:       lat,
		Lng:       77.5946,
		Speed:     core.Float64(7.5),
		Accuracy:  12,
		Timestamp: ts,
	}
}

func TestBackend_RecordFlushAndReload(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	b := newBackend(t, db)

	require.NoError(t, b.Record(loc("42", 1_700_000_000_000, 12.1)))
	require.NoError(t, b.Record(loc("42", 1_700_000_005_000, 12.2)))
	require.NoError(t, b.Record(loc("7", 1_700_000_001_000, 13.0)))

	got, ok, err := b.Latest(ctx, "42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 12.2, got.Lat)

	require.NoError(t, b.Flush())

	var rows []model.LastLocation
	require.NoError(t, db.Order("bus_id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, "42", rows[0].BusID)
	assert.Equal(t, 12.2, rows[0].Lat)
	require.NotNil(t, rows[0].Speed)
	assert.Equal(t, 7.5, *rows[0].Speed)

	// a second backend with an empty cache reads through to the table
	fresh := New(Dependencies{DB: db, FlushInterval: time.Hour})
	got, ok, err = fresh.Latest(ctx, "42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1_700_000_005_000), got.Timestamp)
	assert.Equal(t, 12.2, got.Lat)

	_, ok, err = fresh.Latest(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackend_OlderSampleDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	b := newBackend(t, db)

	require.NoError(t, b.Record(loc("42", 1_700_000_010_000, 12.5)))
	require.NoError(t, b.Flush())

	// a different writer holding an older sample must not regress the row
	other := New(Dependencies{DB: db, FlushInterval: time.Hour})
	require.NoError(t, other.Record(loc("42", 1_700_000_000_000, 11.0)))
	require.NoError(t, other.Flush())

	var row model.LastLocation
	require.NoError(t, db.Where("bus_id = ?", "42").Take(&row).Error)
	assert.Equal(t, 12.5, row.Lat)

	got, _, err := b.Latest(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 12.5, got.Lat)
}

func TestBackend_AllMergesUnflushed(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	b := newBackend(t, db)

	require.NoError(t, b.Record(loc("b", 1_700_000_000_000, 1)))
	require.NoError(t, b.Flush())
	require.NoError(t, b.Record(loc("b", 1_700_000_002_000, 2)))
	require.NoError(t, b.Record(loc("a", 1_700_000_001_000, 3)))

	all, err := b.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].BusID)
	assert.Equal(t, "b", all[1].BusID)
	assert.Equal(t, 2.0, all[1].Lat)
}

func TestBackend_RejectsMissingBusID(t *testing.T) {
	b := newBackend(t, openDB(t))
	assert.Error(t, b.Record(streaming.LocationMessage{Lat: 1, Lng: 2}))
}

func TestBackend_CloseFlushesAndDumps(t *testing.T) {
	db := openDB(t)
	dumps := 0
	b := New(Dependencies{
		DB:            db,
		FlushInterval: time.Hour,
		Dump:          func() error { dumps++; return nil },
		DumpInterval:  time.Hour,
	})
	require.NoError(t, b.Init())
	require.NoError(t, b.Record(loc("9", 1_700_000_000_000, 4)))

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 1, dumps)

	var count int64
	require.NoError(t, db.Model(&model.LastLocation{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestBackend_WriterLoopFlushes(t *testing.T) {
	db := openDB(t)
	b := New(Dependencies{DB: db, FlushInterval: 10 * time.Millisecond})
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.Record(loc("5", 1_700_000_000_000, 4)))
	assert.Eventually(t, func() bool {
		return b.pending.Empty()
	}, time.Second, 5*time.Millisecond)
}

func TestLatestPerBus(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	items := []model.LastLocation{
		{BusID: "a", Lat: 1, CapturedAt: t0},
		{BusID: "b", Lat: 2, CapturedAt: t0},
		{BusID: "a", Lat: 3, CapturedAt: t0.Add(time.Second)},
		{BusID: "a", Lat: 4, CapturedAt: t0.Add(-time.Second)},
	}
	out := latestPerBus(items)
	require.Len(t, out, 2)
	assert.Equal(t, 3.0, out[0].Lat)
	assert.Equal(t, 2.0, out[1].Lat)
}
