package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusride/livelocation/internal/database"
)

func newGormStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := database.OpenSqlite("")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewGormStore(db)
}

func TestGormStore_Roundtrip(t *testing.T) {
	ctx := context.Background()
	s := newGormStore(t)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	_, ok, err := s.Get(ctx, "u1", FeatureDriverLocationShare)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Upsert(ctx, Record{
		UserID:       "u1",
		Feature:      FeatureDriverLocationShare,
		DeviceID:     "device-a",
		CreatedAt:    at,
		LastActiveAt: at,
		DeviceInfo:   map[string]string{"platform": "android", "class": "mobile"},
	}))

	rec, ok, err := s.Get(ctx, "u1", FeatureDriverLocationShare)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "device-a", rec.DeviceID)
	assert.True(t, at.Equal(rec.LastActiveAt))
	assert.Equal(t, "android", rec.DeviceInfo["platform"])
}

func TestGormStore_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newGormStore(t)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.Upsert(ctx, Record{UserID: "u1", Feature: FeatureDriverLocationShare, DeviceID: "device-a", CreatedAt: at, LastActiveAt: at}))
	later := at.Add(time.Minute)
	require.NoError(t, s.Upsert(ctx, Record{UserID: "u1", Feature: FeatureDriverLocationShare, DeviceID: "device-b", CreatedAt: later, LastActiveAt: later}))

	rec, ok, err := s.Get(ctx, "u1", FeatureDriverLocationShare)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "device-b", rec.DeviceID)
	assert.True(t, later.Equal(rec.LastActiveAt))

	var count int64
	require.NoError(t, s.db.Table("device_sessions").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGormStore_TouchAndDeleteOwnerOnly(t *testing.T) {
	ctx := context.Background()
	s := newGormStore(t)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.Upsert(ctx, Record{UserID: "u1", Feature: FeatureStudentLocationView, DeviceID: "device-a", CreatedAt: at, LastActiveAt: at}))

	ok, err := s.Touch(ctx, "u1", FeatureStudentLocationView, "device-b", at.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Touch(ctx, "u1", FeatureStudentLocationView, "device-a", at.Add(5*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
	rec, _, _ := s.Get(ctx, "u1", FeatureStudentLocationView)
	assert.True(t, at.Add(5*time.Second).Equal(rec.LastActiveAt))

	require.NoError(t, s.Delete(ctx, "u1", FeatureStudentLocationView, "device-b"))
	_, ok, _ = s.Get(ctx, "u1", FeatureStudentLocationView)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "u1", FeatureStudentLocationView, "device-a"))
	_, ok, _ = s.Get(ctx, "u1", FeatureStudentLocationView)
	assert.False(t, ok)
}

func TestGormStore_WithArbiter(t *testing.T) {
	ctx := context.Background()
	s := newGormStore(t)
	c := &clock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	a := newArbiter(t, s, "device-a", c)
	b := newArbiter(t, s, "device-b", c)

	require.NoError(t, a.Claim(ctx, "u9", FeatureDriverLocationShare))
	st := b.Check(ctx, "u9", FeatureDriverLocationShare)
	assert.True(t, st.HasActiveSession)
	assert.Equal(t, "device-a", st.OtherDeviceID)
}
