package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newArbiter(t *testing.T, store Store, deviceID string, c *clock) *Arbiter {
	t.Helper()
	a, err := NewArbiter(Dependencies{
		Store:    store,
		DeviceID: deviceID,
		Now:      c.now,
	})
	require.NoError(t, err)
	return a
}

type failingStore struct{ *MemoryStore }

func (failingStore) Get(context.Context, string, string) (Record, bool, error) {
	return Record{}, false, errors.New("backend unreachable")
}

func TestNewArbiter_Validation(t *testing.T) {
	_, err := NewArbiter(Dependencies{DeviceID: "a"})
	assert.Error(t, err)
	_, err = NewArbiter(Dependencies{Store: NewMemoryStore()})
	assert.Error(t, err)
}

func TestCheck_NoSession(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	a := newArbiter(t, NewMemoryStore(), "device-a", c)

	st := a.Check(context.Background(), "u1", FeatureDriverLocationShare)
	assert.False(t, st.HasActiveSession)
	assert.False(t, st.IsCurrentDevice)
	assert.False(t, st.Conflict())
}

func TestClaimThenCheckFromSecondDevice(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	a := newArbiter(t, store, "device-a", c)
	b := newArbiter(t, store, "device-b", c)

	require.NoError(t, a.Claim(ctx, "u1", FeatureDriverLocationShare))
	c.t = c.t.Add(2 * time.Second)

	st := b.Check(ctx, "u1", FeatureDriverLocationShare)
	assert.True(t, st.HasActiveSession)
	assert.False(t, st.IsCurrentDevice)
	assert.Equal(t, "device-a", st.OtherDeviceID)
	assert.Equal(t, 2*time.Second, st.SessionAge)
	assert.True(t, st.Conflict())

	own := a.Check(ctx, "u1", FeatureDriverLocationShare)
	assert.True(t, own.HasActiveSession)
	assert.True(t, own.IsCurrentDevice)
	assert.Empty(t, own.OtherDeviceID)

	// features are independent
	other := b.Check(ctx, "u1", FeatureStudentLocationView)
	assert.False(t, other.HasActiveSession)
}

func TestCheck_StaleRecordIsAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	a := newArbiter(t, store, "device-a", c)
	b := newArbiter(t, store, "device-b", c)

	require.NoError(t, a.Claim(ctx, "u1", FeatureDriverLocationShare))

	c.t = c.t.Add(30 * time.Second)
	assert.True(t, b.Check(ctx, "u1", FeatureDriverLocationShare).HasActiveSession)

	c.t = c.t.Add(time.Second)
	st := b.Check(ctx, "u1", FeatureDriverLocationShare)
	assert.False(t, st.HasActiveSession)

	// the stale record is still there, and can be taken over
	_, ok, _ := store.Get(ctx, "u1", FeatureDriverLocationShare)
	assert.True(t, ok)
	require.NoError(t, b.Claim(ctx, "u1", FeatureDriverLocationShare))
	assert.True(t, b.Check(ctx, "u1", FeatureDriverLocationShare).IsCurrentDevice)
}

func TestCheck_FailsOpen(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	a := newArbiter(t, failingStore{MemoryStore: NewMemoryStore()}, "device-a", c)

	st := a.Check(context.Background(), "u1", FeatureStudentLocationView)
	assert.False(t, st.Conflict())
	assert.False(t, st.HasActiveSession)
}

func TestHeartbeat_OwnerOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	a := newArbiter(t, store, "device-a", c)
	b := newArbiter(t, store, "device-b", c)

	assert.ErrorIs(t, a.Heartbeat(ctx, "u1", FeatureDriverLocationShare), ErrNotOwner)

	require.NoError(t, a.Claim(ctx, "u1", FeatureDriverLocationShare))
	c.t = c.t.Add(25 * time.Second)
	require.NoError(t, a.Heartbeat(ctx, "u1", FeatureDriverLocationShare))

	c.t = c.t.Add(25 * time.Second)
	st := b.Check(ctx, "u1", FeatureDriverLocationShare)
	assert.True(t, st.HasActiveSession, "heartbeat keeps the claim fresh")

	assert.ErrorIs(t, b.Heartbeat(ctx, "u1", FeatureDriverLocationShare), ErrNotOwner)

	rec, _, _ := store.Get(ctx, "u1", FeatureDriverLocationShare)
	assert.Equal(t, "device-a", rec.DeviceID)
}

func TestRelease_OwnerOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	a := newArbiter(t, store, "device-a", c)
	b := newArbiter(t, store, "device-b", c)

	require.NoError(t, a.Claim(ctx, "u1", FeatureStudentLocationView))
	require.NoError(t, b.Release(ctx, "u1", FeatureStudentLocationView))
	_, ok, _ := store.Get(ctx, "u1", FeatureStudentLocationView)
	assert.True(t, ok, "another device's claim is never deleted")

	require.NoError(t, a.Release(ctx, "u1", FeatureStudentLocationView))
	_, ok, _ = store.Get(ctx, "u1", FeatureStudentLocationView)
	assert.False(t, ok)
}

func TestClaim_LastWriterWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	a := newArbiter(t, store, "device-a", c)
	b := newArbiter(t, store, "device-b", c)

	require.NoError(t, a.Claim(ctx, "u1", FeatureDriverLocationShare))
	require.NoError(t, b.Claim(ctx, "u1", FeatureDriverLocationShare))

	assert.True(t, a.Check(ctx, "u1", FeatureDriverLocationShare).Conflict())
	assert.True(t, b.Check(ctx, "u1", FeatureDriverLocationShare).IsCurrentDevice)
}

func TestStartHeartbeat_RenewsAndStopsOnLoss(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore()
	newReal := func(id string) *Arbiter {
		a, err := NewArbiter(Dependencies{
			Store:             store,
			DeviceID:          id,
			HeartbeatInterval: 10 * time.Millisecond,
		})
		require.NoError(t, err)
		return a
	}
	a := newReal("device-a")
	b := newReal("device-b")
	defer a.Close()

	require.NoError(t, a.Claim(ctx, "u1", FeatureDriverLocationShare))
	first, _, _ := store.Get(ctx, "u1", FeatureDriverLocationShare)

	lost := make(chan error, 1)
	a.StartHeartbeat(ctx, "u1", FeatureDriverLocationShare, func(err error) { lost <- err })

	require.Eventually(t, func() bool {
		rec, _, _ := store.Get(ctx, "u1", FeatureDriverLocationShare)
		return rec.LastActiveAt.After(first.LastActiveAt)
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Claim(ctx, "u1", FeatureDriverLocationShare))

	select {
	case err := <-lost:
		assert.ErrorIs(t, err, ErrNotOwner)
	case <-time.After(time.Second):
		t.Fatal("ownership loss not reported")
	}
}

func TestRelease_StopsHeartbeat(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a, err := NewArbiter(Dependencies{
		Store:             store,
		DeviceID:          "device-a",
		HeartbeatInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, a.Claim(ctx, "u1", FeatureDriverLocationShare))
	a.StartHeartbeat(ctx, "u1", FeatureDriverLocationShare, nil)
	require.NoError(t, a.Release(ctx, "u1", FeatureDriverLocationShare))

	a.mu.Lock()
	assert.Empty(t, a.heartbeats)
	a.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	_, ok, _ := store.Get(ctx, "u1", FeatureDriverLocationShare)
	assert.False(t, ok)
}
