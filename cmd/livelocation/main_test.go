package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	ws "github.com/gorilla/websocket"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/campusride/livelocation/internal/cache"
	"github.com/campusride/livelocation/internal/config"
	"github.com/campusride/livelocation/internal/feed"
	"github.com/campusride/livelocation/internal/interpolate"
	"github.com/campusride/livelocation/internal/model"
	"github.com/campusride/livelocation/internal/session"
	"github.com/campusride/livelocation/internal/storage"
	"github.com/campusride/livelocation/internal/subscription"
	"github.com/campusride/livelocation/internal/trip"
	"github.com/campusride/livelocation/pkg/core"
	"github.com/campusride/livelocation/pkg/streaming"
)

func init() {
	Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_NoCommand(t *testing.T) {
	assert.EqualError(t, run(nil), "no command provided")
}

func TestRun_UnknownCommand(t *testing.T) {
	assert.EqualError(t, run([]string{"record"}), `unknown command "record"`)
}

func TestRun_Version(t *testing.T) {
	assert.NoError(t, run([]string{"version"}))
}

func TestPrintUsage(t *testing.T) {
	var buf bytes.Buffer
	printUsage(&buf)
	out := buf.String()

	for _, name := range []string{"broadcast", "view", "session", "feed", "version"} {
		assert.Contains(t, out, name)
	}
	assert.Less(t, strings.Index(out, "broadcast"), strings.Index(out, "feed"))
	assert.Less(t, strings.Index(out, "feed"), strings.Index(out, "session"))
}

func TestNewFlagSet_CommonFlags(t *testing.T) {
	fs := newFlagSet("view")
	viewFlags(fs)
	require.NoError(t, fs.Parse([]string{"--bus", "42", "--log-level=debug", "--print-interval=250ms"}))

	bus, _ := fs.GetString("bus")
	level, _ := fs.GetString("log-level")
	every, _ := fs.GetDuration("print-interval")
	dir, _ := fs.GetString("config")
	assert.Equal(t, "42", bus)
	assert.Equal(t, "debug", level)
	assert.Equal(t, 250*time.Millisecond, every)
	assert.Equal(t, ".", dir)
}

func TestEnvironmentFromFlags(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantNative bool
		wantPlat   string
	}{
		{"web default", nil, false, ""},
		{"android shell", []string{"--platform=Android"}, true, "android"},
		{"ios shell", []string{"--platform", "ios", "--screen-width", "390"}, true, "ios"},
		{"unknown platform stays web", []string{"--platform=symbian"}, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
			deviceFlags(fs)
			require.NoError(t, fs.Parse(tt.args))

			env := environmentFromFlags(fs)
			assert.Equal(t, tt.wantNative, env.NativeShell)
			assert.Equal(t, tt.wantPlat, env.NativePlatform)
			assert.NotEmpty(t, env.GOOS)
		})
	}
}

func TestResolveFeature(t *testing.T) {
	assert.Equal(t, model.FeatureDriverLocationShare, resolveFeature("driver"))
	assert.Equal(t, model.FeatureStudentLocationView, resolveFeature("Student"))
	assert.Equal(t, "custom_feature", resolveFeature("custom_feature"))
}

func TestPrintStatus(t *testing.T) {
	tests := []struct {
		name string
		st   session.Status
		want string
	}{
		{"none", session.Status{}, "no active session (this device me)"},
		{"mine", session.Status{HasActiveSession: true, IsCurrentDevice: true, SessionAge: 4 * time.Second}, "active on this device me, last seen 4s ago"},
		{"other", session.Status{HasActiveSession: true, OtherDeviceID: "them", SessionAge: 12 * time.Second}, "active on another device them, last seen 12s ago"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printStatus(&buf, "me", tt.st)
			assert.Equal(t, tt.want+"\n", buf.String())
		})
	}
}

func TestFormatPosition(t *testing.T) {
	line := formatPosition(interpolate.Position{
		Lat:        0,
		Lng:        0,
		Heading:    90,
		HasHeading: true,
		Speed:      core.Float64(8.3),
		Confidence: core.ConfidenceMedium,
	})
	assert.True(t, strings.HasPrefix(line, "0.000000,0.000000 heading=90 speed=8.3 xy="))
	assert.True(t, strings.HasSuffix(line, " confidence=medium"))

	line = formatPosition(interpolate.Position{Lat: 1.5, Lng: 2.5})
	assert.True(t, strings.HasPrefix(line, "1.500000,2.500000 xy="))
	assert.NotContains(t, line, "heading")
	assert.True(t, strings.HasSuffix(line, "confidence=high"))
}

func TestPositionPrinter_PrintsNewestOnce(t *testing.T) {
	var buf bytes.Buffer
	p := &positionPrinter{w: &buf}

	p.flush()
	assert.Empty(t, buf.String())

	p.set(interpolate.Position{Lat: 1, Lng: 1})
	p.set(interpolate.Position{Lat: 2, Lng: 2})
	p.flush()
	p.flush()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "2.000000,2.000000"))
}

func TestSampleGate_DropsLowConfidence(t *testing.T) {
	interp := interpolate.New(interpolate.DefaultConfig(), nil)
	gate := &sampleGate{push: interp.Push, logger: Logger}

	start := core.PositionSample{Latitude: 12.9716, Longitude: 77.5946, Timestamp: 1_700_000_000_000}
	require.True(t, gate.offer(start))
	before, ok := interp.Target()
	require.True(t, ok)

	// ~500 m in 5 s
	spike := core.PositionSample{Latitude: start.Latitude + 0.0045, Longitude: start.Longitude, Timestamp: start.Timestamp + 5_000}
	assert.False(t, gate.offer(spike))
	after, ok := interp.Target()
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Len(t, interp.Trail(), 1)

	// ~50 m in 10 s, measured from start rather than the spike
	next := core.PositionSample{Latitude: start.Latitude + 0.00045, Longitude: start.Longitude, Timestamp: start.Timestamp + 10_000}
	assert.True(t, gate.offer(next))
	tgt, _ := interp.Target()
	assert.Equal(t, next.Latitude, tgt.Lat)
	assert.Equal(t, core.ConfidenceHigh, tgt.Confidence)
}

func TestSampleGate_RelayedTimesScoreLikeCaptured(t *testing.T) {
	interp := interpolate.New(interpolate.DefaultConfig(), nil)
	gate := &sampleGate{push: interp.Push}

	// ~37 m in 1.9 s is about 70 km/h; floored to whole seconds it would read as 133 km/h
	a := core.PositionSample{Latitude: 12.9716, Longitude: 77.5946, Timestamp: 1_700_000_000_050}
	b := core.PositionSample{Latitude: 12.9716 + 0.000331, Longitude: 77.5946, Timestamp: 1_700_000_001_950}
	for _, s := range []core.PositionSample{a, b} {
		frame, err := streaming.EncodeLocation("7", s)
		require.NoError(t, err)
		got, err := streaming.DecodeLocation(streaming.DecodeFrame(frame).Payload)
		require.NoError(t, err)
		require.True(t, gate.offer(got.Sample()))
	}
	tgt, _ := interp.Target()
	assert.Equal(t, b.Timestamp, tgt.Timestamp)
}

func TestSubscriptionConfig(t *testing.T) {
	cfg := subscriptionConfig(config.ChannelConfig{
		MaxReconnectAttempts: 3,
		BaseBackoff:          2 * time.Second,
		BackgroundTeardown:   time.Minute,
		ConnectTimeout:       5 * time.Second,
	})
	assert.Equal(t, subscription.Config{
		MaxReconnectAttempts: 3,
		BaseBackoff:          2 * time.Second,
		BackgroundTeardown:   time.Minute,
		ConnectTimeout:       5 * time.Second,
	}, cfg)
}

func TestNewTransport(t *testing.T) {
	tr := newTransport(config.ChannelConfig{Transport: "websocket", URL: "ws://relay/ws"})
	wst, ok := tr.(*subscription.WebSocketTransport)
	require.True(t, ok)
	assert.Equal(t, "ws://relay/ws", wst.URL)

	tr = newTransport(config.ChannelConfig{Transport: "nsq", NSQDAddr: "nsqd:4150", LookupdAddrs: []string{"lookupd:4161"}})
	nt, ok := tr.(*subscription.NSQTransport)
	require.True(t, ok)
	assert.Equal(t, "nsqd:4150", nt.NSQDAddr)
	assert.Equal(t, []string{"lookupd:4161"}, nt.LookupdAddrs)
}

func TestNewSessionStore_Memory(t *testing.T) {
	store, err := newSessionStore(context.Background(), config.SessionConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &session.MemoryStore{}, store)
}

func TestContextAttrs(t *testing.T) {
	deviceID, platform = "", ""
	assert.Empty(t, contextAttrs())

	deviceID, platform = "dev-1", "android"
	t.Cleanup(func() { deviceID, platform = "", "" })
	attrs := contextAttrs()
	require.Len(t, attrs, 2)
	assert.Equal(t, "deviceId", attrs[0].Key)
	assert.Equal(t, "dev-1", attrs[0].Value.String())
	assert.Equal(t, "platform", attrs[1].Key)
}

func TestTripEvent(t *testing.T) {
	before := time.Now().UnixMilli()
	ev := tripEvent("7", "t-1")
	assert.Equal(t, "7", ev.BusID)
	assert.Equal(t, "t-1", ev.TripID)
	assert.GreaterOrEqual(t, ev.Timestamp, before)
}

func TestObserveAll(t *testing.T) {
	var got []string
	obs := observeAll(
		func(name string, _ []byte) { got = append(got, "a:"+name) },
		func(name string, _ []byte) { got = append(got, "b:"+name) },
	)
	obs("bus:1", nil)
	assert.Equal(t, []string{"a:bus:1", "b:bus:1"}, got)
}

func TestServeMux_Healthcheck(t *testing.T) {
	mux := newServeMux(http.NotFoundHandler(), http.NotFoundHandler())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServeMux_RelayFramesReachFeed(t *testing.T) {
	backend, err := storage.NewBackend("memory", storage.Options{Cache: cache.NewLocationCache()})
	require.NoError(t, err)
	require.NoError(t, backend.Init())

	trips := trip.NewContext()
	relay := subscription.NewRelay(Logger, observeAll(
		storage.Observer(backend, Logger),
		trip.Observer(trips),
	))
	t.Cleanup(relay.Close)

	srv := httptest.NewServer(newServeMux(relay, &feed.Handler{
		Source: backend,
		Trips:  trips,
		MaxAge: 2 * time.Minute,
		Logger: Logger,
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + RelayPath + "?channel=" + subscription.ChannelName("7")
	conn, _, err := ws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	frame, err := streaming.EncodeLocation("7", core.PositionSample{
		Latitude:  6.5244,
		Longitude: 3.3792,
		Accuracy:  8,
		Timestamp: time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(ws.TextMessage, frame))

	require.Eventually(t, func() bool {
		_, ok, _ := backend.Latest(context.Background(), "7")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(srv.URL + feed.Path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var fm gtfsrtpb.FeedMessage
	require.NoError(t, proto.Unmarshal(body, &fm))
	require.Len(t, fm.GetEntity(), 1)
	assert.Equal(t, "bus-7", fm.GetEntity()[0].GetId())
	assert.InDelta(t, 6.5244, fm.GetEntity()[0].GetVehicle().GetPosition().GetLatitude(), 1e-4)
}
