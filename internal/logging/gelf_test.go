package logging

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	mu   sync.Mutex
	msgs []*gelf.Message
}

func (c *captureWriter) WriteMessage(m *gelf.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	return nil
}

func TestGELFHandler_Message(t *testing.T) {
	cw := &captureWriter{}
	logger := slog.New(NewGELFHandler(cw, slog.LevelInfo)).With("deviceId", "dev-1")

	logger.Debug("filtered")
	logger.Warn("reconnecting", "attempt", 2, "delay", time.Second)
	logger.WithGroup("channel").Error("exhausted", "busId", "42", slog.Group("backoff", "max", 5))

	require.Len(t, cw.msgs, 2)

	warn := cw.msgs[0]
	assert.Equal(t, "reconnecting", warn.Short)
	assert.Equal(t, int32(4), warn.Level)
	assert.Equal(t, GELFFacility, warn.Facility)
	assert.Equal(t, "dev-1", warn.Extra["_deviceId"])
	assert.Equal(t, int64(2), warn.Extra["_attempt"])
	assert.Equal(t, "1s", warn.Extra["_delay"])
	assert.NotZero(t, warn.TimeUnix)

	errMsg := cw.msgs[1]
	assert.Equal(t, int32(3), errMsg.Level)
	assert.Equal(t, "dev-1", errMsg.Extra["_deviceId"])
	assert.Equal(t, "42", errMsg.Extra["_channel.busId"])
	assert.Equal(t, int64(5), errMsg.Extra["_channel.backoff.max"])
}

func TestSyslogLevel(t *testing.T) {
	assert.Equal(t, int32(7), syslogLevel(slog.LevelDebug))
	assert.Equal(t, int32(6), syslogLevel(slog.LevelInfo))
	assert.Equal(t, int32(4), syslogLevel(slog.LevelWarn))
	assert.Equal(t, int32(3), syslogLevel(slog.LevelError))
}

func TestDialGELF_RoundTrip(t *testing.T) {
	r, err := gelf.NewReader("127.0.0.1:0")
	require.NoError(t, err)

	w, err := DialGELF(r.Addr())
	require.NoError(t, err)

	logger := slog.New(NewGELFHandler(w, slog.LevelInfo))
	logger.Info("over udp")

	got := make(chan *gelf.Message, 1)
	go func() {
		m, err := r.ReadMessage()
		if err == nil {
			got <- m
		}
	}()

	select {
	case m := <-got:
		assert.Equal(t, "over udp", m.Short)
	case <-time.After(2 * time.Second):
		t.Fatal("no GELF message received")
	}
}
