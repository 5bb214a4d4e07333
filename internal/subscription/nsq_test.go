package subscription

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNSQTransport_UnreachableNSQD(t *testing.T) {
	transport := &NSQTransport{NSQDAddr: "127.0.0.1:1"}
	_, err := transport.Connect(context.Background(), "42", nil, nil)
	assert.Error(t, err)
}

func TestNSQTransport_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&NSQTransport{NSQDAddr: "127.0.0.1:4150"}).Connect(ctx, "42", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNSQLogger_Output(t *testing.T) {
	l := nsqLogger{logger: slog.New(slog.DiscardHandler)}
	assert.NoError(t, l.Output(2, "ERR    1 [bus_42] error"))
	assert.NoError(t, l.Output(2, "INF    1 [bus_42] connecting"))
}
