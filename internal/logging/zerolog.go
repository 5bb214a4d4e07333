package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// NewZerolog returns a zerolog.Logger whose events are re-emitted through
// logger, so the database and influx managers share the slog pipeline.
func NewZerolog(logger *slog.Logger) zerolog.Logger {
	lvl := zerolog.InfoLevel
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		lvl = zerolog.DebugLevel
	}
	return zerolog.New(&slogWriter{logger: logger}).Level(lvl).With().Timestamp().Logger()
}

type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		w.logger.Info(strings.TrimSpace(string(p)))
		return len(p), nil
	}

	level, _ := fields[zerolog.LevelFieldName].(string)
	msg, _ := fields[zerolog.MessageFieldName].(string)
	delete(fields, zerolog.LevelFieldName)
	delete(fields, zerolog.MessageFieldName)
	delete(fields, zerolog.TimestampFieldName)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}

	w.logger.Log(context.Background(), slogLevel(level), msg, args...)
	return len(p), nil
}

func slogLevel(zl string) slog.Level {
	switch zl {
	case zerolog.LevelTraceValue, zerolog.LevelDebugValue:
		return slog.LevelDebug
	case zerolog.LevelWarnValue:
		return slog.LevelWarn
	case zerolog.LevelErrorValue, zerolog.LevelFatalValue, zerolog.LevelPanicValue:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
