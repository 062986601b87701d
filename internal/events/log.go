package events

import (
	"sort"

	"go.uber.org/zap"
)

// LogSink writes every event to a zap logger.
type LogSink struct {
	l *zap.Logger
}

// NewLogSink creates a sink logging at info level.
func NewLogSink(l *zap.Logger) *LogSink {
	if l == nil {
		l = zap.NewNop()
	}
	return &LogSink{l: l.With(zap.String("component", "events"))}
}

func (s *LogSink) Emit(e Event) {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys)+2)
	fields = append(fields, zap.String("event", string(e.Type)), zap.Time("ts", e.Timestamp))
	for _, k := range keys {
		fields = append(fields, zap.Any(k, e.Fields[k]))
	}

	s.l.Info("engine event", fields...)
}
