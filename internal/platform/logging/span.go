package logging

import (
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// spanCore writes log records as events on a span so request logs travel
// with the trace to the tracing backend.
type spanCore struct {
	zapcore.LevelEnabler
	span   trace.Span
	fields []zapcore.Field
}

// NewSpanCore returns a core that records entries enabled by enab as events on span.
func NewSpanCore(span trace.Span, enab zapcore.LevelEnabler) zapcore.Core {
	return &spanCore{LevelEnabler: enab, span: span}
}

// TeeSpan returns logger duplicated into span. Non-recording spans are skipped.
func TeeSpan(logger *zap.Logger, span trace.Span) *zap.Logger {
	if span == nil || !span.IsRecording() {
		return logger
	}
	return logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, NewSpanCore(span, c))
	}))
}

func (c *spanCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = make([]zapcore.Field, 0, len(c.fields)+len(fields))
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return &clone
}

func (c *spanCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) && c.span.IsRecording() {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *spanCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	keys := make([]string, 0, len(enc.Fields))
	for k := range enc.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys)+1)
	attrs = append(attrs, attribute.String("log.severity", severity(ent.Level)))
	for _, k := range keys {
		attrs = append(attrs, attribute.String("log."+k, fmt.Sprint(enc.Fields[k])))
	}
	c.span.AddEvent(ent.Message, trace.WithAttributes(attrs...), trace.WithTimestamp(ent.Time))
	return nil
}

func (c *spanCore) Sync() error {
	return nil
}
