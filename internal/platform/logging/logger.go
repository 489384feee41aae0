package logging

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shenshouer/ai-api/internal/platform/timeutil"
)

// encodeTimeMicros formats timestamps as RFC 3339 with fixed microsecond precision.
func encodeTimeMicros(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(timeutil.RFC3339Micros))
}

// encodeSeverity maps zap levels to Cloud Logging severity names.
func encodeSeverity(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(severity(level))
}

func severity(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return "DEBUG"
	case zapcore.InfoLevel:
		return "INFO"
	case zapcore.WarnLevel:
		return "WARNING"
	case zapcore.ErrorLevel:
		return "ERROR"
	case zapcore.DPanicLevel:
		return "CRITICAL"
	case zapcore.PanicLevel:
		return "ALERT"
	case zapcore.FatalLevel:
		return "EMERGENCY"
	default:
		return "DEFAULT"
	}
}

// LevelFor maps the debug setting to a log level.
func LevelFor(debug bool) zapcore.Level {
	if debug {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// Config returns the production JSON config logging at level. Keeping the
// AtomicLevel lets callers change verbosity at runtime.
func Config(level zap.AtomicLevel) zap.Config {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stdout"}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = encodeTimeMicros
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.EncodeLevel = encodeSeverity
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.Level = level
	return cfg
}

// New builds the service logger.
func New(level zap.AtomicLevel) (*zap.Logger, error) {
	return Config(level).Build(zap.AddCaller())
}

// Logger returns the process-wide logger installed with zap.ReplaceGlobals.
func Logger() *zap.Logger {
	return zap.L()
}

// headerObject logs a header map as one string field per header.
type headerObject http.Header

func (h headerObject) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		enc.AddString(k, strings.Join(h[k], ", "))
	}
	return nil
}

// Headers is a zap field for an already redacted header map.
func Headers(key string, h http.Header) zap.Field {
	return zap.Object(key, headerObject(h))
}
