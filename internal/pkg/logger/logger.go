package logger

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// Logger is a component-scoped view of the process logger.
// Entries are routed through whatever core is current at call time.
type Logger struct {
	name string
}

var (
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	redactPII atomic.Bool

	mu   sync.RWMutex
	base *zap.Logger
)

func init() {
	redactPII.Store(true)
	base = zap.New(newCore(os.Stderr))
}

func newCore(w io.Writer) zapcore.Core {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.MessageKey = "msg"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), level)
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// SetLevel sets the minimum log level for the process logger.
func SetLevel(l Level) { level.SetLevel(l.zapLevel()) }

// SetRedactPII enables or disables PII redaction for the process logger.
func SetRedactPII(r bool) { redactPII.Store(r) }

// SetOutput sends JSON entries to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	base = zap.New(newCore(w))
	mu.Unlock()
}

// ReplaceCore swaps the zap core behind every Logger and returns a func that
// restores the previous one. Tests pair it with zaptest/observer.
func ReplaceCore(core zapcore.Core) (restore func()) {
	mu.Lock()
	prev := base
	base = zap.New(core)
	mu.Unlock()
	return func() {
		mu.Lock()
		base = prev
		mu.Unlock()
	}
}

// Sync flushes buffered entries.
func Sync() error { return current().Sync() }

// Named returns a logger whose entries carry a "component" field.
func Named(component string) *Logger { return &Logger{name: component} }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { emit(nil, DEBUG, msg, fields) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { emit(nil, INFO, msg, fields) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { emit(nil, WARN, msg, fields) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { emit(nil, ERROR, msg, fields) }

func (l *Logger) Debug(msg string, fields ...interface{}) { emit(l, DEBUG, msg, fields) }
func (l *Logger) Info(msg string, fields ...interface{}) { emit(l, INFO, msg, fields) }
func (l *Logger) Warn(msg string, fields ...interface{}) { emit(l, WARN, msg, fields) }
func (l *Logger) Error(msg string, fields ...interface{}) { emit(l, ERROR, msg, fields) }

func emit(l *Logger, lvl Level, msg string, kv []interface{}) {
	z := current()
	ce := z.Check(lvl.zapLevel(), msg)
	if ce == nil {
		return
	}
	fields := make([]zap.Field, 0, len(kv)/2+1)
	if l != nil && l.name != "" {
		fields = append(fields, zap.String("component", l.name))
	}
	redact := redactPII.Load()
	// Parse key-value pairs; a trailing key without a value is dropped.
	for i := 0; i+1 < len(kv); i += 2 {
		key := fmt.Sprintf("%v", kv[i])
		fields = append(fields, toField(key, kv[i+1], redact))
	}
	ce.Write(fields...)
}

func toField(key string, val interface{}, redact bool) zap.Field {
	var s string
	switch v := val.(type) {
	case string:
		s = v
	case error:
		s = v.Error()
	case fmt.Stringer:
		s = v.String()
	default:
		return zap.Any(key, v)
	}
	if redact {
		s = redactPIIValue(key, s)
	}
	return zap.String(key, s)
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") || strings.Contains(key, "recipient") {
		if val == "" {
			return val
		}
		return RedactEmail(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
