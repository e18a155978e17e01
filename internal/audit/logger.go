package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Reasoning run lifecycle
	LogReasoningStarted(ctx context.Context, runID, operation string) error
	LogReasoningCompleted(ctx context.Context, runID, operation string, duration time.Duration) error
	LogReasoningFailed(ctx context.Context, runID, operation string, err error) error
	LogVerificationSkipped(ctx context.Context, runID string, err error) error

	// Bundle outcomes
	LogBundle(ctx context.Context, runID string, eventType EventType, attempts int, err error) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// FlushInterval is how often buffered events are written
	FlushInterval time.Duration
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath:  "logs/audit.log",
		MaxSize:       100, // megabytes
		MaxBackups:    10,
		MaxAge:        30, // days
		Compress:      true,
		FlushInterval: time.Second,
	}
}

const bufferLimit = 100

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a new audit logger writing JSON lines to a rotated
// file. appLogger receives internal failures; it may be nil.
func NewLogger(config *Config, appLogger *zap.Logger) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AuditLogPath == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if appLogger == nil {
		appLogger = zap.NewNop()
	}
	interval := config.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	auditRotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	// Audit logs are always INFO level, append-only
	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(auditRotator),
		zapcore.InfoLevel,
	)

	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: zap.New(auditCore),
		config:      config,
		buffer:      make([]*Event, 0, bufferLimit),
		flushTicker: time.NewTicker(interval),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)
	if len(l.buffer) >= bufferLimit {
		return l.flushLocked()
	}
	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]
	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

func (l *auditLogger) LogReasoningStarted(ctx context.Context, runID, operation string) error {
	event := NewEvent(EventReasoningStarted).
		WithCorrelationID(runID).
		WithOperation(operation).
		WithResult(ResultPending).
		WithDescription(fmt.Sprintf("Reasoning run %s started", runID))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogReasoningCompleted(ctx context.Context, runID, operation string, duration time.Duration) error {
	event := NewEvent(EventReasoningCompleted).
		WithCorrelationID(runID).
		WithOperation(operation).
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithDescription(fmt.Sprintf("Reasoning run %s completed", runID))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogReasoningFailed(ctx context.Context, runID, operation string, err error) error {
	event := NewEvent(EventReasoningFailed).
		WithCorrelationID(runID).
		WithOperation(operation).
		WithError(err, "reasoning_error").
		WithDescription(fmt.Sprintf("Reasoning run %s failed", runID))

	return l.Log(ctx, event)
}

// LogVerificationSkipped records a verification pass that failed and was
// dropped from the result.
func (l *auditLogger) LogVerificationSkipped(ctx context.Context, runID string, err error) error {
	event := NewEvent(EventReasoningVerificationSkipped).
		WithCorrelationID(runID).
		WithResult(ResultSkipped).
		WithDescription("Verification skipped")
	if err != nil {
		event.Error = err.Error()
	}

	return l.Log(ctx, event)
}

// LogBundle records the outcome of a bundle emission.
func (l *auditLogger) LogBundle(ctx context.Context, runID string, eventType EventType, attempts int, err error) error {
	result := ResultSuccess
	if eventType == EventBundleFallback {
		result = ResultSkipped
	}
	event := NewEvent(eventType).
		WithCorrelationID(runID).
		WithOperation("bundle").
		WithResult(result).
		WithMetadata("attempts", attempts).
		WithError(err, "bundle_error")

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}
	return l.auditLogger.Sync()
}

// Close stops the flush loop and writes what is left in the buffer.
func (l *auditLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
	})
	return l.Sync()
}

// ─── No-op logger ─────────────────────────────────────────────────────────────

type nopLogger struct{}

// NewNopLogger returns a Logger that discards every event. It is used when
// auditing is disabled and in tests.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Log(context.Context, *Event) error { return nil }

func (nopLogger) LogReasoningStarted(context.Context, string, string) error { return nil }

func (nopLogger) LogReasoningCompleted(context.Context, string, string, time.Duration) error {
	return nil
}

func (nopLogger) LogReasoningFailed(context.Context, string, string, error) error { return nil }

func (nopLogger) LogVerificationSkipped(context.Context, string, error) error { return nil }

func (nopLogger) LogBundle(context.Context, string, EventType, int, error) error { return nil }

func (nopLogger) Sync() error { return nil }

func (nopLogger) Close() error { return nil }

// ─── Correlation ids ──────────────────────────────────────────────────────────

type correlationKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return uuid.NewString()
}
