package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Conversation lifecycle helpers
	LogConversationStarted(ctx context.Context, sessionID, correlationID string) error
	LogConversationSuspended(ctx context.Context, sessionID string, pendingCalls int) error
	LogConversationCompleted(ctx context.Context, sessionID string, duration time.Duration) error

	// Tool lifecycle helpers
	LogToolExecuted(ctx context.Context, sessionID, tool string, duration time.Duration) error
	LogToolFailed(ctx context.Context, sessionID, tool string, err error) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Archive receives flushed audit events for durable storage (the SQLite
// archive in internal/db). Nil archives are allowed.
type Archive interface {
	InsertAuditEvent(ctx context.Context, event *Event) error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// AppLogPath is the path to the application log file
	AppLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// LogLevel is the minimum log level (debug, info, warn, error)
	LogLevel string
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		AppLogPath:   "logs/app.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
		LogLevel:     "info",
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	archive     Archive
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewLogger creates a new audit logger. The archive may be nil.
func NewLogger(config *Config, archive Archive) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.LogLevel, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	appRotator := &lumberjack.Logger{
		Filename:   config.AppLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	appCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(appRotator),
		level,
	)

	appLogger := zap.New(appCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	// Audit logs are append-only and always INFO level
	auditRotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(auditRotator),
		zapcore.InfoLevel,
	)

	auditZapLogger := zap.New(auditCore)

	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: auditZapLogger,
		archive:     archive,
		config:      config,
		buffer:      make([]*Event, 0, 100),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	if len(l.buffer) >= 100 {
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

		if l.archive != nil {
			if err := l.archive.InsertAuditEvent(context.Background(), event); err != nil {
				l.appLogger.Error("failed to archive audit event",
					zap.Error(err),
					zap.String("event_type", string(event.EventType)),
				)
			}
		}
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

// LogConversationStarted logs when a conversation turn begins
func (l *auditLogger) LogConversationStarted(ctx context.Context, sessionID, correlationID string) error {
	event := NewEvent(EventConversationStarted).
		WithCorrelationID(correlationID).
		WithSession(sessionID).
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("Conversation started for session %s", sessionID))

	return l.Log(ctx, event)
}

// LogConversationSuspended logs when a conversation parks on bridged calls
func (l *auditLogger) LogConversationSuspended(ctx context.Context, sessionID string, pendingCalls int) error {
	event := NewEvent(EventConversationSuspended).
		WithSession(sessionID).
		WithResult(ResultPending).
		WithMetadata("pending_calls", pendingCalls).
		WithDescription(fmt.Sprintf("Conversation for session %s suspended on %d bridged calls", sessionID, pendingCalls))

	return l.Log(ctx, event)
}

// LogConversationCompleted logs a terminal conversation reply
func (l *auditLogger) LogConversationCompleted(ctx context.Context, sessionID string, duration time.Duration) error {
	event := NewEvent(EventConversationCompleted).
		WithSession(sessionID).
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithDescription(fmt.Sprintf("Conversation for session %s completed", sessionID))

	return l.Log(ctx, event)
}

// LogToolExecuted logs a successful local tool execution
func (l *auditLogger) LogToolExecuted(ctx context.Context, sessionID, tool string, duration time.Duration) error {
	event := NewEvent(EventToolExecuted).
		WithSession(sessionID).
		WithTool(tool).
		WithResult(ResultSuccess).
		WithDuration(duration)

	return l.Log(ctx, event)
}

// LogToolFailed logs a local tool execution error
func (l *auditLogger) LogToolFailed(ctx context.Context, sessionID, tool string, err error) error {
	event := NewEvent(EventToolFailed).
		WithSession(sessionID).
		WithTool(tool).
		WithError(err)

	return l.Log(ctx, event)
}

// Sync flushes buffered entries to the underlying sinks
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}
	_ = l.appLogger.Sync()
	return l.auditLogger.Sync()
}

// Close stops the flush loop and syncs both loggers
func (l *auditLogger) Close() error {
	l.stopOnce.Do(func() {
		l.flushTicker.Stop()
		close(l.stopCh)
	})
	return l.Sync()
}

// Nop returns a no-op audit logger for tests.
func Nop() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Log(context.Context, *Event) error { return nil }
func (n *nopLogger) LogConversationStarted(context.Context, string, string) error {
	return nil
}
func (n *nopLogger) LogConversationSuspended(context.Context, string, int) error { return nil }
func (n *nopLogger) LogConversationCompleted(context.Context, string, time.Duration) error {
	return nil
}
func (n *nopLogger) LogToolExecuted(context.Context, string, string, time.Duration) error {
	return nil
}
func (n *nopLogger) LogToolFailed(context.Context, string, string, error) error { return nil }
func (n *nopLogger) Sync() error                                                { return nil }
func (n *nopLogger) Close() error                                               { return nil }
