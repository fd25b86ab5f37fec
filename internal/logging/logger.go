// Package logging provides structured logging functionality for zoom-mirror
package logging

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/curtbushko/zoom-mirror/internal/config"
)

// LogLevel represents the severity level of a log entry
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

type contextKey string

// RequestIDKey is the context key for request IDs
const RequestIDKey contextKey = "request_id"

// Logger defines the interface for logging operations
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})

	// Contextual variants add the request ID carried by ctx
	DebugWithContext(ctx context.Context, format string, args ...interface{})
	InfoWithContext(ctx context.Context, format string, args ...interface{})
	WarnWithContext(ctx context.Context, format string, args ...interface{})
	ErrorWithContext(ctx context.Context, format string, args ...interface{})

	LogUserAction(action string, user string, metadata map[string]interface{})
	LogPerformance(metrics PerformanceMetrics)
	LogAPIRequest(request APIRequest)
	LogAPIResponse(response APIResponse)

	GetLevel() LogLevel
	SetLevel(level LogLevel)
	SetOutput(w io.Writer)
	Close() error
}

// PerformanceMetrics represents performance data for logging
type PerformanceMetrics struct {
	Operation      string
	Duration       time.Duration
	BytesProcessed int64
	Success        bool
	Error          string
	Metadata       map[string]interface{}
}

// APIRequest represents API request data for logging
type APIRequest struct {
	Method    string
	URL       string
	Headers   map[string]string
	RequestID string
}

// APIResponse represents API response data for logging
type APIResponse struct {
	StatusCode int
	Body       string
	RequestID  string
	Duration   time.Duration
	Success    bool
	Error      string
}

// loggerImpl implements Logger on top of zerolog
type loggerImpl struct {
	mu         sync.RWMutex
	zl         zerolog.Logger
	level      LogLevel
	jsonFormat bool
	fileHandle *os.File
}

// NewLogger creates a new Logger instance with the given configuration
func NewLogger(cfg config.LoggingConfig) (Logger, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	logger := &loggerImpl{
		level:      level,
		jsonFormat: cfg.JSONFormat,
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, logger.formatWriter(os.Stdout, false))
	}

	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		logger.fileHandle = file
		writers = append(writers, logger.formatWriter(file, true))
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	logger.zl = zerolog.New(out).With().Timestamp().Logger().Level(level.zerolog())
	return logger, nil
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() Logger {
	return &loggerImpl{
		zl:    zerolog.Nop(),
		level: ErrorLevel,
	}
}

func (l *loggerImpl) formatWriter(w io.Writer, noColor bool) io.Writer {
	if l.jsonFormat {
		return w
	}
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: noColor}
}

func parseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

func (l *loggerImpl) logger() *zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	zl := l.zl
	return &zl
}

func (l *loggerImpl) log(level LogLevel, requestID string, format string, args ...interface{}) {
	event := l.logger().WithLevel(level.zerolog())
	if event == nil {
		return
	}
	if requestID != "" {
		event = event.Str("request_id", requestID)
	}
	event.Msgf(format, args...)
}

func requestIDFrom(ctx context.Context) string {
	requestID, _ := GetRequestID(ctx)
	return requestID
}

func (l *loggerImpl) writeStructuredEntry(level LogLevel, message string, fields map[string]interface{}) {
	event := l.logger().WithLevel(level.zerolog())
	if event == nil {
		return
	}
	event.Fields(fields).Msg(message)
}

func (l *loggerImpl) Debug(format string, args ...interface{}) {
	l.log(DebugLevel, "", format, args...)
}

func (l *loggerImpl) Info(format string, args ...interface{}) {
	l.log(InfoLevel, "", format, args...)
}

func (l *loggerImpl) Warn(format string, args ...interface{}) {
	l.log(WarnLevel, "", format, args...)
}

func (l *loggerImpl) Error(format string, args ...interface{}) {
	l.log(ErrorLevel, "", format, args...)
}

func (l *loggerImpl) DebugWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(DebugLevel, requestIDFrom(ctx), format, args...)
}

func (l *loggerImpl) InfoWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(InfoLevel, requestIDFrom(ctx), format, args...)
}

func (l *loggerImpl) WarnWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(WarnLevel, requestIDFrom(ctx), format, args...)
}

func (l *loggerImpl) ErrorWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(ErrorLevel, requestIDFrom(ctx), format, args...)
}

// LogUserAction logs per-member actions with metadata
func (l *loggerImpl) LogUserAction(action string, user string, metadata map[string]interface{}) {
	fields := map[string]interface{}{
		"action": action,
		"user":   user,
	}
	for key, value := range metadata {
		fields[key] = value
	}

	l.writeStructuredEntry(InfoLevel, fmt.Sprintf("User action: %s", action), fields)
}

// LogPerformance logs performance metrics
func (l *loggerImpl) LogPerformance(metrics PerformanceMetrics) {
	fields := map[string]interface{}{
		"operation":       metrics.Operation,
		"duration_ms":     metrics.Duration.Milliseconds(),
		"bytes_processed": metrics.BytesProcessed,
		"success":         metrics.Success,
	}
	if metrics.Error != "" {
		fields["error"] = metrics.Error
	}
	for key, value := range metrics.Metadata {
		fields[key] = value
	}

	message := fmt.Sprintf("Performance: %s completed in %v", metrics.Operation, metrics.Duration)
	l.writeStructuredEntry(InfoLevel, message, fields)
}

// LogAPIRequest logs API requests with credentials redacted
func (l *loggerImpl) LogAPIRequest(request APIRequest) {
	fields := map[string]interface{}{
		"method": request.Method,
		"url":    RedactURL(request.URL),
	}
	if request.RequestID != "" {
		fields["request_id"] = request.RequestID
	}

	if len(request.Headers) > 0 {
		sanitizedHeaders := make(map[string]string, len(request.Headers))
		for key, value := range request.Headers {
			if strings.EqualFold(key, "authorization") {
				sanitizedHeaders[key] = "***"
			} else {
				sanitizedHeaders[key] = value
			}
		}
		fields["headers"] = sanitizedHeaders
	}

	message := fmt.Sprintf("API Request: %s %s", request.Method, fields["url"])
	l.writeStructuredEntry(DebugLevel, message, fields)
}

// LogAPIResponse logs API responses
func (l *loggerImpl) LogAPIResponse(response APIResponse) {
	fields := map[string]interface{}{
		"status_code": response.StatusCode,
		"duration_ms": response.Duration.Milliseconds(),
		"success":     response.Success,
	}
	if response.RequestID != "" {
		fields["request_id"] = response.RequestID
	}
	if response.Error != "" {
		fields["error"] = response.Error
	}
	if response.Body != "" {
		if len(response.Body) > 1000 {
			fields["body"] = response.Body[:1000] + "... (truncated)"
		} else {
			fields["body"] = response.Body
		}
	}

	message := fmt.Sprintf("API Response: %d (%v)", response.StatusCode, response.Duration)
	l.writeStructuredEntry(DebugLevel, message, fields)
}

// GetLevel returns the current log level
func (l *loggerImpl) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// SetLevel sets the log level
func (l *loggerImpl) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.zl = l.zl.Level(level.zerolog())
}

// SetOutput replaces all outputs with w (mainly for testing)
func (l *loggerImpl) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl = zerolog.New(l.formatWriter(w, true)).With().Timestamp().Logger().Level(l.level.zerolog())
}

// Close closes the logger and any open file handles
func (l *loggerImpl) Close() error {
	if l.fileHandle != nil {
		return l.fileHandle.Close()
	}
	return nil
}

// RedactURL masks the access_token query parameter carried by download URLs
func RedactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	query := parsed.Query()
	if !query.Has("access_token") {
		return raw
	}
	query.Set("access_token", "REDACTED")
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger
)

// SetDefaultLogger sets the package-level logger
func SetDefaultLogger(logger Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// GetDefaultLogger returns the package-level logger, which may be nil
func GetDefaultLogger() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// InitializeLogging creates a logger from cfg and installs it as the default
func InitializeLogging(cfg config.LoggingConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	SetDefaultLogger(logger)
	return nil
}

// Debug logs a debug message using the default logger
func Debug(format string, args ...interface{}) {
	if logger := GetDefaultLogger(); logger != nil {
		logger.Debug(format, args...)
	}
}

// Info logs an info message using the default logger
func Info(format string, args ...interface{}) {
	if logger := GetDefaultLogger(); logger != nil {
		logger.Info(format, args...)
	}
}

// Warn logs a warning message using the default logger
func Warn(format string, args ...interface{}) {
	if logger := GetDefaultLogger(); logger != nil {
		logger.Warn(format, args...)
	}
}

// Error logs an error message using the default logger
func Error(format string, args ...interface{}) {
	if logger := GetDefaultLogger(); logger != nil {
		logger.Error(format, args...)
	}
}

// WithRequestID creates a context with a request ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID extracts the request ID from a context
func GetRequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(RequestIDKey).(string)
	return requestID, ok
}

// GenerateRequestID generates a random run identifier
func GenerateRequestID() string {
	return uuid.NewString()
}
