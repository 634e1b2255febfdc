package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []SystemLog
	done    chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{done: make(chan struct{}, 16)}
}

func (s *recordingSink) LogSystemEvent(_ context.Context, entry any) error {
	s.mu.Lock()
	s.entries = append(s.entries, entry.(SystemLog))
	s.mu.Unlock()
	s.done <- struct{}{}
	return nil
}

func observedLogger(minLevel LogLevel, sink EventSink) (*SystemLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	sl := NewSystemLogger(sink, SystemLoggerConfig{
		MinLevel:    minLevel,
		Service:     "test-service",
		Version:     "1.0.0",
		Environment: "test",
	})
	sl.console = zap.New(core)
	return sl, logs
}

func TestNewSystemLogger(t *testing.T) {
	config := SystemLoggerConfig{
		EnableConsole: false,
		MinLevel:      LevelInfo,
		Service:       "test-service",
		Version:       "1.0.0",
		Environment:   "test",
	}

	logger := NewSystemLogger(nil, config)

	assert.NotNil(t, logger)
	assert.NotNil(t, logger.console)
	assert.Nil(t, logger.sink)
	assert.Equal(t, config.MinLevel, logger.minLevel)
	assert.Equal(t, config.Service, logger.service)
	assert.Equal(t, config.Version, logger.version)
	assert.Equal(t, config.Environment, logger.environment)
}

func TestSystemLogger_ShouldLog(t *testing.T) {
	tests := []struct {
		name     string
		minLevel LogLevel
		level    LogLevel
		expected bool
	}{
		{name: "debug_level_allows_all", minLevel: LevelDebug, level: LevelDebug, expected: true},
		{name: "info_level_blocks_debug", minLevel: LevelInfo, level: LevelDebug, expected: false},
		{name: "info_level_allows_info", minLevel: LevelInfo, level: LevelInfo, expected: true},
		{name: "warn_level_allows_error", minLevel: LevelWarn, level: LevelError, expected: true},
		{name: "error_level_blocks_warn", minLevel: LevelError, level: LevelWarn, expected: false},
		{name: "fatal_level_allows_fatal", minLevel: LevelFatal, level: LevelFatal, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewSystemLogger(nil, SystemLoggerConfig{MinLevel: tt.minLevel})
			assert.Equal(t, tt.expected, logger.shouldLog(tt.level))
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel(" warn "))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
}

func TestExtractComponent(t *testing.T) {
	tests := []struct {
		name     string
		filePath string
		expected string
	}{
		{name: "provider_file", filePath: "/src/storepay/provider/kashier/kashier.go", expected: "provider/kashier"},
		{name: "handler_file", filePath: "/src/storepay/handler/payment.go", expected: "handler"},
		{name: "unknown_file", filePath: "/some/other/path/file.go", expected: "path"},
		{name: "single_part", filePath: "file.go", expected: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractComponent(tt.filePath))
		})
	}
}

func TestSystemLogger_ConsoleFields(t *testing.T) {
	logger, logs := observedLogger(LevelDebug, nil)

	logger.Info("payment confirmed", LogContext{
		Gateway:   "kashier",
		OrderID:   9,
		RequestID: "req-123",
		Fields:    map[string]any{"amount": "150.75"},
	})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "payment confirmed", entry.Message)
	assert.Equal(t, zapcore.InfoLevel, entry.Level)

	fields := entry.ContextMap()
	assert.Equal(t, "kashier", fields["gateway"])
	assert.Equal(t, int64(9), fields["order_id"])
	assert.Equal(t, "req-123", fields["request_id"])
	assert.Equal(t, "150.75", fields["amount"])
}

func TestSystemLogger_MinLevelFiltersConsole(t *testing.T) {
	logger, logs := observedLogger(LevelWarn, nil)

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error", errors.New("boom"))

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[1].Level)
	assert.Equal(t, "boom", logs.All()[1].ContextMap()["error"])
}

func TestSystemLogger_ErrorDoesNotMutateCallerFields(t *testing.T) {
	logger, _ := observedLogger(LevelDebug, nil)

	fields := map[string]any{"order": 1}
	logger.Error("failed", errors.New("boom"), LogContext{Fields: fields})

	_, exists := fields["error"]
	assert.False(t, exists)
}

func TestSystemLogger_ShipsToSink(t *testing.T) {
	sink := newRecordingSink()
	logger, _ := observedLogger(LevelDebug, sink)

	logger.Error("refund failed", errors.New("gateway timeout"), LogContext{Gateway: "paymob", OrderID: 42})

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("sink was not called")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.entries, 1)
	entry := sink.entries[0]
	assert.Equal(t, LevelError, entry.Level)
	assert.Equal(t, "paymob", entry.Gateway)
	assert.Equal(t, int64(42), entry.OrderID)
	assert.Equal(t, "gateway timeout", entry.Error)
	assert.Equal(t, "test-service", entry.Service)
}

func TestContextLogger(t *testing.T) {
	systemLogger, logs := observedLogger(LevelDebug, nil)

	ctx := LogContext{Gateway: "kashier", OrderID: 7}
	contextLogger := systemLogger.WithContext(ctx)

	assert.Equal(t, systemLogger, contextLogger.systemLogger)
	assert.Equal(t, ctx, contextLogger.context)

	contextLogger.Debug("Debug message")
	contextLogger.Info("Info message")
	contextLogger.Warn("Warning message")
	contextLogger.Error("Error message", errors.New("test error"))
	assert.Equal(t, 4, logs.Len())

	contextLogger.AddField("key", "value").
		SetGateway("paymob").
		SetOrderID(8).
		SetRequestID("req-456")

	assert.Equal(t, "paymob", contextLogger.context.Gateway)
	assert.Equal(t, int64(8), contextLogger.context.OrderID)
	assert.Equal(t, "req-456", contextLogger.context.RequestID)
	assert.Equal(t, "value", contextLogger.context.Fields["key"])
}
