package logger

import (
	"sync"
)

var (
	globalLogger *SystemLogger
	once         sync.Once
	mu           sync.RWMutex
)

// InitGlobalLogger initializes the global system logger. sink may be nil.
func InitGlobalLogger(sink EventSink, level LogLevel, environment string) {
	once.Do(func() {
		config := SystemLoggerConfig{
			EnableConsole: true,
			MinLevel:      level,
			Service:       "storepay",
			Version:       "1.0.0",
			Environment:   environment,
		}

		if config.Environment == "development" {
			config.MinLevel = LevelDebug
		}

		SetGlobalLogger(NewSystemLogger(sink, config))
	})
}

// SetGlobalLogger replaces the global logger, mainly for tests
func SetGlobalLogger(l *SystemLogger) {
	mu.Lock()
	globalLogger = l
	mu.Unlock()
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *SystemLogger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	// Fallback to console-only logger if not initialized
	l = NewSystemLogger(nil, SystemLoggerConfig{
		EnableConsole: true,
		MinLevel:      LevelInfo,
		Service:       "storepay",
		Version:       "1.0.0",
		Environment:   "development",
	})
	SetGlobalLogger(l)
	return l
}

// Convenience functions for global logging

func Debug(message string, ctx ...LogContext) {
	GetGlobalLogger().Debug(message, ctx...)
}

func Info(message string, ctx ...LogContext) {
	GetGlobalLogger().Info(message, ctx...)
}

func Warn(message string, ctx ...LogContext) {
	GetGlobalLogger().Warn(message, ctx...)
}

func Error(message string, err error, ctx ...LogContext) {
	GetGlobalLogger().Error(message, err, ctx...)
}

func Fatal(message string, err error, ctx ...LogContext) {
	GetGlobalLogger().Fatal(message, err, ctx...)
}

// WithContext creates a context logger from the global logger
func WithContext(ctx LogContext) *ContextLogger {
	return GetGlobalLogger().WithContext(ctx)
}

// WithGateway creates a context logger scoped to a gateway
func WithGateway(gateway string) *ContextLogger {
	return WithContext(LogContext{Gateway: gateway})
}

// WithOrder creates a context logger scoped to an order and its gateway
func WithOrder(orderID int64, gateway string) *ContextLogger {
	return WithContext(LogContext{
		OrderID: orderID,
		Gateway: gateway,
	})
}
