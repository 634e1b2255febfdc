package logger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func resetGlobal() {
	SetGlobalLogger(nil)
	once = sync.Once{}
}

func TestInitGlobalLogger(t *testing.T) {
	resetGlobal()
	defer resetGlobal()

	InitGlobalLogger(nil, LevelWarn, "production")

	l := GetGlobalLogger()
	assert.Equal(t, "storepay", l.service)
	assert.Equal(t, LevelWarn, l.minLevel)
}

func TestInitGlobalLogger_DevelopmentIsVerbose(t *testing.T) {
	resetGlobal()
	defer resetGlobal()

	InitGlobalLogger(nil, LevelError, "development")

	assert.Equal(t, LevelDebug, GetGlobalLogger().minLevel)
}

func TestGetGlobalLogger_Fallback(t *testing.T) {
	resetGlobal()
	defer resetGlobal()

	l := GetGlobalLogger()
	assert.NotNil(t, l)
	assert.Same(t, l, GetGlobalLogger())
}

func TestGlobalHelpers(t *testing.T) {
	resetGlobal()
	defer resetGlobal()

	sl, logs := observedLogger(LevelDebug, nil)
	SetGlobalLogger(sl)

	Debug("debug")
	Info("info", LogContext{Gateway: "cod"})
	Warn("warn")
	Error("error", nil)
	assert.Equal(t, 4, logs.Len())

	cl := WithOrder(3, "kashier")
	assert.Equal(t, int64(3), cl.context.OrderID)
	assert.Equal(t, "kashier", cl.context.Gateway)
	assert.Equal(t, "paymob", WithGateway("paymob").context.Gateway)
}
