package logging

import (
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_MapsLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewLogger(zap.New(core))

	helper := log.NewHelper(log.With(logger, "module", "test"))
	helper.Infow("msg", "wallet adjusted", "user_id", "u1")
	helper.Errorf("dispatch failed: %s", "boom")

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "wallet adjusted", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "test", ctx["module"])
	assert.Equal(t, "u1", ctx["user_id"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "dispatch failed: boom", entries[1].Message)
}

func TestLogger_UnpairedKeyvals(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewLogger(zap.New(core))

	require.NoError(t, logger.Log(log.LevelInfo, "lonely"))
	require.NoError(t, logger.Log(log.LevelDebug, "msg", "filtered"))
	require.Len(t, logs.All(), 1)
	assert.Equal(t, "KEYVALS UNPAIRED", logs.All()[0].ContextMap()["lonely"])
}

func TestNewZap_DefaultsToInfo(t *testing.T) {
	z, err := NewZap(Config{Level: "nonsense"}, map[string]interface{}{"service": "token-router"})
	require.NoError(t, err)
	assert.True(t, z.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, z.Core().Enabled(zapcore.DebugLevel))
}
