package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestSetBaseRoutesHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetBase(zap.New(core))

	Debug(context.Background(), "hidden")
	Info(context.Background(), "visible", zap.String("call_id", "c1"))
	Warn(context.Background(), "careful")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "visible", logs.All()[0].Message)
	assert.Equal(t, "c1", logs.All()[0].ContextMap()["call_id"])
	assert.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)
}

func TestBuildWithFileSink(t *testing.T) {
	dir := t.TempDir()
	base, err := build(Options{Env: "production", Level: "debug", File: dir + "/voice.log"})
	require.NoError(t, err)

	base.Info("written to both sinks")
	_ = base.Sync()
	assert.FileExists(t, dir+"/voice.log")
}
