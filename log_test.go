// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withLogMask sets the process-wide mask for the duration of the test.
func withLogMask(t *testing.T, mask uint) {
	saved := GetLogMask()
	SetLogMask(mask)
	t.Cleanup(func() { SetLogMask(saved) })
}

// LogLevel names are stable.
func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "fatal", LogFatal.String())
	assert.Equal(t, "err", LogErr.String())
	assert.Equal(t, "warning", LogWarning.String())
	assert.Equal(t, "info", LogInfo.String())
	assert.Equal(t, "debug", LogDebug.String())
	assert.Equal(t, "invalid", LogLevel(17).String())
}

// The default mask enables only fatal and err.
func TestDefaultLogMask(t *testing.T) {
	assert.Equal(t, LogFatal.LogMask()|LogErr.LogMask(), GetLogMask())
	assert.True(t, LogEnabled(LogErr))
	assert.False(t, LogEnabled(LogInfo))
	assert.False(t, LogEnabled(LogLevel(-1)))
}

// Config.Log routes enabled levels to the matching slog level and drops the rest.
func TestConfigLog(t *testing.T) {
	withLogMask(t, LogErr.LogMask()|LogInfo.LogMask())
	logger, records := newCapturingLogger()
	cfg := NewConfig()
	cfg.Logger = logger

	cfg.Log(LogErr, "boom")
	cfg.Log(LogInfo, "hello")
	cfg.Log(LogDebug, "dropped")
	cfg.Logf(LogWarning, "dropped %d", 1)

	require.Len(t, *records, 2)
	assert.Equal(t, slog.LevelError, (*records)[0].Level)
	assert.Equal(t, "boom", (*records)[0].Message)
	assert.Equal(t, slog.LevelInfo, (*records)[1].Level)
}

// Logf never formats when the level is masked.
func TestConfigLogfShortCircuits(t *testing.T) {
	withLogMask(t, 0)
	cfg := NewConfig()
	formatted := false
	cfg.Logf(LogErr, "%v", stringerFunc(func() string {
		formatted = true
		return ""
	}))
	assert.False(t, formatted)
}

// SLogger applies the mask to span events.
func TestConfigSLogger(t *testing.T) {
	withLogMask(t, LogWarning.LogMask())
	logger, records := newCapturingLogger()
	cfg := NewConfig()
	cfg.Logger = logger

	sl := cfg.SLogger()
	sl.Debug("a")
	sl.Info("b")
	sl.Warn("c")
	sl.Error("d")

	require.Len(t, *records, 1)
	assert.Equal(t, "c", (*records)[0].Message)
}

type stringerFunc func() string

func (f stringerFunc) String() string { return f() }
