// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"fmt"
	"sync/atomic"
)

// LogLevel is the severity of a log message.
type LogLevel int

// Log levels, most severe first.
const (
	LogFatal LogLevel = iota
	LogErr
	LogWarning
	LogInfo
	LogDebug
)

// String returns the stable lowercase name of the level.
func (l LogLevel) String() string {
	switch l {
	case LogFatal:
		return "fatal"
	case LogErr:
		return "err"
	case LogWarning:
		return "warning"
	case LogInfo:
		return "info"
	case LogDebug:
		return "debug"
	default:
		return "invalid"
	}
}

// LogMask returns the mask bit for the level.
func (l LogLevel) LogMask() uint {
	return 1 << uint(l)
}

// LogMaskAll enables every level.
const LogMaskAll = uint(1<<(LogDebug+1)) - 1

var logMask atomic.Uint32

func init() {
	logMask.Store(uint32(LogFatal.LogMask() | LogErr.LogMask()))
}

// SetLogMask sets the process-wide mask of enabled levels.
func SetLogMask(mask uint) {
	logMask.Store(uint32(mask & LogMaskAll))
}

// GetLogMask returns the process-wide mask of enabled levels.
func GetLogMask() uint {
	return uint(logMask.Load())
}

// LogEnabled reports whether messages at the given level are delivered.
func LogEnabled(level LogLevel) bool {
	if level < LogFatal || level > LogDebug {
		return false
	}
	return GetLogMask()&level.LogMask() != 0
}

// LogMessage is the payload of an [AccEventLog] event.
type LogMessage struct {
	Level   LogLevel
	Message string
}

// Log emits a structured message through [Config.Logger] when the level is enabled.
func (c *Config) Log(level LogLevel, msg string, args ...any) {
	if !LogEnabled(level) {
		return
	}
	switch level {
	case LogDebug:
		c.Logger.Debug(msg, args...)
	case LogInfo:
		c.Logger.Info(msg, args...)
	case LogWarning:
		c.Logger.Warn(msg, args...)
	default:
		c.Logger.Error(msg, args...)
	}
}

// Logf formats and emits a message. Formatting is skipped when the level
// is disabled.
func (c *Config) Logf(level LogLevel, format string, args ...any) {
	if !LogEnabled(level) {
		return
	}
	c.Log(level, fmt.Sprintf(format, args...), "level", level.String())
}

// SLogger returns a view of [Config.Logger] that honours the process-wide
// log mask. Components logging span events receive this view.
func (c *Config) SLogger() SLogger {
	return maskedSLogger{c.Logger}
}

type maskedSLogger struct {
	logger SLogger
}

var _ SLogger = maskedSLogger{}

func (m maskedSLogger) Debug(msg string, args ...any) {
	if LogEnabled(LogDebug) {
		m.logger.Debug(msg, args...)
	}
}

func (m maskedSLogger) Info(msg string, args ...any) {
	if LogEnabled(LogInfo) {
		m.logger.Info(msg, args...)
	}
}

func (m maskedSLogger) Warn(msg string, args ...any) {
	if LogEnabled(LogWarning) {
		m.logger.Warn(msg, args...)
	}
}

func (m maskedSLogger) Error(msg string, args ...any) {
	if LogEnabled(LogErr) {
		m.logger.Error(msg, args...)
	}
}
