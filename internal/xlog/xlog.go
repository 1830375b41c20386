// Package xlog is a small leveled-logging convenience wrapper matching the
// calling convention the teacher codebase uses from its own MoacLib/log
// package: plain structured calls (Debug/Info/Warn/Error, key-value pairs)
// alongside printf-style convenience variants (Debugf/Infof/Errorf). It is
// built on stdlib log/slog rather than importing MoacLib/log directly,
// since that package is private to the MOAC-core fork and cannot be
// imported from an independent module (see DESIGN.md).
package xlog

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger                = slog.New(handler)
)

// SetLevel adjusts the minimum level emitted by the default logger.
func SetLevel(level slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger = slog.New(handler)
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debug logs a structured message at debug level: Debug("touch", "id", id).
func Debug(msg string, kv ...any) { current().Debug(msg, kv...) }

// Info logs a structured message at info level.
func Info(msg string, kv ...any) { current().Info(msg, kv...) }

// Warn logs a structured message at warn level.
func Warn(msg string, kv ...any) { current().Warn(msg, kv...) }

// Error logs a structured message at error level.
func Error(msg string, kv ...any) { current().Error(msg, kv...) }

// Debugf logs a printf-formatted message at debug level.
func Debugf(format string, args ...any) { current().Debug(fmt.Sprintf(format, args...)) }

// Infof logs a printf-formatted message at info level.
func Infof(format string, args ...any) { current().Info(fmt.Sprintf(format, args...)) }

// Warnf logs a printf-formatted message at warn level.
func Warnf(format string, args ...any) { current().Warn(fmt.Sprintf(format, args...)) }

// Errorf logs a printf-formatted message at error level.
func Errorf(format string, args ...any) { current().Error(fmt.Sprintf(format, args...)) }
