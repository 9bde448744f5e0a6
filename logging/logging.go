/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/PivotLLM/Planwright/global"
)

var levels = map[string]int{
	global.LogLevelDebug: 0,
	global.LogLevelInfo:  1,
	global.LogLevelWarn:  2,
	global.LogLevelError: 3,
	global.LogLevelFatal: 4,
}

// sink is the output shared by a logger and every component logger derived from it
type sink struct {
	mu      sync.RWMutex
	logger  *log.Logger
	level   string
	logFile *os.File
}

// Logger provides structured logging with the required format
type Logger struct {
	sink      *sink
	component string
}

// New creates a new logger instance that writes to the specified file
func New(logPath string) (*Logger, error) {
	// Expand tilde in path
	if len(logPath) >= 2 && logPath[:2] == "~/" {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			logPath = filepath.Join(homeDir, logPath[2:])
		}
	}

	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	l := NewWriter(logFile)
	l.sink.logFile = logFile
	return l, nil
}

// NewWriter creates a logger that writes to w. Used by tests and one-shot runs.
func NewWriter(w io.Writer) *Logger {
	return &Logger{
		sink: &sink{
			logger: log.New(w, "", 0), // No default prefix/flags since we format ourselves
			level:  global.LogLevelInfo,
		},
	}
}

// With returns a logger that tags every message with the given component name.
// The returned logger shares output and level with its parent.
func (l *Logger) With(component string) *Logger {
	return &Logger{sink: l.sink, component: component}
}

// Sync flushes any buffered log data to disk
func (l *Logger) Sync() error {
	if l.sink.logFile != nil {
		return l.sink.logFile.Sync()
	}
	return nil
}

// Close closes the log file
func (l *Logger) Close() error {
	if l.sink.logFile != nil {
		_ = l.sink.logFile.Sync()
		return l.sink.logFile.Close()
	}
	return nil
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level string) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// shouldLog determines if a message should be logged based on the current level
func (l *Logger) shouldLog(level string) bool {
	l.sink.mu.RLock()
	current := l.sink.level
	l.sink.mu.RUnlock()

	currentLevel, exists := levels[current]
	if !exists {
		currentLevel = levels[global.LogLevelInfo]
	}

	messageLevel, exists := levels[level]
	if !exists {
		messageLevel = levels[global.LogLevelInfo]
	}

	return messageLevel >= currentLevel
}

// formatMessage formats a log message with the required format
func (l *Logger) formatMessage(level, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	pid := os.Getpid()
	if l.component != "" {
		return fmt.Sprintf("%s [%s] [%d] [%s] %s", timestamp, level, pid, l.component, message)
	}
	return fmt.Sprintf("%s [%s] [%d] %s", timestamp, level, pid, message)
}

func (l *Logger) log(level, message string) {
	if l.shouldLog(level) {
		l.sink.logger.Println(l.formatMessage(level, message))
	}
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.log(global.LogLevelDebug, message)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.log(global.LogLevelInfo, message)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.log(global.LogLevelWarn, message)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

// Error logs an error message
func (l *Logger) Error(message string) {
	l.log(global.LogLevelError, message)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string) {
	l.log(global.LogLevelFatal, message)
	_ = l.Close()
	os.Exit(1)
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.Fatal(fmt.Sprintf(format, args...))
}
