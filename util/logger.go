package util

import (
	"io"
	"log"
	"os"
	"sync"
)

var (
	logMu        sync.RWMutex
	currentLevel LogLevel = LogLevelInfo
	std                   = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
)

func SetLevel(level LogLevel) {
	logMu.Lock()
	defer logMu.Unlock()
	currentLevel = level
}

func Level() LogLevel {
	logMu.RLock()
	defer logMu.RUnlock()
	return currentLevel
}

// SetOutput redirects harness logs, e.g. to io.Discard in noisy tests.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

func enabled(level LogLevel) bool {
	return Level() <= level
}

func Debug(format string, v ...interface{}) {
	if enabled(LogLevelDebug) {
		std.Printf("[DEBUG] "+format, v...)
	}
}

func Info(format string, v ...interface{}) {
	if enabled(LogLevelInfo) {
		std.Printf("[INFO] "+format, v...)
	}
}

func Warn(format string, v ...interface{}) {
	if enabled(LogLevelWarn) {
		std.Printf("[WARN] "+format, v...)
	}
}

func Error(format string, v ...interface{}) {
	if enabled(LogLevelError) {
		std.Printf("[ERROR] "+format, v...)
	}
}

func Fatal(format string, v ...interface{}) {
	std.Printf("[FATAL] "+format, v...)
	os.Exit(1)
}
