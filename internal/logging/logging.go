// Package logging provides a shared process-wide logger for the analysis
// pipeline. Detectors log at decision points only; per-pixel work is silent.
package logging

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

var (
	logger  *log.Logger
	logFile *os.File
	mu      sync.Mutex
	isSetup bool
)

// Setup initializes the logger with the specified log file. Safe to call
// more than once; subsequent calls are no-ops.
func Setup(logFilePath string) error {
	mu.Lock()
	defer mu.Unlock()

	if isSetup {
		return nil
	}

	var err error
	logFile, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	logger = log.New(logFile, "", log.LstdFlags)
	logger.Printf("--- talisay-vision log started at %s ---\n", time.Now().Format(time.RFC3339))

	isSetup = true
	return nil
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logger.Printf("--- talisay-vision log closed at %s ---\n", time.Now().Format(time.RFC3339))
		logFile.Close()
		logFile = nil
		isSetup = false
	}
}

// Infof logs an information message. Falls back to standard output when
// Setup has not been called.
func Infof(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if logger != nil {
		logger.Printf("INFO: "+format, args...)
	} else {
		log.Printf("INFO: "+format, args...)
	}
}

// Debugf logs a message only when a log file is configured.
func Debugf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if logger != nil {
		logger.Printf(format, args...)
	}
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if logger != nil {
		logger.Printf("ERROR: "+format, args...)
	} else {
		log.Printf("ERROR: "+format, args...)
	}
}

// Warnf logs a warning message.
func Warnf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if logger != nil {
		logger.Printf("WARNING: "+format, args...)
	}
}
