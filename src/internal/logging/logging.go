// Package logging provides the shared append-only backup log. One Logger is
// created per process and passed to every component; lines are serialized
// with an in-process mutex plus an OS advisory lock so that separate
// casbackup processes writing the same file never interleave partial lines.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

const logName = "backup.log"

// Logger writes timestamped lines to the backup log and echoes them to
// stderr.
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	console *log.Logger
}

// New opens (creating if needed) the backup log under dir. If the existing
// log exceeds maxSizeMB it is rotated aside to backup.log.old first, so an
// unattended host never fills its disk with log output.
func New(dir string, maxSizeMB int) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, logName)
	if err := rotateIfOversized(path, int64(maxSizeMB)*1024*1024); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Logger{
		file:    file,
		console: log.New(os.Stderr, "", 0),
	}, nil
}

func rotateIfOversized(path string, maxSize int64) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	if info.Size() <= maxSize {
		return nil
	}

	old := path + ".old"
	if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove rotated log: %w", err)
	}
	if err := os.Rename(path, old); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	return nil
}

// Info logs at INFO level.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write("INFO", format, args...)
}

// Warn logs at WARNING level.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write("WARNING", format, args...)
}

// Error logs at ERROR level.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write("ERROR", format, args...)
}

func (l *Logger) write(level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("%s %s %s\n", time.Now().Format("2006-01-02 15:04:05"), level, msg)

	l.mu.Lock()
	defer l.mu.Unlock()

	// The flock covers concurrent processes; the mutex covers goroutines.
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX); err == nil {
		defer syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN) //nolint:errcheck
	}
	if _, err := l.file.WriteString(line); err != nil {
		l.console.Printf("[ERROR] failed to write log line: %v", err)
	}

	l.console.Printf("[%s] %s", level, msg)
}

// Close releases the underlying log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
