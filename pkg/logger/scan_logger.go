package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ScanLogger tees one scan's log lines into <dir>/<scanID>.log next to the
// regular process output.
type ScanLogger struct {
	*Logger
	scanID  string
	path    string
	logFile *os.File
	mu      sync.Mutex
}

func NewScanLogger(scanID, dir string, level logrus.Level, console io.Writer) (*ScanLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scan log directory: %w", err)
	}

	path := filepath.Join(dir, scanID+".log")
	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan log file: %w", err)
	}

	header := fmt.Sprintf("=== Scan Log Started: %s ===\n", time.Now().Format(time.RFC3339))
	header += fmt.Sprintf("Scan ID: %s\n\n", scanID)
	if _, err := logFile.WriteString(header); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to write scan log header: %w", err)
	}

	base := NewLogger(level)
	if console == nil {
		console = os.Stdout
	}
	base.Logger.SetOutput(io.MultiWriter(console, logFile))

	return &ScanLogger{
		Logger:  base,
		scanID:  scanID,
		path:    path,
		logFile: logFile,
	}, nil
}

// LogToolOutput appends a tool's raw output block to the scan log only.
func (sl *ScanLogger) LogToolOutput(toolName, outcome, output string) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	timestamp := time.Now().Format(time.RFC3339)
	block := fmt.Sprintf("\n--- [%s] Tool: %s (%s) ---\n%s\n--- End %s ---\n", timestamp, toolName, outcome, output, toolName)
	sl.logFile.WriteString(block)

	sl.WithFields(Fields{
		"tool":    toolName,
		"outcome": outcome,
		"scan_id": sl.scanID,
	}).Debug("Tool output captured")
}

func (sl *ScanLogger) LogScanResult(status, reason string) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	msg := fmt.Sprintf("\n=== SCAN %s: %s ===\n", status, time.Now().Format(time.RFC3339))
	if reason != "" {
		msg += fmt.Sprintf("Reason: %s\n", reason)
	}
	sl.logFile.WriteString(msg)
}

func (sl *ScanLogger) Close() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.logFile == nil {
		return nil
	}
	sl.logFile.WriteString(fmt.Sprintf("\n=== Scan Log Ended: %s ===\n", time.Now().Format(time.RFC3339)))
	err := sl.logFile.Close()
	sl.logFile = nil
	if err != nil {
		return fmt.Errorf("failed to close scan log file: %w", err)
	}
	return nil
}

func (sl *ScanLogger) Path() string {
	return sl.path
}
