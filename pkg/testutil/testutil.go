// Package testutil provides testing utilities for scanpilot
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"scanpilot/pkg/runner"
)

// MockCommandRunner implements runner.CommandRunner for testing
type MockCommandRunner struct {
	mu        sync.RWMutex
	commands  []ExecutedCommand
	responses map[string]CommandResponse

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

type ExecutedCommand struct {
	Command string
	Args    []string
	Started time.Time
}

// CommandResponse scripts what a command returns. Delay and Block both
// respect context cancellation, so timeouts can be exercised without real
// processes.
type CommandResponse struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Error    error
	Delay    time.Duration
	Block    chan struct{}
}

func NewMockCommandRunner() *MockCommandRunner {
	return &MockCommandRunner{
		responses: make(map[string]CommandResponse),
	}
}

func (m *MockCommandRunner) Run(ctx context.Context, command string, args []string) (runner.CommandOutput, error) {
	current := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		seen := m.maxInFlight.Load()
		if current <= seen || m.maxInFlight.CompareAndSwap(seen, current) {
			break
		}
	}

	m.mu.Lock()
	m.commands = append(m.commands, ExecutedCommand{
		Command: command,
		Args:    append([]string(nil), args...),
		Started: time.Now(),
	})
	response, exists := m.responses[command]
	m.mu.Unlock()

	if !exists {
		return runner.CommandOutput{}, nil
	}

	if response.Delay > 0 {
		timer := time.NewTimer(response.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return runner.CommandOutput{}, ctx.Err()
		}
	}
	if response.Block != nil {
		select {
		case <-response.Block:
		case <-ctx.Done():
			return runner.CommandOutput{}, ctx.Err()
		}
	}

	out := runner.CommandOutput{
		Stdout:   []byte(response.Stdout),
		Stderr:   []byte(response.Stderr),
		ExitCode: response.ExitCode,
	}
	return out, response.Error
}

// SetResponse scripts the response for every invocation of command.
func (m *MockCommandRunner) SetResponse(command string, response CommandResponse) {
	m.mu.Lock()
	m.responses[command] = response
	m.mu.Unlock()
}

func (m *MockCommandRunner) GetExecutedCommands() []ExecutedCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()

	commands := make([]ExecutedCommand, len(m.commands))
	copy(commands, m.commands)
	return commands
}

func (m *MockCommandRunner) ExecutedNames() []string {
	commands := m.GetExecutedCommands()
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = c.Command
	}
	return names
}

// MaxConcurrent reports the highest number of simultaneous Run calls seen.
func (m *MockCommandRunner) MaxConcurrent() int {
	return int(m.maxInFlight.Load())
}

func (m *MockCommandRunner) Reset() {
	m.mu.Lock()
	m.commands = nil
	m.responses = make(map[string]CommandResponse)
	m.mu.Unlock()
	m.maxInFlight.Store(0)
}

// MockSummarizer returns a canned model response.
type MockSummarizer struct {
	mu       sync.Mutex
	Response string
	Err      error
	Delay    time.Duration
	prompts  []string
}

func (m *MockSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	response, err, delay := m.Response, m.Err, m.Delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return response, err
}

func (m *MockSummarizer) SetResponse(response string, err error) {
	m.mu.Lock()
	m.Response, m.Err = response, err
	m.mu.Unlock()
}

func (m *MockSummarizer) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// CreateTestFile creates a test file with the given content
func CreateTestFile(t *testing.T, dir, filename, content string) string {
	t.Helper()

	filePath := filepath.Join(dir, filename)
	if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test file %s: %v", filePath, err)
	}

	return filePath
}

// WithTimeout creates a context with timeout for tests
func WithTimeout(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), timeout)
}
