package errors

import (
	"errors"
	"fmt"
)

var (
	ErrToolUnavailable     = errors.New("tool not installed")
	ErrToolTimeout         = errors.New("tool timed out")
	ErrToolExecution       = errors.New("tool execution failed")
	ErrUnknownTool         = errors.New("unknown tool")
	ErrAnalyzerUnreachable = errors.New("analyzer unreachable")
	ErrAnalyzerMalformed   = errors.New("analyzer returned a malformed response")
	ErrScanCancelled       = errors.New("scan cancelled")
	ErrUnknownScanID       = errors.New("unknown scan id")
	ErrUnknownFinding      = errors.New("unknown finding id")
	ErrInvalidTransition   = errors.New("invalid scan status transition")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInvalidConfig       = errors.New("invalid configuration")
)

type ToolError struct {
	ToolName string
	Err      error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.ToolName, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

func NewToolError(toolName string, err error) *ToolError {
	return &ToolError{
		ToolName: toolName,
		Err:      err,
	}
}

type ConfigError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value: %v): %s", e.Field, e.Value, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

func NewConfigError(field string, value interface{}, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// AnalyzerError carries the reason a summary was rejected or could not be fetched.
// Kind is ErrAnalyzerUnreachable or ErrAnalyzerMalformed.
type AnalyzerError struct {
	Kind   error
	Reason string
	Err    error
}

func (e *AnalyzerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
}

func (e *AnalyzerError) Is(target error) bool {
	return target == e.Kind
}

func (e *AnalyzerError) Unwrap() error {
	return e.Err
}

func Malformed(format string, args ...interface{}) *AnalyzerError {
	return &AnalyzerError{Kind: ErrAnalyzerMalformed, Reason: fmt.Sprintf(format, args...)}
}

func Unreachable(reason string, err error) *AnalyzerError {
	return &AnalyzerError{Kind: ErrAnalyzerUnreachable, Reason: reason, Err: err}
}
