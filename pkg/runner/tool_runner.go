package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"time"

	scanerrors "scanpilot/pkg/errors"
	"scanpilot/pkg/logger"
	"scanpilot/pkg/tools"
)

type ResultKind string

const (
	ResultOutput         ResultKind = "output"
	ResultTimedOut       ResultKind = "timeout"
	ResultNotInstalled   ResultKind = "not_installed"
	ResultExecutionError ResultKind = "error"
)

// Result is the outcome of one tool invocation. Exactly one Kind applies;
// Output is only meaningful for ResultOutput and Message for the failures.
type Result struct {
	Tool      string
	Kind      ResultKind
	Output    string
	Message   string
	ExitCode  int
	Timeout   time.Duration
	Duration  time.Duration
	Truncated bool
}

func (r Result) Succeeded() bool {
	return r.Kind == ResultOutput
}

// Err maps a failed result onto the error taxonomy. It is nil for output.
func (r Result) Err() error {
	switch r.Kind {
	case ResultOutput:
		return nil
	case ResultTimedOut:
		return scanerrors.NewToolError(r.Tool, scanerrors.ErrToolTimeout)
	case ResultNotInstalled:
		return scanerrors.NewToolError(r.Tool, scanerrors.ErrToolUnavailable)
	default:
		return scanerrors.NewToolError(r.Tool, fmt.Errorf("%w: %s", scanerrors.ErrToolExecution, r.Message))
	}
}

// ToolRunner invokes one catalog tool against one target with a bounded
// timeout. Every failure is folded into the returned Result.
type ToolRunner struct {
	runner CommandRunner
	logger *logger.Logger
}

func NewToolRunner(runner CommandRunner, log *logger.Logger) *ToolRunner {
	return &ToolRunner{runner: runner, logger: log}
}

func (t *ToolRunner) Run(ctx context.Context, def tools.Definition, target string, timeout time.Duration) (result Result) {
	if timeout <= 0 {
		timeout = def.Timeout()
	}
	result = Result{Tool: def.Name, Timeout: timeout}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result.Kind = ResultExecutionError
			result.Message = fmt.Sprintf("panic while running tool: %v", r)
		}
		result.Duration = time.Since(start)
	}()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The mapped error is only logged; callers read the Result.
	_ = t.logger.LogToolExecution(def.Name, func() error {
		out, err := t.runner.Run(runCtx, def.Command, def.BuildArgs(target))
		result.ExitCode = out.ExitCode
		result.Truncated = out.Truncated
		classify(&result, def, out, err, timeout)
		return result.Err()
	})
	return result
}

func classify(result *Result, def tools.Definition, out CommandOutput, err error, timeout time.Duration) {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist), errors.Is(err, scanerrors.ErrToolUnavailable):
		result.Kind = ResultNotInstalled
		result.Message = fmt.Sprintf("%s is not installed", def.Command)
	case errors.Is(err, context.DeadlineExceeded):
		result.Kind = ResultTimedOut
		result.Message = fmt.Sprintf("timeout after %s", timeout)
	case errors.Is(err, context.Canceled):
		result.Kind = ResultExecutionError
		result.Message = "invocation cancelled"
	case err != nil:
		result.Kind = ResultExecutionError
		result.Message = err.Error()
	case out.ExitCode != 0 && trimmed(out.Stdout) == "":
		result.Kind = ResultExecutionError
		result.Message = fmt.Sprintf("exit status %d", out.ExitCode)
		if stderr := trimmed(out.Stderr); stderr != "" {
			result.Message += ": " + stderr
		}
	default:
		result.Kind = ResultOutput
		result.Output = string(out.Stdout)
	}
}
