package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultMaxOutputBytes = 1 << 20
	maxStderrBytes        = 64 << 10
	defaultWaitDelay      = 2 * time.Second
)

// CommandOutput is what one finished process produced. A non-zero ExitCode is
// not an error at this level.
type CommandOutput struct {
	Stdout    []byte
	Stderr    []byte
	ExitCode  int
	Truncated bool
}

// CommandRunner spawns one external process. Implementations return
// ctx.Err() when the context ends first, exec.ErrNotFound (or fs.ErrNotExist)
// when the binary is missing, and any other start failure as-is.
type CommandRunner interface {
	Run(ctx context.Context, command string, args []string) (CommandOutput, error)
}

type ExecCommandRunner struct {
	MaxOutputBytes int
	WaitDelay      time.Duration
}

func NewExecCommandRunner(maxOutputBytes int) *ExecCommandRunner {
	if maxOutputBytes <= 0 {
		maxOutputBytes = DefaultMaxOutputBytes
	}
	return &ExecCommandRunner{MaxOutputBytes: maxOutputBytes, WaitDelay: defaultWaitDelay}
}

func (r *ExecCommandRunner) Run(ctx context.Context, command string, args []string) (CommandOutput, error) {
	finalCommand, finalArgs, err := resolveInterpreter(command, args)
	if err != nil {
		return CommandOutput{}, err
	}

	log.Debugf("Executing: %s %v", finalCommand, finalArgs)

	cmd := exec.CommandContext(ctx, finalCommand, finalArgs...)
	configureProcessGroup(cmd)
	cmd.WaitDelay = r.WaitDelay

	stdout := &limitedBuffer{max: r.MaxOutputBytes}
	stderr := &limitedBuffer{max: maxStderrBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	out := CommandOutput{
		Stdout:    stdout.buf,
		Stderr:    stderr.buf,
		Truncated: stdout.truncated,
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if runErr != nil {
		return out, fmt.Errorf("execution failed: %w", runErr)
	}
	return out, nil
}

// resolveInterpreter lets catalog entries point at scripts directly.
func resolveInterpreter(command string, args []string) (string, []string, error) {
	var interpreter string
	switch filepath.Ext(command) {
	case ".py":
		interpreter = "python3"
	case ".js":
		interpreter = "node"
	case ".rb":
		interpreter = "ruby"
	case ".sh":
		interpreter = "sh"
		if runtime.GOOS == "windows" {
			interpreter = "bash"
		}
	default:
		return command, args, nil
	}

	if _, err := os.Stat(command); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, fmt.Errorf("script %s: %w", command, fs.ErrNotExist)
		}
		return "", nil, err
	}
	return interpreter, append([]string{command}, args...), nil
}

// limitedBuffer keeps the first max bytes and swallows the rest so a chatty
// child never blocks on a full pipe.
type limitedBuffer struct {
	buf       []byte
	max       int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.max - len(b.buf)
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func trimmed(b []byte) string {
	return strings.TrimSpace(string(b))
}
