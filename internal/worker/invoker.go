// Package worker is the process boundary between the coordinator and the
// transcription worker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"strings"
	"time"

	"transkript/internal/procrun"
)

var ErrTimeout = errors.New("worker timed out")

// ProcessResult is what one worker run leaves behind at the boundary. Streams
// are decoded permissively: invalid UTF-8 is replaced, never an error.
type ProcessResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

func (r ProcessResult) Succeeded() bool { return r.ExitCode == 0 }

// Invoker runs the worker for one audio file. A non-zero exit is reported in
// ProcessResult.ExitCode; the error return is reserved for runs that did not
// finish on their own (start failure, ErrTimeout, cancellation).
type Invoker interface {
	Invoke(ctx context.Context, audioPath string, overlay Overlay) (ProcessResult, error)
}

// InvokerFunc adapts a function to Invoker. Tests use it as an in-process
// worker.
type InvokerFunc func(ctx context.Context, audioPath string, overlay Overlay) (ProcessResult, error)

func (f InvokerFunc) Invoke(ctx context.Context, audioPath string, overlay Overlay) (ProcessResult, error) {
	return f(ctx, audioPath, overlay)
}

type ProcessInvoker struct {
	entry   []string
	baseEnv []string
	timeout time.Duration
	runner  procrun.Runner
	logger  *slog.Logger
}

type Option func(*ProcessInvoker)

func WithRunner(r procrun.Runner) Option {
	return func(p *ProcessInvoker) { p.runner = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *ProcessInvoker) { p.logger = l }
}

// NewProcessInvoker launches entry[0] with entry[1:] followed by the audio
// path. baseEnv is copied; later changes by the caller do not reach runs.
func NewProcessInvoker(entry []string, baseEnv []string, timeout time.Duration, opts ...Option) (*ProcessInvoker, error) {
	if len(entry) == 0 || strings.TrimSpace(entry[0]) == "" {
		return nil, errors.New("worker entry command is required")
	}
	if timeout <= 0 {
		return nil, errors.New("worker timeout must be > 0")
	}
	p := &ProcessInvoker{
		entry:   slices.Clone(entry),
		baseEnv: slices.Clone(baseEnv),
		timeout: timeout,
		runner:  procrun.Exec{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Command reports the configured worker executable.
func (p *ProcessInvoker) Command() string { return p.entry[0] }

// Check reports whether the worker executable can be found.
func (p *ProcessInvoker) Check(context.Context) error {
	if _, err := exec.LookPath(p.entry[0]); err != nil {
		return fmt.Errorf("worker command %q: %w", p.entry[0], err)
	}
	return nil
}

func (p *ProcessInvoker) Invoke(ctx context.Context, audioPath string, overlay Overlay) (ProcessResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := append(slices.Clone(p.entry[1:]), audioPath)
	started := time.Now()
	res, runErr := p.runner.Run(ctx, procrun.Command{
		Name: p.entry[0],
		Args: args,
		Env:  overlay.Environ(p.baseEnv),
	})

	result := ProcessResult{
		Stdout:   Decode(res.Stdout),
		Stderr:   Decode(res.Stderr),
		ExitCode: res.ExitCode,
		Duration: time.Since(started),
	}

	p.logger.Debug("worker finished",
		"command", p.entry[0],
		"audio", audioPath,
		"exit_code", result.ExitCode,
		"stdout_bytes", len(res.Stdout),
		"stderr_bytes", len(res.Stderr),
		"duration_ms", result.Duration.Milliseconds(),
	)

	if runErr == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return result, fmt.Errorf("%w after %s: %w", ErrTimeout, p.timeout, ctxErr)
		}
		return result, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) || res.ExitCode > 0 {
		return result, nil
	}
	return result, fmt.Errorf("start worker: %w", runErr)
}

// Decode converts captured bytes to text, replacing invalid UTF-8.
func Decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
