// Package procrun runs external commands and captures their output.
package procrun

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// Command describes one process launch. A nil Env inherits the parent
// environment, exactly as os/exec does.
type Command struct {
	Name string
	Args []string
	Env  []string
	Dir  string
}

// Result holds the raw captured streams and the exit code. ExitCode is -1 when
// the process could not be started or was killed by a signal.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Exec runs commands through os/exec.
type Exec struct {
	// WaitDelay bounds how long Run waits for the output pipes after the
	// process is killed on context cancellation.
	WaitDelay time.Duration
}

// Run starts the command and waits for it. A non-zero exit returns the
// *exec.ExitError together with a populated Result.
func (e Exec) Run(ctx context.Context, c Command) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Env = c.Env
	cmd.Dir = c.Dir
	cmd.WaitDelay = e.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}
