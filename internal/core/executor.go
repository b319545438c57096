package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"syscall"
)

// Command is one invocation of an external tool, e.g. the Dart Sass binary.
type Command struct {
	// Path is the executable, resolved through PATH when it has no slash.
	Path string
	Args []string

	// Dir is the working directory, normally the project root.
	Dir string

	// Env is the complete environment of the process. Nothing from the host
	// environment is inherited; callers pass PATH explicitly when the tool
	// needs it.
	Env map[string]string

	Stdin []byte
}

// ExecutionResult contains the captured output of a command.
type ExecutionResult struct {
	Stdout []byte
	Stderr []byte

	// ExitCode is the process exit code. 0 indicates success.
	ExitCode int
}

// Executor runs external tools with an allowlisted environment.
type Executor struct {
	// WorkingDir is used when Command.Dir is empty.
	WorkingDir string
}

// NewExecutor creates a new Executor with the given working directory.
func NewExecutor(workingDir string) *Executor {
	return &Executor{WorkingDir: workingDir}
}

// Execute runs cmd to completion.
//
// A non-zero exit is not an error: the result carries the exit code and
// stderr so the caller can turn it into a TransformError. An error is
// returned only when the process could not run or ctx was cancelled, in
// which case the whole process group is killed.
func (e *Executor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	if cmd.Path == "" {
		return nil, fmt.Errorf("command path is empty")
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	if c.Dir == "" {
		c.Dir = e.WorkingDir
	}
	c.Env = buildIsolatedEnv(cmd.Env)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		if c.Process != nil {
			_ = syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return nil, fmt.Errorf("%s cancelled: %w", cmd.Path, ctx.Err())
	case err = <-done:
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %s: %w", cmd.Path, err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &ExecutionResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
	}, nil
}

// buildIsolatedEnv returns env as sorted KEY=VALUE pairs. An empty map yields
// an empty, non-nil slice so the child sees no variables at all.
func buildIsolatedEnv(env map[string]string) []string {
	result := make([]string, 0, len(env))
	for key, value := range env {
		result = append(result, key+"="+value)
	}
	sort.Strings(result)
	return result
}
