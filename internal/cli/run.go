package cli

import (
	"context"
	"os"
)

// Run is a high-level CLI entrypoint suitable for black-box tests.
// It accepts the argument slice (excluding argv[0]) and returns the semantic
// exit code plus any error.
func Run(ctx context.Context, args []string) (CLIResult, error) {
	return RunWithIO(ctx, args, IO{Stdout: os.Stdout, Stderr: os.Stderr})
}

// RunWithIO is Run with explicit process streams.
func RunWithIO(ctx context.Context, args []string, streams IO) (CLIResult, error) {
	inv, err := ParseInvocation(args, streams.Stdout)
	if err != nil {
		return CLIResult{ExitCode: ExitCode(err)}, err
	}
	return Execute(ctx, inv, streams)
}
