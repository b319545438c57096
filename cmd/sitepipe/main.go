package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sitepipe/internal/cli"
	"sitepipe/internal/metrics"
	"sitepipe/internal/version"
)

// main canonicalizes the CLI inputs into a CLIInvocation before any pipeline
// logic runs.
func main() {
	metrics.BuildInfo.WithLabelValues(version.Version, version.GitSHA, version.BuildTime).Set(1)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	streams := cli.IO{Stdout: os.Stdout, Stderr: os.Stderr}
	inv, err := cli.ParseInvocation(os.Args[1:], streams.Stdout)
	if err != nil {
		var invErr *cli.InvocationError
		if errors.As(err, &invErr) {
			fmt.Fprintln(os.Stderr, invErr.Message)
			os.Exit(invErr.ExitCode)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitInternalError)
	}

	result, execErr := cli.Execute(ctx, inv, streams)
	if execErr != nil {
		fmt.Fprintln(os.Stderr, execErr)
	}
	stop()
	os.Exit(result.ExitCode)
}
