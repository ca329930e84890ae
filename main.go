// Package main is the entry point for the aws-mcp server.
//
// aws-mcp exposes AWS operations across several configured accounts as
// Model Context Protocol tools. Configuration comes from AWS_* environment
// variables and an optional YAML accounts file.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const (
	exitError           = 1
	exitValidationError = 2
)

// Version is set at build time.
var Version = "0.1.0"

// exitCodeError ends the process with a specific exit code after the
// command has already reported its outcome.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}

	var exit *exitCodeError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitError)
}
