package cmd

import (
	"context"
	"io"
	"os"
	"os/exec"
)

// Command describes an external tool invocation.
type Command struct {
	Name   string
	Args   []string
	Dir    string
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Executor abstracts command execution for easier testing.
type Executor interface {
	Run(ctx context.Context, c Command) error
}

type osExecutor struct{}

// Run executes c. Env entries are added on top of the current environment and
// only affect the child process.
func (osExecutor) Run(ctx context.Context, c Command) error {
	cliCmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cliCmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cliCmd.Env = append(os.Environ(), c.Env...)
	}
	cliCmd.Stdin = c.Stdin
	cliCmd.Stdout = c.Stdout
	cliCmd.Stderr = c.Stderr
	return cliCmd.Run()
}
