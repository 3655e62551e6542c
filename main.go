package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/eculver/rvm-breakglass/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if err := cmd.Execute(ctx); err != nil {
		stop()
		cmd.NewLogger(0, os.Stderr).Error(err, "Command failed")
		os.Exit(1)
	}
	stop()
}
