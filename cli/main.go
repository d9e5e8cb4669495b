package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/trebuchet-org/bundler/internal/cli"
	"github.com/trebuchet-org/bundler/internal/cli/render"
	"github.com/trebuchet-org/bundler/internal/config"
)

// Set by the linker
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	config.SetBuildFlags(version, commit, date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first interrupt lets the current unit finish recording; the
	// second exits immediately.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		fmt.Fprintln(os.Stderr, render.FormatWarning("Interrupted, stopping after the current step (press Ctrl+C again to force)"))
		cancel()
		<-signals
		os.Exit(130)
	}()

	rootCmd := cli.NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, render.FormatError(err.Error()))
		os.Exit(1)
	}
}
