package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/bodega/internal/cmd"
	"github.com/felixgeelhaar/bodega/internal/exitcode"
	"github.com/felixgeelhaar/bodega/internal/ux"
)

func main() {
	// Create a context that listens for interrupt signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		// Check if error was due to context cancellation (e.g., Ctrl+C)
		if stderrors.Is(ctx.Err(), context.Canceled) {
			fmt.Fprintln(os.Stderr, "\nOperation cancelled by user")
			exitcode.Exit(exitcode.Interrupted)
		}

		fmt.Fprintln(os.Stderr, ux.Render(ux.EnhanceError(err), noColor()))
		exitcode.ExitWithError(err)
	}
	exitcode.Exit(exitcode.Success)
}

func noColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return true
	}
	for _, arg := range os.Args[1:] {
		if arg == "--no-color" {
			return true
		}
	}
	return false
}
