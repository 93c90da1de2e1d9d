package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fde.dev/ipc/internal/interfaces/cli"
	"fde.dev/ipc/internal/interfaces/di"
)

func main() {
	container, err := di.NewContainer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	// The first signal cancels the context; the control plane then stops
	// its plugins before Execute returns.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.ExecuteContext(ctx, container.GetCLIContainer(), os.Stderr)
	stop()

	if err := container.Shutdown(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
	}
	os.Exit(code)
}
