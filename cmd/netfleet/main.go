package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := Execute(ctx)
	stop()
	switch {
	case err == nil:
		os.Exit(0)
	case errors.Is(err, errBatchDegraded):
		// results are already flushed; a degraded batch is an exit-code
		// signal for automation callers, not a crash
		os.Exit(1)
	default:
		os.Exit(2)
	}
}
