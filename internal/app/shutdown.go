package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tepilora/newsradar/internal/observability"
)

// GracefulShutdown returns a context cancelled on SIGINT/SIGTERM.
func GracefulShutdown(logger *observability.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	return ctx, cancel
}
