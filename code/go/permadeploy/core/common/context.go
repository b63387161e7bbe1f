package common

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

var (
	rootContext context.Context
	rootCancel  context.CancelFunc
)

// SetupRootContext creates the context every long running operation derives from.
// It is cancelled on SIGINT/SIGTERM so in-flight transfers are aborted.
func SetupRootContext(ctx context.Context) {
	rootContext, rootCancel = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// GetRootContext returns the root context, falling back to context.Background.
func GetRootContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// Done stops listening for signals and cancels the root context.
func Done() {
	if rootCancel != nil {
		rootCancel()
	}
}
