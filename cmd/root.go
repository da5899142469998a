// Package cmd defines and implements the CLI commands for the anttpgw executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/anttp-gateway/internal/config"
	"github.com/JakeFAU/anttp-gateway/internal/server"
)

// Gateway is the running service the serve command drives. It allows tests
// to inject a fake in place of *server.App.
type Gateway interface {
	Run(ctx context.Context) error
}

// newGateway is the gateway factory. It's a variable so tests can replace it.
var newGateway = func(ctx context.Context, cfg config.Config) (Gateway, error) {
	return server.Build(ctx, cfg, nil)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anttpgw",
		Short: "HTTP and WebSocket gateway for content-addressed storage.",
		Long: `anttpgw serves content from a content-addressed storage backend.
Addresses can be fetched over plain HTTP, where the backend response is
streamed through, or over a WebSocket channel, where requests are queued and
answered with framed binary messages.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newGetCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
