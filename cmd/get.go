package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/anttp-gateway/internal/client"
)

type getOptions struct {
	url     string
	outDir  string
	timeout time.Duration
}

func newGetCmd() *cobra.Command {
	opts := getOptions{}
	cmd := &cobra.Command{
		Use:   "get <address>...",
		Short: "Fetches addresses over the WebSocket channel",
		Long: `Connects to a running gateway, submits each address over the channel one
at a time and writes every payload to a file named after its address, with
slashes replaced by underscores. Failures print the gateway's error text.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "ws://localhost:8081", "gateway WebSocket URL")
	cmd.Flags().StringVar(&opts.outDir, "out", ".", "directory for retrieved payloads")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "per-address deadline")
	return cmd
}

func runGet(cmd *cobra.Command, opts getOptions, addresses []string) error {
	if err := os.MkdirAll(opts.outDir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	c, err := client.Dial(cmd.Context(), opts.url)
	if err != nil {
		return err
	}
	defer c.Close() //nolint:errcheck // best effort on exit

	out := cmd.OutOrStdout()
	failed := 0
	for _, addr := range addresses {
		res, err := fetchOne(cmd.Context(), c, addr, opts.timeout)
		var remote *client.RemoteError
		switch {
		case errors.As(err, &remote):
			failed++
			fmt.Fprintf(out, "%s: %s\n", addr, remote.Text)
			continue
		case err != nil:
			return fmt.Errorf("get %s: %w", addr, err)
		}
		path := filepath.Join(opts.outDir, outputName(addr))
		if err := os.WriteFile(path, res.Payload, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Fprintf(out, "%s -> %s (%s, %d bytes)\n", addr, path, res.Meta.MimeType, len(res.Payload))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d addresses failed", failed, len(addresses))
	}
	return nil
}

func fetchOne(ctx context.Context, c *client.Client, addr string, timeout time.Duration) (client.Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.Get(ctx, addr)
}

// outputName turns an address into a flat file name.
func outputName(addr string) string {
	name := strings.ReplaceAll(strings.Trim(addr, "/"), "/", "_")
	if name == "" || name == "." || name == ".." {
		return "payload"
	}
	return name
}
